// Package recorder is a SQLite-backed implementation of the engine's
// external telemetry collector. It records per-session telemetry events and
// the oplog of applied patches for offline inspection and replay.
//
// The recorder consumes engine output; it is not engine durability. A
// restarted process starts a fresh session — the engine itself stays
// in-memory.
package recorder

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Recorder provides append-only storage for session recordings.
// Uses SQLite with WAL mode for concurrent read access.
type Recorder struct {
	db *sql.DB
}

// SessionRecord describes one recorded session.
type SessionRecord struct {
	ID           string         `json:"id"`
	Scenario     string         `json:"scenario,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinalVersion int64          `json:"final_version"`
	FinalFields  map[string]any `json:"final_fields"`
}

// Open creates or opens a recording database at the given path.
// Applies required pragmas and the schema automatically; idempotent.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open recording database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to recording database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent recording.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Recorder{db: db}, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Prefer the Recorder methods when one exists.
func (r *Recorder) DB() *sql.DB {
	return r.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// BeginSession registers a session before any events or patches reference it.
// Idempotent on the session id.
func (r *Recorder) BeginSession(ctx context.Context, rec SessionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, scenario, started_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, rec.Scenario, rec.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin session %s: %w", rec.ID, err)
	}
	return nil
}

// FinishSession stores the session's final draft version and fields, which
// replay verification compares against.
func (r *Recorder) FinishSession(ctx context.Context, id string, finalVersion int64, finalFields map[string]any) error {
	fieldsJSON, err := marshalFields(finalFields)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET final_version = ?, final_fields = ? WHERE id = ?
	`, finalVersion, fieldsJSON, id)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish session %s: unknown session", id)
	}
	return nil
}
