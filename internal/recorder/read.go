package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkwell-app/draftsync/internal/engine"
	"github.com/inkwell-app/draftsync/internal/telemetry"
)

// ListSessions returns all recorded sessions ordered by start time.
func (r *Recorder) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, scenario, started_at, final_version, final_fields
		FROM sessions
		ORDER BY started_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ReadSession returns one session by id.
func (r *Recorder) ReadSession(ctx context.Context, id string) (SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, scenario, started_at, final_version, final_fields
		FROM sessions
		WHERE id = ?
	`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, fmt.Errorf("session %s not found", id)
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var startedAt, fieldsJSON string
	if err := row.Scan(&rec.ID, &rec.Scenario, &startedAt, &rec.FinalVersion, &fieldsJSON); err != nil {
		if err == sql.ErrNoRows {
			return SessionRecord{}, err
		}
		return SessionRecord{}, fmt.Errorf("scan session: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parse session start time: %w", err)
	}
	rec.StartedAt = at
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.FinalFields); err != nil {
		return SessionRecord{}, fmt.Errorf("parse session final fields: %w", err)
	}
	return rec, nil
}

// ReadOplog returns a session's applied patches in application order.
func (r *Recorder) ReadOplog(ctx context.Context, sessionID string) ([]engine.Patch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT patch_id, version, fields, applied_at
		FROM patches
		WHERE session_id = ?
		ORDER BY position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read oplog for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var oplog []engine.Patch
	for rows.Next() {
		var p engine.Patch
		var fieldsJSON, appliedAt string
		if err := rows.Scan(&p.ID, &p.Version, &fieldsJSON, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan patch: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
			return nil, fmt.Errorf("parse patch fields: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("parse patch applied time: %w", err)
		}
		p.AppliedAt = at
		oplog = append(oplog, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read oplog for %s: %w", sessionID, err)
	}
	return oplog, nil
}

// ReadEvents returns a session's telemetry events in emission order.
func (r *Recorder) ReadEvents(ctx context.Context, sessionID string) ([]telemetry.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, at, metadata
		FROM telemetry_events
		WHERE session_id = ?
		ORDER BY position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read events for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var ev telemetry.Event
		var at, metadataJSON string
		if err := rows.Scan(&ev.Name, &at, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		ev.Timestamp = ts
		if metadataJSON != "{}" && metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("parse event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events for %s: %w", sessionID, err)
	}
	return events, nil
}
