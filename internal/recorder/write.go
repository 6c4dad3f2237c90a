package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkwell-app/draftsync/internal/engine"
	"github.com/inkwell-app/draftsync/internal/telemetry"
)

// RecordPatch appends one applied patch at the given oplog position.
// Duplicate (session, patch id) writes are silently ignored, mirroring the
// engine's identity-level idempotence.
func (r *Recorder) RecordPatch(ctx context.Context, sessionID string, position int, p engine.Patch) error {
	fieldsJSON, err := marshalFields(p.Fields)
	if err != nil {
		return fmt.Errorf("record patch %s: %w", p.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO patches (session_id, position, patch_id, version, fields, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		sessionID,
		position,
		p.ID,
		p.Version,
		fieldsJSON,
		p.AppliedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record patch %s: %w", p.ID, err)
	}
	return nil
}

// RecordOplog writes a session's full oplog in application order.
func (r *Recorder) RecordOplog(ctx context.Context, sessionID string, oplog []engine.Patch) error {
	for i, p := range oplog {
		if err := r.RecordPatch(ctx, sessionID, i, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordEvent appends one telemetry event at the given position.
func (r *Recorder) RecordEvent(ctx context.Context, sessionID string, position int, ev telemetry.Event) error {
	metadataJSON := []byte("{}")
	if ev.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("record event %s: %w", ev.Name, err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry_events (session_id, position, name, at, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		sessionID,
		position,
		ev.Name,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("record event %s: %w", ev.Name, err)
	}
	return nil
}

// RecordEvents writes telemetry events in emission order.
func (r *Recorder) RecordEvents(ctx context.Context, sessionID string, events []telemetry.Event) error {
	for i, ev := range events {
		if err := r.RecordEvent(ctx, sessionID, i, ev); err != nil {
			return err
		}
	}
	return nil
}

func marshalFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(b), nil
}
