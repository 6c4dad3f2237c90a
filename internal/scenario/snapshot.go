package scenario

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkwell-app/draftsync/internal/engine"
)

// Snapshot is the deterministic serialization of a scenario result, used
// for golden-file comparison and for the run command's output. Map keys
// sort during JSON encoding and all timestamps come from the manual clock,
// so identical runs serialize identically.
type Snapshot struct {
	Scenario   string              `json:"scenario"`
	Policy     string              `json:"policy"`
	Draft      DraftSnapshot       `json:"draft"`
	ActiveTurn string              `json:"active_turn,omitempty"`
	Turns      []TurnSnapshot      `json:"turns"`
	Preview    []EventSnapshot     `json:"preview"`
	Final      []EventSnapshot     `json:"final"`
	Telemetry  []TelemetrySnapshot `json:"telemetry"`
}

// DraftSnapshot captures the final draft document.
type DraftSnapshot struct {
	Version   int64          `json:"version"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

// TurnSnapshot captures one turn's terminal state.
type TurnSnapshot struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Status string `json:"status"`
	Events int    `json:"events"`
}

// EventSnapshot captures one buffered input event.
type EventSnapshot struct {
	ID      string `json:"id"`
	TurnID  string `json:"turn_id"`
	Source  string `json:"source"`
	Stage   string `json:"stage"`
	Content string `json:"content"`
}

// TelemetrySnapshot captures one emitted telemetry event.
type TelemetrySnapshot struct {
	Name     string            `json:"name"`
	At       string            `json:"at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// BuildSnapshot converts a result into its deterministic snapshot form.
func BuildSnapshot(result *Result) Snapshot {
	snap := Snapshot{
		Scenario:   result.Scenario,
		Policy:     string(result.Final.Policy),
		ActiveTurn: result.Final.ActiveTurnID,
		Draft: DraftSnapshot{
			Version:   result.Final.Draft.Version,
			Fields:    result.Final.Draft.Fields,
			UpdatedAt: formatTime(result.Final.Draft.UpdatedAt),
		},
		Turns:     []TurnSnapshot{},
		Preview:   []EventSnapshot{},
		Final:     []EventSnapshot{},
		Telemetry: []TelemetrySnapshot{},
	}
	if snap.Draft.Fields == nil {
		snap.Draft.Fields = map[string]any{}
	}

	for _, t := range result.Final.Turns {
		snap.Turns = append(snap.Turns, TurnSnapshot{
			ID:     t.ID,
			Source: string(t.Source),
			Status: string(t.Status),
			Events: len(t.Events),
		})
	}
	for _, ev := range result.Final.Buffers.Preview {
		snap.Preview = append(snap.Preview, eventSnapshot(ev))
	}
	for _, ev := range result.Final.Buffers.Final {
		snap.Final = append(snap.Final, eventSnapshot(ev))
	}
	for _, ev := range result.Telemetry {
		snap.Telemetry = append(snap.Telemetry, TelemetrySnapshot{
			Name:     ev.Name,
			At:       formatTime(ev.Timestamp),
			Metadata: ev.Metadata,
		})
	}
	return snap
}

func eventSnapshot(ev engine.InputEvent) EventSnapshot {
	return EventSnapshot{
		ID:      ev.ID,
		TurnID:  ev.TurnID,
		Source:  string(ev.Source),
		Stage:   string(ev.Stage),
		Content: ev.Content,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// MarshalIndent serializes the snapshot for golden files and CLI output.
func (s Snapshot) MarshalIndent() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}
