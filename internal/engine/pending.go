package engine

import (
	"log/slog"
	"time"

	"github.com/inkwell-app/draftsync/internal/telemetry"
)

// BeginAgentTurn opens (or reopens) an agent turn and arms the pending
// marker: a snapshot of the buffers and active turn reference taken now, so
// the turn can be rolled back cleanly if it never produces a patch.
//
// An empty turnID gets a generated id; the chosen id is returned. A
// pre-existing pending marker for a different id is simply replaced —
// last-begin-wins at the tracker level only.
func (e *Engine) BeginAgentTurn(turnID string) string {
	e.mu.Lock()

	now := e.clock.Now()
	if turnID == "" {
		turnID = e.ids.TurnID()
	}

	next := cloneState(e.state)

	snapshot := PendingTurn{
		ID:           turnID,
		StartedAt:    now,
		Buffers:      cloneBuffers(next.Buffers),
		ActiveTurnID: next.ActiveTurnID,
	}

	if t := next.Turn(turnID); t != nil {
		t.Status = TurnOpen
		t.CompletedAt = nil
		t.UpdatedAt = now
	} else {
		next.Turns = append(next.Turns, Turn{
			ID:        turnID,
			Source:    SourceAgent,
			Status:    TurnOpen,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	next.ActiveTurnID = turnID
	next.Pending = &snapshot

	slog.Debug("agent turn begun", "turn_id", turnID)

	e.commit(next, nil)
	return turnID
}

// CompleteAgentTurn finalizes the matching agent turn. When the pending
// marker matches this id and no patch landed during the turn, the buffers
// and active turn reference are rolled back to the snapshot taken at
// BeginAgentTurn — a turn that produced no document change leaves no trace.
// The pending marker is cleared in all matching cases.
func (e *Engine) CompleteAgentTurn(turnID string, at time.Time) {
	e.mu.Lock()

	if at.IsZero() {
		at = e.clock.Now()
	}

	next := cloneState(e.state)
	changed := false

	if t := next.Turn(turnID); t != nil && t.Source == SourceAgent && t.Status == TurnOpen {
		finalizeTurn(t, at)
		changed = true
	}

	var emits []telemetry.Event
	if next.Pending != nil && next.Pending.ID == turnID {
		if !next.Pending.HasAppliedPatch {
			next.Buffers = cloneBuffers(next.Pending.Buffers)
			next.ActiveTurnID = next.Pending.ActiveTurnID
			emits = append(emits, telemetry.Counter(telemetry.CounterTurnRolledBack, at, map[string]string{
				"turn_id": turnID,
			}))
			slog.Debug("agent turn rolled back", "turn_id", turnID)
		} else if next.ActiveTurnID == turnID {
			next.ActiveTurnID = ""
		}
		next.Pending = nil
		changed = true
	} else if next.ActiveTurnID == turnID {
		next.ActiveTurnID = ""
		changed = true
	}

	if !changed {
		e.mu.Unlock()
		slog.Debug("complete agent turn: nothing to do", "turn_id", turnID)
		return
	}

	slog.Debug("agent turn completed", "turn_id", turnID)

	e.commit(next, emits)
}

// ReconcileAgentTurnID renames a turn in place, bridging a provisional id to
// its canonical one once the agent adapter learns it. The rename follows the
// turn everywhere it is referenced: its events, the buffers, the sequenced
// patch queue key, the active turn reference, and the pending marker.
//
// Renaming is best-effort, never fatal: an unknown previousID creates a
// fresh agent turn under nextID, and a collision with an existing nextID
// turn leaves state untouched.
func (e *Engine) ReconcileAgentTurnID(previousID, nextID string, at time.Time) {
	if nextID == "" || previousID == nextID {
		return
	}

	e.mu.Lock()

	if at.IsZero() {
		at = e.clock.Now()
	}

	next := cloneState(e.state)

	t := next.Turn(previousID)
	if t == nil {
		if existing := next.Turn(nextID); existing != nil {
			existing.UpdatedAt = at
		} else {
			next.Turns = append(next.Turns, Turn{
				ID:        nextID,
				Source:    SourceAgent,
				Status:    TurnOpen,
				CreatedAt: at,
				UpdatedAt: at,
			})
		}
		slog.Debug("reconcile: previous turn unknown, created fresh", "turn_id", nextID)
		e.commit(next, nil)
		return
	}

	if next.Turn(nextID) != nil {
		e.mu.Unlock()
		slog.Debug("reconcile: target id already exists, skipping rename",
			"previous_id", previousID,
			"next_id", nextID,
		)
		return
	}

	t.ID = nextID
	t.UpdatedAt = at
	for i := range t.Events {
		t.Events[i].TurnID = nextID
	}
	renameBufferEvents(next.Buffers.Preview, previousID, nextID)
	renameBufferEvents(next.Buffers.Final, previousID, nextID)
	if q, ok := next.PatchQueues[previousID]; ok {
		for i := range q.Buffer {
			q.Buffer[i].TurnID = nextID
		}
		delete(next.PatchQueues, previousID)
		next.PatchQueues[nextID] = q
	}
	if next.ActiveTurnID == previousID {
		next.ActiveTurnID = nextID
	}
	if next.Pending != nil && next.Pending.ID == previousID {
		next.Pending.ID = nextID
	}

	slog.Debug("agent turn reconciled", "previous_id", previousID, "next_id", nextID)

	e.commit(next, nil)
}

func renameBufferEvents(events []InputEvent, previousID, nextID string) {
	for i := range events {
		if events[i].TurnID == previousID {
			events[i].TurnID = nextID
		}
	}
}
