package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/inkwell-app/draftsync/internal/telemetry"
)

// globalQueueKey sequences patches delivered without a turn id.
const globalQueueKey = "global"

// ApplyPatch delivers a document patch.
//
// With d.TurnID set, the patch is a no-op unless an agent turn with that id
// exists. Unsequenced delivery applies iff the patch's version is ahead of
// the draft; sequenced delivery goes through the per-key queue: stale seqs
// are discarded, the expected seq applies immediately, later seqs are
// buffered and flushed in order, and a gap older than the bounded wait is
// skipped permanently with a patch_gap event. A patch id already present in
// the oplog is never reapplied, from any delivery path.
//
// When two turns' sequenced streams race on the same field, the last applied
// patch wins on that field; cross-turn ordering is intentionally undefined.
func (e *Engine) ApplyPatch(p Patch, d Delivery) {
	e.mu.Lock()

	now := e.clock.Now()
	next := cloneState(e.state)

	if d.TurnID != "" {
		t := next.Turn(d.TurnID)
		if t == nil || t.Source != SourceAgent {
			e.mu.Unlock()
			slog.Debug("dropping patch for unknown agent turn", "patch_id", p.ID, "turn_id", d.TurnID)
			return
		}
	}

	var emits []telemetry.Event
	var changed bool
	if d.Sequenced {
		changed = e.applySequenced(&next, p, d, now, &emits)
	} else {
		changed = e.applyUnsequenced(&next, p, d, now, &emits)
	}

	if !changed {
		e.mu.Unlock()
		return
	}
	e.commit(next, emits)
}

// applyUnsequenced gates purely on the patch's own version claim.
func (e *Engine) applyUnsequenced(next *State, p Patch, d Delivery, now time.Time, emits *[]telemetry.Event) bool {
	if next.AppliedPatch(p.ID) {
		slog.Debug("dropping duplicate patch", "patch_id", p.ID)
		return false
	}
	if p.Version <= next.Draft.Version {
		slog.Debug("dropping stale patch",
			"patch_id", p.ID,
			"patch_version", p.Version,
			"draft_version", next.Draft.Version,
		)
		return false
	}
	e.applyToDraft(next, p, d.TurnID, now, emits)
	return true
}

// applySequenced routes the patch through its queue key and flushes.
func (e *Engine) applySequenced(next *State, p Patch, d Delivery, now time.Time, emits *[]telemetry.Event) bool {
	key := d.TurnID
	if key == "" {
		key = globalQueueKey
	}
	q := next.PatchQueues[key]

	changed := false
	switch {
	case d.Seq < q.ExpectedSeq:
		slog.Debug("dropping stale sequenced patch",
			"patch_id", p.ID,
			"seq", d.Seq,
			"expected_seq", q.ExpectedSeq,
		)

	case d.Seq == q.ExpectedSeq:
		if !next.AppliedPatch(p.ID) {
			e.applyToDraft(next, p, d.TurnID, now, emits)
		}
		q.ExpectedSeq = d.Seq + 1
		changed = true

	default: // ahead of the cursor: park it
		if bufferHasSeq(q.Buffer, d.Seq) {
			slog.Debug("dropping duplicate seq", "patch_id", p.ID, "seq", d.Seq)
			break
		}
		q.Buffer = insertQueued(q.Buffer, QueuedPatch{
			Seq:        d.Seq,
			ReceivedAt: now,
			TurnID:     d.TurnID,
			Patch:      clonePatch(p),
		})
		changed = true
	}

	if e.flushQueue(next, &q, now, emits) {
		changed = true
	}

	if changed {
		if next.PatchQueues == nil {
			next.PatchQueues = make(map[string]PatchQueue)
		}
		next.PatchQueues[key] = q
	}
	return changed
}

// flushQueue drains the buffer: exact matches of the expected seq apply
// immediately; a head entry parked at least the gap wait is force-applied
// with a patch_gap event. Skipped seqs are permanent — the cursor moves past
// them, so a late arrival is discarded as stale and cannot resurrect.
func (e *Engine) flushQueue(next *State, q *PatchQueue, now time.Time, emits *[]telemetry.Event) bool {
	changed := false
	for len(q.Buffer) > 0 {
		head := q.Buffer[0]

		if head.Seq < q.ExpectedSeq {
			q.Buffer = q.Buffer[1:]
			changed = true
			continue
		}

		if head.Seq == q.ExpectedSeq {
			q.Buffer = q.Buffer[1:]
			if !next.AppliedPatch(head.Patch.ID) {
				e.applyToDraft(next, head.Patch, head.TurnID, now, emits)
			}
			q.ExpectedSeq = head.Seq + 1
			changed = true
			continue
		}

		if now.Sub(head.ReceivedAt) >= e.gapWait {
			*emits = append(*emits, telemetry.Counter(telemetry.CounterPatchGap, now, map[string]string{
				"expected": fmt.Sprintf("%d", q.ExpectedSeq),
				"received": fmt.Sprintf("%d", head.Seq),
				"turn_id":  head.TurnID,
			}))
			slog.Info("patch gap skipped",
				"expected_seq", q.ExpectedSeq,
				"received_seq", head.Seq,
				"turn_id", head.TurnID,
			)
			q.Buffer = q.Buffer[1:]
			if !next.AppliedPatch(head.Patch.ID) {
				e.applyToDraft(next, head.Patch, head.TurnID, now, emits)
			}
			q.ExpectedSeq = head.Seq + 1
			changed = true
			continue
		}

		break
	}
	if len(q.Buffer) == 0 {
		q.Buffer = nil
	}
	return changed
}

// applyToDraft performs the one true mutation path for the draft document:
// bump the version by exactly one, shallow-merge fields with the patch
// winning on conflict, advance updatedAt, append to the oplog, and mark the
// pending agent turn as having produced a change.
func (e *Engine) applyToDraft(next *State, p Patch, turnID string, now time.Time, emits *[]telemetry.Event) {
	applied := clonePatch(p)
	if applied.AppliedAt.IsZero() {
		applied.AppliedAt = now
	}

	next.Draft.Version++
	if next.Draft.Fields == nil {
		next.Draft.Fields = make(map[string]any, len(applied.Fields))
	}
	for name, value := range applied.Fields {
		next.Draft.Fields[name] = value
	}
	if applied.AppliedAt.After(next.Draft.UpdatedAt) {
		next.Draft.UpdatedAt = applied.AppliedAt
	}
	next.Oplog = append(next.Oplog, applied)

	if turnID != "" && next.Pending != nil && next.Pending.ID == turnID {
		next.Pending.HasAppliedPatch = true
	}

	latency := now.Sub(applied.AppliedAt)
	if latency < 0 {
		latency = 0
	}
	*emits = append(*emits,
		telemetry.Counter(telemetry.CounterPatchApplied, now, map[string]string{
			"patch_id":      applied.ID,
			"draft_version": fmt.Sprintf("%d", next.Draft.Version),
			"turn_id":       turnID,
		}),
		telemetry.Timer(telemetry.TimerPatchApplyLatency, now, latency, map[string]string{
			"patch_id": applied.ID,
		}),
	)

	slog.Debug("patch applied",
		"patch_id", applied.ID,
		"draft_version", next.Draft.Version,
		"turn_id", turnID,
	)
}

func bufferHasSeq(buffer []QueuedPatch, seq int64) bool {
	for _, entry := range buffer {
		if entry.Seq == seq {
			return true
		}
	}
	return false
}

// insertQueued inserts the entry keeping the buffer sorted ascending by seq.
func insertQueued(buffer []QueuedPatch, entry QueuedPatch) []QueuedPatch {
	i := sort.Search(len(buffer), func(i int) bool {
		return buffer[i].Seq > entry.Seq
	})
	buffer = append(buffer, QueuedPatch{})
	copy(buffer[i+1:], buffer[i:])
	buffer[i] = entry
	return buffer
}
