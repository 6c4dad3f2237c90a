package engine

// The engine uses the clone-based snapshot strategy: every operation deep
// copies the current State, mutates the copy, and swaps it in atomically.
// Callers therefore never observe a partially updated state, and snapshots
// handed out earlier are never mutated behind the caller's back.

func cloneState(s State) State {
	out := s
	out.Draft = cloneDraft(s.Draft)
	out.Oplog = clonePatches(s.Oplog)
	out.Turns = cloneTurns(s.Turns)
	out.Buffers = cloneBuffers(s.Buffers)
	out.RecentFinalInputs = append([]RecentFinalInput(nil), s.RecentFinalInputs...)
	out.PatchQueues = clonePatchQueues(s.PatchQueues)
	out.Pending = clonePending(s.Pending)
	return out
}

func cloneDraft(d Draft) Draft {
	out := d
	out.Fields = cloneFields(d.Fields)
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func clonePatch(p Patch) Patch {
	out := p
	out.Fields = cloneFields(p.Fields)
	return out
}

func clonePatches(patches []Patch) []Patch {
	if patches == nil {
		return nil
	}
	out := make([]Patch, len(patches))
	for i, p := range patches {
		out[i] = clonePatch(p)
	}
	return out
}

func cloneEvent(ev InputEvent) InputEvent {
	out := ev
	if ev.Metadata != nil {
		out.Metadata = make(map[string]string, len(ev.Metadata))
		for k, v := range ev.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func cloneEvents(events []InputEvent) []InputEvent {
	if events == nil {
		return nil
	}
	out := make([]InputEvent, len(events))
	for i, ev := range events {
		out[i] = cloneEvent(ev)
	}
	return out
}

func cloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t
		out[i].Events = cloneEvents(t.Events)
		if t.CompletedAt != nil {
			at := *t.CompletedAt
			out[i].CompletedAt = &at
		}
	}
	return out
}

func cloneBuffers(b Buffers) Buffers {
	return Buffers{
		Preview: cloneEvents(b.Preview),
		Final:   cloneEvents(b.Final),
	}
}

func clonePatchQueues(queues map[string]PatchQueue) map[string]PatchQueue {
	if queues == nil {
		return nil
	}
	out := make(map[string]PatchQueue, len(queues))
	for key, q := range queues {
		qc := q
		if q.Buffer != nil {
			qc.Buffer = make([]QueuedPatch, len(q.Buffer))
			for i, entry := range q.Buffer {
				qc.Buffer[i] = entry
				qc.Buffer[i].Patch = clonePatch(entry.Patch)
			}
		}
		out[key] = qc
	}
	return out
}

func clonePending(p *PendingTurn) *PendingTurn {
	if p == nil {
		return nil
	}
	out := *p
	out.Buffers = cloneBuffers(p.Buffers)
	return &out
}
