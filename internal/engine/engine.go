// Package engine implements the session-scoped synchronization engine for a
// conversational document-drafting assistant. It reconciles concurrent input
// channels (typed text, voice transcripts, attachment-derived text) into
// discrete turns and applies an agent's incrementally streamed, versioned
// patches to one shared draft under idempotence and ordering guarantees.
//
// Every public operation is a pure transform applied to one immutable
// snapshot and swapped in atomically; no caller observes a partially updated
// state. The engine performs no I/O, runs no background goroutines, and
// evaluates all time-window checks lazily against the injected clock.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/inkwell-app/draftsync/internal/idgen"
	"github.com/inkwell-app/draftsync/internal/telemetry"
)

const (
	// DefaultGapWait bounds how long a sequenced stream waits on a missing
	// seq before force-applying the next buffered patch.
	DefaultGapWait = time.Second

	// DefaultDedupWindow is the sliding window for cross-channel suppression
	// of re-submitted identical content.
	DefaultDedupWindow = time.Second
)

// Engine owns the SyncState for one conversation session.
//
// An Engine is constructed per session and owned by its caller — never a
// process-wide singleton. All operations are synchronous, non-blocking, and
// safe for concurrent use; mutation is funneled through the internal mutex
// and the clone-and-swap discipline in clone.go.
type Engine struct {
	clock       Clock
	ids         idgen.Generator
	sink        telemetry.Sink
	gapWait     time.Duration
	dedupWindow time.Duration

	mu      sync.Mutex
	state   State
	subs    []subscription
	nextSub int
}

type subscription struct {
	id int
	fn func(State)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the timestamp source. Defaults to the system clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDs injects the id generator used when callers omit ids.
func WithIDs(g idgen.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithSink injects the telemetry sink. Defaults to a no-op sink.
func WithSink(s telemetry.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithGapWait overrides the bounded wait before a sequence gap is skipped.
func WithGapWait(d time.Duration) Option {
	return func(e *Engine) { e.gapWait = d }
}

// WithDedupWindow overrides the cross-channel dedup window.
func WithDedupWindow(d time.Duration) Option {
	return func(e *Engine) { e.dedupWindow = d }
}

// New creates an engine for a fresh session. The default policy is
// concurrent.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:       SystemClock(),
		ids:         idgen.Default{},
		sink:        telemetry.NopSink{},
		gapWait:     DefaultGapWait,
		dedupWindow: DefaultDedupWindow,
		state: State{
			Policy: PolicyConcurrent,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns an immutable snapshot of the session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneState(e.state)
}

// Subscribe registers a listener invoked synchronously with a fresh snapshot
// after every state change. The returned function unsubscribes.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, sub := range e.subs {
			if sub.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// Draft returns the current draft document.
func (e *Engine) Draft() Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneDraft(e.state.Draft)
}

// BuffersSnapshot returns the current preview/final buffers.
func (e *Engine) BuffersSnapshot() Buffers {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneBuffers(e.state.Buffers)
}

// commit swaps in the next state, emits collected telemetry, and notifies
// subscribers. Must be called with the mutex held; it releases it.
func (e *Engine) commit(next State, emits []telemetry.Event) {
	e.state = next
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	var snapshot State
	if len(subs) > 0 {
		snapshot = cloneState(next)
	}
	e.mu.Unlock()

	for _, ev := range emits {
		e.sink.Emit(ev)
	}
	for _, sub := range subs {
		sub.fn(snapshot)
	}
}

// IngestInput records an input event, creating its turn if absent and
// routing the event into the preview or final buffer by stage.
//
// Under the exclusive policy, an open turn held by a different input channel
// is finalized at this event's timestamp before the event is appended.
// A final-stage event whose content is empty after whitespace normalization
// is dropped silently.
func (e *Engine) IngestInput(ev InputEvent) {
	e.mu.Lock()

	at := ev.CreatedAt
	if at.IsZero() {
		at = e.clock.Now()
		ev.CreatedAt = at
	}
	if ev.ID == "" {
		ev.ID = e.ids.EventID()
	}

	normalized := normalizeContent(ev.Content)
	if ev.Stage == StageFinal && normalized == "" {
		e.mu.Unlock()
		slog.Debug("dropping empty final input", "turn_id", ev.TurnID, "source", ev.Source)
		return
	}

	next := cloneState(e.state)

	if next.Policy == PolicyExclusive {
		finalizeOtherChannels(&next, ev, at)
	}

	t := next.Turn(ev.TurnID)
	if t == nil {
		next.Turns = append(next.Turns, Turn{
			ID:        ev.TurnID,
			Source:    ev.Source.TurnSource(),
			Status:    TurnOpen,
			CreatedAt: at,
			UpdatedAt: at,
		})
		t = &next.Turns[len(next.Turns)-1]
	}
	t.Events = append(t.Events, cloneEvent(ev))
	t.UpdatedAt = at
	next.ActiveTurnID = t.ID

	switch ev.Stage {
	case StageFinal:
		next.Buffers.Final = append(next.Buffers.Final, cloneEvent(ev))
		pruneRecentFinals(&next, at, e.dedupWindow)
		next.RecentFinalInputs = append(next.RecentFinalInputs, RecentFinalInput{
			Content:   normalized,
			Timestamp: at,
		})
	default:
		next.Buffers.Preview = append(next.Buffers.Preview, cloneEvent(ev))
	}

	slog.Debug("input ingested",
		"event_id", ev.ID,
		"turn_id", ev.TurnID,
		"source", ev.Source,
		"stage", ev.Stage,
	)

	e.commit(next, nil)
}

// finalizeOtherChannels closes every open turn whose live channel differs
// from the incoming event's source. Only one channel may be live at a time
// under the exclusive policy.
func finalizeOtherChannels(next *State, ev InputEvent, at time.Time) {
	for i := range next.Turns {
		t := &next.Turns[i]
		if t.Status != TurnOpen || t.ID == ev.TurnID {
			continue
		}
		if turnChannel(t) == ev.Source {
			continue
		}
		finalizeTurn(t, at)
		slog.Debug("exclusive policy finalized turn", "turn_id", t.ID, "by_source", ev.Source)
	}
}

// turnChannel is the input channel a turn is currently attributed to: the
// source of its latest event, or the turn's own source when it has none.
func turnChannel(t *Turn) Source {
	if n := len(t.Events); n > 0 {
		return t.Events[n-1].Source
	}
	return t.Source
}

func finalizeTurn(t *Turn, at time.Time) {
	completed := at
	t.Status = TurnFinalized
	t.CompletedAt = &completed
	t.UpdatedAt = at
}

// SubmitFinalInput promotes a turn's buffered preview events to final and
// finalizes the turn. With an empty turnID it targets the most recently
// updated open turn; with a zero timestamp it uses the clock.
//
// A preview event whose normalized content matches a string finalized within
// the dedup window is dropped rather than promoted. This guards the race
// where voice transcription and a typed echo produce the same utterance
// twice across channels.
func (e *Engine) SubmitFinalInput(turnID string, at time.Time) {
	e.mu.Lock()

	if at.IsZero() {
		at = e.clock.Now()
	}

	next := cloneState(e.state)

	var target *Turn
	if turnID != "" {
		target = next.Turn(turnID)
	} else {
		target = next.mostRecentOpenTurn()
	}
	if target == nil {
		e.mu.Unlock()
		slog.Debug("submit final: no target turn", "turn_id", turnID)
		return
	}

	pruneRecentFinals(&next, at, e.dedupWindow)

	var emits []telemetry.Event
	remaining := next.Buffers.Preview[:0]
	for _, ev := range next.Buffers.Preview {
		if ev.TurnID != target.ID {
			remaining = append(remaining, ev)
			continue
		}
		normalized := normalizeContent(ev.Content)
		if recentlyFinalized(next.RecentFinalInputs, normalized) {
			emits = append(emits, telemetry.Counter(telemetry.CounterInputDeduped, at, map[string]string{
				"turn_id":  target.ID,
				"event_id": ev.ID,
			}))
			slog.Debug("deduped preview input", "event_id", ev.ID, "turn_id", target.ID)
			continue
		}
		promoted := cloneEvent(ev)
		promoted.Stage = StageFinal
		next.Buffers.Final = append(next.Buffers.Final, promoted)
		next.RecentFinalInputs = append(next.RecentFinalInputs, RecentFinalInput{
			Content:   normalized,
			Timestamp: at,
		})
		promoteTurnEvent(target, ev.ID)
	}
	next.Buffers.Preview = remaining

	if target.Status == TurnOpen {
		finalizeTurn(target, at)
	}
	if next.ActiveTurnID == target.ID {
		next.ActiveTurnID = ""
	}

	slog.Debug("turn finalized", "turn_id", target.ID)

	e.commit(next, emits)
}

// promoteTurnEvent flips the stage of the turn's copy of an event to final.
func promoteTurnEvent(t *Turn, eventID string) {
	for i := range t.Events {
		if t.Events[i].ID == eventID {
			t.Events[i].Stage = StageFinal
			return
		}
	}
}

func recentlyFinalized(recent []RecentFinalInput, normalized string) bool {
	for _, entry := range recent {
		if entry.Content == normalized {
			return true
		}
	}
	return false
}

// pruneRecentFinals drops dedup entries older than the window relative to at.
func pruneRecentFinals(next *State, at time.Time, window time.Duration) {
	kept := next.RecentFinalInputs[:0]
	for _, entry := range next.RecentFinalInputs {
		if at.Sub(entry.Timestamp) <= window {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		next.RecentFinalInputs = nil
		return
	}
	next.RecentFinalInputs = kept
}

// SetPolicy switches the input exclusivity policy.
//
// Switching to exclusive retroactively finalizes every open turn except the
// most recently updated one, which becomes the active turn. Reverting to
// concurrent is a pure flag change with no state migration.
func (e *Engine) SetPolicy(p Policy, at time.Time) {
	e.mu.Lock()

	if at.IsZero() {
		at = e.clock.Now()
	}

	next := cloneState(e.state)
	next.Policy = p

	if p == PolicyExclusive {
		keep := next.mostRecentOpenTurn()
		for i := range next.Turns {
			t := &next.Turns[i]
			if t.Status != TurnOpen {
				continue
			}
			if keep != nil && t.ID == keep.ID {
				continue
			}
			finalizeTurn(t, at)
		}
		if keep != nil {
			next.ActiveTurnID = keep.ID
		} else {
			next.ActiveTurnID = ""
		}
	}

	slog.Debug("policy changed", "policy", p)

	e.commit(next, nil)
}
