// Package telemetry defines the event shape the sync engine emits for its
// external collector: named counters and timers with a timestamp and a flat
// string metadata map. Sinks are synchronous and must not block; the engine
// emits from its operation path.
package telemetry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event names emitted by the engine.
const (
	CounterPatchApplied    = "patch_applied"
	CounterPatchGap        = "patch_gap"
	CounterInputDeduped    = "input_deduped"
	CounterTurnRolledBack  = "turn_rolled_back"
	TimerPatchApplyLatency = "patch_apply_latency"
)

// Event is one telemetry record.
type Event struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink consumes telemetry events.
type Sink interface {
	Emit(Event)
}

// Counter builds a counter event.
func Counter(name string, at time.Time, metadata map[string]string) Event {
	return Event{Name: name, Timestamp: at, Metadata: metadata}
}

// Timer builds a timer event carrying the duration in milliseconds.
func Timer(name string, at time.Time, d time.Duration, metadata map[string]string) Event {
	md := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["duration_ms"] = fmt.Sprintf("%d", d.Milliseconds())
	return Event{Name: name, Timestamp: at, Metadata: md}
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// SlogSink logs events at debug level through a slog logger.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ev Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, 2+2*len(ev.Metadata))
	attrs = append(attrs, "event", ev.Name, "at", ev.Timestamp)
	for k, v := range ev.Metadata {
		attrs = append(attrs, k, v)
	}
	logger.Debug("telemetry", attrs...)
}

// MemorySink retains events in memory. Intended for tests and for the
// scenario runner, which snapshots emitted events for golden comparison.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event.
func (s *MemorySink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of all recorded events in emission order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Count returns how many events with the given name were recorded.
func (s *MemorySink) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

// Reset discards all recorded events.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// MultiSink fans each event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}
