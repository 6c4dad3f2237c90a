// Package idgen generates identifiers for turns and input events.
//
// Turn ids are UUIDv7 (time-sortable, useful when correlating turns across
// logs). Event and patch ids are ULIDs, which sort lexically by creation
// time and keep the oplog readable.
package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator produces identifiers for the engine.
// Implemented by Default (production) and Fixed (tests).
type Generator interface {
	TurnID() string
	EventID() string
}

// Default is the production generator.
// Stateless and safe for concurrent use.
type Default struct{}

// TurnID returns a UUIDv7 string, falling back to a random UUIDv4 if
// UUIDv7 generation fails.
func (Default) TurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// EventID returns a ULID string.
func (Default) EventID() string {
	return ulid.Make().String()
}

// Fixed returns predetermined ids in order, enabling deterministic test
// execution and golden snapshot comparison.
//
// Safe for concurrent use via internal mutex. Panics when exhausted;
// a scripted scenario should know exactly how many ids it consumes.
type Fixed struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixed creates a generator that returns ids in order.
func NewFixed(ids ...string) *Fixed {
	return &Fixed{ids: ids}
}

func (f *Fixed) next() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.ids) {
		panic(fmt.Sprintf("idgen: fixed generator exhausted after %d ids", len(f.ids)))
	}
	id := f.ids[f.idx]
	f.idx++
	return id
}

// TurnID returns the next predetermined id.
func (f *Fixed) TurnID() string { return f.next() }

// EventID returns the next predetermined id.
func (f *Fixed) EventID() string { return f.next() }

// Sequential returns ids with a prefix and an incrementing counter
// ("turn-1", "turn-2", ...). Handy for scenario runs where the exact id
// text should be stable but the count is open-ended.
type Sequential struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequential creates a sequential generator with the given prefix.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

// TurnID returns the next sequential id.
func (s *Sequential) TurnID() string { return s.next() }

// EventID returns the next sequential id.
func (s *Sequential) EventID() string { return s.next() }
