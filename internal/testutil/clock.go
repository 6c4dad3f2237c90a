// Package testutil provides deterministic test doubles shared across
// packages: a manual wall clock for driving the engine's lazy time-window
// checks from tests and scenarios.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed starting instant for deterministic runs.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a wall clock advanced explicitly by the test.
//
// Unlike the system clock, time only moves when Advance or Set is called,
// so dedup-window and gap-wait checks become fully scripted.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at Epoch.
func NewManualClock() *ManualClock {
	return &ManualClock{now: Epoch}
}

// NewManualClockAt creates a clock frozen at the given instant.
func NewManualClockAt(at time.Time) *ManualClock {
	return &ManualClock{now: at}
}

// Now returns the current frozen instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to the given instant.
func (c *ManualClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}
