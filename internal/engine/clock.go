package engine

import "time"

// Clock supplies wall-clock timestamps to the engine.
//
// The engine runs no internal timers: gap force-apply and dedup-window checks
// are evaluated lazily against Now() (or a caller-supplied timestamp) at call
// time. Injecting a clock keeps those checks deterministic under test.
type Clock interface {
	Now() time.Time
}

// systemClock reads the real wall clock in UTC.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns the production clock.
func SystemClock() Clock {
	return systemClock{}
}
