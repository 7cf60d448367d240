package utils

import "time"

// -----------------------------------------------------------------------------
// Clock abstraction so schedule and staleness checks are deterministic in
// tests.
// -----------------------------------------------------------------------------

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewRealClock returns a Clock backed by the wall clock.
func NewRealClock() Clock {
	return realClock{}
}
