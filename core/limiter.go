package core

import (
	"fmt"
	"sync"
)

// RoundTripLimiter bounds the number of model/tool round trips of one leaf
// agent run. A limit of 0 allows unlimited round trips.
type RoundTripLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewRoundTripLimiter creates a limiter allowing max round trips.
func NewRoundTripLimiter(max int) *RoundTripLimiter {
	return &RoundTripLimiter{max: max}
}

// Increment records a round trip. It returns an error wrapping
// ErrMaxRoundTrips when the limit is exceeded.
func (l *RoundTripLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return fmt.Errorf("%w: limit %d", ErrMaxRoundTrips, l.max)
	}
	l.count++

	return nil
}

// Count returns the number of round trips made.
func (l *RoundTripLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many round trips are left, or -1 when unlimited.
func (l *RoundTripLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1
	}
	return l.max - l.count
}
