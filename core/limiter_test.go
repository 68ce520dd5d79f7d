package core

import (
	"errors"
	"testing"
)

func TestRoundTripLimiter(t *testing.T) {
	l := NewRoundTripLimiter(2)

	for i := 0; i < 2; i++ {
		if err := l.Increment(); err != nil {
			t.Fatalf("unexpected error on round trip %d: %v", i+1, err)
		}
	}

	if err := l.Increment(); !errors.Is(err, ErrMaxRoundTrips) {
		t.Fatalf("expected ErrMaxRoundTrips, got %v", err)
	}
	if l.Count() != 2 {
		t.Fatalf("expected count 2, got %d", l.Count())
	}
	if l.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", l.Remaining())
	}

	if NewRoundTripLimiter(0).Remaining() != -1 {
		t.Fatal("expected unlimited limiter to report -1")
	}
}
