// Package clock abstracts the current time so pricing dates are testable.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now()
}

// Fixed is a settable clock for tests. Safe for concurrent use.
type Fixed struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFixed creates a clock stopped at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{current: t}
}

// Now returns the fixed time.
func (f *Fixed) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.current = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}
