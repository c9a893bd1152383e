package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Sleep advances the clock
// instead of blocking.
type Fake struct {
	mu     sync.Mutex
	now    time.Duration
	Sleeps []time.Duration
}

// NewFake creates a Fake starting at the given instant.
func NewFake(start time.Duration) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake instant.
func (f *Fake) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep records d and advances the clock by it.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sleeps = append(f.Sleeps, d)
	f.now += d
}

// Wait records d as a sleep and advances the clock by it, unless ctx is
// already done.
func (f *Fake) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Sleep(d)
	return nil
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
}

// SleepLog returns a copy of the recorded sleeps.
func (f *Fake) SleepLog() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.Sleeps...)
}
