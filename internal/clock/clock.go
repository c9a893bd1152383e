// Package clock provides the monotonic time source and the line-level sleep
// used to shape trigger pulses.
package clock

import (
	"context"
	"time"
)

// Clock is a monotonic time source with a blocking sleep.
type Clock interface {
	// Now returns a monotonic instant. Instants are only comparable with
	// other instants from the same clock.
	Now() time.Duration

	// Sleep blocks for at least d.
	Sleep(d time.Duration)

	// Wait blocks for d or until ctx is done, returning ctx.Err() if the
	// wait was cut short. For coarse pauses; use Sleep for pulse shaping.
	Wait(ctx context.Context, d time.Duration) error
}

// Monotonic returns the system monotonic clock. On Linux this is
// CLOCK_MONOTONIC, the clock the kernel stamps GPIO line events with, so send
// timestamps and edge timestamps can be compared directly.
func Monotonic() Clock {
	return monotonic{}
}

func (monotonic) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
