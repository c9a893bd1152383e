//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

type monotonic struct{}

func (monotonic) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always present on Linux.
		panic("clock: " + err.Error())
	}
	return time.Duration(ts.Nano())
}

// Sleep uses nanosleep directly, resuming with the remaining time if
// interrupted by a signal.
func (monotonic) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	req := unix.NsecToTimespec(d.Nanoseconds())
	var rem unix.Timespec
	for {
		err := unix.Nanosleep(&req, &rem)
		if err != unix.EINTR {
			return
		}
		req = rem
	}
}
