// Package gpio provides the trigger and echo lines with hardware abstraction.
// The cdev implementation uses the Linux GPIO character device and delivers
// kernel-timestamped edge events. The periph implementation uses periph.io.
// The fake implementation allows testing without hardware.
package gpio

import (
	"context"
	"errors"
	"time"

	"github.com/hankb/hcsr04/internal/pulse"
)

// Output drives the trigger line.
type Output interface {
	// SetValue drives the line active (true) or inactive (false).
	SetValue(active bool) error

	// Close releases the line.
	Close() error
}

// EdgeInput is the echo line.
type EdgeInput interface {
	// Arm enables edge detection for mode and discards any edges queued
	// before the call. Arming with the current mode does not reconfigure
	// the line.
	Arm(mode EdgeMode) error

	// WaitForEdge blocks until the next edge, the timeout, or ctx is done.
	// Returns ok=false on timeout. A done ctx is reported as ctx.Err().
	WaitForEdge(ctx context.Context, timeout time.Duration) (evt pulse.EdgeEvent, ok bool, err error)

	// Value returns the instantaneous level. For diagnostics only, never
	// for edge timing.
	Value() (bool, error)

	// Close releases the line.
	Close() error
}

// DropCounter is implemented by edge inputs that can lose edges when their
// event queue overflows.
type DropCounter interface {
	// Dropped returns the number of edges discarded so far.
	Dropped() uint64
}

// EdgeMode selects the transitions reported by an EdgeInput.
type EdgeMode int

const (
	EdgeNone EdgeMode = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (m EdgeMode) String() string {
	switch m {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	}
	return "none"
}

// ErrClosed is returned by operations on a closed line.
var ErrClosed = errors.New("gpio: line closed")

// Default line assignments (BCM numbering on gpiochip0).
const (
	DefaultChip    = "gpiochip0"
	DefaultTrigger = 24
	DefaultEcho    = 23
)

// Consumer is the label lines are requested with.
const Consumer = "hcsr04"
