//go:build !linux

package gpio

import (
	"context"
	"errors"
	"time"

	"github.com/hankb/hcsr04/internal/pulse"
)

var errUnsupported = errors.New("gpio: character device not supported on this platform (requires Linux)")

// CdevOutput is not available on non-Linux platforms.
type CdevOutput struct{}

// NewCdevOutput returns an error on non-Linux platforms.
func NewCdevOutput(chip string, offset int) (*CdevOutput, error) {
	return nil, errUnsupported
}

// SetValue is not implemented on non-Linux platforms.
func (o *CdevOutput) SetValue(active bool) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (o *CdevOutput) Close() error { return nil }

// CdevEcho is not available on non-Linux platforms.
type CdevEcho struct{}

// NewCdevEcho returns an error on non-Linux platforms.
func NewCdevEcho(chip string, offset int) (*CdevEcho, error) {
	return nil, errUnsupported
}

// Arm is not implemented on non-Linux platforms.
func (e *CdevEcho) Arm(mode EdgeMode) error { return errUnsupported }

// WaitForEdge is not implemented on non-Linux platforms.
func (e *CdevEcho) WaitForEdge(ctx context.Context, timeout time.Duration) (pulse.EdgeEvent, bool, error) {
	return pulse.EdgeEvent{}, false, errUnsupported
}

// Value is not implemented on non-Linux platforms.
func (e *CdevEcho) Value() (bool, error) { return false, errUnsupported }

// Dropped always returns zero on non-Linux platforms.
func (e *CdevEcho) Dropped() uint64 { return 0 }

// Close is not implemented on non-Linux platforms.
func (e *CdevEcho) Close() error { return nil }
