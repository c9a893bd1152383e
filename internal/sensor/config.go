package sensor

import (
	"errors"
	"fmt"
	"time"
)

// MinPulseHigh is the shortest trigger pulse the HC-SR04 datasheet accepts.
const MinPulseHigh = 10 * time.Microsecond

// Fatal errors. These end a stream and are never retried.
var (
	ErrConfiguration   = errors.New("invalid configuration")
	ErrLineAcquisition = errors.New("line acquisition failed")
	ErrLineIO          = errors.New("line I/O failed")
)

// Config holds the timing and conversion parameters of a sensor.
type Config struct {
	// PulseHigh is how long the trigger is held active.
	PulseHigh time.Duration

	// Settle is applied before every trigger, including the first.
	Settle time.Duration

	// EdgeTimeout bounds each individual edge wait.
	EdgeTimeout time.Duration

	// SpeedOfSound is in Unit per second.
	SpeedOfSound float64
	Unit         string

	// MaxPulseWidth rejects implausibly long pulses. Zero disables the check.
	MaxPulseWidth time.Duration

	// Interval is slept after each successful reading in a stream.
	Interval time.Duration
}

// Validate checks the timing parameters.
func (c Config) Validate() error {
	switch {
	case c.PulseHigh < MinPulseHigh:
		return fmt.Errorf("%w: pulse high %v below sensor minimum %v", ErrConfiguration, c.PulseHigh, MinPulseHigh)
	case c.Settle < 0:
		return fmt.Errorf("%w: negative settle delay %v", ErrConfiguration, c.Settle)
	case c.EdgeTimeout <= 0:
		return fmt.Errorf("%w: edge timeout must be positive, got %v", ErrConfiguration, c.EdgeTimeout)
	case c.SpeedOfSound <= 0:
		return fmt.Errorf("%w: speed of sound must be positive, got %v", ErrConfiguration, c.SpeedOfSound)
	case c.MaxPulseWidth < 0:
		return fmt.Errorf("%w: negative max pulse width %v", ErrConfiguration, c.MaxPulseWidth)
	case c.Interval < 0:
		return fmt.Errorf("%w: negative interval %v", ErrConfiguration, c.Interval)
	}
	return nil
}

// Speed of sound in dry air at roughly 20°C, per length unit.
var speeds = map[string]float64{
	"m":  340.29,
	"cm": 34029,
	"mm": 340290,
	"ft": 1100,
	"in": 1100 * 12,
}

// SpeedFor returns the default speed of sound for unit.
func SpeedFor(unit string) (float64, error) {
	s, ok := speeds[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrConfiguration, unit)
	}
	return s, nil
}

// DefaultConfig returns the datasheet timings with metric output.
func DefaultConfig() Config {
	return Config{
		PulseHigh:     MinPulseHigh,
		Settle:        60 * time.Microsecond,
		EdgeTimeout:   100 * time.Millisecond,
		SpeedOfSound:  speeds["m"],
		Unit:          "m",
		MaxPulseWidth: time.Second,
	}
}

// IsFatal reports whether err ends a stream.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrLineAcquisition) ||
		errors.Is(err, ErrLineIO)
}
