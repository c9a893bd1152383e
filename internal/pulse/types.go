// Package pulse contains the pure trigger/echo protocol for edge-timed
// pulse-width measurement.
// This package has NO external dependencies (no GPIO, OS, or time.Sleep).
// Timestamps are always supplied by the caller.
package pulse

import (
	"errors"
	"time"
)

// EdgeKind is the direction of a transition on the echo line.
type EdgeKind string

const (
	Rising  EdgeKind = "RISING"
	Falling EdgeKind = "FALLING"
)

// EdgeEvent is a single observed transition on the echo line.
type EdgeEvent struct {
	Kind EdgeKind
	// Timestamp is a monotonic instant, as delivered with the edge by the
	// platform. Zero is a valid instant.
	Timestamp time.Duration
}

// Phase is the state of one measurement cycle.
type Phase string

const (
	PhaseIdle                Phase = "IDLE"
	PhaseAwaitingRisingEdge  Phase = "AWAITING_RISING_EDGE"
	PhaseAwaitingFallingEdge Phase = "AWAITING_FALLING_EDGE"
	PhaseComplete            Phase = "COMPLETE"
	PhaseTimedOut            Phase = "TIMED_OUT"
	PhaseMissedEdge          Phase = "MISSED_EDGE"
	PhaseInvalidInterval     Phase = "INVALID_INTERVAL"
)

// Terminal reports whether the phase ends a cycle.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseTimedOut, PhaseMissedEdge, PhaseInvalidInterval:
		return true
	}
	return false
}

// Per-cycle errors. All of them are recoverable by a fresh trigger.
var (
	ErrTimedOut        = errors.New("timed out waiting for echo edge")
	ErrMissedEdge      = errors.New("echo edges out of order")
	ErrInvalidInterval = errors.New("invalid pulse interval")
)

// Err maps a failed terminal phase onto its error.
// Returns nil for non-failure phases.
func (p Phase) Err() error {
	switch p {
	case PhaseTimedOut:
		return ErrTimedOut
	case PhaseMissedEdge:
		return ErrMissedEdge
	case PhaseInvalidInterval:
		return ErrInvalidInterval
	}
	return nil
}

// Distance converts a pulse width into a one-way distance. The echo covers
// the round trip, hence the halving. The distance unit is whatever length
// unit speedOfSound is expressed in per second.
func Distance(width time.Duration, speedOfSound float64) float64 {
	return width.Seconds() * speedOfSound / 2
}
