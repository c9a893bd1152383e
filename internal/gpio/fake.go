package gpio

import (
	"context"
	"sync"
	"time"

	"github.com/hankb/hcsr04/internal/pulse"
)

// FakeOutput is a test double that records trigger writes.
type FakeOutput struct {
	mu sync.Mutex

	// Values contains every value written, in order.
	Values []bool

	// SetError, if set, will be returned by SetValue.
	SetError error

	// OnSet, if set, is called after each successful write.
	OnSet func(active bool)

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutput creates a FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// SetValue records the value.
func (f *FakeOutput) SetValue(active bool) error {
	f.mu.Lock()
	if f.SetError != nil {
		err := f.SetError
		f.mu.Unlock()
		return err
	}
	f.Values = append(f.Values, active)
	hook := f.OnSet
	f.mu.Unlock()

	if hook != nil {
		hook(active)
	}
	return nil
}

// Pulses returns the number of completed active→inactive pulses written.
func (f *FakeOutput) Pulses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i := 1; i < len(f.Values); i++ {
		if f.Values[i-1] && !f.Values[i] {
			n++
		}
	}
	return n
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Step is one scripted outcome of a WaitForEdge call.
type Step struct {
	// Edge is returned when Timeout and Err are unset.
	Edge pulse.EdgeEvent

	// Timeout makes the wait report no edge.
	Timeout bool

	// Block makes a Timeout step actually wait for the timeout, or until
	// the context is done.
	Block bool

	// Err is returned as a line failure.
	Err error
}

// Edge returns a Step delivering an edge of kind at ts nanoseconds.
func Edge(kind pulse.EdgeKind, ts int64) Step {
	return Step{Edge: pulse.EdgeEvent{Kind: kind, Timestamp: time.Duration(ts)}}
}

// FakeEcho is a test double that returns scripted edges.
type FakeEcho struct {
	mu sync.Mutex

	// Steps contains scripted wait outcomes. Each call to WaitForEdge
	// consumes the next step. Once exhausted, waits time out.
	Steps []Step
	index int

	// Arms records every mode passed to Arm.
	Arms []EdgeMode

	// Timeouts records the timeout passed to every WaitForEdge call.
	Timeouts []time.Duration

	// Level is returned by Value.
	Level bool

	// ArmError and ValueError, if set, are returned by Arm and Value.
	ArmError   error
	ValueError error

	// DroppedEdges is returned by Dropped.
	DroppedEdges uint64

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeEcho creates a FakeEcho with the given steps.
func NewFakeEcho(steps ...Step) *FakeEcho {
	return &FakeEcho{Steps: steps}
}

// Arm records mode.
func (f *FakeEcho) Arm(mode EdgeMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return ErrClosed
	}
	if f.ArmError != nil {
		return f.ArmError
	}
	f.Arms = append(f.Arms, mode)
	return nil
}

// WaitForEdge returns the next scripted step.
func (f *FakeEcho) WaitForEdge(ctx context.Context, timeout time.Duration) (pulse.EdgeEvent, bool, error) {
	f.mu.Lock()
	if f.Closed {
		f.mu.Unlock()
		return pulse.EdgeEvent{}, false, ErrClosed
	}
	f.Timeouts = append(f.Timeouts, timeout)
	step := Step{Timeout: true}
	if f.index < len(f.Steps) {
		step = f.Steps[f.index]
		f.index++
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return pulse.EdgeEvent{}, false, err
	}

	switch {
	case step.Err != nil:
		return pulse.EdgeEvent{}, false, step.Err
	case step.Timeout:
		if step.Block {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return pulse.EdgeEvent{}, false, ctx.Err()
			}
		}
		return pulse.EdgeEvent{}, false, nil
	}
	return step.Edge, true, nil
}

// Value returns Level.
func (f *FakeEcho) Value() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ValueError != nil {
		return false, f.ValueError
	}
	return f.Level, nil
}

// Dropped returns DroppedEdges.
func (f *FakeEcho) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.DroppedEdges
}

// Remaining returns the number of unconsumed steps.
func (f *FakeEcho) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Steps) - f.index
}

// Close marks the echo as closed.
func (f *FakeEcho) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset rewinds the script and clears recorded calls.
func (f *FakeEcho) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.Arms = nil
	f.Timeouts = nil
	f.Closed = false
}
