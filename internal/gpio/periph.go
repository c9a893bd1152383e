package gpio

import (
	"context"
	"fmt"
	"sync"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/hankb/hcsr04/internal/clock"
	"github.com/hankb/hcsr04/internal/pulse"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// initHost initialises the periph host drivers. host.Init is idempotent but
// not free, so it is only run once per process.
func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

func periphPin(name string) (pgpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named %q", name)
	}
	return p, nil
}

// PeriphPinName maps a BCM offset onto the periph pin registry name.
func PeriphPinName(offset int) string {
	return fmt.Sprintf("GPIO%d", offset)
}

// PeriphOutput drives the trigger line through periph.io.
type PeriphOutput struct {
	pin pgpio.PinIO
}

// NewPeriphOutput configures the named pin as an output, initially low.
func NewPeriphOutput(name string) (*PeriphOutput, error) {
	p, err := periphPin(name)
	if err != nil {
		return nil, err
	}
	if err := p.Out(pgpio.Low); err != nil {
		return nil, fmt.Errorf("configure trigger %s: %w", name, err)
	}
	return &PeriphOutput{pin: p}, nil
}

// SetValue drives the trigger line.
func (o *PeriphOutput) SetValue(active bool) error {
	if err := o.pin.Out(pgpio.Level(active)); err != nil {
		return fmt.Errorf("set trigger: %w", err)
	}
	return nil
}

// Close reverts the pin to a pulled-down input.
func (o *PeriphOutput) Close() error {
	if err := o.pin.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
		return fmt.Errorf("reconfigure trigger: %w", err)
	}
	return nil
}

// PeriphEcho watches the echo line through periph.io. periph reports only
// that an edge happened, so the edge is stamped with clk when the wait
// returns and classified by reading the level. That adds scheduling latency
// to every timestamp; prefer CdevEcho where available.
type PeriphEcho struct {
	pin pgpio.PinIO
	clk clock.Clock

	mu     sync.Mutex
	mode   EdgeMode
	closed bool
}

// NewPeriphEcho configures the named pin as a pulled-down input with
// both-edge detection.
func NewPeriphEcho(name string, clk clock.Clock) (*PeriphEcho, error) {
	p, err := periphPin(name)
	if err != nil {
		return nil, err
	}
	if err := p.In(pgpio.PullDown, pgpio.BothEdges); err != nil {
		return nil, fmt.Errorf("configure echo %s: %w", name, err)
	}
	return newPeriphEcho(p, clk), nil
}

// newPeriphEcho wraps a pin already configured for both-edge detection.
func newPeriphEcho(p pgpio.PinIO, clk clock.Clock) *PeriphEcho {
	return &PeriphEcho{pin: p, clk: clk, mode: EdgeBoth}
}

// maxDrain bounds the edges Arm discards, so a line that is still toggling
// cannot hold Arm forever.
const maxDrain = 64

// Arm sets the edge detection mode and discards pending edges.
func (e *PeriphEcho) Arm(mode EdgeMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if mode != e.mode {
		if err := e.pin.In(pgpio.PullDown, periphEdge(mode)); err != nil {
			return fmt.Errorf("arm echo %s: %w", mode, err)
		}
		e.mode = mode
	}
	for i := 0; i < maxDrain && e.pin.WaitForEdge(0); i++ {
	}
	return nil
}

// WaitForEdge waits for the next edge. The wait is bounded by the earlier of
// timeout and the ctx deadline; periph waits cannot be interrupted otherwise.
func (e *PeriphEcho) WaitForEdge(ctx context.Context, timeout time.Duration) (pulse.EdgeEvent, bool, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return pulse.EdgeEvent{}, false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return pulse.EdgeEvent{}, false, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}

	if !e.pin.WaitForEdge(timeout) {
		if err := ctx.Err(); err != nil {
			return pulse.EdgeEvent{}, false, err
		}
		return pulse.EdgeEvent{}, false, nil
	}
	ts := e.clk.Now()
	kind := pulse.Falling
	if e.pin.Read() == pgpio.High {
		kind = pulse.Rising
	}
	return pulse.EdgeEvent{Kind: kind, Timestamp: ts}, true, nil
}

// Value reads the echo level.
func (e *PeriphEcho) Value() (bool, error) {
	return bool(e.pin.Read()), nil
}

// Close disables edge detection.
func (e *PeriphEcho) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.pin.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
		return fmt.Errorf("reconfigure echo: %w", err)
	}
	return nil
}

func periphEdge(mode EdgeMode) pgpio.Edge {
	switch mode {
	case EdgeRising:
		return pgpio.RisingEdge
	case EdgeFalling:
		return pgpio.FallingEdge
	case EdgeBoth:
		return pgpio.BothEdges
	}
	return pgpio.NoEdge
}
