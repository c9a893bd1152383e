//go:build linux

package gpio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/hankb/hcsr04/internal/pulse"
)

// eventBuffer is the number of edges held between waits. A cycle only needs
// two; the rest absorbs noise so the watcher never blocks.
const eventBuffer = 64

// CdevOutput drives the trigger line through the GPIO character device.
type CdevOutput struct {
	line *gpiocdev.Line
}

// NewCdevOutput requests offset on chip as an output, initially inactive.
func NewCdevOutput(chip string, offset int) (*CdevOutput, error) {
	l, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("request trigger %s:%d: %w", chip, offset, err)
	}
	return &CdevOutput{line: l}, nil
}

// SetValue drives the trigger line.
func (o *CdevOutput) SetValue(active bool) error {
	v := 0
	if active {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set trigger: %w", err)
	}
	return nil
}

// Close reverts the line to an input before releasing it, so nothing is left
// driven after exit.
func (o *CdevOutput) Close() error {
	var errs []error
	if err := o.line.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure trigger: %w", err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close trigger: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// CdevEcho watches the echo line for edges. Edges carry the kernel timestamp
// taken when the interrupt fired, not the time the event was read.
type CdevEcho struct {
	line    *gpiocdev.Line
	events  chan gpiocdev.LineEvent
	dropped atomic.Uint64

	mu     sync.Mutex
	mode   EdgeMode
	closed bool
}

// NewCdevEcho requests offset on chip as a pulled-down input with both-edge
// detection.
func NewCdevEcho(chip string, offset int) (*CdevEcho, error) {
	e := &CdevEcho{
		events: make(chan gpiocdev.LineEvent, eventBuffer),
		mode:   EdgeBoth,
	}
	l, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(e.handle),
		gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("request echo %s:%d: %w", chip, offset, err)
	}
	e.line = l
	return e, nil
}

func (e *CdevEcho) handle(evt gpiocdev.LineEvent) {
	select {
	case e.events <- evt:
	default:
		e.dropped.Add(1)
	}
}

// Arm sets the edge detection mode and flushes queued edges.
func (e *CdevEcho) Arm(mode EdgeMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if mode != e.mode {
		if err := e.line.Reconfigure(edgeOption(mode)); err != nil {
			return fmt.Errorf("arm echo %s: %w", mode, err)
		}
		e.mode = mode
	}
	for {
		select {
		case <-e.events:
		default:
			return nil
		}
	}
}

// WaitForEdge returns the next queued edge.
func (e *CdevEcho) WaitForEdge(ctx context.Context, timeout time.Duration) (pulse.EdgeEvent, bool, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return pulse.EdgeEvent{}, false, ErrClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case evt := <-e.events:
		return toEdgeEvent(evt), true, nil
	case <-timer.C:
		return pulse.EdgeEvent{}, false, nil
	case <-ctx.Done():
		return pulse.EdgeEvent{}, false, ctx.Err()
	}
}

// Value reads the echo level.
func (e *CdevEcho) Value() (bool, error) {
	v, err := e.line.Value()
	if err != nil {
		return false, fmt.Errorf("read echo: %w", err)
	}
	return v == 1, nil
}

// Dropped returns the number of edges discarded because the buffer was full.
func (e *CdevEcho) Dropped() uint64 {
	return e.dropped.Load()
}

// Close disables edge detection and releases the line.
func (e *CdevEcho) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if err := e.line.Reconfigure(gpiocdev.WithoutEdges); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure echo: %w", err))
	}
	if err := e.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close echo: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func edgeOption(mode EdgeMode) gpiocdev.LineConfigOption {
	switch mode {
	case EdgeRising:
		return gpiocdev.WithRisingEdge
	case EdgeFalling:
		return gpiocdev.WithFallingEdge
	case EdgeBoth:
		return gpiocdev.WithBothEdges
	}
	return gpiocdev.WithoutEdges
}

func toEdgeEvent(evt gpiocdev.LineEvent) pulse.EdgeEvent {
	kind := pulse.Falling
	if evt.Type == gpiocdev.LineEventRisingEdge {
		kind = pulse.Rising
	}
	return pulse.EdgeEvent{Kind: kind, Timestamp: evt.Timestamp}
}
