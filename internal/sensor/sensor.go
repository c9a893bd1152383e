// Package sensor drives an HC-SR04 ultrasonic ranging module: it emits the
// trigger pulse, times the echo pulse from its edge events and converts the
// width into a distance.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/hankb/hcsr04/internal/clock"
	"github.com/hankb/hcsr04/internal/gpio"
	"github.com/hankb/hcsr04/internal/pulse"
)

// Per-cycle errors, recoverable by measuring again.
var (
	ErrTimedOut        = pulse.ErrTimedOut
	ErrMissedEdge      = pulse.ErrMissedEdge
	ErrInvalidInterval = pulse.ErrInvalidInterval
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Reading is the result of one successful cycle.
type Reading struct {
	PulseWidth time.Duration
	Distance   float64
	Unit       string
	// Sent is the instant the trigger pulse ended. Diagnostic only.
	Sent time.Duration
	// Rising is the instant of the echo's rising edge.
	Rising time.Duration
}

// PulseWidthSeconds returns the echo pulse width in seconds.
func (r Reading) PulseWidthSeconds() float64 {
	return r.PulseWidth.Seconds()
}

// Latency returns the delay between the end of the trigger pulse and the
// start of the echo.
func (r Reading) Latency() time.Duration {
	return r.Rising - r.Sent
}

func (r Reading) String() string {
	return fmt.Sprintf("%.6f, %.2f %s", r.PulseWidthSeconds(), r.Distance, r.Unit)
}

// Measurer owns the trigger/echo protocol for one sensor. Cycles on the same
// Measurer are serialised.
type Measurer struct {
	trigger gpio.Output
	echo    gpio.EdgeInput
	cfg     Config
	clk     clock.Clock
	log     Logger
	verbose int

	mu      sync.Mutex
	machine *pulse.Machine
	dropped uint64
}

// Option configures a Measurer.
type Option func(*Measurer)

// WithClock sets the clock used for settle and pulse timing and for send
// timestamps. It must match the clock that stamps edge events.
func WithClock(c clock.Clock) Option {
	return func(m *Measurer) { m.clk = c }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l Logger) Option {
	return func(m *Measurer) { m.log = l }
}

// WithVerbosity sets the diagnostic level: 2 adds line readbacks and wait
// latencies, 3 traces every edge.
func WithVerbosity(v int) Option {
	return func(m *Measurer) { m.verbose = v }
}

// New creates a Measurer and drives the trigger inactive.
func New(trigger gpio.Output, echo gpio.EdgeInput, cfg Config, opts ...Option) (*Measurer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Measurer{
		trigger: trigger,
		echo:    echo,
		cfg:     cfg,
		clk:     clock.Monotonic(),
		machine: pulse.NewMachine(cfg.MaxPulseWidth),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := trigger.SetValue(false); err != nil {
		return nil, fmt.Errorf("%w: init trigger: %w", ErrLineIO, err)
	}
	return m, nil
}

// Config returns the sensor configuration.
func (m *Measurer) Config() Config {
	return m.cfg
}

// Phase returns the phase the last cycle ended in.
func (m *Measurer) Phase() pulse.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Phase()
}

// MeasureOnce runs one trigger→echo cycle. Per-cycle failures are returned
// as ErrTimedOut, ErrMissedEdge or ErrInvalidInterval; line failures as
// ErrLineIO. Cancelling ctx during a wait ends the cycle as ErrTimedOut.
func (m *Measurer) MeasureOnce(ctx context.Context) (Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.measure(ctx)
	m.reportDrops()
	return r, err
}

// reportDrops logs edges the echo input discarded since the last cycle. A
// dropped edge usually surfaces as ErrMissedEdge.
func (m *Measurer) reportDrops() {
	dc, ok := m.echo.(gpio.DropCounter)
	if !ok {
		return
	}
	n := dc.Dropped()
	if n > m.dropped {
		m.debugf(1, "echo: %d edges dropped (queue full)", n-m.dropped)
	}
	m.dropped = n
}

func (m *Measurer) measure(ctx context.Context) (Reading, error) {
	if err := m.echo.Arm(gpio.EdgeBoth); err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrLineIO, err)
	}

	m.clk.Sleep(m.cfg.Settle)

	sent, err := m.sendPulse()
	if err != nil {
		return Reading{}, err
	}
	m.machine.Triggered(sent)

	for !m.machine.Phase().Terminal() {
		waiting := m.machine.Phase()
		evt, ok, err := m.echo.WaitForEdge(ctx, m.cfg.EdgeTimeout)
		if err != nil && !isContextErr(err) {
			return Reading{}, fmt.Errorf("%w: wait for edge: %w", ErrLineIO, err)
		}
		if !ok {
			m.machine.Expire()
			if err != nil {
				return Reading{}, fmt.Errorf("%w: %w while %s", ErrTimedOut, err, waiting)
			}
			m.debugf(2, "wait: no edge within %v while %s", m.cfg.EdgeTimeout, waiting)
			return Reading{}, fmt.Errorf("%w: no edge within %v while %s", ErrTimedOut, m.cfg.EdgeTimeout, waiting)
		}

		m.debugf(3, "edge: %s at %v (+%v from send)", evt.Kind, evt.Timestamp, evt.Timestamp-sent)
		switch m.machine.Observe(evt) {
		case pulse.PhaseMissedEdge:
			return Reading{}, fmt.Errorf("%w: %s edge while %s", ErrMissedEdge, evt.Kind, waiting)
		case pulse.PhaseInvalidInterval:
			return Reading{}, fmt.Errorf("%w: width %v", ErrInvalidInterval, m.machine.Width())
		}
	}

	rising, _ := m.machine.Rising()
	width := m.machine.Width()
	m.debugf(2, "wait: rising +%v, falling +%v from send", rising.Timestamp-sent, m.machine.LastEdge().Timestamp-sent)
	return Reading{
		PulseWidth: width,
		Distance:   pulse.Distance(width, m.cfg.SpeedOfSound),
		Unit:       m.cfg.Unit,
		Sent:       sent,
		Rising:     rising.Timestamp,
	}, nil
}

// sendPulse holds the trigger active for PulseHigh and returns the instant
// the pulse ended.
func (m *Measurer) sendPulse() (time.Duration, error) {
	before := m.readback()
	if err := m.trigger.SetValue(true); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLineIO, err)
	}
	during := m.readback()
	m.clk.Sleep(m.cfg.PulseHigh)
	if err := m.trigger.SetValue(false); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLineIO, err)
	}
	sent := m.clk.Now()
	after := m.readback()
	m.debugf(2, "pulse: echo readback (before, during, after) %s, %s, %s", before, during, after)
	return sent, nil
}

// readback samples the echo level for diagnostics. Only done at verbosity 2+
// since the read delays the pulse.
func (m *Measurer) readback() string {
	if m.verbose < 2 {
		return ""
	}
	v, err := m.echo.Value()
	if err != nil {
		return "?"
	}
	if v {
		return "1"
	}
	return "0"
}

// Stream measures repeatedly, yielding every cycle's outcome. count <= 0
// measures until ctx is done. Per-cycle errors are yielded and measuring
// continues; a fatal error is yielded and ends the sequence. Each stream
// starts from an idle state.
func (m *Measurer) Stream(ctx context.Context, count int) iter.Seq2[Reading, error] {
	return func(yield func(Reading, error) bool) {
		m.mu.Lock()
		m.machine = pulse.NewMachine(m.cfg.MaxPulseWidth)
		m.mu.Unlock()

		for i := 0; count <= 0 || i < count; i++ {
			if ctx.Err() != nil {
				return
			}
			r, err := m.MeasureOnce(ctx)
			if !yield(r, err) {
				return
			}
			if err != nil {
				if IsFatal(err) {
					return
				}
				continue
			}
			if m.cfg.Interval > 0 && (count <= 0 || i < count-1) {
				// a cut-short pause ends the stream at the top of the loop
				_ = m.clk.Wait(ctx, m.cfg.Interval)
			}
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (m *Measurer) debugf(level int, format string, args ...any) {
	if m.log == nil || m.verbose < level {
		return
	}
	m.log.Printf(format, args...)
}
