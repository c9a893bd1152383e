package sensor

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hankb/hcsr04/internal/clock"
	"github.com/hankb/hcsr04/internal/gpio"
	"github.com/hankb/hcsr04/internal/pulse"
)

func testConfig() Config {
	return Config{
		PulseHigh:     10 * time.Microsecond,
		Settle:        60 * time.Microsecond,
		EdgeTimeout:   time.Millisecond,
		SpeedOfSound:  340.29,
		Unit:          "m",
		MaxPulseWidth: time.Second,
	}
}

type rig struct {
	m    *Measurer
	trig *gpio.FakeOutput
	echo *gpio.FakeEcho
	clk  *clock.Fake
}

func newRig(t *testing.T, cfg Config, steps ...gpio.Step) rig {
	t.Helper()
	r := rig{
		trig: gpio.NewFakeOutput(),
		echo: gpio.NewFakeEcho(steps...),
		clk:  clock.NewFake(0),
	}
	m, err := New(r.trig, r.echo, cfg, WithClock(r.clk))
	require.NoError(t, err)
	r.m = m
	return r
}

func rise(ns int64) gpio.Step { return gpio.Edge(pulse.Rising, ns) }
func fall(ns int64) gpio.Step { return gpio.Edge(pulse.Falling, ns) }

func TestMeasureOnceReading(t *testing.T) {
	r := newRig(t, testConfig(), rise(0), fall(5_000_000))

	got, err := r.m.MeasureOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Millisecond, got.PulseWidth)
	assert.InDelta(t, 0.005, got.PulseWidthSeconds(), 1e-12)
	assert.InDelta(t, 0.8507, got.Distance, 1e-4)
	assert.Equal(t, "m", got.Unit)
	assert.Equal(t, 70*time.Microsecond, got.Sent)
	assert.Equal(t, pulse.PhaseComplete, r.m.Phase())

	// settle before the pulse, then the pulse itself
	assert.Equal(t, []time.Duration{60 * time.Microsecond, 10 * time.Microsecond}, r.clk.SleepLog())
	// initial low from New, then one pulse
	assert.Equal(t, []bool{false, true, false}, r.trig.Values)
	assert.Equal(t, []gpio.EdgeMode{gpio.EdgeBoth}, r.echo.Arms)
	// the timeout applies to each edge wait
	assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond}, r.echo.Timeouts)
}

func TestMeasureOnceRisingThenTimeout(t *testing.T) {
	r := newRig(t, testConfig(), rise(0), gpio.Step{Timeout: true})

	_, err := r.m.MeasureOnce(context.Background())
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.False(t, IsFatal(err))
	assert.Equal(t, pulse.PhaseTimedOut, r.m.Phase())
}

func TestMeasureOnceFallingWithoutRising(t *testing.T) {
	r := newRig(t, testConfig(), fall(0))

	_, err := r.m.MeasureOnce(context.Background())
	assert.ErrorIs(t, err, ErrMissedEdge)
	assert.NotErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, pulse.PhaseMissedEdge, r.m.Phase())
}

func TestMeasureOnceRisingTwice(t *testing.T) {
	r := newRig(t, testConfig(), rise(0), rise(1000))

	_, err := r.m.MeasureOnce(context.Background())
	assert.ErrorIs(t, err, ErrMissedEdge)
}

func TestMeasureOnceOutOfOrderTimestamps(t *testing.T) {
	r := newRig(t, testConfig(), rise(1_000_000), fall(999_000))

	_, err := r.m.MeasureOnce(context.Background())
	assert.ErrorIs(t, err, ErrInvalidInterval)
	assert.False(t, IsFatal(err))
}

func TestMeasureOnceImplausibleWidth(t *testing.T) {
	r := newRig(t, testConfig(), rise(0), fall(int64(3*time.Second)))

	_, err := r.m.MeasureOnce(context.Background())
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestMeasureOnceNoEdgeBlocksForTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.EdgeTimeout = 20 * time.Millisecond
	r := newRig(t, cfg, gpio.Step{Timeout: true, Block: true})

	start := time.Now()
	_, err := r.m.MeasureOnce(context.Background())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.GreaterOrEqual(t, elapsed, cfg.EdgeTimeout)
	assert.Less(t, elapsed, cfg.EdgeTimeout+200*time.Millisecond)
	assert.Len(t, r.echo.Timeouts, 1)
}

func TestMeasureOnceCancelledWaitIsTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.EdgeTimeout = time.Hour
	r := newRig(t, cfg, rise(0), gpio.Step{Timeout: true, Block: true})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.m.MeasureOnce(ctx)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.False(t, IsFatal(err))
	assert.Equal(t, pulse.PhaseTimedOut, r.m.Phase())
}

func TestMeasureOnceLineErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("wait", func(t *testing.T) {
		r := newRig(t, testConfig(), rise(0), gpio.Step{Err: boom})
		_, err := r.m.MeasureOnce(context.Background())
		assert.ErrorIs(t, err, ErrLineIO)
		assert.ErrorIs(t, err, boom)
		assert.True(t, IsFatal(err))
	})

	t.Run("arm", func(t *testing.T) {
		r := newRig(t, testConfig())
		r.echo.ArmError = boom
		_, err := r.m.MeasureOnce(context.Background())
		assert.ErrorIs(t, err, ErrLineIO)
	})

	t.Run("trigger", func(t *testing.T) {
		r := newRig(t, testConfig())
		r.trig.SetError = boom
		_, err := r.m.MeasureOnce(context.Background())
		assert.ErrorIs(t, err, ErrLineIO)
		assert.Empty(t, r.echo.Timeouts, "no wait after a failed trigger")
	})

	t.Run("closed echo", func(t *testing.T) {
		r := newRig(t, testConfig())
		require.NoError(t, r.echo.Close())
		_, err := r.m.MeasureOnce(context.Background())
		assert.ErrorIs(t, err, ErrLineIO)
		assert.ErrorIs(t, err, gpio.ErrClosed)
	})
}

func TestNewDrivesTriggerLow(t *testing.T) {
	trig := gpio.NewFakeOutput()
	_, err := New(trig, gpio.NewFakeEcho(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, trig.Values)

	trig = gpio.NewFakeOutput()
	trig.SetError = errors.New("busy")
	_, err = New(trig, gpio.NewFakeEcho(), testConfig())
	assert.ErrorIs(t, err, ErrLineIO)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PulseHigh = 5 * time.Microsecond
	trig := gpio.NewFakeOutput()
	_, err := New(trig, gpio.NewFakeEcho(), cfg)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.True(t, IsFatal(err))
	assert.Empty(t, trig.Values, "lines untouched on configuration error")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"default", func(c *Config) { *c = DefaultConfig() }, true},
		{"pulse at minimum", func(c *Config) { c.PulseHigh = MinPulseHigh }, true},
		{"pulse below minimum", func(c *Config) { c.PulseHigh = 9 * time.Microsecond }, false},
		{"zero settle", func(c *Config) { c.Settle = 0 }, true},
		{"negative settle", func(c *Config) { c.Settle = -time.Microsecond }, false},
		{"zero timeout", func(c *Config) { c.EdgeTimeout = 0 }, false},
		{"zero speed", func(c *Config) { c.SpeedOfSound = 0 }, false},
		{"negative speed", func(c *Config) { c.SpeedOfSound = -1 }, false},
		{"no max width", func(c *Config) { c.MaxPulseWidth = 0 }, true},
		{"negative max width", func(c *Config) { c.MaxPulseWidth = -1 }, false},
		{"negative interval", func(c *Config) { c.Interval = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrConfiguration)
			}
		})
	}
}

func TestSpeedFor(t *testing.T) {
	s, err := SpeedFor("in")
	require.NoError(t, err)
	assert.Equal(t, 13200.0, s)

	s, err = SpeedFor("m")
	require.NoError(t, err)
	assert.Equal(t, 340.29, s)

	_, err = SpeedFor("furlong")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestDistanceScalesWithSpeed(t *testing.T) {
	cfg := testConfig()
	r1 := newRig(t, cfg, rise(0), fall(3_000_000))
	cfg.SpeedOfSound *= 2
	r2 := newRig(t, cfg, rise(0), fall(3_000_000))

	a, err := r1.m.MeasureOnce(context.Background())
	require.NoError(t, err)
	b, err := r2.m.MeasureOnce(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2*a.Distance, b.Distance, 1e-12)
}

func TestReadingString(t *testing.T) {
	r := Reading{PulseWidth: 5 * time.Millisecond, Distance: 0.850725, Unit: "m", Sent: 100, Rising: 400}
	assert.Equal(t, "0.005000, 0.85 m", r.String())
	assert.Equal(t, time.Duration(300), r.Latency())
}

func TestStreamCountWithRecoverableErrors(t *testing.T) {
	r := newRig(t, testConfig(),
		// reading
		rise(0), fall(1_000_000),
		// timed out
		gpio.Step{Timeout: true},
		// missed edge
		fall(10),
		// invalid interval
		rise(2_000_000), fall(1_000_000),
		// reading
		rise(0), fall(2_000_000),
	)

	var readings []Reading
	var errs []error
	for rd, err := range r.m.Stream(context.Background(), 5) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		readings = append(readings, rd)
	}

	require.Len(t, readings, 2)
	require.Len(t, errs, 3)
	assert.ErrorIs(t, errs[0], ErrTimedOut)
	assert.ErrorIs(t, errs[1], ErrMissedEdge)
	assert.ErrorIs(t, errs[2], ErrInvalidInterval)
	assert.Equal(t, time.Millisecond, readings[0].PulseWidth)
	assert.Equal(t, 2*time.Millisecond, readings[1].PulseWidth)

	// settle is applied before every trigger regardless of outcome
	sleeps := r.clk.SleepLog()
	require.Len(t, sleeps, 10)
	for i := 0; i < len(sleeps); i += 2 {
		assert.Equal(t, 60*time.Microsecond, sleeps[i])
		assert.Equal(t, 10*time.Microsecond, sleeps[i+1])
	}
	assert.Equal(t, 5, r.trig.Pulses())
	assert.Equal(t, 0, r.echo.Remaining())
}

func TestStreamExactlyNTimeouts(t *testing.T) {
	r := newRig(t, testConfig())
	n := 0
	for _, err := range r.m.Stream(context.Background(), 7) {
		assert.ErrorIs(t, err, ErrTimedOut)
		n++
	}
	assert.Equal(t, 7, n)
}

func TestStreamStopsOnFatalError(t *testing.T) {
	r := newRig(t, testConfig(),
		rise(0), fall(1_000_000),
		gpio.Step{Err: errors.New("line gone")},
		rise(0), fall(1_000_000),
	)

	var errs []error
	n := 0
	for _, err := range r.m.Stream(context.Background(), 0) {
		n++
		if err != nil {
			errs = append(errs, err)
		}
	}
	assert.Equal(t, 2, n)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrLineIO)
}

func TestStreamUnboundedUntilCancelled(t *testing.T) {
	r := newRig(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	for _, err := range r.m.Stream(ctx, 0) {
		assert.ErrorIs(t, err, ErrTimedOut)
		n++
		if n == 25 {
			cancel()
		}
	}
	assert.Equal(t, 25, n)
}

func TestStreamBreak(t *testing.T) {
	r := newRig(t, testConfig())
	n := 0
	for range r.m.Stream(context.Background(), 10) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, r.trig.Pulses())
}

func TestStreamRestarts(t *testing.T) {
	r := newRig(t, testConfig(), rise(0), gpio.Step{Timeout: true}, fall(5_000_000))

	for _, err := range r.m.Stream(context.Background(), 1) {
		assert.ErrorIs(t, err, ErrTimedOut)
	}
	// the previous stream's rising edge must not pair with this falling edge
	for _, err := range r.m.Stream(context.Background(), 1) {
		assert.ErrorIs(t, err, ErrMissedEdge)
	}
}

func TestStreamInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 250 * time.Millisecond
	r := newRig(t, cfg, rise(0), fall(1000), gpio.Step{Timeout: true}, rise(0), fall(1000))

	n := 0
	for range r.m.Stream(context.Background(), 3) {
		n++
	}
	assert.Equal(t, 3, n)
	// a pause follows the first reading only: not the timeout, not the last
	settle, high := cfg.Settle, cfg.PulseHigh
	assert.Equal(t, []time.Duration{
		settle, high, cfg.Interval,
		settle, high,
		settle, high,
	}, r.clk.SleepLog())
}

func TestStreamIntervalCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = time.Hour
	r := newRig(t, cfg, rise(0), fall(1000), rise(0), fall(1000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	for _, err := range r.m.Stream(ctx, 2) {
		require.NoError(t, err)
		n++
		cancel()
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, r.trig.Pulses())
}

func TestMeasureOnceSerialised(t *testing.T) {
	steps := make([]gpio.Step, 0, 40)
	for i := 0; i < 20; i++ {
		steps = append(steps, rise(0), fall(1_000_000))
	}
	r := newRig(t, testConfig(), steps...)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := r.m.MeasureOnce(context.Background())
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestVerboseDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	trig := gpio.NewFakeOutput()
	echo := gpio.NewFakeEcho(rise(100_000), fall(600_000))
	echo.Level = true

	m, err := New(trig, echo, testConfig(),
		WithClock(clock.NewFake(0)),
		WithLogger(logger),
		WithVerbosity(3))
	require.NoError(t, err)

	_, err = m.MeasureOnce(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "pulse: echo readback (before, during, after) 1, 1, 1")
	assert.Contains(t, out, "edge: RISING")
	assert.Contains(t, out, "edge: FALLING")
	assert.Contains(t, out, "wait: rising +")
}

func TestDroppedEdgesLogged(t *testing.T) {
	var buf bytes.Buffer
	trig := gpio.NewFakeOutput()
	echo := gpio.NewFakeEcho(fall(0), rise(0), fall(1000))
	echo.DroppedEdges = 3

	m, err := New(trig, echo, testConfig(),
		WithClock(clock.NewFake(0)),
		WithLogger(log.New(&buf, "", 0)),
		WithVerbosity(1))
	require.NoError(t, err)

	_, err = m.MeasureOnce(context.Background())
	assert.ErrorIs(t, err, ErrMissedEdge)
	assert.Contains(t, buf.String(), "echo: 3 edges dropped")

	// only new drops are reported
	buf.Reset()
	_, err = m.MeasureOnce(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "dropped")
}

func TestQuietByDefault(t *testing.T) {
	var buf bytes.Buffer
	trig := gpio.NewFakeOutput()
	echo := gpio.NewFakeEcho(rise(0), fall(1000))
	echo.ValueError = errors.New("must not be read")

	m, err := New(trig, echo, testConfig(), WithClock(clock.NewFake(0)), WithLogger(log.New(&buf, "", 0)))
	require.NoError(t, err)
	_, err = m.MeasureOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}
