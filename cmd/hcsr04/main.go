// Command hcsr04 measures distance with an HC-SR04 ultrasonic sensor by timing
// the echo pulse from GPIO edge events.
package main

import (
	"fmt"
	"io"
	"iter"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hankb/hcsr04/internal/clock"
	"github.com/hankb/hcsr04/internal/gpio"
	"github.com/hankb/hcsr04/internal/sensor"
	"github.com/hankb/hcsr04/internal/settings"
	"github.com/hankb/hcsr04/internal/status"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "hcsr04",
	Short: "hcsr04 measures distance with an HC-SR04 ultrasonic sensor",
	Long: `Emit a trigger pulse, time the echo pulse from its rising and falling
edge events and print the pulse width and distance, one line per reading.
Per-cycle errors are logged and measuring continues.`,
	Args:          cobra.NoArgs,
	RunE:          measure,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "config file (default "+settings.DefaultFile+" if present)")
	pf.String("chip", gpio.DefaultChip, "GPIO chip name or path")
	pf.IntP("trigger", "t", gpio.DefaultTrigger, "trigger line offset")
	pf.IntP("echo", "e", gpio.DefaultEcho, "echo line offset")
	pf.String("backend", settings.BackendCdev, "GPIO backend (cdev|periph)")
	pf.CountP("verbose", "v", "increase diagnostic output (up to -vvv)")

	f := rootCmd.Flags()
	f.IntP("count", "n", 5, "number of readings (0 = until interrupted)")
	f.Duration("pulse", sensor.MinPulseHigh, "trigger pulse width")
	f.Duration("settle", 60*time.Microsecond, "delay before every trigger")
	f.Duration("timeout", 100*time.Millisecond, "timeout for each edge wait")
	f.StringP("unit", "u", "in", "distance unit (m|cm|mm|in|ft)")
	f.Float64("speed", 0, "speed of sound in unit/s (default derived from unit)")
	f.Duration("max-width", time.Second, "reject longer pulses (0 = no limit)")
	f.Duration("interval", time.Second, "pause after each successful reading")
	f.BoolP("summary", "s", false, "print a JSON summary when done")
}

// flagKeys maps flag names onto settings keys where they differ.
var flagKeys = map[string]string{
	"max-width": "maxwidth",
	"verbose":   "verbosity",
}

// overrides collects explicitly set flags so they take precedence over the
// environment and config file without masking them with flag defaults.
func overrides(fs ...*pflag.FlagSet) map[string]interface{} {
	m := map[string]interface{}{}
	for _, f := range fs {
		f.Visit(func(fl *pflag.Flag) {
			if fl.Name == "config" {
				m["config"] = map[string]interface{}{"file": fl.Value.String()}
				return
			}
			key := fl.Name
			if k, ok := flagKeys[key]; ok {
				key = k
			}
			m[key] = fl.Value.String()
		})
	}
	return m
}

func loadSettings(cmd *cobra.Command) (settings.Settings, error) {
	return settings.Load(overrides(cmd.Flags(), cmd.InheritedFlags()))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func measure(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	clk := clock.Monotonic()
	trigger, echo, err := openLines(s, clk)
	if err != nil {
		return err
	}
	defer closeLine("trigger", trigger)
	defer closeLine("echo", echo)

	m, err := sensor.New(trigger, echo, s.Sensor,
		sensor.WithClock(clk),
		sensor.WithLogger(log.Default()),
		sensor.WithVerbosity(s.Verbosity))
	if err != nil {
		return err
	}

	tracker := status.NewTracker(time.Now(), trackerConfig(s))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("started: backend=%s chip=%s trigger=%d echo=%d count=%d timeout=%v unit=%s",
		s.Backend, s.Chip, s.Trigger, s.Echo, s.Count, s.Sensor.EdgeTimeout, s.Sensor.Unit)

	if s.Verbosity > 0 {
		log.Printf("pulse width, distance %s", s.Sensor.Unit)
	}
	err = runLoop(m.Stream(ctx, s.Count), cmd.OutOrStdout(), tracker)
	if ctx.Err() != nil {
		log.Printf("interrupted, shutting down")
	}
	if s.Summary {
		fmt.Fprintln(cmd.OutOrStdout(), string(status.FormatJSON(tracker.Snapshot())))
	}
	return err
}

// runLoop prints each reading, logs per-cycle errors and records every
// outcome. It returns the fatal error that ended the stream, if any.
func runLoop(readings iter.Seq2[sensor.Reading, error], out io.Writer, tracker *status.Tracker) error {
	cycle := 0
	for r, err := range readings {
		cycle++
		if tracker != nil {
			tracker.Record(r, err)
		}
		if err != nil {
			if sensor.IsFatal(err) {
				return fmt.Errorf("measure: %w", err)
			}
			log.Printf("cycle %d: %v", cycle, err)
			continue
		}
		fmt.Fprintln(out, r)
	}
	return nil
}

// openLines acquires the trigger and echo lines from the configured backend.
func openLines(s settings.Settings, clk clock.Clock) (gpio.Output, gpio.EdgeInput, error) {
	switch s.Backend {
	case settings.BackendCdev:
		trigger, err := gpio.NewCdevOutput(s.Chip, s.Trigger)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", sensor.ErrLineAcquisition, err)
		}
		echo, err := gpio.NewCdevEcho(s.Chip, s.Echo)
		if err != nil {
			closeLine("trigger", trigger)
			return nil, nil, fmt.Errorf("%w: %w", sensor.ErrLineAcquisition, err)
		}
		return trigger, echo, nil

	case settings.BackendPeriph:
		trigger, err := gpio.NewPeriphOutput(gpio.PeriphPinName(s.Trigger))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", sensor.ErrLineAcquisition, err)
		}
		echo, err := gpio.NewPeriphEcho(gpio.PeriphPinName(s.Echo), clk)
		if err != nil {
			closeLine("trigger", trigger)
			return nil, nil, fmt.Errorf("%w: %w", sensor.ErrLineAcquisition, err)
		}
		return trigger, echo, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown backend %q", sensor.ErrConfiguration, s.Backend)
}

// closeLine releases a line and logs any failure.
func closeLine(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Printf("close %s: %v", name, err)
	}
}

func trackerConfig(s settings.Settings) status.Config {
	return status.Config{
		Chip:          s.Chip,
		Trigger:       s.Trigger,
		Echo:          s.Echo,
		Backend:       s.Backend,
		PulseHighUs:   s.Sensor.PulseHigh.Microseconds(),
		SettleUs:      s.Sensor.Settle.Microseconds(),
		TimeoutMs:     s.Sensor.EdgeTimeout.Milliseconds(),
		SpeedOfSound:  s.Sensor.SpeedOfSound,
		Unit:          s.Sensor.Unit,
		ReadingsLimit: s.Count,
	}
}
