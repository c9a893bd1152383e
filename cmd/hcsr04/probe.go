package main

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/hankb/hcsr04/internal/clock"
	"github.com/hankb/hcsr04/internal/gpio"
	"github.com/hankb/hcsr04/internal/sensor"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send one trigger pulse and poll the echo level",
	Long: `Send one trigger pulse and sample the echo line level at a fixed period,
printing each level change. Useful for checking wiring when edge events
never arrive.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().Int("samples", 1000, "number of level samples")
	probeCmd.Flags().Duration("period", 10*time.Microsecond, "delay between samples")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	samples, _ := cmd.Flags().GetInt("samples")
	period, _ := cmd.Flags().GetDuration("period")
	if samples <= 0 || period < 0 {
		return fmt.Errorf("%w: samples must be positive and period non-negative", sensor.ErrConfiguration)
	}

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

	log.Printf("probe: chip=%s trigger=%d echo=%d samples=%d period=%v",
		s.Chip, s.Trigger, s.Echo, samples, period)
	return probe(trigger, echo, clk, s.Sensor, samples, period, cmd.OutOrStdout())
}

// probe pulses the trigger then polls the echo level, printing the time of
// every change relative to the end of the pulse and the total time high.
func probe(trigger gpio.Output, echo gpio.EdgeInput, clk clock.Clock, cfg sensor.Config, samples int, period time.Duration, out io.Writer) error {
	if err := trigger.SetValue(false); err != nil {
		return fmt.Errorf("%w: %w", sensor.ErrLineIO, err)
	}
	clk.Sleep(cfg.Settle)
	if err := trigger.SetValue(true); err != nil {
		return fmt.Errorf("%w: %w", sensor.ErrLineIO, err)
	}
	clk.Sleep(cfg.PulseHigh)
	if err := trigger.SetValue(false); err != nil {
		return fmt.Errorf("%w: %w", sensor.ErrLineIO, err)
	}
	sent := clk.Now()

	var (
		prev    bool
		since   time.Duration
		high    time.Duration
		changes int
	)
	for i := 0; i < samples; i++ {
		v, err := echo.Value()
		if err != nil {
			return fmt.Errorf("%w: %w", sensor.ErrLineIO, err)
		}
		now := clk.Now() - sent
		if i == 0 || v != prev {
			if i > 0 {
				changes++
				if prev {
					high += now - since
				}
			}
			fmt.Fprintf(out, "%v: %s\n", now, level(v))
			prev, since = v, now
		}
		clk.Sleep(period)
	}
	if prev {
		high += clk.Now() - sent - since
	}
	fmt.Fprintf(out, "%d changes, high for %v\n", changes, high)
	return nil
}

func level(v bool) string {
	if v {
		return "high"
	}
	return "low"
}
