// Package settings loads the sensor settings. Sources in priority order:
// explicit overrides (command-line flags), HCSR04_ environment variables, a
// JSON config file, and built-in defaults.
package settings

import (
	"fmt"

	"github.com/warthog618/config"
	"github.com/warthog618/config/blob"
	"github.com/warthog618/config/blob/decoder/json"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"

	"github.com/hankb/hcsr04/internal/gpio"
	"github.com/hankb/hcsr04/internal/sensor"
)

// EnvPrefix is prepended to upper-cased keys to form environment variable
// names, e.g. HCSR04_TRIGGER.
const EnvPrefix = "HCSR04_"

// DefaultFile is read if present and no file is named by config.file.
const DefaultFile = "hcsr04.json"

// FileKey names an explicit config file. An explicitly named file must exist.
const FileKey = "config.file"

// Backends accepted for the backend key.
const (
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

// Settings is the validated configuration of a run.
type Settings struct {
	Chip      string
	Trigger   int
	Echo      int
	Backend   string
	Count     int // 0 = unbounded
	Verbosity int
	Summary   bool
	Sensor    sensor.Config
}

// Defaults returns the default source values.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"chip":      gpio.DefaultChip,
		"trigger":   gpio.DefaultTrigger,
		"echo":      gpio.DefaultEcho,
		"backend":   BackendCdev,
		"count":     5,
		"verbosity": 0,
		"summary":   false,
		"pulse":     "10us",
		"settle":    "60us",
		"timeout":   "100ms",
		"unit":      "in",
		"speed":     0, // 0 = derive from unit
		"maxwidth":  "1s",
		"interval":  "1s",
	}
}

// Load builds Settings from overrides, the environment, the config file and
// the defaults. Keys in overrides take precedence over everything else.
func Load(overrides map[string]interface{}) (Settings, error) {
	if overrides == nil {
		overrides = map[string]interface{}{}
	}
	cfg := config.New(
		dict.New(dict.WithMap(overrides)),
		env.New(env.WithEnvPrefix(EnvPrefix)),
		config.WithDefault(dict.New(dict.WithMap(Defaults()))))
	cfg.Append(
		blob.NewConfigFile(cfg, FileKey, DefaultFile, json.NewDecoder()))

	var errs []error
	get := func(key string) config.Value {
		v, err := cfg.Get(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return v
	}

	s := Settings{
		Chip:      get("chip").String(),
		Trigger:   get("trigger").Int(),
		Echo:      get("echo").Int(),
		Backend:   get("backend").String(),
		Count:     get("count").Int(),
		Verbosity: get("verbosity").Int(),
		Summary:   get("summary").Bool(),
		Sensor: sensor.Config{
			PulseHigh:     get("pulse").Duration(),
			Settle:        get("settle").Duration(),
			EdgeTimeout:   get("timeout").Duration(),
			Unit:          get("unit").String(),
			SpeedOfSound:  get("speed").Float(),
			MaxPulseWidth: get("maxwidth").Duration(),
			Interval:      get("interval").Duration(),
		},
	}
	if len(errs) > 0 {
		return Settings{}, fmt.Errorf("%w: %v", sensor.ErrConfiguration, errs)
	}
	if s.Sensor.SpeedOfSound == 0 {
		speed, err := sensor.SpeedFor(s.Sensor.Unit)
		if err != nil {
			return Settings{}, err
		}
		s.Sensor.SpeedOfSound = speed
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the line assignment and the sensor timings.
func (s Settings) Validate() error {
	switch {
	case s.Backend != BackendCdev && s.Backend != BackendPeriph:
		return fmt.Errorf("%w: unknown backend %q", sensor.ErrConfiguration, s.Backend)
	case s.Trigger < 0 || s.Echo < 0:
		return fmt.Errorf("%w: negative line offset (trigger %d, echo %d)", sensor.ErrConfiguration, s.Trigger, s.Echo)
	case s.Trigger == s.Echo:
		return fmt.Errorf("%w: trigger and echo share line %d", sensor.ErrConfiguration, s.Trigger)
	case s.Count < 0:
		return fmt.Errorf("%w: negative reading count %d", sensor.ErrConfiguration, s.Count)
	case s.Verbosity < 0 || s.Verbosity > 3:
		return fmt.Errorf("%w: verbosity %d outside 0-3", sensor.ErrConfiguration, s.Verbosity)
	}
	return s.Sensor.Validate()
}
