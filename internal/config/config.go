// Package config loads the flowsim run configuration with viper.
//
// Values are layered, later layers winning: built-in defaults, the
// simulation block of the definitions, the YAML config file, FLOWSIM_
// environment variables, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/sink"
)

// EnvPrefix prefixes environment overrides: FLOWSIM_SIMULATION_SEED=7.
const EnvPrefix = "FLOWSIM"

// Config is the run configuration.
type Config struct {
	Definitions string      `mapstructure:"definitions"`
	Simulation  Simulation  `mapstructure:"simulation"`
	Logging     Logging     `mapstructure:"logging"`
	Metrics     Metrics     `mapstructure:"metrics"`
	History     History     `mapstructure:"history"`
	Outputs     []sink.Spec `mapstructure:"outputs" validate:"dive"`
	Throttle    Throttle    `mapstructure:"throttle"`
}

// Simulation holds the horizon and scheduling settings. Times and durations
// stay strings until Engine parses them.
type Simulation struct {
	// Start is RFC 3339, a date, or "now".
	Start       string  `mapstructure:"start" validate:"required"`
	Duration    string  `mapstructure:"duration" validate:"required"`
	Tick        string  `mapstructure:"tick" validate:"required"`
	Concurrency int     `mapstructure:"concurrency" validate:"gte=0"`
	Seed        *uint64 `mapstructure:"seed"`
	MaxSteps    int     `mapstructure:"max_steps" validate:"gte=0"`
}

type Logging struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type Metrics struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type History struct {
	// Path receives the entity history as SQLite after a run.
	Path string `mapstructure:"path"`
}

type Throttle struct {
	// EventsPerSecond caps sink delivery; zero means unlimited.
	EventsPerSecond float64 `mapstructure:"events_per_second" validate:"gte=0"`
	Burst           int     `mapstructure:"burst" validate:"gte=0"`
}

var defaults = map[string]any{
	"simulation.start":           "now",
	"simulation.duration":        "1h",
	"simulation.tick":            "1s",
	"simulation.concurrency":     1,
	"simulation.max_steps":       engine.DefaultMaxSteps,
	"logging.level":              "info",
	"logging.format":             "text",
	"throttle.events_per_second": 0,
	"throttle.burst":             1,
}

var envKeys = []string{
	"definitions",
	"simulation.start",
	"simulation.duration",
	"simulation.tick",
	"simulation.concurrency",
	"simulation.seed",
	"simulation.max_steps",
	"logging.level",
	"logging.format",
	"metrics.addr",
	"history.path",
	"throttle.events_per_second",
	"throttle.burst",
}

// Loader layers configuration sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with built-in defaults and environment
// overrides bound.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return &Loader{v: v}
}

// SetDefault sets a value below the config file, such as a setting from the
// definitions' simulation block.
func (l *Loader) SetDefault(key string, value any) {
	l.v.SetDefault(key, value)
}

// Set overrides key above every other layer.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// BindFlag makes a changed command-line flag override key.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	if f == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, f)
}

// ReadFile merges a YAML config file.
func (l *Loader) ReadFile(path string) error {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Definitions returns the layered definitions directory before Load, so the
// caller can compile the definitions and feed their simulation block back in
// with SetDefault.
func (l *Loader) Definitions() string {
	return l.v.GetString("definitions")
}

// Load decodes and validates the layered configuration.
func (l *Loader) Load() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks struct tags, then the simulation values. Failures are
// *engine.ConfigError.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			return &engine.ConfigError{Field: field, Message: describe(fe)}
		}
		return &engine.ConfigError{Message: err.Error()}
	}
	_, err := cfg.Engine(time.Now)
	return err
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "hostname_port":
		return fmt.Sprintf("must be host:port, got %v", fe.Value())
	}
	return fmt.Sprintf("failed %s check", fe.Tag())
}

// Engine converts the simulation block into an engine.Config. now supplies
// the start time for "now". A nil seed stays zero; callers pick a seed first.
func (c *Config) Engine(now func() time.Time) (engine.Config, error) {
	s := c.Simulation
	start, err := ParseStart(s.Start, now)
	if err != nil {
		return engine.Config{}, &engine.ConfigError{Field: "simulation.start", Message: err.Error()}
	}
	duration, err := ParseDuration(s.Duration)
	if err != nil {
		return engine.Config{}, &engine.ConfigError{Field: "simulation.duration", Message: err.Error()}
	}
	tick, err := ParseDuration(s.Tick)
	if err != nil {
		return engine.Config{}, &engine.ConfigError{Field: "simulation.tick", Message: err.Error()}
	}
	if tick <= 0 {
		return engine.Config{}, &engine.ConfigError{Field: "simulation.tick", Message: "must be positive"}
	}
	cfg := engine.Config{
		Start:       start,
		Duration:    duration,
		Tick:        tick,
		Concurrency: s.Concurrency,
		MaxSteps:    s.MaxSteps,
	}
	if s.Seed != nil {
		cfg.Seed = *s.Seed
	}
	return cfg, nil
}

// ParseDuration extends time.ParseDuration with a leading day count:
// "2d", "1d12h".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	var days time.Duration
	if i := strings.IndexByte(s, 'd'); i > 0 {
		n, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		days = time.Duration(n) * 24 * time.Hour
		s = s[i+1:]
		if s == "" {
			return days, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if days != 0 && d < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return days + d, nil
}

// ParseStart parses "now", RFC 3339 or a bare date (UTC midnight).
func ParseStart(s string, now func() time.Time) (time.Time, error) {
	switch s = strings.TrimSpace(s); s {
	case "", "now":
		return now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid start time %q: want RFC 3339, YYYY-MM-DD or now", s)
}
