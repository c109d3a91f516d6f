package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/flowsim/internal/compiler"
	"github.com/roach88/flowsim/internal/config"
	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/entity"
	"github.com/roach88/flowsim/internal/logging"
	"github.com/roach88/flowsim/internal/sink"
)

// Epoch is the start of a scenario whose definitions leave start at "now".
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness runs scenarios. Each run gets a fresh entity store and an
// in-memory sink, so scenarios never share state.
type Harness struct {
	logger   *slog.Logger
	observer engine.Observer
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithObserver adds an observer to every run.
func WithObserver(o engine.Observer) Option {
	return func(h *Harness) { h.observer = o }
}

// New returns a harness.
func New(opts ...Option) *Harness {
	h := &Harness{logger: logging.Discard()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with the default harness.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return New().Run(ctx, scenario)
}

// Run compiles the scenario's definitions, runs the simulation and evaluates
// the assertions. The error is non-nil only when the run could not complete;
// failed assertions are reported in the result.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	defs, _, err := compiler.LoadDir(scenario.Definitions)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}

	cfg, err := h.engineConfig(defs, scenario)
	if err != nil {
		return nil, err
	}

	store := entity.NewStore()
	mem := sink.NewMemory()
	opts := []engine.Option{engine.WithSink(mem), engine.WithLogger(h.logger)}
	if h.observer != nil {
		opts = append(opts, engine.WithObserver(h.observer))
	}
	eng, err := engine.New(cfg, store, defs.Schemas, defs.Templates, opts...)
	if err != nil {
		return nil, err
	}
	summary, err := eng.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", scenario.Name, err)
	}

	result := &Result{
		Pass:    true,
		Events:  mem.Events(),
		Summary: summary,
		Store:   store,
		Start:   cfg.Start,
		End:     cfg.Start.Add(cfg.Duration),
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// engineConfig layers the scenario's overrides over the definitions'
// simulation block and the built-in defaults.
func (h *Harness) engineConfig(defs *compiler.Definitions, scenario *Scenario) (engine.Config, error) {
	loader := config.NewLoader()
	for k, v := range defs.Simulation.Settings() {
		loader.SetDefault(k, v)
	}
	for k, v := range scenario.Simulation.Settings() {
		loader.Set(k, v)
	}
	cfg, err := loader.Load()
	if err != nil {
		return engine.Config{}, err
	}
	return cfg.Engine(func() time.Time { return Epoch })
}

// CheckDeterminism runs the scenario twice and reports the first event that
// differs between the two streams.
func (h *Harness) CheckDeterminism(ctx context.Context, scenario *Scenario) error {
	first, err := h.Run(ctx, scenario)
	if err != nil {
		return err
	}
	second, err := h.Run(ctx, scenario)
	if err != nil {
		return err
	}

	a, err := Lines(first)
	if err != nil {
		return err
	}
	b, err := Lines(second)
	if err != nil {
		return err
	}
	if len(a) != len(b) {
		return fmt.Errorf("%s: event count differs between runs: %d vs %d", scenario.Name, len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("%s: event %d differs between runs", scenario.Name, i)
		}
	}
	return nil
}
