package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/flowsim/internal/config"
	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/entity"
	"github.com/roach88/flowsim/internal/history"
	"github.com/roach88/flowsim/internal/logging"
	"github.com/roach88/flowsim/internal/metrics"
	"github.com/roach88/flowsim/internal/sink"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile string
	Seed       uint64

	// Now resolves a "now" start. Defaults to time.Now.
	Now func() time.Time
	// Registry receives the run metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry
}

// RunResult summarizes a finished run.
type RunResult struct {
	Seed             uint64         `json:"seed"`
	Start            time.Time      `json:"start"`
	End              time.Time      `json:"end"`
	Ticks            int            `json:"ticks"`
	Flows            int            `json:"flows"`
	Events           int            `json:"events"`
	SkippedSlots     int            `json:"skipped_slots"`
	MutationsSkipped int            `json:"mutations_skipped"`
	Terminations     map[string]int `json:"terminations"`
	Cancelled        bool           `json:"cancelled,omitempty"`
	HistoryRun       int64          `json:"history_run,omitempty"`
}

// runFlags maps flag names to configuration keys.
var runFlags = map[string]string{
	"start":        "simulation.start",
	"duration":     "simulation.duration",
	"tick":         "simulation.tick",
	"concurrency":  "simulation.concurrency",
	"max-steps":    "simulation.max_steps",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"metrics-addr": "metrics.addr",
	"history":      "history.path",
	"rate":         "throttle.events_per_second",
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [defs-dir]",
		Short: "Run a simulation and stream its events",
		Long: `Run a simulation over the definitions in defs-dir (or the definitions
key of the config file) and deliver every event to the configured outputs.
Without outputs, events are written to stdout as JSON lines.

Settings are layered: built-in defaults, the definitions' simulation block,
the config file, FLOWSIM_ environment variables, then flags.

Example:
  flowsim run ./defs --seed 7 --duration 1h
  flowsim run --config flowsim.yaml --history history.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(opts, args, cmd)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&opts.ConfigFile, "config", "c", "", "path to a YAML run configuration")
	fl.Uint64Var(&opts.Seed, "seed", 0, "random seed (default: chosen at random and logged)")
	fl.String("start", "", "simulation start: RFC 3339, YYYY-MM-DD or now")
	fl.String("duration", "", "simulation horizon, e.g. 1h or 2d")
	fl.String("tick", "", "tick length, e.g. 1s")
	fl.Int("concurrency", 0, "flow instances started per tick")
	fl.Int("max-steps", 0, "step limit per flow instance")
	fl.String("log-level", "", "log level (trace|debug|info|warn|error)")
	fl.String("log-format", "", "log format (text|json)")
	fl.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fl.String("history", "", "export entity history to this SQLite file")
	fl.Float64("rate", 0, "maximum events per second delivered to outputs")

	return cmd
}

func runSimulation(opts *RunOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loader, err := newRunLoader(opts, args, cmd)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
	}
	defsDir := loader.Definitions()
	if defsDir == "" {
		return f.fail(ExitCommandError, ErrCodeNotFound, "no definitions directory: pass defs-dir or set definitions in the config", nil)
	}

	defs, files, err := LoadDefinitions(defsDir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return f.fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return f.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	for k, v := range defs.Simulation.Settings() {
		loader.SetDefault(k, v)
	}

	cfg, err := loader.Load()
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	if cfg.Simulation.Seed == nil {
		seed := rand.Uint64()
		cfg.Simulation.Seed = &seed
	}

	level := cfg.Logging.Level
	if opts.Verbose && level == "info" {
		level = "debug"
	}
	logger, err := logging.New(cmd.ErrOrStderr(), logging.Options{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	logger.Info("definitions compiled",
		"dir", defsDir,
		"files", files,
		"flows", len(defs.Templates),
		"entities", len(defs.Schemas.Entities()))

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ecfg, err := cfg.Engine(now)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	logger.Info("simulation configured",
		"seed", ecfg.Seed,
		"start", ecfg.Start.Format(time.RFC3339),
		"duration", ecfg.Duration.String(),
		"tick", ecfg.Tick.String(),
		"concurrency", ecfg.Concurrency)

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	specs := cfg.Outputs
	if len(specs) == 0 {
		specs = []sink.Spec{{Kind: sink.KindStdout}}
	}
	sinks, err := sink.OpenAll(ctx, specs, cmd.OutOrStdout())
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeOutput, err.Error(), nil)
	}
	defer closeSinks(sinks, logger)

	store := entity.NewStore()
	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithObserver(engine.NewLoggingObserver(logger)),
	}
	for _, s := range sinks {
		if cfg.Throttle.EventsPerSecond > 0 {
			s = sink.Throttle(s, cfg.Throttle.EventsPerSecond, cfg.Throttle.Burst)
		}
		engOpts = append(engOpts, engine.WithSink(s))
	}

	var metricsDone chan error
	if cfg.Metrics.Addr != "" {
		reg := opts.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		engOpts = append(engOpts, engine.WithObserver(metrics.NewObserver(reg)))
		metricsDone = make(chan error, 1)
		go func() { metricsDone <- metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger) }()
	}

	eng, err := engine.New(ecfg, store, defs.Schemas, defs.Templates, engOpts...)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	summary, runErr := eng.Run(ctx)
	cancelled := runErr != nil && errors.Is(runErr, context.Canceled)
	if runErr != nil && !cancelled {
		return f.fail(ExitFailure, ErrCodeRun, runErr.Error(), nil)
	}

	result := newRunResult(ecfg, summary)
	result.Cancelled = cancelled

	if cfg.History.Path != "" {
		run, err := exportHistory(cfg.History.Path, store, ecfg, logger)
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeHistory, err.Error(), nil)
		}
		result.HistoryRun = run
	}

	cancel()
	if metricsDone != nil {
		if err := <-metricsDone; err != nil {
			logger.Warn("metrics endpoint failed", "error", err)
		}
	}

	// Events may already be on stdout; keep the summary apart from them.
	out := cmd.OutOrStdout()
	for _, spec := range specs {
		if spec.Kind == sink.KindStdout {
			out = cmd.ErrOrStderr()
		}
	}
	return outputRunResult(newFormatter(opts.RootOptions, out, cmd.ErrOrStderr()), result)
}

func newRunLoader(opts *RunOptions, args []string, cmd *cobra.Command) (*config.Loader, error) {
	loader := config.NewLoader()
	if opts.ConfigFile != "" {
		if err := loader.ReadFile(opts.ConfigFile); err != nil {
			return nil, err
		}
	}
	for name, key := range runFlags {
		if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, err
		}
	}
	// An unset seed flag must not read as seed 0.
	if cmd.Flags().Changed("seed") {
		loader.Set("simulation.seed", opts.Seed)
	}
	if len(args) == 1 {
		loader.Set("definitions", args[0])
	}
	return loader, nil
}

// signalContext cancels on SIGINT or SIGTERM. The engine checks for
// cancellation between ticks.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping simulation", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func closeSinks(sinks []sink.Sink, logger *slog.Logger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Error("error closing output", "sink", s.Name(), "error", err)
		}
	}
}

// exportHistory writes the entity history after the run. It does not use the
// run context: a cancelled run still records what it simulated.
func exportHistory(path string, store *entity.Store, cfg engine.Config, logger *slog.Logger) (int64, error) {
	hs, err := history.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := hs.Close(); err != nil {
			logger.Error("error closing history database", "error", err)
		}
	}()

	run, err := hs.Export(context.Background(), store, history.Run{
		Seed:  cfg.Seed,
		Start: cfg.Start,
		End:   cfg.Start.Add(cfg.Duration),
	})
	if err != nil {
		return 0, fmt.Errorf("export history: %w", err)
	}
	logger.Info("entity history exported", "path", path, "run", run)
	return run, nil
}

func newRunResult(cfg engine.Config, sum engine.Summary) RunResult {
	r := RunResult{
		Seed:             cfg.Seed,
		Start:            cfg.Start,
		End:              cfg.Start.Add(cfg.Duration),
		Ticks:            sum.Ticks,
		Flows:            sum.Flows,
		Events:           sum.Events,
		SkippedSlots:     sum.SkippedSlots,
		MutationsSkipped: sum.MutationsSkipped,
		Terminations:     make(map[string]int, len(sum.Terminations)),
	}
	for status, n := range sum.Terminations {
		r.Terminations[status.String()] = n
	}
	return r
}

func outputRunResult(f *OutputFormatter, r RunResult) error {
	if f.JSON() {
		return f.Success(r)
	}
	w := f.Writer
	if r.Cancelled {
		fmt.Fprintln(w, "Simulation cancelled.")
	}
	fmt.Fprintf(w, "Simulated %s to %s (seed %d)\n",
		r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), r.Seed)
	fmt.Fprintf(w, "  ticks: %d  flows: %d  events: %d  skipped slots: %d\n",
		r.Ticks, r.Flows, r.Events, r.SkippedSlots)
	writeTerminations(w, r.Terminations)
	if r.HistoryRun != 0 {
		fmt.Fprintf(w, "  history run: %d\n", r.HistoryRun)
	}
	return nil
}

func writeTerminations(w io.Writer, terms map[string]int) {
	names := make([]string, 0, len(terms))
	for name := range terms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", name, terms[name])
	}
}
