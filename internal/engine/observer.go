package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/flowsim/internal/emit"
)

// Observer receives scheduler callbacks for logging and metrics. Callbacks
// run on the scheduler goroutine and must not block.
type Observer interface {
	OnRunStart(ctx context.Context, cfg Config)
	OnTick(ctx context.Context, w Window, started int)
	OnSlotSkipped(ctx context.Context, w Window)
	OnFlowStart(ctx context.Context, inst *Instance)
	OnFlowEnd(ctx context.Context, inst *Instance)
	OnEvent(ctx context.Context, inst *Instance, ev emit.Event)
	OnMutationSkipped(ctx context.Context, inst *Instance, entityType string)
	OnRunEnd(ctx context.Context, sum Summary, err error)
}

// NoopObserver ignores every callback.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(context.Context, Config)                    {}
func (NoopObserver) OnTick(context.Context, Window, int)                   {}
func (NoopObserver) OnSlotSkipped(context.Context, Window)                 {}
func (NoopObserver) OnFlowStart(context.Context, *Instance)                {}
func (NoopObserver) OnFlowEnd(context.Context, *Instance)                  {}
func (NoopObserver) OnEvent(context.Context, *Instance, emit.Event)        {}
func (NoopObserver) OnMutationSkipped(context.Context, *Instance, string) {}
func (NoopObserver) OnRunEnd(context.Context, Summary, error)              {}

// CompositeObserver forwards callbacks to several observers in order.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver combines the non-nil observers in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	switch len(filtered) {
	case 0:
		return NoopObserver{}
	case 1:
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, cfg Config) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, cfg)
	}
}

func (c *CompositeObserver) OnTick(ctx context.Context, w Window, started int) {
	for _, o := range c.observers {
		o.OnTick(ctx, w, started)
	}
}

func (c *CompositeObserver) OnSlotSkipped(ctx context.Context, w Window) {
	for _, o := range c.observers {
		o.OnSlotSkipped(ctx, w)
	}
}

func (c *CompositeObserver) OnFlowStart(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnFlowStart(ctx, inst)
	}
}

func (c *CompositeObserver) OnFlowEnd(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnFlowEnd(ctx, inst)
	}
}

func (c *CompositeObserver) OnEvent(ctx context.Context, inst *Instance, ev emit.Event) {
	for _, o := range c.observers {
		o.OnEvent(ctx, inst, ev)
	}
}

func (c *CompositeObserver) OnMutationSkipped(ctx context.Context, inst *Instance, entityType string) {
	for _, o := range c.observers {
		o.OnMutationSkipped(ctx, inst, entityType)
	}
}

func (c *CompositeObserver) OnRunEnd(ctx context.Context, sum Summary, err error) {
	for _, o := range c.observers {
		o.OnRunEnd(ctx, sum, err)
	}
}

// LoggingObserver writes scheduler lifecycle logs with slog. Per-flow and
// per-event records are logged at debug level.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver returns a LoggingObserver. A nil logger uses slog.Default().
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, cfg Config) {
	o.Logger.InfoContext(ctx, "simulation starting",
		slog.Time("start", cfg.Start),
		slog.Duration("duration", cfg.Duration),
		slog.Duration("tick", cfg.Tick),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Uint64("seed", cfg.Seed))
}

func (o *LoggingObserver) OnTick(ctx context.Context, w Window, started int) {
	o.Logger.DebugContext(ctx, "tick complete",
		slog.Time("tick_start", w.Start),
		slog.Int("flows", started))
}

func (o *LoggingObserver) OnSlotSkipped(ctx context.Context, w Window) {
	o.Logger.DebugContext(ctx, "no eligible flow", slog.Time("tick_start", w.Start))
}

func (o *LoggingObserver) OnFlowStart(ctx context.Context, inst *Instance) {
	o.Logger.DebugContext(ctx, "flow started",
		slog.String("flow_id", inst.ID),
		slog.String("template", inst.Template.Name),
		slog.Time("local_clock", inst.Clock),
		slog.Any("claims", inst.claims))
}

func (o *LoggingObserver) OnFlowEnd(ctx context.Context, inst *Instance) {
	if inst.Status == StatusErrored {
		o.Logger.ErrorContext(ctx, "flow errored",
			slog.String("flow_id", inst.ID),
			slog.String("template", inst.Template.Name),
			slog.Any("error", inst.Err))
		return
	}
	o.Logger.DebugContext(ctx, "flow terminated",
		slog.String("flow_id", inst.ID),
		slog.String("template", inst.Template.Name),
		slog.String("status", inst.Status.String()),
		slog.Int("steps", inst.Steps()),
		slog.Time("local_clock", inst.Clock))
}

func (o *LoggingObserver) OnEvent(ctx context.Context, inst *Instance, ev emit.Event) {
	o.Logger.DebugContext(ctx, "event emitted",
		slog.String("flow_id", inst.ID),
		slog.String("event_type", ev.Type),
		slog.String("event_id", ev.ID))
}

func (o *LoggingObserver) OnMutationSkipped(ctx context.Context, inst *Instance, entityType string) {
	o.Logger.DebugContext(ctx, "mutation target not claimed",
		slog.String("flow_id", inst.ID),
		slog.String("entity_type", entityType))
}

func (o *LoggingObserver) OnRunEnd(ctx context.Context, sum Summary, err error) {
	attrs := []any{
		slog.Int("ticks", sum.Ticks),
		slog.Int("flows", sum.Flows),
		slog.Int("events", sum.Events),
		slog.Int("skipped_slots", sum.SkippedSlots),
	}
	for _, st := range Statuses {
		attrs = append(attrs, slog.Int(st.String(), sum.Terminations[st]))
	}
	if err != nil {
		o.Logger.ErrorContext(ctx, "simulation aborted", append(attrs, slog.Any("error", err))...)
		return
	}
	o.Logger.InfoContext(ctx, "simulation finished", attrs...)
}
