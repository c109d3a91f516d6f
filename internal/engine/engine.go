package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flowsim/internal/emit"
	"github.com/roach88/flowsim/internal/entity"
	"github.com/roach88/flowsim/internal/fake"
	"github.com/roach88/flowsim/internal/flow"
	"github.com/roach88/flowsim/internal/logging"
	"github.com/roach88/flowsim/internal/schema"
	"github.com/roach88/flowsim/internal/sink"
	"github.com/roach88/flowsim/internal/value"
)

const tracerName = "github.com/roach88/flowsim/internal/engine"

// maxSeedAttempts bounds retries when a generated seed entity id collides
// with an existing one.
const maxSeedAttempts = 100

// deliveryBuffer is the number of events that may wait for slow sinks before
// a step blocks.
const deliveryBuffer = 1024

// Config holds the simulation horizon and scheduling parameters.
type Config struct {
	Start    time.Time
	Duration time.Duration
	Tick     time.Duration
	// Concurrency is the number of instances drawn per tick.
	Concurrency int
	// Seed drives every random choice of the run.
	Seed uint64
	// MaxSteps bounds the intents one instance may yield. Zero means
	// DefaultMaxSteps; negative disables the quota.
	MaxSteps int
}

// Summary counts what a run did.
type Summary struct {
	Ticks            int
	Flows            int
	Events           int
	SkippedSlots     int
	MutationsSkipped int
	Terminations     map[Status]int
}

// Engine is the tick scheduler. It owns the global clock, draws flow
// instances per tick and interprets their intents against the entity store.
//
// Run is single-threaded: instances within a tick are stepped round-robin in
// instantiation order, one intent per instance per round. Given the same
// seed, definitions and store contents, two runs produce the same events.
type Engine struct {
	cfg       Config
	store     *entity.Store
	schemas   *schema.Registry
	templates []*flow.Template

	sinks    []sink.Sink
	out      *sink.Fanout
	queue    *sink.Queue
	gen      emit.ValueGenerator
	ids      IDGenerator
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer

	rng          *rand.Rand
	materializer *emit.Materializer
	seq          Counter
	summary      Summary
	ran          atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink adds an output sink. Every sink receives every event in emission
// order. The engine does not close sinks.
func WithSink(s sink.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sinks = append(e.sinks, s)
		}
	}
}

// WithValueGenerator replaces the default gofakeit-backed generator.
func WithValueGenerator(g emit.ValueGenerator) Option {
	return func(e *Engine) { e.gen = g }
}

// WithIDGenerator replaces the default seeded id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithObserver adds an observer. Observers are called in the order added.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = NewCompositeObserver(e.observer, o)
	}
}

// WithLogger sets the logger used for engine diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer for run and tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New validates the configuration and definitions and returns an Engine ready
// to Run. Invalid input is reported as a *ConfigError.
func New(cfg Config, store *entity.Store, schemas *schema.Registry, templates []*flow.Template, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, &ConfigError{Field: "store", Message: "entity store is required"}
	}
	if schemas == nil {
		return nil, &ConfigError{Field: "schemas", Message: "schema registry is required"}
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := schemas.Validate(); err != nil {
		return nil, &ConfigError{Field: "schemas", Message: err.Error()}
	}
	if err := validateTemplates(templates, schemas); err != nil {
		return nil, err
	}
	for _, et := range schemas.Entities() {
		if et.Initial < 0 {
			return nil, &ConfigError{Field: "entities." + et.Name + ".initial", Message: "must not be negative"}
		}
		if et.Initial == 0 {
			continue
		}
		if _, ok := schemas.Event(et.SourceEvent); !ok {
			return nil, &ConfigError{
				Field:   "entities." + et.Name + ".source_event",
				Message: fmt.Sprintf("seeding needs a known source event, got %q", et.SourceEvent),
			}
		}
	}

	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		schemas:   schemas,
		templates: templates,
		observer:  NoopObserver{},
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		summary:   Summary{Terminations: make(map[Status]int)},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.gen == nil {
		e.gen = fake.New(cfg.Seed)
	}
	if e.ids == nil {
		e.ids = NewSeededGenerator(cfg.Seed)
	}
	e.out = sink.NewFanout(e.logger, e.sinks...)
	e.materializer = emit.NewMaterializer(schemas, e.gen, e.ids.EventID)
	return e, nil
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Start.IsZero():
		return &ConfigError{Field: "start", Message: "start time is required"}
	case cfg.Tick <= 0:
		return &ConfigError{Field: "tick", Message: "must be positive"}
	case cfg.Duration < 0:
		return &ConfigError{Field: "duration", Message: "must not be negative"}
	case cfg.Concurrency < 0:
		return &ConfigError{Field: "concurrency", Message: "must not be negative"}
	}
	return nil
}

func validateTemplates(templates []*flow.Template, schemas *schema.Registry) error {
	if len(templates) == 0 {
		return &ConfigError{Field: "flows", Message: "at least one flow template is required"}
	}
	seen := make(map[string]bool, len(templates))
	for i, t := range templates {
		if t == nil {
			return &ConfigError{Field: fmt.Sprintf("flows[%d]", i), Message: "template is nil"}
		}
		if err := t.Validate(); err != nil {
			return &ConfigError{Field: fmt.Sprintf("flows[%d]", i), Message: err.Error()}
		}
		if seen[t.Name] {
			return &ConfigError{Field: "flows." + t.Name, Message: "duplicate template name"}
		}
		seen[t.Name] = true
		if t.Filter != nil {
			if _, ok := schemas.Entity(t.Filter.Entity); !ok {
				return &ConfigError{
					Field:   "flows." + t.Name + ".filter",
					Message: fmt.Sprintf("unknown entity type %q", t.Filter.Entity),
				}
			}
		}
		if steps, ok := t.Behavior.(flow.Steps); ok {
			for j, in := range steps {
				if err := checkIntent(in, schemas); err != nil {
					return &ConfigError{Field: fmt.Sprintf("flows.%s.steps[%d]", t.Name, j), Message: err.Error()}
				}
			}
		}
	}
	return nil
}

// checkIntent resolves the schema names an intent refers to. Step lists are
// checked up front; scripts yield intents lazily and are checked as they run.
func checkIntent(in flow.Intent, schemas *schema.Registry) error {
	if err := flow.Validate(in); err != nil {
		return err
	}
	em, ok := in.(flow.Emit)
	if !ok {
		return nil
	}
	if _, ok := schemas.Event(em.Event); !ok {
		return fmt.Errorf("unknown event schema %q", em.Event)
	}
	if em.SaveAs != "" {
		if _, ok := schemas.Entity(em.SaveAs); !ok {
			return fmt.Errorf("save as unknown entity type %q", em.SaveAs)
		}
	}
	if em.Mutation != nil {
		if _, ok := schemas.Entity(em.Mutation.Entity); !ok {
			return fmt.Errorf("mutation of unknown entity type %q", em.Mutation.Entity)
		}
	}
	return nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run seeds initial entities and executes every tick up to the horizon.
// Cancellation of ctx is checked between ticks. A store invariant violation
// aborts the run; behavior failures only end their instance.
//
// An Engine runs once.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if !e.ran.CompareAndSwap(false, true) {
		return Summary{}, errors.New("engine has already run")
	}

	ctx, span := e.tracer.Start(ctx, "flowsim.run", trace.WithAttributes(
		attribute.Int64("flowsim.seed", int64(e.cfg.Seed)),
		attribute.Int("flowsim.concurrency", e.cfg.Concurrency),
		attribute.String("flowsim.tick", e.cfg.Tick.String()),
		attribute.String("flowsim.duration", e.cfg.Duration.String()),
	))
	defer span.End()

	e.observer.OnRunStart(ctx, e.cfg)
	e.queue = sink.NewQueue(ctx, e.out, deliveryBuffer)
	err := e.run(ctx)
	e.queue.Drain()
	sum := e.Summary()

	span.SetAttributes(
		attribute.Int("flowsim.ticks", sum.Ticks),
		attribute.Int("flowsim.flows", sum.Flows),
		attribute.Int("flowsim.events", sum.Events),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.observer.OnRunEnd(ctx, sum, err)
	return sum, err
}

func (e *Engine) run(ctx context.Context) error {
	if err := e.seed(); err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}
	clock := NewGlobalClock(e.cfg.Start, e.cfg.Duration, e.cfg.Tick)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("simulation cancelled at %s: %w", clock.Now().UTC().Format(time.RFC3339Nano), err)
		}
		w, ok := clock.Next()
		if !ok {
			return nil
		}
		if err := e.tick(ctx, w); err != nil {
			return err
		}
	}
}

// Summary returns a copy of the run counters.
func (e *Engine) Summary() Summary {
	out := e.summary
	out.Terminations = make(map[Status]int, len(e.summary.Terminations))
	for k, v := range e.summary.Terminations {
		out.Terminations[k] = v
	}
	return out
}

// seed registers the initial entities of every entity type at the start
// time. Seeding emits no events.
func (e *Engine) seed() error {
	for _, et := range e.schemas.Entities() {
		if et.Initial == 0 {
			continue
		}
		src, _ := e.schemas.Event(et.SourceEvent)
		for n := 0; n < et.Initial; n++ {
			if err := e.seedOne(et, src); err != nil {
				return err
			}
		}
		e.logger.Debug("entities seeded",
			slog.String("entity_type", et.Name),
			slog.Int("count", et.Initial))
	}
	return nil
}

func (e *Engine) seedOne(et *schema.EntityType, src *schema.Event) error {
	for attempt := 0; attempt < maxSeedAttempts; attempt++ {
		data := make(value.Object, len(src.Fields))
		for _, f := range src.Fields {
			if v, ok := e.gen.Generate(f, e.cfg.Start); ok && v != nil {
				data[f.Name] = v
			}
		}
		id, fields, err := et.Derive(data)
		if err != nil {
			return err
		}
		err = e.store.Register(et.Name, id, fields, e.cfg.Start)
		if errors.Is(err, entity.ErrDuplicateEntity) {
			continue
		}
		return err
	}
	return fmt.Errorf("entity %s: no unique id after %d attempts", et.Name, maxSeedAttempts)
}

// tick draws and runs the instances of one window.
func (e *Engine) tick(ctx context.Context, w Window) error {
	ctx, span := e.tracer.Start(ctx, "flowsim.tick", trace.WithAttributes(
		attribute.String("flowsim.tick_start", w.Start.UTC().Format(time.RFC3339Nano)),
	))
	defer span.End()

	instances := make([]*Instance, 0, e.cfg.Concurrency)
	for slot := 0; slot < e.cfg.Concurrency; slot++ {
		eligible := e.eligible(w.Start)
		if len(eligible) == 0 {
			e.summary.SkippedSlots++
			e.observer.OnSlotSkipped(ctx, w)
			continue
		}
		inst, err := e.instantiate(ctx, e.draw(eligible), w)
		if err != nil {
			span.RecordError(err)
			return err
		}
		instances = append(instances, inst)
	}

	for running := len(instances); running > 0; {
		running = 0
		for _, inst := range instances {
			if inst.Status.Terminal() {
				continue
			}
			if err := e.step(ctx, inst, w); err != nil {
				span.RecordError(err)
				return err
			}
			if !inst.Status.Terminal() {
				running++
			}
		}
	}

	e.summary.Ticks++
	span.SetAttributes(attribute.Int("flowsim.flows", len(instances)))
	e.observer.OnTick(ctx, w, len(instances))
	return nil
}

// eligible returns the templates that can start at t, in definition order.
func (e *Engine) eligible(t time.Time) []*flow.Template {
	out := make([]*flow.Template, 0, len(e.templates))
	for _, tmpl := range e.templates {
		if tmpl.Filter == nil || len(e.store.QueryAvailable(tmpl.Filter.Entity, tmpl.Filter.Where, t)) > 0 {
			out = append(out, tmpl)
		}
	}
	return out
}

// draw picks a template with probability proportional to its weight.
func (e *Engine) draw(templates []*flow.Template) *flow.Template {
	var total float64
	for _, t := range templates {
		total += t.Weight
	}
	u := e.rng.Float64() * total
	for _, t := range templates {
		if u < t.Weight {
			return t
		}
		u -= t.Weight
	}
	return templates[len(templates)-1]
}

// instantiate starts an instance of tmpl inside w and claims its filtered
// entity.
func (e *Engine) instantiate(ctx context.Context, tmpl *flow.Template, w Window) (*Instance, error) {
	start := w.Start
	if n := int64(w.Len()); n > 0 {
		start = start.Add(time.Duration(e.rng.Int64N(n)))
	}
	inst := &Instance{
		ID:       e.ids.FlowID(),
		Seq:      e.seq.Next(),
		Template: tmpl,
		Start:    start,
		Clock:    start,
		claims:   make(map[string]string),
		store:    e.store,
		quota:    stepQuota{limit: e.cfg.MaxSteps},
	}
	e.summary.Flows++

	if f := tmpl.Filter; f != nil {
		candidates := e.store.QueryAvailable(f.Entity, f.Where, w.Start)
		if len(candidates) == 0 {
			return nil, fmt.Errorf("template %s: no available %s entity", tmpl.Name, f.Entity)
		}
		id := candidates[e.rng.IntN(len(candidates))]
		if err := e.write(inst, f.Entity, id, []entity.Update{entity.Claim(inst.ID)}); err != nil {
			return nil, fmt.Errorf("flow %s: claim %s/%s: %w", inst.ID, f.Entity, id, err)
		}
		inst.claims[f.Entity] = id
	}

	e.observer.OnFlowStart(ctx, inst)
	task, err := startBehavior(tmpl.Behavior, inst)
	if err != nil {
		return inst, e.fail(ctx, inst, ErrCodeBehavior, err)
	}
	inst.task = task
	return inst, nil
}

func startBehavior(b flow.Behavior, env flow.Env) (task flow.Task, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("behavior panicked on start: %v", r)
		}
	}()
	return b.Start(env), nil
}

func nextIntent(task flow.Task) (in flow.Intent, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			in, ok, err = nil, false, fmt.Errorf("behavior panicked: %v", r)
		}
	}()
	return task.Next()
}

// step interprets one intent of inst. The returned error is fatal to the run.
func (e *Engine) step(ctx context.Context, inst *Instance, w Window) error {
	in, ok, err := nextIntent(inst.task)
	if err != nil {
		return e.fail(ctx, inst, ErrCodeBehavior, err)
	}
	if !ok {
		return e.terminate(ctx, inst, StatusCompleted)
	}
	if err := inst.quota.check(); err != nil {
		return e.fail(ctx, inst, ErrCodeStepsExceeded, err)
	}
	if err := checkIntent(in, e.schemas); err != nil {
		return e.fail(ctx, inst, ErrCodeBehavior, err)
	}
	e.logger.Log(ctx, logging.LevelTrace, "intent",
		slog.String("flow_id", inst.ID),
		slog.String("intent", fmt.Sprintf("%T", in)),
		slog.Time("local_clock", inst.Clock))

	switch it := in.(type) {
	case flow.Emit:
		failed, err := e.emit(ctx, inst, it)
		if err != nil || failed {
			return err
		}
	case flow.Decay:
		inst.Clock = inst.Clock.Add(it.Duration)
		if e.rng.Float64() < it.Rate {
			return e.terminate(ctx, inst, StatusDecayed)
		}
	}

	if inst.Clock.After(w.End) {
		return e.terminate(ctx, inst, StatusBoundaryExceeded)
	}
	return nil
}

// emit materializes and delivers one event. failed reports that the instance
// ended as errored; err is fatal to the run.
func (e *Engine) emit(ctx context.Context, inst *Instance, in flow.Emit) (failed bool, err error) {
	ev, err := e.materializer.Materialize(in, inst)
	if err != nil {
		return true, e.fail(ctx, inst, ErrCodeMaterialize, err)
	}

	if in.SaveAs != "" {
		saveErr, err := e.save(inst, in.SaveAs, ev)
		if err != nil {
			return true, err
		}
		if saveErr != nil {
			return true, e.fail(ctx, inst, ErrCodeSaveEntity, saveErr)
		}
	}

	if m := in.Mutation; m != nil {
		if id, ok := inst.claims[m.Entity]; ok {
			scope := emit.Scope(inst, ev)
			updates := make([]entity.Update, 0, len(m.Updates))
			for _, u := range m.Updates {
				v, err := u.Operand.Resolve(scope)
				if err != nil {
					return true, e.fail(ctx, inst, ErrCodeMaterialize, fmt.Errorf("mutate %s.%s: %w", m.Entity, u.Field, err))
				}
				updates = append(updates, entity.Update{Field: u.Field, Op: u.Op, Value: v})
			}
			if err := e.write(inst, m.Entity, id, updates); err != nil {
				if errors.Is(err, entity.ErrInvalidUpdate) {
					return true, e.fail(ctx, inst, ErrCodeMutate, fmt.Errorf("mutate %s/%s: %w", m.Entity, id, err))
				}
				return true, fmt.Errorf("flow %s: mutate %s/%s: %w", inst.ID, m.Entity, id, err)
			}
		} else {
			e.summary.MutationsSkipped++
			e.observer.OnMutationSkipped(ctx, inst, m.Entity)
		}
	}

	// Fanout logs and counts sink failures itself.
	_ = e.queue.Deliver(ctx, ev)
	e.summary.Events++
	e.observer.OnEvent(ctx, inst, ev)
	return false, nil
}

// save registers the entity derived from ev, already claimed by inst.
// A non-nil saveErr ends the instance; err is fatal.
func (e *Engine) save(inst *Instance, typ string, ev emit.Event) (saveErr, err error) {
	et, _ := e.schemas.Entity(typ)
	if held, ok := inst.claims[typ]; ok {
		return fmt.Errorf("flow already holds %s entity %s", typ, held), nil
	}
	id, fields, err := et.Derive(ev.Payload())
	if err != nil {
		return err, nil
	}
	fields[entity.ClaimField] = value.String(inst.ID)
	if err := e.store.Register(typ, id, fields, inst.Clock); err != nil {
		if errors.Is(err, entity.ErrDuplicateEntity) {
			return err, nil
		}
		return nil, fmt.Errorf("flow %s: register %s/%s: %w", inst.ID, typ, id, err)
	}
	inst.claims[typ] = id
	return nil, nil
}

// write applies updates at the instance's local clock. A write landing on the
// instant of the entity's latest version moves one nanosecond later and the
// local clock follows it.
func (e *Engine) write(inst *Instance, typ, id string, updates []entity.Update) error {
	t := inst.Clock
	if latest, ok := e.store.Latest(typ, id); ok && latest.Equal(t) {
		t = t.Add(time.Nanosecond)
		inst.Clock = t
	}
	return e.store.Mutate(typ, id, updates, t)
}

// terminate ends inst and releases its claims in entity type order.
func (e *Engine) terminate(ctx context.Context, inst *Instance, status Status) error {
	inst.Status = status
	if inst.task != nil {
		inst.task.Stop()
	}
	for _, typ := range inst.claimedTypes() {
		id := inst.claims[typ]
		if err := e.write(inst, typ, id, []entity.Update{entity.Release()}); err != nil {
			return fmt.Errorf("flow %s: release %s/%s: %w", inst.ID, typ, id, err)
		}
		delete(inst.claims, typ)
	}
	e.summary.Terminations[status]++
	e.observer.OnFlowEnd(ctx, inst)
	return nil
}

func (e *Engine) fail(ctx context.Context, inst *Instance, code FlowErrorCode, err error) error {
	inst.Err = newFlowError(code, inst, err)
	return e.terminate(ctx, inst, StatusErrored)
}
