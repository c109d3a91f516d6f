package flow

import (
	"fmt"
	"iter"
	"time"

	"github.com/roach88/flowsim/internal/value"
)

// Env is the read-only view of an instance a behavior starts with.
type Env interface {
	FlowID() string
	Now() time.Time
	Claimed(entityType string) (string, bool)
}

// Behavior creates a fresh task for each flow instance.
type Behavior interface {
	Start(env Env) Task
}

// Task yields a behavior's intents one at a time.
type Task interface {
	// Next returns the next intent. ok is false once the behavior has finished.
	Next() (in Intent, ok bool, err error)
	// Stop releases the task's resources. It is safe to call more than once.
	Stop()
}

// Steps is a behavior that yields a fixed list of intents in order.
type Steps []Intent

// Start implements Behavior.
func (s Steps) Start(Env) Task {
	return &stepTask{steps: s}
}

type stepTask struct {
	steps Steps
	pos   int
}

func (t *stepTask) Next() (Intent, bool, error) {
	if t.pos >= len(t.steps) {
		return nil, false, nil
	}
	in := t.steps[t.pos]
	t.pos++
	return in, true, nil
}

func (t *stepTask) Stop() {}

// StepBuilder assembles Steps.
type StepBuilder struct {
	steps Steps
}

// NewSteps starts an empty step list.
func NewSteps() *StepBuilder {
	return &StepBuilder{}
}

// EmitOption configures an Emit step.
type EmitOption func(*Emit)

// With overrides a generated field with an operand.
func With(field string, o Operand) EmitOption {
	return func(e *Emit) {
		if e.Overrides == nil {
			e.Overrides = make(map[string]Operand)
		}
		e.Overrides[field] = o
	}
}

// WithValue overrides a generated field with a constant.
func WithValue(field string, v value.Value) EmitOption {
	return With(field, Lit(v))
}

// Mutating attaches updates against the claimed entity of entityType.
func Mutating(entityType string, updates ...Update) EmitOption {
	return func(e *Emit) {
		e.Mutation = &Mutation{Entity: entityType, Updates: updates}
	}
}

// SavingAs registers a new entity of entityType from the emitted event.
func SavingAs(entityType string) EmitOption {
	return func(e *Emit) {
		e.SaveAs = entityType
	}
}

// Emit appends an Emit step.
func (b *StepBuilder) Emit(event string, opts ...EmitOption) *StepBuilder {
	e := Emit{Event: event}
	for _, opt := range opts {
		opt(&e)
	}
	b.steps = append(b.steps, e)
	return b
}

// Decay appends a Decay step.
func (b *StepBuilder) Decay(rate float64, d time.Duration) *StepBuilder {
	b.steps = append(b.steps, Decay{Rate: rate, Duration: d})
	return b
}

// Build validates and returns the step list.
func (b *StepBuilder) Build() (Steps, error) {
	for i, in := range b.steps {
		if err := Validate(in); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return append(Steps(nil), b.steps...), nil
}

// MustBuild is Build for static definitions. It panics on error.
func (b *StepBuilder) MustBuild() Steps {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

// Script is a behavior written as an iterator. The function runs once per
// instance and is suspended at every yield until the scheduler asks for the
// next intent. Yielding a non-nil error ends the instance as errored.
type Script func(env Env) iter.Seq2[Intent, error]

// Start implements Behavior.
func (s Script) Start(env Env) Task {
	next, stop := iter.Pull2(s(env))
	return &scriptTask{next: next, stop: stop}
}

type scriptTask struct {
	next func() (Intent, error, bool)
	stop func()
}

func (t *scriptTask) Next() (Intent, bool, error) {
	in, err, ok := t.next()
	if !ok {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return in, true, nil
}

func (t *scriptTask) Stop() { t.stop() }
