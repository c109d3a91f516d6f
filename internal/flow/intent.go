package flow

import (
	"fmt"
	"time"

	"github.com/roach88/flowsim/internal/entity"
)

// Intent is a sealed interface over the instructions a behavior yields.
type Intent interface {
	intent()
}

// Emit asks the scheduler to materialize and deliver one event.
type Emit struct {
	// Event names the event schema.
	Event string
	// Overrides replace generated field values.
	Overrides map[string]Operand
	// Mutation updates the claimed entity of Mutation.Entity, if any.
	Mutation *Mutation
	// SaveAs registers a new entity of this type derived from the event
	// and attaches it to the instance.
	SaveAs string
}

func (Emit) intent() {}

// Decay advances the local clock by Duration, then ends the flow with
// probability Rate.
type Decay struct {
	Rate     float64
	Duration time.Duration
}

func (Decay) intent() {}

// Mutation is a set of ordered updates against one claimed entity.
type Mutation struct {
	Entity  string
	Updates []Update
}

// Update is a field update whose operand is resolved at emit time.
type Update struct {
	Field   string
	Op      entity.Op
	Operand Operand
}

// Set assigns the operand to field.
func Set(field string, o Operand) Update { return Update{Field: field, Op: entity.OpSet, Operand: o} }

// Add adds the operand to field.
func Add(field string, o Operand) Update { return Update{Field: field, Op: entity.OpAdd, Operand: o} }

// Subtract subtracts the operand from field.
func Subtract(field string, o Operand) Update {
	return Update{Field: field, Op: entity.OpSubtract, Operand: o}
}

// Validate checks an intent for values the scheduler cannot interpret.
func Validate(in Intent) error {
	switch it := in.(type) {
	case Emit:
		if it.Event == "" {
			return fmt.Errorf("emit: event name is empty")
		}
		if it.Mutation != nil {
			if it.Mutation.Entity == "" {
				return fmt.Errorf("emit %s: mutation has no entity type", it.Event)
			}
			for _, u := range it.Mutation.Updates {
				if u.Field == "" {
					return fmt.Errorf("emit %s: update with empty field", it.Event)
				}
				if _, err := entity.ParseOp(string(u.Op)); err != nil {
					return fmt.Errorf("emit %s: %w", it.Event, err)
				}
			}
		}
	case Decay:
		if !(it.Rate >= 0 && it.Rate <= 1) {
			return fmt.Errorf("decay rate %v outside [0, 1]", it.Rate)
		}
		if it.Duration < 0 {
			return fmt.Errorf("decay duration %s is negative", it.Duration)
		}
	case nil:
		return fmt.Errorf("nil intent")
	default:
		return fmt.Errorf("unknown intent %T", in)
	}
	return nil
}
