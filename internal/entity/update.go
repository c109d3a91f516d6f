package entity

import (
	"fmt"

	"github.com/roach88/flowsim/internal/value"
)

// Op is a field update operation.
type Op string

const (
	OpSet      Op = "set"
	OpAdd      Op = "add"
	OpSubtract Op = "subtract"
)

// ParseOp validates an op name.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpSet, OpAdd, OpSubtract:
		return op, nil
	default:
		return "", fmt.Errorf("unknown update op %q (want set, add or subtract)", s)
	}
}

// Update is one (field, op, value) change applied by Mutate.
type Update struct {
	Field string
	Op    Op
	Value value.Value
}

// Set returns an update assigning v to field.
func Set(field string, v value.Value) Update { return Update{Field: field, Op: OpSet, Value: v} }

// Add returns an update adding v to field. A missing field counts as zero.
func Add(field string, v value.Value) Update { return Update{Field: field, Op: OpAdd, Value: v} }

// Subtract returns an update subtracting v from field. A missing field counts as zero.
func Subtract(field string, v value.Value) Update {
	return Update{Field: field, Op: OpSubtract, Value: v}
}

// Claim returns the update assigning the entity to a flow instance.
func Claim(flowID string) Update { return Set(ClaimField, value.String(flowID)) }

// Release returns the update making the entity available again.
func Release() Update { return Set(ClaimField, value.Null{}) }

func (u Update) apply(current value.Value) (value.Value, error) {
	switch u.Op {
	case OpSet:
		if u.Value == nil {
			return value.Null{}, nil
		}
		return u.Value, nil
	case OpAdd:
		v, err := value.Add(current, u.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", u.Field, err)
		}
		return v, nil
	case OpSubtract:
		v, err := value.Subtract(current, u.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", u.Field, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("field %s: unknown op %q", u.Field, u.Op)
	}
}
