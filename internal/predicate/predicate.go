package predicate

import (
	"fmt"
	"strings"

	"github.com/roach88/flowsim/internal/value"
)

// Predicate is a sealed interface over the supported condition kinds.
type Predicate interface {
	predicateNode()
}

// Equals holds when the field equals Value.
type Equals struct {
	Field string
	Value value.Value
}

func (Equals) predicateNode() {}

// NotEquals holds when the field does not equal Value.
type NotEquals struct {
	Field string
	Value value.Value
}

func (NotEquals) predicateNode() {}

// GreaterThan holds when the field orders strictly after Value.
type GreaterThan struct {
	Field string
	Value value.Value
}

func (GreaterThan) predicateNode() {}

// LessThan holds when the field orders strictly before Value.
type LessThan struct {
	Field string
	Value value.Value
}

func (LessThan) predicateNode() {}

// In holds when the field equals any of Values.
type In struct {
	Field  string
	Values []value.Value
}

func (In) predicateNode() {}

// And holds when all Predicates hold.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// All builds a conjunction, collapsing the zero and one element cases.
func All(preds ...Predicate) Predicate {
	switch len(preds) {
	case 0:
		return And{}
	case 1:
		return preds[0]
	default:
		return And{Predicates: preds}
	}
}

// Match evaluates p against a set of fields. A nil predicate matches everything.
func Match(p Predicate, fields value.Object) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case Equals:
		return value.Equal(fields.Get(pred.Field), pred.Value)
	case NotEquals:
		return !value.Equal(fields.Get(pred.Field), pred.Value)
	case GreaterThan:
		c, ok := value.Compare(fields.Get(pred.Field), pred.Value)
		return ok && c > 0
	case LessThan:
		c, ok := value.Compare(fields.Get(pred.Field), pred.Value)
		return ok && c < 0
	case In:
		got := fields.Get(pred.Field)
		for _, v := range pred.Values {
			if value.Equal(got, v) {
				return true
			}
		}
		return false
	case And:
		for _, child := range pred.Predicates {
			if !Match(child, fields) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Op names accepted by Parse. Aliases follow the definition file syntax.
var ops = map[string]string{
	"is":           "eq",
	"=":            "eq",
	"==":           "eq",
	"eq":           "eq",
	"is_not":       "ne",
	"!=":           "ne",
	"ne":           "ne",
	"greater_than": "gt",
	">":            "gt",
	"gt":           "gt",
	"less_than":    "lt",
	"<":            "lt",
	"lt":           "lt",
	"in":           "in",
}

// Parse builds a predicate from an operator name and operand. For "in" the
// operand must be a value.List.
func Parse(field, op string, operand value.Value) (Predicate, error) {
	if field == "" {
		return nil, fmt.Errorf("predicate field is empty")
	}
	canon, ok := ops[strings.ToLower(strings.TrimSpace(op))]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	switch canon {
	case "eq":
		return Equals{Field: field, Value: operand}, nil
	case "ne":
		return NotEquals{Field: field, Value: operand}, nil
	case "gt":
		return GreaterThan{Field: field, Value: operand}, nil
	case "lt":
		return LessThan{Field: field, Value: operand}, nil
	default:
		list, ok := operand.(value.List)
		if !ok {
			return nil, fmt.Errorf("operator in on %q needs a list, got %s", field, value.Kind(operand))
		}
		return In{Field: field, Values: list}, nil
	}
}

// Fields returns the field names p references, in first-use order.
func Fields(p Predicate) []string {
	var out []string
	seen := map[string]bool{}
	walk(p, func(field string) {
		if !seen[field] {
			seen[field] = true
			out = append(out, field)
		}
	})
	return out
}

func walk(p Predicate, visit func(string)) {
	switch pred := p.(type) {
	case Equals:
		visit(pred.Field)
	case NotEquals:
		visit(pred.Field)
	case GreaterThan:
		visit(pred.Field)
	case LessThan:
		visit(pred.Field)
	case In:
		visit(pred.Field)
	case And:
		for _, child := range pred.Predicates {
			walk(child, visit)
		}
	}
}

// String renders p for logs.
func String(p Predicate) string {
	switch pred := p.(type) {
	case nil:
		return "true"
	case Equals:
		return pred.Field + " == " + value.Text(pred.Value)
	case NotEquals:
		return pred.Field + " != " + value.Text(pred.Value)
	case GreaterThan:
		return pred.Field + " > " + value.Text(pred.Value)
	case LessThan:
		return pred.Field + " < " + value.Text(pred.Value)
	case In:
		return pred.Field + " in " + value.Text(value.List(pred.Values))
	case And:
		if len(pred.Predicates) == 0 {
			return "true"
		}
		parts := make([]string, len(pred.Predicates))
		for i, child := range pred.Predicates {
			parts[i] = String(child)
		}
		return strings.Join(parts, " && ")
	default:
		return fmt.Sprintf("%T", p)
	}
}
