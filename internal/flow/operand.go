package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/flowsim/internal/value"
)

// Scope resolves references while an Emit is materialized.
type Scope interface {
	// FlowID is the id of the running instance.
	FlowID() string
	// Now is the instance's local clock.
	Now() time.Time
	// Entity returns the id and current fields of the claimed entity of typ.
	Entity(typ string) (id string, fields value.Object, ok bool)
	// EventField returns a field of the event being materialized.
	EventField(name string) (value.Value, bool)
}

// Operand is a value resolved against a Scope at emit time.
type Operand interface {
	Resolve(s Scope) (value.Value, error)
}

// Literal is a constant operand.
type Literal struct {
	Value value.Value
}

// Lit wraps v as a constant operand.
func Lit(v value.Value) Literal { return Literal{Value: v} }

// Resolve returns the constant.
func (l Literal) Resolve(Scope) (value.Value, error) {
	if l.Value == nil {
		return value.Null{}, nil
	}
	return l.Value, nil
}

// Ref is a reference operand written as "${path}". Supported paths:
//
//	now                   the instance's local clock
//	flow.id               the instance id
//	session.id            alias of flow.id
//	entity.<Type>.id      the id of the claimed entity of Type
//	entity.<Type>.<field> a field of the claimed entity's current version
//	event.<field>         a field of the event being materialized
type Ref struct {
	Path string
}

// Resolve looks the path up in s.
func (r Ref) Resolve(s Scope) (value.Value, error) {
	parts := strings.Split(r.Path, ".")
	switch {
	case r.Path == "now":
		return value.Time(s.Now()), nil
	case r.Path == "flow.id", r.Path == "session.id":
		return value.String(s.FlowID()), nil
	case parts[0] == "entity" && len(parts) == 3:
		id, fields, ok := s.Entity(parts[1])
		if !ok {
			return nil, fmt.Errorf("reference ${%s}: no claimed %s entity", r.Path, parts[1])
		}
		if parts[2] == "id" {
			return value.String(id), nil
		}
		return fields.Get(parts[2]), nil
	case parts[0] == "event" && len(parts) == 2:
		v, ok := s.EventField(parts[1])
		if !ok {
			return value.Null{}, nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown reference ${%s}", r.Path)
	}
}

// ParseOperand turns a definition value into an operand. Strings of the form
// "${path}" become references; anything else is a literal.
func ParseOperand(v value.Value) (Operand, error) {
	s, ok := v.(value.String)
	if !ok {
		return Lit(v), nil
	}
	str := string(s)
	if !strings.HasPrefix(str, "${") || !strings.HasSuffix(str, "}") {
		return Lit(v), nil
	}
	path := str[2 : len(str)-1]
	if err := checkPath(path); err != nil {
		return nil, err
	}
	return Ref{Path: path}, nil
}

func checkPath(path string) error {
	parts := strings.Split(path, ".")
	switch {
	case path == "now", path == "flow.id", path == "session.id":
		return nil
	case parts[0] == "entity" && len(parts) == 3 && parts[1] != "" && parts[2] != "":
		return nil
	case parts[0] == "event" && len(parts) == 2 && parts[1] != "":
		return nil
	}
	return fmt.Errorf("unknown reference ${%s}", path)
}
