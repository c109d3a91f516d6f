package emit

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/flowsim/internal/flow"
	"github.com/roach88/flowsim/internal/schema"
	"github.com/roach88/flowsim/internal/value"
)

// ValueGenerator produces a value for one schema field. ok is false when
// the generator has nothing for the field.
type ValueGenerator interface {
	Generate(field schema.Field, now time.Time) (v value.Value, ok bool)
}

// Context is what the materializer needs from a running flow instance.
type Context interface {
	FlowID() string
	Now() time.Time
	// Claims maps entity type to the id of the claimed entity.
	Claims() map[string]string
	Entity(typ string) (id string, fields value.Object, ok bool)
}

// Materializer builds events from Emit intents.
type Materializer struct {
	schemas *schema.Registry
	gen     ValueGenerator
	newID   func() string
}

// NewMaterializer returns a materializer. newID produces sys__eid values.
func NewMaterializer(schemas *schema.Registry, gen ValueGenerator, newID func() string) *Materializer {
	return &Materializer{schemas: schemas, gen: gen, newID: newID}
}

// Materialize builds the event for in. Field values are produced in this
// order, later steps winning:
//
//  1. the value generator, once per schema field
//  2. primary-key fill: a field still null takes the id of a claimed entity
//     whose type uses that field as primary key
//  3. overrides from the intent
func (m *Materializer) Materialize(in flow.Emit, ctx Context) (Event, error) {
	sch, ok := m.schemas.Event(in.Event)
	if !ok {
		return Event{}, fmt.Errorf("unknown event schema %q", in.Event)
	}
	now := ctx.Now()

	fields := make(value.Object, len(sch.Fields))
	for _, f := range sch.Fields {
		v, ok := m.gen.Generate(f, now)
		if !ok || v == nil {
			v = value.Null{}
		}
		fields[f.Name] = v
	}

	m.fillKeys(sch, fields, ctx.Claims())

	scope := &scope{ctx: ctx, fields: fields}
	keys := make([]string, 0, len(in.Overrides))
	for k := range in.Overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v, err := in.Overrides[k].Resolve(scope)
		if err != nil {
			return Event{}, fmt.Errorf("event %s field %s: %w", in.Event, k, err)
		}
		fields[k] = v
	}

	return Event{
		ID:        m.newID(),
		Type:      in.Event,
		Time:      now,
		SessionID: ctx.FlowID(),
		Fields:    fields,
	}, nil
}

func (m *Materializer) fillKeys(sch *schema.Event, fields value.Object, claims map[string]string) {
	types := make([]string, 0, len(claims))
	for typ := range claims {
		types = append(types, typ)
	}
	slices.Sort(types)
	for _, f := range sch.Fields {
		if fields.Has(f.Name) {
			continue
		}
		for _, typ := range types {
			et, ok := m.schemas.Entity(typ)
			if ok && et.PrimaryKey == f.Name {
				fields[f.Name] = value.String(claims[typ])
				break
			}
		}
	}
}

// Scope returns a flow.Scope that resolves event references against ev.
// Mutations attached to an Emit resolve their operands through it.
func Scope(ctx Context, ev Event) flow.Scope {
	return &scope{ctx: ctx, fields: ev.Fields}
}

type scope struct {
	ctx    Context
	fields value.Object
}

func (s *scope) FlowID() string { return s.ctx.FlowID() }
func (s *scope) Now() time.Time { return s.ctx.Now() }
func (s *scope) Entity(typ string) (string, value.Object, bool) {
	return s.ctx.Entity(typ)
}
func (s *scope) EventField(name string) (value.Value, bool) {
	v, ok := s.fields[name]
	return v, ok
}
