// Package schema holds the static descriptors of a simulation: event
// schemas and entity types. Descriptors are built once, validated, and then
// only read.
package schema

import (
	"fmt"
	"slices"

	"github.com/roach88/flowsim/internal/value"
)

// Field describes one field of an event schema.
type Field struct {
	Name string
	// Generator names the value generator for this field ("uuid4", "email", ...).
	// Empty means the field is only ever set by overrides or primary-key fill.
	Generator string
	// Params are generator arguments, for example {"min": 1, "max": 10}.
	Params value.Object
	// PrimaryKey marks the field as an entity identifier.
	PrimaryKey bool
}

// Event is the schema of one event type.
type Event struct {
	Name   string
	Fields []Field
}

// Field returns the named field.
func (e *Event) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// StateField describes one tracked attribute of an entity type.
type StateField struct {
	Name    string
	Default value.Value
	// From copies the value of this event field when the entity is derived
	// from an event. Falls back to Default when the event lacks the field.
	From string
}

// EntityType describes a kind of entity.
type EntityType struct {
	Name       string
	PrimaryKey string
	// SourceEvent names the event schema used to generate seed entities and
	// the event saved entities are usually derived from.
	SourceEvent string
	State       []StateField
	// Initial is the number of entities seeded before the first tick.
	Initial int
}

// Derive builds the id and initial fields of a new entity from event data.
// The primary key must be present in data.
func (t *EntityType) Derive(data value.Object) (string, value.Object, error) {
	key := data.Get(t.PrimaryKey)
	if value.IsNull(key) {
		return "", nil, fmt.Errorf("entity %s: event data has no primary key %q", t.Name, t.PrimaryKey)
	}
	fields := make(value.Object, len(t.State)+1)
	fields[t.PrimaryKey] = key
	for _, sf := range t.State {
		v := sf.Default
		if sf.From != "" && data.Has(sf.From) {
			v = data[sf.From]
		}
		if v == nil {
			v = value.Null{}
		}
		fields[sf.Name] = v
	}
	return value.Text(key), fields, nil
}

// Registry indexes event schemas and entity types by name.
type Registry struct {
	events      map[string]*Event
	entities    map[string]*EntityType
	eventOrder  []string
	entityOrder []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		events:   make(map[string]*Event),
		entities: make(map[string]*EntityType),
	}
}

// AddEvent registers an event schema. Names must be unique.
func (r *Registry) AddEvent(e Event) error {
	if e.Name == "" {
		return fmt.Errorf("event schema has no name")
	}
	if _, dup := r.events[e.Name]; dup {
		return fmt.Errorf("duplicate event schema %q", e.Name)
	}
	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("event %s: field with empty name", e.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("event %s: duplicate field %q", e.Name, f.Name)
		}
		seen[f.Name] = true
	}
	r.events[e.Name] = &e
	r.eventOrder = append(r.eventOrder, e.Name)
	return nil
}

// AddEntity registers an entity type. Names must be unique.
func (r *Registry) AddEntity(t EntityType) error {
	if t.Name == "" {
		return fmt.Errorf("entity type has no name")
	}
	if t.PrimaryKey == "" {
		return fmt.Errorf("entity %s: primary key is required", t.Name)
	}
	if t.Initial < 0 {
		return fmt.Errorf("entity %s: initial count %d is negative", t.Name, t.Initial)
	}
	if _, dup := r.entities[t.Name]; dup {
		return fmt.Errorf("duplicate entity type %q", t.Name)
	}
	r.entities[t.Name] = &t
	r.entityOrder = append(r.entityOrder, t.Name)
	return nil
}

// Validate checks cross references between entity types and event schemas.
func (r *Registry) Validate() error {
	for _, name := range r.entityOrder {
		t := r.entities[name]
		if t.SourceEvent == "" {
			if t.Initial > 0 {
				return fmt.Errorf("entity %s: initial entities need a source event", name)
			}
			continue
		}
		ev, ok := r.events[t.SourceEvent]
		if !ok {
			return fmt.Errorf("entity %s: unknown source event %q", name, t.SourceEvent)
		}
		if _, ok := ev.Field(t.PrimaryKey); !ok {
			return fmt.Errorf("entity %s: source event %s has no field %q", name, ev.Name, t.PrimaryKey)
		}
		for _, sf := range t.State {
			if sf.From == "" {
				continue
			}
			if _, ok := ev.Field(sf.From); !ok {
				return fmt.Errorf("entity %s: state field %s copies unknown event field %q", name, sf.Name, sf.From)
			}
		}
	}
	return nil
}

// Event returns the named event schema.
func (r *Registry) Event(name string) (*Event, bool) {
	e, ok := r.events[name]
	return e, ok
}

// Entity returns the named entity type.
func (r *Registry) Entity(name string) (*EntityType, bool) {
	t, ok := r.entities[name]
	return t, ok
}

// Events returns event schemas in registration order.
func (r *Registry) Events() []*Event {
	out := make([]*Event, 0, len(r.eventOrder))
	for _, name := range r.eventOrder {
		out = append(out, r.events[name])
	}
	return out
}

// Entities returns entity types in registration order.
func (r *Registry) Entities() []*EntityType {
	out := make([]*EntityType, 0, len(r.entityOrder))
	for _, name := range r.entityOrder {
		out = append(out, r.entities[name])
	}
	return out
}

// KeyOwners returns the names of entity types whose primary key is field,
// sorted.
func (r *Registry) KeyOwners(field string) []string {
	var out []string
	for name, t := range r.entities {
		if t.PrimaryKey == field {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
