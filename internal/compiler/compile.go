// Package compiler turns CUE simulation definitions into schema tables and
// flow templates.
//
// A definitions file has four top-level blocks:
//
//	simulation: {duration: "1h", tick: "1s", concurrency: 2, seed: 42}
//
//	event: UserRegistered: fields: {
//		user_id: {generator: "uuid4", primary_key: true}
//		email:   {generator: "email"}
//	}
//
//	entity: User: {
//		primary_key:  "user_id"
//		source_event: "UserRegistered"
//		initial:      10
//		state: {email: {from: "email"}, total_spent: {default: 0.0}}
//	}
//
//	flow: purchase: {
//		weight: 3
//		filter: {entity: "User", where: [{field: "total_spent", op: "<", value: 100}]}
//		steps: [
//			{emit: "ItemPurchased", set: {price: 9.99}, mutate: {
//				entity: "User"
//				updates: [{field: "total_spent", op: "add", value: "${event.price}"}]
//			}},
//			{decay: {rate: 0.3, duration: "30s"}},
//		]
//	}
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/flowsim/internal/config"
	"github.com/roach88/flowsim/internal/entity"
	"github.com/roach88/flowsim/internal/flow"
	"github.com/roach88/flowsim/internal/predicate"
	"github.com/roach88/flowsim/internal/schema"
	"github.com/roach88/flowsim/internal/value"
)

// Definitions is the compiled form of a definitions directory.
type Definitions struct {
	Schemas    *schema.Registry
	Templates  []*flow.Template
	Simulation Simulation
}

// Simulation holds the optional settings of the simulation block.
type Simulation struct {
	Start       string
	Duration    string
	Tick        string
	Concurrency *int
	Seed        *uint64
	MaxSteps    *int
}

// Settings returns the set values keyed by config key, for use as config
// defaults.
func (s Simulation) Settings() map[string]any {
	out := make(map[string]any)
	if s.Start != "" {
		out["simulation.start"] = s.Start
	}
	if s.Duration != "" {
		out["simulation.duration"] = s.Duration
	}
	if s.Tick != "" {
		out["simulation.tick"] = s.Tick
	}
	if s.Concurrency != nil {
		out["simulation.concurrency"] = *s.Concurrency
	}
	if s.Seed != nil {
		out["simulation.seed"] = *s.Seed
	}
	if s.MaxSteps != nil {
		out["simulation.max_steps"] = *s.MaxSteps
	}
	return out
}

// CompileString compiles definitions held in a string.
func CompileString(src string) (*Definitions, error) {
	v := cuecontext.New().CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v)
}

// Compile compiles a CUE value holding the top-level blocks. The schema
// registry is validated; flow references to schemas are checked by the
// engine.
func Compile(v cue.Value) (*Definitions, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	defs := &Definitions{Schemas: schema.NewRegistry()}

	if err := eachField(v, "event", func(name string, ev cue.Value) error {
		e, err := CompileEvent(name, ev)
		if err != nil {
			return err
		}
		if err := defs.Schemas.AddEvent(*e); err != nil {
			return errorAt(ev, "event."+name, "%v", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachField(v, "entity", func(name string, ev cue.Value) error {
		et, err := CompileEntity(name, ev)
		if err != nil {
			return err
		}
		if err := defs.Schemas.AddEntity(*et); err != nil {
			return errorAt(ev, "entity."+name, "%v", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := defs.Schemas.Validate(); err != nil {
		return nil, errorAt(lookup(v, "entity"), "entity", "%v", err)
	}

	if err := eachField(v, "flow", func(name string, fv cue.Value) error {
		tmpl, err := CompileFlow(name, fv)
		if err != nil {
			return err
		}
		defs.Templates = append(defs.Templates, tmpl)
		return nil
	}); err != nil {
		return nil, err
	}

	if sv := lookup(v, "simulation"); sv.Exists() {
		sim, err := CompileSimulation(sv)
		if err != nil {
			return nil, err
		}
		defs.Simulation = *sim
	}
	return defs, nil
}

func eachField(v cue.Value, block string, fn func(name string, v cue.Value) error) error {
	bv := lookup(v, block)
	if !bv.Exists() {
		return nil
	}
	iter, err := bv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// CompileEvent compiles one event schema. Fields keep declaration order.
func CompileEvent(name string, v cue.Value) (*schema.Event, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	ev := &schema.Event{Name: name}
	fields := lookup(v, "fields")
	if !fields.Exists() {
		return ev, nil
	}
	iter, err := fields.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		path := fmt.Sprintf("event.%s.fields.%s", name, iter.Label())
		f, err := compileField(iter.Label(), iter.Value(), path)
		if err != nil {
			return nil, err
		}
		ev.Fields = append(ev.Fields, f)
	}
	return ev, nil
}

// compileField accepts a bare generator name or a struct with generator,
// params and primary_key.
func compileField(name string, v cue.Value, path string) (schema.Field, error) {
	f := schema.Field{Name: name}
	if s, err := v.String(); err == nil {
		f.Generator = s
		return f, nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return f, errorAt(v, path, "field must be a generator name or a struct")
	}
	gen, err := optionalString(v, "generator", path+".generator")
	if err != nil {
		return f, err
	}
	f.Generator = gen
	if pv := lookup(v, "params"); pv.Exists() {
		params, err := toObject(pv, path+".params")
		if err != nil {
			return f, err
		}
		f.Params = params
	}
	if pk := lookup(v, "primary_key"); pk.Exists() {
		b, err := pk.Bool()
		if err != nil {
			return f, errorAt(pk, path+".primary_key", "must be a bool")
		}
		f.PrimaryKey = b
	}
	return f, nil
}

// CompileEntity compiles one entity type.
func CompileEntity(name string, v cue.Value) (*schema.EntityType, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	field := "entity." + name
	et := &schema.EntityType{Name: name}

	var err error
	if et.PrimaryKey, err = requiredString(v, "primary_key", field+".primary_key"); err != nil {
		return nil, err
	}
	if et.SourceEvent, err = optionalString(v, "source_event", field+".source_event"); err != nil {
		return nil, err
	}
	if iv := lookup(v, "initial"); iv.Exists() {
		n, err := iv.Int64()
		if err != nil || n < 0 {
			return nil, errorAt(iv, field+".initial", "must be a non-negative integer")
		}
		et.Initial = int(n)
	}

	state := lookup(v, "state")
	if !state.Exists() {
		return et, nil
	}
	iter, err := state.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		sf, err := compileStateField(iter.Label(), iter.Value(), field+".state."+iter.Label())
		if err != nil {
			return nil, err
		}
		et.State = append(et.State, sf)
	}
	return et, nil
}

// compileStateField accepts {default: v, from: "event_field"} or a bare
// default value.
func compileStateField(name string, v cue.Value, path string) (schema.StateField, error) {
	sf := schema.StateField{Name: name, Default: value.Null{}}
	dv, fv := lookup(v, "default"), lookup(v, "from")
	if v.IncompleteKind() != cue.StructKind || (!dv.Exists() && !fv.Exists()) {
		def, err := toValue(v, path)
		if err != nil {
			return sf, err
		}
		sf.Default = def
		return sf, nil
	}
	if dv.Exists() {
		def, err := toValue(dv, path+".default")
		if err != nil {
			return sf, err
		}
		sf.Default = def
	}
	from, err := optionalString(v, "from", path+".from")
	if err != nil {
		return sf, err
	}
	sf.From = from
	return sf, nil
}

// CompileFlow compiles one flow template.
func CompileFlow(name string, v cue.Value) (*flow.Template, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	field := "flow." + name
	tmpl := &flow.Template{Name: name, Weight: 1}

	if wv := lookup(v, "weight"); wv.Exists() {
		w, err := wv.Float64()
		if err != nil || !(w > 0) {
			return nil, errorAt(wv, field+".weight", "must be a positive number")
		}
		tmpl.Weight = w
	}

	if fv := lookup(v, "filter"); fv.Exists() {
		filter, err := compileFilter(fv, field+".filter")
		if err != nil {
			return nil, err
		}
		tmpl.Filter = filter
	}

	sv := lookup(v, "steps")
	if !sv.Exists() {
		return nil, errorAt(v, field+".steps", "steps are required")
	}
	iter, err := sv.List()
	if err != nil {
		return nil, errorAt(sv, field+".steps", "must be a list")
	}
	var steps flow.Steps
	for i := 0; iter.Next(); i++ {
		in, err := compileStep(iter.Value(), fmt.Sprintf("%s.steps[%d]", field, i))
		if err != nil {
			return nil, err
		}
		steps = append(steps, in)
	}
	tmpl.Behavior = steps
	return tmpl, nil
}

// compileFilter accepts where as a list of {field, op, value} conditions or
// a struct of field equalities.
func compileFilter(v cue.Value, path string) (*flow.Filter, error) {
	ent, err := requiredString(v, "entity", path+".entity")
	if err != nil {
		return nil, err
	}
	f := &flow.Filter{Entity: ent}
	wv := lookup(v, "where")
	if !wv.Exists() {
		return f, nil
	}

	var preds []predicate.Predicate
	switch wv.IncompleteKind() {
	case cue.ListKind:
		iter, err := wv.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			cond := iter.Value()
			cpath := fmt.Sprintf("%s.where[%d]", path, i)
			fieldName, err := requiredString(cond, "field", cpath+".field")
			if err != nil {
				return nil, err
			}
			op, err := optionalString(cond, "op", cpath+".op")
			if err != nil {
				return nil, err
			}
			if op == "" {
				op = "is"
			}
			operand, err := toValue(lookup(cond, "value"), cpath+".value")
			if err != nil {
				return nil, err
			}
			p, err := predicate.Parse(fieldName, op, operand)
			if err != nil {
				return nil, errorAt(cond, cpath, "%v", err)
			}
			preds = append(preds, p)
		}
	case cue.StructKind:
		iter, err := wv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			operand, err := toValue(iter.Value(), path+".where."+iter.Label())
			if err != nil {
				return nil, err
			}
			preds = append(preds, predicate.Equals{Field: iter.Label(), Value: operand})
		}
	default:
		return nil, errorAt(wv, path+".where", "must be a list of conditions or a struct")
	}
	f.Where = predicate.All(preds...)
	return f, nil
}

func compileStep(v cue.Value, path string) (flow.Intent, error) {
	ev, dv := lookup(v, "emit"), lookup(v, "decay")
	switch {
	case ev.Exists() && dv.Exists():
		return nil, errorAt(v, path, "a step is either emit or decay")
	case ev.Exists():
		return compileEmit(v, path)
	case dv.Exists():
		return compileDecay(dv, path+".decay")
	}
	return nil, errorAt(v, path, "step needs emit or decay")
}

func compileEmit(v cue.Value, path string) (flow.Emit, error) {
	var em flow.Emit
	var err error
	if em.Event, err = requiredString(v, "emit", path+".emit"); err != nil {
		return em, err
	}
	if em.SaveAs, err = optionalString(v, "save_as", path+".save_as"); err != nil {
		return em, err
	}

	if sv := lookup(v, "set"); sv.Exists() {
		iter, err := sv.Fields()
		if err != nil {
			return em, errorAt(sv, path+".set", "must be a struct")
		}
		em.Overrides = make(map[string]flow.Operand)
		for iter.Next() {
			o, err := compileOperand(iter.Value(), path+".set."+iter.Label())
			if err != nil {
				return em, err
			}
			em.Overrides[iter.Label()] = o
		}
	}

	if mv := lookup(v, "mutate"); mv.Exists() {
		m, err := compileMutation(mv, path+".mutate")
		if err != nil {
			return em, err
		}
		em.Mutation = m
	}

	if err := flow.Validate(em); err != nil {
		return em, errorAt(v, path, "%v", err)
	}
	return em, nil
}

func compileMutation(v cue.Value, path string) (*flow.Mutation, error) {
	ent, err := requiredString(v, "entity", path+".entity")
	if err != nil {
		return nil, err
	}
	m := &flow.Mutation{Entity: ent}
	uv := lookup(v, "updates")
	if !uv.Exists() {
		return nil, errorAt(v, path+".updates", "updates are required")
	}
	iter, err := uv.List()
	if err != nil {
		return nil, errorAt(uv, path+".updates", "must be a list")
	}
	for i := 0; iter.Next(); i++ {
		u := iter.Value()
		upath := fmt.Sprintf("%s.updates[%d]", path, i)
		fieldName, err := requiredString(u, "field", upath+".field")
		if err != nil {
			return nil, err
		}
		opName, err := optionalString(u, "op", upath+".op")
		if err != nil {
			return nil, err
		}
		if opName == "" {
			opName = string(entity.OpSet)
		}
		op, err := entity.ParseOp(opName)
		if err != nil {
			return nil, errorAt(u, upath+".op", "%v", err)
		}
		operand, err := compileOperand(lookup(u, "value"), upath+".value")
		if err != nil {
			return nil, err
		}
		m.Updates = append(m.Updates, flow.Update{Field: fieldName, Op: op, Operand: operand})
	}
	return m, nil
}

func compileOperand(v cue.Value, path string) (flow.Operand, error) {
	if !v.Exists() {
		return nil, errorAt(v, path, "value is required")
	}
	val, err := toValue(v, path)
	if err != nil {
		return nil, err
	}
	o, err := flow.ParseOperand(val)
	if err != nil {
		return nil, errorAt(v, path, "%v", err)
	}
	return o, nil
}

func compileDecay(v cue.Value, path string) (flow.Decay, error) {
	var d flow.Decay
	rv := lookup(v, "rate")
	if !rv.Exists() {
		return d, errorAt(v, path+".rate", "rate is required")
	}
	rate, err := rv.Float64()
	if err != nil {
		return d, errorAt(rv, path+".rate", "must be a number")
	}
	d.Rate = rate
	if s, err := optionalString(v, "duration", path+".duration"); err != nil {
		return d, err
	} else if s != "" {
		dur, err := config.ParseDuration(s)
		if err != nil {
			return d, errorAt(lookup(v, "duration"), path+".duration", "%v", err)
		}
		d.Duration = dur
	}
	if err := flow.Validate(d); err != nil {
		return d, errorAt(v, path, "%v", err)
	}
	return d, nil
}

// CompileSimulation reads the simulation block.
func CompileSimulation(v cue.Value) (*Simulation, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	sim := &Simulation{}
	var err error
	if sim.Start, err = optionalString(v, "start", "simulation.start"); err != nil {
		return nil, err
	}
	if sim.Duration, err = optionalString(v, "duration", "simulation.duration"); err != nil {
		return nil, err
	}
	if sim.Tick, err = optionalString(v, "tick", "simulation.tick"); err != nil {
		return nil, err
	}
	if cv := lookup(v, "concurrency"); cv.Exists() {
		n, err := cv.Int64()
		if err != nil || n < 0 {
			return nil, errorAt(cv, "simulation.concurrency", "must be a non-negative integer")
		}
		c := int(n)
		sim.Concurrency = &c
	}
	if sv := lookup(v, "seed"); sv.Exists() {
		n, err := sv.Uint64()
		if err != nil {
			return nil, errorAt(sv, "simulation.seed", "must be a non-negative integer")
		}
		sim.Seed = &n
	}
	if mv := lookup(v, "max_steps"); mv.Exists() {
		n, err := mv.Int64()
		if err != nil || n < 0 {
			return nil, errorAt(mv, "simulation.max_steps", "must be a non-negative integer")
		}
		m := int(n)
		sim.MaxSteps = &m
	}
	return sim, nil
}
