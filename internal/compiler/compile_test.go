package compiler

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/entity"
	"github.com/roach88/flowsim/internal/flow"
	"github.com/roach88/flowsim/internal/predicate"
	"github.com/roach88/flowsim/internal/schema"
	"github.com/roach88/flowsim/internal/value"
)

const shop = `
event: UserRegistered: fields: {
	user_id: {generator: "uuid4", primary_key: true}
	email:   "email"
	plan:    {generator: "random_element", params: {elements: ["free", "pro"]}}
}

event: ItemPurchased: fields: {
	user_id: {generator: "uuid4", primary_key: true}
	price:   {generator: "pyfloat", params: {min_value: 1.0, max_value: 50.0}}
}

entity: User: {
	primary_key:  "user_id"
	source_event: "UserRegistered"
	initial:      5
	state: {
		email:       {from: "email"}
		total_spent: {default: 0.0}
		tier:        "bronze"
	}
}

flow: register: {
	weight: 1
	steps: [{emit: "UserRegistered", save_as: "User"}]
}

flow: purchase: {
	weight: 3
	filter: {entity: "User", where: [
		{field: "total_spent", op: "<", value: 100},
		{field: "tier", value: "bronze"},
	]}
	steps: [
		{emit: "ItemPurchased", set: {price: 9.99, note: "${flow.id}"}, mutate: {
			entity: "User"
			updates: [
				{field: "total_spent", op: "add", value: "${event.price}"},
				{field: "last_seen", value: "${now}"},
			]
		}},
		{decay: {rate: 0.3, duration: "30s"}},
		{emit: "ItemPurchased"},
	]
}
`

func TestCompileString_Shop(t *testing.T) {
	defs, err := CompileString(shop)
	require.NoError(t, err)

	ev, ok := defs.Schemas.Event("UserRegistered")
	require.True(t, ok)
	require.Len(t, ev.Fields, 3)
	assert.Equal(t, schema.Field{Name: "user_id", Generator: "uuid4", PrimaryKey: true}, ev.Fields[0])
	assert.Equal(t, schema.Field{Name: "email", Generator: "email"}, ev.Fields[1])
	assert.Equal(t, "random_element", ev.Fields[2].Generator)
	assert.Equal(t, value.List{value.String("free"), value.String("pro")}, ev.Fields[2].Params.Get("elements"))

	user, ok := defs.Schemas.Entity("User")
	require.True(t, ok)
	assert.Equal(t, "user_id", user.PrimaryKey)
	assert.Equal(t, "UserRegistered", user.SourceEvent)
	assert.Equal(t, 5, user.Initial)
	assert.Equal(t, []schema.StateField{
		{Name: "email", Default: value.Null{}, From: "email"},
		{Name: "total_spent", Default: value.Float(0)},
		{Name: "tier", Default: value.String("bronze")},
	}, user.State)

	require.Len(t, defs.Templates, 2)
	register := defs.Templates[0]
	assert.Equal(t, "register", register.Name)
	assert.Equal(t, 1.0, register.Weight)
	assert.Nil(t, register.Filter)
	assert.Equal(t, flow.Steps{flow.Emit{Event: "UserRegistered", SaveAs: "User"}}, register.Behavior)

	purchase := defs.Templates[1]
	assert.Equal(t, 3.0, purchase.Weight)
	require.NotNil(t, purchase.Filter)
	assert.Equal(t, "User", purchase.Filter.Entity)
	assert.Equal(t, predicate.And{Predicates: []predicate.Predicate{
		predicate.LessThan{Field: "total_spent", Value: value.Int(100)},
		predicate.Equals{Field: "tier", Value: value.String("bronze")},
	}}, purchase.Filter.Where)

	steps, ok := purchase.Behavior.(flow.Steps)
	require.True(t, ok)
	require.Len(t, steps, 3)
	assert.Equal(t, flow.Emit{
		Event: "ItemPurchased",
		Overrides: map[string]flow.Operand{
			"price": flow.Lit(value.Float(9.99)),
			"note":  flow.Ref{Path: "flow.id"},
		},
		Mutation: &flow.Mutation{Entity: "User", Updates: []flow.Update{
			flow.Add("total_spent", flow.Ref{Path: "event.price"}),
			flow.Set("last_seen", flow.Ref{Path: "now"}),
		}},
	}, steps[0])
	assert.Equal(t, flow.Decay{Rate: 0.3, Duration: 30 * time.Second}, steps[1])
	assert.Equal(t, flow.Emit{Event: "ItemPurchased"}, steps[2])

	assert.Empty(t, defs.Simulation.Settings())
}

func TestCompileString_WhereStruct(t *testing.T) {
	defs, err := CompileString(`
event: E: fields: {id: {generator: "uuid4", primary_key: true}}
entity: T: {primary_key: "id", source_event: "E", state: {status: "active"}}
flow: f: {
	filter: {entity: "T", where: {status: "active"}}
	steps: [{emit: "E"}]
}
`)
	require.NoError(t, err)
	require.Len(t, defs.Templates, 1)
	assert.Equal(t, 1.0, defs.Templates[0].Weight)
	assert.Equal(t, predicate.Equals{Field: "status", Value: value.String("active")}, defs.Templates[0].Filter.Where)
}

func TestCompileString_Simulation(t *testing.T) {
	defs, err := CompileString(`
simulation: {start: "2024-01-01", duration: "2d", tick: "1m", concurrency: 4, seed: 42, max_steps: 50}
`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"simulation.start":       "2024-01-01",
		"simulation.duration":    "2d",
		"simulation.tick":        "1m",
		"simulation.concurrency": 4,
		"simulation.seed":        uint64(42),
		"simulation.max_steps":   50,
	}, defs.Simulation.Settings())
}

func TestCompileString_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "entity without primary key",
			src:   `entity: T: {state: {}}`,
			field: "entity.T.primary_key",
		},
		{
			name:  "unknown source event",
			src:   `entity: T: {primary_key: "id", source_event: "Missing"}`,
			field: "entity",
		},
		{
			name:  "negative weight",
			src:   `flow: f: {weight: -1, steps: [{emit: "E"}]}`,
			field: "flow.f.weight",
		},
		{
			name:  "missing steps",
			src:   `flow: f: {weight: 1}`,
			field: "flow.f.steps",
		},
		{
			name:  "step without kind",
			src:   `flow: f: {steps: [{save_as: "T"}]}`,
			field: "flow.f.steps[0]",
		},
		{
			name:  "step with both kinds",
			src:   `flow: f: {steps: [{emit: "E", decay: {rate: 0.1}}]}`,
			field: "flow.f.steps[0]",
		},
		{
			name:  "decay rate out of range",
			src:   `flow: f: {steps: [{decay: {rate: 1.5}}]}`,
			field: "flow.f.steps[0].decay",
		},
		{
			name:  "bad decay duration",
			src:   `flow: f: {steps: [{decay: {rate: 0.5, duration: "soon"}}]}`,
			field: "flow.f.steps[0].decay.duration",
		},
		{
			name:  "unknown update op",
			src:   `flow: f: {steps: [{emit: "E", mutate: {entity: "T", updates: [{field: "x", op: "multiply", value: 2}]}}]}`,
			field: "flow.f.steps[0].mutate.updates[0].op",
		},
		{
			name:  "unknown reference",
			src:   `flow: f: {steps: [{emit: "E", set: {x: "${user.name}"}}]}`,
			field: "flow.f.steps[0].set.x",
		},
		{
			name:  "unknown filter operator",
			src:   `flow: f: {filter: {entity: "T", where: [{field: "x", op: "~", value: 1}]}, steps: [{emit: "E"}]}`,
			field: "flow.f.filter.where[0]",
		},
		{
			name:  "filter without entity",
			src:   `flow: f: {filter: {where: {x: 1}}, steps: [{emit: "E"}]}`,
			field: "flow.f.filter.entity",
		},
		{
			name:  "negative concurrency",
			src:   `simulation: concurrency: -1`,
			field: "simulation.concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src)
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileString_SyntaxError(t *testing.T) {
	_, err := CompileString(`event: {`)
	require.Error(t, err)
}

func TestCompileEntity_StateDefaultAndFrom(t *testing.T) {
	defs, err := CompileString(`
event: E: fields: {id: {generator: "uuid4", primary_key: true}, name: "name"}
entity: T: {
	primary_key:  "id"
	source_event: "E"
	state: {
		name:   {from: "name", default: "anonymous"}
		counts: {visits: 0}
	}
}
`)
	require.NoError(t, err)
	et, ok := defs.Schemas.Entity("T")
	require.True(t, ok)
	assert.Equal(t, []schema.StateField{
		{Name: "name", Default: value.String("anonymous"), From: "name"},
		{Name: "counts", Default: value.Object{"visits": value.Int(0)}},
	}, et.State)
}

func TestCompileMutation_DefaultOpIsSet(t *testing.T) {
	defs, err := CompileString(`flow: f: {steps: [{emit: "E", mutate: {entity: "T", updates: [{field: "x", value: 1}]}}]}`)
	require.NoError(t, err)
	steps := defs.Templates[0].Behavior.(flow.Steps)
	em := steps[0].(flow.Emit)
	require.NotNil(t, em.Mutation)
	assert.Equal(t, entity.OpSet, em.Mutation.Updates[0].Op)
	assert.Equal(t, flow.Lit(value.Int(1)), em.Mutation.Updates[0].Operand)
}

func TestLoadDir(t *testing.T) {
	defs, files, err := LoadDir("testdata/bank")
	require.NoError(t, err)
	assert.Equal(t, 2, files)

	assert.Len(t, defs.Schemas.Events(), 2)
	acct, ok := defs.Schemas.Entity("Account")
	require.True(t, ok)
	assert.Equal(t, 3, acct.Initial)
	require.Len(t, defs.Templates, 1)
	assert.Equal(t, "withdraw", defs.Templates[0].Name)

	settings := defs.Simulation.Settings()
	assert.Equal(t, "2024-01-01T00:00:00Z", settings["simulation.start"])
	assert.Equal(t, uint64(7), settings["simulation.seed"])
}

func TestLoadDir_Errors(t *testing.T) {
	_, _, err := LoadDir("testdata/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, _, err = LoadDir("testdata/empty")
	assert.ErrorIs(t, err, ErrNoCUEFiles)
	assert.Contains(t, err.Error(), "no CUE files")

	_, _, err = LoadDir("testdata/bank/bank.cue")
	assert.ErrorIs(t, err, ErrNotDirectory)
	assert.Contains(t, err.Error(), "not a directory")
}
