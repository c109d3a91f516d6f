package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/value"
)

func userRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.AddEvent(Event{
		Name: "UserRegistered",
		Fields: []Field{
			{Name: "user_id", Generator: "uuid4", PrimaryKey: true},
			{Name: "email", Generator: "email"},
		},
	}))
	require.NoError(t, r.AddEntity(EntityType{
		Name:        "User",
		PrimaryKey:  "user_id",
		SourceEvent: "UserRegistered",
		State: []StateField{
			{Name: "is_logged_in", Default: value.Bool(false)},
			{Name: "contact", From: "email"},
			{Name: "total_spent", Default: value.Float(0)},
		},
		Initial: 3,
	}))
	return r
}

func TestRegistryValidate(t *testing.T) {
	r := userRegistry(t)
	require.NoError(t, r.Validate())

	u, ok := r.Entity("User")
	require.True(t, ok)
	assert.Equal(t, "user_id", u.PrimaryKey)
	assert.Equal(t, []string{"User"}, r.KeyOwners("user_id"))
	assert.Empty(t, r.KeyOwners("email"))
	assert.Len(t, r.Events(), 1)
	assert.Len(t, r.Entities(), 1)
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddEvent(Event{Name: "E", Fields: []Field{{Name: "id"}}}))
	assert.ErrorContains(t, r.AddEvent(Event{Name: "E"}), "duplicate event")
	assert.ErrorContains(t, r.AddEvent(Event{Name: "F", Fields: []Field{{Name: "a"}, {Name: "a"}}}), "duplicate field")
	assert.ErrorContains(t, r.AddEntity(EntityType{Name: "X"}), "primary key is required")
	assert.ErrorContains(t, r.AddEntity(EntityType{Name: "X", PrimaryKey: "id", Initial: -1}), "negative")

	require.NoError(t, r.AddEntity(EntityType{Name: "Y", PrimaryKey: "id", SourceEvent: "Missing"}))
	assert.ErrorContains(t, r.Validate(), "unknown source event")

	r2 := NewRegistry()
	require.NoError(t, r2.AddEvent(Event{Name: "E", Fields: []Field{{Name: "other"}}}))
	require.NoError(t, r2.AddEntity(EntityType{Name: "Z", PrimaryKey: "id", SourceEvent: "E"}))
	assert.ErrorContains(t, r2.Validate(), `has no field "id"`)

	r3 := NewRegistry()
	require.NoError(t, r3.AddEntity(EntityType{Name: "Z", PrimaryKey: "id", Initial: 2}))
	assert.ErrorContains(t, r3.Validate(), "need a source event")
}

func TestDerive(t *testing.T) {
	r := userRegistry(t)
	u, _ := r.Entity("User")

	id, fields, err := u.Derive(value.Object{
		"user_id": value.String("u-1"),
		"email":   value.String("a@example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)
	assert.Equal(t, value.Object{
		"user_id":      value.String("u-1"),
		"is_logged_in": value.Bool(false),
		"contact":      value.String("a@example.com"),
		"total_spent":  value.Float(0),
	}, fields)

	_, fields, err = u.Derive(value.Object{"user_id": value.Int(7)})
	require.NoError(t, err)
	assert.Equal(t, value.Null{}, fields["contact"], "missing source field falls back to the null default")

	_, _, err = u.Derive(value.Object{"email": value.String("x")})
	assert.ErrorContains(t, err, "no primary key")
}
