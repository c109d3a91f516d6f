package fake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/schema"
	"github.com/roach88/flowsim/internal/value"
)

var now = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func gen(t *testing.T, g *Generator, name string, params value.Object) value.Value {
	t.Helper()
	v, ok := g.Generate(schema.Field{Name: "f", Generator: name, Params: params}, now)
	require.True(t, ok, "generator %s", name)
	return v
}

func TestGeneratorKinds(t *testing.T) {
	g := New(1)
	for _, name := range []string{"uuid4", "name", "email", "user_name", "company", "country", "word", "catch_phrase", "ean", "lexify", "sentence", "text"} {
		v := gen(t, g, name, nil)
		s, ok := v.(value.String)
		require.True(t, ok, "%s returns a string", name)
		assert.NotEmpty(t, s, name)
	}
	assert.Equal(t, value.Time(now), gen(t, g, "now", nil))
	assert.IsType(t, value.Bool(false), gen(t, g, "boolean", nil))
}

func TestDates(t *testing.T) {
	g := New(2)
	for i := 0; i < 50; i++ {
		d := time.Time(gen(t, g, "date_time_this_decade", nil).(value.Time))
		assert.False(t, d.Before(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
		assert.False(t, d.After(now))

		d = time.Time(gen(t, g, "date_time", nil).(value.Time))
		assert.False(t, d.After(now))
	}
}

func TestNumericParams(t *testing.T) {
	g := New(3)
	for i := 0; i < 200; i++ {
		n := gen(t, g, "random_int", value.Object{"min": value.Int(5), "max": value.Int(7)}).(value.Int)
		assert.GreaterOrEqual(t, int64(n), int64(5))
		assert.LessOrEqual(t, int64(n), int64(7))

		f := gen(t, g, "pyfloat", value.Object{
			"min_value": value.Int(-10), "max_value": value.Float(20), "positive": value.Bool(true),
		}).(value.Float)
		assert.GreaterOrEqual(t, float64(f), 0.0)
		assert.LessOrEqual(t, float64(f), 20.0)
	}
}

func TestRandomElement(t *testing.T) {
	g := New(4)
	elems := value.List{value.String("a"), value.String("b"), value.Int(3)}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		v := gen(t, g, "random_element", value.Object{"elements": elems})
		seen[value.Text(v)] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, value.Null{}, gen(t, g, "random_element", nil))
}

func TestLexifyAndText(t *testing.T) {
	g := New(5)
	s := string(gen(t, g, "lexify", value.Object{"text": value.String("SKU-????")}).(value.String))
	assert.Len(t, s, 8)
	assert.Equal(t, "SKU-", s[:4])

	txt := string(gen(t, g, "text", value.Object{"max_nb_chars": value.Int(40)}).(value.String))
	assert.LessOrEqual(t, len(txt), 40)
}

func TestEAN(t *testing.T) {
	assert.Equal(t, "4006381333931", ean13("400638133393"))

	g := New(6)
	code := string(gen(t, g, "ean", nil).(value.String))
	require.Len(t, code, 13)
	assert.Equal(t, code, ean13(code[:12]))
}

func TestDeterministic(t *testing.T) {
	a, b := New(42), New(42)
	for _, name := range []string{"uuid4", "email", "random_int", "pyfloat", "sentence"} {
		assert.Equal(t, gen(t, a, name, nil), gen(t, b, name, nil), name)
	}
}

func TestUnknownGenerator(t *testing.T) {
	g := New(7)
	_, ok := g.Generate(schema.Field{Name: "x", Generator: "nope"}, now)
	assert.False(t, ok)
	_, ok = g.Generate(schema.Field{Name: "x"}, now)
	assert.False(t, ok)
	assert.True(t, Known("uuid4"))
	assert.False(t, Known("nope"))
}
