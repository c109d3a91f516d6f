package value

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("a")
	var _ Value = Int(1)
	var _ Value = Float(1.5)
	var _ Value = Bool(true)
	var _ Value = Time(time.Unix(0, 0))
	var _ Value = List{Int(1)}
	var _ Value = Object{"k": String("v")}
}

func TestEqual(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"int int", Int(3), Int(3), true},
		{"int float", Int(3), Float(3), true},
		{"int float differ", Int(3), Float(3.5), false},
		{"string", String("x"), String("x"), true},
		{"string vs int", String("1"), Int(1), false},
		{"null null", Null{}, nil, true},
		{"null vs value", Null{}, Int(0), false},
		{"bool", Bool(true), Bool(true), true},
		{"time zones", Time(ts), Time(ts.In(time.FixedZone("x", 3600))), true},
		{"list", List{Int(1), String("a")}, List{Float(1), String("a")}, true},
		{"list len", List{Int(1)}, List{Int(1), Int(2)}, false},
		{"object", Object{"a": Int(1)}, Object{"a": Int(1)}, true},
		{"object missing key", Object{"a": Int(1)}, Object{"b": Int(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestCompare(t *testing.T) {
	c, ok := Compare(Int(2), Float(2.5))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare(String("b"), String("a"))
	require.True(t, ok)
	assert.Equal(t, 1, c)

	early := Time(time.Unix(10, 0))
	late := Time(time.Unix(20, 0))
	c, ok = Compare(early, late)
	require.True(t, ok)
	assert.Equal(t, -1, c)

	_, ok = Compare(Null{}, Int(1))
	assert.False(t, ok, "null is never ordered")

	_, ok = Compare(String("1"), Int(1))
	assert.False(t, ok, "mixed kinds are not ordered")
}

func TestAddSubtract(t *testing.T) {
	v, err := Add(Int(2), Int(3))
	require.NoError(t, err)
	assert.Equal(t, Int(5), v)

	v, err = Add(Int(2), Float(0.5))
	require.NoError(t, err)
	assert.Equal(t, Float(2.5), v)

	v, err = Subtract(nil, Int(4))
	require.NoError(t, err)
	assert.Equal(t, Int(-4), v, "missing field counts as zero")

	v, err = Subtract(Null{}, Float(1.5))
	require.NoError(t, err)
	assert.Equal(t, Float(-1.5), v)

	_, err = Add(String("a"), Int(1))
	assert.ErrorContains(t, err, "left operand is string")
}

func TestFromAndNative(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v, err := From(map[string]any{
		"n":    7,
		"f":    1.25,
		"s":    "x",
		"b":    true,
		"t":    ts,
		"l":    []any{1, "two"},
		"none": nil,
	})
	require.NoError(t, err)
	obj := v.(Object)
	assert.Equal(t, Int(7), obj["n"])
	assert.Equal(t, Float(1.25), obj["f"])
	assert.Equal(t, Time(ts), obj["t"])
	assert.Equal(t, List{Int(1), String("two")}, obj["l"])
	assert.True(t, IsNull(obj["none"]))

	native := Native(obj).(map[string]any)
	assert.Equal(t, int64(7), native["n"])
	assert.Equal(t, ts, native["t"])
	assert.Nil(t, native["none"])

	_, err = From(struct{}{})
	assert.Error(t, err)
}

func TestObjectHelpers(t *testing.T) {
	obj := Object{"b": Int(1), "a": Null{}}
	assert.Equal(t, []string{"a", "b"}, obj.Keys())
	assert.False(t, obj.Has("a"))
	assert.True(t, obj.Has("b"))
	assert.Equal(t, Null{}, obj.Get("missing"))

	clone := obj.Clone()
	clone["c"] = Int(3)
	assert.NotContains(t, obj, "c")
}

func TestMarshalCanonical(t *testing.T) {
	obj := Object{
		"zeta":  Int(1),
		"alpha": String("<b>&"),
		"ratio": Float(2),
		"when":  Time(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		"tags":  List{Bool(true), Null{}},
	}
	b, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t,
		`{"alpha":"<b>&","ratio":2.0,"tags":[true,null],"when":"2024-01-02T03:04:05Z","zeta":1}`,
		string(b))

	// json.Marshal goes through the same encoder
	viaStd, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, b, viaStd)
}

func TestMarshalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed form
	b, err := Marshal(String("cafe\u0301"))
	require.NoError(t, err)
	assert.Equal(t, "\"caf\u00e9\"", string(b))
}

func TestMarshalRejectsNaN(t *testing.T) {
	_, err := Marshal(Float(nan()))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	obj, err := ParseObject([]byte(`{"a":1,"b":1.5,"c":"x","d":[true,null],"e":{"f":2}}`))
	require.NoError(t, err)
	assert.Equal(t, Int(1), obj["a"])
	assert.Equal(t, Float(1.5), obj["b"])
	assert.Equal(t, String("x"), obj["c"])
	assert.Equal(t, List{Bool(true), Null{}}, obj["d"])
	assert.Equal(t, Object{"f": Int(2)}, obj["e"])

	_, err = ParseObject([]byte(`[1]`))
	assert.ErrorContains(t, err, "expected JSON object")
}

func TestText(t *testing.T) {
	assert.Equal(t, "x", Text(String("x")))
	assert.Equal(t, "", Text(Null{}))
	assert.Equal(t, "42", Text(Int(42)))
	assert.Equal(t, "2024-01-01T00:00:00Z", Text(Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
