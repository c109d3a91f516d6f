// Package value defines the typed field values carried by entity versions
// and materialized events.
//
// Value is a sealed interface: only the types in this package implement it.
// A nil Value and Null are treated the same by every helper in the package.
package value

import (
	"fmt"
	"slices"
	"time"
)

// Value is a sealed interface over the supported field value kinds.
type Value interface {
	value()
}

// Null is an explicit absent value. The claim field of an available entity is Null.
type Null struct{}

func (Null) value() {}

// String is a text value.
type String string

func (String) value() {}

// Int is a 64-bit integer value.
type Int int64

func (Int) value() {}

// Float is a 64-bit floating point value.
type Float float64

func (Float) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Time is an instant. It serializes as RFC 3339 with nanoseconds.
type Time time.Time

func (Time) value() {}

// List is an ordered list of values.
type List []Value

func (List) value() {}

// Object maps field names to values. Use Keys for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// Keys returns the object's keys in canonical order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Clone returns a shallow copy of the object. Nested lists and objects are shared;
// values are never mutated in place so sharing is safe.
func (o Object) Clone() Object {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Get returns the field value, or Null when the field is absent.
func (o Object) Get(field string) Value {
	if v, ok := o[field]; ok && v != nil {
		return v
	}
	return Null{}
}

// Has reports whether the field is present and not null.
func (o Object) Has(field string) bool {
	return !IsNull(o[field])
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Kind returns a short name for the value's kind, used in error messages.
func Kind(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case List:
		return "list"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// From converts a plain Go value into a Value.
//
// Supported inputs are nil, Value, string, bool, all integer kinds,
// float32/float64, time.Time, []any, []string, map[string]any and
// map[string]Value.
func From(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("uint64 %d overflows int64", val)
		}
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case time.Time:
		return Time(val), nil
	case []string:
		out := make(List, len(val))
		for i, s := range val {
			out[i] = String(s)
		}
		return out, nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			ev, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case map[string]Value:
		return Object(val), nil
	case map[string]any:
		out := make(Object, len(val))
		for k, elem := range val {
			ev, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MustFrom is From for literals in tests and static tables. It panics on error.
func MustFrom(v any) Value {
	out, err := From(v)
	if err != nil {
		panic(err)
	}
	return out
}

// Native converts a Value back into plain Go values: nil, string, int64,
// float64, bool, time.Time, []any and map[string]any. Drivers that take
// interface{} arguments (bson, pgx, influx) consume this form.
func Native(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Time:
		return time.Time(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Native(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Native(elem)
		}
		return out
	default:
		return nil
	}
}

// Text renders a scalar value as text. Lists and objects render as canonical JSON.
func Text(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(val)
	case Time:
		return time.Time(val).UTC().Format(time.RFC3339Nano)
	default:
		b, err := Marshal(v)
		if err != nil {
			return fmt.Sprint(Native(v))
		}
		return string(b)
	}
}
