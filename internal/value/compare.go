package value

import (
	"fmt"
	"strings"
	"time"
)

// Equal reports whether a and b hold the same value. Int and Float compare
// numerically, so Int(1) equals Float(1). Nil and Null are equal.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Time:
		bv, ok := b.(Time)
		return ok && time.Time(av).Equal(time.Time(bv))
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders a and b. The boolean is false when the pair is not ordered:
// either side null, or kinds that do not compare (string against number).
// Numbers order numerically across Int and Float, strings lexically, times
// chronologically.
func Compare(a, b Value) (int, bool) {
	if IsNull(a) || IsNull(b) {
		return 0, false
	}
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	}
	switch av := a.(type) {
	case String:
		if bv, ok := b.(String); ok {
			return strings.Compare(string(av), string(bv)), true
		}
	case Time:
		if bv, ok := b.(Time); ok {
			return time.Time(av).Compare(time.Time(bv)), true
		}
	}
	return 0, false
}

// Add returns a+b. A null operand counts as zero. Int+Int stays Int; any
// Float operand makes the result Float.
func Add(a, b Value) (Value, error) {
	return arith(a, b, "add", func(x, y int64) int64 { return x + y }, func(x, y float64) float64 { return x + y })
}

// Subtract returns a-b with the same rules as Add.
func Subtract(a, b Value) (Value, error) {
	return arith(a, b, "subtract", func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y })
}

func arith(a, b Value, op string, ints func(x, y int64) int64, floats func(x, y float64) float64) (Value, error) {
	if IsNull(a) {
		a = Int(0)
	}
	if IsNull(b) {
		b = Int(0)
	}
	ai, aInt := a.(Int)
	bi, bInt := b.(Int)
	if aInt && bInt {
		return Int(ints(int64(ai), int64(bi))), nil
	}
	x, ok := number(a)
	if !ok {
		return nil, fmt.Errorf("%s: left operand is %s, want number", op, Kind(a))
	}
	y, ok := number(b)
	if !ok {
		return nil, fmt.Errorf("%s: right operand is %s, want number", op, Kind(b))
	}
	return Float(floats(x, y)), nil
}

func number(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Float:
		return float64(n), true
	}
	return 0, false
}
