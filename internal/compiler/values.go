package compiler

import (
	"cuelang.org/go/cue"

	"github.com/roach88/flowsim/internal/value"
)

// toValue converts a concrete CUE value. field names the value in errors.
func toValue(v cue.Value, field string) (value.Value, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if !v.IsConcrete() {
		return nil, errorAt(v, field, "value must be concrete")
	}
	switch v.Kind() {
	case cue.NullKind:
		return value.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Int(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.String(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var out value.List
		for iter.Next() {
			item, err := toValue(iter.Value(), field)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case cue.StructKind:
		return toObject(v, field)
	}
	return nil, errorAt(v, field, "unsupported value kind %s", v.Kind())
}

func toObject(v cue.Value, field string) (value.Object, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := value.Object{}
	for iter.Next() {
		item, err := toValue(iter.Value(), field+"."+iter.Label())
		if err != nil {
			return nil, err
		}
		out[iter.Label()] = item
	}
	return out, nil
}

func lookup(v cue.Value, path string) cue.Value {
	return v.LookupPath(cue.ParsePath(path))
}

// optionalString returns "" when the field is absent.
func optionalString(v cue.Value, path, field string) (string, error) {
	f := lookup(v, path)
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", errorAt(f, field, "must be a string")
	}
	return s, nil
}

func requiredString(v cue.Value, path, field string) (string, error) {
	f := lookup(v, path)
	if !f.Exists() {
		return "", errorAt(v, field, "%s is required", path)
	}
	s, err := f.String()
	if err != nil || s == "" {
		return "", errorAt(f, field, "must be a non-empty string")
	}
	return s, nil
}
