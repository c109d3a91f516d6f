package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/flowsim/internal/predicate"
	"github.com/roach88/flowsim/internal/value"
)

// CompilePredicate converts p into a parameterized WHERE fragment over the
// fields JSON column. Field paths and values are always bound, never
// interpolated. A nil predicate compiles to "1 = 1".
func CompilePredicate(p predicate.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case predicate.Equals:
		if value.IsNull(pred.Value) {
			return "json_extract(fields, ?) IS NULL", []any{jsonPath(pred.Field)}, nil
		}
		return compileCompare(pred.Field, "=", pred.Value)
	case predicate.NotEquals:
		if value.IsNull(pred.Value) {
			return "json_extract(fields, ?) IS NOT NULL", []any{jsonPath(pred.Field)}, nil
		}
		return compileCompare(pred.Field, "IS NOT", pred.Value)
	case predicate.GreaterThan:
		return compileCompare(pred.Field, ">", pred.Value)
	case predicate.LessThan:
		return compileCompare(pred.Field, "<", pred.Value)
	case predicate.In:
		return compileIn(pred)
	case predicate.And:
		return compileAnd(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileCompare(field, op string, v value.Value) (string, []any, error) {
	param, err := toParam(v)
	if err != nil {
		return "", nil, fmt.Errorf("field %s: %w", field, err)
	}
	return fmt.Sprintf("json_extract(fields, ?) %s ?", op), []any{jsonPath(field), param}, nil
}

// compileIn matches a missing or null field when Values lists Null, as
// predicate.Match does. SQL IN never matches NULL, so that case gets its own
// IS NULL term.
func compileIn(in predicate.In) (string, []any, error) {
	if len(in.Values) == 0 {
		return "1 = 0", nil, nil
	}
	params := []any{jsonPath(in.Field)}
	marks := make([]string, 0, len(in.Values))
	null := false
	for _, v := range in.Values {
		if value.IsNull(v) {
			null = true
			continue
		}
		param, err := toParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("field %s: %w", in.Field, err)
		}
		params = append(params, param)
		marks = append(marks, "?")
	}
	switch {
	case !null:
		return fmt.Sprintf("json_extract(fields, ?) IN (%s)", strings.Join(marks, ", ")), params, nil
	case len(marks) == 0:
		return "json_extract(fields, ?) IS NULL", params, nil
	default:
		params = append(params, jsonPath(in.Field))
		return fmt.Sprintf("(json_extract(fields, ?) IN (%s) OR json_extract(fields, ?) IS NULL)",
			strings.Join(marks, ", ")), params, nil
	}
}

func compileAnd(and predicate.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}
	var parts []string
	var params []any
	for _, p := range and.Predicates {
		sql, ps, err := CompilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, ps...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// jsonPath quotes a field name as a JSON path member.
func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

// toParam converts a scalar to the form json_extract returns for it. Times
// are stored as RFC 3339 strings.
func toParam(v value.Value) (any, error) {
	switch val := v.(type) {
	case value.String:
		return string(val), nil
	case value.Int:
		return int64(val), nil
	case value.Float:
		return float64(val), nil
	case value.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case value.Time:
		return time.Time(val).UTC().Format(time.RFC3339Nano), nil
	case nil, value.Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s cannot be used as a SQL parameter", value.Kind(v))
	}
}
