package harness

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/flowsim/internal/config"
	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/entity"
	"github.com/roach88/flowsim/internal/predicate"
	"github.com/roach88/flowsim/internal/value"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion and returns one message per
// failure, prefixed with the assertion index.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertEventCount:
		return assertEventCount(result, a)
	case AssertEntityState:
		return assertEntityState(result, a)
	case AssertVersionCount:
		return assertVersionCount(result, a)
	case AssertTerminationCount:
		return assertTerminationCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertEventCount(result *Result, a Assertion) error {
	what := "events"
	if a.Event != "" {
		what = a.Event + " events"
	}
	return checkCount(AssertEventCount, what, result.EventCount(a.Event), a)
}

func assertTerminationCount(result *Result, a Assertion) error {
	for _, s := range engine.Statuses {
		if s.String() == a.Status {
			return checkCount(AssertTerminationCount, a.Status+" flows", result.Summary.Terminations[s], a)
		}
	}
	names := make([]string, len(engine.Statuses))
	for i, s := range engine.Statuses {
		names[i] = s.String()
	}
	return fmt.Errorf("unknown status %q (want one of %s)", a.Status, strings.Join(names, ", "))
}

// assertVersionCount sums the versions of the selected entities. Without id
// or where every entity of the type counts.
func assertVersionCount(result *Result, a Assertion) error {
	ids, err := selectEntities(result, a, nil)
	if err != nil {
		return err
	}
	total := 0
	for _, id := range ids {
		total += len(result.Store.History(a.Entity, id))
	}
	return checkCount(AssertVersionCount, a.Entity+" versions", total, a)
}

// assertEntityState requires exactly one selected entity whose fields at
// the assertion time include every expected value.
func assertEntityState(result *Result, a Assertion) error {
	at, err := assertionTime(result, a.At)
	if err != nil {
		return err
	}
	ids, err := selectEntities(result, a, at)
	if err != nil {
		return err
	}
	switch len(ids) {
	case 0:
		return &AssertionError{
			Type:     AssertEntityState,
			Expected: fmt.Sprintf("%s %s", a.Entity, describeSelection(a)),
			Actual:   "no entity found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertEntityState,
			Expected: fmt.Sprintf("exactly one %s %s", a.Entity, describeSelection(a)),
			Actual:   fmt.Sprintf("%d entities matched (assertion is ambiguous)", len(ids)),
		}
	}

	fields := fieldsAt(result.Store, a.Entity, ids[0], at)
	for _, key := range sortedKeys(a.Expect) {
		want, err := value.From(a.Expect[key])
		if err != nil {
			return fmt.Errorf("expect.%s: %w", key, err)
		}
		got := fields.Get(key)
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertEntityState,
				Expected: fmt.Sprintf("%s %s field %q = %s", a.Entity, ids[0], key, value.Text(want)),
				Actual:   fmt.Sprintf("%s (%s)", value.Text(got), value.Kind(got)),
			}
		}
	}
	return nil
}

// selectEntities returns the ids chosen by a.ID or a.Where, evaluated at at
// (nil for current versions).
func selectEntities(result *Result, a Assertion, at *time.Time) ([]string, error) {
	if a.ID != "" {
		if fieldsAt(result.Store, a.Entity, a.ID, at) == nil {
			return nil, nil
		}
		return []string{a.ID}, nil
	}

	preds := make([]predicate.Predicate, 0, len(a.Where))
	for _, key := range sortedKeys(a.Where) {
		v, err := value.From(a.Where[key])
		if err != nil {
			return nil, fmt.Errorf("where.%s: %w", key, err)
		}
		preds = append(preds, predicate.Equals{Field: key, Value: v})
	}
	pred := predicate.All(preds...)

	var out []string
	for _, id := range result.Store.IDs(a.Entity) {
		fields := fieldsAt(result.Store, a.Entity, id, at)
		if fields != nil && predicate.Match(pred, fields) {
			out = append(out, id)
		}
	}
	return out, nil
}

func fieldsAt(store *entity.Store, typ, id string, at *time.Time) value.Object {
	var v *entity.Version
	if at == nil {
		v = store.CurrentVersion(typ, id)
	} else {
		v = store.VersionAt(typ, id, *at)
	}
	if v == nil {
		return nil
	}
	return v.Fields
}

// assertionTime parses an RFC 3339 time or an offset from the run start.
// Empty means the final state.
func assertionTime(result *Result, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t, nil
	}
	d, err := config.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("at %q: not a time or offset", s)
	}
	t := result.Start.Add(d)
	return &t, nil
}

func checkCount(typ, what string, got int, a Assertion) error {
	switch {
	case a.Count != nil && got != *a.Count:
		return &AssertionError{Type: typ, Expected: fmt.Sprintf("%d %s", *a.Count, what), Actual: fmt.Sprint(got)}
	case a.Min != nil && got < *a.Min:
		return &AssertionError{Type: typ, Expected: fmt.Sprintf("at least %d %s", *a.Min, what), Actual: fmt.Sprint(got)}
	case a.Max != nil && got > *a.Max:
		return &AssertionError{Type: typ, Expected: fmt.Sprintf("at most %d %s", *a.Max, what), Actual: fmt.Sprint(got)}
	}
	return nil
}

// stateValuesEqual compares numerically across ints and floats, and lets a
// string expectation match any value with the same text, such as a time.
func stateValuesEqual(want, got value.Value) bool {
	if value.Equal(want, got) {
		return true
	}
	s, ok := want.(value.String)
	return ok && !value.IsNull(got) && value.Text(got) == string(s)
}

func describeSelection(a Assertion) string {
	if a.ID != "" {
		return "with id " + a.ID
	}
	if len(a.Where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(a.Where))
	for _, k := range sortedKeys(a.Where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a.Where[k]))
	}
	return "where " + strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
