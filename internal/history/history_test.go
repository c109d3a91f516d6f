package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/entity"
	"github.com/roach88/flowsim/internal/predicate"
	"github.com/roach88/flowsim/internal/value"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// bank has a1 (1000, then 900 at +1m, claimed by flow-1 at +2m) and a2 (50).
func bank(t *testing.T) *entity.Store {
	t.Helper()
	src := entity.NewStore()
	require.NoError(t, src.Register("Account", "a1", value.Object{
		"balance": value.Int(1000),
		"owner":   value.String("ann"),
	}, t0))
	require.NoError(t, src.Register("Account", "a2", value.Object{
		"balance": value.Int(50),
		"owner":   value.String("cid"),
	}, t0))
	require.NoError(t, src.Mutate("Account", "a1",
		[]entity.Update{entity.Subtract("balance", value.Int(100))}, t0.Add(time.Minute)))
	require.NoError(t, src.Mutate("Account", "a1",
		[]entity.Update{entity.Claim("flow-1")}, t0.Add(2*time.Minute)))
	return src
}

func ids(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestOpen_PragmasAndVersion(t *testing.T) {
	s := openTestStore(t)

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	fk, err := s.pragma("foreign_keys")
	require.NoError(t, err)
	assert.Equal(t, "1", fk)

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestExport_History(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	run, err := s.Export(ctx, bank(t), Run{Seed: 7, Start: t0, End: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), run)

	rows, err := s.History(ctx, run, "Account", "a1")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 0, rows[0].Seq)
	assert.Equal(t, t0, rows[0].ValidFrom)
	require.NotNil(t, rows[0].ValidTo)
	assert.Equal(t, t0.Add(time.Minute), *rows[0].ValidTo)
	assert.Equal(t, value.Int(1000), rows[0].Fields.Get("balance"))
	assert.Equal(t, value.Null{}, rows[0].Fields.Get(entity.ClaimField))
	assert.Empty(t, rows[0].FlowID)

	assert.Equal(t, value.Int(900), rows[1].Fields.Get("balance"))
	assert.False(t, rows[1].Current())

	assert.True(t, rows[2].Current())
	assert.Equal(t, "flow-1", rows[2].FlowID)
	assert.Equal(t, value.String("flow-1"), rows[2].Fields.Get(entity.ClaimField))

	types, err := s.Types(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Account"}, types)
}

func TestAt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Export(ctx, bank(t), Run{Seed: 7, Start: t0, End: t0.Add(time.Hour)})
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		pred predicate.Predicate
		want []string
	}{
		{"before registration", t0.Add(-time.Minute), nil, nil},
		{"all at start", t0, nil, []string{"a1", "a2"}},
		{"greater than at start", t0.Add(30 * time.Second), predicate.GreaterThan{Field: "balance", Value: value.Int(100)}, []string{"a1"}},
		{"less than after withdrawal", t0.Add(90 * time.Second), predicate.LessThan{Field: "balance", Value: value.Int(901)}, []string{"a1", "a2"}},
		{"version boundary is half open", t0.Add(time.Minute), predicate.Equals{Field: "balance", Value: value.Int(900)}, []string{"a1"}},
		{"unclaimed", t0.Add(3 * time.Minute), predicate.Equals{Field: entity.ClaimField, Value: value.Null{}}, []string{"a2"}},
		{"claimed", t0.Add(3 * time.Minute), predicate.NotEquals{Field: entity.ClaimField, Value: value.Null{}}, []string{"a1"}},
		{"not equals string", t0, predicate.NotEquals{Field: "owner", Value: value.String("ann")}, []string{"a2"}},
		{"in", t0, predicate.In{Field: "owner", Values: []value.Value{value.String("ann"), value.String("bob")}}, []string{"a1"}},
		{"empty in", t0, predicate.In{Field: "owner"}, nil},
		{"in with null matches missing field", t0, predicate.In{Field: "tier", Values: []value.Value{value.Null{}, value.String("gold")}}, []string{"a1", "a2"}},
		{"in with null and a value", t0, predicate.In{Field: "owner", Values: []value.Value{value.Null{}, value.String("cid")}}, []string{"a2"}},
		{"in only null", t0, predicate.In{Field: "owner", Values: []value.Value{value.Null{}}}, nil},
		{"and", t0.Add(3 * time.Minute), predicate.And{Predicates: []predicate.Predicate{
			predicate.Equals{Field: "owner", Value: value.String("ann")},
			predicate.GreaterThan{Field: "balance", Value: value.Float(899.5)},
		}}, []string{"a1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.At(ctx, 0, "Account", tt.at, tt.pred)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, rows)
				return
			}
			assert.Equal(t, tt.want, ids(rows))
		})
	}
}

func TestAt_SelectsRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.Export(ctx, bank(t), Run{Seed: 1, Start: t0, End: t0.Add(time.Hour)})
	require.NoError(t, err)

	other := entity.NewStore()
	require.NoError(t, other.Register("Account", "z9", value.Object{"balance": value.Int(1)}, t0))
	second, err := s.Export(ctx, other, Run{Seed: 2, Start: t0, End: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, latest)

	rows, err := s.At(ctx, 0, "Account", t0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"z9"}, ids(rows))

	rows, err = s.At(ctx, first, "Account", t0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids(rows))
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = s.GetRun(ctx, 0)
	assert.ErrorContains(t, err, "no exported runs")

	id, err := s.Export(ctx, bank(t), Run{Seed: 42, Start: t0, End: t0.Add(time.Hour)})
	require.NoError(t, err)

	runs, err = s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, uint64(42), runs[0].Seed)
	assert.Equal(t, t0, runs[0].Start)
	assert.Equal(t, t0.Add(time.Hour), runs[0].End)
	assert.False(t, runs[0].ExportedAt.IsZero())

	got, err := s.GetRun(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, runs[0], got)

	_, err = s.GetRun(ctx, id+1)
	assert.ErrorContains(t, err, "not found")
}

func TestAt_NoRuns(t *testing.T) {
	s := openTestStore(t)
	_, err := s.At(context.Background(), 0, "Account", t0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no exported runs")
}

func TestCompilePredicate(t *testing.T) {
	tests := []struct {
		name   string
		pred   predicate.Predicate
		sql    string
		params []any
	}{
		{"nil", nil, "1 = 1", nil},
		{"equals", predicate.Equals{Field: "tier", Value: value.String("gold")},
			"json_extract(fields, ?) = ?", []any{`$."tier"`, "gold"}},
		{"equals null", predicate.Equals{Field: "flow_id", Value: value.Null{}},
			"json_extract(fields, ?) IS NULL", []any{`$."flow_id"`}},
		{"not equals", predicate.NotEquals{Field: "n", Value: value.Int(3)},
			"json_extract(fields, ?) IS NOT ?", []any{`$."n"`, int64(3)}},
		{"greater than bool", predicate.GreaterThan{Field: "ok", Value: value.Bool(false)},
			"json_extract(fields, ?) > ?", []any{`$."ok"`, int64(0)}},
		{"less than time", predicate.LessThan{Field: "at", Value: value.Time(t0)},
			"json_extract(fields, ?) < ?", []any{`$."at"`, "2024-01-01T00:00:00Z"}},
		{"quoted field", predicate.Equals{Field: `a"b`, Value: value.Float(1.5)},
			"json_extract(fields, ?) = ?", []any{`$."a\"b"`, 1.5}},
		{"in", predicate.In{Field: "x", Values: []value.Value{value.Int(1), value.Int(2)}},
			"json_extract(fields, ?) IN (?, ?)", []any{`$."x"`, int64(1), int64(2)}},
		{"in with null", predicate.In{Field: "x", Values: []value.Value{value.Int(1), value.Null{}}},
			"(json_extract(fields, ?) IN (?) OR json_extract(fields, ?) IS NULL)", []any{`$."x"`, int64(1), `$."x"`}},
		{"in only null", predicate.In{Field: "x", Values: []value.Value{value.Null{}}},
			"json_extract(fields, ?) IS NULL", []any{`$."x"`}},
		{"and", predicate.And{Predicates: []predicate.Predicate{
			predicate.Equals{Field: "a", Value: value.Int(1)},
			predicate.LessThan{Field: "b", Value: value.Int(2)},
		}}, "(json_extract(fields, ?) = ?) AND (json_extract(fields, ?) < ?)",
			[]any{`$."a"`, int64(1), `$."b"`, int64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := CompilePredicate(tt.pred)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompilePredicate_RejectsCollections(t *testing.T) {
	_, _, err := CompilePredicate(predicate.Equals{Field: "tags", Value: value.List{value.String("a")}})
	require.Error(t, err)
}
