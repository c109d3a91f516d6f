package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/flowsim/internal/predicate"
	"github.com/roach88/flowsim/internal/value"
)

// Row is one exported entity version.
type Row struct {
	Type      string
	ID        string
	Seq       int
	ValidFrom time.Time
	ValidTo   *time.Time
	FlowID    string
	Fields    value.Object
}

// Current reports whether the row is the entity's latest version.
func (r Row) Current() bool { return r.ValidTo == nil }

const rowColumns = "entity_type, entity_id, seq, valid_from, valid_to, flow_id, fields"

// At returns the versions of typ valid at t in run that satisfy pred,
// ordered by entity id. A run of 0 selects the latest export.
func (s *Store) At(ctx context.Context, run int64, typ string, t time.Time, pred predicate.Predicate) ([]Row, error) {
	run, err := s.resolveRun(ctx, run)
	if err != nil {
		return nil, err
	}
	where, params, err := CompilePredicate(pred)
	if err != nil {
		return nil, fmt.Errorf("compile predicate: %w", err)
	}

	ns := t.UnixNano()
	query := fmt.Sprintf(`SELECT %s FROM entity_versions
		WHERE run_id = ? AND entity_type = ?
		AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		AND (%s)
		ORDER BY entity_id ASC COLLATE BINARY`, rowColumns, where)
	args := append([]any{run, typ, ns, ns}, params...)
	return s.queryRows(ctx, query, args...)
}

// History returns every version of one entity in run, oldest first.
func (s *Store) History(ctx context.Context, run int64, typ, id string) ([]Row, error) {
	run, err := s.resolveRun(ctx, run)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM entity_versions
		WHERE run_id = ? AND entity_type = ? AND entity_id = ?
		ORDER BY seq ASC`, rowColumns)
	return s.queryRows(ctx, query, run, typ, id)
}

// Types returns the entity types exported in run, sorted.
func (s *Store) Types(ctx context.Context, run int64) ([]string, error) {
	run, err := s.resolveRun(ctx, run)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT entity_type FROM entity_versions WHERE run_id = ? ORDER BY entity_type ASC COLLATE BINARY", run)
	if err != nil {
		return nil, fmt.Errorf("query types: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			return nil, fmt.Errorf("scan type: %w", err)
		}
		out = append(out, typ)
	}
	return out, rows.Err()
}

// ExportedRun is one recorded export.
type ExportedRun struct {
	ID int64
	Run
	ExportedAt time.Time
}

// Runs returns every export, oldest first.
func (s *Store) Runs(ctx context.Context) ([]ExportedRun, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, seed, started_at, ended_at, exported_at FROM runs ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []ExportedRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one export. A run of 0 selects the latest.
func (s *Store) GetRun(ctx context.Context, run int64) (ExportedRun, error) {
	run, err := s.resolveRun(ctx, run)
	if err != nil {
		return ExportedRun{}, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, seed, started_at, ended_at, exported_at FROM runs WHERE id = ?", run)
	if err != nil {
		return ExportedRun{}, fmt.Errorf("query run %d: %w", run, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ExportedRun{}, err
		}
		return ExportedRun{}, fmt.Errorf("run %d not found", run)
	}
	return scanRun(rows)
}

func scanRun(rows *sql.Rows) (ExportedRun, error) {
	var (
		r                        ExportedRun
		seed, start, end, export int64
	)
	if err := rows.Scan(&r.ID, &seed, &start, &end, &export); err != nil {
		return ExportedRun{}, fmt.Errorf("scan run: %w", err)
	}
	r.Seed = uint64(seed)
	r.Start = time.Unix(0, start).UTC()
	r.End = time.Unix(0, end).UTC()
	r.ExportedAt = time.Unix(0, export).UTC()
	return r, nil
}

func (s *Store) resolveRun(ctx context.Context, run int64) (int64, error) {
	if run != 0 {
		return run, nil
	}
	latest, err := s.LatestRun(ctx)
	if err != nil {
		return 0, err
	}
	if latest == 0 {
		return 0, fmt.Errorf("no exported runs")
	}
	return latest, nil
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

func scanRow(rows *sql.Rows) (Row, error) {
	var (
		r       Row
		from    int64
		to      sql.NullInt64
		flowID  sql.NullString
		encoded string
	)
	if err := rows.Scan(&r.Type, &r.ID, &r.Seq, &from, &to, &flowID, &encoded); err != nil {
		return Row{}, fmt.Errorf("scan version: %w", err)
	}
	r.ValidFrom = time.Unix(0, from).UTC()
	if to.Valid {
		t := time.Unix(0, to.Int64).UTC()
		r.ValidTo = &t
	}
	r.FlowID = flowID.String
	fields, err := value.ParseObject([]byte(encoded))
	if err != nil {
		return Row{}, fmt.Errorf("decode %s %s version %d: %w", r.Type, r.ID, r.Seq, err)
	}
	r.Fields = fields
	return r, nil
}
