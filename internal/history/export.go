package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/flowsim/internal/entity"
	"github.com/roach88/flowsim/internal/value"
)

// Run describes the simulation an export came from.
type Run struct {
	Seed  uint64
	Start time.Time
	End   time.Time
}

// Export writes every version of every entity in src as a new run and
// returns the run id. The export is a single transaction.
func (s *Store) Export(ctx context.Context, src *entity.Store, run Run) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO runs (seed, started_at, ended_at, exported_at) VALUES (?, ?, ?, ?)",
		int64(run.Seed), run.Start.UnixNano(), run.End.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entity_versions
			(run_id, entity_type, entity_id, seq, valid_from, valid_to, flow_id, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, typ := range src.Types() {
		for _, id := range src.IDs(typ) {
			for seq, v := range src.History(typ, id) {
				if err := insertVersion(ctx, stmt, runID, typ, id, seq, v); err != nil {
					return 0, err
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit export: %w", err)
	}
	return runID, nil
}

func insertVersion(ctx context.Context, stmt *sql.Stmt, runID int64, typ, id string, seq int, v *entity.Version) error {
	data, err := value.Marshal(v.Fields)
	if err != nil {
		return fmt.Errorf("encode %s %s version %d: %w", typ, id, seq, err)
	}
	var validTo, flowID any
	if v.ValidTo != nil {
		validTo = v.ValidTo.UnixNano()
	}
	if claim := v.Claim(); claim != "" {
		flowID = claim
	}
	if _, err := stmt.ExecContext(ctx, runID, typ, id, seq, v.ValidFrom.UnixNano(), validTo, flowID, string(data)); err != nil {
		return fmt.Errorf("insert %s %s version %d: %w", typ, id, seq, err)
	}
	return nil
}
