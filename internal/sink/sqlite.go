package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/flowsim/internal/emit"
	"github.com/roach88/flowsim/internal/value"
)

// sqliteBatch is the number of events written per transaction.
const sqliteBatch = 500

// SQLite writes events to a SQLite database, one table per event type.
// Tables are created on first use with a column per payload field; fields
// that appear later are added with ALTER TABLE.
type SQLite struct {
	path    string
	db      *sql.DB
	tx      *sql.Tx
	pending int
	columns map[string]map[string]bool // table -> column set
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return &SQLite{path: path, db: db, columns: make(map[string]map[string]bool)}, nil
}

// Name implements Sink.
func (s *SQLite) Name() string { return "sqlite:" + s.path }

// DB exposes the database for inspection.
func (s *SQLite) DB() *sql.DB { return s.db }

// Deliver implements Sink.
func (s *SQLite) Deliver(ctx context.Context, ev emit.Event) error {
	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		s.tx = tx
	}

	payload := ev.Payload()
	keys := payload.Keys()
	if err := s.ensureTable(ctx, ev.Type, payload, keys); err != nil {
		return err
	}

	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = quoteIdent(k)
		marks[i] = "?"
		args[i] = sqlArg(payload[k])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(ev.Type), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := s.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", ev.Type, err)
	}

	s.pending++
	if s.pending >= sqliteBatch {
		return s.commit()
	}
	return nil
}

func (s *SQLite) ensureTable(ctx context.Context, table string, payload value.Object, keys []string) error {
	known, ok := s.columns[table]
	if !ok {
		defs := make([]string, len(keys))
		for i, k := range keys {
			defs[i] = quoteIdent(k) + " " + sqlType(payload[k])
			if k == emit.FieldEventID {
				defs[i] += " PRIMARY KEY"
			}
		}
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
		if _, err := s.tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		known = make(map[string]bool, len(keys))
		for _, k := range keys {
			known[k] = true
		}
		s.columns[table] = known
		return nil
	}
	for _, k := range keys {
		if known[k] {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(k), sqlType(payload[k]))
		if _, err := s.tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, k, err)
		}
		known[k] = true
	}
	return nil
}

func (s *SQLite) commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	s.pending = 0
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close commits pending events and closes the database.
func (s *SQLite) Close() error {
	err := s.commit()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(v value.Value) string {
	switch v.(type) {
	case value.Int, value.Bool:
		return "INTEGER"
	case value.Float:
		return "REAL"
	default:
		return "TEXT"
	}
}

// sqlArg converts a value to a database/sql argument. Times are stored as
// RFC 3339 text, lists and objects as JSON.
func sqlArg(v value.Value) any {
	switch val := v.(type) {
	case value.Time:
		return time.Time(val).UTC().Format(time.RFC3339Nano)
	case value.List, value.Object:
		return value.Text(val)
	default:
		return value.Native(v)
	}
}
