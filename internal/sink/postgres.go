package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/flowsim/internal/emit"
)

const postgresBatch = 200

// Postgres writes events into a single table with a JSONB payload column.
// Inserts are queued in a pgx.Batch and sent every postgresBatch events.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
	batch *pgx.Batch
}

// OpenPostgres connects to dsn and creates the table if needed.
func OpenPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	if table == "" {
		table = "events"
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize(), batch: &pgx.Batch{}}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id   TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		event_time TIMESTAMPTZ NOT NULL,
		session_id TEXT NOT NULL,
		payload    JSONB NOT NULL
	)`, p.table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return p, nil
}

// Name implements Sink.
func (p *Postgres) Name() string { return "postgres:" + p.table }

// Deliver implements Sink.
func (p *Postgres) Deliver(ctx context.Context, ev emit.Event) error {
	payload, err := ev.JSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.batch.Queue(
		fmt.Sprintf("INSERT INTO %s (event_id, event_type, event_time, session_id, payload) VALUES ($1, $2, $3, $4, $5)", p.table),
		ev.ID, ev.Type, ev.Time, ev.SessionID, string(payload),
	)
	if p.batch.Len() >= postgresBatch {
		return p.flush(ctx)
	}
	return nil
}

func (p *Postgres) flush(ctx context.Context) error {
	if p.batch.Len() == 0 {
		return nil
	}
	b := p.batch
	p.batch = &pgx.Batch{}
	if err := p.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Close flushes queued inserts and closes the pool.
func (p *Postgres) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.flush(ctx)
	p.pool.Close()
	return err
}
