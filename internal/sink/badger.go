package sink

import (
	"context"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/flowsim/internal/emit"
)

// Badger stores events in an embedded key-value log. Keys sort by event
// time:
//
//	event:<ets, zero padded>:<event_id>  => canonical JSON record
type Badger struct {
	db   *badger.DB
	path string
}

// OpenBadger opens a database at path, or in memory when path is empty.
func OpenBadger(path string) (*Badger, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db, path: path}, nil
}

// Name implements Sink.
func (b *Badger) Name() string {
	if b.path == "" {
		return "badger:memory"
	}
	return "badger:" + b.path
}

// EventKey returns the key an event is stored under.
func EventKey(ev emit.Event) []byte {
	return []byte(fmt.Sprintf("event:%020d:%s", ev.Millis(), ev.ID))
}

// Deliver implements Sink.
func (b *Badger) Deliver(_ context.Context, ev emit.Event) error {
	rec, err := ev.JSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(EventKey(ev), rec)
	})
}

// Scan calls fn for every stored record in key order.
func (b *Badger) Scan(fn func(key, record []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("event:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rec, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (b *Badger) Close() error { return b.db.Close() }
