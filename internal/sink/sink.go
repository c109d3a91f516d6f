// Package sink delivers materialized events to output systems.
//
// Every Sink receives every event in emission order. Delivery failures are
// the sink's concern: Fanout logs them and keeps going, so a broken output
// never changes the course of a simulation.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/flowsim/internal/emit"
)

// Sink is an output for events.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string
	Deliver(ctx context.Context, ev emit.Event) error
	Close() error
}

// Fanout delivers each event to all sinks in order.
type Fanout struct {
	sinks    []Sink
	logger   *slog.Logger
	failures atomic.Int64
}

// NewFanout returns a fanout over sinks. A nil logger uses slog.Default().
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, logger: logger}
}

// Name implements Sink.
func (f *Fanout) Name() string { return "fanout" }

// Add appends a sink.
func (f *Fanout) Add(s Sink) { f.sinks = append(f.sinks, s) }

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Deliver sends ev to every sink. Sink errors are logged and counted, never
// returned.
func (f *Fanout) Deliver(ctx context.Context, ev emit.Event) error {
	for _, s := range f.sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			f.failures.Add(1)
			f.logger.Warn("event delivery failed",
				"sink", s.Name(),
				"event_type", ev.Type,
				"event_id", ev.ID,
				"error", err)
		}
	}
	return nil
}

// Failures returns the number of failed deliveries so far.
func (f *Fanout) Failures() int64 { return f.failures.Load() }

// Close closes all sinks concurrently and joins their errors.
func (f *Fanout) Close() error {
	var g errgroup.Group
	errs := make([]error, len(f.sinks))
	for i, s := range f.sinks {
		g.Go(func() error {
			if err := s.Close(); err != nil {
				errs[i] = fmt.Errorf("close %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
