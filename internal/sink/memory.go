package sink

import (
	"context"
	"sync"

	"github.com/roach88/flowsim/internal/emit"
)

// Memory keeps delivered events in memory. The harness and tests read them
// back with Events.
type Memory struct {
	mu     sync.Mutex
	events []emit.Event
	closed bool
}

// NewMemory returns an empty memory sink.
func NewMemory() *Memory { return &Memory{} }

// Name implements Sink.
func (m *Memory) Name() string { return "memory" }

// Deliver implements Sink.
func (m *Memory) Deliver(_ context.Context, ev emit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Close implements Sink.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns a copy of the delivered events.
func (m *Memory) Events() []emit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]emit.Event(nil), m.events...)
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
