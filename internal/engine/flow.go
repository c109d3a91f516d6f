package engine

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces flow instance ids and event ids.
type IDGenerator interface {
	// FlowID returns a new flow instance id (also the event session id).
	FlowID() string
	// EventID returns a new 12 character event id.
	EventID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 flow ids and random event
// ids. Use it when reproducibility of ids does not matter.
type UUIDv7Generator struct{}

// FlowID implements IDGenerator.
func (UUIDv7Generator) FlowID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// EventID implements IDGenerator.
func (UUIDv7Generator) EventID() string {
	return shortID(uuid.New())
}

// SeededGenerator derives UUIDv4 ids from a seeded stream, so a seeded run
// reproduces its ids.
type SeededGenerator struct {
	mu  sync.Mutex
	src io.Reader
}

// NewSeededGenerator returns a generator whose ids depend only on seed.
func NewSeededGenerator(seed uint64) *SeededGenerator {
	var key [32]byte
	for i := 0; i < 8; i++ {
		key[i] = byte(seed >> (8 * i))
	}
	copy(key[8:], "flowsim-ids")
	return &SeededGenerator{src: rand.NewChaCha8(key)}
}

func (g *SeededGenerator) next() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return uuid.Must(uuid.NewRandomFromReader(g.src))
}

// FlowID implements IDGenerator.
func (g *SeededGenerator) FlowID() string { return g.next().String() }

// EventID implements IDGenerator.
func (g *SeededGenerator) EventID() string { return shortID(g.next()) }

func shortID(u uuid.UUID) string {
	return strings.ReplaceAll(u.String(), "-", "")[:12]
}

// FixedGenerator returns predetermined flow ids and numbered event ids.
// Tests use it to assert exact ids.
type FixedGenerator struct {
	mu     sync.Mutex
	flows  []string
	idx    int
	events int
}

// NewFixedGenerator returns flow ids in the given order.
//
//	gen := NewFixedGenerator("flow-1", "flow-2")
//	gen.FlowID() // "flow-1"
//	gen.FlowID() // "flow-2"
//	gen.FlowID() // panic: all flow ids used
func NewFixedGenerator(flowIDs ...string) *FixedGenerator {
	return &FixedGenerator{flows: flowIDs}
}

// FlowID implements IDGenerator. It panics once the ids are exhausted.
func (g *FixedGenerator) FlowID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.flows) {
		panic("FixedGenerator: all flow ids used")
	}
	id := g.flows[g.idx]
	g.idx++
	return id
}

// EventID implements IDGenerator: "ev0000000001", "ev0000000002", ...
func (g *FixedGenerator) EventID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events++
	return fmt.Sprintf("ev%010d", g.events)
}
