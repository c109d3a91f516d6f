package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/flowsim/internal/schema"
	"github.com/roach88/flowsim/internal/value"
)

// SequentialValues is a value generator whose output tests can predict:
// uuid4 fields are numbered "id-0001", "id-0002", ... and now fields take the
// simulated time. Every other generator yields no value, so fields stay null
// unless a key fill or override sets them.
type SequentialValues struct {
	mu sync.Mutex
	n  int
}

// Generate implements emit.ValueGenerator.
func (g *SequentialValues) Generate(f schema.Field, now time.Time) (value.Value, bool) {
	switch f.Generator {
	case "uuid4":
		g.mu.Lock()
		defer g.mu.Unlock()
		g.n++
		return value.String(fmt.Sprintf("id-%04d", g.n)), true
	case "now":
		return value.Time(now), true
	}
	return nil, false
}

// Count returns how many ids have been generated.
func (g *SequentialValues) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
