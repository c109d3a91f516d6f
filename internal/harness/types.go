package harness

import (
	"time"

	"github.com/roach88/flowsim/internal/emit"
	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/entity"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	// Events is the delivered event stream in emission order.
	Events []emit.Event

	// Summary counts what the engine did.
	Summary engine.Summary

	// Store holds the final entity histories.
	Store *entity.Store

	// Start and End bound the simulated period.
	Start time.Time
	End   time.Time

	// Errors holds one message per failed assertion.
	Errors []string
}

// AddError records a failed assertion and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// EventCount returns the number of events of typ, or all events when typ is
// empty.
func (r *Result) EventCount(typ string) int {
	if typ == "" {
		return len(r.Events)
	}
	n := 0
	for _, ev := range r.Events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
