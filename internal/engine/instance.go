package engine

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/flowsim/internal/entity"
	"github.com/roach88/flowsim/internal/flow"
	"github.com/roach88/flowsim/internal/value"
)

// Status is the lifecycle state of a flow instance.
type Status int

const (
	StatusRunnable Status = iota
	StatusCompleted
	StatusDecayed
	StatusBoundaryExceeded
	StatusErrored
)

// Statuses lists the terminal statuses in display order.
var Statuses = []Status{StatusCompleted, StatusDecayed, StatusBoundaryExceeded, StatusErrored}

func (s Status) String() string {
	switch s {
	case StatusRunnable:
		return "runnable"
	case StatusCompleted:
		return "completed"
	case StatusDecayed:
		return "decayed"
	case StatusBoundaryExceeded:
		return "boundary_exceeded"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends an instance.
func (s Status) Terminal() bool { return s != StatusRunnable }

// Instance is one running execution of a template.
type Instance struct {
	ID       string
	Seq      int64
	Template *flow.Template
	// Start is the local clock value the instance began with.
	Start time.Time
	// Clock is the instance's local clock.
	Clock  time.Time
	Status Status
	// Err is set when Status is StatusErrored.
	Err error

	claims map[string]string
	store  *entity.Store
	task   flow.Task
	quota  stepQuota
}

// FlowID implements flow.Env.
func (i *Instance) FlowID() string { return i.ID }

// Now implements flow.Env.
func (i *Instance) Now() time.Time { return i.Clock }

// Claimed implements flow.Env.
func (i *Instance) Claimed(entityType string) (string, bool) {
	id, ok := i.claims[entityType]
	return id, ok
}

// Claims returns a copy of the entity type to id claims.
func (i *Instance) Claims() map[string]string {
	return maps.Clone(i.claims)
}

// Entity returns the claimed entity of typ with its current fields.
func (i *Instance) Entity(typ string) (string, value.Object, bool) {
	id, ok := i.claims[typ]
	if !ok {
		return "", nil, false
	}
	v := i.store.CurrentVersion(typ, id)
	if v == nil {
		return "", nil, false
	}
	return id, v.Fields, true
}

// Steps returns how many intents the instance has yielded.
func (i *Instance) Steps() int { return i.quota.current }

func (i *Instance) claimedTypes() []string {
	return slices.Sorted(maps.Keys(i.claims))
}
