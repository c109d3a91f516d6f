// Package emit turns Emit intents into concrete events.
package emit

import (
	"time"

	"github.com/roach88/flowsim/internal/value"
)

// Metadata field names added to every event payload.
const (
	FieldEventID   = "sys__eid"
	FieldEventTime = "sys__ets"
	FieldSessionID = "sys__sid"
	FieldEventType = "event_type"
)

// Event is one materialized event.
type Event struct {
	ID        string
	Type      string
	Time      time.Time
	SessionID string
	// Fields holds schema fields after generation, key fill and overrides.
	Fields value.Object
}

// Millis is the event time in Unix milliseconds, the sys__ets value.
func (e Event) Millis() int64 {
	return e.Time.UnixMilli()
}

// Payload returns the fields plus the sys__ metadata fields.
func (e Event) Payload() value.Object {
	out := e.Fields.Clone()
	out[FieldEventID] = value.String(e.ID)
	out[FieldEventTime] = value.Int(e.Millis())
	out[FieldSessionID] = value.String(e.SessionID)
	return out
}

// Record returns the payload tagged with the event type, the shape written
// by self-describing sinks (JSON lines, documents).
func (e Event) Record() value.Object {
	out := e.Payload()
	out[FieldEventType] = value.String(e.Type)
	return out
}

// JSON encodes Record as canonical JSON.
func (e Event) JSON() ([]byte, error) {
	return value.Marshal(e.Record())
}
