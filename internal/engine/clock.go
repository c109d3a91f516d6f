package engine

import (
	"sync/atomic"
	"time"
)

// Window is one tick: the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Len returns the window's duration.
func (w Window) Len() time.Duration { return w.End.Sub(w.Start) }

// GlobalClock walks the simulation horizon in ticks. The last tick is cut
// short at the horizon.
type GlobalClock struct {
	now  time.Time
	end  time.Time
	tick time.Duration
}

// NewGlobalClock returns a clock over [start, start+duration).
func NewGlobalClock(start time.Time, duration, tick time.Duration) *GlobalClock {
	return &GlobalClock{now: start, end: start.Add(duration), tick: tick}
}

// Now returns the start of the next tick, or the horizon once exhausted.
func (c *GlobalClock) Now() time.Time { return c.now }

// Next returns the next tick window and advances the clock past it.
// ok is false once the horizon is reached.
func (c *GlobalClock) Next() (w Window, ok bool) {
	if !c.now.Before(c.end) {
		return Window{}, false
	}
	end := c.now.Add(c.tick)
	if end.After(c.end) {
		end = c.end
	}
	w = Window{Start: c.now, End: end}
	c.now = end
	return w, true
}

// Counter hands out increasing sequence numbers. Instances are numbered in
// instantiation order, which is also the round-robin order within a tick.
type Counter struct {
	seq atomic.Int64
}

// Next returns the next sequence number, starting at 1.
func (c *Counter) Next() int64 { return c.seq.Add(1) }

// Current returns the last number handed out.
func (c *Counter) Current() int64 { return c.seq.Load() }
