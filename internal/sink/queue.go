package sink

import (
	"context"
	"sync"

	"github.com/roach88/flowsim/internal/emit"
)

// Queue hands events to a goroutine that delivers them to the wrapped sink
// in order. Deliver blocks only while the buffer is full. Queued events are
// delivered even after the caller's context is cancelled.
type Queue struct {
	next  Sink
	ch    chan emit.Event
	done  chan struct{}
	once  sync.Once
	ctx   context.Context
	errMu sync.Mutex
	err   error
}

// NewQueue starts delivering to next. Drain must be called to stop it.
func NewQueue(ctx context.Context, next Sink, buffer int) *Queue {
	q := &Queue{
		next: next,
		ch:   make(chan emit.Event, max(buffer, 0)),
		done: make(chan struct{}),
		ctx:  context.WithoutCancel(ctx),
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for ev := range q.ch {
		if err := q.next.Deliver(q.ctx, ev); err != nil {
			q.errMu.Lock()
			if q.err == nil {
				q.err = err
			}
			q.errMu.Unlock()
		}
	}
}

// Name implements Sink.
func (q *Queue) Name() string { return "queue(" + q.next.Name() + ")" }

// Deliver enqueues ev. It never reports delivery errors; see Err.
func (q *Queue) Deliver(_ context.Context, ev emit.Event) error {
	q.ch <- ev
	return nil
}

// Drain waits until every queued event has been delivered and stops the
// delivery goroutine. Deliver must not be called afterwards.
func (q *Queue) Drain() {
	q.once.Do(func() { close(q.ch) })
	<-q.done
}

// Err returns the first delivery error, if any.
func (q *Queue) Err() error {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	return q.err
}

// Close drains the queue and closes the wrapped sink.
func (q *Queue) Close() error {
	q.Drain()
	return q.next.Close()
}
