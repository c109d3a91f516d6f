package sink

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/roach88/flowsim/internal/emit"
)

// Throttled caps the delivery rate of the wrapped sink. Deliver blocks until
// the limiter admits the event or ctx is done.
type Throttled struct {
	Sink
	limiter *rate.Limiter
}

// Throttle wraps s with a limit of perSecond events and the given burst.
func Throttle(s Sink, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{Sink: s, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Deliver implements Sink.
func (t *Throttled) Deliver(ctx context.Context, ev emit.Event) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.Sink.Deliver(ctx, ev)
}
