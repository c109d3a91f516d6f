package engine

// DefaultMaxSteps bounds the intents one instance may yield. A behavior that
// emits forever without decaying never reaches the tick boundary; the quota
// ends it instead.
const DefaultMaxSteps = 1000

// stepQuota counts the intents an instance has yielded.
type stepQuota struct {
	limit   int
	current int
}

// check counts one step. limit <= 0 disables the quota.
func (q *stepQuota) check() error {
	q.current++
	if q.limit > 0 && q.current > q.limit {
		return &StepsExceededError{Steps: q.current, Limit: q.limit}
	}
	return nil
}
