package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/flowsim/internal/emit"
)

// RedisStreams appends events to one Redis stream per event type:
//
//	<prefix><event_type>  => XADD entries {event_id, session_id, ets, payload}
type RedisStreams struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisStreams wraps an existing client. prefix defaults to "flowsim:".
// maxLen > 0 caps each stream approximately.
func NewRedisStreams(client *redis.Client, prefix string, maxLen int64) *RedisStreams {
	if prefix == "" {
		prefix = "flowsim:"
	}
	return &RedisStreams{client: client, prefix: prefix, maxLen: maxLen}
}

// OpenRedisStreams connects to addr and verifies the connection.
func OpenRedisStreams(ctx context.Context, addr, prefix string, maxLen int64) (*RedisStreams, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return NewRedisStreams(client, prefix, maxLen), nil
}

// Name implements Sink.
func (r *RedisStreams) Name() string { return "redis:" + r.prefix }

// StreamKey returns the stream an event type is written to.
func (r *RedisStreams) StreamKey(eventType string) string {
	return r.prefix + eventType
}

// Deliver implements Sink.
func (r *RedisStreams) Deliver(ctx context.Context, ev emit.Event) error {
	payload, err := ev.JSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.StreamKey(ev.Type),
		Values: map[string]any{
			"event_id":   ev.ID,
			"session_id": ev.SessionID,
			"ets":        ev.Millis(),
			"payload":    string(payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return r.client.XAdd(ctx, args).Err()
}

// Close closes the client.
func (r *RedisStreams) Close() error {
	return r.client.Close()
}
