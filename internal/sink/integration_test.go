package sink

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests talk to real servers and run only when the matching
// FLOWSIM_TEST_* variable is set, for example:
//
//	FLOWSIM_TEST_REDIS_ADDR=localhost:6379 go test ./internal/sink/...
func requireEnv(t *testing.T, name string) string {
	t.Helper()
	v := os.Getenv(name)
	if v == "" {
		t.Skipf("%s not set", name)
	}
	return v
}

func TestRedisStreamsIntegration(t *testing.T) {
	addr := requireEnv(t, "FLOWSIM_TEST_REDIS_ADDR")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "flowsim-test-" + time.Now().Format("150405.000000") + ":"
	s, err := OpenRedisStreams(ctx, addr, prefix, 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Deliver(ctx, testEvent(1, "Login")))
	require.NoError(t, s.Deliver(ctx, testEvent(2, "Login")))

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	msgs, err := client.XRange(ctx, s.StreamKey("Login"), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ev0000000001", msgs[0].Values["event_id"])
	require.NoError(t, client.Del(ctx, s.StreamKey("Login")).Err())
}

func TestPostgresIntegration(t *testing.T) {
	dsn := requireEnv(t, "FLOWSIM_TEST_POSTGRES_DSN")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	table := "flowsim_test_events"
	p, err := OpenPostgres(ctx, dsn, table)
	require.NoError(t, err)
	_, err = p.pool.Exec(ctx, "TRUNCATE "+p.table)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Deliver(ctx, testEvent(i, "Purchase")))
	}
	require.NoError(t, p.flush(ctx))

	var n int
	require.NoError(t, p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+p.table+" WHERE payload->>'event_type' = 'Purchase'").Scan(&n))
	assert.Equal(t, 3, n)
	require.NoError(t, p.Close())
}

func TestMongoIntegration(t *testing.T) {
	uri := requireEnv(t, "FLOWSIM_TEST_MONGO_URI")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m, err := OpenMongo(ctx, uri, "flowsim_test")
	require.NoError(t, err)
	defer m.Close()
	coll := m.db.Collection("Login")
	_, _ = coll.DeleteMany(ctx, map[string]any{})

	require.NoError(t, m.Deliver(ctx, testEvent(1, "Login")))
	n, err := coll.CountDocuments(ctx, map[string]any{"_id": "ev0000000001"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInfluxIntegration(t *testing.T) {
	url := requireEnv(t, "FLOWSIM_TEST_INFLUX_URL")
	s := OpenInflux(url, os.Getenv("FLOWSIM_TEST_INFLUX_TOKEN"),
		os.Getenv("FLOWSIM_TEST_INFLUX_ORG"), os.Getenv("FLOWSIM_TEST_INFLUX_BUCKET"))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Deliver(ctx, testEvent(1, "Login")))
}
