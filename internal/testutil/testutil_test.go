package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/flowsim/internal/schema"
	"github.com/roach88/flowsim/internal/value"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClock(t *testing.T) {
	c := NewClock(t0)
	assert.Equal(t, t0, c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, t0.Add(time.Minute), c.Now())

	c.Set(t0)
	assert.Equal(t, t0, c.Now())

	now := c.Now
	assert.Equal(t, t0, now())
}

func TestSequentialValues(t *testing.T) {
	g := &SequentialValues{}

	v, ok := g.Generate(schema.Field{Name: "id", Generator: "uuid4"}, t0)
	assert.True(t, ok)
	assert.Equal(t, value.String("id-0001"), v)

	v, ok = g.Generate(schema.Field{Name: "at", Generator: "now"}, t0)
	assert.True(t, ok)
	assert.Equal(t, value.Time(t0), v)

	_, ok = g.Generate(schema.Field{Name: "email", Generator: "email"}, t0)
	assert.False(t, ok)

	v, _ = g.Generate(schema.Field{Name: "id", Generator: "uuid4"}, t0)
	assert.Equal(t, value.String("id-0002"), v)
	assert.Equal(t, 2, g.Count())
}

func TestSequentialValues_Concurrent(t *testing.T) {
	g := &SequentialValues{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Generate(schema.Field{Generator: "uuid4"}, t0)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, g.Count())
}
