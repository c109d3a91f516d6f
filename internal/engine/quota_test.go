package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepQuota_WithinLimit(t *testing.T) {
	q := stepQuota{limit: 3}
	for i := 0; i < 3; i++ {
		require.NoError(t, q.check(), "step %d should be allowed", i+1)
	}
	assert.Equal(t, 3, q.current)
}

func TestStepQuota_Exceeded(t *testing.T) {
	q := stepQuota{limit: 2}
	require.NoError(t, q.check())
	require.NoError(t, q.check())

	err := q.check()
	require.Error(t, err)

	var stepsErr *StepsExceededError
	require.ErrorAs(t, err, &stepsErr)
	assert.Equal(t, 3, stepsErr.Steps)
	assert.Equal(t, 2, stepsErr.Limit)
	assert.True(t, IsQuotaError(err))
	assert.Contains(t, err.Error(), "3 > 2")
}

func TestStepQuota_Disabled(t *testing.T) {
	q := stepQuota{limit: -1}
	for i := 0; i < 10000; i++ {
		require.NoError(t, q.check())
	}
}
