package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterationQuota_WithinLimit(t *testing.T) {
	q := NewIterationQuota(10)

	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Check("p"), "iteration %d should be allowed", i+1)
	}
	assert.Equal(t, 10, q.Current())
}

func TestIterationQuota_ExceedsLimit(t *testing.T) {
	q := NewIterationQuota(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Check("p/c"))
	}

	err := q.Check("p/c")
	require.Error(t, err)
	assert.True(t, IsIterationsExceeded(err))

	var ce *ContractError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "p/c", ce.Entry)
	assert.Contains(t, ce.Error(), "ITERATIONS_EXCEEDED")
}
