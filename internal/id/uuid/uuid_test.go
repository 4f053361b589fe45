package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunIDIsTimeOrderedV7(t *testing.T) {
	t.Parallel()

	gen := New()
	prev, err := gen.NewRunID()
	require.NoError(t, err)
	assert.EqualValues(t, 7, prev.Version())

	for range 50 {
		next, err := gen.NewRunID()
		require.NoError(t, err)
		assert.Less(t, prev.String(), next.String())
		prev = next
	}
}
