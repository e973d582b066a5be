package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSlots(t *testing.T) {
	n, err := ResolveSlots("3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = ResolveSlots("auto")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	for _, bad := range []string{"0", "-2", "many"} {
		_, err := ResolveSlots(bad)
		assert.Error(t, err, bad)
	}
}

func TestAutoSlots(t *testing.T) {
	assert.Equal(t, 1, autoSlots(100<<20, 8), "low memory still gets one slot")
	assert.Equal(t, 4, autoSlots(4<<30, 8))
	assert.Equal(t, 8, autoSlots(64<<30, 8), "capped by CPU count")
}
