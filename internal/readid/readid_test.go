package readid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithinRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id, err := New(nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, id, mask)
	}
}

func TestNewAvoidsTaken(t *testing.T) {
	seen := map[uint64]bool{}
	taken := func(id uint64) bool { return seen[id] }
	for i := 0; i < 500; i++ {
		id, err := New(taken)
		require.NoError(t, err)
		require.False(t, seen[id], "generator returned a tracked id")
		seen[id] = true
	}
}

func TestNewExhausted(t *testing.T) {
	_, err := New(func(uint64) bool { return true })
	require.Error(t, err)
}
