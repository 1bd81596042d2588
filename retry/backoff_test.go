package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	b := &Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond}
	var delays []time.Duration
	for i := 0; i < 5; i++ {
		start := time.Now()
		require.NoError(t, b.Next(context.Background()))
		delays = append(delays, time.Since(start))
	}
	// every delay should be within [half its cap-bound theoretical
	// max, that max], and non-decreasing in the bound even though
	// jitter means individual samples aren't strictly monotonic.
	for i, d := range delays {
		bound := 10 * time.Millisecond << uint(i)
		if bound > 40*time.Millisecond {
			bound = 40 * time.Millisecond
		}
		assert.GreaterOrEqual(t, d, bound/2)
		assert.LessOrEqual(t, d, 40*time.Millisecond+10*time.Millisecond) // slack for scheduling
	}
}

func TestBackoffDeadlineExceeded(t *testing.T) {
	b := &Backoff{Initial: 5 * time.Millisecond, Max: 5 * time.Millisecond, Deadline: 1 * time.Millisecond}
	require.NoError(t, b.Next(context.Background())) // first call always waits, starts the clock
	time.Sleep(5 * time.Millisecond)
	err := b.Next(context.Background())
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestBackoffContextCancelled(t *testing.T) {
	b := NewBackoff(0)
	b.Initial = time.Hour
	b.Max = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffReset(t *testing.T) {
	b := &Backoff{Initial: time.Millisecond, Max: time.Millisecond}
	require.NoError(t, b.Next(context.Background()))
	require.NoError(t, b.Next(context.Background()))
	b.Reset()
	assert.Equal(t, uint(0), b.attempt)
}
