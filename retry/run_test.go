package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cloudshelf/gcsbidi"
)

func TestRunSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Run(context.Background(), NewBackoff(time.Second), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	b := &Backoff{Initial: time.Millisecond, Max: time.Millisecond, Deadline: time.Second}
	retries := 0
	calls := 0
	err := Run(context.Background(), b, func(error) { retries++ }, func() error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRunFatalStopsImmediately(t *testing.T) {
	calls := 0
	wantErr := status.Error(codes.PermissionDenied, "no")
	err := Run(context.Background(), NewBackoff(time.Second), nil, func() error {
		calls++
		return wantErr
	})
	assert.Same(t, wantErr, err)
	assert.Equal(t, 1, calls)
}

func TestRunInBandStopsImmediately(t *testing.T) {
	calls := 0
	err := Run(context.Background(), NewBackoff(time.Second), nil, func() error {
		calls++
		return gcsbidi.ErrDataCorruption
	})
	assert.ErrorIs(t, err, gcsbidi.ErrDataCorruption)
	assert.Equal(t, 1, calls)
}

func TestRunDeadlineExceededWrapsErrTransient(t *testing.T) {
	b := &Backoff{Initial: time.Millisecond, Max: time.Millisecond, Deadline: time.Millisecond}
	err := Run(context.Background(), b, nil, func() error {
		return status.Error(codes.Unavailable, "always flaky")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, gcsbidi.ErrTransient)
}
