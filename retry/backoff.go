package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrDeadlineExceeded is returned by Backoff.Next once the configured
// total deadline has elapsed; the caller should stop retrying and
// surface the last observed fault wrapped in gcsbidi.ErrTransient.
var ErrDeadlineExceeded = errors.New("retry: backoff deadline exceeded")

// Backoff produces exponential-with-jitter delays (spec §4.6): starts
// at Initial, doubles on every call, caps at Max, and optionally
// refuses to wait further once Deadline has elapsed since the first
// call to Next. A zero Deadline means unbounded (the caller is expected
// to bound overall time via ctx instead).
type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Deadline time.Duration

	start   time.Time
	attempt uint
}

// NewBackoff returns a Backoff with the spec's defaults: 100ms initial,
// 60s cap, and the given total deadline (0 for unbounded).
func NewBackoff(deadline time.Duration) *Backoff {
	return &Backoff{
		Initial:  100 * time.Millisecond,
		Max:      60 * time.Second,
		Deadline: deadline,
	}
}

// Next sleeps for the next backoff interval and returns nil, or returns
// ErrDeadlineExceeded without sleeping if the total deadline has
// already elapsed, or ctx.Err() if ctx is cancelled while waiting.
func (b *Backoff) Next(ctx context.Context) error {
	if b.attempt == 0 {
		b.start = time.Now()
	} else if b.Deadline > 0 && time.Since(b.start) >= b.Deadline {
		return ErrDeadlineExceeded
	}

	delay := b.delay()
	b.attempt++

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears the attempt counter and start time, e.g. after a
// successful operation following one or more retries.
func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) delay() time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 60 * time.Second
	}

	d := initial
	for i := uint(0); i < b.attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	// full jitter: uniform in [d/2, d]
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
