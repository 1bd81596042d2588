package retry

import (
	"context"
	"fmt"

	"github.com/cloudshelf/gcsbidi"
)

// Run drives the shared resumption loop described in §4.6: it calls
// attempt, and on a Retriable fault invokes onRetry (to let the caller
// close the failed stream and rebuild in-flight state) before backing
// off and trying again. A Fatal or InBand fault is returned immediately,
// unwrapped. If the backoff deadline elapses, the last retriable fault
// is returned wrapped in gcsbidi.ErrTransient.
func Run(ctx context.Context, b *Backoff, onRetry func(err error), attempt func() error) error {
	var lastErr error
	for {
		err := attempt()
		if err == nil {
			b.Reset()
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case Retriable:
			if onRetry != nil {
				onRetry(err)
			}
			if waitErr := b.Next(ctx); waitErr != nil {
				if waitErr == ErrDeadlineExceeded {
					return fmt.Errorf("%w: %v", gcsbidi.ErrTransient, lastErr)
				}
				return waitErr
			}
		default:
			return err
		}
	}
}
