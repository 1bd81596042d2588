// Package retry implements the fault classification and
// backoff/resumption policy shared by the read and write streams (spec
// §4.6). It is grounded on rclone's fserrors.ShouldRetry /
// fserrors.ContextError pattern (classify first, then decide whether to
// loop), adapted from rclone's HTTP-status-driven taxonomy to gRPC
// status codes.
package retry

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cloudshelf/gcsbidi"
)

// Kind is the outcome of classifying a stream-ending error.
type Kind int

const (
	// None means no error occurred.
	None Kind = iota
	// Retriable means the fault is transport-level and transient; the
	// stream should be closed and reopened.
	Retriable
	// Fatal means the fault is non-recoverable and must be surfaced to
	// the caller unchanged.
	Fatal
	// InBand means the fault is an application-level condition (a bad
	// checksum, a malformed frame, an out-of-range request) that the
	// retry layer must never retry.
	InBand
)

// Redirect is the server's in-band instruction to reopen the stream
// against a new resumption token instead of the one currently held
// (spec §4.6: "server-issued REDIRECT with new write_handle/read_handle
// token"). Transports surface this by returning an error satisfying
// errors.As(err, *Redirect).
type Redirect struct {
	NewHandle []byte
}

func (r *Redirect) Error() string {
	return "gcsbidi: server requested redirect to a new stream handle"
}

// Classify maps a stream-ending error onto the three-way taxonomy the
// retry layer acts on.
func Classify(err error) Kind {
	if err == nil {
		return None
	}

	var redirect *Redirect
	if errors.As(err, &redirect) {
		return Retriable
	}

	if errors.Is(err, gcsbidi.ErrDataCorruption) ||
		errors.Is(err, gcsbidi.ErrProtocol) ||
		errors.Is(err, gcsbidi.ErrInvalidRange) {
		return InBand
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, gcsbidi.ErrCancelled) {
		return Fatal
	}

	// errors.As rather than status.FromError, so a status wrapped with
	// %w (as bidi.Stream.Send does) is still recognised.
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		switch se.GRPCStatus().Code() {
		case codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.ResourceExhausted:
			return Retriable
		case codes.Unauthenticated, codes.PermissionDenied, codes.NotFound:
			return Fatal
		}
	}

	return Fatal
}
