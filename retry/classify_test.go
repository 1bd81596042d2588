package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cloudshelf/gcsbidi"
)

func TestClassifyRetriableCodes(t *testing.T) {
	for _, code := range []codes.Code{codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.ResourceExhausted} {
		err := status.Error(code, "boom")
		assert.Equal(t, Retriable, Classify(err), code.String())
	}
}

func TestClassifyFatalCodes(t *testing.T) {
	for _, code := range []codes.Code{codes.Unauthenticated, codes.PermissionDenied, codes.NotFound} {
		err := status.Error(code, "boom")
		assert.Equal(t, Fatal, Classify(err), code.String())
	}
}

func TestClassifyInBand(t *testing.T) {
	assert.Equal(t, InBand, Classify(gcsbidi.ErrDataCorruption))
	assert.Equal(t, InBand, Classify(gcsbidi.ErrProtocol))
	assert.Equal(t, InBand, Classify(gcsbidi.ErrInvalidRange))
}

func TestClassifyRedirect(t *testing.T) {
	err := &Redirect{NewHandle: []byte("new")}
	assert.Equal(t, Retriable, Classify(err))

	wrapped := errors.Join(errors.New("context"), err)
	assert.Equal(t, Retriable, Classify(wrapped))
}

func TestClassifyCancelled(t *testing.T) {
	assert.Equal(t, Fatal, Classify(context.Canceled))
	assert.Equal(t, Fatal, Classify(gcsbidi.ErrCancelled))
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, None, Classify(nil))
}

func TestClassifyUnknownDefaultsFatal(t *testing.T) {
	assert.Equal(t, Fatal, Classify(errors.New("something unclassified")))
}
