package aow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cloudshelf/gcsbidi"
	"github.com/cloudshelf/gcsbidi/aow"
	"github.com/cloudshelf/gcsbidi/bidi/bidifake"
	"github.com/cloudshelf/gcsbidi/wire"
)

var assertTransientErr = status.Error(codes.Unavailable, "connection reset")

func ref() gcsbidi.ObjectRef {
	return gcsbidi.ObjectRef{Bucket: "b", Object: "o"}
}

// echoHandler acks every write with cumulative persisted_size, and
// answers state_lookup requests with the current size.
func echoHandler() bidifake.Handler {
	return func(attempt int, call *bidifake.Call) {
		var size int64
		for {
			req, ok := call.RecvRequest()
			if !ok {
				return
			}
			r := req.(wire.BidiWriteObjectRequest)
			if len(r.Data) > 0 {
				end := r.Offset + int64(len(r.Data))
				if end > size {
					size = end
				}
			}
			if len(r.Data) > 0 || r.StateLookup || r.FlushData || r.FinishWrite {
				resp := wire.BidiWriteObjectResponse{PersistedSize: size}
				if r.FinishWrite {
					resp.Resource = &wire.ObjectResource{Bucket: "b", Object: "o", Generation: 1, Size: size}
				}
				if sendErr := call.SendResponse(resp); sendErr != nil {
					return
				}
			}
			if r.FinishWrite {
				call.CloseResponses()
				return
			}
		}
	}
}

func openWriter(t *testing.T, transport *bidifake.Transport) *aow.Writer {
	t.Helper()
	w := aow.New(transport, ref())
	require.NoError(t, w.Open(context.Background()))
	return w
}

func TestWriterOpenInitializesFromHandshake(t *testing.T) {
	transport := &bidifake.Transport{Handler: echoHandler()}
	w := openWriter(t, transport)
	assert.Equal(t, int64(0), w.PersistedSize())
	assert.Equal(t, gcsbidi.Open, w.State())
}

func TestWriterDoubleOpenFails(t *testing.T) {
	transport := &bidifake.Transport{Handler: echoHandler()}
	w := openWriter(t, transport)
	assert.ErrorIs(t, w.Open(context.Background()), gcsbidi.ErrAlreadyOpen)
}

func TestWriterAppendBelowThresholdDoesNotFlush(t *testing.T) {
	transport := &bidifake.Transport{Handler: echoHandler()}
	w := aow.New(transport, ref(), aow.WithFlushIntervalBytes(1024))
	require.NoError(t, w.Open(context.Background()))

	require.NoError(t, w.Append(context.Background(), make([]byte, 100)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), w.PersistedSize())
}

func TestWriterAppendAboveThresholdFlushesAutomatically(t *testing.T) {
	transport := &bidifake.Transport{Handler: echoHandler()}
	w := aow.New(transport, ref(), aow.WithFlushIntervalBytes(1024))
	require.NoError(t, w.Open(context.Background()))

	require.NoError(t, w.Append(context.Background(), make([]byte, 2048)))
	assert.Eventually(t, func() bool {
		return w.PersistedSize() >= 1024
	}, time.Second, time.Millisecond)
}

func TestWriterFlushBlocksUntilAck(t *testing.T) {
	transport := &bidifake.Transport{Handler: echoHandler()}
	w := openWriter(t, transport)

	require.NoError(t, w.Append(context.Background(), make([]byte, 100)))
	size, err := w.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), size)
}

func TestWriterStateLookupReturnsCurrentSize(t *testing.T) {
	transport := &bidifake.Transport{Handler: echoHandler()}
	w := openWriter(t, transport)

	_, err := w.Flush(context.Background())
	require.NoError(t, err)

	size, err := w.StateLookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.PersistedSize(), size)
}

func TestWriterFinalizeTransitionsToFinalized(t *testing.T) {
	transport := &bidifake.Transport{Handler: echoHandler()}
	w := openWriter(t, transport)

	require.NoError(t, w.Append(context.Background(), make([]byte, 50)))
	require.NoError(t, w.Finalize(context.Background()))

	assert.Equal(t, gcsbidi.Finalized, w.State())
	assert.ErrorIs(t, w.Append(context.Background(), []byte("x")), gcsbidi.ErrClosed)
}

func TestWriterCloseWithoutFinalizeHalfCloses(t *testing.T) {
	transport := &bidifake.Transport{Handler: echoHandler()}
	w := openWriter(t, transport)

	require.NoError(t, w.Append(context.Background(), make([]byte, 50)))
	require.NoError(t, w.Close(context.Background(), false))

	assert.Equal(t, gcsbidi.HalfClosed, w.State())
	assert.ErrorIs(t, w.Close(context.Background(), false), gcsbidi.ErrClosed)
}

func TestWriterResumeReplaysUnackedBytes(t *testing.T) {
	transport := &bidifake.Transport{}
	var attempts int
	transport.Handler = func(attempt int, call *bidifake.Call) {
		attempts++
		if attempt == 1 {
			// drop the connection after the handshake ack, before any
			// append is acknowledged.
			req, ok := call.RecvRequest()
			if !ok {
				return
			}
			r := req.(wire.BidiWriteObjectRequest)
			if r.StateLookup {
				_ = call.SendResponse(wire.BidiWriteObjectResponse{PersistedSize: 0})
			}
			call.SendError(assertTransientErr)
			return
		}
		echoHandler()(attempt, call)
	}

	w := openWriter(t, transport)
	// give the background recv loop time to observe the injected fault
	// before Flush races it to the stream.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.Append(context.Background(), make([]byte, 200)))

	size, err := w.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), size)
	assert.GreaterOrEqual(t, transport.Attempts(), 2)
}
