package aow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudshelf/gcsbidi"
	"github.com/cloudshelf/gcsbidi/aow"
	"github.com/cloudshelf/gcsbidi/bidi/bidifake"
	"github.com/cloudshelf/gcsbidi/wire"
)

func TestWriteObjectStreamOpenReturnsHandshake(t *testing.T) {
	transport := &bidifake.Transport{
		Handler: bidifake.Scripted([]any{
			wire.BidiWriteObjectResponse{PersistedSize: 42, WriteHandle: []byte("h")},
		}, nil),
	}
	s := aow.NewWriteObjectStream(transport, gcsbidi.ObjectRef{Bucket: "b", Object: "o"}, nil, nil)
	resp, err := s.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.PersistedSize)
	assert.Equal(t, []byte("h"), resp.WriteHandle)
	assert.True(t, s.IsActive())
	require.NoError(t, s.Close())
}

func TestWriteObjectStreamSendsCreateOrResumeSpec(t *testing.T) {
	transport := &bidifake.Transport{}
	var gotSpec *wire.WriteObjectSpec
	done := make(chan struct{})
	transport.Handler = func(attempt int, call *bidifake.Call) {
		req, ok := call.RecvRequest()
		if ok {
			r := req.(wire.BidiWriteObjectRequest)
			gotSpec = r.Spec
		}
		_ = call.SendResponse(wire.BidiWriteObjectResponse{PersistedSize: 0})
		close(done)
	}

	s := aow.NewWriteObjectStream(transport, gcsbidi.ObjectRef{Bucket: "b", Object: "o"}, []byte("handle"), nil)
	_, err := s.Open(context.Background())
	require.NoError(t, err)
	<-done

	require.NotNil(t, gotSpec)
	assert.Equal(t, []byte("handle"), gotSpec.WriteHandle)
	assert.Equal(t, "b", gotSpec.Bucket)
	assert.Equal(t, "o", gotSpec.Object)
}

func TestWriteObjectStreamSendBeforeOpenFails(t *testing.T) {
	s := aow.NewWriteObjectStream(&bidifake.Transport{}, gcsbidi.ObjectRef{Bucket: "b", Object: "o"}, nil, nil)
	assert.ErrorIs(t, s.Send(wire.BidiWriteObjectRequest{}), gcsbidi.ErrNotOpen)
}
