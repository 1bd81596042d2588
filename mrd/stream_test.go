package mrd_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudshelf/gcsbidi"
	"github.com/cloudshelf/gcsbidi/bidi/bidifake"
	"github.com/cloudshelf/gcsbidi/mrd"
	"github.com/cloudshelf/gcsbidi/wire"
)

func objRef() gcsbidi.ObjectRef {
	return gcsbidi.ObjectRef{Bucket: "b", Object: "o"}
}

func TestReadObjectStreamOpenCapturesHandshake(t *testing.T) {
	transport := &bidifake.Transport{
		Handler: bidifake.Scripted([]any{
			wire.BidiReadObjectResponse{
				Metadata: &wire.ReadObjectMetadata{GenerationNumber: 7, ReadHandle: []byte("rh")},
			},
		}, nil),
	}
	s := mrd.NewReadObjectStream(transport, objRef(), nil)
	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, int64(7), s.Generation())
	assert.Equal(t, []byte("rh"), s.ReadHandle())
	assert.True(t, s.IsActive())
	require.NoError(t, s.Close())
}

func TestReadObjectStreamSendBeforeOpenFails(t *testing.T) {
	s := mrd.NewReadObjectStream(&bidifake.Transport{}, objRef(), nil)
	assert.ErrorIs(t, s.Send(wire.BidiReadObjectRequest{}), gcsbidi.ErrNotOpen)
}
