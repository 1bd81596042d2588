// Package aow implements the write-side core: WriteObjectStream, a
// thin specialization of bidi.Stream for the bidirectional append RPC
// (spec §4.3), and Writer, the appendable object writer (AOW) that
// frames incremental appends, tracks persisted size, and supports
// pause/resume and finalization (spec §4.5).
package aow

import (
	"context"
	"sync"

	"google.golang.org/grpc/metadata"

	"github.com/cloudshelf/gcsbidi"
	"github.com/cloudshelf/gcsbidi/bidi"
	"github.com/cloudshelf/gcsbidi/wire"
)

// WriteMethod is the RPC method WriteObjectStream opens against the
// transport.
const WriteMethod = "/google.storage.v2.Storage/BidiWriteObject"

// WriteObjectStream specializes bidi.Stream for the append RPC: on
// open it emits a create-or-resume spec and a state_lookup request, and
// returns the handshake response so the caller (Writer) can initialize
// its own bookkeeping (spec §4.3).
type WriteObjectStream struct {
	transport   gcsbidi.Transport
	ref         gcsbidi.ObjectRef
	writeHandle []byte
	md          metadata.MD

	mu    sync.Mutex
	inner *bidi.Stream[wire.BidiWriteObjectRequest, wire.BidiWriteObjectResponse]
}

// NewWriteObjectStream builds an unopened stream. A non-empty
// writeHandle resumes an existing appendable object; otherwise
// ref.Generation selects resume-by-generation, and a zero generation
// with no handle creates a new object.
func NewWriteObjectStream(transport gcsbidi.Transport, ref gcsbidi.ObjectRef, writeHandle []byte, md metadata.MD) *WriteObjectStream {
	return &WriteObjectStream{
		transport:   transport,
		ref:         ref,
		writeHandle: writeHandle,
		md:          withRoutingHeader(md, ref),
	}
}

func withRoutingHeader(md metadata.MD, ref gcsbidi.ObjectRef) metadata.MD {
	out := md.Copy()
	if out == nil {
		out = metadata.MD{}
	}
	out.Set("x-goog-request-params", "bucket="+ref.FullBucketName())
	return out
}

// Open starts the RPC, emits the initial spec plus a state_lookup
// request, and returns the handshake response carrying persisted_size,
// generation and write_handle.
func (s *WriteObjectStream) Open(ctx context.Context) (wire.BidiWriteObjectResponse, error) {
	inner := bidi.New[wire.BidiWriteObjectRequest, wire.BidiWriteObjectResponse](s.transport, WriteMethod, s.md)
	spec := &wire.WriteObjectSpec{
		Bucket:      s.ref.Bucket,
		Object:      s.ref.Object,
		Generation:  s.ref.Generation,
		WriteHandle: s.writeHandle,
	}
	inner.SetInitialRequest(wire.BidiWriteObjectRequest{Spec: spec, StateLookup: true})
	if err := inner.Open(ctx); err != nil {
		return wire.BidiWriteObjectResponse{}, err
	}

	resp, err := inner.Recv()
	if err != nil {
		inner.Close()
		return wire.BidiWriteObjectResponse{}, err
	}

	s.mu.Lock()
	s.inner = inner
	s.mu.Unlock()
	return resp, nil
}

// Send forwards req unchanged to the underlying stream.
func (s *WriteObjectStream) Send(req wire.BidiWriteObjectRequest) error {
	s.mu.Lock()
	inner := s.inner
	s.mu.Unlock()
	if inner == nil {
		return gcsbidi.ErrNotOpen
	}
	return inner.Send(req)
}

// Recv forwards the next response unchanged from the underlying
// stream.
func (s *WriteObjectStream) Recv() (wire.BidiWriteObjectResponse, error) {
	s.mu.Lock()
	inner := s.inner
	s.mu.Unlock()
	if inner == nil {
		return wire.BidiWriteObjectResponse{}, gcsbidi.ErrNotOpen
	}
	return inner.Recv()
}

// Close sends a half-close (no finish_write beyond whatever the caller
// already framed) and closes the transport.
func (s *WriteObjectStream) Close() error {
	s.mu.Lock()
	inner := s.inner
	s.inner = nil
	s.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Close()
}

// IsActive reports whether the underlying call is open and has not yet
// ended.
func (s *WriteObjectStream) IsActive() bool {
	s.mu.Lock()
	inner := s.inner
	s.mu.Unlock()
	return inner != nil && inner.IsActive()
}
