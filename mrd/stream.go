// Package mrd implements the read-side core: ReadObjectStream, a thin
// specialization of bidi.Stream for the bidirectional read RPC (spec
// §4.2), and MultiRangeDownloader, which multiplexes many concurrent
// byte-range reads over one such stream (spec §4.4).
package mrd

import (
	"context"
	"sync"

	"google.golang.org/grpc/metadata"

	"github.com/cloudshelf/gcsbidi"
	"github.com/cloudshelf/gcsbidi/bidi"
	"github.com/cloudshelf/gcsbidi/wire"
)

// ReadMethod is the RPC method ReadObjectStream opens against the
// transport.
const ReadMethod = "/google.storage.v2.Storage/BidiReadObject"

// ReadObjectStream specializes bidi.Stream for the read RPC: it emits
// the initial ReadObjectSpec, captures the server-assigned generation
// and read handle from the first response, and attaches the routing
// metadata every read stream must carry (spec §4.2, §6).
type ReadObjectStream struct {
	transport gcsbidi.Transport
	ref       gcsbidi.ObjectRef
	md        metadata.MD

	mu         sync.Mutex
	generation int64
	readHandle []byte
	inner      *bidi.Stream[wire.BidiReadObjectRequest, wire.BidiReadObjectResponse]
}

// NewReadObjectStream builds an unopened stream for ref. md is
// caller-supplied metadata that passes through alongside the mandatory
// bucket routing header (spec §6).
func NewReadObjectStream(transport gcsbidi.Transport, ref gcsbidi.ObjectRef, md metadata.MD) *ReadObjectStream {
	return &ReadObjectStream{
		transport:  transport,
		ref:        ref,
		md:         withRoutingHeader(md, ref),
		generation: ref.Generation,
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

// Open starts (or, after a retriable failure, re-starts) the stream,
// carrying forward any previously captured read handle so the server
// can skip rediscovery.
func (s *ReadObjectStream) Open(ctx context.Context) error {
	s.mu.Lock()
	generation := s.generation
	readHandle := s.readHandle
	s.mu.Unlock()

	inner := bidi.New[wire.BidiReadObjectRequest, wire.BidiReadObjectResponse](s.transport, ReadMethod, s.md)
	inner.SetInitialRequest(wire.BidiReadObjectRequest{
		Spec: &wire.ReadObjectSpec{
			Bucket:     s.ref.Bucket,
			Object:     s.ref.Object,
			Generation: generation,
			ReadHandle: readHandle,
		},
	})
	if err := inner.Open(ctx); err != nil {
		return err
	}

	resp, err := inner.Recv()
	if err != nil {
		inner.Close()
		return err
	}

	s.mu.Lock()
	if resp.Metadata != nil {
		s.generation = resp.Metadata.GenerationNumber
		if len(resp.Metadata.ReadHandle) > 0 {
			s.readHandle = resp.Metadata.ReadHandle
		}
	}
	if len(resp.ReadHandle) > 0 {
		s.readHandle = resp.ReadHandle
	}
	s.inner = inner
	s.mu.Unlock()
	return nil
}

// Send forwards req unchanged to the underlying stream.
func (s *ReadObjectStream) Send(req wire.BidiReadObjectRequest) error {
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
func (s *ReadObjectStream) Recv() (wire.BidiReadObjectResponse, error) {
	s.mu.Lock()
	inner := s.inner
	s.mu.Unlock()
	if inner == nil {
		return wire.BidiReadObjectResponse{}, gcsbidi.ErrNotOpen
	}
	return inner.Recv()
}

// Close closes the underlying stream.
func (s *ReadObjectStream) Close() error {
	s.mu.Lock()
	inner := s.inner
	s.inner = nil
	s.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Close()
}

// Generation returns the server-pinned generation captured on open.
func (s *ReadObjectStream) Generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// ReadHandle returns the most recently captured resumption token.
func (s *ReadObjectStream) ReadHandle() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readHandle
}

// IsActive reports whether the underlying call is open and has not yet
// ended.
func (s *ReadObjectStream) IsActive() bool {
	s.mu.Lock()
	inner := s.inner
	s.mu.Unlock()
	return inner != nil && inner.IsActive()
}
