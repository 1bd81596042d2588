package gcsbidi

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// Stream is an open bidirectional-streaming RPC call. It is satisfied by
// grpc.ClientStream (and by anything else shaped the same way, such as a
// fake used in tests) so that a Transport backed by a real gRPC
// ClientConn needs no adapter.
type Stream interface {
	// SendMsg enqueues a request message to be written to the wire.
	// An implementation may keep p after SendMsg returns, so callers do
	// not modify it afterwards.
	SendMsg(p any) error
	// RecvMsg blocks until the next response message is available,
	// unmarshals it into p, and returns. It returns the terminal RPC
	// error (often io.EOF on a clean end) once the call has ended.
	RecvMsg(p any) error
	// CloseSend half-closes the send direction of the stream. It does
	// not wait for, or affect, the receive direction.
	CloseSend() error
	// Context returns the context governing the call's lifetime; it is
	// done when the call has fully terminated.
	Context() context.Context
}

// Transport abstracts acquiring an open bidirectional RPC call. Credential
// acquisition and channel construction are out of scope for this module;
// callers provide a Transport backed by however they built their
// grpc.ClientConn (or a fake, for testing).
type Transport interface {
	// OpenStream starts a new call to method (e.g.
	// "/google.storage.v2.Storage/BidiReadObject"), attaching md as
	// outgoing request metadata, and returns the open Stream. An error
	// returned here is a synchronous open failure (see ErrStreamOpen).
	OpenStream(ctx context.Context, method string, md metadata.MD) (Stream, error)
}
