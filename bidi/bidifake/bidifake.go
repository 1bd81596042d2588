// Package bidifake is an in-memory, fault-injectable stand-in for a
// real gRPC bidirectional call, used to exercise bidi.Stream and the
// higher-level mrd/aow packages without a network or a test server.
//
// It mirrors the role of rclone's fstest/mockobject and in-package
// fake-backend test doubles: a minimal implementation of the production
// interface (here, gcsbidi.Transport/gcsbidi.Stream) driven by a
// test-supplied handler function instead of real I/O.
package bidifake

import (
	"context"
	"io"
	"reflect"
	"sync"

	"google.golang.org/grpc/metadata"

	"github.com/cloudshelf/gcsbidi"
)

// Handler plays the server side of one call: it reads requests with
// Call.RecvRequest and produces responses with Call.SendResponse,
// Call.SendError or Call.CloseResponses.
type Handler func(attempt int, call *Call)

// Transport is a gcsbidi.Transport backed by Handler functions instead
// of a network connection. Its zero value accepts every OpenStream call
// and runs no handler (the peer never hears back).
type Transport struct {
	// OpenErr, if set, is consulted before every OpenStream call; a
	// non-nil return fails the call synchronously (simulates the RPC
	// erroring before any frame is exchanged).
	OpenErr func(attempt int) error
	// Handler, if set, runs in its own goroutine for every successfully
	// opened call.
	Handler Handler

	mu      sync.Mutex
	attempt int
	calls   []*Call
}

// Attempts reports how many times OpenStream has been called.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// Calls returns every Call opened so far, in order.
func (t *Transport) Calls() []*Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// OpenStream implements gcsbidi.Transport.
func (t *Transport) OpenStream(ctx context.Context, method string, md metadata.MD) (gcsbidi.Stream, error) {
	t.mu.Lock()
	t.attempt++
	attempt := t.attempt
	t.mu.Unlock()

	if t.OpenErr != nil {
		if err := t.OpenErr(attempt); err != nil {
			return nil, err
		}
	}

	call := newCall(ctx, method, md)
	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.mu.Unlock()

	if t.Handler != nil {
		go t.Handler(attempt, call)
	}
	return call, nil
}

// Call is one fake bidirectional stream, implementing gcsbidi.Stream
// for the client side while exposing RecvRequest/SendResponse for the
// test's Handler to play the server side.
type Call struct {
	ctx    context.Context
	method string
	md     metadata.MD

	toServer  chan any
	toClient  chan any
	closeOnce sync.Once
}

func newCall(ctx context.Context, method string, md metadata.MD) *Call {
	return &Call{
		ctx:      ctx,
		method:   method,
		md:       md,
		toServer: make(chan any, 64),
		toClient: make(chan any, 64),
	}
}

// Method returns the RPC method OpenStream was called with.
func (c *Call) Method() string { return c.method }

// Metadata returns the metadata OpenStream was called with.
func (c *Call) Metadata() metadata.MD { return c.md }

// Context implements gcsbidi.Stream.
func (c *Call) Context() context.Context { return c.ctx }

// SendMsg implements gcsbidi.Stream: it hands m to the server side.
func (c *Call) SendMsg(m any) error {
	select {
	case c.toServer <- m:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// RecvMsg implements gcsbidi.Stream: it blocks for the next
// server-produced value and copies it into m. A value sent via
// SendError is returned as-is instead of being copied.
func (c *Call) RecvMsg(m any) error {
	select {
	case item, ok := <-c.toClient:
		if !ok {
			return io.EOF
		}
		if err, isErr := item.(error); isErr {
			return err
		}
		reflect.ValueOf(m).Elem().Set(reflect.ValueOf(item))
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// CloseSend implements gcsbidi.Stream: it closes the request channel so
// RecvRequest reports end of input to the Handler. Idempotent.
func (c *Call) CloseSend() error {
	c.closeOnce.Do(func() { close(c.toServer) })
	return nil
}

// RecvRequest is the server-side counterpart of SendMsg: it blocks for
// the next client request, returning ok == false once the client has
// called CloseSend and every request has been drained.
func (c *Call) RecvRequest() (any, bool) {
	select {
	case item, ok := <-c.toServer:
		return item, ok
	case <-c.ctx.Done():
		return nil, false
	}
}

// SendResponse is the server-side counterpart of RecvMsg: it delivers
// resp as the client's next RecvMsg result.
func (c *Call) SendResponse(resp any) error {
	select {
	case c.toClient <- resp:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// SendError delivers err as the client's next RecvMsg result and ends
// the response stream; no further SendResponse or CloseResponses call
// is valid afterwards.
func (c *Call) SendError(err error) {
	select {
	case c.toClient <- err:
	case <-c.ctx.Done():
	}
}

// CloseResponses ends the response stream cleanly: the client's next
// RecvMsg returns io.EOF.
func (c *Call) CloseResponses() {
	close(c.toClient)
}

var (
	_ gcsbidi.Transport = (*Transport)(nil)
	_ gcsbidi.Stream    = (*Call)(nil)
)

// Scripted builds a Handler that replays responses in order and then
// ends the call: with err via SendError if non-nil, or cleanly via
// CloseResponses otherwise. It ignores whatever the client sends.
func Scripted(responses []any, err error) Handler {
	return func(attempt int, call *Call) {
		for _, r := range responses {
			if sendErr := call.SendResponse(r); sendErr != nil {
				return
			}
		}
		if err != nil {
			call.SendError(err)
			return
		}
		call.CloseResponses()
	}
}
