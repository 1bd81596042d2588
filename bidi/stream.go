// Package bidi provides the single low-level primitive both the
// multi-range downloader and the appendable object writer are built
// on: a bidirectional RPC driven by an independent sender goroutine and
// a caller-pulled Recv, so a caller can keep enqueueing requests without
// ever blocking on the network (spec §4.1, §9).
//
// It is the Go-channel-based analogue of the Python client's
// AsyncBidiRpc / _AsyncRequestQueueGenerator pair in bidi_async.py: the
// request generator there becomes the sender goroutine here, and the
// asyncio.Queue becomes the unbounded queue in queue.go.
package bidi

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc/metadata"

	"github.com/cloudshelf/gcsbidi"
)

// Stream wraps one gRPC bidirectional call of request type Req and
// response type Resp. Send enqueues and returns without waiting for the
// network; Recv blocks for the next message. Neither is safe to call
// concurrently with itself (one sender, one receiver, per the
// underlying ClientStream contract), but Send may run concurrently with
// Recv.
type Stream[Req, Resp any] struct {
	transport gcsbidi.Transport
	method    string
	md        metadata.MD

	initial    Req
	hasInitial bool

	mu          sync.Mutex
	call        gcsbidi.Stream
	cancel      context.CancelFunc
	closeCalled bool
	done        bool
	terminal    error
	callbacks   []func(error)
	queue       *queue[Req]
}

// New builds an unopened Stream. Call Open before Send or Recv.
func New[Req, Resp any](transport gcsbidi.Transport, method string, md metadata.MD) *Stream[Req, Resp] {
	return &Stream[Req, Resp]{transport: transport, method: method, md: md}
}

// SetInitialRequest designates req to be enqueued first, before any
// caller-supplied Send, the moment Open succeeds. Must be called before
// Open.
func (s *Stream[Req, Resp]) SetInitialRequest(req Req) {
	s.initial = req
	s.hasInitial = true
}

// Open starts the underlying call and, if set, enqueues the initial
// request. It fails with ErrAlreadyOpen on a second call, and wraps a
// transport-level failure in ErrStreamOpen (spec §4.1).
func (s *Stream[Req, Resp]) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.call != nil {
		s.mu.Unlock()
		return gcsbidi.ErrAlreadyOpen
	}
	cctx, cancel := context.WithCancel(ctx)
	call, err := s.transport.OpenStream(cctx, s.method, s.md)
	if err != nil {
		cancel()
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", gcsbidi.ErrStreamOpen, err)
	}
	s.call = call
	s.cancel = cancel
	s.queue = newQueue[Req]()
	s.mu.Unlock()

	if s.hasInitial {
		s.queue.push(s.initial)
	}
	go s.senderLoop()
	return nil
}

// senderLoop drains the outbound queue into the call, one message at a
// time, until the queue is closed (clean end of input) or a send fails
// (terminal error). If the call has already ended while items remain
// queued, those items are returned to the queue rather than sent (spec
// §4.1): nothing will ever deliver them, even though the Send calls
// that queued them returned nil. The mrd and aow layers rebuild their
// in-flight state on reconnect instead of replaying these requests.
func (s *Stream[Req, Resp]) senderLoop() {
	for {
		item, ok := s.queue.pop()
		if !ok {
			return
		}
		s.mu.Lock()
		call := s.call
		done := s.done
		s.mu.Unlock()
		if done {
			s.queue.pushFront(item)
			return
		}
		if err := call.SendMsg(item); err != nil {
			s.markDone(err)
			return
		}
	}
}

// Send enqueues req for delivery and returns immediately. It fails fast
// with ErrNotOpen before Open, and with the stream's terminal error once
// the call has ended (the caller should then Recv to observe it).
func (s *Stream[Req, Resp]) Send(req Req) error {
	s.mu.Lock()
	if s.call == nil {
		s.mu.Unlock()
		return gcsbidi.ErrNotOpen
	}
	done := s.done
	terminal := s.terminal
	s.mu.Unlock()
	if done {
		if terminal != nil {
			return fmt.Errorf("bidi: send on ended stream: %w", terminal)
		}
		return fmt.Errorf("bidi: send on ended stream: %w", gcsbidi.ErrClosed)
	}
	s.queue.push(req)
	return nil
}

// Recv blocks for the next response. A non-nil error marks the stream
// done and is sticky: subsequent Recv calls return the same error.
func (s *Stream[Req, Resp]) Recv() (Resp, error) {
	var zero Resp
	s.mu.Lock()
	call := s.call
	done := s.done
	terminal := s.terminal
	s.mu.Unlock()
	if call == nil {
		return zero, gcsbidi.ErrNotOpen
	}
	if done {
		return zero, terminal
	}
	var resp Resp
	err := call.RecvMsg(&resp)
	if err != nil {
		s.markDone(err)
		return zero, err
	}
	return resp, nil
}

// PendingRequests reports the advisory depth of the outbound queue
// (spec §4.1).
func (s *Stream[Req, Resp]) PendingRequests() int {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.len()
}

// IsActive reports whether the call is open and has not yet ended.
func (s *Stream[Req, Resp]) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call != nil && !s.done
}

// AddDoneCallback registers cb to run exactly once, with the stream's
// terminal error (nil if it ended cleanly), when the call ends for any
// reason: a failed send, a failed recv, or an explicit Close.
func (s *Stream[Req, Resp]) AddDoneCallback(cb func(error)) {
	s.mu.Lock()
	if s.done {
		terminal := s.terminal
		s.mu.Unlock()
		cb(terminal)
		return
	}
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// Close half-closes the send side, cancels the call's context, and
// marks the stream done. Idempotent.
func (s *Stream[Req, Resp]) Close() error {
	s.mu.Lock()
	if s.call == nil || s.closeCalled {
		s.mu.Unlock()
		return nil
	}
	s.closeCalled = true
	call := s.call
	cancel := s.cancel
	q := s.queue
	s.mu.Unlock()

	if q != nil {
		q.close()
	}
	_ = call.CloseSend()
	if cancel != nil {
		cancel()
	}
	s.markDone(gcsbidi.ErrClosed)
	return nil
}

func (s *Stream[Req, Resp]) markDone(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.terminal = err
	q := s.queue
	cbs := append([]func(error){}, s.callbacks...)
	s.mu.Unlock()

	if q != nil {
		q.close()
	}
	for _, cb := range cbs {
		cb(err)
	}
}
