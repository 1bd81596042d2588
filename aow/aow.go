package aow

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/metadata"

	"github.com/cloudshelf/gcsbidi"
	"github.com/cloudshelf/gcsbidi/internal/metrics"
	"github.com/cloudshelf/gcsbidi/internal/xlog"
	"github.com/cloudshelf/gcsbidi/retry"
	"github.com/cloudshelf/gcsbidi/wire"
)

// Writer is the appendable object writer (AOW): the write-side core
// that frames incremental append calls, tracks a monotonic persisted
// size watermark, and supports flush, half-close, and finalization
// (spec §4.5).
type Writer struct {
	transport          gcsbidi.Transport
	ref                gcsbidi.ObjectRef
	md                 metadata.MD
	metrics            *metrics.Metrics
	flushIntervalBytes int
	retryDeadline      time.Duration
	writeHandle        []byte

	mu            sync.Mutex
	cond          *sync.Cond
	state         gcsbidi.Lifecycle
	stream        *WriteObjectStream
	generation    int64
	buffered      []byte
	unacked       []byte
	pendingFlush  bool
	pendingFinish bool
	sentOffset    int64
	persistedSize int64
	ackSeq        int
	recvErr       error
}

// New builds an unopened Writer for ref. A non-zero ref.Generation (or
// WithWriteHandle) resumes an existing appendable object; otherwise
// Open creates a new one.
func New(transport gcsbidi.Transport, ref gcsbidi.ObjectRef, opts ...Option) *Writer {
	w := &Writer{
		transport:          transport,
		ref:                ref,
		metrics:            metrics.New("aow", ref.String()),
		flushIntervalBytes: defaultFlushIntervalBytes,
		retryDeadline:      defaultRetryDeadline,
		state:              gcsbidi.Unopened,
		generation:         ref.Generation,
	}
	w.cond = sync.NewCond(&w.mu)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open opens the underlying write stream, performs the state-lookup
// handshake, and initializes persisted_size from the server's reply.
// Allowed only in UNOPENED.
func (w *Writer) Open(ctx context.Context) error {
	w.mu.Lock()
	if w.state != gcsbidi.Unopened {
		w.mu.Unlock()
		return gcsbidi.ErrAlreadyOpen
	}
	w.mu.Unlock()

	ref := w.ref
	ref.Generation = w.generation
	stream := NewWriteObjectStream(w.transport, ref, w.writeHandle, w.md)
	resp, err := stream.Open(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.applyAckLocked(resp)
	// sentOffset anchors new appends to whatever the server already
	// holds durably; resume() must not repeat this, since there it
	// tracks bytes this same Writer has sent but not yet seen acked.
	w.sentOffset = w.persistedSize
	w.stream = stream
	w.state = gcsbidi.Open
	w.mu.Unlock()

	go w.recvLoop(stream)
	xlog.Infof(w.ref, "aow: opened generation=%d persisted_size=%d", w.generation, w.persistedSize)
	return nil
}

// Generation returns the object generation captured on open.
func (w *Writer) Generation() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generation
}

// WriteHandle returns the most recently captured resumption token.
func (w *Writer) WriteHandle() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeHandle
}

// PersistedSize returns the last known durable size of the object.
func (w *Writer) PersistedSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.persistedSize
}

// State returns the writer's current lifecycle state.
func (w *Writer) State() gcsbidi.Lifecycle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Append buffers data. Once the accumulated unflushed size reaches
// FlushIntervalBytes, one or more framed write messages are emitted
// without waiting for server acknowledgement; progress is reflected in
// PersistedSize as acks arrive asynchronously (spec §4.5).
func (w *Writer) Append(ctx context.Context, data []byte) error {
	w.mu.Lock()
	if w.state != gcsbidi.Open {
		err := gcsbidi.ErrNotOpen
		if w.state != gcsbidi.Unopened {
			err = gcsbidi.ErrClosed
		}
		w.mu.Unlock()
		return err
	}
	w.buffered = append(w.buffered, data...)
	var chunks [][]byte
	for len(w.buffered) >= w.flushIntervalBytes {
		chunk := make([]byte, w.flushIntervalBytes)
		copy(chunk, w.buffered[:w.flushIntervalBytes])
		chunks = append(chunks, chunk)
		w.buffered = append([]byte(nil), w.buffered[w.flushIntervalBytes:]...)
	}
	w.mu.Unlock()

	for _, chunk := range chunks {
		if err := w.withRetry(ctx, func() error {
			return w.sendNewFrame(w.currentStream(), chunk, false, false)
		}, false); err != nil {
			return err
		}
	}
	return nil
}

// StateLookup sends a state_lookup request and awaits the reply,
// returning the refreshed persisted_size.
func (w *Writer) StateLookup(ctx context.Context) (int64, error) {
	if err := w.requireOpen(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	seqBefore := w.ackSeq
	w.mu.Unlock()

	err := w.withRetry(ctx, func() error {
		return w.currentStream().Send(wire.BidiWriteObjectRequest{StateLookup: true})
	}, true)
	if err != nil {
		return w.PersistedSize(), err
	}

	if err := w.waitUntil(ctx, func() bool { return w.ackSeq > seqBefore }); err != nil {
		return w.PersistedSize(), err
	}
	return w.PersistedSize(), nil
}

// Flush forces any buffered bytes to be sent, awaits server acks up to
// the total appended offset, and returns the new persisted_size.
func (w *Writer) Flush(ctx context.Context) (int64, error) {
	if err := w.requireOpen(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	toSend := w.buffered
	w.buffered = nil
	target := w.sentOffset + int64(len(toSend))
	w.mu.Unlock()

	err := w.withRetry(ctx, func() error {
		return w.sendNewFrame(w.currentStream(), toSend, true, false)
	}, false)
	if err != nil {
		return w.PersistedSize(), err
	}

	if err := w.waitUntil(ctx, func() bool { return w.persistedSize >= target }); err != nil {
		return w.PersistedSize(), err
	}
	return w.PersistedSize(), nil
}

// Close flushes pending bytes and either half-closes the stream
// (finalizeOnClose == false, transitioning to HALF_CLOSED so a new
// Writer may reopen with the same generation) or finalizes the object
// (finalizeOnClose == true, transitioning to FINALIZED). Subsequent
// operations fail with ErrClosed.
func (w *Writer) Close(ctx context.Context, finalizeOnClose bool) error {
	w.mu.Lock()
	if w.state != gcsbidi.Open {
		state := w.state
		w.mu.Unlock()
		if state == gcsbidi.Unopened {
			return gcsbidi.ErrNotOpen
		}
		return gcsbidi.ErrClosed
	}
	toSend := w.buffered
	w.buffered = nil
	target := w.sentOffset + int64(len(toSend))
	w.mu.Unlock()

	err := w.withRetry(ctx, func() error {
		return w.sendNewFrame(w.currentStream(), toSend, true, finalizeOnClose)
	}, false)
	if err != nil {
		return err
	}

	if err := w.waitUntil(ctx, func() bool { return w.persistedSize >= target }); err != nil {
		return err
	}

	w.mu.Lock()
	stream := w.stream
	if finalizeOnClose {
		w.state = gcsbidi.Finalized
	} else {
		w.state = gcsbidi.HalfClosed
	}
	w.mu.Unlock()

	xlog.Infof(w.ref, "aow: closed finalize=%v persisted_size=%d", finalizeOnClose, w.PersistedSize())
	if stream == nil {
		return nil
	}
	return stream.Close()
}

// Finalize is a shortcut for Close(ctx, true).
func (w *Writer) Finalize(ctx context.Context) error {
	return w.Close(ctx, true)
}

func (w *Writer) requireOpen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case gcsbidi.Open:
		return nil
	case gcsbidi.Unopened:
		return gcsbidi.ErrNotOpen
	default:
		return gcsbidi.ErrClosed
	}
}

func (w *Writer) currentStream() *WriteObjectStream {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stream
}

// sendNewFrame sends data not previously seen by the server: it
// advances sentOffset and appends to the in-memory replay buffer before
// writing to the wire, so a concurrent reconnect always has an
// accurate picture of what must be retransmitted. flush/finish are
// remembered alongside the replay buffer so a resume that has to
// retransmit this frame carries the same flags.
func (w *Writer) sendNewFrame(stream *WriteObjectStream, data []byte, flush, finish bool) error {
	if stream == nil {
		return gcsbidi.ErrNotOpen
	}
	w.mu.Lock()
	offset := w.sentOffset
	w.unacked = append(w.unacked, data...)
	w.sentOffset += int64(len(data))
	w.pendingFlush = flush
	w.pendingFinish = finish
	w.mu.Unlock()

	if err := stream.Send(wire.BidiWriteObjectRequest{Data: data, Offset: offset, FlushData: flush, FinishWrite: finish}); err != nil {
		return err
	}
	w.metrics.BytesSent.Add(float64(len(data)))
	return nil
}

func (w *Writer) applyAckLocked(resp wire.BidiWriteObjectResponse) {
	if resp.PersistedSize > w.persistedSize {
		advanced := resp.PersistedSize - w.persistedSize
		w.persistedSize = resp.PersistedSize
		if advanced > 0 {
			if int64(len(w.unacked)) >= advanced {
				w.unacked = w.unacked[advanced:]
			} else {
				w.unacked = nil
			}
		}
		w.metrics.PersistedSize.Set(float64(w.persistedSize))
	}
	if len(resp.WriteHandle) > 0 {
		w.writeHandle = resp.WriteHandle
	}
	if resp.Resource != nil {
		w.generation = resp.Resource.Generation
	}
	w.ackSeq++
	w.cond.Broadcast()
}

func (w *Writer) recvLoop(stream *WriteObjectStream) {
	for {
		resp, err := stream.Recv()
		w.mu.Lock()
		if w.stream != stream {
			// superseded by a reconnect; this goroutine is retired.
			w.mu.Unlock()
			return
		}
		if err != nil {
			w.recvErr = err
			w.cond.Broadcast()
			w.mu.Unlock()
			return
		}
		w.applyAckLocked(resp)
		w.mu.Unlock()
	}
}

// waitUntil blocks until ready reports true, the recv loop observes a
// terminal error, or ctx is cancelled.
func (w *Writer) waitUntil(ctx context.Context, ready func() bool) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		case <-done:
		}
	}()

	w.mu.Lock()
	defer w.mu.Unlock()
	for !ready() && w.recvErr == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.cond.Wait()
	}
	if ready() {
		return nil
	}
	return w.recvErr
}

// withRetry runs op once; on a retriable stream fault it reconnects via
// resume, which by itself retransmits every byte op already accounted
// for in the replay buffer (spec §4.6). reissueAfterResume controls
// whether op runs again after a resume: a frame that carries new data
// (sendNewFrame) must not be reissued, since resume's replay already
// retransmits it — doing both would durably double-write those bytes.
// A bare control request with no associated data (state_lookup) has
// nothing for resume to replay on its behalf and so must be reissued.
func (w *Writer) withRetry(ctx context.Context, op func() error, reissueAfterResume bool) error {
	b := retry.NewBackoff(w.retryDeadline)
	first := true
	return retry.Run(ctx, b, func(err error) {
		w.metrics.Retries.Inc()
		xlog.Infof(w.ref, "aow: retrying after %v", err)
	}, func() error {
		if first {
			first = false
			return op()
		}
		if err := w.resume(ctx); err != nil {
			return err
		}
		if reissueAfterResume {
			return op()
		}
		return nil
	})
}

// resume closes the failed stream, reopens it with the writer's
// write_handle, and retransmits every byte the server has not yet
// persisted, carrying whatever flush/finish flags were pending on that
// data (spec §4.5, §4.6). It also clears recvErr: the fault that ended
// the previous stream no longer applies to the one now in use, and a
// waitUntil judging readiness against it must start fresh.
func (w *Writer) resume(ctx context.Context) error {
	w.mu.Lock()
	oldStream := w.stream
	ref := w.ref
	ref.Generation = w.generation
	writeHandle := w.writeHandle
	w.mu.Unlock()
	if oldStream != nil {
		_ = oldStream.Close()
	}

	newStream := NewWriteObjectStream(w.transport, ref, writeHandle, w.md)
	resp, err := newStream.Open(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.recvErr = nil
	w.applyAckLocked(resp)
	replay := append([]byte(nil), w.unacked...)
	offset := w.persistedSize
	flush := w.pendingFlush
	finish := w.pendingFinish
	w.stream = newStream
	w.mu.Unlock()

	go w.recvLoop(newStream)

	if len(replay) > 0 || flush || finish {
		if err := newStream.Send(wire.BidiWriteObjectRequest{Data: replay, Offset: offset, FlushData: flush, FinishWrite: finish}); err != nil {
			return err
		}
	}
	xlog.Infof(w.ref, "aow: resumed persisted_size=%d replayed=%d", w.PersistedSize(), len(replay))
	return nil
}
