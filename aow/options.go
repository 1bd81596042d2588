package aow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/metadata"
)

// defaultFlushIntervalBytes is the minimum bytes accumulated before
// Append emits a write frame (spec §6; 16 MiB is the example the spec
// cites as implementation-defined).
const defaultFlushIntervalBytes = 16 << 20

// defaultRetryDeadline is the typical total retry budget for one
// blocking Writer operation (spec §4.6).
const defaultRetryDeadline = 120 * time.Second

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithFlushIntervalBytes overrides the default 16 MiB append-buffering
// threshold.
func WithFlushIntervalBytes(n int) Option {
	return func(w *Writer) { w.flushIntervalBytes = n }
}

// WithRetryDeadline bounds the total time a single blocking operation
// may spend retrying a retriable fault. Zero means unbounded.
func WithRetryDeadline(d time.Duration) Option {
	return func(w *Writer) { w.retryDeadline = d }
}

// WithMetricsRegistry registers the writer's prometheus collectors with
// reg. A nil registry (the default) disables instrumentation.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(w *Writer) { w.metrics.Register(reg) }
}

// WithMetadata passes caller-supplied metadata through on every stream
// open, alongside the mandatory routing header (spec §6).
func WithMetadata(md metadata.MD) Option {
	return func(w *Writer) { w.md = md }
}

// WithWriteHandle resumes an existing appendable object directly by its
// opaque write handle, short-circuiting resume-by-generation.
func WithWriteHandle(handle []byte) Option {
	return func(w *Writer) { w.writeHandle = handle }
}
