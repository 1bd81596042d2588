package mrd

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/metadata"
)

// defaultMaxRangesPerBatch is the hard cap on ranges per DownloadRanges
// call (spec §6).
const defaultMaxRangesPerBatch = 1000

// maxRangesPerSubRequest is the implementation constant bounding how
// many ReadRanges are packed into a single wire request; transparent
// to callers (spec §6).
const maxRangesPerSubRequest = 100

// defaultRetryDeadline is the typical total retry budget for one
// DownloadRanges call (spec §4.6).
const defaultRetryDeadline = 120 * time.Second

// Option configures a Downloader at construction time.
type Option func(*Downloader)

// WithMaxRangesPerBatch overrides the default 1000-range cap.
func WithMaxRangesPerBatch(n int) Option {
	return func(d *Downloader) { d.maxRangesPerBatch = n }
}

// WithRetryDeadline bounds the total time a single DownloadRanges call
// may spend retrying a retriable fault before it gives up and surfaces
// the last error wrapped in gcsbidi.ErrTransient. Zero means unbounded.
func WithRetryDeadline(d time.Duration) Option {
	return func(dl *Downloader) { dl.retryDeadline = d }
}

// WithMetricsRegistry registers the downloader's prometheus collectors
// with reg. A nil registry (the default) disables instrumentation.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(d *Downloader) { d.metrics.Register(reg) }
}

// WithMetadata passes caller-supplied metadata through on every stream
// open, alongside the mandatory routing header (spec §6).
func WithMetadata(md metadata.MD) Option {
	return func(d *Downloader) { d.md = md }
}
