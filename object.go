package gcsbidi

import "fmt"

// ObjectRef identifies the object a stream is opened against. It is
// immutable for the lifetime of a stream: a zero Generation means
// "unspecified", and the server fills it in on the first successful open,
// after which it is pinned for that stream's lifetime.
type ObjectRef struct {
	Bucket     string
	Object     string
	Generation int64
}

// FullBucketName is the "projects/_/buckets/<bucket>" form the server
// expects in the x-goog-request-params routing header (§6).
func (r ObjectRef) FullBucketName() string {
	return "projects/_/buckets/" + r.Bucket
}

// String identifies r for logging, in the same spirit as rclone's
// fs.Object.String().
func (r ObjectRef) String() string {
	if r.Generation != 0 {
		return fmt.Sprintf("%s/%s#%d", r.Bucket, r.Object, r.Generation)
	}
	return r.Bucket + "/" + r.Object
}

// Sink is any append-write target for downloaded range bytes. The core
// never closes or destroys a Sink; it is owned by the caller. Callers
// must not write to the same Sink concurrently from two different
// DownloadRanges batches unless they serialize externally.
type Sink interface {
	Write(p []byte) (n int, err error)
}

// SizedSink is a Sink that can report how many bytes it currently holds.
// The resumption layer uses this, when available, to figure out how far
// into a range a reconnected stream should resume writing.
type SizedSink interface {
	Sink
	CurrentSize() int64
}

// Lifecycle is the state of an MRD or AOW stream.
type Lifecycle int32

const (
	Unopened Lifecycle = iota
	Open
	HalfClosed
	Finalized
	Failed
	Closed
)

func (l Lifecycle) String() string {
	switch l {
	case Unopened:
		return "UNOPENED"
	case Open:
		return "OPEN"
	case HalfClosed:
		return "HALF_CLOSED"
	case Finalized:
		return "FINALIZED"
	case Failed:
		return "FAILED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
