package mrd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"

	"github.com/cloudshelf/gcsbidi"
	"github.com/cloudshelf/gcsbidi/internal/crc32c"
	"github.com/cloudshelf/gcsbidi/internal/metrics"
	"github.com/cloudshelf/gcsbidi/internal/readid"
	"github.com/cloudshelf/gcsbidi/internal/xlog"
	"github.com/cloudshelf/gcsbidi/retry"
	"github.com/cloudshelf/gcsbidi/wire"
)

// Range is one caller-requested byte range, paired with the sink its
// bytes should be written to. Length == 0 means "from Offset to end of
// object" (spec §3, §4.4).
type Range struct {
	Offset int64
	Length int64
	Sink   gcsbidi.Sink
}

// Result reports per-range bookkeeping for one DownloadRanges call,
// supplementing spec.md with the byte-accounting the original Python
// client's Result class exposed but the distilled spec dropped.
type Result struct {
	BytesRequested int64
	BytesWritten   int64
}

// pendingRange is what the downloader remembers about one in-flight
// read-id: enough to resubmit it under a fresh id after a reconnect,
// resuming from where its sink left off (spec §4.6).
type pendingRange struct {
	sink   gcsbidi.Sink
	offset int64
	length int64
}

// Downloader is the multi-range downloader (MRD): the read-side core
// that maps caller (offset, length, sink) triples onto server
// ReadRange entries, correlates inbound frames back to sinks, and
// drives checksum validation and retry/resumption (spec §4.4).
type Downloader struct {
	transport gcsbidi.Transport
	ref       gcsbidi.ObjectRef
	md        metadata.MD
	metrics   *metrics.Metrics

	maxRangesPerBatch int
	retryDeadline     time.Duration

	mu             sync.Mutex
	state          gcsbidi.Lifecycle
	stream         *ReadObjectStream
	ranges         map[uint64]*pendingRange
	batchByReadID  map[uint64]uuid.UUID
	readIDsByBatch map[uuid.UUID]map[uint64]struct{}
}

// New builds an unopened Downloader for ref.
func New(transport gcsbidi.Transport, ref gcsbidi.ObjectRef, opts ...Option) *Downloader {
	d := &Downloader{
		transport:         transport,
		ref:               ref,
		metrics:           metrics.New("mrd", ref.String()),
		maxRangesPerBatch: defaultMaxRangesPerBatch,
		retryDeadline:     defaultRetryDeadline,
		state:             gcsbidi.Unopened,
		ranges:            map[uint64]*pendingRange{},
		batchByReadID:     map[uint64]uuid.UUID{},
		readIDsByBatch:    map[uuid.UUID]map[uint64]struct{}{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open opens the underlying read stream. It fails with ErrAlreadyOpen
// if called twice, and with ErrRuntimeMissing if no hardware-
// accelerated CRC32C implementation is available (spec §4.4, §9).
// It makes a single attempt: a transient fault while opening is
// returned to the caller, and the Downloader stays unopened so Open may
// be called again.
func (d *Downloader) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.state != gcsbidi.Unopened {
		d.mu.Unlock()
		return gcsbidi.ErrAlreadyOpen
	}
	d.mu.Unlock()

	if !crc32c.HardwareAccelerated() {
		return gcsbidi.ErrRuntimeMissing
	}

	stream := NewReadObjectStream(d.transport, d.ref, d.md)
	if err := stream.Open(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	d.stream = stream
	d.state = gcsbidi.Open
	d.mu.Unlock()
	xlog.Infof(d.ref, "mrd: opened generation=%d", stream.Generation())
	return nil
}

// IsStreamOpen reports whether the downloader has an open, active
// stream.
func (d *Downloader) IsStreamOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == gcsbidi.Open && d.stream != nil && d.stream.IsActive()
}

// Close closes the underlying stream. It fails with ErrNotOpen if the
// downloader was never opened.
func (d *Downloader) Close() error {
	d.mu.Lock()
	if d.state == gcsbidi.Unopened {
		d.mu.Unlock()
		return gcsbidi.ErrNotOpen
	}
	stream := d.stream
	d.state = gcsbidi.Closed
	d.mu.Unlock()
	if stream == nil {
		return nil
	}
	xlog.Infof(d.ref, "mrd: closed")
	return stream.Close()
}

// DownloadRanges fetches every range in ranges, writing each range's
// bytes to its sink in receive order, and returns per-range byte
// accounting. lock, if non-nil, must be shared by every concurrent
// caller of DownloadRanges against this Downloader: it serializes the
// send-batch-then-recv-loop critical section so sub-requests from
// different calls are never interleaved mid-batch (spec §4.4). A nil
// lock uses a call-local mutex, which is correct only for serial use.
func (d *Downloader) DownloadRanges(ctx context.Context, ranges []Range, lock sync.Locker) ([]Result, error) {
	if len(ranges) == 0 {
		return nil, nil
	}
	if len(ranges) > d.maxRangesPerBatch {
		return nil, gcsbidi.ErrTooManyRanges
	}

	d.mu.Lock()
	if d.state != gcsbidi.Open {
		d.mu.Unlock()
		return nil, gcsbidi.ErrNotOpen
	}
	d.mu.Unlock()

	if lock == nil {
		lock = &sync.Mutex{}
	}

	results := make([]Result, len(ranges))
	wireRanges := make([]wire.ReadRange, len(ranges))
	batchID := uuid.New()
	pending := make(map[uint64]struct{}, len(ranges))
	resultIndex := make(map[uint64]int, len(ranges))

	d.mu.Lock()
	taken := func(id uint64) bool {
		_, ok := d.ranges[id]
		return ok
	}
	for i, r := range ranges {
		id, err := readid.New(taken)
		if err != nil {
			d.mu.Unlock()
			return nil, err
		}
		d.ranges[id] = &pendingRange{sink: r.Sink, offset: r.Offset, length: r.Length}
		d.batchByReadID[id] = batchID
		pending[id] = struct{}{}
		resultIndex[id] = i
		results[i].BytesRequested = r.Length
		wireRanges[i] = wire.ReadRange{ReadOffset: r.Offset, ReadLength: r.Length, ReadID: id}
	}
	d.readIDsByBatch[batchID] = pending
	d.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	first := true
	b := retry.NewBackoff(d.retryDeadline)
	err := retry.Run(ctx, b, func(retryErr error) {
		d.metrics.Retries.Inc()
		xlog.Infof(d.ref, "mrd: retrying after %v", retryErr)
	}, func() error {
		if first {
			first = false
			if err := d.sendSubRequests(wireRanges); err != nil {
				return err
			}
		} else {
			remap, err := d.resume(ctx)
			if err != nil {
				return err
			}
			pending = remapIDs(pending, remap)
			resultIndex = remapIndex(resultIndex, remap)
		}
		return d.recvUntilDrained(pending, resultIndex, results)
	})
	if err != nil {
		d.abortBatch(batchID)
		if errors.Is(err, gcsbidi.ErrDataCorruption) {
			d.mu.Lock()
			stream := d.stream
			d.mu.Unlock()
			if stream != nil {
				_ = stream.Close()
			}
		}
		return results, err
	}
	return results, nil
}

func (d *Downloader) sendSubRequests(ranges []wire.ReadRange) error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return gcsbidi.ErrNotOpen
	}
	for start := 0; start < len(ranges); start += maxRangesPerSubRequest {
		end := start + maxRangesPerSubRequest
		if end > len(ranges) {
			end = len(ranges)
		}
		if err := stream.Send(wire.BidiReadObjectRequest{Ranges: ranges[start:end]}); err != nil {
			return err
		}
	}
	return nil
}

// recvUntilDrained processes responses until pending is empty. Frames
// belonging to read-ids outside pending (other callers' batches,
// multiplexed on the same stream) are still written to their sinks and
// retired from the downloader's global bookkeeping; they are simply
// not reflected in this call's own results.
func (d *Downloader) recvUntilDrained(pending map[uint64]struct{}, resultIndex map[uint64]int, results []Result) error {
	for len(pending) > 0 {
		d.mu.Lock()
		stream := d.stream
		d.mu.Unlock()
		if stream == nil {
			return gcsbidi.ErrNotOpen
		}

		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		if resp.Err != nil {
			return fmt.Errorf("%w: %v", gcsbidi.ErrInvalidRange, resp.Err)
		}

		for _, frame := range resp.ObjectDataRanges {
			if frame.ReadRange == nil {
				return gcsbidi.ErrProtocol
			}
			readID := frame.ReadRange.ReadID

			sum := crc32c.Checksum(frame.ChecksummedData.Content)
			if sum != frame.ChecksummedData.CRC32C {
				return fmt.Errorf("%w: read_id %d", gcsbidi.ErrDataCorruption, readID)
			}

			d.mu.Lock()
			pr := d.ranges[readID]
			d.mu.Unlock()
			if pr == nil {
				continue
			}

			n, werr := pr.sink.Write(frame.ChecksummedData.Content)
			if werr != nil {
				return fmt.Errorf("gcsbidi: writing sink for read_id %d: %w", readID, werr)
			}
			d.metrics.BytesReceived.Add(float64(n))
			if idx, ok := resultIndex[readID]; ok {
				results[idx].BytesWritten += int64(n)
			}

			if frame.RangeEnd {
				d.completeReadID(readID)
				delete(pending, readID)
			}
		}
	}
	return nil
}

func (d *Downloader) completeReadID(readID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if batchID, ok := d.batchByReadID[readID]; ok {
		if set, ok := d.readIDsByBatch[batchID]; ok {
			delete(set, readID)
			if len(set) == 0 {
				delete(d.readIDsByBatch, batchID)
			}
		}
		delete(d.batchByReadID, readID)
	}
	delete(d.ranges, readID)
}

// abortBatch retires every read-id still belonging to batchID: once
// DownloadRanges returns an error, those ranges are abandoned (spec
// §7: "failure of any range fails the whole call; successfully written
// bytes on other sinks are left as-is").
func (d *Downloader) abortBatch(batchID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.readIDsByBatch[batchID] {
		delete(d.ranges, id)
		delete(d.batchByReadID, id)
	}
	delete(d.readIDsByBatch, batchID)
}

// resume closes the failed stream, reopens it, and regenerates a fresh
// read-id for every range still pending across the whole downloader
// (not just the caller's own batch), resuming each from its sink's
// current size when the sink reports one (spec §4.6). It returns a map
// from each stale read-id to its replacement.
func (d *Downloader) resume(ctx context.Context) (map[uint64]uint64, error) {
	d.mu.Lock()
	oldStream := d.stream
	d.mu.Unlock()
	if oldStream != nil {
		_ = oldStream.Close()
	}

	// Reopening the same ReadObjectStream carries forward the generation
	// and read handle it captured.
	newStream := oldStream
	if newStream == nil {
		newStream = NewReadObjectStream(d.transport, d.ref, d.md)
	}
	if err := newStream.Open(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	remap := make(map[uint64]uint64, len(d.ranges))
	newRanges := make(map[uint64]*pendingRange, len(d.ranges))
	newBatchByReadID := make(map[uint64]uuid.UUID, len(d.batchByReadID))
	newReadIDsByBatch := make(map[uuid.UUID]map[uint64]struct{}, len(d.readIDsByBatch))
	taken := func(id uint64) bool {
		_, ok := newRanges[id]
		return ok
	}

	var wireRanges []wire.ReadRange
	for oldID, pr := range d.ranges {
		newID, err := readid.New(taken)
		if err != nil {
			d.mu.Unlock()
			_ = newStream.Close()
			return nil, err
		}

		offset, length := pr.offset, pr.length
		if sized, ok := pr.sink.(gcsbidi.SizedSink); ok {
			written := sized.CurrentSize()
			offset += written
			if length > 0 {
				length -= written
				if length < 0 {
					length = 0
				}
			}
		}

		// keep the caller's original offset/length: CurrentSize counts
		// every byte written so far, so a later resume must shift from
		// the original range again, not from this shifted one.
		newRanges[newID] = &pendingRange{sink: pr.sink, offset: pr.offset, length: pr.length}
		remap[oldID] = newID
		wireRanges = append(wireRanges, wire.ReadRange{ReadOffset: offset, ReadLength: length, ReadID: newID})

		batchID := d.batchByReadID[oldID]
		newBatchByReadID[newID] = batchID
		if newReadIDsByBatch[batchID] == nil {
			newReadIDsByBatch[batchID] = map[uint64]struct{}{}
		}
		newReadIDsByBatch[batchID][newID] = struct{}{}
	}
	d.ranges = newRanges
	d.batchByReadID = newBatchByReadID
	d.readIDsByBatch = newReadIDsByBatch
	d.stream = newStream
	d.mu.Unlock()

	if len(wireRanges) > 0 {
		if err := d.sendSubRequests(wireRanges); err != nil {
			return nil, err
		}
	}
	return remap, nil
}

func remapIDs(ids map[uint64]struct{}, remap map[uint64]uint64) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(ids))
	for id := range ids {
		if newID, ok := remap[id]; ok {
			out[newID] = struct{}{}
		}
	}
	return out
}

func remapIndex(index map[uint64]int, remap map[uint64]uint64) map[uint64]int {
	out := make(map[uint64]int, len(index))
	for id, idx := range index {
		if newID, ok := remap[id]; ok {
			out[newID] = idx
		}
	}
	return out
}
