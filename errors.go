package gcsbidi

import "errors"

// Sentinel errors (§7). Callers should check with errors.Is; the core
// wraps these with call-specific context via fmt.Errorf("...: %w", ...).
var (
	// ErrNotOpen is returned when an operation that requires an open
	// stream is attempted before Open or after Close.
	ErrNotOpen = errors.New("gcsbidi: stream is not open")
	// ErrAlreadyOpen is returned by Open when called on an already-open
	// (or already-opened-and-closed) MRD or AOW.
	ErrAlreadyOpen = errors.New("gcsbidi: stream is already open")
	// ErrClosed is returned by AOW operations after Close or Finalize.
	ErrClosed = errors.New("gcsbidi: stream is closed")
	// ErrTooManyRanges is returned by DownloadRanges when more than
	// 1000 ranges are requested in a single call.
	ErrTooManyRanges = errors.New("gcsbidi: too many ranges in one DownloadRanges call")
	// ErrInvalidRange is returned when the server reports a requested
	// offset or length is invalid for the object (e.g. beyond EOF).
	ErrInvalidRange = errors.New("gcsbidi: invalid read range")
	// ErrProtocol is returned when a server frame violates the expected
	// shape (e.g. ObjectRangeData with no ReadRange).
	ErrProtocol = errors.New("gcsbidi: protocol violation")
	// ErrDataCorruption is returned when a received frame's CRC32C does
	// not match the content. The batch is aborted and the stream is
	// closed.
	ErrDataCorruption = errors.New("gcsbidi: checksum mismatch")
	// ErrTransient wraps a retriable transport fault. It is consumed by
	// the retry layer and should never be observed by callers unless
	// the retry deadline was exhausted.
	ErrTransient = errors.New("gcsbidi: transient transport error")
	// ErrFatal names a non-retriable transport fault (auth, permission,
	// not-found). retry.Run returns such faults to the caller as they
	// are, without wrapping them in ErrFatal.
	ErrFatal = errors.New("gcsbidi: fatal transport error")
	// ErrCancelled names an operation aborted because its stream was
	// closed or its caller cancelled; retry.Classify treats it as fatal.
	// The mrd and aow operations do not return it themselves: a
	// cancelled context surfaces as the context's error, and a closed
	// stream as ErrClosed or ErrNotOpen.
	ErrCancelled = errors.New("gcsbidi: operation cancelled")
	// ErrRuntimeMissing is returned by the MRD's Open when no
	// hardware-accelerated CRC32C implementation is available.
	ErrRuntimeMissing = errors.New("gcsbidi: accelerated crc32c implementation unavailable")
	// ErrStreamOpen wraps a synchronous failure to start the
	// underlying RPC from BidiStream.Open.
	ErrStreamOpen = errors.New("gcsbidi: failed to open stream")
)
