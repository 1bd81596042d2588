// Package wire defines the request/response payload shapes exchanged on
// the read and write bidirectional RPCs (spec §6). These are plain Go
// structs rather than protoc-generated types: the wire encoding of the
// real service is out of scope for this module (it is treated as an
// opaque payload shape), so these types exist only to give the rest of
// the module something concrete to build, inspect, and correlate.
package wire

// ReadObjectSpec is the first-request payload that opens a read stream.
type ReadObjectSpec struct {
	Bucket     string
	Object     string
	Generation int64 // 0 means "latest"
	ReadHandle []byte
}

// ReadRange identifies one requested byte range within a read stream.
// ReadLength of 0 means "from ReadOffset to end of object". ReadID is a
// 56-bit unsigned integer chosen by the client to correlate this range's
// response frames (§3).
type ReadRange struct {
	ReadOffset int64
	ReadLength int64
	ReadID     uint64
}

// BidiReadObjectRequest is a single message sent on the read stream. The
// first request on a stream carries Spec; subsequent requests carry
// Ranges. A request may carry both, or neither (not meaningful, but not
// forbidden by this shape).
type BidiReadObjectRequest struct {
	Spec   *ReadObjectSpec
	Ranges []ReadRange
}

// ChecksummedData is content plus the server's CRC32C of that content,
// transmitted as an unsigned integer (§6).
type ChecksummedData struct {
	Content []byte
	CRC32C  uint32
}

// ObjectRangeData is one frame of a response carrying bytes for a single
// ReadID. RangeEnd marks the final frame for that ReadID.
type ObjectRangeData struct {
	ReadRange       *ReadRange
	ChecksummedData ChecksummedData
	RangeEnd        bool
}

// ReadObjectMetadata carries the server-assigned identity and
// resumption token, present on the first response of a read stream.
type ReadObjectMetadata struct {
	GenerationNumber int64
	ReadHandle       []byte
}

// BidiReadObjectResponse is a single message received on the read
// stream.
type BidiReadObjectResponse struct {
	Metadata        *ReadObjectMetadata
	ReadHandle      []byte
	ObjectDataRanges []ObjectRangeData
	// Err carries a server-reported error frame (e.g. a requested range
	// beyond the object's end) that arrived in-band rather than as an
	// RPC-level status. A nil Stream.RecvMsg error with a non-nil Err
	// here means the server accepted the message exchange but is
	// reporting an application-level condition.
	Err error
}

// WriteObjectSpec selects whether the write stream creates a new
// appendable object or resumes an existing one.
type WriteObjectSpec struct {
	Bucket     string
	Object     string
	Generation int64  // 0 with WriteHandle == nil means "create new"
	WriteHandle []byte
}

// ObjectResource is the subset of server object metadata this module
// cares about once a write stream has (re)established identity.
type ObjectResource struct {
	Bucket     string
	Object     string
	Generation int64
	Size       int64
}

// BidiWriteObjectRequest is a single message sent on the write stream.
type BidiWriteObjectRequest struct {
	// Spec is present only on the first request of a stream.
	Spec *WriteObjectSpec
	// Data is the chunk of object bytes carried by this frame, written
	// starting at Offset.
	Data   []byte
	Offset int64
	// StateLookup requests the server report PersistedSize without
	// necessarily appending Data.
	StateLookup bool
	// FlushData requests the server durably persist bytes sent so far
	// before acking.
	FlushData bool
	// FinishWrite marks this as the final frame; the server finalizes
	// the object on receipt.
	FinishWrite bool
}

// BidiWriteObjectResponse is a single message received on the write
// stream.
type BidiWriteObjectResponse struct {
	PersistedSize int64
	Resource      *ObjectResource
	WriteHandle   []byte
}
