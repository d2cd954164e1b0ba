// Package aff4 holds the small set of sentinel errors and URN constants
// shared by every package implementing the chunked image stream: the
// compression codec, the bevy builder, the volume and resolver, and the
// stream's read/write pipelines.
package aff4

import "errors"

// The seven error kinds a caller may need to distinguish, matching on
// them with errors.Is. Packages wrap these with github.com/pkg/errors
// to add context; callers should still match against the sentinel.
var (
	// ErrNotFound indicates a required resolver property or volume
	// member is missing.
	ErrNotFound = errors.New("aff4: not found")

	// ErrNotImplemented indicates an unrecognized compression or
	// stream type URN was encountered on open.
	ErrNotImplemented = errors.New("aff4: not implemented")

	// ErrIoError indicates a volume or store read/write failure, or
	// a structurally corrupt bevy.
	ErrIoError = errors.New("aff4: io error")

	// ErrCodecError indicates a compression library rejected its
	// input, or a decompression integrity check failed.
	ErrCodecError = errors.New("aff4: codec error")

	// ErrMemoryError indicates a codec could not allocate its
	// working buffer.
	ErrMemoryError = errors.New("aff4: memory error")

	// ErrInvalidArgument indicates a caller-supplied argument, such
	// as a read length, is out of range.
	ErrInvalidArgument = errors.New("aff4: invalid argument")

	// ErrAppendAfterFlush indicates a Write was attempted on a
	// stream that has already been flushed, or on a stream obtained
	// from Open, which is read-only. Create a fresh stream instead of
	// resuming one already finalized.
	ErrAppendAfterFlush = errors.New("aff4: write after flush")
)

// Type URN every image stream resolver record carries as rdf:type.
const TypeImageStream = "aff4:ImageStream"

// Resolver property URNs used by the image stream.
const (
	PropStored           = "aff4:stored"
	PropChunkSize        = "aff4:chunk_size"
	PropChunksPerSegment = "aff4:chunks_per_segment"
	PropStreamSize       = "aff4:stream_size"
	PropCompression      = "aff4:compression"
	PropType             = "rdf:type"
)

// Compression scheme URNs, keyed by Tag in the codec package.
const (
	CompressionStored  = "compression/stored"
	CompressionDeflate = "compression/deflate"
	CompressionSnappy  = "compression/snappy"
)

// Defaults applied when a resolver property is absent on open.
const (
	DefaultChunkSize        = 32768
	DefaultChunksPerSegment = 1024
	DefaultCompression      = CompressionDeflate
)
