// Package codec implements the compress/decompress step of the chunked
// image stream. Three schemes are supported, selected by a Tag carried
// in the stream's resolver record: stored (no compression), deflate, and
// snappy. Unknown tags are a hard failure; this is a closed set.
package codec

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"

	"github.com/aff4kit/imagestream/aff4"
)

// Tag names one of the three supported compression schemes.
type Tag int

const (
	// Stored performs no compression; compress and decompress are a
	// byte copy.
	Stored Tag = iota
	// Deflate is a zlib stream compressed at flate.BestSpeed. The
	// write pipeline is latency sensitive during acquisition, so
	// this format trades ratio for speed.
	Deflate
	// Snappy is the raw (block) snappy format.
	Snappy
)

// URN returns the resolver compression URN for tag.
func (t Tag) URN() string {
	switch t {
	case Stored:
		return aff4.CompressionStored
	case Deflate:
		return aff4.CompressionDeflate
	case Snappy:
		return aff4.CompressionSnappy
	default:
		return ""
	}
}

// TagFromURN maps a resolver compression URN back to a Tag. It returns
// aff4.ErrNotImplemented wrapped with the URN if the URN is unrecognized.
func TagFromURN(urn string) (Tag, error) {
	switch urn {
	case aff4.CompressionStored:
		return Stored, nil
	case aff4.CompressionDeflate:
		return Deflate, nil
	case aff4.CompressionSnappy:
		return Snappy, nil
	default:
		return 0, errors.Wrapf(aff4.ErrNotImplemented, "compression urn %q", urn)
	}
}

// Compress returns the compressed form of input under the scheme named by
// tag. It fails with aff4.ErrCodecError if the underlying library rejects
// the input, or aff4.ErrMemoryError if it cannot allocate its working
// buffer.
func Compress(tag Tag, input []byte) ([]byte, error) {
	switch tag {
	case Stored:
		out := make([]byte, len(input))
		copy(out, input)
		return out, nil
	case Deflate:
		return compressDeflate(input)
	case Snappy:
		return snappy.Encode(nil, input), nil
	default:
		return nil, errors.Wrapf(aff4.ErrNotImplemented, "compression tag %d", tag)
	}
}

func compressDeflate(input []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, flate.BestSpeed)
	if err != nil {
		return nil, errors.Wrap(aff4.ErrMemoryError, err.Error())
	}
	if _, err := w.Write(input); err != nil {
		return nil, errors.Wrap(aff4.ErrCodecError, err.Error())
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(aff4.ErrCodecError, err.Error())
	}
	return buf.Bytes(), nil
}

// Decompress returns a buffer of exactly expectedLen bytes, decoded from
// input under the scheme named by tag. expectedLen equals the stream's
// chunk size, except for a stream's final chunk, which may be shorter.
// It fails with aff4.ErrCodecError on corrupt input.
func Decompress(tag Tag, input []byte, expectedLen int) ([]byte, error) {
	switch tag {
	case Stored:
		if len(input) < expectedLen {
			return nil, errors.Wrap(aff4.ErrCodecError, "stored chunk shorter than expected length")
		}
		out := make([]byte, expectedLen)
		copy(out, input[:expectedLen])
		return out, nil
	case Deflate:
		return decompressDeflate(input, expectedLen)
	case Snappy:
		out, err := snappy.Decode(nil, input)
		if err != nil {
			return nil, errors.Wrap(aff4.ErrCodecError, err.Error())
		}
		if len(out) != expectedLen {
			return nil, errors.Wrapf(aff4.ErrCodecError, "snappy chunk decoded to %d bytes, expected %d", len(out), expectedLen)
		}
		return out, nil
	default:
		return nil, errors.Wrapf(aff4.ErrNotImplemented, "compression tag %d", tag)
	}
}

func decompressDeflate(input []byte, expectedLen int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, errors.Wrap(aff4.ErrCodecError, err.Error())
	}
	defer r.Close()
	out := make([]byte, expectedLen)
	n, err := io.ReadFull(r, out)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(aff4.ErrCodecError, err.Error())
	}
	if n != expectedLen {
		return nil, errors.Wrapf(aff4.ErrCodecError, "deflate chunk decoded to %d bytes, expected %d", n, expectedLen)
	}
	// Read on to the end of the stream so the zlib reader verifies the
	// trailing Adler-32 checksum.
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, errors.Wrap(aff4.ErrCodecError, err.Error())
	}
	return out, nil
}
