// Package imagestream implements the chunked, compressed image stream:
// the write pipeline that buffers, chunks, and compresses incoming
// bytes into bevies, and the read pipeline that resolves a logical
// offset back to a bevy/chunk and decompresses it.
package imagestream

import (
	"encoding/binary"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/aff4kit/imagestream/aff4"
	"github.com/aff4kit/imagestream/bevy"
	"github.com/aff4kit/imagestream/codec"
	"github.com/aff4kit/imagestream/resolver"
	"github.com/aff4kit/imagestream/store"
	"github.com/aff4kit/imagestream/volume"
)

// defaultMaxReadLen bounds a single Read call, guarding against a
// caller accidentally requesting a read the size of the whole image.
const defaultMaxReadLen = 1 << 30 // 1 GiB

// Options configures a newly created stream. A zero Options uses the
// defaults from aff4.DefaultChunkSize, aff4.DefaultChunksPerSegment,
// and Deflate compression.
type Options struct {
	ChunkSize        int
	ChunksPerSegment int
	// Compression selects the codec. Nil means Deflate: unlike
	// ChunkSize/ChunksPerSegment, Stored is itself a valid explicit
	// choice, so a zero value can't double as "unset".
	Compression *codec.Tag
	MaxReadLen  int64
}

// Stream is one chunked image stream: a logically contiguous byte
// sequence backed by compressed, bevied storage. A Stream returned by
// Create is writable and becomes read-only once flushed; a Stream
// returned by Open is always read-only.
type Stream struct {
	urn       string
	volumeURN string
	res       resolver.Resolver

	chunkSize        int
	chunksPerSegment int
	compression      codec.Tag
	maxReadLen       int64

	size    int64
	readPtr int64

	writeBuffer []byte
	builder     *bevy.Builder
	vol         *volume.Volume
	volReader   *volume.Reader
	cache       *bevyCache

	dirty   bool
	flushed bool
}

// Create binds a fresh urn to volumeURN via res and returns a writable
// stream backed by vol. Per the data model, the stream owns its write
// side transient state exclusively; the volume owns the persisted
// bevies once flushed.
func Create(res resolver.Resolver, vol *volume.Volume, urn, volumeURN string, opts Options) (*Stream, error) {
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = aff4.DefaultChunkSize
	}
	chunksPerSegment := opts.ChunksPerSegment
	if chunksPerSegment == 0 {
		chunksPerSegment = aff4.DefaultChunksPerSegment
	}
	compression := codec.Deflate
	if opts.Compression != nil {
		compression = *opts.Compression
	}
	maxReadLen := opts.MaxReadLen
	if maxReadLen == 0 {
		maxReadLen = defaultMaxReadLen
	}

	if err := res.Set(urn, aff4.PropType, aff4.TypeImageStream); err != nil {
		return nil, errors.Wrap(aff4.ErrIoError, err.Error())
	}
	if err := res.Set(urn, aff4.PropStored, volumeURN); err != nil {
		return nil, errors.Wrap(aff4.ErrIoError, err.Error())
	}

	return &Stream{
		urn:              urn,
		volumeURN:        volumeURN,
		res:              res,
		chunkSize:        chunkSize,
		chunksPerSegment: chunksPerSegment,
		compression:      compression,
		maxReadLen:       maxReadLen,
		builder:          bevy.New(urn, chunksPerSegment),
		vol:              vol,
		cache:            newBevyCache(16),
	}, nil
}

// openImageStream opens an existing aff4:ImageStream urn for reading.
// It is registered under aff4.TypeImageStream; see RegisterType.
func openImageStream(res resolver.Resolver, vr *volume.Reader, urn string) (*Stream, error) {
	volumeURN, err := res.Get(urn, aff4.PropStored)
	if err != nil {
		return nil, err
	}
	chunkSize, err := getIntDefault(res, urn, aff4.PropChunkSize, aff4.DefaultChunkSize)
	if err != nil {
		return nil, err
	}
	chunksPerSegment, err := getIntDefault(res, urn, aff4.PropChunksPerSegment, aff4.DefaultChunksPerSegment)
	if err != nil {
		return nil, err
	}
	size, err := getIntDefault(res, urn, aff4.PropStreamSize, 0)
	if err != nil {
		return nil, err
	}
	compURN, err := resolver.GetDefault(res, urn, aff4.PropCompression, aff4.DefaultCompression)
	if err != nil {
		return nil, err
	}
	tag, err := codec.TagFromURN(compURN)
	if err != nil {
		return nil, err
	}

	return &Stream{
		urn:              urn,
		volumeURN:        volumeURN,
		res:              res,
		chunkSize:        chunkSize,
		chunksPerSegment: chunksPerSegment,
		compression:      tag,
		maxReadLen:       defaultMaxReadLen,
		size:             int64(size),
		volReader:        vr,
		cache:            newBevyCache(16),
		flushed:          true,
	}, nil
}

// Open opens an existing stream by dispatching on its resolver-recorded
// rdf:type; it is a thin convenience wrapper around OpenByType for the
// common aff4:ImageStream case.
func Open(res resolver.Resolver, vr *volume.Reader, urn string) (*Stream, error) {
	return OpenByType(res, vr, urn)
}

func getIntDefault(res resolver.Resolver, subject, property string, def int) (int, error) {
	s, err := resolver.GetDefault(res, subject, property, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(aff4.ErrIoError, "property %s on %s: %s", property, subject, err.Error())
	}
	return v, nil
}

// Size returns the stream's total logical length.
func (s *Stream) Size() int64 { return s.size }

// Tell returns the current read/write cursor position.
func (s *Stream) Tell() int64 { return s.readPtr }

// Seek moves the read/write cursor to offset, which must lie within
// [0, Size()].
func (s *Stream) Seek(offset int64) error {
	if offset < 0 || offset > s.size {
		return errors.Wrapf(aff4.ErrInvalidArgument, "seek offset %d out of range [0,%d]", offset, s.size)
	}
	s.readPtr = offset
	return nil
}

// Write appends p to the stream. It returns the number of bytes
// accepted, which is always len(p) on success. Write fails with
// aff4.ErrAppendAfterFlush if the stream has already been flushed once;
// this core does not support resuming a flushed stream.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.flushed || s.vol == nil {
		return 0, aff4.ErrAppendAfterFlush
	}
	s.dirty = true
	s.writeBuffer = append(s.writeBuffer, p...)
	for len(s.writeBuffer) >= s.chunkSize {
		chunk := s.writeBuffer[:s.chunkSize]
		compressed, err := codec.Compress(s.compression, chunk)
		if err != nil {
			return 0, err
		}
		s.builder.AppendChunk(compressed)
		rest := make([]byte, len(s.writeBuffer)-s.chunkSize)
		copy(rest, s.writeBuffer[s.chunkSize:])
		s.writeBuffer = rest
		if s.builder.IsFull() {
			if err := s.flushBevy(); err != nil {
				return 0, err
			}
		}
	}
	s.readPtr += int64(len(p))
	if s.readPtr > s.size {
		s.size = s.readPtr
	}
	return len(p), nil
}

// flushBevy persists the bevy under construction and caches a copy of
// it, so the stream can serve reads of its own just-flushed bevies
// before the enclosing volume has been durably closed.
func (s *Stream) flushBevy() error {
	number := s.builder.NextBevyNumber()
	index := append([]uint32(nil), s.builder.Index()...)
	body := append([]byte(nil), s.builder.Body()...)
	if err := s.builder.Flush(s.vol); err != nil {
		return err
	}
	if len(index) > 0 {
		s.cache.put(bevyEntry{number: number, index: index, body: body})
	}
	return nil
}

// Flush finalizes the trailing partial bevy, if any, persists all
// stream parameters to the resolver, and clears the dirty flag.
// Flushing a clean stream is a no-op. Once Flush succeeds, the stream
// becomes read-only: see aff4.ErrAppendAfterFlush.
func (s *Stream) Flush() error {
	if !s.dirty {
		return nil
	}
	if len(s.writeBuffer) > 0 {
		compressed, err := codec.Compress(s.compression, s.writeBuffer)
		if err != nil {
			return err
		}
		s.builder.AppendChunk(compressed)
		s.writeBuffer = nil
	}
	if err := s.flushBevy(); err != nil {
		return err
	}
	if err := s.persistMetadata(); err != nil {
		return err
	}
	s.dirty = false
	s.flushed = true
	return nil
}

func (s *Stream) persistMetadata() error {
	sets := []struct{ prop, value string }{
		{aff4.PropType, aff4.TypeImageStream},
		{aff4.PropStored, s.volumeURN},
		{aff4.PropChunkSize, strconv.Itoa(s.chunkSize)},
		{aff4.PropChunksPerSegment, strconv.Itoa(s.chunksPerSegment)},
		{aff4.PropStreamSize, strconv.FormatInt(s.size, 10)},
		{aff4.PropCompression, s.compression.URN()},
	}
	for _, kv := range sets {
		if err := s.res.Set(s.urn, kv.prop, kv.value); err != nil {
			return errors.Wrap(aff4.ErrIoError, err.Error())
		}
	}
	return nil
}

// Read reads up to length bytes starting at the current cursor and
// advances the cursor by the number of bytes returned. It fails with
// aff4.ErrInvalidArgument if length exceeds the configured read ceiling.
func (s *Stream) Read(length int) ([]byte, error) {
	data, err := s.readAt(s.readPtr, length)
	if err != nil {
		return nil, err
	}
	s.readPtr += int64(len(data))
	return data, nil
}

// ReadAt implements io.ReaderAt over the stream's logical contents,
// independent of the Read/Seek cursor. It is used by the mount package
// to present the stream through a standard file interface.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	data, err := s.readAt(off, len(p))
	n := copy(p, data)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Stream) readAt(offset int64, length int) ([]byte, error) {
	if int64(length) > s.maxReadLen {
		return nil, errors.Wrapf(aff4.ErrInvalidArgument, "read length %d exceeds maximum %d", length, s.maxReadLen)
	}
	if offset < 0 || offset > s.size {
		return nil, errors.Wrapf(aff4.ErrInvalidArgument, "offset %d out of range [0,%d]", offset, s.size)
	}
	remaining := s.size - offset
	if int64(length) > remaining {
		length = int(remaining)
	}
	if length <= 0 {
		return []byte{}, nil
	}

	chunkSize64 := int64(s.chunkSize)
	chunkID := offset / chunkSize64
	inChunkOffset := int(offset % chunkSize64)
	lastChunkID := (offset + int64(length) - 1) / chunkSize64
	totalChunks := (s.size + chunkSize64 - 1) / chunkSize64

	out := make([]byte, 0, int(lastChunkID-chunkID+1)*s.chunkSize)
	for cid := chunkID; cid <= lastChunkID; cid++ {
		bevyID := int(cid / int64(s.chunksPerSegment))
		chunkInBevy := int(cid % int64(s.chunksPerSegment))

		index, body, err := s.bevyData(bevyID)
		if err != nil {
			return nil, err
		}
		if chunkInBevy >= len(index) {
			return nil, errors.Wrapf(aff4.ErrIoError, "bevy %d shorter than advertised", bevyID)
		}
		start := int(index[chunkInBevy])
		var compLen int
		if chunkInBevy == len(index)-1 {
			compLen = len(body) - start
		} else {
			compLen = int(index[chunkInBevy+1]) - start
		}
		if compLen < 0 || start+compLen > len(body) {
			return nil, errors.Wrapf(aff4.ErrIoError, "bevy %d index entry out of range", bevyID)
		}

		expected := s.chunkSize
		if cid == totalChunks-1 {
			if last := s.size - cid*chunkSize64; last > 0 && last < chunkSize64 {
				expected = int(last)
			}
		}
		decompressed, err := codec.Decompress(s.compression, body[start:start+compLen], expected)
		if err != nil {
			return nil, err
		}
		out = append(out, decompressed...)
	}

	if inChunkOffset > len(out) {
		inChunkOffset = len(out)
	}
	out = out[inChunkOffset:]
	if len(out) > length {
		out = out[:length]
	}
	return out, nil
}

// bevyData returns the parsed index and raw payload for bevy number,
// consulting the in-memory cache before falling back to the volume.
func (s *Stream) bevyData(number int) ([]uint32, []byte, error) {
	if be, ok := s.cache.get(number); ok {
		return be.index, be.body, nil
	}
	if s.volReader == nil {
		return nil, nil, errors.Wrapf(aff4.ErrIoError, "bevy %d not available: volume not open for reading", number)
	}

	idxReader, idxSize, err := s.volReader.OpenMember(bevy.IndexName(s.urn, number))
	if err != nil {
		return nil, nil, err
	}
	defer idxReader.Close()
	if idxSize%4 != 0 {
		return nil, nil, errors.Wrapf(aff4.ErrIoError, "bevy %d index size %d not a multiple of 4", number, idxSize)
	}
	idxBytes := make([]byte, idxSize)
	if _, err := io.ReadFull(store.NewReader(idxReader), idxBytes); err != nil {
		return nil, nil, errors.Wrapf(aff4.ErrIoError, "read bevy %d index: %s", number, err.Error())
	}
	index := make([]uint32, idxSize/4)
	for i := range index {
		index[i] = binary.LittleEndian.Uint32(idxBytes[4*i:])
	}

	payloadReader, paySize, err := s.volReader.OpenMember(bevy.Name(s.urn, number))
	if err != nil {
		return nil, nil, err
	}
	defer payloadReader.Close()
	body := make([]byte, paySize)
	if _, err := io.ReadFull(store.NewReader(payloadReader), body); err != nil {
		return nil, nil, errors.Wrapf(aff4.ErrIoError, "read bevy %d payload: %s", number, err.Error())
	}

	s.cache.put(bevyEntry{number: number, index: index, body: body})
	return index, body, nil
}
