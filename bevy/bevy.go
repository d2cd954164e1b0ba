// Package bevy implements the bevy builder: the write-side accumulator
// that buffers one bevy's worth of compressed chunks and their offset
// index, and flushes a completed bevy as two volume members.
package bevy

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/aff4kit/imagestream/aff4"
	"github.com/aff4kit/imagestream/volume"
)

// Name returns the payload member name for bevy number n under the given
// stream URN: "{streamURN}/{n:08d}". This formatting is bit-exact and
// must not be changed; readers rely on it to locate bevies.
func Name(streamURN string, n int) string {
	return fmt.Sprintf("%s/%08d", streamURN, n)
}

// IndexName returns the index member name for bevy number n.
func IndexName(streamURN string, n int) string {
	return Name(streamURN, n) + "/index"
}

// A Builder accumulates compressed chunks for one bevy under
// construction. It is not goroutine safe.
type Builder struct {
	streamURN         string
	chunksPerSegment  int
	body              []byte
	index             []uint32
	nextBevyNumber    int
}

// New returns an empty Builder for the stream named streamURN, bevying up
// to chunksPerSegment chunks at a time.
func New(streamURN string, chunksPerSegment int) *Builder {
	return &Builder{streamURN: streamURN, chunksPerSegment: chunksPerSegment}
}

// NextBevyNumber returns the number that will be assigned to the next
// bevy flushed by this builder.
func (b *Builder) NextBevyNumber() int { return b.nextBevyNumber }

// SetNextBevyNumber resets the builder's bevy counter, used when
// resuming a builder against an already-opened stream.
func (b *Builder) SetNextBevyNumber(n int) { b.nextBevyNumber = n }

// ChunkCount returns the number of chunks currently buffered in this
// bevy.
func (b *Builder) ChunkCount() int { return len(b.index) }

// Index returns the offset index accumulated so far for the bevy under
// construction. The returned slice aliases the builder's internal
// state and must not be modified.
func (b *Builder) Index() []uint32 { return b.index }

// Body returns the compressed chunk bytes accumulated so far for the
// bevy under construction. The returned slice aliases the builder's
// internal state and must not be modified.
func (b *Builder) Body() []byte { return b.body }

// AppendChunk appends one compressed chunk to the bevy under
// construction. The chunk's offset in the bevy body is recorded in the
// index before the bytes are appended.
func (b *Builder) AppendChunk(compressed []byte) {
	b.index = append(b.index, uint32(len(b.body)))
	b.body = append(b.body, compressed...)
}

// IsFull reports whether the bevy under construction has reached its
// chunk limit.
func (b *Builder) IsFull() bool {
	return len(b.index) >= b.chunksPerSegment
}

// Flush persists the bevy under construction as two members of v: the
// payload and the packed little-endian offset index. If the bevy is
// empty, Flush is a no-op. On success the builder is reset to empty and
// its bevy counter advances.
func (b *Builder) Flush(v *volume.Volume) error {
	if len(b.index) == 0 {
		return nil
	}
	n := b.nextBevyNumber

	iw, err := v.CreateMember(IndexName(b.streamURN, n))
	if err != nil {
		return errors.Wrapf(aff4.ErrIoError, "flush bevy %d index: %s", n, err.Error())
	}
	indexBytes := make([]byte, 4*len(b.index))
	for i, off := range b.index {
		binary.LittleEndian.PutUint32(indexBytes[4*i:], off)
	}
	if _, err := iw.Write(indexBytes); err != nil {
		return errors.Wrapf(aff4.ErrIoError, "flush bevy %d index: %s", n, err.Error())
	}

	pw, err := v.CreateMember(Name(b.streamURN, n))
	if err != nil {
		return errors.Wrapf(aff4.ErrIoError, "flush bevy %d payload: %s", n, err.Error())
	}
	if _, err := pw.Write(b.body); err != nil {
		return errors.Wrapf(aff4.ErrIoError, "flush bevy %d payload: %s", n, err.Error())
	}

	b.body = nil
	b.index = nil
	b.nextBevyNumber++
	return nil
}
