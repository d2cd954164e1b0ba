package imagestream

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/aff4kit/imagestream/aff4"
	"github.com/aff4kit/imagestream/codec"
	"github.com/aff4kit/imagestream/resolver"
	"github.com/aff4kit/imagestream/store"
	"github.com/aff4kit/imagestream/volume"
)

func tagPtr(t codec.Tag) *codec.Tag { return &t }

// createAndFlush writes data to a fresh stream with the given options
// and flushes it, returning the stream (still readable via its own
// bevy cache) and the backing store/resolver for a later reopen.
func createAndFlush(t *testing.T, data []byte, opts Options) (*Stream, store.Store, resolver.Resolver) {
	t.Helper()
	ms := store.NewMemory()
	res := resolver.NewJSON(store.NewResolverStore(ms))
	vol, err := volume.Create(ms, "vol1")
	if err != nil {
		t.Fatalf("volume.Create() == %s, expected nil", err.Error())
	}
	s, err := Create(res, vol, "urn:stream1", "urn:vol1", opts)
	if err != nil {
		t.Fatalf("Create() == %s, expected nil", err.Error())
	}
	n, err := s.Write(data)
	if err != nil {
		t.Fatalf("Write() == %s, expected nil", err.Error())
	}
	if n != len(data) {
		t.Fatalf("Write() accepted %d bytes, expected %d", n, len(data))
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() == %s, expected nil", err.Error())
	}
	if err := vol.Close(); err != nil {
		t.Fatalf("volume Close() == %s, expected nil", err.Error())
	}
	return s, ms, res
}

func TestS1StoredSingleChunk(t *testing.T) {
	opts := Options{ChunkSize: 8, ChunksPerSegment: 4, Compression: tagPtr(codec.Stored)}
	s, ms, _ := createAndFlush(t, []byte("HELLO"), opts)
	if s.Size() != 5 {
		t.Fatalf("Size() == %d, expected 5", s.Size())
	}

	r, err := volume.Open(ms, "vol1")
	if err != nil {
		t.Fatalf("volume.Open() == %s, expected nil", err.Error())
	}
	defer r.Close()
	idx, isize, err := r.OpenMember("urn:stream1/00000000/index")
	if err != nil {
		t.Fatalf("OpenMember(index) == %s, expected nil", err.Error())
	}
	if isize != 4 {
		t.Fatalf("index size == %d, expected 4", isize)
	}
	buf := make([]byte, 4)
	idx.ReadAt(buf, 0)
	if binary.LittleEndian.Uint32(buf) != 0 {
		t.Fatalf("index[0] == %d, expected 0", binary.LittleEndian.Uint32(buf))
	}
	payload, psize, err := r.OpenMember("urn:stream1/00000000")
	if err != nil {
		t.Fatalf("OpenMember(payload) == %s, expected nil", err.Error())
	}
	pbuf := make([]byte, psize)
	payload.ReadAt(pbuf, 0)
	if !bytes.Equal(pbuf, []byte("HELLO")) {
		t.Fatalf("payload == %q, expected %q", pbuf, "HELLO")
	}
}

func TestS2ZlibMultipleBevies(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	opts := Options{ChunkSize: 4, ChunksPerSegment: 2, Compression: tagPtr(codec.Deflate)}
	s, _, _ := createAndFlush(t, data, opts)

	s.Seek(0)
	out, err := s.Read(10)
	if err != nil {
		t.Fatalf("Read() == %s, expected nil", err.Error())
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("Read() == %v, expected %v", out, data)
	}
}

func TestS3RandomAccessAcrossBevyBoundary(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	opts := Options{ChunkSize: 4, ChunksPerSegment: 2, Compression: tagPtr(codec.Deflate)}
	s, _, _ := createAndFlush(t, data, opts)

	// offsets 3..6 cross the chunk boundary inside bevy 0
	s.Seek(3)
	out, err := s.Read(4)
	if err != nil {
		t.Fatalf("Read() == %s, expected nil", err.Error())
	}
	want := []byte{3, 4, 5, 6}
	if !bytes.Equal(out, want) {
		t.Fatalf("Read() == %v, expected %v", out, want)
	}

	// offsets 6..9 cross from bevy 0 (chunks 0-1) into bevy 1 (chunk 2)
	s.Seek(6)
	out, err = s.Read(4)
	if err != nil {
		t.Fatalf("Read() == %s, expected nil", err.Error())
	}
	want = []byte{6, 7, 8, 9}
	if !bytes.Equal(out, want) {
		t.Fatalf("Read() == %v, expected %v", out, want)
	}
}

func TestS4SnappyHighlyCompressible(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 200000)
	opts := Options{ChunkSize: 65536, ChunksPerSegment: 2, Compression: tagPtr(codec.Snappy)}
	s, ms, _ := createAndFlush(t, data, opts)

	r, err := volume.Open(ms, "vol1")
	if err != nil {
		t.Fatalf("volume.Open() == %s, expected nil", err.Error())
	}
	defer r.Close()
	_, psize0, err := r.OpenMember("urn:stream1/00000000")
	if err != nil {
		t.Fatalf("OpenMember(bevy 0) == %s, expected nil", err.Error())
	}
	if psize0 >= 65536*2 {
		t.Fatalf("bevy 0 payload size %d not much smaller than uncompressed", psize0)
	}
	if _, _, err := r.OpenMember("urn:stream1/00000002"); err == nil {
		t.Fatalf("expected only 2 bevies, found a third")
	}

	s.Seek(0)
	out, err := s.Read(len(data))
	if err != nil {
		t.Fatalf("Read() == %s, expected nil", err.Error())
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("Read() returned %d bytes not matching input", len(out))
	}
}

func TestS5OpenAfterFlushPersistence(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	opts := Options{ChunkSize: 4, ChunksPerSegment: 2, Compression: tagPtr(codec.Deflate)}
	_, ms, res := createAndFlush(t, data, opts)

	vr, err := volume.Open(ms, "vol1")
	if err != nil {
		t.Fatalf("volume.Open() == %s, expected nil", err.Error())
	}
	defer vr.Close()

	reopened, err := Open(res, vr, "urn:stream1")
	if err != nil {
		t.Fatalf("Open() == %s, expected nil", err.Error())
	}
	out, err := reopened.Read(10)
	if err != nil {
		t.Fatalf("Read() == %s, expected nil", err.Error())
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("Read() == %v, expected %v", out, data)
	}
}

func TestS6CorruptionDetection(t *testing.T) {
	ms := store.NewMemory()
	res := resolver.NewJSON(store.NewResolverStore(ms))
	vol, err := volume.Create(ms, "vol1")
	if err != nil {
		t.Fatalf("volume.Create() == %s, expected nil", err.Error())
	}
	opts := Options{ChunkSize: 4, ChunksPerSegment: 2, Compression: tagPtr(codec.Deflate)}
	s, err := Create(res, vol, "urn:stream1", "urn:vol1", opts)
	if err != nil {
		t.Fatalf("Create() == %s, expected nil", err.Error())
	}
	if _, err := s.Write([]byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("Write() == %s, expected nil", err.Error())
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() == %s, expected nil", err.Error())
	}
	if err := vol.Close(); err != nil {
		t.Fatalf("volume Close() == %s, expected nil", err.Error())
	}

	raw, _, err := ms.Open("vol1")
	if err != nil {
		t.Fatalf("ms.Open() == %s, expected nil", err.Error())
	}
	buf := make([]byte, 4096)
	n, _ := raw.ReadAt(buf, 0)
	raw.Close()
	corrupted := append([]byte{}, buf[:n]...)
	for i := range corrupted {
		corrupted[i] ^= 0xFF
	}
	ms.Delete("vol1")
	w, err := ms.Create("vol1")
	if err != nil {
		t.Fatalf("ms.Create() == %s, expected nil", err.Error())
	}
	w.Write(corrupted)
	w.Close()

	vr, err := volume.Open(ms, "vol1")
	if err != nil {
		// a sufficiently mangled zip archive can fail to even open;
		// that is also an acceptable corruption signal.
		return
	}
	defer vr.Close()
	reopened, err := Open(res, vr, "urn:stream1")
	if err != nil {
		return
	}
	if _, err := reopened.Read(4); err == nil {
		t.Fatalf("Read() of corrupted bevy == nil, expected error")
	}
}

func TestFlushIdempotent(t *testing.T) {
	ms := store.NewMemory()
	res := resolver.NewJSON(ms)
	vol, err := volume.Create(ms, "vol1")
	if err != nil {
		t.Fatalf("volume.Create() == %s, expected nil", err.Error())
	}
	s, err := Create(res, vol, "urn:stream1", "urn:vol1", Options{})
	if err != nil {
		t.Fatalf("Create() == %s, expected nil", err.Error())
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() on clean stream == %s, expected nil", err.Error())
	}
	if _, err := s.Write([]byte("hi")); err != nil {
		t.Fatalf("Write() == %s, expected nil", err.Error())
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("first Flush() == %s, expected nil", err.Error())
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("second Flush() == %s, expected nil", err.Error())
	}
}

func TestAppendAfterFlushRejected(t *testing.T) {
	ms := store.NewMemory()
	res := resolver.NewJSON(ms)
	vol, err := volume.Create(ms, "vol2")
	if err != nil {
		t.Fatalf("volume.Create() == %s, expected nil", err.Error())
	}
	s, err := Create(res, vol, "urn:stream2", "urn:vol2", Options{})
	if err != nil {
		t.Fatalf("Create() == %s, expected nil", err.Error())
	}
	if _, err := s.Write([]byte("hi")); err != nil {
		t.Fatalf("Write() == %s, expected nil", err.Error())
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() == %s, expected nil", err.Error())
	}
	if _, err := s.Write([]byte("more")); err != aff4.ErrAppendAfterFlush {
		t.Fatalf("Write() after flush == %v, expected aff4.ErrAppendAfterFlush", err)
	}
}

func TestReadOversizedLength(t *testing.T) {
	data := []byte("HELLO")
	opts := Options{ChunkSize: 8, ChunksPerSegment: 4, Compression: tagPtr(codec.Stored), MaxReadLen: 4}
	s, _, _ := createAndFlush(t, data, opts)
	s.Seek(0)
	if _, err := s.Read(5); err == nil {
		t.Fatalf("Read() of oversized length == nil, expected aff4.ErrInvalidArgument")
	}
}
