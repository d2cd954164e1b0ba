// Package volume implements the archival container that holds a stream's
// bevies: a single zip archive, backed by a store.Store, whose entries are
// the stream's payload and index members. Entries are stored with
// zip.Store (no second layer of compression — the codec package already
// compressed the chunk bytes).
package volume

import (
	"archive/zip"
	"bytes"
	"io"
	"io/ioutil"
	"sync"

	"github.com/pkg/errors"

	"github.com/aff4kit/imagestream/aff4"
	"github.com/aff4kit/imagestream/store"
)

// A Volume is an archival container of named members, backed by a single
// key in a store.Store. Because archive/zip cannot interleave independent
// in-progress entries, writes to a Volume must be serialized: finish
// writing one member before starting the next. This matches the bevy
// builder's own one-bevy-at-a-time discipline.
type Volume struct {
	mu   sync.Mutex
	s    store.Store
	key  string // the store key holding the zip archive
	w    io.WriteCloser
	zw   *zip.Writer
	cw   io.Writer // the currently open member being written, or nil
}

// Create opens a new, empty volume at key in s. An existing volume at key
// is not reopened for appending; archive/zip cannot append to an existing
// archive, so a volume is written in one session and then only read.
func Create(s store.Store, key string) (*Volume, error) {
	w, err := s.Create(key)
	if err != nil {
		return nil, errors.Wrapf(aff4.ErrIoError, "create volume %q: %s", key, err.Error())
	}
	return &Volume{s: s, key: key, w: w, zw: zip.NewWriter(w)}, nil
}

// CreateMember begins a new member entry named name. The returned writer
// must be fully written before the next call to CreateMember or Close;
// archive/zip does not support concurrent or interleaved entries.
func (v *Volume) CreateMember(name string) (io.Writer, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	header := &zip.FileHeader{Name: name, Method: zip.Store}
	w, err := v.zw.CreateHeader(header)
	if err != nil {
		return nil, errors.Wrapf(aff4.ErrIoError, "create member %q: %s", name, err.Error())
	}
	v.cw = w
	return w, nil
}

// Close finalizes the zip archive and the underlying store object. No
// more members may be created after Close.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.zw.Close(); err != nil {
		return errors.Wrap(aff4.ErrIoError, err.Error())
	}
	if err := v.w.Close(); err != nil {
		return errors.Wrap(aff4.ErrIoError, err.Error())
	}
	return nil
}

// Reader opens an existing volume at key in s for reading members.
type Reader struct {
	f io.Closer
	r *zip.Reader
}

// Open opens an existing volume at key in s for reading.
func Open(s store.Store, key string) (*Reader, error) {
	f, size, err := s.Open(key)
	if err != nil {
		return nil, errors.Wrapf(aff4.ErrNotFound, "open volume %q: %s", key, err.Error())
	}
	zr, err := zip.NewReader(f, size)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(aff4.ErrIoError, "open volume %q: %s", key, err.Error())
	}
	return &Reader{f: f, r: zr}, nil
}

// Close releases the underlying store stream for this volume.
func (r *Reader) Close() error {
	return r.f.Close()
}

// OpenMember returns the full contents of member name as an io.ReaderAt,
// along with its size. The member is read entirely into memory; bevies
// are sized so this is bounded (chunks_per_segment chunks plus a small
// index), matching the read pipeline's own per-bevy working set.
func (r *Reader) OpenMember(name string) (store.ReadAtCloser, int64, error) {
	for _, f := range r.r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, 0, errors.Wrapf(aff4.ErrIoError, "open member %q: %s", name, err.Error())
		}
		defer rc.Close()
		data, err := ioutil.ReadAll(rc)
		if err != nil {
			return nil, 0, errors.Wrapf(aff4.ErrIoError, "read member %q: %s", name, err.Error())
		}
		return &memberReader{bytes.NewReader(data)}, int64(len(data)), nil
	}
	return nil, 0, errors.Wrapf(aff4.ErrNotFound, "member %q", name)
}

type memberReader struct {
	*bytes.Reader
}

func (m *memberReader) Close() error { return nil }
