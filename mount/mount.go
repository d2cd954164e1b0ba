// Package mount presents a flushed, read-only ImageStream through a
// FUSE filesystem, so a finished evidence container's logical image can
// be opened by ordinary disk-image tooling without a bespoke reader.
// This is presentation only: it calls nothing but the stream's own
// ReadAt/Size.
package mount

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/aff4kit/imagestream/imagestream"
)

// Options configures the mount.
type Options struct {
	// Mountpoint is the directory the filesystem is mounted at. It
	// is created if it does not exist.
	Mountpoint string
	// Name is the file name presented inside the mount for the
	// stream's contents, e.g. "image.raw".
	Name string
	// Stream is the flushed, read-only stream to present. Writing
	// to it after mounting is undefined.
	Stream *imagestream.Stream
	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool
}

// Mount mounts the image stream filesystem. The caller must call
// Unmount on the returned Server when done.
func Mount(opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if opts.Stream == nil {
		return nil, fmt.Errorf("stream is required")
	}
	if opts.Name == "" {
		opts.Name = "image.raw"
	}
	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	root := &rootNode{opts: &opts}
	entryTimeout := time.Second
	attrTimeout := time.Second

	server, err := gofuse.Mount(opts.Mountpoint, root, &gofuse.Options{
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "aff4-imagestream",
			Name:       "imagestream",
			AllowOther: opts.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", opts.Mountpoint, err)
	}
	return server, nil
}

// rootNode is the filesystem root; its only child is the image file.
type rootNode struct {
	gofuse.Inode
	opts *Options
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeOnAdder = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	file := &streamNode{stream: r.opts.Stream}
	child := r.NewPersistentInode(ctx, file, gofuse.StableAttr{Mode: syscall.S_IFREG})
	r.AddChild(r.opts.Name, child, true)
}

// streamNode presents a Stream's contents as one read-only file.
type streamNode struct {
	gofuse.Inode
	stream *imagestream.Stream
}

var _ gofuse.InodeEmbedder = (*streamNode)(nil)
var _ gofuse.NodeGetattrer = (*streamNode)(nil)
var _ gofuse.NodeOpener = (*streamNode)(nil)
var _ gofuse.NodeReader = (*streamNode)(nil)

func (s *streamNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(s.stream.Size())
	out.Blksize = 65536
	out.Blocks = (out.Size + 511) / 512
	return 0
}

func (s *streamNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (s *streamNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := s.stream.ReadAt(dest, off)
	if err != nil && n == 0 {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}
