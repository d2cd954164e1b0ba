package store

import (
	"errors"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"

	"github.com/aff4kit/imagestream/aff4"
)

// FileSystem implements a store on removable or slow media, such as an
// external drive attached for the duration of an acquisition. It tries
// to only open files when necessary so the drive does not need to stay
// spun up between operations.
//
// It holds two kinds of keys: a handful of volume names (one per
// acquired image, so these rarely shard into more than a few files per
// directory) and, when a resolver is backed by the same FileSystem,
// many "urn:aff4:<uuid>" subject keys, one per stream's property
// record. The keys are used as file names, so they must not contain a
// forward slash.
type FileSystem struct {
	root string
}

const (
	// the subdir to store files while they are being written to.
	scratchdir = "scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyExists indicates an attempt to create a key which already exists
	ErrKeyExists = errors.New("Key already exists")

	// ErrKeyContainsSlash means the key provided contains a forward slash '/'
	ErrKeyContainsSlash = errors.New("Key contains forward slash")

	// ErrKeyContainsNonUnicode means the key provided contains a Non Unicode Rune
	ErrKeyContainsNonUnicode = errors.New("Key contains Non-Unicode character")

	// ErrKeyContainsWhiteSpace  means the key provided contains WhiteSpace
	ErrKeyContainsWhiteSpace = errors.New("Key contains White Space")

	// ErrKeyContainsControlChar  means the key provided contains Control Characters
	ErrKeyContainsControlChar = errors.New("Key contains Control  Characters")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root}
}

// List returns a channel listing all the keys in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go walkTree(c, s.root, 0)
	return c
}

// Perform depth first walk of file tree at root, emitting all unique item
// keys on channel out. Be careful to only open directories and stat
// files. Otherwise we might force slow removable media to spin up.
//
// If level is 0, the channel is closed when the function exits.
func walkTree(out chan<- string, root string, level int) {
	if level == 0 {
		defer close(out)
	}
	f, err := os.Open(root)
	if err != nil {
		log.Println(err)
		raven.CaptureError(err, nil)
		return
	}
	defer f.Close()
	for {
		entries, err := f.Readdir(1000)
		if err == io.EOF {
			return
		} else if err != nil {
			// we have no other way of passing this error back
			log.Println(err)
			raven.CaptureError(err, nil)
			return
		}
		for _, e := range entries {
			// only decend at most two directories down, and only
			// list files in the second level. 0/1/2
			if e.IsDir() {
				if level < 2 {
					p := filepath.Join(root, e.Name())
					walkTree(out, p, level+1)
				}
				continue
			}
			if level != 2 {
				continue
			}
			out <- e.Name()
		}
	}
}

// ListPrefix returns a list of all the keys beginning with the given prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	// the shard directory is computed the same way itemSubdir computes
	// it for a full key: strip the URN scheme before looking at the
	// leading bytes, so querying by a subject prefix lands in the
	// directories those subjects were actually sharded into.
	p := strings.TrimPrefix(prefix, aff4.URNPrefix)
	var glob string
	switch len(p) {
	case 0:
		glob = "*/*"
	case 1:
		glob = p + "*/*"
	case 2:
		glob = p[0:2] + "/*"
	case 3:
		glob = p[0:2] + "/" + p[2:3] + "*"
	default:
		glob = p[0:2] + "/" + p[2:4]
	}
	glob = filepath.Join(s.root, glob, prefix+"*")
	result, err := filepath.Glob(glob)
	if err == nil {
		for i := range result {
			result[i] = path.Base(result[i])
		}
	}
	return result, err
}

// Open returns a reader for the given object along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if strings.Contains(key, "/") {
		return nil, 0, ErrKeyContainsSlash
	}
	fname := filepath.Join(s.root, itemSubdir(key), key)
	f, err := os.Open(fname)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create creates a new item with the given key, and a writer to allow for
// saving data into the new item.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {

	// Perform Key Name Validation
	err := isKeyValid(key)

	if err != nil {
		return nil, err
	}
	var w io.WriteCloser
	// first set up the eventual home dir of this file
	target, err := s.setupSubDir(itemSubdir(key), key)
	if err != nil {
		return nil, err
	}
	_, err = os.Stat(target)
	if !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	// now set up the scratch location we will temporially save the file to
	temp, err := s.setupSubDir(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// pass the O_EXCL flag explicitly to prevent overwriting
	// already existing files
	w, err = os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{w, temp, target}, nil
}

// setupSubDir makes sure the given subdirectory exists under the root, and
// then returns the absolute path to the keyed file, and an optional error.
func (s *FileSystem) setupSubDir(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

// track the file so when it is closed, we can move it into the correct place
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		return err
	}
	_, err = os.Stat(w.target)
	if !os.IsNotExist(err) {
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *FileSystem) Delete(key string) error {
	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}
	fname1 := filepath.Join(s.root, itemSubdir(key), key)
	err := os.Remove(fname1)
	// don't report a missing file as an error
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// itemSubdir returns the subdirectory a key's file is stored under.
//
// A resolver property record is keyed by its subject, typically
// "urn:aff4:<uuid>": sharding on the scheme prefix itself would pile
// every record into one "ur/n:/" directory, so the prefix is
// stripped first and the shard is computed from the uuid underneath
// it, e.g. "urn:aff4:3fa85f64-..." shards as "3f/a8/". A bare volume
// name such as "vol1" has no such prefix and shards on its own leading
// bytes, e.g. "vo/l1/".
func itemSubdir(key string) string {
	k := strings.TrimPrefix(key, aff4.URNPrefix)
	var result string
	switch len(k) {
	case 0:
		result = "./"
	case 1:
		result = k + "/"
	case 2:
		result = k + "/"
	case 3:
		result = k[0:2] + "/" + k[2:3] + "/"
	default:
		result = k[0:2] + "/" + k[2:4] + "/"
	}
	return result
}

// Some Simple Item Key Validations
func isKeyValid(key string) error {

	// Valid Unicode

	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}

	// No Slashes
	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}

	for _, rune := range key {
		// No White Space
		if unicode.IsSpace(rune) {
			return ErrKeyContainsWhiteSpace
		}

		// No Control Characters
		if unicode.IsControl(rune) {
			return ErrKeyContainsControlChar
		}
	}

	// return an empty error on success
	return nil
}
