package store

import (
	"io"
	"strings"
)

// ResolverPrefix namespaces a resolver's property records away from an
// image stream's volume blobs when both share one underlying Store.
// It cannot contain a '/': FileSystem and Memory both use the full,
// prefixed key as a file name or map key, and both reject a key
// containing a '/'.
const ResolverPrefix = "resolver:"

// NewResolverStore wraps s so that every resolver property record it
// holds is namespaced under ResolverPrefix, letting a resolver and an
// image stream's volumes share one Store without their keys colliding.
func NewResolverStore(s Store) Store {
	return NewWithPrefix(s, ResolverPrefix)
}

// NewWithPrefix wraps the store s by one which prefixes all its keys by
// prefix. This provides a way to namespace keys and share one underlying
// store among several unrelated users, such as a resolver and the
// volumes it describes (see NewResolverStore).
func NewWithPrefix(s Store, prefix string) Store {
	return prefixstore{s: s, p: prefix}
}

type prefixstore struct {
	s Store  // the store being wrapped
	p string // the prefix for our keys
}

func (ps prefixstore) List() <-chan string {
	out := make(chan string)
	in := ps.s.List()
	go func() {
		var plen = len(ps.p)
		for key := range in {
			if strings.HasPrefix(key, ps.p) {
				out <- key[plen:]
			}
		}
		close(out)
	}()
	return out
}

func (ps prefixstore) ListPrefix(prefix string) ([]string, error) {
	var plen = len(ps.p)
	var result []string
	keys, err := ps.s.ListPrefix(ps.p + prefix)
	for _, key := range keys {
		if strings.HasPrefix(key, ps.p) {
			result = append(result, key[plen:])
		}
	}
	return result, err
}

func (ps prefixstore) Open(key string) (ReadAtCloser, int64, error) {
	return ps.s.Open(ps.p + key)
}

func (ps prefixstore) Create(key string) (io.WriteCloser, error) {
	return ps.s.Create(ps.p + key)
}

func (ps prefixstore) Delete(key string) error {
	return ps.s.Delete(ps.p + key)
}
