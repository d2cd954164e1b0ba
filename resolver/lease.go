package resolver

import "github.com/golang/groupcache/singleflight"

// Lease wraps a handle obtained from a cache-backed Open. The holder
// must call Release when finished: Clean returns the handle to the
// cache, and !Clean evicts it. This avoids the cyclic ownership a raw
// cached pointer would create between a cache and the objects it holds.
type Lease[T any] struct {
	Value   T
	release func(clean bool)
}

// NewLease constructs a Lease wrapping value, calling onRelease when the
// lease is released.
func NewLease[T any](value T, onRelease func(clean bool)) Lease[T] {
	return Lease[T]{Value: value, release: onRelease}
}

// Release returns the leased value to its cache if clean is true, or
// evicts it otherwise. It is safe to call at most once.
func (l Lease[T]) Release(clean bool) {
	if l.release != nil {
		l.release(clean)
	}
}

// OpenGroup deduplicates concurrent opens of the same key, so that two
// callers racing to open the same stream URN share one underlying open
// rather than performing it twice.
type OpenGroup struct {
	g singleflight.Group
}

// Do calls fn only once for concurrent callers sharing the given key,
// fanning the single result out to all of them.
func (og *OpenGroup) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	return og.g.Do(key, fn)
}
