package imagestream

import (
	"sync"

	"github.com/aff4kit/imagestream/resolver"
	"github.com/aff4kit/imagestream/volume"
)

// StreamCache caches opened, read-only streams by URN and deduplicates
// concurrent opens of the same URN through a resolver.OpenGroup (a
// singleflight group). Callers
// get a Lease back; releasing it clean keeps the stream cached for the
// next Open, and releasing it dirty (or on error) evicts it.
type StreamCache struct {
	group resolver.OpenGroup

	mu    sync.Mutex
	cache map[string]*Stream
}

// NewStreamCache returns an empty StreamCache.
func NewStreamCache() *StreamCache {
	return &StreamCache{cache: make(map[string]*Stream)}
}

// Open returns a leased, read-only Stream for urn, opening it via res
// and vr if it is not already cached.
func (sc *StreamCache) Open(res resolver.Resolver, vr *volume.Reader, urn string) (resolver.Lease[*Stream], error) {
	sc.mu.Lock()
	if s, ok := sc.cache[urn]; ok {
		sc.mu.Unlock()
		return sc.lease(urn, s), nil
	}
	sc.mu.Unlock()

	v, err := sc.group.Do(urn, func() (interface{}, error) {
		return Open(res, vr, urn)
	})
	if err != nil {
		return resolver.Lease[*Stream]{}, err
	}
	s := v.(*Stream)

	sc.mu.Lock()
	sc.cache[urn] = s
	sc.mu.Unlock()

	return sc.lease(urn, s), nil
}

func (sc *StreamCache) lease(urn string, s *Stream) resolver.Lease[*Stream] {
	return resolver.NewLease(s, func(clean bool) {
		if clean {
			return
		}
		sc.mu.Lock()
		delete(sc.cache, urn)
		sc.mu.Unlock()
	})
}
