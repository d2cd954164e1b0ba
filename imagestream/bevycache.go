package imagestream

import "container/list"

// bevyEntry holds one bevy's parsed index and raw compressed payload.
type bevyEntry struct {
	number int
	index  []uint32
	body   []byte
}

// bevyCache is a small in-memory, count-bounded LRU of recently used
// bevies. It never changes what a read returns, only how often the
// volume has to be consulted: a run of sequential reads within one bevy
// hits the cache instead of re-opening and re-parsing the index member
// on every call. It also lets a stream read back bevies it has just
// flushed in the same session, before the underlying volume has been
// closed and made durably readable.
type bevyCache struct {
	max int
	lru *list.List // front = MRU
}

func newBevyCache(max int) *bevyCache {
	return &bevyCache{max: max, lru: list.New()}
}

func (c *bevyCache) get(number int) (bevyEntry, bool) {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		be := e.Value.(bevyEntry)
		if be.number == number {
			c.lru.MoveToFront(e)
			return be, true
		}
	}
	return bevyEntry{}, false
}

func (c *bevyCache) put(be bevyEntry) {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		if e.Value.(bevyEntry).number == be.number {
			c.lru.Remove(e)
			break
		}
	}
	c.lru.PushFront(be)
	for c.lru.Len() > c.max {
		c.lru.Remove(c.lru.Back())
	}
}
