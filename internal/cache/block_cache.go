// Package cache implements the block cache SST reads consult before
// touching disk, adapted from rockyardkv's internal/cache LRU cache down
// to the single, unsharded variant this engine's scale calls for.
package cache

import (
	"container/list"
	"sync"
)

// Key identifies one cached block by the SST that owns it and that
// block's offset within the file.
type Key struct {
	SSTID  uint32
	Offset uint64
}

// Handle is a reference to a cached block. Callers must Release every
// Handle obtained from Insert or Lookup.
type Handle struct {
	key     Key
	value   []byte
	charge  uint64
	refs    int32
	deleted bool
}

// Value returns the cached block bytes.
func (h *Handle) Value() []byte { return h.value }

// BlockCache is a thread-safe, fixed-capacity LRU cache over SST blocks.
type BlockCache struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	table    map[Key]*list.Element
	lru      *list.List

	hits   uint64
	misses uint64
}

type entry struct{ handle *Handle }

func getEntry(e *list.Element) *entry { v, _ := e.Value.(*entry); return v }

// New creates a block cache with capacity bytes of room.
func New(capacity uint64) *BlockCache {
	return &BlockCache{
		capacity: capacity,
		table:    make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

// Insert adds or replaces a block, evicting unreferenced entries as
// needed to stay within capacity.
func (c *BlockCache) Insert(key Key, value []byte, charge uint64) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.table[key]; ok {
		en := getEntry(e)
		c.usage -= en.handle.charge
		en.handle.value = value
		en.handle.charge = charge
		c.usage += charge
		c.lru.MoveToFront(e)
		en.handle.refs++
		return en.handle
	}

	h := &Handle{key: key, value: value, charge: charge, refs: 1}
	for c.usage+charge > c.capacity && c.lru.Len() > 0 {
		if !c.evictOne() {
			break
		}
	}
	e := c.lru.PushFront(&entry{handle: h})
	c.table[key] = e
	c.usage += charge
	return h
}

// Lookup retrieves a handle for key, or nil if absent or deleted.
func (c *BlockCache) Lookup(key Key) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.table[key]; ok {
		en := getEntry(e)
		if !en.handle.deleted {
			c.lru.MoveToFront(e)
			en.handle.refs++
			c.hits++
			return en.handle
		}
	}
	c.misses++
	return nil
}

// Release drops one reference on handle, removing it if it was erased
// while still pinned.
func (c *BlockCache) Release(handle *Handle) {
	if handle == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	handle.refs--
	if handle.refs == 0 && handle.deleted {
		c.removeByKey(handle.key)
	}
}

// Erase removes key from the cache, deferring actual removal until every
// outstanding reference is released.
func (c *BlockCache) Erase(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.table[key]; ok {
		en := getEntry(e)
		en.handle.deleted = true
		if en.handle.refs == 0 {
			c.removeElement(e)
		}
	}
}

// Usage returns bytes currently charged against capacity.
func (c *BlockCache) Usage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// HitRate returns the fraction of Lookup calls that found a live entry.
func (c *BlockCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// evictOne evicts the least recently used unpinned entry. Returns false
// if every entry is pinned.
func (c *BlockCache) evictOne() bool {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		en := getEntry(e)
		if en.handle.refs == 0 && !en.handle.deleted {
			c.removeElement(e)
			return true
		}
	}
	return false
}

func (c *BlockCache) removeElement(e *list.Element) {
	en := getEntry(e)
	delete(c.table, en.handle.key)
	c.lru.Remove(e)
	c.usage -= en.handle.charge
}

func (c *BlockCache) removeByKey(key Key) {
	if e, ok := c.table[key]; ok {
		c.removeElement(e)
	}
}
