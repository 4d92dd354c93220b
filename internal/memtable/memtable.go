// Package memtable implements the active/frozen staged arrangement that
// buffers writes ahead of flush, and the read path across its generations.
//
// Grounded on goldb's internal/memtable.go + internal/index_manager.go
// freeze/flush flow: two sync.RWMutex locks (active, frozen),
// active-before-frozen lock ordering, and freeze-on-put held across the
// active lock so no reader ever observes a write that is visible in
// neither the active nor the frozen view.
package memtable

import (
	"math"
	"sync"

	"github.com/hasssanezzz/goldb-lsm/internal/config"
	"github.com/hasssanezzz/goldb-lsm/internal/iterator"
	"github.com/hasssanezzz/goldb-lsm/internal/logging"
	"github.com/hasssanezzz/goldb-lsm/internal/skiplist"
)

// Builder is the flush sink contract: Add receives entries in strictly
// ascending key order, Build finalises and returns an opaque sorted-table
// artifact. The block cache handle is opaque to the memtable and only
// ever forwarded.
type Builder interface {
	Add(key, value string, trancID uint64)
	Build(sstID uint32, path string, blockCache any) (any, error)
}

// MemTable owns one active, mutable skip list plus an ordered list of
// frozen, immutable skip lists (newest at the front, oldest at the back).
type MemTable struct {
	active *skiplist.SkipList
	// frozen[0] is the newest generation, frozen[len-1] the oldest.
	frozen      []*skiplist.SkipList
	frozenBytes uint64

	activeMu sync.RWMutex
	frozenMu sync.RWMutex

	cfg *config.EngineConfig
	log logging.Logger
}

// New creates an empty MemTable governed by cfg. A nil cfg falls back to
// config.Default; a nil log discards every message.
func New(cfg *config.EngineConfig, log logging.Logger) *MemTable {
	if cfg == nil {
		d := config.Default
		cfg = &d
	}
	return &MemTable{
		active: skiplist.New(),
		cfg:    cfg,
		log:    logging.OrDefault(log),
	}
}

// put applies one write to the active skip list. Caller must hold activeMu.
func (m *MemTable) put(key, value string, trancID uint64) {
	m.log.Tracef("memtable put(%q, %q, %d)", key, value, trancID)
	m.active.Put(key, value, trancID)
}

// maybeFreeze freezes the active skip list in place if it has crossed the
// configured byte threshold. Caller must hold activeMu exclusively.
func (m *MemTable) maybeFreeze() {
	if m.active.Size() < m.cfg.PerMemSizeLimit {
		return
	}
	m.frozenMu.Lock()
	defer m.frozenMu.Unlock()
	m.log.Infof("memtable: active table reached %d bytes, freezing", m.active.Size())
	m.freezeLocked()
}

// freezeLocked pushes the active skip list to the front of frozen and
// installs a fresh empty skip list as active. Caller must hold both locks
// exclusively.
func (m *MemTable) freezeLocked() {
	m.frozenBytes += m.active.Size()
	m.frozen = append([]*skiplist.SkipList{m.active}, m.frozen...)
	m.active = skiplist.New()
}

// Put inserts or updates key with value under the active exclusive lock,
// freezing the active generation in place if its size now reaches or
// exceeds the configured size budget.
func (m *MemTable) Put(key, value string, trancID uint64) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	m.put(key, value, trancID)
	m.maybeFreeze()
}

// KV is one key/value pair for batch operations.
type KV struct {
	Key   string
	Value string
}

// PutBatch applies every pair under one lock acquisition, checking the
// freeze threshold once at the end.
func (m *MemTable) PutBatch(kvs []KV, trancID uint64) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	for _, kv := range kvs {
		m.put(kv.Key, kv.Value, trancID)
	}
	m.maybeFreeze()
}

// Remove logically deletes key: a put with an empty value under the same
// locking discipline as Put.
func (m *MemTable) Remove(key string, trancID uint64) {
	m.Put(key, "", trancID)
}

// RemoveBatch logically deletes every key under one lock acquisition.
func (m *MemTable) RemoveBatch(keys []string, trancID uint64) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	for _, key := range keys {
		m.put(key, "", trancID)
	}
	m.maybeFreeze()
}

// curGet looks up key in the active skip list without locking.
func (m *MemTable) curGet(key string) skiplist.Cursor {
	return m.active.Get(key)
}

// frozenGet searches the frozen generations newest to oldest without
// locking.
func (m *MemTable) frozenGet(key string) skiplist.Cursor {
	for _, table := range m.frozen {
		if c := table.Get(key); c.IsValid() {
			return c
		}
	}
	return skiplist.Cursor{}
}

// Get looks up key, consulting the active generation first and then every
// frozen generation, newest to oldest. A valid cursor whose value is
// empty is a legitimate tombstone hit, not "not found": callers
// distinguish the two by inspecting the value.
func (m *MemTable) Get(key string) skiplist.Cursor {
	m.activeMu.RLock()
	cur := m.curGet(key)
	m.activeMu.RUnlock()
	if cur.IsValid() {
		return cur
	}

	m.frozenMu.RLock()
	defer m.frozenMu.RUnlock()
	return m.frozenGet(key)
}

// GetResult is one get_batch outcome: Found is false when no generation
// held the key; Value/TrancID are populated (possibly with an empty
// Value, representing a tombstone) when Found is true.
type GetResult struct {
	Found   bool
	Value   string
	TrancID uint64
}

// GetBatch resolves every key in one pass over the active generation
// followed, for whatever remains unresolved, by one pass over the frozen
// generations newest to oldest.
func (m *MemTable) GetBatch(keys []string) []GetResult {
	results := make([]GetResult, len(keys))

	m.activeMu.RLock()
	remaining := 0
	for i, key := range keys {
		if c := m.curGet(key); c.IsValid() {
			results[i] = GetResult{Found: true, Value: c.Value(), TrancID: c.TrancID()}
		} else {
			remaining++
		}
	}
	m.activeMu.RUnlock()

	if remaining == 0 {
		return results
	}

	m.frozenMu.RLock()
	defer m.frozenMu.RUnlock()
	for i, key := range keys {
		if results[i].Found {
			continue
		}
		if c := m.frozenGet(key); c.IsValid() {
			results[i] = GetResult{Found: true, Value: c.Value(), TrancID: c.TrancID()}
		}
	}
	return results
}

// Freeze freezes the active generation under both locks.
func (m *MemTable) Freeze() {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	m.frozenMu.Lock()
	defer m.frozenMu.Unlock()
	m.freezeLocked()
	m.log.Infof("memtable: frozen active table, new active table size 0")
}

// Clear drops every generation, returning the memtable to its initial
// empty state.
func (m *MemTable) Clear() {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	m.frozenMu.Lock()
	defer m.frozenMu.Unlock()
	m.active = skiplist.New()
	m.frozen = nil
	m.frozenBytes = 0
}

// ActiveSize returns the active generation's byte size.
func (m *MemTable) ActiveSize() uint64 {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	return m.active.Size()
}

// FrozenSize returns the cached total byte size across frozen generations.
func (m *MemTable) FrozenSize() uint64 {
	m.frozenMu.RLock()
	defer m.frozenMu.RUnlock()
	return m.frozenBytes
}

// TotalSize returns ActiveSize + FrozenSize under both locks.
func (m *MemTable) TotalSize() uint64 {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	m.frozenMu.RLock()
	defer m.frozenMu.RUnlock()
	return m.active.Size() + m.frozenBytes
}

// FlushLast drains the oldest frozen generation into builder and returns
// the artifact builder.Build produces. If there is nothing to flush (both
// active and frozen are empty), ok is false and artifact/err are zero.
//
// If the frozen list is empty but the active generation is not, the
// active generation is frozen first so there is always something to pop.
func (m *MemTable) FlushLast(builder Builder, sstID uint32, path string, blockCache any) (artifact any, ok bool, err error) {
	m.frozenMu.Lock()
	defer m.frozenMu.Unlock()

	if len(m.frozen) == 0 {
		if m.active.Size() == 0 {
			return nil, false, nil
		}
		m.frozenBytes += m.active.Size()
		m.frozen = append(m.frozen, m.active)
		m.active = skiplist.New()
	}

	oldest := m.frozen[len(m.frozen)-1]
	m.frozen = m.frozen[:len(m.frozen)-1]
	m.frozenBytes -= oldest.Size()

	minTranc, maxTranc := uint64(math.MaxUint64), uint64(0)
	for _, e := range oldest.Flush() {
		if e.TrancID < minTranc {
			minTranc = e.TrancID
		}
		if e.TrancID > maxTranc {
			maxTranc = e.TrancID
		}
		builder.Add(e.Key, e.Value, e.TrancID)
	}

	sst, err := builder.Build(sstID, path, blockCache)
	if err != nil {
		return nil, true, err
	}
	m.log.Infof("memtable: flushed sst %d at %q, tranc range [%d, %d]", sstID, path, minTranc, maxTranc)
	return sst, true, nil
}

// Begin collects one search item per live entry across every generation
// (active tagged with source index 0, frozen generations tagged 1, 2, …
// in newest-to-oldest order) and returns the heap-merge iterator over
// them. Locks are held only while the item vector is built.
func (m *MemTable) Begin(trancID uint64) *iterator.HeapIterator {
	items := m.collect(func(sl *skiplist.SkipList) (skiplist.Cursor, skiplist.Cursor) {
		return sl.Begin(), sl.End()
	})
	return iterator.New(items, trancID)
}

// IterPrefix is Begin restricted to the key range sharing prefix p.
func (m *MemTable) IterPrefix(p string, trancID uint64) *iterator.HeapIterator {
	items := m.collect(func(sl *skiplist.SkipList) (skiplist.Cursor, skiplist.Cursor) {
		return sl.BeginPrefix(p), sl.EndPrefix(p)
	})
	return iterator.New(items, trancID)
}

// IterMonotonyPredicate is Begin restricted to the contiguous range a
// monotone predicate selects. It returns ok=false if no generation
// produced any entry.
func (m *MemTable) IterMonotonyPredicate(trancID uint64, predicate skiplist.Predicate) (it *iterator.HeapIterator, ok bool) {
	var items []iterator.SearchItem
	m.activeMu.RLock()
	m.frozenMu.RLock()
	defer m.frozenMu.RUnlock()
	defer m.activeMu.RUnlock()

	sourceIdx := 0
	appendRange := func(sl *skiplist.SkipList) {
		start, end, found := sl.MonotonyRange(predicate)
		if !found {
			sourceIdx++
			return
		}
		for c := start; !c.Equal(end); c = c.Next() {
			items = append(items, iterator.SearchItem{Key: c.Key(), Value: c.Value(), SourceIndex: sourceIdx, TrancID: c.TrancID()})
		}
		sourceIdx++
	}

	appendRange(m.active)
	for _, table := range m.frozen {
		appendRange(table)
	}

	if len(items) == 0 {
		return nil, false
	}
	return iterator.New(items, trancID), true
}

// collect gathers search items across all generations under the
// appropriate locks, scoping each generation's traversal with rng:
// active tagged with source index 0, frozen generations tagged 1, 2, …
// newest to oldest.
func (m *MemTable) collect(rng func(*skiplist.SkipList) (skiplist.Cursor, skiplist.Cursor)) []iterator.SearchItem {
	var items []iterator.SearchItem

	m.activeMu.RLock()
	start, end := rng(m.active)
	appendBetween(&items, start, end, 0)
	m.activeMu.RUnlock()

	m.frozenMu.RLock()
	defer m.frozenMu.RUnlock()
	for i, table := range m.frozen {
		start, end := rng(table)
		appendBetween(&items, start, end, i+1)
	}
	return items
}

func appendBetween(items *[]iterator.SearchItem, start, end skiplist.Cursor, sourceIdx int) {
	for c := start; !c.Equal(end); c = c.Next() {
		*items = append(*items, iterator.SearchItem{Key: c.Key(), Value: c.Value(), SourceIndex: sourceIdx, TrancID: c.TrancID()})
	}
}
