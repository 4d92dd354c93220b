// Package iterator implements the k-way ordered merge used to present a
// single logical view across a memtable's active skip list, its frozen
// generations, and by extension any future on-disk sorted tables.
package iterator

import "container/heap"

// SearchItem is one merge candidate: a key/value pulled from a single
// forward traversal of one source, tagged with the index of that source.
//
// Ordering is lexicographic on Key ascending; ties break by SourceIndex
// ascending, so a smaller SourceIndex (the active skip list is 0, the
// newest frozen generation is 1, and so on) always wins a tie. That is
// the sole mechanism by which the merge shadows older writes.
type SearchItem struct {
	Key         string
	Value       string
	SourceIndex int
	Level       int
	TrancID     uint64
}

// itemHeap is a container/heap.Interface min-heap over SearchItem ordered
// by (Key asc, SourceIndex asc).
type itemHeap []SearchItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].Key != h[j].Key {
		return h[i].Key < h[j].Key
	}
	return h[i].SourceIndex < h[j].SourceIndex
}
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)        { *h = append(*h, x.(SearchItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// kv is the cached pointer-dereference form of the current top.
type kv struct {
	key   string
	value string
}

// HeapIterator is the k-way ordered merge over a set of SearchItems drawn
// from one forward traversal per participating source. It shadows every
// older write of a key across sources, leaving exactly one entry per key,
// strictly ascending by key; with maxTrancID == 0 it also suppresses
// tombstones (see topLegal).
type HeapIterator struct {
	items      itemHeap
	maxTrancID uint64
	current    *kv
}

// New builds a HeapIterator over items, then normalises the heap so its top
// is either empty or legal (see topLegal). maxTrancID == 0 means
// transactions are disabled and every non-tombstone top is legal; with any
// other maxTrancID a top is legal when visible accepts it, and visible
// accepts every item, tombstones included.
func New(items []SearchItem, maxTrancID uint64) *HeapIterator {
	h := &HeapIterator{maxTrancID: maxTrancID}
	h.items = make(itemHeap, len(items))
	copy(h.items, items)
	heap.Init(&h.items)

	h.skipIllegal()
	h.updateCurrent()
	return h
}

// topLegal reports whether the current top may be surfaced to the caller:
// the heap is empty, or transactions are disabled and the value is
// non-empty, or transactions are enabled and the top passes visibility
// (a stub that always returns true today; see DESIGN.md).
func (h *HeapIterator) topLegal() bool {
	if len(h.items) == 0 {
		return true
	}
	if h.maxTrancID == 0 {
		return h.items[0].Value != ""
	}
	return h.visible(h.items[0])
}

// visible is the reserved transaction-visibility predicate. It always
// returns true: trancID is carried end to end but its legality check
// stays a stub until snapshot isolation exists.
func (h *HeapIterator) visible(SearchItem) bool { return true }

// skipIllegal repeatedly drops tombstone runs until the heap is empty or
// its top is legal. A tombstone run is every item sharing the deleted
// key; dropping the whole run shadows every older write of that key.
func (h *HeapIterator) skipIllegal() {
	for !h.topLegal() {
		if len(h.items) == 0 {
			return
		}
		delKey := h.items[0].Key
		for len(h.items) > 0 && h.items[0].Key == delKey {
			heap.Pop(&h.items)
		}
	}
}

// Next advances past the current top and every other item sharing its key
// (newest-wins across sources), then re-normalises for tombstones.
func (h *HeapIterator) Next() {
	if len(h.items) == 0 {
		return
	}
	oldKey := h.items[0].Key
	heap.Pop(&h.items)
	for len(h.items) > 0 && h.items[0].Key == oldKey {
		heap.Pop(&h.items)
	}
	h.skipIllegal()
	h.updateCurrent()
}

// updateCurrent refreshes the cached pointer-dereference form from the
// current top.
func (h *HeapIterator) updateCurrent() {
	if len(h.items) == 0 {
		h.current = nil
		return
	}
	h.current = &kv{key: h.items[0].Key, value: h.items[0].Value}
}

// IsEnd reports whether the merge is exhausted; this is the only terminal
// state.
func (h *HeapIterator) IsEnd() bool { return len(h.items) == 0 }

// IsValid is the complement of IsEnd.
func (h *HeapIterator) IsValid() bool { return len(h.items) != 0 }

// Key returns the current top's key. Only meaningful when IsValid.
func (h *HeapIterator) Key() string {
	h.updateCurrent()
	if h.current == nil {
		return ""
	}
	return h.current.key
}

// Value returns the current top's value. Only meaningful when IsValid.
func (h *HeapIterator) Value() string {
	h.updateCurrent()
	if h.current == nil {
		return ""
	}
	return h.current.value
}

// Deref returns (key, value) of the current top.
func (h *HeapIterator) Deref() (string, string) {
	h.updateCurrent()
	if h.current == nil {
		return "", ""
	}
	return h.current.key, h.current.value
}

// Equal reports whether two heap iterators are equal: both empty, or both
// non-empty with identical top key and value. Identity of the underlying
// items is deliberately not part of equality.
func (h *HeapIterator) Equal(other *HeapIterator) bool {
	if h.IsEnd() && other.IsEnd() {
		return true
	}
	if h.IsEnd() || other.IsEnd() {
		return false
	}
	return h.items[0].Key == other.items[0].Key && h.items[0].Value == other.items[0].Value
}
