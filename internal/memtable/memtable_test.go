package memtable

import (
	"testing"

	"github.com/hasssanezzz/goldb-lsm/internal/config"
)

// stubBuilder records Add calls in order and returns its recorded
// entries as the artifact, so flush tests can assert exactly what was
// drained without depending on the sstable package.
type stubBuilder struct {
	keys   []string
	values []string
}

func (b *stubBuilder) Add(key, value string, trancID uint64) {
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
}

func (b *stubBuilder) Build(sstID uint32, path string, blockCache any) (any, error) {
	return append([]string{}, b.keys...), nil
}

// entrySize mirrors skiplist.entrySize's accounting, which is unexported,
// so the freeze-threshold test stays in sync with it.
func entrySize(key, value string) uint64 {
	return 8 + uint64(len(key)) + uint64(len(value))
}

func newTestMemTable(limit uint64) *MemTable {
	cfg := config.Default
	cfg.PerMemSizeLimit = limit
	return New(&cfg, nil)
}

func TestMemTablePutGet(t *testing.T) {
	mt := newTestMemTable(1 << 30)
	mt.Put("a", "1", 1)
	mt.Put("b", "2", 1)

	cur := mt.Get("a")
	if !cur.IsValid() || cur.Value() != "1" {
		t.Fatalf("Get(a) = %+v, want valid with value 1", cur)
	}

	if mt.Get("missing").IsValid() {
		t.Errorf("Get(missing) valid, want invalid")
	}
}

func TestMemTableRemoveIsTombstone(t *testing.T) {
	mt := newTestMemTable(1 << 30)
	mt.Put("a", "1", 1)
	mt.Remove("a", 2)

	cur := mt.Get("a")
	if !cur.IsValid() {
		t.Fatal("Get(a) invalid after Remove, want a valid tombstone cursor")
	}
	if cur.Value() != "" {
		t.Errorf("Get(a).Value() = %q after Remove, want empty", cur.Value())
	}
}

func TestMemTableNewestWinsAcrossGenerations(t *testing.T) {
	mt := newTestMemTable(1 << 30)
	mt.Put("a", "old", 1)
	mt.Freeze()
	mt.Put("a", "new", 2)

	cur := mt.Get("a")
	if !cur.IsValid() || cur.Value() != "new" {
		t.Fatalf("Get(a) = %+v, want valid with value new", cur)
	}
}

func TestMemTableFreezeOnPutThreshold(t *testing.T) {
	mt := newTestMemTable(entrySize("a", "1"))
	mt.Put("a", "1", 1)
	if mt.ActiveSize() != 0 {
		t.Fatalf("ActiveSize() = %d after crossing threshold, want 0 (frozen)", mt.ActiveSize())
	}
	if mt.FrozenSize() == 0 {
		t.Errorf("FrozenSize() = 0, want the frozen generation's size")
	}
}

func TestMemTableGetBatch(t *testing.T) {
	mt := newTestMemTable(1 << 30)
	mt.Put("a", "1", 1)
	mt.Put("b", "2", 1)
	mt.Freeze()
	mt.Put("c", "3", 2)

	results := mt.GetBatch([]string{"a", "b", "c", "missing"})
	want := []GetResult{
		{Found: true, Value: "1", TrancID: 1},
		{Found: true, Value: "2", TrancID: 1},
		{Found: true, Value: "3", TrancID: 2},
		{},
	}
	if len(results) != len(want) {
		t.Fatalf("GetBatch returned %d results, want %d", len(results), len(want))
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("GetBatch[%d] = %+v, want %+v", i, results[i], want[i])
		}
	}
}

func TestMemTableFlushLastDrainsOldestFirst(t *testing.T) {
	mt := newTestMemTable(1 << 30)
	mt.Put("a", "1", 1)
	mt.Freeze()
	mt.Put("b", "2", 2)
	mt.Freeze()
	mt.Put("c", "3", 3) // stays active

	b1 := &stubBuilder{}
	artifact, ok, err := mt.FlushLast(b1, 1, "", nil)
	if err != nil {
		t.Fatalf("FlushLast: %v", err)
	}
	if !ok {
		t.Fatal("FlushLast reported nothing to flush, want the oldest frozen generation")
	}
	if keys, _ := artifact.([]string); len(keys) != 1 || keys[0] != "a" {
		t.Errorf("first FlushLast drained %v, want [a]", artifact)
	}

	b2 := &stubBuilder{}
	artifact2, ok2, err := mt.FlushLast(b2, 2, "", nil)
	if err != nil {
		t.Fatalf("FlushLast: %v", err)
	}
	if !ok2 {
		t.Fatal("second FlushLast reported nothing to flush")
	}
	if keys, _ := artifact2.([]string); len(keys) != 1 || keys[0] != "b" {
		t.Errorf("second FlushLast drained %v, want [b]", artifact2)
	}

	// "c" is still only in the active generation.
	if cur := mt.Get("c"); !cur.IsValid() || cur.Value() != "3" {
		t.Errorf("Get(c) = %+v, want active entry 3", cur)
	}
}

func TestMemTableFlushLastFreezesActiveWhenFrozenEmpty(t *testing.T) {
	mt := newTestMemTable(1 << 30)
	mt.Put("only", "value", 1)

	b := &stubBuilder{}
	artifact, ok, err := mt.FlushLast(b, 1, "", nil)
	if err != nil {
		t.Fatalf("FlushLast: %v", err)
	}
	if !ok {
		t.Fatal("FlushLast reported nothing to flush, want the active generation frozen and drained")
	}
	if keys, _ := artifact.([]string); len(keys) != 1 || keys[0] != "only" {
		t.Errorf("FlushLast drained %v, want [only]", artifact)
	}
	if mt.TotalSize() != 0 {
		t.Errorf("TotalSize() = %d after draining the only generation, want 0", mt.TotalSize())
	}
}

func TestMemTableFlushLastEmpty(t *testing.T) {
	mt := newTestMemTable(1 << 30)
	_, ok, err := mt.FlushLast(&stubBuilder{}, 1, "", nil)
	if err != nil {
		t.Fatalf("FlushLast: %v", err)
	}
	if ok {
		t.Errorf("FlushLast reported work on an empty memtable, want none")
	}
}

func TestMemTableIterPrefix(t *testing.T) {
	mt := newTestMemTable(1 << 30)
	mt.Put("apple", "1", 1)
	mt.Freeze()
	mt.Put("ant", "2", 2)
	mt.Put("banana", "3", 2)

	it := mt.IterPrefix("a", 0)
	var got []string
	for !it.IsEnd() {
		k, _ := it.Deref()
		got = append(got, k)
		it.Next()
	}
	want := []string{"ant", "apple"}
	if len(got) != len(want) {
		t.Fatalf("IterPrefix(a) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IterPrefix(a)[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemTableBeginMergesGenerations(t *testing.T) {
	mt := newTestMemTable(1 << 30)
	mt.Put("b", "2", 1)
	mt.Freeze()
	mt.Put("a", "1", 2)
	mt.Remove("c", 2) // tombstone, never committed elsewhere: must not surface

	it := mt.Begin(0)
	var got []string
	for !it.IsEnd() {
		k, _ := it.Deref()
		got = append(got, k)
		it.Next()
	}
	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("Begin() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Begin()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
