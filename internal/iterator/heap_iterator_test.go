package iterator

import "testing"

func collect(h *HeapIterator) []string {
	var got []string
	for !h.IsEnd() {
		k, v := h.Deref()
		got = append(got, k+"="+v)
		h.Next()
	}
	return got
}

func TestHeapIteratorNewestWins(t *testing.T) {
	// Source 0 (active) shadows source 1 (frozen) for key "a".
	items := []SearchItem{
		{Key: "a", Value: "new", SourceIndex: 0},
		{Key: "a", Value: "old", SourceIndex: 1},
		{Key: "b", Value: "b1", SourceIndex: 1},
	}
	got := collect(New(items, 0))
	want := []string{"a=new", "b=b1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHeapIteratorTombstoneShadowsOlder(t *testing.T) {
	items := []SearchItem{
		{Key: "a", Value: "", SourceIndex: 0}, // tombstone
		{Key: "a", Value: "old", SourceIndex: 1},
		{Key: "b", Value: "b1", SourceIndex: 0},
	}
	got := collect(New(items, 0))
	want := []string{"b=b1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got[0] != want[0] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHeapIteratorEmpty(t *testing.T) {
	h := New(nil, 0)
	if !h.IsEnd() {
		t.Errorf("IsEnd() = false on empty iterator, want true")
	}
	if h.IsValid() {
		t.Errorf("IsValid() = true on empty iterator, want false")
	}
}

func TestHeapIteratorLeadingTombstoneRun(t *testing.T) {
	// Every source has a tombstone for the smallest key; the iterator must
	// skip the whole run and land on the next live key.
	items := []SearchItem{
		{Key: "a", Value: "", SourceIndex: 0},
		{Key: "a", Value: "", SourceIndex: 1},
		{Key: "b", Value: "live", SourceIndex: 0},
	}
	h := New(items, 0)
	if h.IsEnd() {
		t.Fatal("iterator empty, want one live entry")
	}
	if k, v := h.Deref(); k != "b" || v != "live" {
		t.Errorf("Deref() = (%q, %q), want (b, live)", k, v)
	}
}

func TestHeapIteratorEqual(t *testing.T) {
	a := New([]SearchItem{{Key: "x", Value: "1", SourceIndex: 0}}, 0)
	b := New([]SearchItem{{Key: "x", Value: "1", SourceIndex: 0}}, 0)
	if !a.Equal(b) {
		t.Errorf("Equal() = false for matching iterators, want true")
	}

	empty := New(nil, 0)
	other := New(nil, 0)
	if !empty.Equal(other) {
		t.Errorf("Equal() = false for two empty iterators, want true")
	}
	if a.Equal(empty) {
		t.Errorf("Equal() = true comparing non-empty to empty, want false")
	}
}
