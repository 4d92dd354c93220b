package wal

import (
	"path/filepath"
	"testing"
)

func TestWALAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entries := []Entry{
		{Key: "a", Value: "1", TrancID: 1},
		{Key: "b", Value: "", TrancID: 2}, // delete
		{Key: "c", Value: "3", TrancID: 3},
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append(%+v): %v", e, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer w2.Close()

	got, err := w2.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Replay returned %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Errorf("Replay[%d] = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestWALClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if err := w.Append(Entry{Key: "a", Value: "1", TrancID: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, err := w.Replay()
	if err != nil {
		t.Fatalf("Replay after Clear: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Replay after Clear = %v, want empty", got)
	}
}
