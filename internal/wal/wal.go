// Package wal implements the append-only write-ahead log the engine logs
// every put/remove to before applying it to the memtable, so a crash
// between writes can replay them on restart. Adapted from goldb's wal
// package, generalized to length-prefixed keys and a carried trancID.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Entry is one replayable write-ahead-log record. An empty Value denotes
// a remove, matching the skip list's tombstone convention.
type Entry struct {
	Key     string
	Value   string
	TrancID uint64
}

// WAL is an append-only log backed by a single file opened in append
// mode; record order on disk is replay order.
type WAL struct {
	path   string
	writer *os.File
}

// Open opens (creating if absent) the log file at path.
func Open(path string) (*WAL, error) {
	w := &WAL{path: path}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal %q: can not open: %w", path, err)
	}
	w.writer = f
	return w, nil
}

// Append writes one record: a uint32 key length, the key bytes, the
// trancID, a uint32 value length, and the value bytes.
func (w *WAL) Append(e Entry) error {
	buf := make([]byte, 4, 4+len(e.Key)+8+4+len(e.Value))
	binary.LittleEndian.PutUint32(buf, uint32(len(e.Key)))
	buf = append(buf, e.Key...)

	trancBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(trancBuf, e.TrancID)
	buf = append(buf, trancBuf...)

	valLenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(valLenBuf, uint32(len(e.Value)))
	buf = append(buf, valLenBuf...)
	buf = append(buf, e.Value...)

	if _, err := w.writer.Write(buf); err != nil {
		return fmt.Errorf("wal %q: can not append: %w", w.path, err)
	}
	return nil
}

// Replay reads every record from the log in on-disk order, the order the
// engine must re-apply them in to reconstruct the pre-crash memtable
// state.
func (w *WAL) Replay() ([]Entry, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("wal %q: can not open for replay: %w", w.path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var entries []Entry
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("wal %q: truncated record: %w", w.path, err)
		}
		keyLen := binary.LittleEndian.Uint32(lenBuf[:])

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("wal %q: truncated key: %w", w.path, err)
		}

		var trancBuf [8]byte
		if _, err := io.ReadFull(r, trancBuf[:]); err != nil {
			return nil, fmt.Errorf("wal %q: truncated tranc id: %w", w.path, err)
		}

		var valLenBuf [4]byte
		if _, err := io.ReadFull(r, valLenBuf[:]); err != nil {
			return nil, fmt.Errorf("wal %q: truncated value length: %w", w.path, err)
		}
		valLen := binary.LittleEndian.Uint32(valLenBuf[:])

		value := make([]byte, valLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("wal %q: truncated value: %w", w.path, err)
		}

		entries = append(entries, Entry{
			Key:     string(key),
			Value:   string(value),
			TrancID: binary.LittleEndian.Uint64(trancBuf[:]),
		})
	}
	return entries, nil
}

// Clear truncates the log, called once its records are durably reflected
// in a flushed SST.
func (w *WAL) Clear() error {
	return os.Truncate(w.path, 0)
}

// Close closes the append writer.
func (w *WAL) Close() error {
	return w.writer.Close()
}
