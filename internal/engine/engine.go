// Package engine wires the memtable write path to its on-disk
// collaborators (the write-ahead log, flushed SSTs, and their shared
// block cache) into the single Engine a CLI or API server drives.
//
// Grounded on goldb's internal/engine.go for the overall Get/Set/Delete/
// Scan shape and WAL-replay-on-open discipline, generalized to flush
// through memtable.MemTable instead of an AVL position index.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hasssanezzz/goldb-lsm/internal/cache"
	"github.com/hasssanezzz/goldb-lsm/internal/config"
	"github.com/hasssanezzz/goldb-lsm/internal/logging"
	"github.com/hasssanezzz/goldb-lsm/internal/memtable"
	"github.com/hasssanezzz/goldb-lsm/internal/shared"
	"github.com/hasssanezzz/goldb-lsm/internal/sstable"
	"github.com/hasssanezzz/goldb-lsm/internal/wal"
)

const walFileName = "wal.log"

// Engine is the top-level handle a caller opens once per data
// directory. It owns the memtable, the write-ahead log guarding it, and
// the flushed SSTs consulted once a key falls out of every memtable
// generation.
type Engine struct {
	cfg *config.EngineConfig
	log logging.Logger

	mt    *memtable.MemTable
	wal   *wal.WAL
	cache *cache.BlockCache

	sstMu     sync.RWMutex
	ssts      []*sstable.SST // newest last; searched newest to oldest
	sstSerial uint32

	trancID atomic.Uint64
}

// Open creates or reopens an engine rooted at homepath, replaying its
// write-ahead log before returning so a crash between the last flush and
// the last acknowledged write is never lost.
func Open(homepath string, cfg *config.EngineConfig, log logging.Logger) (*Engine, error) {
	if cfg == nil {
		d := config.Default
		cfg = &d
	}
	cfg.Homepath = homepath
	log = logging.OrDefault(log)

	if err := os.MkdirAll(homepath, 0755); err != nil {
		return nil, fmt.Errorf("engine: can not create homepath %q: %w", homepath, err)
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		mt:        memtable.New(cfg, log),
		cache:     cache.New(cfg.BlockCacheBytes),
		sstSerial: 1,
	}

	if err := e.loadSSTables(); err != nil {
		return nil, err
	}

	w, err := wal.Open(filepath.Join(homepath, walFileName))
	if err != nil {
		return nil, err
	}
	e.wal = w

	if err := e.replayWAL(); err != nil {
		return nil, err
	}

	return e, nil
}

// loadSSTables discovers existing SST files under cfg.Homepath and opens
// them in ascending serial order.
func (e *Engine) loadSSTables() error {
	entries, err := os.ReadDir(e.cfg.Homepath)
	if err != nil {
		return fmt.Errorf("engine: can not read homepath %q: %w", e.cfg.Homepath, err)
	}

	var serials []uint32
	byPrefix := map[uint32]string{}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, e.cfg.SSTableNamePrefix) {
			continue
		}
		var serial uint32
		if _, err := fmt.Sscanf(strings.TrimPrefix(name, e.cfg.SSTableNamePrefix), "%d", &serial); err != nil {
			e.log.Warnf("engine: skipping unparsable SST filename %q", name)
			continue
		}
		serials = append(serials, serial)
		byPrefix[serial] = filepath.Join(e.cfg.Homepath, name)
	}

	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	for _, serial := range serials {
		table, err := sstable.Open(byPrefix[serial], serial, e.cfg.KeySize, e.cache)
		if err != nil {
			return fmt.Errorf("engine: can not open sst %d: %w", serial, err)
		}
		e.ssts = append(e.ssts, table)
		if serial >= e.sstSerial {
			e.sstSerial = serial + 1
		}
	}
	return nil
}

// replayWAL re-applies every logged write to the memtable without
// re-appending it to the log.
func (e *Engine) replayWAL() error {
	entries, err := e.wal.Replay()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		e.mt.Put(entry.Key, entry.Value, entry.TrancID)
		if entry.TrancID >= e.trancID.Load() {
			e.trancID.Store(entry.TrancID + 1)
		}
	}
	if len(entries) > 0 {
		e.log.Infof("engine: replayed %d wal entries", len(entries))
	}
	return nil
}

func (e *Engine) validateKey(key string) error {
	if key == "" {
		return &shared.ErrEmptyKey{}
	}
	if uint32(len(key)) > e.cfg.KeySize {
		return &shared.ErrKeyTooLong{Key: key, KeySize: e.cfg.KeySize}
	}
	return nil
}

// Put writes key=value, logging it to the WAL ahead of applying it to
// the memtable.
func (e *Engine) Put(key, value string) error {
	if err := e.validateKey(key); err != nil {
		return err
	}
	id := e.trancID.Add(1)
	if err := e.wal.Append(wal.Entry{Key: key, Value: value, TrancID: id}); err != nil {
		return err
	}
	e.mt.Put(key, value, id)
	return e.maybeFlush()
}

// Delete logically removes key: a Put of an empty value under the same
// WAL-then-memtable discipline.
func (e *Engine) Delete(key string) error {
	if err := e.validateKey(key); err != nil {
		return err
	}
	id := e.trancID.Add(1)
	if err := e.wal.Append(wal.Entry{Key: key, Value: "", TrancID: id}); err != nil {
		return err
	}
	e.mt.Remove(key, id)
	return e.maybeFlush()
}

// Get looks up key in the memtable first, then in every SST newest to
// oldest. Returns shared.ErrKeyNotFound if no generation or table holds
// the key, or held a tombstone for it.
func (e *Engine) Get(key string) (string, error) {
	if err := e.validateKey(key); err != nil {
		return "", err
	}

	if cur := e.mt.Get(key); cur.IsValid() {
		if cur.Value() == "" {
			return "", &shared.ErrKeyNotFound{Key: key}
		}
		return cur.Value(), nil
	}

	e.sstMu.RLock()
	defer e.sstMu.RUnlock()
	for i := len(e.ssts) - 1; i >= 0; i-- {
		value, _, found, err := e.ssts[i].Get(key)
		if err != nil {
			return "", fmt.Errorf("engine: sst %d lookup failed: %w", e.ssts[i].ID(), err)
		}
		if found {
			if value == "" {
				return "", &shared.ErrKeyNotFound{Key: key}
			}
			return value, nil
		}
	}

	return "", &shared.ErrKeyNotFound{Key: key}
}

// Scan returns every live key sharing prefix (or every live key, if
// prefix is empty), merged across the memtable and every SST with
// tombstones and shadowed writes resolved the same way a point Get
// would resolve them.
func (e *Engine) Scan(prefix string) ([]string, error) {
	seen := map[string]bool{}
	var results []string

	visit := func(key, value string) {
		if seen[key] {
			return
		}
		seen[key] = true
		if value != "" {
			results = append(results, key)
		}
	}

	it := e.mt.IterPrefix(prefix, 0)
	for !it.IsEnd() {
		k, v := it.Deref()
		visit(k, v)
		it.Next()
	}

	e.sstMu.RLock()
	defer e.sstMu.RUnlock()
	for i := len(e.ssts) - 1; i >= 0; i-- {
		entries, err := e.ssts[i].Entries()
		if err != nil {
			return nil, fmt.Errorf("engine: sst %d scan failed: %w", e.ssts[i].ID(), err)
		}
		for _, entry := range entries {
			if prefix != "" && !strings.HasPrefix(entry.Key, prefix) {
				continue
			}
			// The merge iterator drops memtable tombstones before visit sees
			// them, so any key the memtable still holds shadows this row.
			if e.mt.Get(entry.Key).IsValid() {
				continue
			}
			visit(entry.Key, entry.Value)
		}
	}

	sort.Strings(results)
	return results, nil
}

// maybeFlush flushes the oldest frozen generation to a new SST once the
// memtable's total size crosses the configured threshold, then clears
// the WAL since every entry it held is now durable in an SST or the
// still-active memtable.
func (e *Engine) maybeFlush() error {
	if e.mt.TotalSize() < e.cfg.PerMemSizeLimit*2 {
		return nil
	}

	builder := sstable.NewBuilder(e.cfg.KeySize)
	serial := e.sstSerial
	path := filepath.Join(e.cfg.Homepath, fmt.Sprintf("%s%d", e.cfg.SSTableNamePrefix, serial))

	artifact, ok, err := e.mt.FlushLast(builder, serial, path, e.cache)
	if err != nil {
		return fmt.Errorf("engine: flush failed: %w", err)
	}
	if !ok || artifact == nil {
		return nil
	}

	table, isTable := artifact.(*sstable.SST)
	if !isTable {
		return fmt.Errorf("engine: flush produced unexpected artifact type %T", artifact)
	}

	e.sstMu.Lock()
	e.ssts = append(e.ssts, table)
	e.sstSerial++
	e.sstMu.Unlock()

	if err := e.wal.Clear(); err != nil {
		return fmt.Errorf("engine: can not clear wal after flush: %w", err)
	}
	e.log.Infof("engine: flushed sst %d, %d tables on disk", serial, len(e.ssts))
	return nil
}

// Close flushes every remaining memtable generation to disk and closes
// the write-ahead log.
func (e *Engine) Close() error {
	for {
		builder := sstable.NewBuilder(e.cfg.KeySize)
		serial := e.sstSerial
		path := filepath.Join(e.cfg.Homepath, fmt.Sprintf("%s%d", e.cfg.SSTableNamePrefix, serial))

		artifact, ok, err := e.mt.FlushLast(builder, serial, path, e.cache)
		if err != nil {
			return fmt.Errorf("engine: close-time flush failed: %w", err)
		}
		if !ok {
			break
		}
		if table, isTable := artifact.(*sstable.SST); isTable {
			e.sstMu.Lock()
			e.ssts = append(e.ssts, table)
			e.sstSerial++
			e.sstMu.Unlock()
		}
	}

	if err := e.wal.Clear(); err != nil {
		return fmt.Errorf("engine: can not clear wal on close: %w", err)
	}
	return e.wal.Close()
}
