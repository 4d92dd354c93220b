// Package sstable implements the on-disk sorted-table flush sink: the
// memtable.Builder the engine hands to MemTable.FlushLast, and the
// read-side SST consulted once a key falls out of every memtable
// generation.
//
// Grounded on goldb's internal/sstable.go + internal/index_manager.go for
// the fixed-width binary-searchable index and bloom-filter-gated lookup,
// enriched with rockyardkv's domain stack: klauspost/compress zstd for
// the value payload and the shared block cache for decompressed blocks.
package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/hasssanezzz/goldb-lsm/internal/bloomfilter"
	"github.com/hasssanezzz/goldb-lsm/internal/cache"
)

const magic uint32 = 0x746c736d // "tlsm"

// indexEntrySize is the fixed width of one index-table row: a
// zero-padded key, its transaction id, and its (offset, length) within
// the decompressed value blob.
func indexEntrySize(keySize uint32) uint32 { return keySize + 8 + 4 + 4 }

// Builder accumulates entries in ascending key order and, on Build,
// writes them out as one immutable SST file. It implements
// memtable.Builder.
type Builder struct {
	keySize uint32
	keys    []string
	values  []string
	trancs  []uint64
}

// NewBuilder creates a builder whose index rows are padded to keySize
// bytes per key.
func NewBuilder(keySize uint32) *Builder {
	return &Builder{keySize: keySize}
}

// Add appends one entry. Entries must arrive in ascending key order,
// which the memtable's flush traversal guarantees.
func (b *Builder) Add(key, value string, trancID uint64) {
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
	b.trancs = append(b.trancs, trancID)
}

// Build finalises the accumulated entries into an SST file at path and
// returns the opened read-side table, registering it with cache for
// block-level reuse. An empty builder produces no file and returns
// (nil, nil).
func (b *Builder) Build(sstID uint32, path string, blockCache any) (any, error) {
	if len(b.keys) == 0 {
		return nil, nil
	}

	bc, _ := blockCache.(*cache.BlockCache)

	bf := bloomfilter.New(len(b.keys))
	for _, k := range b.keys {
		bf.Add(k)
	}
	filterBytes := bf.Bytes()

	var valueBlob []byte
	index := make([]byte, 0, int(indexEntrySize(b.keySize))*len(b.keys))
	offset := uint32(0)
	for i, key := range b.keys {
		row := make([]byte, indexEntrySize(b.keySize))
		copy(row, padKey(key, b.keySize))
		binary.LittleEndian.PutUint64(row[b.keySize:], b.trancs[i])
		binary.LittleEndian.PutUint32(row[b.keySize+8:], offset)
		binary.LittleEndian.PutUint32(row[b.keySize+12:], uint32(len(b.values[i])))
		index = append(index, row...)

		valueBlob = append(valueBlob, b.values[i]...)
		offset += uint32(len(b.values[i]))
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("sstable: can not create zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(valueBlob, nil)
	enc.Close()

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: can not create %q: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	h := header{
		serial:        sstID,
		count:         uint32(len(b.keys)),
		keySize:       b.keySize,
		filterSize:    uint32(len(filterBytes)),
		valueRawSize:  uint32(len(valueBlob)),
		valueCompSize: uint32(len(compressed)),
		minKey:        padKey(b.keys[0], b.keySize),
		maxKey:        padKey(b.keys[len(b.keys)-1], b.keySize),
	}
	if err := h.writeTo(w); err != nil {
		return nil, err
	}
	if _, err := w.Write(filterBytes); err != nil {
		return nil, fmt.Errorf("sstable: can not write filter: %w", err)
	}
	if _, err := w.Write(index); err != nil {
		return nil, fmt.Errorf("sstable: can not write index: %w", err)
	}

	sum := xxhash.Sum64(compressed)
	sumBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(sumBuf, sum)
	if _, err := w.Write(sumBuf); err != nil {
		return nil, fmt.Errorf("sstable: can not write checksum: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return nil, fmt.Errorf("sstable: can not write value blob: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	table, err := Open(path, sstID, b.keySize, bc)
	if err != nil {
		return nil, err
	}
	return table, nil
}

func padKey(key string, keySize uint32) []byte {
	out := make([]byte, keySize)
	copy(out, key)
	return out
}

func trimKey(padded []byte) string {
	i := len(padded)
	for i > 0 && padded[i-1] == 0 {
		i--
	}
	return string(padded[:i])
}

// header is the fixed-size prologue of every SST file.
type header struct {
	serial        uint32
	count         uint32
	keySize       uint32
	filterSize    uint32
	valueRawSize  uint32
	valueCompSize uint32
	minKey        []byte
	maxKey        []byte
}

func (h *header) writeTo(w io.Writer) error {
	buf := make([]byte, 4+4*6)
	binary.LittleEndian.PutUint32(buf[0:], magic)
	binary.LittleEndian.PutUint32(buf[4:], h.serial)
	binary.LittleEndian.PutUint32(buf[8:], h.count)
	binary.LittleEndian.PutUint32(buf[12:], h.keySize)
	binary.LittleEndian.PutUint32(buf[16:], h.filterSize)
	binary.LittleEndian.PutUint32(buf[20:], h.valueRawSize)
	binary.LittleEndian.PutUint32(buf[24:], h.valueCompSize)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("sstable: can not write header: %w", err)
	}
	if _, err := w.Write(h.minKey); err != nil {
		return err
	}
	if _, err := w.Write(h.maxKey); err != nil {
		return err
	}
	return nil
}

func readHeader(r io.Reader, keySize uint32) (header, error) {
	buf := make([]byte, 4+4*6)
	if _, err := io.ReadFull(r, buf); err != nil {
		return header{}, fmt.Errorf("sstable: can not read header: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[0:]) != magic {
		return header{}, fmt.Errorf("sstable: bad magic, file is not an SST")
	}
	h := header{
		serial:        binary.LittleEndian.Uint32(buf[4:]),
		count:         binary.LittleEndian.Uint32(buf[8:]),
		keySize:       binary.LittleEndian.Uint32(buf[12:]),
		filterSize:    binary.LittleEndian.Uint32(buf[16:]),
		valueRawSize:  binary.LittleEndian.Uint32(buf[20:]),
		valueCompSize: binary.LittleEndian.Uint32(buf[24:]),
	}
	h.minKey = make([]byte, h.keySize)
	h.maxKey = make([]byte, h.keySize)
	if _, err := io.ReadFull(r, h.minKey); err != nil {
		return header{}, err
	}
	if _, err := io.ReadFull(r, h.maxKey); err != nil {
		return header{}, err
	}
	return h, nil
}

// indexRow is one decoded index-table entry.
type indexRow struct {
	key         string
	trancID     uint64
	valueOffset uint32
	valueLen    uint32
}

// SST is one immutable, sorted, flushed table: a fixed-width binary
// searchable index over a zstd-compressed value blob, gated by a bloom
// filter so misses rarely touch disk at all.
type SST struct {
	id      uint32
	path    string
	keySize uint32

	minKey, maxKey string
	index          []indexRow
	filter         *bloomfilter.BloomFilter
	cache          *cache.BlockCache
}

// ID returns the serial number this table was built with.
func (s *SST) ID() uint32 { return s.id }

// MinKey and MaxKey bound the table's key range, enabling a cheap
// range-skip before the bloom filter or index are ever consulted.
func (s *SST) MinKey() string { return s.minKey }
func (s *SST) MaxKey() string { return s.maxKey }

// Open parses path's header, filter, and index into memory, deferring
// the (possibly large) value blob to first read via cache.
func Open(path string, id uint32, keySize uint32, bc *cache.BlockCache) (*SST, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: can not open %q: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, err := readHeader(r, keySize)
	if err != nil {
		return nil, err
	}

	filterBuf := make([]byte, h.filterSize)
	if _, err := io.ReadFull(r, filterBuf); err != nil {
		return nil, fmt.Errorf("sstable: can not read filter: %w", err)
	}

	rows := make([]indexRow, h.count)
	rowSize := indexEntrySize(h.keySize)
	rowBuf := make([]byte, rowSize)
	for i := range rows {
		if _, err := io.ReadFull(r, rowBuf); err != nil {
			return nil, fmt.Errorf("sstable: can not read index row %d: %w", i, err)
		}
		rows[i] = indexRow{
			key:         trimKey(rowBuf[:h.keySize]),
			trancID:     binary.LittleEndian.Uint64(rowBuf[h.keySize:]),
			valueOffset: binary.LittleEndian.Uint32(rowBuf[h.keySize+8:]),
			valueLen:    binary.LittleEndian.Uint32(rowBuf[h.keySize+12:]),
		}
	}

	return &SST{
		id:      id,
		path:    path,
		keySize: h.keySize,
		minKey:  trimKey(h.minKey),
		maxKey:  trimKey(h.maxKey),
		index:   rows,
		filter:  bloomfilter.FromBytes(filterBuf),
		cache:   bc,
	}, nil
}

// valueBlob returns the decompressed value payload, consulting the block
// cache before reading and decompressing from disk.
func (s *SST) valueBlob() ([]byte, error) {
	key := cache.Key{SSTID: s.id, Offset: 0}
	if s.cache != nil {
		if h := s.cache.Lookup(key); h != nil {
			defer s.cache.Release(h)
			return h.Value(), nil
		}
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, err := readHeader(r, s.keySize)
	if err != nil {
		return nil, err
	}
	if _, err := r.Discard(int(h.filterSize) + len(s.index)*int(indexEntrySize(s.keySize))); err != nil {
		return nil, err
	}

	sumBuf := make([]byte, 8)
	if _, err := io.ReadFull(r, sumBuf); err != nil {
		return nil, err
	}
	wantSum := binary.LittleEndian.Uint64(sumBuf)

	compressed := make([]byte, h.valueCompSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("sstable: can not read value blob: %w", err)
	}
	if gotSum := xxhash.Sum64(compressed); gotSum != wantSum {
		return nil, fmt.Errorf("sstable: checksum mismatch in %q: corrupt value blob", s.path)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, make([]byte, 0, h.valueRawSize))
	if err != nil {
		return nil, fmt.Errorf("sstable: can not decompress value blob: %w", err)
	}

	if s.cache != nil {
		s.cache.Release(s.cache.Insert(key, raw, uint64(len(raw))))
	}
	return raw, nil
}

// Get looks up key via the bloom filter and a binary search over the
// index, returning found=false on a clean miss. A found entry with an
// empty value is a tombstone; callers, not SST, decide what that means.
func (s *SST) Get(key string) (value string, trancID uint64, found bool, err error) {
	if key < s.minKey || key > s.maxKey || !s.filter.PossiblyContains(key) {
		return "", 0, false, nil
	}

	lo, hi := 0, len(s.index)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		row := s.index[mid]
		switch {
		case row.key < key:
			lo = mid + 1
		case row.key > key:
			hi = mid - 1
		default:
			if row.valueLen == 0 {
				return "", row.trancID, true, nil
			}
			blob, err := s.valueBlob()
			if err != nil {
				return "", 0, false, err
			}
			return string(blob[row.valueOffset : row.valueOffset+row.valueLen]), row.trancID, true, nil
		}
	}
	return "", 0, false, nil
}

// Entries returns every (key, value, trancID) triple in ascending key
// order, decompressing the value blob once.
func (s *SST) Entries() ([]Entry, error) {
	blob, err := s.valueBlob()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(s.index))
	for i, row := range s.index {
		v := ""
		if row.valueLen > 0 {
			v = string(blob[row.valueOffset : row.valueOffset+row.valueLen])
		}
		entries[i] = Entry{Key: row.key, Value: v, TrancID: row.trancID}
	}
	return entries, nil
}

// Entry is one decoded SST row.
type Entry struct {
	Key     string
	Value   string
	TrancID uint64
}
