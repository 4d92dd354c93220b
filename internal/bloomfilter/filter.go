// Package bloomfilter implements the per-table membership filter stored
// in each SST file, adapted from goldb's bloom_filter package.
package bloomfilter

import "github.com/cespare/xxhash/v2"

// numHashes is the number of independent seeded xxhash digests combined
// per key, matching goldb's bloom_filter.
const numHashes = 7

// BloomFilter is a fixed-size bitset tested by numHashes independently
// seeded xxhash digests.
type BloomFilter struct {
	bitset  []bool
	size    uint64
	digests [numHashes]*xxhash.Digest
}

// New creates a filter sized for roughly n expected keys at a low false
// positive rate (about 10 bits per key, the usual rule of thumb for 7
// hash functions).
func New(n int) *BloomFilter {
	size := uint64(n*10) + 64
	bf := &BloomFilter{
		bitset: make([]bool, size),
		size:   size,
	}
	for i := range bf.digests {
		bf.digests[i] = xxhash.NewWithSeed(uint64(i))
	}
	return bf
}

// Add marks key as present.
func (bf *BloomFilter) Add(key string) {
	for i, d := range bf.digests {
		d.ResetWithSeed(uint64(i))
		d.Write([]byte(key))
		bf.bitset[d.Sum64()%bf.size] = true
	}
}

// PossiblyContains reports whether key might be present. False positives
// are possible; false negatives are not.
func (bf *BloomFilter) PossiblyContains(key string) bool {
	for i, d := range bf.digests {
		d.ResetWithSeed(uint64(i))
		d.Write([]byte(key))
		if !bf.bitset[d.Sum64()%bf.size] {
			return false
		}
	}
	return true
}

// Reset clears every bit without resizing.
func (bf *BloomFilter) Reset() {
	bf.bitset = make([]bool, bf.size)
}

// Bytes serialises the bitset to one byte per bit, for persistence in an
// SST file right after its header.
func (bf *BloomFilter) Bytes() []byte {
	out := make([]byte, bf.size)
	for i, b := range bf.bitset {
		if b {
			out[i] = 1
		}
	}
	return out
}

// FromBytes reconstructs a filter from bytes previously produced by Bytes.
func FromBytes(data []byte) *BloomFilter {
	bf := &BloomFilter{
		bitset: make([]bool, len(data)),
		size:   uint64(len(data)),
	}
	for i, b := range data {
		bf.bitset[i] = b != 0
	}
	for i := range bf.digests {
		bf.digests[i] = xxhash.NewWithSeed(uint64(i))
	}
	return bf
}
