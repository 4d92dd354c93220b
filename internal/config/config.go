// Package config defines the handful of options the write path and its
// surrounding engine need, grounded on goldb's shared.EngineConfig.
package config

// EngineConfig carries the configuration the core and its collaborators
// read. Only PerMemSizeLimit governs the memtable itself; the rest are
// consumed by the engine, SST, and WAL collaborators.
type EngineConfig struct {
	// PerMemSizeLimit is the byte threshold at or above which the active
	// skip list is frozen, at the end of the put/remove that reaches it.
	PerMemSizeLimit uint64

	// KeySize bounds how large a single key may be.
	KeySize uint32

	// SSTableNamePrefix names files the SST manager writes under Homepath.
	SSTableNamePrefix string

	// Homepath is the directory the engine's collaborators persist into.
	Homepath string

	// BlockCacheBytes sizes the LRU block cache handed to SST builds.
	BlockCacheBytes uint64
}

// Default mirrors goldb's shared.DefaultConfig, scaled to a byte threshold
// appropriate for the memtable rather than an entry count.
var Default = EngineConfig{
	PerMemSizeLimit:   4 << 20, // 4 MiB
	KeySize:           256,
	SSTableNamePrefix: "sst_",
	BlockCacheBytes:   16 << 20, // 16 MiB
}

// New returns a copy of Default. Callers mutate fields on the result
// rather than reaching into a shared global, keeping configuration an
// explicit dependency instead of an ambient singleton.
func New() *EngineConfig {
	c := Default
	return &c
}

// WithPerMemSizeLimit sets the freeze threshold and returns the receiver.
func (c *EngineConfig) WithPerMemSizeLimit(v uint64) *EngineConfig {
	c.PerMemSizeLimit = v
	return c
}

// WithHomepath sets the collaborators' persistence directory.
func (c *EngineConfig) WithHomepath(v string) *EngineConfig {
	c.Homepath = v
	return c
}

// WithKeySize sets the maximum key length.
func (c *EngineConfig) WithKeySize(v uint32) *EngineConfig {
	c.KeySize = v
	return c
}
