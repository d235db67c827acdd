// Package storage provides the ordered key-value substrate for oplog.
//
// This file defines the KVEngine interface; badger.go implements it on
// Badger v3.
package storage

import (
	"context"
	"io"
	"time"
)

// KVEngine defines the interface for an embedded, ordered key-value store.
//
// Keys sort bytewise. The versioned log relies on this ordering to keep
// all versions of one logical log contiguous and ascending.
//
// Implementation requirements:
//   - Thread-safe: concurrent reads/writes must be safe
//   - Atomic batches: Write applies every put or none
//   - Durable: data must survive process restarts (unless in-memory)
type KVEngine interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Last returns the greatest key (and its value) starting with prefix.
	// Returns ErrKeyNotFound if no key has the prefix.
	Last(ctx context.Context, prefix []byte) (key, value []byte, err error)

	// ScanKeys iterates over keys with a given prefix in ascending order,
	// without loading values. Callback returns false to stop iteration.
	ScanKeys(ctx context.Context, prefix []byte, fn func(key []byte) bool) error

	// Write applies a batch of puts atomically.
	Write(ctx context.Context, batch *Batch) error

	// SaveSnapshot streams a full backup of the store.
	SaveSnapshot(ctx context.Context) (io.ReadCloser, error)

	// LoadSnapshot replaces the store contents with a backup.
	LoadSnapshot(ctx context.Context, r io.Reader) error

	// GC triggers garbage collection (for LSM-based engines like Badger).
	// Returns bytes reclaimed (approximate).
	GC(ctx context.Context) (uint64, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*KVStats, error)

	// Close releases the engine. Calling Close more than once is a no-op.
	Close() error
}

// Batch is an ordered set of puts applied atomically by KVEngine.Write.
type Batch struct {
	entries []batchEntry
}

type batchEntry struct {
	key   []byte
	value []byte
}

// Put stages key=value. The slices must not be modified afterwards.
func (b *Batch) Put(key, value []byte) {
	b.entries = append(b.entries, batchEntry{key: key, value: value})
}

// Len returns the number of staged puts.
func (b *Batch) Len() int {
	return len(b.entries)
}

// KVStats contains storage engine statistics.
type KVStats struct {
	// TotalSize is the total disk usage in bytes.
	TotalSize uint64 `json:"total_size"`

	// LSMSize is the LSM tree size.
	LSMSize uint64 `json:"lsm_size"`

	// ValueLogSize is the value log size.
	ValueLogSize uint64 `json:"value_log_size"`

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64 `json:"last_gc_time"`

	// GCBytesReclaimed is the total bytes reclaimed by GC.
	GCBytesReclaimed uint64 `json:"gc_bytes_reclaimed"`
}

// KVConfig configures an embedded KV engine.
type KVConfig struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory (tests and tooling).
	InMemory bool

	// Badger-specific configuration
	Badger BadgerConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs.
	// Zero disables the background GC loop.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5 (rewrite a value log file when 50% of it is stale)
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 1GB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int

	// NumLevelZeroTables is the number of Level 0 tables before compaction.
	// Default: 5
	NumLevelZeroTables int

	// NumLevelZeroTablesStall is the number of Level 0 tables that triggers write stall.
	// Default: 10
	NumLevelZeroTablesStall int

	// SyncWrites fsyncs every committed batch.
	// Default: true (a commit reported as succeeded must survive a crash)
	SyncWrites bool
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// InMemoryKVConfig returns a configuration for a non-persistent engine.
func InMemoryKVConfig() KVConfig {
	cfg := DefaultKVConfig("")
	cfg.InMemory = true
	cfg.Badger.GCInterval = 0
	cfg.Badger.SyncWrites = false
	return cfg
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:              10 * time.Minute,
		GCThreshold:             0.5,
		CacheSize:               64 << 20, // 64MB
		ValueLogFileSize:        1 << 30,  // 1GB
		NumMemtables:            2,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
		SyncWrites:              true,
	}
}
