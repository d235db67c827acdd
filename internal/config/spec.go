package config

import "time"

// Config is the root configuration of an oplog store.
type Config struct {
	Storage  StorageSection  `koanf:"storage"`
	Store    StoreSection    `koanf:"store"`
	Security SecuritySection `koanf:"security"`
	Log      LogSection      `koanf:"log"`
}

// StorageSection configures the Badger engine.
type StorageSection struct {
	// DataDir is the Badger directory. Required unless InMemory is set.
	DataDir string `koanf:"data_dir"`

	// InMemory keeps all data in memory. Nothing survives Close.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every commit before it is acknowledged.
	SyncWrites bool `koanf:"sync_writes"`

	// GCInterval is the value log GC interval. Zero disables background GC.
	GCInterval time.Duration `koanf:"gc_interval"`

	// GCThreshold is the discard ratio that triggers value log rewrites.
	GCThreshold float64 `koanf:"gc_threshold"`

	// CacheSize is the block cache size in bytes.
	CacheSize int64 `koanf:"cache_size"`
}

// StoreSection configures the document store.
type StoreSection struct {
	ReadConcurrency int  `koanf:"read_concurrency"`
	LockStripes     int  `koanf:"lock_stripes"`
	HeadCache       bool `koanf:"head_cache"`
	HeadCacheSize   int  `koanf:"head_cache_size"`
}

// SecuritySection configures at-rest encryption.
type SecuritySection struct {
	// EncryptionKey is 64 hex characters (a raw 256-bit key) or a
	// passphrase. Empty disables encryption.
	EncryptionKey string `koanf:"encryption_key"`

	// Cipher is aes-gcm, chacha20-poly1305, or empty to pick by CPU.
	Cipher string `koanf:"cipher"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
