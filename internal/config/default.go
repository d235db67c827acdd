package config

import (
	"time"

	"github.com/yndnr/oplog-go/internal/core/service"
	"github.com/yndnr/oplog-go/internal/storage/vlog"
)

// Default configuration values.
const (
	DefaultDataDir     = "./data"
	DefaultGCInterval  = 10 * time.Minute
	DefaultGCThreshold = 0.5
	DefaultCacheSize   = 64 << 20

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageSection{
			DataDir:     DefaultDataDir,
			SyncWrites:  true,
			GCInterval:  DefaultGCInterval,
			GCThreshold: DefaultGCThreshold,
			CacheSize:   DefaultCacheSize,
		},
		Store: StoreSection{
			ReadConcurrency: service.DefaultReadConcurrency,
			LockStripes:     vlog.DefaultLockStripes,
			HeadCache:       true,
			HeadCacheSize:   vlog.DefaultHeadCacheSize,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
