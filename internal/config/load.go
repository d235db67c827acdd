package config

import (
	"fmt"
	"log/slog"

	"github.com/yndnr/oplog-go/internal/core/service"
	"github.com/yndnr/oplog-go/internal/infra/confloader"
	"github.com/yndnr/oplog-go/internal/storage"
	"github.com/yndnr/oplog-go/internal/telemetry/metric"
	"github.com/yndnr/oplog-go/pkg/crypto/adaptive"
)

// Load builds a Config from the defaults, the YAML file at path (if any),
// OPLOG_ environment variables and overrides, in increasing priority, and
// verifies it.
func Load(path string, overrides map[string]any) (*Config, error) {
	cfg := Default()

	loader := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithOverrides(overrides),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// KVConfig returns the engine settings.
func (c *Config) KVConfig() storage.KVConfig {
	if c.Storage.InMemory {
		kv := storage.InMemoryKVConfig()
		kv.Badger.CacheSize = c.Storage.CacheSize
		return kv
	}

	kv := storage.DefaultKVConfig(c.Storage.DataDir)
	kv.Badger.SyncWrites = c.Storage.SyncWrites
	kv.Badger.GCInterval = c.Storage.GCInterval
	kv.Badger.GCThreshold = c.Storage.GCThreshold
	kv.Badger.CacheSize = c.Storage.CacheSize
	return kv
}

// Cipher returns the at-rest cipher, or nil when no encryption key is set.
func (c *Config) Cipher() (adaptive.Cipher, error) {
	if c.Security.EncryptionKey == "" {
		return nil, nil
	}
	key, err := adaptive.DeriveKey(c.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security.encryption_key: %w", err)
	}
	return adaptive.NewWithType(key, adaptive.CipherType(c.Security.Cipher))
}

// ServiceConfig returns the document store settings.
func (c *Config) ServiceConfig(log *slog.Logger, metrics *metric.Registry) (service.Config, error) {
	cipher, err := c.Cipher()
	if err != nil {
		return service.Config{}, err
	}

	sc := service.DefaultConfig()
	sc.ReadConcurrency = c.Store.ReadConcurrency
	sc.Log.LockStripes = c.Store.LockStripes
	sc.Log.HeadCache = c.Store.HeadCache
	sc.Log.HeadCacheSize = c.Store.HeadCacheSize
	sc.Log.Cipher = cipher
	sc.Logger = log
	sc.Log.Logger = log
	sc.Metrics = metrics
	return sc, nil
}
