package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/oplog-go/internal/telemetry/logger"
	"github.com/yndnr/oplog-go/pkg/crypto/adaptive"
)

// Verify validates the configuration.
func Verify(cfg *Config) error {
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyStore(&cfg.Store); err != nil {
		return err
	}
	if err := verifySecurity(&cfg.Security); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" && !cfg.InMemory {
		return errors.New("storage.data_dir is required unless storage.in_memory is set")
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		return fmt.Errorf("storage.gc_threshold must be in (0, 1), got %v", cfg.GCThreshold)
	}
	if cfg.GCInterval < 0 {
		return errors.New("storage.gc_interval must not be negative")
	}
	if cfg.CacheSize < 0 {
		return errors.New("storage.cache_size must not be negative")
	}
	return nil
}

func verifyStore(cfg *StoreSection) error {
	if cfg.ReadConcurrency < 0 {
		return errors.New("store.read_concurrency must not be negative")
	}
	if cfg.LockStripes < 0 {
		return errors.New("store.lock_stripes must not be negative")
	}
	if cfg.HeadCacheSize < 0 {
		return errors.New("store.head_cache_size must not be negative")
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	switch adaptive.CipherType(cfg.Cipher) {
	case "", adaptive.CipherAESGCM, adaptive.CipherChaCha20:
	default:
		return fmt.Errorf("security.cipher: unknown cipher %q", cfg.Cipher)
	}
	if cfg.Cipher != "" && cfg.EncryptionKey == "" {
		return errors.New("security.cipher is set but security.encryption_key is empty")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}
