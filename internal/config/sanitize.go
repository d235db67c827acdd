package config

import "github.com/yndnr/oplog-go/internal/telemetry/logger"

// Sanitize returns a copy of the config with sensitive fields masked.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg
	if sanitized.Security.EncryptionKey != "" {
		sanitized.Security.EncryptionKey = logger.MaskSecret(sanitized.Security.EncryptionKey)
	}
	return &sanitized
}
