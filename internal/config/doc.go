// Package config provides the configuration of an oplog store.
//
// This package defines the configuration structure and validation:
//
//   - spec.go: Config struct definition
//   - default.go: Default configuration values
//   - verify.go: Validation
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - load.go: Loading and conversion into storage and service settings
//
// Configuration is loaded via internal/infra/confloader and supports
// multiple sources: files, environment variables, and flags.
package config
