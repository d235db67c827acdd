// Package confloader loads layered configuration with koanf.
//
// Priority (highest to lowest):
//
//  1. Overrides (command-line flags)
//  2. Environment variables
//  3. Configuration file (YAML)
//  4. Values already present in the target struct (defaults)
//
// Environment variables are mapped onto keys by stripping the prefix,
// lowercasing, and reading a double underscore as the section separator:
// OPLOG_STORAGE__DATA_DIR sets storage.data_dir.
package confloader
