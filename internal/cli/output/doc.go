// Package output renders oplogctl results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: Aligned tables, with a Tabler hook for custom layouts
//   - json.go: Indented JSON
//   - yaml.go: YAML, keeping JSON field names and order
package output
