// Package command provides the oplogctl commands.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: Root command, global flags, store setup
//   - document.go: snapshot get, ops list, commit
//   - maintenance.go: verify, backup, restore, stats, gc
//   - version.go: version
//
// Every command opens the store configured by --config, OPLOG_ environment
// variables and the global flags, runs one operation and closes it.
package command
