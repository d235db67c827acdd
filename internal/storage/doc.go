// Package storage provides the ordered key-value substrate for oplog.
//
// The versioned log stores every entry under a key whose bytewise order
// groups all versions of one log together in ascending version order.
// KVEngine captures exactly what that layout needs:
//
//   - Point reads (Get) and reverse prefix seeks (Last) for head lookup
//   - Prefix scans for audits
//   - Atomic multi-key batches (Write) for the op/snapshot dual append
//   - Backup/restore and value-log GC for operators
//
// BadgerEngine is the only implementation. It can run on disk or fully
// in memory (tests and tooling).
package storage
