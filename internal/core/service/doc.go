// Package service provides the document store.
//
// DocumentStore keeps two versioned logs per document, one of operations
// and one of the snapshots they produce, and implements:
//
//   - Commit: optimistic, atomic append of an op and its snapshot
//   - GetSnapshot / GetSnapshotBulk: latest snapshot reads
//   - GetOps / GetOpsBulk / GetOpsToSnapshot: ranged op reads
//   - GetCommittedOpVersion: lookup of a submitted op by src and seq
//   - Audit / Repair: detection and reconciliation of documents whose two
//     logs disagree
//   - Backup / Restore / GC / Stats: engine maintenance
//
// All methods are safe for concurrent use.
package service
