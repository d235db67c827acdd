// Package domain defines the core domain models of the oplog store.
//
// Domain models are pure values without any IO dependencies:
//
//   - LogKey: identity of one versioned log (kind, collection, id)
//   - Op: an operation, stored verbatim as raw JSON fields
//   - Snapshot: the materialized document at a version
//   - Errors: DomainError codes shared by every layer
package domain
