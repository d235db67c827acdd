// Package main provides the entry point for oplogctl.
//
// oplogctl inspects and maintains an oplog document store:
//
//   - Read snapshots and op ranges of a document
//   - Commit an op with its resulting snapshot
//   - Verify that op and snapshot logs agree
//   - Back up, restore and garbage-collect the store
//
// Usage:
//
//	oplogctl --data-dir ./data snapshot get books b1
//	oplogctl -o json ops list books b1 --from 3
//	oplogctl verify --rate 500
package main
