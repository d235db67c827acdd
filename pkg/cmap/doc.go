// Package cmap provides a concurrent map implementation for oplog.
//
// The map is split into a power-of-two number of shards, each guarded by
// its own RWMutex, so unrelated keys rarely contend. It backs the
// versioned log's head cache.
//
// Usage:
//
//	m := cmap.New[uint64]()
//	m.Set("o\x00docs\x00a\x00", 3)
//	head, ok := m.Get("o\x00docs\x00a\x00")
package cmap
