// Package metric provides Prometheus metrics for the document store.
//
// Metrics include:
//
//   - Commit counter by result (accepted, rejected, error)
//   - Commit and read latency histograms
//   - Ops read counter
//   - Divergent document gauge, set by the last audit
//
// A Registry owns its own prometheus.Registry so that several stores in
// one process (and tests) never collide on registration.
package metric
