package metric

import (
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

const namespace = "oplog"

// Commit results.
const (
	CommitAccepted = "accepted"
	CommitRejected = "rejected"
	CommitError    = "error"
)

// Read kinds.
const (
	ReadSnapshot = "snapshot"
	ReadOps      = "ops"
)

// Registry holds all store metrics.
//
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	CommitsTotal       *prometheus.CounterVec
	CommitDuration     prometheus.Histogram
	ReadDuration       *prometheus.HistogramVec
	OpsRead            prometheus.Counter
	DivergentDocuments prometheus.Gauge
	RepairsTotal       prometheus.Counter
}

// NewRegistry creates a registry with the store metrics and the Go runtime
// and process collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		CommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commit attempts by result.",
		}, []string{"result"}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Commit latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		ReadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Read latency by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"kind"}),
		OpsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_read_total",
			Help:      "Operations returned by range reads.",
		}),
		DivergentDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "divergent_documents",
			Help:      "Documents whose operation and snapshot heads differed at the last audit.",
		}),
		RepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Documents repaired.",
		}),
	}

	reg.MustRegister(
		r.CommitsTotal,
		r.CommitDuration,
		r.ReadDuration,
		r.OpsRead,
		r.DivergentDocuments,
		r.RepairsTotal,
	)
	return r
}

// WatchHeadCache exports the size reported by entries as the
// head_cache_entries gauge. Only the first call per registry takes effect.
func (r *Registry) WatchHeadCache(entries func() int) {
	if r == nil {
		return
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "head_cache_entries",
		Help:      "Log heads held in the in-memory head cache.",
	}, func() float64 { return float64(entries()) })
	_ = r.registry.Register(gauge)
}

// Registerer returns the underlying registerer, for components that
// contribute their own collectors (e.g. the KV engine).
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteText writes every metric family whose name starts with prefix in
// the Prometheus text format. An empty prefix writes everything.
func (r *Registry) WriteText(w io.Writer, prefix string) error {
	mfs, err := r.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if prefix != "" && !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCommit records one commit attempt.
func (r *Registry) ObserveCommit(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.CommitsTotal.WithLabelValues(result).Inc()
	r.CommitDuration.Observe(d.Seconds())
}

// ObserveRead records one read of the given kind.
func (r *Registry) ObserveRead(kind string, d time.Duration) {
	if r == nil {
		return
	}
	r.ReadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// AddOpsRead counts ops returned by a range read.
func (r *Registry) AddOpsRead(n int) {
	if r == nil {
		return
	}
	r.OpsRead.Add(float64(n))
}

// SetDivergent records the divergent document count of an audit.
func (r *Registry) SetDivergent(n int) {
	if r == nil {
		return
	}
	r.DivergentDocuments.Set(float64(n))
}

// IncRepairs counts a repaired document.
func (r *Registry) IncRepairs() {
	if r == nil {
		return
	}
	r.RepairsTotal.Inc()
}

