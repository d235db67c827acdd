package metric

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.registry == nil {
		t.Error("registry field is nil")
	}
	if r.CommitsTotal == nil || r.CommitDuration == nil || r.ReadDuration == nil {
		t.Error("store metrics not initialised")
	}

	// Two registries must not collide.
	if NewRegistry() == r {
		t.Error("NewRegistry() should return a fresh registry")
	}
}

func TestCommitMetrics(t *testing.T) {
	r := NewRegistry()

	r.ObserveCommit(CommitAccepted, time.Millisecond)
	r.ObserveCommit(CommitAccepted, time.Millisecond)
	r.ObserveCommit(CommitRejected, time.Millisecond)

	tests := []struct {
		result string
		want   float64
	}{
		{CommitAccepted, 2},
		{CommitRejected, 1},
		{CommitError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			got := testutil.ToFloat64(r.CommitsTotal.WithLabelValues(tt.result))
			if got != tt.want {
				t.Errorf("commits_total{result=%q} = %v, want %v", tt.result, got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(r.CommitDuration); n != 1 {
		t.Errorf("commit_duration_seconds series = %d, want 1", n)
	}
}

func TestReadMetrics(t *testing.T) {
	r := NewRegistry()

	r.ObserveRead(ReadSnapshot, time.Microsecond)
	r.ObserveRead(ReadOps, time.Microsecond)
	r.AddOpsRead(7)
	r.AddOpsRead(3)

	if got := testutil.ToFloat64(r.OpsRead); got != 10 {
		t.Errorf("ops_read_total = %v, want 10", got)
	}
	if n := testutil.CollectAndCount(r.ReadDuration); n != 2 {
		t.Errorf("read_duration_seconds series = %d, want 2", n)
	}
}

func TestAuditMetrics(t *testing.T) {
	r := NewRegistry()

	r.SetDivergent(4)
	r.SetDivergent(1)
	r.IncRepairs()

	if got := testutil.ToFloat64(r.DivergentDocuments); got != 1 {
		t.Errorf("divergent_documents = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.RepairsTotal); got != 1 {
		t.Errorf("repairs_total = %v, want 1", got)
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry

	// Should not panic
	r.ObserveCommit(CommitAccepted, time.Second)
	r.ObserveRead(ReadOps, time.Second)
	r.AddOpsRead(1)
	r.SetDivergent(1)
	r.IncRepairs()
}

func TestWriteText(t *testing.T) {
	r := NewRegistry()
	r.ObserveCommit(CommitAccepted, time.Millisecond)

	var buf bytes.Buffer
	if err := r.WriteText(&buf, "oplog_"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if !strings.Contains(out, `oplog_commits_total{result="accepted"} 1`) {
		t.Errorf("output missing commit counter:\n%s", out)
	}
	if strings.Contains(out, "go_goroutines") {
		t.Error("prefix filter should exclude runtime metrics")
	}

	buf.Reset()
	if err := r.WriteText(&buf, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "go_goroutines") {
		t.Error("expected go_goroutines metric without a prefix filter")
	}
}
