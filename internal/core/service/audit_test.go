package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/oplog-go/internal/core/domain"
	"github.com/yndnr/oplog-go/internal/telemetry/metric"
)

// appendRaw appends directly to one log of a document, bypassing Commit.
func appendRaw(t *testing.T, s *DocumentStore, key domain.LogKey, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.log.Append(context.Background(), key, payload); err != nil {
		t.Fatal(err)
	}
}

func TestAudit(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics = metric.NewRegistry()
	s := New(newTestEngine(t), cfg)
	ctx := context.Background()

	commitN(t, s, "docs", "ok", 2)
	commitN(t, s, "docs", "behind", 2)
	commitN(t, s, "notes", "n1", 1)

	t.Run("consistent", func(t *testing.T) {
		report, err := s.Audit(ctx, AuditOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if !report.OK() || report.Documents != 3 {
			t.Errorf("Audit() = %+v, want 3 consistent documents", report)
		}
	})

	appendRaw(t, s, domain.OpLogKey("docs", "behind"), map[string]any{"src": "client", "seq": 3})
	appendRaw(t, s, domain.SnapshotLogKey("docs", "orphan"), &domain.Snapshot{ID: "orphan", Type: "text", V: 1})

	t.Run("divergent", func(t *testing.T) {
		report, err := s.Audit(ctx, AuditOptions{Rate: 1000})
		if err != nil {
			t.Fatal(err)
		}
		want := &AuditReport{
			Documents: 4,
			Divergent: []Divergence{
				{Collection: "docs", ID: "behind", OpVersion: 3, SnapshotVersion: 2},
				{Collection: "docs", ID: "orphan", OpVersion: 0, SnapshotVersion: 1},
			},
		}
		if diff := cmp.Diff(want, report); diff != "" {
			t.Errorf("Audit() mismatch (-want +got):\n%s", diff)
		}
		if !report.Divergent[0].Repairable() || report.Divergent[1].Repairable() {
			t.Error("only a document with extra ops is repairable")
		}
		if got := testutil.ToFloat64(cfg.Metrics.DivergentDocuments); got != 2 {
			t.Errorf("divergent_documents = %v, want 2", got)
		}
	})

	t.Run("collection filter", func(t *testing.T) {
		report, err := s.Audit(ctx, AuditOptions{Collection: "notes"})
		if err != nil {
			t.Fatal(err)
		}
		if !report.OK() || report.Documents != 1 {
			t.Errorf("Audit(notes) = %+v, want 1 consistent document", report)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := s.Audit(cctx, AuditOptions{Rate: 1}); err == nil {
			t.Error("Audit() with canceled context should fail")
		}
	})
}

func TestCommit_RefusedOnDivergence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	commitN(t, s, "docs", "d1", 2)
	appendRaw(t, s, domain.OpLogKey("docs", "d1"), map[string]any{"src": "client", "seq": 3})

	for _, v := range []uint64{3, 4} {
		ok, err := s.Commit(ctx, "docs", "d1", newOp(map[string]any{"a": 1}), textSnapshot(v, "x"))
		if !errors.Is(err, domain.ErrLogDiverged) || ok {
			t.Errorf("Commit(v=%d) = %v, %v; want false, ErrLogDiverged", v, ok, err)
		}
	}
}

func TestRepair(t *testing.T) {
	ctx := context.Background()

	// appendData rebuilds by appending the op's seq to the text.
	appendData := func(calls *[]uint64) RebuildFunc {
		return func(prev *domain.Snapshot, op domain.Op) (*domain.Snapshot, error) {
			*calls = append(*calls, prev.V)
			var text string
			if len(prev.Data) > 0 {
				if err := json.Unmarshal(prev.Data, &text); err != nil {
					return nil, err
				}
			}
			_, seq, _ := op.Source()
			data, _ := json.Marshal(fmt.Sprintf("%s+%d", text, seq))
			return &domain.Snapshot{Type: "text", Data: data}, nil
		}
	}

	t.Run("rebuilds missing snapshots", func(t *testing.T) {
		cfg := testConfig()
		cfg.Metrics = metric.NewRegistry()
		s := New(newTestEngine(t), cfg)

		mustCommit(t, s, "docs", "d1", newOp(map[string]any{"src": "c", "seq": 1}), textSnapshot(1, "a"))
		appendRaw(t, s, domain.OpLogKey("docs", "d1"), map[string]any{"src": "c", "seq": 2})
		appendRaw(t, s, domain.OpLogKey("docs", "d1"), map[string]any{"src": "c", "seq": 3})

		var calls []uint64
		n, err := s.Repair(ctx, "docs", "d1", appendData(&calls))
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("Repair() = %d, want 2", n)
		}
		if diff := cmp.Diff([]uint64{1, 2}, calls); diff != "" {
			t.Errorf("rebuild called with prev versions (-want +got):\n%s", diff)
		}

		snap, err := s.GetSnapshot(ctx, "docs", "d1", nil, ReadOptions{})
		if err != nil {
			t.Fatal(err)
		}
		want := &domain.Snapshot{ID: "d1", Type: "text", Data: json.RawMessage(`"a+2+3"`), V: 3}
		if diff := cmp.Diff(want, snap); diff != "" {
			t.Errorf("GetSnapshot() after repair mismatch (-want +got):\n%s", diff)
		}

		report, err := s.Audit(ctx, AuditOptions{})
		if err != nil || !report.OK() {
			t.Errorf("Audit() after repair = %+v, %v", report, err)
		}
		mustCommit(t, s, "docs", "d1", newOp(map[string]any{"src": "c", "seq": 4}), textSnapshot(4, "a+2+3+4"))

		if got := testutil.ToFloat64(cfg.Metrics.RepairsTotal); got != 1 {
			t.Errorf("repairs_total = %v, want 1", got)
		}
	})

	t.Run("from a never-created snapshot", func(t *testing.T) {
		s := newTestStore(t)
		appendRaw(t, s, domain.OpLogKey("docs", "d1"), map[string]any{"src": "c", "seq": 1})

		var calls []uint64
		if _, err := s.Repair(ctx, "docs", "d1", appendData(&calls)); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]uint64{0}, calls); diff != "" {
			t.Errorf("rebuild called with prev versions (-want +got):\n%s", diff)
		}
		if v, _ := s.Version(ctx, "docs", "d1"); v != 1 {
			t.Errorf("Version() = %d, want 1", v)
		}
	})

	t.Run("consistent document", func(t *testing.T) {
		s := newTestStore(t)
		commitN(t, s, "docs", "d1", 2)

		var calls []uint64
		if _, err := s.Repair(ctx, "docs", "d1", appendData(&calls)); !errors.Is(err, domain.ErrNothingToRepair) {
			t.Errorf("Repair() error = %v, want ErrNothingToRepair", err)
		}
	})

	t.Run("snapshot log ahead", func(t *testing.T) {
		s := newTestStore(t)
		appendRaw(t, s, domain.SnapshotLogKey("docs", "d1"), &domain.Snapshot{ID: "d1", Type: "text", V: 1})

		var calls []uint64
		if _, err := s.Repair(ctx, "docs", "d1", appendData(&calls)); !errors.Is(err, domain.ErrLogDiverged) {
			t.Errorf("Repair() error = %v, want ErrLogDiverged", err)
		}
	})

	t.Run("rebuild failure writes nothing", func(t *testing.T) {
		s := newTestStore(t)
		commitN(t, s, "docs", "d1", 1)
		appendRaw(t, s, domain.OpLogKey("docs", "d1"), map[string]any{"src": "c", "seq": 2})
		appendRaw(t, s, domain.OpLogKey("docs", "d1"), map[string]any{"src": "c", "seq": 3})

		boom := errors.New("unknown type")
		calls := 0
		_, err := s.Repair(ctx, "docs", "d1", func(prev *domain.Snapshot, _ domain.Op) (*domain.Snapshot, error) {
			calls++
			if calls == 2 {
				return nil, boom
			}
			return prev, nil
		})
		if !errors.Is(err, boom) || !errors.Is(err, domain.ErrInvalidSnapshot) {
			t.Errorf("Repair() error = %v, want wrapped rebuild error", err)
		}

		ssHead, _ := s.log.Head(ctx, domain.SnapshotLogKey("docs", "d1"))
		if ssHead != 1 {
			t.Errorf("snapshot head = %d after failed repair, want 1", ssHead)
		}
	})

	t.Run("nil rebuild", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.Repair(ctx, "docs", "d1", nil); err == nil {
			t.Error("Repair() without rebuild should fail")
		}
	})
}
