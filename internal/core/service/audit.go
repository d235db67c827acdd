package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/yndnr/oplog-go/internal/core/domain"
	"github.com/yndnr/oplog-go/internal/storage/vlog"
)

// AuditOptions controls an Audit run.
type AuditOptions struct {
	// Rate limits documents checked per second. Zero means unlimited.
	Rate float64

	// Collection restricts the audit to one collection. Empty means all.
	Collection string
}

// Divergence describes a document whose logs have different heads.
type Divergence struct {
	Collection      string `json:"collection"`
	ID              string `json:"id"`
	OpVersion       uint64 `json:"op_version"`
	SnapshotVersion uint64 `json:"snapshot_version"`
}

// Repairable reports whether Repair can reconcile the document.
func (d Divergence) Repairable() bool {
	return d.OpVersion > d.SnapshotVersion
}

// AuditReport is the result of an Audit run.
type AuditReport struct {
	Documents int          `json:"documents"`
	Divergent []Divergence `json:"divergent"`
}

// OK reports whether every audited document was consistent.
func (r *AuditReport) OK() bool {
	return len(r.Divergent) == 0
}

// RebuildFunc produces the snapshot that results from applying op to prev.
// prev is the never-created snapshot when op creates the document.
type RebuildFunc func(prev *domain.Snapshot, op domain.Op) (*domain.Snapshot, error)

// ============================================================================
// Audit
// ============================================================================

// Audit compares the operation and snapshot heads of every document and
// reports those that differ. It reads only heads and can run against a
// live store.
func (s *DocumentStore) Audit(ctx context.Context, opts AuditOptions) (*AuditReport, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}

	report := &AuditReport{Divergent: []Divergence{}}
	skip := func(key domain.LogKey) bool {
		return opts.Collection != "" && key.Collection != opts.Collection
	}

	// 1. Every document with ops
	err = s.log.ScanHeads(ctx, domain.KindOperation, func(key domain.LogKey, opHead uint64) error {
		if skip(key) {
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		report.Documents++

		ssHead, err := s.log.Head(ctx, domain.SnapshotLogKey(key.Collection, key.ID))
		if err != nil {
			return err
		}
		if ssHead != opHead {
			report.Divergent = append(report.Divergent, Divergence{
				Collection:      key.Collection,
				ID:              key.ID,
				OpVersion:       opHead,
				SnapshotVersion: ssHead,
			})
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	// 2. Documents with snapshots but no ops
	err = s.log.ScanHeads(ctx, domain.KindSnapshot, func(key domain.LogKey, ssHead uint64) error {
		if skip(key) {
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		opHead, err := s.log.Head(ctx, domain.OpLogKey(key.Collection, key.ID))
		if err != nil {
			return err
		}
		if opHead == 0 {
			report.Documents++
			report.Divergent = append(report.Divergent, Divergence{
				Collection:      key.Collection,
				ID:              key.ID,
				SnapshotVersion: ssHead,
			})
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	s.metrics.SetDivergent(len(report.Divergent))
	if !report.OK() {
		s.logger.WarnContext(ctx, "audit found divergent documents",
			"documents", report.Documents,
			"divergent", len(report.Divergent))
	} else {
		s.logger.InfoContext(ctx, "audit completed", "documents", report.Documents)
	}
	return report, nil
}

// ============================================================================
// Repair
// ============================================================================

// Repair appends the snapshots missing from a document whose operation
// log is ahead of its snapshot log. rebuild is called once per missing
// version, in order, starting from the last stored snapshot. All rebuilt
// snapshots are written in one batch.
//
// It fails with ErrNothingToRepair if the heads are equal, and with
// ErrLogDiverged if the snapshot log is ahead.
func (s *DocumentStore) Repair(ctx context.Context, collection, id string, rebuild RebuildFunc) (int, error) {
	end, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer end()

	if rebuild == nil {
		return 0, errors.New("repair: rebuild function is required")
	}

	opKey := domain.OpLogKey(collection, id)
	ssKey := domain.SnapshotLogKey(collection, id)

	var repaired int
	err = s.log.Update(ctx, []domain.LogKey{opKey, ssKey}, func(tx *vlog.Tx) error {
		opHead, err := tx.Head(opKey)
		if err != nil {
			return err
		}
		ssHead, err := tx.Head(ssKey)
		if err != nil {
			return err
		}
		switch {
		case opHead == ssHead:
			return domain.ErrNothingToRepair.WithDetails(fmt.Sprintf("%s/%s at version %d", collection, id, opHead))
		case ssHead > opHead:
			return divergedError(collection, id, opHead, ssHead)
		}

		prev := domain.NewMissingSnapshot(id)
		if ssHead > 0 {
			snap, ok, err := s.readSnapshot(ctx, ssKey, ssHead)
			if err != nil {
				return err
			}
			if ok {
				prev = snap
			}
		}

		for v := ssHead + 1; v <= opHead; v++ {
			op, ok, err := s.readOp(ctx, opKey, v)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrCorruptEntry.WithDetails(fmt.Sprintf("%s missing at version %d", opKey, v))
			}

			next, err := rebuild(prev, op)
			if err != nil {
				return domain.ErrInvalidSnapshot.WithDetails(fmt.Sprintf("rebuild version %d", v)).Wrap(err)
			}
			if next == nil {
				return domain.ErrInvalidSnapshot.WithDetails(fmt.Sprintf("rebuild returned no snapshot for version %d", v))
			}

			stored := &domain.Snapshot{ID: id, Type: next.Type, Data: next.Data, M: next.M, V: v}
			payload, err := json.Marshal(stored)
			if err != nil {
				return domain.ErrInvalidSnapshot.Wrap(err)
			}
			if _, err := tx.Append(ssKey, payload); err != nil {
				return err
			}
			prev = stored
			repaired++
		}
		return nil
	})
	if err != nil {
		return 0, storageError(err)
	}

	s.metrics.IncRepairs()
	s.logger.InfoContext(ctx, "document repaired",
		"collection", collection,
		"id", id,
		"snapshots", repaired)
	return repaired, nil
}
