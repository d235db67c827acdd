package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/oplog-go/internal/core/domain"
	"github.com/yndnr/oplog-go/internal/storage"
	"github.com/yndnr/oplog-go/internal/storage/vlog"
	"github.com/yndnr/oplog-go/internal/telemetry/metric"
)

// DefaultReadConcurrency bounds the point reads a single range read issues
// in parallel.
const DefaultReadConcurrency = 16

// SubmitField is the field selector that requests metadata on snapshot
// reads, equivalent to ReadOptions.Metadata.
const SubmitField = "$submit"

// Config configures a DocumentStore.
type Config struct {
	// ReadConcurrency bounds concurrent point reads per range or bulk read.
	ReadConcurrency int

	// Log configures the versioned log.
	Log vlog.Config

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics, if set, records commit and read metrics.
	Metrics *metric.Registry
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		ReadConcurrency: DefaultReadConcurrency,
		Log:             vlog.DefaultConfig(),
		Logger:          slog.Default(),
	}
}

// ReadOptions controls what reads return.
type ReadOptions struct {
	// Metadata keeps the "m" field of ops and snapshots.
	Metadata bool
}

// Fields is a snapshot field selector. Only SubmitField is interpreted.
type Fields map[string]bool

func (f Fields) wantMetadata(opts ReadOptions) bool {
	return opts.Metadata || f[SubmitField]
}

// DocumentStore persists documents as a pair of versioned logs: the
// operations applied to them and the snapshot after each operation.
//
// Commits are optimistic: a commit is accepted only if it produces the
// version immediately after the current one. The operation and its
// snapshot are written in one atomic batch, so both logs always have the
// same head for documents written by this store.
//
// DocumentStore is safe for concurrent use.
type DocumentStore struct {
	engine storage.KVEngine
	log    *vlog.Log

	readConcurrency int
	logger          *slog.Logger
	metrics         *metric.Registry

	// mu is held shared by every operation and exclusively by Close and
	// Restore.
	mu     sync.RWMutex
	closed bool
}

// New creates a DocumentStore over engine. The store owns the engine and
// closes it on Close.
func New(engine storage.KVEngine, cfg Config) *DocumentStore {
	if cfg.ReadConcurrency <= 0 {
		cfg.ReadConcurrency = DefaultReadConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Log.Logger == nil {
		cfg.Log.Logger = cfg.Logger
	}

	s := &DocumentStore{
		engine:          engine,
		log:             vlog.New(engine, cfg.Log),
		readConcurrency: cfg.ReadConcurrency,
		logger:          cfg.Logger.With("component", "docstore"),
		metrics:         cfg.Metrics,
	}
	s.metrics.WatchHeadCache(s.log.CachedHeads)
	return s
}

// Open opens a Badger engine with kv and returns a store over it.
func Open(kv storage.KVConfig, cfg Config) (*DocumentStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine, err := storage.NewBadgerEngine(kv, logger.With("component", "badger"))
	if err != nil {
		return nil, domain.ErrStorage.Wrap(err)
	}
	if cfg.Metrics != nil {
		engine.RegisterMetrics(cfg.Metrics.Registerer())
	}
	return New(engine, cfg), nil
}

// begin admits one operation. The returned function must be called when
// the operation finishes.
func (s *DocumentStore) begin() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, domain.ErrStoreClosed
	}
	return s.mu.RUnlock, nil
}

// ============================================================================
// Commit
// ============================================================================

// Commit appends op and snapshot as the next version of the document.
//
// It returns false, with no side effects, unless snapshot.V is exactly one
// past the current version. It fails with ErrLogDiverged when the
// document's operation and snapshot logs have different heads; see Repair.
func (s *DocumentStore) Commit(ctx context.Context, collection, id string, op domain.Op, snapshot *domain.Snapshot) (bool, error) {
	end, err := s.begin()
	if err != nil {
		return false, err
	}
	defer end()

	start := time.Now()
	accepted, err := s.commit(ctx, collection, id, op, snapshot)

	result := metric.CommitRejected
	switch {
	case err != nil:
		result = metric.CommitError
	case accepted:
		result = metric.CommitAccepted
	}
	s.metrics.ObserveCommit(result, time.Since(start))

	return accepted, err
}

func (s *DocumentStore) commit(ctx context.Context, collection, id string, op domain.Op, snapshot *domain.Snapshot) (bool, error) {
	// 1. Validate and encode outside the lock
	if snapshot == nil {
		return false, domain.ErrInvalidSnapshot.WithDetails("snapshot is required")
	}
	if op == nil {
		return false, domain.ErrInvalidSnapshot.WithDetails("op is required")
	}
	opPayload, err := json.Marshal(op)
	if err != nil {
		return false, domain.ErrInvalidSnapshot.WithDetails("op is not encodable").Wrap(err)
	}
	stored := domain.Snapshot{
		ID:   id,
		Type: snapshot.Type,
		Data: snapshot.Data,
		M:    snapshot.M,
		V:    snapshot.V,
	}
	ssPayload, err := json.Marshal(stored)
	if err != nil {
		return false, domain.ErrInvalidSnapshot.Wrap(err)
	}

	opKey := domain.OpLogKey(collection, id)
	ssKey := domain.SnapshotLogKey(collection, id)

	// 2. Check and append under the document's locks
	var accepted bool
	err = s.log.Update(ctx, []domain.LogKey{opKey, ssKey}, func(tx *vlog.Tx) error {
		current, err := tx.Head(opKey)
		if err != nil {
			return err
		}
		ssHead, err := tx.Head(ssKey)
		if err != nil {
			return err
		}
		if current != ssHead {
			return divergedError(collection, id, current, ssHead)
		}

		if snapshot.V != current+1 {
			s.logger.DebugContext(ctx, "commit rejected",
				"collection", collection,
				"id", id,
				"version", snapshot.V,
				"current", current)
			return nil
		}

		if _, err := tx.Append(opKey, opPayload); err != nil {
			return err
		}
		if _, err := tx.Append(ssKey, ssPayload); err != nil {
			return err
		}
		s.logger.DebugContext(ctx, "commit staged",
			"collection", collection,
			"id", id,
			"version", snapshot.V,
			"entry_id", tx.ID().String())
		accepted = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrLogDiverged) {
			s.logger.WarnContext(ctx, "commit refused on diverged document", "error", err)
			return false, err
		}
		s.logger.ErrorContext(ctx, "commit failed",
			"collection", collection,
			"id", id,
			"error", err)
		return false, storageError(err)
	}
	return accepted, nil
}

// ============================================================================
// Snapshot Reads
// ============================================================================

// GetSnapshot returns the latest snapshot of the document.
//
// A document that was never committed yields {id, v: 0, type: null}.
// Metadata is removed unless opts.Metadata or fields[SubmitField] is set.
// Keys are validated as in GetOps.
func (s *DocumentStore) GetSnapshot(ctx context.Context, collection, id string, fields Fields, opts ReadOptions) (*domain.Snapshot, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	start := time.Now()
	snap, err := s.getSnapshot(ctx, collection, id, fields.wantMetadata(opts))
	s.metrics.ObserveRead(metric.ReadSnapshot, time.Since(start))
	return snap, err
}

// GetSnapshotBulk returns the latest snapshot of every id, keyed by id.
func (s *DocumentStore) GetSnapshotBulk(ctx context.Context, collection string, ids []string, fields Fields, opts ReadOptions) (map[string]*domain.Snapshot, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	snaps := make([]*domain.Snapshot, len(ids))
	withMeta := fields.wantMetadata(opts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.readConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			snap, err := s.getSnapshot(gctx, collection, id, withMeta)
			snaps[i] = snap
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*domain.Snapshot, len(ids))
	for i, id := range ids {
		out[id] = snaps[i]
	}
	return out, nil
}

func (s *DocumentStore) getSnapshot(ctx context.Context, collection, id string, withMeta bool) (*domain.Snapshot, error) {
	key := domain.SnapshotLogKey(collection, id)

	seq, err := s.log.Head(ctx, key)
	if err != nil {
		return nil, storageError(err)
	}
	snap, ok, err := s.readSnapshot(ctx, key, seq)
	if err != nil {
		return nil, err
	}
	if !ok {
		return domain.NewMissingSnapshot(id), nil
	}
	if !withMeta {
		snap.M = nil
	}
	return snap, nil
}

func (s *DocumentStore) readSnapshot(ctx context.Context, key domain.LogKey, version uint64) (*domain.Snapshot, bool, error) {
	e, ok, err := s.log.Get(ctx, key, version)
	if err != nil {
		return nil, false, storageError(err)
	}
	if !ok {
		return nil, false, nil
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(e.Payload, &snap); err != nil {
		return nil, false, domain.ErrCorruptEntry.
			WithDetails(fmt.Sprintf("%s@%d", key, version)).
			Wrap(err)
	}
	return &snap, true, nil
}

// ============================================================================
// Op Reads
// ============================================================================

// GetOps returns the ops with versions [from, to) of the document.
//
// The op at version v is the one committed together with snapshot v. A nil
// to reads up to the current version, and to is capped at the current
// version. A version in range with no stored op, including version 0,
// yields the placeholder {id, v: 0, type: null}. Ops are returned in
// version order, as stored; callers infer versions from position.
//
// Only a storage failure is an error. An empty collection or id, or an id
// containing a NUL byte, cannot be stored and fails with ErrInvalidKey.
func (s *DocumentStore) GetOps(ctx context.Context, collection, id string, from uint64, to *uint64, opts ReadOptions) ([]domain.Op, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	start := time.Now()
	ops, err := s.getOps(ctx, collection, id, from, to, opts.Metadata)
	s.metrics.ObserveRead(metric.ReadOps, time.Since(start))
	s.metrics.AddOpsRead(len(ops))
	return ops, err
}

// GetOpsToSnapshot returns the ops from version from up to the version of
// snapshot.
func (s *DocumentStore) GetOpsToSnapshot(ctx context.Context, collection, id string, from uint64, snapshot *domain.Snapshot, opts ReadOptions) ([]domain.Op, error) {
	if snapshot == nil {
		return nil, domain.ErrInvalidSnapshot.WithDetails("snapshot is required")
	}
	to := snapshot.V
	return s.GetOps(ctx, collection, id, from, &to, opts)
}

// GetOpsBulk runs GetOps for every id in fromMap. An id absent from toMap
// reads up to its current version.
func (s *DocumentStore) GetOpsBulk(ctx context.Context, collection string, fromMap, toMap map[string]uint64, opts ReadOptions) (map[string][]domain.Op, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	var (
		mu  sync.Mutex
		out = make(map[string][]domain.Op, len(fromMap))
	)

	// Each GetOps fans out on its own; bound the documents in flight too.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.readConcurrency)
	for id, from := range fromMap {
		id, from := id, from
		var to *uint64
		if v, ok := toMap[id]; ok {
			to = &v
		}
		g.Go(func() error {
			ops, err := s.getOps(gctx, collection, id, from, to, opts.Metadata)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = ops
			mu.Unlock()
			s.metrics.AddOpsRead(len(ops))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DocumentStore) getOps(ctx context.Context, collection, id string, from uint64, to *uint64, withMeta bool) ([]domain.Op, error) {
	key := domain.OpLogKey(collection, id)

	seq, err := s.log.Head(ctx, key)
	if err != nil {
		return nil, storageError(err)
	}

	upper := seq
	if to != nil && *to < upper {
		upper = *to
	}
	if from >= upper {
		return []domain.Op{}, nil
	}

	ops := make([]domain.Op, upper-from)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.readConcurrency)
	for i := range ops {
		i := i
		version := from + uint64(i)
		g.Go(func() error {
			op, ok, err := s.readOp(gctx, key, version)
			if err != nil {
				return err
			}
			switch {
			case !ok:
				op = domain.NewMissingOp(id)
			case !withMeta:
				op = op.WithoutMetadata()
			}
			ops[i] = op
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ops, nil
}

func (s *DocumentStore) readOp(ctx context.Context, key domain.LogKey, version uint64) (domain.Op, bool, error) {
	e, ok, err := s.log.Get(ctx, key, version)
	if err != nil {
		return nil, false, storageError(err)
	}
	if !ok {
		return nil, false, nil
	}

	var op domain.Op
	if err := json.Unmarshal(e.Payload, &op); err != nil || op == nil {
		return nil, false, domain.ErrCorruptEntry.
			WithDetails(fmt.Sprintf("%s@%d", key, version)).
			Wrap(err)
	}
	return op, true, nil
}

// GetCommittedOpVersion reports the version of the committed op with the
// same src and seq as op, searching the ops that led to snapshot.
//
// ok is false when op carries no src/seq or no matching op is found.
func (s *DocumentStore) GetCommittedOpVersion(ctx context.Context, collection, id string, snapshot *domain.Snapshot, op domain.Op) (uint64, bool, error) {
	end, err := s.begin()
	if err != nil {
		return 0, false, err
	}
	defer end()

	src, seq, ok := op.Source()
	if !ok || snapshot == nil {
		return 0, false, nil
	}

	key := domain.OpLogKey(collection, id)
	head, err := s.log.Head(ctx, key)
	if err != nil {
		return 0, false, storageError(err)
	}

	for v := min(snapshot.V, head); v > 0; v-- {
		stored, found, err := s.readOp(ctx, key, v)
		if err != nil {
			return 0, false, err
		}
		if !found {
			continue
		}
		if gotSrc, gotSeq, ok := stored.Source(); ok && gotSrc == src && gotSeq == seq {
			return v, true, nil
		}
	}
	return 0, false, nil
}

// Version returns the current version of the document, 0 if it was never
// committed.
func (s *DocumentStore) Version(ctx context.Context, collection, id string) (uint64, error) {
	end, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer end()

	v, err := s.log.Head(ctx, domain.OpLogKey(collection, id))
	if err != nil {
		return 0, storageError(err)
	}
	return v, nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Backup writes a full backup of the store to w.
func (s *DocumentStore) Backup(ctx context.Context, w io.Writer) error {
	end, err := s.begin()
	if err != nil {
		return err
	}
	defer end()

	r, err := s.engine.SaveSnapshot(ctx)
	if err != nil {
		return storageError(err)
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

// Restore replaces the contents of the store with a backup written by
// Backup. It waits for in-flight operations and blocks new ones until done.
func (s *DocumentStore) Restore(ctx context.Context, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}

	if err := s.engine.LoadSnapshot(ctx, r); err != nil {
		return storageError(err)
	}
	s.log.Reset()

	s.logger.InfoContext(ctx, "store restored")
	return nil
}

// Stats returns statistics of the underlying engine.
func (s *DocumentStore) Stats(ctx context.Context) (*storage.KVStats, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	return stats, nil
}

// GC runs garbage collection on the underlying engine and returns the
// approximate number of bytes reclaimed. Log entries are never removed.
func (s *DocumentStore) GC(ctx context.Context) (uint64, error) {
	end, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer end()

	n, err := s.engine.GC(ctx)
	if err != nil {
		return n, storageError(err)
	}
	return n, nil
}

// Close waits for in-flight operations and releases the engine.
// Subsequent calls are no-ops; other operations return ErrStoreClosed.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.engine.Close(); err != nil {
		return storageError(err)
	}
	return nil
}

// storageError wraps engine failures in ErrStorage. Domain errors and
// context errors pass through.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsDomainError(err, "") ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, storage.ErrClosed) {
		return domain.ErrStoreClosed.Wrap(err)
	}
	return domain.ErrStorage.Wrap(err)
}

func divergedError(collection, id string, opHead, ssHead uint64) error {
	return domain.ErrLogDiverged.WithDetails(
		fmt.Sprintf("%s/%s: operation head %d, snapshot head %d", collection, id, opHead, ssHead))
}
