// Package vlog implements per-key append-only versioned logs on top of an
// ordered KV engine.
package vlog

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/oplog-go/internal/core/domain"
	"github.com/yndnr/oplog-go/internal/storage"
	"github.com/yndnr/oplog-go/pkg/cmap"
	"github.com/yndnr/oplog-go/pkg/crypto/adaptive"
)

// ErrNotLocked is returned when a transaction touches a key it did not lock.
var ErrNotLocked = errors.New("vlog: key not locked by this transaction")

// DefaultHeadCacheSize is the default number of cached heads.
const DefaultHeadCacheSize = 1 << 16

// Config configures a Log.
type Config struct {
	// LockStripes is the number of append lock stripes (rounded up to a
	// power of two). Default: DefaultLockStripes.
	LockStripes int

	// HeadCache memoises head versions in memory.
	HeadCache bool

	// HeadCacheSize bounds the number of cached heads. A full cache is
	// emptied before the head of a new key is added. Default:
	// DefaultHeadCacheSize.
	HeadCacheSize int

	// Cipher, if set, encrypts every payload at rest.
	Cipher adaptive.Cipher

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns the default log configuration.
func DefaultConfig() Config {
	return Config{
		LockStripes:   DefaultLockStripes,
		HeadCache:     true,
		HeadCacheSize: DefaultHeadCacheSize,
		Logger:        slog.Default(),
	}
}

// Log is a set of append-only logs, one per domain.LogKey, stored in a
// single KV engine.
//
// Versions of a key are dense and start at 1; head 0 means the key has
// never been appended to. Appends to the same key are linearized.
type Log struct {
	engine storage.KVEngine
	locks  *stripedLock
	heads  *cmap.Map[uint64] // nil when the head cache is disabled
	limit  int
	codec  codec
	logger *slog.Logger

	entropyMu sync.Mutex
	entropy   io.Reader
}

// New creates a Log over engine. The engine is not owned by the Log.
func New(engine storage.KVEngine, cfg Config) *Log {
	if cfg.LockStripes <= 0 {
		cfg.LockStripes = DefaultLockStripes
	}
	if cfg.HeadCacheSize <= 0 {
		cfg.HeadCacheSize = DefaultHeadCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &Log{
		engine:  engine,
		locks:   newStripedLock(cfg.LockStripes),
		limit:   cfg.HeadCacheSize,
		codec:   codec{cipher: cfg.Cipher},
		logger:  cfg.Logger,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if cfg.HeadCache {
		l.heads = cmap.New[uint64]()
	}
	return l
}

// Head returns the highest version appended to key, or 0.
//
// A missing key is not an error; only storage failures are.
func (l *Log) Head(ctx context.Context, key domain.LogKey) (uint64, error) {
	prefix, err := logPrefix(key)
	if err != nil {
		return 0, err
	}
	if l.heads != nil {
		if v, ok := l.heads.Get(string(prefix)); ok {
			return v, nil
		}
	}
	return l.loadHead(ctx, prefix)
}

func (l *Log) loadHead(ctx context.Context, prefix []byte) (uint64, error) {
	k, _, err := l.engine.Last(ctx, prefix)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	_, v, err := splitEntryKey(k)
	if err != nil {
		return 0, domain.ErrCorruptEntry.Wrap(err)
	}
	return v, nil
}

// Get returns the entry stored at version.
//
// ok is false, with a nil error, when nothing was ever written there.
func (l *Log) Get(ctx context.Context, key domain.LogKey, version uint64) (Entry, bool, error) {
	prefix, err := logPrefix(key)
	if err != nil {
		return Entry{}, false, err
	}
	if version == 0 {
		return Entry{}, false, nil
	}

	k := entryKey(prefix, version)
	raw, err := l.engine.Get(ctx, k)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	e, err := l.codec.decode(k, raw, version)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Append stores payload at Head(key)+1 and returns the new version.
func (l *Log) Append(ctx context.Context, key domain.LogKey, payload []byte) (uint64, error) {
	var version uint64
	err := l.Update(ctx, []domain.LogKey{key}, func(tx *Tx) error {
		v, err := tx.Append(key, payload)
		version = v
		return err
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Update runs fn with exclusive append access to keys and commits every
// entry fn appended in one atomic engine batch.
//
// If fn returns an error, or appends nothing, nothing is written.
func (l *Log) Update(ctx context.Context, keys []domain.LogKey, fn func(tx *Tx) error) error {
	if len(keys) == 0 {
		return errors.New("vlog: update without keys")
	}

	logs := make(map[string]*txLog, len(keys))
	prefixes := make([][]byte, 0, len(keys))
	for _, key := range keys {
		prefix, err := logPrefix(key)
		if err != nil {
			return err
		}
		if _, dup := logs[string(prefix)]; dup {
			continue
		}
		logs[string(prefix)] = &txLog{prefix: prefix}
		prefixes = append(prefixes, prefix)
	}

	unlock := l.locks.lock(prefixes...)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &Tx{
		ctx:  ctx,
		log:  l,
		logs: logs,
		now:  time.Now(),
	}
	tx.id = l.newID(tx.now)

	if err := fn(tx); err != nil {
		return err
	}
	if tx.batch.Len() == 0 {
		return nil
	}

	if err := l.engine.Write(ctx, &tx.batch); err != nil {
		// The write may or may not have landed; force a reload.
		if l.heads != nil {
			for _, tl := range logs {
				l.heads.Delete(string(tl.prefix))
			}
		}
		return err
	}

	if l.heads != nil {
		for _, tl := range logs {
			if tl.loaded {
				l.cacheHead(string(tl.prefix), tl.head+tl.pending)
			}
		}
	}
	return nil
}

// cacheHead stores head for prefix. The caller holds the prefix's lock.
func (l *Log) cacheHead(prefix string, head uint64) {
	if _, ok := l.heads.Get(prefix); !ok && l.heads.Count() >= l.limit {
		l.heads.Clear()
		l.logger.Debug("head cache full, cleared", "limit", l.limit)
	}
	l.heads.Set(prefix, head)
}

// CachedHeads returns the number of heads held in the head cache.
func (l *Log) CachedHeads() int {
	if l.heads == nil {
		return 0
	}
	return l.heads.Count()
}

// ScanHeads calls fn with the head of every log of the given kind, in key
// order. Iteration stops at the first error returned by fn.
func (l *Log) ScanHeads(ctx context.Context, kind domain.LogKind, fn func(key domain.LogKey, head uint64) error) error {
	var (
		cur     []byte
		curHead uint64
		cbErr   error
	)

	emit := func() {
		key, err := parsePrefix(cur)
		if err != nil {
			cbErr = domain.ErrCorruptEntry.Wrap(err)
			return
		}
		cbErr = fn(key, curHead)
	}

	err := l.engine.ScanKeys(ctx, kindPrefix(kind), func(k []byte) bool {
		prefix, v, err := splitEntryKey(k)
		if err != nil {
			cbErr = domain.ErrCorruptEntry.Wrap(err)
			return false
		}
		if cur != nil && !bytes.Equal(prefix, cur) {
			if emit(); cbErr != nil {
				return false
			}
		}
		cur, curHead = prefix, v
		return true
	})
	if err != nil {
		return err
	}
	if cbErr != nil {
		return cbErr
	}
	if cur != nil {
		emit()
	}
	return cbErr
}

// Reset drops cached heads. Call after the engine's contents were replaced.
func (l *Log) Reset() {
	if l.heads != nil {
		l.heads.Clear()
	}
}

func (l *Log) newID(now time.Time) ulid.ULID {
	l.entropyMu.Lock()
	defer l.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), l.entropy)
}

// Tx is an in-progress Update. It is only valid inside the Update callback.
type Tx struct {
	ctx   context.Context
	log   *Log
	logs  map[string]*txLog
	batch storage.Batch
	now   time.Time
	id    ulid.ULID
}

type txLog struct {
	prefix  []byte
	loaded  bool
	head    uint64
	pending uint64
}

func (tx *Tx) lookup(key domain.LogKey) (*txLog, error) {
	prefix, err := logPrefix(key)
	if err != nil {
		return nil, err
	}
	tl, ok := tx.logs[string(prefix)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLocked, key)
	}
	if !tl.loaded {
		head, ok := uint64(0), false
		if tx.log.heads != nil {
			head, ok = tx.log.heads.Get(string(prefix))
		}
		if !ok {
			head, err = tx.log.loadHead(tx.ctx, prefix)
			if err != nil {
				return nil, err
			}
		}
		tl.head, tl.loaded = head, true
	}
	return tl, nil
}

// Head returns the head of key including appends staged in this Tx.
func (tx *Tx) Head(key domain.LogKey) (uint64, error) {
	tl, err := tx.lookup(key)
	if err != nil {
		return 0, err
	}
	return tl.head + tl.pending, nil
}

// Append stages payload at the next version of key and returns it.
func (tx *Tx) Append(key domain.LogKey, payload []byte) (uint64, error) {
	tl, err := tx.lookup(key)
	if err != nil {
		return 0, err
	}

	version := tl.head + tl.pending + 1
	k := entryKey(tl.prefix, version)
	value, err := tx.log.codec.encode(k, &Entry{
		Version:     version,
		Payload:     payload,
		CommittedAt: tx.now,
		ID:          tx.id,
	})
	if err != nil {
		return 0, fmt.Errorf("vlog: encode entry: %w", err)
	}

	tx.batch.Put(k, value)
	tl.pending++
	return version, nil
}

// ID returns the entry id shared by every entry of this Tx.
func (tx *Tx) ID() ulid.ULID {
	return tx.id
}

func formatVersion(v uint64) string {
	return strconv.FormatUint(v, 10)
}
