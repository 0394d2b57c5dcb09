// Package store implements the quad store: eleven persistent indexes
// over fixed-width term identifiers, pattern matching with automatic
// index selection, and a single-writer, multi-reader transaction layer
// with snapshot isolation.
package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/tetrad-db/tetrad/internal/badgerkv"
	"github.com/tetrad-db/tetrad/pkg/dictionary"
	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/storage"
)

const defaultResolveCacheBytes = 32 << 20

// Store is a persistent quad store. All mutation goes through a single
// active write transaction at a time; any number of read snapshots may
// be held concurrently and are never blocked by the writer.
type Store struct {
	kv   storage.Storage
	dict *dictionary.Dictionary
	log  *logrus.Entry

	// writer is the exclusive write permit: held by the one active
	// write transaction, or by compaction.
	writer *semaphore.Weighted
}

type config struct {
	inMemory   bool
	syncWrites bool
	cacheBytes int64
	logger     *logrus.Logger
}

// Option configures a store at open time
type Option func(*config)

// WithInMemory keeps the whole store in memory; handy for tests
func WithInMemory() Option {
	return func(c *config) { c.inMemory = true }
}

// WithSyncWrites makes every commit fsync before returning
func WithSyncWrites() Option {
	return func(c *config) { c.syncWrites = true }
}

// WithResolveCacheBytes sizes the dictionary's resolve cache
func WithResolveCacheBytes(n int64) Option {
	return func(c *config) { c.cacheBytes = n }
}

// WithLogger routes engine diagnostics to the given logger
func WithLogger(l *logrus.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Open opens (creating if needed) a quad store at path.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{cacheBytes: defaultResolveCacheBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logrus.New()
		cfg.logger.SetLevel(logrus.WarnLevel)
	}

	kv, err := badgerkv.Open(badgerkv.Options{
		Dir:        path,
		InMemory:   cfg.inMemory,
		SyncWrites: cfg.syncWrites,
		Logger:     cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	dict, err := dictionary.New(cfg.cacheBytes)
	if err != nil {
		kv.Close()
		return nil, err
	}

	log := cfg.logger.WithField("component", "store")
	log.WithFields(logrus.Fields{"path": path, "in_memory": cfg.inMemory}).Info("quad store opened")

	return &Store{
		kv:     kv,
		dict:   dict,
		log:    log,
		writer: semaphore.NewWeighted(1),
	}, nil
}

// Close releases the store. Outstanding snapshots and write transactions
// must be finished first.
func (s *Store) Close() error {
	s.dict.Close()
	s.log.Info("quad store closed")
	return s.kv.Close()
}

// Sync flushes pending writes to disk
func (s *Store) Sync() error {
	return s.kv.Sync()
}

// BeginWrite starts the write transaction. At most one write transaction
// is active at any instant; a concurrent attempt fails immediately with
// storage.ErrWriteConflict and the caller is expected to retry.
func (s *Store) BeginWrite() (*WriteTx, error) {
	if !s.writer.TryAcquire(1) {
		return nil, storage.ErrWriteConflict
	}
	tx, err := s.kv.Begin(true)
	if err != nil {
		s.writer.Release(1)
		return nil, err
	}
	return &WriteTx{
		store: s,
		tx:    tx,
		state: txActive,
	}, nil
}

// Snapshot returns an immutable point-in-time view of the store. The
// caller must Close it when done; holding it never blocks writers.
func (s *Store) Snapshot() (*Snapshot, error) {
	tx, err := s.kv.Begin(false)
	if err != nil {
		return nil, err
	}
	return &Snapshot{store: s, tx: tx, epoch: s.dict.Epoch()}, nil
}

// InsertQuads loads a batch of quads as one atomic unit: either every
// quad is applied or, on the first error, none are.
func (s *Store) InsertQuads(quads []*rdf.Quad) error {
	w, err := s.BeginWrite()
	if err != nil {
		return err
	}
	for _, q := range quads {
		if err := w.Insert(q); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Commit()
}

// DeleteQuads removes a batch of quads as one atomic unit. Deleting
// quads that are not present is a no-op, not an error.
func (s *Store) DeleteQuads(quads []*rdf.Quad) error {
	w, err := s.BeginWrite()
	if err != nil {
		return err
	}
	for _, q := range quads {
		if err := w.Delete(q); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Commit()
}

// InsertTriples loads triples into the default graph as one atomic unit.
func (s *Store) InsertTriples(triples []*rdf.Triple) error {
	quads := make([]*rdf.Quad, len(triples))
	for i, t := range triples {
		quads[i] = t.ToQuad()
	}
	return s.InsertQuads(quads)
}

// Count returns the number of quads in the store.
func (s *Store) Count() (int64, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return 0, err
	}
	defer snap.Close()
	return snap.Count()
}

// Contains reports whether the store currently holds the quad.
func (s *Store) Contains(q *rdf.Quad) (bool, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return false, err
	}
	defer snap.Close()
	return snap.Contains(q)
}

// Compact physically purges dictionary entries whose terms are no longer
// referenced by any quad, drops named-graph records with no remaining
// quads, and compacts the underlying value log. This is the only point
// at which deleted data is reclaimed; until then identifiers stay
// resolvable so in-flight snapshots are unaffected.
//
// Compact holds the exclusive write permit for its duration, blocking
// until any active write transaction finishes. Readers are unaffected.
func (s *Store) Compact(ctx context.Context) error {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.writer.Release(1)

	referenced, graphsPurged, err := s.collectReferenced()
	if err != nil {
		return fmt.Errorf("compaction mark phase: %w", err)
	}

	purged, err := s.sweepDictionary(referenced)
	if err != nil {
		return fmt.Errorf("compaction sweep phase: %w", err)
	}
	// Advancing the cache epoch bars snapshots opened before this point
	// from re-filling the resolve cache with purged terms.
	s.dict.InvalidateCache()

	if err := s.kv.GC(); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"strings_purged": purged,
		"graphs_purged":  graphsPurged,
	}).Info("compaction finished")
	return nil
}

// collectReferenced scans the primary index and returns the set of
// dictionary payload keys still referenced by some quad, purging
// named-graph records that have no quads left along the way.
func (s *Store) collectReferenced() (map[string]struct{}, int, error) {
	tx, err := s.kv.Begin(false)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	referenced := make(map[string]struct{})

	it, err := tx.Scan(storage.TableSPOG, nil, nil)
	if err != nil {
		return nil, 0, err
	}
	for it.Next() {
		ids, err := splitQuadKey(it.Key())
		if err != nil {
			it.Close()
			return nil, 0, err
		}
		for _, id := range ids {
			if id.NeedsLookup() {
				referenced[string(id.Payload())] = struct{}{}
			}
		}
	}
	it.Close()

	// Named-graph records whose graph holds no quads are stale.
	var staleGraphs [][]byte
	git, err := tx.Scan(storage.TableGraphs, nil, nil)
	if err != nil {
		return nil, 0, err
	}
	for git.Next() {
		gid := append([]byte{}, git.Key()...)
		probe, err := tx.Scan(storage.TableGSPO, gid, nil)
		if err != nil {
			git.Close()
			return nil, 0, err
		}
		empty := !probe.Next() || !hasPrefix(probe.Key(), gid)
		probe.Close()
		if empty {
			staleGraphs = append(staleGraphs, gid)
		}
	}
	git.Close()

	if len(staleGraphs) > 0 {
		wtx, err := s.kv.Begin(true)
		if err != nil {
			return nil, 0, err
		}
		for _, gid := range staleGraphs {
			if err := wtx.Delete(storage.TableGraphs, gid); err != nil {
				wtx.Rollback()
				return nil, 0, err
			}
		}
		if err := wtx.Commit(); err != nil {
			return nil, 0, err
		}
	}

	return referenced, len(staleGraphs), nil
}

// sweepDictionary deletes id2str entries not present in the referenced
// set. Deletes are chunked so a huge sweep cannot overflow one
// transaction.
func (s *Store) sweepDictionary(referenced map[string]struct{}) (int, error) {
	tx, err := s.kv.Begin(false)
	if err != nil {
		return 0, err
	}
	var stale [][]byte
	it, err := tx.Scan(storage.TableID2Str, nil, nil)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	for it.Next() {
		key := it.Key()
		if _, ok := referenced[string(key)]; !ok {
			stale = append(stale, append([]byte{}, key...))
		}
	}
	it.Close()
	tx.Rollback()

	const chunk = 1024
	for start := 0; start < len(stale); start += chunk {
		end := min(start+chunk, len(stale))
		wtx, err := s.kv.Begin(true)
		if err != nil {
			return 0, err
		}
		for _, key := range stale[start:end] {
			if err := s.dict.Drop(wtx, key); err != nil {
				wtx.Rollback()
				return 0, err
			}
		}
		if err := wtx.Commit(); err != nil {
			return 0, err
		}
	}

	return len(stale), nil
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
