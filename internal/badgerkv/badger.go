// Package badgerkv implements the storage abstraction on BadgerDB.
package badgerkv

import (
	"bytes"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/tetrad-db/tetrad/pkg/storage"
)

// Options configures the BadgerDB backing store
type Options struct {
	// Dir is the database directory; ignored when InMemory is set
	Dir string

	// InMemory keeps all data in memory; used by tests and scratch stores
	InMemory bool

	// SyncWrites makes every commit fsync before returning
	SyncWrites bool

	// Logger receives storage-level diagnostics; nil silences them
	Logger *logrus.Logger
}

// Store implements storage.Storage using BadgerDB
type Store struct {
	db  *badger.DB
	log *logrus.Entry
}

// Open opens a BadgerDB-backed store
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	bopts.InMemory = opts.InMemory
	if opts.InMemory {
		bopts.Dir = ""
		bopts.ValueDir = ""
	}
	bopts.SyncWrites = opts.SyncWrites
	bopts.Logger = nil // Badger's own logger is too chatty for a library

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}

	return &Store{db: db, log: log.WithField("component", "badgerkv")}, nil
}

// Begin starts a new transaction
func (s *Store) Begin(writable bool) (storage.Tx, error) {
	txn := s.db.NewTransaction(writable)
	return &Tx{
		txn:      txn,
		writable: writable,
	}, nil
}

// Close closes the storage
func (s *Store) Close() error {
	return s.db.Close()
}

// Sync flushes writes to disk
func (s *Store) Sync() error {
	return s.db.Sync()
}

// GC runs one round of value log garbage collection
func (s *Store) GC() error {
	err := s.db.RunValueLogGC(0.5)
	if err != nil {
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		return &storage.IOError{Op: "gc", Err: err}
	}
	s.log.Debug("value log gc reclaimed space")
	return nil
}

// Tx implements storage.Tx using a BadgerDB transaction
type Tx struct {
	txn      *badger.Txn
	writable bool
	done     bool
}

// Get retrieves a value by key
func (t *Tx) Get(table storage.Table, key []byte) ([]byte, error) {
	if t.done {
		return nil, storage.ErrTxClosed
	}
	item, err := t.txn.Get(storage.PrefixKey(table, key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, &storage.IOError{Op: "get", Err: err}
	}

	var value []byte
	err = item.Value(func(val []byte) error {
		value = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, &storage.IOError{Op: "get", Err: err}
	}

	return value, nil
}

// Set stores a key-value pair
func (t *Tx) Set(table storage.Table, key, value []byte) error {
	if t.done {
		return storage.ErrTxClosed
	}
	if !t.writable {
		return storage.ErrReadOnlyTx
	}

	if err := t.txn.Set(storage.PrefixKey(table, key), value); err != nil {
		return &storage.IOError{Op: "set", Err: err}
	}
	return nil
}

// Delete removes a key
func (t *Tx) Delete(table storage.Table, key []byte) error {
	if t.done {
		return storage.ErrTxClosed
	}
	if !t.writable {
		return storage.ErrReadOnlyTx
	}

	if err := t.txn.Delete(storage.PrefixKey(table, key)); err != nil {
		return &storage.IOError{Op: "delete", Err: err}
	}
	return nil
}

// Scan iterates over a key range [start, end)
func (t *Tx) Scan(table storage.Table, start, end []byte) (storage.Iterator, error) {
	if t.done {
		return nil, storage.ErrTxClosed
	}
	opts := badger.DefaultIteratorOptions

	// Keys outside the table never surface: iteration is pinned to the
	// table prefix and seeks to start within it.
	tablePrefix := storage.TablePrefix(table)
	seekKey := tablePrefix
	if start != nil {
		seekKey = storage.PrefixKey(table, start)
	}
	opts.Prefix = tablePrefix
	it := t.txn.NewIterator(opts)

	var endKey []byte
	if end != nil {
		endKey = storage.PrefixKey(table, end)
	}

	return &Iterator{
		it:      it,
		prefix:  tablePrefix,
		endKey:  endKey,
		seekKey: seekKey,
	}, nil
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	if t.done {
		return storage.ErrTxClosed
	}
	t.done = true
	if err := t.txn.Commit(); err != nil {
		return &storage.IOError{Op: "commit", Err: err}
	}
	return nil
}

// Rollback discards the transaction
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}

// Iterator implements storage.Iterator over a Badger prefix scan
type Iterator struct {
	it       *badger.Iterator
	prefix   []byte // table prefix, stripped from returned keys
	endKey   []byte
	seekKey  []byte
	started  bool
	hasValue bool
}

// Next advances to the next item
func (i *Iterator) Next() bool {
	if !i.started {
		i.it.Seek(i.seekKey)
		i.started = true
	} else {
		i.it.Next()
	}

	if !i.it.Valid() {
		i.hasValue = false
		return false
	}

	if i.endKey != nil {
		if bytes.Compare(i.it.Item().Key(), i.endKey) >= 0 {
			i.hasValue = false
			return false
		}
	}

	i.hasValue = true
	return true
}

// Key returns the current key without the table prefix
func (i *Iterator) Key() []byte {
	if !i.hasValue {
		return nil
	}

	key := i.it.Item().Key()
	if len(key) > len(i.prefix) {
		return key[len(i.prefix):]
	}
	return nil
}

// Value returns the current value
func (i *Iterator) Value() ([]byte, error) {
	if !i.hasValue {
		return nil, storage.ErrNotFound
	}

	var value []byte
	err := i.it.Item().Value(func(val []byte) error {
		value = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, &storage.IOError{Op: "iterate", Err: err}
	}

	return value, nil
}

// Close closes the iterator
func (i *Iterator) Close() error {
	i.it.Close()
	return nil
}
