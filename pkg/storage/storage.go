// Package storage defines the ordered key-value abstraction the quad
// store is built on, and the engine-level error taxonomy.
package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key is absent from a table.
	ErrNotFound = errors.New("key not found")

	// ErrReadOnlyTx is returned on mutation through a read transaction.
	ErrReadOnlyTx = errors.New("transaction is read-only")

	// ErrWriteConflict is returned when a second write transaction is
	// attempted while one is already active. Callers should retry after
	// the active writer commits or aborts.
	ErrWriteConflict = errors.New("another write transaction is active")

	// ErrTxClosed is returned when a transaction or snapshot is used
	// after commit, abort, or close.
	ErrTxClosed = errors.New("transaction already finished")
)

// IOError wraps a durable-medium failure. It is fatal to the enclosing
// transaction: the overlay is discarded and nothing is partially applied.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage i/o failure during %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Storage is the interface for the underlying ordered key-value store
type Storage interface {
	// Begin starts a new transaction. Read transactions observe a
	// consistent snapshot as of Begin and are never blocked by writers.
	Begin(writable bool) (Tx, error)

	// Close closes the storage
	Close() error

	// Sync flushes writes to disk
	Sync() error

	// GC reclaims space from deleted entries. Best-effort; returns
	// ErrNoRewrite-like nil when there is nothing to collect.
	GC() error
}

// Tx represents a storage transaction with snapshot isolation
type Tx interface {
	// Get retrieves a value by key
	Get(table Table, key []byte) ([]byte, error)

	// Set stores a key-value pair
	Set(table Table, key, value []byte) error

	// Delete removes a key; deleting an absent key is a no-op
	Delete(table Table, key []byte) error

	// Scan iterates over a key range [start, end).
	// If start is nil, begins from the first key of the table.
	// If end is nil, scans until the last key of the table.
	Scan(table Table, start, end []byte) (Iterator, error)

	// Commit commits the transaction
	Commit() error

	// Rollback discards the transaction
	Rollback() error
}

// Iterator iterates over key-value pairs. Closing releases the
// underlying cursor; an abandoned iterator must always be closed.
type Iterator interface {
	// Next advances to the next item
	Next() bool

	// Key returns the current key (without the table prefix)
	Key() []byte

	// Value returns the current value
	Value() ([]byte, error)

	// Close closes the iterator
	Close() error
}

// Table identifies a logical table in the storage. Each table is
// namespaced by a one-byte key prefix.
type Table byte

const (
	// Dictionary table: term identifier payload -> lexical form
	TableID2Str Table = iota

	// Default graph indexes (3 permutations)
	TableSPO
	TablePOS
	TableOSP

	// Named graph indexes (6 permutations). Every quad, including
	// default-graph quads, appears in all six.
	TableSPOG
	TablePOSG
	TableOSPG
	TableGSPO
	TableGPOS
	TableGOSP

	// Named graphs metadata
	TableGraphs

	// Total number of tables
	TableCount
)

func (t Table) String() string {
	switch t {
	case TableID2Str:
		return "id2str"
	case TableSPO:
		return "spo"
	case TablePOS:
		return "pos"
	case TableOSP:
		return "osp"
	case TableSPOG:
		return "spog"
	case TablePOSG:
		return "posg"
	case TableOSPG:
		return "ospg"
	case TableGSPO:
		return "gspo"
	case TableGPOS:
		return "gpos"
	case TableGOSP:
		return "gosp"
	case TableGraphs:
		return "graphs"
	default:
		return "unknown"
	}
}

// TablePrefix returns the byte prefix namespacing a table's keys
func TablePrefix(table Table) []byte {
	return []byte{byte(table)}
}

// PrefixKey adds a table prefix to a key
func PrefixKey(table Table, key []byte) []byte {
	prefix := TablePrefix(table)
	result := make([]byte, len(prefix)+len(key))
	copy(result, prefix)
	copy(result[len(prefix):], key)
	return result
}
