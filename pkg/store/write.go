package store

import (
	"errors"
	"fmt"

	"github.com/tetrad-db/tetrad/internal/encoding"
	"github.com/tetrad-db/tetrad/pkg/dictionary"
	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/storage"
)

type txState int

const (
	txIdle txState = iota
	txActive
	txCommitting
	txAborted
)

// WriteTx is the single active write transaction. Inserts and deletes
// accumulate in an isolated overlay that no reader can observe; Commit
// atomically publishes a new snapshot with the overlay applied, Abort
// discards it. Every index is mutated as a unit: a committed quad is
// present in all index permutations or in none.
type WriteTx struct {
	store *Store
	tx    storage.Tx
	state txState
	size  int
}

// Insert adds a quad to every index. Inserting a quad that is already
// present has no further effect.
func (w *WriteTx) Insert(q *rdf.Quad) error {
	if w.state != txActive {
		return storage.ErrTxClosed
	}
	if err := rdf.ValidateQuad(q); err != nil {
		return err
	}

	ids, err := w.internQuad(q)
	if err != nil {
		return err
	}

	emptyValue := []byte{}

	if q.Graph.Type() == rdf.TermTypeDefaultGraph {
		for _, idx := range tripleIndexes {
			if err := w.tx.Set(idx.table, idx.key(ids), emptyValue); err != nil {
				return err
			}
		}
	} else {
		if err := w.tx.Set(storage.TableGraphs, ids[posGraph][:], emptyValue); err != nil {
			return err
		}
	}

	for _, idx := range quadIndexes {
		if err := w.tx.Set(idx.table, idx.key(ids), emptyValue); err != nil {
			return err
		}
	}

	w.size++
	return nil
}

// Delete removes a quad from every index. Deleting an absent quad is a
// no-op, not an error. The quad's terms stay in the dictionary until
// compaction so identifiers held by concurrent readers stay resolvable.
func (w *WriteTx) Delete(q *rdf.Quad) error {
	if w.state != txActive {
		return storage.ErrTxClosed
	}
	if err := rdf.ValidateQuad(q); err != nil {
		return err
	}

	ids, err := w.encodeQuad(q)
	if err != nil {
		return err
	}

	if q.Graph.Type() == rdf.TermTypeDefaultGraph {
		for _, idx := range tripleIndexes {
			if err := w.tx.Delete(idx.table, idx.key(ids)); err != nil {
				return err
			}
		}
	}

	for _, idx := range quadIndexes {
		if err := w.tx.Delete(idx.table, idx.key(ids)); err != nil {
			return err
		}
	}

	w.size++
	return nil
}

// Contains reports whether the quad is visible to this transaction,
// including its own uncommitted writes.
func (w *WriteTx) Contains(q *rdf.Quad) (bool, error) {
	if w.state != txActive {
		return false, storage.ErrTxClosed
	}
	ids, err := w.encodeQuad(q)
	if err != nil {
		return false, err
	}
	return containsKey(w.tx, ids)
}

// Commit atomically publishes the overlay as a new snapshot and releases
// the write permit. A failed commit discards the entire overlay; the
// store is never left partially committed.
func (w *WriteTx) Commit() error {
	if w.state != txActive {
		return storage.ErrTxClosed
	}
	w.state = txCommitting
	if err := w.tx.Commit(); err != nil {
		w.state = txAborted
		w.store.writer.Release(1)
		return err
	}
	w.state = txIdle
	w.store.writer.Release(1)
	w.store.log.WithField("mutations", w.size).Debug("write transaction committed")
	return nil
}

// Abort discards the overlay and releases the write permit. Abort after
// Commit or a second Abort is a no-op.
func (w *WriteTx) Abort() {
	if w.state != txActive {
		return
	}
	w.state = txAborted
	w.tx.Rollback()
	w.store.writer.Release(1)
	w.store.log.WithField("mutations", w.size).Debug("write transaction aborted")
}

// internQuad validates nothing itself; it interns all four components,
// persisting lexical forms for terms seen for the first time.
func (w *WriteTx) internQuad(q *rdf.Quad) ([4]encoding.TermID, error) {
	var ids [4]encoding.TermID
	var err error
	for pos, term := range [4]rdf.Term{q.Subject, q.Predicate, q.Object, q.Graph} {
		ids[pos], err = w.store.dict.Intern(w.tx, term)
		if err != nil {
			return ids, fmt.Errorf("failed to intern %s: %w", posName(pos), err)
		}
	}
	return ids, nil
}

// encodeQuad computes identifiers without touching the dictionary; used
// by deletes and lookups, which must not allocate new entries.
func (w *WriteTx) encodeQuad(q *rdf.Quad) ([4]encoding.TermID, error) {
	return encodeQuad(w.store.dict, q)
}

func encodeQuad(dict *dictionary.Dictionary, q *rdf.Quad) ([4]encoding.TermID, error) {
	var ids [4]encoding.TermID
	var err error
	for pos, term := range [4]rdf.Term{q.Subject, q.Predicate, q.Object, q.Graph} {
		ids[pos], err = dict.Encode(term)
		if err != nil {
			return ids, fmt.Errorf("failed to encode %s: %w", posName(pos), err)
		}
	}
	return ids, nil
}

func containsKey(tx storage.Tx, ids [4]encoding.TermID) (bool, error) {
	_, err := tx.Get(storage.TableSPOG, encoding.Key(ids[posSubject], ids[posPredicate], ids[posObject], ids[posGraph]))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func posName(pos int) string {
	switch pos {
	case posSubject:
		return "subject"
	case posPredicate:
		return "predicate"
	case posObject:
		return "object"
	default:
		return "graph"
	}
}
