package store

import (
	"github.com/tetrad-db/tetrad/internal/encoding"
	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/storage"
)

// Snapshot is an immutable point-in-time view of the quad set and
// dictionary. Commits that happen after the snapshot was taken are
// invisible to it, even while it is still iterating. Snapshots are not
// safe for concurrent use; take one per request.
type Snapshot struct {
	store  *Store
	tx     storage.Tx
	closed bool

	// epoch is the dictionary cache epoch at snapshot creation. A
	// compaction advancing it marks this snapshot's reads as too old to
	// fill the shared resolve cache.
	epoch uint64
}

// Close releases the snapshot. Iterators obtained from it must not be
// used afterwards.
func (sn *Snapshot) Close() error {
	if sn.closed {
		return nil
	}
	sn.closed = true
	return sn.tx.Rollback()
}

// Contains reports whether the quad is present in this snapshot.
func (sn *Snapshot) Contains(q *rdf.Quad) (bool, error) {
	if sn.closed {
		return false, storage.ErrTxClosed
	}
	if err := rdf.ValidateQuad(q); err != nil {
		return false, err
	}
	ids, err := encodeQuad(sn.store.dict, q)
	if err != nil {
		return false, err
	}
	return containsKey(sn.tx, ids)
}

// ResolveTerm resolves a term identifier to its term, for result
// serialization by an enclosing shell.
func (sn *Snapshot) ResolveTerm(id encoding.TermID) (rdf.Term, error) {
	if sn.closed {
		return nil, storage.ErrTxClosed
	}
	return sn.store.dict.ResolveAsOf(sn.tx, id, sn.epoch)
}

// Match returns a lazy iterator over the quads matching the pattern.
// Each call yields a fresh, restartable sequence over this snapshot;
// concurrent writers never mutate it. The iterator must be closed, and
// may be abandoned at any point without draining.
func (sn *Snapshot) Match(p *Pattern) (*QuadIterator, error) {
	if sn.closed {
		return nil, storage.ErrTxClosed
	}

	var bound [4]bool
	var want [4]encoding.TermID
	for pos := 0; pos < 4; pos++ {
		v := p.position(pos)
		if !isBound(v) {
			continue
		}
		term, ok := v.(rdf.Term)
		if !ok {
			return nil, rdf.ErrMalformedTerm
		}
		id, err := sn.store.dict.Encode(term)
		if err != nil {
			return nil, err
		}
		bound[pos] = true
		want[pos] = id
	}

	defaultOnly := bound[posGraph] && want[posGraph] == defaultGraphID
	idx := selectIndex(bound, defaultOnly)
	start, end, residual := scanBounds(idx, bound, want)

	it, err := sn.tx.Scan(idx.table, start, end)
	if err != nil {
		return nil, err
	}

	return &QuadIterator{
		snap:     sn,
		it:       it,
		idx:      idx,
		want:     want,
		residual: residual,
	}, nil
}

// Graphs lists the named graphs that have ever held a quad and have not
// been purged by compaction.
func (sn *Snapshot) Graphs() ([]rdf.Term, error) {
	if sn.closed {
		return nil, storage.ErrTxClosed
	}
	it, err := sn.tx.Scan(storage.TableGraphs, nil, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var graphs []rdf.Term
	for it.Next() {
		parts, err := encoding.SplitKey(it.Key(), 1)
		if err != nil {
			return nil, err
		}
		term, err := sn.store.dict.ResolveAsOf(sn.tx, parts[0], sn.epoch)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, term)
	}
	return graphs, nil
}

// Count returns the number of quads visible in this snapshot.
func (sn *Snapshot) Count() (int64, error) {
	if sn.closed {
		return 0, storage.ErrTxClosed
	}
	it, err := sn.tx.Scan(storage.TableSPOG, nil, nil)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	count := int64(0)
	for it.Next() {
		count++
	}
	return count, nil
}

// EstimatePattern counts quads matching the pattern, stopping at limit.
// The planner uses it as a cheap scan-cost probe; a result equal to
// limit means "at least limit".
func (sn *Snapshot) EstimatePattern(p *Pattern, limit int64) (int64, error) {
	it, err := sn.Match(p)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	count := int64(0)
	for count < limit && it.Next() {
		count++
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

// QuadIterator is a lazy, single-snapshot sequence of matching quads.
// Next/Quad pulls may perform storage I/O; abandoning the sequence early
// requires only Close, which releases the underlying cursor.
type QuadIterator struct {
	snap     *Snapshot
	it       storage.Iterator
	idx      indexSpec
	want     [4]encoding.TermID
	residual []int
	current  [4]encoding.TermID
	err      error
	closed   bool
}

// Next advances to the next matching quad. It returns false at the end
// of the sequence or on error; check Err afterwards.
func (qi *QuadIterator) Next() bool {
	if qi.closed || qi.err != nil {
		return false
	}
	for qi.it.Next() {
		parts, err := encoding.SplitKey(qi.it.Key(), len(qi.idx.order))
		if err != nil {
			qi.err = err
			return false
		}

		// The default graph is implicit in the triple indexes.
		ids := qi.want
		if len(qi.idx.order) == 3 {
			ids[posGraph] = defaultGraphID
		}
		for i, pos := range qi.idx.order {
			ids[pos] = parts[i]
		}

		if !matchesResidual(ids, qi.want, qi.residual) {
			continue
		}
		qi.current = ids
		return true
	}
	return false
}

// IDs returns the current quad as term identifiers in SPOG order.
func (qi *QuadIterator) IDs() [4]encoding.TermID {
	return qi.current
}

// Quad decodes the current quad through the dictionary.
func (qi *QuadIterator) Quad() (*rdf.Quad, error) {
	var terms [4]rdf.Term
	for pos := 0; pos < 4; pos++ {
		term, err := qi.snap.ResolveTerm(qi.current[pos])
		if err != nil {
			return nil, err
		}
		terms[pos] = term
	}
	return rdf.NewQuad(terms[posSubject], terms[posPredicate], terms[posObject], terms[posGraph]), nil
}

// Err reports a storage failure encountered while iterating.
func (qi *QuadIterator) Err() error {
	return qi.err
}

// Close releases the iterator's cursor. The snapshot stays usable.
func (qi *QuadIterator) Close() error {
	if qi.closed {
		return nil
	}
	qi.closed = true
	return qi.it.Close()
}
