package store

import (
	"bytes"

	"github.com/tetrad-db/tetrad/internal/encoding"
	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/storage"
)

// Quad component positions
const (
	posSubject = iota
	posPredicate
	posObject
	posGraph
)

// Variable marks a wildcard position in a pattern. The name is carried
// through to query bindings; the matcher itself ignores it.
type Variable struct {
	Name string
}

// NewVariable creates a new variable
func NewVariable(name string) *Variable {
	return &Variable{Name: name}
}

func (v *Variable) String() string {
	return "?" + v.Name
}

// Pattern is a quad pattern: each position holds either a bound
// rdf.Term or a *Variable wildcard. A nil Graph is a wildcard over all
// graphs, including the default graph; to match only the default graph,
// bind Graph to rdf.NewDefaultGraph().
type Pattern struct {
	Subject   any
	Predicate any
	Object    any
	Graph     any
}

func (p *Pattern) position(pos int) any {
	switch pos {
	case posSubject:
		return p.Subject
	case posPredicate:
		return p.Predicate
	case posObject:
		return p.Object
	default:
		return p.Graph
	}
}

// BoundCount returns the number of bound (non-wildcard) positions.
func (p *Pattern) BoundCount() int {
	n := 0
	for pos := 0; pos < 4; pos++ {
		if isBound(p.position(pos)) {
			n++
		}
	}
	return n
}

func isBound(v any) bool {
	if v == nil {
		return false
	}
	_, isVar := v.(*Variable)
	return !isVar
}

// indexSpec describes one index permutation: which quad position each
// key component holds, in key order.
type indexSpec struct {
	table storage.Table
	order []int
}

func (idx indexSpec) key(ids [4]encoding.TermID) []byte {
	parts := make([]encoding.TermID, len(idx.order))
	for i, pos := range idx.order {
		parts[i] = ids[pos]
	}
	return encoding.Key(parts...)
}

// Default-graph indexes hold three components; the graph is implicit.
var tripleIndexes = []indexSpec{
	{storage.TableSPO, []int{posSubject, posPredicate, posObject}},
	{storage.TablePOS, []int{posPredicate, posObject, posSubject}},
	{storage.TableOSP, []int{posObject, posSubject, posPredicate}},
}

// Quad indexes hold all four components; every quad appears in each.
var quadIndexes = []indexSpec{
	{storage.TableSPOG, []int{posSubject, posPredicate, posObject, posGraph}},
	{storage.TablePOSG, []int{posPredicate, posObject, posSubject, posGraph}},
	{storage.TableOSPG, []int{posObject, posSubject, posPredicate, posGraph}},
	{storage.TableGSPO, []int{posGraph, posSubject, posPredicate, posObject}},
	{storage.TableGPOS, []int{posGraph, posPredicate, posObject, posSubject}},
	{storage.TableGOSP, []int{posGraph, posObject, posSubject, posPredicate}},
}

// selectIndex picks the index whose key permutation has the longest
// prefix of bound positions for the pattern. Ties prefer the
// permutation that orders the pattern's first wildcard right after the
// bound prefix, keeping the residual scan contiguous.
func selectIndex(bound [4]bool, defaultGraphOnly bool) indexSpec {
	candidates := quadIndexes
	if defaultGraphOnly {
		candidates = tripleIndexes
	}

	firstWildcard := -1
	for pos := 0; pos < 4; pos++ {
		if !bound[pos] && !(defaultGraphOnly && pos == posGraph) {
			firstWildcard = pos
			break
		}
	}

	best := candidates[0]
	bestLen, bestTie := -1, false
	for _, idx := range candidates {
		prefixLen := 0
		for _, pos := range idx.order {
			if !bound[pos] {
				break
			}
			prefixLen++
		}
		tie := prefixLen < len(idx.order) && idx.order[prefixLen] == firstWildcard
		if prefixLen > bestLen || (prefixLen == bestLen && tie && !bestTie) {
			best, bestLen, bestTie = idx, prefixLen, tie
		}
	}
	return best
}

// scanBounds computes the [start, end) range for the bound key prefix,
// plus residual checks for bound positions the prefix does not cover.
func scanBounds(idx indexSpec, bound [4]bool, ids [4]encoding.TermID) (start, end []byte, residual []int) {
	prefixLen := 0
	for _, pos := range idx.order {
		if !bound[pos] {
			break
		}
		prefixLen++
	}

	if prefixLen > 0 {
		parts := make([]encoding.TermID, prefixLen)
		for i := 0; i < prefixLen; i++ {
			parts[i] = ids[idx.order[i]]
		}
		start = encoding.Key(parts...)
		end = prefixSuccessor(start)
	}

	for _, pos := range idx.order[prefixLen:] {
		if bound[pos] {
			residual = append(residual, pos)
		}
	}
	return start, end, residual
}

// prefixSuccessor returns the smallest key greater than every key with
// the given prefix, or nil if the prefix is all 0xff.
func prefixSuccessor(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// matchesResidual checks bound positions that the index prefix did not
// cover by direct comparison of identifiers.
func matchesResidual(ids [4]encoding.TermID, want [4]encoding.TermID, residual []int) bool {
	for _, pos := range residual {
		if !bytes.Equal(ids[pos][:], want[pos][:]) {
			return false
		}
	}
	return true
}

// splitQuadKey decodes a 4-component primary-index key in SPOG order.
func splitQuadKey(key []byte) ([4]encoding.TermID, error) {
	var out [4]encoding.TermID
	parts, err := encoding.SplitKey(key, 4)
	if err != nil {
		return out, err
	}
	copy(out[:], parts)
	return out, nil
}

// defaultGraphID is the identifier of the default-graph marker; computed
// once, it never needs the dictionary.
var defaultGraphID = func() encoding.TermID {
	id, _, err := encoding.NewEncoder().Encode(rdf.NewDefaultGraph())
	if err != nil {
		panic(err)
	}
	return id
}()
