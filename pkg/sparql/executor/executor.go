// Package executor runs query plans against a store snapshot using
// pull-based iterators. Every operator implements bindingIterator; a
// solution is materialized only when the caller pulls it, so LIMIT and
// ASK stop scanning as soon as they are satisfied.
package executor

import (
	"fmt"

	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/sparql/algebra"
	"github.com/tetrad-db/tetrad/pkg/sparql/evaluator"
	"github.com/tetrad-db/tetrad/pkg/sparql/planner"
	"github.com/tetrad-db/tetrad/pkg/store"
)

// Executor evaluates queries against one snapshot. It is not safe for
// concurrent use; create one per query or guard it externally.
type Executor struct {
	snap    *store.Snapshot
	planner *planner.Planner
	eval    *evaluator.Evaluator
}

// New creates an executor over a snapshot. The caller keeps ownership
// of the snapshot and closes it after the results are drained.
func New(snap *store.Snapshot) *Executor {
	return &Executor{
		snap:    snap,
		planner: planner.New(snap),
		eval:    evaluator.New(),
	}
}

// Select plans and runs a SELECT query, returning a lazy iterator over
// its solutions. The iterator must be closed.
func (e *Executor) Select(q *algebra.SelectQuery) (*Solutions, error) {
	plan, err := e.planner.PlanSelect(q)
	if err != nil {
		return nil, err
	}
	it, err := e.run(plan, algebra.NewBinding())
	if err != nil {
		return nil, err
	}
	return &Solutions{vars: planner.PlanVariables(plan), it: it}, nil
}

// Ask plans and runs an ASK query: whether the pattern has at least one
// solution.
func (e *Executor) Ask(q *algebra.AskQuery) (bool, error) {
	plan, err := e.planner.PlanAsk(q)
	if err != nil {
		return false, err
	}
	it, err := e.run(plan, algebra.NewBinding())
	if err != nil {
		return false, err
	}
	defer it.Close()

	if it.Next() {
		return true, nil
	}
	return false, it.Err()
}

// Solutions is a lazy sequence of query solutions
type Solutions struct {
	vars []string
	it   bindingIterator
}

// Vars returns the variable names solutions may bind, in plan order.
func (s *Solutions) Vars() []string {
	return s.vars
}

// Next advances to the next solution; false at the end or on error.
func (s *Solutions) Next() bool {
	return s.it.Next()
}

// Binding returns the current solution.
func (s *Solutions) Binding() *algebra.Binding {
	return s.it.Binding()
}

// Err reports a failure encountered while producing solutions.
func (s *Solutions) Err() error {
	return s.it.Err()
}

// Close releases the underlying iterators.
func (s *Solutions) Close() error {
	return s.it.Close()
}

// All drains the remaining solutions into a slice.
func (s *Solutions) All() ([]*algebra.Binding, error) {
	defer s.Close()
	var out []*algebra.Binding
	for s.Next() {
		out = append(out, s.Binding())
	}
	return out, s.Err()
}

// bindingIterator is the internal operator interface. Binding returns a
// full solution including the parent bindings the operator was seeded
// with.
type bindingIterator interface {
	Next() bool
	Binding() *algebra.Binding
	Err() error
	Close() error
}

// run instantiates the iterator tree for a plan, seeded with the parent
// binding. Joins re-run their right side per left solution through this
// same entry point, so bound variables become concrete scan bounds.
func (e *Executor) run(plan planner.Plan, parent *algebra.Binding) (bindingIterator, error) {
	switch p := plan.(type) {
	case *planner.ScanPlan:
		return e.newScanIterator(p.Pattern, parent)
	case *planner.JoinPlan:
		left, err := e.run(p.Left, parent)
		if err != nil {
			return nil, err
		}
		return &joinIterator{exec: e, right: p.Right, left: left}, nil
	case *planner.LeftJoinPlan:
		left, err := e.run(p.Left, parent)
		if err != nil {
			return nil, err
		}
		return &leftJoinIterator{exec: e, right: p.Right, left: left}, nil
	case *planner.UnionPlan:
		left, err := e.run(p.Left, parent)
		if err != nil {
			return nil, err
		}
		return &unionIterator{exec: e, parent: parent, rightPlan: p.Right, current: left}, nil
	case *planner.FilterPlan:
		input, err := e.run(p.Input, parent)
		if err != nil {
			return nil, err
		}
		return &filterIterator{exec: e, input: input, expr: p.Expr}, nil
	case *planner.BindPlan:
		input, err := e.run(p.Input, parent)
		if err != nil {
			return nil, err
		}
		return &bindIterator{exec: e, input: input, name: p.Var.Name, expr: p.Expr}, nil
	case *planner.DistinctPlan:
		input, err := e.run(p.Input, parent)
		if err != nil {
			return nil, err
		}
		return &distinctIterator{input: input, seen: make(map[string]bool)}, nil
	case *planner.LimitPlan:
		input, err := e.run(p.Input, parent)
		if err != nil {
			return nil, err
		}
		return &limitIterator{input: input, remaining: p.N}, nil
	case *planner.OffsetPlan:
		input, err := e.run(p.Input, parent)
		if err != nil {
			return nil, err
		}
		return &offsetIterator{input: input, skip: p.N}, nil
	case *planner.ProjectionPlan:
		input, err := e.run(p.Input, parent)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(p.Variables))
		for i, v := range p.Variables {
			names[i] = v.Name
		}
		return &projectionIterator{input: input, names: names}, nil
	default:
		return nil, fmt.Errorf("unsupported plan node %T", plan)
	}
}

// scanIterator matches one quad pattern. Parent bindings are
// substituted into the pattern before index selection, so a variable
// bound upstream scans as a concrete term.
type scanIterator struct {
	parent *algebra.Binding
	it     *store.QuadIterator
	// names[pos] is the variable a matched quad binds at pos, "" when
	// the position was already concrete.
	names    [4]string
	graphVar bool
	current  *algebra.Binding
	err      error
}

func (e *Executor) newScanIterator(pattern *algebra.QuadPattern, parent *algebra.Binding) (*scanIterator, error) {
	si := &scanIterator{parent: parent}

	var sp store.Pattern
	slots := []struct {
		tv  algebra.TermOrVariable
		dst *any
		pos int
	}{
		{pattern.Subject, &sp.Subject, 0},
		{pattern.Predicate, &sp.Predicate, 1},
		{pattern.Object, &sp.Object, 2},
		{pattern.Graph, &sp.Graph, 3},
	}
	for _, slot := range slots {
		switch {
		case slot.tv.IsVariable():
			if term, ok := parent.Get(slot.tv.Variable.Name); ok {
				*slot.dst = term
			} else {
				*slot.dst = store.NewVariable(slot.tv.Variable.Name)
				si.names[slot.pos] = slot.tv.Variable.Name
			}
			if slot.pos == 3 {
				si.graphVar = true
			}
		case slot.tv.Term != nil:
			*slot.dst = slot.tv.Term
		case slot.pos == 3:
			// An unscoped pattern matches only the default graph.
			sp.Graph = rdf.NewDefaultGraph()
		}
	}

	it, err := e.snap.Match(&sp)
	if err != nil {
		return nil, err
	}
	si.it = it
	return si, nil
}

func (si *scanIterator) Next() bool {
	if si.err != nil {
		return false
	}
	for si.it.Next() {
		quad, err := si.it.Quad()
		if err != nil {
			si.err = err
			return false
		}
		// A graph variable ranges over named graphs only.
		if si.graphVar && si.names[3] != "" {
			if _, isDefault := quad.Graph.(*rdf.DefaultGraph); isDefault {
				continue
			}
		}
		if binding, ok := si.bind(quad); ok {
			si.current = binding
			return true
		}
	}
	si.err = si.it.Err()
	return false
}

// bind extends the parent binding with the quad's terms. A variable
// repeated within the pattern must match the same term in every
// position it names.
func (si *scanIterator) bind(quad *rdf.Quad) (*algebra.Binding, bool) {
	terms := [4]rdf.Term{quad.Subject, quad.Predicate, quad.Object, quad.Graph}
	out := si.parent.Clone()
	for pos, name := range si.names {
		if name == "" {
			continue
		}
		if existing, ok := out.Get(name); ok {
			if !existing.Equals(terms[pos]) {
				return nil, false
			}
			continue
		}
		out.Set(name, terms[pos])
	}
	return out, true
}

func (si *scanIterator) Binding() *algebra.Binding { return si.current }
func (si *scanIterator) Err() error                { return si.err }
func (si *scanIterator) Close() error              { return si.it.Close() }

// joinIterator is a nested-loop join: the right side is re-instantiated
// for every left solution, seeded with it.
type joinIterator struct {
	exec    *Executor
	right   planner.Plan
	left    bindingIterator
	inner   bindingIterator
	current *algebra.Binding
	err     error
}

func (ji *joinIterator) Next() bool {
	if ji.err != nil {
		return false
	}
	for {
		if ji.inner != nil {
			if ji.inner.Next() {
				ji.current = ji.inner.Binding()
				return true
			}
			if err := ji.inner.Err(); err != nil {
				ji.err = err
				return false
			}
			ji.inner.Close()
			ji.inner = nil
		}
		if !ji.left.Next() {
			ji.err = ji.left.Err()
			return false
		}
		inner, err := ji.exec.run(ji.right, ji.left.Binding())
		if err != nil {
			ji.err = err
			return false
		}
		ji.inner = inner
	}
}

func (ji *joinIterator) Binding() *algebra.Binding { return ji.current }
func (ji *joinIterator) Err() error                { return ji.err }

func (ji *joinIterator) Close() error {
	if ji.inner != nil {
		ji.inner.Close()
		ji.inner = nil
	}
	return ji.left.Close()
}

// leftJoinIterator implements OPTIONAL. A left solution with no right
// match is emitted exactly once, with the right side's variables
// unbound.
type leftJoinIterator struct {
	exec    *Executor
	right   planner.Plan
	left    bindingIterator
	inner   bindingIterator
	matched bool
	current *algebra.Binding
	err     error
}

func (lj *leftJoinIterator) Next() bool {
	if lj.err != nil {
		return false
	}
	for {
		if lj.inner != nil {
			if lj.inner.Next() {
				lj.matched = true
				lj.current = lj.inner.Binding()
				return true
			}
			if err := lj.inner.Err(); err != nil {
				lj.err = err
				return false
			}
			lj.inner.Close()
			lj.inner = nil
			if !lj.matched {
				lj.current = lj.left.Binding()
				return true
			}
		}
		if !lj.left.Next() {
			lj.err = lj.left.Err()
			return false
		}
		inner, err := lj.exec.run(lj.right, lj.left.Binding())
		if err != nil {
			lj.err = err
			return false
		}
		lj.inner = inner
		lj.matched = false
	}
}

func (lj *leftJoinIterator) Binding() *algebra.Binding { return lj.current }
func (lj *leftJoinIterator) Err() error                { return lj.err }

func (lj *leftJoinIterator) Close() error {
	if lj.inner != nil {
		lj.inner.Close()
		lj.inner = nil
	}
	return lj.left.Close()
}

// unionIterator drains the left branch, then the right, preserving
// declared order.
type unionIterator struct {
	exec      *Executor
	parent    *algebra.Binding
	rightPlan planner.Plan
	current   bindingIterator
	onRight   bool
	err       error
}

func (ui *unionIterator) Next() bool {
	if ui.err != nil {
		return false
	}
	for {
		if ui.current.Next() {
			return true
		}
		if err := ui.current.Err(); err != nil {
			ui.err = err
			return false
		}
		if ui.onRight {
			return false
		}
		ui.current.Close()
		right, err := ui.exec.run(ui.rightPlan, ui.parent)
		if err != nil {
			ui.err = err
			return false
		}
		ui.current = right
		ui.onRight = true
	}
}

func (ui *unionIterator) Binding() *algebra.Binding { return ui.current.Binding() }
func (ui *unionIterator) Err() error                { return ui.err }
func (ui *unionIterator) Close() error              { return ui.current.Close() }

// filterIterator keeps solutions whose expression is true. Expression
// errors, including unbound variables and type errors, drop the
// individual candidate.
type filterIterator struct {
	exec  *Executor
	input bindingIterator
	expr  algebra.Expression
}

func (fi *filterIterator) Next() bool {
	for fi.input.Next() {
		ok, err := fi.exec.eval.EffectiveBool(fi.expr, fi.input.Binding())
		if err == nil && ok {
			return true
		}
	}
	return false
}

func (fi *filterIterator) Binding() *algebra.Binding { return fi.input.Binding() }
func (fi *filterIterator) Err() error                { return fi.input.Err() }
func (fi *filterIterator) Close() error              { return fi.input.Close() }

// bindIterator extends each solution with a computed variable. An
// expression error leaves the variable unbound rather than dropping the
// solution.
type bindIterator struct {
	exec    *Executor
	input   bindingIterator
	name    string
	expr    algebra.Expression
	current *algebra.Binding
}

func (bi *bindIterator) Next() bool {
	if !bi.input.Next() {
		return false
	}
	binding := bi.input.Binding()
	if value, err := bi.exec.eval.Evaluate(bi.expr, binding); err == nil {
		binding = binding.Clone()
		binding.Set(bi.name, value)
	}
	bi.current = binding
	return true
}

func (bi *bindIterator) Binding() *algebra.Binding { return bi.current }
func (bi *bindIterator) Err() error                { return bi.input.Err() }
func (bi *bindIterator) Close() error              { return bi.input.Close() }

// distinctIterator suppresses duplicate solutions by canonical key.
type distinctIterator struct {
	input bindingIterator
	seen  map[string]bool
}

func (di *distinctIterator) Next() bool {
	for di.input.Next() {
		key := di.input.Binding().Key()
		if di.seen[key] {
			continue
		}
		di.seen[key] = true
		return true
	}
	return false
}

func (di *distinctIterator) Binding() *algebra.Binding { return di.input.Binding() }
func (di *distinctIterator) Err() error                { return di.input.Err() }
func (di *distinctIterator) Close() error              { return di.input.Close() }

type limitIterator struct {
	input     bindingIterator
	remaining int
}

func (li *limitIterator) Next() bool {
	if li.remaining <= 0 {
		return false
	}
	if !li.input.Next() {
		return false
	}
	li.remaining--
	return true
}

func (li *limitIterator) Binding() *algebra.Binding { return li.input.Binding() }
func (li *limitIterator) Err() error                { return li.input.Err() }
func (li *limitIterator) Close() error              { return li.input.Close() }

type offsetIterator struct {
	input bindingIterator
	skip  int
}

func (oi *offsetIterator) Next() bool {
	for oi.skip > 0 {
		if !oi.input.Next() {
			return false
		}
		oi.skip--
	}
	return oi.input.Next()
}

func (oi *offsetIterator) Binding() *algebra.Binding { return oi.input.Binding() }
func (oi *offsetIterator) Err() error                { return oi.input.Err() }
func (oi *offsetIterator) Close() error              { return oi.input.Close() }

// projectionIterator narrows each solution to the selected variables.
type projectionIterator struct {
	input   bindingIterator
	names   []string
	current *algebra.Binding
}

func (pi *projectionIterator) Next() bool {
	if !pi.input.Next() {
		return false
	}
	pi.current = pi.input.Binding().Project(pi.names)
	return true
}

func (pi *projectionIterator) Binding() *algebra.Binding { return pi.current }
func (pi *projectionIterator) Err() error                { return pi.input.Err() }
func (pi *projectionIterator) Close() error              { return pi.input.Close() }
