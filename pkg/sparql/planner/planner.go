// Package planner turns query algebra into executable plans. Planning
// is greedy: basic graph patterns are reordered so that the most
// selective scans run first, filters are pushed to the earliest point
// where their variables are bound, and GRAPH scoping is pushed all the
// way into the individual quad patterns so execution never needs a
// separate graph wrapper.
package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/sparql/algebra"
	"github.com/tetrad-db/tetrad/pkg/store"
)

// ErrEmptyPattern is returned when a query has nothing to scan.
var ErrEmptyPattern = errors.New("query has no graph pattern")

// estimateLimit caps cardinality probes: a pattern matching this many
// quads is expensive enough that its exact count no longer matters.
const estimateLimit = 64

// Estimator probes how many quads a pattern matches, stopping at limit.
// *store.Snapshot satisfies it.
type Estimator interface {
	EstimatePattern(p *store.Pattern, limit int64) (int64, error)
}

// Plan is a node of an executable query plan
type Plan interface {
	plan()
	String() string
}

// ScanPlan matches one quad pattern against an index
type ScanPlan struct {
	Pattern *algebra.QuadPattern
}

func (*ScanPlan) plan() {}

func (p *ScanPlan) String() string {
	return fmt.Sprintf("Scan(%s)", formatPattern(p.Pattern))
}

// JoinPlan nests Right inside Left: for every Left solution, Right runs
// with Left's bindings substituted.
type JoinPlan struct {
	Left  Plan
	Right Plan
}

func (*JoinPlan) plan() {}

func (p *JoinPlan) String() string {
	return fmt.Sprintf("Join(%s, %s)", p.Left, p.Right)
}

// LeftJoinPlan is the OPTIONAL operator: Left solutions without a Right
// match survive once, with Right's variables unbound.
type LeftJoinPlan struct {
	Left  Plan
	Right Plan
}

func (*LeftJoinPlan) plan() {}

func (p *LeftJoinPlan) String() string {
	return fmt.Sprintf("LeftJoin(%s, %s)", p.Left, p.Right)
}

// UnionPlan concatenates both branches' solutions in declared order
type UnionPlan struct {
	Left  Plan
	Right Plan
}

func (*UnionPlan) plan() {}

func (p *UnionPlan) String() string {
	return fmt.Sprintf("Union(%s, %s)", p.Left, p.Right)
}

// FilterPlan keeps solutions whose expression evaluates to true
type FilterPlan struct {
	Input Plan
	Expr  algebra.Expression
}

func (*FilterPlan) plan() {}

func (p *FilterPlan) String() string {
	return fmt.Sprintf("Filter(%s)", p.Input)
}

// BindPlan extends solutions with a computed variable
type BindPlan struct {
	Input Plan
	Var   *algebra.Variable
	Expr  algebra.Expression
}

func (*BindPlan) plan() {}

func (p *BindPlan) String() string {
	return fmt.Sprintf("Bind(%s, %s)", p.Var, p.Input)
}

// DistinctPlan removes duplicate solutions
type DistinctPlan struct {
	Input Plan
}

func (*DistinctPlan) plan() {}

func (p *DistinctPlan) String() string {
	return fmt.Sprintf("Distinct(%s)", p.Input)
}

// LimitPlan caps the number of solutions
type LimitPlan struct {
	Input Plan
	N     int
}

func (*LimitPlan) plan() {}

func (p *LimitPlan) String() string {
	return fmt.Sprintf("Limit(%d, %s)", p.N, p.Input)
}

// OffsetPlan skips leading solutions
type OffsetPlan struct {
	Input Plan
	N     int
}

func (*OffsetPlan) plan() {}

func (p *OffsetPlan) String() string {
	return fmt.Sprintf("Offset(%d, %s)", p.N, p.Input)
}

// ProjectionPlan narrows solutions to the selected variables
type ProjectionPlan struct {
	Input     Plan
	Variables []*algebra.Variable
}

func (*ProjectionPlan) plan() {}

func (p *ProjectionPlan) String() string {
	return fmt.Sprintf("Project(%s)", p.Input)
}

// Planner builds executable plans from query algebra
type Planner struct {
	est Estimator
}

// New creates a planner. The estimator feeds scan-cost tie-breaks in
// basic graph pattern ordering; a nil estimator falls back to static
// ordering.
func New(est Estimator) *Planner {
	return &Planner{est: est}
}

// PlanSelect plans a SELECT query. The modifier stack is applied
// outside the pattern plan in SPARQL order: projection, then DISTINCT,
// then OFFSET, then LIMIT.
func (pl *Planner) PlanSelect(q *algebra.SelectQuery) (Plan, error) {
	plan, err := pl.planPattern(q.Where, nil)
	if err != nil {
		return nil, err
	}
	if len(q.Variables) > 0 {
		plan = &ProjectionPlan{Input: plan, Variables: q.Variables}
	}
	if q.Distinct {
		plan = &DistinctPlan{Input: plan}
	}
	if q.Offset != nil && *q.Offset > 0 {
		plan = &OffsetPlan{Input: plan, N: *q.Offset}
	}
	if q.Limit != nil {
		plan = &LimitPlan{Input: plan, N: *q.Limit}
	}
	return plan, nil
}

// PlanAsk plans an ASK query. Existence needs one solution, so the
// pattern plan is capped at a single result.
func (pl *Planner) PlanAsk(q *algebra.AskQuery) (Plan, error) {
	plan, err := pl.planPattern(q.Where, nil)
	if err != nil {
		return nil, err
	}
	return &LimitPlan{Input: plan, N: 1}, nil
}

// planPattern plans one pattern node. graph is the enclosing GRAPH
// scope to push into quad patterns, nil outside any GRAPH clause.
func (pl *Planner) planPattern(pattern algebra.GraphPattern, graph *algebra.TermOrVariable) (Plan, error) {
	switch p := pattern.(type) {
	case *algebra.BGP:
		return pl.planBGP(p.Patterns, nil, graph)
	case *algebra.Join:
		left, err := pl.planPattern(p.Left, graph)
		if err != nil {
			return nil, err
		}
		right, err := pl.planPattern(p.Right, graph)
		if err != nil {
			return nil, err
		}
		return &JoinPlan{Left: left, Right: right}, nil
	case *algebra.Optional:
		left, err := pl.planPattern(p.Left, graph)
		if err != nil {
			return nil, err
		}
		right, err := pl.planPattern(p.Right, graph)
		if err != nil {
			return nil, err
		}
		return &LeftJoinPlan{Left: left, Right: right}, nil
	case *algebra.Union:
		left, err := pl.planPattern(p.Left, graph)
		if err != nil {
			return nil, err
		}
		right, err := pl.planPattern(p.Right, graph)
		if err != nil {
			return nil, err
		}
		return &UnionPlan{Left: left, Right: right}, nil
	case *algebra.Filter:
		return pl.planFilter(p, graph)
	case *algebra.Graph:
		name := p.Name
		return pl.planPattern(p.Input, &name)
	case *algebra.Bind:
		input, err := pl.planPattern(p.Input, graph)
		if err != nil {
			return nil, err
		}
		return &BindPlan{Input: input, Var: p.Var, Expr: p.Expr}, nil
	case nil:
		return nil, ErrEmptyPattern
	default:
		return nil, fmt.Errorf("unsupported graph pattern %T", pattern)
	}
}

// planFilter pushes filters over a plain BGP into the join chain. Any
// other input shape keeps the filter on top.
func (pl *Planner) planFilter(f *algebra.Filter, graph *algebra.TermOrVariable) (Plan, error) {
	// Unwrap stacked filters so all conjuncts are placed together.
	input := f.Input
	filters := splitConjuncts(f.Expr)
	for {
		inner, ok := input.(*algebra.Filter)
		if !ok {
			break
		}
		filters = append(filters, splitConjuncts(inner.Expr)...)
		input = inner.Input
	}

	if bgp, ok := input.(*algebra.BGP); ok {
		return pl.planBGP(bgp.Patterns, filters, graph)
	}

	plan, err := pl.planPattern(input, graph)
	if err != nil {
		return nil, err
	}
	for _, expr := range filters {
		plan = &FilterPlan{Input: plan, Expr: expr}
	}
	return plan, nil
}

// planBGP orders the patterns greedily by selectivity, builds a
// left-deep join chain of scans, and attaches each filter right after
// the first scan that binds all of its variables.
func (pl *Planner) planBGP(patterns []*algebra.QuadPattern, filters []algebra.Expression, graph *algebra.TermOrVariable) (Plan, error) {
	if len(patterns) == 0 {
		return nil, ErrEmptyPattern
	}

	scoped := make([]*algebra.QuadPattern, len(patterns))
	for i, p := range patterns {
		scoped[i] = scopePattern(p, graph)
	}
	ordered := pl.orderPatterns(scoped)

	bound := make(map[string]bool)
	pending := make([]algebra.Expression, len(filters))
	copy(pending, filters)

	var plan Plan
	for _, p := range ordered {
		scan := Plan(&ScanPlan{Pattern: p})
		if plan == nil {
			plan = scan
		} else {
			plan = &JoinPlan{Left: plan, Right: scan}
		}
		for _, name := range p.Variables() {
			bound[name] = true
		}
		plan, pending = attachReadyFilters(plan, pending, bound)
	}

	// Filters over variables the BGP never binds stay on top; they
	// reject every candidate via an unbound-variable error.
	for _, expr := range pending {
		plan = &FilterPlan{Input: plan, Expr: expr}
	}
	return plan, nil
}

// orderPatterns sorts a BGP greedily: at each step, pick the pattern
// with the fewest positions still unbound given what earlier scans
// bind, breaking ties by estimated scan cardinality, then static
// wildcard count, then declared order.
func (pl *Planner) orderPatterns(patterns []*algebra.QuadPattern) []*algebra.QuadPattern {
	remaining := make([]*algebra.QuadPattern, len(patterns))
	copy(remaining, patterns)
	declared := make(map[*algebra.QuadPattern]int, len(patterns))
	for i, p := range patterns {
		declared[p] = i
	}
	cost := pl.estimateCosts(patterns)

	bound := make(map[string]bool)
	ordered := make([]*algebra.QuadPattern, 0, len(patterns))
	for len(remaining) > 0 {
		sort.SliceStable(remaining, func(i, j int) bool {
			a, b := remaining[i], remaining[j]
			ca, cb := unboundCount(a, bound), unboundCount(b, bound)
			if ca != cb {
				return ca < cb
			}
			if cost != nil && cost[a] != cost[b] {
				return cost[a] < cost[b]
			}
			if wa, wb := a.WildcardCount(), b.WildcardCount(); wa != wb {
				return wa < wb
			}
			return declared[a] < declared[b]
		})
		next := remaining[0]
		remaining = remaining[1:]
		ordered = append(ordered, next)
		for _, name := range next.Variables() {
			bound[name] = true
		}
	}
	return ordered
}

// estimateCosts probes the estimator once per pattern. A failed probe
// pessimistically charges the pattern the full limit.
func (pl *Planner) estimateCosts(patterns []*algebra.QuadPattern) map[*algebra.QuadPattern]int64 {
	if pl.est == nil {
		return nil
	}
	cost := make(map[*algebra.QuadPattern]int64, len(patterns))
	for _, p := range patterns {
		n, err := pl.est.EstimatePattern(scanPattern(p), estimateLimit)
		if err != nil {
			n = estimateLimit
		}
		cost[p] = n
	}
	return cost
}

// scanPattern lowers an algebra pattern to a store pattern for a cost
// probe: variables become wildcards, an unscoped graph position pins
// the default graph.
func scanPattern(p *algebra.QuadPattern) *store.Pattern {
	sp := &store.Pattern{}
	slots := []struct {
		tv  algebra.TermOrVariable
		dst *any
	}{
		{p.Subject, &sp.Subject},
		{p.Predicate, &sp.Predicate},
		{p.Object, &sp.Object},
		{p.Graph, &sp.Graph},
	}
	for i, slot := range slots {
		switch {
		case slot.tv.IsVariable():
			*slot.dst = store.NewVariable(slot.tv.Variable.Name)
		case slot.tv.Term != nil:
			*slot.dst = slot.tv.Term
		case i == 3:
			sp.Graph = rdf.NewDefaultGraph()
		}
	}
	return sp
}

func unboundCount(p *algebra.QuadPattern, bound map[string]bool) int {
	n := 0
	for _, tv := range []algebra.TermOrVariable{p.Subject, p.Predicate, p.Object, p.Graph} {
		if tv.IsVariable() && !bound[tv.Variable.Name] {
			n++
		}
	}
	return n
}

// attachReadyFilters wraps the plan in every pending filter whose
// variables are all bound, returning the remaining filters.
func attachReadyFilters(plan Plan, pending []algebra.Expression, bound map[string]bool) (Plan, []algebra.Expression) {
	var rest []algebra.Expression
	for _, expr := range pending {
		ready := true
		for _, name := range algebra.ExpressionVariables(expr) {
			if !bound[name] {
				ready = false
				break
			}
		}
		if ready {
			plan = &FilterPlan{Input: plan, Expr: expr}
		} else {
			rest = append(rest, expr)
		}
	}
	return plan, rest
}

// scopePattern applies an enclosing GRAPH name to a quad pattern. A
// pattern that already carries its own graph term keeps it.
func scopePattern(p *algebra.QuadPattern, graph *algebra.TermOrVariable) *algebra.QuadPattern {
	if graph == nil || p.Graph.Term != nil || p.Graph.IsVariable() {
		return p
	}
	scoped := *p
	scoped.Graph = *graph
	return &scoped
}

// splitConjuncts breaks a top-level conjunction into its operands so
// each can be placed independently.
func splitConjuncts(expr algebra.Expression) []algebra.Expression {
	if bin, ok := expr.(*algebra.BinaryExpression); ok && bin.Operator == algebra.OpAnd {
		return append(splitConjuncts(bin.Left), splitConjuncts(bin.Right)...)
	}
	return []algebra.Expression{expr}
}

// PlanVariables returns the distinct variable names a plan can bind, in
// first-appearance order.
func PlanVariables(plan Plan) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var walk func(Plan)
	walk = func(p Plan) {
		switch n := p.(type) {
		case *ScanPlan:
			for _, name := range n.Pattern.Variables() {
				add(name)
			}
		case *JoinPlan:
			walk(n.Left)
			walk(n.Right)
		case *LeftJoinPlan:
			walk(n.Left)
			walk(n.Right)
		case *UnionPlan:
			walk(n.Left)
			walk(n.Right)
		case *FilterPlan:
			walk(n.Input)
		case *BindPlan:
			walk(n.Input)
			add(n.Var.Name)
		case *DistinctPlan:
			walk(n.Input)
		case *LimitPlan:
			walk(n.Input)
		case *OffsetPlan:
			walk(n.Input)
		case *ProjectionPlan:
			for _, v := range n.Variables {
				add(v.Name)
			}
		}
	}
	walk(plan)
	return names
}

func formatPattern(p *algebra.QuadPattern) string {
	return fmt.Sprintf("%s %s %s %s",
		formatTermOrVar(p.Subject), formatTermOrVar(p.Predicate),
		formatTermOrVar(p.Object), formatTermOrVar(p.Graph))
}

func formatTermOrVar(tv algebra.TermOrVariable) string {
	switch {
	case tv.IsVariable():
		return tv.Variable.String()
	case tv.Term != nil:
		return tv.Term.String()
	default:
		return "DEFAULT"
	}
}
