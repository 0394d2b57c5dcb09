package planner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/sparql/algebra"
	"github.com/tetrad-db/tetrad/pkg/store"
)

var (
	exAlice = rdf.NewNamedNode("http://example.org/alice")
	exKnows = rdf.NewNamedNode("http://example.org/knows")
	exName  = rdf.NewNamedNode("http://example.org/name")
	exG     = rdf.NewNamedNode("http://example.org/g")
)

func mustPlanSelect(t *testing.T, q *algebra.SelectQuery) Plan {
	t.Helper()
	plan, err := New(nil).PlanSelect(q)
	require.NoError(t, err)
	return plan
}

// leftDeepScans walks a left-deep join chain and returns its scans in
// execution order, skipping interleaved filters.
func leftDeepScans(t *testing.T, plan Plan) []*ScanPlan {
	t.Helper()
	switch p := plan.(type) {
	case *ScanPlan:
		return []*ScanPlan{p}
	case *JoinPlan:
		return append(leftDeepScans(t, p.Left), leftDeepScans(t, p.Right)...)
	case *FilterPlan:
		return leftDeepScans(t, p.Input)
	default:
		t.Fatalf("unexpected plan node %T", plan)
		return nil
	}
}

func TestBGPOrderedBySelectivity(t *testing.T) {
	// The two-wildcard pattern is declared first but must run second.
	q := &algebra.SelectQuery{
		Where: &algebra.BGP{Patterns: []*algebra.QuadPattern{
			{Subject: algebra.Var("s"), Predicate: algebra.Term(exName), Object: algebra.Var("n")},
			{Subject: algebra.Term(exAlice), Predicate: algebra.Term(exKnows), Object: algebra.Var("s")},
		}},
	}
	scans := leftDeepScans(t, mustPlanSelect(t, q))
	require.Len(t, scans, 2)
	assert.False(t, scans[0].Pattern.Subject.IsVariable())
	assert.True(t, scans[1].Pattern.Subject.IsVariable())
}

func TestBGPOrderingPrefersConnectedPatterns(t *testing.T) {
	// Both remaining patterns have two variables, but only one shares
	// ?s with the seed scan, so it becomes cheaper once ?s is bound.
	q := &algebra.SelectQuery{
		Where: &algebra.BGP{Patterns: []*algebra.QuadPattern{
			{Subject: algebra.Var("x"), Predicate: algebra.Term(exName), Object: algebra.Var("y")},
			{Subject: algebra.Var("s"), Predicate: algebra.Term(exName), Object: algebra.Var("n")},
			{Subject: algebra.Term(exAlice), Predicate: algebra.Term(exKnows), Object: algebra.Var("s")},
		}},
	}
	scans := leftDeepScans(t, mustPlanSelect(t, q))
	require.Len(t, scans, 3)
	assert.False(t, scans[0].Pattern.Subject.IsVariable())
	require.True(t, scans[1].Pattern.Subject.IsVariable())
	assert.Equal(t, "s", scans[1].Pattern.Subject.Variable.Name)
	assert.Equal(t, "x", scans[2].Pattern.Subject.Variable.Name)
}

// countEstimator answers cost probes from a fixed table keyed by the
// pattern's bound predicate.
type countEstimator struct {
	counts map[string]int64
}

func (ce *countEstimator) EstimatePattern(p *store.Pattern, limit int64) (int64, error) {
	term, ok := p.Predicate.(rdf.Term)
	if !ok {
		return limit, nil
	}
	if n, ok := ce.counts[term.String()]; ok {
		return min(n, limit), nil
	}
	return limit, nil
}

func TestTieBrokenByEstimatedCardinality(t *testing.T) {
	// Both patterns bind the same positions, so only the cost probe can
	// separate them: name matches far fewer quads than knows.
	est := &countEstimator{counts: map[string]int64{
		exKnows.String(): 50,
		exName.String():  2,
	}}
	q := &algebra.SelectQuery{
		Where: &algebra.BGP{Patterns: []*algebra.QuadPattern{
			{Subject: algebra.Var("s"), Predicate: algebra.Term(exKnows), Object: algebra.Var("o")},
			{Subject: algebra.Var("s"), Predicate: algebra.Term(exName), Object: algebra.Var("n")},
		}},
	}
	plan, err := New(est).PlanSelect(q)
	require.NoError(t, err)

	scans := leftDeepScans(t, plan)
	require.Len(t, scans, 2)
	assert.True(t, scans[0].Pattern.Predicate.Term.Equals(exName))
	assert.True(t, scans[1].Pattern.Predicate.Term.Equals(exKnows))

	// Declared order still decides when no estimator is present.
	plan, err = New(nil).PlanSelect(q)
	require.NoError(t, err)
	scans = leftDeepScans(t, plan)
	require.Len(t, scans, 2)
	assert.True(t, scans[0].Pattern.Predicate.Term.Equals(exKnows))
}

func TestEstimatorProbesSnapshotCounts(t *testing.T) {
	s, err := store.Open("", store.WithInMemory())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	dg := rdf.NewDefaultGraph()
	var quads []*rdf.Quad
	for i := 0; i < 20; i++ {
		subject := rdf.NewNamedNode(fmt.Sprintf("http://example.org/s/%d", i))
		quads = append(quads, rdf.NewQuad(subject, exKnows, exAlice, dg))
	}
	quads = append(quads, rdf.NewQuad(exAlice, exName, rdf.NewLiteral("Alice"), dg))
	require.NoError(t, s.InsertQuads(quads))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	t.Cleanup(func() { snap.Close() })

	// The rare name pattern must seed the join even though the dense
	// knows pattern is declared first and binds the same positions.
	q := &algebra.SelectQuery{
		Where: &algebra.BGP{Patterns: []*algebra.QuadPattern{
			{Subject: algebra.Var("s"), Predicate: algebra.Term(exKnows), Object: algebra.Var("o")},
			{Subject: algebra.Var("s"), Predicate: algebra.Term(exName), Object: algebra.Var("n")},
		}},
	}
	plan, err := New(snap).PlanSelect(q)
	require.NoError(t, err)
	scans := leftDeepScans(t, plan)
	require.Len(t, scans, 2)
	assert.True(t, scans[0].Pattern.Predicate.Term.Equals(exName))
}

func TestFilterPlacedAtEarliestBindingPoint(t *testing.T) {
	// The filter only needs ?n, bound by the first scan, so it must sit
	// below the join with the second scan.
	q := &algebra.SelectQuery{
		Where: &algebra.Filter{
			Input: &algebra.BGP{Patterns: []*algebra.QuadPattern{
				{Subject: algebra.Term(exAlice), Predicate: algebra.Term(exName), Object: algebra.Var("n")},
				{Subject: algebra.Var("s"), Predicate: algebra.Var("p"), Object: algebra.Var("o")},
			}},
			Expr: &algebra.BinaryExpression{
				Left:     &algebra.VariableExpression{Variable: algebra.NewVariable("n")},
				Operator: algebra.OpNotEqual,
				Right:    &algebra.ConstantExpression{Term: rdf.NewLiteral("x")},
			},
		},
	}
	plan := mustPlanSelect(t, q)

	join, ok := plan.(*JoinPlan)
	require.True(t, ok, "got %T", plan)
	filter, ok := join.Left.(*FilterPlan)
	require.True(t, ok, "filter should be below the join, got %T", join.Left)
	_, ok = filter.Input.(*ScanPlan)
	assert.True(t, ok)
}

func TestConjunctiveFiltersSplit(t *testing.T) {
	// a && b splits so each conjunct is placed independently.
	q := &algebra.SelectQuery{
		Where: &algebra.Filter{
			Input: &algebra.BGP{Patterns: []*algebra.QuadPattern{
				{Subject: algebra.Term(exAlice), Predicate: algebra.Term(exName), Object: algebra.Var("n")},
			}},
			Expr: &algebra.BinaryExpression{
				Left: &algebra.BinaryExpression{
					Left:     &algebra.VariableExpression{Variable: algebra.NewVariable("n")},
					Operator: algebra.OpNotEqual,
					Right:    &algebra.ConstantExpression{Term: rdf.NewLiteral("x")},
				},
				Operator: algebra.OpAnd,
				Right: &algebra.BinaryExpression{
					Left:     &algebra.VariableExpression{Variable: algebra.NewVariable("n")},
					Operator: algebra.OpNotEqual,
					Right:    &algebra.ConstantExpression{Term: rdf.NewLiteral("y")},
				},
			},
		},
	}
	plan := mustPlanSelect(t, q)

	outer, ok := plan.(*FilterPlan)
	require.True(t, ok, "got %T", plan)
	inner, ok := outer.Input.(*FilterPlan)
	require.True(t, ok, "got %T", outer.Input)
	_, ok = inner.Input.(*ScanPlan)
	assert.True(t, ok)
}

func TestGraphNamePushedIntoPatterns(t *testing.T) {
	q := &algebra.SelectQuery{
		Where: &algebra.Graph{
			Name: algebra.Term(exG),
			Input: &algebra.BGP{Patterns: []*algebra.QuadPattern{
				{Subject: algebra.Var("s"), Predicate: algebra.Term(exKnows), Object: algebra.Var("o")},
			}},
		},
	}
	plan := mustPlanSelect(t, q)

	scan, ok := plan.(*ScanPlan)
	require.True(t, ok, "got %T", plan)
	require.NotNil(t, scan.Pattern.Graph.Term)
	assert.True(t, scan.Pattern.Graph.Term.Equals(exG))
}

func TestGraphVariablePushedIntoPatterns(t *testing.T) {
	q := &algebra.SelectQuery{
		Where: &algebra.Graph{
			Name: algebra.Var("g"),
			Input: &algebra.BGP{Patterns: []*algebra.QuadPattern{
				{Subject: algebra.Var("s"), Predicate: algebra.Term(exKnows), Object: algebra.Var("o")},
			}},
		},
	}
	plan := mustPlanSelect(t, q)

	scan, ok := plan.(*ScanPlan)
	require.True(t, ok, "got %T", plan)
	require.True(t, scan.Pattern.Graph.IsVariable())
	assert.Equal(t, "g", scan.Pattern.Graph.Variable.Name)
}

func TestModifierStackOrder(t *testing.T) {
	limit, offset := 10, 5
	q := &algebra.SelectQuery{
		Variables: []*algebra.Variable{algebra.NewVariable("s")},
		Where: &algebra.BGP{Patterns: []*algebra.QuadPattern{
			{Subject: algebra.Var("s"), Predicate: algebra.Term(exKnows), Object: algebra.Var("o")},
		}},
		Distinct: true,
		Limit:    &limit,
		Offset:   &offset,
	}
	plan := mustPlanSelect(t, q)

	lp, ok := plan.(*LimitPlan)
	require.True(t, ok, "got %T", plan)
	assert.Equal(t, 10, lp.N)
	op, ok := lp.Input.(*OffsetPlan)
	require.True(t, ok, "got %T", lp.Input)
	assert.Equal(t, 5, op.N)
	dp, ok := op.Input.(*DistinctPlan)
	require.True(t, ok, "got %T", op.Input)
	pp, ok := dp.Input.(*ProjectionPlan)
	require.True(t, ok, "got %T", dp.Input)
	_, ok = pp.Input.(*ScanPlan)
	assert.True(t, ok)
}

func TestOptionalAndUnionStructure(t *testing.T) {
	left := &algebra.BGP{Patterns: []*algebra.QuadPattern{
		{Subject: algebra.Var("s"), Predicate: algebra.Term(exKnows), Object: algebra.Var("o")},
	}}
	right := &algebra.BGP{Patterns: []*algebra.QuadPattern{
		{Subject: algebra.Var("s"), Predicate: algebra.Term(exName), Object: algebra.Var("n")},
	}}

	plan := mustPlanSelect(t, &algebra.SelectQuery{Where: &algebra.Optional{Left: left, Right: right}})
	_, ok := plan.(*LeftJoinPlan)
	assert.True(t, ok, "got %T", plan)

	plan = mustPlanSelect(t, &algebra.SelectQuery{Where: &algebra.Union{Left: left, Right: right}})
	_, ok = plan.(*UnionPlan)
	assert.True(t, ok, "got %T", plan)
}

func TestPlanAskCapsAtOne(t *testing.T) {
	plan, err := New(nil).PlanAsk(&algebra.AskQuery{
		Where: &algebra.BGP{Patterns: []*algebra.QuadPattern{
			{Subject: algebra.Var("s"), Predicate: algebra.Var("p"), Object: algebra.Var("o")},
		}},
	})
	require.NoError(t, err)

	lp, ok := plan.(*LimitPlan)
	require.True(t, ok, "got %T", plan)
	assert.Equal(t, 1, lp.N)
}

func TestEmptyPattern(t *testing.T) {
	_, err := New(nil).PlanSelect(&algebra.SelectQuery{Where: &algebra.BGP{}})
	assert.ErrorIs(t, err, ErrEmptyPattern)
}

func TestPlanVariables(t *testing.T) {
	q := &algebra.SelectQuery{
		Where: &algebra.BGP{Patterns: []*algebra.QuadPattern{
			{Subject: algebra.Var("s"), Predicate: algebra.Term(exKnows), Object: algebra.Var("o")},
			{Subject: algebra.Var("o"), Predicate: algebra.Term(exName), Object: algebra.Var("n")},
		}},
	}
	vars := PlanVariables(mustPlanSelect(t, q))
	assert.ElementsMatch(t, []string{"s", "o", "n"}, vars)
}
