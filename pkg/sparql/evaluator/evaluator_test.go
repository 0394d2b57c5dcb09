package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/sparql/algebra"
)

func variable(name string) algebra.Expression {
	return &algebra.VariableExpression{Variable: algebra.NewVariable(name)}
}

func constant(term rdf.Term) algebra.Expression {
	return &algebra.ConstantExpression{Term: term}
}

func binary(left algebra.Expression, op algebra.Operator, right algebra.Expression) algebra.Expression {
	return &algebra.BinaryExpression{Left: left, Operator: op, Right: right}
}

func call(name string, args ...algebra.Expression) algebra.Expression {
	return &algebra.FunctionCallExpression{Function: name, Arguments: args}
}

func boolResult(t *testing.T, e *Evaluator, expr algebra.Expression, b *algebra.Binding) bool {
	t.Helper()
	v, err := e.EffectiveBool(expr, b)
	require.NoError(t, err)
	return v
}

func TestNumericComparisons(t *testing.T) {
	e := New()
	b := algebra.NewBinding()
	b.Set("age", rdf.NewIntegerLiteral(42))

	assert.True(t, boolResult(t, e, binary(variable("age"), algebra.OpGreaterThan, constant(rdf.NewIntegerLiteral(30))), b))
	assert.False(t, boolResult(t, e, binary(variable("age"), algebra.OpLessThan, constant(rdf.NewIntegerLiteral(30))), b))
	assert.True(t, boolResult(t, e, binary(variable("age"), algebra.OpEqual, constant(rdf.NewIntegerLiteral(42))), b))
	assert.True(t, boolResult(t, e, binary(variable("age"), algebra.OpLessThanOrEqual, constant(rdf.NewIntegerLiteral(42))), b))

	// Mixed numeric datatypes compare by value after promotion.
	assert.True(t, boolResult(t, e, binary(variable("age"), algebra.OpLessThan, constant(rdf.NewDoubleLiteral(42.5))), b))
	assert.True(t, boolResult(t, e, binary(
		variable("age"),
		algebra.OpEqual,
		constant(rdf.NewLiteralWithDatatype("42.0", rdf.XSDDecimal))), b))
}

func TestComparingNonNumericIsTypeError(t *testing.T) {
	e := New()
	b := algebra.NewBinding()
	b.Set("age", rdf.NewLiteral("forty-two"))

	_, err := e.Evaluate(binary(variable("age"), algebra.OpGreaterThan, constant(rdf.NewIntegerLiteral(30))), b)
	assert.ErrorIs(t, err, ErrTypeError)
}

func TestUnboundVariableIsError(t *testing.T) {
	e := New()
	_, err := e.Evaluate(variable("missing"), algebra.NewBinding())
	assert.ErrorIs(t, err, ErrUnbound)
}

func TestStringComparison(t *testing.T) {
	e := New()
	b := algebra.NewBinding()

	assert.True(t, boolResult(t, e, binary(constant(rdf.NewLiteral("abc")), algebra.OpLessThan, constant(rdf.NewLiteral("abd"))), b))
	assert.True(t, boolResult(t, e, binary(constant(rdf.NewLiteral("x")), algebra.OpEqual, constant(rdf.NewLiteral("x"))), b))
	assert.False(t, boolResult(t, e, binary(constant(rdf.NewLiteral("x")), algebra.OpEqual, constant(rdf.NewLiteralWithLanguage("x", "en"))), b))
}

func TestDateTimeComparison(t *testing.T) {
	e := New()
	b := algebra.NewBinding()

	earlier := rdf.NewLiteralWithDatatype("2020-01-01T00:00:00Z", rdf.XSDDateTime)
	later := rdf.NewLiteralWithDatatype("2024-06-01T00:00:00Z", rdf.XSDDateTime)
	assert.True(t, boolResult(t, e, binary(constant(earlier), algebra.OpLessThan, constant(later)), b))
}

func TestArithmetic(t *testing.T) {
	e := New()
	b := algebra.NewBinding()
	b.Set("n", rdf.NewIntegerLiteral(6))

	sum, err := e.Evaluate(binary(variable("n"), algebra.OpAdd, constant(rdf.NewIntegerLiteral(4))), b)
	require.NoError(t, err)
	assert.True(t, sum.Equals(rdf.NewIntegerLiteral(10)))

	product, err := e.Evaluate(binary(variable("n"), algebra.OpMultiply, constant(rdf.NewIntegerLiteral(7))), b)
	require.NoError(t, err)
	assert.True(t, product.Equals(rdf.NewIntegerLiteral(42)))

	// Integer division yields an exact decimal.
	quotient, err := e.Evaluate(binary(variable("n"), algebra.OpDivide, constant(rdf.NewIntegerLiteral(4))), b)
	require.NoError(t, err)
	assert.True(t, quotient.Equals(rdf.NewLiteralWithDatatype("1.5", rdf.XSDDecimal)))

	_, err = e.Evaluate(binary(variable("n"), algebra.OpDivide, constant(rdf.NewIntegerLiteral(0))), b)
	assert.ErrorIs(t, err, ErrTypeError)

	neg, err := e.Evaluate(&algebra.UnaryExpression{Operator: algebra.OpSubtract, Operand: variable("n")}, b)
	require.NoError(t, err)
	assert.True(t, neg.Equals(rdf.NewIntegerLiteral(-6)))
}

func TestLogicalOperatorsAbsorbErrors(t *testing.T) {
	e := New()
	b := algebra.NewBinding()

	errExpr := variable("missing")
	trueExpr := constant(rdf.NewBooleanLiteral(true))
	falseExpr := constant(rdf.NewBooleanLiteral(false))

	// true || error and error || true are both true.
	assert.True(t, boolResult(t, e, binary(trueExpr, algebra.OpOr, errExpr), b))
	assert.True(t, boolResult(t, e, binary(errExpr, algebra.OpOr, trueExpr), b))

	// false && error and error && false are both false.
	assert.False(t, boolResult(t, e, binary(falseExpr, algebra.OpAnd, errExpr), b))
	assert.False(t, boolResult(t, e, binary(errExpr, algebra.OpAnd, falseExpr), b))

	// The error surfaces when the other operand cannot decide.
	_, err := e.EffectiveBool(binary(falseExpr, algebra.OpOr, errExpr), b)
	assert.Error(t, err)
	_, err = e.EffectiveBool(binary(trueExpr, algebra.OpAnd, errExpr), b)
	assert.Error(t, err)
}

func TestNot(t *testing.T) {
	e := New()
	b := algebra.NewBinding()

	expr := &algebra.UnaryExpression{Operator: algebra.OpNot, Operand: constant(rdf.NewBooleanLiteral(false))}
	assert.True(t, boolResult(t, e, expr, b))
}

func TestEffectiveBooleanValue(t *testing.T) {
	e := New()
	b := algebra.NewBinding()

	assert.True(t, boolResult(t, e, constant(rdf.NewLiteral("non-empty")), b))
	assert.False(t, boolResult(t, e, constant(rdf.NewLiteral("")), b))
	assert.True(t, boolResult(t, e, constant(rdf.NewIntegerLiteral(1)), b))
	assert.False(t, boolResult(t, e, constant(rdf.NewIntegerLiteral(0)), b))
	assert.False(t, boolResult(t, e, constant(rdf.NewDoubleLiteral(0)), b))

	// IRIs have no effective boolean value.
	_, err := e.EffectiveBool(constant(rdf.NewNamedNode("http://example.org/x")), b)
	assert.ErrorIs(t, err, ErrTypeError)
}

func TestBuiltins(t *testing.T) {
	e := New()
	b := algebra.NewBinding()
	b.Set("iri", rdf.NewNamedNode("http://example.org/x"))
	b.Set("blank", rdf.NewBlankNode("b0"))
	b.Set("lit", rdf.NewLiteralWithLanguage("hello", "en"))
	b.Set("num", rdf.NewIntegerLiteral(5))

	v, err := e.Evaluate(call("BOUND", variable("iri")), b)
	require.NoError(t, err)
	assert.True(t, v.Equals(rdf.NewBooleanLiteral(true)))
	v, err = e.Evaluate(call("BOUND", variable("nope")), b)
	require.NoError(t, err)
	assert.True(t, v.Equals(rdf.NewBooleanLiteral(false)))

	v, err = e.Evaluate(call("STR", variable("iri")), b)
	require.NoError(t, err)
	assert.True(t, v.Equals(rdf.NewLiteral("http://example.org/x")))

	v, err = e.Evaluate(call("LANG", variable("lit")), b)
	require.NoError(t, err)
	assert.True(t, v.Equals(rdf.NewLiteral("en")))

	v, err = e.Evaluate(call("DATATYPE", variable("num")), b)
	require.NoError(t, err)
	assert.True(t, v.Equals(rdf.XSDInteger))

	v, err = e.Evaluate(call("ISIRI", variable("iri")), b)
	require.NoError(t, err)
	assert.True(t, v.Equals(rdf.NewBooleanLiteral(true)))

	v, err = e.Evaluate(call("ISBLANK", variable("blank")), b)
	require.NoError(t, err)
	assert.True(t, v.Equals(rdf.NewBooleanLiteral(true)))

	v, err = e.Evaluate(call("ISLITERAL", variable("lit")), b)
	require.NoError(t, err)
	assert.True(t, v.Equals(rdf.NewBooleanLiteral(true)))
	v, err = e.Evaluate(call("ISLITERAL", variable("iri")), b)
	require.NoError(t, err)
	assert.True(t, v.Equals(rdf.NewBooleanLiteral(false)))

	_, err = e.Evaluate(call("LANG", variable("iri")), b)
	assert.ErrorIs(t, err, ErrTypeError)
	_, err = e.Evaluate(call("NOSUCH", variable("iri")), b)
	assert.ErrorIs(t, err, ErrTypeError)
}
