// Package evaluator evaluates filter expressions against bindings with
// SPARQL's error-as-failure semantics: an evaluation error is reported
// to the caller, which drops the individual candidate solution rather
// than failing the query.
package evaluator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/sparql/algebra"
)

var (
	// ErrUnbound is returned when an expression references a variable
	// the candidate binding does not bind.
	ErrUnbound = errors.New("unbound variable in expression")

	// ErrTypeError is returned for operands an operator cannot accept,
	// such as comparing a number with a non-numeric literal.
	ErrTypeError = errors.New("expression type error")
)

// Evaluator evaluates expressions against bindings
type Evaluator struct{}

// New creates an expression evaluator
func New() *Evaluator {
	return &Evaluator{}
}

// Evaluate computes an expression over a binding, returning the result
// term or an error when the expression is undecidable for it.
func (e *Evaluator) Evaluate(expr algebra.Expression, binding *algebra.Binding) (rdf.Term, error) {
	switch ex := expr.(type) {
	case *algebra.BinaryExpression:
		return e.evaluateBinary(ex, binding)
	case *algebra.UnaryExpression:
		return e.evaluateUnary(ex, binding)
	case *algebra.VariableExpression:
		value, ok := binding.Get(ex.Variable.Name)
		if !ok {
			return nil, fmt.Errorf("%w: ?%s", ErrUnbound, ex.Variable.Name)
		}
		return value, nil
	case *algebra.ConstantExpression:
		return ex.Term, nil
	case *algebra.FunctionCallExpression:
		return e.evaluateFunction(ex, binding)
	case nil:
		return nil, fmt.Errorf("%w: nil expression", ErrTypeError)
	default:
		return nil, fmt.Errorf("%w: unsupported expression type %T", ErrTypeError, expr)
	}
}

// EffectiveBool computes an expression's effective boolean value.
func (e *Evaluator) EffectiveBool(expr algebra.Expression, binding *algebra.Binding) (bool, error) {
	result, err := e.Evaluate(expr, binding)
	if err != nil {
		return false, err
	}
	return effectiveBooleanValue(result)
}

func (e *Evaluator) evaluateBinary(expr *algebra.BinaryExpression, binding *algebra.Binding) (rdf.Term, error) {
	switch expr.Operator {
	case algebra.OpAnd:
		return e.evaluateAnd(expr, binding)
	case algebra.OpOr:
		return e.evaluateOr(expr, binding)
	}

	left, err := e.Evaluate(expr.Left, binding)
	if err != nil {
		return nil, err
	}
	right, err := e.Evaluate(expr.Right, binding)
	if err != nil {
		return nil, err
	}

	switch expr.Operator {
	case algebra.OpEqual:
		return rdf.NewBooleanLiteral(termsEqual(left, right)), nil
	case algebra.OpNotEqual:
		return rdf.NewBooleanLiteral(!termsEqual(left, right)), nil
	case algebra.OpLessThan, algebra.OpLessThanOrEqual, algebra.OpGreaterThan, algebra.OpGreaterThanOrEqual:
		cmp, err := compareTerms(left, right)
		if err != nil {
			return nil, err
		}
		switch expr.Operator {
		case algebra.OpLessThan:
			return rdf.NewBooleanLiteral(cmp < 0), nil
		case algebra.OpLessThanOrEqual:
			return rdf.NewBooleanLiteral(cmp <= 0), nil
		case algebra.OpGreaterThan:
			return rdf.NewBooleanLiteral(cmp > 0), nil
		default:
			return rdf.NewBooleanLiteral(cmp >= 0), nil
		}
	case algebra.OpAdd, algebra.OpSubtract, algebra.OpMultiply, algebra.OpDivide:
		return arithmetic(expr.Operator, left, right)
	default:
		return nil, fmt.Errorf("%w: unsupported binary operator %d", ErrTypeError, expr.Operator)
	}
}

// evaluateAnd implements SPARQL's error-tolerant conjunction: a false
// operand decides the result even if the other errors.
func (e *Evaluator) evaluateAnd(expr *algebra.BinaryExpression, binding *algebra.Binding) (rdf.Term, error) {
	left, leftErr := e.EffectiveBool(expr.Left, binding)
	if leftErr == nil && !left {
		return rdf.NewBooleanLiteral(false), nil
	}
	right, rightErr := e.EffectiveBool(expr.Right, binding)
	if rightErr == nil && !right {
		return rdf.NewBooleanLiteral(false), nil
	}
	if leftErr != nil {
		return nil, leftErr
	}
	if rightErr != nil {
		return nil, rightErr
	}
	return rdf.NewBooleanLiteral(true), nil
}

// evaluateOr implements SPARQL's error-tolerant disjunction: a true
// operand decides the result even if the other errors.
func (e *Evaluator) evaluateOr(expr *algebra.BinaryExpression, binding *algebra.Binding) (rdf.Term, error) {
	left, leftErr := e.EffectiveBool(expr.Left, binding)
	if leftErr == nil && left {
		return rdf.NewBooleanLiteral(true), nil
	}
	right, rightErr := e.EffectiveBool(expr.Right, binding)
	if rightErr == nil && right {
		return rdf.NewBooleanLiteral(true), nil
	}
	if leftErr != nil {
		return nil, leftErr
	}
	if rightErr != nil {
		return nil, rightErr
	}
	return rdf.NewBooleanLiteral(false), nil
}

func (e *Evaluator) evaluateUnary(expr *algebra.UnaryExpression, binding *algebra.Binding) (rdf.Term, error) {
	switch expr.Operator {
	case algebra.OpNot:
		v, err := e.EffectiveBool(expr.Operand, binding)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(!v), nil
	case algebra.OpSubtract:
		operand, err := e.Evaluate(expr.Operand, binding)
		if err != nil {
			return nil, err
		}
		n, err := numericValue(operand)
		if err != nil {
			return nil, err
		}
		return n.negate().literal(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported unary operator %d", ErrTypeError, expr.Operator)
	}
}

func (e *Evaluator) evaluateFunction(expr *algebra.FunctionCallExpression, binding *algebra.Binding) (rdf.Term, error) {
	name := strings.ToUpper(expr.Function)

	// BOUND is special: an unbound argument is its answer, not an error.
	if name == "BOUND" {
		if len(expr.Arguments) != 1 {
			return nil, fmt.Errorf("%w: BOUND takes one argument", ErrTypeError)
		}
		v, ok := expr.Arguments[0].(*algebra.VariableExpression)
		if !ok {
			return nil, fmt.Errorf("%w: BOUND requires a variable argument", ErrTypeError)
		}
		return rdf.NewBooleanLiteral(binding.Bound(v.Variable.Name)), nil
	}

	if len(expr.Arguments) != 1 {
		return nil, fmt.Errorf("%w: %s takes one argument", ErrTypeError, name)
	}
	arg, err := e.Evaluate(expr.Arguments[0], binding)
	if err != nil {
		return nil, err
	}

	switch name {
	case "STR":
		switch t := arg.(type) {
		case *rdf.NamedNode:
			return rdf.NewLiteral(t.IRI), nil
		case *rdf.Literal:
			return rdf.NewLiteral(t.Value), nil
		default:
			return nil, fmt.Errorf("%w: STR of %s", ErrTypeError, arg)
		}
	case "LANG":
		lit, ok := arg.(*rdf.Literal)
		if !ok {
			return nil, fmt.Errorf("%w: LANG of non-literal", ErrTypeError)
		}
		return rdf.NewLiteral(lit.Language), nil
	case "DATATYPE":
		lit, ok := arg.(*rdf.Literal)
		if !ok {
			return nil, fmt.Errorf("%w: DATATYPE of non-literal", ErrTypeError)
		}
		switch {
		case lit.Language != "":
			return rdf.NewNamedNode("http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"), nil
		case lit.Datatype != nil:
			return lit.Datatype, nil
		default:
			return rdf.XSDString, nil
		}
	case "ISIRI", "ISURI":
		_, ok := arg.(*rdf.NamedNode)
		return rdf.NewBooleanLiteral(ok), nil
	case "ISBLANK":
		_, ok := arg.(*rdf.BlankNode)
		return rdf.NewBooleanLiteral(ok), nil
	case "ISLITERAL":
		_, ok := arg.(*rdf.Literal)
		return rdf.NewBooleanLiteral(ok), nil
	default:
		return nil, fmt.Errorf("%w: unknown function %s", ErrTypeError, expr.Function)
	}
}

// effectiveBooleanValue implements SPARQL's EBV rules for literals.
func effectiveBooleanValue(term rdf.Term) (bool, error) {
	lit, ok := term.(*rdf.Literal)
	if !ok {
		return false, fmt.Errorf("%w: no effective boolean value for %s", ErrTypeError, term)
	}
	if lit.Datatype != nil {
		switch lit.Datatype.IRI {
		case rdf.XSDBoolean.IRI:
			return lit.Value == "true" || lit.Value == "1", nil
		case rdf.XSDInteger.IRI, rdf.XSDDecimal.IRI, rdf.XSDDouble.IRI:
			n, err := numericValue(lit)
			if err != nil {
				return false, err
			}
			return !n.isZero(), nil
		}
	}
	if lit.Language == "" && (lit.Datatype == nil || lit.Datatype.IRI == rdf.XSDString.IRI) {
		return lit.Value != "", nil
	}
	return false, fmt.Errorf("%w: no effective boolean value for %s", ErrTypeError, term)
}
