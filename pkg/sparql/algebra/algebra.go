// Package algebra defines the parsed abstract query form the engine
// accepts: query shapes, graph patterns, and filter expressions. A
// server shell owning the query-text surface parses into these types
// and hands them to the planner.
package algebra

import (
	"github.com/tetrad-db/tetrad/pkg/rdf"
)

// Variable represents a query variable
type Variable struct {
	Name string
}

func NewVariable(name string) *Variable {
	return &Variable{Name: name}
}

func (v *Variable) String() string {
	return "?" + v.Name
}

// TermOrVariable holds either a concrete RDF term or a variable
type TermOrVariable struct {
	Term     rdf.Term
	Variable *Variable
}

// Term wraps a concrete term
func Term(t rdf.Term) TermOrVariable {
	return TermOrVariable{Term: t}
}

// Var wraps a variable by name
func Var(name string) TermOrVariable {
	return TermOrVariable{Variable: NewVariable(name)}
}

// IsVariable returns true if this holds a variable
func (t *TermOrVariable) IsVariable() bool {
	return t.Variable != nil
}

// QuadPattern is one pattern of a basic graph pattern. A zero Graph
// (neither term nor variable) scopes the pattern to the default graph.
type QuadPattern struct {
	Subject   TermOrVariable
	Predicate TermOrVariable
	Object    TermOrVariable
	Graph     TermOrVariable
}

// Variables returns the distinct variable names referenced by the
// pattern, in position order.
func (p *QuadPattern) Variables() []string {
	var names []string
	seen := make(map[string]bool)
	for _, tv := range []TermOrVariable{p.Subject, p.Predicate, p.Object, p.Graph} {
		if tv.IsVariable() && !seen[tv.Variable.Name] {
			seen[tv.Variable.Name] = true
			names = append(names, tv.Variable.Name)
		}
	}
	return names
}

// WildcardCount returns the number of unbound positions, counting an
// unscoped graph position as bound (it pins the default graph).
func (p *QuadPattern) WildcardCount() int {
	n := 0
	for _, tv := range []TermOrVariable{p.Subject, p.Predicate, p.Object, p.Graph} {
		if tv.IsVariable() {
			n++
		}
	}
	return n
}

// GraphPattern is a node of the query pattern tree
type GraphPattern interface {
	graphPattern()
}

// BGP is a basic graph pattern: a set of quad patterns implicitly
// conjoined by shared variables.
type BGP struct {
	Patterns []*QuadPattern
}

func (*BGP) graphPattern() {}

// Join conjoins two patterns
type Join struct {
	Left  GraphPattern
	Right GraphPattern
}

func (*Join) graphPattern() {}

// Optional is a left-outer join: Left solutions survive even when Right
// has no compatible match, with Right's variables left unbound.
type Optional struct {
	Left  GraphPattern
	Right GraphPattern
}

func (*Optional) graphPattern() {}

// Union concatenates the solutions of both branches in declared order
type Union struct {
	Left  GraphPattern
	Right GraphPattern
}

func (*Union) graphPattern() {}

// Filter gates solutions of Input through a boolean expression.
// Expression errors drop the individual candidate, never the query.
type Filter struct {
	Input GraphPattern
	Expr  Expression
}

func (*Filter) graphPattern() {}

// Graph scopes Input to a named graph, concrete or variable
type Graph struct {
	Name  TermOrVariable
	Input GraphPattern
}

func (*Graph) graphPattern() {}

// Bind extends each solution of Input with Var bound to the value of
// Expr; on expression error the variable is left unbound.
type Bind struct {
	Input GraphPattern
	Var   *Variable
	Expr  Expression
}

func (*Bind) graphPattern() {}

// SelectQuery yields variable bindings
type SelectQuery struct {
	Variables []*Variable // nil selects all variables in the pattern
	Where     GraphPattern
	Distinct  bool
	Limit     *int
	Offset    *int
}

// AskQuery yields a boolean: whether the pattern has any solution
type AskQuery struct {
	Where GraphPattern
}

// Expression is a filter/bind expression tree
type Expression interface {
	expressionNode()
}

// BinaryExpression applies Operator to two operands
type BinaryExpression struct {
	Left     Expression
	Operator Operator
	Right    Expression
}

func (*BinaryExpression) expressionNode() {}

// UnaryExpression applies Operator to one operand
type UnaryExpression struct {
	Operator Operator
	Operand  Expression
}

func (*UnaryExpression) expressionNode() {}

// VariableExpression references a bound variable
type VariableExpression struct {
	Variable *Variable
}

func (*VariableExpression) expressionNode() {}

// ConstantExpression holds a constant term
type ConstantExpression struct {
	Term rdf.Term
}

func (*ConstantExpression) expressionNode() {}

// FunctionCallExpression invokes a builtin by name (BOUND, STR, LANG,
// DATATYPE, ISIRI, ISBLANK, ISLITERAL)
type FunctionCallExpression struct {
	Function  string
	Arguments []Expression
}

func (*FunctionCallExpression) expressionNode() {}

// Operator enumerates expression operators
type Operator int

const (
	// Logical operators
	OpAnd Operator = iota
	OpOr
	OpNot

	// Comparison operators
	OpEqual
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual

	// Arithmetic operators
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
)

// ExpressionVariables returns the distinct variable names an expression
// references; the planner uses it to place filters as early as their
// variables allow.
func ExpressionVariables(expr Expression) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(Expression)
	walk = func(e Expression) {
		switch ex := e.(type) {
		case *BinaryExpression:
			walk(ex.Left)
			walk(ex.Right)
		case *UnaryExpression:
			walk(ex.Operand)
		case *VariableExpression:
			if !seen[ex.Variable.Name] {
				seen[ex.Variable.Name] = true
				names = append(names, ex.Variable.Name)
			}
		case *FunctionCallExpression:
			for _, arg := range ex.Arguments {
				walk(arg)
			}
		}
	}
	walk(expr)
	return names
}
