package evaluator

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/sparql/algebra"
)

// numericKind orders the XSD numeric promotion ladder.
type numericKind int

const (
	kindInteger numericKind = iota
	kindDecimal
	kindDouble
)

// numeric is the evaluation-time value of a numeric literal. Integers
// and decimals stay exact; doubles carry float semantics.
type numeric struct {
	kind numericKind
	i    int64
	d    *big.Rat
	f    float64
}

func numericValue(term rdf.Term) (numeric, error) {
	lit, ok := term.(*rdf.Literal)
	if !ok || lit.Datatype == nil {
		return numeric{}, fmt.Errorf("%w: %s is not numeric", ErrTypeError, term)
	}
	switch lit.Datatype.IRI {
	case rdf.XSDInteger.IRI:
		i, err := strconv.ParseInt(lit.Value, 10, 64)
		if err != nil {
			return numeric{}, fmt.Errorf("%w: malformed integer %q", ErrTypeError, lit.Value)
		}
		return numeric{kind: kindInteger, i: i}, nil
	case rdf.XSDDecimal.IRI:
		d, ok := new(big.Rat).SetString(lit.Value)
		if !ok {
			return numeric{}, fmt.Errorf("%w: malformed decimal %q", ErrTypeError, lit.Value)
		}
		return numeric{kind: kindDecimal, d: d}, nil
	case rdf.XSDDouble.IRI:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return numeric{}, fmt.Errorf("%w: malformed double %q", ErrTypeError, lit.Value)
		}
		return numeric{kind: kindDouble, f: f}, nil
	default:
		return numeric{}, fmt.Errorf("%w: %s is not numeric", ErrTypeError, term)
	}
}

func (n numeric) promote(kind numericKind) numeric {
	if kind <= n.kind {
		return n
	}
	switch n.kind {
	case kindInteger:
		if kind == kindDecimal {
			return numeric{kind: kindDecimal, d: new(big.Rat).SetInt64(n.i)}
		}
		return numeric{kind: kindDouble, f: float64(n.i)}
	case kindDecimal:
		f, _ := n.d.Float64()
		return numeric{kind: kindDouble, f: f}
	default:
		return n
	}
}

func (n numeric) isZero() bool {
	switch n.kind {
	case kindInteger:
		return n.i == 0
	case kindDecimal:
		return n.d.Sign() == 0
	default:
		return n.f == 0
	}
}

func (n numeric) negate() numeric {
	switch n.kind {
	case kindInteger:
		return numeric{kind: kindInteger, i: -n.i}
	case kindDecimal:
		return numeric{kind: kindDecimal, d: new(big.Rat).Neg(n.d)}
	default:
		return numeric{kind: kindDouble, f: -n.f}
	}
}

func (n numeric) literal() *rdf.Literal {
	switch n.kind {
	case kindInteger:
		return rdf.NewIntegerLiteral(n.i)
	case kindDecimal:
		return rdf.NewLiteralWithDatatype(formatDecimal(n.d), rdf.XSDDecimal)
	default:
		return rdf.NewDoubleLiteral(n.f)
	}
}

// formatDecimal renders a rational as an xsd:decimal lexical form.
// Values with non-terminating expansions fall back to 18 fractional
// digits, which exceeds what the fixed-width encoding preserves.
func formatDecimal(d *big.Rat) string {
	if d.IsInt() {
		return d.Num().String()
	}
	s := d.FloatString(18)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

func compareNumeric(a, b numeric) int {
	kind := a.kind
	if b.kind > kind {
		kind = b.kind
	}
	a = a.promote(kind)
	b = b.promote(kind)
	switch kind {
	case kindInteger:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		default:
			return 0
		}
	case kindDecimal:
		return a.d.Cmp(b.d)
	default:
		switch {
		case a.f < b.f:
			return -1
		case a.f > b.f:
			return 1
		default:
			return 0
		}
	}
}

// termsEqual implements "=": numeric literals compare by value, so
// "42"^^xsd:integer equals "42.0"^^xsd:decimal; everything else is
// structural term equality.
func termsEqual(left, right rdf.Term) bool {
	ll, lok := left.(*rdf.Literal)
	rl, rok := right.(*rdf.Literal)
	if lok && rok && isNumericLiteral(ll) && isNumericLiteral(rl) {
		a, errA := numericValue(ll)
		b, errB := numericValue(rl)
		if errA == nil && errB == nil {
			return compareNumeric(a, b) == 0
		}
	}
	return left.Equals(right)
}

// compareTerms orders two terms for the inequality operators. Only
// literals of comparable datatypes are ordered; everything else is a
// type error that drops the candidate.
func compareTerms(left, right rdf.Term) (int, error) {
	ll, lok := left.(*rdf.Literal)
	rl, rok := right.(*rdf.Literal)
	if !lok || !rok {
		return 0, fmt.Errorf("%w: cannot order %s and %s", ErrTypeError, left, right)
	}

	if isNumericLiteral(ll) && isNumericLiteral(rl) {
		a, err := numericValue(ll)
		if err != nil {
			return 0, err
		}
		b, err := numericValue(rl)
		if err != nil {
			return 0, err
		}
		return compareNumeric(a, b), nil
	}

	if isPlainString(ll) && isPlainString(rl) {
		return strings.Compare(ll.Value, rl.Value), nil
	}

	if hasDatatype(ll, rdf.XSDBoolean) && hasDatatype(rl, rdf.XSDBoolean) {
		a := ll.Value == "true" || ll.Value == "1"
		b := rl.Value == "true" || rl.Value == "1"
		switch {
		case a == b:
			return 0, nil
		case !a:
			return -1, nil
		default:
			return 1, nil
		}
	}

	if isTemporal(ll) && isTemporal(rl) && ll.Datatype.IRI == rl.Datatype.IRI {
		a, err := parseTemporal(ll)
		if err != nil {
			return 0, err
		}
		b, err := parseTemporal(rl)
		if err != nil {
			return 0, err
		}
		switch {
		case a.Before(b):
			return -1, nil
		case a.After(b):
			return 1, nil
		default:
			return 0, nil
		}
	}

	return 0, fmt.Errorf("%w: cannot order %s and %s", ErrTypeError, left, right)
}

func arithmetic(op algebra.Operator, left, right rdf.Term) (rdf.Term, error) {
	a, err := numericValue(left)
	if err != nil {
		return nil, err
	}
	b, err := numericValue(right)
	if err != nil {
		return nil, err
	}

	kind := a.kind
	if b.kind > kind {
		kind = b.kind
	}
	// Division of exact types produces a decimal, as in XPath.
	if op == algebra.OpDivide && kind == kindInteger {
		kind = kindDecimal
	}
	a = a.promote(kind)
	b = b.promote(kind)

	switch kind {
	case kindInteger:
		switch op {
		case algebra.OpAdd:
			return rdf.NewIntegerLiteral(a.i + b.i), nil
		case algebra.OpSubtract:
			return rdf.NewIntegerLiteral(a.i - b.i), nil
		default:
			return rdf.NewIntegerLiteral(a.i * b.i), nil
		}
	case kindDecimal:
		switch op {
		case algebra.OpAdd:
			return numeric{kind: kindDecimal, d: new(big.Rat).Add(a.d, b.d)}.literal(), nil
		case algebra.OpSubtract:
			return numeric{kind: kindDecimal, d: new(big.Rat).Sub(a.d, b.d)}.literal(), nil
		case algebra.OpMultiply:
			return numeric{kind: kindDecimal, d: new(big.Rat).Mul(a.d, b.d)}.literal(), nil
		default:
			if b.d.Sign() == 0 {
				return nil, fmt.Errorf("%w: division by zero", ErrTypeError)
			}
			return numeric{kind: kindDecimal, d: new(big.Rat).Quo(a.d, b.d)}.literal(), nil
		}
	default:
		switch op {
		case algebra.OpAdd:
			return rdf.NewDoubleLiteral(a.f + b.f), nil
		case algebra.OpSubtract:
			return rdf.NewDoubleLiteral(a.f - b.f), nil
		case algebra.OpMultiply:
			return rdf.NewDoubleLiteral(a.f * b.f), nil
		default:
			return rdf.NewDoubleLiteral(a.f / b.f), nil
		}
	}
}

func isNumericLiteral(l *rdf.Literal) bool {
	if l.Datatype == nil {
		return false
	}
	switch l.Datatype.IRI {
	case rdf.XSDInteger.IRI, rdf.XSDDecimal.IRI, rdf.XSDDouble.IRI:
		return true
	}
	return false
}

func isPlainString(l *rdf.Literal) bool {
	if l.Language != "" {
		return false
	}
	return l.Datatype == nil || l.Datatype.IRI == rdf.XSDString.IRI
}

func hasDatatype(l *rdf.Literal, dt *rdf.NamedNode) bool {
	return l.Datatype != nil && l.Datatype.IRI == dt.IRI
}

func isTemporal(l *rdf.Literal) bool {
	return hasDatatype(l, rdf.XSDDateTime) || hasDatatype(l, rdf.XSDDate)
}

func parseTemporal(l *rdf.Literal) (time.Time, error) {
	layout := time.RFC3339
	if l.Datatype.IRI == rdf.XSDDate.IRI {
		layout = "2006-01-02"
	}
	t, err := time.Parse(layout, l.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed %s %q", ErrTypeError, l.Datatype.IRI, l.Value)
	}
	return t, nil
}
