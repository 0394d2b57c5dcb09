package rdf

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedTerm is returned when a term's lexical form is invalid.
// Validation happens before interning, so a malformed term never reaches
// the dictionary or the indexes.
var ErrMalformedTerm = errors.New("malformed term")

// Validate checks the lexical form of a term. It does not check
// positional restrictions within a quad; see ValidateQuad.
func Validate(term Term) error {
	switch t := term.(type) {
	case *NamedNode:
		return validateIRI(t.IRI)
	case *BlankNode:
		if t.ID == "" {
			return fmt.Errorf("%w: empty blank node identifier", ErrMalformedTerm)
		}
		if strings.ContainsAny(t.ID, " \t\r\n") {
			return fmt.Errorf("%w: blank node identifier %q contains whitespace", ErrMalformedTerm, t.ID)
		}
		return nil
	case *Literal:
		if t.Language != "" {
			if t.Datatype != nil {
				return fmt.Errorf("%w: literal cannot carry both language tag and datatype", ErrMalformedTerm)
			}
			if !validLanguageTag(t.Language) {
				return fmt.Errorf("%w: invalid language tag %q", ErrMalformedTerm, t.Language)
			}
		}
		if t.Datatype != nil {
			return validateIRI(t.Datatype.IRI)
		}
		return nil
	case *DefaultGraph:
		return nil
	case nil:
		return fmt.Errorf("%w: nil term", ErrMalformedTerm)
	default:
		return fmt.Errorf("%w: unknown term type %T", ErrMalformedTerm, term)
	}
}

// ValidateQuad validates the lexical form of every component and the
// positional restrictions: subjects are IRIs or blank nodes, predicates
// are IRIs, graph names are IRIs, blank nodes, or the default graph.
func ValidateQuad(q *Quad) error {
	if q == nil {
		return fmt.Errorf("%w: nil quad", ErrMalformedTerm)
	}
	for _, term := range []Term{q.Subject, q.Predicate, q.Object, q.Graph} {
		if err := Validate(term); err != nil {
			return err
		}
	}
	switch q.Subject.(type) {
	case *NamedNode, *BlankNode:
	default:
		return fmt.Errorf("%w: subject must be an IRI or blank node, got %s", ErrMalformedTerm, q.Subject)
	}
	if _, ok := q.Predicate.(*NamedNode); !ok {
		return fmt.Errorf("%w: predicate must be an IRI, got %s", ErrMalformedTerm, q.Predicate)
	}
	switch q.Graph.(type) {
	case *NamedNode, *BlankNode, *DefaultGraph:
	default:
		return fmt.Errorf("%w: graph name must be an IRI, blank node, or the default graph, got %s", ErrMalformedTerm, q.Graph)
	}
	return nil
}

func validateIRI(iri string) error {
	if iri == "" {
		return fmt.Errorf("%w: empty IRI", ErrMalformedTerm)
	}
	colon := strings.IndexByte(iri, ':')
	if colon <= 0 {
		return fmt.Errorf("%w: IRI %q has no scheme", ErrMalformedTerm, iri)
	}
	for i := 0; i < colon; i++ {
		c := iri[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.')) {
			return fmt.Errorf("%w: IRI %q has an invalid scheme", ErrMalformedTerm, iri)
		}
	}
	if strings.ContainsAny(iri, " \t\r\n<>\"{}|\\^`") {
		return fmt.Errorf("%w: IRI %q contains forbidden characters", ErrMalformedTerm, iri)
	}
	return nil
}

// validLanguageTag checks the shape of a BCP 47 tag: alphabetic primary
// subtag, alphanumeric subtags separated by single hyphens.
func validLanguageTag(tag string) bool {
	subtags := strings.Split(tag, "-")
	for i, sub := range subtags {
		if len(sub) == 0 || len(sub) > 8 {
			return false
		}
		for _, c := range sub {
			alpha := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
			digit := c >= '0' && c <= '9'
			if i == 0 && !alpha {
				return false
			}
			if !alpha && !digit {
				return false
			}
		}
	}
	return true
}
