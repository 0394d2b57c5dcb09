// Package encoding maps RDF terms to the fixed-width identifiers the
// indexes are keyed by. An identifier is one type byte followed by 16
// bytes of payload: either the value itself, inlined, or a 128-bit xxh3
// hash of the lexical form. Identifiers are content-addressed: equal
// terms always encode to the same identifier, within and across store
// instances.
package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/tetrad-db/tetrad/pkg/rdf"
)

const (
	// MaxInlineStringSize is the largest string stored inline (bytes of UTF-8)
	MaxInlineStringSize = 16

	// TermIDSize is the width of an encoded term identifier
	TermIDSize = 17
)

// TermID is a fixed-width term identifier: type byte + 16 bytes of
// inline data or hash. Big-endian payloads keep concatenated identifiers
// lexicographically ordered for prefix range scans.
type TermID [TermIDSize]byte

// Type extracts the term type from an identifier
func (id TermID) Type() rdf.TermType {
	return rdf.TermType(id[0])
}

// Payload returns the 16-byte portion after the type byte. It keys the
// id2str dictionary table for hash-encoded terms.
func (id TermID) Payload() []byte {
	return id[1:]
}

// NeedsLookup reports whether decoding this identifier may require the
// dictionary: the payload is (or may be) a hash rather than the value.
func (id TermID) NeedsLookup() bool {
	switch id.Type() {
	case rdf.TermTypeNamedNode, rdf.TermTypeLangStringLiteral,
		rdf.TermTypeBlankNode, rdf.TermTypeStringLiteral:
		return true
	default:
		return false
	}
}

// Encoder encodes RDF terms into term identifiers
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Hash128 computes the 128-bit xxh3 hash of a string
func (e *Encoder) Hash128(s string) [16]byte {
	hash := xxh3.Hash128([]byte(s))
	var result [16]byte
	binary.BigEndian.PutUint64(result[0:8], hash.Hi)
	binary.BigEndian.PutUint64(result[8:16], hash.Lo)
	return result
}

// Encode encodes a term into its identifier. The second return value is
// the lexical form to persist in the dictionary, or nil when the
// identifier is self-contained.
func (e *Encoder) Encode(term rdf.Term) (TermID, *string, error) {
	var id TermID

	switch t := term.(type) {
	case *rdf.NamedNode:
		return e.encodeNamedNode(t)
	case *rdf.BlankNode:
		return e.encodeBlankNode(t)
	case *rdf.Literal:
		return e.encodeLiteral(t)
	case *rdf.DefaultGraph:
		id[0] = byte(rdf.TermTypeDefaultGraph)
		return id, nil, nil
	default:
		return id, nil, fmt.Errorf("%w: unknown term type %T", rdf.ErrMalformedTerm, term)
	}
}

func (e *Encoder) encodeNamedNode(node *rdf.NamedNode) (TermID, *string, error) {
	var id TermID
	id[0] = byte(rdf.TermTypeNamedNode)

	hash := e.Hash128(node.IRI)
	copy(id[1:], hash[:])

	return id, &node.IRI, nil
}

func (e *Encoder) encodeBlankNode(node *rdf.BlankNode) (TermID, *string, error) {
	var id TermID
	id[0] = byte(rdf.TermTypeBlankNode)

	// Numeric blank node labels are inlined
	if num, err := strconv.ParseUint(node.ID, 10, 64); err == nil && !strings.HasPrefix(node.ID, "0") {
		binary.BigEndian.PutUint64(id[1:9], num)
		return id, nil, nil
	}

	hash := e.Hash128(node.ID)
	copy(id[1:], hash[:])

	return id, &node.ID, nil
}

func (e *Encoder) encodeLiteral(lit *rdf.Literal) (TermID, *string, error) {
	if lit.Datatype != nil {
		switch lit.Datatype.IRI {
		case rdf.XSDInteger.IRI:
			return e.encodeIntegerLiteral(lit)
		case rdf.XSDDecimal.IRI:
			return e.encodeFloatLiteral(lit, rdf.TermTypeDecimalLiteral)
		case rdf.XSDDouble.IRI:
			return e.encodeFloatLiteral(lit, rdf.TermTypeDoubleLiteral)
		case rdf.XSDBoolean.IRI:
			return e.encodeBooleanLiteral(lit)
		case rdf.XSDDateTime.IRI:
			return e.encodeDateTimeLiteral(lit)
		case rdf.XSDDate.IRI:
			return e.encodeDateLiteral(lit)
		}
	}

	if lit.Language != "" {
		return e.encodeLangStringLiteral(lit)
	}

	return e.encodeStringLiteral(lit)
}

func (e *Encoder) encodeStringLiteral(lit *rdf.Literal) (TermID, *string, error) {
	var id TermID
	id[0] = byte(rdf.TermTypeStringLiteral)

	if len(lit.Value) <= MaxInlineStringSize && !strings.ContainsRune(lit.Value, 0) {
		copy(id[1:], lit.Value)
		return id, nil, nil
	}

	hash := e.Hash128(lit.Value)
	copy(id[1:], hash[:])

	return id, &lit.Value, nil
}

func (e *Encoder) encodeLangStringLiteral(lit *rdf.Literal) (TermID, *string, error) {
	var id TermID
	id[0] = byte(rdf.TermTypeLangStringLiteral)

	// Value and tag are hashed and stored together; the decoder splits
	// on the last '@'.
	combined := lit.Value + "@" + lit.Language
	hash := e.Hash128(combined)
	copy(id[1:], hash[:])

	return id, &combined, nil
}

func (e *Encoder) encodeIntegerLiteral(lit *rdf.Literal) (TermID, *string, error) {
	var id TermID
	id[0] = byte(rdf.TermTypeIntegerLiteral)

	value, err := strconv.ParseInt(lit.Value, 10, 64)
	if err != nil {
		return id, nil, fmt.Errorf("%w: invalid integer literal %q", rdf.ErrMalformedTerm, lit.Value)
	}

	binary.BigEndian.PutUint64(id[1:9], uint64(value)) // #nosec G115 - intentional bit-pattern conversion for binary encoding
	return id, nil, nil
}

func (e *Encoder) encodeFloatLiteral(lit *rdf.Literal, tt rdf.TermType) (TermID, *string, error) {
	var id TermID
	id[0] = byte(tt)

	value, err := strconv.ParseFloat(lit.Value, 64)
	if err != nil {
		return id, nil, fmt.Errorf("%w: invalid numeric literal %q", rdf.ErrMalformedTerm, lit.Value)
	}

	binary.BigEndian.PutUint64(id[1:9], math.Float64bits(value))
	return id, nil, nil
}

func (e *Encoder) encodeBooleanLiteral(lit *rdf.Literal) (TermID, *string, error) {
	var id TermID
	id[0] = byte(rdf.TermTypeBooleanLiteral)

	value, err := strconv.ParseBool(lit.Value)
	if err != nil {
		return id, nil, fmt.Errorf("%w: invalid boolean literal %q", rdf.ErrMalformedTerm, lit.Value)
	}

	if value {
		id[1] = 1
	}
	return id, nil, nil
}

func (e *Encoder) encodeDateTimeLiteral(lit *rdf.Literal) (TermID, *string, error) {
	var id TermID
	id[0] = byte(rdf.TermTypeDateTimeLiteral)

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(lit.Value))
	if err != nil {
		return id, nil, fmt.Errorf("%w: invalid dateTime literal %q", rdf.ErrMalformedTerm, lit.Value)
	}

	binary.BigEndian.PutUint64(id[1:9], uint64(t.UnixNano())) // #nosec G115 - intentional bit-pattern conversion for timestamp encoding
	return id, nil, nil
}

func (e *Encoder) encodeDateLiteral(lit *rdf.Literal) (TermID, *string, error) {
	var id TermID
	id[0] = byte(rdf.TermTypeDateLiteral)

	t, err := time.Parse("2006-01-02", strings.TrimSpace(lit.Value))
	if err != nil {
		return id, nil, fmt.Errorf("%w: invalid date literal %q", rdf.ErrMalformedTerm, lit.Value)
	}

	days := t.Unix() / 86400
	binary.BigEndian.PutUint64(id[1:9], uint64(days)) // #nosec G115 - intentional bit-pattern conversion for date encoding
	return id, nil, nil
}

// Key concatenates term identifiers into an index key. Keys sort
// lexicographically component by component.
func Key(ids ...TermID) []byte {
	result := make([]byte, 0, len(ids)*TermIDSize)
	for _, id := range ids {
		result = append(result, id[:]...)
	}
	return result
}

// SplitKey slices an index key back into its term identifiers.
func SplitKey(key []byte, n int) ([]TermID, error) {
	if len(key) < n*TermIDSize {
		return nil, fmt.Errorf("invalid index key length %d, want at least %d", len(key), n*TermIDSize)
	}
	ids := make([]TermID, n)
	for i := 0; i < n; i++ {
		copy(ids[i][:], key[i*TermIDSize:(i+1)*TermIDSize])
	}
	return ids, nil
}
