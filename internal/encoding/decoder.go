package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tetrad-db/tetrad/pkg/rdf"
)

// Decoder decodes term identifiers back into RDF terms
type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a term identifier. For hash-encoded terms the lexical
// form must be supplied; for inline terms it is ignored.
func (d *Decoder) Decode(id TermID, lexical *string) (rdf.Term, error) {
	switch id.Type() {
	case rdf.TermTypeNamedNode:
		if lexical == nil {
			return nil, fmt.Errorf("lexical form required for named node")
		}
		return rdf.NewNamedNode(*lexical), nil

	case rdf.TermTypeBlankNode:
		if lexical != nil {
			return rdf.NewBlankNode(*lexical), nil
		}
		// Inline numeric label: low 8 bytes of payload are zero
		if !allZero(id[9:]) {
			return nil, fmt.Errorf("lexical form required for blank node")
		}
		numericID := binary.BigEndian.Uint64(id[1:9])
		return rdf.NewBlankNode(strconv.FormatUint(numericID, 10)), nil

	case rdf.TermTypeStringLiteral:
		if lexical != nil {
			return rdf.NewLiteral(*lexical), nil
		}
		// Inline string: null-padded UTF-8
		endIdx := 1
		for endIdx < TermIDSize && id[endIdx] != 0 {
			endIdx++
		}
		if !allZero(id[endIdx:]) {
			return nil, fmt.Errorf("lexical form required for string literal")
		}
		return rdf.NewLiteral(string(id[1:endIdx])), nil

	case rdf.TermTypeLangStringLiteral:
		if lexical == nil {
			return nil, fmt.Errorf("lexical form required for language-tagged literal")
		}
		// Stored as value@tag; split on the last '@'
		for i := len(*lexical) - 1; i >= 0; i-- {
			if (*lexical)[i] == '@' {
				return rdf.NewLiteralWithLanguage((*lexical)[:i], (*lexical)[i+1:]), nil
			}
		}
		return rdf.NewLiteral(*lexical), nil

	case rdf.TermTypeIntegerLiteral:
		value := int64(binary.BigEndian.Uint64(id[1:9])) // #nosec G115 - intentional bit-pattern conversion for binary decoding
		return rdf.NewIntegerLiteral(value), nil

	case rdf.TermTypeDecimalLiteral:
		value := math.Float64frombits(binary.BigEndian.Uint64(id[1:9]))
		return rdf.NewLiteralWithDatatype(fmt.Sprintf("%g", value), rdf.XSDDecimal), nil

	case rdf.TermTypeDoubleLiteral:
		value := math.Float64frombits(binary.BigEndian.Uint64(id[1:9]))
		return rdf.NewDoubleLiteral(value), nil

	case rdf.TermTypeBooleanLiteral:
		return rdf.NewBooleanLiteral(id[1] != 0), nil

	case rdf.TermTypeDateTimeLiteral:
		nanos := int64(binary.BigEndian.Uint64(id[1:9])) // #nosec G115 - intentional bit-pattern conversion for timestamp decoding
		return rdf.NewDateTimeLiteral(time.Unix(0, nanos).UTC()), nil

	case rdf.TermTypeDateLiteral:
		days := int64(binary.BigEndian.Uint64(id[1:9])) // #nosec G115 - intentional bit-pattern conversion for date decoding
		t := time.Unix(days*86400, 0).UTC()
		return rdf.NewLiteralWithDatatype(t.Format("2006-01-02"), rdf.XSDDate), nil

	case rdf.TermTypeDefaultGraph:
		return rdf.NewDefaultGraph(), nil

	default:
		return nil, fmt.Errorf("unknown term type: %d", id[0])
	}
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
