// Package dictionary implements the term dictionary: content-addressed
// interning of RDF terms into fixed-width identifiers, and resolution of
// identifiers back to terms.
package dictionary

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/tetrad-db/tetrad/internal/encoding"
	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/storage"
)

// ErrUnknownIdentifier is returned when resolving an identifier that was
// never issued or whose term has been purged by compaction.
var ErrUnknownIdentifier = errors.New("unknown term identifier")

// ErrHashCollision is returned when two distinct lexical forms hash to
// the same identifier. Overwriting the stored form would silently change
// what every existing index entry for that identifier resolves to, so
// the write is refused instead.
var ErrHashCollision = errors.New("term hash collision")

// ID is the identifier a term interns to. Identifiers are stable for the
// lifetime of the store and content-addressed: structurally equal terms
// always intern to the same ID, so concurrent interning of the same new
// term by racing writers converges on one identifier without
// coordination beyond the single-writer commit discipline.
type ID = encoding.TermID

// Dictionary interns terms and resolves identifiers. It is stateless
// apart from a read-side cache; all persistent state lives in the id2str
// table of the transaction passed to each call.
type Dictionary struct {
	enc   *encoding.Encoder
	dec   *encoding.Decoder
	cache *ristretto.Cache[string, rdf.Term]

	// epoch advances on every cache invalidation. Resolve records it
	// before filling the cache and undoes the fill if it moved, so a
	// reader on an old snapshot cannot re-populate a purged term.
	epoch atomic.Uint64
}

// New creates a dictionary with a resolve cache of roughly maxCacheBytes.
// A zero size disables caching.
func New(maxCacheBytes int64) (*Dictionary, error) {
	d := &Dictionary{
		enc: encoding.NewEncoder(),
		dec: encoding.NewDecoder(),
	}
	if maxCacheBytes > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, rdf.Term]{
			NumCounters: maxCacheBytes / 32,
			MaxCost:     maxCacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create resolve cache: %w", err)
		}
		d.cache = cache
	}
	return d, nil
}

// Close releases the resolve cache.
func (d *Dictionary) Close() {
	if d.cache != nil {
		d.cache.Close()
	}
}

// Encode computes a term's identifier without persisting anything.
// The term is validated first; malformed terms are rejected before they
// can reach an index.
func (d *Dictionary) Encode(term rdf.Term) (ID, error) {
	if err := rdf.Validate(term); err != nil {
		return ID{}, err
	}
	id, _, err := d.enc.Encode(term)
	return id, err
}

// Intern returns the identifier for a term, persisting its lexical form
// in the dictionary table if it was not seen before. Interning is
// idempotent: a second call with an equal term returns the same ID and
// writes nothing.
func (d *Dictionary) Intern(tx storage.Tx, term rdf.Term) (ID, error) {
	if err := rdf.Validate(term); err != nil {
		return ID{}, err
	}
	id, lexical, err := d.enc.Encode(term)
	if err != nil {
		return ID{}, err
	}
	if lexical == nil {
		// Self-contained identifier, nothing to persist
		return id, nil
	}

	value := []byte(*lexical)
	existing, err := tx.Get(storage.TableID2Str, id.Payload())
	switch {
	case err == nil && bytes.Equal(existing, value):
		return id, nil
	case err == nil:
		// A different lexical form already owns this identifier.
		return ID{}, fmt.Errorf("%w: %q and %q both map to %x",
			ErrHashCollision, existing, value, id.Payload())
	case !errors.Is(err, storage.ErrNotFound):
		return ID{}, err
	}

	if err := tx.Set(storage.TableID2Str, id.Payload(), value); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Resolve decodes an identifier back into its term. Identifiers that
// were never issued, or whose lexical form was purged by compaction,
// yield ErrUnknownIdentifier.
func (d *Dictionary) Resolve(tx storage.Tx, id ID) (rdf.Term, error) {
	return d.ResolveAsOf(tx, id, d.epoch.Load())
}

// ResolveAsOf is Resolve for a transaction opened at the given epoch.
// Readers holding a snapshot from before a compaction can still see
// lexical forms the sweep removed; tying each fill to the snapshot's
// epoch keeps those forms out of the shared cache.
func (d *Dictionary) ResolveAsOf(tx storage.Tx, id ID, epoch uint64) (rdf.Term, error) {
	if d.cache != nil {
		if term, ok := d.cache.Get(string(id[:])); ok {
			return term, nil
		}
	}

	var lexical *string
	if id.NeedsLookup() {
		raw, err := tx.Get(storage.TableID2Str, id.Payload())
		switch {
		case err == nil:
			s := string(raw)
			lexical = &s
		case errors.Is(err, storage.ErrNotFound):
			// Inline-encoded blank nodes and short strings legitimately
			// have no dictionary entry; the decoder accepts those and
			// rejects hash payloads.
		default:
			return nil, err
		}
	}

	term, err := d.dec.Decode(id, lexical)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownIdentifier, err)
	}

	if d.cache != nil && epoch == d.epoch.Load() {
		d.cache.Set(string(id[:]), term, int64(encoding.TermIDSize+len(term.String())))
		if d.epoch.Load() != epoch {
			// An invalidation raced the fill. The lexical form came from a
			// snapshot that may predate the purge, so the entry must not
			// outlive this call.
			d.cache.Del(string(id[:]))
		}
	}
	return term, nil
}

// Drop removes a lexical form from the dictionary table by its payload
// key. Only compaction calls this, and only for identifiers no longer
// referenced by any index entry.
func (d *Dictionary) Drop(tx storage.Tx, payload []byte) error {
	return tx.Delete(storage.TableID2Str, payload)
}

// Epoch returns the current cache epoch. Callers opening a long-lived
// read transaction record it and pass it to ResolveAsOf.
func (d *Dictionary) Epoch() uint64 {
	return d.epoch.Load()
}

// InvalidateCache empties the resolve cache. Compaction calls this after
// a sweep so purged terms cannot be served from memory. The epoch bump
// precedes the clear so that fills already in flight discard themselves.
func (d *Dictionary) InvalidateCache() {
	d.epoch.Add(1)
	if d.cache != nil {
		d.cache.Clear()
	}
}
