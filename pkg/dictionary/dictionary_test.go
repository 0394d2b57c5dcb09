package dictionary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrad-db/tetrad/internal/badgerkv"
	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/storage"
)

func newTestDict(t *testing.T) (*Dictionary, storage.Storage) {
	t.Helper()
	kv, err := badgerkv.Open(badgerkv.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	dict, err := New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(dict.Close)
	return dict, kv
}

func TestInternResolveRoundtrip(t *testing.T) {
	dict, kv := newTestDict(t)

	terms := []rdf.Term{
		rdf.NewNamedNode("http://example.org/with-a-reasonably-long-iri"),
		rdf.NewBlankNode("node-a"),
		rdf.NewLiteral("a literal value longer than sixteen bytes"),
		rdf.NewLiteralWithLanguage("bonjour", "fr"),
		rdf.NewLiteral("short"),
		rdf.NewIntegerLiteral(7),
		rdf.NewDefaultGraph(),
	}

	tx, err := kv.Begin(true)
	require.NoError(t, err)
	ids := make([]ID, len(terms))
	for i, term := range terms {
		ids[i], err = dict.Intern(tx, term)
		require.NoError(t, err, "intern %s", term)
	}
	require.NoError(t, tx.Commit())

	read, err := kv.Begin(false)
	require.NoError(t, err)
	defer read.Rollback()
	for i, term := range terms {
		resolved, err := dict.Resolve(read, ids[i])
		require.NoError(t, err, "resolve %s", term)
		assert.True(t, resolved.Equals(term), "resolve %s gave %s", term, resolved)
	}
}

func TestInternIsIdempotent(t *testing.T) {
	dict, kv := newTestDict(t)
	term := rdf.NewNamedNode("http://example.org/idempotent")

	tx, err := kv.Begin(true)
	require.NoError(t, err)
	first, err := dict.Intern(tx, term)
	require.NoError(t, err)
	second, err := dict.Intern(tx, term)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.NoError(t, tx.Commit())

	// Interning again in a later transaction yields the same identifier.
	tx, err = kv.Begin(true)
	require.NoError(t, err)
	defer tx.Rollback()
	third, err := dict.Intern(tx, term)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestEncodeMatchesIntern(t *testing.T) {
	dict, kv := newTestDict(t)
	term := rdf.NewLiteralWithLanguage("hello there, world", "en")

	encoded, err := dict.Encode(term)
	require.NoError(t, err)

	tx, err := kv.Begin(true)
	require.NoError(t, err)
	defer tx.Rollback()
	interned, err := dict.Intern(tx, term)
	require.NoError(t, err)
	assert.Equal(t, encoded, interned)
}

func TestInternRejectsMalformedTerms(t *testing.T) {
	dict, kv := newTestDict(t)

	tx, err := kv.Begin(true)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = dict.Intern(tx, rdf.NewNamedNode("no-scheme"))
	assert.ErrorIs(t, err, rdf.ErrMalformedTerm)
	_, err = dict.Intern(tx, rdf.NewBlankNode(""))
	assert.ErrorIs(t, err, rdf.ErrMalformedTerm)
}

func TestInternRefusesHashCollision(t *testing.T) {
	dict, kv := newTestDict(t)
	term := rdf.NewNamedNode("http://example.org/collision-victim")

	// Plant a different lexical form under the term's payload key, as a
	// colliding earlier intern would have.
	id, err := dict.Encode(term)
	require.NoError(t, err)
	tx, err := kv.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Set(storage.TableID2Str, id.Payload(), []byte("http://example.org/other")))
	require.NoError(t, tx.Commit())

	tx, err = kv.Begin(true)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = dict.Intern(tx, term)
	assert.ErrorIs(t, err, ErrHashCollision)

	// The original owner of the identifier is untouched.
	raw, err := tx.Get(storage.TableID2Str, id.Payload())
	require.NoError(t, err)
	assert.Equal(t, []byte("http://example.org/other"), raw)
}

func TestResolveUnknownIdentifier(t *testing.T) {
	dict, kv := newTestDict(t)

	// Encoded but never interned: the lexical form is not persisted.
	id, err := dict.Encode(rdf.NewNamedNode("http://example.org/never-interned"))
	require.NoError(t, err)

	tx, err := kv.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = dict.Resolve(tx, id)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestResolveInlineWithoutDictionary(t *testing.T) {
	dict, kv := newTestDict(t)

	// Inline identifiers decode without any persisted state.
	id, err := dict.Encode(rdf.NewIntegerLiteral(99))
	require.NoError(t, err)

	tx, err := kv.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()

	term, err := dict.Resolve(tx, id)
	require.NoError(t, err)
	assert.True(t, term.Equals(rdf.NewIntegerLiteral(99)))
}

func TestStaleSnapshotDoesNotRefillCache(t *testing.T) {
	dict, kv := newTestDict(t)
	term := rdf.NewNamedNode("http://example.org/purged-but-still-visible")

	tx, err := kv.Begin(true)
	require.NoError(t, err)
	id, err := dict.Intern(tx, term)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// A long-lived reader opens before the purge and records the epoch,
	// as snapshots do.
	epoch := dict.Epoch()
	old, err := kv.Begin(false)
	require.NoError(t, err)
	defer old.Rollback()

	tx, err = kv.Begin(true)
	require.NoError(t, err)
	require.NoError(t, dict.Drop(tx, id.Payload()))
	require.NoError(t, tx.Commit())
	dict.InvalidateCache()

	// The stale reader still resolves the term through its own view, but
	// the resolution must not land in the shared cache.
	resolved, err := dict.ResolveAsOf(old, id, epoch)
	require.NoError(t, err)
	assert.True(t, resolved.Equals(term))
	dict.cache.Wait()

	read, err := kv.Begin(false)
	require.NoError(t, err)
	defer read.Rollback()
	_, err = dict.Resolve(read, id)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestDropRemovesLexicalForm(t *testing.T) {
	dict, kv := newTestDict(t)
	term := rdf.NewNamedNode("http://example.org/to-be-dropped")

	tx, err := kv.Begin(true)
	require.NoError(t, err)
	id, err := dict.Intern(tx, term)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = kv.Begin(true)
	require.NoError(t, err)
	require.NoError(t, dict.Drop(tx, id.Payload()))
	require.NoError(t, tx.Commit())
	dict.InvalidateCache()

	read, err := kv.Begin(false)
	require.NoError(t, err)
	defer read.Rollback()
	_, err = dict.Resolve(read, id)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}
