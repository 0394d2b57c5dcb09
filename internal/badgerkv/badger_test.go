package badgerkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrad-db/tetrad/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetDelete(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Set(storage.TableID2Str, []byte("k1"), []byte("v1")))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(false)
	require.NoError(t, err)
	value, err := tx.Get(storage.TableID2Str, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	_, err = tx.Get(storage.TableID2Str, []byte("missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, tx.Rollback())

	tx, err = s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(storage.TableID2Str, []byte("k1")))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Get(storage.TableID2Str, []byte("k1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTablesAreIsolated(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Set(storage.TableSPO, []byte("key"), []byte("spo")))
	require.NoError(t, tx.Set(storage.TablePOS, []byte("key"), []byte("pos")))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()

	value, err := tx.Get(storage.TableSPO, []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("spo"), value)

	value, err = tx.Get(storage.TablePOS, []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pos"), value)

	_, err = tx.Get(storage.TableOSP, []byte("key"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReadOnlyTxRejectsWrites(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()

	assert.ErrorIs(t, tx.Set(storage.TableSPO, []byte("k"), []byte("v")), storage.ErrReadOnlyTx)
	assert.ErrorIs(t, tx.Delete(storage.TableSPO, []byte("k")), storage.ErrReadOnlyTx)
}

func TestScanRange(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(true)
	require.NoError(t, err)
	for _, key := range []string{"a1", "a2", "b1", "b2", "c1"} {
		require.NoError(t, tx.Set(storage.TableSPO, []byte(key), nil))
	}
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()

	// Full scan returns every key in order, without the table prefix.
	it, err := tx.Scan(storage.TableSPO, nil, nil)
	require.NoError(t, err)
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []string{"a1", "a2", "b1", "b2", "c1"}, keys)

	// Bounded scan is [start, end).
	it, err = tx.Scan(storage.TableSPO, []byte("a2"), []byte("c1"))
	require.NoError(t, err)
	keys = nil
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []string{"a2", "b1", "b2"}, keys)
}

func TestSnapshotIsolation(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Set(storage.TableSPO, []byte("k"), []byte("old")))
	require.NoError(t, tx.Commit())

	reader, err := s.Begin(false)
	require.NoError(t, err)
	defer reader.Rollback()

	writer, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, writer.Set(storage.TableSPO, []byte("k"), []byte("new")))
	require.NoError(t, writer.Commit())

	// The reader still sees the state it started from.
	value, err := reader.Get(storage.TableSPO, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), value)
}

func TestClosedTxFails(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = tx.Get(storage.TableSPO, []byte("k"))
	assert.ErrorIs(t, err, storage.ErrTxClosed)
	assert.ErrorIs(t, tx.Set(storage.TableSPO, []byte("k"), nil), storage.ErrTxClosed)
	assert.ErrorIs(t, tx.Commit(), storage.ErrTxClosed)
}
