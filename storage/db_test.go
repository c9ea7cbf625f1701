package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("alpha"), []byte{1, 2, 3}))
	got, err := db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, db.Put([]byte("alpha"), []byte{9}))
	got, err = db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte{9}, got)
	require.Equal(t, 1, db.Len())
}

func TestMemDBMissingKey(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	_, err := db.Get([]byte("missing"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte{7, 7}
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 0

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte{7, 7}, got)

	got[1] = 0
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte{7, 7}, again)
}

func TestLevelDBRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("beta"), []byte("value")))
	got, err := db.Get([]byte("beta"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)

	_, err = db.Get([]byte("absent"))
	require.True(t, errors.Is(err, ErrKeyNotFound))
}
