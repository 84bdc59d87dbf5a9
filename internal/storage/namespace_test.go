package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespace_Isolation(t *testing.T) {
	db := NewMemory()
	keys := Namespaced(db, KeySpace)
	journal := Namespaced(db, JournalSpace)

	require.NoError(t, keys.Put([]byte("w1"), []byte("sealed")))
	require.NoError(t, journal.Put([]byte("w1"), []byte("entry")))

	got, err := keys.Get([]byte("w1"))
	require.NoError(t, err)
	assert.Equal(t, "sealed", string(got))
	got, err = db.Get([]byte("j/w1"))
	require.NoError(t, err)
	assert.Equal(t, "entry", string(got))

	require.NoError(t, keys.Delete([]byte("w1")))
	ok, err := journal.Has([]byte("w1"))
	require.NoError(t, err)
	assert.True(t, ok, "delete in one space leaves the other")
}

func TestNamespace_ForEachStripsSpace(t *testing.T) {
	db := NewMemory()
	ns := Namespaced(db, JournalSpace)
	require.NoError(t, ns.Put([]byte("w1/send/0xaa"), []byte("1")))
	require.NoError(t, ns.Put([]byte("w2/send/0xbb"), []byte("2")))
	require.NoError(t, db.Put([]byte("k/w1"), []byte("key")))

	var keys []string
	require.NoError(t, ns.ForEach(nil, func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}))
	assert.Equal(t, []string{"w1/send/0xaa", "w2/send/0xbb"}, keys)

	keys = nil
	require.NoError(t, ns.ForEach([]byte("w2/"), func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}))
	assert.Equal(t, []string{"w2/send/0xbb"}, keys)
}

func TestNamespace_Batch(t *testing.T) {
	db := NewMemory()
	ns := Namespaced(db, JournalSpace)
	require.NoError(t, ns.Put([]byte("a"), []byte("1")))

	b := ns.NewBatch()
	require.NoError(t, b.Delete([]byte("a")))
	require.NoError(t, b.Put([]byte("b"), []byte("2")))
	require.NoError(t, b.Commit())

	ok, _ := db.Has([]byte("j/a"))
	assert.False(t, ok)
	got, err := db.Get([]byte("j/b"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	require.NoError(t, ns.Close())
	_, err = db.Get([]byte("j/b"))
	assert.NoError(t, err, "closing a namespace leaves the database open")
}
