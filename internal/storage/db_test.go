package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func() DB {
	return map[string]func() DB{
		"memory": func() DB { return NewMemory() },
		"badger": func() DB {
			db, err := NewBadger(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return db
		},
	}
}

func TestDB(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			db := open()

			_, err := db.Get([]byte("missing"))
			assert.ErrorIs(t, err, ErrNotFound)
			ok, err := db.Has([]byte("missing"))
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, db.Delete([]byte("missing")), "deleting a missing key")

			require.NoError(t, db.Put([]byte("w1"), []byte("sealed-1")))
			require.NoError(t, db.Put([]byte("w1"), []byte("sealed-2")))
			got, err := db.Get([]byte("w1"))
			require.NoError(t, err)
			assert.Equal(t, "sealed-2", string(got))

			require.NoError(t, db.Put([]byte("empty"), []byte{}))
			got, err = db.Get([]byte("empty"))
			require.NoError(t, err)
			assert.Empty(t, got)

			bin := []byte{0x00, 0x01, 0xff}
			require.NoError(t, db.Put(bin, bin))
			got, err = db.Get(bin)
			require.NoError(t, err)
			assert.Equal(t, bin, got)

			require.NoError(t, db.Delete([]byte("w1")))
			ok, err = db.Has([]byte("w1"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDB_ForEach(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			db := open()
			for _, k := range []string{"w1/c", "w1/a", "w10/a", "w1/b", "w2/a"} {
				require.NoError(t, db.Put([]byte(k), []byte("v:"+k)))
			}

			var keys []string
			require.NoError(t, db.ForEach([]byte("w1/"), func(k, v []byte) error {
				assert.Equal(t, "v:"+string(k), string(v))
				keys = append(keys, string(k))
				return nil
			}))
			assert.Equal(t, []string{"w1/a", "w1/b", "w1/c"}, keys, "sorted, prefix only")

			stop := errors.New("stop")
			n := 0
			err := db.ForEach(nil, func(_, _ []byte) error {
				n++
				return stop
			})
			assert.ErrorIs(t, err, stop)
			assert.Equal(t, 1, n)
		})
	}
}

func TestDB_Batch(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			db := open()
			require.NoError(t, db.Put([]byte("old"), []byte("x")))

			b := db.NewBatch()
			require.NoError(t, b.Put([]byte("new"), []byte("y")))
			require.NoError(t, b.Delete([]byte("old")))

			ok, _ := db.Has([]byte("new"))
			assert.False(t, ok, "batched write visible before Commit")

			require.NoError(t, b.Commit())
			ok, _ = db.Has([]byte("old"))
			assert.False(t, ok)
			got, err := db.Get([]byte("new"))
			require.NoError(t, err)
			assert.Equal(t, "y", string(got))
		})
	}
}

func TestBadger_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBadger(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k/w1"), []byte("sealed")))

	_, err = NewBadger(dir)
	assert.ErrorContains(t, err, "in use")
	require.NoError(t, db.Close())

	db, err = NewBadger(dir)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Get([]byte("k/w1"))
	require.NoError(t, err)
	assert.Equal(t, "sealed", string(got))
}
