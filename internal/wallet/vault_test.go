package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vaultFactory func(t *testing.T, password string) SecretStore

// vaultImpls returns factories that share backing state per test, so a
// second vault opened with another password sees the first one's records.
func vaultImpls(t *testing.T) map[string]vaultFactory {
	db := storage.NewMemory()
	dir := t.TempDir()
	return map[string]vaultFactory{
		"db": func(t *testing.T, password string) SecretStore {
			return NewDBVault(db, NewSealer([]byte(password), fastParams()))
		},
		"file": func(t *testing.T, password string) SecretStore {
			v, err := NewFileVault(dir, NewSealer([]byte(password), fastParams()))
			require.NoError(t, err)
			return v
		},
	}
}

func TestVault_StoreRetrieve(t *testing.T) {
	for name, open := range vaultImpls(t) {
		t.Run(name, func(t *testing.T) {
			v := open(t, "pw")
			secret := []byte{1, 2, 3, 4}

			require.NoError(t, v.Store("wallet-1", secret))
			got, err := v.Retrieve("wallet-1")
			require.NoError(t, err)
			assert.Equal(t, secret, got)
		})
	}
}

func TestVault_WriteOnce(t *testing.T) {
	for name, open := range vaultImpls(t) {
		t.Run(name, func(t *testing.T) {
			v := open(t, "pw")
			require.NoError(t, v.Store("w", []byte("a")))
			err := v.Store("w", []byte("b"))
			assert.ErrorIs(t, err, ErrKeyExists)

			got, err := v.Retrieve("w")
			require.NoError(t, err)
			assert.Equal(t, []byte("a"), got)
		})
	}
}

func TestVault_RetrieveMissing(t *testing.T) {
	for name, open := range vaultImpls(t) {
		t.Run(name, func(t *testing.T) {
			_, err := open(t, "pw").Retrieve("nope")
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestVault_WrongPassphrase(t *testing.T) {
	for name, open := range vaultImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, open(t, "right").Store("w", []byte("secret")))
			_, err := open(t, "wrong").Retrieve("w")
			assert.ErrorIs(t, err, ErrWrongPassphrase)
		})
	}
}

func TestVault_Delete(t *testing.T) {
	for name, open := range vaultImpls(t) {
		t.Run(name, func(t *testing.T) {
			v := open(t, "pw")
			require.NoError(t, v.Store("w", []byte("secret")))
			require.NoError(t, v.Delete("w"))
			require.NoError(t, v.Delete("w"), "second delete is a no-op")

			_, err := v.Retrieve("w")
			assert.ErrorIs(t, err, ErrKeyNotFound)
			require.NoError(t, v.Store("w", []byte("again")))
		})
	}
}

func TestVault_RejectsBadIDs(t *testing.T) {
	for name, open := range vaultImpls(t) {
		t.Run(name, func(t *testing.T) {
			v := open(t, "pw")
			for _, id := range []string{"", "..", "../escape", "a/b", "with space"} {
				assert.Error(t, v.Store(id, []byte("x")), "id %q", id)
			}
		})
	}
}

func TestFileVault_FilesAndList(t *testing.T) {
	dir := t.TempDir()
	v, err := NewFileVault(dir, NewSealer([]byte("pw"), fastParams()))
	require.NoError(t, err)

	require.NoError(t, v.Store("alpha", []byte("a")))
	require.NoError(t, v.Store("beta", []byte("b")))

	info, err := os.Stat(filepath.Join(dir, "alpha.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	ids, err := v.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, ids)

	raw, err := os.ReadFile(filepath.Join(dir, "alpha.key"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":1`)
}

func TestDBVault_Namespaced(t *testing.T) {
	db := storage.NewMemory()
	v := NewDBVault(db, NewSealer([]byte("pw"), fastParams()))
	require.NoError(t, v.Store("w", []byte("x")))

	ok, err := db.Has([]byte("k/w"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDBVault_RecordBoundToWallet(t *testing.T) {
	db := storage.NewMemory()
	v := NewDBVault(db, NewSealer([]byte("pw"), fastParams()))
	require.NoError(t, v.Store("w1", []byte("secret")))

	raw, err := db.Get([]byte("k/w1"))
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k/w2"), raw))

	_, err = v.Retrieve("w2")
	assert.ErrorIs(t, err, ErrWrongPassphrase, "a record moved to another id must not open")
}
