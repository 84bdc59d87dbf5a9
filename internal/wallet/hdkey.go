package wallet

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 derivation path constants.
// Full path: m/44'/60'/account'/change/index
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeEther is the SLIP-44 coin type for Ether (hardened).
	CoinTypeEther = bip32.FirstHardenedChild + 60

	// ChangeExternal is for receiving addresses.
	ChangeExternal = 0
)

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath derives a key along a sequence of indices.
// For hardened derivation, add bip32.FirstHardenedChild to the index.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k.key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return &HDKey{key: current}, nil
}

// DeriveAccount derives the key at m/44'/60'/0'/0/index.
func (k *HDKey) DeriveAccount(index uint32) (*HDKey, error) {
	return k.DerivePath(
		PurposeBIP44,
		CoinTypeEther,
		bip32.FirstHardenedChild,
		ChangeExternal,
		index,
	)
}

// PrivateKey returns the secp256k1 private key held by this HD key.
func (k *HDKey) PrivateKey() (*crypto.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	raw := scalarBytes(k.key.Key)
	defer zero(raw)
	return crypto.PrivateKeyFromBytes(raw)
}

// scalarBytes normalizes a bip32 private key to exactly 32 bytes. The
// library may return 33 bytes with a leading zero, or fewer than 32 when
// the scalar has leading zero bytes.
func scalarBytes(raw []byte) []byte {
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	out := make([]byte, crypto.PrivateKeySize)
	if len(raw) <= crypto.PrivateKeySize {
		copy(out[crypto.PrivateKeySize-len(raw):], raw)
	}
	return out
}

// KeyFromMnemonic derives the first account key (m/44'/60'/0'/0/0) of a
// BIP-39 mnemonic with an empty passphrase.
func KeyFromMnemonic(mnemonic string) (*crypto.PrivateKey, error) {
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	defer zero(seed)

	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	acct, err := master.DeriveAccount(0)
	if err != nil {
		return nil, err
	}
	return acct.PrivateKey()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
