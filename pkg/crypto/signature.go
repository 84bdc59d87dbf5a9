package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKeySize is the length of a serialized private key scalar.
const PrivateKeySize = 32

// ErrInvalidScalar is returned for private keys outside [1, N-1].
var ErrInvalidScalar = errors.New("private key scalar out of range")

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
// Zero and values at or above the curve order are rejected rather than
// reduced.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(b))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return nil, ErrInvalidScalar
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(&scalar)}, nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Address returns the 20-byte account address: the last 20 bytes of the
// Keccak-256 hash of the uncompressed public key.
func (pk *PrivateKey) Address() common.Address {
	return AddressFromPubKey(pk.key.PubKey().SerializeUncompressed())
}

// ECDSA returns the key in the form go-ethereum signs with.
func (pk *PrivateKey) ECDSA() (*ecdsa.PrivateKey, error) {
	raw := pk.Serialize()
	defer zeroBytes(raw)
	return ethcrypto.ToECDSA(raw)
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// AddressFromPubKey derives an account address from a 65-byte uncompressed
// public key.
func AddressFromPubKey(uncompressed []byte) common.Address {
	if len(uncompressed) != 65 {
		return common.Address{}
	}
	h := ethcrypto.Keccak256(uncompressed[1:])
	return common.BytesToAddress(h[12:])
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
