// Package crypto provides the key primitives used by the wallet key store.
package crypto

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// FingerprintSize is the number of hash bytes kept in a key fingerprint.
const FingerprintSize = 16

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// Fingerprint returns a short, non-secret identifier for a public key. It is
// safe to log and to use as a map key.
func Fingerprint(pubKey []byte) string {
	h := Hash(pubKey)
	return hex.EncodeToString(h[:FingerprintSize])
}
