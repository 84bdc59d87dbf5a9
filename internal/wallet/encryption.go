package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed envelope layout, big-endian:
//
//	version(1) | memory(4) | iterations(4) | parallelism(1) | salt(16) | nonce(24) | ciphertext
//
// The header and the wallet id are authenticated as associated data, so a
// record copied under another wallet id does not open.
const (
	envelopeVersion = 1
	saltSize        = 16
	headerSize      = 1 + 4 + 4 + 1 + saltSize
)

// Limits applied to parameters read back from disk.
const (
	maxMemoryKiB  = 1 << 20 // 1 GiB
	maxIterations = 16
)

// EncryptionParams holds the Argon2id cost used when sealing new keys.
type EncryptionParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns the Argon2id cost for interactive unlocks.
func DefaultParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
}

func (p EncryptionParams) validate() error {
	if p.Memory == 0 || p.Memory > maxMemoryKiB || p.Iterations == 0 || p.Iterations > maxIterations || p.Parallelism == 0 {
		return fmt.Errorf("argon2 parameters out of range: m=%d t=%d p=%d", p.Memory, p.Iterations, p.Parallelism)
	}
	return nil
}

// Sealer encrypts key material under one passphrase with Argon2id and
// XChaCha20-Poly1305.
type Sealer struct {
	password []byte
	params   EncryptionParams
}

// NewSealer copies password so the caller may zero its own buffer.
func NewSealer(password []byte, params EncryptionParams) *Sealer {
	return &Sealer{password: append([]byte(nil), password...), params: params}
}

// Seal encrypts secret for walletID.
func (s *Sealer) Seal(walletID string, secret []byte) ([]byte, error) {
	if err := s.params.validate(); err != nil {
		return nil, err
	}
	out := make([]byte, headerSize, headerSize+chacha20poly1305.NonceSizeX+len(secret)+chacha20poly1305.Overhead)
	out[0] = envelopeVersion
	binary.BigEndian.PutUint32(out[1:], s.params.Memory)
	binary.BigEndian.PutUint32(out[5:], s.params.Iterations)
	out[9] = s.params.Parallelism
	if _, err := rand.Read(out[10:headerSize]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := s.deriveKey(out[10:headerSize], s.params)
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	out = append(out, nonce...)
	return aead.Seal(out, nonce, secret, associatedData(out[:headerSize], walletID)), nil
}

// Open decrypts a record sealed for walletID. A wrong passphrase, a
// tampered record or a record sealed for another wallet all report
// ErrWrongPassphrase.
func (s *Sealer) Open(walletID string, sealed []byte) ([]byte, error) {
	if len(sealed) < headerSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: record too short (%d bytes)", ErrWrongPassphrase, len(sealed))
	}
	if sealed[0] != envelopeVersion {
		return nil, fmt.Errorf("unsupported key envelope version %d", sealed[0])
	}
	params := EncryptionParams{
		Memory:      binary.BigEndian.Uint32(sealed[1:]),
		Iterations:  binary.BigEndian.Uint32(sealed[5:]),
		Parallelism: sealed[9],
	}
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}

	header := sealed[:headerSize]
	nonce := sealed[headerSize : headerSize+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[headerSize+chacha20poly1305.NonceSizeX:]

	key := s.deriveKey(header[10:], params)
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, associatedData(header, walletID))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}

// Zero clears the passphrase. The sealer is unusable afterwards.
func (s *Sealer) Zero() {
	zero(s.password)
}

func (s *Sealer) deriveKey(salt []byte, p EncryptionParams) []byte {
	return argon2.IDKey(s.password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

func associatedData(header []byte, walletID string) []byte {
	ad := make([]byte, 0, len(header)+len(walletID))
	return append(append(ad, header...), walletID...)
}
