package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/ethereum/go-ethereum/common"
)

// KeyHandle identifies one generated or imported key that is not yet bound
// to a wallet id. Every CreateKeypair or ImportKeypair call gets its own
// handle, even for the same key. It is safe to log.
type KeyHandle string

// KeyStore caches signing keys for the running session, keyed by wallet id.
// Keys are persisted through an optional SecretStore so a later session can
// restore them. It is safe for concurrent use.
type KeyStore struct {
	mu      sync.RWMutex
	pending map[KeyHandle]*crypto.PrivateKey
	keys    map[string]*crypto.PrivateKey
	vault   SecretStore
	seq     uint64
}

// NewKeyStore creates a key store. vault may be nil, in which case keys live
// only for the session.
func NewKeyStore(vault SecretStore) *KeyStore {
	return &KeyStore{
		pending: make(map[KeyHandle]*crypto.PrivateKey),
		keys:    make(map[string]*crypto.PrivateKey),
		vault:   vault,
	}
}

// CreateKeypair generates a new key and holds it as pending.
func (ks *KeyStore) CreateKeypair() (common.Address, KeyHandle, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, "", fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	addr, h := ks.addPending(key)
	return addr, h, nil
}

// ImportKeypair parses a hex private key (with or without 0x) or a BIP-39
// mnemonic and holds the resulting key as pending.
func (ks *KeyStore) ImportKeypair(secret string) (common.Address, KeyHandle, error) {
	key, err := parseSecret(secret)
	if err != nil {
		return common.Address{}, "", err
	}
	addr, h := ks.addPending(key)
	return addr, h, nil
}

func parseSecret(secret string) (*crypto.PrivateKey, error) {
	s := strings.TrimSpace(secret)
	if looksLikeMnemonic(s) {
		if !ValidateMnemonic(s) {
			return nil, fmt.Errorf("%w: mnemonic has an unknown word or a bad checksum", ErrInvalidKeyFormat)
		}
		key, err := KeyFromMnemonic(s)
		if err != nil {
			if errors.Is(err, ErrInvalidKeyFormat) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
		}
		return key, nil
	}

	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*crypto.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d hex characters", ErrInvalidKeyFormat, 2*crypto.PrivateKeySize)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrInvalidKeyFormat)
	}
	defer zero(raw)
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return key, nil
}

// addPending holds key under a fresh handle. Concurrent imports of one key
// each keep their own copy, so discarding one never touches the other.
func (ks *KeyStore) addPending(key *crypto.PrivateKey) (common.Address, KeyHandle) {
	ks.mu.Lock()
	ks.seq++
	h := KeyHandle(fmt.Sprintf("%s-%d", crypto.Fingerprint(key.PublicKey()), ks.seq))
	ks.pending[h] = key
	ks.mu.Unlock()

	addr := key.Address()
	log.Keys.Debug().Str("handle", string(h)).Str("address", addr.Hex()).Msg("Key pending")
	return addr, h
}

// Bind moves a pending key into the session cache under walletID and
// persists it to the vault. On error the key stays pending so the caller can
// retry or Discard it.
func (ks *KeyStore) Bind(h KeyHandle, walletID string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	key, ok := ks.pending[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if ks.vault != nil {
		raw := key.Serialize()
		err := ks.vault.Store(walletID, raw)
		zero(raw)
		if err != nil {
			return fmt.Errorf("persist key for wallet %s: %w", walletID, err)
		}
	}
	if old, ok := ks.keys[walletID]; ok {
		old.Zero()
	}
	ks.keys[walletID] = key
	delete(ks.pending, h)

	log.Keys.Info().Str("wallet", walletID).Str("address", key.Address().Hex()).Msg("Key bound")
	return nil
}

// Discard zeroes and drops a pending key. Unknown handles are ignored.
func (ks *KeyStore) Discard(h KeyHandle) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if key, ok := ks.pending[h]; ok {
		key.Zero()
		delete(ks.pending, h)
		log.Keys.Debug().Str("handle", string(h)).Msg("Pending key discarded")
	}
}

// Signer returns a signer for walletID. It fails with ErrKeyNotFound when the
// session holds no key for that wallet; it never falls back to the vault.
// The caller must Release the signer when done.
func (ks *KeyStore) Signer(walletID string) (Signer, error) {
	ks.mu.RLock()
	key, ok := ks.keys[walletID]
	if !ok {
		ks.mu.RUnlock()
		return nil, fmt.Errorf("%w: wallet %s", ErrKeyNotFound, walletID)
	}
	s, err := newKeySigner(key)
	ks.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Has reports whether the session holds a key for walletID.
func (ks *KeyStore) Has(walletID string) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, ok := ks.keys[walletID]
	return ok
}

// Restore loads walletID's key from the vault into the session cache. The
// key must derive expected; otherwise ErrAddressMismatch is returned and
// nothing is cached.
func (ks *KeyStore) Restore(walletID string, expected common.Address) error {
	if ks.Has(walletID) {
		return nil
	}
	if ks.vault == nil {
		return fmt.Errorf("%w: wallet %s (no vault configured)", ErrKeyNotFound, walletID)
	}

	raw, err := ks.vault.Retrieve(walletID)
	if err != nil {
		return err
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	zero(raw)
	if err != nil {
		return fmt.Errorf("%w: stored key for wallet %s: %v", ErrInvalidKeyFormat, walletID, err)
	}
	if key.Address() != expected {
		key.Zero()
		return fmt.Errorf("%w: wallet %s", ErrAddressMismatch, walletID)
	}

	ks.mu.Lock()
	if _, ok := ks.keys[walletID]; ok {
		key.Zero()
	} else {
		ks.keys[walletID] = key
	}
	ks.mu.Unlock()

	log.Keys.Info().Str("wallet", walletID).Str("address", expected.Hex()).Msg("Key restored")
	return nil
}

// Forget zeroes walletID's cached key and deletes it from the vault.
func (ks *KeyStore) Forget(walletID string) error {
	ks.mu.Lock()
	if key, ok := ks.keys[walletID]; ok {
		key.Zero()
		delete(ks.keys, walletID)
	}
	ks.mu.Unlock()

	if ks.vault != nil {
		if err := ks.vault.Delete(walletID); err != nil {
			return fmt.Errorf("delete stored key for wallet %s: %w", walletID, err)
		}
	}
	log.Keys.Info().Str("wallet", walletID).Msg("Key forgotten")
	return nil
}

// Close zeroes every cached and pending key.
func (ks *KeyStore) Close() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for h, key := range ks.pending {
		key.Zero()
		delete(ks.pending, h)
	}
	for id, key := range ks.keys {
		key.Zero()
		delete(ks.keys, id)
	}
}
