package wallet

import "errors"

var (
	// ErrKeyNotFound is returned when no key material is available for a wallet.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidKeyFormat is returned for secrets that are not a usable private key.
	ErrInvalidKeyFormat = errors.New("invalid key format")
	// ErrKeyGeneration is returned when a new key cannot be created.
	ErrKeyGeneration = errors.New("key generation failed")
	// ErrKeyExists is returned when storing over an existing key record.
	ErrKeyExists = errors.New("key already stored")
	// ErrWrongPassphrase is returned when a sealed key cannot be opened.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupt key record")
	// ErrUnknownHandle is returned for a key handle that is not pending.
	ErrUnknownHandle = errors.New("unknown key handle")
	// ErrAddressMismatch is returned when stored key material does not derive
	// the wallet's address.
	ErrAddressMismatch = errors.New("key does not match wallet address")
)
