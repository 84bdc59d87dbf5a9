package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
)

// SecretStore persists key material by wallet id. Implementations must treat
// records as write-once: Store fails with ErrKeyExists when a record is
// already present.
type SecretStore interface {
	Store(walletID string, secret []byte) error
	// Retrieve returns ErrKeyNotFound when no record exists.
	Retrieve(walletID string) ([]byte, error)
	Delete(walletID string) error
}

// Lister is implemented by stores that can enumerate the wallet ids they
// hold a record for.
type Lister interface {
	List() ([]string, error)
}

var (
	_ Lister = (*DBVault)(nil)
	_ Lister = (*FileVault)(nil)
)

// recordVersion is the current sealed record format.
const recordVersion = 1

// sealedRecord is the persisted form of one wallet key.
type sealedRecord struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Sealed    []byte    `json:"sealed"`
}

var walletIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

func validateWalletID(id string) error {
	if !walletIDPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("invalid wallet id %q", id)
	}
	return nil
}

func sealRecord(s *Sealer, walletID string, secret []byte) ([]byte, error) {
	sealed, err := s.Seal(walletID, secret)
	if err != nil {
		return nil, fmt.Errorf("seal key: %w", err)
	}
	rec := sealedRecord{
		Version:   recordVersion,
		CreatedAt: time.Now().UTC(),
		Sealed:    sealed,
	}
	return json.Marshal(&rec)
}

func openRecord(s *Sealer, walletID string, data []byte) ([]byte, error) {
	var rec sealedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse key record: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported key record version: %d", rec.Version)
	}
	return s.Open(walletID, rec.Sealed)
}

// DBVault stores sealed keys in a storage.DB under storage.KeySpace.
type DBVault struct {
	db     *storage.Namespace
	sealer *Sealer
}

// NewDBVault creates a vault over db. The sealer is owned by the vault.
func NewDBVault(db storage.DB, sealer *Sealer) *DBVault {
	return &DBVault{db: storage.Namespaced(db, storage.KeySpace), sealer: sealer}
}

// Store seals and writes a key record.
func (v *DBVault) Store(walletID string, secret []byte) error {
	if err := validateWalletID(walletID); err != nil {
		return err
	}
	ok, err := v.db.Has([]byte(walletID))
	if err != nil {
		return fmt.Errorf("check key record: %w", err)
	}
	if ok {
		return fmt.Errorf("%w: wallet %s", ErrKeyExists, walletID)
	}
	data, err := sealRecord(v.sealer, walletID, secret)
	if err != nil {
		return err
	}
	if err := v.db.Put([]byte(walletID), data); err != nil {
		return fmt.Errorf("write key record: %w", err)
	}
	return nil
}

// Retrieve reads and opens a key record.
func (v *DBVault) Retrieve(walletID string) ([]byte, error) {
	data, err := v.db.Get([]byte(walletID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: wallet %s", ErrKeyNotFound, walletID)
	}
	if err != nil {
		return nil, fmt.Errorf("read key record: %w", err)
	}
	return openRecord(v.sealer, walletID, data)
}

// Delete removes a key record. Deleting a missing record is not an error.
func (v *DBVault) Delete(walletID string) error {
	return v.db.Delete([]byte(walletID))
}

// List returns the wallet ids that have a key record, in key order.
func (v *DBVault) List() ([]string, error) {
	var ids []string
	err := v.db.ForEach(nil, func(key, _ []byte) error {
		ids = append(ids, string(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list key records: %w", err)
	}
	return ids, nil
}

// Close zeroes the vault passphrase.
func (v *DBVault) Close() {
	v.sealer.Zero()
}
