package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// keyFileExt is the extension of a sealed key file.
const keyFileExt = ".key"

// FileVault stores one sealed key file per wallet in a directory.
type FileVault struct {
	path   string
	sealer *Sealer
}

// NewFileVault creates a vault that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewFileVault(path string, sealer *Sealer) (*FileVault, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &FileVault{path: path, sealer: sealer}, nil
}

// keyPath returns the file path for a wallet's key.
func (fv *FileVault) keyPath(walletID string) string {
	return filepath.Join(fv.path, walletID+keyFileExt)
}

// Store seals a key and writes it to a new file.
func (fv *FileVault) Store(walletID string, secret []byte) error {
	if err := validateWalletID(walletID); err != nil {
		return err
	}
	data, err := sealRecord(fv.sealer, walletID, secret)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(fv.keyPath(walletID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: wallet %s", ErrKeyExists, walletID)
	}
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("write key file: %w", err)
	}
	return f.Close()
}

// Retrieve reads and opens a wallet's key file.
func (fv *FileVault) Retrieve(walletID string) ([]byte, error) {
	if err := validateWalletID(walletID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, err)
	}
	data, err := os.ReadFile(fv.keyPath(walletID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: wallet %s", ErrKeyNotFound, walletID)
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return openRecord(fv.sealer, walletID, data)
}

// Delete removes a wallet's key file. Deleting a missing file is not an error.
func (fv *FileVault) Delete(walletID string) error {
	if err := validateWalletID(walletID); err != nil {
		return err
	}
	err := os.Remove(fv.keyPath(walletID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete key file: %w", err)
	}
	return nil
}

// List returns the wallet ids that have a key file.
func (fv *FileVault) List() ([]string, error) {
	entries, err := os.ReadDir(fv.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name := e.Name(); strings.HasSuffix(name, keyFileExt) {
			ids = append(ids, strings.TrimSuffix(name, keyFileExt))
		}
	}
	return ids, nil
}

// Close zeroes the vault passphrase.
func (fv *FileVault) Close() {
	fv.sealer.Zero()
}
