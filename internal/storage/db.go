// Package storage is the local key-value store behind the key vault and the
// pending-write journal.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach visits every key with the given prefix in key order. The
	// callback owns the key and value slices. A non-nil error from fn
	// stops iteration and is returned.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// NewBatch starts a set of writes applied atomically on Commit.
	NewBatch() Batch
	Close() error
}

// Batch collects writes that are applied atomically on Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}
