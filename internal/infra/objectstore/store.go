// Package objectstore provides content-addressed byte storage.
//
// Keys are derived from the content's sha256 digest, so a fetched payload
// can always be verified against the hash it was requested by.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	// ErrNotFound is returned when no object exists for a hash.
	ErrNotFound = errors.New("object not found")

	// ErrHashMismatch is returned when fetched content does not hash to
	// the requested key.
	ErrHashMismatch = errors.New("object content does not match hash")
)

// Store is the content-addressed object store boundary.
type Store interface {
	// Get fetches the object stored under hash.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Put stores data and returns its content hash.
	Put(ctx context.Context, data []byte) (string, error)
}

// HashOf computes the content hash used as a store key.
func HashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
