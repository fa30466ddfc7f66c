// Package secretstore defines the key/value boundary the vault persists through.
//
// Every value lokivault keeps at rest (master credential, encrypted
// collections, lock state, settings) is written through a Store. Entries may be
// marked as biometric-gated, in which case they are only readable through
// RetrieveWithBiometric after the caller has completed a biometric check.
package secretstore

import (
	"context"
	"errors"
)

// Errors
var (
	ErrBiometricRequired = errors.New("secretstore: entry requires biometric retrieval")
	ErrInvalidKey        = errors.New("secretstore: invalid key")
	ErrClosed            = errors.New("secretstore: store is closed")
	ErrInsufficientDisk  = errors.New("secretstore: insufficient disk space")
)

// Store is a durable key/value store for opaque byte values.
//
// Retrieve returns (nil, nil) when the key is absent. Deleting an absent key
// is not an error.
type Store interface {
	Save(ctx context.Context, key string, value []byte, requireBiometric bool) error
	Retrieve(ctx context.Context, key string) ([]byte, error)
	RetrieveWithBiometric(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

func validateKey(key string) error {
	if key == "" || len(key) > 256 {
		return ErrInvalidKey
	}
	return nil
}
