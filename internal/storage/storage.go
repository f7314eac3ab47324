// Package storage provides the durable key-value boundary the auth core
// persists its security state through. Values are opaque strings; callers
// own serialization. Implementations must tolerate concurrent calls for
// different keys without cross-contamination.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key starting with prefix, so callers can
	// reach records persisted by earlier processes. Order is unspecified.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
