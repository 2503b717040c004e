// Package cache provides the durable key-value store behind the guest cart,
// the theme preference and the persisted session token.
//
// Stores are passive: they never interpret values. Typed access for each
// fixed key lives in guestcart.go and theme.go.
package cache

import (
	"context"
	"errors"
)

// Fixed keys. The layout is versionless; a value that fails to decode is
// discarded rather than migrated.
const (
	KeyGuestCart = "guestCart"
	KeyTheme     = "theme"
	KeyToken     = "token"
)

var (
	// ErrMiss is returned by Get when the key is absent.
	ErrMiss = errors.New("cache miss")

	// ErrQuotaExceeded is returned by Set when the write would exceed the
	// store's byte budget.
	ErrQuotaExceeded = errors.New("cache quota exceeded")

	// ErrMalformed is returned by typed loaders when a stored value cannot
	// be decoded. The entry has already been deleted when this is returned.
	ErrMalformed = errors.New("malformed cache entry")
)

// Store is a durable byte store keyed by string.
// Delete of an absent key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
