// Package gateway talks to the storefront's authoritative cart API.
//
// A Gateway holds no cart state. Every call is one request; nothing is
// retried here. Callers decide what to do with retryable errors using
// model.IsRetryable and APIError.RetryAfter.
package gateway

import (
	"context"

	"cartsync/internal/model"
)

// Gateway is the remote cart of the authenticated user.
type Gateway interface {
	// Fetch returns the user's cart. NotFound when none exists yet.
	Fetch(ctx context.Context) (*model.Cart, error)

	// Create makes an empty cart for the user.
	Create(ctx context.Context) (*model.Cart, error)

	// AddItem adds quantity of productID and returns the full cart.
	AddItem(ctx context.Context, productID string, quantity int) (*model.Cart, error)

	// RemoveItem deletes a line. A nil cart with a nil error means the
	// server confirmed without returning state.
	RemoveItem(ctx context.Context, itemID string) (*model.Cart, error)

	// SetQuantity replaces a line's quantity.
	SetQuantity(ctx context.Context, itemID string, quantity int) (*model.Cart, error)

	// Clear empties the cart.
	Clear(ctx context.Context) error
}

// ProductLookup resolves read-only product data. Guest adds use it to
// capture a unit price without touching the remote cart.
type ProductLookup interface {
	Product(ctx context.Context, productID string) (*model.Product, error)
}

// TokenSource supplies the current bearer token, or "" when signed out.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

// Token calls f.
func (f TokenFunc) Token() string { return f() }
