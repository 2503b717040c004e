package gateway

import (
	"context"

	"cartsync/internal/model"
)

// Mock implements Gateway and ProductLookup for testing.
// Each method can be configured via function fields.
type Mock struct {
	FetchFunc       func(ctx context.Context) (*model.Cart, error)
	CreateFunc      func(ctx context.Context) (*model.Cart, error)
	AddItemFunc     func(ctx context.Context, productID string, quantity int) (*model.Cart, error)
	RemoveItemFunc  func(ctx context.Context, itemID string) (*model.Cart, error)
	SetQuantityFunc func(ctx context.Context, itemID string, quantity int) (*model.Cart, error)
	ClearFunc       func(ctx context.Context) error
	ProductFunc     func(ctx context.Context, productID string) (*model.Product, error)
}

// Fetch calls the configured FetchFunc or returns NotFound.
func (m *Mock) Fetch(ctx context.Context) (*model.Cart, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return nil, model.NewNotFoundError("cart")
}

// Create calls the configured CreateFunc or returns an empty cart.
func (m *Mock) Create(ctx context.Context) (*model.Cart, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx)
	}
	return &model.Cart{ID: "mock-cart", Items: []model.CartItem{}}, nil
}

// AddItem calls the configured AddItemFunc or returns a server error.
func (m *Mock) AddItem(ctx context.Context, productID string, quantity int) (*model.Cart, error) {
	if m.AddItemFunc != nil {
		return m.AddItemFunc(ctx, productID, quantity)
	}
	return nil, model.NewServerError("mock", nil)
}

// RemoveItem calls the configured RemoveItemFunc or returns NotFound.
func (m *Mock) RemoveItem(ctx context.Context, itemID string) (*model.Cart, error) {
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, itemID)
	}
	return nil, model.NewNotFoundError("cart item")
}

// SetQuantity calls the configured SetQuantityFunc or returns NotFound.
func (m *Mock) SetQuantity(ctx context.Context, itemID string, quantity int) (*model.Cart, error) {
	if m.SetQuantityFunc != nil {
		return m.SetQuantityFunc(ctx, itemID, quantity)
	}
	return nil, model.NewNotFoundError("cart item")
}

// Clear calls the configured ClearFunc or succeeds.
func (m *Mock) Clear(ctx context.Context) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}
	return nil
}

// Product calls the configured ProductFunc or returns NotFound.
func (m *Mock) Product(ctx context.Context, productID string) (*model.Product, error) {
	if m.ProductFunc != nil {
		return m.ProductFunc(ctx, productID)
	}
	return nil, model.NewNotFoundError("product " + productID)
}

var (
	_ Gateway       = (*Mock)(nil)
	_ ProductLookup = (*Mock)(nil)
)
