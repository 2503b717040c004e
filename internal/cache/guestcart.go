package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"cartsync/internal/model"
)

// GuestCart loads and saves the unauthenticated cart under KeyGuestCart.
type GuestCart struct {
	store  Store
	logger *slog.Logger
}

// NewGuestCart wraps store. A nil logger falls back to slog.Default.
func NewGuestCart(store Store, logger *slog.Logger) *GuestCart {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuestCart{store: store, logger: logger}
}

// Load returns the cached guest lines. An absent entry yields (nil, nil).
// Lines that violate the cart invariants (empty id or product, quantity < 1,
// duplicate id) are dropped. A value that is not a JSON array of lines is
// deleted and reported as ErrMalformed.
func (g *GuestCart) Load(ctx context.Context) ([]model.CartItem, error) {
	data, err := g.store.Get(ctx, KeyGuestCart)
	if errors.Is(err, ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var items []model.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		g.logger.Warn("discarding malformed guest cart",
			slog.Int("bytes", len(data)),
			slog.Any("error", err))
		if delErr := g.store.Delete(ctx, KeyGuestCart); delErr != nil {
			g.logger.Warn("deleting malformed guest cart", slog.Any("error", delErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	valid := items[:0]
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ID == "" || item.ProductID == "" || item.Quantity < 1 || seen[item.ID] {
			g.logger.Debug("dropping invalid guest line",
				slog.String("item_id", item.ID),
				slog.String("product_id", item.ProductID),
				slog.Int("quantity", item.Quantity))
			continue
		}
		seen[item.ID] = true
		valid = append(valid, item)
	}
	return valid, nil
}

// Save writes the full line set. An empty set deletes the entry.
func (g *GuestCart) Save(ctx context.Context, items []model.CartItem) error {
	if len(items) == 0 {
		return g.store.Delete(ctx, KeyGuestCart)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding guest cart: %w", err)
	}
	return g.store.Set(ctx, KeyGuestCart, data)
}

// Delete removes the guest cart entry.
func (g *GuestCart) Delete(ctx context.Context) error {
	return g.store.Delete(ctx, KeyGuestCart)
}
