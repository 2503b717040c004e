// Package model defines the cart data model and error taxonomy shared by
// the cache, gateway, session and engine packages.
package model

import "time"

// Product is read-only reference data fetched from the storefront.
type Product struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Price      float64  `json:"price"`
	SalePrice  *float64 `json:"salePrice,omitempty"`
	Stock      int      `json:"stock"`
	CategoryID string   `json:"categoryId,omitempty"`
	SellerID   string   `json:"sellerId,omitempty"`
}

// EffectivePrice returns the sale price when one is set, else the list price.
func (p *Product) EffectivePrice() float64 {
	if p.SalePrice != nil && *p.SalePrice > 0 {
		return *p.SalePrice
	}
	return p.Price
}

// CartItem is one line in a cart. Quantity is always >= 1; a line that
// would drop below 1 is removed instead.
type CartItem struct {
	ID        string   `json:"id"`
	ProductID string   `json:"productId"`
	Product   *Product `json:"product,omitempty"`
	Quantity  int      `json:"quantity"`
	UnitPrice float64  `json:"unitPrice"`
}

// Cart is the item set plus its derived totals.
// TotalItems and TotalPrice are never set independently of Items;
// the engine recomputes them after every mutation.
type Cart struct {
	ID         string     `json:"id,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	Items      []CartItem `json:"items"`
	TotalItems int        `json:"totalItems"`
	TotalPrice float64    `json:"totalPrice"`
}

// Find returns the index of the item with the given id, or -1.
func (c *Cart) Find(itemID string) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to hand to callers.
func (c *Cart) Clone() Cart {
	out := *c
	out.Items = CloneItems(c.Items)
	return out
}

// CloneItems copies a line slice, including product snapshots.
func CloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	for i, item := range items {
		if item.Product != nil {
			p := *item.Product
			if p.SalePrice != nil {
				sp := *p.SalePrice
				p.SalePrice = &sp
			}
			item.Product = &p
		}
		out[i] = item
	}
	return out
}

// Session mirrors the authentication state.
// Token is the bearer credential and never leaves the process.
type Session struct {
	Authenticated bool      `json:"authenticated"`
	UserID        string    `json:"userId,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
	Token         string    `json:"-"`
}

// Theme is the persisted UI colour scheme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Valid reports whether t is one of the known themes.
func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}
