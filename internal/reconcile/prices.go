package reconcile

import "cartsync/internal/model"

// PriceChange is a product whose server unit price differs from the one a
// guest line captured.
type PriceChange struct {
	ProductID string  `json:"productId"`
	Guest     float64 `json:"guestPrice"`
	Server    float64 `json:"serverPrice"`
}

// DiffPrices compares guest-captured unit prices with the server cart.
// Matching is by ProductID.
//
// Algorithm:
//  1. Index server lines by product
//  2. For each guest line with a server counterpart at a different price → change
//
// Each product is reported at most once, in guest order.
func DiffPrices(guest []model.CartItem, server []model.CartItem) []PriceChange {
	serverPrice := make(map[string]float64, len(server))
	for _, item := range server {
		serverPrice[item.ProductID] = item.UnitPrice
	}

	var changes []PriceChange
	seen := make(map[string]bool)
	for _, item := range guest {
		if seen[item.ProductID] {
			continue
		}
		sp, ok := serverPrice[item.ProductID]
		if !ok || sp == item.UnitPrice {
			continue
		}
		seen[item.ProductID] = true
		changes = append(changes, PriceChange{
			ProductID: item.ProductID,
			Guest:     item.UnitPrice,
			Server:    sp,
		})
	}
	return changes
}
