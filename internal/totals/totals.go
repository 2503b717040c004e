// Package totals derives cart item count and price from the item set.
//
// Totals are never stored independently of the items. Prices accumulate in
// float64 and are rounded to currency precision only when formatted, so
// rounding error does not compound across lines.
package totals

import (
	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

// currencyPlaces is the number of decimals shown for prices.
const currencyPlaces = 2

// Totals is the derived view of an item set.
type Totals struct {
	Count int
	Price float64
}

// Compute sums quantity and quantity × unit price over items.
func Compute(items []model.CartItem) Totals {
	var t Totals
	for _, item := range items {
		t.Count += item.Quantity
		t.Price += float64(item.Quantity) * item.UnitPrice
	}
	return t
}

// Apply recomputes the totals of cart in place from its items.
func Apply(cart *model.Cart) {
	t := Compute(cart.Items)
	cart.TotalItems = t.Count
	cart.TotalPrice = t.Price
}

// Consistent reports whether the stored totals match the items.
// Price is compared at currency precision.
func Consistent(cart *model.Cart) bool {
	t := Compute(cart.Items)
	return t.Count == cart.TotalItems && Round(t.Price).Equal(Round(cart.TotalPrice))
}

// PriceString formats the total price at currency precision.
func (t Totals) PriceString() string {
	return FormatPrice(t.Price)
}

// Round rounds a price to currency precision (half away from zero).
func Round(price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Round(currencyPlaces)
}

// FormatPrice renders a price with exactly two decimals, e.g. 19.9 → "19.90".
func FormatPrice(price float64) string {
	return Round(price).StringFixed(currencyPlaces)
}
