// Package reconcile merges a guest cart into the authenticated user's remote
// cart and reports what happened to every line.
//
// The merge is a sequential replay: each guest line becomes one remote add,
// in insertion order. Lines the server rejects for item-level reasons are
// skipped; anything else stops the replay so the caller can keep the
// unprocessed lines for a retry.
package reconcile

import (
	"context"
	"errors"

	"cartsync/internal/model"
)

// Outcome classifies a single line's add result.
type Outcome int

const (
	// Added means the server accepted the line.
	Added Outcome = iota
	// Skipped means the line is dropped and the merge continues.
	Skipped
	// Stopped means the merge must not continue.
	Stopped
)

// Classify maps an add error to its Outcome.
// Item-level rejections (missing product, no stock, bad quantity) skip the
// line; session, server, network and unknown failures stop the merge.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Added
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrOutOfStock),
		errors.Is(err, model.ErrValidation):
		return Skipped
	default:
		return Stopped
	}
}

// SkippedLine is a guest line the server refused.
type SkippedLine struct {
	Item   model.CartItem `json:"item"`
	Reason string         `json:"reason"`
}

// MergeReport describes a completed or stopped merge.
type MergeReport struct {
	Added   []model.CartItem `json:"added"`
	Skipped []SkippedLine    `json:"skipped"`

	// Remaining holds the failing line and everything after it when the
	// merge stopped. Empty on success.
	Remaining []model.CartItem `json:"remaining,omitempty"`

	// PriceChanges lists lines whose server price differs from the price
	// captured in guest mode.
	PriceChanges []PriceChange `json:"priceChanges,omitempty"`

	// Err is the failure that stopped the merge, nil on success.
	Err error `json:"-"`
}

// Complete reports whether every line was processed.
func (r *MergeReport) Complete() bool {
	return r.Err == nil
}

// AddFunc adds one product line to the remote cart.
type AddFunc func(ctx context.Context, productID string, quantity int) (*model.Cart, error)

// Merge replays lines through add. It returns the report and the last cart
// the server returned (nil if no add succeeded).
func Merge(ctx context.Context, lines []model.CartItem, add AddFunc) (*MergeReport, *model.Cart) {
	report := &MergeReport{
		Added:   []model.CartItem{},
		Skipped: []SkippedLine{},
	}
	var last *model.Cart

	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			report.Err = err
			report.Remaining = model.CloneItems(lines[i:])
			return report, last
		}

		cart, err := add(ctx, line.ProductID, line.Quantity)
		switch Classify(err) {
		case Added:
			report.Added = append(report.Added, line)
			if cart != nil {
				last = cart
			}
		case Skipped:
			report.Skipped = append(report.Skipped, SkippedLine{Item: line, Reason: reason(err)})
		case Stopped:
			report.Err = err
			report.Remaining = model.CloneItems(lines[i:])
			return report, last
		}
	}
	return report, last
}

func reason(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
