package handler

import (
	"context"
	"net/http"

	"cartsync/internal/engine"
	"cartsync/internal/model"
	"cartsync/internal/reconcile"
	"cartsync/internal/totals"
)

// CartView is the cart as the UI renders it. TotalPrice is formatted to
// two decimals; Error carries the last failed operation, if any.
type CartView struct {
	Mode       engine.Mode      `json:"mode"`
	CartID     string           `json:"cartId,omitempty"`
	Items      []model.CartItem `json:"items"`
	ItemCount  int              `json:"itemCount"`
	TotalPrice string           `json:"totalPrice"`
	Error      *errorBody       `json:"error,omitempty"`
}

func (h *Handler) cartView() *CartView {
	snap := h.cart.Snapshot()
	items := snap.Cart.Items
	if items == nil {
		items = []model.CartItem{}
	}
	view := &CartView{
		Mode:       snap.Mode,
		CartID:     snap.Cart.ID,
		Items:      items,
		ItemCount:  snap.ItemCount,
		TotalPrice: totals.FormatPrice(snap.TotalPrice),
	}
	if snap.Err != nil {
		body := newErrorBody(h.toAPIError(snap.Err))
		view.Error = &body
	}
	return view
}

// addItemRequest is the POST /cart/items body. An absent quantity means 1.
type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

// addQuantity defaults an absent quantity to 1. Explicit values pass
// through so the engine can reject non-positive ones.
func addQuantity(q *int) int {
	if q == nil {
		return 1
	}
	return *q
}

// quantityRequest is the PUT /cart/items/{id} body.
type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// handleGetCart returns the current cart.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleAddItem adds a product line.
// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.cart.AddItem(r.Context(), req.ProductID, addQuantity(req.Quantity)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleUpdateQuantity sets a line's quantity. Zero removes the line.
// PUT /cart/items/{id}
func (h *Handler) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.cart.UpdateQuantity(r.Context(), r.PathValue("id"), req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleRemoveItem deletes a line. Removing an absent line succeeds.
// DELETE /cart/items/{id}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.RemoveItem(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView())
}

// handleClear empties the cart.
// DELETE /cart
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.Clear(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartView())
}

// MergeResult is the outcome of a guest cart merge and the cart after it.
type MergeResult struct {
	Report *reconcile.MergeReport `json:"report"`
	Cart   *CartView              `json:"cart"`
}

// merge retries a guest cart merge for the signed-in user. A merge that
// stopped earlier resumes with the lines it left in the guest cache.
func (h *Handler) merge(ctx context.Context) (*MergeResult, error) {
	if !h.sessions.Current().Authenticated {
		return nil, model.NewUnauthorizedError("not logged in")
	}
	report, err := h.cart.MergeGuestCartIntoRemote(ctx)
	if err != nil {
		return nil, err
	}
	return &MergeResult{Report: report, Cart: h.cartView()}, nil
}

// handleMerge moves the guest cart into the remote cart.
// POST /cart/merge
func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	result, err := h.merge(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}
