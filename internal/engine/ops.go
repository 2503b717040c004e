package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cartsync/internal/cache"
	"cartsync/internal/model"
)

// errSessionChanged is returned when a logout landed while a call was in
// flight and its result was discarded.
var errSessionChanged = model.NewUnauthorizedError("session changed during operation")

// Initialize loads the cart of record for session.
//
// Authenticated: fetch the remote cart, creating one if none exists. Guest
// lines left behind by an interrupted merge are merged now. A rejected
// token forces the engine back to guest mode.
//
// Guest: load the cached guest cart. An absent or malformed entry yields
// an empty cart without error.
func (e *Engine) Initialize(ctx context.Context, s model.Session) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	epoch := e.currentEpoch()

	if !s.Authenticated {
		items, err := e.loadGuest(ctx)
		e.commit(epoch, ModeGuest, model.Cart{Items: items}, err)
		return err
	}

	remote, err := e.loadRemote(ctx)
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			e.forceGuest(ctx, err)
			return err
		}
		e.logger.Warn("loading remote cart", slog.Any("error", err))
		e.commit(epoch, ModeAuthenticated, model.Cart{UserID: s.UserID}, err)
		return err
	}
	if !e.commit(epoch, ModeAuthenticated, *remote, nil) {
		return errSessionChanged
	}

	leftover, err := e.loadGuest(ctx)
	if err != nil || len(leftover) == 0 {
		return nil
	}
	e.logger.Info("resuming interrupted guest cart merge", slog.Int("lines", len(leftover)))
	_, err = e.merge(ctx, leftover)
	return err
}

// AddItem adds quantity of productID.
func (e *Engine) AddItem(ctx context.Context, productID string, quantity int) error {
	if productID == "" {
		return model.NewValidationError("productId", "required")
	}
	if quantity < 1 {
		return model.NewValidationError("quantity", "must be at least 1")
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	mode, epoch := e.begin()

	if mode == ModeAuthenticated {
		cart, err := e.gw.AddItem(ctx, productID, quantity)
		if err != nil {
			return e.remoteFailed(ctx, "add item", err)
		}
		if cart == nil {
			// Empty 2xx body: the server kept the line but sent no cart.
			if cart, err = e.gw.Fetch(ctx); err != nil {
				return e.remoteFailed(ctx, "reload cart after add", err)
			}
			if cart == nil {
				return e.fail(model.NewServerError("cart API", errors.New("empty add response")))
			}
		}
		return e.commitRemote(epoch, cart, nil)
	}

	product, err := e.products.Product(ctx, productID)
	if err != nil {
		return e.fail(fmt.Errorf("looking up product %s: %w", productID, err))
	}

	cart := e.Cart()
	cart.Items = append(cart.Items, model.CartItem{
		ID:        e.newID(),
		ProductID: productID,
		Product:   product,
		Quantity:  quantity,
		UnitPrice: product.EffectivePrice(),
	})
	return e.commitGuest(ctx, epoch, cart)
}

// RemoveItem deletes a line. Removing an absent line succeeds.
func (e *Engine) RemoveItem(ctx context.Context, itemID string) error {
	if itemID == "" {
		return model.NewValidationError("itemId", "required")
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	return e.remove(ctx, itemID)
}

// remove runs with the guard held.
func (e *Engine) remove(ctx context.Context, itemID string) error {
	mode, epoch := e.begin()
	cart := e.Cart()

	if mode == ModeAuthenticated {
		remote, err := e.gw.RemoveItem(ctx, itemID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return e.remoteFailed(ctx, "remove item", err)
		}
		if remote == nil {
			cart.Items = without(cart.Items, itemID)
			remote = &cart
		}
		return e.commitRemote(epoch, remote, nil)
	}

	if cart.Find(itemID) < 0 {
		return nil
	}
	cart.Items = without(cart.Items, itemID)
	return e.commitGuest(ctx, epoch, cart)
}

// UpdateQuantity sets a line's quantity. A quantity below 1 removes the
// line. An unknown line is a NotFoundError.
func (e *Engine) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	if itemID == "" {
		return model.NewValidationError("itemId", "required")
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	if quantity < 1 {
		return e.remove(ctx, itemID)
	}

	mode, epoch := e.begin()

	if mode == ModeAuthenticated {
		cart, err := e.gw.SetQuantity(ctx, itemID, quantity)
		if err != nil {
			return e.remoteFailed(ctx, "update quantity", err)
		}
		if cart == nil {
			local := e.Cart()
			if i := local.Find(itemID); i >= 0 {
				local.Items[i].Quantity = quantity
			}
			cart = &local
		}
		return e.commitRemote(epoch, cart, nil)
	}

	cart := e.Cart()
	i := cart.Find(itemID)
	if i < 0 {
		return e.fail(model.NewNotFoundError("cart item"))
	}
	cart.Items[i].Quantity = quantity
	return e.commitGuest(ctx, epoch, cart)
}

// Clear empties the cart. Clearing an empty or absent cart succeeds.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	mode, epoch := e.begin()
	cart := e.Cart()
	cart.Items = []model.CartItem{}

	if mode == ModeAuthenticated {
		if err := e.gw.Clear(ctx); err != nil && !errors.Is(err, model.ErrNotFound) {
			return e.remoteFailed(ctx, "clear cart", err)
		}
		return e.commitRemote(epoch, &cart, nil)
	}

	var storeErr error
	if err := e.guest.Delete(ctx); err != nil {
		storeErr = model.NewStorageError("delete", err)
		e.logger.Warn("deleting guest cart", slog.Any("error", err))
	}
	if !e.commit(epoch, ModeGuest, cart, storeErr) {
		return errSessionChanged
	}
	return storeErr
}

// commitRemote stores a server-confirmed cart.
func (e *Engine) commitRemote(epoch uint64, cart *model.Cart, err error) error {
	if !e.commit(epoch, ModeAuthenticated, *cart, err) {
		return errSessionChanged
	}
	return err
}

// commitGuest stores a locally computed cart and persists it. A failed
// write keeps the in-memory change and returns a StorageError.
func (e *Engine) commitGuest(ctx context.Context, epoch uint64, cart model.Cart) error {
	cart = normalize(cart)

	var storeErr error
	if err := e.guest.Save(ctx, cart.Items); err != nil {
		storeErr = model.NewStorageError("write", err)
		e.logger.Warn("persisting guest cart",
			slog.Int("items", len(cart.Items)),
			slog.Any("error", err))
	}
	if !e.commit(epoch, ModeGuest, cart, storeErr) {
		return errSessionChanged
	}
	return storeErr
}

// remoteFailed handles a gateway error. State is unchanged except on
// Unauthorized, which forces guest mode.
func (e *Engine) remoteFailed(ctx context.Context, op string, err error) error {
	if errors.Is(err, model.ErrUnauthorized) {
		e.forceGuest(ctx, err)
		return err
	}
	e.logger.Warn("cart API call failed", slog.String("op", op), slog.Any("error", err))
	return e.fail(err)
}

// forceGuest is the Unauthorized path: the server lines are dropped, the
// cached guest cart becomes active and the session is ended.
func (e *Engine) forceGuest(ctx context.Context, cause error) {
	items, loadErr := e.loadGuest(ctx)
	if loadErr != nil {
		e.logger.Warn("loading guest cart after forced logout", slog.Any("error", loadErr))
	}

	e.mu.Lock()
	e.epoch++
	e.mode = ModeGuest
	e.cart = normalize(model.Cart{Items: items})
	e.lastErr = cause
	e.mu.Unlock()
	e.notify()

	if e.session != nil {
		if err := e.session.Invalidate(ctx, cause.Error()); err != nil {
			e.logger.Warn("invalidating session", slog.Any("error", err))
		}
	}
}

// loadGuest reads the cached guest lines. Malformed data yields an empty
// cart with no error; read failures are StorageErrors.
func (e *Engine) loadGuest(ctx context.Context) ([]model.CartItem, error) {
	items, err := e.guest.Load(ctx)
	if errors.Is(err, cache.ErrMalformed) {
		return []model.CartItem{}, nil
	}
	if err != nil {
		return []model.CartItem{}, model.NewStorageError("read", err)
	}
	if items == nil {
		items = []model.CartItem{}
	}
	return items, nil
}

// loadRemote fetches the remote cart, creating it on NotFound.
func (e *Engine) loadRemote(ctx context.Context) (*model.Cart, error) {
	cart, err := e.gw.Fetch(ctx)
	if errors.Is(err, model.ErrNotFound) {
		e.logger.Debug("no remote cart, creating one")
		cart, err = e.gw.Create(ctx)
	}
	if err != nil {
		return nil, err
	}
	if cart == nil {
		cart = &model.Cart{}
	}
	return cart, nil
}

func without(items []model.CartItem, itemID string) []model.CartItem {
	out := make([]model.CartItem, 0, len(items))
	for _, item := range items {
		if item.ID != itemID {
			out = append(out, item)
		}
	}
	return out
}
