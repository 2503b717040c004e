// Package engine owns the in-memory cart and keeps it in sync with either
// the guest cache or the remote cart, depending on authentication.
//
// Callers never branch on storage: every intent goes through one Engine,
// which routes it by mode. Authenticated mutations change state only after
// the server confirms; guest mutations are computed locally and persisted.
//
// At most one mutation runs at a time. An overlapping call fails at once
// with a ConcurrentOperationError; nothing is queued.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"cartsync/internal/cache"
	"cartsync/internal/gateway"
	"cartsync/internal/model"
	"cartsync/internal/totals"
)

// ErrDisposed is returned by every mutation after Dispose.
var ErrDisposed = errors.New("cart engine disposed")

// Mode says where the cart of record lives.
type Mode string

const (
	ModeGuest         Mode = "guest"
	ModeAuthenticated Mode = "authenticated"
)

// Invalidator ends a session the server rejected.
type Invalidator interface {
	Invalidate(ctx context.Context, reason string) error
}

// Config wires an Engine to its collaborators.
type Config struct {
	Gateway   gateway.Gateway
	Products  gateway.ProductLookup
	GuestCart *cache.GuestCart
	Session   Invalidator // Optional
	Logger    *slog.Logger
	NewID     func() string // Default: uuid.NewString
}

// Snapshot is a consistent copy of engine state.
type Snapshot struct {
	Mode       Mode
	Cart       model.Cart
	ItemCount  int
	TotalPrice float64
	Err        error
}

// Engine is the cart reconciliation engine.
type Engine struct {
	gw       gateway.Gateway
	products gateway.ProductLookup
	guest    *cache.GuestCart
	session  Invalidator
	logger   *slog.Logger
	newID    func() string

	busy     atomic.Bool
	disposed atomic.Bool

	mu      sync.RWMutex
	mode    Mode
	cart    model.Cart
	lastErr error
	// epoch changes whenever the cart of record is swapped out from under
	// an in-flight call (logout, forced logout). Results from an older
	// epoch are discarded.
	epoch uint64

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates an Engine in guest mode with an empty cart.
// Call Initialize before use.
func New(cfg Config) (*Engine, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if cfg.Products == nil {
		return nil, errors.New("product lookup is required")
	}
	if cfg.GuestCart == nil {
		return nil, errors.New("guest cart cache is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Engine{
		gw:       cfg.Gateway,
		products: cfg.Products,
		guest:    cfg.GuestCart,
		session:  cfg.Session,
		logger:   logger,
		newID:    newID,
		mode:     ModeGuest,
		cart:     model.Cart{Items: []model.CartItem{}},
		subs:     make(map[int]func(Snapshot)),
	}, nil
}

// acquire takes the single-flight guard.
func (e *Engine) acquire() error {
	if e.disposed.Load() {
		return ErrDisposed
	}
	if !e.busy.CompareAndSwap(false, true) {
		return model.NewConcurrentOperationError()
	}
	return nil
}

func (e *Engine) release() {
	e.busy.Store(false)
}

// ItemCount is the sum of quantities.
func (e *Engine) ItemCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cart.TotalItems
}

// TotalPrice is the unrounded sum of quantity × unit price.
func (e *Engine) TotalPrice() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cart.TotalPrice
}

// Items returns a copy of the cart lines.
func (e *Engine) Items() []model.CartItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return model.CloneItems(e.cart.Items)
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Cart returns a copy of the cart.
func (e *Engine) Cart() model.Cart {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cart.Clone()
}

// LastError is the error of the most recent operation, nil if it succeeded.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Snapshot returns all state read under one lock.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Mode:       e.mode,
		Cart:       e.cart.Clone(),
		ItemCount:  e.cart.TotalItems,
		TotalPrice: e.cart.TotalPrice,
		Err:        e.lastErr,
	}
}

// Subscribe registers fn to run after every state change. fn runs on the
// goroutine that made the change and must not call mutating methods.
func (e *Engine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subsMu.Unlock()

	return func() {
		e.subsMu.Lock()
		delete(e.subs, id)
		e.subsMu.Unlock()
	}
}

func (e *Engine) notify() {
	snap := e.Snapshot()

	e.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Dispose drops subscribers. Later mutations fail with ErrDisposed.
func (e *Engine) Dispose() {
	e.disposed.Store(true)
	e.subsMu.Lock()
	e.subs = make(map[int]func(Snapshot))
	e.subsMu.Unlock()
}

// begin reads the mode and epoch a call starts in under one lock, so a
// logout cannot land between the two reads.
func (e *Engine) begin() (Mode, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode, e.epoch
}

// currentEpoch reads the epoch a call starts in.
func (e *Engine) currentEpoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epoch
}

// commit applies a state change if nothing swapped the cart since epoch.
// The cart is normalized and its totals recomputed before it is stored.
// err becomes the last error; it is non-nil only when the change is kept
// despite a failure (a guest cache write, for example).
func (e *Engine) commit(epoch uint64, mode Mode, cart model.Cart, err error) bool {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		e.logger.Debug("discarding stale cart result", slog.Uint64("epoch", epoch))
		return false
	}
	e.mode = mode
	e.cart = normalize(cart)
	e.lastErr = err
	e.mu.Unlock()

	e.notify()
	return true
}

// fail records err as the last error and notifies observers.
func (e *Engine) fail(err error) error {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()

	e.notify()
	return err
}

// normalize enforces line invariants on a cart from any source.
// Server lines without a unit price take the product's effective price.
func normalize(cart model.Cart) model.Cart {
	items := make([]model.CartItem, 0, len(cart.Items))
	for _, item := range model.CloneItems(cart.Items) {
		if item.Quantity < 1 {
			continue
		}
		if item.UnitPrice == 0 && item.Product != nil {
			item.UnitPrice = item.Product.EffectivePrice()
		}
		items = append(items, item)
	}
	cart.Items = items
	totals.Apply(&cart)
	return cart
}
