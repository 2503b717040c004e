package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cartsync/internal/model"
	"cartsync/internal/reconcile"
	"cartsync/internal/session"
)

// guardPollInterval is how often event handling retries a busy guard.
const guardPollInterval = 10 * time.Millisecond

// MergeGuestCartIntoRemote moves the guest lines into the remote cart.
//
// Lines are added one at a time in insertion order. Lines the server
// rejects as missing, out of stock or invalid are skipped and reported.
// Any other failure stops the merge: the failing line and those after it
// stay in the guest cache and the engine stays in guest mode, so calling
// again resumes without re-adding lines the server already has.
//
// On success the guest cache is deleted, the remote cart is reloaded at
// server prices and the engine switches to authenticated mode. Calling it
// when already authenticated returns an empty report.
func (e *Engine) MergeGuestCartIntoRemote(ctx context.Context) (*reconcile.MergeReport, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	if e.Mode() == ModeAuthenticated {
		return &reconcile.MergeReport{Added: []model.CartItem{}, Skipped: []reconcile.SkippedLine{}}, nil
	}
	return e.merge(ctx, e.Items())
}

// merge runs with the guard held.
func (e *Engine) merge(ctx context.Context, lines []model.CartItem) (*reconcile.MergeReport, error) {
	epoch := e.currentEpoch()
	e.logger.Info("merging guest cart", slog.Int("lines", len(lines)))

	base, err := e.loadRemote(ctx)
	if err != nil {
		report := &reconcile.MergeReport{
			Added:     []model.CartItem{},
			Skipped:   []reconcile.SkippedLine{},
			Remaining: model.CloneItems(lines),
			Err:       err,
		}
		return report, e.mergeStopped(ctx, epoch, report)
	}

	report, last := reconcile.Merge(ctx, lines, e.gw.AddItem)
	if !report.Complete() {
		return report, e.mergeStopped(ctx, epoch, report)
	}

	// Every line reached the server. Delete the guest entry before anything
	// else can fail so a restart never replays these adds.
	var storeErr error
	if err := e.guest.Delete(ctx); err != nil {
		storeErr = model.NewStorageError("delete", err)
		e.logger.Error("deleting merged guest cart", slog.Any("error", err))
	}

	final, err := e.gw.Fetch(ctx)
	if err != nil || final == nil {
		e.logger.Warn("reloading cart after merge, using last server response", slog.Any("error", err))
		final = last
		if final == nil {
			final = base
		}
	}

	report.PriceChanges = reconcile.DiffPrices(report.Added, final.Items)
	e.logger.Info("guest cart merged",
		slog.Int("added", len(report.Added)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("price_changes", len(report.PriceChanges)))

	if !e.commit(epoch, ModeAuthenticated, *final, storeErr) {
		return report, errSessionChanged
	}
	return report, storeErr
}

// mergeStopped keeps the unprocessed lines as the guest cart.
func (e *Engine) mergeStopped(ctx context.Context, epoch uint64, report *reconcile.MergeReport) error {
	e.logger.Warn("guest cart merge stopped",
		slog.Int("added", len(report.Added)),
		slog.Int("remaining", len(report.Remaining)),
		slog.Any("error", report.Err))

	if errors.Is(report.Err, model.ErrUnauthorized) {
		if err := e.guest.Save(ctx, report.Remaining); err != nil {
			e.logger.Warn("saving remaining guest lines", slog.Any("error", err))
		}
		e.forceGuest(ctx, report.Err)
		return report.Err
	}

	cart := model.Cart{Items: report.Remaining}
	if err := e.guest.Save(ctx, report.Remaining); err != nil {
		e.logger.Warn("saving remaining guest lines", slog.Any("error", err))
	}
	e.commit(epoch, ModeGuest, cart, report.Err)
	return report.Err
}

// HandleEvent applies a session transition.
//
// Login merges the guest cart. Logout drops the in-memory cart and makes
// the cached guest cart active again; it is a no-op in guest mode. Login
// waits for an in-flight mutation instead of failing, since a transition
// must not be lost.
func (e *Engine) HandleEvent(ctx context.Context, ev session.Event) error {
	switch ev.Type {
	case session.EventLogin:
		if err := e.waitAcquire(ctx); err != nil {
			return err
		}
		defer e.release()

		if e.Mode() == ModeAuthenticated {
			return nil
		}
		_, err := e.merge(ctx, e.Items())
		return err

	case session.EventLogout:
		return e.revertToGuest(ctx, ev.Reason)
	}
	return nil
}

// Run handles events in order until ctx is done or events is closed.
func (e *Engine) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.HandleEvent(ctx, ev); err != nil {
				e.logger.Warn("handling session event",
					slog.String("type", string(ev.Type)),
					slog.String("user_id", ev.UserID),
					slog.Any("error", err))
			}
		}
	}
}

// revertToGuest does not take the guard: a logout must win over any
// in-flight call, whose result the epoch bump then discards.
func (e *Engine) revertToGuest(ctx context.Context, reason string) error {
	if e.disposed.Load() {
		return ErrDisposed
	}
	if e.Mode() == ModeGuest {
		return nil
	}

	items, err := e.loadGuest(ctx)

	e.mu.Lock()
	e.epoch++
	e.mode = ModeGuest
	e.cart = normalize(model.Cart{Items: items})
	e.lastErr = err
	e.mu.Unlock()

	e.logger.Info("cart reverted to guest",
		slog.Int("items", len(items)),
		slog.String("reason", reason))
	e.notify()
	return err
}

func (e *Engine) waitAcquire(ctx context.Context) error {
	ticker := time.NewTicker(guardPollInterval)
	defer ticker.Stop()

	for {
		err := e.acquire()
		if err == nil || errors.Is(err, ErrDisposed) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
