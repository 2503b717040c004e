// Package session observes authentication state and tells the cart engine
// about login and logout transitions.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cartsync/internal/cache"
	"cartsync/internal/model"
)

// EventType is a session transition.
type EventType string

const (
	EventLogin  EventType = "login"
	EventLogout EventType = "logout"
)

// Event is delivered to subscribers on every transition.
// Reason is set for forced logouts.
type Event struct {
	Type   EventType
	UserID string
	Reason string
}

// subscriberBuffer bounds undelivered events per subscriber. Sends never
// block: a subscriber may itself trigger a transition while handling one.
const subscriberBuffer = 16

// Observer owns the bearer token and its persisted copy.
type Observer struct {
	store  cache.Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current model.Session
	subs    map[int]chan Event
	nextSub int
}

// Option configures an Observer.
type Option func(*Observer)

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) { o.now = now }
}

// NewObserver creates a signed-out Observer. Call Restore to pick up a
// persisted token.
func NewObserver(store cache.Store, logger *slog.Logger, opts ...Option) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Observer{
		store:  store,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Restore reads the persisted token. A valid, unexpired token yields an
// authenticated session; anything else is discarded and the session is
// signed out. No event is emitted: this is the initial state, not a
// transition.
func (o *Observer) Restore(ctx context.Context) (model.Session, error) {
	raw, err := o.store.Get(ctx, cache.KeyToken)
	if errors.Is(err, cache.ErrMiss) {
		return o.Current(), nil
	}
	if err != nil {
		return o.Current(), model.NewStorageError("read", err)
	}

	claims, err := DecodeToken(string(raw))
	if err == nil && !o.now().Before(claims.ExpiresAt) {
		err = errors.New("token expired")
	}
	if err != nil {
		o.logger.Info("discarding persisted token", slog.Any("error", err))
		if delErr := o.store.Delete(ctx, cache.KeyToken); delErr != nil {
			o.logger.Warn("deleting persisted token", slog.Any("error", delErr))
		}
		return o.Current(), nil
	}

	o.mu.Lock()
	o.current = model.Session{
		Authenticated: true,
		UserID:        claims.UserID,
		ExpiresAt:     claims.ExpiresAt,
		Token:         string(raw),
	}
	s := o.current
	o.mu.Unlock()

	o.logger.Info("session restored", slog.String("user_id", s.UserID))
	return s, nil
}

// Login adopts token and emits a login event.
//
// Logging in again as the same user only refreshes the token. Logging in
// as a different user emits a logout for the previous one first.
// Persisting the token is best effort: a failed write is logged and the
// session stays active for this process.
func (o *Observer) Login(ctx context.Context, token string) (model.Session, error) {
	claims, err := DecodeToken(token)
	if err != nil {
		return o.Current(), model.NewValidationError("token", err.Error())
	}
	if !o.now().Before(claims.ExpiresAt) {
		return o.Current(), model.NewUnauthorizedError("token expired")
	}

	if err := o.store.Set(ctx, cache.KeyToken, []byte(token)); err != nil {
		o.logger.Warn("persisting token", slog.Any("error", err))
	}

	o.mu.Lock()
	prev := o.current
	o.current = model.Session{
		Authenticated: true,
		UserID:        claims.UserID,
		ExpiresAt:     claims.ExpiresAt,
		Token:         token,
	}
	s := o.current
	o.mu.Unlock()

	if prev.Authenticated && prev.UserID == s.UserID {
		o.logger.Debug("session token refreshed", slog.String("user_id", s.UserID))
		return s, nil
	}
	if prev.Authenticated {
		o.emit(Event{Type: EventLogout, UserID: prev.UserID, Reason: "user switched"})
	}

	o.logger.Info("logged in", slog.String("user_id", s.UserID))
	o.emit(Event{Type: EventLogin, UserID: s.UserID})
	return s, nil
}

// Logout drops the token and emits a logout event. Signing out while
// already signed out does nothing.
func (o *Observer) Logout(ctx context.Context) error {
	return o.signOut(ctx, "")
}

// Invalidate is a forced logout after the server rejected the token.
func (o *Observer) Invalidate(ctx context.Context, reason string) error {
	return o.signOut(ctx, reason)
}

func (o *Observer) signOut(ctx context.Context, reason string) error {
	o.mu.Lock()
	prev := o.current
	o.current = model.Session{}
	o.mu.Unlock()

	var storeErr error
	if err := o.store.Delete(ctx, cache.KeyToken); err != nil {
		storeErr = model.NewStorageError("delete", err)
	}

	if !prev.Authenticated {
		return storeErr
	}

	if reason != "" {
		o.logger.Warn("session invalidated",
			slog.String("user_id", prev.UserID),
			slog.String("reason", reason))
	} else {
		o.logger.Info("logged out", slog.String("user_id", prev.UserID))
	}
	o.emit(Event{Type: EventLogout, UserID: prev.UserID, Reason: reason})
	return storeErr
}

// CheckExpiry signs out when the token has expired at now.
// Reports whether a logout happened.
func (o *Observer) CheckExpiry(ctx context.Context, now time.Time) bool {
	o.mu.RLock()
	s := o.current
	o.mu.RUnlock()

	if !s.Authenticated || s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt) {
		return false
	}
	if err := o.Invalidate(ctx, "token expired"); err != nil {
		o.logger.Warn("deleting expired token", slog.Any("error", err))
	}
	return true
}

// Watch checks expiry every interval until ctx is done.
func (o *Observer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.CheckExpiry(ctx, o.now())
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that
// closes it.
func (o *Observer) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
			close(ch)
		})
	}
}

// Current returns a copy of the session.
func (o *Observer) Current() model.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Token returns the bearer token, or "" when signed out.
func (o *Observer) Token() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current.Token
}

func (o *Observer) emit(ev Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for id, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			o.logger.Error("dropping session event, subscriber not draining",
				slog.Int("subscriber", id),
				slog.String("type", string(ev.Type)))
		}
	}
}
