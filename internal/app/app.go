// Package app assembles cartsync: cache, session observer, gateway and cart
// engine, owned by one App so nothing lives in package globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"cartsync/internal/cache"
	"cartsync/internal/config"
	"cartsync/internal/engine"
	"cartsync/internal/fakestore"
	"cartsync/internal/gateway"
	"cartsync/internal/handler"
	"cartsync/internal/middleware"
	"cartsync/internal/session"
	"cartsync/internal/transport"
)

// App is the root context object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Store   cache.Store
	Themes  *cache.Themes
	Session *session.Observer
	Gateway *gateway.Client
	Engine  *engine.Engine

	// DevStore is the in-process storefront, nil unless cfg.DevStore.
	DevStore  *fakestore.Store
	devServer *http.Server

	closers []func() error

	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
	disposeOnce sync.Once
}

// New builds every component. Nothing talks to the storefront until Init.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.Themes = cache.NewThemes(store)
	a.Session = session.NewObserver(store, logger.With(slog.String("component", "session")))

	baseURL := cfg.API.BaseURL
	if cfg.DevStore {
		if baseURL, err = a.startDevStore(); err != nil {
			a.closeAll()
			return nil, err
		}
	}

	a.Gateway, err = gateway.New(gateway.Config{
		BaseURL:    baseURL,
		APIVersion: cfg.API.Version,
		Timeout:    cfg.API.RequestTimeout,
		Tokens:     a.Session,
		Transport: transport.New(transport.Options{
			DialTimeout:       cfg.API.RequestTimeout,
			ChromeFingerprint: cfg.API.ChromeFingerprint,
		}),
		Logger: logger.With(slog.String("component", "gateway")),
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("creating gateway: %w", err)
	}

	a.Engine, err = engine.New(engine.Config{
		Gateway:   a.Gateway,
		Products:  a.Gateway,
		GuestCart: cache.NewGuestCart(store, logger.With(slog.String("component", "cache"))),
		Session:   a.Session,
		Logger:    logger.With(slog.String("component", "engine")),
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	return a, nil
}

// openStore creates the configured cache backend.
func (a *App) openStore(ctx context.Context) (cache.Store, error) {
	c := a.cfg.Cache
	switch c.Backend {
	case config.BackendMemory:
		return cache.NewMemoryStore(int(c.MaxBytes)), nil
	case config.BackendRedis:
		rs, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("opening redis cache: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	case config.BackendFile, "":
		fs, err := cache.NewFileStore(c.Dir, c.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("opening file cache: %w", err)
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", c.Backend)
	}
}

// startDevStore serves the demo storefront on a loopback port and returns
// its base URL.
func (a *App) startDevStore() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening for dev storefront: %w", err)
	}

	logger := a.logger.With(slog.String("component", "devstore"))
	a.DevStore = fakestore.New(uuid.NewString(), fakestore.DemoCatalogue(), logger)
	a.devServer = &http.Server{
		Handler:           a.DevStore.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.devServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("dev storefront stopped", slog.Any("error", err))
		}
	}()

	baseURL := "http://" + ln.Addr().String()
	logger.Info("dev storefront listening", slog.String("url", baseURL))
	return baseURL, nil
}

// Init restores the persisted session, loads the cart of record and starts
// the event loop and expiry watcher. Load failures are recorded on the
// engine and logged; the app stays usable in whatever mode it reached.
func (a *App) Init(ctx context.Context) error {
	s, err := a.Session.Restore(ctx)
	if err != nil {
		a.logger.Warn("restoring session", slog.Any("error", err))
	}

	// Subscribe before the engine loads so no transition is missed.
	events, unsubscribe := a.Session.Subscribe()
	a.unsubscribe = unsubscribe

	if err := a.Engine.Initialize(ctx, s); err != nil {
		if errors.Is(err, engine.ErrDisposed) {
			unsubscribe()
			return err
		}
		a.logger.Warn("initializing cart", slog.Any("error", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Engine.Run(runCtx, events)
	}()

	if interval := a.cfg.ExpiryCheckInterval; interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Session.Watch(runCtx, interval)
		}()
	}

	snap := a.Engine.Snapshot()
	a.logger.Info("cart ready",
		slog.String("mode", string(snap.Mode)),
		slog.Int("items", snap.ItemCount),
		slog.Bool("authenticated", s.Authenticated),
	)
	return nil
}

// Handler returns the local HTTP API with the middleware chain applied.
func (a *App) Handler() http.Handler {
	cfg := handler.Config{
		Cart:     a.Engine,
		Sessions: a.Session,
		Themes:   a.Themes,
		Logger:   a.logger.With(slog.String("component", "handler")),
	}
	if a.DevStore != nil {
		cfg.Issuer = a.DevStore
	}
	h := handler.New(cfg)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery wraps logging so panics in logging are caught too.
	return middleware.Chain(
		middleware.WithRequestID,
		middleware.Recovery(a.logger),
		middleware.Logging(a.logger),
		middleware.LocalOnly(a.logger),
	)(mux)
}

// Dispose stops background work and releases resources. Safe to call
// more than once.
func (a *App) Dispose() {
	a.disposeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		a.wg.Wait()

		if a.Engine != nil {
			a.Engine.Dispose()
		}
		a.closeAll()
	})
}

func (a *App) closeAll() {
	if a.devServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.devServer.Shutdown(ctx); err != nil {
			a.devServer.Close()
		}
		cancel()
		a.devServer = nil
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("closing resource", slog.Any("error", err))
		}
	}
	a.closers = nil
}
