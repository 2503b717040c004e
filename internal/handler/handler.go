// Package handler provides the local HTTP and MCP surface over the cart engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"cartsync/internal/engine"
	"cartsync/internal/model"
	"cartsync/internal/reconcile"
)

// Cart is the engine surface the handlers drive.
type Cart interface {
	AddItem(ctx context.Context, productID string, quantity int) error
	RemoveItem(ctx context.Context, itemID string) error
	UpdateQuantity(ctx context.Context, itemID string, quantity int) error
	Clear(ctx context.Context) error
	MergeGuestCartIntoRemote(ctx context.Context) (*reconcile.MergeReport, error)
	Snapshot() engine.Snapshot
}

// Sessions is the session observer surface.
type Sessions interface {
	Login(ctx context.Context, token string) (model.Session, error)
	Logout(ctx context.Context) error
	Current() model.Session
}

// Themes persists the UI theme preference.
type Themes interface {
	Load(ctx context.Context) (model.Theme, error)
	Save(ctx context.Context, theme model.Theme) error
}

// TokenIssuer mints bearer tokens for a user id. Only the dev storefront
// provides one; without it, login requires a token.
type TokenIssuer interface {
	IssueToken(userID string, ttl time.Duration) (string, error)
}

// Config holds Handler dependencies.
type Config struct {
	Cart     Cart
	Sessions Sessions
	Themes   Themes
	Issuer   TokenIssuer // Optional
	Logger   *slog.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cart     Cart
	sessions Sessions
	themes   Themes
	issuer   TokenIssuer
	logger   *slog.Logger
}

// New creates a Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cart:     cfg.Cart,
		sessions: cfg.Sessions,
		themes:   cfg.Themes,
		issuer:   cfg.Issuer,
		logger:   logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("POST /cart/items", h.handleAddItem)
	mux.HandleFunc("PUT /cart/items/{id}", h.handleUpdateQuantity)
	mux.HandleFunc("DELETE /cart/items/{id}", h.handleRemoveItem)
	mux.HandleFunc("DELETE /cart", h.handleClear)
	mux.HandleFunc("POST /cart/merge", h.handleMerge)

	mux.HandleFunc("GET /session", h.handleGetSession)
	mux.HandleFunc("POST /session/login", h.handleLogin)
	mux.HandleFunc("POST /session/logout", h.handleLogout)

	mux.HandleFunc("GET /theme", h.handleGetTheme)
	mux.HandleFunc("PUT /theme", h.handlePutTheme)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.toAPIError(err)
	if apiErr.RetryAfter > 0 {
		secs := int(math.Ceil(apiErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	h.writeJSON(w, apiErr.StatusCode, errorResponse{Error: newErrorBody(apiErr)})
}

// toAPIError finds the APIError in err's chain, or wraps err as internal.
func (h *Handler) toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, engine.ErrDisposed) {
		return &model.APIError{
			Code:       "SHUTTING_DOWN",
			Message:    "cart engine is shutting down",
			StatusCode: http.StatusServiceUnavailable,
			Err:        err,
		}
	}
	h.logger.Error("internal error", slog.Any("error", err))
	return &model.APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code     string         `json:"code"`
	Category model.Category `json:"category"`
	Message  string         `json:"message"`
}

func newErrorBody(apiErr *model.APIError) errorBody {
	return errorBody{
		Code:     apiErr.Code,
		Category: model.CategoryOf(apiErr),
		Message:  apiErr.Message,
	}
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
