package handler

import (
	"net/http"
	"time"

	"cartsync/internal/model"
)

// devTokenTTL is the lifetime of tokens minted by the dev storefront.
const devTokenTTL = time.Hour

// loginRequest is the POST /session/login body. Token is a bearer token
// issued by the storefront; UserID is accepted only when a TokenIssuer is
// configured.
type loginRequest struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

type themeBody struct {
	Theme model.Theme `json:"theme"`
}

type healthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

// handleGetSession returns the authentication state. The token is never echoed.
// GET /session
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessions.Current())
}

// handleLogin starts a session. The cart engine merges the guest cart in
// the background once it sees the login event.
// POST /session/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	token := req.Token
	if token == "" {
		if req.UserID == "" {
			h.writeError(w, model.NewValidationError("token", "token or userId is required"))
			return
		}
		if h.issuer == nil {
			h.writeError(w, model.NewValidationError("userId", "login by user id needs the dev storefront"))
			return
		}
		var err error
		if token, err = h.issuer.IssueToken(req.UserID, devTokenTTL); err != nil {
			h.writeError(w, err)
			return
		}
	}

	s, err := h.sessions.Login(r.Context(), token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// handleLogout ends the session. The engine reverts to the guest cart.
// POST /session/logout
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.sessions.Current())
}

// handleGetTheme returns the stored theme, "system" when unset.
// GET /theme
func (h *Handler) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := h.themes.Load(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, themeBody{Theme: theme})
}

// handlePutTheme stores the theme preference.
// PUT /theme
func (h *Handler) handlePutTheme(w http.ResponseWriter, r *http.Request) {
	var req themeBody
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.themes.Save(r.Context(), req.Theme); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Mode:   string(h.cart.Snapshot().Mode),
	})
}
