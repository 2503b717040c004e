// Package fakestore is an in-memory storefront that speaks the cart API
// wire contract. cmd/cartsync serves it in dev mode; tests run the gateway
// and engine against it through httptest.
package fakestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cartsync/internal/model"
	"cartsync/internal/totals"
)

// APIVersion is sent on every response.
const APIVersion = "1.0.0"

// MaxRequestBodySize limits JSON request bodies.
const MaxRequestBodySize = 1 << 20 // 1MB

// Interceptor can short-circuit a request with a status. Returning 0
// lets the request through.
type Interceptor func(r *http.Request) int

// Store is the fake storefront.
type Store struct {
	secret []byte
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	products  map[string]model.Product
	carts     map[string]*model.Cart // by user id
	intercept Interceptor
	requests  []string
}

// New creates a store with the given catalogue. secret signs issued tokens.
func New(secret string, products []model.Product, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		secret:   []byte(secret),
		logger:   logger,
		now:      time.Now,
		products: make(map[string]model.Product, len(products)),
		carts:    make(map[string]*model.Cart),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// DemoCatalogue is the product set served in dev mode.
func DemoCatalogue() []model.Product {
	sale := 17.99
	return []model.Product{
		{ID: "p-100", Name: "Canvas Tote", Price: 24.00, Stock: 50, CategoryID: "bags"},
		{ID: "p-101", Name: "Ceramic Mug", Price: 12.50, Stock: 120, CategoryID: "kitchen"},
		{ID: "p-102", Name: "Linen Apron", Price: 22.00, SalePrice: &sale, Stock: 15, CategoryID: "kitchen"},
		{ID: "p-103", Name: "Desk Lamp", Price: 49.90, Stock: 0, CategoryID: "home"},
	}
}

// Handler returns the HTTP routes.
func (s *Store) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/v1/products", s.handleListProducts)
	mux.HandleFunc("GET /api/v1/products/{id}", s.handleGetProduct)
	mux.HandleFunc("GET /api/v1/carts", s.authed(s.handleGetCart))
	mux.HandleFunc("POST /api/v1/carts", s.authed(s.handleCreateCart))
	mux.HandleFunc("POST /api/v1/carts/item", s.authed(s.handleAddItem))
	mux.HandleFunc("DELETE /api/v1/carts/item/{itemId}", s.authed(s.handleRemoveItem))
	mux.HandleFunc("PUT /api/v1/carts/{itemId}", s.authed(s.handleSetQuantity))
	mux.HandleFunc("DELETE /api/v1/carts/clear", s.authed(s.handleClear))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("API-Version", APIVersion)

		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		intercept := s.intercept
		s.mu.Unlock()

		if intercept != nil {
			if status := intercept(r); status != 0 {
				writeError(w, status, http.StatusText(status))
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

// Intercept installs fn for all following requests; nil removes it.
func (s *Store) Intercept(fn Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = fn
}

// Requests returns "METHOD /path" for every request received.
func (s *Store) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Cart returns a copy of a user's cart, or false if none exists.
func (s *Store) Cart(userID string) (model.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return model.Cart{}, false
	}
	return c.Clone(), true
}

// IssueToken signs a token for userID valid for ttl.
func (s *Store) IssueToken(userID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(s.now().Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return tok, nil
}

// authed verifies the bearer token and passes the user id on.
func (s *Store) authed(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, claims.Subject)
	}
}

type loginRequest struct {
	UserID string `json:"userId"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Store) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	tok, err := s.IssueToken(req.UserID, time.Hour)
	if err != nil {
		s.logger.Error("issuing token", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: tok})
}

func (s *Store) handleListProducts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Store) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p, ok := s.products[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Store) handleGetCart(w http.ResponseWriter, r *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		writeError(w, http.StatusNotFound, "cart not found")
		return
	}
	writeCart(w, http.StatusOK, c)
}

func (s *Store) handleCreateCart(w http.ResponseWriter, r *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeCart(w, http.StatusCreated, s.cartLocked(userID))
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// handleAddItem sums quantities when the product is already in the cart.
func (s *Store) handleAddItem(w http.ResponseWriter, r *http.Request, userID string) {
	var req addItemRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[req.ProductID]
	if !ok {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}

	want := req.Quantity
	i := -1
	if existing, ok := s.carts[userID]; ok {
		if i = indexOfProduct(existing, req.ProductID); i >= 0 {
			want += existing.Items[i].Quantity
		}
	}
	if want > p.Stock {
		writeError(w, http.StatusConflict, "insufficient stock")
		return
	}

	c := s.cartLocked(userID)
	if i >= 0 {
		c.Items[i].Quantity = want
	} else {
		snapshot := p
		c.Items = append(c.Items, model.CartItem{
			ID:        uuid.NewString(),
			ProductID: p.ID,
			Product:   &snapshot,
			Quantity:  want,
			UnitPrice: p.EffectivePrice(),
		})
	}
	writeCart(w, http.StatusOK, c)
}

func (s *Store) handleRemoveItem(w http.ResponseWriter, r *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		writeError(w, http.StatusNotFound, "cart not found")
		return
	}
	i := c.Find(r.PathValue("itemId"))
	if i < 0 {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	writeCart(w, http.StatusOK, c)
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Store) handleSetQuantity(w http.ResponseWriter, r *http.Request, userID string) {
	var req setQuantityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		writeError(w, http.StatusNotFound, "cart not found")
		return
	}
	i := c.Find(r.PathValue("itemId"))
	if i < 0 {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if p, ok := s.products[c.Items[i].ProductID]; ok && req.Quantity > p.Stock {
		writeError(w, http.StatusConflict, "insufficient stock")
		return
	}
	c.Items[i].Quantity = req.Quantity
	writeCart(w, http.StatusOK, c)
}

func (s *Store) handleClear(w http.ResponseWriter, r *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		writeError(w, http.StatusNotFound, "cart not found")
		return
	}
	c.Items = []model.CartItem{}
	w.WriteHeader(http.StatusNoContent)
}

// cartLocked returns the user's cart, creating it if needed.
func (s *Store) cartLocked(userID string) *model.Cart {
	c, ok := s.carts[userID]
	if !ok {
		c = &model.Cart{ID: uuid.NewString(), UserID: userID, Items: []model.CartItem{}}
		s.carts[userID] = c
	}
	return c
}

func indexOfProduct(c *model.Cart, productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

type errorBody struct {
	Message string `json:"message"`
}

// writeCart sends a cart with its totals filled in.
func writeCart(w http.ResponseWriter, status int, c *model.Cart) {
	totals.Apply(c)
	writeJSON(w, status, c)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}
