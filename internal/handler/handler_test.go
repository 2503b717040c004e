package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cartsync/internal/cache"
	"cartsync/internal/engine"
	"cartsync/internal/gateway"
	"cartsync/internal/model"
	"cartsync/internal/reconcile"
)

// mockCart implements Cart with configurable function fields.
type mockCart struct {
	AddItemFunc        func(ctx context.Context, productID string, quantity int) error
	RemoveItemFunc     func(ctx context.Context, itemID string) error
	UpdateQuantityFunc func(ctx context.Context, itemID string, quantity int) error
	ClearFunc          func(ctx context.Context) error
	MergeFunc          func(ctx context.Context) (*reconcile.MergeReport, error)
	snap               engine.Snapshot
}

func (m *mockCart) AddItem(ctx context.Context, productID string, quantity int) error {
	if m.AddItemFunc != nil {
		return m.AddItemFunc(ctx, productID, quantity)
	}
	return nil
}

func (m *mockCart) RemoveItem(ctx context.Context, itemID string) error {
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, itemID)
	}
	return nil
}

func (m *mockCart) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	if m.UpdateQuantityFunc != nil {
		return m.UpdateQuantityFunc(ctx, itemID, quantity)
	}
	return nil
}

func (m *mockCart) Clear(ctx context.Context) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}
	return nil
}

func (m *mockCart) MergeGuestCartIntoRemote(ctx context.Context) (*reconcile.MergeReport, error) {
	if m.MergeFunc != nil {
		return m.MergeFunc(ctx)
	}
	return &reconcile.MergeReport{Added: []model.CartItem{}, Skipped: []reconcile.SkippedLine{}}, nil
}

func (m *mockCart) Snapshot() engine.Snapshot {
	if m.snap.Mode == "" {
		return engine.Snapshot{Mode: engine.ModeGuest}
	}
	return m.snap
}

// mockSessions implements Sessions.
type mockSessions struct {
	LoginFunc  func(ctx context.Context, token string) (model.Session, error)
	LogoutFunc func(ctx context.Context) error
	current    model.Session
}

func (m *mockSessions) Login(ctx context.Context, token string) (model.Session, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, token)
	}
	return model.Session{Authenticated: true, UserID: "u-1"}, nil
}

func (m *mockSessions) Logout(ctx context.Context) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx)
	}
	m.current = model.Session{}
	return nil
}

func (m *mockSessions) Current() model.Session { return m.current }

// memThemes implements Themes in memory.
type memThemes struct {
	theme model.Theme
}

func (m *memThemes) Load(context.Context) (model.Theme, error) {
	if m.theme == "" {
		return model.ThemeSystem, nil
	}
	return m.theme, nil
}

func (m *memThemes) Save(_ context.Context, theme model.Theme) error {
	if !theme.Valid() {
		return model.NewValidationError("theme", "unknown")
	}
	m.theme = theme
	return nil
}

type issuerFunc func(userID string, ttl time.Duration) (string, error)

func (f issuerFunc) IssueToken(userID string, ttl time.Duration) (string, error) {
	return f(userID, ttl)
}

func testHandler(cart *mockCart, sessions *mockSessions) (*Handler, *http.ServeMux) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if sessions == nil {
		sessions = &mockSessions{}
	}
	h := New(Config{
		Cart:     cart,
		Sessions: sessions,
		Themes:   &memThemes{},
		Logger:   logger,
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

// decodeError extracts the error body from an error response.
func decodeError(t *testing.T, body []byte) errorBody {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decoding error response: %v\nBody: %s", err, body)
	}
	return resp.Error
}

func sampleSnapshot() engine.Snapshot {
	return engine.Snapshot{
		Mode: engine.ModeAuthenticated,
		Cart: model.Cart{
			ID: "cart-1",
			Items: []model.CartItem{
				{ID: "i1", ProductID: "p-100", Quantity: 2, UnitPrice: 10.25},
			},
			TotalItems: 2,
			TotalPrice: 20.5,
		},
		ItemCount:  2,
		TotalPrice: 20.5,
	}
}

func TestHandleHealth(t *testing.T) {
	_, mux := testHandler(&mockCart{}, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp healthResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "ok" {
		t.Errorf("Status = %s, want ok", resp.Status)
	}
	if resp.Mode != "guest" {
		t.Errorf("Mode = %s, want guest", resp.Mode)
	}
}

func TestHandleGetCart(t *testing.T) {
	_, mux := testHandler(&mockCart{snap: sampleSnapshot()}, nil)

	req := httptest.NewRequest("GET", "/cart", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var view CartView
	json.NewDecoder(w.Body).Decode(&view)

	if view.Mode != engine.ModeAuthenticated {
		t.Errorf("Mode = %s, want authenticated", view.Mode)
	}
	if view.CartID != "cart-1" {
		t.Errorf("CartID = %s, want cart-1", view.CartID)
	}
	if view.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", view.ItemCount)
	}
	if view.TotalPrice != "20.50" {
		t.Errorf("TotalPrice = %s, want 20.50", view.TotalPrice)
	}
	if view.Error != nil {
		t.Errorf("Error = %+v, want nil", view.Error)
	}
}

func TestHandleGetCartEmptyItems(t *testing.T) {
	_, mux := testHandler(&mockCart{}, nil)

	req := httptest.NewRequest("GET", "/cart", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if !bytes.Contains(w.Body.Bytes(), []byte(`"items":[]`)) {
		t.Errorf("empty cart should render items as [], got %s", w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"totalPrice":"0.00"`)) {
		t.Errorf("empty cart total should be 0.00, got %s", w.Body.String())
	}
}

func TestHandleGetCartLastError(t *testing.T) {
	snap := sampleSnapshot()
	snap.Err = model.NewServerError("cart API", errors.New("status 503"))
	_, mux := testHandler(&mockCart{snap: snap}, nil)

	req := httptest.NewRequest("GET", "/cart", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var view CartView
	json.NewDecoder(w.Body).Decode(&view)
	if view.Error == nil {
		t.Fatal("Error should be set")
	}
	if view.Error.Code != "SERVER_ERROR" || view.Error.Category != model.CategoryTransient {
		t.Errorf("Error = %+v, want SERVER_ERROR/transient", view.Error)
	}
}

func TestHandleAddItem(t *testing.T) {
	var gotProduct string
	var gotQty int
	cart := &mockCart{
		AddItemFunc: func(ctx context.Context, productID string, quantity int) error {
			gotProduct, gotQty = productID, quantity
			return nil
		},
	}
	_, mux := testHandler(cart, nil)

	tests := []struct {
		name    string
		body    string
		wantQty int
	}{
		{"explicit quantity", `{"productId": "p-100", "quantity": 3}`, 3},
		{"default quantity", `{"productId": "p-100"}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/cart/items", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
			}
			if gotProduct != "p-100" {
				t.Errorf("productID = %s, want p-100", gotProduct)
			}
			if gotQty != tt.wantQty {
				t.Errorf("quantity = %d, want %d", gotQty, tt.wantQty)
			}
		})
	}
}

func TestHandleAddItemExplicitZeroQuantity(t *testing.T) {
	mock := &gateway.Mock{
		ProductFunc: func(context.Context, string) (*model.Product, error) {
			t.Error("product lookup must not run for an invalid quantity")
			return &model.Product{ID: "p-100", Price: 1}, nil
		},
	}
	eng, err := engine.New(engine.Config{
		Gateway:   mock,
		Products:  mock,
		GuestCart: cache.NewGuestCart(cache.NewMemoryStore(0), nil),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	h := New(Config{
		Cart:     eng,
		Sessions: &mockSessions{},
		Themes:   &memThemes{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	for _, body := range []string{`{"productId": "p-100", "quantity": 0}`, `{"productId": "p-100", "quantity": -2}`} {
		req := httptest.NewRequest("POST", "/cart/items", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: Status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
		if got := decodeError(t, w.Body.Bytes()); got.Category != model.CategoryValidation {
			t.Errorf("%s: Category = %s, want validation", body, got.Category)
		}
	}
	if eng.ItemCount() != 0 {
		t.Errorf("ItemCount() = %d, want 0", eng.ItemCount())
	}
}

func TestHandleMerge(t *testing.T) {
	cart := &mockCart{
		MergeFunc: func(ctx context.Context) (*reconcile.MergeReport, error) {
			return &reconcile.MergeReport{
				Added:   []model.CartItem{{ProductID: "p-1", Quantity: 2}},
				Skipped: []reconcile.SkippedLine{{Item: model.CartItem{ProductID: "p-9"}, Reason: "out of stock"}},
			}, nil
		},
		snap: sampleSnapshot(),
	}
	sessions := &mockSessions{current: model.Session{Authenticated: true, UserID: "u-1"}}
	_, mux := testHandler(cart, sessions)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/cart/merge", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d; body %s", w.Code, http.StatusOK, w.Body.String())
	}
	var result MergeResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(result.Report.Added) != 1 || len(result.Report.Skipped) != 1 {
		t.Errorf("report = %+v, want 1 added and 1 skipped", result.Report)
	}
	if result.Cart == nil || result.Cart.CartID != "cart-1" {
		t.Errorf("cart = %+v, want cart-1", result.Cart)
	}
}

func TestHandleMergeErrors(t *testing.T) {
	tests := []struct {
		name         string
		session      model.Session
		mergeErr     error
		wantStatus   int
		wantCategory model.Category
	}{
		{"signed out", model.Session{}, nil, http.StatusUnauthorized, model.CategorySession},
		{"merge stopped", model.Session{Authenticated: true, UserID: "u-1"}, model.NewServerError("cart API", errors.New("status 503")), http.StatusBadGateway, model.CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := &mockCart{
				MergeFunc: func(ctx context.Context) (*reconcile.MergeReport, error) {
					return &reconcile.MergeReport{Err: tt.mergeErr}, tt.mergeErr
				},
			}
			_, mux := testHandler(cart, &mockSessions{current: tt.session})

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest("POST", "/cart/merge", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := decodeError(t, w.Body.Bytes()); got.Category != tt.wantCategory {
				t.Errorf("Category = %s, want %s", got.Category, tt.wantCategory)
			}
		})
	}
}

func TestHandleAddItemInvalidJSON(t *testing.T) {
	_, mux := testHandler(&mockCart{}, nil)

	req := httptest.NewRequest("POST", "/cart/items", bytes.NewBufferString("{invalid"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := decodeError(t, w.Body.Bytes())
	if body.Code != "VALIDATION_ERROR" {
		t.Errorf("Error code = %s, want VALIDATION_ERROR", body.Code)
	}
	if body.Category != model.CategoryValidation {
		t.Errorf("Category = %s, want validation", body.Category)
	}
}

func TestHandleErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantStatus   int
		wantCode     string
		wantCategory model.Category
	}{
		{"validation", model.NewValidationError("quantity", "must be at least 1"), http.StatusBadRequest, "VALIDATION_ERROR", model.CategoryValidation},
		{"not found", model.NewNotFoundError("product"), http.StatusNotFound, "NOT_FOUND", model.CategoryValidation},
		{"out of stock", model.NewOutOfStockError("p-103"), http.StatusConflict, "OUT_OF_STOCK", model.CategoryValidation},
		{"unauthorized", model.NewUnauthorizedError("session expired"), http.StatusUnauthorized, "UNAUTHORIZED", model.CategorySession},
		{"server", model.NewServerError("cart API", errors.New("status 500")), http.StatusBadGateway, "SERVER_ERROR", model.CategoryTransient},
		{"network", model.NewNetworkError("cart API", errors.New("refused")), http.StatusServiceUnavailable, "NETWORK_ERROR", model.CategoryTransient},
		{"concurrent", model.NewConcurrentOperationError(), http.StatusConflict, "CONCURRENT_OPERATION", model.CategoryTransient},
		{"storage", model.NewStorageError("write", errors.New("quota")), http.StatusInsufficientStorage, "STORAGE_ERROR", model.CategoryTransient},
		{"disposed", engine.ErrDisposed, http.StatusServiceUnavailable, "SHUTTING_DOWN", model.CategoryTransient},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", model.CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := &mockCart{
				AddItemFunc: func(ctx context.Context, productID string, quantity int) error {
					return tt.err
				},
			}
			_, mux := testHandler(cart, nil)

			req := httptest.NewRequest("POST", "/cart/items", bytes.NewBufferString(`{"productId":"p-1"}`))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w.Body.Bytes())
			if body.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", body.Code, tt.wantCode)
			}
			if body.Category != tt.wantCategory {
				t.Errorf("Category = %s, want %s", body.Category, tt.wantCategory)
			}
		})
	}
}

func TestHandleErrorRetryAfter(t *testing.T) {
	apiErr := model.NewServerError("cart API", errors.New("status 429"))
	apiErr.RetryAfter = 1500 * time.Millisecond
	cart := &mockCart{
		ClearFunc: func(ctx context.Context) error { return apiErr },
	}
	_, mux := testHandler(cart, nil)

	req := httptest.NewRequest("DELETE", "/cart", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
}

func TestHandleUpdateQuantity(t *testing.T) {
	var gotID string
	var gotQty int
	cart := &mockCart{
		UpdateQuantityFunc: func(ctx context.Context, itemID string, quantity int) error {
			gotID, gotQty = itemID, quantity
			return nil
		},
	}
	_, mux := testHandler(cart, nil)

	req := httptest.NewRequest("PUT", "/cart/items/i1", bytes.NewBufferString(`{"quantity": 0}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != "i1" || gotQty != 0 {
		t.Errorf("UpdateQuantity(%s, %d), want (i1, 0)", gotID, gotQty)
	}
}

func TestHandleRemoveItem(t *testing.T) {
	var gotID string
	cart := &mockCart{
		RemoveItemFunc: func(ctx context.Context, itemID string) error {
			gotID = itemID
			return nil
		},
	}
	_, mux := testHandler(cart, nil)

	req := httptest.NewRequest("DELETE", "/cart/items/i9", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != "i9" {
		t.Errorf("itemID = %s, want i9", gotID)
	}
}

func TestHandleClear(t *testing.T) {
	called := false
	cart := &mockCart{
		ClearFunc: func(ctx context.Context) error {
			called = true
			return nil
		},
	}
	_, mux := testHandler(cart, nil)

	req := httptest.NewRequest("DELETE", "/cart", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if !called {
		t.Error("Clear was not called")
	}
}

func TestHandleLogin(t *testing.T) {
	var gotToken string
	sessions := &mockSessions{
		LoginFunc: func(ctx context.Context, token string) (model.Session, error) {
			gotToken = token
			return model.Session{Authenticated: true, UserID: "u-7", Token: token}, nil
		},
	}
	_, mux := testHandler(&mockCart{}, sessions)

	req := httptest.NewRequest("POST", "/session/login", bytes.NewBufferString(`{"token": "abc.def.ghi"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotToken != "abc.def.ghi" {
		t.Errorf("token = %s, want abc.def.ghi", gotToken)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("abc.def.ghi")) {
		t.Error("response must not echo the token")
	}

	var s model.Session
	json.NewDecoder(w.Body).Decode(&s)
	if !s.Authenticated || s.UserID != "u-7" {
		t.Errorf("session = %+v, want authenticated u-7", s)
	}
}

func TestHandleLoginByUserID(t *testing.T) {
	var gotToken string
	sessions := &mockSessions{
		LoginFunc: func(ctx context.Context, token string) (model.Session, error) {
			gotToken = token
			return model.Session{Authenticated: true, UserID: "u-1"}, nil
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("without issuer", func(t *testing.T) {
		_, mux := testHandler(&mockCart{}, sessions)
		req := httptest.NewRequest("POST", "/session/login", bytes.NewBufferString(`{"userId": "u-1"}`))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("with issuer", func(t *testing.T) {
		h := New(Config{
			Cart:     &mockCart{},
			Sessions: sessions,
			Themes:   &memThemes{},
			Issuer: issuerFunc(func(userID string, ttl time.Duration) (string, error) {
				return "minted-" + userID, nil
			}),
			Logger: logger,
		})
		mux := http.NewServeMux()
		h.RegisterRoutes(mux)

		req := httptest.NewRequest("POST", "/session/login", bytes.NewBufferString(`{"userId": "u-1"}`))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		if gotToken != "minted-u-1" {
			t.Errorf("token = %s, want minted-u-1", gotToken)
		}
	})
}

func TestHandleLoginErrors(t *testing.T) {
	sessions := &mockSessions{
		LoginFunc: func(ctx context.Context, token string) (model.Session, error) {
			return model.Session{}, model.NewUnauthorizedError("token expired")
		},
	}
	_, mux := testHandler(&mockCart{}, sessions)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"empty body", `{}`, http.StatusBadRequest},
		{"invalid JSON", `{`, http.StatusBadRequest},
		{"expired token", `{"token": "x"}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/session/login", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleLogout(t *testing.T) {
	sessions := &mockSessions{current: model.Session{Authenticated: true, UserID: "u-1"}}
	_, mux := testHandler(&mockCart{}, sessions)

	req := httptest.NewRequest("POST", "/session/logout", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	var s model.Session
	json.NewDecoder(w.Body).Decode(&s)
	if s.Authenticated {
		t.Error("session should be signed out")
	}
}

func TestHandleGetSession(t *testing.T) {
	sessions := &mockSessions{current: model.Session{Authenticated: true, UserID: "u-3", Token: "secret"}}
	_, mux := testHandler(&mockCart{}, sessions)

	req := httptest.NewRequest("GET", "/session", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if bytes.Contains(w.Body.Bytes(), []byte("secret")) {
		t.Error("session response must not include the token")
	}
	var s model.Session
	json.NewDecoder(w.Body).Decode(&s)
	if s.UserID != "u-3" {
		t.Errorf("UserID = %s, want u-3", s.UserID)
	}
}

func TestHandleTheme(t *testing.T) {
	_, mux := testHandler(&mockCart{}, nil)

	get := func() model.Theme {
		req := httptest.NewRequest("GET", "/theme", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		var body themeBody
		json.NewDecoder(w.Body).Decode(&body)
		return body.Theme
	}

	if got := get(); got != model.ThemeSystem {
		t.Errorf("default theme = %s, want system", got)
	}

	req := httptest.NewRequest("PUT", "/theme", bytes.NewBufferString(`{"theme": "dark"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT Status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := get(); got != model.ThemeDark {
		t.Errorf("theme = %s, want dark", got)
	}

	req = httptest.NewRequest("PUT", "/theme", bytes.NewBufferString(`{"theme": "sepia"}`))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid theme Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRequestBodySizeLimit(t *testing.T) {
	_, mux := testHandler(&mockCart{}, nil)

	large := bytes.Repeat([]byte("a"), MaxRequestBodySize+1)
	body := append([]byte(`{"productId":"`), large...)
	body = append(body, []byte(`"}`)...)

	req := httptest.NewRequest("POST", "/cart/items", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
