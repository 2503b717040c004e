package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cartsync/internal/engine"
	"cartsync/internal/model"
	"cartsync/internal/reconcile"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams represents the params for tools/call method.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

func TestMCPServerCreation(t *testing.T) {
	h, _ := testHandler(&mockCart{}, nil)
	if h.NewMCPServer() == nil {
		t.Fatal("NewMCPServer returned nil")
	}
	if h.NewMCPHandler() == nil {
		t.Fatal("NewMCPHandler returned nil")
	}
}

func TestMCPInitialize(t *testing.T) {
	_, mux := testHandler(&mockCart{}, nil)

	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"clientInfo": map[string]string{
				"name":    "test-client",
				"version": "1.0.0",
			},
			"capabilities": map[string]any{},
		},
	}

	resp := postMCP(t, mux, "", req)
	if resp.Error != nil {
		t.Errorf("Unexpected error: %+v", resp.Error)
	}
	if resp.Result == nil {
		t.Error("Expected result in response")
	}
}

func TestMCPToolsList(t *testing.T) {
	_, mux := testHandler(&mockCart{}, nil)
	sessionID := initMCPSession(t, mux)

	resp := postMCP(t, mux, sessionID, jsonrpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	var toolsResult struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &toolsResult); err != nil {
		t.Fatalf("Failed to parse tools result: %v", err)
	}

	expectedTools := map[string]bool{
		"get_cart":         false,
		"add_to_cart":      false,
		"remove_from_cart": false,
		"update_quantity":  false,
		"clear_cart":       false,
		"merge_guest_cart": false,
	}
	for _, tool := range toolsResult.Tools {
		if _, ok := expectedTools[tool.Name]; ok {
			expectedTools[tool.Name] = true
		}
	}
	for name, found := range expectedTools {
		if !found {
			t.Errorf("Expected tool %q not found in tools list", name)
		}
	}
}

func TestMCPGetCart(t *testing.T) {
	_, mux := testHandler(&mockCart{snap: sampleSnapshot()}, nil)
	sessionID := initMCPSession(t, mux)

	result := callTool(t, mux, sessionID, "get_cart", map[string]any{})
	if result.IsError {
		t.Fatalf("Expected success, got error: %+v", result.Content)
	}

	view := decodeCartView(t, result)
	if view.CartID != "cart-1" {
		t.Errorf("CartID = %s, want cart-1", view.CartID)
	}
	if view.TotalPrice != "20.50" {
		t.Errorf("TotalPrice = %s, want 20.50", view.TotalPrice)
	}
}

func TestMCPAddToCart(t *testing.T) {
	var gotProduct string
	var gotQty int
	cart := &mockCart{
		AddItemFunc: func(ctx context.Context, productID string, quantity int) error {
			gotProduct, gotQty = productID, quantity
			return nil
		},
	}
	_, mux := testHandler(cart, nil)
	sessionID := initMCPSession(t, mux)

	result := callTool(t, mux, sessionID, "add_to_cart", map[string]any{"product_id": "p-101"})
	if result.IsError {
		t.Fatalf("Expected success, got error: %+v", result.Content)
	}
	if gotProduct != "p-101" || gotQty != 1 {
		t.Errorf("AddItem(%s, %d), want (p-101, 1)", gotProduct, gotQty)
	}
}

func TestMCPAddToCartError(t *testing.T) {
	cart := &mockCart{
		AddItemFunc: func(ctx context.Context, productID string, quantity int) error {
			return model.NewConcurrentOperationError()
		},
	}
	_, mux := testHandler(cart, nil)
	sessionID := initMCPSession(t, mux)

	result := callTool(t, mux, sessionID, "add_to_cart", map[string]any{"product_id": "p-101", "quantity": 2})
	if !result.IsError {
		t.Fatal("Expected error result")
	}
	if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, "CONCURRENT_OPERATION (transient)") {
		t.Errorf("error text = %+v, want code and category", result.Content)
	}
}

func TestMCPAddToCartExplicitZero(t *testing.T) {
	gotQty := -1
	cart := &mockCart{
		AddItemFunc: func(ctx context.Context, productID string, quantity int) error {
			gotQty = quantity
			return model.NewValidationError("quantity", "must be at least 1")
		},
	}
	_, mux := testHandler(cart, nil)
	sessionID := initMCPSession(t, mux)

	result := callTool(t, mux, sessionID, "add_to_cart", map[string]any{"product_id": "p-101", "quantity": 0})
	if !result.IsError {
		t.Fatal("Expected error result")
	}
	if gotQty != 0 {
		t.Errorf("quantity = %d, want 0 passed through", gotQty)
	}
	if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, "VALIDATION_ERROR (validation)") {
		t.Errorf("error text = %+v, want validation category", result.Content)
	}
}

func TestMCPMergeGuestCart(t *testing.T) {
	called := false
	cart := &mockCart{
		MergeFunc: func(ctx context.Context) (*reconcile.MergeReport, error) {
			called = true
			return &reconcile.MergeReport{Added: []model.CartItem{{ProductID: "p-1", Quantity: 1}}}, nil
		},
		snap: sampleSnapshot(),
	}
	sessions := &mockSessions{current: model.Session{Authenticated: true, UserID: "u-1"}}
	_, mux := testHandler(cart, sessions)
	sessionID := initMCPSession(t, mux)

	result := callTool(t, mux, sessionID, "merge_guest_cart", map[string]any{})
	if result.IsError {
		t.Fatalf("Expected success, got error: %+v", result.Content)
	}
	if !called {
		t.Error("MergeGuestCartIntoRemote was not called")
	}
}

func TestMCPMergeGuestCartSignedOut(t *testing.T) {
	_, mux := testHandler(&mockCart{}, nil)
	sessionID := initMCPSession(t, mux)

	result := callTool(t, mux, sessionID, "merge_guest_cart", map[string]any{})
	if !result.IsError {
		t.Fatal("Expected error result")
	}
	if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, "UNAUTHORIZED (session)") {
		t.Errorf("error text = %+v, want session category", result.Content)
	}
}

func TestMCPUpdateQuantity(t *testing.T) {
	var gotID string
	gotQty := -1
	cart := &mockCart{
		UpdateQuantityFunc: func(ctx context.Context, itemID string, quantity int) error {
			gotID, gotQty = itemID, quantity
			return nil
		},
	}
	_, mux := testHandler(cart, nil)
	sessionID := initMCPSession(t, mux)

	result := callTool(t, mux, sessionID, "update_quantity", map[string]any{"item_id": "i1", "quantity": 0})
	if result.IsError {
		t.Fatalf("Expected success, got error: %+v", result.Content)
	}
	if gotID != "i1" || gotQty != 0 {
		t.Errorf("UpdateQuantity(%s, %d), want (i1, 0)", gotID, gotQty)
	}
}

func TestMCPRemoveAndClear(t *testing.T) {
	var removed string
	cleared := false
	cart := &mockCart{
		RemoveItemFunc: func(ctx context.Context, itemID string) error {
			removed = itemID
			return nil
		},
		ClearFunc: func(ctx context.Context) error {
			cleared = true
			return nil
		},
		snap: engine.Snapshot{Mode: engine.ModeGuest},
	}
	_, mux := testHandler(cart, nil)
	sessionID := initMCPSession(t, mux)

	if result := callTool(t, mux, sessionID, "remove_from_cart", map[string]any{"item_id": "i2"}); result.IsError {
		t.Fatalf("remove_from_cart error: %+v", result.Content)
	}
	if removed != "i2" {
		t.Errorf("removed = %s, want i2", removed)
	}

	if result := callTool(t, mux, sessionID, "clear_cart", map[string]any{}); result.IsError {
		t.Fatalf("clear_cart error: %+v", result.Content)
	}
	if !cleared {
		t.Error("Clear was not called")
	}
}

func TestMCPMissingRequiredField(t *testing.T) {
	_, mux := testHandler(&mockCart{}, nil)
	sessionID := initMCPSession(t, mux)

	args, _ := json.Marshal(map[string]any{})
	body, _ := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      3,
		Method:  "tools/call",
		Params:  toolCallParams{Name: "remove_from_cart", Arguments: args},
	})
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, sessionID)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, httpReq)

	// Should still return 200, with error in the result
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

// setMCPHeaders sets the required headers for MCP Streamable HTTP requests.
func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// MCP Streamable HTTP requires Accept header with both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) ([]byte, error) {
	lines := strings.Split(body, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: ")), nil
		}
	}
	// If no SSE format found, assume plain JSON
	return []byte(body), nil
}

// postMCP sends one JSON-RPC request and decodes the response.
func postMCP(t *testing.T, mux *http.ServeMux, sessionID string, rpc jsonrpcRequest) jsonrpcResponse {
	t.Helper()

	body, _ := json.Marshal(rpc)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, sessionID)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}
	jsonData, err := parseSSEResponse(w.Body.String())
	if err != nil {
		t.Fatalf("Failed to parse SSE response: %v", err)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(jsonData, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v\nBody: %s", err, jsonData)
	}
	return resp
}

// callTool invokes a tool and returns its result.
func callTool(t *testing.T, mux *http.ServeMux, sessionID, name string, args map[string]any) callToolResult {
	t.Helper()

	raw, _ := json.Marshal(args)
	resp := postMCP(t, mux, sessionID, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  toolCallParams{Name: name, Arguments: raw},
	})
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	return result
}

// decodeCartView reads the cart JSON from a tool's text content.
func decodeCartView(t *testing.T, result callToolResult) CartView {
	t.Helper()

	if len(result.Content) == 0 || result.Content[0].Type != "text" {
		t.Fatalf("Expected text content, got %+v", result.Content)
	}
	var view CartView
	if err := json.Unmarshal([]byte(result.Content[0].Text), &view); err != nil {
		t.Fatalf("Failed to parse cart from result: %v", err)
	}
	return view
}

// initMCPSession initializes an MCP session and returns the session ID.
func initMCPSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()

	initReq := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]any{},
		},
	}

	body, _ := json.Marshal(initReq)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, "")
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Failed to initialize MCP session: %s", w.Body.String())
	}

	return w.Header().Get("Mcp-Session-Id")
}
