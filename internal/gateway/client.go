package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cartsync/internal/model"
	"cartsync/internal/transport"
)

const (
	cartsPath    = "/api/v1/carts"
	productsPath = "/api/v1/products"

	// service names the remote in error messages.
	service = "cart API"
)

// userAgent identifies this client to the storefront.
const userAgent = "cartsync/1.0"

// Config holds Client settings.
type Config struct {
	BaseURL    string
	APIVersion string        // Expected server major version, e.g. "v1"
	Timeout    time.Duration // Default: 15s
	Tokens     TokenSource
	Transport  http.RoundTripper // Default: transport.New with stdlib TLS
	Logger     *slog.Logger
}

// Client implements Gateway and ProductLookup over the storefront REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string
	tokens     TokenSource
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.APIVersion != "" && !ValidVersion(cfg.APIVersion) {
		return nil, fmt.Errorf("invalid API version %q", cfg.APIVersion)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rt := cfg.Transport
	if rt == nil {
		rt = transport.New(transport.Options{DialTimeout: timeout})
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = TokenFunc(func() string { return "" })
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: rt},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		tokens:     tokens,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// wireCart is the storefront's cart representation.
type wireCart struct {
	ID     string           `json:"id"`
	UserID string           `json:"userId"`
	Items  []model.CartItem `json:"items"`
}

func (w *wireCart) toModel() *model.Cart {
	items := w.Items
	if items == nil {
		items = []model.CartItem{}
	}
	return &model.Cart{ID: w.ID, UserID: w.UserID, Items: items}
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// errorBody is the storefront error envelope. Either field may be set.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Fetch returns the current user's cart.
func (c *Client) Fetch(ctx context.Context) (*model.Cart, error) {
	return c.doCart(ctx, http.MethodGet, cartsPath, nil, "cart")
}

// Create makes an empty cart for the current user.
func (c *Client) Create(ctx context.Context) (*model.Cart, error) {
	return c.doCart(ctx, http.MethodPost, cartsPath, struct{}{}, "cart")
}

// AddItem adds a product line. The server merges quantities for a product
// already in the cart.
func (c *Client) AddItem(ctx context.Context, productID string, quantity int) (*model.Cart, error) {
	return c.doCart(ctx, http.MethodPost, cartsPath+"/item",
		addItemRequest{ProductID: productID, Quantity: quantity}, "product "+productID)
}

// RemoveItem deletes a line.
func (c *Client) RemoveItem(ctx context.Context, itemID string) (*model.Cart, error) {
	return c.doCart(ctx, http.MethodDelete, cartsPath+"/item/"+url.PathEscape(itemID), nil, "cart item")
}

// SetQuantity replaces a line's quantity.
func (c *Client) SetQuantity(ctx context.Context, itemID string, quantity int) (*model.Cart, error) {
	return c.doCart(ctx, http.MethodPut, cartsPath+"/"+url.PathEscape(itemID),
		setQuantityRequest{Quantity: quantity}, "cart item")
}

// Clear empties the cart.
func (c *Client) Clear(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, cartsPath+"/clear", nil, "cart")
	return err
}

// Product fetches one product.
func (c *Client) Product(ctx context.Context, productID string) (*model.Product, error) {
	body, err := c.do(ctx, http.MethodGet, productsPath+"/"+url.PathEscape(productID), nil, "product "+productID)
	if err != nil {
		return nil, err
	}
	var p model.Product
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, model.NewServerError(service, fmt.Errorf("parsing product: %w", err))
	}
	if p.ID == "" {
		p.ID = productID
	}
	return &p, nil
}

// doCart runs a request whose response is a cart. An empty 2xx body
// returns (nil, nil).
func (c *Client) doCart(ctx context.Context, method, path string, reqBody any, resource string) (*model.Cart, error) {
	body, err := c.do(ctx, method, path, reqBody, resource)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var w wireCart
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, model.NewServerError(service, fmt.Errorf("parsing cart: %w", err))
	}
	return w.toModel(), nil
}

// do sends one request and returns the response body of a 2xx reply.
// Non-2xx replies and transport failures come back as *model.APIError.
func (c *Client) do(ctx context.Context, method, path string, reqBody any, resource string) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, reqBody != nil)

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("cart API request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Any("error", err))
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("cart API request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", c.now().Sub(start)))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.parseErrorResponse(resp, respBody, resource)
	}

	if err := checkVersion(c.apiVersion, resp.Header.Get(VersionHeader)); err != nil {
		return nil, model.NewServerError(service, err)
	}
	return respBody, nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiVersion != "" {
		req.Header.Set(VersionHeader, c.apiVersion)
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// parseErrorResponse maps a storefront error status to the cart taxonomy.
func (c *Client) parseErrorResponse(resp *http.Response, body []byte, resource string) error {
	var eb errorBody
	json.Unmarshal(body, &eb) // Best effort parse
	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}

	status := resp.StatusCode
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "rejected by server"
		}
		return model.NewValidationError("request", msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if msg == "" {
			msg = "session rejected by server"
		}
		return model.NewUnauthorizedError(msg)
	case status == http.StatusNotFound:
		return model.NewNotFoundError(resource)
	case status == http.StatusConflict:
		productID := strings.TrimPrefix(resource, "product ")
		return model.NewOutOfStockError(productID)
	default:
		apiErr := model.NewServerError(service, fmt.Errorf("status %d: %s", status, msg))
		if status == http.StatusTooManyRequests || status >= 500 {
			apiErr.RetryAfter = parseRetryAfter(resp.Header, c.now())
		}
		return apiErr
	}
}

// classifyTransportError separates timeouts, which the server may have
// acted on, from failures that never reached it.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return model.NewServerError(service, fmt.Errorf("timeout: %w", err))
	}
	return model.NewNetworkError(service, err)
}

var (
	_ Gateway       = (*Client)(nil)
	_ ProductLookup = (*Client)(nil)
)
