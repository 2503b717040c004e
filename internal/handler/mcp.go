// MCP transport handler using the official MCP Go SDK.
// Exposes the cart operations as MCP tools so an assistant can drive the
// same cart the UI shows.
package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// === MCP Tool Input Types ===

// GetCartInput is the input schema for get_cart tool.
type GetCartInput struct{}

// AddToCartInput is the input schema for add_to_cart tool.
type AddToCartInput struct {
	ProductID string `json:"product_id" jsonschema:"product ID to add"`
	Quantity  *int   `json:"quantity,omitempty" jsonschema:"quantity to add, default 1"`
}

// RemoveFromCartInput is the input schema for remove_from_cart tool.
type RemoveFromCartInput struct {
	ItemID string `json:"item_id" jsonschema:"cart line ID to remove"`
}

// UpdateQuantityInput is the input schema for update_quantity tool.
type UpdateQuantityInput struct {
	ItemID   string `json:"item_id" jsonschema:"cart line ID to change"`
	Quantity int    `json:"quantity" jsonschema:"new quantity, 0 removes the line"`
}

// ClearCartInput is the input schema for clear_cart tool.
type ClearCartInput struct{}

// MergeGuestCartInput is the input schema for merge_guest_cart tool.
type MergeGuestCartInput struct{}

// NewMCPServer creates an MCP server with cart tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "cartsync",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "cartsync - the shopper's cart. " +
				"Use these tools to read and change the cart shown in the storefront UI.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the current cart: lines, item count and total price.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product to the cart.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_from_cart",
		Description: "Remove a line from the cart. Removing an absent line succeeds.",
	}, h.mcpRemoveFromCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_quantity",
		Description: "Set the quantity of a cart line. Quantity 0 removes the line.",
	}, h.mcpUpdateQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Remove every line from the cart.",
	}, h.mcpClearCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "merge_guest_cart",
		Description: "Move lines added while signed out into the signed-in cart. Resumes a merge that stopped.",
	}, h.mcpMergeGuestCart)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	return nil, h.cartView(), nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	if err := h.cart.AddItem(ctx, input.ProductID, addQuantity(input.Quantity)); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpRemoveFromCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveFromCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.ItemID == "" {
		return nil, nil, fmt.Errorf("item_id is required")
	}

	if err := h.cart.RemoveItem(ctx, input.ItemID); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpUpdateQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateQuantityInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.ItemID == "" {
		return nil, nil, fmt.Errorf("item_id is required")
	}

	if err := h.cart.UpdateQuantity(ctx, input.ItemID, input.Quantity); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpClearCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ClearCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.cart.Clear(ctx); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpMergeGuestCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input MergeGuestCartInput,
) (*mcp.CallToolResult, *MergeResult, error) {
	result, err := h.merge(ctx)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, result, nil
}

// mcpError converts engine errors to MCP-friendly errors.
// The category prefix lets the assistant tell retryable failures apart.
func (h *Handler) mcpError(err error) error {
	apiErr := h.toAPIError(err)
	return fmt.Errorf("%s (%s): %s", apiErr.Code, newErrorBody(apiErr).Category, apiErr.Message)
}
