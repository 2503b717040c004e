// cartctl is a CLI tool for driving a running cartsync agent.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	cartctl get [-agent URL]
//	cartctl add -product ID [-qty N]
//	cartctl qty -item ID -qty N
//	cartctl remove -item ID
//	cartctl clear
//	cartctl merge
//	cartctl login (-user ID | -token JWT)
//	cartctl logout
//	cartctl session
//	cartctl theme [-set light|dark|system]
//
// Examples:
//
//	cartctl add -product p-100 -qty 2
//	ITEM=$(cartctl add -product p-101 -q)
//	cartctl qty -item $ITEM -qty 0
//	cartctl login -user u-1 && cartctl get
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	agentURL string
	quiet    bool
	noColor  bool
	verbose  bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "get":
		runGet(args)
	case "add":
		runAdd(args)
	case "qty":
		runQuantity(args)
	case "remove":
		runRemove(args)
	case "clear":
		runClear(args)
	case "merge":
		runMerge(args)
	case "login":
		runLogin(args)
	case "logout":
		runLogout(args)
	case "session":
		runSession(args)
	case "theme":
		runTheme(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cartctl - cartsync agent control tool

Usage:
  cartctl <command> [options]

Commands:
  get       Show the cart
  add       Add a product
  qty       Set a line's quantity (0 removes it)
  remove    Remove a line
  clear     Empty the cart
  merge     Retry moving the guest cart into the signed-in cart
  login     Sign in with a token, or a user id against the dev storefront
  logout    Sign out; the guest cart becomes active
  session   Show the session
  theme     Show or set the UI theme

Examples:
  # Fill a guest cart, then sign in to merge it
  cartctl add -product p-100 -qty 2
  cartctl login -user u-1
  cartctl get

Run 'cartctl <command> -h' for command-specific options.
`)
}

// newFlagSet registers the global flags on a command's flag set.
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&agentURL, "agent", envOr("CARTSYNC_URL", "http://127.0.0.1:7070"), "cartsync agent base URL")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the key value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl %s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

func parse(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
}

// =============================================================================
// CART COMMANDS
// =============================================================================

func runGet(args []string) {
	fs := newFlagSet("get", "get [options]")
	parse(fs, args)

	resp, err := doRequest("GET", "/cart", nil)
	if err != nil {
		fatal("Failed to get cart: %v", err)
	}
	if quiet {
		fmt.Println(resp["totalPrice"])
		return
	}
	printCart(resp)
}

func runAdd(args []string) {
	fs := newFlagSet("add", "add -product ID [options]")
	var productID string
	var quantity int
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.IntVar(&quantity, "qty", 1, "Quantity")
	parse(fs, args)

	if productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("POST", "/cart/items", map[string]any{
		"productId": productID,
		"quantity":  quantity,
	})
	if err != nil {
		fatal("Failed to add item: %v", err)
	}

	itemID := findItemID(resp, productID)
	if quiet {
		fmt.Println(itemID)
		return
	}
	printSuccess("Added %s", productID)
	fmt.Printf("  Item: %s%s%s\n", colorCyan, itemID, colorReset)
	printCart(resp)
}

func runQuantity(args []string) {
	fs := newFlagSet("qty", "qty -item ID -qty N [options]")
	var itemID string
	var quantity int
	fs.StringVar(&itemID, "item", "", "Cart line ID (required)")
	fs.IntVar(&quantity, "qty", -1, "New quantity, 0 removes the line (required)")
	parse(fs, args)

	if itemID == "" || quantity < 0 {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("PUT", "/cart/items/"+url.PathEscape(itemID), map[string]any{"quantity": quantity})
	if err != nil {
		fatal("Failed to update quantity: %v", err)
	}
	printSuccess("Quantity updated")
	printCart(resp)
}

func runRemove(args []string) {
	fs := newFlagSet("remove", "remove -item ID [options]")
	var itemID string
	fs.StringVar(&itemID, "item", "", "Cart line ID (required)")
	parse(fs, args)

	if itemID == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("DELETE", "/cart/items/"+url.PathEscape(itemID), nil)
	if err != nil {
		fatal("Failed to remove item: %v", err)
	}
	printSuccess("Removed %s", itemID)
	printCart(resp)
}

func runClear(args []string) {
	fs := newFlagSet("clear", "clear [options]")
	parse(fs, args)

	if _, err := doRequest("DELETE", "/cart", nil); err != nil {
		fatal("Failed to clear cart: %v", err)
	}
	printSuccess("Cart cleared")
}

func runMerge(args []string) {
	fs := newFlagSet("merge", "merge [options]")
	parse(fs, args)

	resp, err := doRequest("POST", "/cart/merge", nil)
	if err != nil {
		fatal("Failed to merge guest cart: %v", err)
	}

	report, _ := resp["report"].(map[string]any)
	added, _ := report["added"].([]any)
	skipped, _ := report["skipped"].([]any)
	printSuccess("Merged %d line(s), skipped %d", len(added), len(skipped))
	for _, s := range skipped {
		line, _ := s.(map[string]any)
		item, _ := line["item"].(map[string]any)
		printWarning("Skipped %v: %v", item["productId"], line["reason"])
	}
	if cart, ok := resp["cart"].(map[string]any); ok {
		printCart(cart)
	}
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func runLogin(args []string) {
	fs := newFlagSet("login", "login (-user ID | -token JWT) [options]")
	var userID, token string
	fs.StringVar(&userID, "user", "", "User ID (dev storefront only)")
	fs.StringVar(&token, "token", "", "Bearer token issued by the storefront")
	parse(fs, args)

	if userID == "" && token == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("POST", "/session/login", map[string]any{
		"userId": userID,
		"token":  token,
	})
	if err != nil {
		fatal("Failed to log in: %v", err)
	}

	uid, _ := resp["userId"].(string)
	if quiet {
		fmt.Println(uid)
		return
	}
	printSuccess("Signed in as %s", uid)
	printInfo("Guest cart merges in the background; run 'cartctl get' to see it")
}

func runLogout(args []string) {
	fs := newFlagSet("logout", "logout [options]")
	parse(fs, args)

	if _, err := doRequest("POST", "/session/logout", nil); err != nil {
		fatal("Failed to log out: %v", err)
	}
	printSuccess("Signed out")
}

func runSession(args []string) {
	fs := newFlagSet("session", "session [options]")
	parse(fs, args)

	resp, err := doRequest("GET", "/session", nil)
	if err != nil {
		fatal("Failed to get session: %v", err)
	}

	authed, _ := resp["authenticated"].(bool)
	uid, _ := resp["userId"].(string)
	if quiet {
		fmt.Println(authed)
		return
	}
	if !authed {
		printInfo("Guest session")
		return
	}
	printSuccess("Signed in as %s", uid)
	if exp, ok := resp["expiresAt"].(string); ok {
		fmt.Printf("  Expires: %s\n", exp)
	}
}

func runTheme(args []string) {
	fs := newFlagSet("theme", "theme [-set light|dark|system] [options]")
	var set string
	fs.StringVar(&set, "set", "", "Theme to store")
	parse(fs, args)

	method, body := "GET", any(nil)
	if set != "" {
		method, body = "PUT", map[string]any{"theme": set}
	}
	resp, err := doRequest(method, "/theme", body)
	if err != nil {
		fatal("Failed to %s theme: %v", strings.ToLower(method), err)
	}
	fmt.Println(resp["theme"])
}

// =============================================================================
// HTTP
// =============================================================================

func doRequest(method, path string, body any) (map[string]any, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(agentURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if verbose {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if verbose {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return nil, describeError(resp, respBody)
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// describeError renders the agent's {code, category, message} error body.
func describeError(resp *http.Response, body []byte) error {
	var e struct {
		Error struct {
			Code     string `json:"code"`
			Category string `json:"category"`
			Message  string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Code == "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	msg := fmt.Sprintf("%s [%s]: %s", e.Error.Code, e.Error.Category, e.Error.Message)
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		msg += fmt.Sprintf(" (retry after %ss)", ra)
	}
	return fmt.Errorf("%s", msg)
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printCart(resp map[string]any) {
	if quiet {
		return
	}
	mode, _ := resp["mode"].(string)
	fmt.Printf("  %sCart (%s)%s\n", colorBold, mode, colorReset)

	items, _ := resp["items"].([]any)
	if len(items) == 0 {
		fmt.Printf("    %s(empty)%s\n", colorGray, colorReset)
	}
	for _, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name := item["productId"]
		if p, ok := item["product"].(map[string]any); ok && p["name"] != nil {
			name = p["name"]
		}
		fmt.Printf("    - %s%v%s %v × %.2f  %s[%v]%s\n",
			colorCyan, name, colorReset, item["quantity"], item["unitPrice"], colorGray, item["id"], colorReset)
	}

	fmt.Printf("  Items: %v  Total: %s%v%s\n", resp["itemCount"], colorGreen, resp["totalPrice"], colorReset)

	if e, ok := resp["error"].(map[string]any); ok {
		printWarning("last operation failed: %v [%v]: %v", e["code"], e["category"], e["message"])
	}
}

// findItemID returns the id of the line holding productID.
func findItemID(resp map[string]any, productID string) string {
	items, _ := resp["items"].([]any)
	for _, it := range items {
		if item, ok := it.(map[string]any); ok && item["productId"] == productID {
			id, _ := item["id"].(string)
			return id
		}
	}
	return ""
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printSuccess(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...any) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
