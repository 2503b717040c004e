// Package transport builds the http.RoundTripper the gateway talks through.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Options selects and tunes the round tripper returned by New.
type Options struct {
	// DialTimeout bounds TCP connect plus TLS handshake.
	DialTimeout time.Duration

	// ChromeFingerprint presents a Chrome TLS ClientHello instead of Go's.
	// Some storefront CDNs throttle or block Go's default JA3 fingerprint.
	ChromeFingerprint bool
}

// New returns a round tripper for the storefront API.
func New(opts Options) http.RoundTripper {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.ChromeFingerprint {
		return newChromeTransport(timeout)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	base.TLSHandshakeTimeout = timeout
	return base
}

// =============================================================================
// CHROME FINGERPRINT
// =============================================================================
//
// uTLS supplies the ClientHello; ALPN is left at Chrome's default (h2,
// http/1.1). HTTP/2 framing goes through x/net/http2, with an HTTP/1.1
// transport for servers that refuse h2.
//
// =============================================================================

func newChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	h2 := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialChrome(ctx, dialer, network, addr)
		},
	}
	h1 := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialChrome(ctx, dialer, network, addr)
		},
		ForceAttemptHTTP2: false,
	}
	return &fallbackTransport{primary: h2, fallback: h1}
}

// fallbackTransport tries primary and retries once on fallback.
// A request whose body was consumed and cannot be rewound is never retried:
// cart mutations are not idempotent.
type fallbackTransport struct {
	primary  http.RoundTripper
	fallback http.RoundTripper
}

func (t *fallbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.primary.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	retry, ok := rewind(req)
	if !ok {
		return nil, err
	}
	return t.fallback.RoundTrip(retry)
}

// rewind returns a request that can be sent again.
func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, true
}

func dialChrome(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return tlsConn, nil
}
