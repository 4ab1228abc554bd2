package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

const (
	defaultUA      = "wikimd/1.0"
	defaultTimeout = 30 * time.Second
	maxRedirects   = 5
)

// maxResponseBytes is the maximum number of bytes to read from any single
// HTTP response body. Responses exceeding this limit are rejected with an
// error. 0 means unlimited.
var maxResponseBytes int64 = 256 * 1024 * 1024

// readLimited reads up to limit bytes from r. If the response exceeds the
// limit, it returns an error. If limit is 0, it reads without limit.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	// Read limit+1 bytes so we can detect overflow without a custom reader.
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds maximum allowed size (%s)", humanSize(limit))
	}
	return data, nil
}

// utlsConn wraps a utls.UConn and satisfies net.Conn + the
// ConnectionState interface that net/http2 needs.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// newHTTPClient creates the client used for API calls and attachment
// downloads. TLS is dialed with utls and routed to HTTP/1.1 or HTTP/2 by
// ALPN. insecureTLS disables certificate verification for servers with
// self-signed certificates. Redirects are capped at maxRedirects.
func newHTTPClient(timeout time.Duration, insecureTLS bool) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	rt := &browserTransport{
		dialer: dialer,
		h1: &http.Transport{
			DialContext: dialer.DialContext,
			Proxy:       http.ProxyFromEnvironment,
		},
		h2:       &http2.Transport{},
		insecure: insecureTLS,
	}
	return &http.Client{
		Timeout:       timeout,
		Transport:     rt,
		CheckRedirect: limitRedirects(maxRedirects),
	}
}

// limitRedirects stops a request after max redirects.
func limitRedirects(max int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}

type browserTransport struct {
	dialer   *net.Dialer
	h1       *http.Transport
	h2       *http2.Transport
	insecure bool
}

func (bt *browserTransport) dialUTLS(ctx context.Context, network, addr string) (net.Conn, string, error) {
	conn, err := bt.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, "", err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: bt.insecure,
	}, utls.HelloFirefox_120)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", err
	}

	alpn := tlsConn.ConnectionState().NegotiatedProtocol
	return &utlsConn{tlsConn}, alpn, nil
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if !hasPort(addr) {
		addr = addr + ":443"
	}

	conn, alpn, err := bt.dialUTLS(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	if alpn == "h2" {
		h2conn, err := bt.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp, err := h2conn.RoundTrip(req)
		if err != nil {
			h2conn.Close()
			return nil, err
		}
		resp.Body = &releasingBody{ReadCloser: resp.Body, release: func() { h2conn.Close() }}
		return resp, nil
	}

	// For HTTP/1.1, inject the TLS conn into a one-shot transport that is
	// torn down with the response body.
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return conn, nil
		},
		DisableKeepAlives: true,
	}
	resp, err := transport.RoundTrip(req)
	if err != nil {
		transport.CloseIdleConnections()
		conn.Close()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: transport.CloseIdleConnections}
	return resp, nil
}

// releasingBody frees the connection a response was read from once the
// body is closed.
type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}

// fetchError describes a failed download with whatever the server or the
// network stack told us about it.
type fetchError struct {
	URL        string
	StatusCode int
	Header     http.Header
	Err        error
}

func (e *fetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *fetchError) Unwrap() error { return e.Err }

// diagnosticHeaders are the response headers worth logging on failure.
var diagnosticHeaders = []string{"Content-Type", "Location", "WWW-Authenticate", "X-Seraph-Loginreason", "Retry-After"}

// diagnostics summarizes status headers and low-level error codes.
func (e *fetchError) diagnostics() string {
	var parts []string
	for _, h := range diagnosticHeaders {
		if v := e.Header.Get(h); v != "" {
			parts = append(parts, h+": "+v)
		}
	}
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		parts = append(parts, fmt.Sprintf("errno %d (%s)", int(errno), errno.Error()))
	}
	var nerr net.Error
	if errors.As(e.Err, &nerr) && nerr.Timeout() {
		parts = append(parts, "timeout")
	}
	return strings.Join(parts, ", ")
}

// fetchAuthenticated downloads rawURL with credentials applied and returns
// the body and its content type.
func fetchAuthenticated(ctx context.Context, client *http.Client, auth AuthMethod, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &fetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", defaultUA)
	if auth != nil {
		auth.Apply(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", &fetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &fetchError{URL: rawURL, StatusCode: resp.StatusCode, Header: resp.Header}
	}

	body, err := readLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, "", &fetchError{URL: rawURL, Header: resp.Header, Err: fmt.Errorf("reading response: %w", err)}
	}
	return body, resp.Header.Get("Content-Type"), nil
}
