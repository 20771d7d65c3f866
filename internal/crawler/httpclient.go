package crawler

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FetchResponse is what HTTPClient.Fetch returns: an already-decompressed
// body reader plus the metadata the dispatcher and extraction pipeline need
// to classify and extract the response. Body is not size-capped; callers
// read it through ReadCapped to enforce max_response_size.
type FetchResponse struct {
	FinalURL    string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        io.ReadCloser
	BodySize    int64 // not set by HTTPClient; left zero
}

// HTTPClientConfig configures the redirect/TLS/proxy/auth/size-cap behavior
// the wrapper consumes.
type HTTPClientConfig struct {
	UserAgent          string
	MaxRedirects       int
	MaxResponseSize    int64
	ConnectTimeout     time.Duration
	SocketTimeout      time.Duration
	RequestTimeout     time.Duration
	CompressionEnabled bool
	HeadRequestsEnabled bool

	SSLCACertificates   [][]byte
	SSLVerificationMode TLSVerificationMode

	Proxy *ProxyConfig

	// AllowedAuthority reports whether a redirect to authority may be
	// followed. It is consulted only for redirects, not for the initial
	// request; when nil, redirects to any authority are followed.
	AllowedAuthority func(authority string) bool

	// AuthFor returns basic-auth credentials for authority, or ok=false
	// when none are configured / http_auth_allowed is false.
	AuthFor func(authority string) (username, password string, ok bool)

	Resolver *FilteringResolver
}

// HTTPClient wraps net/http with the fetch pipeline's policy: DNS via the
// filtering resolver, TLS with pinned CAs and a verification mode,
// proxying, redirect policy (at most MaxRedirects hops; authority changes
// checked against AllowedAuthority when it is set), and
// connect/socket/total timeouts. Size caps are applied by ReadCapped.
type HTTPClient struct {
	cfg    HTTPClientConfig
	client *http.Client
}

// NewHTTPClient builds an HTTPClient from cfg.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	tlsConfig, err := buildTLSConfig(cfg.SSLCACertificates, cfg.SSLVerificationMode)
	if err != nil {
		return nil, fmt.Errorf("build tls config: %w", err)
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		TLSClientConfig:       tlsConfig,
		ResponseHeaderTimeout: cfg.SocketTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialFiltered(ctx, dialer, cfg.Resolver, network, addr)
		},
	}
	if cfg.Proxy != nil && cfg.Proxy.Host != "" {
		proxyURL, err := buildProxyURL(*cfg.Proxy)
		if err != nil {
			return nil, WrapErr(ErrKindProxy, "", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := &HTTPClient{cfg: cfg}
	c.client = &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return c.checkRedirect(req, via)
		},
	}
	return c, nil
}

func (c *HTTPClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > c.cfg.MaxRedirects {
		return WrapErr(ErrKindTooManyRedirects, req.URL.String(), fmt.Errorf("exceeded %d redirects", c.cfg.MaxRedirects))
	}
	authority := authorityOf(req.URL)
	if c.cfg.AllowedAuthority != nil && !c.cfg.AllowedAuthority(authority) {
		return WrapErr(ErrKindInvalidHost, req.URL.String(), fmt.Errorf("redirect authority %s is not allowlisted", authority))
	}
	c.applyAuth(req)
	return nil
}

func (c *HTTPClient) applyAuth(req *http.Request) {
	if c.cfg.AuthFor == nil {
		return
	}
	authority := authorityOf(req.URL)
	if user, pass, ok := c.cfg.AuthFor(authority); ok {
		req.SetBasicAuth(user, pass)
	}
}

// Fetch issues a GET against rawURL, following redirects per the
// CheckRedirect policy above, and returns a decompressed body that is not
// size-capped (read it through ReadCapped). The caller MUST Close the
// returned FetchResponse.Body.
func (c *HTTPClient) Fetch(ctx context.Context, rawURL string) (*FetchResponse, error) {
	return c.do(ctx, http.MethodGet, rawURL)
}

// Head issues a HEAD pre-flight when head_requests_enabled, so the caller
// can skip the GET for responses that would clearly be
// unsupported-content-type or size-exceeded.
func (c *HTTPClient) Head(ctx context.Context, rawURL string) (*FetchResponse, error) {
	return c.do(ctx, http.MethodHead, rawURL)
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string) (*FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, WrapErr(ErrKindInvalidURL, rawURL, fmt.Errorf("build request: %w", err))
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.CompressionEnabled {
		req.Header.Set("Accept-Encoding", "gzip, deflate")
	}
	c.applyAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(rawURL, err)
	}

	body, err := decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	return &FetchResponse{
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        body,
	}, nil
}

// ReadCapped reads resp.Body up to maxResponseSize+1 bytes, aborting and
// reporting response_size_exceeded once that's crossed. A response
// exactly at the cap succeeds; one extra byte fails.
func ReadCapped(body io.Reader, maxResponseSize int64, url string) ([]byte, error) {
	limited := io.LimitReader(body, maxResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, WrapErr(ErrKindConnection, url, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > maxResponseSize {
		return nil, WrapErr(ErrKindResponseSizeExceeded, url, fmt.Errorf("response exceeds %d bytes", maxResponseSize))
	}
	return data, nil
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, WrapErr(ErrKindConnection, resp.Request.URL.String(), fmt.Errorf("open gzip response: %w", err))
		}
		return &gzipCloser{Reader: gz, underlying: resp.Body}, nil
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, WrapErr(ErrKindConnection, resp.Request.URL.String(), fmt.Errorf("open deflate response: %w", err))
		}
		return struct {
			io.Reader
			io.Closer
		}{zr, resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

type gzipCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g *gzipCloser) Close() error {
	_ = g.Reader.Close()
	return g.underlying.Close()
}

func classifyTransportError(rawURL string, err error) error {
	var netErr net.Error
	if urlErr, ok := err.(*url.Error); ok {
		if urlErr.Timeout() {
			return WrapErr(ErrKindTimeout, rawURL, err)
		}
		if ce, ok := KindOf(urlErr.Err); ok {
			return &Error{Kind: ce, URL: rawURL, Err: err}
		}
		if _, ok := urlErr.Err.(*tls.CertificateVerificationError); ok {
			return WrapErr(ErrKindTLS, rawURL, err)
		}
		err = urlErr.Err
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return WrapErr(ErrKindTimeout, rawURL, err)
	}
	_ = netErr
	if ce, ok := KindOf(err); ok {
		return &Error{Kind: ce, URL: rawURL, Err: err}
	}
	return WrapErr(ErrKindConnection, rawURL, err)
}

func authorityOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host += ":" + port
	}
	return scheme + "://" + host
}

func buildProxyURL(p ProxyConfig) (*url.URL, error) {
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	port := p.Port
	if port == 0 {
		port = 8080
	}
	u := &url.URL{
		Scheme: protocol,
		Host:   fmt.Sprintf("%s:%d", p.Host, port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// buildTLSConfig wires additional trusted CAs and the verification mode
// (full / certificate / none).6.
func buildTLSConfig(caCerts [][]byte, mode TLSVerificationMode) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if len(caCerts) > 0 {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		for _, pemBytes := range caCerts {
			if !pool.AppendCertsFromPEM(pemBytes) {
				return nil, fmt.Errorf("append trusted CA: invalid PEM block")
			}
		}
		cfg.RootCAs = pool
	}

	switch mode {
	case TLSVerifyNone:
		cfg.InsecureSkipVerify = true //nolint:gosec
	case TLSVerifyCertificate:
		// Verify the chain against trusted roots but skip hostname
		// matching, per ssl_verification_mode=certificate.
		cfg.InsecureSkipVerify = true //nolint:gosec
		roots := cfg.RootCAs
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChainOnly(rawCerts, roots)
		}
	case TLSVerifyFull, "":
		// default tls.Config behavior already does full verification.
	}
	return cfg, nil
}

func verifyChainOnly(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("no certificates presented")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("parse peer certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	opts := x509.VerifyOptions{Roots: roots}
	if len(certs) > 1 {
		intermediates := x509.NewCertPool()
		for _, c := range certs[1:] {
			intermediates.AddCert(c)
		}
		opts.Intermediates = intermediates
	}
	_, err := certs[0].Verify(opts)
	if err != nil {
		return WrapErr(ErrKindTLS, "", err)
	}
	return nil
}

// dialFiltered resolves addr's host through the filtering resolver before
// dialing, so every connection — not just the initial request host —
// passes the SSRF guard.
func dialFiltered(ctx context.Context, dialer *net.Dialer, resolver *FilteringResolver, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, WrapErr(ErrKindInvalidHost, addr, err)
	}
	if resolver == nil {
		return dialer.DialContext(ctx, network, addr)
	}
	addrs, err := resolver.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, ip := range addrs {
		conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if dialErr == nil {
			return conn, nil
		}
		lastErr = dialErr
	}
	return nil, WrapErr(ErrKindConnection, addr, fmt.Errorf("dial filtered addresses: %w", lastErr))
}

// SupportedByHead reports whether a HEAD response's Content-Type /
// Content-Length already determines the task should be skipped, backing
// the head_requests_enabled short-circuit.
func SupportedByHead(resp *FetchResponse, allowedTypes map[string]bool, maxResponseSize int64) (skip bool, kind ErrKind) {
	if resp.ContentType != "" {
		mt := strings.ToLower(strings.TrimSpace(strings.SplitN(resp.ContentType, ";", 2)[0]))
		if !allowedTypes[mt] {
			return true, ErrKindUnsupportedContentType
		}
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > maxResponseSize {
			return true, ErrKindResponseSizeExceeded
		}
	}
	return false, ""
}
