package hostfuncs

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/wireformat"
)

// RedirectCheck authorizes each redirect hop before it is followed.
type RedirectCheck func(ctx context.Context, method, url string) error

// HTTPOption is a functional option for configuring HTTP request behavior.
type HTTPOption func(*httpConfig)

type httpConfig struct {
	tlsConfig     *tls.Config
	redirectCheck RedirectCheck
	netfilter     []NetfilterOption
	timeout       time.Duration
	maxRedirects  int
	maxBodySize   int64
}

func defaultHTTPConfig() httpConfig {
	return httpConfig{
		timeout:      30 * time.Second,
		maxRedirects: 10,
		maxBodySize:  10 * 1024 * 1024, // 10MB
	}
}

// WithHTTPRequestTimeout sets the HTTP request timeout.
func WithHTTPRequestTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPMaxRedirects sets the maximum number of redirects to follow.
func WithHTTPMaxRedirects(n int) HTTPOption {
	return func(c *httpConfig) {
		if n >= 0 {
			c.maxRedirects = n
		}
	}
}

// WithHTTPMaxBodySize sets the maximum response body size.
func WithHTTPMaxBodySize(size int64) HTTPOption {
	return func(c *httpConfig) {
		if size > 0 {
			c.maxBodySize = size
		}
	}
}

// WithHTTPNetfilter configures the address filter every connection
// passes through.
func WithHTTPNetfilter(opts ...NetfilterOption) HTTPOption {
	return func(c *httpConfig) {
		c.netfilter = append(c.netfilter, opts...)
	}
}

// WithHTTPRedirectCheck authorizes redirect targets. Without it
// redirects are not followed.
func WithHTTPRedirectCheck(check RedirectCheck) HTTPOption {
	return func(c *httpConfig) {
		c.redirectCheck = check
	}
}

// WithHTTPTLSConfig sets the client TLS configuration.
func WithHTTPTLSConfig(cfg *tls.Config) HTTPOption {
	return func(c *httpConfig) {
		c.tlsConfig = cfg
	}
}

// HTTPClient performs outbound requests with DNS pinning: each
// connection resolves the host once through an AddressFilter and dials
// the validated address.
type HTTPClient struct {
	config    httpConfig
	transport *http.Transport
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	cfg := defaultHTTPConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	filter := NewAddressFilter(cfg.netfilter...)

	tlsCfg := cfg.tlsConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       tlsCfg,
		Proxy:                 nil, // a proxy would bypass the address filter
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip, err := filter.Resolve(ctx, host)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		},
	}
	return &HTTPClient{config: cfg, transport: transport}
}

// Do performs req. The caller must already have authorized req.URL.
func (c *HTTPClient) Do(ctx context.Context, req wireformat.HTTPRequest) (*wireformat.HTTPResponse, error) {
	if req.URL == "" {
		return nil, &errors.ConfigError{Field: "url", Err: fmt.Errorf("URL is required")}
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := c.config.timeout
	if req.Timeout > 0 && time.Duration(req.Timeout)*time.Millisecond < timeout {
		timeout = time.Duration(req.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &errors.ConfigError{Field: "url", Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	follow := req.FollowRedirects == nil || *req.FollowRedirects
	client := &http.Client{Transport: c.transport, CheckRedirect: c.checkRedirect(follow)}

	start := time.Now()
	resp, err := client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, c.classify(ctx, err, req.URL, timeout)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.config.maxBodySize+1))
	if err != nil {
		return nil, &errors.NetworkError{Operation: "read_body", Target: req.URL, Err: err}
	}
	truncated := false
	if int64(len(respBody)) > c.config.maxBodySize {
		respBody = respBody[:c.config.maxBodySize]
		truncated = true
	}

	return &wireformat.HTTPResponse{
		StatusCode:    resp.StatusCode,
		Headers:       resp.Header,
		Body:          respBody,
		BodyTruncated: truncated,
		LatencyMs:     latency.Milliseconds(),
	}, nil
}

func (c *HTTPClient) checkRedirect(follow bool) func(*http.Request, []*http.Request) error {
	return func(next *http.Request, via []*http.Request) error {
		if !follow || c.config.redirectCheck == nil {
			return http.ErrUseLastResponse
		}
		if len(via) >= c.config.maxRedirects {
			return fmt.Errorf("stopped after %d redirects", c.config.maxRedirects)
		}
		return c.config.redirectCheck(next.Context(), next.Method, next.URL.String())
	}
}

// classify keeps authorization and SSRF errors intact and wraps the
// rest.
func (c *HTTPClient) classify(ctx context.Context, err error, target string, timeout time.Duration) error {
	if errors.IsAuthorizationFailure(err) {
		return err
	}
	var ne *errors.NetworkError
	if stderrors.As(err, &ne) {
		return ne
	}
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &errors.TimeoutError{Operation: "http_request", Target: target, Duration: timeout}
	}
	return &errors.NetworkError{Operation: "http_request", Target: target, Err: err}
}
