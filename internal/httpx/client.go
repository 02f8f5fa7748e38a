package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/containerd/log"
	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used by the helper. The supplied
// client is copied; its Transport is wrapped, never modified in place.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithHeaders assigns default headers added to every request.
func WithHeaders(h http.Header) Option {
	return func(c *Client) {
		for k, values := range h {
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithBasicAuth sets the credentials sent as an Authorization header on
// every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
		c.hasAuth = true
	}
}

// WithTimeout sets the overall per-request timeout of the default HTTP
// client. It has no effect when combined with WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTracerProvider sets the provider used for the client spans. The global
// provider is used otherwise.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *Client) {
		if provider != nil {
			c.traceOpts = append(c.traceOpts, otelhttp.WithTracerProvider(provider))
		}
	}
}

// WithCompression negotiates gzip encoded responses with the server.
func WithCompression() Option {
	return func(c *Client) {
		c.compress = true
	}
}

// WithMetrics records request counts and latencies into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client sends single requests relative to a base URL. It does not
// interpret status codes, retry or cache; it is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	headers    http.Header
	timeout    time.Duration
	traceOpts  []otelhttp.Option
	compress   bool
	metrics    *Metrics

	username string
	password string
	hasAuth  bool
}

// Request describes a single outbound request.
type Request struct {
	Method string
	// Path is the escaped path relative to the base URL.
	Path   string
	Query  url.Values
	Header http.Header
	Body   io.Reader
	// ContentLength is sent when positive; the body is streamed either way.
	ContentLength int64
}

// NewClient creates a Client for the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("httpx: unsupported URL scheme %q", parsed.Scheme)
	}
	if parsed.User != nil {
		// Credentials embedded in the endpoint behave like WithBasicAuth.
		pass, _ := parsed.User.Password()
		opts = append([]Option{WithBasicAuth(parsed.User.Username(), pass)}, opts...)
		parsed.User = nil
	}

	c := &Client{
		baseURL: parsed,
		headers: make(http.Header),
		timeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	hc := *c.httpClient
	transport := hc.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if c.compress {
		transport = gzhttp.Transport(transport)
	}
	hc.Transport = otelhttp.NewTransport(transport, append(c.traceOpts,
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return "couch " + req.Method
		}),
	)...)
	c.httpClient = &hc
	return c, nil
}

// BaseURL returns a copy of the endpoint the client is bound to.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Do executes the provided request and returns the response whatever its
// status code. Context errors are returned as-is; any other failure to obtain
// a response is wrapped in a ConnectionError.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpx: request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Method == "" {
		return nil, errors.New("httpx: HTTP method is required")
	}

	fullURL := c.buildURL(req.Path, req.Query)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, req.Body)
	if err != nil {
		return nil, err
	}
	if req.Body != nil && req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}

	httpReq.Header = cloneHeader(c.headers)
	for k, values := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), values...)
	}
	if c.hasAuth {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.observe(req.Method, 0, elapsed)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.G(ctx).WithError(err).WithField("method", req.Method).WithField("path", req.Path).Debug("couch request failed")
		return nil, &ConnectionError{Method: req.Method, URL: redact(fullURL), Err: err}
	}

	c.metrics.observe(req.Method, resp.StatusCode, elapsed)
	log.G(ctx).WithFields(log.Fields{
		"method":   req.Method,
		"path":     req.Path,
		"status":   resp.StatusCode,
		"duration": elapsed,
	}).Debug("couch request")
	return resp, nil
}

func (c *Client) buildURL(path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := *c.baseURL
	raw := strings.TrimRight(c.baseURL.EscapedPath(), "/")
	if path != "/" {
		raw += path
	}
	if raw == "" {
		raw = "/"
	}
	if unescaped, err := url.PathUnescape(raw); err == nil {
		u.Path = unescaped
		u.RawPath = raw
	} else {
		u.Path = raw
		u.RawPath = ""
	}
	u.RawQuery = ""
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""
	return u.String()
}

// ConnectionError reports a failure below the HTTP layer: no response was
// received from the server.
type ConnectionError struct {
	Method string
	URL    string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("httpx: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{e.Err, errUnavailable}
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer closeBody(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DrainAndClose discards up to 512 bytes of the body and closes it so the
// connection can be reused.
func DrainAndClose(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		_ = resp.Body.Close()
	}
}

// JSONBody serializes the supplied value into JSON without HTML escaping.
func JSONBody(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		vCopy := make([]string, len(values))
		copy(vCopy, values)
		dst[k] = vCopy
	}
	return dst
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	return u.String()
}
