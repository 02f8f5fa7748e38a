package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		path     string
		query    url.Values
		expected string
	}{
		{name: "root", base: "http://h:5984", path: "/", expected: "http://h:5984/"},
		{name: "trailing slash base", base: "http://h:5984/", path: "/db", expected: "http://h:5984/db"},
		{name: "base path", base: "http://h/couch/", path: "/db/doc", expected: "http://h/couch/db/doc"},
		{name: "base path root", base: "http://h/couch", path: "/", expected: "http://h/couch"},
		{name: "relative path", base: "http://h", path: "db", expected: "http://h/db"},
		{name: "escaped slash kept", base: "http://h", path: "/db/a%2Fb", expected: "http://h/db/a%2Fb"},
		{name: "query", base: "http://h?ignored=1", path: "/db", query: url.Values{"rev": {"1-a"}, "batch": {"ok"}}, expected: "http://h/db?batch=ok&rev=1-a"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.base)
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if got := c.buildURL(tc.path, tc.query); got != tc.expected {
				t.Fatalf("buildURL mismatch: expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	for _, base := range []string{"", "  ", "ftp://h", "h:5984", "%zz"} {
		if _, err := NewClient(base); err == nil {
			t.Fatalf("expected error for base URL %q", base)
		}
	}
}

func TestDoSendsHeadersAndCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "p@ss" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Default") != "1" || r.Header.Get("X-Call") != "2" {
			http.Error(w, "missing headers", http.StatusBadRequest)
			return
		}
		if r.ContentLength != 7 {
			http.Error(w, "missing content length", http.StatusLengthRequired)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, r.Method+" "+r.URL.RequestURI()+" "+string(body))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	u.User = url.UserPassword("admin", "p@ss")
	c, err := NewClient(u.String(), WithHeaders(http.Header{"X-Default": {"1"}}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if strings.Contains(c.BaseURL().String(), "p@ss") {
		t.Fatalf("base URL leaks credentials: %s", c.BaseURL())
	}

	resp, err := c.Do(context.Background(), &Request{
		Method:        http.MethodPut,
		Path:          "/db/doc",
		Query:         url.Values{"rev": {"1-a"}},
		Header:        http.Header{"X-Call": {"2"}},
		Body:          io.NopCloser(strings.NewReader(`{"a":1}`)),
		ContentLength: 7,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	data, err := ReadAllAndClose(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.StatusCode != http.StatusCreated || string(data) != `PUT /db/doc?rev=1-a {"a":1}` {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, data)
	}
}

func TestDoReturnsErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/missing"})
	if err != nil {
		t.Fatalf("Do must not interpret statuses: %v", err)
	}
	DrainAndClose(resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestDoConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/"})
	if !IsConnectionError(err) {
		t.Fatalf("expected ConnectionError, got %T: %v", err, err)
	}
	if !errdefs.IsUnavailable(err) {
		t.Fatalf("expected connection errors to be unavailable: %v", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Method != http.MethodGet || connErr.URL != addr+"/" {
		t.Fatalf("unexpected error details: %#v", connErr)
	}
}

func TestDoContextErrorsAreNotWrapped(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Do(ctx, &Request{Method: http.MethodGet, Path: "/slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if IsConnectionError(err) {
		t.Fatalf("context errors must not be reported as connection errors: %v", err)
	}
}

func TestDoRequiresMethod(t *testing.T) {
	c, err := NewClient("http://h")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Do(context.Background(), &Request{Path: "/"}); err == nil {
		t.Fatal("expected error for missing method")
	}
	if _, err := c.Do(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil request")
	}
}

func TestCompression(t *testing.T) {
	payload := strings.Repeat(`{"name":"value"},`, 512)
	var acceptEncoding string
	srv := httptest.NewServer(gzhttp.GzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acceptEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, payload)
	})))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithCompression())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	data, err := ReadAllAndClose(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(acceptEncoding, "gzip") {
		t.Fatalf("client did not negotiate gzip: %q", acceptEncoding)
	}
	if string(data) != payload {
		t.Fatalf("payload mismatch after decompression (%d bytes)", len(data))
	}
}

func TestMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	shared, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics on the same registry: %v", err)
	}
	if shared.requests != m.requests {
		t.Fatal("expected collectors to be shared between clients")
	}

	c, err := NewClient(srv.URL, WithMetrics(m))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	for _, method := range []string{http.MethodGet, http.MethodGet, http.MethodDelete} {
		resp, err := c.Do(context.Background(), &Request{Method: method, Path: "/x"})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		DrainAndClose(resp)
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")); got != 2 {
		t.Fatalf("expected 2 GET requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("DELETE", "409")); got != 1 {
		t.Fatalf("expected 1 DELETE request, got %v", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 2 {
		t.Fatalf("expected latency series for 2 methods, got %d", got)
	}

	var nilMetrics *Metrics
	nilMetrics.observe("GET", 200, time.Millisecond)
}

func TestJSONBody(t *testing.T) {
	data, err := JSONBody(map[string]string{"html": "<a>&</a>"})
	if err != nil {
		t.Fatalf("JSONBody: %v", err)
	}
	if string(data) != `{"html":"<a>&</a>"}` {
		t.Fatalf("unexpected encoding %q", data)
	}
}

func TestRedact(t *testing.T) {
	if got := redact("http://u:p@h/db?rev=1"); got != "http://h/db?rev=1" {
		t.Fatalf("unexpected redaction %q", got)
	}
}
