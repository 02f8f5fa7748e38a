package couch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/Ratio1/couch_sdk_go/internal/httpx"
)

// Client talks to one server instance. It only holds its configuration and
// is safe for concurrent use.
type Client struct {
	http *httpx.Client
}

// New constructs a Client bound to the server endpoint, e.g.
// "http://127.0.0.1:5984". Credentials embedded in the URL are used for
// basic authentication.
func New(endpoint string, opts ...Option) (*Client, error) {
	cl, err := httpx.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{http: cl}, nil
}

// Endpoint returns the base URL of the server.
func (c *Client) Endpoint() string {
	return c.http.BaseURL().String()
}

// Metadata returns the server's welcome document.
func (c *Client) Metadata(ctx context.Context) (*Metadata, error) {
	resp, err := c.do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   "/",
		Header: acceptJSON(),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp)
	}
	var meta Metadata
	if err := decodeBody(resp, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// DatabaseExists checks a database with HEAD. A 404 yields false; any other
// non-200 status is an error.
func (c *Client) DatabaseExists(ctx context.Context, name string) (bool, error) {
	if err := validateDatabase(name); err != nil {
		return false, err
	}
	resp, err := c.do(ctx, &httpx.Request{
		Method: http.MethodHead,
		Path:   dbPath(name),
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		httpx.DrainAndClose(resp)
		return true, nil
	case http.StatusNotFound:
		httpx.DrainAndClose(resp)
		return false, nil
	default:
		return false, mapError(resp)
	}
}

// DatabaseInfo returns the counters of a database.
func (c *Client) DatabaseInfo(ctx context.Context, name string) (*DatabaseInfo, error) {
	if err := validateDatabase(name); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   dbPath(name),
		Header: acceptJSON(),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp)
	}
	var info DatabaseInfo
	if err := decodeBody(resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateDatabase creates a database. The server answers 412 when it already
// exists (errdefs.IsAlreadyExists).
func (c *Client) CreateDatabase(ctx context.Context, name string, opts *CreateDatabaseOptions) error {
	if err := validateDatabase(name); err != nil {
		return err
	}
	query := url.Values{}
	if opts != nil {
		if opts.Shards > 0 {
			query.Set("q", strconv.Itoa(opts.Shards))
		}
		if opts.Replicas > 0 {
			query.Set("n", strconv.Itoa(opts.Replicas))
		}
	}
	resp, err := c.do(ctx, &httpx.Request{
		Method: http.MethodPut,
		Path:   dbPath(name),
		Query:  query,
		Header: acceptJSON(),
	})
	if err != nil {
		return err
	}
	return expectOK(resp, http.StatusCreated, http.StatusAccepted)
}

// DeleteDatabase deletes a database and all its documents.
func (c *Client) DeleteDatabase(ctx context.Context, name string) error {
	if err := validateDatabase(name); err != nil {
		return err
	}
	resp, err := c.do(ctx, &httpx.Request{
		Method: http.MethodDelete,
		Path:   dbPath(name),
		Header: acceptJSON(),
	})
	if err != nil {
		return err
	}
	return expectOK(resp, http.StatusOK, http.StatusAccepted)
}

// AllDatabases lists the database names of the instance.
func (c *Client) AllDatabases(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   "/_all_dbs",
		Header: acceptJSON(),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp)
	}
	var names []string
	if err := decodeBody(resp, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// UUIDs asks the server for count fresh identifiers.
func (c *Client) UUIDs(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		count = 1
	}
	resp, err := c.do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   "/_uuids",
		Query:  url.Values{"count": {strconv.Itoa(count)}},
		Header: acceptJSON(),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp)
	}
	var payload struct {
		UUIDs []string `json:"uuids"`
	}
	if err := decodeBody(resp, &payload); err != nil {
		return nil, err
	}
	return payload.UUIDs, nil
}

func (c *Client) do(ctx context.Context, req *httpx.Request) (*http.Response, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("couch: client is nil")
	}
	return c.http.Do(ctx, req)
}

func dbPath(name string) string {
	return "/" + url.PathEscape(name)
}

func validateDatabase(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("couch: database name is required: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

func acceptJSON() http.Header {
	return http.Header{"Accept": {"application/json"}}
}

// expectOK closes the response and maps any status outside want to an
// error.
func expectOK(resp *http.Response, want ...int) error {
	for _, code := range want {
		if resp.StatusCode == code {
			httpx.DrainAndClose(resp)
			return nil
		}
	}
	return mapError(resp)
}

func decodeBody(resp *http.Response, out any) error {
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return fmt.Errorf("couch: read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("couch: decode response: %w", err)
	}
	return nil
}
