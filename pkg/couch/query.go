package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"

	"github.com/Ratio1/couch_sdk_go/internal/httpx"
)

// Sort directions accepted in SortField.
const (
	Ascending  = "asc"
	Descending = "desc"
)

// SortField orders Find results by one field. Without a Direction it is
// encoded as the bare field name, otherwise as {"field": "direction"}.
type SortField struct {
	Field     string
	Direction string
}

// MarshalJSON implements json.Marshaler.
func (s SortField) MarshalJSON() ([]byte, error) {
	if s.Direction == "" {
		return json.Marshal(s.Field)
	}
	return json.Marshal(map[string]string{s.Field: s.Direction})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SortField) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = SortField{Field: name}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("couch: sort entry must name exactly one field")
	}
	for field, dir := range m {
		*s = SortField{Field: field, Direction: dir}
	}
	return nil
}

// FindOptions are the optional members of a selector query. Zero values
// are omitted from the request so the server defaults apply.
type FindOptions struct {
	Limit  int
	Skip   int
	Sort   []SortField
	Fields []string
	// UseIndex names a design document, or a design document and index name.
	UseIndex []string
	// R is the read quorum.
	R        int
	Bookmark string
	Update   *bool
	Stable   *bool
	// Stale is "ok" or "update_after" on servers that still accept it.
	Stale          string
	ExecutionStats bool
}

type findRequest struct {
	Selector       any         `json:"selector"`
	Limit          int         `json:"limit,omitempty"`
	Skip           int         `json:"skip,omitempty"`
	Sort           []SortField `json:"sort,omitempty"`
	Fields         []string    `json:"fields,omitempty"`
	UseIndex       any         `json:"use_index,omitempty"`
	R              int         `json:"r,omitempty"`
	Bookmark       string      `json:"bookmark,omitempty"`
	Update         *bool       `json:"update,omitempty"`
	Stable         *bool       `json:"stable,omitempty"`
	Stale          string      `json:"stale,omitempty"`
	ExecutionStats bool        `json:"execution_stats,omitempty"`
}

// ExecutionStats reports the work the server did for a query.
type ExecutionStats struct {
	TotalKeysExamined       int64   `json:"total_keys_examined"`
	TotalDocsExamined       int64   `json:"total_docs_examined"`
	TotalQuorumDocsExamined int64   `json:"total_quorum_docs_examined"`
	ResultsReturned         int64   `json:"results_returned"`
	ExecutionTimeMs         float64 `json:"execution_time_ms"`
}

// FindResult is the answer to a selector query.
type FindResult[T any] struct {
	Docs           []Document[T]   `json:"docs"`
	Warning        string          `json:"warning,omitempty"`
	ExecutionStats *ExecutionStats `json:"execution_stats,omitempty"`
	Bookmark       string          `json:"bookmark,omitempty"`
}

// Find runs a selector query against the database. selector is encoded as
// JSON, typically a map such as map[string]any{"name": "a"}.
func (c *Collection[T]) Find(ctx context.Context, selector any, opts *FindOptions) (*FindResult[T], error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if selector == nil {
		return nil, fmt.Errorf("couch: selector is required: %w", errdefs.ErrInvalidArgument)
	}
	req := findRequest{Selector: selector}
	if opts != nil {
		req.Limit = opts.Limit
		req.Skip = opts.Skip
		req.Sort = opts.Sort
		req.Fields = opts.Fields
		switch len(opts.UseIndex) {
		case 0:
		case 1:
			req.UseIndex = opts.UseIndex[0]
		default:
			req.UseIndex = opts.UseIndex
		}
		req.R = opts.R
		req.Bookmark = opts.Bookmark
		req.Update = opts.Update
		req.Stable = opts.Stable
		req.Stale = opts.Stale
		req.ExecutionStats = opts.ExecutionStats
	}

	var res FindResult[T]
	if err := c.postJSON(ctx, "/_find", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// IndexDefinition describes a query index.
type IndexDefinition struct {
	// Fields lists the indexed fields, in sort order.
	Fields []SortField
	// Name and DesignDoc are chosen by the server when empty.
	Name      string
	DesignDoc string
	// PartialFilter restricts the index to matching documents.
	PartialFilter any
}

// IndexResult reports the outcome of CreateIndex; Result is "created" or
// "exists".
type IndexResult struct {
	Result string `json:"result"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

// CreateIndex declares a query index on the database.
func (c *Collection[T]) CreateIndex(ctx context.Context, def IndexDefinition) (*IndexResult, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if len(def.Fields) == 0 {
		return nil, fmt.Errorf("couch: index fields are required: %w", errdefs.ErrInvalidArgument)
	}
	type index struct {
		Fields                []SortField `json:"fields"`
		PartialFilterSelector any         `json:"partial_filter_selector,omitempty"`
	}
	req := struct {
		Index index  `json:"index"`
		Name  string `json:"name,omitempty"`
		DDoc  string `json:"ddoc,omitempty"`
		Type  string `json:"type"`
	}{
		Index: index{Fields: def.Fields, PartialFilterSelector: def.PartialFilter},
		Name:  def.Name,
		DDoc:  def.DesignDoc,
		Type:  "json",
	}

	var res IndexResult
	if err := c.postJSON(ctx, "/_index", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Collection[T]) postJSON(ctx context.Context, suffix string, in, out any) error {
	body, err := httpx.JSONBody(in)
	if err != nil {
		return fmt.Errorf("couch: encode request: %w", err)
	}
	resp, err := c.client.do(ctx, &httpx.Request{
		Method:        http.MethodPost,
		Path:          dbPath(c.name) + suffix,
		Header:        jsonHeaders(),
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return mapError(resp)
	}
	return decodeBody(resp, out)
}
