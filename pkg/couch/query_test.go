package couch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestSortFieldJSON(t *testing.T) {
	raw, err := json.Marshal([]SortField{{Field: "year"}, {Field: "title", Direction: Descending}})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(raw), `["year",{"title":"desc"}]`))

	var back []SortField
	assert.NilError(t, json.Unmarshal(raw, &back))
	assert.Check(t, is.DeepEqual(back, []SortField{{Field: "year"}, {Field: "title", Direction: Descending}}))

	var bad SortField
	assert.Check(t, json.Unmarshal([]byte(`{"a":"asc","b":"desc"}`), &bad) != nil)
}

func TestFindOmitsUnsetOptions(t *testing.T) {
	c := newMockClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || req.URL.Path != "/books/_find" {
			return nil, fmt.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
		}
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if string(data) != `{"selector":{"title":"Dune"}}` {
			return nil, fmt.Errorf("unexpected body %s", data)
		}
		return response(http.StatusOK, `{"docs":[{"_id":"dune","_rev":"1-a","title":"Dune","pages":412}],"bookmark":"nil"}`), nil
	})

	res, err := Use[book](c, "books").Find(context.Background(), map[string]any{"title": "Dune"}, nil)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(res.Docs, 1))
	assert.Check(t, is.Equal(res.Docs[0].ID, "dune"))
	assert.Check(t, is.DeepEqual(res.Docs[0].Body, book{Title: "Dune", Pages: 412}))
	assert.Check(t, is.Equal(res.Warning, ""))
	assert.Check(t, res.ExecutionStats == nil)
}

func TestFindSendsOptions(t *testing.T) {
	c := newMockClient(t, func(req *http.Request) (*http.Response, error) {
		body := decodeRequest(t, req)
		want := map[string]any{
			"selector":        map[string]any{"pages": map[string]any{"$gt": float64(100)}},
			"limit":           float64(10),
			"skip":            float64(5),
			"sort":            []any{map[string]any{"pages": "desc"}},
			"fields":          []any{"_id", "title"},
			"use_index":       "_design/by-pages",
			"bookmark":        "g1AAAA",
			"stable":          true,
			"execution_stats": true,
		}
		for k, v := range want {
			got, _ := json.Marshal(body[k])
			exp, _ := json.Marshal(v)
			if string(got) != string(exp) {
				return nil, fmt.Errorf("%s: got %s, want %s", k, got, exp)
			}
		}
		if len(body) != len(want) {
			return nil, fmt.Errorf("unexpected members in %v", body)
		}
		return response(http.StatusOK, `{"docs":[],"warning":"No matching index found, create an index to optimize query time.","execution_stats":{"total_keys_examined":0,"total_docs_examined":12,"results_returned":0,"execution_time_ms":1.5},"bookmark":"g2"}`), nil
	})

	res, err := Use[book](c, "books").Find(context.Background(), map[string]any{"pages": map[string]any{"$gt": 100}}, &FindOptions{
		Limit:          10,
		Skip:           5,
		Sort:           []SortField{{Field: "pages", Direction: Descending}},
		Fields:         []string{"_id", "title"},
		UseIndex:       []string{"_design/by-pages"},
		Bookmark:       "g1AAAA",
		Stable:         Bool(true),
		ExecutionStats: true,
	})
	assert.NilError(t, err)
	assert.Check(t, is.Len(res.Docs, 0))
	assert.Check(t, is.Contains(res.Warning, "No matching index"))
	assert.Assert(t, res.ExecutionStats != nil)
	assert.Check(t, is.Equal(res.ExecutionStats.TotalDocsExamined, int64(12)))
	assert.Check(t, is.Equal(res.Bookmark, "g2"))
}

func TestFindUseIndexPair(t *testing.T) {
	c := newMockClient(t, func(req *http.Request) (*http.Response, error) {
		body := decodeRequest(t, req)
		got, _ := json.Marshal(body["use_index"])
		if string(got) != `["by-pages","pages-idx"]` {
			return nil, fmt.Errorf("unexpected use_index %s", got)
		}
		return response(http.StatusOK, `{"docs":[]}`), nil
	})

	_, err := Use[book](c, "books").Find(context.Background(), map[string]any{}, &FindOptions{UseIndex: []string{"by-pages", "pages-idx"}})
	assert.NilError(t, err)
}

func TestFindErrors(t *testing.T) {
	c := newMockClient(t, failIfCalled(t))
	_, err := Use[book](c, "books").Find(context.Background(), nil, nil)
	assert.Check(t, is.ErrorType(err, errdefs.IsInvalidArgument))

	c = newMockClient(t, errorMock(http.StatusBadRequest, `{"error":"invalid_operator","reason":"Invalid operator: $bogus"}`))
	_, err = Use[book](c, "books").Find(context.Background(), map[string]any{"a": map[string]any{"$bogus": 1}}, nil)
	assert.Check(t, is.ErrorType(err, errdefs.IsInvalidArgument))
	assert.Check(t, is.ErrorContains(err, "invalid_operator"))
}

func TestCreateIndex(t *testing.T) {
	c := newMockClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/books/_index" {
			return nil, fmt.Errorf("unexpected path %s", req.URL.Path)
		}
		body := decodeRequest(t, req)
		got, _ := json.Marshal(body)
		if string(got) != `{"ddoc":"by-pages","index":{"fields":["pages"]},"name":"pages-idx","type":"json"}` {
			return nil, fmt.Errorf("unexpected body %s", got)
		}
		return response(http.StatusOK, `{"result":"created","id":"_design/by-pages","name":"pages-idx"}`), nil
	})

	res, err := Use[book](c, "books").CreateIndex(context.Background(), IndexDefinition{
		Fields:    []SortField{{Field: "pages"}},
		Name:      "pages-idx",
		DesignDoc: "by-pages",
	})
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(res, &IndexResult{Result: "created", ID: "_design/by-pages", Name: "pages-idx"}))

	_, err = Use[book](c, "books").CreateIndex(context.Background(), IndexDefinition{})
	assert.Check(t, is.ErrorType(err, errdefs.IsInvalidArgument))
}
