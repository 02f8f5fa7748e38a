package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/Ratio1/couch_sdk_go/internal/couchapi"
	"github.com/Ratio1/couch_sdk_go/internal/httpx"
)

// Collection is a handle on one database whose documents decode into T.
// It performs no I/O on creation and is safe for concurrent use.
type Collection[T any] struct {
	client *Client
	name   string
}

// Use returns a handle on database name of client. Go methods cannot take
// type parameters, so the document type is chosen here.
func Use[T any](client *Client, name string) *Collection[T] {
	return &Collection[T]{client: client, name: name}
}

// Name returns the database name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Client returns the server client the collection is bound to.
func (c *Collection[T]) Client() *Client {
	return c.client
}

// Insert stores doc under an id chosen by the server.
func (c *Collection[T]) Insert(ctx context.Context, doc T, opts *InsertOptions) (*WriteResult, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	body, err := httpx.JSONBody(doc)
	if err != nil {
		return nil, fmt.Errorf("couch: encode document: %w", err)
	}
	header := jsonHeaders()
	query := url.Values{}
	if opts != nil {
		setFullCommit(header, opts.FullCommit)
		if opts.Batch {
			query.Set("batch", "ok")
		}
	}
	resp, err := c.client.do(ctx, &httpx.Request{
		Method:        http.MethodPost,
		Path:          dbPath(c.name),
		Query:         query,
		Header:        header,
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
	})
	if err != nil {
		return nil, err
	}
	return decodeWrite(resp, http.StatusCreated, http.StatusAccepted)
}

// HeadInfo probes a document with HEAD. It returns Found with Modified set
// on 200, NotModified (value still populated) on 304, and Absent on 404.
func (c *Collection[T]) HeadInfo(ctx context.Context, id string, opts *HeadOptions) (Result[DocumentInfo], error) {
	if err := c.validateID(id); err != nil {
		return Result[DocumentInfo]{}, err
	}
	header := http.Header{}
	if opts != nil && opts.IfNoneMatch != "" {
		header.Set("If-None-Match", couchapi.QuoteETag(opts.IfNoneMatch))
	}
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: http.MethodHead,
		Path:   couchapi.DocPath(c.name, id),
		Header: header,
	})
	if err != nil {
		return Result[DocumentInfo]{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotModified:
		httpx.DrainAndClose(resp)
		info := DocumentInfo{
			Size:     contentLength(resp),
			Revision: couchapi.ParseETag(resp.Header.Get("ETag")),
			Modified: resp.StatusCode == http.StatusOK,
		}
		if !info.Modified {
			if info.Revision == "" && opts != nil {
				info.Revision = opts.IfNoneMatch
			}
			return notModified(info), nil
		}
		return found(info), nil
	case http.StatusNotFound:
		httpx.DrainAndClose(resp)
		return absent[DocumentInfo](), nil
	default:
		return Result[DocumentInfo]{}, mapError(resp)
	}
}

// Get fetches a document. The result is Found on 200 and NotModified on 304
// (conditional request through GetOptions.IfNoneMatch). A missing document
// is an error matching IsNotFound.
//
// With OpenRevs set the server returns a list of leaves; Get decodes the
// first available one. Use GetOpenRevs for the full list.
func (c *Collection[T]) Get(ctx context.Context, id string, opts *GetOptions) (Result[*Document[T]], error) {
	if err := c.validateID(id); err != nil {
		return Result[*Document[T]]{}, err
	}
	query, header, err := getParams(opts)
	if err != nil {
		return Result[*Document[T]]{}, err
	}
	header.Set("Accept", "application/json")
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   couchapi.DocPath(c.name, id),
		Query:  query,
		Header: header,
	})
	if err != nil {
		return Result[*Document[T]]{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		data, err := httpx.ReadAllAndClose(resp.Body)
		if err != nil {
			return Result[*Document[T]]{}, fmt.Errorf("couch: read document: %w", err)
		}
		doc, err := decodeDocument[T](data)
		if err != nil {
			return Result[*Document[T]]{}, err
		}
		return found(doc), nil
	case http.StatusNotModified:
		httpx.DrainAndClose(resp)
		return notModified[*Document[T]](nil), nil
	default:
		return Result[*Document[T]]{}, mapError(resp)
	}
}

// GetOpenRevs fetches the given leaf revisions of a document (["all"] for
// every leaf).
func (c *Collection[T]) GetOpenRevs(ctx context.Context, id string, revs []string) ([]OpenRevision[T], error) {
	if err := c.validateID(id); err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		revs = []string{"all"}
	}
	query, header, err := getParams(&GetOptions{OpenRevs: revs})
	if err != nil {
		return nil, err
	}
	header.Set("Accept", "application/json")
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   couchapi.DocPath(c.name, id),
		Query:  query,
		Header: header,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp)
	}
	var leaves []OpenRevision[T]
	if err := decodeBody(resp, &leaves); err != nil {
		return nil, err
	}
	return leaves, nil
}

// GetMultipart fetches a document in its multipart representation, with
// attachment bodies following the JSON document. Set
// GetOptions.Attachments for the server to inline them. Servers answer with
// plain JSON when there is nothing to attach; the result then has no parts.
func (c *Collection[T]) GetMultipart(ctx context.Context, id string, opts *GetOptions) (Result[*MultipartDocument[T]], error) {
	if err := c.validateID(id); err != nil {
		return Result[*MultipartDocument[T]]{}, err
	}
	query, header, err := getParams(opts)
	if err != nil {
		return Result[*MultipartDocument[T]]{}, err
	}
	header.Set("Accept", "multipart/related, application/json")
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   couchapi.DocPath(c.name, id),
		Query:  query,
		Header: header,
	})
	if err != nil {
		return Result[*MultipartDocument[T]]{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		contentType := resp.Header.Get("Content-Type")
		raw, err := httpx.ReadAllAndClose(resp.Body)
		if err != nil {
			return Result[*MultipartDocument[T]]{}, fmt.Errorf("couch: read document: %w", err)
		}
		doc, err := decodeMultipart[T](contentType, raw)
		if err != nil {
			return Result[*MultipartDocument[T]]{}, err
		}
		return found(doc), nil
	case http.StatusNotModified:
		httpx.DrainAndClose(resp)
		return notModified[*MultipartDocument[T]](nil), nil
	default:
		return Result[*MultipartDocument[T]]{}, mapError(resp)
	}
}

// Put stores doc under id. Updating an existing document requires its
// current revision in opts.Revision; otherwise the server answers with a
// conflict (IsConflict).
func (c *Collection[T]) Put(ctx context.Context, id string, doc T, opts *PutOptions) (*WriteResult, error) {
	if err := c.validateID(id); err != nil {
		return nil, err
	}
	body, err := httpx.JSONBody(doc)
	if err != nil {
		return nil, fmt.Errorf("couch: encode document: %w", err)
	}
	header := jsonHeaders()
	query := url.Values{}
	if opts != nil {
		setFullCommit(header, opts.FullCommit)
		if opts.Revision != "" {
			query.Set("rev", opts.Revision)
		}
		if opts.Batch {
			query.Set("batch", "ok")
		}
		if opts.NewEdits != nil {
			query.Set("new_edits", couchapi.FormatBool(*opts.NewEdits))
			if !*opts.NewEdits {
				if opts.Revision == "" {
					return nil, fmt.Errorf("couch: new_edits=false requires a revision: %w", errdefs.ErrInvalidArgument)
				}
				// The revision is taken from the body, not the query.
				query.Del("rev")
				body, err = couchapi.MergeReserved(body, map[string]any{"_id": id, "_rev": opts.Revision})
				if err != nil {
					return nil, fmt.Errorf("couch: encode document: %w", err)
				}
			}
		}
	}
	resp, err := c.client.do(ctx, &httpx.Request{
		Method:        http.MethodPut,
		Path:          couchapi.DocPath(c.name, id),
		Query:         query,
		Header:        header,
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
	})
	if err != nil {
		return nil, err
	}
	return decodeWrite(resp, http.StatusCreated, http.StatusAccepted)
}

// Copy duplicates document id under destID without transferring its body.
func (c *Collection[T]) Copy(ctx context.Context, id, destID string, opts *CopyOptions) (*WriteResult, error) {
	if err := c.validateID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(destID) == "" {
		return nil, fmt.Errorf("couch: destination id is required: %w", errdefs.ErrInvalidArgument)
	}
	destination := couchapi.EscapeDocID(destID)
	header := http.Header{"Accept": {"application/json"}}
	query := url.Values{}
	if opts != nil {
		setFullCommit(header, opts.FullCommit)
		if opts.Revision != "" {
			query.Set("rev", opts.Revision)
		}
		if opts.Batch {
			query.Set("batch", "ok")
		}
		if opts.DestinationRevision != "" {
			destination += "?rev=" + url.QueryEscape(opts.DestinationRevision)
		}
	}
	header.Set("Destination", destination)
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: "COPY",
		Path:   couchapi.DocPath(c.name, id),
		Query:  query,
		Header: header,
	})
	if err != nil {
		return nil, err
	}
	return decodeWrite(resp, http.StatusCreated, http.StatusAccepted)
}

// Delete marks document id as deleted. revision must be the current one.
// The result carries the revision of the tombstone.
func (c *Collection[T]) Delete(ctx context.Context, id, revision string, opts *DeleteOptions) (*WriteResult, error) {
	if err := c.validateID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(revision) == "" {
		return nil, fmt.Errorf("couch: revision is required to delete %q: %w", id, errdefs.ErrInvalidArgument)
	}
	header := http.Header{"Accept": {"application/json"}}
	query := url.Values{"rev": {revision}}
	applyDeleteOptions(header, query, opts)
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: http.MethodDelete,
		Path:   couchapi.DocPath(c.name, id),
		Query:  query,
		Header: header,
	})
	if err != nil {
		return nil, err
	}
	return decodeWrite(resp, http.StatusOK, http.StatusAccepted)
}

func (c *Collection[T]) validate() error {
	if c == nil || c.client == nil {
		return fmt.Errorf("couch: collection is not bound to a client")
	}
	return validateDatabase(c.name)
}

func (c *Collection[T]) validateID(id string) error {
	if err := c.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("couch: document id is required: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

func getParams(opts *GetOptions) (url.Values, http.Header, error) {
	query := url.Values{}
	header := http.Header{}
	if opts == nil {
		return query, header, nil
	}
	setBool(query, "attachments", opts.Attachments)
	setBool(query, "att_encoding_info", opts.AttEncodingInfo)
	if len(opts.AttsSince) > 0 {
		raw, err := json.Marshal(opts.AttsSince)
		if err != nil {
			return nil, nil, err
		}
		query.Set("atts_since", string(raw))
	}
	setBool(query, "conflicts", opts.Conflicts)
	setBool(query, "deleted_conflicts", opts.DeletedConflicts)
	setBool(query, "latest", opts.Latest)
	setBool(query, "local_seq", opts.LocalSeq)
	setBool(query, "meta", opts.Meta)
	if len(opts.OpenRevs) == 1 && opts.OpenRevs[0] == "all" {
		query.Set("open_revs", "all")
	} else if len(opts.OpenRevs) > 0 {
		raw, err := json.Marshal(opts.OpenRevs)
		if err != nil {
			return nil, nil, err
		}
		query.Set("open_revs", string(raw))
	}
	if opts.Rev != "" {
		query.Set("rev", opts.Rev)
	}
	setBool(query, "revs", opts.Revs)
	setBool(query, "revs_info", opts.RevsInfo)
	if opts.IfNoneMatch != "" {
		header.Set("If-None-Match", couchapi.QuoteETag(opts.IfNoneMatch))
	}
	return query, header, nil
}

func setBool(query url.Values, key string, v *bool) {
	if v != nil {
		query.Set(key, couchapi.FormatBool(*v))
	}
}

func setFullCommit(header http.Header, v *bool) {
	if v != nil {
		header.Set("X-Couch-Full-Commit", couchapi.FormatBool(*v))
	}
}

func applyDeleteOptions(header http.Header, query url.Values, opts *DeleteOptions) {
	if opts == nil {
		return
	}
	setFullCommit(header, opts.FullCommit)
	if opts.Batch {
		query.Set("batch", "ok")
	}
}

func jsonHeaders() http.Header {
	return http.Header{
		"Content-Type": {"application/json"},
		"Accept":       {"application/json"},
	}
}

func decodeWrite(resp *http.Response, want ...int) (*WriteResult, error) {
	for _, code := range want {
		if resp.StatusCode == code {
			var res WriteResult
			if err := decodeBody(resp, &res); err != nil {
				return nil, err
			}
			return &res, nil
		}
	}
	return nil, mapError(resp)
}

func decodeDocument[T any](data []byte) (*Document[T], error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		// open_revs answer: pick the first leaf that was found.
		var leaves []OpenRevision[T]
		if err := json.Unmarshal(trimmed, &leaves); err != nil {
			return nil, fmt.Errorf("couch: decode document: %w", err)
		}
		for _, leaf := range leaves {
			if leaf.OK != nil {
				return leaf.OK, nil
			}
		}
		return nil, &Error{StatusCode: http.StatusNotFound, Code: "not_found", Reason: "missing"}
	}
	var doc Document[T]
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("couch: decode document: %w", err)
	}
	return &doc, nil
}

func decodeMultipart[T any](contentType string, raw []byte) (*MultipartDocument[T], error) {
	out := &MultipartDocument[T]{ContentType: contentType, Raw: raw}
	if !couchapi.IsMultipart(contentType) {
		doc, err := decodeDocument[T](raw)
		if err != nil {
			return nil, err
		}
		out.Document = doc
		return out, nil
	}

	parts, err := couchapi.ReadParts(contentType, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("couch: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("couch: multipart document without parts")
	}
	doc, err := decodeDocument[T](parts[0].Data)
	if err != nil {
		return nil, err
	}
	out.Document = doc

	// Content-Disposition names a part when the server sends it. Unnamed
	// parts take the remaining "follows" stubs in name order.
	claimed := make(map[string]bool)
	for _, part := range parts[1:] {
		if name := part.Filename(); name != "" {
			claimed[name] = true
		}
	}
	var unnamed []string
	for _, name := range followingAttachments(doc) {
		if !claimed[name] {
			unnamed = append(unnamed, name)
		}
	}
	for _, part := range parts[1:] {
		name := part.Filename()
		if name == "" && len(unnamed) > 0 {
			name, unnamed = unnamed[0], unnamed[1:]
		}
		contentType := part.ContentType()
		if stub, ok := doc.Attachments[name]; ok && contentType == "" {
			contentType = stub.ContentType
		}
		out.Attachments = append(out.Attachments, AttachmentPart{
			Name:        name,
			ContentType: contentType,
			Data:        part.Data,
		})
	}
	return out, nil
}

func followingAttachments[T any](doc *Document[T]) []string {
	var names []string
	for name, stub := range doc.Attachments {
		if stub.Follows {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func contentLength(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return -1
}
