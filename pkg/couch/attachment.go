package couch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/Ratio1/couch_sdk_go/internal/couchapi"
	"github.com/Ratio1/couch_sdk_go/internal/httpx"
)

const defaultAttachmentType = "application/octet-stream"

// AttachmentInfo probes an attachment with HEAD. A 404 (missing document or
// attachment) yields Absent.
func (c *Collection[T]) AttachmentInfo(ctx context.Context, id, name string, opts *AttachmentOptions) (Result[AttachmentInfo], error) {
	if err := c.validateAttachment(id, name); err != nil {
		return Result[AttachmentInfo]{}, err
	}
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: http.MethodHead,
		Path:   couchapi.AttachmentPath(c.name, id, name),
		Query:  revisionQuery(opts),
	})
	if err != nil {
		return Result[AttachmentInfo]{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		httpx.DrainAndClose(resp)
		return found(attachmentInfo(resp)), nil
	case http.StatusNotFound:
		httpx.DrainAndClose(resp)
		return absent[AttachmentInfo](), nil
	default:
		return Result[AttachmentInfo]{}, mapError(resp)
	}
}

// GetAttachment streams an attachment body. The caller must close the
// returned Attachment. A missing attachment is an error matching IsNotFound.
func (c *Collection[T]) GetAttachment(ctx context.Context, id, name string, opts *AttachmentOptions) (*Attachment, error) {
	if err := c.validateAttachment(id, name); err != nil {
		return nil, err
	}
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   couchapi.AttachmentPath(c.name, id, name),
		Query:  revisionQuery(opts),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp)
	}
	info := attachmentInfo(resp)
	return &Attachment{
		Name:        name,
		ContentType: info.ContentType,
		Length:      info.Length,
		Digest:      info.Digest,
		Body:        resp.Body,
	}, nil
}

// PutAttachment uploads opts.Data as attachment name of document id,
// creating the document when it does not exist. The body is streamed.
func (c *Collection[T]) PutAttachment(ctx context.Context, id, name string, opts *PutAttachmentOptions) (*WriteResult, error) {
	if err := c.validateAttachment(id, name); err != nil {
		return nil, err
	}
	if opts == nil || opts.Data == nil {
		return nil, fmt.Errorf("couch: attachment data is required: %w", errdefs.ErrInvalidArgument)
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = defaultAttachmentType
	}
	query := url.Values{}
	if opts.Revision != "" {
		query.Set("rev", opts.Revision)
	}
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: http.MethodPut,
		Path:   couchapi.AttachmentPath(c.name, id, name),
		Query:  query,
		Header: http.Header{
			"Content-Type": {contentType},
			"Accept":       {"application/json"},
		},
		Body:          opts.Data,
		ContentLength: opts.Length,
	})
	if err != nil {
		return nil, err
	}
	return decodeWrite(resp, http.StatusCreated, http.StatusAccepted)
}

// DeleteAttachment removes attachment name from document id. revision must
// be the current revision of the document.
func (c *Collection[T]) DeleteAttachment(ctx context.Context, id, name, revision string, opts *DeleteOptions) (*WriteResult, error) {
	if err := c.validateAttachment(id, name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(revision) == "" {
		return nil, fmt.Errorf("couch: revision is required to delete attachment %q: %w", name, errdefs.ErrInvalidArgument)
	}
	header := http.Header{"Accept": {"application/json"}}
	query := url.Values{"rev": {revision}}
	applyDeleteOptions(header, query, opts)
	resp, err := c.client.do(ctx, &httpx.Request{
		Method: http.MethodDelete,
		Path:   couchapi.AttachmentPath(c.name, id, name),
		Query:  query,
		Header: header,
	})
	if err != nil {
		return nil, err
	}
	return decodeWrite(resp, http.StatusOK, http.StatusAccepted)
}

func (c *Collection[T]) validateAttachment(id, name string) error {
	if err := c.validateID(id); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("couch: attachment name is required: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

func revisionQuery(opts *AttachmentOptions) url.Values {
	if opts == nil || opts.Revision == "" {
		return nil
	}
	return url.Values{"rev": {opts.Revision}}
}

func attachmentInfo(resp *http.Response) AttachmentInfo {
	digest := couchapi.ParseETag(resp.Header.Get("ETag"))
	if md5 := resp.Header.Get("Content-MD5"); md5 != "" {
		digest = "md5-" + md5
	}
	return AttachmentInfo{
		ContentType: resp.Header.Get("Content-Type"),
		Length:      contentLength(resp),
		Digest:      digest,
		Encoding:    resp.Header.Get("Content-Encoding"),
	}
}
