package couch

import (
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Ratio1/couch_sdk_go/internal/httpx"
)

// Option configures a Client.
type Option = httpx.Option

// Metrics collects request counters and latencies; see NewMetrics.
type Metrics = httpx.Metrics

// NewMetrics registers the client collectors with reg (which may be nil).
var NewMetrics = httpx.NewMetrics

// WithBasicAuth sends the credentials with every request.
func WithBasicAuth(username, password string) Option {
	return httpx.WithBasicAuth(username, password)
}

// WithHTTPClient sets the HTTP client used to reach the server.
func WithHTTPClient(h *http.Client) Option {
	return httpx.WithHTTPClient(h)
}

// WithHeaders adds default headers to every request.
func WithHeaders(h http.Header) Option {
	return httpx.WithHeaders(h)
}

// WithTimeout bounds each request of the default HTTP client (30s unless
// set).
func WithTimeout(d time.Duration) Option {
	return httpx.WithTimeout(d)
}

// WithTracerProvider records client spans with provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return httpx.WithTracerProvider(provider)
}

// WithMetrics records request metrics into m.
func WithMetrics(m *Metrics) Option {
	return httpx.WithMetrics(m)
}

// WithCompression requests gzip encoded responses.
func WithCompression() Option {
	return httpx.WithCompression()
}

// Bool returns a pointer to b, for the tri-state options below.
func Bool(b bool) *bool {
	return &b
}

// CreateDatabaseOptions controls database creation. Zero values are not
// sent and leave the server defaults in place.
type CreateDatabaseOptions struct {
	// Shards is the number of shards (q).
	Shards int
	// Replicas is the number of copies of each document (n).
	Replicas int
}

// InsertOptions controls Insert.
type InsertOptions struct {
	// Batch lets the server acknowledge the write (202) before it is
	// committed to disk.
	Batch bool
	// FullCommit sets X-Couch-Full-Commit when non-nil.
	FullCommit *bool
}

// PutOptions controls Put.
type PutOptions struct {
	// Revision is the current revision of the document. It is required
	// when the document already exists.
	Revision   string
	Batch      bool
	FullCommit *bool
	// NewEdits set to false stores the document with the supplied
	// Revision as-is, without conflict detection.
	NewEdits *bool
}

// DeleteOptions controls Delete and DeleteAttachment.
type DeleteOptions struct {
	Batch      bool
	FullCommit *bool
}

// CopyOptions controls Copy.
type CopyOptions struct {
	// Revision selects the revision of the source document to copy.
	Revision string
	// DestinationRevision is the current revision of the destination, required
	// when overwriting an existing document.
	DestinationRevision string
	Batch               bool
	FullCommit          *bool
}

// HeadOptions controls HeadInfo.
type HeadOptions struct {
	// IfNoneMatch is a revision the caller already holds; the server answers
	// 304 when it is still current.
	IfNoneMatch string
}

// GetOptions controls Get and GetMultipart. Unset fields are not sent.
type GetOptions struct {
	// Attachments includes attachment bodies.
	Attachments *bool
	// AttEncodingInfo includes encoding information of compressed
	// attachments.
	AttEncodingInfo *bool
	// AttsSince lists revisions the caller already holds; only attachments
	// changed since them are included.
	AttsSince []string
	// Conflicts includes the conflicting revisions.
	Conflicts *bool
	// DeletedConflicts includes deleted conflicting revisions.
	DeletedConflicts *bool
	// Latest returns the latest leaf revision of the requested one.
	Latest *bool
	// LocalSeq includes the last update sequence of the document.
	LocalSeq *bool
	// Meta is Conflicts, DeletedConflicts and RevsInfo together.
	Meta *bool
	// OpenRevs requests a set of leaf revisions; ["all"] requests every leaf.
	OpenRevs []string
	// Rev fetches a specific revision.
	Rev string
	// Revs includes the revision history.
	Revs *bool
	// RevsInfo includes the revision list with availability.
	RevsInfo *bool
	// IfNoneMatch makes the request conditional on the given revision.
	IfNoneMatch string
}

// AttachmentOptions selects the document revision an attachment is read
// from.
type AttachmentOptions struct {
	Revision string
}

// PutAttachmentOptions describes an attachment upload.
type PutAttachmentOptions struct {
	// Data is streamed to the server as the request body.
	Data io.Reader
	// ContentType defaults to application/octet-stream.
	ContentType string
	// Revision is the current revision of the document; required when the
	// document exists.
	Revision string
	// Length is sent as Content-Length when positive. Otherwise the upload
	// uses chunked transfer encoding.
	Length int64
}
