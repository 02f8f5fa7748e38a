package couch

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Ratio1/couch_sdk_go/internal/couchapi"
)

// Metadata describes the server instance (GET /).
type Metadata struct {
	CouchDB  string   `json:"couchdb"`
	UUID     string   `json:"uuid"`
	Vendor   Vendor   `json:"vendor"`
	Version  string   `json:"version"`
	GitSHA   string   `json:"git_sha,omitempty"`
	Features []string `json:"features,omitempty"`
}

// Vendor identifies who ships the server build.
type Vendor struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// DatabaseInfo holds the counters the server reports for a database.
type DatabaseInfo struct {
	DBName            string        `json:"db_name"`
	Cluster           ClusterInfo   `json:"cluster"`
	CompactRunning    bool          `json:"compact_running"`
	DiskFormatVersion int           `json:"disk_format_version"`
	DocCount          int64         `json:"doc_count"`
	DocDelCount       int64         `json:"doc_del_count"`
	InstanceStartTime string        `json:"instance_start_time"`
	Sizes             DatabaseSizes `json:"sizes"`
	// DataSize and DiskSize are reported by older servers only.
	DataSize int64 `json:"data_size,omitempty"`
	DiskSize int64 `json:"disk_size,omitempty"`
	// PurgeSeq and UpdateSeq are numbers or opaque strings depending on the
	// server version.
	PurgeSeq  json.RawMessage `json:"purge_seq,omitempty"`
	UpdateSeq json.RawMessage `json:"update_seq,omitempty"`
}

// ClusterInfo carries the replication factors of a clustered database.
type ClusterInfo struct {
	N int `json:"n"`
	Q int `json:"q"`
	R int `json:"r"`
	W int `json:"w"`
}

// DatabaseSizes reports the database size in bytes.
type DatabaseSizes struct {
	Active   int64 `json:"active"`
	External int64 `json:"external"`
	File     int64 `json:"file"`
}

// AttachmentStub is the attachment metadata embedded in a document.
type AttachmentStub struct {
	ContentType   string `json:"content_type"`
	Digest        string `json:"digest,omitempty"`
	Length        int64  `json:"length,omitempty"`
	RevPos        int    `json:"revpos,omitempty"`
	Stub          bool   `json:"stub,omitempty"`
	Follows       bool   `json:"follows,omitempty"`
	Data          []byte `json:"data,omitempty"`
	Encoding      string `json:"encoding,omitempty"`
	EncodedLength int64  `json:"encoded_length,omitempty"`
}

// RevisionInfo is one entry of the _revs_info list.
type RevisionInfo struct {
	Rev    string `json:"rev"`
	Status string `json:"status"`
}

// Revisions is the revision history returned with revs=true.
type Revisions struct {
	Start int      `json:"start"`
	IDs   []string `json:"ids"`
}

// Document wraps a user payload with the fields the store reserves for
// itself. Body never sees "_"-prefixed members: they are stripped before the
// payload is decoded and merged back when the document is encoded.
type Document[T any] struct {
	ID               string
	Revision         string
	Deleted          bool
	Attachments      map[string]AttachmentStub
	Conflicts        []string
	DeletedConflicts []string
	LocalSeq         json.RawMessage
	RevsInfo         []RevisionInfo
	Revisions        *Revisions
	Body             T
}

type envelope struct {
	ID               string                    `json:"_id,omitempty"`
	Rev              string                    `json:"_rev,omitempty"`
	Deleted          bool                      `json:"_deleted,omitempty"`
	Attachments      map[string]AttachmentStub `json:"_attachments,omitempty"`
	Conflicts        []string                  `json:"_conflicts,omitempty"`
	DeletedConflicts []string                  `json:"_deleted_conflicts,omitempty"`
	LocalSeq         json.RawMessage           `json:"_local_seq,omitempty"`
	RevsInfo         []RevisionInfo            `json:"_revs_info,omitempty"`
	Revisions        *Revisions                `json:"_revisions,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document[T]) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	_, payload, err := couchapi.SplitReserved(data)
	if err != nil {
		return err
	}
	var body T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("couch: decode document body: %w", err)
		}
	}
	*d = Document[T]{
		ID:               env.ID,
		Revision:         env.Rev,
		Deleted:          env.Deleted,
		Attachments:      env.Attachments,
		Conflicts:        env.Conflicts,
		DeletedConflicts: env.DeletedConflicts,
		LocalSeq:         env.LocalSeq,
		RevsInfo:         env.RevsInfo,
		Revisions:        env.Revisions,
		Body:             body,
	}
	return nil
}

// MarshalJSON implements json.Marshaler. The body must encode as a JSON
// object.
func (d Document[T]) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(d.Body)
	if err != nil {
		return nil, err
	}
	return couchapi.MergeReserved(body, d.reserved())
}

func (d Document[T]) reserved() map[string]any {
	m := make(map[string]any)
	if d.ID != "" {
		m["_id"] = d.ID
	}
	if d.Revision != "" {
		m["_rev"] = d.Revision
	}
	if d.Deleted {
		m["_deleted"] = true
	}
	if len(d.Attachments) > 0 {
		m["_attachments"] = d.Attachments
	}
	if d.Revisions != nil {
		m["_revisions"] = d.Revisions
	}
	return m
}

// MultipartDocument is a document fetched in its multipart representation:
// the JSON document plus the attachment bodies that followed it.
type MultipartDocument[T any] struct {
	Document    *Document[T]
	Attachments []AttachmentPart
	// ContentType and Raw hold the unparsed response for callers that
	// extract parts themselves.
	ContentType string
	Raw         []byte
}

// AttachmentPart is an attachment body carried inline in a multipart
// response.
type AttachmentPart struct {
	Name        string
	ContentType string
	Data        []byte
}

// OpenRevision is one leaf returned for an open_revs request: either the
// document at that revision or the revision the server could not find.
type OpenRevision[T any] struct {
	OK      *Document[T] `json:"ok,omitempty"`
	Missing string       `json:"missing,omitempty"`
}

// WriteResult is returned by every accepted mutation.
type WriteResult struct {
	ID string `json:"id"`
	OK bool   `json:"ok"`
	// Revision is the new revision of the document. It is empty for batch
	// writes acknowledged with 202, for which the server does not report one.
	Revision string `json:"rev,omitempty"`
}

// DocumentInfo is the metadata returned by a HEAD request on a document.
type DocumentInfo struct {
	Size     int64
	Revision string
	// Modified is false when the server answered 304 to a conditional probe.
	Modified bool
}

// AttachmentInfo is the metadata returned by a HEAD request on an
// attachment.
type AttachmentInfo struct {
	ContentType string
	Length      int64
	Digest      string
	Encoding    string
}

// Attachment is a streamed attachment body. Callers must close Body.
type Attachment struct {
	Name        string
	ContentType string
	// Length is -1 when the server did not announce it.
	Length int64
	Digest string
	Body   io.ReadCloser
}

// Close closes the attachment body.
func (a *Attachment) Close() error {
	if a == nil || a.Body == nil {
		return nil
	}
	return a.Body.Close()
}
