package couchtest

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var dbNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

// httpError is a failure rendered as the store's {error, reason} envelope.
type httpError struct {
	status int
	code   string
	reason string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, e.code, e.reason)
}

func errNotFound(reason string) *httpError {
	return &httpError{status: 404, code: "not_found", reason: reason}
}

func errConflict() *httpError {
	return &httpError{status: 409, code: "conflict", reason: "Document update conflict."}
}

func errBadRequest(reason string) *httpError {
	return &httpError{status: 400, code: "bad_request", reason: reason}
}

type attachment struct {
	contentType string
	data        []byte
	digest      string
	revpos      int
}

type revision struct {
	rev         string
	pos         int
	deleted     bool
	body        map[string]json.RawMessage
	attachments map[string]*attachment
	parent      string
}

type document struct {
	id     string
	revs   map[string]*revision
	leaves map[string]bool
	seq    int64
}

// winner picks the revision reads return: the highest non-deleted leaf, or
// the highest deleted one when every leaf is a tombstone.
func (d *document) winner() *revision {
	var best *revision
	for rev := range d.leaves {
		r := d.revs[rev]
		if best == nil || better(r, best) {
			best = r
		}
	}
	return best
}

func better(a, b *revision) bool {
	if a.deleted != b.deleted {
		return !a.deleted
	}
	if a.pos != b.pos {
		return a.pos > b.pos
	}
	return a.rev > b.rev
}

// history returns the revision chain ending at rev, newest first.
func (d *document) history(rev string) []string {
	var out []string
	for rev != "" {
		out = append(out, rev)
		r, ok := d.revs[rev]
		if !ok {
			break
		}
		rev = r.parent
	}
	return out
}

func (d *document) otherLeaves(winner *revision, deleted bool) []string {
	var out []string
	for rev := range d.leaves {
		r := d.revs[rev]
		if rev != winner.rev && r.deleted == deleted {
			out = append(out, rev)
		}
	}
	sort.Strings(out)
	return out
}

type index struct {
	ddoc   string
	name   string
	fields []json.RawMessage
}

type database struct {
	name    string
	shards  int
	copies  int
	docs    map[string]*document
	seq     int64
	indexes []*index
}

func newDatabase(name string, q, n int) *database {
	if q <= 0 {
		q = 2
	}
	if n <= 0 {
		n = 1
	}
	return &database{name: name, shards: q, copies: n, docs: make(map[string]*document)}
}

func (db *database) info() map[string]any {
	var count, deleted, size int64
	for _, doc := range db.docs {
		w := doc.winner()
		if w.deleted {
			deleted++
			continue
		}
		count++
		for _, v := range w.body {
			size += int64(len(v))
		}
		for _, att := range w.attachments {
			size += int64(len(att.data))
		}
	}
	return map[string]any{
		"db_name":             db.name,
		"doc_count":           count,
		"doc_del_count":       deleted,
		"update_seq":          seqString(db.seq),
		"purge_seq":           seqString(0),
		"compact_running":     false,
		"disk_format_version": 8,
		"instance_start_time": "0",
		"sizes": map[string]int64{
			"active":   size,
			"external": size,
			"file":     size * 2,
		},
		"cluster": map[string]int{
			"q": db.shards,
			"n": db.copies,
			"w": 1,
			"r": 1,
		},
		"props": map[string]any{},
	}
}

// write describes one document mutation.
type write struct {
	id          string
	rev         string
	deleted     bool
	body        map[string]json.RawMessage
	attachments map[string]*attachment
	// keepAttachments carries the parent's attachments over, minus
	// dropAttachment; attachments then only lists additions.
	keepAttachments bool
	dropAttachment  string
}

// apply stores w as a child of the current winner, enforcing that w.rev
// names that winner.
func (db *database) apply(w write) (string, *httpError) {
	doc, exists := db.docs[w.id]
	var parent *revision
	if exists {
		parent = doc.winner()
		switch {
		case parent.deleted && w.rev == "":
		case parent.deleted && w.rev != parent.rev:
			return "", errConflict()
		case !parent.deleted && w.rev != parent.rev:
			return "", errConflict()
		}
	} else if w.rev != "" {
		return "", errConflict()
	}

	if w.body == nil {
		w.body = map[string]json.RawMessage{}
	}
	atts := w.attachments
	if w.keepAttachments && parent != nil && !parent.deleted {
		merged := make(map[string]*attachment, len(parent.attachments)+len(atts))
		for name, att := range parent.attachments {
			if name != w.dropAttachment {
				merged[name] = att
			}
		}
		for name, att := range atts {
			merged[name] = att
		}
		atts = merged
	}

	rev := &revision{pos: 1, deleted: w.deleted, body: w.body, attachments: atts}
	if parent != nil {
		rev.pos = parent.pos + 1
		rev.parent = parent.rev
	}
	for _, att := range atts {
		if att.revpos == 0 {
			att.revpos = rev.pos
		}
	}
	rev.rev = strconv.Itoa(rev.pos) + "-" + revHash(rev)

	if !exists {
		doc = &document{id: w.id, revs: make(map[string]*revision), leaves: make(map[string]bool)}
		db.docs[w.id] = doc
	}
	doc.revs[rev.rev] = rev
	if parent != nil {
		delete(doc.leaves, parent.rev)
	}
	doc.leaves[rev.rev] = true
	db.seq++
	doc.seq = db.seq
	return rev.rev, nil
}

// replicate stores a revision with a caller-chosen rev, as new_edits=false
// does. The stored revision becomes a leaf next to any existing ones.
func (db *database) replicate(id, rev string, body map[string]json.RawMessage, deleted bool, atts map[string]*attachment) *httpError {
	pos, _, ok := parseRev(rev)
	if !ok {
		return errBadRequest("Invalid rev format")
	}
	doc, exists := db.docs[id]
	if !exists {
		doc = &document{id: id, revs: make(map[string]*revision), leaves: make(map[string]bool)}
		db.docs[id] = doc
	}
	if _, dup := doc.revs[rev]; dup {
		return nil
	}
	for _, att := range atts {
		if att.revpos == 0 {
			att.revpos = pos
		}
	}
	doc.revs[rev] = &revision{rev: rev, pos: pos, deleted: deleted, body: body, attachments: atts}
	doc.leaves[rev] = true
	db.seq++
	doc.seq = db.seq
	return nil
}

// lookup returns the revision a read addresses: rev when set, otherwise the
// winner. Deleted winners read as missing.
func (db *database) lookup(id, rev string) (*document, *revision, *httpError) {
	doc, ok := db.docs[id]
	if !ok {
		return nil, nil, errNotFound("missing")
	}
	if rev != "" {
		r, ok := doc.revs[rev]
		if !ok {
			return nil, nil, errNotFound("missing")
		}
		return doc, r, nil
	}
	w := doc.winner()
	if w.deleted {
		return nil, nil, errNotFound("deleted")
	}
	return doc, w, nil
}

func (db *database) findIndex(ddoc, name string) *index {
	for _, idx := range db.indexes {
		if idx.name == name && (ddoc == "" || idx.ddoc == ddoc) {
			return idx
		}
	}
	return nil
}

func revHash(r *revision) string {
	h := md5.New()
	fmt.Fprintf(h, "%s|%d|%t|", r.parent, r.pos, r.deleted)
	keys := make([]string, 0, len(r.body))
	for k := range r.body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, r.body[k])
	}
	names := make([]string, 0, len(r.attachments))
	for name := range r.attachments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "@%s=%s;", name, r.attachments[name].digest)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func parseRev(rev string) (int, string, bool) {
	n, hash, ok := strings.Cut(rev, "-")
	if !ok || hash == "" {
		return 0, "", false
	}
	pos, err := strconv.Atoi(n)
	if err != nil || pos <= 0 {
		return 0, "", false
	}
	return pos, hash, true
}

func newAttachment(contentType string, data []byte) *attachment {
	sum := md5.Sum(data)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &attachment{
		contentType: contentType,
		data:        data,
		digest:      "md5-" + base64.StdEncoding.EncodeToString(sum[:]),
	}
}

func seqString(seq int64) string {
	return strconv.FormatInt(seq, 10) + "-mem"
}

func validDatabaseName(name string) bool {
	return dbNamePattern.MatchString(name)
}
