// Package couchtest provides an in-memory document store that speaks the
// subset of the CouchDB HTTP API used by package couch. It is meant for
// tests, the sandbox and the mock runtime mode; it is not durable.
package couchtest

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Version is reported by the server metadata document.
const Version = "3.3.3"

// Server is an http.Handler backed by in-memory databases. It is safe for
// concurrent use.
type Server struct {
	mu       sync.Mutex
	dbs      map[string]*database
	uuid     string
	username string
	password string
	auth     bool
	newID    func() string
}

// Option configures a Server.
type Option func(*Server)

// WithBasicAuth requires every request to carry the given credentials.
func WithBasicAuth(username, password string) Option {
	return func(s *Server) {
		s.username = username
		s.password = password
		s.auth = true
	}
}

// WithIDGenerator overrides the generator for server-assigned ids (useful
// in tests that assert on ids).
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New creates an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		dbs:   make(map[string]*database),
		uuid:  compactUUID(),
		newID: compactUUID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transport returns a RoundTripper that serves requests in-process, without
// opening a socket. Request URLs only need a path; host and scheme are
// ignored.
func (s *Server) Transport() http.RoundTripper {
	return roundTripper{s}
}

type roundTripper struct {
	srv *Server
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		defer req.Body.Close()
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	rec := httptest.NewRecorder()
	rt.srv.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	if req.Method == http.MethodHead {
		resp.Body = http.NoBody
	}
	return resp, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.auth && !s.authorized(r) {
		writeError(w, r, &httpError{status: http.StatusUnauthorized, code: "unauthorized", reason: "Name or password is incorrect."})
		return
	}

	segments, err := splitPath(r.URL.EscapedPath())
	if err != nil {
		writeError(w, r, errBadRequest(err.Error()))
		return
	}
	switch {
	case len(segments) == 0:
		s.handleRoot(w, r)
	case segments[0] == "_all_dbs":
		s.handleAllDBs(w, r)
	case segments[0] == "_uuids":
		s.handleUUIDs(w, r)
	case strings.HasPrefix(segments[0], "_"):
		writeError(w, r, errNotFound("missing"))
	case len(segments) == 1:
		s.handleDatabase(w, r, segments[0])
	case segments[1] == "_find":
		s.handleFind(w, r, segments[0])
	case segments[1] == "_index":
		s.handleIndex(w, r, segments[0])
	default:
		db := segments[0]
		id, rest := docID(segments[1:])
		if id == "" {
			writeError(w, r, errNotFound("missing"))
			return
		}
		if len(rest) == 0 {
			s.handleDocument(w, r, db, id)
			return
		}
		s.handleAttachment(w, r, db, id, strings.Join(rest, "/"))
	}
}

// Seed stores docs in database name, creating it when needed. Documents
// without "_id" get a generated one.
func (s *Server) Seed(name string, docs []json.RawMessage) error {
	if !validDatabaseName(name) {
		return fmt.Errorf("couchtest: invalid database name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.dbs[name]
	if db == nil {
		db = newDatabase(name, 0, 0)
		s.dbs[name] = db
	}
	for _, raw := range docs {
		var body map[string]json.RawMessage
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("couchtest: seed %s: %w", name, err)
		}
		id := stringMember(body, "_id")
		if id == "" {
			id = s.newID()
		}
		atts, herr := s.decodeAttachments(db, id, body["_attachments"])
		if herr != nil {
			return fmt.Errorf("couchtest: seed %s/%s: %w", name, id, herr)
		}
		rev := stringMember(body, "_rev")
		if doc, ok := db.docs[id]; ok && rev == "" {
			rev = doc.winner().rev
		}
		if _, herr := db.apply(write{id: id, rev: rev, body: userFields(body), attachments: atts}); herr != nil {
			return fmt.Errorf("couchtest: seed %s/%s: %w", name, id, herr)
		}
	}
	return nil
}

func (s *Server) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, "GET,HEAD")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"couchdb":  "Welcome",
		"version":  Version,
		"git_sha":  "couchtest",
		"uuid":     s.uuid,
		"features": []string{"access-ready", "partitioned"},
		"vendor":   map[string]string{"name": "couchtest"},
	})
}

func (s *Server) handleAllDBs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET,HEAD")
		return
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	writeJSON(w, r, http.StatusOK, names)
}

func (s *Server) handleUUIDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET,HEAD")
		return
	}
	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, errBadRequest("Invalid count"))
			return
		}
		if n > 1000 {
			writeError(w, r, &httpError{status: http.StatusBadRequest, code: "bad_request", reason: "count parameter too large"})
			return
		}
		count = n
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = compactUUID()
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"uuids": ids})
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodHead, http.MethodGet:
		s.mu.Lock()
		db := s.dbs[name]
		var info map[string]any
		if db != nil {
			info = db.info()
		}
		s.mu.Unlock()
		if db == nil {
			writeError(w, r, errNotFound("Database does not exist."))
			return
		}
		writeJSON(w, r, http.StatusOK, info)
	case http.MethodPut:
		if !validDatabaseName(name) {
			writeError(w, r, &httpError{
				status: http.StatusBadRequest,
				code:   "illegal_database_name",
				reason: fmt.Sprintf("Name: '%s'. Only lowercase characters (a-z), digits (0-9), and any of the characters _, $, (, ), +, -, and / are allowed. Must begin with a letter.", name),
			})
			return
		}
		q, _ := strconv.Atoi(r.URL.Query().Get("q"))
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		s.mu.Lock()
		_, exists := s.dbs[name]
		if !exists {
			s.dbs[name] = newDatabase(name, q, n)
		}
		s.mu.Unlock()
		if exists {
			writeError(w, r, &httpError{status: http.StatusPreconditionFailed, code: "file_exists", reason: "The database could not be created, the file already exists."})
			return
		}
		writeJSON(w, r, http.StatusCreated, map[string]bool{"ok": true})
	case http.MethodDelete:
		s.mu.Lock()
		_, exists := s.dbs[name]
		delete(s.dbs, name)
		s.mu.Unlock()
		if !exists {
			writeError(w, r, errNotFound("Database does not exist."))
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodPost:
		s.handleInsert(w, r, name)
	default:
		methodNotAllowed(w, r, "DELETE,GET,HEAD,POST,PUT")
	}
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request, name string) {
	body, herr := readObject(r)
	if herr != nil {
		writeError(w, r, herr)
		return
	}
	id := stringMember(body, "_id")
	if id == "" {
		id = s.newID()
	}
	if herr := checkDocID(id); herr != nil {
		writeError(w, r, herr)
		return
	}

	s.mu.Lock()
	db := s.dbs[name]
	var rev string
	if db == nil {
		herr = errNotFound("Database does not exist.")
	} else {
		var atts map[string]*attachment
		atts, herr = s.decodeAttachments(db, id, body["_attachments"])
		if herr == nil {
			rev, herr = db.apply(write{
				id:          id,
				rev:         stringMember(body, "_rev"),
				deleted:     boolMember(body, "_deleted"),
				body:        userFields(body),
				attachments: atts,
			})
		}
	}
	s.mu.Unlock()
	if herr != nil {
		writeError(w, r, herr)
		return
	}
	writeWrite(w, r, id, rev)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, dbName, id string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleGetDocument(w, r, dbName, id)
	case http.MethodPut:
		s.handlePutDocument(w, r, dbName, id)
	case http.MethodDelete:
		s.handleDeleteDocument(w, r, dbName, id)
	case "COPY":
		s.handleCopyDocument(w, r, dbName, id)
	default:
		methodNotAllowed(w, r, "COPY,DELETE,GET,HEAD,PUT")
	}
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, dbName, id string) {
	q := r.URL.Query()
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.dbs[dbName]
	if db == nil {
		writeError(w, r, errNotFound("Database does not exist."))
		return
	}

	if raw := q.Get("open_revs"); raw != "" {
		s.writeOpenRevs(w, r, db, id, raw)
		return
	}

	doc, rev, herr := db.lookup(id, q.Get("rev"))
	if herr != nil {
		writeError(w, r, herr)
		return
	}
	etag := `"` + rev.rev + `"`
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	opts := readOptionsFrom(q)
	inline := inlineAttachments(doc, rev, opts)
	if len(inline) > 0 && acceptsMultipart(r) {
		s.writeMultipart(w, r, doc, rev, opts, inline)
		return
	}
	out := renderDocument(doc, rev, opts, inline)
	w.Header().Set("ETag", etag)
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) writeOpenRevs(w http.ResponseWriter, r *http.Request, db *database, id, raw string) {
	doc, ok := db.docs[id]
	if !ok {
		writeError(w, r, errNotFound("missing"))
		return
	}
	var revs []string
	if raw == "all" {
		for rev := range doc.leaves {
			revs = append(revs, rev)
		}
		sort.Strings(revs)
	} else if err := json.Unmarshal([]byte(raw), &revs); err != nil {
		writeError(w, r, errBadRequest("Invalid open_revs value"))
		return
	}
	opts := readOptionsFrom(r.URL.Query())
	out := make([]map[string]any, 0, len(revs))
	for _, rev := range revs {
		rv, ok := doc.revs[rev]
		if !ok {
			out = append(out, map[string]any{"missing": rev})
			continue
		}
		out = append(out, map[string]any{"ok": renderDocument(doc, rv, opts, nil)})
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) writeMultipart(w http.ResponseWriter, r *http.Request, doc *document, rev *revision, opts readOptions, inline []string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	out := renderDocument(doc, rev, opts, nil)
	stubs := out["_attachments"].(map[string]any)
	for _, name := range inline {
		att := rev.attachments[name]
		stubs[name] = map[string]any{
			"content_type": att.contentType,
			"digest":       att.digest,
			"length":       len(att.data),
			"revpos":       att.revpos,
			"follows":      true,
		}
	}
	docJSON, err := json.Marshal(out)
	if err != nil {
		writeError(w, r, &httpError{status: http.StatusInternalServerError, code: "error", reason: err.Error()})
		return
	}
	part, _ := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json"}})
	_, _ = part.Write(docJSON)
	for _, name := range inline {
		att := rev.attachments[name]
		part, _ := mw.CreatePart(textproto.MIMEHeader{
			"Content-Disposition": {fmt.Sprintf("attachment; filename=%q", name)},
			"Content-Type":        {att.contentType},
			"Content-Length":      {strconv.Itoa(len(att.data))},
		})
		_, _ = part.Write(att.data)
	}
	_ = mw.Close()

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/related; boundary=%q", mw.Boundary()))
	w.Header().Set("ETag", `"`+rev.rev+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(buf.Bytes())
	}
}

func (s *Server) handlePutDocument(w http.ResponseWriter, r *http.Request, dbName, id string) {
	if herr := checkDocID(id); herr != nil {
		writeError(w, r, herr)
		return
	}
	body, herr := readObject(r)
	if herr != nil {
		writeError(w, r, herr)
		return
	}
	q := r.URL.Query()
	rev := q.Get("rev")
	if bodyRev := stringMember(body, "_rev"); bodyRev != "" {
		if rev != "" && rev != bodyRev {
			writeError(w, r, errBadRequest("Document rev from request body and query string have different values"))
			return
		}
		rev = bodyRev
	}
	if match := r.Header.Get("If-Match"); rev == "" && match != "" {
		rev = strings.Trim(match, `"`)
	}

	s.mu.Lock()
	db := s.dbs[dbName]
	var newRev string
	if db == nil {
		herr = errNotFound("Database does not exist.")
	} else {
		var atts map[string]*attachment
		atts, herr = s.decodeAttachments(db, id, body["_attachments"])
		if herr == nil {
			if q.Get("new_edits") == "false" {
				if rev == "" {
					herr = errBadRequest("new_edits=false requires a _rev")
				} else {
					herr = db.replicate(id, rev, userFields(body), boolMember(body, "_deleted"), atts)
					newRev = rev
				}
			} else {
				newRev, herr = db.apply(write{
					id:          id,
					rev:         rev,
					deleted:     boolMember(body, "_deleted"),
					body:        userFields(body),
					attachments: atts,
				})
			}
		}
	}
	s.mu.Unlock()
	if herr != nil {
		writeError(w, r, herr)
		return
	}
	writeWrite(w, r, id, newRev)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, dbName, id string) {
	rev := r.URL.Query().Get("rev")
	if match := r.Header.Get("If-Match"); rev == "" && match != "" {
		rev = strings.Trim(match, `"`)
	}

	s.mu.Lock()
	db := s.dbs[dbName]
	var newRev string
	var herr *httpError
	switch {
	case db == nil:
		herr = errNotFound("Database does not exist.")
	default:
		if _, _, herr = db.lookup(id, ""); herr == nil {
			if rev == "" {
				herr = errConflict()
			} else {
				newRev, herr = db.apply(write{id: id, rev: rev, deleted: true})
			}
		}
	}
	s.mu.Unlock()
	if herr != nil {
		writeError(w, r, herr)
		return
	}
	writeWriteStatus(w, r, http.StatusOK, id, newRev)
}

func (s *Server) handleCopyDocument(w http.ResponseWriter, r *http.Request, dbName, id string) {
	dest := r.Header.Get("Destination")
	if dest == "" {
		writeError(w, r, errBadRequest("Destination header is mandatory for COPY."))
		return
	}
	destID, destQuery, _ := strings.Cut(dest, "?")
	if unescaped, err := url.PathUnescape(destID); err == nil {
		destID = unescaped
	}
	var destRev string
	if destQuery != "" {
		values, err := url.ParseQuery(destQuery)
		if err != nil {
			writeError(w, r, errBadRequest("Invalid Destination header"))
			return
		}
		destRev = values.Get("rev")
	}
	if herr := checkDocID(destID); herr != nil {
		writeError(w, r, herr)
		return
	}

	s.mu.Lock()
	db := s.dbs[dbName]
	var newRev string
	var herr *httpError
	if db == nil {
		herr = errNotFound("Database does not exist.")
	} else {
		var src *revision
		if _, src, herr = db.lookup(id, r.URL.Query().Get("rev")); herr == nil {
			atts := make(map[string]*attachment, len(src.attachments))
			for name, att := range src.attachments {
				copied := *att
				copied.revpos = 0
				atts[name] = &copied
			}
			newRev, herr = db.apply(write{id: destID, rev: destRev, body: src.body, attachments: atts})
		}
	}
	s.mu.Unlock()
	if herr != nil {
		writeError(w, r, herr)
		return
	}
	writeWriteStatus(w, r, http.StatusCreated, destID, newRev)
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request, dbName, id, name string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.mu.Lock()
		defer s.mu.Unlock()
		db := s.dbs[dbName]
		if db == nil {
			writeError(w, r, errNotFound("Database does not exist."))
			return
		}
		_, rev, herr := db.lookup(id, r.URL.Query().Get("rev"))
		if herr != nil {
			writeError(w, r, herr)
			return
		}
		att, ok := rev.attachments[name]
		if !ok {
			writeError(w, r, errNotFound("Document is missing attachment"))
			return
		}
		md5sum := strings.TrimPrefix(att.digest, "md5-")
		w.Header().Set("Content-Type", att.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(att.data)))
		w.Header().Set("ETag", `"`+md5sum+`"`)
		w.Header().Set("Content-MD5", md5sum)
		w.Header().Set("Accept-Ranges", "none")
		if match := r.Header.Get("If-None-Match"); match == `"`+md5sum+`"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(att.data)
		}
	case http.MethodPut:
		if herr := checkDocID(id); herr != nil {
			writeError(w, r, herr)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, errBadRequest(err.Error()))
			return
		}
		att := newAttachment(r.Header.Get("Content-Type"), data)
		s.mu.Lock()
		db := s.dbs[dbName]
		var newRev string
		var herr *httpError
		if db == nil {
			herr = errNotFound("Database does not exist.")
		} else {
			newRev, herr = db.apply(s.attachmentWrite(db, id, revParam(r), map[string]*attachment{name: att}, ""))
		}
		s.mu.Unlock()
		if herr != nil {
			writeError(w, r, herr)
			return
		}
		writeWriteStatus(w, r, http.StatusCreated, id, newRev)
	case http.MethodDelete:
		rev := revParam(r)
		s.mu.Lock()
		db := s.dbs[dbName]
		var newRev string
		var herr *httpError
		if db == nil {
			herr = errNotFound("Database does not exist.")
		} else if _, current, lerr := db.lookup(id, ""); lerr != nil {
			herr = lerr
		} else if rev == "" || rev != current.rev {
			herr = errConflict()
		} else if _, ok := current.attachments[name]; !ok {
			herr = errNotFound("Document is missing attachment")
		} else {
			newRev, herr = db.apply(s.attachmentWrite(db, id, rev, nil, name))
		}
		s.mu.Unlock()
		if herr != nil {
			writeError(w, r, herr)
			return
		}
		writeWriteStatus(w, r, http.StatusOK, id, newRev)
	default:
		methodNotAllowed(w, r, "DELETE,GET,HEAD,PUT")
	}
}

// attachmentWrite builds the mutation that changes one attachment while
// keeping the document body.
func (s *Server) attachmentWrite(db *database, id, rev string, add map[string]*attachment, drop string) write {
	wr := write{id: id, rev: rev, attachments: add, keepAttachments: true, dropAttachment: drop}
	if doc, ok := db.docs[id]; ok {
		if current := doc.winner(); !current.deleted {
			wr.body = current.body
		}
	}
	return wr
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request, dbName string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errBadRequest(err.Error()))
		return
	}
	if req.Selector == nil {
		writeError(w, r, &httpError{status: http.StatusBadRequest, code: "missing_required_key", reason: "Missing required key: selector"})
		return
	}
	keys, err := parseSort(req.Sort)
	if err != nil {
		writeError(w, r, errBadRequest(err.Error()))
		return
	}
	offset, err := decodeBookmark(req.Bookmark)
	if err != nil {
		writeError(w, r, errBadRequest(err.Error()))
		return
	}

	start := time.Now()
	s.mu.Lock()
	db := s.dbs[dbName]
	if db == nil {
		s.mu.Unlock()
		writeError(w, r, errNotFound("Database does not exist."))
		return
	}
	ids := make([]string, 0, len(db.docs))
	for id := range db.docs {
		if !strings.HasPrefix(id, "_design/") && !strings.HasPrefix(id, "_local/") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var matched []map[string]any
	examined := 0
	for _, id := range ids {
		doc := db.docs[id]
		rev := doc.winner()
		if rev.deleted {
			continue
		}
		examined++
		rendered, err := toGeneric(renderDocument(doc, rev, readOptions{}, nil))
		if err != nil {
			s.mu.Unlock()
			writeError(w, r, &httpError{status: http.StatusInternalServerError, code: "error", reason: err.Error()})
			return
		}
		ok, err := matches(rendered, req.Selector)
		if err != nil {
			s.mu.Unlock()
			writeError(w, r, &httpError{status: http.StatusBadRequest, code: "invalid_operator", reason: err.Error()})
			return
		}
		if ok {
			matched = append(matched, rendered)
		}
	}
	warning := ""
	if !db.indexCovers(req.Selector) {
		warning = "No matching index found, create an index to optimize query time."
	}
	s.mu.Unlock()

	sortDocs(matched, keys)
	limit := defaultFindLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	from := req.Skip + offset
	if from > len(matched) {
		from = len(matched)
	}
	to := from + limit
	if to > len(matched) {
		to = len(matched)
	}
	page := matched[from:to]
	docs := make([]map[string]any, 0, len(page))
	for _, doc := range page {
		docs = append(docs, project(doc, req.Fields))
	}

	out := map[string]any{
		"docs":     docs,
		"bookmark": encodeBookmark(to - req.Skip),
	}
	if warning != "" {
		out["warning"] = warning
	}
	if req.ExecutionStats {
		out["execution_stats"] = map[string]any{
			"total_keys_examined":        0,
			"total_docs_examined":        examined,
			"total_quorum_docs_examined": 0,
			"results_returned":           len(docs),
			"execution_time_ms":          float64(time.Since(start).Microseconds()) / 1000,
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, dbName string) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		db := s.dbs[dbName]
		if db == nil {
			s.mu.Unlock()
			writeError(w, r, errNotFound("Database does not exist."))
			return
		}
		indexes := []map[string]any{{
			"ddoc": nil,
			"name": "_all_docs",
			"type": "special",
			"def":  map[string]any{"fields": []map[string]string{{"_id": "asc"}}},
		}}
		for _, idx := range db.indexes {
			indexes = append(indexes, map[string]any{
				"ddoc": idx.ddoc,
				"name": idx.name,
				"type": "json",
				"def":  map[string]any{"fields": idx.fields},
			})
		}
		s.mu.Unlock()
		writeJSON(w, r, http.StatusOK, map[string]any{"total_rows": len(indexes), "indexes": indexes})
	case http.MethodPost:
		var req struct {
			Index struct {
				Fields []json.RawMessage `json:"fields"`
			} `json:"index"`
			Name string `json:"name"`
			DDoc string `json:"ddoc"`
			Type string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, errBadRequest(err.Error()))
			return
		}
		if len(req.Index.Fields) == 0 {
			writeError(w, r, &httpError{status: http.StatusBadRequest, code: "missing_required_key", reason: "Missing required key: fields"})
			return
		}
		if req.Type != "" && req.Type != "json" {
			writeError(w, r, errBadRequest("unsupported index type"))
			return
		}
		if req.Name == "" {
			req.Name = fieldsDigest(req.Index.Fields)
		}
		if req.DDoc == "" {
			req.DDoc = req.Name
		}
		ddoc := "_design/" + strings.TrimPrefix(req.DDoc, "_design/")

		s.mu.Lock()
		db := s.dbs[dbName]
		result := "created"
		if db != nil {
			if db.findIndex(ddoc, req.Name) != nil {
				result = "exists"
			} else {
				db.indexes = append(db.indexes, &index{ddoc: ddoc, name: req.Name, fields: req.Index.Fields})
			}
		}
		s.mu.Unlock()
		if db == nil {
			writeError(w, r, errNotFound("Database does not exist."))
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"result": result, "id": ddoc, "name": req.Name})
	default:
		methodNotAllowed(w, r, "GET,POST")
	}
}

// indexCovers reports whether a declared index can serve the selector.
func (db *database) indexCovers(selector map[string]any) bool {
	for _, idx := range db.indexes {
		for _, raw := range idx.fields {
			keys, err := parseSort([]json.RawMessage{raw})
			if err != nil || len(keys) == 0 {
				continue
			}
			if _, ok := selector[keys[0].field]; ok {
				return true
			}
		}
	}
	return false
}

// decodeAttachments resolves the "_attachments" member of a written
// document: inline data is stored, stubs are carried over from the current
// revision.
func (s *Server) decodeAttachments(db *database, id string, raw json.RawMessage) (map[string]*attachment, *httpError) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var stubs map[string]struct {
		ContentType string `json:"content_type"`
		Data        string `json:"data"`
		Stub        bool   `json:"stub"`
	}
	if err := json.Unmarshal(raw, &stubs); err != nil {
		return nil, errBadRequest("Invalid _attachments member")
	}
	var current *revision
	if doc, ok := db.docs[id]; ok {
		current = doc.winner()
	}
	atts := make(map[string]*attachment, len(stubs))
	for name, stub := range stubs {
		if stub.Stub {
			if current == nil || current.attachments[name] == nil {
				return nil, &httpError{status: http.StatusPreconditionFailed, code: "missing_stub", reason: "Invalid attachment stub in " + id + " for " + name}
			}
			atts[name] = current.attachments[name]
			continue
		}
		data, err := base64.StdEncoding.DecodeString(stub.Data)
		if err != nil {
			return nil, errBadRequest("Invalid attachment data for " + name)
		}
		atts[name] = newAttachment(stub.ContentType, data)
	}
	return atts, nil
}

type readOptions struct {
	attachments      bool
	attsSince        []string
	conflicts        bool
	deletedConflicts bool
	localSeq         bool
	revs             bool
	revsInfo         bool
}

func readOptionsFrom(q url.Values) readOptions {
	meta := q.Get("meta") == "true"
	opts := readOptions{
		attachments:      q.Get("attachments") == "true",
		conflicts:        meta || q.Get("conflicts") == "true",
		deletedConflicts: meta || q.Get("deleted_conflicts") == "true",
		localSeq:         q.Get("local_seq") == "true",
		revs:             q.Get("revs") == "true",
		revsInfo:         meta || q.Get("revs_info") == "true",
	}
	if raw := q.Get("atts_since"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &opts.attsSince)
	}
	return opts
}

// inlineAttachments lists, sorted, the attachments whose bodies a read
// includes.
func inlineAttachments(doc *document, rev *revision, opts readOptions) []string {
	if !opts.attachments && len(opts.attsSince) == 0 {
		return nil
	}
	since := 0
	for _, known := range opts.attsSince {
		if r, ok := doc.revs[known]; ok && r.pos > since {
			since = r.pos
		}
	}
	var names []string
	for name, att := range rev.attachments {
		if att.revpos > since {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// renderDocument builds the JSON object of a revision. Attachments listed in
// inline carry their data; the others are stubs.
func renderDocument(doc *document, rev *revision, opts readOptions, inline []string) map[string]any {
	out := make(map[string]any, len(rev.body)+4)
	for k, v := range rev.body {
		out[k] = v
	}
	out["_id"] = doc.id
	out["_rev"] = rev.rev
	if rev.deleted {
		out["_deleted"] = true
	}
	if len(rev.attachments) > 0 {
		inlined := make(map[string]bool, len(inline))
		for _, name := range inline {
			inlined[name] = true
		}
		stubs := make(map[string]any, len(rev.attachments))
		for name, att := range rev.attachments {
			entry := map[string]any{
				"content_type": att.contentType,
				"digest":       att.digest,
				"length":       len(att.data),
				"revpos":       att.revpos,
			}
			if inlined[name] {
				entry["data"] = base64.StdEncoding.EncodeToString(att.data)
			} else {
				entry["stub"] = true
			}
			stubs[name] = entry
		}
		out["_attachments"] = stubs
	}
	if opts.revs {
		history := doc.history(rev.rev)
		ids := make([]string, 0, len(history))
		for _, h := range history {
			_, hash, _ := parseRev(h)
			ids = append(ids, hash)
		}
		out["_revisions"] = map[string]any{"start": rev.pos, "ids": ids}
	}
	if opts.revsInfo {
		history := doc.history(rev.rev)
		info := make([]map[string]string, 0, len(history))
		for _, h := range history {
			status := "missing"
			if r, ok := doc.revs[h]; ok {
				status = "available"
				if r.deleted {
					status = "deleted"
				}
			}
			info = append(info, map[string]string{"rev": h, "status": status})
		}
		out["_revs_info"] = info
	}
	if opts.conflicts {
		if c := doc.otherLeaves(rev, false); len(c) > 0 {
			out["_conflicts"] = c
		}
	}
	if opts.deletedConflicts {
		if c := doc.otherLeaves(rev, true); len(c) > 0 {
			out["_deleted_conflicts"] = c
		}
	}
	if opts.localSeq {
		out["_local_seq"] = doc.seq
	}
	return out
}

func writeWrite(w http.ResponseWriter, r *http.Request, id, rev string) {
	writeWriteStatus(w, r, http.StatusCreated, id, rev)
}

// writeWriteStatus answers a mutation; batch requests get 202 without a
// revision.
func writeWriteStatus(w http.ResponseWriter, r *http.Request, status int, id, rev string) {
	if r.URL.Query().Get("batch") == "ok" {
		writeJSON(w, r, http.StatusAccepted, map[string]any{"ok": true, "id": id})
		return
	}
	w.Header().Set("ETag", `"`+rev+`"`)
	writeJSON(w, r, status, map[string]any{"ok": true, "id": id, "rev": rev})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data = append(data, '\n')
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "must-revalidate")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, herr *httpError) {
	if herr.status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="server"`)
	}
	writeJSON(w, r, herr.status, map[string]string{"error": herr.code, "reason": herr.reason})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, r, &httpError{status: http.StatusMethodNotAllowed, code: "method_not_allowed", reason: "Only " + allow + " allowed"})
}

func readObject(r *http.Request) (map[string]json.RawMessage, *httpError) {
	if r.Body == nil {
		return nil, &httpError{status: http.StatusBadRequest, code: "bad_request", reason: "Document must be a JSON object"}
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		return nil, &httpError{status: http.StatusBadRequest, code: "bad_request", reason: "Document must be a JSON object"}
	}
	return body, nil
}

// userFields drops the reserved members of a written document.
func userFields(body map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(body))
	for k, v := range body {
		if !strings.HasPrefix(k, "_") {
			out[k] = v
		}
	}
	return out
}

func stringMember(body map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := body[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func boolMember(body map[string]json.RawMessage, key string) bool {
	var b bool
	if raw, ok := body[key]; ok {
		_ = json.Unmarshal(raw, &b)
	}
	return b
}

func checkDocID(id string) *httpError {
	if id == "" {
		return &httpError{status: http.StatusBadRequest, code: "illegal_docid", reason: "Document id must not be empty"}
	}
	if strings.HasPrefix(id, "_") && !strings.HasPrefix(id, "_design/") && !strings.HasPrefix(id, "_local/") {
		return &httpError{status: http.StatusBadRequest, code: "illegal_docid", reason: "Only reserved document ids may start with underscore."}
	}
	return nil
}

func revParam(r *http.Request) string {
	if rev := r.URL.Query().Get("rev"); rev != "" {
		return rev
	}
	return strings.Trim(r.Header.Get("If-Match"), `"`)
}

func acceptsMultipart(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "multipart/related")
}

// splitPath unescapes each segment of an escaped request path.
func splitPath(escaped string) ([]string, error) {
	trimmed := strings.Trim(escaped, "/")
	if trimmed == "" {
		return nil, nil
	}
	raw := strings.Split(trimmed, "/")
	out := make([]string, len(raw))
	for i, seg := range raw {
		s, err := url.PathUnescape(seg)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// docID splits a document path into the id and the attachment segments;
// design and local documents span two segments.
func docID(segments []string) (string, []string) {
	if len(segments) == 0 {
		return "", nil
	}
	switch segments[0] {
	case "_design", "_local":
		if len(segments) < 2 {
			return "", nil
		}
		return segments[0] + "/" + segments[1], segments[2:]
	}
	// A slash-escaped id arrives as a single segment.
	return segments[0], segments[1:]
}

func toGeneric(doc map[string]any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fieldsDigest(fields []json.RawMessage) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return "idx-" + strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, ","))).String(), "-", "")[:16]
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
