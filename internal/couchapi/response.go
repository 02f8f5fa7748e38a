// Package couchapi holds the wire-format helpers shared by the couch client
// and its in-memory test server: ETag handling, error envelopes, reserved
// document fields, path escaping and multipart payloads.
package couchapi

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ErrorBody is the JSON envelope the store uses for failures.
type ErrorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// DecodeError extracts the error code and reason from a response body. ok is
// false when the body is not a JSON object carrying an "error" field.
func DecodeError(body []byte) (code, reason string, ok bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", "", false
	}
	var envelope ErrorBody
	if err := json.Unmarshal(trimmed, &envelope); err != nil || envelope.Error == "" {
		return "", "", false
	}
	return envelope.Error, envelope.Reason, true
}

// ParseETag returns the revision carried by an ETag header value, without
// quotes or weak prefix.
func ParseETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	if len(etag) >= 2 && strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `"`) {
		return etag[1 : len(etag)-1]
	}
	return etag
}

// QuoteETag formats a revision as a strong ETag.
func QuoteETag(rev string) string {
	if rev == "" {
		return ""
	}
	if strings.HasPrefix(rev, `"`) {
		return rev
	}
	return `"` + rev + `"`
}

// FormatBool renders booleans the way the store expects them in query
// strings and headers.
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// SplitReserved separates the protocol-reserved ("_"-prefixed) members of a
// JSON object from the user payload. The payload is re-encoded with only the
// user members. Non-object documents are returned unchanged as payload.
func SplitReserved(doc []byte) (reserved map[string]json.RawMessage, payload []byte, err error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, trimmed, nil
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, nil, err
	}
	reserved = make(map[string]json.RawMessage)
	for k, v := range members {
		if strings.HasPrefix(k, "_") {
			reserved[k] = v
			delete(members, k)
		}
	}
	if len(reserved) == 0 {
		return reserved, trimmed, nil
	}
	payload, err = json.Marshal(members)
	if err != nil {
		return nil, nil, err
	}
	return reserved, payload, nil
}

// MergeReserved adds reserved members to the JSON object in doc. Members
// whose value is nil are skipped.
func MergeReserved(doc []byte, reserved map[string]any) ([]byte, error) {
	trimmed := bytes.TrimSpace(doc)
	var members map[string]json.RawMessage
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		members = make(map[string]json.RawMessage)
	} else if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, err
	}
	if members == nil {
		members = make(map[string]json.RawMessage)
	}
	for k, v := range reserved {
		if v == nil {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		members[k] = raw
	}
	return json.Marshal(members)
}
