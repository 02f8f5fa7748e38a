package couchapi

import (
	"net/url"
	"strings"
)

// reservedPrefixes keep their slash when a document id is escaped.
var reservedPrefixes = []string{"_design/", "_local/"}

// EscapeDocID escapes a document id for use as one path element.
func EscapeDocID(id string) string {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(id, prefix) {
			return prefix + url.PathEscape(strings.TrimPrefix(id, prefix))
		}
	}
	return url.PathEscape(id)
}

// EscapeAttachmentName escapes each "/"-separated segment of an attachment
// name; the store treats the remainder of the path as the name.
func EscapeAttachmentName(name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// DocPath returns the escaped path of a document.
func DocPath(db, id string) string {
	return "/" + url.PathEscape(db) + "/" + EscapeDocID(id)
}

// AttachmentPath returns the escaped path of a document attachment.
func AttachmentPath(db, id, name string) string {
	return DocPath(db, id) + "/" + EscapeAttachmentName(name)
}
