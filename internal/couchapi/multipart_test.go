package couchapi

import (
	"bytes"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"
)

func TestReadParts(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	doc, _ := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json"}})
	doc.Write([]byte(`{"_id":"a"}`))
	att, _ := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":        {"text/plain"},
		"Content-Disposition": {`attachment; filename="notes.txt"`},
	})
	att.Write([]byte("hello\r\nworld"))
	mw.Close()

	contentType := `multipart/related; boundary="` + mw.Boundary() + `"`
	if !IsMultipart(contentType) {
		t.Fatalf("IsMultipart(%q) = false", contentType)
	}
	parts, err := ReadParts(contentType, &buf)
	if err != nil {
		t.Fatalf("ReadParts: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[0].ContentType() != "application/json" || string(parts[0].Data) != `{"_id":"a"}` || parts[0].Filename() != "" {
		t.Fatalf("unexpected document part %#v", parts[0])
	}
	if parts[1].Filename() != "notes.txt" || parts[1].ContentType() != "text/plain" || string(parts[1].Data) != "hello\r\nworld" {
		t.Fatalf("unexpected attachment part %#v", parts[1])
	}
}

func TestReadPartsErrors(t *testing.T) {
	tests := map[string]string{
		"bad media type": "multipart/related; boundary",
		"not multipart":  "application/json",
		"no boundary":    "multipart/related",
	}
	for name, contentType := range tests {
		if _, err := ReadParts(contentType, strings.NewReader("")); err == nil {
			t.Fatalf("%s: expected error for %q", name, contentType)
		}
	}
	if IsMultipart("application/json") || IsMultipart(";;") {
		t.Fatal("IsMultipart accepted a non multipart type")
	}
}
