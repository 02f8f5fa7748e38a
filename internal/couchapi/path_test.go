package couchapi

import "testing"

func TestEscapeDocID(t *testing.T) {
	tests := map[string]string{
		"plain":               "plain",
		"with space":          "with%20space",
		"a/b":                 "a%2Fb",
		"_design/app":         "_design/app",
		"_design/my app":      "_design/my%20app",
		"_local/checkpoint/1": "_local/checkpoint%2F1",
		"_designer":           "_designer",
		"ü+?#":                "%C3%BC+%3F%23",
	}
	for in, expected := range tests {
		if got := EscapeDocID(in); got != expected {
			t.Fatalf("EscapeDocID(%q) = %q, expected %q", in, got, expected)
		}
	}
}

func TestPaths(t *testing.T) {
	if got := DocPath("my/db", "a b"); got != "/my%2Fdb/a%20b" {
		t.Fatalf("unexpected document path %q", got)
	}
	if got := AttachmentPath("db", "_design/app", "img/logo 1.png"); got != "/db/_design/app/img/logo%201.png" {
		t.Fatalf("unexpected attachment path %q", got)
	}
	if got := EscapeAttachmentName("a?b/c#d"); got != "a%3Fb/c%23d" {
		t.Fatalf("unexpected attachment name %q", got)
	}
}
