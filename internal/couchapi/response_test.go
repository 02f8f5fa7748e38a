package couchapi

import (
	"encoding/json"
	"testing"
)

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		code   string
		reason string
		ok     bool
	}{
		{name: "envelope", body: `{"error":"conflict","reason":"Document update conflict."}`, code: "conflict", reason: "Document update conflict.", ok: true},
		{name: "without reason", body: ` {"error":"not_found"}` + "\n", code: "not_found", ok: true},
		{name: "missing error member", body: `{"reason":"nope"}`},
		{name: "plain text", body: `Internal Server Error`},
		{name: "array", body: `["error"]`},
		{name: "truncated", body: `{"error":"conf`},
		{name: "empty", body: ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, reason, ok := DecodeError([]byte(tc.body))
			if code != tc.code || reason != tc.reason || ok != tc.ok {
				t.Fatalf("DecodeError(%q) = %q, %q, %v; expected %q, %q, %v", tc.body, code, reason, ok, tc.code, tc.reason, tc.ok)
			}
		})
	}
}

func TestParseETag(t *testing.T) {
	tests := map[string]string{
		`"1-abc"`:   "1-abc",
		`W/"2-def"`: "2-def",
		` "3-x" `:   "3-x",
		`4-bare`:    "4-bare",
		`"`:         `"`,
		``:          ``,
	}
	for in, expected := range tests {
		if got := ParseETag(in); got != expected {
			t.Fatalf("ParseETag(%q) = %q, expected %q", in, got, expected)
		}
	}
}

func TestQuoteETag(t *testing.T) {
	if got := QuoteETag("1-abc"); got != `"1-abc"` {
		t.Fatalf("unexpected quoting %q", got)
	}
	if got := QuoteETag(`"1-abc"`); got != `"1-abc"` {
		t.Fatalf("quoted input must be kept, got %q", got)
	}
	if got := QuoteETag(""); got != "" {
		t.Fatalf("empty revision must stay empty, got %q", got)
	}
	if ParseETag(QuoteETag("5-z")) != "5-z" {
		t.Fatal("ParseETag must invert QuoteETag")
	}
}

func TestSplitReserved(t *testing.T) {
	reserved, payload, err := SplitReserved([]byte(`{"_id":"a","_rev":"1-x","name":"n","_attachments":{},"count":2}`))
	if err != nil {
		t.Fatalf("SplitReserved: %v", err)
	}
	if len(reserved) != 3 || string(reserved["_id"]) != `"a"` || string(reserved["_rev"]) != `"1-x"` {
		t.Fatalf("unexpected reserved members %v", reserved)
	}
	if string(payload) != `{"count":2,"name":"n"}` {
		t.Fatalf("unexpected payload %s", payload)
	}

	_, payload, err = SplitReserved([]byte(` {"name":"n"} `))
	if err != nil || string(payload) != `{"name":"n"}` {
		t.Fatalf("payload without reserved members must pass through, got %s (%v)", payload, err)
	}

	_, payload, err = SplitReserved([]byte(`[1,2]`))
	if err != nil || string(payload) != `[1,2]` {
		t.Fatalf("non-object documents must pass through, got %s (%v)", payload, err)
	}

	if _, _, err := SplitReserved([]byte(`{"_id":`)); err == nil {
		t.Fatal("expected error for malformed object")
	}
}

func TestMergeReserved(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		reserved map[string]any
		expected string
	}{
		{name: "object", doc: `{"name":"n"}`, reserved: map[string]any{"_id": "a", "_rev": "1-x"}, expected: `{"_id":"a","_rev":"1-x","name":"n"}`},
		{name: "nil values skipped", doc: `{"name":"n"}`, reserved: map[string]any{"_id": "a", "_rev": nil}, expected: `{"_id":"a","name":"n"}`},
		{name: "null body", doc: `null`, reserved: map[string]any{"_deleted": true}, expected: `{"_deleted":true}`},
		{name: "empty body", doc: ``, reserved: nil, expected: `{}`},
		{name: "reserved wins", doc: `{"_id":"old"}`, reserved: map[string]any{"_id": "new"}, expected: `{"_id":"new"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MergeReserved([]byte(tc.doc), tc.reserved)
			if err != nil {
				t.Fatalf("MergeReserved: %v", err)
			}
			if string(got) != tc.expected {
				t.Fatalf("MergeReserved mismatch: expected %s, got %s", tc.expected, got)
			}
		})
	}

	if _, err := MergeReserved([]byte(`"scalar"`), map[string]any{"_id": "a"}); err == nil {
		t.Fatal("expected error for non-object body")
	}
}

func TestSplitMergeRoundTrip(t *testing.T) {
	doc := []byte(`{"_id":"a","_rev":"2-y","nested":{"_not_reserved":true},"n":1}`)
	reserved, payload, err := SplitReserved(doc)
	if err != nil {
		t.Fatalf("SplitReserved: %v", err)
	}
	back := make(map[string]any, len(reserved))
	for k, v := range reserved {
		back[k] = v
	}
	merged, err := MergeReserved(payload, back)
	if err != nil {
		t.Fatalf("MergeReserved: %v", err)
	}
	var want, got map[string]any
	_ = json.Unmarshal(doc, &want)
	_ = json.Unmarshal(merged, &got)
	if len(want) != len(got) || got["_rev"] != "2-y" || got["nested"].(map[string]any)["_not_reserved"] != true {
		t.Fatalf("round trip mismatch: %s", merged)
	}
}

func TestFormatBool(t *testing.T) {
	if FormatBool(true) != "true" || FormatBool(false) != "false" {
		t.Fatal("unexpected boolean rendering")
	}
}
