package couch

import (
	"encoding/json"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestDocumentUnmarshalSplitsReservedFields(t *testing.T) {
	raw := `{"_id":"dune","_rev":"2-b","_deleted_conflicts":["1-z"],"_attachments":{"a.txt":{"content_type":"text/plain","digest":"md5-x","length":3,"revpos":2,"stub":true}},"title":"Dune","_local_seq":7}`

	var generic Document[map[string]any]
	assert.NilError(t, json.Unmarshal([]byte(raw), &generic))
	assert.Check(t, is.DeepEqual(generic.Body, map[string]any{"title": "Dune"}))
	assert.Check(t, is.Equal(generic.ID, "dune"))
	assert.Check(t, is.Equal(generic.Revision, "2-b"))
	assert.Check(t, is.DeepEqual(generic.DeletedConflicts, []string{"1-z"}))
	assert.Check(t, is.Equal(string(generic.LocalSeq), "7"))
	assert.Check(t, is.DeepEqual(generic.Attachments["a.txt"], AttachmentStub{
		ContentType: "text/plain",
		Digest:      "md5-x",
		Length:      3,
		RevPos:      2,
		Stub:        true,
	}))

	var typed Document[book]
	assert.NilError(t, json.Unmarshal([]byte(raw), &typed))
	assert.Check(t, is.DeepEqual(typed.Body, book{Title: "Dune"}))
}

func TestDocumentMarshalMergesReservedFields(t *testing.T) {
	doc := Document[book]{ID: "dune", Revision: "1-a", Body: book{Title: "Dune", Pages: 10}}
	raw, err := json.Marshal(doc)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(raw), `{"_id":"dune","_rev":"1-a","pages":10,"title":"Dune"}`))

	deleted, err := json.Marshal(Document[map[string]any]{ID: "gone", Deleted: true})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(deleted), `{"_deleted":true,"_id":"gone"}`))
}

func TestDocumentBodyMustBeObject(t *testing.T) {
	_, err := json.Marshal(Document[[]int]{ID: "x", Body: []int{1}})
	assert.Check(t, err != nil)
}

func TestResultOutcomes(t *testing.T) {
	assert.Check(t, found(1).IsFound())
	assert.Check(t, absent[int]().IsAbsent())
	nm := notModified("v")
	assert.Check(t, nm.IsNotModified())
	assert.Check(t, is.Equal(nm.Value, "v"))
	assert.Check(t, is.Equal(Found.String(), "found"))
	assert.Check(t, is.Equal(NotModified.String(), "not-modified"))
	assert.Check(t, is.Equal(Absent.String(), "absent"))
	assert.Check(t, is.Equal(Outcome(9).String(), "unknown"))
}
