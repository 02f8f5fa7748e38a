package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/Ratio1/couch_sdk_go/pkg/couch"
	"github.com/Ratio1/couch_sdk_go/pkg/couch/couchtest"
)

type testCLI struct {
	*couchCLI
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	server *couchtest.Server
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	srv := couchtest.New()
	client, err := couch.New("http://couch.test", couch.WithHTTPClient(&http.Client{Transport: srv.Transport()}))
	assert.NilError(t, err)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cli := newCLI(strings.NewReader(""), stdout, stderr)
	cli.client = client
	return &testCLI{couchCLI: cli, stdout: stdout, stderr: stderr, server: srv}
}

func (c *testCLI) run(t *testing.T, stdin string, args ...string) error {
	t.Helper()
	c.stdout.Reset()
	c.stderr.Reset()
	c.in = strings.NewReader(stdin)
	cmd := newRootCommand(c.couchCLI)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestDatabaseCommands(t *testing.T) {
	cli := newTestCLI(t)

	assert.NilError(t, cli.run(t, "", "db", "create", "books"))
	assert.NilError(t, cli.run(t, "", "db", "ls"))
	assert.Check(t, is.Equal(cli.stdout.String(), "books\n"))

	assert.NilError(t, cli.run(t, "", "db", "exists", "books"))
	assert.Check(t, is.Equal(cli.stdout.String(), "true\n"))

	err := cli.run(t, "", "db", "exists", "films")
	assert.Assert(t, err != nil)
	assert.Check(t, is.Equal(cli.stdout.String(), "false\n"))

	assert.NilError(t, cli.run(t, "", "db", "info", "books"))
	var info couch.DatabaseInfo
	assert.NilError(t, json.Unmarshal(cli.stdout.Bytes(), &info))
	assert.Check(t, is.Equal(info.DBName, "books"))

	err = cli.run(t, "", "db", "create", "books")
	assert.Assert(t, err != nil)
	assert.Check(t, is.Equal(couch.StatusCode(err), 412))

	assert.NilError(t, cli.run(t, "", "db", "rm", "books"))
}

func TestDocumentLifecycle(t *testing.T) {
	cli := newTestCLI(t)
	assert.NilError(t, cli.run(t, "", "db", "create", "books"))

	assert.NilError(t, cli.run(t, "{\n  // comments are fine\n  \"title\": \"Dune\",\n}", "doc", "put", "books", "dune"))
	var put couch.WriteResult
	assert.NilError(t, json.Unmarshal(cli.stdout.Bytes(), &put))
	assert.Check(t, is.Equal(put.ID, "dune"))
	assert.Check(t, put.Revision != "")

	assert.NilError(t, cli.run(t, "", "doc", "get", "books", "dune"))
	var doc map[string]any
	assert.NilError(t, json.Unmarshal(cli.stdout.Bytes(), &doc))
	assert.Check(t, is.Equal(doc["title"], "Dune"))
	assert.Check(t, is.Equal(doc["_rev"], put.Revision))

	assert.NilError(t, cli.run(t, "", "doc", "head", "books", "dune"))
	assert.Check(t, strings.HasPrefix(cli.stdout.String(), put.Revision+"\t"))

	assert.NilError(t, cli.run(t, "", "doc", "get", "books", "dune", "--if-none-match", put.Revision))
	assert.Check(t, is.Equal(cli.stdout.String(), ""))
	assert.Check(t, is.Contains(cli.stderr.String(), "not modified"))

	err := cli.run(t, `{"title": "Dune Messiah"}`, "doc", "put", "books", "dune")
	assert.Assert(t, err != nil)
	assert.Check(t, couch.IsConflict(err))

	assert.NilError(t, cli.run(t, "", "doc", "cp", "books", "dune", "dune-copy"))
	assert.NilError(t, cli.run(t, "", "doc", "rm", "books", "dune"))

	err = cli.run(t, "", "doc", "head", "books", "dune")
	assert.Assert(t, err != nil)
	assert.Check(t, is.Contains(err.Error(), "not found"))

	assert.NilError(t, cli.run(t, "", "doc", "get", "books", "dune-copy"))
	assert.Check(t, is.Contains(cli.stdout.String(), "Dune"))
}

func TestInsertRejectsNonObjects(t *testing.T) {
	cli := newTestCLI(t)
	assert.NilError(t, cli.run(t, "", "db", "create", "books"))

	err := cli.run(t, `["not", "an", "object"]`, "doc", "insert", "books")
	assert.Assert(t, err != nil)
}

func TestAttachmentCommands(t *testing.T) {
	cli := newTestCLI(t)
	assert.NilError(t, cli.run(t, "", "db", "create", "books"))

	dir := t.TempDir()
	src := filepath.Join(dir, "cover.txt")
	assert.NilError(t, os.WriteFile(src, []byte("cover art"), 0o600))

	assert.NilError(t, cli.run(t, "", "att", "put", "books", "dune", "cover.txt", "-f", src))
	var res couch.WriteResult
	assert.NilError(t, json.Unmarshal(cli.stdout.Bytes(), &res))
	assert.Check(t, is.Equal(res.ID, "dune"))

	assert.NilError(t, cli.run(t, "", "att", "head", "books", "dune", "cover.txt"))
	assert.Check(t, strings.HasPrefix(cli.stdout.String(), "text/plain"))

	assert.NilError(t, cli.run(t, "", "att", "get", "books", "dune", "cover.txt"))
	assert.Check(t, is.Equal(cli.stdout.String(), "cover art"))

	dst := filepath.Join(dir, "out.txt")
	assert.NilError(t, cli.run(t, "", "att", "get", "books", "dune", "cover.txt", "-o", dst))
	data, err := os.ReadFile(dst)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(data), "cover art"))

	assert.NilError(t, cli.run(t, "", "att", "rm", "books", "dune", "cover.txt"))
	err = cli.run(t, "", "att", "head", "books", "dune", "cover.txt")
	assert.Assert(t, err != nil)
}

func TestLoadAndFind(t *testing.T) {
	cli := newTestCLI(t)

	input := strings.Join([]string{
		`{"_id": "a", "name": "a", "year": 1965}`,
		``,
		`{"name": "b", "year": 1969}`,
		`{"name": "c", "year": 1976}`,
	}, "\n")
	assert.NilError(t, cli.run(t, input, "load", "books", "--create", "-c", "2"))
	assert.Check(t, is.Contains(cli.stdout.String(), "3 documents"))

	assert.NilError(t, cli.run(t, "", "find", "books", `{"year": {"$gt": 1966}}`, "--sort", "year:desc", "--fields", "name"))
	var res struct {
		Docs []map[string]any `json:"docs"`
	}
	assert.NilError(t, json.Unmarshal(cli.stdout.Bytes(), &res))
	assert.Assert(t, is.Len(res.Docs, 2))
	assert.Check(t, is.Equal(res.Docs[0]["name"], "c"))
	assert.Check(t, is.Equal(res.Docs[1]["name"], "b"))
	assert.Check(t, is.Contains(cli.stderr.String(), "warning:"))
}

func TestLoadRejectsBadLine(t *testing.T) {
	cli := newTestCLI(t)
	assert.NilError(t, cli.run(t, "", "db", "create", "books"))

	err := cli.run(t, "{\"name\": \"a\"}\nnot json\n", "load", "books")
	assert.Assert(t, err != nil)
	assert.Check(t, is.Contains(err.Error(), "line 2"))
}

func TestParseSortFlag(t *testing.T) {
	assert.Check(t, is.DeepEqual(parseSortFlag("year"), couch.SortField{Field: "year"}))
	assert.Check(t, is.DeepEqual(parseSortFlag("year:DESC"), couch.SortField{Field: "year", Direction: "desc"}))
}

func TestAskPasswordNeedsTerminal(t *testing.T) {
	cli := newCLI(strings.NewReader(""), io.Discard, io.Discard)
	_, err := cli.askPassword("admin")
	assert.Check(t, err != nil)
}
