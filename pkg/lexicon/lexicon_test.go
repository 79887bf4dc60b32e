package lexicon

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/japaniel/lexicon/pkg/db"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestLoadEntriesWrappedAndArray(t *testing.T) {
	wrapped := writeFile(t, `{"records": [{"title": "Idempotence", "body": "same result  twice"}]}`)
	entries, err := LoadEntries(wrapped)
	if err != nil {
		t.Fatalf("load wrapped: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Idempotence" || entries[0].Body != "same result  twice" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	array := writeFile(t, `[{"title": "a", "body": "x"}, {"title": "b", "body": "y", "source": "https://example.com/b"}]`)
	entries, err = LoadEntries(array)
	if err != nil {
		t.Fatalf("load array: %v", err)
	}
	if len(entries) != 2 || entries[1].Source != "https://example.com/b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLoadEntriesEmpty(t *testing.T) {
	for _, content := range []string{`{"records": []}`, `[]`} {
		entries, err := LoadEntries(writeFile(t, content))
		if err != nil {
			t.Fatalf("load %s: %v", content, err)
		}
		if entries == nil || len(entries) != 0 {
			t.Fatalf("load %s: expected empty list, got %#v", content, entries)
		}
	}
}

func TestLoadEntriesRejectsGarbage(t *testing.T) {
	if _, err := LoadEntries(writeFile(t, `not json`)); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := LoadEntries(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestImporterImport(t *testing.T) {
	conn := setupTestDB(t)
	im := NewImporter(conn, nil)

	entries := []Entry{
		{Title: "a", Body: "first"},
		{Title: "empty", Body: "   "},
		{Title: "b", Body: "second", Source: "https://example.com/b"},
		{Title: "b", Body: "second, revised", Source: "https://example.com/b"},
	}
	res, err := im.Import(entries)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Stored != 3 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.IDs[1] != res.IDs[2] {
		t.Fatalf("expected same-source entries to share a record, got %v", res.IDs)
	}

	n, err := db.CountRecords(conn)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records, got %d", n)
	}
	r, err := db.GetRecord(conn, res.IDs[2])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Body != "second, revised" {
		t.Fatalf("expected refreshed body, got %q", r.Body)
	}
}

func TestImporterAddRejectsEmptyBody(t *testing.T) {
	im := NewImporter(setupTestDB(t), nil)
	if _, err := im.Add(Entry{Title: "x"}); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

const glossaryPage = `<!DOCTYPE html>
<html><head><title>Idempotence</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Idempotence</h1>
<p>An operation is idempotent when applying it more than once has the same effect as applying it exactly once. Repeating the request leaves the system in the same state.</p>
<p>Retries over unreliable networks depend on this property, because a client cannot tell whether a lost reply means the request was never applied or applied once already.</p>
<p>The term comes from <ruby>冪等<rp>(</rp><rt>べきとう</rt><rp>)</rp></ruby> in mathematics, where an element equals its own square under the operation.</p>
</article>
</body></html>`

func TestFetcherExtractsArticle(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(glossaryPage))
	}))
	defer srv.Close()

	f := NewFetcher(WithUserAgent("lexicon-test"))
	e, err := f.Fetch(context.Background(), srv.URL+"/idempotence")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotUA != "lexicon-test" {
		t.Fatalf("expected user agent to be sent, got %q", gotUA)
	}
	if !strings.Contains(e.Title, "Idempotence") {
		t.Fatalf("unexpected title %q", e.Title)
	}
	if !strings.Contains(e.Body, "applying it exactly once") {
		t.Fatalf("body missing article text: %q", e.Body)
	}
	if strings.Contains(e.Body, "べきとう") {
		t.Fatalf("ruby reading was not stripped: %q", e.Body)
	}
	if e.Source != srv.URL+"/idempotence" {
		t.Fatalf("unexpected source %q", e.Source)
	}
}

func TestFetcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher()
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for 403")
	}
	if _, err := f.Fetch(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}

func TestStripRuby(t *testing.T) {
	in := []byte(`<ruby>漢字<rp>(</rp><RT class="x">かんじ</RT><rp>)</rp></ruby>`)
	got := string(stripRuby(in))
	if got != `<ruby>漢字</ruby>` {
		t.Fatalf("unexpected result %q", got)
	}
}
