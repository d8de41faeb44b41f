package vectorize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/codesage-ai/codesage/internal/embedclient"
	"github.com/codesage-ai/codesage/internal/vectorstore"
)

type stubSummarizer struct {
	calls int
}

func (s *stubSummarizer) Summarize(ctx context.Context, path, content string) (string, error) {
	s.calls++
	return "# " + path + "\n\nsummary", nil
}

func newTestEmbedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = 0.1
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": vec, "index": 0}},
		})
	}))
}

func newTestPipeline(t *testing.T, root string, summarizer Summarizer) (*Pipeline, *vectorstore.Store) {
	t.Helper()
	const dim = 4
	srv := newTestEmbedServer(t, dim)
	t.Cleanup(srv.Close)

	embed := embedclient.NewClient(embedclient.Config{BaseURL: srv.URL, Model: "test-embed"})
	store, err := vectorstore.New(vectorstore.Config{Dimension: dim, Driver: vectorstore.DriverSQLite})
	if err != nil {
		t.Fatalf("vectorstore.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	p, err := New(Config{
		ProjectRoot: root,
		ProjectKey:  "proj-1",
		Extensions:  []string{".go"},
		CachePath:   filepath.Join(t.TempDir(), "hashcache.json"),
	}, summarizer, embed, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, store
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
}

func TestPipeline_RunEmbedsNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.go", "package b")
	writeFile(t, root, "ignore.txt", "not go")

	summarizer := &stubSummarizer{}
	p, _ := newTestPipeline(t, root, summarizer)

	res, err := p.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("Run() errors = %v, want none", res.Errors)
	}
	if summarizer.calls != 2 {
		t.Fatalf("summarizer called %d times, want 2 (ignore.txt should be excluded)", summarizer.calls)
	}

	embedded := 0
	for _, f := range res.Files {
		if f.Action == "embedded" {
			embedded++
		}
	}
	if embedded != 2 {
		t.Fatalf("embedded %d files, want 2", embedded)
	}
}

func TestPipeline_RunSkipsUnchangedFilesOnSecondRun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	summarizer := &stubSummarizer{}
	p, _ := newTestPipeline(t, root, summarizer)

	if _, err := p.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if summarizer.calls != 1 {
		t.Fatalf("summarizer called %d times after first run, want 1", summarizer.calls)
	}

	res, err := p.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if summarizer.calls != 1 {
		t.Fatalf("summarizer called %d times after second run, want still 1 (unchanged file should be skipped)", summarizer.calls)
	}
	if len(res.Files) != 1 || res.Files[0].Action != "skipped" {
		t.Fatalf("Run() files = %+v, want one skipped entry", res.Files)
	}
}

func TestPipeline_ForceUpdateBypassesHashCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	summarizer := &stubSummarizer{}
	p, _ := newTestPipeline(t, root, summarizer)

	if _, err := p.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if _, err := p.Run(context.Background(), RunOptions{ForceUpdate: true}); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if summarizer.calls != 2 {
		t.Fatalf("summarizer called %d times, want 2 (ForceUpdate must bypass the hash cache)", summarizer.calls)
	}
}

func TestPipeline_RunDeletesRemovedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.go", "package b")

	summarizer := &stubSummarizer{}
	p, store := newTestPipeline(t, root, summarizer)

	if _, err := p.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	if err := os.Remove(filepath.Join(root, "b.go")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	res, err := p.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	var deleted bool
	for _, f := range res.Files {
		if f.Path == "b.go" && f.Action == "deleted" {
			deleted = true
		}
	}
	if !deleted {
		t.Fatalf("Run() files = %+v, want b.go marked deleted", res.Files)
	}

	id := fragmentID("proj-1", "b.go")
	if _, err := store.Get(context.Background(), "proj-1", id); err != vectorstore.ErrNotFound {
		t.Fatalf("Get(b.go fragment) after deletion = %v, want ErrNotFound", err)
	}
}

func TestPipeline_FileFailuresDoNotAbortBatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.go", "package b")

	failing := failOnceSummarizer{failPath: "a.go"}
	p, _ := newTestPipeline(t, root, &failing)

	res, err := p.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil (per-file failures must not abort the batch)", err)
	}
	if _, ok := res.Errors["a.go"]; !ok {
		t.Fatalf("Run() errors = %v, want an entry for a.go", res.Errors)
	}

	embedded := false
	for _, f := range res.Files {
		if f.Path == "b.go" && f.Action == "embedded" {
			embedded = true
		}
	}
	if !embedded {
		t.Fatalf("Run() files = %+v, want b.go embedded despite a.go's failure", res.Files)
	}
}

type failOnceSummarizer struct {
	failPath string
}

func (s *failOnceSummarizer) Summarize(ctx context.Context, path, content string) (string, error) {
	if path == s.failPath {
		return "", errSummaryFailed
	}
	return "# " + path, nil
}

var errSummaryFailed = &summaryError{"stubbed summarizer failure"}

type summaryError struct{ msg string }

func (e *summaryError) Error() string { return e.msg }

func TestPipeline_FromExistingMDPurgesThenReembeds(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	summarizer := &stubSummarizer{}
	p, store := newTestPipeline(t, root, summarizer)

	if _, err := p.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("initial Run() error = %v", err)
	}

	mdRoot := t.TempDir()
	writeFile(t, mdRoot, "a.md", "# a.go\n\nhand-written summary")

	res, err := p.Run(context.Background(), RunOptions{FromExistingMD: true, MDRoot: mdRoot})
	if err != nil {
		t.Fatalf("FromExistingMD Run() error = %v", err)
	}
	if len(res.Files) != 1 || res.Files[0].Action != "embedded" {
		t.Fatalf("Run(FromExistingMD) files = %+v, want one embedded markdown file", res.Files)
	}

	oldID := fragmentID("proj-1", "a.go")
	if _, err := store.Get(context.Background(), "proj-1", oldID); err != vectorstore.ErrNotFound {
		t.Fatalf("Get(old fragment) after FromExistingMD = %v, want ErrNotFound (should have been purged)", err)
	}
}
