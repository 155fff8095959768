package research

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/houghtp/terra-automation-platform-sub002/internal/generate"
	"github.com/houghtp/terra-automation-platform-sub002/internal/prompt"
)

const samplePage = `<html><head><title>x</title><script>var noise = 1;</script></head>
<body>
<h1>Table-driven testing in Go</h1>
<p>Table-driven tests keep each case small and declarative for reviewers.</p>
<p>short</p>
<li>Subtests give every case its own name and parallel scheduling.</li>
</body></html>`

func TestExtractText_keepsContentDropsNoise(t *testing.T) {
	t.Parallel()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(samplePage))
	if err != nil {
		t.Fatal(err)
	}
	text := ExtractText(doc)
	for _, want := range []string{"Table-driven testing in Go", "declarative for reviewers", "parallel scheduling"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "noise") {
		t.Fatalf("script content leaked:\n%s", text)
	}
	if strings.Contains(text, "short") {
		t.Fatalf("trivial fragments should be dropped:\n%s", text)
	}
}

func TestCollect_fetchesAndSummarizes(t *testing.T) {
	t.Parallel()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	llm := generate.NewStubClient("Key angle: table-driven tests dominate the niche.")
	c := NewWebCollector([]string{srv.URL + "/search?q=%s"}, llm, prompt.NewRegistry(""))

	summary, err := c.Collect(context.Background(), "go testing", []string{"go"}, "")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if summary != "Key angle: table-driven tests dominate the niche." {
		t.Fatalf("summary = %q", summary)
	}
	if gotQuery != "go testing" {
		t.Fatalf("topic not expanded into source URL, got %q", gotQuery)
	}
	if !strings.Contains(llm.Requests[0].User, "declarative for reviewers") {
		t.Fatalf("scraped text missing from summarize prompt:\n%s", llm.Requests[0].User)
	}
}

func TestCollect_deadSourceIsSkipped(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	llm := generate.NewStubClient("summary")
	c := NewWebCollector(
		[]string{"http://127.0.0.1:1/unreachable?q=%s", srv.URL + "/?q=%s"},
		llm, prompt.NewRegistry(""),
	)
	summary, err := c.Collect(context.Background(), "topic", nil, "")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if summary != "summary" {
		t.Fatalf("summary = %q", summary)
	}
}

func TestCollect_noSourcesMeansNoResearch(t *testing.T) {
	t.Parallel()
	llm := generate.NewStubClient("should not be called")
	c := NewWebCollector(nil, llm, prompt.NewRegistry(""))
	summary, err := c.Collect(context.Background(), "topic", nil, "")
	if err != nil || summary != "" {
		t.Fatalf("got %q, %v", summary, err)
	}
	if llm.Calls() != 0 {
		t.Fatal("LLM should not be called without source material")
	}
}

func TestCollect_allSourcesEmptySkipsSummarize(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>tiny</p></body></html>"))
	}))
	defer srv.Close()

	llm := generate.NewStubClient("should not be called")
	c := NewWebCollector([]string{srv.URL}, llm, prompt.NewRegistry(""))
	summary, err := c.Collect(context.Background(), "topic", nil, "")
	if err != nil || summary != "" {
		t.Fatalf("got %q, %v", summary, err)
	}
	if llm.Calls() != 0 {
		t.Fatal("LLM should not be called without source material")
	}
}
