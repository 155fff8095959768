// Package research gathers background material for a plan topic and
// condenses it into a short summary the writer prompt can use.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/houghtp/terra-automation-platform-sub002/internal/generate"
	"github.com/houghtp/terra-automation-platform-sub002/internal/prompt"
)

// Collector produces a research summary for a topic. An empty summary with a
// nil error means nothing useful was found; callers proceed without research.
type Collector interface {
	Collect(ctx context.Context, topic string, keywords []string, tenantID string) (string, error)
}

const (
	// maxSourceBytes caps what we keep from a single page.
	maxSourceBytes = 8 << 10
	// maxCorpusBytes caps the combined material sent for summarization.
	maxCorpusBytes = 32 << 10
)

// WebCollector fetches source pages, extracts their text, and asks the model
// for a summary. Source entries are URL templates; "%s" is replaced with the
// URL-escaped topic.
type WebCollector struct {
	HTTP     *http.Client
	Sources  []string
	LLM      generate.Client
	Registry *prompt.Registry
}

func NewWebCollector(sources []string, llm generate.Client, reg *prompt.Registry) *WebCollector {
	return &WebCollector{
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		Sources:  sources,
		LLM:      llm,
		Registry: reg,
	}
}

func (c *WebCollector) Collect(ctx context.Context, topic string, keywords []string, tenantID string) (string, error) {
	if len(c.Sources) == 0 {
		return "", nil
	}

	var corpus strings.Builder
	for _, src := range c.Sources {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		text, err := c.fetchText(ctx, expandSource(src, topic))
		if err != nil {
			// A dead source is not fatal; the rest may still yield material.
			slog.Warn("research source failed", "source", src, "err", err)
			continue
		}
		if text == "" {
			continue
		}
		corpus.WriteString(text)
		corpus.WriteString("\n\n")
		if corpus.Len() >= maxCorpusBytes {
			break
		}
	}
	if corpus.Len() == 0 {
		return "", nil
	}

	return c.summarize(ctx, topic, keywords, tenantID, corpus.String())
}

func (c *WebCollector) summarize(ctx context.Context, topic string, keywords []string, tenantID, sourceText string) (string, error) {
	if len(sourceText) > maxCorpusBytes {
		sourceText = sourceText[:maxCorpusBytes]
	}
	vars := prompt.Vars()
	prompt.Set(vars, "topic", topic)
	prompt.SetStrings(vars, "seo_keywords", keywords)
	prompt.Set(vars, "source_text", sourceText)

	system, user, err := c.Registry.Render(prompt.KeyResearchSummarize, tenantID, vars)
	if err != nil {
		return "", fmt.Errorf("render research prompt: %w", err)
	}
	summary, err := c.LLM.Complete(ctx, generate.Request{System: system, User: user})
	if err != nil {
		return "", fmt.Errorf("summarize research: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

func (c *WebCollector) fetchText(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "contentd-research/1.0")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return ExtractText(doc), nil
}

// ExtractText pulls readable text out of a parsed page: headings, paragraphs,
// and list items, with script/style noise dropped by selector.
func ExtractText(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find("h1, h2, h3, p, li").Each(func(_ int, s *goquery.Selection) {
		if b.Len() >= maxSourceBytes {
			return
		}
		t := strings.TrimSpace(s.Text())
		if len(t) < 20 {
			return
		}
		b.WriteString(t)
		b.WriteString("\n")
	})
	out := b.String()
	if len(out) > maxSourceBytes {
		out = out[:maxSourceBytes]
	}
	return out
}

func expandSource(src, topic string) string {
	if strings.Contains(src, "%s") {
		return strings.ReplaceAll(src, "%s", url.QueryEscape(topic))
	}
	return src
}

// StubCollector returns a fixed summary. Used by tests and offline mode.
type StubCollector struct {
	Summary string
	Err     error
	Topics  []string
}

func (s *StubCollector) Collect(ctx context.Context, topic string, _ []string, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.Topics = append(s.Topics, topic)
	return s.Summary, s.Err
}
