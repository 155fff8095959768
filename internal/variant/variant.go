// Package variant adapts approved content for distribution channels,
// fanning the adaptations out concurrently.
package variant

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"

	"github.com/houghtp/terra-automation-platform-sub002/internal/generate"
	"github.com/houghtp/terra-automation-platform-sub002/internal/prompt"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

// Spec describes how one channel wants its content shaped. MaxChars 0 means
// unlimited.
type Spec struct {
	Channel  string
	MaxChars int
	Format   string // plain, markdown, html
	Tone     string
}

// Channel format constants.
const (
	FormatPlain    = "plain"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// specs is the built-in channel catalog.
var specs = map[string]Spec{
	"twitter":  {Channel: "twitter", MaxChars: 280, Format: FormatPlain, Tone: "punchy"},
	"linkedin": {Channel: "linkedin", MaxChars: 3000, Format: FormatPlain, Tone: "professional"},
	"email":    {Channel: "email", MaxChars: 10000, Format: FormatHTML, Tone: "direct"},
	"blog":     {Channel: "blog", MaxChars: 0, Format: FormatMarkdown, Tone: "editorial"},
}

// SpecFor returns the catalog entry for a channel.
func SpecFor(channel string) (Spec, bool) {
	s, ok := specs[strings.ToLower(channel)]
	return s, ok
}

// KnownChannels lists the catalog, sorted.
func KnownChannels() []string {
	out := make([]string, 0, len(specs))
	for c := range specs {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Adapter produces channel variants from a finished draft.
type Adapter struct {
	LLM      generate.Client
	Registry *prompt.Registry
	markdown goldmark.Markdown
}

func NewAdapter(llm generate.Client, reg *prompt.Registry) *Adapter {
	return &Adapter{LLM: llm, Registry: reg, markdown: goldmark.New()}
}

// FanOut adapts content for each requested channel concurrently. Every channel
// gets a Variant: failures carry an Error instead of a Body, and one channel
// failing never blocks the others. Results come back in the input order.
func (a *Adapter) FanOut(ctx context.Context, planID, tenantID, content string, channels []string) []models.Variant {
	out := make([]models.Variant, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch string) {
			defer wg.Done()
			out[i] = a.adapt(ctx, planID, tenantID, content, ch)
		}(i, ch)
	}
	wg.Wait()
	return out
}

func (a *Adapter) adapt(ctx context.Context, planID, tenantID, content, channel string) models.Variant {
	v := models.Variant{
		PlanID:    planID,
		Channel:   strings.ToLower(channel),
		CreatedAt: time.Now().UTC(),
	}
	spec, ok := SpecFor(channel)
	if !ok {
		v.Error = strptr(fmt.Sprintf("unknown channel: %s", channel))
		return v
	}
	v.Format = spec.Format
	v.Tone = spec.Tone
	v.MaxChars = spec.MaxChars

	body, err := a.render(ctx, tenantID, content, spec)
	if err != nil {
		v.Error = strptr(err.Error())
		return v
	}

	if spec.MaxChars > 0 && len([]rune(body)) > spec.MaxChars {
		body = Truncate(body, spec.MaxChars)
		v.Truncated = true
	}
	v.Body = body
	v.CharCount = len([]rune(body))
	return v
}

func (a *Adapter) render(ctx context.Context, tenantID, content string, spec Spec) (string, error) {
	vars := prompt.Vars()
	prompt.Set(vars, "channel", spec.Channel)
	prompt.Set(vars, "format", spec.Format)
	prompt.Set(vars, "variant_tone", spec.Tone)
	prompt.Set(vars, "content", content)
	if spec.MaxChars > 0 {
		prompt.Set(vars, "max_chars", spec.MaxChars)
		prompt.Set(vars, "has_max_chars", true)
	}

	system, user, err := a.Registry.Render(prompt.KeyVariantAdapt, tenantID, vars)
	if err != nil {
		return "", fmt.Errorf("render adapt prompt: %w", err)
	}
	body, err := a.LLM.Complete(ctx, generate.Request{System: system, User: user})
	if err != nil {
		return "", fmt.Errorf("adapt for %s: %w", spec.Channel, err)
	}
	body = strings.TrimSpace(body)

	// Email wants HTML; the model writes Markdown, we convert.
	if spec.Format == FormatHTML {
		var buf bytes.Buffer
		if err := a.markdown.Convert([]byte(body), &buf); err != nil {
			return "", fmt.Errorf("convert %s variant to HTML: %w", spec.Channel, err)
		}
		body = strings.TrimSpace(buf.String())
	}
	return body, nil
}

// Truncate cuts s to max runes, preferring a word boundary near the end and
// appending an ellipsis when something was lost.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := max - 1 // room for the ellipsis
	trimmed := strings.TrimRight(string(runes[:cut]), " \t\n")
	if i := strings.LastIndexAny(trimmed, " \n"); i > cut*3/4 {
		trimmed = strings.TrimRight(trimmed[:i], " \t\n")
	}
	return trimmed + "…"
}

func strptr(s string) *string { return &s }
