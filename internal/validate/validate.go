// Package validate scores drafted content against an SEO rubric by asking
// the model for a structured JSON verdict.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/houghtp/terra-automation-platform-sub002/internal/generate"
	"github.com/houghtp/terra-automation-platform-sub002/internal/prompt"
)

// Report is one validation verdict for a draft.
type Report struct {
	Score           int      `json:"score"`
	Status          string   `json:"status"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Strengths       []string `json:"strengths"`
}

// Passed reports whether the draft met or beat the target score.
func (r Report) Passed(minScore int) bool { return r.Score >= minScore }

// Input carries the plan fields the rubric needs.
type Input struct {
	Title       string
	SEOKeywords []string
	TenantID    string
	Content     string
}

// Validator asks the model to audit a draft and returns a Report.
type Validator struct {
	Client   generate.Client
	Registry *prompt.Registry
}

func New(client generate.Client, reg *prompt.Registry) *Validator {
	return &Validator{Client: client, Registry: reg}
}

// Score audits in.Content. Model/transport failures surface as errors so
// the caller can retry; a reply that is not valid JSON degrades to a
// zero-score failing report rather than an error, since retrying a
// malformed reply verbatim rarely helps.
func (v *Validator) Score(ctx context.Context, in Input) (Report, error) {
	vars := prompt.Vars()
	prompt.Set(vars, "title", in.Title)
	prompt.SetStrings(vars, "seo_keywords", in.SEOKeywords)
	prompt.Set(vars, "content", in.Content)

	system, user, err := v.Registry.Render(prompt.KeyContentValidate, in.TenantID, vars)
	if err != nil {
		return Report{}, fmt.Errorf("render validation prompt: %w", err)
	}

	raw, err := v.Client.Complete(ctx, generate.Request{System: system, User: user})
	if err != nil {
		return Report{}, fmt.Errorf("validation request: %w", err)
	}
	return ParseReport(raw), nil
}

// ParseReport decodes a model reply into a Report. Markdown code fences are
// stripped first. Unparseable replies become {score:0, status:fail} with a
// sentinel issue so the refinement loop keeps a usable feedback shape.
func ParseReport(raw string) Report {
	var r Report
	if err := json.Unmarshal([]byte(extractJSON(raw)), &r); err != nil {
		return Report{
			Score:  0,
			Status: "fail",
			Issues: []string{"validation-unparseable"},
		}
	}
	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > 100 {
		r.Score = 100
	}
	if r.Status == "" {
		r.Status = "fail"
	}
	return r
}

// extractJSON trims ``` fences and any prose around the outermost object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
