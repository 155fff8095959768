// Package refine runs the generate/validate loop that drives a draft toward
// its SEO target.
package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/houghtp/terra-automation-platform-sub002/internal/generate"
	"github.com/houghtp/terra-automation-platform-sub002/internal/prompt"
	"github.com/houghtp/terra-automation-platform-sub002/internal/validate"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

// Input carries the plan fields the loop needs. ResearchSummary nil means the
// writer prompt gets no research section at all.
type Input struct {
	PlanID          string
	TenantID        string
	Title           string
	Description     *string
	TargetAudience  *string
	Tone            *string
	SEOKeywords     []string
	ResearchSummary *string
	MinSEOScore     int
	MaxIterations   int
}

// Result is the loop outcome. Content and Score are the best draft seen, which
// is not necessarily the last one produced. Passed reports whether that best
// draft met the target; when false the caller still ships it as best-effort.
type Result struct {
	Content    string
	Score      int
	Passed     bool
	Iterations []models.IterationRecord
}

// Observer is called after each iteration with its record and the draft it
// scored. Returning an error aborts the loop.
type Observer func(rec models.IterationRecord, content string) error

// Controller owns one refinement loop run.
type Controller struct {
	LLM       generate.Client
	Validator *validate.Validator
	Registry  *prompt.Registry
}

func New(llm generate.Client, v *validate.Validator, reg *prompt.Registry) *Controller {
	return &Controller{LLM: llm, Validator: v, Registry: reg}
}

// Run executes up to in.MaxIterations generate/validate rounds, stopping early
// once a draft reaches in.MinSEOScore. Ties keep the earlier draft; only a
// strictly better score replaces the best. Cancellation is honored between
// every model call.
func (c *Controller) Run(ctx context.Context, in Input, observe Observer) (Result, error) {
	if in.MaxIterations <= 0 {
		in.MaxIterations = models.DefaultMaxIterations
	}
	if in.MinSEOScore <= 0 {
		in.MinSEOScore = models.DefaultMinSEOScore
	}

	var res Result
	var prevContent string
	var prevReport validate.Report

	for i := 1; i <= in.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		content, err := c.draft(ctx, in, i, prevContent, prevReport)
		if err != nil {
			return res, fmt.Errorf("iteration %d: draft: %w", i, err)
		}

		if err := ctx.Err(); err != nil {
			return res, err
		}

		report, err := c.Validator.Score(ctx, validate.Input{
			Title:       in.Title,
			SEOKeywords: in.SEOKeywords,
			TenantID:    in.TenantID,
			Content:     content,
		})
		if err != nil {
			return res, fmt.Errorf("iteration %d: validate: %w", i, err)
		}

		rec := models.IterationRecord{
			Iteration:       i,
			Score:           report.Score,
			Status:          models.IterationFail,
			Issues:          report.Issues,
			Recommendations: report.Recommendations,
			Strengths:       report.Strengths,
			Timestamp:       time.Now().UTC(),
		}
		if report.Passed(in.MinSEOScore) {
			rec.Status = models.IterationPass
		}
		res.Iterations = append(res.Iterations, rec)

		if report.Score > res.Score || res.Content == "" {
			res.Content = content
			res.Score = report.Score
		}

		if observe != nil {
			if err := observe(rec, content); err != nil {
				return res, fmt.Errorf("iteration %d: observer: %w", i, err)
			}
		}

		if rec.Status == models.IterationPass {
			res.Passed = true
			return res, nil
		}
		prevContent = content
		prevReport = report
	}

	// Budget exhausted: ship the best draft seen, flagged by its score.
	res.Passed = res.Score >= in.MinSEOScore
	return res, nil
}

func (c *Controller) draft(ctx context.Context, in Input, iteration int, prevContent string, prevReport validate.Report) (string, error) {
	var key string
	vars := prompt.Vars()
	prompt.Set(vars, "title", in.Title)
	prompt.SetOptional(vars, "tone", in.Tone)

	if iteration == 1 {
		key = prompt.KeyContentInitial
		prompt.SetOptional(vars, "description", in.Description)
		prompt.SetOptional(vars, "target_audience", in.TargetAudience)
		prompt.SetStrings(vars, "seo_keywords", in.SEOKeywords)
		if in.ResearchSummary != nil {
			prompt.SetOptional(vars, "research_summary", in.ResearchSummary)
		}
	} else {
		key = prompt.KeyContentRevision
		prompt.Set(vars, "iteration", iteration)
		prompt.Set(vars, "previous_content", prevContent)
		prompt.Set(vars, "feedback_issues", bulleted(prevReport.Issues))
		prompt.Set(vars, "feedback_recommendations", bulleted(prevReport.Recommendations))
	}

	system, user, err := c.Registry.Render(key, in.TenantID, vars)
	if err != nil {
		return "", err
	}
	content, err := c.LLM.Complete(ctx, generate.Request{System: system, User: user})
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", &generate.TransientError{Err: fmt.Errorf("model returned an empty draft")}
	}
	return content, nil
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "- none noted"
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
