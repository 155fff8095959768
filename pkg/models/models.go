// Package models provides shared types for the contentd HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Plan is a content plan tracked through the generation workflow.
type Plan struct {
	PlanID         string            `json:"plan_id"`
	TenantID       string            `json:"tenant_id,omitempty"`
	Title          string            `json:"title"`
	Description    *string           `json:"description,omitempty"`
	TargetAudience *string           `json:"target_audience,omitempty"`
	Tone           *string           `json:"tone,omitempty"`
	SEOKeywords    []string          `json:"seo_keywords,omitempty"`
	SkipResearch   bool              `json:"skip_research,omitempty"`
	TargetChannels []string          `json:"target_channels,omitempty"`
	MinSEOScore    int               `json:"min_seo_score"`
	MaxIterations  int               `json:"max_iterations"`
	Status         string            `json:"status"`
	LatestSEOScore *int              `json:"latest_seo_score,omitempty"`
	ContentID      *string           `json:"content_id,omitempty"`
	Content        *string           `json:"content,omitempty"`
	ResearchData   *string           `json:"research_data,omitempty"`
	ErrorLog       *string           `json:"error_log,omitempty"`
	History        []IterationRecord `json:"refinement_history,omitempty"`
	Variants       []Variant         `json:"variants,omitempty"`
	CreatedAt      time.Time         `json:"created_at,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at,omitempty"`
}

// IterationRecord is one generate+validate attempt within the refinement loop.
type IterationRecord struct {
	Iteration       int       `json:"iteration"`
	Score           int       `json:"score"`
	Status          string    `json:"status"` // pass or fail
	Issues          []string  `json:"issues,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Strengths       []string  `json:"strengths,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Variant is a channel-specific adaptation of the approved content.
type Variant struct {
	PlanID    string    `json:"plan_id"`
	Channel   string    `json:"channel"`
	Body      string    `json:"body,omitempty"`
	CharCount int       `json:"char_count"`
	MaxChars  int       `json:"max_chars"`
	Truncated bool      `json:"truncated"`
	Format    string    `json:"format"`
	Tone      string    `json:"tone,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Event is a progress update published while a plan's workflow runs.
type Event struct {
	PlanID    string         `json:"plan_id"`
	Stage     string         `json:"stage"`
	Status    string         `json:"status"` // running, success, error
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Terminal reports whether this event ends the plan's stream.
func (e Event) Terminal() bool {
	return e.Stage == StageCompleted || e.Stage == StageError
}

// Config is the /config API response.
type Config struct {
	Home string `json:"home,omitempty"`
}
