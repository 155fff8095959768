// Package store defines the persistence interface and shared models for
// content plans, refinement iterations, and channel variants.
package store

import "time"

// Plan is a content plan row. Slice fields are stored as JSON columns;
// pointer fields are nullable.
type Plan struct {
	PlanID         string
	TenantID       string
	Title          string
	Description    *string
	TargetAudience *string
	Tone           *string
	SEOKeywords    []string
	SkipResearch   bool
	TargetChannels []string
	MinSEOScore    int
	MaxIterations  int
	Status         string
	LatestSEOScore *int
	Content        *string // best-scoring draft body
	ContentID      *string
	ResearchData   *string // opaque research/SEO summary blob
	ErrorLog       *string
	Version        int // optimistic concurrency token, bumped on SavePlan
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPlan carries the caller-supplied fields for plan creation.
// Zero MinSEOScore/MaxIterations mean "use defaults".
type NewPlan struct {
	TenantID       string
	Title          string
	Description    *string
	TargetAudience *string
	Tone           *string
	SEOKeywords    []string
	SkipResearch   bool
	TargetChannels []string
	MinSEOScore    int
	MaxIterations  int
}

// IterationRecord is one generate+validate attempt. Immutable once appended.
type IterationRecord struct {
	Iteration       int // 1-based
	Score           int // 0-100
	Status          string
	Issues          []string
	Recommendations []string
	Strengths       []string
	CreatedAt       time.Time
}

// Variant is a channel-specific derivative of the approved content.
// Error is set when that channel's generation failed; siblings are unaffected.
type Variant struct {
	PlanID    string
	Channel   string
	Body      string
	CharCount int
	MaxChars  int
	Truncated bool
	Format    string
	Tone      string
	Error     *string
	CreatedAt time.Time
}
