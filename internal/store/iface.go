package store

import (
	"context"
	"errors"
)

// ErrPlanNotFound is returned when a plan ID does not exist.
var ErrPlanNotFound = errors.New("plan not found")

// ErrVersionConflict is returned by SavePlan when the plan row changed since it was loaded.
var ErrVersionConflict = errors.New("plan version conflict")

// Store is the persistence interface for content plans, their iteration
// history, and channel variants.
// Implementations: the SQLite store in this package and *postgres.Store.
type Store interface {
	// Plans
	CreatePlan(ctx context.Context, p NewPlan) (*Plan, error)
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	ListPlans(ctx context.Context, tenantID string, limit int) ([]Plan, error)
	// SavePlan writes all mutable plan fields. The plan's Version must match
	// the stored row; on success the version is bumped. ErrVersionConflict otherwise.
	SavePlan(ctx context.Context, p *Plan) error
	UpdatePlanStatus(ctx context.Context, planID, status string, errorLog *string) error
	// ResetPlan prepares a terminal plan for a fresh run: iteration history and
	// variants are deleted, generated content and error state cleared, and the
	// status returned to planned. The plan's identity fields are untouched.
	ResetPlan(ctx context.Context, planID string) error

	// Iteration history (append-only, strictly ordered by iteration number).
	// AppendIteration also raises latest_seo_score when the record's score
	// exceeds it; the stored score never regresses.
	AppendIteration(ctx context.Context, planID string, rec IterationRecord) error
	ListIterations(ctx context.Context, planID string) ([]IterationRecord, error)

	// Variants
	SaveVariant(ctx context.Context, v Variant) error
	ListVariants(ctx context.Context, planID string) ([]Variant, error)

	// Lifecycle
	Close() error
}
