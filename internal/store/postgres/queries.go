package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/houghtp/terra-automation-platform-sub002/internal/store"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

var planColumns = []string{
	"plan_id", "tenant_id", "title", "description", "target_audience", "tone",
	"seo_keywords", "skip_research", "target_channels", "min_seo_score", "max_iterations",
	"status", "latest_seo_score", "content", "content_id", "research_data", "error_log",
	"version", "created_at", "updated_at",
}

func (s *Store) CreatePlan(ctx context.Context, p store.NewPlan) (*store.Plan, error) {
	if p.Title == "" {
		return nil, errors.New("plan title required")
	}
	if p.MinSEOScore <= 0 {
		p.MinSEOScore = models.DefaultMinSEOScore
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = models.DefaultMaxIterations
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	q, args, err := s.sb.Insert("plans").
		Columns("plan_id", "tenant_id", "title", "description", "target_audience", "tone",
			"seo_keywords", "skip_research", "target_channels", "min_seo_score", "max_iterations",
			"status", "version", "created_at", "updated_at").
		Values(id, p.TenantID, p.Title, p.Description, p.TargetAudience, p.Tone,
			marshalStrings(p.SEOKeywords), p.SkipResearch, marshalStrings(p.TargetChannels),
			p.MinSEOScore, p.MaxIterations, models.StatusPlanned, 1, now, now).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := s.Pool.Exec(ctx, q, args...); err != nil {
		return nil, err
	}
	return s.GetPlan(ctx, id)
}

func (s *Store) GetPlan(ctx context.Context, planID string) (*store.Plan, error) {
	q, args, err := s.sb.Select(planColumns...).From("plans").Where(sq.Eq{"plan_id": planID}).ToSql()
	if err != nil {
		return nil, err
	}
	p, err := scanPlanRow(s.Pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrPlanNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPlans(ctx context.Context, tenantID string, limit int) ([]store.Plan, error) {
	if limit <= 0 {
		limit = models.DefaultPlanListLimit
	}
	b := s.sb.Select(planColumns...).From("plans")
	if tenantID != "" {
		b = b.Where(sq.Eq{"tenant_id": tenantID})
	}
	q, args, err := b.OrderBy("created_at DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Plan
	for rows.Next() {
		p, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) SavePlan(ctx context.Context, p *store.Plan) error {
	if p == nil || p.PlanID == "" {
		return errors.New("plan with ID required")
	}
	now := time.Now().UTC().Unix()
	b := s.sb.Update("plans").
		Set("title", p.Title).
		Set("description", p.Description).
		Set("target_audience", p.TargetAudience).
		Set("tone", p.Tone).
		Set("seo_keywords", marshalStrings(p.SEOKeywords)).
		Set("skip_research", p.SkipResearch).
		Set("target_channels", marshalStrings(p.TargetChannels)).
		Set("min_seo_score", p.MinSEOScore).
		Set("max_iterations", p.MaxIterations).
		Set("status", p.Status).
		Set("content", p.Content).
		Set("content_id", p.ContentID).
		Set("research_data", p.ResearchData).
		Set("error_log", p.ErrorLog).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", now).
		Where(sq.Eq{"plan_id": p.PlanID, "version": p.Version})
	if p.LatestSEOScore != nil {
		// Monotonic: the stored best score never regresses.
		b = b.Set("latest_seo_score", sq.Expr("GREATEST(COALESCE(latest_seo_score, 0), ?)", *p.LatestSEOScore))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetPlan(ctx, p.PlanID); errors.Is(err, store.ErrPlanNotFound) {
			return store.ErrPlanNotFound
		}
		return store.ErrVersionConflict
	}
	p.Version++
	p.UpdatedAt = time.Unix(now, 0).UTC()
	return nil
}

func (s *Store) UpdatePlanStatus(ctx context.Context, planID, status string, errorLog *string) error {
	q, args, err := s.sb.Update("plans").
		Set("status", status).
		Set("error_log", sq.Expr("COALESCE(?, error_log)", errorLog)).
		Set("updated_at", time.Now().UTC().Unix()).
		Where(sq.Eq{"plan_id": planID}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ResetPlan(ctx context.Context, planID string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM plan_iterations WHERE plan_id = $1`, planID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM plan_variants WHERE plan_id = $1`, planID); err != nil {
		return err
	}
	q, args, err := s.sb.Update("plans").
		Set("status", models.StatusPlanned).
		Set("latest_seo_score", nil).
		Set("content", nil).
		Set("content_id", nil).
		Set("error_log", nil).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", time.Now().UTC().Unix()).
		Where(sq.Eq{"plan_id": planID}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrPlanNotFound
	}
	return tx.Commit(ctx)
}

func (s *Store) AppendIteration(ctx context.Context, planID string, rec store.IterationRecord) error {
	if rec.Iteration < 1 {
		return errors.New("iteration must be 1-based")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q, args, err := s.sb.Insert("plan_iterations").
		Columns("plan_id", "iteration", "score", "status", "issues", "recommendations", "strengths", "created_at").
		Values(planID, rec.Iteration, rec.Score, rec.Status,
			marshalStrings(rec.Issues), marshalStrings(rec.Recommendations), marshalStrings(rec.Strengths),
			createdAt.Unix()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, q, args...); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE plans SET latest_seo_score = GREATEST(COALESCE(latest_seo_score, 0), $1), updated_at = $2 WHERE plan_id = $3`,
		rec.Score, time.Now().UTC().Unix(), planID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListIterations(ctx context.Context, planID string) ([]store.IterationRecord, error) {
	q, args, err := s.sb.Select("iteration", "score", "status", "issues", "recommendations", "strengths", "created_at").
		From("plan_iterations").
		Where(sq.Eq{"plan_id": planID}).
		OrderBy("iteration ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.IterationRecord
	for rows.Next() {
		var (
			rec       store.IterationRecord
			issues    []byte
			recs      []byte
			strengths []byte
			createdAt int64
		)
		if err := rows.Scan(&rec.Iteration, &rec.Score, &rec.Status, &issues, &recs, &strengths, &createdAt); err != nil {
			return nil, err
		}
		rec.Issues = unmarshalStrings(issues)
		rec.Recommendations = unmarshalStrings(recs)
		rec.Strengths = unmarshalStrings(strengths)
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SaveVariant(ctx context.Context, v store.Variant) error {
	if v.PlanID == "" || v.Channel == "" {
		return errors.New("variant plan_id and channel required")
	}
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q, args, err := s.sb.Insert("plan_variants").
		Columns("plan_id", "channel", "body", "char_count", "max_chars", "truncated", "format", "tone", "error", "created_at").
		Values(v.PlanID, v.Channel, v.Body, v.CharCount, v.MaxChars, v.Truncated, v.Format, v.Tone, v.Error, createdAt.Unix()).
		Suffix(`ON CONFLICT (plan_id, channel) DO UPDATE SET
  body = EXCLUDED.body, char_count = EXCLUDED.char_count, max_chars = EXCLUDED.max_chars,
  truncated = EXCLUDED.truncated, format = EXCLUDED.format, tone = EXCLUDED.tone,
  error = EXCLUDED.error, created_at = EXCLUDED.created_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, q, args...)
	return err
}

func (s *Store) ListVariants(ctx context.Context, planID string) ([]store.Variant, error) {
	q, args, err := s.sb.Select("plan_id", "channel", "body", "char_count", "max_chars", "truncated", "format", "tone", "error", "created_at").
		From("plan_variants").
		Where(sq.Eq{"plan_id": planID}).
		OrderBy("channel ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Variant
	for rows.Next() {
		var (
			v         store.Variant
			createdAt int64
		)
		if err := rows.Scan(&v.PlanID, &v.Channel, &v.Body, &v.CharCount, &v.MaxChars, &v.Truncated, &v.Format, &v.Tone, &v.Error, &createdAt); err != nil {
			return nil, err
		}
		v.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlanRow(row rowScanner) (*store.Plan, error) {
	var (
		p         store.Plan
		keywords  []byte
		channels  []byte
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&p.PlanID, &p.TenantID, &p.Title, &p.Description, &p.TargetAudience, &p.Tone,
		&keywords, &p.SkipResearch, &channels, &p.MinSEOScore, &p.MaxIterations, &p.Status,
		&p.LatestSEOScore, &p.Content, &p.ContentID, &p.ResearchData, &p.ErrorLog,
		&p.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.SEOKeywords = unmarshalStrings(keywords)
	p.TargetChannels = unmarshalStrings(channels)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
