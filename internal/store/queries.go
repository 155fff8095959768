package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

func (s *sqliteStore) CreatePlan(ctx context.Context, p NewPlan) (*Plan, error) {
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
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO plans(plan_id, tenant_id, title, description, target_audience, tone, seo_keywords, skip_research, target_channels, min_seo_score, max_iterations, status, version, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		id, p.TenantID, p.Title, p.Description, p.TargetAudience, p.Tone,
		marshalStrings(p.SEOKeywords), boolToInt(p.SkipResearch), marshalStrings(p.TargetChannels),
		p.MinSEOScore, p.MaxIterations, models.StatusPlanned, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetPlan(ctx, id)
}

func (s *sqliteStore) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	row := s.stmtGetPlan.QueryRowContext(ctx, planID)
	p, err := scanPlanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *sqliteStore) ListPlans(ctx context.Context, tenantID string, limit int) ([]Plan, error) {
	if limit <= 0 {
		limit = models.DefaultPlanListLimit
	}
	q := `SELECT ` + planColumns + ` FROM plans`
	args := []any{}
	if tenantID != "" {
		q += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Plan
	for rows.Next() {
		p, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SavePlan(ctx context.Context, p *Plan) error {
	if p == nil || p.PlanID == "" {
		return errors.New("plan with ID required")
	}
	now := time.Now().UTC().Unix()
	// latest_seo_score is monotonic: MAX() keeps the stored score from regressing
	// even if the caller hands us a stale snapshot.
	res, err := s.DB.ExecContext(ctx, `
UPDATE plans SET
  title=?, description=?, target_audience=?, tone=?, seo_keywords=?, skip_research=?, target_channels=?,
  min_seo_score=?, max_iterations=?, status=?,
  latest_seo_score=CASE WHEN ? IS NULL THEN latest_seo_score ELSE MAX(COALESCE(latest_seo_score, 0), ?) END,
  content=?, content_id=?, research_data=?, error_log=?, version=version+1, updated_at=?
WHERE plan_id=? AND version=?`,
		p.Title, p.Description, p.TargetAudience, p.Tone, marshalStrings(p.SEOKeywords), boolToInt(p.SkipResearch), marshalStrings(p.TargetChannels),
		p.MinSEOScore, p.MaxIterations, p.Status,
		p.LatestSEOScore, p.LatestSEOScore,
		p.Content, p.ContentID, p.ResearchData, p.ErrorLog, now,
		p.PlanID, p.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetPlan(ctx, p.PlanID); errors.Is(err, ErrPlanNotFound) {
			return ErrPlanNotFound
		}
		return ErrVersionConflict
	}
	p.Version++
	p.UpdatedAt = time.Unix(now, 0).UTC()
	return nil
}

func (s *sqliteStore) UpdatePlanStatus(ctx context.Context, planID, status string, errorLog *string) error {
	res, err := s.stmtUpdateStatus.ExecContext(ctx, status, errorLog, time.Now().UTC().Unix(), planID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func (s *sqliteStore) ResetPlan(ctx context.Context, planID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_iterations WHERE plan_id = ?`, planID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_variants WHERE plan_id = ?`, planID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE plans SET
  status=?, latest_seo_score=NULL, content=NULL, content_id=NULL, error_log=NULL,
  version=version+1, updated_at=?
WHERE plan_id=?`,
		models.StatusPlanned, time.Now().UTC().Unix(), planID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendIteration(ctx context.Context, planID string, rec IterationRecord) error {
	if rec.Iteration < 1 {
		return errors.New("iteration must be 1-based")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.StmtContext(ctx, s.stmtAppendIteration).ExecContext(ctx,
		planID, rec.Iteration, rec.Score, rec.Status,
		marshalStrings(rec.Issues), marshalStrings(rec.Recommendations), marshalStrings(rec.Strengths),
		createdAt.Unix()); err != nil {
		return err
	}
	// Best score so far; never lowered by a worse later iteration.
	if _, err := tx.ExecContext(ctx,
		`UPDATE plans SET latest_seo_score=MAX(COALESCE(latest_seo_score, 0), ?), updated_at=? WHERE plan_id=?`,
		rec.Score, time.Now().UTC().Unix(), planID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListIterations(ctx context.Context, planID string) ([]IterationRecord, error) {
	rows, err := s.stmtListIterations.QueryContext(ctx, planID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []IterationRecord
	for rows.Next() {
		var (
			rec       IterationRecord
			issues    string
			recs      string
			strengths string
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

func (s *sqliteStore) SaveVariant(ctx context.Context, v Variant) error {
	if v.PlanID == "" || v.Channel == "" {
		return errors.New("variant plan_id and channel required")
	}
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO plan_variants(plan_id, channel, body, char_count, max_chars, truncated, format, tone, error, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(plan_id, channel) DO UPDATE SET
  body=excluded.body, char_count=excluded.char_count, max_chars=excluded.max_chars,
  truncated=excluded.truncated, format=excluded.format, tone=excluded.tone,
  error=excluded.error, created_at=excluded.created_at`,
		v.PlanID, v.Channel, v.Body, v.CharCount, v.MaxChars, boolToInt(v.Truncated), v.Format, v.Tone, v.Error, createdAt.Unix())
	return err
}

func (s *sqliteStore) ListVariants(ctx context.Context, planID string) ([]Variant, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT plan_id, channel, body, char_count, max_chars, truncated, format, tone, error, created_at FROM plan_variants WHERE plan_id = ? ORDER BY channel ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Variant
	for rows.Next() {
		var (
			v         Variant
			truncated int
			createdAt int64
		)
		if err := rows.Scan(&v.PlanID, &v.Channel, &v.Body, &v.CharCount, &v.MaxChars, &truncated, &v.Format, &v.Tone, &v.Error, &createdAt); err != nil {
			return nil, err
		}
		v.Truncated = truncated != 0
		v.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlanRow(row rowScanner) (*Plan, error) {
	var (
		p            Plan
		keywords     string
		channels     string
		skipResearch int
		createdAt    int64
		updatedAt    int64
	)
	if err := row.Scan(&p.PlanID, &p.TenantID, &p.Title, &p.Description, &p.TargetAudience, &p.Tone,
		&keywords, &skipResearch, &channels, &p.MinSEOScore, &p.MaxIterations, &p.Status,
		&p.LatestSEOScore, &p.Content, &p.ContentID, &p.ResearchData, &p.ErrorLog,
		&p.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.SEOKeywords = unmarshalStrings(keywords)
	p.TargetChannels = unmarshalStrings(channels)
	p.SkipResearch = skipResearch != 0
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

func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
