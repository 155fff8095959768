package httpapi

import (
	"github.com/houghtp/terra-automation-platform-sub002/internal/store"
	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

func toAPIPlan(p *store.Plan) models.Plan {
	return models.Plan{
		PlanID:         p.PlanID,
		TenantID:       p.TenantID,
		Title:          p.Title,
		Description:    p.Description,
		TargetAudience: p.TargetAudience,
		Tone:           p.Tone,
		SEOKeywords:    p.SEOKeywords,
		SkipResearch:   p.SkipResearch,
		TargetChannels: p.TargetChannels,
		MinSEOScore:    p.MinSEOScore,
		MaxIterations:  p.MaxIterations,
		Status:         p.Status,
		LatestSEOScore: p.LatestSEOScore,
		ContentID:      p.ContentID,
		Content:        p.Content,
		ResearchData:   p.ResearchData,
		ErrorLog:       p.ErrorLog,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func toAPIIterations(recs []store.IterationRecord) []models.IterationRecord {
	out := make([]models.IterationRecord, len(recs))
	for i, r := range recs {
		out[i] = models.IterationRecord{
			Iteration:       r.Iteration,
			Score:           r.Score,
			Status:          r.Status,
			Issues:          r.Issues,
			Recommendations: r.Recommendations,
			Strengths:       r.Strengths,
			Timestamp:       r.CreatedAt,
		}
	}
	return out
}

func toAPIVariants(vs []store.Variant) []models.Variant {
	out := make([]models.Variant, len(vs))
	for i, v := range vs {
		out[i] = models.Variant{
			PlanID:    v.PlanID,
			Channel:   v.Channel,
			Body:      v.Body,
			CharCount: v.CharCount,
			MaxChars:  v.MaxChars,
			Truncated: v.Truncated,
			Format:    v.Format,
			Tone:      v.Tone,
			Error:     v.Error,
			CreatedAt: v.CreatedAt,
		}
	}
	return out
}
