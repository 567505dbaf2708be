package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

// InsightRepo stores the analyzer's products: pain points, analyses and
// recommendation sets. Analyses key on (user_id, product); recommendation
// sets key on (user_id, product, recommendation_type) so the three flavors
// coexist for one product.
type InsightRepo struct{ Pool PgxPool }

// NewInsightRepo constructs an InsightRepo with the given pool.
func NewInsightRepo(p PgxPool) *InsightRepo { return &InsightRepo{Pool: p} }

// SavePainPoint upserts one pain point by its derived id.
func (r *InsightRepo) SavePainPoint(ctx domain.Context, pp domain.PainPoint) error {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.SavePainPoint")
	defer span.End()
	if pp.ID == "" {
		pp.ID = domain.PainPointID(pp.UserID, pp.Product, pp.Topic)
	}
	keywords, err := json.Marshal(pp.RelatedKeywords)
	if err != nil {
		return fmt.Errorf("op=insight.save_pain_point: %w", err)
	}
	q := `INSERT INTO pain_points (id, user_id, product, topic, description, severity, potential_solutions, related_keywords, engagement_summary, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO UPDATE SET
		description=EXCLUDED.description, severity=EXCLUDED.severity,
		potential_solutions=EXCLUDED.potential_solutions,
		related_keywords=EXCLUDED.related_keywords,
		engagement_summary=EXCLUDED.engagement_summary,
		created_at=EXCLUDED.created_at`
	_, err = r.Pool.Exec(ctx, q, pp.ID, pp.UserID, domain.ProductKey(pp.Product), pp.Topic,
		pp.Description, pp.Severity, pp.PotentialSolutions, keywords, pp.EngagementSummary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=insight.save_pain_point: %w", err)
	}
	return nil
}

// ListPainPoints returns the user's pain points for a product.
func (r *InsightRepo) ListPainPoints(ctx domain.Context, userID, product string) ([]domain.PainPoint, error) {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.ListPainPoints")
	defer span.End()
	q := `SELECT id, user_id, product, topic, description, severity, potential_solutions, related_keywords, engagement_summary, created_at
	FROM pain_points WHERE user_id=$1 AND product=$2 ORDER BY created_at`
	rows, err := r.Pool.Query(ctx, q, userID, domain.ProductKey(product))
	if err != nil {
		return nil, fmt.Errorf("op=insight.list_pain_points: %w", err)
	}
	defer rows.Close()
	var pps []domain.PainPoint
	for rows.Next() {
		var pp domain.PainPoint
		var keywords []byte
		if err := rows.Scan(&pp.ID, &pp.UserID, &pp.Product, &pp.Topic, &pp.Description,
			&pp.Severity, &pp.PotentialSolutions, &keywords, &pp.EngagementSummary, &pp.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=insight.list_pain_points: %w", err)
		}
		if len(keywords) > 0 {
			if err := json.Unmarshal(keywords, &pp.RelatedKeywords); err != nil {
				return nil, fmt.Errorf("op=insight.list_pain_points: %w", err)
			}
		}
		pps = append(pps, pp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=insight.list_pain_points: %w", err)
	}
	return pps, nil
}

// DeletePainPoints removes all pain points for a (user, product) pair.
func (r *InsightRepo) DeletePainPoints(ctx domain.Context, userID, product string) error {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.DeletePainPoints")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `DELETE FROM pain_points WHERE user_id=$1 AND product=$2`, userID, domain.ProductKey(product))
	if err != nil {
		return fmt.Errorf("op=insight.delete_pain_points: %w", err)
	}
	return nil
}

// CountPainPoints returns the total number of stored pain points.
func (r *InsightRepo) CountPainPoints(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.CountPainPoints")
	defer span.End()
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM pain_points`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=insight.count_pain_points: %w", err)
	}
	return n, nil
}

// SaveAnalysis upserts the single analysis document per (user, product).
func (r *InsightRepo) SaveAnalysis(ctx domain.Context, a domain.Analysis) error {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.SaveAnalysis")
	defer span.End()
	findings, err := json.Marshal(a.PainPoints)
	if err != nil {
		return fmt.Errorf("op=insight.save_analysis: %w", err)
	}
	q := `INSERT INTO analyses (user_id, product, summary, pain_points, created_at)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (user_id, product) DO UPDATE SET
		summary=EXCLUDED.summary, pain_points=EXCLUDED.pain_points, created_at=EXCLUDED.created_at`
	_, err = r.Pool.Exec(ctx, q, a.UserID, domain.ProductKey(a.Product), a.Summary, findings, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=insight.save_analysis: %w", err)
	}
	return nil
}

// GetAnalysis loads the analysis for a (user, product) pair.
func (r *InsightRepo) GetAnalysis(ctx domain.Context, userID, product string) (domain.Analysis, error) {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.GetAnalysis")
	defer span.End()
	q := `SELECT user_id, product, summary, pain_points, created_at FROM analyses WHERE user_id=$1 AND product=$2`
	row := r.Pool.QueryRow(ctx, q, userID, domain.ProductKey(product))
	var a domain.Analysis
	var findings []byte
	if err := row.Scan(&a.UserID, &a.Product, &a.Summary, &findings, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Analysis{}, fmt.Errorf("op=insight.get_analysis: %w", domain.ErrNotFound)
		}
		return domain.Analysis{}, fmt.Errorf("op=insight.get_analysis: %w", err)
	}
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &a.PainPoints); err != nil {
			return domain.Analysis{}, fmt.Errorf("op=insight.get_analysis: %w", err)
		}
	}
	return a, nil
}

// DeleteAnalysis removes the analysis for a (user, product) pair.
func (r *InsightRepo) DeleteAnalysis(ctx domain.Context, userID, product string) error {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.DeleteAnalysis")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `DELETE FROM analyses WHERE user_id=$1 AND product=$2`, userID, domain.ProductKey(product))
	if err != nil {
		return fmt.Errorf("op=insight.delete_analysis: %w", err)
	}
	return nil
}

// SaveRecommendations upserts the recommendation set for its
// (user, product, type) key. Other types for the same product are untouched.
func (r *InsightRepo) SaveRecommendations(ctx domain.Context, rs domain.RecommendationSet) error {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.SaveRecommendations")
	defer span.End()
	recs, err := json.Marshal(rs.Recommendations)
	if err != nil {
		return fmt.Errorf("op=insight.save_recommendations: %w", err)
	}
	q := `INSERT INTO recommendations (user_id, product, recommendation_type, recommendations, summary, created_at)
	VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (user_id, product, recommendation_type) DO UPDATE SET
		recommendations=EXCLUDED.recommendations, summary=EXCLUDED.summary, created_at=EXCLUDED.created_at`
	_, err = r.Pool.Exec(ctx, q, rs.UserID, domain.ProductKey(rs.Product), rs.RecommendationType, recs, rs.Summary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=insight.save_recommendations: %w", err)
	}
	return nil
}

// GetRecommendations loads one recommendation set by its full key.
func (r *InsightRepo) GetRecommendations(ctx domain.Context, userID, product, recommendationType string) (domain.RecommendationSet, error) {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.GetRecommendations")
	defer span.End()
	q := `SELECT user_id, product, recommendation_type, recommendations, summary, created_at
	FROM recommendations WHERE user_id=$1 AND product=$2 AND recommendation_type=$3`
	row := r.Pool.QueryRow(ctx, q, userID, domain.ProductKey(product), recommendationType)
	var rs domain.RecommendationSet
	var recs []byte
	if err := row.Scan(&rs.UserID, &rs.Product, &rs.RecommendationType, &recs, &rs.Summary, &rs.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RecommendationSet{}, fmt.Errorf("op=insight.get_recommendations: %w", domain.ErrNotFound)
		}
		return domain.RecommendationSet{}, fmt.Errorf("op=insight.get_recommendations: %w", err)
	}
	if len(recs) > 0 {
		if err := json.Unmarshal(recs, &rs.Recommendations); err != nil {
			return domain.RecommendationSet{}, fmt.Errorf("op=insight.get_recommendations: %w", err)
		}
	}
	return rs, nil
}

// DeleteRecommendations removes every recommendation set for a
// (user, product) pair, across all types.
func (r *InsightRepo) DeleteRecommendations(ctx domain.Context, userID, product string) error {
	tracer := otel.Tracer("repo.insights")
	ctx, span := tracer.Start(ctx, "insights.DeleteRecommendations")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `DELETE FROM recommendations WHERE user_id=$1 AND product=$2`, userID, domain.ProductKey(product))
	if err != nil {
		return fmt.Errorf("op=insight.delete_recommendations: %w", err)
	}
	return nil
}
