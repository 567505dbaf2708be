package usecase

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
)

// runRecommendations executes one recommendations job. The stored set is
// keyed by (user, product, recommendation_type); other types for the same
// product are never touched.
func (d *Dispatcher) runRecommendations(ctx domain.Context, jobID, userID string, p domain.RecommendationsParams, cost int) {
	defer observability.RunnerActive(string(domain.JobTypeRecommendations))()
	defer d.recoverRunner(ctx, jobID, userID, domain.JobTypeRecommendations, cost)
	tracer := otel.Tracer("runner.recommendations")
	ctx, span := tracer.Start(ctx, "recommendations.run")
	defer span.End()

	if !d.begin(ctx, jobID) {
		return
	}

	painPoints, err := d.Insights.ListPainPoints(ctx, userID, p.Product)
	if err != nil {
		d.finishFailure(ctx, jobID, userID, domain.JobTypeRecommendations,
			fmt.Sprintf("loading pain points failed: %v", err), cost)
		return
	}
	d.logStep(ctx, jobID, "load_pain_points",
		fmt.Sprintf("Loaded %d pain points for %q", len(painPoints), p.Product),
		map[string]any{"count": len(painPoints)})

	if d.cancelled(ctx, jobID) {
		return
	}

	d.logStep(ctx, jobID, "generate",
		fmt.Sprintf("Generating %s recommendations", p.RecommendationType), nil)
	report, err := d.Analyzer.GenerateRecommendations(ctx, painPoints, p.Product, p.RecommendationType, p.Context)
	if err != nil {
		d.finishFailure(ctx, jobID, userID, domain.JobTypeRecommendations, err.Error(), cost)
		return
	}

	set := domain.RecommendationSet{
		UserID:             userID,
		Product:            p.Product,
		RecommendationType: p.RecommendationType,
		Recommendations:    report.Recommendations,
		Summary:            report.Summary,
	}
	if err := d.Insights.SaveRecommendations(ctx, set); err != nil {
		d.finishFailure(ctx, jobID, userID, domain.JobTypeRecommendations,
			fmt.Sprintf("saving recommendations failed: %v", err), cost)
		return
	}

	results := &domain.JobResults{
		Type: domain.JobTypeRecommendations,
		Recommendations: &domain.RecommendationsResults{
			Product:              p.Product,
			RecommendationType:   p.RecommendationType,
			RecommendationsCount: len(report.Recommendations),
		},
	}
	d.logStep(ctx, jobID, "completed",
		fmt.Sprintf("Generated %d recommendations for %q", len(report.Recommendations), p.Product),
		results.Recommendations)
	d.finishSuccess(ctx, jobID, domain.JobTypeRecommendations, results, cost)
}
