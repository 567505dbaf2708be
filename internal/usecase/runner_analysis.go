package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
)

// runAnalysis executes one analysis job: load the post corpus, synthesize
// pain points, persist the analysis document and its pain points, then
// best-effort generate improve_product recommendations unless skipped.
func (d *Dispatcher) runAnalysis(ctx domain.Context, jobID, userID string, p domain.AnalysisParams, cost int) {
	defer observability.RunnerActive(string(domain.JobTypeAnalysis))()
	defer d.recoverRunner(ctx, jobID, userID, domain.JobTypeAnalysis, cost)
	tracer := otel.Tracer("runner.analysis")
	ctx, span := tracer.Start(ctx, "analysis.run")
	defer span.End()

	start := time.Now().UTC()
	if !d.begin(ctx, jobID) {
		return
	}

	posts, err := d.Posts.ListByProduct(ctx, p.Product, p.MaxPosts)
	if err != nil {
		d.finishFailure(ctx, jobID, userID, domain.JobTypeAnalysis,
			fmt.Sprintf("loading posts failed: %v", err), cost)
		return
	}
	d.logStep(ctx, jobID, "load_posts",
		fmt.Sprintf("Loaded %d posts for %q", len(posts), p.Product),
		map[string]any{"count": len(posts)})

	if d.cancelled(ctx, jobID) {
		return
	}

	d.logStep(ctx, jobID, "analyze_pain_points",
		fmt.Sprintf("Analyzing %d posts", len(posts)), nil)
	report, err := d.Analyzer.AnalyzePainPoints(ctx, posts, p.Product)
	if err != nil {
		d.finishFailure(ctx, jobID, userID, domain.JobTypeAnalysis, err.Error(), cost)
		return
	}

	if d.cancelled(ctx, jobID) {
		return
	}

	analysis := domain.Analysis{
		UserID:     userID,
		Product:    p.Product,
		Summary:    report.Summary,
		PainPoints: report.PainPoints,
	}
	if err := d.Insights.SaveAnalysis(ctx, analysis); err != nil {
		d.finishFailure(ctx, jobID, userID, domain.JobTypeAnalysis,
			fmt.Sprintf("saving analysis failed: %v", err), cost)
		return
	}
	painPoints := make([]domain.PainPoint, 0, len(report.PainPoints))
	for _, f := range report.PainPoints {
		pp := domain.PainPoint{
			ID:                 domain.PainPointID(userID, p.Product, f.Name),
			UserID:             userID,
			Product:            p.Product,
			Topic:              f.Name,
			Description:        f.Description,
			Severity:           f.Severity,
			PotentialSolutions: f.PotentialSolutions,
			RelatedKeywords:    f.RelatedKeywords,
			EngagementSummary:  f.EngagementSummary,
		}
		if err := d.Insights.SavePainPoint(ctx, pp); err != nil {
			d.finishFailure(ctx, jobID, userID, domain.JobTypeAnalysis,
				fmt.Sprintf("saving pain points failed: %v", err), cost)
			return
		}
		painPoints = append(painPoints, pp)
	}
	d.logStep(ctx, jobID, "save_analysis",
		fmt.Sprintf("Saved analysis with %d pain points", len(painPoints)),
		map[string]any{"pain_points": len(painPoints)})

	recCount := 0
	if !p.SkipRecommendations {
		// Best-effort: a recommendation failure is logged, the analysis job
		// still completes.
		d.logStep(ctx, jobID, "recommendations", "Generating initial recommendations", nil)
		rep, recErr := d.Analyzer.GenerateRecommendations(ctx, painPoints, p.Product, domain.RecImproveProduct, "")
		if recErr != nil {
			slog.Warn("initial recommendations failed",
				slog.String("job_id", jobID), slog.Any("error", recErr))
			d.logStep(ctx, jobID, "recommendations",
				fmt.Sprintf("Recommendations failed: %v", recErr), nil)
		} else {
			set := domain.RecommendationSet{
				UserID:             userID,
				Product:            p.Product,
				RecommendationType: domain.RecImproveProduct,
				Recommendations:    rep.Recommendations,
				Summary:            rep.Summary,
			}
			if saveErr := d.Insights.SaveRecommendations(ctx, set); saveErr != nil {
				slog.Warn("saving initial recommendations failed",
					slog.String("job_id", jobID), slog.Any("error", saveErr))
			} else {
				recCount = len(rep.Recommendations)
			}
		}
	}

	results := &domain.JobResults{
		Type: domain.JobTypeAnalysis,
		Analysis: &domain.AnalysisResults{
			PainPointsCount:      len(painPoints),
			RecommendationsCount: recCount,
			Product:              p.Product,
			DurationMinutes:      durationMinutes(start),
		},
	}
	d.logStep(ctx, jobID, "completed",
		fmt.Sprintf("Analysis completed: %d pain points for %q", len(painPoints), p.Product),
		results.Analysis)
	d.finishSuccess(ctx, jobID, domain.JobTypeAnalysis, results, cost)
}
