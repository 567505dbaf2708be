package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
	"github.com/fairyhunter13/painpoint-analyzer/internal/service/workers"
)

// runScrape executes one scrape job. Individual query failures are swallowed
// (logged, then on to the next query); a scrape where nothing came back still
// completes with posts_count = 0.
func (d *Dispatcher) runScrape(ctx domain.Context, jobID, userID string, p domain.ScrapeParams, cost int, handle *workers.Handle) {
	defer handle.Finish()
	defer observability.RunnerActive(string(domain.JobTypeScrape))()
	defer d.recoverRunner(ctx, jobID, userID, domain.JobTypeScrape, cost)
	tracer := otel.Tracer("runner.scrape")
	ctx, span := tracer.Start(ctx, "scrape.run")
	defer span.End()

	start := time.Now().UTC()
	if !d.begin(ctx, jobID) {
		return
	}

	d.logStep(ctx, jobID, "subreddits",
		fmt.Sprintf("Searching %d subreddits", len(p.Subreddits)),
		map[string]any{"subreddits": p.Subreddits})

	queries := p.SearchQueries
	if len(queries) == 0 {
		queries = []string{p.Topic}
	}
	d.logStep(ctx, jobID, "search_queries",
		fmt.Sprintf("Using %d search queries", len(queries)),
		map[string]any{"queries": queries})

	perQuery := p.Limit / len(queries)
	if perQuery < 1 {
		perQuery = 1
	}

	var posts []domain.Post
	totalFound := 0
	for _, q := range queries {
		if d.cancelled(ctx, jobID) {
			return
		}
		found, err := d.Scraper.Search(ctx, q, p.Subreddits, perQuery, p.TimeFilter, d.SubredditTimeout)
		if err != nil {
			slog.Warn("scrape query failed",
				slog.String("job_id", jobID), slog.String("query", q), slog.Any("error", err))
			d.logStep(ctx, jobID, "find_posts",
				fmt.Sprintf("Query %q failed, continuing", q), nil)
			continue
		}
		posts = append(posts, found...)
		totalFound += len(found)
		d.logStep(ctx, jobID, "find_posts",
			fmt.Sprintf("Found %d posts so far", totalFound),
			map[string]any{"query": q, "cumulative": totalFound})
	}
	d.logStep(ctx, jobID, "find_posts", fmt.Sprintf("Done. %d posts found", totalFound), nil)

	if d.cancelled(ctx, jobID) {
		return
	}

	saved := 0
	for _, post := range posts {
		post.Product = p.Topic
		if err := d.Posts.Save(ctx, post); err != nil {
			d.finishFailure(ctx, jobID, userID, domain.JobTypeScrape,
				fmt.Sprintf("saving posts failed: %v", err), cost)
			return
		}
		saved++
	}
	d.logStep(ctx, jobID, "save_posts",
		fmt.Sprintf("Saved %d posts", saved), map[string]any{"saved": saved})

	results := &domain.JobResults{
		Type: domain.JobTypeScrape,
		Scrape: &domain.ScrapeResults{
			PostsCount:      saved,
			TotalPostsFound: totalFound,
			SubredditsUsed:  p.Subreddits,
			Topic:           p.Topic,
			DurationMinutes: durationMinutes(start),
		},
	}
	d.logStep(ctx, jobID, "completed",
		fmt.Sprintf("Scrape completed: %d posts for %q", saved, p.Topic), results.Scrape)
	d.finishSuccess(ctx, jobID, domain.JobTypeScrape, results, cost)
}

// recoverRunner keeps a panicking runner from taking the process down. The
// job is failed with a generic message and the admission cost refunded.
func (d *Dispatcher) recoverRunner(ctx domain.Context, jobID, userID string, jobType domain.JobType, cost int) {
	if r := recover(); r != nil {
		slog.Error("runner panic", slog.String("job_id", jobID), slog.Any("panic", r))
		d.finishFailure(ctx, jobID, userID, jobType, fmt.Sprintf("internal error: %v", r), cost)
	}
}
