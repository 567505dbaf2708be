package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
	"github.com/fairyhunter13/painpoint-analyzer/internal/service/workers"
)

const (
	defaultScrapeLimit = 100
	defaultTimeFilter  = "week"
	defaultMaxPosts    = 500
	maxContextLen      = 500
	suggestCallTimeout = 60 * time.Second
)

// SuggestionCache memoizes analyzer subreddit suggestions per topic so repeat
// scrapes skip the LLM call. Both operations are best-effort.
type SuggestionCache interface {
	Get(ctx domain.Context, topic string) (domain.SubredditSuggestion, bool)
	Set(ctx domain.Context, topic string, s domain.SubredditSuggestion)
}

// Dispatcher is the admission path: validate, check preconditions, price,
// debit, create the job record and launch the runner goroutine. The response
// returns as soon as the job record exists.
type Dispatcher struct {
	Jobs        domain.JobRepository
	Posts       domain.PostRepository
	Insights    domain.InsightRepository
	Analyzer    domain.Analyzer
	Scraper     domain.Scraper
	Ledger      CreditLedger
	Workers     *workers.Registry
	Suggestions SuggestionCache

	DefaultSubreddits  []string
	SubredditTimeout   time.Duration
	JobTimeout         time.Duration
	ScrapeCostOverride int

	// ScraperReady gates scrape admission. When Reddit credentials are not
	// configured the request fails synchronously, before any debit.
	ScraperReady bool
}

// ScrapeInput is the admission request for a scrape job.
type ScrapeInput struct {
	Topic      string
	Limit      int
	TimeFilter string
	IsCustom   bool
	Subreddits []string
}

// ScrapeStarted is the immediate response to a scrape admission.
type ScrapeStarted struct {
	JobID      string   `json:"job_id"`
	Topic      string   `json:"topic"`
	Subreddits []string `json:"subreddits"`
}

// StartScrape admits a scrape job. Subreddits and search queries are resolved
// here, before the job record is created, so the stored parameters say
// exactly what the runner will search.
func (d *Dispatcher) StartScrape(ctx domain.Context, userID string, in ScrapeInput) (ScrapeStarted, error) {
	if !d.ScraperReady {
		return ScrapeStarted{}, fmt.Errorf("op=dispatch.scrape: Reddit API credentials not configured: %w", domain.ErrPreconditionFailed)
	}
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return ScrapeStarted{}, fmt.Errorf("op=dispatch.scrape: topic required: %w", domain.ErrInvalidArgument)
	}
	limit := in.Limit
	if limit == 0 {
		limit = defaultScrapeLimit
	}
	if limit < 1 || limit > 1000 {
		return ScrapeStarted{}, fmt.Errorf("op=dispatch.scrape: limit %d out of range 1..1000: %w", limit, domain.ErrInvalidArgument)
	}
	timeFilter := in.TimeFilter
	if timeFilter == "" {
		timeFilter = defaultTimeFilter
	}
	if !domain.ValidTimeFilter(timeFilter) {
		return ScrapeStarted{}, fmt.Errorf("op=dispatch.scrape: unknown time_filter %q: %w", timeFilter, domain.ErrInvalidArgument)
	}

	subreddits := normalizeSubreddits(in.Subreddits)
	var queries []string
	if len(subreddits) == 0 {
		subreddits, queries = d.resolveSubreddits(ctx, topic, in.IsCustom)
	}

	cost := d.ScrapeCostOverride
	if cost <= 0 {
		cost = ScrapeCost(limit, timeFilter)
	}
	if _, err := d.Ledger.Debit(ctx, userID, cost); err != nil {
		return ScrapeStarted{}, err
	}

	params := domain.JobParameters{
		Type: domain.JobTypeScrape,
		Scrape: &domain.ScrapeParams{
			Topic:         topic,
			Limit:         limit,
			TimeFilter:    timeFilter,
			IsCustom:      in.IsCustom,
			Subreddits:    subreddits,
			SearchQueries: queries,
		},
	}
	jobID, err := d.Jobs.Create(ctx, userID, params)
	if err != nil {
		d.compensate(ctx, userID, cost)
		return ScrapeStarted{}, err
	}

	handle := d.Workers.Add(userID, jobID)
	observability.StartJob(string(domain.JobTypeScrape))
	runCtx, cancel := d.runnerContext()
	go func() {
		defer cancel()
		d.runScrape(runCtx, jobID, userID, *params.Scrape, cost, handle)
	}()

	return ScrapeStarted{JobID: jobID, Topic: topic, Subreddits: subreddits}, nil
}

// AnalysisInput is the admission request for an analysis job.
type AnalysisInput struct {
	Product             string
	MaxPosts            int
	SkipRecommendations bool
	Regenerate          bool
}

// AnalysisStarted is the immediate response to an analysis admission.
type AnalysisStarted struct {
	JobID   string `json:"job_id"`
	Product string `json:"product"`
}

// StartAnalysis admits an analysis job. Requires at least one stored post for
// the product. On regenerate the prior artifacts for (user, product) are
// removed here, before the job exists, so a failed run cannot leave a
// half-superseded state behind.
func (d *Dispatcher) StartAnalysis(ctx domain.Context, userID string, in AnalysisInput) (AnalysisStarted, error) {
	product := strings.TrimSpace(in.Product)
	if product == "" {
		return AnalysisStarted{}, fmt.Errorf("op=dispatch.analysis: product required: %w", domain.ErrInvalidArgument)
	}
	maxPosts := in.MaxPosts
	if maxPosts == 0 {
		maxPosts = defaultMaxPosts
	}
	if maxPosts < 1 || maxPosts > 1000 {
		return AnalysisStarted{}, fmt.Errorf("op=dispatch.analysis: max_posts %d out of range 1..1000: %w", maxPosts, domain.ErrInvalidArgument)
	}

	n, err := d.Posts.CountByProduct(ctx, product)
	if err != nil {
		return AnalysisStarted{}, err
	}
	if n == 0 {
		return AnalysisStarted{}, fmt.Errorf("op=dispatch.analysis: no posts found for %q: %w", product, domain.ErrPreconditionFailed)
	}

	cost := AnalysisCost(in.Regenerate)
	if _, err := d.Ledger.Debit(ctx, userID, cost); err != nil {
		return AnalysisStarted{}, err
	}

	if in.Regenerate {
		if err := d.clearArtifacts(ctx, userID, product); err != nil {
			d.compensate(ctx, userID, cost)
			return AnalysisStarted{}, err
		}
	}

	params := domain.JobParameters{
		Type: domain.JobTypeAnalysis,
		Analysis: &domain.AnalysisParams{
			Product:             product,
			MaxPosts:            maxPosts,
			SkipRecommendations: in.SkipRecommendations,
			Regenerate:          in.Regenerate,
		},
	}
	jobID, err := d.Jobs.Create(ctx, userID, params)
	if err != nil {
		d.compensate(ctx, userID, cost)
		return AnalysisStarted{}, err
	}

	observability.StartJob(string(domain.JobTypeAnalysis))
	runCtx, cancel := d.runnerContext()
	go func() {
		defer cancel()
		d.runAnalysis(runCtx, jobID, userID, *params.Analysis, cost)
	}()

	return AnalysisStarted{JobID: jobID, Product: product}, nil
}

// RecommendationsInput is the admission request for a recommendations job.
type RecommendationsInput struct {
	Products           []string
	RecommendationType string
	Context            string
	Regenerate         bool
}

// RecommendationsStarted is the immediate response to a recommendations
// admission.
type RecommendationsStarted struct {
	JobID              string `json:"job_id"`
	Product            string `json:"product"`
	RecommendationType string `json:"recommendation_type"`
}

// StartRecommendations admits a recommendations job for the first product in
// the list. Requires existing pain points for (user, product).
func (d *Dispatcher) StartRecommendations(ctx domain.Context, userID string, in RecommendationsInput) (RecommendationsStarted, error) {
	if len(in.Products) == 0 || strings.TrimSpace(in.Products[0]) == "" {
		return RecommendationsStarted{}, fmt.Errorf("op=dispatch.recommendations: products required: %w", domain.ErrInvalidArgument)
	}
	product := strings.TrimSpace(in.Products[0])
	if !domain.ValidRecommendationType(in.RecommendationType) {
		return RecommendationsStarted{}, fmt.Errorf("op=dispatch.recommendations: unknown recommendation_type %q: %w", in.RecommendationType, domain.ErrInvalidArgument)
	}
	if len(in.Context) > maxContextLen {
		return RecommendationsStarted{}, fmt.Errorf("op=dispatch.recommendations: context exceeds %d chars: %w", maxContextLen, domain.ErrInvalidArgument)
	}

	pps, err := d.Insights.ListPainPoints(ctx, userID, product)
	if err != nil {
		return RecommendationsStarted{}, err
	}
	if len(pps) == 0 {
		return RecommendationsStarted{}, fmt.Errorf("op=dispatch.recommendations: no pain points for %q: %w", product, domain.ErrPreconditionFailed)
	}

	cost := RecommendationsCost(in.Regenerate)
	if _, err := d.Ledger.Debit(ctx, userID, cost); err != nil {
		return RecommendationsStarted{}, err
	}

	params := domain.JobParameters{
		Type: domain.JobTypeRecommendations,
		Recommendations: &domain.RecommendationsParams{
			Product:            product,
			RecommendationType: in.RecommendationType,
			Regenerate:         in.Regenerate,
			Context:            in.Context,
		},
	}
	jobID, err := d.Jobs.Create(ctx, userID, params)
	if err != nil {
		d.compensate(ctx, userID, cost)
		return RecommendationsStarted{}, err
	}

	observability.StartJob(string(domain.JobTypeRecommendations))
	runCtx, cancel := d.runnerContext()
	go func() {
		defer cancel()
		d.runRecommendations(runCtx, jobID, userID, *params.Recommendations, cost)
	}()

	return RecommendationsStarted{JobID: jobID, Product: product, RecommendationType: in.RecommendationType}, nil
}

// runnerContext detaches runner execution from the request context and bounds
// it by the configured job timeout.
func (d *Dispatcher) runnerContext() (domain.Context, context.CancelFunc) {
	if d.JobTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d.JobTimeout)
}

func (d *Dispatcher) compensate(ctx domain.Context, userID string, cost int) {
	if cost <= 0 {
		return
	}
	if _, err := d.Ledger.Refund(ctx, userID, cost); err != nil {
		slog.Error("compensating credit failed",
			slog.String("user_id", userID), slog.Int("amount", cost), slog.Any("error", err))
	}
}

func (d *Dispatcher) clearArtifacts(ctx domain.Context, userID, product string) error {
	if err := d.Insights.DeleteAnalysis(ctx, userID, product); err != nil {
		return err
	}
	if err := d.Insights.DeletePainPoints(ctx, userID, product); err != nil {
		return err
	}
	return d.Insights.DeleteRecommendations(ctx, userID, product)
}

// resolveSubreddits asks the analyzer (through the cache) which subreddits
// and queries fit the topic; any failure falls back to the default set.
func (d *Dispatcher) resolveSubreddits(ctx domain.Context, topic string, isCustom bool) (subreddits, queries []string) {
	key := domain.ProductKey(topic)
	if d.Suggestions != nil {
		if s, ok := d.Suggestions.Get(ctx, key); ok && len(s.Subreddits) > 0 {
			return s.Subreddits, s.SearchQueries
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, suggestCallTimeout)
	defer cancel()
	s, err := d.Analyzer.SuggestSubreddits(callCtx, topic, isCustom)
	if err != nil || len(s.Subreddits) == 0 {
		if err != nil {
			slog.Warn("subreddit suggestion failed, using defaults",
				slog.String("topic", topic), slog.Any("error", err))
		}
		return append([]string(nil), d.DefaultSubreddits...), nil
	}
	if d.Suggestions != nil {
		d.Suggestions.Set(ctx, key, s)
	}
	return s.Subreddits, s.SearchQueries
}

func normalizeSubreddits(in []string) []string {
	var out []string
	for _, s := range in {
		// Callers may pass a single CSV string instead of a list.
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "r/"))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
