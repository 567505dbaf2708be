package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/painpoint-analyzer/internal/config"
	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/service/logbus"
	"github.com/fairyhunter13/painpoint-analyzer/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Jobs       usecase.JobService
	Dispatcher *usecase.Dispatcher
	Posts      domain.PostRepository
	Insights   domain.InsightRepository
	Bus        *logbus.Bus
}

// NewServer constructs a Server with all handlers wired.
func NewServer(cfg config.Config, jobs usecase.JobService, dispatcher *usecase.Dispatcher, posts domain.PostRepository, insights domain.InsightRepository, bus *logbus.Bus) *Server {
	return &Server{Cfg: cfg, Jobs: jobs, Dispatcher: dispatcher, Posts: posts, Insights: insights, Bus: bus}
}

// MountAPI mounts the authenticated API routes. Everything under /api except
// /api/health requires a principal.
func (s *Server) MountAPI(r chi.Router) {
	r.Get("/api/health", s.HealthHandler())
	r.Group(func(r chi.Router) {
		r.Use(Principal)
		r.Post("/api/scrape", s.ScrapeHandler())
		r.Post("/api/run-analysis", s.AnalysisHandler())
		r.Post("/api/recommendations", s.RecommendationsStartHandler())
		r.Get("/api/recommendations", s.RecommendationsGetHandler())
		r.Get("/api/claude-analysis", s.AnalysisGetHandler())
		r.Get("/api/jobs", s.JobsListHandler())
		r.Get("/api/jobs/{id}", s.JobGetHandler())
		r.Post("/api/jobs/{id}/cancel", s.JobCancelHandler())
		r.Get("/api/jobs/{id}/logs/stream", s.LogsStreamHandler())
		r.Get("/api/all-products", s.ProductsHandler())
		r.Get("/api/posts", s.PostsHandler())
		r.Get("/api/pain-points", s.PainPointsHandler())
		r.Get("/api/status", s.StatusHandler())
		r.Get("/api/analytics", s.AnalyticsHandler())
	})
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// stringList decodes either a JSON array of strings or a single (possibly
// CSV) string. The original API accepted both shapes for subreddits and
// products.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = []string{one}
	return nil
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidArgument)
	}
	return nil
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func validateBody(w http.ResponseWriter, v any) bool {
	err := getValidator().Struct(v)
	if err == nil {
		return true
	}
	var details []fieldError
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		for _, fe := range invalid {
			details = append(details, fieldError{Field: strings.ToLower(fe.Field()), Rule: fe.Tag()})
		}
	}
	writeJSON(w, http.StatusUnprocessableEntity, envelope{
		"status": "error", "code": "validation_failed", "error": "request validation failed", "details": details,
	})
	return false
}

// jobView is the wire shape of a job.
type jobView struct {
	ID          string               `json:"id"`
	Type        domain.JobType       `json:"type"`
	Status      domain.JobStatus     `json:"status"`
	Parameters  domain.JobParameters `json:"parameters"`
	Results     *domain.JobResults   `json:"results,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreditsUsed *int                 `json:"credits_used,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Logs        []domain.LogEntry    `json:"logs"`
}

func viewJob(j domain.Job) jobView {
	logs := j.Logs
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	return jobView{
		ID: j.ID, Type: j.Type, Status: j.Status, Parameters: j.Parameters,
		Results: j.Results, Error: j.Error, CreditsUsed: j.CreditsUsed,
		CreatedAt: j.CreatedAt, StartedAt: j.StartedAt, CompletedAt: j.CompletedAt,
		Logs: logs,
	}
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, envelope{"healthy": true})
	}
}

type scrapeRequest struct {
	Topic      string     `json:"topic"`
	Product    string     `json:"product_name"`
	Limit      int        `json:"limit" validate:"gte=0,lte=1000"`
	TimeFilter string     `json:"time_filter"`
	IsCustom   bool       `json:"is_custom"`
	Subreddits stringList `json:"subreddits"`
}

// ScrapeHandler admits a scrape job. Responds 202 as soon as the job record
// exists; progress flows through the job's logs.
func (s *Server) ScrapeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scrapeRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err, nil)
			return
		}
		if !validateBody(w, req) {
			return
		}
		topic := req.Topic
		if topic == "" {
			topic = req.Product
		}
		started, err := s.Dispatcher.StartScrape(r.Context(), UserID(r), usecase.ScrapeInput{
			Topic:      topic,
			Limit:      req.Limit,
			TimeFilter: req.TimeFilter,
			IsCustom:   req.IsCustom,
			Subreddits: req.Subreddits,
		})
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusAccepted, envelope{
			"job_id": started.JobID, "topic": started.Topic, "subreddits": started.Subreddits,
		})
	}
}

type analysisRequest struct {
	Product             string `json:"product" validate:"required"`
	MaxPosts            int    `json:"max_posts" validate:"gte=0"`
	SkipRecommendations bool   `json:"skip_recommendations"`
	Regenerate          bool   `json:"regenerate"`
}

// AnalysisHandler admits an analysis job over previously scraped posts.
func (s *Server) AnalysisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analysisRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err, nil)
			return
		}
		if !validateBody(w, req) {
			return
		}
		started, err := s.Dispatcher.StartAnalysis(r.Context(), UserID(r), usecase.AnalysisInput{
			Product:             req.Product,
			MaxPosts:            req.MaxPosts,
			SkipRecommendations: req.SkipRecommendations,
			Regenerate:          req.Regenerate,
		})
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusAccepted, envelope{
			"job_id": started.JobID, "product": started.Product,
		})
	}
}

type recommendationsRequest struct {
	Products           stringList `json:"products" validate:"required,min=1"`
	RecommendationType string     `json:"recommendation_type" validate:"required"`
	Context            string     `json:"context"`
	Regenerate         bool       `json:"regenerate"`
}

// RecommendationsStartHandler admits a recommendations job.
func (s *Server) RecommendationsStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recommendationsRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err, nil)
			return
		}
		if !validateBody(w, req) {
			return
		}
		started, err := s.Dispatcher.StartRecommendations(r.Context(), UserID(r), usecase.RecommendationsInput{
			Products:           req.Products,
			RecommendationType: req.RecommendationType,
			Context:            req.Context,
			Regenerate:         req.Regenerate,
		})
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusAccepted, envelope{
			"job_id":              started.JobID,
			"product":             started.Product,
			"recommendation_type": started.RecommendationType,
		})
	}
}

// RecommendationsGetHandler returns the stored recommendation set for
// (user, product, type).
func (s *Server) RecommendationsGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product := r.URL.Query().Get("product")
		if product == "" {
			writeError(w, fmt.Errorf("%w: product is required", domain.ErrInvalidArgument), nil)
			return
		}
		recType := r.URL.Query().Get("type")
		if recType == "" {
			recType = domain.RecImproveProduct
		}
		if !domain.ValidRecommendationType(recType) {
			writeError(w, fmt.Errorf("%w: unknown recommendation type %q", domain.ErrInvalidArgument, recType), nil)
			return
		}
		set, err := s.Insights.GetRecommendations(r.Context(), UserID(r), domain.ProductKey(product), recType)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// No document yet is not an error: nothing has been generated
			// for this (product, type) pair.
			writeSuccess(w, http.StatusOK, envelope{
				"product":             domain.ProductKey(product),
				"recommendation_type": recType,
				"recommendations":     []domain.Recommendation{},
			})
			return
		case err != nil:
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusOK, envelope{
			"product":             set.Product,
			"recommendation_type": set.RecommendationType,
			"recommendations":     set.Recommendations,
			"summary":             set.Summary,
			"created_at":          set.CreatedAt,
		})
	}
}

// AnalysisGetHandler returns the stored analysis for (user, product).
func (s *Server) AnalysisGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product := r.URL.Query().Get("product")
		if product == "" {
			writeError(w, fmt.Errorf("%w: product is required", domain.ErrInvalidArgument), nil)
			return
		}
		a, err := s.Insights.GetAnalysis(r.Context(), UserID(r), domain.ProductKey(product))
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusOK, envelope{
			"product":            a.Product,
			"analysis_summary":   a.Summary,
			"common_pain_points": a.PainPoints,
			"created_at":         a.CreatedAt,
		})
	}
}

// JobsListHandler lists the caller's jobs, newest first, optionally filtered
// by ?status=.
func (s *Server) JobsListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := s.Jobs.List(r.Context(), UserID(r), r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, err, nil)
			return
		}
		views := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, viewJob(j))
		}
		writeSuccess(w, http.StatusOK, envelope{"jobs": views})
	}
}

// JobGetHandler returns one of the caller's jobs.
func (s *Server) JobGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := s.Jobs.Get(r.Context(), UserID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusOK, envelope{"job": viewJob(j)})
	}
}

// JobCancelHandler cancels a non-terminal job and refunds the fixed
// cancellation credit.
func (s *Server) JobCancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		credits, err := s.Jobs.Cancel(r.Context(), UserID(r), jobID)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusOK, envelope{
			"job_id": jobID, "credits": credits, "message": "Job cancelled",
		})
	}
}

// LogsStreamHandler streams a job's log entries as Server-Sent Events.
// Existing entries are not replayed; clients fetch the job once and then
// subscribe for entries published after that.
func (s *Server) LogsStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		// Ownership check before the subscription exists.
		if _, err := s.Jobs.Get(r.Context(), UserID(r), jobID); err != nil {
			writeError(w, err, nil)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, fmt.Errorf("%w: streaming unsupported", domain.ErrInvalidArgument), nil)
			return
		}

		sub := s.Bus.Subscribe(jobID)
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				_, _ = fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case entry, open := <-sub.C:
				if !open {
					return
				}
				raw, err := json.Marshal(entry)
				if err != nil {
					continue
				}
				_, _ = fmt.Fprintf(w, "data: %s\n\n", raw)
				flusher.Flush()
			}
		}
	}
}

// ProductsHandler lists the caller's distinct products in first-seen order.
func (s *Server) ProductsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products, err := s.Jobs.Products(r.Context(), UserID(r))
		if err != nil {
			writeError(w, err, nil)
			return
		}
		if products == nil {
			products = []string{}
		}
		writeSuccess(w, http.StatusOK, envelope{"products": products})
	}
}

// PostsHandler lists scraped posts for ?product=, highest score first.
func (s *Server) PostsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product := r.URL.Query().Get("product")
		if product == "" {
			writeError(w, fmt.Errorf("%w: product is required", domain.ErrInvalidArgument), nil)
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}
		posts, err := s.Posts.ListByProduct(r.Context(), domain.ProductKey(product), limit)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		if posts == nil {
			posts = []domain.Post{}
		}
		writeSuccess(w, http.StatusOK, envelope{"posts": posts, "count": len(posts)})
	}
}

// PainPointsHandler lists the caller's pain points for ?product=.
func (s *Server) PainPointsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product := r.URL.Query().Get("product")
		if product == "" {
			writeError(w, fmt.Errorf("%w: product is required", domain.ErrInvalidArgument), nil)
			return
		}
		painPoints, err := s.Insights.ListPainPoints(r.Context(), UserID(r), domain.ProductKey(product))
		if err != nil {
			writeError(w, err, nil)
			return
		}
		if painPoints == nil {
			painPoints = []domain.PainPoint{}
		}
		writeSuccess(w, http.StatusOK, envelope{"pain_points": painPoints, "count": len(painPoints)})
	}
}

// StatusHandler reports scrape liveness for the caller.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := s.Jobs.Status(r.Context(), UserID(r))
		writeSuccess(w, http.StatusOK, envelope{
			"scrape_in_progress": st.ScrapeInProgress,
			"active_scrape_jobs": st.ActiveScrapeJobs,
		})
	}
}

// AnalyticsHandler aggregates job, post and pain-point counters.
func (s *Server) AnalyticsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := s.Jobs.GetAnalytics(r.Context(), UserID(r))
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusOK, envelope{"analytics": a})
	}
}
