package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
	"github.com/fairyhunter13/painpoint-analyzer/internal/service/workers"
)

// JobService exposes the read and terminate operations over jobs: fetch,
// list, cancel, plus the derived product/status/analytics views.
type JobService struct {
	Jobs     domain.JobRepository
	Posts    domain.PostRepository
	Insights domain.InsightRepository
	Ledger   CreditLedger
	Workers  *workers.Registry
}

// NewJobService constructs a JobService with its dependencies.
func NewJobService(jobs domain.JobRepository, posts domain.PostRepository, insights domain.InsightRepository, ledger CreditLedger, reg *workers.Registry) JobService {
	return JobService{Jobs: jobs, Posts: posts, Insights: insights, Ledger: ledger, Workers: reg}
}

// Get loads a job the caller owns. A job owned by someone else is forbidden,
// not hidden, so the caller can distinguish a typo from a permission problem.
func (s JobService) Get(ctx domain.Context, userID, jobID string) (domain.Job, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.UserID != userID {
		return domain.Job{}, fmt.Errorf("op=job.get: job %s: %w", jobID, domain.ErrForbidden)
	}
	return j, nil
}

// List returns the caller's jobs newest-first, optionally filtered by status.
func (s JobService) List(ctx domain.Context, userID, status string) ([]domain.Job, error) {
	if status != "" && !domain.ValidJobStatus(status) {
		return nil, fmt.Errorf("op=job.list: unknown status %q: %w", status, domain.ErrInvalidArgument)
	}
	return s.Jobs.ListByUser(ctx, userID, domain.JobStatus(status))
}

// Cancel moves a pending or in_progress job to cancelled and refunds the
// fixed cancellation credit. The running pipeline is not preempted: it
// observes the terminal state on its next step, or its final write is
// rejected by the state machine.
func (s JobService) Cancel(ctx domain.Context, userID, jobID string) (newCredits int, err error) {
	j, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return 0, err
	}
	if j.Status.Terminal() {
		return 0, fmt.Errorf("op=job.cancel: job %s is %s: %w", jobID, j.Status, domain.ErrNotCancellable)
	}
	msg := "Job cancelled by user"
	err = s.Jobs.Transition(ctx, jobID,
		[]domain.JobStatus{domain.JobPending, domain.JobInProgress},
		domain.JobCancelled, domain.JobPatch{Error: &msg})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race against the runner's terminal write.
			return 0, fmt.Errorf("op=job.cancel: job %s: %w", jobID, domain.ErrNotCancellable)
		}
		return 0, err
	}
	observability.JobsCancelledTotal.WithLabelValues(string(j.Type)).Inc()
	newCredits, err = s.Ledger.Refund(ctx, userID, CancelRefund)
	if err != nil {
		return 0, fmt.Errorf("op=job.cancel: refund after cancel of %s: %w", jobID, err)
	}
	return newCredits, nil
}

// Products returns the distinct products across the caller's past jobs.
func (s JobService) Products(ctx domain.Context, userID string) ([]string, error) {
	return s.Jobs.ListProducts(ctx, userID)
}

// UserStatus is the live view for the status endpoint.
type UserStatus struct {
	ScrapeInProgress bool     `json:"scrape_in_progress"`
	ActiveScrapeJobs []string `json:"active_scrape_jobs"`
}

// Status derives scrape liveness from the worker registry. There is no
// mutable in-progress flag to get stale.
func (s JobService) Status(_ domain.Context, userID string) UserStatus {
	live := s.Workers.Live(userID)
	if live == nil {
		live = []string{}
	}
	return UserStatus{ScrapeInProgress: len(live) > 0, ActiveScrapeJobs: live}
}

// Analytics is the aggregate view for the analytics endpoint.
type Analytics struct {
	JobCounts   map[domain.JobStatus]int `json:"job_counts"`
	ActiveJobs  int                      `json:"active_jobs"`
	TotalPosts  int                      `json:"total_posts"`
	PainPoints  int                      `json:"pain_points"`
	Products    []string                 `json:"products"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// GetAnalytics aggregates job, post and pain-point counters for the caller.
func (s JobService) GetAnalytics(ctx domain.Context, userID string) (Analytics, error) {
	counts, err := s.Jobs.CountByStatus(ctx, userID)
	if err != nil {
		return Analytics{}, err
	}
	posts, err := s.Posts.Count(ctx)
	if err != nil {
		return Analytics{}, err
	}
	painPoints, err := s.Insights.CountPainPoints(ctx)
	if err != nil {
		return Analytics{}, err
	}
	products, err := s.Jobs.ListProducts(ctx, userID)
	if err != nil {
		return Analytics{}, err
	}
	if products == nil {
		products = []string{}
	}
	return Analytics{
		JobCounts:   counts,
		ActiveJobs:  counts[domain.JobPending] + counts[domain.JobInProgress],
		TotalPosts:  posts,
		PainPoints:  painPoints,
		Products:    products,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
