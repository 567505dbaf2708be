package domain

import "time"

// Repositories (ports). Every operation is single-document-atomic; the core
// never requires multi-document transactions.

// UserRepository provides the two credit primitives. DebitCredits is the sole
// allowed debit path and is a compare-and-update on (id, credits >= cost):
// concurrent debits are linearizable on the credits column.
type UserRepository interface {
	Create(ctx Context, u User) error
	Find(ctx Context, id string) (User, error)
	// DebitCredits atomically subtracts cost where credits >= cost and
	// returns the post-image. ErrInsufficientCredits when the precondition
	// fails.
	DebitCredits(ctx Context, id string, cost int) (User, error)
	// CreditCredits unconditionally adds amount and returns the new balance.
	CreditCredits(ctx Context, id string, amount int) (int, error)
}

// JobPatch carries the optional fields set alongside a state transition.
type JobPatch struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	Results     *JobResults
	Error       *string
	CreditsUsed *int
}

// JobRepository persists jobs and enforces the state machine at the storage
// boundary: Transition writes the new state only when the current state is in
// from, so replays against a terminal job fail with ErrConflict.
type JobRepository interface {
	Create(ctx Context, userID string, params JobParameters) (string, error)
	Get(ctx Context, id string) (Job, error)
	// Transition sets status and patch fields in one write, guarded by the
	// current status being one of from. When the target is in_progress a
	// missing StartedAt defaults to now; when terminal, CompletedAt defaults
	// to now. Transient storage errors are retried with exponential backoff.
	Transition(ctx Context, id string, from []JobStatus, to JobStatus, patch JobPatch) error
	// AppendLog appends one entry to the job's ordered log sequence and then
	// hands it to the registered publisher for live broadcast.
	AppendLog(ctx Context, id string, entry LogEntry) error
	// ListByUser returns the user's jobs newest-first, optionally filtered
	// by status ("" for all).
	ListByUser(ctx Context, userID string, status JobStatus) ([]Job, error)
	// FindStuck returns in_progress jobs started before cutoff and pending
	// jobs created before cutoff.
	FindStuck(ctx Context, cutoff time.Time) (inProgress, pending []Job, err error)
	// ListProducts returns the distinct topics/products across the user's
	// jobs, in first-seen order.
	ListProducts(ctx Context, userID string) ([]string, error)
	// CountByStatus returns per-status job counts for a user.
	CountByStatus(ctx Context, userID string) (map[JobStatus]int, error)
}

// PostRepository stores scraped posts keyed by their external id.
type PostRepository interface {
	Save(ctx Context, p Post) error
	ListByProduct(ctx Context, product string, limit int) ([]Post, error)
	CountByProduct(ctx Context, product string) (int, error)
	Count(ctx Context) (int, error)
}

// InsightRepository stores the analyzer's products: pain points (replaced
// wholesale per (user, product)), the single analysis document per
// (user, product), and one recommendation set per (user, product, type).
type InsightRepository interface {
	SavePainPoint(ctx Context, pp PainPoint) error
	ListPainPoints(ctx Context, userID, product string) ([]PainPoint, error)
	DeletePainPoints(ctx Context, userID, product string) error
	CountPainPoints(ctx Context) (int, error)

	SaveAnalysis(ctx Context, a Analysis) error
	GetAnalysis(ctx Context, userID, product string) (Analysis, error)
	DeleteAnalysis(ctx Context, userID, product string) error

	SaveRecommendations(ctx Context, rs RecommendationSet) error
	GetRecommendations(ctx Context, userID, product, recommendationType string) (RecommendationSet, error)
	DeleteRecommendations(ctx Context, userID, product string) error
}

// SubredditSuggestion is the analyzer's discovery output for a topic.
type SubredditSuggestion struct {
	Subreddits    []string `json:"subreddits"`
	SearchQueries []string `json:"search_queries"`
}

// PainPointReport is the analyzer's synthesis over a post corpus.
type PainPointReport struct {
	PainPoints []PainPointFinding `json:"common_pain_points"`
	Summary    string             `json:"analysis_summary"`
}

// RecommendationReport is the analyzer's recommendation output.
type RecommendationReport struct {
	Recommendations []Recommendation `json:"recommendations"`
	Summary         string           `json:"summary"`
}

// Analyzer is the LLM capability boundary. Implementations bound every call
// with the supplied context deadline.
type Analyzer interface {
	SuggestSubreddits(ctx Context, topic string, isCustom bool) (SubredditSuggestion, error)
	AnalyzePainPoints(ctx Context, posts []Post, product string) (PainPointReport, error)
	GenerateRecommendations(ctx Context, painPoints []PainPoint, product, recommendationType, userContext string) (RecommendationReport, error)
}

// Scraper is the Reddit capability boundary. Search queries each subreddit in
// turn with perSubredditTimeout; a timed-out or failing subreddit is skipped
// and the remainder continue.
type Scraper interface {
	Search(ctx Context, query string, subreddits []string, limit int, timeFilter string, perSubredditTimeout time.Duration) ([]Post, error)
}

// LogPublisher receives every successfully appended job log entry for live
// broadcast. Delivery is best-effort, at-most-once.
type LogPublisher interface {
	Publish(jobID string, entry LogEntry)
}
