// Package domain holds the core entities and ports of the pain-point
// analyzer: users with a credit balance, asynchronous jobs with ordered
// step logs, and the product artifacts (posts, pain points, analyses,
// recommendation sets) produced by the pipeline runners.
package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrNotCancellable      = errors.New("job not cancellable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstream            = errors.New("upstream error")
	ErrInternal            = errors.New("internal error")
)

// Context is an alias so adapters and usecases share the std context type.
type Context = context.Context

// JobType enumerates the pipeline job kinds.
type JobType string

// Pipeline job kinds.
const (
	JobTypeScrape          JobType = "scrape"
	JobTypeAnalysis        JobType = "analysis"
	JobTypeRecommendations JobType = "recommendations"
)

// JobStatus is the job state machine's state.
type JobStatus string

// Job states. Transitions form a DAG: pending -> in_progress ->
// {completed, failed}; pending|in_progress -> cancelled. Terminal states
// absorb all further transitions.
const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no transition may leave this state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// ValidJobStatus reports whether s names a known state.
func ValidJobStatus(s string) bool {
	switch JobStatus(s) {
	case JobPending, JobInProgress, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// RecommendationType enumerates the recommendation job flavors. One document
// is stored per (user, product, type); types never overwrite each other.
const (
	RecImproveProduct   = "improve_product"
	RecNewFeature       = "new_feature"
	RecCompetingProduct = "competing_product"
)

// ValidRecommendationType reports whether t is a known recommendation type.
func ValidRecommendationType(t string) bool {
	switch t {
	case RecImproveProduct, RecNewFeature, RecCompetingProduct:
		return true
	}
	return false
}

// Time filters accepted by Reddit search.
var timeFilters = map[string]struct{}{
	"hour": {}, "day": {}, "week": {}, "month": {}, "year": {}, "all": {},
}

// ValidTimeFilter reports whether f is a known Reddit time filter.
func ValidTimeFilter(f string) bool {
	_, ok := timeFilters[f]
	return ok
}

// ProductKey normalizes a product name for storage keys: trimmed, lowercased.
func ProductKey(product string) string {
	return strings.ToLower(strings.TrimSpace(product))
}

// User is an account with a spendable credit balance. Credits are the only
// field the core mutates, and every mutation goes through the Store
// primitives (CAS debit, atomic credit).
type User struct {
	ID            string
	Credits       int
	FullName      string
	PreferredName string
	Email         string
	CreatedAt     time.Time
}

// LogEntry is one pipeline step record. Entries are append-only.
type LogEntry struct {
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is a unit of asynchronous work.
//
// Invariants:
//   - pending       => StartedAt == nil && CompletedAt == nil
//   - in_progress   => StartedAt != nil && CompletedAt == nil
//   - terminal      => CompletedAt != nil
//   - CreditsUsed is set at most once, by a terminal transition.
type Job struct {
	ID          string
	UserID      string
	Type        JobType
	Status      JobStatus
	Parameters  JobParameters
	Results     *JobResults
	Error       string
	CreditsUsed *int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Logs        []LogEntry
}

// Post is a raw scraped Reddit submission attributed to a product.
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	Subreddit   string    `json:"subreddit"`
	URL         string    `json:"url"`
	CreatedUTC  time.Time `json:"created_utc"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	Product     string    `json:"product"`
}

// PainPoint is one synthesized user problem for a (user, product) pair.
// The whole set is replaced on re-analysis.
type PainPoint struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Product            string    `json:"product"`
	Topic              string    `json:"topic"`
	Description        string    `json:"description"`
	Severity           string    `json:"severity"`
	PotentialSolutions string    `json:"potential_solutions"`
	RelatedKeywords    []string  `json:"related_keywords"`
	EngagementSummary  string    `json:"engagement_summary,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// PainPointID derives the stable document id for a pain point.
func PainPointID(userID, product, topic string) string {
	h := sha256.Sum256([]byte(userID + ":" + ProductKey(product) + ":" + topic))
	return hex.EncodeToString(h[:20])
}

// Analysis is the single synthesized document per (user, product).
type Analysis struct {
	UserID     string             `json:"user_id"`
	Product    string             `json:"product"`
	Summary    string             `json:"analysis_summary"`
	PainPoints []PainPointFinding `json:"common_pain_points"`
	CreatedAt  time.Time          `json:"created_at"`
}

// PainPointFinding is one theme extracted by the analyzer.
type PainPointFinding struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Severity           string   `json:"severity"`
	PotentialSolutions string   `json:"potential_solutions"`
	RelatedKeywords    []string `json:"related_keywords"`
	EngagementSummary  string   `json:"engagement_summary,omitempty"`
}

// Recommendation is one actionable suggestion from the analyzer.
type Recommendation struct {
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Complexity           string   `json:"complexity"`
	Impact               string   `json:"impact"`
	AddressesPainPoints  []string `json:"addresses_pain_points,omitempty"`
	MostRecentOccurrence string   `json:"most_recent_occurence,omitempty"`
}

// RecommendationSet is the single document per (user, product, type).
type RecommendationSet struct {
	UserID             string           `json:"user_id"`
	Product            string           `json:"product"`
	RecommendationType string           `json:"recommendation_type"`
	Recommendations    []Recommendation `json:"recommendations"`
	Summary            string           `json:"summary,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}
