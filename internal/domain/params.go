package domain

import (
	"encoding/json"
	"fmt"
)

// ScrapeParams drives the scrape runner. Subreddits and SearchQueries are
// resolved at admission time (caller-supplied or analyzer-suggested) so the
// job document records exactly what the runner will search.
type ScrapeParams struct {
	Topic         string   `json:"topic"`
	Limit         int      `json:"limit"`
	TimeFilter    string   `json:"time_filter"`
	IsCustom      bool     `json:"is_custom"`
	Subreddits    []string `json:"subreddits"`
	SearchQueries []string `json:"search_queries,omitempty"`
}

// AnalysisParams drives the analysis runner.
type AnalysisParams struct {
	Product             string `json:"product"`
	MaxPosts            int    `json:"max_posts"`
	SkipRecommendations bool   `json:"skip_recommendations"`
	Regenerate          bool   `json:"regenerate"`
}

// RecommendationsParams drives the recommendations runner.
type RecommendationsParams struct {
	Product            string `json:"product"`
	RecommendationType string `json:"recommendation_type"`
	Regenerate         bool   `json:"regenerate"`
	Context            string `json:"context,omitempty"`
}

// JobParameters is the tagged variant of per-type job parameters. Exactly one
// of the branch pointers is set, matching Type. It marshals to the flat
// document shape persisted by the store ({"type":"scrape","topic":...}).
type JobParameters struct {
	Type            JobType
	Scrape          *ScrapeParams
	Analysis        *AnalysisParams
	Recommendations *RecommendationsParams
}

// Product returns the product or topic this job operates on.
func (p JobParameters) Product() string {
	switch p.Type {
	case JobTypeScrape:
		if p.Scrape != nil {
			return p.Scrape.Topic
		}
	case JobTypeAnalysis:
		if p.Analysis != nil {
			return p.Analysis.Product
		}
	case JobTypeRecommendations:
		if p.Recommendations != nil {
			return p.Recommendations.Product
		}
	}
	return ""
}

// MarshalJSON flattens the active branch alongside the type tag.
func (p JobParameters) MarshalJSON() ([]byte, error) {
	var body any
	switch p.Type {
	case JobTypeScrape:
		body = p.Scrape
	case JobTypeAnalysis:
		body = p.Analysis
	case JobTypeRecommendations:
		body = p.Recommendations
	default:
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidArgument, p.Type)
	}
	return marshalTagged(body, string(p.Type))
}

// UnmarshalJSON selects the branch named by the type tag.
func (p *JobParameters) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type JobType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	p.Type = tag.Type
	p.Scrape, p.Analysis, p.Recommendations = nil, nil, nil
	switch tag.Type {
	case JobTypeScrape:
		p.Scrape = &ScrapeParams{}
		return json.Unmarshal(data, p.Scrape)
	case JobTypeAnalysis:
		p.Analysis = &AnalysisParams{}
		return json.Unmarshal(data, p.Analysis)
	case JobTypeRecommendations:
		p.Recommendations = &RecommendationsParams{}
		return json.Unmarshal(data, p.Recommendations)
	}
	return fmt.Errorf("%w: unknown job type %q", ErrInvalidArgument, tag.Type)
}

// ScrapeResults summarizes a finished scrape job.
type ScrapeResults struct {
	PostsCount      int      `json:"posts_count"`
	TotalPostsFound int      `json:"total_posts_found"`
	SubredditsUsed  []string `json:"subreddits_used"`
	Topic           string   `json:"topic"`
	DurationMinutes int      `json:"duration_minutes"`
}

// AnalysisResults summarizes a finished analysis job.
type AnalysisResults struct {
	PainPointsCount      int    `json:"pain_points_count"`
	RecommendationsCount int    `json:"recommendations_count"`
	Product              string `json:"product"`
	DurationMinutes      int    `json:"duration_minutes"`
}

// RecommendationsResults summarizes a finished recommendations job.
type RecommendationsResults struct {
	Product              string `json:"product"`
	RecommendationType   string `json:"recommendation_type"`
	RecommendationsCount int    `json:"recommendations_count"`
}

// JobResults is the tagged variant of per-type job results. Like
// JobParameters it marshals flat; the type tag is recovered from the job's
// own type on load, so it is carried in the document as well.
type JobResults struct {
	Type            JobType
	Scrape          *ScrapeResults
	Analysis        *AnalysisResults
	Recommendations *RecommendationsResults
}

// MarshalJSON flattens the active branch alongside the type tag.
func (r JobResults) MarshalJSON() ([]byte, error) {
	var body any
	switch r.Type {
	case JobTypeScrape:
		body = r.Scrape
	case JobTypeAnalysis:
		body = r.Analysis
	case JobTypeRecommendations:
		body = r.Recommendations
	default:
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidArgument, r.Type)
	}
	return marshalTagged(body, string(r.Type))
}

// marshalTagged flattens body into an object and merges the type tag in.
// The map is allocated up front: a nil branch pointer marshals as JSON null,
// which unmarshal treats as a no-op, so that case degrades to a bare
// {"type": ...} instead of an assignment on a nil map.
func marshalTagged(body any, typeTag string) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["type"] = typeTag
	return json.Marshal(m)
}

// UnmarshalJSON selects the branch named by the type tag.
func (r *JobResults) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type JobType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	r.Type = tag.Type
	r.Scrape, r.Analysis, r.Recommendations = nil, nil, nil
	switch tag.Type {
	case JobTypeScrape:
		r.Scrape = &ScrapeResults{}
		return json.Unmarshal(data, r.Scrape)
	case JobTypeAnalysis:
		r.Analysis = &AnalysisResults{}
		return json.Unmarshal(data, r.Analysis)
	case JobTypeRecommendations:
		r.Recommendations = &RecommendationsResults{}
		return json.Unmarshal(data, r.Recommendations)
	}
	return fmt.Errorf("%w: unknown job type %q", ErrInvalidArgument, tag.Type)
}
