// Package stub provides a deterministic Analyzer for development and tests
// when no Anthropic credentials are configured.
package stub

import (
	"fmt"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

// Client returns canned analyzer outputs derived from its inputs.
type Client struct{}

// New constructs a stub Client.
func New() *Client { return &Client{} }

// SuggestSubreddits returns a fixed productivity-flavored set.
func (c *Client) SuggestSubreddits(_ domain.Context, topic string, _ bool) (domain.SubredditSuggestion, error) {
	return domain.SubredditSuggestion{
		Subreddits:    []string{"productivity", "software"},
		SearchQueries: []string{topic + " problems", topic + " issues"},
	}, nil
}

// AnalyzePainPoints derives one pain point per distinct subreddit seen.
func (c *Client) AnalyzePainPoints(_ domain.Context, posts []domain.Post, product string) (domain.PainPointReport, error) {
	seen := make(map[string]bool)
	var findings []domain.PainPointFinding
	for _, p := range posts {
		if seen[p.Subreddit] {
			continue
		}
		seen[p.Subreddit] = true
		findings = append(findings, domain.PainPointFinding{
			Name:               fmt.Sprintf("%s friction in r/%s", product, p.Subreddit),
			Description:        "Users report recurring friction in this community.",
			Severity:           "medium",
			PotentialSolutions: "Review the highest-scored posts and address the top complaint.",
			RelatedKeywords:    []string{product},
		})
	}
	return domain.PainPointReport{
		PainPoints: findings,
		Summary:    fmt.Sprintf("Stub analysis of %d posts for %s.", len(posts), product),
	}, nil
}

// GenerateRecommendations returns one recommendation per pain point.
func (c *Client) GenerateRecommendations(_ domain.Context, painPoints []domain.PainPoint, product, recommendationType, _ string) (domain.RecommendationReport, error) {
	recs := make([]domain.Recommendation, 0, len(painPoints))
	for _, pp := range painPoints {
		recs = append(recs, domain.Recommendation{
			Title:               "Address " + pp.Topic,
			Description:         pp.Description,
			Complexity:          "medium",
			Impact:              pp.Severity,
			AddressesPainPoints: []string{pp.Topic},
		})
	}
	return domain.RecommendationReport{
		Recommendations: recs,
		Summary:         fmt.Sprintf("Stub %s recommendations for %s.", recommendationType, product),
	}, nil
}
