// Package anthropic implements the Analyzer port against the Anthropic
// Messages API.
package anthropic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkoukk/tiktoken-go"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

const (
	apiVersion = "2023-06-01"

	// Prompt shaping: at most this many posts go into the pain-point prompt,
	// each clipped to contentClip characters, and the whole corpus is clipped
	// to corpusTokenBudget tokens.
	maxPromptPosts    = 50
	contentClip       = 500
	corpusTokenBudget = 8000
)

// Client calls the Anthropic Messages API and decodes the model's JSON
// answers into the Analyzer result types.
type Client struct {
	APIKey  string
	BaseURL string
	Model   string
	HC      *http.Client

	enc *tiktoken.Tiktoken
}

// New constructs a Client with a sensible HTTP timeout.
func New(apiKey, baseURL, model string) *Client {
	c := &Client{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		HC:      &http.Client{Timeout: 120 * time.Second},
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// The token counter degrades to a bytes/4 estimate.
		slog.Warn("tokenizer unavailable, using length estimate", slog.Any("error", err))
	} else {
		c.enc = enc
	}
	return c
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// complete sends one prompt and returns the text answer. 429 and 5xx
// responses are retried with exponential backoff; other API errors surface
// immediately.
func (c *Client) complete(ctx domain.Context, system, user string, maxTokens int) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("op=anthropic.complete: ANTHROPIC_API_KEY missing: %w", domain.ErrInvalidArgument)
	}
	reqBody, err := json.Marshal(messagesRequest{
		Model:     c.Model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("op=anthropic.complete: %w", err)
	}

	var text string
	operation := func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(reqBody))
		if reqErr != nil {
			return backoff.Permanent(reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.APIKey)
		req.Header.Set("anthropic-version", apiVersion)

		resp, doErr := c.HC.Do(req)
		if doErr != nil {
			return doErr
		}
		defer func() { _ = resp.Body.Close() }()
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("anthropic status %d: %s", resp.StatusCode, snippet(body))
		}
		var decoded messagesResponse
		if jsonErr := json.Unmarshal(body, &decoded); jsonErr != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", jsonErr))
		}
		if resp.StatusCode != http.StatusOK {
			msg := snippet(body)
			if decoded.Error != nil {
				msg = decoded.Error.Message
			}
			return backoff.Permanent(fmt.Errorf("%s: %w", msg, domain.ErrUpstream))
		}
		if len(decoded.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("empty response: %w", domain.ErrUpstream))
		}
		text = decoded.Content[0].Text
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(expo, ctx)); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("op=anthropic.complete: %v: %w", err, domain.ErrUpstreamTimeout)
		}
		return "", fmt.Errorf("op=anthropic.complete: %w", err)
	}
	return text, nil
}

func snippet(b []byte) string {
	s := string(b)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// stripFences removes a surrounding markdown code fence. The model often
// wraps its JSON in ```json ... ``` despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (c *Client) decodeJSON(raw string, out any) error {
	if err := json.Unmarshal([]byte(stripFences(raw)), out); err != nil {
		return fmt.Errorf("op=anthropic.decode: %v: %w", err, domain.ErrUpstream)
	}
	return nil
}

// countTokens counts prompt tokens, or estimates when the tokenizer could
// not be loaded.
func (c *Client) countTokens(s string) int {
	if c.enc == nil {
		return len(s) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}

// SuggestSubreddits asks for subreddits and search queries for a topic.
func (c *Client) SuggestSubreddits(ctx domain.Context, topic string, isCustom bool) (domain.SubredditSuggestion, error) {
	kind := "product"
	if isCustom {
		kind = "topic"
	}
	user := fmt.Sprintf(`Suggest subreddits for researching user complaints about the %s %q.
Respond with JSON only: {"subreddits": ["name", ...], "search_queries": ["query", ...]}.
Subreddit names without the r/ prefix. 3 to 6 subreddits, 2 to 4 search queries.`, kind, topic)

	raw, err := c.complete(ctx, "You research where users discuss software products. Answer with strict JSON.", user, 1024)
	if err != nil {
		return domain.SubredditSuggestion{}, err
	}
	var s domain.SubredditSuggestion
	if err := c.decodeJSON(raw, &s); err != nil {
		return domain.SubredditSuggestion{}, err
	}
	return s, nil
}

// buildCorpus renders the post corpus for the pain-point prompt, clipping to
// the per-post and whole-corpus budgets.
func (c *Client) buildCorpus(posts []domain.Post) string {
	if len(posts) > maxPromptPosts {
		posts = posts[:maxPromptPosts]
	}
	var b strings.Builder
	used := 0
	for i, p := range posts {
		content := p.Content
		if len(content) > contentClip {
			content = content[:contentClip]
		}
		block := fmt.Sprintf("[%d] r/%s | score %d | %s\n%s\n\n", i+1, p.Subreddit, p.Score, p.Title, content)
		cost := c.countTokens(block)
		if used+cost > corpusTokenBudget {
			break
		}
		b.WriteString(block)
		used += cost
	}
	return b.String()
}

// AnalyzePainPoints synthesizes common pain points from a post corpus.
func (c *Client) AnalyzePainPoints(ctx domain.Context, posts []domain.Post, product string) (domain.PainPointReport, error) {
	user := fmt.Sprintf(`Below are Reddit posts about %q. Identify the most common user pain points.
Respond with JSON only:
{"common_pain_points": [{"name": "...", "description": "...", "severity": "high|medium|low", "potential_solutions": "...", "related_keywords": ["..."], "engagement_summary": "..."}], "analysis_summary": "..."}

Posts:
%s`, product, c.buildCorpus(posts))

	raw, err := c.complete(ctx, "You analyze user feedback and extract structured pain points. Answer with strict JSON.", user, 4096)
	if err != nil {
		return domain.PainPointReport{}, err
	}
	var report domain.PainPointReport
	if err := c.decodeJSON(raw, &report); err != nil {
		return domain.PainPointReport{}, err
	}
	return report, nil
}

var recommendationAngles = map[string]string{
	domain.RecImproveProduct:   "concrete improvements to the existing product",
	domain.RecNewFeature:       "new features the product could add",
	domain.RecCompetingProduct: "a competing product that would win over these frustrated users",
}

// GenerateRecommendations turns pain points into recommendations of the
// requested flavor.
func (c *Client) GenerateRecommendations(ctx domain.Context, painPoints []domain.PainPoint, product, recommendationType, userContext string) (domain.RecommendationReport, error) {
	angle, ok := recommendationAngles[recommendationType]
	if !ok {
		return domain.RecommendationReport{}, fmt.Errorf("op=anthropic.recommendations: unknown type %q: %w", recommendationType, domain.ErrInvalidArgument)
	}
	var b strings.Builder
	for _, pp := range painPoints {
		fmt.Fprintf(&b, "- %s (%s): %s\n", pp.Topic, pp.Severity, pp.Description)
	}
	user := fmt.Sprintf(`Pain points found for %q:
%s
Suggest %s.`, product, b.String(), angle)
	if userContext != "" {
		user += "\nAdditional context from the requester: " + userContext
	}
	user += `
Respond with JSON only:
{"recommendations": [{"title": "...", "description": "...", "complexity": "high|medium|low", "impact": "high|medium|low", "addresses_pain_points": ["..."], "most_recent_occurence": "..."}], "summary": "..."}`

	raw, err := c.complete(ctx, "You turn user pain points into actionable product recommendations. Answer with strict JSON.", user, 4096)
	if err != nil {
		return domain.RecommendationReport{}, err
	}
	var report domain.RecommendationReport
	if err := c.decodeJSON(raw, &report); err != nil {
		return domain.RecommendationReport{}, err
	}
	return report, nil
}
