// Package reddit implements the Scraper port against the Reddit OAuth API.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

const (
	defaultAuthURL = "https://www.reddit.com/api/v1/access_token"
	defaultAPIURL  = "https://oauth.reddit.com"

	// Reddit caps listing sizes at 100 per request.
	maxPerRequest = 100
)

// Client searches subreddits using application-only OAuth. Each subreddit is
// queried in turn with its own deadline; a failing subreddit is skipped and
// the remainder continue.
type Client struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	AuthURL      string
	APIURL       string
	HC           *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// New constructs a Client with the production endpoints.
func New(clientID, clientSecret, userAgent string) *Client {
	return &Client{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		UserAgent:    userAgent,
		AuthURL:      defaultAuthURL,
		APIURL:       defaultAPIURL,
		HC:           &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached app-only token, refreshing when within a
// minute of expiry.
func (c *Client) accessToken(ctx domain.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp.Add(-time.Minute)) {
		return c.token, nil
	}
	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AuthURL, form)
	if err != nil {
		return "", fmt.Errorf("op=reddit.token: %w", err)
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HC.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=reddit.token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("op=reddit.token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=reddit.token: status %d: %w", resp.StatusCode, domain.ErrUpstream)
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("op=reddit.token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("op=reddit.token: empty token: %w", domain.ErrUpstream)
	}
	c.token = tok.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.token, nil
}

type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID          string  `json:"id"`
				Title       string  `json:"title"`
				Selftext    string  `json:"selftext"`
				Author      string  `json:"author"`
				Subreddit   string  `json:"subreddit"`
				Permalink   string  `json:"permalink"`
				CreatedUTC  float64 `json:"created_utc"`
				Score       int     `json:"score"`
				NumComments int     `json:"num_comments"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Search queries each subreddit for query, bounded by perSubredditTimeout per
// subreddit, and returns up to limit deduplicated posts.
func (c *Client) Search(ctx domain.Context, query string, subreddits []string, limit int, timeFilter string, perSubredditTimeout time.Duration) ([]domain.Post, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}

	seen := make(map[string]bool)
	var posts []domain.Post
	for _, sub := range subreddits {
		if len(posts) >= limit {
			break
		}
		found, err := c.searchSubreddit(ctx, token, sub, query, limit, timeFilter, perSubredditTimeout)
		if err != nil {
			// Skip and continue: one dead subreddit must not sink the scrape.
			slog.Warn("subreddit search failed",
				slog.String("subreddit", sub), slog.String("query", query), slog.Any("error", err))
			continue
		}
		for _, p := range found {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			posts = append(posts, p)
			if len(posts) >= limit {
				break
			}
		}
	}
	return posts, nil
}

func (c *Client) searchSubreddit(ctx domain.Context, token, subreddit, query string, limit int, timeFilter string, timeout time.Duration) ([]domain.Post, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	q := url.Values{
		"q":           {query},
		"restrict_sr": {"1"},
		"sort":        {"relevance"},
		"limit":       {strconv.Itoa(min(limit, maxPerRequest))},
	}
	if timeFilter != "" {
		q.Set("t", timeFilter)
	}
	u := fmt.Sprintf("%s/r/%s/search?%s", strings.TrimRight(c.APIURL, "/"), url.PathEscape(subreddit), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HC.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrUpstream)
	}
	var l listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, err
	}
	posts := make([]domain.Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		d := child.Data
		posts = append(posts, domain.Post{
			ID:          d.ID,
			Title:       d.Title,
			Content:     d.Selftext,
			Author:      d.Author,
			Subreddit:   d.Subreddit,
			URL:         "https://www.reddit.com" + d.Permalink,
			CreatedUTC:  time.Unix(int64(d.CreatedUTC), 0).UTC(),
			Score:       d.Score,
			NumComments: d.NumComments,
		})
	}
	return posts, nil
}
