package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/painpoint-analyzer/internal/adapter/ai/anthropic"
	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

func answer(text string) string {
	resp := map[string]any{"content": []map[string]string{{"type": "text", "text": text}}}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *anthropic.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, anthropic.New("test-key", srv.URL, "claude-3-haiku-20240307")
}

func TestSuggestSubreddits(t *testing.T) {
	var gotVersion, gotKey string
	_, client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		assert.Equal(t, "/v1/messages", r.URL.Path)
		_, _ = w.Write([]byte(answer(`{"subreddits":["productivity","notion"],"search_queries":["notion problems"]}`)))
	})

	s, err := client.SuggestSubreddits(context.Background(), "Notion", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"productivity", "notion"}, s.Subreddits)
	assert.Equal(t, []string{"notion problems"}, s.SearchQueries)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "test-key", gotKey)
}

func TestAnalyzePainPoints_StripsMarkdownFences(t *testing.T) {
	_, client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fenced := "```json\n{\"common_pain_points\":[{\"name\":\"sync\",\"severity\":\"high\"}],\"analysis_summary\":\"slow sync\"}\n```"
		_, _ = w.Write([]byte(answer(fenced)))
	})

	report, err := client.AnalyzePainPoints(context.Background(), []domain.Post{{ID: "p1", Title: "sync broken"}}, "Notion")
	require.NoError(t, err)
	require.Len(t, report.PainPoints, 1)
	assert.Equal(t, "sync", report.PainPoints[0].Name)
	assert.Equal(t, "slow sync", report.Summary)
}

func TestComplete_RetriesOn429(t *testing.T) {
	var calls int32
	_, client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(answer(`{"subreddits":["a"],"search_queries":[]}`)))
	})

	_, err := client.SuggestSubreddits(context.Background(), "Notion", false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestComplete_APIErrorIsPermanent(t *testing.T) {
	var calls int32
	_, client := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"prompt too long"}}`))
	})

	_, err := client.SuggestSubreddits(context.Background(), "Notion", false)
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "prompt too long")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateRecommendations_UnknownType(t *testing.T) {
	client := anthropic.New("key", "http://unused.invalid", "model")
	_, err := client.GenerateRecommendations(context.Background(), nil, "Notion", "world_domination", "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAnalyzePainPoints_ClipsCorpus(t *testing.T) {
	var prompt string
	_, client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt = req.Messages[0].Content
		_, _ = w.Write([]byte(answer(`{"common_pain_points":[],"analysis_summary":""}`)))
	})

	// 80 posts with long bodies: the prompt must hold at most 50, each with a
	// clipped body.
	posts := make([]domain.Post, 80)
	for i := range posts {
		posts[i] = domain.Post{
			ID:      "p",
			Title:   "title",
			Content: strings.Repeat("x", 2000),
		}
	}
	_, err := client.AnalyzePainPoints(context.Background(), posts, "Notion")
	require.NoError(t, err)
	assert.LessOrEqual(t, strings.Count(prompt, "title"), 50)
	assert.NotContains(t, prompt, strings.Repeat("x", 501))
}
