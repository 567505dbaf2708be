// Package cache provides a Redis-backed memo for analyzer subreddit
// suggestions.
package cache

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

const keyPrefix = "suggest:"

// SuggestionCache stores SubredditSuggestion values keyed by product key.
// Every operation is best-effort: a Redis failure is logged and treated as a
// cache miss.
type SuggestionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New constructs a SuggestionCache. Returns nil when rdb is nil so callers
// can wire the cache unconditionally.
func New(rdb *redis.Client, ttl time.Duration) *SuggestionCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SuggestionCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached suggestion for topic, if any.
func (c *SuggestionCache) Get(ctx domain.Context, topic string) (domain.SubredditSuggestion, bool) {
	raw, err := c.rdb.Get(ctx, keyPrefix+topic).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("suggestion cache get failed", slog.String("topic", topic), slog.Any("error", err))
		}
		return domain.SubredditSuggestion{}, false
	}
	var s domain.SubredditSuggestion
	if err := json.Unmarshal(raw, &s); err != nil {
		slog.Warn("suggestion cache entry corrupt", slog.String("topic", topic), slog.Any("error", err))
		return domain.SubredditSuggestion{}, false
	}
	return s, true
}

// Set stores the suggestion for topic with the configured TTL.
func (c *SuggestionCache) Set(ctx domain.Context, topic string, s domain.SubredditSuggestion) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+topic, raw, c.ttl).Err(); err != nil {
		slog.Warn("suggestion cache set failed", slog.String("topic", topic), slog.Any("error", err))
	}
}
