package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/painpoint-analyzer/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 300*time.Second, cfg.WatchdogInterval)
	assert.Equal(t, 30*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 300*time.Second, cfg.SubredditTimeout)
	assert.Equal(t, []string{"technology", "software", "productivity", "business", "entrepreneur"}, cfg.DefaultSubreddits)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.AnalyzerConfigured())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("WATCHDOG_INTERVAL", "10s")
	t.Setenv("JOB_TIMEOUT", "1m")
	t.Setenv("DEFAULT_SUBREDDITS", "golang,devops")
	t.Setenv("REDDIT_CLIENT_ID", "id")
	t.Setenv("REDDIT_CLIENT_SECRET", "secret")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, 10*time.Second, cfg.WatchdogInterval)
	assert.Equal(t, time.Minute, cfg.JobTimeout)
	assert.Equal(t, []string{"golang", "devops"}, cfg.DefaultSubreddits)
	assert.True(t, cfg.ScraperConfigured())
}
