package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/painpoint-analyzer/internal/config"
)

func TestSetupLogger_DevAndProd(t *testing.T) {
	lg := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "svc"})
	require.NotNil(t, lg)
	lg2 := SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "svc"})
	require.NotNil(t, lg2)
}

func TestNewLogger_LevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	lg := newLogger(config.Config{AppEnv: "prod", OTELServiceName: "svc"}, &buf)

	// Info elsewhere than dev: debug records are dropped.
	assert.False(t, lg.Enabled(context.Background(), slog.LevelDebug))

	lg.Info("hello")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "svc", rec["service"])
	assert.Equal(t, "prod", rec["env"])
}

func TestNewLogger_LogLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	lg := newLogger(config.Config{AppEnv: "prod", LogLevel: "debug"}, &buf)
	assert.True(t, lg.Enabled(context.Background(), slog.LevelDebug))

	lg = newLogger(config.Config{AppEnv: "dev", LogLevel: "error"}, &buf)
	assert.False(t, lg.Enabled(context.Background(), slog.LevelInfo))
}
