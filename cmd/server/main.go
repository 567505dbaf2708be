// Command server starts the pain-point analyzer HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/painpoint-analyzer/internal/adapter/ai/anthropic"
	"github.com/fairyhunter13/painpoint-analyzer/internal/adapter/ai/stub"
	"github.com/fairyhunter13/painpoint-analyzer/internal/adapter/cache"
	"github.com/fairyhunter13/painpoint-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/painpoint-analyzer/internal/adapter/reddit"
	"github.com/fairyhunter13/painpoint-analyzer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/painpoint-analyzer/internal/app"
	"github.com/fairyhunter13/painpoint-analyzer/internal/config"
	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
	"github.com/fairyhunter13/painpoint-analyzer/internal/service/logbus"
	"github.com/fairyhunter13/painpoint-analyzer/internal/service/workers"
	"github.com/fairyhunter13/painpoint-analyzer/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL, postgres.PoolOptions{
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		MaxConnIdleTime: cfg.DBConnMaxIdleTime,
		MaxConnLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	bus := logbus.New(cfg.SubscriberBuffer)
	jobRepo := postgres.NewJobRepo(pool, bus)
	jobRepo.RetryMax = uint64(cfg.StoreRetryMax)
	jobRepo.RetryInterval = cfg.StoreRetryInterval
	userRepo := postgres.NewUserRepo(pool)
	postRepo := postgres.NewPostRepo(pool)
	insightRepo := postgres.NewInsightRepo(pool)

	if cfg.IsDev() {
		seedDevUsers(ctx, userRepo)
	}

	var analyzer domain.Analyzer
	if cfg.AnalyzerConfigured() {
		analyzer = anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.AnthropicModel)
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, using the stub analyzer")
		analyzer = stub.New()
	}
	scraper := reddit.New(cfg.RedditClientID, cfg.RedditClientSecret, cfg.RedditUserAgent)

	var rdb *redis.Client
	var suggestions usecase.SuggestionCache
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		if c := cache.New(rdb, cfg.SuggestionTTL); c != nil {
			suggestions = c
		}
	}

	registry := workers.NewRegistry()
	ledger := usecase.NewCreditLedger(userRepo)
	dispatcher := &usecase.Dispatcher{
		Jobs:               jobRepo,
		Posts:              postRepo,
		Insights:           insightRepo,
		Analyzer:           analyzer,
		Scraper:            scraper,
		Ledger:             ledger,
		Workers:            registry,
		Suggestions:        suggestions,
		DefaultSubreddits:  cfg.DefaultSubreddits,
		SubredditTimeout:   cfg.SubredditTimeout,
		JobTimeout:         cfg.JobTimeout,
		ScrapeCostOverride: cfg.ScrapeCostOverride,
		ScraperReady:       cfg.ScraperConfigured(),
	}
	jobService := usecase.NewJobService(jobRepo, postRepo, insightRepo, ledger, registry)

	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()
	go app.NewWatchdog(jobRepo, cfg.JobTimeout, cfg.WatchdogInterval).Run(watchdogCtx)

	srv := httpserver.NewServer(cfg, jobService, dispatcher, postRepo, insightRepo, bus)
	handler := app.BuildRouter(cfg, srv, app.BuildReadiness(pool, rdb))

	srvHTTP := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler,
		ReadTimeout: cfg.HTTPReadTimeout,
		// No write timeout: the log stream endpoint holds its response open
		// for the lifetime of the job.
		WriteTimeout:      0,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	stopWatchdog()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
