package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
)

// Watchdog reaps jobs whose runner died without reaching a terminal state:
// in_progress jobs started longer than jobTimeout ago and pending jobs whose
// runner never began. Reaped jobs are failed without a refund; a cancellation
// racing the reap wins via the transition guard.
type Watchdog struct {
	jobs       domain.JobRepository
	jobTimeout time.Duration
	interval   time.Duration
}

// NewWatchdog constructs a Watchdog. Returns nil when jobs is nil.
func NewWatchdog(jobs domain.JobRepository, jobTimeout, interval time.Duration) *Watchdog {
	if jobs == nil {
		return nil
	}
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Watchdog{jobs: jobs, jobTimeout: jobTimeout, interval: interval}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	if w == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("watchdog stopping")
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce reaps every currently stuck job.
func (w *Watchdog) SweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.watchdog")
	ctx, span := tracer.Start(ctx, "watchdog.sweep")
	defer span.End()

	now := time.Now().UTC()
	inProgress, pending, err := w.jobs.FindStuck(ctx, now.Add(-w.jobTimeout))
	if err != nil {
		span.RecordError(err)
		slog.Error("watchdog failed to list stuck jobs", slog.Any("error", err))
		return
	}
	span.SetAttributes(
		attribute.Int("jobs.stuck_in_progress", len(inProgress)),
		attribute.Int("jobs.stuck_pending", len(pending)),
	)

	reaped := 0
	for _, j := range inProgress {
		age := w.jobTimeout
		if j.StartedAt != nil {
			age = now.Sub(*j.StartedAt)
		}
		msg := fmt.Sprintf("Job timed out after %d minutes", int(age.Minutes()))
		if w.reap(ctx, j, domain.JobInProgress, msg) {
			reaped++
		}
	}
	for _, j := range pending {
		if w.reap(ctx, j, domain.JobPending, "Job timed out (pending too long)") {
			reaped++
		}
	}
	if reaped > 0 {
		slog.Warn("watchdog reaped stuck jobs", slog.Int("count", reaped))
	}
	span.SetAttributes(attribute.Int("jobs.reaped", reaped))
}

func (w *Watchdog) reap(ctx context.Context, j domain.Job, from domain.JobStatus, msg string) bool {
	err := w.jobs.Transition(ctx, j.ID, []domain.JobStatus{from}, domain.JobFailed, domain.JobPatch{Error: &msg})
	if err != nil {
		// A terminal write from the runner or a cancel got there first.
		if !errors.Is(err, domain.ErrConflict) {
			slog.Error("watchdog failed to reap job", slog.String("job_id", j.ID), slog.Any("error", err))
		}
		return false
	}
	_ = w.jobs.AppendLog(ctx, j.ID, domain.LogEntry{Step: "failed", Message: msg})
	observability.FailJob(string(j.Type))
	slog.Warn("job reaped by watchdog",
		slog.String("job_id", j.ID), slog.String("from", string(from)), slog.String("reason", msg))
	return true
}
