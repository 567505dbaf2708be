package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
)

// Runner lifecycle helpers shared by the three pipelines. Every runner is a
// straight-line step sequence: begin, do steps with a log entry each,
// persist, finish. Failures never escape the goroutine.

func (d *Dispatcher) begin(ctx domain.Context, jobID string) bool {
	err := d.Jobs.Transition(ctx, jobID,
		[]domain.JobStatus{domain.JobPending}, domain.JobInProgress, domain.JobPatch{})
	if err != nil {
		// Cancelled before the runner got scheduled. The cancel path owns the
		// terminal state; nothing to do here.
		if !errors.Is(err, domain.ErrConflict) {
			slog.Error("job start transition failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
		return false
	}
	return true
}

func (d *Dispatcher) logStep(ctx domain.Context, jobID, step, message string, details any) {
	entry := domain.LogEntry{Step: step, Message: message, Details: details, Timestamp: time.Now().UTC()}
	if err := d.Jobs.AppendLog(ctx, jobID, entry); err != nil {
		slog.Warn("job log append failed",
			slog.String("job_id", jobID), slog.String("step", step), slog.Any("error", err))
	}
}

// cancelled polls the authoritative job state between steps. Cooperative: the
// runner is never preempted, it just stops doing work once the state is
// terminal.
func (d *Dispatcher) cancelled(ctx domain.Context, jobID string) bool {
	j, err := d.Jobs.Get(ctx, jobID)
	if err != nil {
		return false
	}
	return j.Status.Terminal()
}

// finishSuccess writes the terminal completed state. A rejected write means
// cancellation won the race; the runner accepts that silently. Finalization
// runs on a detached context: the runner context may already be past its
// deadline (that deadline is often the reason we are finishing at all).
func (d *Dispatcher) finishSuccess(ctx domain.Context, jobID string, jobType domain.JobType, results *domain.JobResults, cost int) {
	ctx = context.WithoutCancel(ctx)
	err := d.Jobs.Transition(ctx, jobID,
		[]domain.JobStatus{domain.JobInProgress}, domain.JobCompleted,
		domain.JobPatch{Results: results, CreditsUsed: &cost})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return
		}
		slog.Error("job completion write failed", slog.String("job_id", jobID), slog.Any("error", err))
		return
	}
	observability.CompleteJob(string(jobType))
}

// finishFailure writes the terminal failed state and refunds whatever this
// job debited at admission. The state write happens before the refund; if the
// write is rejected the job already reached a terminal state some other way
// and no refund is owed here.
func (d *Dispatcher) finishFailure(ctx domain.Context, jobID, userID string, jobType domain.JobType, errMsg string, cost int) {
	ctx = context.WithoutCancel(ctx)
	d.logStep(ctx, jobID, "failed", errMsg, nil)
	err := d.Jobs.Transition(ctx, jobID,
		[]domain.JobStatus{domain.JobPending, domain.JobInProgress}, domain.JobFailed,
		domain.JobPatch{Error: &errMsg, CreditsUsed: &cost})
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			slog.Error("job failure write failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
		return
	}
	observability.FailJob(string(jobType))
	if cost > 0 {
		if _, refundErr := d.Ledger.Refund(ctx, userID, cost); refundErr != nil {
			slog.Error("refund after failure failed",
				slog.String("job_id", jobID), slog.String("user_id", userID),
				slog.Int("amount", cost), slog.Any("error", refundErr))
		}
	}
}

func durationMinutes(start time.Time) int {
	return int(time.Since(start).Minutes())
}
