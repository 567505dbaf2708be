package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

// JobRepo persists jobs and enforces the state machine at the storage
// boundary. Transition and AppendLog are single guarded UPDATEs, so terminal
// states absorb late writes without any application-side locking.
type JobRepo struct {
	Pool      PgxPool
	Publisher domain.LogPublisher

	// Transient write failures are retried with exponential backoff.
	RetryMax      uint64
	RetryInterval time.Duration
}

// NewJobRepo constructs a JobRepo with the given pool and live-log publisher.
// Publisher may be nil when live streaming is not wired (tests, tooling).
func NewJobRepo(p PgxPool, pub domain.LogPublisher) *JobRepo {
	return &JobRepo{Pool: p, Publisher: pub, RetryMax: 3, RetryInterval: 200 * time.Millisecond}
}

func (r *JobRepo) retry(ctx domain.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.RetryInterval
	bo := backoff.WithMaxRetries(exp, r.RetryMax)
	return backoff.Retry(func() error {
		err := op()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrNotFound),
			errors.Is(err, domain.ErrConflict),
			errors.Is(err, domain.ErrInvalidArgument):
			return backoff.Permanent(err)
		default:
			return err
		}
	}, backoff.WithContext(bo, ctx))
}

const jobColumns = `id, user_id, type, status, parameters, results, COALESCE(error,''), credits_used, created_at, started_at, completed_at, logs`

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		j          domain.Job
		paramsRaw  []byte
		resultsRaw []byte
		logsRaw    []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &j.Type, &j.Status, &paramsRaw, &resultsRaw,
		&j.Error, &j.CreditsUsed, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &logsRaw)
	if err != nil {
		return domain.Job{}, err
	}
	if err := json.Unmarshal(paramsRaw, &j.Parameters); err != nil {
		return domain.Job{}, fmt.Errorf("decode parameters: %w", err)
	}
	if len(resultsRaw) > 0 {
		var res domain.JobResults
		if err := json.Unmarshal(resultsRaw, &res); err != nil {
			return domain.Job{}, fmt.Errorf("decode results: %w", err)
		}
		j.Results = &res
	}
	if len(logsRaw) > 0 {
		if err := json.Unmarshal(logsRaw, &j.Logs); err != nil {
			return domain.Job{}, fmt.Errorf("decode logs: %w", err)
		}
	}
	return j, nil
}

// Create inserts a new pending job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, userID string, params domain.JobParameters) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(attribute.String("job.type", string(params.Type)))
	id := uuid.New().String()
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	q := `INSERT INTO jobs (id, user_id, type, status, parameters, created_at, logs) VALUES ($1,$2,$3,$4,$5,$6,'[]')`
	err = r.retry(ctx, func() error {
		_, execErr := r.Pool.Exec(ctx, q, id, userID, params.Type, domain.JobPending, paramsRaw, time.Now().UTC())
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// Transition moves the job to a new status in one guarded UPDATE. The write
// applies only while the current status is one of from; a replay against a
// job that already left those states returns ErrConflict. StartedAt defaults
// to now on entry to in_progress, CompletedAt to now on any terminal state.
func (r *JobRepo) Transition(ctx domain.Context, id string, from []domain.JobStatus, to domain.JobStatus, patch domain.JobPatch) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Transition")
	defer span.End()
	span.SetAttributes(attribute.String("job.to_status", string(to)))

	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	var resultsRaw []byte
	if patch.Results != nil {
		raw, err := json.Marshal(patch.Results)
		if err != nil {
			return fmt.Errorf("op=job.transition: %w", err)
		}
		resultsRaw = raw
	}
	q := `UPDATE jobs SET
		status = $3,
		started_at = COALESCE($4, started_at, CASE WHEN $3 = 'in_progress' THEN now() END),
		completed_at = COALESCE($5, completed_at, CASE WHEN $3 IN ('completed','failed','cancelled') THEN now() END),
		results = COALESCE($6, results),
		error = COALESCE($7, error),
		credits_used = COALESCE($8, credits_used)
	WHERE id = $1 AND status = ANY($2)`
	err := r.retry(ctx, func() error {
		tag, execErr := r.Pool.Exec(ctx, q, id, fromStrs, to, patch.StartedAt, patch.CompletedAt, resultsRaw, patch.Error, patch.CreditsUsed)
		if execErr != nil {
			return execErr
		}
		if tag.RowsAffected() == 0 {
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return getErr
			}
			return domain.ErrConflict
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=job.transition: %w", err)
	}
	return nil
}

// AppendLog appends one entry to the job's log sequence, then hands it to the
// publisher for live broadcast. The append and the broadcast are ordered:
// subscribers never see an entry that was not persisted first.
func (r *JobRepo) AppendLog(ctx domain.Context, id string, entry domain.LogEntry) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.AppendLog")
	defer span.End()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("op=job.append_log: %w", err)
	}
	q := `UPDATE jobs SET logs = logs || $2::jsonb WHERE id = $1`
	err = r.retry(ctx, func() error {
		tag, execErr := r.Pool.Exec(ctx, q, id, raw)
		if execErr != nil {
			return execErr
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=job.append_log: %w", err)
	}
	if r.Publisher != nil {
		r.Publisher.Publish(id, entry)
	}
	return nil
}

// ListByUser returns the user's jobs newest-first. status "" lists all.
func (r *JobRepo) ListByUser(ctx domain.Context, userID string, status domain.JobStatus) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListByUser")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id=$1 AND ($2 = '' OR status = $2) ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("op=job.list: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	return jobs, nil
}

// FindStuck returns in_progress jobs started before cutoff and pending jobs
// created before cutoff, for the watchdog sweep.
func (r *JobRepo) FindStuck(ctx domain.Context, cutoff time.Time) (inProgress, pending []domain.Job, err error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FindStuck")
	defer span.End()
	collect := func(q string) ([]domain.Job, error) {
		rows, qErr := r.Pool.Query(ctx, q, cutoff)
		if qErr != nil {
			return nil, qErr
		}
		defer rows.Close()
		var jobs []domain.Job
		for rows.Next() {
			j, scanErr := scanJob(rows)
			if scanErr != nil {
				return nil, scanErr
			}
			jobs = append(jobs, j)
		}
		return jobs, rows.Err()
	}
	inProgress, err = collect(`SELECT ` + jobColumns + ` FROM jobs WHERE status='in_progress' AND started_at < $1`)
	if err != nil {
		return nil, nil, fmt.Errorf("op=job.find_stuck: %w", err)
	}
	pending, err = collect(`SELECT ` + jobColumns + ` FROM jobs WHERE status='pending' AND created_at < $1`)
	if err != nil {
		return nil, nil, fmt.Errorf("op=job.find_stuck: %w", err)
	}
	return inProgress, pending, nil
}

// ListProducts returns the distinct products/topics across the user's jobs,
// in first-seen order.
func (r *JobRepo) ListProducts(ctx domain.Context, userID string) ([]string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListProducts")
	defer span.End()
	q := `SELECT COALESCE(parameters->>'product', parameters->>'topic') AS product
	FROM jobs WHERE user_id=$1
	GROUP BY product HAVING COALESCE(parameters->>'product', parameters->>'topic') <> ''
	ORDER BY MIN(created_at)`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_products: %w", err)
	}
	defer rows.Close()
	var products []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("op=job.list_products: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_products: %w", err)
	}
	return products, nil
}

// CountByStatus returns per-status job counts for a user.
func (r *JobRepo) CountByStatus(ctx domain.Context, userID string) (map[domain.JobStatus]int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CountByStatus")
	defer span.End()
	q := `SELECT status, COUNT(*) FROM jobs WHERE user_id=$1 GROUP BY status`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=job.count_by_status: %w", err)
	}
	defer rows.Close()
	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("op=job.count_by_status: %w", err)
		}
		counts[domain.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.count_by_status: %w", err)
	}
	return counts, nil
}
