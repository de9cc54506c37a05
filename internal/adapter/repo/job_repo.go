package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orchestrator/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	spec, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}
	query := `
INSERT INTO jobs (id, owner_id, spec_json, stage, status, progress, cost_cents, error_message, plan_json, result_json, cancel_requested, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.OwnerID,
		spec,
		job.Stage,
		job.Status,
		job.Progress,
		job.CostCents,
		job.ErrorMessage,
		nullableBytes(job.PlanJSON),
		nullableBytes(job.ResultJSON),
		job.CancelRequested,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Update persists the job's full mutable surface in one statement so a stage
// transition is a single atomic write. The cancel flag is only ever raised,
// never cleared, to avoid losing a cancellation that raced this write.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.Job) error {
	query := `
UPDATE jobs
SET stage = $2,
    status = $3,
    progress = $4,
    cost_cents = $5,
    error_message = $6,
    plan_json = COALESCE($7, plan_json),
    result_json = COALESCE($8, result_json),
    cancel_requested = cancel_requested OR $9,
    completed_at = COALESCE($10, completed_at),
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Stage,
		job.Status,
		job.Progress,
		job.CostCents,
		job.ErrorMessage,
		nullableBytes(job.PlanJSON),
		nullableBytes(job.ResultJSON),
		job.CancelRequested,
		job.CompletedAt,
	)
	return err
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, owner_id, spec_json, stage, status, progress, cost_cents, error_message, plan_json, result_json, cancel_requested, created_at, updated_at, completed_at
FROM jobs
WHERE id = $1;
`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// ClaimPending atomically claims the oldest pending job using
// FOR UPDATE SKIP LOCKED so concurrent workers never pick the same job.
func (r *JobRepositoryPG) ClaimPending(ctx context.Context) (*domain.Job, error) {
	query := `
UPDATE jobs
SET status = 'running', updated_at = NOW()
WHERE id = (
    SELECT id FROM jobs
    WHERE status = 'pending'
    ORDER BY created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING id, owner_id, spec_json, stage, status, progress, cost_cents, error_message, plan_json, result_json, cancel_requested, created_at, updated_at, completed_at;
`
	return r.scanJob(r.pool.QueryRow(ctx, query))
}

// ReclaimStale returns running jobs abandoned by a dead worker to pending so
// another claim can resume them from the last committed stage boundary.
func (r *JobRepositoryPG) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
UPDATE jobs
SET status = 'pending', updated_at = NOW()
WHERE status = 'running'
  AND updated_at < NOW() - make_interval(secs => $1);
`
	tag, err := r.pool.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// RequestCancel raises the cooperative cancellation flag.
func (r *JobRepositoryPG) RequestCancel(ctx context.Context, jobID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE jobs SET cancel_requested = TRUE, updated_at = NOW() WHERE id = $1;`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CancelRequested reads the cancellation flag.
func (r *JobRepositoryPG) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := r.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1;`, jobID).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrNotFound
		}
		return false, err
	}
	return requested, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *JobRepositoryPG) scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var spec []byte
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&spec,
		&job.Stage,
		&job.Status,
		&job.Progress,
		&job.CostCents,
		&job.ErrorMessage,
		&job.PlanJSON,
		&job.ResultJSON,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(spec, &job.Spec); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
