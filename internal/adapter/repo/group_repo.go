package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orchestrator/internal/domain"
)

func durationFromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// GroupRepositoryPG implements domain.GroupRepository.
type GroupRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGroupRepository creates a new group repository backed by PostgreSQL.
func NewGroupRepository(pool *pgxpool.Pool) *GroupRepositoryPG {
	return &GroupRepositoryPG{pool: pool}
}

var _ domain.GroupRepository = (*GroupRepositoryPG)(nil)

func (r *GroupRepositoryPG) CreateGroup(ctx context.Context, group *domain.GenerationGroup) error {
	query := `
INSERT INTO generation_groups (id, job_id, slot, axis, final_attempt_id, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6);
`
	_, err := r.pool.Exec(ctx, query, group.ID, group.JobID, group.Slot, group.Axis, group.FinalAttemptID, group.CreatedAt)
	return err
}

func (r *GroupRepositoryPG) GetGroup(ctx context.Context, groupID string) (*domain.GenerationGroup, error) {
	query := `
SELECT id, job_id, slot, axis, COALESCE(final_attempt_id, ''), created_at
FROM generation_groups
WHERE id = $1;
`
	var g domain.GenerationGroup
	err := r.pool.QueryRow(ctx, query, groupID).Scan(&g.ID, &g.JobID, &g.Slot, &g.Axis, &g.FinalAttemptID, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

func (r *GroupRepositoryPG) ListGroupsByJob(ctx context.Context, jobID string) ([]domain.GenerationGroup, error) {
	query := `
SELECT id, job_id, slot, axis, COALESCE(final_attempt_id, ''), created_at
FROM generation_groups
WHERE job_id = $1
ORDER BY slot;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.GenerationGroup
	for rows.Next() {
		var g domain.GenerationGroup
		if err := rows.Scan(&g.ID, &g.JobID, &g.Slot, &g.Axis, &g.FinalAttemptID, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const insertAttemptSQL = `
INSERT INTO attempts (id, group_id, iteration_index, prompt_variant, negative_prompt, seed, provider, model, artifact_ref, status, error_detail, error_class, cost_cents, duration_ms, system_selected_best, user_selected_best, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);
`

func (r *GroupRepositoryPG) AddAttempts(ctx context.Context, attempts []domain.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, a := range attempts {
		if _, err := tx.Exec(ctx, insertAttemptSQL,
			a.ID, a.GroupID, a.IterationIndex,
			a.Params.PromptVariant, a.Params.NegativePrompt, a.Params.Seed, a.Params.Provider, a.Params.Model,
			a.ArtifactRef, a.Status, a.ErrorDetail, a.ErrorClass,
			a.CostCents, a.Duration.Milliseconds(),
			a.SystemSelectedBest, a.UserSelectedBest, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert attempt %s: %w", a.ID, err)
		}
	}
	return tx.Commit(ctx)
}

const selectAttemptSQL = `
SELECT id, group_id, iteration_index, prompt_variant, negative_prompt, seed, provider, model, artifact_ref, status, error_detail, error_class, cost_cents, duration_ms, system_selected_best, user_selected_best, created_at
FROM attempts
`

func (r *GroupRepositoryPG) GetAttempt(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	row := r.pool.QueryRow(ctx, selectAttemptSQL+`WHERE id = $1;`, attemptID)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *GroupRepositoryPG) ListAttempts(ctx context.Context, groupID string) ([]domain.Attempt, error) {
	rows, err := r.pool.Query(ctx, selectAttemptSQL+`WHERE group_id = $1 ORDER BY created_at, id;`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAttempt(row pgx.Row) (*domain.Attempt, error) {
	var a domain.Attempt
	var durationMS int64
	if err := row.Scan(
		&a.ID, &a.GroupID, &a.IterationIndex,
		&a.Params.PromptVariant, &a.Params.NegativePrompt, &a.Params.Seed, &a.Params.Provider, &a.Params.Model,
		&a.ArtifactRef, &a.Status, &a.ErrorDetail, &a.ErrorClass,
		&a.CostCents, &durationMS,
		&a.SystemSelectedBest, &a.UserSelectedBest, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.Duration = durationFromMillis(durationMS)
	return &a, nil
}

// MarkUserBest flips the user-selected flag to the given attempt, keeping the
// group invariant of exactly one user selection.
func (r *GroupRepositoryPG) MarkUserBest(ctx context.Context, groupID, attemptID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE attempts SET user_selected_best = FALSE WHERE group_id = $1;`, groupID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE attempts SET user_selected_best = TRUE WHERE id = $1 AND group_id = $2;`, attemptID, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInGroup
	}
	return tx.Commit(ctx)
}

// SetFinalAttempt moves the final pointer; the membership predicate keeps the
// pointer inside the group at the database level too.
func (r *GroupRepositoryPG) SetFinalAttempt(ctx context.Context, groupID, attemptID string) error {
	query := `
UPDATE generation_groups
SET final_attempt_id = $2
WHERE id = $1
  AND EXISTS (SELECT 1 FROM attempts WHERE id = $2 AND group_id = $1);
`
	tag, err := r.pool.Exec(ctx, query, groupID, attemptID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInGroup
	}
	return nil
}

// SaveIterationResult commits one scoring round in a single transaction.
func (r *GroupRepositoryPG) SaveIterationResult(ctx context.Context, iter *domain.Iteration, scores []domain.ScoreRecord, systemBestID, finalAttemptID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO iterations (id, group_id, index, prompt_delta, attempt_ids, selected_attempt_id, unscored, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8);
`, iter.ID, iter.GroupID, iter.Index, iter.PromptDelta, iter.AttemptIDs, iter.SelectedAttemptID, iter.Unscored, iter.CreatedAt); err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}

	for _, s := range scores {
		if _, err := tx.Exec(ctx, `
INSERT INTO score_records (attempt_id, dimension, value, scorer, created_at)
VALUES ($1, $2, $3, $4, $5);
`, s.AttemptID, s.Dimension, s.Value, s.Scorer, s.CreatedAt); err != nil {
			return fmt.Errorf("insert score record: %w", err)
		}
	}

	if systemBestID != "" {
		if _, err := tx.Exec(ctx, `
UPDATE attempts SET system_selected_best = (id = $1)
WHERE group_id = $2 AND iteration_index = $3;
`, systemBestID, iter.GroupID, iter.Index); err != nil {
			return fmt.Errorf("mark system best: %w", err)
		}
	}

	if finalAttemptID != "" {
		if _, err := tx.Exec(ctx, `
UPDATE generation_groups SET final_attempt_id = $2 WHERE id = $1;
`, iter.GroupID, finalAttemptID); err != nil {
			return fmt.Errorf("set final attempt: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *GroupRepositoryPG) ListIterations(ctx context.Context, groupID string) ([]domain.Iteration, error) {
	query := `
SELECT id, group_id, index, prompt_delta, attempt_ids, COALESCE(selected_attempt_id, ''), unscored, created_at
FROM iterations
WHERE group_id = $1
ORDER BY index;
`
	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Iteration
	for rows.Next() {
		var it domain.Iteration
		if err := rows.Scan(&it.ID, &it.GroupID, &it.Index, &it.PromptDelta, &it.AttemptIDs, &it.SelectedAttemptID, &it.Unscored, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *GroupRepositoryPG) ListScores(ctx context.Context, groupID string) ([]domain.ScoreRecord, error) {
	query := `
SELECT s.attempt_id, s.dimension, s.value, s.scorer, s.created_at
FROM score_records s
JOIN attempts a ON a.id = s.attempt_id
WHERE a.group_id = $1
ORDER BY s.created_at;
`
	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ScoreRecord
	for rows.Next() {
		var s domain.ScoreRecord
		if err := rows.Scan(&s.AttemptID, &s.Dimension, &s.Value, &s.Scorer, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
