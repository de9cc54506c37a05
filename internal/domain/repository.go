package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for jobs. Update persists the whole
// mutable surface of a job (stage, status, progress, cost, payloads) so one
// stage transition is one atomic write.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	// ClaimPending atomically picks one pending job and moves it to running
	// so concurrent workers never claim the same job. Returns ErrNotFound
	// when the queue is empty.
	ClaimPending(ctx context.Context) (*Job, error)
	// ReclaimStale moves running jobs that have not been touched for
	// olderThan back to pending. A worker killed mid-stage leaves its job
	// in running; reclaiming lets another worker resume it from the last
	// committed stage boundary.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
	RequestCancel(ctx context.Context, jobID string) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}

// GroupRepository defines persistence for generation groups and everything
// they own: attempts, score records and iterations.
type GroupRepository interface {
	CreateGroup(ctx context.Context, group *GenerationGroup) error
	GetGroup(ctx context.Context, groupID string) (*GenerationGroup, error)
	ListGroupsByJob(ctx context.Context, jobID string) ([]GenerationGroup, error)

	AddAttempts(ctx context.Context, attempts []Attempt) error
	GetAttempt(ctx context.Context, attemptID string) (*Attempt, error)
	ListAttempts(ctx context.Context, groupID string) ([]Attempt, error)
	MarkUserBest(ctx context.Context, groupID, attemptID string) error

	SetFinalAttempt(ctx context.Context, groupID, attemptID string) error

	// SaveIterationResult commits one scoring round atomically: the iteration
	// record, its score records, the system-best flag on the winning attempt
	// and, when finalAttemptID is non-empty, the group's final pointer.
	SaveIterationResult(ctx context.Context, iter *Iteration, scores []ScoreRecord, systemBestID, finalAttemptID string) error
	ListIterations(ctx context.Context, groupID string) ([]Iteration, error)
	ListScores(ctx context.Context, groupID string) ([]ScoreRecord, error)
}
