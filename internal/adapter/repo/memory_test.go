package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/domain"
)

func TestMemoryClaimPending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, &domain.Job{ID: "j1", Status: domain.JobStatusPending}))
	require.NoError(t, m.Create(ctx, &domain.Job{ID: "j2", Status: domain.JobStatusPending}))

	first, err := m.ClaimPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", first.ID)
	assert.Equal(t, domain.JobStatusRunning, first.Status)

	second, err := m.ClaimPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j2", second.ID)

	_, err = m.ClaimPending(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryReclaimStale(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	require.NoError(t, m.Create(ctx, &domain.Job{ID: "j1", Status: domain.JobStatusPending}))
	claimed, err := m.ClaimPending(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, &domain.Job{ID: claimed.ID, Status: domain.JobStatusRunning, UpdatedAt: now.Add(-time.Hour)}))

	// A recently touched running job stays claimed.
	n, err := m.ReclaimStale(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.ReclaimStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := m.ClaimPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", again.ID)
	assert.Equal(t, domain.JobStatusRunning, again.Status)
}

func TestMemoryUpdatePreservesCancelFlag(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, &domain.Job{ID: "j1", Status: domain.JobStatusRunning}))
	require.NoError(t, m.RequestCancel(ctx, "j1"))

	// A state machine write carrying a stale copy must not clear the flag.
	stale := &domain.Job{ID: "j1", Status: domain.JobStatusRunning, Progress: 40}
	require.NoError(t, m.Update(ctx, stale))

	requested, err := m.CancelRequested(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestMemoryMarkUserBestIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateGroup(ctx, &domain.GenerationGroup{ID: "g1", JobID: "j1"}))
	require.NoError(t, m.AddAttempts(ctx, []domain.Attempt{
		{ID: "a1", GroupID: "g1", UserSelectedBest: true},
		{ID: "a2", GroupID: "g1"},
	}))

	require.NoError(t, m.MarkUserBest(ctx, "g1", "a2"))

	a1, err := m.GetAttempt(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, a1.UserSelectedBest)
	a2, err := m.GetAttempt(ctx, "a2")
	require.NoError(t, err)
	assert.True(t, a2.UserSelectedBest)

	assert.ErrorIs(t, m.MarkUserBest(ctx, "g1", "missing"), domain.ErrNotInGroup)
}

func TestMemorySaveIterationResult(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateGroup(ctx, &domain.GenerationGroup{ID: "g1", JobID: "j1"}))
	require.NoError(t, m.AddAttempts(ctx, []domain.Attempt{
		{ID: "a1", GroupID: "g1", IterationIndex: 1},
		{ID: "a2", GroupID: "g1", IterationIndex: 1, SystemSelectedBest: true},
		{ID: "b1", GroupID: "g1", IterationIndex: 2},
	}))

	iter := &domain.Iteration{ID: "it1", GroupID: "g1", Index: 1, AttemptIDs: []string{"a1", "a2"}, SelectedAttemptID: "a1", CreatedAt: time.Now().UTC()}
	scores := []domain.ScoreRecord{{AttemptID: "a1", Dimension: "visual_quality", Value: 80, Scorer: "stub"}}
	require.NoError(t, m.SaveIterationResult(ctx, iter, scores, "a1", "a1"))

	// The system-best flag moved within iteration 1; iteration 2 is untouched.
	a1, _ := m.GetAttempt(ctx, "a1")
	a2, _ := m.GetAttempt(ctx, "a2")
	b1, _ := m.GetAttempt(ctx, "b1")
	assert.True(t, a1.SystemSelectedBest)
	assert.False(t, a2.SystemSelectedBest)
	assert.False(t, b1.SystemSelectedBest)

	group, err := m.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "a1", group.FinalAttemptID)

	iterations, err := m.ListIterations(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, iterations, 1)
	assert.Equal(t, []string{"a1", "a2"}, iterations[0].AttemptIDs)

	stored, err := m.ListScores(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 80.0, stored[0].Value)

	assert.ErrorIs(t, m.SaveIterationResult(ctx, &domain.Iteration{GroupID: "nope"}, nil, "", ""), domain.ErrNotFound)
}

func TestMemoryListAttemptsIsOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	require.NoError(t, m.AddAttempts(ctx, []domain.Attempt{
		{ID: "c", GroupID: "g1", CreatedAt: now.Add(time.Second)},
		{ID: "b", GroupID: "g1", CreatedAt: now},
		{ID: "a", GroupID: "g1", CreatedAt: now},
		{ID: "x", GroupID: "g2", CreatedAt: now},
	}))

	attempts, err := m.ListAttempts(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, "a", attempts[0].ID)
	assert.Equal(t, "b", attempts[1].ID)
	assert.Equal(t, "c", attempts[2].ID)
}

func TestMemoryCopiesOnReturn(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, &domain.Job{ID: "j1", Status: domain.JobStatusPending}))

	got, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	got.Status = domain.JobStatusFailed

	again, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, again.Status)
}
