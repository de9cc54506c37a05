package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"orchestrator/internal/domain"
)

// Memory is an in-memory implementation of the job and group repositories,
// used by tests and keyless local runs. All methods are safe for concurrent
// use; entities are copied on the way in and out so callers never share
// mutable state with the store.
type Memory struct {
	mu         sync.Mutex
	jobs       map[string]domain.Job
	groups     map[string]domain.GenerationGroup
	attempts   map[string]domain.Attempt
	scores     []domain.ScoreRecord
	iterations map[string][]domain.Iteration
	pendingIDs []string
}

func NewMemory() *Memory {
	return &Memory{
		jobs:       map[string]domain.Job{},
		groups:     map[string]domain.GenerationGroup{},
		attempts:   map[string]domain.Attempt{},
		iterations: map[string][]domain.Iteration{},
	}
}

var (
	_ domain.JobRepository   = (*Memory)(nil)
	_ domain.GroupRepository = (*Memory)(nil)
)

func (m *Memory) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	m.pendingIDs = append(m.pendingIDs, job.ID)
	return nil
}

func (m *Memory) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := job
	return &out, nil
}

func (m *Memory) Update(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	// The cancel flag is owned by RequestCancel; an in-flight state machine
	// write must not clear it.
	cancel := stored.CancelRequested || job.CancelRequested
	updated := *job
	updated.CancelRequested = cancel
	m.jobs[job.ID] = updated
	return nil
}

func (m *Memory) ClaimPending(ctx context.Context) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.pendingIDs {
		job, ok := m.jobs[id]
		if !ok || job.Status != domain.JobStatusPending {
			continue
		}
		job.Status = domain.JobStatusRunning
		m.jobs[id] = job
		m.pendingIDs = append(m.pendingIDs[:i], m.pendingIDs[i+1:]...)
		out := job
		return &out, nil
	}
	return nil, domain.ErrNotFound
}

func (m *Memory) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	reclaimed := 0
	for id, job := range m.jobs {
		if job.Status != domain.JobStatusRunning || job.UpdatedAt.After(cutoff) {
			continue
		}
		job.Status = domain.JobStatusPending
		job.UpdatedAt = time.Now().UTC()
		m.jobs[id] = job
		m.pendingIDs = append(m.pendingIDs, id)
		reclaimed++
	}
	return reclaimed, nil
}

func (m *Memory) RequestCancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.CancelRequested = true
	m.jobs[jobID] = job
	return nil
}

func (m *Memory) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	return job.CancelRequested, nil
}

func (m *Memory) CreateGroup(ctx context.Context, group *domain.GenerationGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = *group
	return nil
}

func (m *Memory) GetGroup(ctx context.Context, groupID string) (*domain.GenerationGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := group
	return &out, nil
}

func (m *Memory) ListGroupsByJob(ctx context.Context, jobID string) ([]domain.GenerationGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GenerationGroup
	for _, g := range m.groups {
		if g.JobID == jobID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (m *Memory) AddAttempts(ctx context.Context, attempts []domain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range attempts {
		m.attempts[a.ID] = a
	}
	return nil
}

func (m *Memory) GetAttempt(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := a
	return &out, nil
}

func (m *Memory) ListAttempts(ctx context.Context, groupID string) ([]domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Attempt
	for _, a := range m.attempts {
		if a.GroupID == groupID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) MarkUserBest(ctx context.Context, groupID, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.attempts[attemptID]
	if !ok || target.GroupID != groupID {
		return domain.ErrNotInGroup
	}
	for id, a := range m.attempts {
		if a.GroupID != groupID {
			continue
		}
		a.UserSelectedBest = id == attemptID
		m.attempts[id] = a
	}
	return nil
}

func (m *Memory) SetFinalAttempt(ctx context.Context, groupID, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return domain.ErrNotFound
	}
	attempt, ok := m.attempts[attemptID]
	if !ok || attempt.GroupID != groupID {
		return domain.ErrNotInGroup
	}
	group.FinalAttemptID = attemptID
	m.groups[groupID] = group
	return nil
}

func (m *Memory) SaveIterationResult(ctx context.Context, iter *domain.Iteration, scores []domain.ScoreRecord, systemBestID, finalAttemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[iter.GroupID]; !ok {
		return domain.ErrNotFound
	}
	m.iterations[iter.GroupID] = append(m.iterations[iter.GroupID], *iter)
	m.scores = append(m.scores, scores...)
	if systemBestID != "" {
		for id, a := range m.attempts {
			if a.GroupID != iter.GroupID || a.IterationIndex != iter.Index {
				continue
			}
			a.SystemSelectedBest = id == systemBestID
			m.attempts[id] = a
		}
	}
	if finalAttemptID != "" {
		group := m.groups[iter.GroupID]
		group.FinalAttemptID = finalAttemptID
		m.groups[iter.GroupID] = group
	}
	return nil
}

func (m *Memory) ListIterations(ctx context.Context, groupID string) ([]domain.Iteration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.iterations[groupID]
	out := make([]domain.Iteration, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *Memory) ListScores(ctx context.Context, groupID string) ([]domain.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attemptIDs := map[string]bool{}
	for id, a := range m.attempts {
		if a.GroupID == groupID {
			attemptIDs[id] = true
		}
	}
	var out []domain.ScoreRecord
	for _, r := range m.scores {
		if attemptIDs[r.AttemptID] {
			out = append(out, r)
		}
	}
	return out, nil
}
