// Package version owns the branching history of a generation group: it
// groups scoring rounds into iterations, keeps the movable final-attempt
// pointer, and layers regeneration rounds on top of existing history without
// ever deleting prior attempts.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
	"orchestrator/internal/scoring"
)

// Runner executes one batch of generation attempts. Implemented by the
// pipeline executor; abstracted here so regeneration does not depend on the
// pipeline package.
type Runner interface {
	Run(ctx context.Context, batch domain.AttemptBatch, cancelled func() bool) []domain.Attempt
}

// Manager records iterations and manages the final-version pointer. The
// iteration index of a group is assigned under a single-writer lock per
// group, so concurrent regenerate calls can never produce duplicate indices.
type Manager struct {
	jobs   domain.JobRepository
	groups domain.GroupRepository
	engine *scoring.Engine
	runner Runner
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(jobs domain.JobRepository, groups domain.GroupRepository, engine *scoring.Engine, runner Runner, logger zerolog.Logger) *Manager {
	return &Manager{
		jobs:   jobs,
		groups: groups,
		engine: engine,
		runner: runner,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
	}
}

func (m *Manager) groupLock(groupID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[groupID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[groupID] = lock
	}
	return lock
}

// RecordIteration appends one scoring round to the group's history. If the
// group has no final attempt yet it is set to the system-selected best; an
// already-set pointer is never moved here.
func (m *Manager) RecordIteration(ctx context.Context, groupID string, attemptIDs []string, sel scoring.SelectionResult, promptDelta string) (*domain.Iteration, error) {
	lock := m.groupLock(groupID)
	lock.Lock()
	defer lock.Unlock()
	return m.recordIterationLocked(ctx, groupID, attemptIDs, sel, promptDelta)
}

func (m *Manager) recordIterationLocked(ctx context.Context, groupID string, attemptIDs []string, sel scoring.SelectionResult, promptDelta string) (*domain.Iteration, error) {
	group, err := m.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	existing, err := m.groups.ListIterations(ctx, groupID)
	if err != nil {
		return nil, err
	}
	iter := &domain.Iteration{
		ID:                uuid.NewString(),
		GroupID:           groupID,
		Index:             len(existing) + 1,
		PromptDelta:       promptDelta,
		AttemptIDs:        attemptIDs,
		SelectedAttemptID: sel.BestAttemptID,
		Unscored:          sel.Unscored,
		CreatedAt:         time.Now().UTC(),
	}
	final := ""
	if group.FinalAttemptID == "" && sel.BestAttemptID != "" {
		final = sel.BestAttemptID
	}
	if err := m.groups.SaveIterationResult(ctx, iter, sel.Records, sel.BestAttemptID, final); err != nil {
		return nil, err
	}
	m.logger.Info().
		Str("group_id", groupID).
		Int("iteration", iter.Index).
		Str("selected", sel.BestAttemptID).
		Bool("unscored", sel.Unscored).
		Msg("version: iteration recorded")
	return iter, nil
}

// SetFinal reassigns the final pointer to an attempt of the same group and
// records the human selection on the attempt, leaving the system-selected
// flag intact. Idempotent: repeating the call with the same attempt is a
// no-op.
func (m *Manager) SetFinal(ctx context.Context, groupID, attemptID string) error {
	if err := m.engine.Override(ctx, groupID, attemptID); err != nil {
		return err
	}
	return m.groups.SetFinalAttempt(ctx, groupID, attemptID)
}

// IterationView is one history entry with the selected attempt's dimension
// values and their delta against the immediately preceding iteration.
type IterationView struct {
	domain.Iteration
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
	Deltas     map[string]float64 `json:"deltas,omitempty"`
}

// History returns the group's iterations in order, oldest first.
func (m *Manager) History(ctx context.Context, groupID string) ([]IterationView, error) {
	iterations, err := m.groups.ListIterations(ctx, groupID)
	if err != nil {
		return nil, err
	}
	scores, err := m.groups.ListScores(ctx, groupID)
	if err != nil {
		return nil, err
	}
	type acc struct {
		sum   float64
		count int
	}
	dimsByAttempt := map[string]map[string]*acc{}
	for _, r := range scores {
		dims, ok := dimsByAttempt[r.AttemptID]
		if !ok {
			dims = map[string]*acc{}
			dimsByAttempt[r.AttemptID] = dims
		}
		a, ok := dims[r.Dimension]
		if !ok {
			a = &acc{}
			dims[r.Dimension] = a
		}
		a.sum += r.Value
		a.count++
	}
	attemptDims := func(attemptID string) map[string]float64 {
		dims, ok := dimsByAttempt[attemptID]
		if !ok {
			return nil
		}
		out := make(map[string]float64, len(dims))
		for dim, a := range dims {
			out[dim] = a.sum / float64(a.count)
		}
		return out
	}

	sort.Slice(iterations, func(i, j int) bool { return iterations[i].Index < iterations[j].Index })
	views := make([]IterationView, 0, len(iterations))
	var prev map[string]float64
	for _, it := range iterations {
		dims := attemptDims(it.SelectedAttemptID)
		view := IterationView{Iteration: it, Dimensions: dims}
		if prev != nil && dims != nil {
			deltas := map[string]float64{}
			for dim, v := range dims {
				if pv, ok := prev[dim]; ok {
					deltas[dim] = v - pv
				}
			}
			view.Deltas = deltas
		}
		if dims != nil {
			prev = dims
		}
		views = append(views, view)
	}
	return views, nil
}

// Regenerate runs a fresh round of attempts for the group from an edited
// spec and records it as a new iteration on top of existing history. Prior
// iterations and artifacts are untouched; the final pointer only moves when
// the group had none. The whole round holds the group's writer lock.
func (m *Manager) Regenerate(ctx context.Context, groupID string, spec domain.RegenerateSpec) (*domain.Iteration, error) {
	if strings.TrimSpace(spec.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidSpec)
	}
	lock := m.groupLock(groupID)
	lock.Lock()
	defer lock.Unlock()

	group, err := m.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	job, err := m.jobs.Get(ctx, group.JobID)
	if err != nil {
		return nil, err
	}
	existing, err := m.groups.ListIterations(ctx, groupID)
	if err != nil {
		return nil, err
	}

	count := spec.Count
	if count <= 0 {
		count = job.Spec.AttemptsPerSlot()
	}
	batch := domain.AttemptBatch{
		Group:          *group,
		IterationIndex: len(existing) + 1,
		Specs: []domain.AttemptSpec{{
			PromptVariant:  spec.Prompt,
			NegativePrompt: spec.NegativePrompt,
			Seed:           spec.Seed,
			Provider:       spec.Provider,
			Count:          count,
		}},
		AspectRatio:     job.Spec.AspectRatio,
		DurationSeconds: m.slotDuration(job, group.Slot),
		SeedShared:      job.Spec.Options.SeedSharing,
	}
	attempts := m.runner.Run(ctx, batch, nil)
	if err := m.groups.AddAttempts(ctx, attempts); err != nil {
		return nil, err
	}
	if len(attempts) > 0 {
		for _, a := range attempts {
			job.CostCents += a.CostCents
		}
		if err := m.jobs.Update(ctx, job); err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("version: cost update failed")
		}
	}

	sel := m.engine.ScoreAndSelect(ctx, attempts, job.Spec.Options.ScorerWeights)
	ids := make([]string, len(attempts))
	for i, a := range attempts {
		ids[i] = a.ID
	}
	delta := fmt.Sprintf("regenerated with prompt %q", truncate(spec.Prompt, 120))
	return m.recordIterationLocked(ctx, groupID, ids, sel, delta)
}

// Snapshot is the read model of one group for review surfaces.
type Snapshot struct {
	Group      domain.GenerationGroup `json:"group"`
	Attempts   []domain.Attempt       `json:"attempts"`
	Scores     []domain.ScoreRecord   `json:"scores"`
	Iterations []IterationView        `json:"iterations"`
}

// GetGroup assembles the full read model: attempts, scores, the final
// pointer and the iteration history.
func (m *Manager) GetGroup(ctx context.Context, groupID string) (*Snapshot, error) {
	group, err := m.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	attempts, err := m.groups.ListAttempts(ctx, groupID)
	if err != nil {
		return nil, err
	}
	scores, err := m.groups.ListScores(ctx, groupID)
	if err != nil {
		return nil, err
	}
	history, err := m.History(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Group: *group, Attempts: attempts, Scores: scores, Iterations: history}, nil
}

func (m *Manager) slotDuration(job *domain.Job, slot string) int {
	var plan domain.Plan
	if len(job.PlanJSON) > 0 {
		if err := json.Unmarshal(job.PlanJSON, &plan); err == nil {
			for _, scene := range plan.Scenes {
				if fmt.Sprintf("scene-%d", scene.Number) == slot {
					return scene.DurationSeconds
				}
			}
		}
	}
	return 5
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
