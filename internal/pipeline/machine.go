// Package pipeline drives a generation job through its ordered stages:
// planning, fanned-out clip generation, quality scoring and assembly. The
// state machine owns every mutation of the job record; parallel units only
// write their own rows and report completion back through a channel that is
// drained by one serialized aggregation step.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
	"orchestrator/internal/providers/assembler"
	"orchestrator/internal/providers/planner"
	"orchestrator/internal/providers/prompt"
	"orchestrator/internal/scoring"
	"orchestrator/internal/version"
)

// Machine is the job state machine.
type Machine struct {
	jobs      domain.JobRepository
	groups    domain.GroupRepository
	enhancer  prompt.Enhancer
	planner   planner.Planner
	executor  *Executor
	engine    *scoring.Engine
	versions  *version.Manager
	assembler assembler.Assembler
	stages    []Stage
	priority  []string
	logger    zerolog.Logger
}

// Options wires the machine's collaborators.
type Options struct {
	Jobs             domain.JobRepository
	Groups           domain.GroupRepository
	Enhancer         prompt.Enhancer
	Planner          planner.Planner
	Executor         *Executor
	Engine           *scoring.Engine
	Versions         *version.Manager
	Assembler        assembler.Assembler
	Stages           []Stage
	ProviderPriority []string
	Logger           zerolog.Logger
}

func NewMachine(opts Options) *Machine {
	stages := opts.Stages
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	return &Machine{
		jobs:      opts.Jobs,
		groups:    opts.Groups,
		enhancer:  opts.Enhancer,
		planner:   opts.Planner,
		executor:  opts.Executor,
		engine:    opts.Engine,
		versions:  opts.Versions,
		assembler: opts.Assembler,
		stages:    stages,
		priority:  opts.ProviderPriority,
		logger:    opts.Logger,
	}
}

// Submit validates the spec and creates the job in pending state.
func (m *Machine) Submit(ctx context.Context, ownerID string, spec domain.JobSpec) (*domain.Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Spec:      spec,
		Stage:     domain.StagePending,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	m.logger.Info().Str("job_id", job.ID).Int("duration_s", spec.DurationSeconds).Msg("pipeline: job submitted")
	return job, nil
}

// Run drives the job from its current stage to a terminal status. A job that
// crashed mid-stage resumes from the last fully committed stage boundary.
func (m *Machine) Run(ctx context.Context, jobID string) error {
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	start := 0
	if i := stageIndex(m.stages, job.Stage); i >= 0 {
		start = i
	}
	for _, stage := range m.stages[start:] {
		if m.cancelRequested(ctx, job) {
			return m.failCancelled(ctx, job)
		}
		if err := m.advance(ctx, job, stage); err != nil {
			return err
		}
		stageFn := func(ctx context.Context) error { return m.runStage(ctx, job, stage) }
		if err := stage.Retry.Do(ctx, stageFn); err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				return m.failCancelled(ctx, job)
			}
			if errors.Is(err, context.Canceled) {
				// Process shutdown, not a user cancel. Leave the job at its
				// last committed stage so a later claim resumes it.
				return err
			}
			return m.failJob(ctx, job, err)
		}
		job.Progress = stage.EndProgress
		job.UpdatedAt = time.Now().UTC()
		if err := m.jobs.Update(ctx, job); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	job.Stage = domain.StageCompleted
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := m.jobs.Update(ctx, job); err != nil {
		return err
	}
	m.logger.Info().Str("job_id", job.ID).Int64("cost_cents", job.CostCents).Msg("pipeline: job completed")
	return nil
}

// advance persists one stage transition atomically.
func (m *Machine) advance(ctx context.Context, job *domain.Job, stage Stage) error {
	job.Stage = stage.Name
	job.Status = domain.JobStatusRunning
	if stage.StartProgress > job.Progress {
		job.Progress = stage.StartProgress
	}
	job.UpdatedAt = time.Now().UTC()
	if err := m.jobs.Update(ctx, job); err != nil {
		return err
	}
	m.logger.Info().Str("job_id", job.ID).Str("stage", string(stage.Name)).Msg("pipeline: stage started")
	return nil
}

func (m *Machine) runStage(ctx context.Context, job *domain.Job, stage Stage) error {
	switch stage.Name {
	case domain.StagePlanning:
		return m.runPlanning(ctx, job)
	case domain.StageGenerating:
		return m.runGenerating(ctx, job, stage)
	case domain.StageScoring:
		return m.runScoring(ctx, job)
	case domain.StageAssembling:
		return m.runAssembling(ctx, job)
	default:
		return fmt.Errorf("pipeline: unknown stage %q", stage.Name)
	}
}

func (m *Machine) runPlanning(ctx context.Context, job *domain.Job) error {
	enhanced, err := m.enhancer.Enhance(ctx, job.Spec.Prompt)
	if err != nil {
		// Enhancement is best-effort; the raw prompt still plans fine.
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: prompt enhancement failed, using raw prompt")
		enhanced = job.Spec.Prompt
	}
	scenes, err := m.planner.Plan(ctx, enhanced, job.Spec)
	if err != nil {
		return fmt.Errorf("plan scenes: %w", err)
	}
	plan := domain.Plan{EnhancedPrompt: enhanced}
	for _, s := range scenes {
		plan.Scenes = append(plan.Scenes, domain.PlanScene{
			Number:          s.Number,
			VisualPrompt:    s.VisualPrompt,
			DurationSeconds: s.DurationSeconds,
		})
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	job.PlanJSON = raw
	return nil
}

type slotResult struct {
	scene       domain.PlanScene
	group       domain.GenerationGroup
	createGroup bool
	attempts    []domain.Attempt
}

func (m *Machine) runGenerating(ctx context.Context, job *domain.Job, stage Stage) error {
	var plan domain.Plan
	if err := json.Unmarshal(job.PlanJSON, &plan); err != nil {
		return fmt.Errorf("decode plan: %w", err)
	}
	if len(plan.Scenes) == 0 {
		return fmt.Errorf("plan has no scenes")
	}

	total := len(plan.Scenes)
	completed := 0
	failedScene := 0
	var failedErrs error
	noteSlot := func(scene domain.PlanScene, attempts []domain.Attempt) {
		succeeded := 0
		for _, a := range attempts {
			if a.Status == domain.AttemptSucceeded {
				succeeded++
			}
		}
		if succeeded == 0 && (failedScene == 0 || scene.Number < failedScene) {
			failedScene = scene.Number
			failedErrs = nil
			for _, a := range attempts {
				if a.ErrorDetail != "" {
					failedErrs = multierror.Append(failedErrs, errors.New(a.ErrorDetail))
				}
			}
		}
	}

	// A resumed job may carry slots committed by an interrupted run. A slot
	// whose group and attempts both exist is reused as-is; a group that was
	// committed without attempts is filled in place. Only the remainder is
	// dispatched, so a resume never produces duplicate slots.
	existing, err := m.groups.ListGroupsByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	bySlot := make(map[string]domain.GenerationGroup, len(existing))
	for _, g := range existing {
		bySlot[g.Slot] = g
	}
	type pendingSlot struct {
		scene       domain.PlanScene
		group       domain.GenerationGroup
		createGroup bool
	}
	var pending []pendingSlot
	for _, scene := range plan.Scenes {
		slot := fmt.Sprintf("scene-%d", scene.Number)
		if g, ok := bySlot[slot]; ok {
			attempts, err := m.groups.ListAttempts(ctx, g.ID)
			if err != nil {
				return err
			}
			if len(attempts) > 0 {
				// Committed slot; its cost is already on the job record.
				noteSlot(scene, attempts)
				completed++
				continue
			}
			pending = append(pending, pendingSlot{scene: scene, group: g})
			continue
		}
		pending = append(pending, pendingSlot{
			scene: scene,
			group: domain.GenerationGroup{
				ID:        uuid.NewString(),
				JobID:     job.ID,
				Slot:      slot,
				Axis:      domain.AxisAutoRetry,
				CreatedAt: time.Now().UTC(),
			},
			createGroup: true,
		})
	}

	cancelled := func() bool { return m.cancelRequested(ctx, job) }
	// Buffered to the dispatch count so every scene goroutine can settle
	// even when aggregation returns early on a persistence error.
	results := make(chan slotResult, len(pending))
	for _, p := range pending {
		go func(p pendingSlot) {
			batch := domain.AttemptBatch{
				Group:           p.group,
				IterationIndex:  1,
				Specs:           m.attemptSpecs(job, p.scene),
				AspectRatio:     job.Spec.AspectRatio,
				DurationSeconds: p.scene.DurationSeconds,
				SeedShared:      job.Spec.Options.SeedSharing,
			}
			results <- slotResult{scene: p.scene, group: p.group, createGroup: p.createGroup, attempts: m.executor.Run(ctx, batch, cancelled)}
		}(p)
	}

	// Single serialized aggregation step: parallel slots only report their
	// own completion here; nothing else mutates the job record.
	for range pending {
		res := <-results
		if res.createGroup {
			if err := m.groups.CreateGroup(ctx, &res.group); err != nil {
				return err
			}
		}
		if err := m.groups.AddAttempts(ctx, res.attempts); err != nil {
			return err
		}
		for _, a := range res.attempts {
			job.CostCents += a.CostCents
		}
		noteSlot(res.scene, res.attempts)
		completed++
		span := stage.EndProgress - stage.StartProgress
		job.Progress = stage.StartProgress + span*completed/total
		job.UpdatedAt = time.Now().UTC()
		if err := m.jobs.Update(ctx, job); err != nil {
			return err
		}
	}

	if m.cancelRequested(ctx, job) {
		// Dispatched attempts have drained and their cost is committed.
		return domain.ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		// Shutdown mid-generation: committed slots stand, the job resumes.
		return err
	}
	if failedScene > 0 {
		return &SlotFailureError{Scene: failedScene, Errs: failedErrs}
	}
	return nil
}

func (m *Machine) attemptSpecs(job *domain.Job, scene domain.PlanScene) []domain.AttemptSpec {
	provider := ""
	if len(m.priority) > 0 {
		provider = m.priority[0]
	}
	return []domain.AttemptSpec{{
		PromptVariant: scene.VisualPrompt,
		Seed:          baseSeed(job.ID, scene.Number),
		Provider:      provider,
		Count:         job.Spec.AttemptsPerSlot(),
	}}
}

// baseSeed derives a stable per-slot seed so reruns of the same job are
// reproducible when seed sharing is on.
func baseSeed(jobID string, scene int) int64 {
	var h int64 = 1125899906842597
	for _, c := range jobID {
		h = h*31 + int64(c)
	}
	if h < 0 {
		h = -h
	}
	return h + int64(scene)*1000
}

func (m *Machine) runScoring(ctx context.Context, job *domain.Job) error {
	groups, err := m.groups.ListGroupsByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	sort.Slice(groups, func(i, j int) bool { return sceneOf(groups[i].Slot) < sceneOf(groups[j].Slot) })
	for _, group := range groups {
		if m.cancelRequested(ctx, job) {
			return domain.ErrCancelled
		}
		attempts, err := m.groups.ListAttempts(ctx, group.ID)
		if err != nil {
			return err
		}
		sel := m.engine.ScoreAndSelect(ctx, attempts, job.Spec.Options.ScorerWeights)
		ids := make([]string, len(attempts))
		for i, a := range attempts {
			ids[i] = a.ID
		}
		if _, err := m.versions.RecordIteration(ctx, group.ID, ids, sel, "initial generation"); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) runAssembling(ctx context.Context, job *domain.Job) error {
	groups, err := m.groups.ListGroupsByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	sort.Slice(groups, func(i, j int) bool { return sceneOf(groups[i].Slot) < sceneOf(groups[j].Slot) })
	refs := make([]string, 0, len(groups))
	for _, group := range groups {
		if group.FinalAttemptID == "" {
			return fmt.Errorf("group %s has no final attempt", group.ID)
		}
		attempt, err := m.groups.GetAttempt(ctx, group.FinalAttemptID)
		if err != nil {
			return err
		}
		refs = append(refs, attempt.ArtifactRef)
	}
	if m.cancelRequested(ctx, job) {
		return domain.ErrCancelled
	}
	finalRef, err := m.assembler.Assemble(ctx, refs, assembler.AssemblySpec{
		OutputKey:             fmt.Sprintf("renders/%s/final.json", job.ID),
		AspectRatio:           job.Spec.AspectRatio,
		TargetDurationSeconds: job.Spec.DurationSeconds,
	})
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	result, err := json.Marshal(map[string]any{"artifact_ref": finalRef, "clips": refs})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	job.ResultJSON = result
	return nil
}

func sceneOf(slot string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(slot, "scene-"))
	return n
}

func (m *Machine) cancelRequested(ctx context.Context, job *domain.Job) bool {
	if job.CancelRequested {
		return true
	}
	requested, err := m.jobs.CancelRequested(ctx, job.ID)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: cancel flag check failed")
		return false
	}
	if requested {
		job.CancelRequested = true
	}
	return requested
}

func (m *Machine) failCancelled(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	job.Status = domain.JobStatusCancelled
	job.ErrorMessage = "Cancelled by user"
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := m.jobs.Update(ctx, job); err != nil {
		return err
	}
	m.logger.Info().Str("job_id", job.ID).Msg("pipeline: job cancelled")
	return nil
}

func (m *Machine) failJob(ctx context.Context, job *domain.Job, cause error) error {
	now := time.Now().UTC()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = userMessage(job.Stage, cause)
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := m.jobs.Update(ctx, job); err != nil {
		return err
	}
	// Full provider detail stays in the log and on the attempt rows only.
	m.logger.Error().Err(cause).Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("pipeline: job failed")
	return nil
}

// SlotFailureError reports that every attempt of a required slot failed.
type SlotFailureError struct {
	Scene int
	Errs  error
}

func (e *SlotFailureError) Error() string {
	return fmt.Sprintf("all attempts failed for scene %d: %v", e.Scene, e.Errs)
}

func (e *SlotFailureError) Unwrap() error { return domain.ErrTotalSlotFailure }

// userMessage maps an internal failure to the short, non-technical string
// surfaced on the job.
func userMessage(stage domain.StageName, err error) string {
	var slotErr *SlotFailureError
	if errors.As(err, &slotErr) {
		return fmt.Sprintf("Video generation failed for scene %d", slotErr.Scene)
	}
	switch stage {
	case domain.StagePlanning:
		return "Scene planning failed"
	case domain.StageGenerating:
		return "Video generation failed"
	case domain.StageScoring:
		return "Quality scoring failed"
	case domain.StageAssembling:
		return "Video assembly failed"
	default:
		return "Video generation failed"
	}
}

// StatusView is the polled read model of a job.
type StatusView struct {
	JobID        string           `json:"job_id"`
	Status       domain.JobStatus `json:"status"`
	Progress     int              `json:"progress"`
	CurrentStep  string           `json:"current_step"`
	CostCents    int64            `json:"cost_cents"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Status returns the job's current state. Read-only and cheap; safe to poll.
// An internally cancelled job is surfaced as failed with its cancel reason.
func (m *Machine) Status(ctx context.Context, jobID string) (*StatusView, error) {
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	status := job.Status
	if status == domain.JobStatusCancelled {
		status = domain.JobStatusFailed
	}
	return &StatusView{
		JobID:        job.ID,
		Status:       status,
		Progress:     job.Progress,
		CurrentStep:  string(job.Stage),
		CostCents:    job.CostCents,
		ErrorMessage: job.ErrorMessage,
	}, nil
}

// RequestCancel flags the job for cooperative cancellation. Best-effort: a
// job that already completed keeps its result and billing; in-flight
// provider calls are not aborted.
func (m *Machine) RequestCancel(ctx context.Context, jobID string) (*StatusView, error) {
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		if err := m.jobs.RequestCancel(ctx, jobID); err != nil {
			return nil, err
		}
	}
	return m.Status(ctx, jobID)
}
