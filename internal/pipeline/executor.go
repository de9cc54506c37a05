package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"orchestrator/internal/domain"
	"orchestrator/internal/providers/video"
)

// Executor fans out generation attempts with bounded parallelism. The bound
// is shared across batches so parallel slots of one job (or of many jobs in
// one worker) never exceed the provider rate budget together.
//
// The fan-out is fail-soft: each attempt settles as a succeeded or failed
// Attempt row, one task's failure never aborts its siblings, and Run returns
// only once every dispatched task has drained.
type Executor struct {
	generators map[string]video.Generator
	priority   []string
	retry      RetryPolicy
	sem        *semaphore.Weighted
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewExecutor builds an executor over the provider registry. priority is the
// fallback order used when a requested provider is missing or returns a
// permanent error.
func NewExecutor(generators map[string]video.Generator, priority []string, maxInFlight int64, retry RetryPolicy, timeout time.Duration, logger zerolog.Logger) *Executor {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Executor{
		generators: generators,
		priority:   priority,
		retry:      retry,
		sem:        semaphore.NewWeighted(maxInFlight),
		timeout:    timeout,
		logger:     logger,
	}
}

// Run executes every attempt of the batch and returns all results, successes
// and failures alike. cancelled is polled before each dispatch; once it
// reports true no new attempts start, but in-flight calls are allowed to
// drain (best-effort cancellation: dispatched work may still complete and be
// billed).
func (e *Executor) Run(ctx context.Context, batch domain.AttemptBatch, cancelled func() bool) []domain.Attempt {
	total := 0
	for _, spec := range batch.Specs {
		if spec.Count < 1 {
			total++
			continue
		}
		total += spec.Count
	}
	// Buffered to the batch size so workers never block on the send while
	// holding a semaphore slot; the dispatch loop must stay free to acquire.
	results := make(chan domain.Attempt, total)
	var wg sync.WaitGroup

	dispatched := 0
dispatch:
	for _, spec := range batch.Specs {
		count := spec.Count
		if count < 1 {
			count = 1
		}
		for ordinal := 0; ordinal < count; ordinal++ {
			if cancelled != nil && cancelled() {
				break dispatch
			}
			if err := e.sem.Acquire(ctx, 1); err != nil {
				break dispatch
			}
			if cancelled != nil && cancelled() {
				e.sem.Release(1)
				break dispatch
			}
			wg.Add(1)
			dispatched++
			go func(spec domain.AttemptSpec, ordinal int) {
				defer wg.Done()
				defer e.sem.Release(1)
				results <- e.runAttempt(ctx, batch, spec, ordinal, cancelled)
			}(spec, ordinal)
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	attempts := make([]domain.Attempt, 0, dispatched)
	for a := range results {
		attempts = append(attempts, a)
	}
	// Completion order is unspecified; return a stable order so callers and
	// tests never depend on scheduling.
	sort.Slice(attempts, func(i, j int) bool {
		if !attempts[i].CreatedAt.Equal(attempts[j].CreatedAt) {
			return attempts[i].CreatedAt.Before(attempts[j].CreatedAt)
		}
		return attempts[i].ID < attempts[j].ID
	})
	return attempts
}

func (e *Executor) runAttempt(ctx context.Context, batch domain.AttemptBatch, spec domain.AttemptSpec, ordinal int, cancelled func() bool) domain.Attempt {
	seed := spec.Seed
	if !batch.SeedShared {
		seed += int64(ordinal)
	}
	attempt := domain.Attempt{
		ID:             uuid.NewString(),
		GroupID:        batch.Group.ID,
		IterationIndex: batch.IterationIndex,
		Params: domain.AttemptParams{
			PromptVariant:  spec.PromptVariant,
			NegativePrompt: spec.NegativePrompt,
			Seed:           seed,
			Provider:       spec.Provider,
		},
		Status:    domain.AttemptFailed,
		CreatedAt: time.Now().UTC(),
	}

	req := video.GenerateRequest{
		Prompt:          spec.PromptVariant,
		NegativePrompt:  spec.NegativePrompt,
		Seed:            seed,
		AspectRatio:     batch.AspectRatio,
		DurationSeconds: batch.DurationSeconds,
		RequestID:       attempt.ID,
	}

	start := time.Now()
	clip, providerUsed, err := e.generateWithFallback(ctx, req, spec.Provider, cancelled)
	attempt.Duration = time.Since(start)
	if providerUsed != "" {
		attempt.Params.Provider = providerUsed
	}
	if err != nil {
		attempt.ErrorDetail = err.Error()
		attempt.ErrorClass = domain.ClassifyAttemptError(err)
		e.logger.Warn().Err(err).
			Str("group_id", batch.Group.ID).
			Str("slot", batch.Group.Slot).
			Str("provider", attempt.Params.Provider).
			Msg("executor: attempt failed")
		return attempt
	}
	attempt.Status = domain.AttemptSucceeded
	attempt.ArtifactRef = clip.ArtifactRef
	attempt.CostCents = clip.CostCents
	return attempt
}

// generateWithFallback tries the requested provider first, then walks the
// priority list when the provider is not configured or fails with a
// permanent error class. Transient exhaustion stays a failure of that
// attempt; it does not burn budget on further providers.
func (e *Executor) generateWithFallback(ctx context.Context, req video.GenerateRequest, requested string, cancelled func() bool) (*video.Clip, string, error) {
	chain := e.providerChain(requested)
	if len(chain) == 0 {
		return nil, requested, fmt.Errorf("executor: no provider configured: %w", domain.ErrProviderPermanent)
	}
	var lastErr error
	lastProvider := requested
	for _, name := range chain {
		gen := e.generators[name]
		clip, err := e.generateOnce(ctx, gen, req, cancelled)
		if err == nil {
			return clip, name, nil
		}
		lastErr = err
		lastProvider = name
		if !errors.Is(err, domain.ErrProviderPermanent) {
			break
		}
		e.logger.Info().Err(err).
			Str("provider", name).
			Msg("executor: permanent provider error, falling back")
	}
	return nil, lastProvider, lastErr
}

// generateOnce applies the retry policy and the per-call deadline to one
// provider. The external call is the only suspension point of an attempt.
// The cancellation flag is re-checked before every call so a cancel raised
// mid-attempt stops the retry loop instead of burning the remaining budget.
func (e *Executor) generateOnce(ctx context.Context, gen video.Generator, req video.GenerateRequest, cancelled func() bool) (*video.Clip, error) {
	var clip *video.Clip
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		if cancelled != nil && cancelled() {
			return fmt.Errorf("executor: attempt abandoned: %w", domain.ErrCancelled)
		}
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		out, err := gen.Generate(callCtx, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("executor: provider %s timed out: %w", gen.Name(), context.DeadlineExceeded)
			}
			return err
		}
		clip = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clip, nil
}

func (e *Executor) providerChain(requested string) []string {
	chain := make([]string, 0, len(e.priority)+1)
	seen := map[string]bool{}
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		if _, ok := e.generators[name]; !ok {
			return
		}
		seen[name] = true
		chain = append(chain, name)
	}
	add(requested)
	for _, name := range e.priority {
		add(name)
	}
	return chain
}
