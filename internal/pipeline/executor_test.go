package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/domain"
	"orchestrator/internal/providers/video"
)

// stubGenerator is a scriptable video.Generator shared by the executor and
// state machine tests. It records concurrency and the seeds it was called
// with; failSubstr makes prompts containing the substring fail with err.
type stubGenerator struct {
	name       string
	delay      time.Duration
	err        error
	failSubstr string
	costCents  int64
	onCall     func()

	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	seeds       []int64
}

func (g *stubGenerator) Name() string { return g.name }

func (g *stubGenerator) Generate(ctx context.Context, req video.GenerateRequest) (*video.Clip, error) {
	g.mu.Lock()
	g.calls++
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.seeds = append(g.seeds, req.Seed)
	g.mu.Unlock()

	if g.onCall != nil {
		g.onCall()
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()

	if g.failSubstr != "" && strings.Contains(req.Prompt, g.failSubstr) {
		return nil, g.failErr()
	}
	if g.failSubstr == "" && g.err != nil {
		return nil, g.err
	}
	return &video.Clip{
		ArtifactRef:     "clips/" + req.RequestID + ".mp4",
		Format:          "video/mp4",
		DurationSeconds: req.DurationSeconds,
		CostCents:       g.costCents,
	}, nil
}

func (g *stubGenerator) failErr() error {
	if g.err != nil {
		return g.err
	}
	return domain.ErrProviderTransient
}

func (g *stubGenerator) stats() (calls, maxInFlight int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls, g.maxInFlight
}

func testBatch(specs ...domain.AttemptSpec) domain.AttemptBatch {
	return domain.AttemptBatch{
		Group:           domain.GenerationGroup{ID: "g1", JobID: "j1", Slot: "scene-1", Axis: domain.AxisAutoRetry},
		IterationIndex:  1,
		Specs:           specs,
		AspectRatio:     "16:9",
		DurationSeconds: 5,
	}
}

func quickRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond}
}

func TestRunIsFailSoft(t *testing.T) {
	gen := &stubGenerator{name: "stub", failSubstr: "broken", err: domain.ErrProviderTransient}
	ex := NewExecutor(map[string]video.Generator{"stub": gen}, []string{"stub"}, 2, quickRetry(), time.Second, zerolog.Nop())

	batch := testBatch(
		domain.AttemptSpec{PromptVariant: "a calm lake", Provider: "stub", Count: 1},
		domain.AttemptSpec{PromptVariant: "a broken scene", Provider: "stub", Count: 1},
	)
	attempts := ex.Run(context.Background(), batch, nil)

	require.Len(t, attempts, 2)
	succeeded, failed := 0, 0
	for _, a := range attempts {
		assert.Equal(t, "g1", a.GroupID)
		assert.Equal(t, 1, a.IterationIndex)
		switch a.Status {
		case domain.AttemptSucceeded:
			succeeded++
			assert.NotEmpty(t, a.ArtifactRef)
		case domain.AttemptFailed:
			failed++
			assert.NotEmpty(t, a.ErrorDetail)
			assert.Equal(t, domain.ClassTransient, a.ErrorClass)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
}

func TestRunFallsBackOnPermanentError(t *testing.T) {
	primary := &stubGenerator{name: "primary", err: domain.ErrProviderPermanent}
	backup := &stubGenerator{name: "backup", costCents: 5}
	ex := NewExecutor(
		map[string]video.Generator{"primary": primary, "backup": backup},
		[]string{"primary", "backup"},
		2, quickRetry(), time.Second, zerolog.Nop(),
	)

	attempts := ex.Run(context.Background(), testBatch(domain.AttemptSpec{PromptVariant: "p", Provider: "primary", Count: 1}), nil)

	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptSucceeded, attempts[0].Status)
	assert.Equal(t, "backup", attempts[0].Params.Provider)
	assert.Equal(t, int64(5), attempts[0].CostCents)
}

func TestRunTransientExhaustionDoesNotFallBack(t *testing.T) {
	primary := &stubGenerator{name: "primary", err: domain.ErrProviderTransient}
	backup := &stubGenerator{name: "backup"}
	ex := NewExecutor(
		map[string]video.Generator{"primary": primary, "backup": backup},
		[]string{"primary", "backup"},
		2, quickRetry(), time.Second, zerolog.Nop(),
	)

	attempts := ex.Run(context.Background(), testBatch(domain.AttemptSpec{PromptVariant: "p", Provider: "primary", Count: 1}), nil)

	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptFailed, attempts[0].Status)
	assert.Equal(t, "primary", attempts[0].Params.Provider)
	backupCalls, _ := backup.stats()
	assert.Zero(t, backupCalls)
}

func TestRunUnknownProviderFallsBackToPriority(t *testing.T) {
	backup := &stubGenerator{name: "backup"}
	ex := NewExecutor(map[string]video.Generator{"backup": backup}, []string{"backup"}, 2, quickRetry(), time.Second, zerolog.Nop())

	attempts := ex.Run(context.Background(), testBatch(domain.AttemptSpec{PromptVariant: "p", Provider: "missing", Count: 1}), nil)

	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptSucceeded, attempts[0].Status)
	assert.Equal(t, "backup", attempts[0].Params.Provider)
}

func TestRunBoundsConcurrency(t *testing.T) {
	gen := &stubGenerator{name: "stub", delay: 20 * time.Millisecond}
	ex := NewExecutor(map[string]video.Generator{"stub": gen}, []string{"stub"}, 2, quickRetry(), time.Second, zerolog.Nop())

	attempts := ex.Run(context.Background(), testBatch(domain.AttemptSpec{PromptVariant: "p", Provider: "stub", Count: 6}), nil)

	require.Len(t, attempts, 6)
	for _, a := range attempts {
		assert.Equal(t, domain.AttemptSucceeded, a.Status)
	}
	calls, maxInFlight := gen.stats()
	assert.Equal(t, 6, calls)
	assert.LessOrEqual(t, maxInFlight, 2)
}

func TestRunDrainsBatchesLargerThanBound(t *testing.T) {
	// Every worker must be able to park its result without holding up the
	// dispatch loop, so a batch several times the in-flight bound still
	// finishes promptly.
	gen := &stubGenerator{name: "stub", delay: 5 * time.Millisecond}
	ex := NewExecutor(map[string]video.Generator{"stub": gen}, []string{"stub"}, 2, quickRetry(), time.Second, zerolog.Nop())

	done := make(chan []domain.Attempt, 1)
	go func() {
		done <- ex.Run(context.Background(), testBatch(domain.AttemptSpec{PromptVariant: "p", Provider: "stub", Count: 10}), nil)
	}()

	select {
	case attempts := <-done:
		require.Len(t, attempts, 10)
		for _, a := range attempts {
			assert.Equal(t, domain.AttemptSucceeded, a.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish draining the batch")
	}
}

func TestRunAbandonsRetriesWhenCancelledMidAttempt(t *testing.T) {
	var flag sync.Mutex
	raised := false
	gen := &stubGenerator{name: "stub", err: domain.ErrProviderTransient}
	gen.onCall = func() {
		flag.Lock()
		raised = true
		flag.Unlock()
	}
	cancelled := func() bool {
		flag.Lock()
		defer flag.Unlock()
		return raised
	}
	ex := NewExecutor(
		map[string]video.Generator{"stub": gen},
		[]string{"stub"},
		2,
		RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond},
		time.Second, zerolog.Nop(),
	)

	attempts := ex.Run(context.Background(), testBatch(domain.AttemptSpec{PromptVariant: "p", Provider: "stub", Count: 1}), cancelled)

	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptFailed, attempts[0].Status)
	assert.Equal(t, domain.ClassCancelled, attempts[0].ErrorClass)
	calls, _ := gen.stats()
	assert.Equal(t, 1, calls, "retry budget must not be spent after cancellation")
}

func TestRunStopsDispatchWhenCancelled(t *testing.T) {
	gen := &stubGenerator{name: "stub"}
	ex := NewExecutor(map[string]video.Generator{"stub": gen}, []string{"stub"}, 2, quickRetry(), time.Second, zerolog.Nop())

	attempts := ex.Run(context.Background(), testBatch(domain.AttemptSpec{PromptVariant: "p", Provider: "stub", Count: 4}), func() bool { return true })

	assert.Empty(t, attempts)
	calls, _ := gen.stats()
	assert.Zero(t, calls)
}

func TestRunSeedDerivation(t *testing.T) {
	gen := &stubGenerator{name: "stub"}
	ex := NewExecutor(map[string]video.Generator{"stub": gen}, []string{"stub"}, 1, quickRetry(), time.Second, zerolog.Nop())

	batch := testBatch(domain.AttemptSpec{PromptVariant: "p", Provider: "stub", Seed: 100, Count: 3})
	attempts := ex.Run(context.Background(), batch, nil)
	require.Len(t, attempts, 3)
	seeds := map[int64]bool{}
	for _, a := range attempts {
		seeds[a.Params.Seed] = true
	}
	assert.Equal(t, map[int64]bool{100: true, 101: true, 102: true}, seeds)

	shared := batch
	shared.SeedShared = true
	attempts = ex.Run(context.Background(), shared, nil)
	require.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.Equal(t, int64(100), a.Params.Seed)
	}
}
