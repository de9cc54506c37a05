package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/adapter/repo"
	"orchestrator/internal/domain"
	"orchestrator/internal/providers/scorer"
)

// stubScorer returns canned per-artifact dimension scores.
type stubScorer struct {
	name   string
	scores map[string]map[string]float64
	err    error
}

func (s *stubScorer) Name() string { return s.name }

func (s *stubScorer) Score(ctx context.Context, artifactRef string) (map[string]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores[artifactRef], nil
}

var defaultWeights = map[string]float64{
	"visual_quality":   0.5,
	"prompt_adherence": 0.5,
}

func succeededAttempt(id, ref string, createdAt time.Time) domain.Attempt {
	return domain.Attempt{
		ID:          id,
		GroupID:     "g1",
		ArtifactRef: ref,
		Status:      domain.AttemptSucceeded,
		CreatedAt:   createdAt,
	}
}

func TestScoreAndSelectPicksHighestWeighted(t *testing.T) {
	now := time.Now().UTC()
	attempts := []domain.Attempt{
		succeededAttempt("a1", "clip-1", now),
		succeededAttempt("a2", "clip-2", now.Add(time.Second)),
	}
	s := &stubScorer{name: "stub", scores: map[string]map[string]float64{
		"clip-1": {"visual_quality": 60, "prompt_adherence": 80},
		"clip-2": {"visual_quality": 90, "prompt_adherence": 70},
	}}
	engine := NewEngine([]scorer.Scorer{s}, defaultWeights, repo.NewMemory(), zerolog.Nop())

	sel := engine.ScoreAndSelect(context.Background(), attempts, nil)

	assert.Equal(t, "a2", sel.BestAttemptID)
	assert.False(t, sel.Unscored)
	assert.InDelta(t, 70.0, sel.Overall["a1"], 0.001)
	assert.InDelta(t, 80.0, sel.Overall["a2"], 0.001)
	assert.Len(t, sel.Records, 4)
}

func TestScoreAndSelectIsDeterministic(t *testing.T) {
	now := time.Now().UTC()
	attempts := []domain.Attempt{
		succeededAttempt("a1", "clip-1", now),
		succeededAttempt("a2", "clip-2", now.Add(time.Second)),
		succeededAttempt("a3", "clip-3", now.Add(2*time.Second)),
	}
	engine := NewEngine([]scorer.Scorer{scorer.NewHeuristicScorer()}, defaultWeights, repo.NewMemory(), zerolog.Nop())

	first := engine.ScoreAndSelect(context.Background(), attempts, nil)
	second := engine.ScoreAndSelect(context.Background(), attempts, nil)

	require.NotEmpty(t, first.BestAttemptID)
	assert.Equal(t, first.BestAttemptID, second.BestAttemptID)
	assert.Equal(t, first.Overall, second.Overall)
}

func TestScoreAndSelectFallsBackWhenScorersFail(t *testing.T) {
	now := time.Now().UTC()
	attempts := []domain.Attempt{
		succeededAttempt("a2", "clip-2", now.Add(time.Second)),
		succeededAttempt("a1", "clip-1", now),
	}
	broken := &stubScorer{name: "broken", err: domain.ErrScorerUnavailable}
	engine := NewEngine([]scorer.Scorer{broken}, defaultWeights, repo.NewMemory(), zerolog.Nop())

	sel := engine.ScoreAndSelect(context.Background(), attempts, nil)

	assert.True(t, sel.Unscored)
	assert.Equal(t, "a1", sel.BestAttemptID, "earliest successful attempt wins when nothing is scored")
	assert.Empty(t, sel.Records)
}

func TestScoreAndSelectIgnoresFailedAttempts(t *testing.T) {
	now := time.Now().UTC()
	attempts := []domain.Attempt{
		{ID: "a1", GroupID: "g1", Status: domain.AttemptFailed, ErrorDetail: "boom", CreatedAt: now},
		{ID: "a2", GroupID: "g1", Status: domain.AttemptFailed, ErrorDetail: "boom", CreatedAt: now},
	}
	engine := NewEngine([]scorer.Scorer{scorer.NewHeuristicScorer()}, defaultWeights, repo.NewMemory(), zerolog.Nop())

	sel := engine.ScoreAndSelect(context.Background(), attempts, nil)

	assert.Empty(t, sel.BestAttemptID)
	assert.False(t, sel.Unscored)
	assert.Empty(t, sel.Records)
}

func TestScoreAndSelectWeightOverride(t *testing.T) {
	now := time.Now().UTC()
	attempts := []domain.Attempt{
		succeededAttempt("a1", "clip-1", now),
		succeededAttempt("a2", "clip-2", now.Add(time.Second)),
	}
	s := &stubScorer{name: "stub", scores: map[string]map[string]float64{
		"clip-1": {"visual_quality": 60, "prompt_adherence": 95},
		"clip-2": {"visual_quality": 90, "prompt_adherence": 50},
	}}
	engine := NewEngine([]scorer.Scorer{s}, defaultWeights, repo.NewMemory(), zerolog.Nop())

	// With equal weights clip-2 loses; a quality-only override flips it.
	base := engine.ScoreAndSelect(context.Background(), attempts, nil)
	assert.Equal(t, "a1", base.BestAttemptID)

	override := engine.ScoreAndSelect(context.Background(), attempts, map[string]float64{"visual_quality": 1})
	assert.Equal(t, "a2", override.BestAttemptID)
}

func TestAggregateOverallAveragesScorersAndNormalizesWeights(t *testing.T) {
	records := []domain.ScoreRecord{
		{AttemptID: "a1", Dimension: "visual_quality", Value: 60, Scorer: "one"},
		{AttemptID: "a1", Dimension: "visual_quality", Value: 80, Scorer: "two"},
		{AttemptID: "a1", Dimension: "prompt_adherence", Value: 50, Scorer: "one"},
		// a2 only reports one weighted dimension; weights renormalize over it.
		{AttemptID: "a2", Dimension: "visual_quality", Value: 90, Scorer: "one"},
		{AttemptID: "a2", Dimension: "unweighted", Value: 1, Scorer: "one"},
	}
	weights := map[string]float64{"visual_quality": 0.6, "prompt_adherence": 0.4}

	overall := AggregateOverall(records, weights)

	assert.InDelta(t, 0.6*70+0.4*50, overall["a1"], 0.001)
	assert.InDelta(t, 90.0, overall["a2"], 0.001)
}

func TestAggregateOverallSkipsAttemptsWithoutWeightedDimensions(t *testing.T) {
	records := []domain.ScoreRecord{
		{AttemptID: "a1", Dimension: "unknown", Value: 99, Scorer: "one"},
	}
	overall := AggregateOverall(records, map[string]float64{"visual_quality": 1})
	_, ok := overall["a1"]
	assert.False(t, ok)
}

func TestSelectTieBreaksByCreationThenID(t *testing.T) {
	now := time.Now().UTC()
	overall := map[string]float64{"a1": 75, "a2": 75, "a3": 75}

	earlier := []domain.Attempt{
		succeededAttempt("a2", "clip-2", now.Add(time.Second)),
		succeededAttempt("a1", "clip-1", now),
	}
	best, unscored := Select(earlier, overall)
	assert.Equal(t, "a1", best)
	assert.False(t, unscored)

	sameInstant := []domain.Attempt{
		succeededAttempt("a3", "clip-3", now),
		succeededAttempt("a2", "clip-2", now),
	}
	best, _ = Select(sameInstant, overall)
	assert.Equal(t, "a2", best)
}

func TestSelectEmptyInput(t *testing.T) {
	best, unscored := Select(nil, nil)
	assert.Empty(t, best)
	assert.False(t, unscored)
}

func TestOverrideMarksUserBestWithinGroup(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	require.NoError(t, store.CreateGroup(ctx, &domain.GenerationGroup{ID: "g1", JobID: "j1", Slot: "scene-1"}))
	require.NoError(t, store.AddAttempts(ctx, []domain.Attempt{
		{ID: "a1", GroupID: "g1", Status: domain.AttemptSucceeded},
		{ID: "a2", GroupID: "g1", Status: domain.AttemptSucceeded, SystemSelectedBest: true},
		{ID: "b1", GroupID: "g2", Status: domain.AttemptSucceeded},
	}))
	engine := NewEngine(nil, defaultWeights, store, zerolog.Nop())

	require.NoError(t, engine.Override(ctx, "g1", "a1"))

	a1, err := store.GetAttempt(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a1.UserSelectedBest)

	// The system flag stays so auto-vs-human agreement remains computable.
	a2, err := store.GetAttempt(ctx, "a2")
	require.NoError(t, err)
	assert.True(t, a2.SystemSelectedBest)
	assert.False(t, a2.UserSelectedBest)

	assert.ErrorIs(t, engine.Override(ctx, "g1", "b1"), domain.ErrNotInGroup)
}
