// Package scoring turns raw attempt artifacts into weighted quality scores
// and picks the best attempt of a group. Selection is a pure function over
// immutable score records so reruns are deterministic.
package scoring

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
	"orchestrator/internal/providers/scorer"
)

// Engine invokes the configured scorers and applies the weight table.
type Engine struct {
	scorers []scorer.Scorer
	weights map[string]float64
	groups  domain.GroupRepository
	logger  zerolog.Logger
}

func NewEngine(scorers []scorer.Scorer, weights map[string]float64, groups domain.GroupRepository, logger zerolog.Logger) *Engine {
	return &Engine{scorers: scorers, weights: weights, groups: groups, logger: logger}
}

// SelectionResult is the outcome of one scoring round.
type SelectionResult struct {
	// BestAttemptID is the system-selected winner; empty when the round had
	// no successful attempts at all.
	BestAttemptID string
	// Unscored is true when every scorer failed and selection degraded to
	// the first-successful-attempt rule.
	Unscored bool
	// Overall maps attempt ID to its weighted aggregate score.
	Overall map[string]float64
	// Records holds every per-dimension score produced this round.
	Records []domain.ScoreRecord
}

// ScoreAndSelect scores the successful attempts of one group and picks a
// winner. Scorer failures are logged and degrade the result, never error.
// weightOverride, when non-empty, replaces the engine's weight table for
// this round (per-job scorer weights).
func (e *Engine) ScoreAndSelect(ctx context.Context, attempts []domain.Attempt, weightOverride map[string]float64) SelectionResult {
	successes := make([]domain.Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Status == domain.AttemptSucceeded {
			successes = append(successes, a)
		}
	}
	if len(successes) == 0 {
		return SelectionResult{}
	}

	var records []domain.ScoreRecord
	for _, a := range successes {
		for _, s := range e.scorers {
			dims, err := s.Score(ctx, a.ArtifactRef)
			if err != nil {
				e.logger.Warn().Err(err).
					Str("scorer", s.Name()).
					Str("attempt_id", a.ID).
					Msg("scoring: scorer failed, continuing")
				continue
			}
			now := time.Now().UTC()
			for dim, v := range dims {
				records = append(records, domain.ScoreRecord{
					AttemptID: a.ID,
					Dimension: dim,
					Value:     v,
					Scorer:    s.Name(),
					CreatedAt: now,
				})
			}
		}
	}

	weights := e.weights
	if len(weightOverride) > 0 {
		weights = weightOverride
	}
	overall := AggregateOverall(records, weights)
	bestID, unscored := Select(successes, overall)
	return SelectionResult{
		BestAttemptID: bestID,
		Unscored:      unscored,
		Overall:       overall,
		Records:       records,
	}
}

// Override records a human selection for a group. The system-selected flag
// is left intact so auto-vs-human agreement stays computable.
func (e *Engine) Override(ctx context.Context, groupID, attemptID string) error {
	attempt, err := e.groups.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if attempt.GroupID != groupID {
		return domain.ErrNotInGroup
	}
	return e.groups.MarkUserBest(ctx, groupID, attemptID)
}

// AggregateOverall computes the weighted aggregate per attempt. When the same
// dimension is reported by several scorers its values are averaged first.
// Weights are normalized over the dimensions actually present for an attempt
// so a scorer that omits a dimension does not deflate the score. Attempts
// with no weighted dimension get no entry.
func AggregateOverall(records []domain.ScoreRecord, weights map[string]float64) map[string]float64 {
	type acc struct {
		sum   float64
		count int
	}
	perAttempt := map[string]map[string]*acc{}
	for _, r := range records {
		dims, ok := perAttempt[r.AttemptID]
		if !ok {
			dims = map[string]*acc{}
			perAttempt[r.AttemptID] = dims
		}
		a, ok := dims[r.Dimension]
		if !ok {
			a = &acc{}
			dims[r.Dimension] = a
		}
		a.sum += r.Value
		a.count++
	}

	overall := make(map[string]float64, len(perAttempt))
	for attemptID, dims := range perAttempt {
		var weighted, weightSum float64
		for dim, a := range dims {
			w := weights[dim]
			if w <= 0 {
				continue
			}
			weighted += w * (a.sum / float64(a.count))
			weightSum += w
		}
		if weightSum > 0 {
			overall[attemptID] = weighted / weightSum
		}
	}
	return overall
}

// Select picks the winning attempt: highest overall score, ties broken by
// earliest creation timestamp, then attempt ID. When no attempt has an
// overall score the first successful attempt wins and the selection is
// reported as unscored. Pure function of its inputs.
func Select(successes []domain.Attempt, overall map[string]float64) (string, bool) {
	if len(successes) == 0 {
		return "", false
	}
	ordered := make([]domain.Attempt, len(successes))
	copy(ordered, successes)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	bestID := ""
	bestScore := 0.0
	for _, a := range ordered {
		score, ok := overall[a.ID]
		if !ok {
			continue
		}
		if bestID == "" || score > bestScore {
			bestID = a.ID
			bestScore = score
		}
	}
	if bestID != "" {
		return bestID, false
	}
	return ordered[0].ID, true
}
