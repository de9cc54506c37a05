package scorer

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// Scorer rates one artifact on named dimensions, each on a 0-100 scale.
// Scorer failures degrade selection but never block the pipeline, so
// implementations should wrap errors with domain.ErrScorerUnavailable.
type Scorer interface {
	Name() string
	Score(ctx context.Context, artifactRef string) (map[string]float64, error)
}

// HeuristicScorer derives stable pseudo-scores from the artifact reference.
// It stands in for a real quality-metric model in keyless environments and
// gives tests a deterministic score surface.
type HeuristicScorer struct {
	dimensions []string
}

func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{
		dimensions: []string{"visual_quality", "prompt_adherence", "motion_smoothness"},
	}
}

func (s *HeuristicScorer) Name() string { return "heuristic" }

func (s *HeuristicScorer) Score(ctx context.Context, artifactRef string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(s.dimensions))
	for _, dim := range s.dimensions {
		sum := sha256.Sum256([]byte(dim + "|" + artifactRef))
		// Spread into 40..100 so synthetic runs look plausible on dashboards.
		v := binary.BigEndian.Uint32(sum[:4]) % 6000
		out[dim] = 40 + float64(v)/100
	}
	return out, nil
}

var _ Scorer = (*HeuristicScorer)(nil)
