package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/domain"
)

func TestStaticPlannerSplitsDuration(t *testing.T) {
	p := NewStaticPlanner()
	spec := domain.JobSpec{DurationSeconds: 12, AspectRatio: "16:9"}

	scenes, err := p.Plan(context.Background(), "a storm over the sea", spec)
	require.NoError(t, err)
	require.Len(t, scenes, 3, "12s at 5s per scene")

	total := 0
	for i, s := range scenes {
		assert.Equal(t, i+1, s.Number)
		assert.Contains(t, s.VisualPrompt, "a storm over the sea")
		total += s.DurationSeconds
	}
	assert.Equal(t, 12, total)
	assert.Equal(t, 2, scenes[2].DurationSeconds, "last scene absorbs the remainder")
}

func TestStaticPlannerSingleScene(t *testing.T) {
	p := NewStaticPlanner()
	scenes, err := p.Plan(context.Background(), "p", domain.JobSpec{DurationSeconds: 4})
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, 4, scenes[0].DurationSeconds)
}

func TestStaticPlannerRejectsNonPositiveDuration(t *testing.T) {
	p := NewStaticPlanner()
	_, err := p.Plan(context.Background(), "p", domain.JobSpec{DurationSeconds: 0})
	assert.Error(t, err)
}

func TestStaticPlannerIsDeterministic(t *testing.T) {
	p := NewStaticPlanner()
	spec := domain.JobSpec{DurationSeconds: 30}
	first, err := p.Plan(context.Background(), "p", spec)
	require.NoError(t, err)
	second, err := p.Plan(context.Background(), "p", spec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
