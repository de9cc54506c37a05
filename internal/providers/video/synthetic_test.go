package video

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/storage"
)

func TestSyntheticGeneratorIsDeterministic(t *testing.T) {
	g := NewSyntheticGenerator(nil)
	req := GenerateRequest{Prompt: "a fox", Seed: 42, AspectRatio: "16:9", DurationSeconds: 5, RequestID: "r1"}

	first, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ArtifactRef, second.ArtifactRef)
	assert.Equal(t, first.Data, second.Data)
	assert.Zero(t, first.CostCents)
	assert.Equal(t, 5, first.DurationSeconds)
}

func TestSyntheticGeneratorVariesWithSeed(t *testing.T) {
	g := NewSyntheticGenerator(nil)
	base := GenerateRequest{Prompt: "a fox", Seed: 42, AspectRatio: "16:9", DurationSeconds: 5, RequestID: "r1"}
	other := base
	other.Seed = 43

	a, err := g.Generate(context.Background(), base)
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, a.ArtifactRef, b.ArtifactRef)
}

func TestSyntheticGeneratorPersistsClip(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	g := NewSyntheticGenerator(store)

	clip, err := g.Generate(context.Background(), GenerateRequest{Prompt: "a fox", RequestID: "r1", DurationSeconds: 5})
	require.NoError(t, err)

	data, err := store.Read(context.Background(), clip.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, clip.Data, data)
}
