package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"orchestrator/internal/storage"
)

// AssemblySpec describes how the final video is cut together.
type AssemblySpec struct {
	OutputKey             string `json:"output_key"`
	AspectRatio           string `json:"aspect_ratio"`
	TargetDurationSeconds int    `json:"target_duration_seconds"`
	Transition            string `json:"transition,omitempty"`
}

// Assembler composes the selected clips into the final deliverable and
// returns its artifact reference. The compositing engine itself (transitions,
// audio mix, grading) is a black box behind this interface.
type Assembler interface {
	Assemble(ctx context.Context, clipRefs []string, spec AssemblySpec) (string, error)
}

// LocalAssembler writes an edit decision manifest next to the clips instead
// of invoking a render farm. It keeps keyless environments and tests end to
// end functional; a render service consumes the same manifest format.
type LocalAssembler struct {
	store *storage.FileStore
}

func NewLocalAssembler(store *storage.FileStore) *LocalAssembler {
	return &LocalAssembler{store: store}
}

type manifest struct {
	Version     string       `json:"version"`
	Spec        AssemblySpec `json:"spec"`
	Clips       []string     `json:"clips"`
	AssembledAt time.Time    `json:"assembled_at"`
}

func (a *LocalAssembler) Assemble(ctx context.Context, clipRefs []string, spec AssemblySpec) (string, error) {
	if len(clipRefs) == 0 {
		return "", fmt.Errorf("assemble: no clips to assemble")
	}
	key := spec.OutputKey
	if key == "" {
		return "", fmt.Errorf("assemble: output key is required")
	}
	data, err := json.MarshalIndent(manifest{
		Version:     "2024-10-01",
		Spec:        spec,
		Clips:       clipRefs,
		AssembledAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("assemble: encode manifest: %w", err)
	}
	saved, err := a.store.Write(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("assemble: persist manifest: %w", err)
	}
	return saved, nil
}

var _ Assembler = (*LocalAssembler)(nil)
