package planner

import (
	"context"
	"fmt"

	"orchestrator/internal/domain"
)

// Scene is one planned shot: what to render and for how long.
type Scene struct {
	Number          int    `json:"number"`
	VisualPrompt    string `json:"visual_prompt"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Planner turns an enhanced prompt plus the job spec into an ordered scene
// list. Implementations must be safe for concurrent use.
type Planner interface {
	Plan(ctx context.Context, prompt string, spec domain.JobSpec) ([]Scene, error)
}

const defaultSceneSeconds = 5

var cameraHints = []string{
	"wide establishing shot",
	"slow dolly-in on the subject",
	"medium shot, gentle pan",
	"close-up with shallow depth of field",
	"tracking shot following the action",
	"overhead shot pulling back",
}

// StaticPlanner splits the target duration into fixed-length scenes with
// deterministic camera direction. It is the fallback when no LLM planner is
// configured and the reference behavior in tests.
type StaticPlanner struct {
	SceneSeconds int
}

func NewStaticPlanner() *StaticPlanner {
	return &StaticPlanner{SceneSeconds: defaultSceneSeconds}
}

func (p *StaticPlanner) Plan(ctx context.Context, prompt string, spec domain.JobSpec) ([]Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sceneSeconds := p.SceneSeconds
	if sceneSeconds <= 0 {
		sceneSeconds = defaultSceneSeconds
	}
	total := spec.DurationSeconds
	if total <= 0 {
		return nil, fmt.Errorf("plan: target duration must be positive")
	}
	count := (total + sceneSeconds - 1) / sceneSeconds
	scenes := make([]Scene, 0, count)
	remaining := total
	for i := 0; i < count; i++ {
		d := sceneSeconds
		if remaining < d {
			d = remaining
		}
		remaining -= d
		hint := cameraHints[i%len(cameraHints)]
		scenes = append(scenes, Scene{
			Number:          i + 1,
			VisualPrompt:    fmt.Sprintf("%s %s.", prompt, hint),
			DurationSeconds: d,
		})
	}
	return scenes, nil
}

var _ Planner = (*StaticPlanner)(nil)
