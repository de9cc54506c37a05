package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"orchestrator/internal/domain"
	"orchestrator/internal/providers/genai"
)

const planInstruction = `Break the following video description into %d-second scenes totalling %d seconds. Reply with a JSON array only, each element {"number": n, "visual_prompt": "...", "duration_seconds": n}.

Description: %s`

// GeminiOptions configures the Gemini-backed planner.
type GeminiOptions struct {
	Client     *genai.Client
	Fallback   Planner
	OnFallback func(reason string, err error)
}

// GeminiPlanner asks Gemini for a shot list and falls back to the static
// planner when the response is missing, malformed or inconsistent with the
// requested duration.
type GeminiPlanner struct {
	client     *genai.Client
	fallback   Planner
	onFallback func(reason string, err error)
}

func NewGeminiPlanner(opts GeminiOptions) (*GeminiPlanner, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("plan: gemini client is required")
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStaticPlanner()
	}
	return &GeminiPlanner{
		client:     opts.Client,
		fallback:   fallback,
		onFallback: opts.OnFallback,
	}, nil
}

func (g *GeminiPlanner) Plan(ctx context.Context, prompt string, spec domain.JobSpec) ([]Scene, error) {
	if !g.client.Configured() {
		return g.fallbackPlan(ctx, prompt, spec, "no_api_key", nil)
	}
	out, err := g.client.GenerateText(ctx, fmt.Sprintf(planInstruction, defaultSceneSeconds, spec.DurationSeconds, prompt))
	if err != nil {
		return g.fallbackPlan(ctx, prompt, spec, "generate_text", err)
	}
	scenes, err := parseScenes(out)
	if err != nil {
		return g.fallbackPlan(ctx, prompt, spec, "parse_response", err)
	}
	return scenes, nil
}

func (g *GeminiPlanner) fallbackPlan(ctx context.Context, prompt string, spec domain.JobSpec, reason string, err error) ([]Scene, error) {
	if g.onFallback != nil {
		g.onFallback(reason, err)
	}
	return g.fallback.Plan(ctx, prompt, spec)
}

func parseScenes(raw string) ([]Scene, error) {
	raw = strings.TrimSpace(raw)
	// Models often wrap JSON in a fenced code block.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var scenes []Scene
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &scenes); err != nil {
		return nil, fmt.Errorf("plan: decode scenes: %w", err)
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("plan: empty scene list")
	}
	for i := range scenes {
		if scenes[i].Number == 0 {
			scenes[i].Number = i + 1
		}
		if strings.TrimSpace(scenes[i].VisualPrompt) == "" {
			return nil, fmt.Errorf("plan: scene %d has no visual prompt", scenes[i].Number)
		}
		if scenes[i].DurationSeconds <= 0 {
			scenes[i].DurationSeconds = defaultSceneSeconds
		}
	}
	return scenes, nil
}

var _ Planner = (*GeminiPlanner)(nil)
