package prompt

import (
	"context"
	"fmt"
	"strings"

	"orchestrator/internal/providers/genai"
)

const enhanceInstruction = `Rewrite the following video idea as a single vivid visual description suitable for a text-to-video model. Keep it under 120 words, describe subject, setting, lighting and camera movement, and reply with the description only.

Idea: %s`

// GeminiOptions configures the Gemini-backed enhancer.
type GeminiOptions struct {
	Client     *genai.Client
	Fallback   Enhancer
	OnFallback func(reason string, err error)
}

// GeminiEnhancer asks Gemini to rewrite the prompt and degrades to the
// configured fallback chain on any failure. Enhancement is best-effort: a
// broken enhancer must never block the pipeline.
type GeminiEnhancer struct {
	client     *genai.Client
	fallback   Enhancer
	onFallback func(reason string, err error)
}

func NewGeminiEnhancer(opts GeminiOptions) (*GeminiEnhancer, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("enhance: gemini client is required")
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStaticEnhancer()
	}
	return &GeminiEnhancer{
		client:     opts.Client,
		fallback:   fallback,
		onFallback: opts.OnFallback,
	}, nil
}

func (g *GeminiEnhancer) Enhance(ctx context.Context, text string) (string, error) {
	if !g.client.Configured() {
		return g.fallbackEnhance(ctx, text, "no_api_key", nil)
	}
	out, err := g.client.GenerateText(ctx, fmt.Sprintf(enhanceInstruction, text))
	if err != nil {
		return g.fallbackEnhance(ctx, text, "generate_text", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return g.fallbackEnhance(ctx, text, "empty_response", nil)
	}
	return out, nil
}

func (g *GeminiEnhancer) fallbackEnhance(ctx context.Context, text, reason string, err error) (string, error) {
	if g.onFallback != nil {
		g.onFallback(reason, err)
	}
	return g.fallback.Enhance(ctx, text)
}

var _ Enhancer = (*GeminiEnhancer)(nil)
