package prompt

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Enhancer rewrites a raw user prompt into a richer visual description before
// scene planning. Implementations must be safe for concurrent use.
type Enhancer interface {
	Enhance(ctx context.Context, text string) (string, error)
}

// StaticEnhancer is the deterministic fallback used when no LLM is configured
// or the remote enhancer fails. It applies a fixed cinematic template.
type StaticEnhancer struct{}

func NewStaticEnhancer() *StaticEnhancer {
	return &StaticEnhancer{}
}

func (s *StaticEnhancer) Enhance(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("enhance: empty prompt")
	}
	c := cases.Title(language.Und)
	subject := trimmed
	if i := strings.IndexAny(trimmed, ".!?\n"); i > 0 {
		subject = trimmed[:i]
	}
	return fmt.Sprintf("%s. %s, cinematic composition, natural lighting, high detail, smooth camera motion.",
		trimmed, c.String(subject)), nil
}

var _ Enhancer = (*StaticEnhancer)(nil)
