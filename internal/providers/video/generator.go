package video

import "context"

// GenerateRequest carries the exact parameters for one clip generation call.
type GenerateRequest struct {
	Prompt          string
	NegativePrompt  string
	Seed            int64
	AspectRatio     string
	DurationSeconds int
	RequestID       string
}

// Clip is the normalized result of one generation call. ArtifactRef is a
// storage key or provider URI; Data is set when the provider returned bytes
// inline and the caller is expected to persist them.
type Clip struct {
	ArtifactRef     string
	Format          string
	DurationSeconds int
	CostCents       int64
	Data            []byte
}

// Generator produces one video clip per call. Calls may take tens of seconds
// to minutes and are not idempotent; every call must honor the context
// deadline. Implementations must be safe for concurrent use.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*Clip, error)
}
