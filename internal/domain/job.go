package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from the status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// StageName identifies one ordered step of the pipeline.
type StageName string

const (
	StagePending    StageName = "pending"
	StagePlanning   StageName = "planning"
	StageGenerating StageName = "generating"
	StageScoring    StageName = "scoring"
	StageAssembling StageName = "assembling"
	StageCompleted  StageName = "completed"
)

// AspectRatios lists the aspect ratios accepted by CreateJob.
var AspectRatios = []string{"16:9", "9:16", "1:1", "4:3", "3:4"}

const (
	MinDurationSeconds = 3
	MaxDurationSeconds = 120
	MaxPromptLength    = 2000
	MaxAttemptsPerSlot = 6

	DefaultAttemptsPerSlot = 3
)

// GenerationOptions carries the optional quality/coherence knobs of a request.
type GenerationOptions struct {
	AttemptsPerSlot int                `json:"attempts_per_slot,omitempty"`
	SeedSharing     bool               `json:"seed_sharing,omitempty"`
	ScorerWeights   map[string]float64 `json:"scorer_weights,omitempty"`
	ReferenceAssets []string           `json:"reference_assets,omitempty"`
}

// JobSpec is the caller-supplied input of one end-to-end request.
type JobSpec struct {
	Prompt          string            `json:"prompt"`
	DurationSeconds int               `json:"duration_seconds"`
	AspectRatio     string            `json:"aspect_ratio"`
	Options         GenerationOptions `json:"options"`
}

// Validate rejects specs before any work starts. Violations are reported as
// ErrInvalidSpec so the transport layer can map them to a caller error.
func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidSpec)
	}
	if len(s.Prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidSpec, MaxPromptLength)
	}
	if s.DurationSeconds < MinDurationSeconds || s.DurationSeconds > MaxDurationSeconds {
		return fmt.Errorf("%w: duration must be between %d and %d seconds", ErrInvalidSpec, MinDurationSeconds, MaxDurationSeconds)
	}
	valid := false
	for _, ar := range AspectRatios {
		if s.AspectRatio == ar {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidSpec, s.AspectRatio)
	}
	if n := s.Options.AttemptsPerSlot; n < 0 || n > MaxAttemptsPerSlot {
		return fmt.Errorf("%w: attempts per slot must be between 1 and %d", ErrInvalidSpec, MaxAttemptsPerSlot)
	}
	for dim, w := range s.Options.ScorerWeights {
		if w < 0 {
			return fmt.Errorf("%w: negative weight for dimension %q", ErrInvalidSpec, dim)
		}
	}
	return nil
}

// AttemptsPerSlot resolves the requested attempt count, applying the default.
func (s JobSpec) AttemptsPerSlot() int {
	if s.Options.AttemptsPerSlot > 0 {
		return s.Options.AttemptsPerSlot
	}
	return DefaultAttemptsPerSlot
}

// Job encapsulates one end-to-end generation request. It is mutated exclusively
// by the pipeline state machine at stage boundaries; progress is monotonic while
// the job is running.
type Job struct {
	ID              string
	OwnerID         string
	Spec            JobSpec
	Stage           StageName
	Status          JobStatus
	Progress        int
	CostCents       int64
	ErrorMessage    string
	PlanJSON        []byte
	ResultJSON      []byte
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}
