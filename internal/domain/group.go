package domain

import "time"

// ComparisonAxis describes what varies between competing attempts in a group.
type ComparisonAxis string

const (
	AxisSettings  ComparisonAxis = "settings"
	AxisPrompt    ComparisonAxis = "prompt"
	AxisAutoRetry ComparisonAxis = "auto_retry"
)

// GenerationGroup bundles the competing attempts for one creative slot (a
// scene, or the whole candidate video). FinalAttemptID is the movable
// "current best" pointer read by the editor, dashboard and export surfaces;
// empty means not yet finalized. Once set it must reference an attempt that
// belongs to the group.
type GenerationGroup struct {
	ID             string
	JobID          string
	Slot           string
	Axis           ComparisonAxis
	FinalAttemptID string
	CreatedAt      time.Time
}

// AttemptStatus enumerates terminal attempt outcomes.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// AttemptParams records the exact inputs one generation call was made with.
type AttemptParams struct {
	PromptVariant  string `json:"prompt_variant"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Seed           int64  `json:"seed"`
	Provider       string `json:"provider"`
	Model          string `json:"model,omitempty"`
}

// Attempt is one concrete generation result. It is never mutated after
// creation except to set the two selection flags.
type Attempt struct {
	ID                 string
	GroupID            string
	IterationIndex     int
	Params             AttemptParams
	ArtifactRef        string
	Status             AttemptStatus
	ErrorDetail        string
	ErrorClass         string
	CostCents          int64
	Duration           time.Duration
	SystemSelectedBest bool
	UserSelectedBest   bool
	CreatedAt          time.Time
}

// AttemptSpec names one batch of attempts to execute: which provider, with
// which parameters, how many times.
type AttemptSpec struct {
	PromptVariant  string
	NegativePrompt string
	Seed           int64
	Provider       string
	Count          int
}

// ScoreRecord is one per-attempt, per-dimension scoring result on a 0-100
// scale. Immutable once written.
type ScoreRecord struct {
	AttemptID string
	Dimension string
	Value     float64
	Scorer    string
	CreatedAt time.Time
}

// Iteration snapshots one round of "attempts -> scores -> selection" inside a
// group's history. Index is strictly increasing per group. Used for history
// and trend display only; never mutated.
type Iteration struct {
	ID                string
	GroupID           string
	Index             int
	PromptDelta       string
	AttemptIDs        []string
	SelectedAttemptID string
	Unscored          bool
	CreatedAt         time.Time
}

// RegenerateSpec is the caller input for layering a new iteration onto an
// existing group, typically with an edited prompt.
type RegenerateSpec struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Seed           int64  `json:"seed,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Count          int    `json:"count,omitempty"`
}
