package domain

// PlanScene is one planned shot as persisted on the job after the planning
// stage. Slot identifiers are derived from the scene number.
type PlanScene struct {
	Number          int    `json:"number"`
	VisualPrompt    string `json:"visual_prompt"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Plan is the output of the planning stage, stored on the job so later
// stages (and regeneration) can resume from the committed state.
type Plan struct {
	EnhancedPrompt string      `json:"enhanced_prompt"`
	Scenes         []PlanScene `json:"scenes"`
}

// AttemptBatch is one unit of fan-out work for the attempt executor: every
// attempt spec in the batch targets the same group and iteration.
type AttemptBatch struct {
	Group           GenerationGroup
	IterationIndex  int
	Specs           []AttemptSpec
	AspectRatio     string
	DurationSeconds int
	SeedShared      bool
}
