package pipeline

import "orchestrator/internal/domain"

// Stage is one ordered step definition. Immutable configuration; jobs only
// persist which stage they are on. Progress moves from StartProgress to
// EndProgress while the stage runs and lands exactly on EndProgress when it
// completes, keeping progress monotonic.
type Stage struct {
	Name          domain.StageName
	FanOut        bool
	QualityGated  bool
	Retry         RetryPolicy
	StartProgress int
	EndProgress   int
}

// DefaultStages is the fixed stage table of the generation pipeline.
func DefaultStages() []Stage {
	retry := DefaultRetryPolicy()
	return []Stage{
		{Name: domain.StagePlanning, Retry: retry, StartProgress: 0, EndProgress: 20},
		{Name: domain.StageGenerating, FanOut: true, Retry: retry, StartProgress: 20, EndProgress: 70},
		{Name: domain.StageScoring, QualityGated: true, Retry: retry, StartProgress: 70, EndProgress: 80},
		{Name: domain.StageAssembling, Retry: retry, StartProgress: 80, EndProgress: 100},
	}
}

// stageIndex locates a stage by name; -1 when the name is not a pipeline
// stage (pending, completed).
func stageIndex(stages []Stage, name domain.StageName) int {
	for i, s := range stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}
