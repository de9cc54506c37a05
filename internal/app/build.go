// Package app assembles the provider stack, the executor and the state
// machine from configuration. Shared by the API and worker entrypoints.
package app

import (
	"net/http"
	"time"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
	"orchestrator/internal/pipeline"
	"orchestrator/internal/providers/assembler"
	"orchestrator/internal/providers/genai"
	"orchestrator/internal/providers/planner"
	"orchestrator/internal/providers/prompt"
	"orchestrator/internal/providers/scorer"
	"orchestrator/internal/providers/video"
	"orchestrator/internal/scoring"
	"orchestrator/internal/storage"
	"orchestrator/internal/version"
)

// Build wires the whole orchestrator. Without a Gemini key the synthetic
// providers keep every stage fully operational in local and CI environments.
func Build(cfg *infra.Config, logger infra.Logger, jobs domain.JobRepository, groups domain.GroupRepository) (*pipeline.Machine, *version.Manager, error) {
	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, nil, err
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	textClient, err := genai.NewClient(genai.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if !textClient.Configured() {
		logger.Warn().Msg("app: gemini api key missing, using synthetic generation")
	}

	enhancer, err := prompt.NewGeminiEnhancer(prompt.GeminiOptions{Client: textClient})
	if err != nil {
		return nil, nil, err
	}
	scenePlanner, err := planner.NewGeminiPlanner(planner.GeminiOptions{Client: textClient})
	if err != nil {
		return nil, nil, err
	}

	generators := map[string]video.Generator{
		"veo": video.NewVeoGenerator(video.VeoOptions{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Logger:  &logger,
		}),
		"synthetic": video.NewSyntheticGenerator(store),
	}

	scorers := []scorer.Scorer{scorer.NewHeuristicScorer()}
	if cfg.ScorerURL != "" {
		scorers = append(scorers, scorer.NewRemoteScorer(cfg.ScorerURL, nil))
	}

	var assemble assembler.Assembler = assembler.NewLocalAssembler(store)
	if cfg.AssemblerURL != "" {
		assemble = assembler.NewRemoteAssembler(cfg.AssemblerURL, nil)
	}

	scoringCfg, err := infra.LoadScoringConfig(cfg.ScoringConfigPath)
	if err != nil {
		return nil, nil, err
	}

	executor := pipeline.NewExecutor(generators, scoringCfg.ProviderPriority, int64(cfg.MaxInFlight), pipeline.DefaultRetryPolicy(), cfg.ProviderTimeout, logger)
	engine := scoring.NewEngine(scorers, scoringCfg.Weights, groups, logger)
	versions := version.NewManager(jobs, groups, engine, executor, logger)

	machine := pipeline.NewMachine(pipeline.Options{
		Jobs:             jobs,
		Groups:           groups,
		Enhancer:         enhancer,
		Planner:          scenePlanner,
		Executor:         executor,
		Engine:           engine,
		Versions:         versions,
		Assembler:        assemble,
		ProviderPriority: scoringCfg.ProviderPriority,
		Logger:           logger,
	})
	return machine, versions, nil
}
