package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScoringConfig holds the per-dimension weight table used for attempt
// selection and the provider fallback order. Loaded from an optional YAML
// file; per-job scorer weights override these values.
type ScoringConfig struct {
	Weights          map[string]float64 `yaml:"weights"`
	ProviderPriority []string           `yaml:"provider_priority"`
}

// DefaultScoringConfig returns the built-in weight table.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		Weights: map[string]float64{
			"visual_quality":    0.40,
			"prompt_adherence":  0.35,
			"motion_smoothness": 0.25,
		},
		ProviderPriority: []string{"veo", "gemini", "synthetic"},
	}
}

// LoadScoringConfig reads the scoring configuration from path, falling back
// to defaults when path is empty. Fields missing from the file keep their
// default values.
func LoadScoringConfig(path string) (*ScoringConfig, error) {
	cfg := DefaultScoringConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scoring config: %w", err)
	}
	var loaded ScoringConfig
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("parse scoring config: %w", err)
	}
	if len(loaded.Weights) > 0 {
		cfg.Weights = loaded.Weights
	}
	if len(loaded.ProviderPriority) > 0 {
		cfg.ProviderPriority = loaded.ProviderPriority
	}
	return cfg, nil
}
