package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DQWeights weight the three DQ components.
type DQWeights struct {
	Validity    float64 `json:"validity"`
	Specificity float64 `json:"specificity"`
	Correctness float64 `json:"correctness"`
}

// TierThreshold is the complexity band one model tier covers.
type TierThreshold struct {
	MaxComplexity float64               `json:"max_complexity"`
	ThinkingTiers map[string][2]float64 `json:"thinking_tiers,omitempty"`
}

// TokenRates is the per-million-token price of one tier.
type TokenRates struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Baselines are the tunable routing parameters, loaded from JSON and
// updated by the optimizer.
type Baselines struct {
	Version              string                   `json:"version"`
	DQWeights            DQWeights                `json:"dq_weights"`
	DQThresholds         struct {
		Actionable float64 `json:"actionable"`
	} `json:"dq_thresholds"`
	ComplexityThresholds map[string]TierThreshold `json:"complexity_thresholds"`
	CostPerMTok          map[string]TokenRates    `json:"cost_per_mtok"`
}

// DefaultBaselines returns the built-in parameter set.
func DefaultBaselines() *Baselines {
	b := &Baselines{
		Version:   "1.0.0",
		DQWeights: DQWeights{Validity: 0.35, Specificity: 0.25, Correctness: 0.40},
		ComplexityThresholds: map[string]TierThreshold{
			"haiku":  {MaxComplexity: 0.20},
			"sonnet": {MaxComplexity: 0.70},
			"opus": {
				MaxComplexity: 1.0,
				ThinkingTiers: map[string][2]float64{
					"low":    {0.60, 0.72},
					"medium": {0.72, 0.85},
					"high":   {0.85, 0.95},
					"max":    {0.95, 1.00},
				},
			},
		},
		CostPerMTok: map[string]TokenRates{
			"haiku":  {Input: 0.80, Output: 4.0},
			"sonnet": {Input: 3.0, Output: 15.0},
			"opus":   {Input: 5.0, Output: 25.0},
		},
	}
	b.DQThresholds.Actionable = 0.5
	return b
}

// LoadBaselines reads the baselines file, falling back to defaults on
// any error (missing file, bad JSON, missing keys).
func LoadBaselines(path string) *Baselines {
	defaults := DefaultBaselines()

	data, err := os.ReadFile(path)
	if err != nil {
		return defaults
	}

	var loaded Baselines
	if err := json.Unmarshal(data, &loaded); err != nil {
		return defaults
	}

	// Partial files keep defaults for the missing sections.
	if loaded.Version == "" {
		loaded.Version = defaults.Version
	}
	if loaded.DQWeights == (DQWeights{}) {
		loaded.DQWeights = defaults.DQWeights
	}
	if loaded.DQThresholds.Actionable == 0 {
		loaded.DQThresholds.Actionable = defaults.DQThresholds.Actionable
	}
	if len(loaded.ComplexityThresholds) == 0 {
		loaded.ComplexityThresholds = defaults.ComplexityThresholds
	}
	if len(loaded.CostPerMTok) == 0 {
		loaded.CostPerMTok = defaults.CostPerMTok
	}

	return &loaded
}

// SaveBaselines writes the baselines file atomically (temp + rename).
func SaveBaselines(path string, b *Baselines) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create baselines directory: %w", err)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal baselines: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write baselines: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace baselines: %w", err)
	}

	return nil
}
