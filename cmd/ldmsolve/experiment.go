package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/ldmsolve/ldmsolve/operator"
)

// Experiment is the TOML description of one solve batch: a variant, its
// settings, and the measurements to reconstruct.
type Experiment struct {
	Variant    string  `toml:"variant"`
	Prompt     string  `toml:"prompt"`
	NullPrompt string  `toml:"null_prompt"`
	Steps      int     `toml:"steps"`
	Guidance   float64 `toml:"guidance"`
	Seed       uint64  `toml:"seed"`
	OutputDir  string  `toml:"output_dir"`

	UseDPS              bool    `toml:"use_dps"`
	UseAdaptiveNegation bool    `toml:"use_adaptive_negation"`
	CGLambda            float64 `toml:"cg_lambda"`
	NegationLR          float64 `toml:"negation_lr"`
	PromptLR            float64 `toml:"prompt_lr"`
	DPSScale            float64 `toml:"dps_scale"`
	Eta                 float64 `toml:"eta"`

	Measurements []Measurement `toml:"measurements"`
}

// Measurement pairs an input image with its degradation operator.
type Measurement struct {
	Input    string          `toml:"input"`
	Operator operator.Config `toml:"operator"`
}

// LoadExperiment parses and validates a TOML experiment file.
func LoadExperiment(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiment: %w", err)
	}

	var exp Experiment
	if err := toml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parse experiment: %w", err)
	}

	if exp.Variant == "" {
		exp.Variant = "treg"
	}
	if exp.OutputDir == "" {
		exp.OutputDir = "."
	}
	if len(exp.Measurements) == 0 {
		return nil, fmt.Errorf("experiment %s lists no measurements", path)
	}
	return &exp, nil
}
