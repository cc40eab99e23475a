// Package config provides PipelineConfig loading and python interpreter
// detection. Config is read from dashgen.yaml in the project root. A missing
// file returns sane defaults without error. CLI flags (bound via cobra)
// override config file values at the highest precedence by mutating the
// returned struct after loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for PipelineConfig fields. The model assignments and the
// iteration budget match the behavior the pipeline was tuned against.
const (
	DefaultMaxIterations         = 3
	DefaultSandboxTimeoutSeconds = 30
	DefaultDataRetryBudget       = 2
	DefaultWorkdir               = "generated"
	DefaultPlannerModel          = "gpt-4.1-mini"
	DefaultResolverModel         = "gpt-4o-mini"
	DefaultCoderModel            = "gpt-4o-mini"
	DefaultRepairModel           = "gpt-4o-mini"
)

// PipelineConfig holds all configuration for a dash-gen session. It is read
// from dashgen.yaml in the project root. CLI flags override it at the highest
// precedence by being applied after LoadConfig returns.
type PipelineConfig struct {
	PythonCommand         string `yaml:"python_command"`
	MaxIterations         int    `yaml:"max_iterations"`
	SandboxTimeoutSeconds int    `yaml:"sandbox_timeout_seconds"`
	DataRetryBudget       int    `yaml:"data_retry_budget"`
	Workdir               string `yaml:"workdir"`
	PlannerModel          string `yaml:"planner_model"`
	ResolverModel         string `yaml:"resolver_model"`
	CoderModel            string `yaml:"coder_model"`
	RepairModel           string `yaml:"repair_model"`
}

// SandboxTimeout returns the per-execution wall-clock budget as a Duration.
func (c *PipelineConfig) SandboxTimeout() time.Duration {
	return time.Duration(c.SandboxTimeoutSeconds) * time.Second
}

// Validate checks the numeric invariants the loop controller depends on.
// The nested resolver budget must be strictly smaller than the main repair
// budget so the resolver cannot out-spend the loop it feeds.
func (c *PipelineConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.SandboxTimeoutSeconds < 1 {
		return fmt.Errorf("sandbox_timeout_seconds must be at least 1, got %d", c.SandboxTimeoutSeconds)
	}
	if c.DataRetryBudget < 1 {
		return fmt.Errorf("data_retry_budget must be at least 1, got %d", c.DataRetryBudget)
	}
	if c.DataRetryBudget >= c.MaxIterations {
		return fmt.Errorf("data_retry_budget (%d) must be smaller than max_iterations (%d)",
			c.DataRetryBudget, c.MaxIterations)
	}
	return nil
}

// defaults returns a PipelineConfig populated with sane defaults. The python
// command is left empty so that DetectPythonCommand runs only when neither
// the config file nor a CLI flag supplied one.
func defaults() PipelineConfig {
	return PipelineConfig{
		MaxIterations:         DefaultMaxIterations,
		SandboxTimeoutSeconds: DefaultSandboxTimeoutSeconds,
		DataRetryBudget:       DefaultDataRetryBudget,
		Workdir:               DefaultWorkdir,
		PlannerModel:          DefaultPlannerModel,
		ResolverModel:         DefaultResolverModel,
		CoderModel:            DefaultCoderModel,
		RepairModel:           DefaultRepairModel,
	}
}

// partialConfig is used during YAML parsing to distinguish between a field
// being absent (nil pointer) and a field being explicitly set to its zero value.
type partialConfig struct {
	PythonCommand         *string `yaml:"python_command"`
	MaxIterations         *int    `yaml:"max_iterations"`
	SandboxTimeoutSeconds *int    `yaml:"sandbox_timeout_seconds"`
	DataRetryBudget       *int    `yaml:"data_retry_budget"`
	Workdir               *string `yaml:"workdir"`
	PlannerModel          *string `yaml:"planner_model"`
	ResolverModel         *string `yaml:"resolver_model"`
	CoderModel            *string `yaml:"coder_model"`
	RepairModel           *string `yaml:"repair_model"`
}

// LoadConfig reads dashgen.yaml at path and returns a PipelineConfig.
// If the file does not exist, defaults are returned without error.
// Fields absent from the file are filled with their default values.
// Fields present in the file override the corresponding default.
//
// CLI flag override pattern: cobra applies changed flags to the returned
// *PipelineConfig after this call, giving flags the highest precedence.
func LoadConfig(path string) (*PipelineConfig, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, err
	}

	var partial partialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return nil, err
	}

	if partial.PythonCommand != nil {
		cfg.PythonCommand = *partial.PythonCommand
	}
	if partial.MaxIterations != nil {
		cfg.MaxIterations = *partial.MaxIterations
	}
	if partial.SandboxTimeoutSeconds != nil {
		cfg.SandboxTimeoutSeconds = *partial.SandboxTimeoutSeconds
	}
	if partial.DataRetryBudget != nil {
		cfg.DataRetryBudget = *partial.DataRetryBudget
	}
	if partial.Workdir != nil {
		cfg.Workdir = *partial.Workdir
	}
	if partial.PlannerModel != nil {
		cfg.PlannerModel = *partial.PlannerModel
	}
	if partial.ResolverModel != nil {
		cfg.ResolverModel = *partial.ResolverModel
	}
	if partial.CoderModel != nil {
		cfg.CoderModel = *partial.CoderModel
	}
	if partial.RepairModel != nil {
		cfg.RepairModel = *partial.RepairModel
	}

	return &cfg, nil
}

// DetectPythonCommand returns the python interpreter found on PATH.
// Preference order: python3, then python. Returns an error when neither is
// available, listing both names tried.
func DetectPythonCommand() (string, error) {
	for _, candidate := range []string{"python3", "python"} {
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no python interpreter found on PATH (tried python3, python)")
}
