// Package config defines the YAML run configuration for the stochastic
// engine: imaginary-time discretization, population layout, cadences for
// stabilization, population control and checkpointing, and the branching
// thresholds.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete run configuration. Zero values are replaced by the
// defaults documented on each field when Normalize is called.
type Config struct {
	// Timestep is the imaginary-time step dt. Default 0.01.
	Timestep float64 `yaml:"timestep"`
	// Steps is the number of imaginary-time steps to run. Default 100.
	Steps int `yaml:"steps"`
	// Walkers is the number of walkers per worker. Default 10.
	Walkers int `yaml:"walkers"`
	// StabilizeFrequency is the reorthogonalization cadence in steps.
	// Default 10.
	StabilizeFrequency int `yaml:"stabilize_frequency"`
	// PopControlFrequency is the population-control cadence in steps.
	// Default 10.
	PopControlFrequency int `yaml:"pop_control_frequency"`
	// PopControlMethod selects the branching algorithm, "comb" or
	// "pair_branch". Default "comb".
	PopControlMethod string `yaml:"pop_control_method"`
	// MinWeight and MaxWeight bound pair-branch decisions. Defaults 0.1
	// and 4.0.
	MinWeight float64 `yaml:"min_weight"`
	MaxWeight float64 `yaml:"max_weight"`
	// ExpansionOrder is the truncation order of the two-body exponential.
	// Default 6.
	ExpansionOrder int `yaml:"expansion_order"`
	// FreeProjection selects free projection instead of the phaseless
	// approximation.
	FreeProjection bool `yaml:"free_projection"`
	// Seed seeds the per-worker auxiliary-field samplers and the rank-0
	// branching RNG.
	Seed int64 `yaml:"seed"`
	// CheckpointFrequency is the checkpoint cadence in steps. Zero
	// disables checkpointing.
	CheckpointFrequency int `yaml:"checkpoint_frequency"`
}

// Default returns a configuration with every field at its documented default.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize replaces zero values with defaults.
func (c *Config) Normalize() {
	if c.Timestep == 0 {
		c.Timestep = 0.01
	}
	if c.Steps == 0 {
		c.Steps = 100
	}
	if c.Walkers == 0 {
		c.Walkers = 10
	}
	if c.StabilizeFrequency == 0 {
		c.StabilizeFrequency = 10
	}
	if c.PopControlFrequency == 0 {
		c.PopControlFrequency = 10
	}
	if c.PopControlMethod == "" {
		c.PopControlMethod = "comb"
	}
	if c.MinWeight == 0 {
		c.MinWeight = 0.1
	}
	if c.MaxWeight == 0 {
		c.MaxWeight = 4.0
	}
	if c.ExpansionOrder == 0 {
		c.ExpansionOrder = 6
	}
}

// Validate reports the first configuration error, if any. Call Normalize
// first when zero values should mean defaults.
func (c *Config) Validate() error {
	if c.Timestep <= 0 {
		return fmt.Errorf("config: timestep must be positive, got %g", c.Timestep)
	}
	if c.Steps < 1 {
		return fmt.Errorf("config: steps must be at least 1, got %d", c.Steps)
	}
	if c.Walkers < 1 {
		return fmt.Errorf("config: walkers must be at least 1, got %d", c.Walkers)
	}
	if c.StabilizeFrequency < 1 {
		return fmt.Errorf("config: stabilize frequency must be at least 1, got %d", c.StabilizeFrequency)
	}
	if c.PopControlFrequency < 0 {
		return fmt.Errorf("config: pop control frequency must be non-negative, got %d", c.PopControlFrequency)
	}
	if c.PopControlMethod != "comb" && c.PopControlMethod != "pair_branch" {
		return fmt.Errorf("config: unknown pop control method %q", c.PopControlMethod)
	}
	if c.MinWeight <= 0 || c.MinWeight >= c.MaxWeight {
		return fmt.Errorf("config: weight thresholds (%g, %g) must satisfy 0 < min < max", c.MinWeight, c.MaxWeight)
	}
	if c.ExpansionOrder < 1 {
		return fmt.Errorf("config: expansion order must be at least 1, got %d", c.ExpansionOrder)
	}
	if c.CheckpointFrequency < 0 {
		return fmt.Errorf("config: checkpoint frequency must be non-negative, got %d", c.CheckpointFrequency)
	}
	return nil
}

// Parse decodes a YAML document, normalizes defaults and validates.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}
