package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 0.01, c.Timestep)
	assert.Equal(t, 100, c.Steps)
	assert.Equal(t, 10, c.Walkers)
	assert.Equal(t, 10, c.StabilizeFrequency)
	assert.Equal(t, 10, c.PopControlFrequency)
	assert.Equal(t, "comb", c.PopControlMethod)
	assert.Equal(t, 0.1, c.MinWeight)
	assert.Equal(t, 4.0, c.MaxWeight)
	assert.Equal(t, 6, c.ExpansionOrder)
	assert.False(t, c.FreeProjection)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
timestep: 0.005
steps: 50
walkers: 20
pop_control_method: pair_branch
free_projection: true
seed: 7
`))
	require.NoError(t, err)
	assert.Equal(t, 0.005, c.Timestep)
	assert.Equal(t, 50, c.Steps)
	assert.Equal(t, 20, c.Walkers)
	assert.Equal(t, "pair_branch", c.PopControlMethod)
	assert.True(t, c.FreeProjection)
	assert.Equal(t, int64(7), c.Seed)

	// Unset fields still pick up their defaults.
	assert.Equal(t, 10, c.StabilizeFrequency)
	assert.Equal(t, 6, c.ExpansionOrder)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("timestep: [not a number"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative timestep", func(c *Config) { c.Timestep = -1 }},
		{"negative steps", func(c *Config) { c.Steps = -1 }},
		{"negative walkers", func(c *Config) { c.Walkers = -1 }},
		{"bad method", func(c *Config) { c.PopControlMethod = "roulette" }},
		{"inverted weights", func(c *Config) { c.MinWeight = 5 }},
		{"negative expansion order", func(c *Config) { c.ExpansionOrder = -1 }},
		{"negative checkpoint cadence", func(c *Config) { c.CheckpointFrequency = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps: 25\nseed: 3\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, c.Steps)
	assert.Equal(t, int64(3), c.Seed)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
