package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/control"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 21, cfg.N())

	g, err := cfg.Graph()
	require.NoError(t, err)
	assert.True(t, g.Connected())
	// Complete graph when no neighbour lists are given.
	assert.Len(t, g.Edges(), 21*20/2)
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*RunConfig)
		field  string
	}{
		{"no robots", func(c *RunConfig) { c.Formation = nil }, "formation"},
		{"neighbour count", func(c *RunConfig) { c.Neighbours = [][]int{{2}, {1}} }, "neighbours"},
		{"disconnected", func(c *RunConfig) {
			c.Formation = [][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
			c.Neighbours = [][]int{{2}, {1}, {4}, {3}}
		}, "neighbours"},
		{"bad region", func(c *RunConfig) { c.Region = "torus" }, "region"},
		{"zero extent", func(c *RunConfig) { c.XMax = 0 }, "x_max"},
		{"cm without range", func(c *RunConfig) { c.CommMaintenance = true; c.DCM = 0 }, "d_cm"},
		{"cm below oa", func(c *RunConfig) { c.CommMaintenance = true; c.DCM = 1 }, "d_cm"},
		{"oa without distance", func(c *RunConfig) { c.DOA = 0 }, "d_oa"},
		{"non-positive alpha", func(c *RunConfig) { c.Alpha = 0 }, "alpha"},
		{"unknown agent mode", func(c *RunConfig) { c.AgentMode = "human" }, "agent_mode"},
		{"agent without speed", func(c *RunConfig) { c.AgentSpeed = 0 }, "agent_speed"},
		{"one segment", func(c *RunConfig) { c.AgentSegments = 1 }, "agent_segments"},
		{"blended without robot", func(c *RunConfig) { c.AgentMode = "blended" }, "agent_robot"},
		{"blended robot out of range", func(c *RunConfig) { c.AgentMode = "blended"; c.AgentRobot = 22 }, "agent_robot"},
		{"zero freq", func(c *RunConfig) { c.Freq = 0 }, "freq"},
		{"zero duration", func(c *RunConfig) { c.MaxT = 0 }, "max_t"},
		{"sub-step duration", func(c *RunConfig) { c.Freq = 1; c.MaxT = 1 }, "max_t"},
		{"initial length", func(c *RunConfig) { c.Initial = []float64{1, 2, 3} }, "initial"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			cerr, ok := err.(*ConfigError)
			require.True(t, ok, "want *ConfigError, got %T", err)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestConstraintParams(t *testing.T) {
	t.Parallel()

	cfg := Default()
	p := cfg.ConstraintParams()
	assert.False(t, p.CommMaintenance)
	assert.True(t, p.ObstacleAvoidance)
	assert.Equal(t, cbf.RegionArena, p.Region)
	assert.True(t, p.DynamicObstacles, "obstacle-mode agent enables the dynamic family")
	// Standoff falls back to the separation distance when unset.
	assert.Equal(t, cfg.DOA, p.DObstacle)

	cfg.AgentStandoff = 2
	assert.Equal(t, 2.0, cfg.ConstraintParams().DObstacle)

	cfg.AgentMode = "blended"
	cfg.AgentRobot = 1
	assert.False(t, cfg.ConstraintParams().DynamicObstacles)
}

func TestAgent(t *testing.T) {
	t.Parallel()

	cfg := Default()
	a := cfg.Agent(3000)
	assert.Equal(t, control.AgentObstacle, a.Mode)
	x, y := a.Position()
	assert.Equal(t, -5.0, x)
	assert.Equal(t, 20.0, y)
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Seed = 42
	snap, err := cfg.Snapshot()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(snap), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	require.NoError(t, loaded.Validate())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
