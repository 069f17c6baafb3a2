// Package config loads and validates run configuration. All invalid or
// contradictory settings are rejected here, before any stepping occurs;
// the core packages assume a validated configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/control"
	"github.com/banshee-data/swarm.safety/internal/graph"
)

// ConfigError reports a malformed or contradictory configuration.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// RunConfig is the full configuration for one simulation run. The JSON
// schema doubles as the on-disk config file format.
type RunConfig struct {
	// Formation holds the desired (x,y) per robot; its length fixes the
	// robot count N.
	Formation [][2]float64 `json:"formation"`
	// Neighbours holds 1-based neighbour lists, one per robot. Empty
	// means the complete graph.
	Neighbours [][]int `json:"neighbours,omitempty"`

	// Constraint family toggles and thresholds.
	CommMaintenance   bool    `json:"comm_maintenance"`
	ObstacleAvoidance bool    `json:"obstacle_avoidance"`
	DCM               float64 `json:"d_cm"`
	DOA               float64 `json:"d_oa"`
	Alpha             float64 `json:"alpha"`

	// Region is "arena" (default) or "wedge"; XMax/YMax are the
	// half-extents (and fix the wedge slope YMax/(2*XMax)).
	Region string  `json:"region,omitempty"`
	XMax   float64 `json:"x_max"`
	YMax   float64 `json:"y_max"`

	// AgentMode is "off" (default), "blended" or "obstacle".
	AgentMode     string     `json:"agent_mode,omitempty"`
	AgentRobot    int        `json:"agent_robot,omitempty"` // 1-based, blended mode
	AgentSpeed    float64    `json:"agent_speed,omitempty"`
	AgentSegments int        `json:"agent_segments,omitempty"`
	AgentStart    [2]float64 `json:"agent_start,omitempty"`
	// AgentStandoff is the dynamic-obstacle distance; defaults to DOA.
	AgentStandoff float64 `json:"agent_standoff,omitempty"`

	// Time base.
	Freq int     `json:"freq"`
	MaxT float64 `json:"max_t"`

	// Seed drives random initial placement; 0 means time-seeded.
	Seed int64 `json:"seed,omitempty"`
	// Initial overrides random placement with an explicit flat 2N state.
	Initial []float64 `json:"initial,omitempty"`
}

// Default returns the reference configuration: 21 robots in a "KTH"
// arrow formation on a complete graph, obstacle avoidance on, an
// obstacle-mode agent sweeping the arena.
func Default() *RunConfig {
	return &RunConfig{
		Formation: [][2]float64{
			{0, 10}, {0, 8}, {0, 6}, {0, 4}, {0, 2}, {0, 0}, {0, -2}, {0, -4}, {0, -6}, {0, -8}, {0, -10},
			{10, 10}, {8, 8}, {6, 6}, {4, 4}, {2, 2}, {2, -2}, {4, -4}, {6, -6}, {8, -8}, {10, -10},
		},
		CommMaintenance:   false,
		ObstacleAvoidance: true,
		DCM:               3,
		DOA:               1.1,
		Alpha:             1,
		Region:            "arena",
		XMax:              25,
		YMax:              25,
		AgentMode:         "obstacle",
		AgentSpeed:        2.5,
		AgentSegments:     6,
		AgentStart:        [2]float64{-5, 20},
		Freq:              50,
		MaxT:              60,
	}
}

// Load reads a RunConfig from a JSON file.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// N returns the robot count implied by the formation list.
func (c *RunConfig) N() int { return len(c.Formation) }

// Validate checks the configuration and returns the first problem found.
func (c *RunConfig) Validate() error {
	n := c.N()
	if n == 0 {
		return &ConfigError{Field: "formation", Msg: "no robots configured"}
	}
	if len(c.Neighbours) != 0 && len(c.Neighbours) != n {
		return &ConfigError{
			Field: "neighbours",
			Msg:   fmt.Sprintf("%d neighbour lists for %d robots", len(c.Neighbours), n),
		}
	}
	g, err := c.Graph()
	if err != nil {
		return &ConfigError{Field: "neighbours", Msg: err.Error()}
	}
	if !g.Connected() {
		return &ConfigError{Field: "neighbours", Msg: "graph is disconnected; the consensus law assumes connectivity"}
	}

	if c.CommMaintenance && c.DCM <= 0 {
		return &ConfigError{Field: "d_cm", Msg: "must be positive when comm_maintenance is on"}
	}
	if c.ObstacleAvoidance && c.DOA <= 0 {
		return &ConfigError{Field: "d_oa", Msg: "must be positive when obstacle_avoidance is on"}
	}
	if c.CommMaintenance && c.ObstacleAvoidance && c.DCM <= c.DOA {
		return &ConfigError{Field: "d_cm", Msg: "communication range must exceed the separation distance"}
	}
	if c.Alpha <= 0 {
		return &ConfigError{Field: "alpha", Msg: "CBF gain must be positive"}
	}

	if _, err := cbf.ParseRegionKind(c.Region); err != nil {
		return &ConfigError{Field: "region", Msg: err.Error()}
	}
	if c.XMax <= 0 || c.YMax <= 0 {
		return &ConfigError{Field: "x_max", Msg: "region half-extents must be positive"}
	}

	mode, err := control.ParseAgentMode(c.AgentMode)
	if err != nil {
		return &ConfigError{Field: "agent_mode", Msg: err.Error()}
	}
	if mode != control.AgentOff {
		if c.AgentSpeed <= 0 {
			return &ConfigError{Field: "agent_speed", Msg: "must be positive when the agent is on"}
		}
		if c.AgentSegments < 2 {
			return &ConfigError{Field: "agent_segments", Msg: "need at least 2 segments"}
		}
	}
	if mode == control.AgentBlended && (c.AgentRobot < 1 || c.AgentRobot > n) {
		return &ConfigError{
			Field: "agent_robot",
			Msg:   fmt.Sprintf("blended mode needs a robot index in [1,%d], got %d", n, c.AgentRobot),
		}
	}

	if c.Freq <= 0 {
		return &ConfigError{Field: "freq", Msg: "must be positive"}
	}
	if c.MaxT <= 0 {
		return &ConfigError{Field: "max_t", Msg: "must be positive"}
	}
	if int(c.MaxT*float64(c.Freq)) < 2 {
		return &ConfigError{Field: "max_t", Msg: "run too short for a single step"}
	}
	if len(c.Initial) != 0 && len(c.Initial) != 2*n {
		return &ConfigError{
			Field: "initial",
			Msg:   fmt.Sprintf("explicit initial state has %d entries, want %d", len(c.Initial), 2*n),
		}
	}
	return nil
}

// Graph builds the configured communication graph.
func (c *RunConfig) Graph() (*graph.Graph, error) {
	if len(c.Neighbours) == 0 {
		return graph.Complete(c.N())
	}
	return graph.New(c.Neighbours)
}

// ConstraintParams maps the configuration to the constraint builder's
// parameter set. Call Validate first.
func (c *RunConfig) ConstraintParams() cbf.Params {
	region, _ := cbf.ParseRegionKind(c.Region)
	mode, _ := control.ParseAgentMode(c.AgentMode)
	standoff := c.AgentStandoff
	if standoff == 0 {
		standoff = c.DOA
	}
	return cbf.Params{
		CommMaintenance:   c.CommMaintenance,
		ObstacleAvoidance: c.ObstacleAvoidance,
		DCM:               c.DCM,
		DOA:               c.DOA,
		Alpha:             c.Alpha,
		Region:            region,
		XMax:              c.XMax,
		YMax:              c.YMax,
		DynamicObstacles:  mode == control.AgentObstacle,
		DObstacle:         standoff,
	}
}

// Agent builds the configured exogenous agent for a run of totalSteps.
func (c *RunConfig) Agent(totalSteps int) *control.Agent {
	mode, _ := control.ParseAgentMode(c.AgentMode)
	return control.NewAgent(mode, c.AgentRobot, c.AgentSpeed, c.AgentSegments, totalSteps, c.AgentStart)
}

// Snapshot renders the configuration as canonical JSON for run metadata.
func (c *RunConfig) Snapshot() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("config: snapshot: %w", err)
	}
	return string(data), nil
}
