package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/swarm.safety/internal/graph"
)

func twoRobotController(t *testing.T) *FormationController {
	t.Helper()
	g, err := graph.Complete(2)
	require.NoError(t, err)
	f, err := graph.NewFormation([][2]float64{{0, 2}, {0, -2}})
	require.NoError(t, err)
	return NewFormationController(g, f)
}

func TestFormationCommand(t *testing.T) {
	t.Parallel()

	ctrl := twoRobotController(t)

	// At the target formation (up to translation) the command is zero.
	u := make([]float64, 4)
	ctrl.Command([]float64{5, 7, 5, 3}, u)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, u, 1e-12)

	// Collapsed robots: each is pushed toward its own offset.
	ctrl.Command([]float64{0, 0, 0, 0}, u)
	assert.InDeltaSlice(t, []float64{0, 4, 0, -4}, u, 1e-12)
}

func TestFormationCommandChain(t *testing.T) {
	t.Parallel()

	g, err := graph.New([][]int{{2}, {1, 3}, {2}})
	require.NoError(t, err)
	f, err := graph.NewFormation([][2]float64{{0, 0}, {1, 0}, {2, 0}})
	require.NoError(t, err)
	ctrl := NewFormationController(g, f)

	// Middle robot displaced; ends get pulled, middle pulled back twice.
	u := make([]float64, 6)
	ctrl.Command([]float64{0, 0, 1, 1, 2, 0}, u)
	assert.InDeltaSlice(t, []float64{0, 1, 0, -2, 0, 1}, u, 1e-12)
}

func TestParseAgentMode(t *testing.T) {
	t.Parallel()

	for s, want := range map[string]AgentMode{"off": AgentOff, "": AgentOff, "blended": AgentBlended, "obstacle": AgentObstacle} {
		mode, err := ParseAgentMode(s)
		require.NoError(t, err)
		assert.Equal(t, want, mode)
	}
	_, err := ParseAgentMode("human")
	assert.Error(t, err)
}

func TestAgentVelocityLaw(t *testing.T) {
	t.Parallel()

	// 6 segments over 600 steps: 100 steps each.
	a := NewAgent(AgentObstacle, 0, 2.5, 6, 600, [2]float64{-5, 20})

	check := func(step int, wantX, wantY float64) {
		vx, vy := a.Velocity(step)
		assert.Equal(t, wantX, vx, "step %d", step)
		assert.Equal(t, wantY, vy, "step %d", step)
	}
	check(0, 0, -2.5)   // first segment enters the arena
	check(99, 0, -2.5)  // still first segment
	check(100, 2.5, 0)  // odd interior segment sweeps +x
	check(200, -2.5, 0) // even interior segment sweeps -x
	check(300, 2.5, 0)
	check(400, -2.5, 0)
	check(599, 0, 2.5) // last segment leaves
}

func TestAgentStepAndPosition(t *testing.T) {
	t.Parallel()

	a := NewAgent(AgentObstacle, 0, 2.5, 6, 600, [2]float64{-5, 20})
	a.Step(0, 0.02)
	x, y := a.Position()
	assert.Equal(t, -5.0, x)
	assert.InDelta(t, 20-2.5*0.02, y, 1e-12)

	// Blended agents never move their own point.
	b := NewAgent(AgentBlended, 1, 2.5, 6, 600, [2]float64{-5, 20})
	b.Step(0, 0.02)
	x, y = b.Position()
	assert.Equal(t, -5.0, x)
	assert.Equal(t, 20.0, y)
}

func TestAgentOverride(t *testing.T) {
	t.Parallel()

	uNom := []float64{1, 2, 3, 4}

	blended := NewAgent(AgentBlended, 2, 2.5, 6, 600, [2]float64{})
	blended.Override(uNom, 0)
	assert.Equal(t, []float64{1, 2, 0, -2.5}, uNom)

	// Obstacle-mode agents never touch the nominal command.
	uNom = []float64{1, 2, 3, 4}
	obstacle := NewAgent(AgentObstacle, 2, 2.5, 6, 600, [2]float64{})
	obstacle.Override(uNom, 0)
	assert.Equal(t, []float64{1, 2, 3, 4}, uNom)
}
