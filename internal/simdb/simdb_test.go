package simdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/control"
	"github.com/banshee-data/swarm.safety/internal/graph"
	"github.com/banshee-data/swarm.safety/internal/sim"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// smallRun executes a short two-robot run exercising every recorded
// series: both pairwise families plus an obstacle-mode agent.
func smallRun(t *testing.T) *sim.History {
	t.Helper()
	g, err := graph.Complete(2)
	require.NoError(t, err)
	f, err := graph.NewFormation([][2]float64{{0, 1}, {0, -1}})
	require.NoError(t, err)
	builder := cbf.NewBuilder(g, cbf.Params{
		CommMaintenance:   true,
		ObstacleAvoidance: true,
		DCM:               5,
		DOA:               0.5,
		Alpha:             1,
		Region:            cbf.RegionArena,
		XMax:              25,
		YMax:              25,
	})
	params := sim.Params{Freq: 10, MaxT: 0.5}
	agent := control.NewAgent(control.AgentObstacle, 0, 1, 2, params.Samples(), [2]float64{10, 10})

	r := sim.NewRunner(g, f, builder, agent, params, []float64{0, 1, 0, -1})
	require.NoError(t, r.Run())
	return r.History()
}

func TestMigrateVersion(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	// Re-applying is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestRecordAndReadBack(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	h := smallRun(t)

	runID, err := db.RecordRun(h, `{"freq":10}`, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run, err := db.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, 2, run.Robots)
	assert.Equal(t, h.Steps(), run.Steps)
	assert.Equal(t, 10, run.Freq)
	assert.True(t, run.Completed)
	assert.False(t, run.FailStep.Valid)
	assert.Equal(t, `{"freq":10}`, run.Config)

	states, err := db.RobotStates(runID)
	require.NoError(t, err)
	require.Len(t, states, (h.Steps()+1)*h.N())
	// First rows are the initial state, ordered by robot.
	assert.Equal(t, StateRow{Step: 0, Time: 0, Robot: 1, X: 0, Y: 1}, states[0])
	assert.Equal(t, StateRow{Step: 0, Time: 0, Robot: 2, X: 0, Y: -1}, states[1])

	commands, err := db.Commands(runID)
	require.NoError(t, err)
	require.Len(t, commands, h.Steps()*h.N())
	assert.Equal(t, h.Nominal()[0][0], commands[0].NominalX)
	assert.Equal(t, h.Filtered()[0][1], commands[0].FilteredY)

	cm, err := db.ConstraintValues(runID, cbf.CommMaintain)
	require.NoError(t, err)
	require.Len(t, cm, h.Steps()*len(h.Edges()))
	assert.Equal(t, 1, cm[0].I)
	assert.Equal(t, 2, cm[0].J)
	assert.Equal(t, h.CommValues()[0][0], cm[0].H)

	oa, err := db.ConstraintValues(runID, cbf.CollisionAvoid)
	require.NoError(t, err)
	require.Len(t, oa, h.Steps()*len(h.Edges()))

	agents, err := db.AgentStates(runID)
	require.NoError(t, err)
	require.NotEmpty(t, agents)
	require.True(t, agents[0].X.Valid)
	assert.Equal(t, 10.0, agents[0].X.Float64)
	require.True(t, agents[0].VY.Valid)
	assert.Equal(t, -1.0, agents[0].VY.Float64)
}

func TestRecordFailedRun(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	h := smallRun(t)

	runErr := &sim.NumericalError{Step: 3, Constraint: "oa(1,2)", Err: assert.AnError}
	runID, err := db.RecordRun(h, "{}", 10, runErr)
	require.NoError(t, err)

	run, err := db.GetRun(runID)
	require.NoError(t, err)
	assert.False(t, run.Completed)
	require.True(t, run.FailStep.Valid)
	assert.Equal(t, int64(3), run.FailStep.Int64)
	require.True(t, run.FailMsg.Valid)
	assert.Contains(t, run.FailMsg.String, "oa(1,2)")
}

func TestRunsNewestFirst(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	h := smallRun(t)

	first, err := db.RecordRun(h, "{}", 10, nil)
	require.NoError(t, err)
	second, err := db.RecordRun(h, "{}", 10, nil)
	require.NoError(t, err)

	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, second)
}

func TestGetRunMissing(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	_, err := db.GetRun("no-such-run")
	assert.Error(t, err)
}
