package export

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/control"
	"github.com/banshee-data/swarm.safety/internal/graph"
	"github.com/banshee-data/swarm.safety/internal/sim"
	"github.com/banshee-data/swarm.safety/internal/simdb"
)

// recordedRun stores a short two-robot run with every series enabled and
// returns the open store plus the run ID and history.
func recordedRun(t *testing.T) (*simdb.DB, string, *sim.History) {
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

	db, err := simdb.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runID, err := db.RecordRun(r.History(), "{}", params.Freq, nil)
	require.NoError(t, err)
	return db, runID, r.History()
}

func parseCSV(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWritePositions(t *testing.T) {
	t.Parallel()

	db, runID, h := recordedRun(t)
	var buf bytes.Buffer
	require.NoError(t, WritePositions(&buf, db, runID))

	records := parseCSV(t, &buf)
	require.Len(t, records, 1+h.Steps()+1, "header plus one row per snapshot")
	assert.Equal(t, []string{"Time", "Robot_x1", "Robot_y1", "Robot_x2", "Robot_y2"}, records[0])

	// First data row is the initial state at t=0.
	assert.Equal(t, "0", records[1][0])
	y1, err := strconv.ParseFloat(records[1][2], 64)
	require.NoError(t, err)
	assert.Equal(t, 1.0, y1)
}

func TestWriteCommands(t *testing.T) {
	t.Parallel()

	db, runID, h := recordedRun(t)

	var nominal, filtered bytes.Buffer
	require.NoError(t, WriteCommands(&nominal, db, runID, false))
	require.NoError(t, WriteCommands(&filtered, db, runID, true))

	nomRecords := parseCSV(t, &nominal)
	filtRecords := parseCSV(t, &filtered)
	require.Len(t, nomRecords, 1+h.Steps())
	require.Len(t, filtRecords, 1+h.Steps())
	assert.Equal(t, nomRecords[0], filtRecords[0], "both tables share the robot header")

	got, err := strconv.ParseFloat(nomRecords[1][1], 64)
	require.NoError(t, err)
	assert.Equal(t, h.Nominal()[0][0], got)
}

func TestWriteConstraintValues(t *testing.T) {
	t.Parallel()

	db, runID, h := recordedRun(t)
	var buf bytes.Buffer
	require.NoError(t, WriteConstraintValues(&buf, db, runID, cbf.CommMaintain))

	records := parseCSV(t, &buf)
	require.Len(t, records, 1+h.Steps())
	assert.Equal(t, []string{"Time", "Edge(1,2)"}, records[0])

	got, err := strconv.ParseFloat(records[1][1], 64)
	require.NoError(t, err)
	assert.Equal(t, h.CommValues()[0][0], got)
}

func TestWriteAgentStates(t *testing.T) {
	t.Parallel()

	db, runID, _ := recordedRun(t)
	var buf bytes.Buffer
	require.NoError(t, WriteAgentStates(&buf, db, runID))

	records := parseCSV(t, &buf)
	assert.Equal(t, []string{"Time", "Agent_x", "Agent_y", "Agent_vx", "Agent_vy"}, records[0])
	require.Greater(t, len(records), 1)
	assert.Equal(t, "10", records[1][1])
	assert.Equal(t, "-1", records[1][4])
}

func TestWriteAll(t *testing.T) {
	t.Parallel()

	db, runID, _ := recordedRun(t)
	dir := filepath.Join(t.TempDir(), "export")
	written, err := WriteAll(dir, db, runID)
	require.NoError(t, err)

	names := make([]string, len(written))
	for i, p := range written {
		names[i] = filepath.Base(p)
	}
	assert.Equal(t, []string{
		"positions.csv",
		"nom_controller_log.csv",
		"controller_log.csv",
		"cbf_cm_log.csv",
		"cbf_oa_log.csv",
		"agent_log.csv",
	}, names)
}

func TestMissingSeriesRejected(t *testing.T) {
	t.Parallel()

	db, _, _ := recordedRun(t)
	var buf bytes.Buffer
	err := WriteConstraintValues(&buf, db, "no-such-run", cbf.CommMaintain)
	assert.Error(t, err)
	err = WriteAgentStates(&buf, db, "no-such-run")
	assert.Error(t, err)
}
