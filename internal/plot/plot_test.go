package plot

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/graph"
	"github.com/banshee-data/swarm.safety/internal/sim"
)

func shortHistory(t *testing.T) *sim.History {
	t.Helper()
	g, err := graph.Complete(2)
	require.NoError(t, err)
	f, err := graph.NewFormation([][2]float64{{0, 1}, {0, -1}})
	require.NoError(t, err)
	builder := cbf.NewBuilder(g, cbf.Params{
		ObstacleAvoidance: true,
		DOA:               0.5,
		Alpha:             1,
		Region:            cbf.RegionArena,
		XMax:              25,
		YMax:              25,
	})
	r := sim.NewRunner(g, f, builder, nil, sim.Params{Freq: 10, MaxT: 0.5}, []float64{0, 1, 0, -1})
	require.NoError(t, r.Run())
	return r.History()
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data[:4])
}

func TestTrajectories(t *testing.T) {
	t.Parallel()

	h := shortHistory(t)
	path := filepath.Join(t.TempDir(), "trajectories.png")
	region := Region{Kind: cbf.RegionArena, XMax: 25, YMax: 25}
	require.NoError(t, Trajectories(h, region, path))
	assertPNG(t, path)
}

func TestTrajectoriesWedge(t *testing.T) {
	t.Parallel()

	h := shortHistory(t)
	path := filepath.Join(t.TempDir(), "wedge.png")
	region := Region{Kind: cbf.RegionWedge, XMax: 25, YMax: 25}
	require.NoError(t, Trajectories(h, region, path))
	assertPNG(t, path)
}

func TestConstraintSeries(t *testing.T) {
	t.Parallel()

	h := shortHistory(t)
	path := filepath.Join(t.TempDir(), "oa.png")
	require.NoError(t, ConstraintSeries(h, cbf.CollisionAvoid, path))
	assertPNG(t, path)

	// The communication family was not enabled for this run.
	err := ConstraintSeries(h, cbf.CommMaintain, filepath.Join(t.TempDir(), "cm.png"))
	assert.Error(t, err)
	err = ConstraintSeries(h, cbf.ArenaBound, filepath.Join(t.TempDir(), "arena.png"))
	assert.Error(t, err)
}

func TestCorrection(t *testing.T) {
	t.Parallel()

	h := shortHistory(t)
	path := filepath.Join(t.TempDir(), "correction.png")
	require.NoError(t, Correction(h, path))
	assertPNG(t, path)
}

func TestSaveAll(t *testing.T) {
	t.Parallel()

	h := shortHistory(t)
	dir := filepath.Join(t.TempDir(), "charts")
	region := Region{Kind: cbf.RegionArena, XMax: 25, YMax: 25}
	written, err := SaveAll(dir, h, region)
	require.NoError(t, err)

	names := make([]string, len(written))
	for i, p := range written {
		names[i] = filepath.Base(p)
	}
	// No cm chart: that family was off.
	assert.Equal(t, []string{"trajectories.png", "cbf_oa.png", "correction.png"}, names)
	for _, p := range written {
		assertPNG(t, p)
	}
}

func TestGenerateColors(t *testing.T) {
	t.Parallel()

	colors := generateColors(8)
	require.Len(t, colors, 8)
	seen := map[color.Color]bool{}
	for _, c := range colors {
		assert.False(t, seen[c], "palette colors must be distinct")
		seen[c] = true
	}
	assert.Nil(t, generateColors(0))
}
