// Package plot renders post-run PNG charts from a recorded history:
// the trajectory map with the region boundary, per-edge barrier-value
// series, and the per-robot correction magnitude applied by the filter.
package plot

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/sim"
)

// Region describes the boundary to draw on the trajectory map.
type Region struct {
	Kind cbf.RegionKind
	XMax float64
	YMax float64
}

// Trajectories plots every robot's path, the region boundary, and the
// agent's path when one was recorded.
func Trajectories(h *sim.History, region Region, path string) error {
	p := plot.New()
	p.Title.Text = "Robot trajectories"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	for _, line := range regionOutline(region) {
		boundary, err := plotter.NewLine(line)
		if err != nil {
			return fmt.Errorf("plot: boundary line: %w", err)
		}
		boundary.Color = color.RGBA{R: 200, A: 255}
		boundary.Width = vg.Points(2)
		p.Add(boundary)
	}

	positions := h.Positions()
	colors := generateColors(h.N())
	for i := 1; i <= h.N(); i++ {
		pts := make(plotter.XYs, len(positions))
		for t, state := range positions {
			pts[t].X = state[2*(i-1)]
			pts[t].Y = state[2*(i-1)+1]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plot: robot %d: %w", i, err)
		}
		line.Color = colors[i-1]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("Robot %d", i), line)
	}

	if agent := h.AgentPositions(); agent != nil {
		pts := make(plotter.XYs, len(agent))
		for t, pos := range agent {
			pts[t].X = pos[0]
			pts[t].Y = pos[1]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plot: agent: %w", err)
		}
		line.Color = color.RGBA{G: 150, A: 255}
		line.Width = vg.Points(2)
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add("Agent", line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}

// ConstraintSeries plots the barrier value of every edge of one family
// against time, with the h=0 safety floor marked.
func ConstraintSeries(h *sim.History, kind cbf.Kind, path string) error {
	var series [][]float64
	switch kind {
	case cbf.CommMaintain:
		series = h.CommValues()
	case cbf.CollisionAvoid:
		series = h.AvoidValues()
	default:
		return fmt.Errorf("plot: no recorded series for kind %s", kind)
	}
	if series == nil {
		return fmt.Errorf("plot: %s family was not enabled", kind)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("CBF values (%s)", kind)
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "h"

	colors := generateColors(len(h.Edges()))
	for e, edge := range h.Edges() {
		pts := make(plotter.XYs, len(series))
		for t := range series {
			pts[t].X = h.Time(t)
			pts[t].Y = series[t][e]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plot: %s: %w", edge, err)
		}
		line.Color = colors[e]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(edge.String(), line)
	}

	zero, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: h.Time(len(series)), Y: 0}})
	if err != nil {
		return fmt.Errorf("plot: zero line: %w", err)
	}
	zero.Color = color.Black
	p.Add(zero)

	p.Legend.Top = true
	return p.Save(10*vg.Inch, 6*vg.Inch, path)
}

// Correction plots the per-robot magnitude of the filter's adjustment,
// |u - u_nom|, against time.
func Correction(h *sim.History, path string) error {
	nominal := h.Nominal()
	filtered := h.Filtered()

	p := plot.New()
	p.Title.Text = "Filter correction |u - u_nom|"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "|u - u_nom|"

	colors := generateColors(h.N())
	for i := 1; i <= h.N(); i++ {
		pts := make(plotter.XYs, len(nominal))
		for t := range nominal {
			dx := filtered[t][2*(i-1)] - nominal[t][2*(i-1)]
			dy := filtered[t][2*(i-1)+1] - nominal[t][2*(i-1)+1]
			pts[t].X = h.Time(t)
			pts[t].Y = math.Hypot(dx, dy)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plot: robot %d: %w", i, err)
		}
		line.Color = colors[i-1]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("Robot %d", i), line)
	}

	p.Legend.Top = true
	return p.Save(10*vg.Inch, 6*vg.Inch, path)
}

// SaveAll writes every applicable chart for the history into dir and
// returns the paths written.
func SaveAll(dir string, h *sim.History, region Region) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("plot: create %s: %w", dir, err)
	}

	var written []string
	save := func(name string, fn func(string) error) error {
		path := filepath.Join(dir, name)
		if err := fn(path); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if err := save("trajectories.png", func(path string) error {
		return Trajectories(h, region, path)
	}); err != nil {
		return written, err
	}
	if h.CommValues() != nil {
		if err := save("cbf_cm.png", func(path string) error {
			return ConstraintSeries(h, cbf.CommMaintain, path)
		}); err != nil {
			return written, err
		}
	}
	if h.AvoidValues() != nil {
		if err := save("cbf_oa.png", func(path string) error {
			return ConstraintSeries(h, cbf.CollisionAvoid, path)
		}); err != nil {
			return written, err
		}
	}
	if err := save("correction.png", func(path string) error {
		return Correction(h, path)
	}); err != nil {
		return written, err
	}
	return written, nil
}

// regionOutline returns the boundary polyline(s) for the region.
func regionOutline(r Region) []plotter.XYs {
	switch r.Kind {
	case cbf.RegionWedge:
		// Two wedge lines meeting at the apex (XMax, 0).
		return []plotter.XYs{
			{{X: -r.XMax, Y: r.YMax}, {X: r.XMax, Y: 0}},
			{{X: -r.XMax, Y: -r.YMax}, {X: r.XMax, Y: 0}},
		}
	default:
		return []plotter.XYs{{
			{X: -r.XMax, Y: -r.YMax},
			{X: r.XMax, Y: -r.YMax},
			{X: r.XMax, Y: r.YMax},
			{X: -r.XMax, Y: r.YMax},
			{X: -r.XMax, Y: -r.YMax},
		}}
	}
}

// generateColors creates a palette of distinct colors, one per series.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range).
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	default:
		return p
	}
}
