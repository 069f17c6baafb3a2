package graph

import "fmt"

// Formation is the fixed target shape for the group: one desired (x,y)
// offset per robot, flattened into the interleaved 2N-vector the
// controllers and constraint builder work in. Immutable for a run.
type Formation struct {
	desired []float64
}

// NewFormation flattens per-robot desired positions into a Formation.
func NewFormation(positions [][2]float64) (*Formation, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("formation: no positions")
	}
	desired := make([]float64, 2*len(positions))
	for i, pos := range positions {
		desired[2*i] = pos[0]
		desired[2*i+1] = pos[1]
	}
	return &Formation{desired: desired}, nil
}

// N returns the number of robots in the formation.
func (f *Formation) N() int { return len(f.desired) / 2 }

// Offset returns the desired (x,y) for robot i (1-based).
func (f *Formation) Offset(i int) (x, y float64) {
	return f.desired[2*(i-1)], f.desired[2*(i-1)+1]
}

// Vector returns the flat desired position vector p_d of length 2N.
// The returned slice is shared; callers must not modify it.
func (f *Formation) Vector() []float64 { return f.desired }
