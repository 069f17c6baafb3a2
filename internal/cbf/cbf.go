// Package cbf derives the per-step safety constraint system. Each active
// safety condition is a control barrier function h(p) >= 0 whose discrete
// CBF condition hdot >= -alpha*h is affine in the commanded velocities,
// so every constraint contributes one row of a stacked system A u <= b
// that the QP filter in internal/qp projects onto.
package cbf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/swarm.safety/internal/graph"
)

// Kind tags a constraint family.
type Kind int

const (
	// CommMaintain keeps an edge's robots within communication range:
	// h = d_cm^2 - |p_i - p_j|^2.
	CommMaintain Kind = iota
	// CollisionAvoid keeps an edge's robots apart:
	// h = |p_i - p_j|^2 - d_oa^2.
	CollisionAvoid
	// ArenaBound keeps a robot inside one of the four arena half-planes.
	ArenaBound
	// WedgeBound keeps a robot inside one of the two wedge half-planes.
	WedgeBound
	// DynamicObstacle keeps a robot away from the exogenous agent:
	// h = |p_i - q|^2 - d_ob^2, with the agent's known velocity folded
	// into the right-hand side.
	DynamicObstacle
)

// String returns the short family name used in recorded series.
func (k Kind) String() string {
	switch k {
	case CommMaintain:
		return "cm"
	case CollisionAvoid:
		return "oa"
	case ArenaBound:
		return "arena"
	case WedgeBound:
		return "wedge"
	case DynamicObstacle:
		return "obstacle"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Arena wall indices, in row order.
const (
	WallXMin = iota
	WallXMax
	WallYMin
	WallYMax
)

// Wedge side indices.
const (
	SideUpper = iota
	SideLower
)

// Constraint is one tagged row of the stacked system. I is always set;
// J is the second robot for pairwise kinds and the wall/side index for
// region kinds (J is zero for DynamicObstacle).
type Constraint struct {
	Kind Kind
	I, J int
	// H is the barrier value at build time. Negative means the safety
	// condition is currently violated.
	H float64
	// Row is the constraint's gradient w.r.t. the decision vector u
	// (length 2N); RHS is its bound: Row . u <= RHS.
	Row []float64
	RHS float64
}

// Participants renders the constraint for diagnostics and error reports.
func (c Constraint) Participants() string {
	switch c.Kind {
	case CommMaintain, CollisionAvoid:
		return fmt.Sprintf("%s(%d,%d)", c.Kind, c.I, c.J)
	case ArenaBound:
		return fmt.Sprintf("%s(%d,wall=%d)", c.Kind, c.I, c.J)
	case WedgeBound:
		return fmt.Sprintf("%s(%d,side=%d)", c.Kind, c.I, c.J)
	default:
		return fmt.Sprintf("%s(%d)", c.Kind, c.I)
	}
}

// RegionKind selects the bounded region shape. Exactly one region is
// active per run.
type RegionKind int

const (
	// RegionArena bounds every robot to the box [-XMax,XMax]x[-YMax,YMax].
	RegionArena RegionKind = iota
	// RegionWedge replaces the box with two slanted half-planes meeting
	// at (XMax, 0).
	RegionWedge
)

// ParseRegionKind maps a configuration string to a RegionKind.
func ParseRegionKind(s string) (RegionKind, error) {
	switch s {
	case "arena", "":
		return RegionArena, nil
	case "wedge":
		return RegionWedge, nil
	}
	return RegionArena, fmt.Errorf("cbf: unknown region %q", s)
}

// Params fixes the constraint families and gains for a run.
type Params struct {
	CommMaintenance   bool
	ObstacleAvoidance bool
	DCM               float64 // communication range
	DOA               float64 // minimum separation
	Alpha             float64 // linear class-K gain

	Region RegionKind
	XMax   float64
	YMax   float64

	// DynamicObstacles enables per-robot constraints against the
	// exogenous agent; DObstacle is the standoff distance.
	DynamicObstacles bool
	DObstacle        float64
}

// System is the stacked constraint set for one step.
type System struct {
	Constraints []Constraint
	n           int
}

// Builder assembles a System from the current state. Stateless apart
// from the graph and parameters fixed at construction.
type Builder struct {
	g      *graph.Graph
	params Params
}

// NewBuilder binds a constraint builder to a graph and parameter set.
func NewBuilder(g *graph.Graph, params Params) *Builder {
	return &Builder{g: g, params: params}
}

// Params returns the builder's fixed parameters.
func (b *Builder) Params() Params { return b.params }

// Build stacks all enabled constraint families for state p. agentPos and
// agentVel are only read when dynamic obstacles are enabled. Families
// whose toggle is off contribute no rows at all.
func (b *Builder) Build(p []float64, agentPos, agentVel [2]float64) *System {
	n := b.g.N()
	sys := &System{n: n}

	if b.params.CommMaintenance {
		for _, e := range b.g.Edges() {
			sys.Constraints = append(sys.Constraints, b.pairRow(p, e, CommMaintain))
		}
	}
	if b.params.ObstacleAvoidance {
		for _, e := range b.g.Edges() {
			sys.Constraints = append(sys.Constraints, b.pairRow(p, e, CollisionAvoid))
		}
	}

	switch b.params.Region {
	case RegionArena:
		for i := 1; i <= n; i++ {
			sys.Constraints = append(sys.Constraints, b.arenaRows(p, i)...)
		}
	case RegionWedge:
		for i := 1; i <= n; i++ {
			sys.Constraints = append(sys.Constraints, b.wedgeRows(p, i)...)
		}
	}

	if b.params.DynamicObstacles {
		for i := 1; i <= n; i++ {
			sys.Constraints = append(sys.Constraints, b.obstacleRow(p, i, agentPos, agentVel))
		}
	}

	return sys
}

// pairRow builds one communication-maintenance or collision-avoidance
// row for edge e.
//
// cm: h = d_cm^2 - |dp|^2, hdot = -2 dp.(u_i-u_j), so the condition
// hdot >= -alpha*h becomes  2 dp.(u_i-u_j) <= alpha*h.
// oa: h = |dp|^2 - d_oa^2, hdot = 2 dp.(u_i-u_j), condition becomes
// -2 dp.(u_i-u_j) <= alpha*h. The two rows differ only by sign.
func (b *Builder) pairRow(p []float64, e graph.Edge, kind Kind) Constraint {
	i, j := e.I, e.J
	dx := p[2*(i-1)] - p[2*(j-1)]
	dy := p[2*(i-1)+1] - p[2*(j-1)+1]
	distSq := dx*dx + dy*dy

	var h, sign float64
	if kind == CommMaintain {
		h = b.params.DCM*b.params.DCM - distSq
		sign = 2
	} else {
		h = distSq - b.params.DOA*b.params.DOA
		sign = -2
	}

	row := make([]float64, 2*b.g.N())
	row[2*(i-1)] = sign * dx
	row[2*(i-1)+1] = sign * dy
	row[2*(j-1)] = -sign * dx
	row[2*(j-1)+1] = -sign * dy

	return Constraint{Kind: kind, I: i, J: j, H: h, Row: row, RHS: b.params.Alpha * h}
}

// arenaRows builds the four box half-plane rows for robot i. Each wall
// is h = bound -/+ coordinate with a constant unit gradient, so the CBF
// condition is -/+u <= alpha*h directly.
func (b *Builder) arenaRows(p []float64, i int) []Constraint {
	x := p[2*(i-1)]
	y := p[2*(i-1)+1]
	walls := []struct {
		wall   int
		gx, gy float64 // row coefficients on (u_x, u_y)
		h      float64
	}{
		{WallXMin, -1, 0, x + b.params.XMax},
		{WallXMax, 1, 0, b.params.XMax - x},
		{WallYMin, 0, -1, y + b.params.YMax},
		{WallYMax, 0, 1, b.params.YMax - y},
	}

	out := make([]Constraint, 0, len(walls))
	for _, w := range walls {
		row := make([]float64, 2*b.g.N())
		row[2*(i-1)] = w.gx
		row[2*(i-1)+1] = w.gy
		out = append(out, Constraint{
			Kind: ArenaBound, I: i, J: w.wall,
			H: w.h, Row: row, RHS: b.params.Alpha * w.h,
		})
	}
	return out
}

// wedgeRows builds the two slanted half-plane rows for robot i. The
// wedge opens leftward with its apex at (XMax, 0); with slope
// m = YMax/(2*XMax) the region is  m*x + y <= YMax/2  and
// m*x - y <= YMax/2, so h = YMax/2 - (m*x +/- y).
func (b *Builder) wedgeRows(p []float64, i int) []Constraint {
	x := p[2*(i-1)]
	y := p[2*(i-1)+1]
	m := b.params.YMax / (2 * b.params.XMax)

	sides := []struct {
		side   int
		gx, gy float64
		h      float64
	}{
		{SideUpper, m, 1, b.params.YMax/2 - (m*x + y)},
		{SideLower, m, -1, b.params.YMax/2 - (m*x - y)},
	}

	out := make([]Constraint, 0, len(sides))
	for _, s := range sides {
		row := make([]float64, 2*b.g.N())
		row[2*(i-1)] = s.gx
		row[2*(i-1)+1] = s.gy
		out = append(out, Constraint{
			Kind: WedgeBound, I: i, J: s.side,
			H: s.h, Row: row, RHS: b.params.Alpha * s.h,
		})
	}
	return out
}

// obstacleRow builds the dynamic-obstacle row for robot i against the
// agent at q moving with known velocity qdot:
//
//	h = |p_i - q|^2 - d_ob^2
//	hdot = 2 (p_i - q).(u_i - qdot) >= -alpha*h
//
// Because qdot is known exactly from the agent's deterministic law, its
// contribution moves to the right-hand side and the row stays affine in
// u alone: -2 (p_i - q).u_i <= alpha*h - 2 (p_i - q).qdot.
func (b *Builder) obstacleRow(p []float64, i int, q, qdot [2]float64) Constraint {
	dx := p[2*(i-1)] - q[0]
	dy := p[2*(i-1)+1] - q[1]
	h := dx*dx + dy*dy - b.params.DObstacle*b.params.DObstacle

	row := make([]float64, 2*b.g.N())
	row[2*(i-1)] = -2 * dx
	row[2*(i-1)+1] = -2 * dy

	return Constraint{
		Kind: DynamicObstacle, I: i,
		H: h, Row: row,
		RHS: b.params.Alpha*h - 2*(dx*qdot[0]+dy*qdot[1]),
	}
}

// Len returns the number of stacked rows.
func (s *System) Len() int { return len(s.Constraints) }

// Dim returns the decision-vector dimension 2N.
func (s *System) Dim() int { return 2 * s.n }

// Matrix materialises the stacked system as (A, b) for the QP solver.
// A is m x 2N; b has length m. Row order matches Constraints.
func (s *System) Matrix() (*mat.Dense, []float64) {
	m := len(s.Constraints)
	if m == 0 {
		return nil, nil
	}
	a := mat.NewDense(m, 2*s.n, nil)
	rhs := make([]float64, m)
	for r, c := range s.Constraints {
		a.SetRow(r, c.Row)
		rhs[r] = c.RHS
	}
	return a, rhs
}

// Values returns the raw barrier values of every row of the given kind,
// in row order, for diagnostics and recording.
func (s *System) Values(kind Kind) []float64 {
	var out []float64
	for _, c := range s.Constraints {
		if c.Kind == kind {
			out = append(out, c.H)
		}
	}
	return out
}
