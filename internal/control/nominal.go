// Package control holds the unconstrained control laws: the Laplacian
// consensus law that drives the group toward its target formation, and
// the exogenous agent law used for human-in-the-loop input or a moving
// obstacle. The safety filter in internal/qp runs downstream of both.
package control

import (
	"github.com/banshee-data/swarm.safety/internal/graph"
)

// FormationController computes the nominal consensus command
//
//	u_nom_i = sum_{j in N(i)} [(p_j - p_i) - (p_d,j - p_d,i)]
//
// which is -(L (x) I2)(p - p_d) written per robot. Relative formation
// error decays exponentially on a connected graph; the formation as a
// whole is only determined up to a global translation (the Laplacian
// translation nullspace).
type FormationController struct {
	g       *graph.Graph
	desired []float64
}

// NewFormationController binds the controller to a graph and formation.
func NewFormationController(g *graph.Graph, f *graph.Formation) *FormationController {
	return &FormationController{g: g, desired: f.Vector()}
}

// Command writes the nominal velocity for state p into dst. Both slices
// have length 2N. Deterministic and side-effect free.
func (c *FormationController) Command(p, dst []float64) {
	for i := 1; i <= c.g.N(); i++ {
		var ux, uy float64
		px, py := p[2*(i-1)], p[2*(i-1)+1]
		dx, dy := c.desired[2*(i-1)], c.desired[2*(i-1)+1]
		for _, j := range c.g.Neighbours(i) {
			ux += (p[2*(j-1)] - px) - (c.desired[2*(j-1)] - dx)
			uy += (p[2*(j-1)+1] - py) - (c.desired[2*(j-1)+1] - dy)
		}
		dst[2*(i-1)] = ux
		dst[2*(i-1)+1] = uy
	}
}
