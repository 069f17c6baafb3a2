// Package sim sequences the per-step control pipeline and owns every
// recorded series. A run is single-threaded and fully synchronous: step
// t+1 reads only state produced by step t, and the state vector has
// exactly one writer per step, after all readers of that step finished.
package sim

import (
	"math"
	"math/rand"

	"github.com/banshee-data/swarm.safety/internal/cbf"
	"github.com/banshee-data/swarm.safety/internal/control"
	"github.com/banshee-data/swarm.safety/internal/graph"
	"github.com/banshee-data/swarm.safety/internal/qp"
)

// Params fixes the time base of a run.
type Params struct {
	// Freq is the update frequency in Hz.
	Freq int
	// MaxT is the run duration in seconds; the run takes MaxT*Freq-1
	// control steps over MaxT*Freq position samples.
	MaxT float64
	// Solver tunes the QP; zero value uses qp defaults.
	Solver qp.Options
}

// Samples returns the number of position snapshots for these Params.
func (p Params) Samples() int { return int(p.MaxT * float64(p.Freq)) }

// Runner drives one simulation run.
type Runner struct {
	g       *graph.Graph
	ctrl    *control.FormationController
	agent   *control.Agent
	builder *cbf.Builder
	params  Params

	hist *History
	uNom []float64
	step int
}

// NewRunner assembles a run. initial is the flat 2N starting state; the
// agent may be nil, equivalent to control.AgentOff.
func NewRunner(g *graph.Graph, f *graph.Formation, builder *cbf.Builder, agent *control.Agent, params Params, initial []float64) *Runner {
	if agent == nil {
		agent = control.NewAgent(control.AgentOff, 0, 0, 1, params.Samples(), [2]float64{})
	}
	bp := builder.Params()
	hist := newHistory(
		g.N(), g.Edges(), float64(params.Freq), params.Samples(),
		bp.CommMaintenance, bp.ObstacleAvoidance,
		agent.Mode == control.AgentObstacle,
		agent.Mode != control.AgentOff,
	)
	copy(hist.positions[0], initial)
	if agent.Mode == control.AgentObstacle {
		x, y := agent.Position()
		hist.agentPos[0] = [2]float64{x, y}
	}
	return &Runner{
		g:       g,
		ctrl:    control.NewFormationController(g, f),
		agent:   agent,
		builder: builder,
		params:  params,
		hist:    hist,
		uNom:    make([]float64, 2*g.N()),
	}
}

// History exposes the recorded series; valid during and after the run.
func (r *Runner) History() *History { return r.hist }

// TotalSteps returns the number of control steps in a full run.
func (r *Runner) TotalSteps() int { return r.hist.samples - 1 }

// Done reports whether all steps have completed.
func (r *Runner) Done() bool { return r.step >= r.hist.samples-1 }

// Run executes every remaining step, stopping at the first failure.
func (r *Runner) Run() error {
	for !r.Done() {
		if err := r.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step executes one control step: nominal command, blended override,
// constraint build, QP projection, integration, recording. The state
// vector and histories are only touched after the solve succeeds, so a
// failed step leaves everything at the last valid state.
func (r *Runner) Step() error {
	t := r.step
	dt := 1 / float64(r.params.Freq)
	p := r.hist.positions[t]

	r.ctrl.Command(p, r.uNom)
	r.agent.Override(r.uNom, t)

	var q, qdot [2]float64
	if r.agent.Mode == control.AgentObstacle {
		q[0], q[1] = r.agent.Position()
		qdot[0], qdot[1] = r.agent.Velocity(t)
	}
	sys := r.builder.Build(p, q, qdot)

	a, b := sys.Matrix()
	res, err := qp.Solve(r.uNom, a, b, r.params.Solver)
	if err != nil {
		ne := &NumericalError{Step: t, Err: err}
		if res != nil && res.WorstRow >= 0 && res.WorstRow < sys.Len() {
			ne.Constraint = sys.Constraints[res.WorstRow].Participants()
		}
		return ne
	}

	next := r.hist.positions[t+1]
	for i := 0; i < 2*r.g.N(); i++ {
		if !isFinite(res.U[i]) {
			return &StateError{Step: t, Robot: i/2 + 1, What: "command", Value: res.U[i]}
		}
		next[i] = p[i] + res.U[i]*dt
		if !isFinite(next[i]) {
			return &StateError{Step: t, Robot: i/2 + 1, What: "position", Value: next[i]}
		}
	}

	// Commit: record the step and advance the agent.
	copy(r.hist.nominal[t], r.uNom)
	copy(r.hist.filtered[t], res.U)
	if r.hist.hCM != nil {
		copy(r.hist.hCM[t], sys.Values(cbf.CommMaintain))
	}
	if r.hist.hOA != nil {
		copy(r.hist.hOA[t], sys.Values(cbf.CollisionAvoid))
	}
	if r.hist.agentCmd != nil {
		vx, vy := r.agent.Velocity(t)
		r.hist.agentCmd[t] = [2]float64{vx, vy}
	}
	if r.hist.agentPos != nil {
		r.agent.Step(t, dt)
		x, y := r.agent.Position()
		r.hist.agentPos[t+1] = [2]float64{x, y}
	}

	r.step = t + 1
	r.hist.done = r.step
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// RandomPositions draws a flat 2N initial state with every coordinate
// uniform in [-xMax/2, xMax/2), from a deterministic seeded source.
func RandomPositions(n int, xMax float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, 2*n)
	for i := range out {
		out[i] = xMax*rng.Float64() - xMax/2
	}
	return out
}
