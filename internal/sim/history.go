package sim

import "github.com/banshee-data/swarm.safety/internal/graph"

// History owns every recorded series for a run. All buffers are sized up
// front and filled forward-only; nothing is reallocated or rewritten
// during the run. After an aborted run the accessors return only the
// prefix up to the last completed step.
type History struct {
	n     int
	edges []graph.Edge
	freq  float64

	// samples counts position snapshots (initial state included);
	// transitions = samples-1 is the number of control steps.
	samples int
	done    int // completed control steps

	positions [][]float64 // samples x 2N, index 0 is the initial state
	nominal   [][]float64 // transitions x 2N
	filtered  [][]float64 // transitions x 2N
	hCM       [][]float64 // transitions x len(edges), nil if cm disabled
	hOA       [][]float64 // transitions x len(edges), nil if oa disabled
	agentPos  [][2]float64
	agentCmd  [][2]float64
}

func newHistory(n int, edges []graph.Edge, freq float64, samples int, cm, oa, agentPath, agentCmd bool) *History {
	h := &History{n: n, edges: edges, freq: freq, samples: samples}
	transitions := samples - 1

	h.positions = make([][]float64, samples)
	for i := range h.positions {
		h.positions[i] = make([]float64, 2*n)
	}
	h.nominal = preallocate(transitions, 2*n)
	h.filtered = preallocate(transitions, 2*n)
	if cm {
		h.hCM = preallocate(transitions, len(edges))
	}
	if oa {
		h.hOA = preallocate(transitions, len(edges))
	}
	if agentPath {
		h.agentPos = make([][2]float64, samples)
	}
	if agentCmd {
		h.agentCmd = make([][2]float64, transitions)
	}
	return h
}

func preallocate(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}

// N returns the robot count.
func (h *History) N() int { return h.n }

// Edges returns the graph edges in recorded column order.
func (h *History) Edges() []graph.Edge { return h.edges }

// Steps returns the number of completed control steps.
func (h *History) Steps() int { return h.done }

// Time returns the simulated time of step t.
func (h *History) Time(t int) float64 { return float64(t) / h.freq }

// Positions returns position snapshots 0..Steps(), each of length 2N.
// Returned slices are owned by the History; callers must not modify them.
func (h *History) Positions() [][]float64 { return h.positions[:h.done+1] }

// Nominal returns the pre-filter commands per completed step.
func (h *History) Nominal() [][]float64 { return h.nominal[:h.done] }

// Filtered returns the post-filter commands per completed step.
func (h *History) Filtered() [][]float64 { return h.filtered[:h.done] }

// CommValues returns the per-edge communication-maintenance barrier
// values per step, or nil when the family was disabled.
func (h *History) CommValues() [][]float64 {
	if h.hCM == nil {
		return nil
	}
	return h.hCM[:h.done]
}

// AvoidValues returns the per-edge collision-avoidance barrier values
// per step, or nil when the family was disabled.
func (h *History) AvoidValues() [][]float64 {
	if h.hOA == nil {
		return nil
	}
	return h.hOA[:h.done]
}

// AgentPositions returns the exogenous agent's path, or nil when no
// agent was configured.
func (h *History) AgentPositions() [][2]float64 {
	if h.agentPos == nil {
		return nil
	}
	return h.agentPos[:h.done+1]
}

// AgentCommands returns the agent's velocity per step, or nil when no
// agent was configured.
func (h *History) AgentCommands() [][2]float64 {
	if h.agentCmd == nil {
		return nil
	}
	return h.agentCmd[:h.done]
}
