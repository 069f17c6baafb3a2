package control

import "fmt"

// AgentMode selects how the exogenous agent participates in a run.
// Exactly one mode is active; the modes are mutually exclusive by
// construction (validated at configuration time, not at solve time).
type AgentMode int

const (
	// AgentOff disables the exogenous agent entirely.
	AgentOff AgentMode = iota
	// AgentBlended substitutes the agent's velocity law for one
	// designated robot's nominal command. That robot is still a decision
	// variable, so the safety filter corrects the injected input too.
	AgentBlended
	// AgentObstacle runs the agent as an independent moving point whose
	// position feeds dynamic-obstacle constraints. It is never a
	// decision variable.
	AgentObstacle
)

// String returns the configuration-file spelling of the mode.
func (m AgentMode) String() string {
	switch m {
	case AgentOff:
		return "off"
	case AgentBlended:
		return "blended"
	case AgentObstacle:
		return "obstacle"
	}
	return fmt.Sprintf("AgentMode(%d)", int(m))
}

// ParseAgentMode maps a configuration string to an AgentMode.
func ParseAgentMode(s string) (AgentMode, error) {
	switch s {
	case "off", "":
		return AgentOff, nil
	case "blended":
		return AgentBlended, nil
	case "obstacle":
		return AgentObstacle, nil
	}
	return AgentOff, fmt.Errorf("control: unknown agent mode %q", s)
}

// Agent is the exogenous point. Its velocity law is piecewise constant
// over the run: the total step count is split into Segments equal
// slices; the first slice descends into the arena (-y), the last one
// leaves it (+y), and the interior slices sweep back and forth in x.
// The law depends only on the step index, never on robot positions.
type Agent struct {
	Mode     AgentMode
	Robot    int // 1-based robot overridden in blended mode
	Speed    float64
	Segments int

	totalSteps int
	pos        [2]float64
}

// NewAgent configures the agent for a run of totalSteps steps starting
// at the given position.
func NewAgent(mode AgentMode, robot int, speed float64, segments, totalSteps int, start [2]float64) *Agent {
	return &Agent{
		Mode:       mode,
		Robot:      robot,
		Speed:      speed,
		Segments:   segments,
		totalSteps: totalSteps,
		pos:        start,
	}
}

// Position returns the agent's current (x,y).
func (a *Agent) Position() (x, y float64) { return a.pos[0], a.pos[1] }

// Velocity evaluates the piecewise law at the given step.
func (a *Agent) Velocity(step int) (vx, vy float64) {
	if a.Mode == AgentOff || a.Speed == 0 {
		return 0, 0
	}
	seg := step * a.Segments / a.totalSteps
	if seg >= a.Segments {
		seg = a.Segments - 1
	}
	switch {
	case seg == 0:
		return 0, -a.Speed
	case seg == a.Segments-1:
		return 0, a.Speed
	case seg%2 == 1:
		return a.Speed, 0
	default:
		return -a.Speed, 0
	}
}

// Override replaces robot Robot's entry of the nominal command with the
// agent's velocity at this step. Only meaningful in blended mode.
func (a *Agent) Override(uNom []float64, step int) {
	if a.Mode != AgentBlended {
		return
	}
	vx, vy := a.Velocity(step)
	uNom[2*(a.Robot-1)] = vx
	uNom[2*(a.Robot-1)+1] = vy
}

// Step advances the agent's own position by one forward-Euler step.
// Only the obstacle-mode agent carries its own state; in blended mode
// the overridden robot's position lives in the global state vector.
func (a *Agent) Step(step int, dt float64) {
	if a.Mode != AgentObstacle {
		return
	}
	vx, vy := a.Velocity(step)
	a.pos[0] += vx * dt
	a.pos[1] += vy * dt
}
