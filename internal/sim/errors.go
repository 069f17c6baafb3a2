package sim

import "fmt"

// NumericalError reports a failed QP solve at a step. The run terminates
// immediately: continuing with the unfiltered command would discard the
// safety guarantee the filter provides.
type NumericalError struct {
	Step int
	// Constraint names the offending constraint when the solver could
	// identify one (kind and participants), otherwise empty.
	Constraint string
	Err        error
}

func (e *NumericalError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("sim: step %d: safety filter failed on %s: %v", e.Step, e.Constraint, e.Err)
	}
	return fmt.Sprintf("sim: step %d: safety filter failed: %v", e.Step, e.Err)
}

func (e *NumericalError) Unwrap() error { return e.Err }

// StateError reports a non-finite value in a command or position. Fatal
// for the run, like NumericalError.
type StateError struct {
	Step  int
	Robot int // 1-based
	What  string
	Value float64
}

func (e *StateError) Error() string {
	return fmt.Sprintf("sim: step %d: robot %d: non-finite %s (%v)", e.Step, e.Robot, e.What, e.Value)
}
