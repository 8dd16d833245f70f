package localfit

import "fmt"

// Snapshot is a copy of the fit state of an engine.
type Snapshot struct {
	State      State
	Position   int64
	T0         int64
	X          [4]int64
	Alpha      [4]float64
	Hysteresis int
	NegV       bool
}

// Snapshot returns the current fit state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		State:      e.state,
		Position:   e.t,
		T0:         e.t0,
		X:          e.x,
		Alpha:      e.alpha,
		Hysteresis: e.tooPoorCnt,
		NegV:       e.negv,
	}
}

// Report formats the fit state on one line for diagnostics.
func (e *Engine) Report() string {
	return fmt.Sprintf("state=%s t=%d t0=%d y[t]=%d alpha=[%g %g %g %g] X=[%d %d %d %d]",
		e.state, e.t, e.t0, e.src.At(e.t),
		e.alpha[0], e.alpha[1], e.alpha[2], e.alpha[3],
		e.x[0], e.x[1], e.x[2], e.x[3])
}
