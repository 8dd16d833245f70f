// Package localfit removes saturation and stimulation artifacts from a single
// channel by subtracting a local cubic least-squares fit (SALPA).
//
// An Engine reads raw samples from a ring.Stream and writes corrected samples
// to another. It walks a seven-state machine sample by sample:
//
//	Pegged     - the amplifier sits on a rail; output is zero.
//	TooPoor    - a fit exists but does not yet describe the data; output is zero.
//	ForcePeg   - output is zero until a target time.
//	BlankDepeg - fit accepted; output stays zero for a configurable span.
//	Depegging  - output is the residual of the full cubic fit.
//	Pegging    - a rail is coming; output is the residual of the frozen fit.
//	Ok         - steady state; only the constant term is refit per sample.
//
// The fit window [t0-tau, t0+tau] is symmetric, so the normal equations
// split into two 2x2 systems solved in closed form from the cumulants
// X0..X3. Cumulants slide by one sample with an O(1) recurrence and are
// recomputed from scratch at state transitions and on every TooPoor step.
//
// Engines are resumable: Advance may be called with any sequence of
// increasing limits and produces the same output as a single call.
package localfit
