package localfit

import (
	"fmt"

	"github.com/cwbudde/algo-salpa/dsp/ring"
)

// State identifies the artifact state of a channel.
type State int

const (
	Pegged State = iota
	TooPoor
	ForcePeg
	BlankDepeg
	Depegging
	Pegging
	Ok
)

var stateNames = [...]string{
	Pegged:     "Pegged",
	TooPoor:    "TooPoor",
	ForcePeg:   "ForcePeg",
	BlankDepeg: "BlankDepeg",
	Depegging:  "Depegging",
	Pegging:    "Pegging",
	Ok:         "Ok",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Engine is the per-channel artifact filter. It is not safe for concurrent
// use; each channel belongs to exactly one goroutine at a time.
type Engine struct {
	src *ring.Stream
	dst *ring.Stream
	cfg Config

	tau      int64
	blank    int64
	ahead    int64
	asym     int
	accept   float64
	m        moments
	railLow  int32
	railHigh int32

	state      State
	t          int64 // next sample to emit
	t0         int64 // fit window center
	x          [4]int64
	alpha      [4]float64
	tooPoorCnt int
	negv       bool
}

// New returns an engine that starts in the Pegged state at time start.
func New(src, dst *ring.Stream, start int64, opts ...Option) (*Engine, error) {
	if src == nil || dst == nil {
		return nil, errNilStream
	}
	cfg := ApplyOptions(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		src:      src,
		dst:      dst,
		cfg:      cfg,
		tau:      int64(cfg.Tau),
		blank:    int64(cfg.BlankDepeg),
		ahead:    int64(cfg.Ahead),
		asym:     cfg.AsymWindow,
		accept:   confidence * float64(cfg.AsymWindow) * cfg.Threshold * cfg.Threshold,
		m:        newMoments(cfg.Tau),
		railLow:  cfg.RailLow,
		railHigh: cfg.RailHigh,
	}
	e.Reset(start)
	return e, nil
}

// Reset rewinds the engine to the Pegged state at time start.
func (e *Engine) Reset(start int64) {
	e.t = start
	e.state = Pegged
}

// SetRails replaces the saturation bounds, e.g. after a baseline shift.
// As with WithRails the order of lo and hi does not matter, but they must
// differ.
func (e *Engine) SetRails(lo, hi int32) error {
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == hi {
		return fmt.Errorf("localfit: rails must satisfy low < high: %d,%d", lo, hi)
	}
	e.railLow, e.railHigh = lo, hi
	return nil
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Position returns the next time the engine will write.
func (e *Engine) Position() int64 {
	return e.t
}

// Advance runs the engine until every sample before limit has been written.
// It returns the time reached, which equals limit unless limit lies behind
// the current position.
func (e *Engine) Advance(limit int64) (int64, error) {
	s, err := e.run(limit, e.state)
	e.state = s
	return e.t, err
}

// ForcePeg advances to from, then writes zeros through to, regardless of
// the signal. A channel in steady state is re-anchored tau samples before
// from so the approach to the peg is still corrected.
func (e *Engine) ForcePeg(from, to int64) (int64, error) {
	s, err := e.run(from-e.tau, e.state)
	if err != nil {
		e.state = s
		return e.t, err
	}
	if s == Ok {
		// Between Ok steps the window is centered on the next sample.
		e.t0 = e.t
		e.calcX3()
		e.calcAlpha0123()
		if s, err = e.run(from, Pegging); err != nil {
			e.state = s
			return e.t, err
		}
	}
	e.t0 = to
	s, err = e.run(to, ForcePeg)
	e.state = s
	return e.t, err
}

func (e *Engine) isPegged(y int16) bool {
	v := int32(y)
	return v <= e.railLow || v >= e.railHigh
}

// stepFunc runs one state until it either hands over to another state or
// reaches limit. done reports the latter.
type stepFunc func(e *Engine, limit int64) (next State, done bool)

var steps = [...]stepFunc{
	Pegged:     (*Engine).stepPegged,
	TooPoor:    (*Engine).stepTooPoor,
	ForcePeg:   (*Engine).stepForcePeg,
	BlankDepeg: (*Engine).stepBlankDepeg,
	Depegging:  (*Engine).stepDepegging,
	Pegging:    (*Engine).stepPegging,
	Ok:         (*Engine).stepOk,
}

func (e *Engine) run(limit int64, s State) (State, error) {
	for {
		if s < 0 || int(s) >= len(steps) {
			return s, fmt.Errorf("%w: %d at t=%d", ErrBadState, int(s), e.t)
		}
		next, done := steps[s](e, limit)
		if done {
			return next, nil
		}
		s = next
	}
}

func (e *Engine) stepPegged(limit int64) (State, bool) {
	for {
		if e.t >= limit {
			return Pegged, true
		}
		if !e.isPegged(e.src.At(e.t)) {
			break
		}
		e.dst.Set(e.t, 0)
		e.t++
	}
	for dt := int64(1); dt <= 2*e.tau; dt++ {
		if e.isPegged(e.src.At(e.t + dt)) {
			e.t0 = e.t + dt
			return ForcePeg, false
		}
	}
	e.t0 = e.t + e.tau
	e.calcX012()
	e.calcX3()
	e.calcAlpha0123()
	e.tooPoorCnt = e.cfg.Hysteresis
	return TooPoor, false
}

func (e *Engine) stepTooPoor(limit int64) (State, bool) {
	for {
		if e.t >= limit {
			return TooPoor, true
		}
		var asym float64
		for i := 0; i < e.asym; i++ {
			ti := e.t + int64(i)
			asym += e.fitAt(ti-e.t0) - float64(e.src.At(ti))
		}
		asym *= asym
		if asym < e.accept {
			e.tooPoorCnt--
		} else {
			e.tooPoorCnt = e.cfg.Hysteresis
		}
		if e.tooPoorCnt <= 0 && asym < e.accept/confidence {
			if e.cfg.PrematureRecovery {
				e.negv = e.src.At(e.t) < toRaw(e.fitAt(e.t-e.t0))
			}
			e.calcX012()
			e.calcX3()
			return BlankDepeg, false
		}

		e.dst.Set(e.t, 0)
		e.t++
		e.t0++
		if e.isPegged(e.src.At(e.t0 + e.tau)) {
			e.t0 += e.tau
			return ForcePeg, false
		}
		e.slide(e.t0, 4)
		e.calcX012()
		e.calcX3()
		e.calcAlpha0123()
	}
}

func (e *Engine) stepForcePeg(limit int64) (State, bool) {
	for {
		if e.t >= limit {
			return ForcePeg, true
		}
		if e.t >= e.t0 {
			return Pegged, false
		}
		e.dst.Set(e.t, 0)
		e.t++
	}
}

func (e *Engine) stepBlankDepeg(limit int64) (State, bool) {
	end := e.t0 - e.tau + e.blank
	for {
		if e.t >= limit {
			return BlankDepeg, true
		}
		if e.t >= end {
			return Depegging, false
		}
		if e.cfg.PrematureRecovery {
			y := e.residual(e.t)
			if (y < 0) != e.negv {
				e.dst.Set(e.t, y)
				e.t++
				return Depegging, false
			}
		}
		e.dst.Set(e.t, 0)
		e.t++
	}
}

func (e *Engine) stepDepegging(limit int64) (State, bool) {
	for {
		if e.t >= limit {
			return Depegging, true
		}
		if e.t >= e.t0 {
			return Ok, false
		}
		e.dst.Set(e.t, e.residual(e.t))
		e.t++
	}
}

func (e *Engine) stepPegging(limit int64) (State, bool) {
	end := e.t0 + e.tau
	for {
		if e.t >= limit {
			return Pegging, true
		}
		if e.t >= end {
			return Pegged, false
		}
		e.dst.Set(e.t, e.residual(e.t))
		e.t++
	}
}

func (e *Engine) stepOk(limit int64) (State, bool) {
	for {
		if e.t >= limit {
			return Ok, true
		}
		e.calcAlpha0()
		e.dst.Set(e.t, toRaw(float64(e.src.At(e.t))-e.alpha[0]))
		e.t++
		if e.isPegged(e.src.At(e.t + e.tau + e.ahead)) {
			e.t0 = e.t - 1
			e.calcX3()
			e.calcAlpha0123()
			return Pegging, false
		}
		e.slide(e.t, 3)
	}
}
