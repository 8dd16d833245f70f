package localfit

// Power sums of the window offsets. Odd sums vanish on a symmetric window.
type moments struct {
	T0, T2, T4, T6 float64
}

func newMoments(tau int) moments {
	var m moments
	for t := -tau; t <= tau; t++ {
		t2 := float64(t) * float64(t)
		t4 := t2 * t2
		m.T0++
		m.T2 += t2
		m.T4 += t4
		m.T6 += t4 * t2
	}
	return m
}

// calcX012 recomputes X0..X2 over [t0-tau, t0+tau].
func (e *Engine) calcX012() {
	var x0, x1, x2 int64
	for t := -e.tau; t <= e.tau; t++ {
		y := int64(e.src.At(e.t0 + t))
		x0 += y
		x1 += t * y
		x2 += t * t * y
	}
	e.x[0], e.x[1], e.x[2] = x0, x1, x2
}

// calcX3 recomputes X3 over [t0-tau, t0+tau].
func (e *Engine) calcX3() {
	var x3 int64
	for t := -e.tau; t <= e.tau; t++ {
		x3 += t * t * t * int64(e.src.At(e.t0+t))
	}
	e.x[3] = x3
}

// slide applies the one-sample recurrence for a window whose new center is
// c: yNew = y[c+tau] enters, yOld = y[c-tau-1] leaves. Only the first n
// cumulants are updated; X0 must be updated before X1, X1 before X2 and so
// on because each line uses the already shifted lower orders.
func (e *Engine) slide(c int64, n int) {
	yNew := int64(e.src.At(c + e.tau))
	yOld := int64(e.src.At(c - e.tau - 1))
	tp1 := e.tau + 1
	mt := -e.tau
	x := &e.x
	x[0] += yNew - yOld
	x[1] += tp1*yNew - mt*yOld - x[0]
	x[2] += tp1*tp1*yNew - mt*mt*yOld - x[0] - 2*x[1]
	if n > 3 {
		x[3] += tp1*tp1*tp1*yNew - mt*mt*mt*yOld - x[0] - 3*x[1] - 3*x[2]
	}
}

// calcAlpha0 solves only the constant term from X0 and X2.
func (e *Engine) calcAlpha0() {
	m := &e.m
	e.alpha[0] = (m.T4*float64(e.x[0]) - m.T2*float64(e.x[2])) / (m.T0*m.T4 - m.T2*m.T2)
}

// calcAlpha0123 solves both decoupled 2x2 systems.
func (e *Engine) calcAlpha0123() {
	m := &e.m
	x0, x1, x2, x3 := float64(e.x[0]), float64(e.x[1]), float64(e.x[2]), float64(e.x[3])
	f02 := 1 / (m.T0*m.T4 - m.T2*m.T2)
	e.alpha[0] = f02 * (m.T4*x0 - m.T2*x2)
	e.alpha[2] = f02 * (m.T0*x2 - m.T2*x0)
	f13 := 1 / (m.T2*m.T6 - m.T4*m.T4)
	e.alpha[1] = f13 * (m.T6*x1 - m.T4*x3)
	e.alpha[3] = f13 * (m.T2*x3 - m.T4*x1)
}

// fitAt evaluates the cubic at offset dt from the window center.
func (e *Engine) fitAt(dt int64) float64 {
	d := float64(dt)
	return e.alpha[0] + e.alpha[1]*d + e.alpha[2]*d*d + e.alpha[3]*d*d*d
}

// residual returns y[t] minus the fit, truncated to a sample.
func (e *Engine) residual(t int64) int16 {
	return toRaw(float64(e.src.At(t)) - e.fitAt(t-e.t0))
}

// toRaw truncates toward zero and saturates at the int16 range.
func toRaw(v float64) int16 {
	if v >= 32767 {
		return 32767
	}
	if v <= -32768 {
		return -32768
	}
	if v != v {
		return 0
	}
	return int16(v)
}
