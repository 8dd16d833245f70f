// Package driver runs artifact removal over a whole recording. It loads
// fragments into an input ring, advances one localfit.Engine per processed
// channel on a worker pool while keeping enough lookahead loaded, honors a
// forced-peg schedule and flushes finished fragments of the output ring.
//
// Four cursors describe progress: filled (loaded), based (baseline
// corrected), processed (written by the engines) and saved (flushed). At
// every iteration boundary saved <= processed <= based <= filled.
package driver

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/algo-salpa/dsp/localfit"
	"github.com/cwbudde/algo-salpa/dsp/ring"
	"github.com/cwbudde/algo-salpa/internal/rawio"
	"github.com/cwbudde/algo-salpa/internal/schedule"
	"github.com/cwbudde/algo-salpa/internal/workpool"
	"github.com/cwbudde/algo-salpa/stats/noise"
)

// Driver owns the rings, engines and cursors of one run. It is not safe for
// concurrent use.
type Driver struct {
	cfg   Config
	log   logrus.FieldLogger
	in    *rawio.Reader
	out   *rawio.Writer
	sched schedule.Source

	src, dst *ring.Interleaved
	engines  []*localfit.Engine
	ranges   [][2]int
	pool     *workpool.Pool

	size, frag int64

	filled    int64
	based     int64
	processed int64
	saved     int64
	eof       bool

	peg    schedule.Peg
	hasPeg bool

	baselines []int16
	stats     Stats
}

// New prepares a run reading frames from in and writing them to out. A nil
// sched means no forced pegs.
func New(cfg Config, in io.Reader, out io.Writer, sched schedule.Source, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Limit > 0 {
		in = io.LimitReader(in, cfg.Limit*int64(cfg.TotalChannels)*2)
	}
	r, err := rawio.NewReader(in, cfg.TotalChannels)
	if err != nil {
		return nil, err
	}
	w, err := rawio.NewWriter(out, cfg.TotalChannels)
	if err != nil {
		return nil, err
	}
	src, err := ring.NewInterleaved(cfg.TotalChannels, cfg.Log2Ring)
	if err != nil {
		return nil, err
	}
	dst, err := ring.NewInterleaved(cfg.TotalChannels, cfg.Log2Ring)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		sched = schedule.None()
	}
	d := &Driver{
		cfg:       cfg,
		log:       discardLogger(),
		in:        r,
		out:       w,
		sched:     sched,
		src:       src,
		dst:       dst,
		ranges:    channelRanges(cfg.Channels, cfg.Threads),
		size:      int64(src.Len()),
		frag:      cfg.FragmentFrames(),
		baselines: make([]int16, cfg.Channels),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// channelRanges splits [0, n) into contiguous ranges of ceil(n/threads).
func channelRanges(n, threads int) [][2]int {
	if n == 0 {
		return nil
	}
	step := (n + threads - 1) / threads
	var out [][2]int
	for c0 := 0; c0 < n; c0 += step {
		out = append(out, [2]int{c0, min(c0+step, n)})
	}
	return out
}

// Run processes the whole input. It may be called once.
func (d *Driver) Run() (stats Stats, err error) {
	if d.pool != nil {
		return d.stats, errors.New("driver: Run called twice")
	}
	d.pool, err = workpool.New(d.cfg.Threads, max(len(d.ranges), 1))
	if err != nil {
		return d.stats, err
	}
	defer func() {
		if cerr := d.pool.Close(); err == nil {
			err = cerr
		}
	}()

	if err := d.setup(); err != nil {
		return d.stats, err
	}
	if err := d.nextPeg(); err != nil {
		return d.stats, err
	}
	d.log.WithFields(logrus.Fields{
		"channels": d.cfg.Channels,
		"total":    d.cfg.TotalChannels,
		"ring":     d.size,
		"margin":   d.cfg.Margin(),
		"workers":  d.cfg.Threads,
	}).Info("processing")

	for {
		progress, err := d.step()
		if err != nil {
			return d.stats, err
		}
		if !progress {
			break
		}
	}
	if err := d.tail(); err != nil {
		return d.stats, err
	}
	d.log.WithFields(logrus.Fields{
		"read":    d.stats.FramesRead,
		"written": d.stats.FramesWritten,
		"pegs":    d.stats.PegsApplied,
	}).Info("done")
	return d.stats, nil
}

// setup calibrates when asked to and creates the engines.
func (d *Driver) setup() error {
	n := d.cfg.Channels
	thresholds := make([]float64, n)
	for c := range thresholds {
		thresholds[c] = d.cfg.Threshold
	}
	if d.cfg.Calibrates() {
		if err := d.calibrate(thresholds); err != nil {
			return err
		}
	}
	d.engines = make([]*localfit.Engine, n)
	for c := 0; c < n; c++ {
		e, err := localfit.New(d.src.Channel(c), d.dst.Channel(c), 0, d.cfg.engineOptions(thresholds[c])...)
		if err != nil {
			return fmt.Errorf("driver: channel %d: %w", c, err)
		}
		if b := int32(d.baselines[c]); b != 0 {
			// Rails are given in input units and move with the baseline.
			lo := ring.Saturate(d.cfg.RailLow + b)
			hi := ring.Saturate(d.cfg.RailHigh + b)
			if err := e.SetRails(int32(lo), int32(hi)); err != nil {
				return fmt.Errorf("driver: channel %d: baseline %d: %w", c, b, err)
			}
		}
		d.engines[c] = e
	}
	d.stats.Thresholds = thresholds
	d.stats.Baselines = d.baselines
	return nil
}

func (d *Driver) calibrate(thresholds []float64) error {
	for d.filled < 3*d.frag && !d.eof {
		if _, err := d.load(); err != nil {
			return err
		}
	}
	for c := range thresholds {
		lv := noise.New()
		lv.Train(d.src.Channel(c), 0, d.filled)
		if err := lv.Finish(); err != nil {
			return fmt.Errorf("%w: channel %d: %w", ErrShortCalibration, c, err)
		}
		if d.cfg.ThresholdStd > 0 {
			thresholds[c] = d.cfg.ThresholdStd * lv.Std()
			if thresholds[c] <= 0 {
				d.log.WithField("channel", c).Warn("channel has no noise, threshold set to the smallest positive value")
				thresholds[c] = math.SmallestNonzeroFloat64
			}
		}
		if d.cfg.Baseline {
			d.baselines[c] = baselineOffset(lv.Mean())
		}
		d.log.WithFields(logrus.Fields{
			"channel":   c,
			"mean":      lv.Mean(),
			"std":       lv.Std(),
			"threshold": thresholds[c],
		}).Debug("noise estimate")
	}
	return nil
}

// baselineOffset is the value added to a channel with the given mean. The
// fraction is truncated toward zero.
func baselineOffset(mean float64) int16 {
	return ring.Saturate(int32(-mean))
}

// step runs one flush/baseline/process/load iteration and reports whether
// any cursor moved.
func (d *Driver) step() (bool, error) {
	progress := false

	for whole := d.processed &^ (d.frag - 1); d.saved < whole; {
		if err := d.flush(d.frag); err != nil {
			return false, err
		}
		progress = true
	}

	d.subtractBaseline()

	horizon := min(d.filled-d.cfg.Margin(), d.saved+d.size-int64(d.cfg.ForcePeg))
	for d.processed < horizon {
		if d.hasPeg && d.peg.Start < horizon {
			if err := d.applyPeg(d.peg.Start, d.peg.End); err != nil {
				return false, err
			}
			progress = true
			continue
		}
		target := horizon
		if d.hasPeg {
			// Wait tau short of a pending peg so that it is entered from the
			// same fit however far the loaded data reaches.
			target = min(target, d.peg.Start-int64(d.cfg.Tau))
		}
		if target <= d.processed {
			break
		}
		if err := d.advance(target); err != nil {
			return false, err
		}
		progress = true
	}

	if !d.eof {
		n, err := d.load()
		if err != nil {
			return false, err
		}
		if n > 0 {
			progress = true
		}
	}
	return progress, nil
}

// tail processes what the main loop could not reach with its full margin
// and flushes everything processed.
func (d *Driver) tail() error {
	d.subtractBaseline()
	horizon := min(d.filled-d.cfg.TailMargin(), d.saved+d.size)
	for d.processed < horizon {
		if d.hasPeg && d.peg.Start < horizon {
			if err := d.applyPeg(d.peg.Start, min(d.peg.End, horizon)); err != nil {
				return err
			}
			continue
		}
		if err := d.advance(horizon); err != nil {
			return err
		}
	}
	for d.saved < d.processed {
		n := min(d.processed-d.saved, d.size-d.saved&(d.size-1))
		if err := d.flush(n); err != nil {
			return err
		}
	}
	if dropped := d.filled - d.saved; dropped > 0 {
		d.log.WithField("frames", dropped).Debug("trailing frames inside the final fit window are not written")
	}
	return nil
}

// advance runs every engine to horizon.
func (d *Driver) advance(horizon int64) error {
	for _, r := range d.ranges {
		c0, c1 := r[0], r[1]
		if err := d.pool.Submit(func() error {
			for c := c0; c < c1; c++ {
				got, err := d.engines[c].Advance(horizon)
				if err != nil || got != horizon {
					return d.fatal(c, "advance", horizon, got, err)
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
	d.passThrough(d.processed, horizon)
	if err := d.pool.Barrier(); err != nil {
		return err
	}
	d.processed = horizon
	return nil
}

// applyPeg blanks [from, to) on every processed channel, then moves on to
// the next scheduled peg.
func (d *Driver) applyPeg(from, to int64) error {
	for _, r := range d.ranges {
		c0, c1 := r[0], r[1]
		if err := d.pool.Submit(func() error {
			for c := c0; c < c1; c++ {
				got, err := d.engines[c].ForcePeg(from, to)
				if err != nil || got != to {
					return d.fatal(c, "force peg", to, got, err)
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
	d.passThrough(d.processed, to)
	if err := d.pool.Barrier(); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("forced peg")
	d.processed = to
	d.stats.PegsApplied++
	return d.nextPeg()
}

func (d *Driver) fatal(c int, op string, want, got int64, err error) error {
	return &FatalError{
		Channel: c,
		Op:      op,
		Want:    want,
		Got:     got,
		Report:  d.engines[c].Report(),
		Err:     err,
	}
}

// nextPeg fetches the next scheduled peg that still lies ahead of the
// processed cursor. Pegs that started earlier are clipped.
func (d *Driver) nextPeg() error {
	for {
		p, ok, err := d.sched.Next()
		if err != nil {
			return fmt.Errorf("driver: forced peg schedule: %w", err)
		}
		if !ok {
			d.hasPeg = false
			return nil
		}
		if p.End <= d.processed {
			d.stats.PegsDropped++
			d.log.WithFields(logrus.Fields{
				"start":     p.Start,
				"end":       p.End,
				"processed": d.processed,
			}).Warn("dropping forced peg that ends before the processed data")
			continue
		}
		if p.Start < d.processed {
			p.Start = d.processed
		}
		d.peg, d.hasPeg = p, true
		return nil
	}
}

// passThrough copies unprocessed channels for [t1, t2).
func (d *Driver) passThrough(t1, t2 int64) {
	if d.cfg.Channels < d.cfg.TotalChannels {
		d.dst.CopyChannels(d.src, d.cfg.Channels, d.cfg.TotalChannels, t1, t2)
	}
}

func (d *Driver) subtractBaseline() {
	if !d.cfg.Baseline {
		d.based = d.filled
		return
	}
	for ; d.based < d.filled; d.based++ {
		for c, b := range d.baselines {
			d.src.Channel(c).Add(d.based, int32(b))
		}
	}
}

// load reads up to one fragment.
func (d *Driver) load() (int64, error) {
	n, err := d.in.ReadFrames(d.src.Frames(d.filled, int(d.frag)))
	d.filled += int64(n)
	d.stats.FramesRead += int64(n)
	switch {
	case err == nil:
		return int64(n), nil
	case errors.Is(err, io.EOF):
		d.eof = true
		return int64(n), nil
	case errors.Is(err, rawio.ErrPartialFrame):
		d.eof = true
		d.log.WithError(err).Warn("ignoring incomplete last frame")
		return int64(n), nil
	default:
		return int64(n), fmt.Errorf("driver: read input: %w", err)
	}
}

func (d *Driver) flush(n int64) error {
	if err := d.out.WriteFrames(d.dst.Frames(d.saved, int(n))); err != nil {
		return fmt.Errorf("driver: write output: %w", err)
	}
	d.saved += n
	d.stats.FramesWritten += n
	return nil
}
