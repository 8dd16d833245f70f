package driver

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/algo-salpa/dsp/localfit"
	"github.com/cwbudde/algo-salpa/dsp/ring"
	"github.com/cwbudde/algo-salpa/stats/noise"
)

// Config describes one run in the sample domain. Lengths are in frames.
type Config struct {
	// Channels is the number of processed channels; channels at or beyond
	// it are copied through unchanged.
	Channels int
	// TotalChannels is the number of channels per frame.
	TotalChannels int
	// Log2Ring is the log2 of the ring capacity in frames. Fragments are a
	// quarter of the ring.
	Log2Ring int
	// Threads is the number of pool workers.
	Threads int

	Tau        int
	AsymWindow int
	BlankDepeg int
	Ahead      int

	// Threshold is the absolute RMS noise threshold. It is used when
	// ThresholdStd is zero.
	Threshold float64
	// ThresholdStd, when positive, sets each channel's threshold to this
	// multiple of its estimated noise.
	ThresholdStd float64

	RailLow, RailHigh int32

	// ForcePeg is the length of scheduled pegs. It widens the processing
	// margin so that a peg always fits in loaded data.
	ForcePeg int
	// Baseline subtracts each channel's estimated mean before fitting.
	Baseline          bool
	PrematureRecovery bool

	// Limit stops reading after this many frames when positive.
	Limit int64
}

// DefaultConfig returns the settings for 64 channels at 30 kHz.
func DefaultConfig() Config {
	return Config{
		Channels:          64,
		TotalChannels:     64,
		Log2Ring:          12,
		Threads:           8,
		Tau:               90,
		AsymWindow:        6,
		BlankDepeg:        12,
		Ahead:             6,
		ThresholdStd:      3,
		RailLow:           -32767,
		RailHigh:          32767,
		PrematureRecovery: true,
	}
}

// Calibrates reports whether the run starts with a noise estimate.
func (c Config) Calibrates() bool {
	return c.ThresholdStd > 0 || c.Baseline
}

// Margin is the lookahead the main loop keeps between loaded and processed
// data.
func (c Config) Margin() int64 {
	return int64(c.ForcePeg) + 3*int64(c.Tau) + 2
}

// TailMargin is the lookahead of the final pass at end of input.
func (c Config) TailMargin() int64 {
	return 2*int64(c.Tau) + 1
}

// FragmentFrames returns the load and flush unit.
func (c Config) FragmentFrames() int64 {
	return int64(1) << c.Log2Ring >> 2
}

// MinRingFrames returns the smallest ring that holds the processing margin,
// the tau processing waits ahead of a pending peg, the fit lookbehind and
// one fragment being loaded, and in which the flush cap never holds
// processing back behind the loaded data.
func (c Config) MinRingFrames() int64 {
	frag := c.FragmentFrames()
	return max(c.Margin()+2*int64(c.Tau)+1+frag, 2*frag+int64(c.ForcePeg))
}

func (c Config) engineOptions(threshold float64) []localfit.Option {
	return []localfit.Option{
		localfit.WithThreshold(threshold),
		localfit.WithTau(c.Tau),
		localfit.WithAsymWindow(c.AsymWindow),
		localfit.WithBlankDepeg(c.BlankDepeg),
		localfit.WithAhead(c.Ahead),
		localfit.WithRails(c.RailLow, c.RailHigh),
		localfit.WithPrematureRecovery(c.PrematureRecovery),
	}
}

// Validate checks that c describes a runnable configuration.
func (c Config) Validate() error {
	if c.TotalChannels < 1 {
		return fmt.Errorf("driver: total channel count must be >= 1: %d", c.TotalChannels)
	}
	if c.Channels < 0 || c.Channels > c.TotalChannels {
		return fmt.Errorf("driver: processed channel count must be in [0,%d]: %d", c.TotalChannels, c.Channels)
	}
	if c.Threads < 1 {
		return fmt.Errorf("driver: thread count must be >= 1: %d", c.Threads)
	}
	if c.Log2Ring < 2 || c.Log2Ring > ring.MaxLog2Size {
		return fmt.Errorf("driver: log2 ring size must be in [2,%d]: %d", ring.MaxLog2Size, c.Log2Ring)
	}
	if c.ForcePeg < 0 {
		return fmt.Errorf("driver: forced peg length must be >= 0: %d", c.ForcePeg)
	}
	if c.Limit < 0 {
		return fmt.Errorf("driver: limit must be >= 0: %d", c.Limit)
	}
	if c.ThresholdStd < 0 {
		return fmt.Errorf("driver: threshold multiple must be >= 0: %g", c.ThresholdStd)
	}
	threshold := c.Threshold
	if c.ThresholdStd > 0 {
		threshold = 1
	}
	if err := localfit.ApplyOptions(c.engineOptions(threshold)...).Validate(); err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	if size := int64(1) << c.Log2Ring; size < c.MinRingFrames() {
		return fmt.Errorf("driver: ring of %d frames is smaller than the %d frames the margins need", size, c.MinRingFrames())
	}
	if c.Calibrates() {
		nc := noise.DefaultConfig()
		if need := int64(nc.MinChunks * nc.ChunkSize); 3*c.FragmentFrames() < need {
			return fmt.Errorf("driver: calibration reads %d frames, need at least %d", 3*c.FragmentFrames(), need)
		}
	}
	return nil
}

// Stats summarizes a run.
type Stats struct {
	FramesRead    int64
	FramesWritten int64
	PegsApplied   int
	PegsDropped   int
	// Thresholds and Baselines hold the per-channel values in effect.
	Thresholds []float64
	Baselines  []int16
}

// FatalError reports a channel whose engine did not reach the requested
// time. The fit state of that channel can no longer be trusted.
type FatalError struct {
	Channel int
	Op      string
	Want    int64
	Got     int64
	Report  string
	Err     error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("driver: channel %d: %s to %d reached %d", e.Channel, e.Op, e.Want, e.Got)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + " [" + e.Report + "]"
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// ErrShortCalibration is returned when the input ends before enough data
// for the noise estimate was read.
var ErrShortCalibration = errors.New("driver: not enough data for noise estimate")

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
