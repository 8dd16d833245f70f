// Package config holds the user-facing parameter set of a run. Lengths are
// given in milliseconds and converted to frames with the sample rate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-salpa/dsp/ring"
	"github.com/cwbudde/algo-salpa/internal/driver"
	"github.com/cwbudde/algo-salpa/internal/schedule"
)

// DefaultChannels is used when neither channel count is set.
const DefaultChannels = 64

// UsageError reports conflicting or malformed parameters.
type UsageError struct {
	Msg string
	Err error
}

func (e *UsageError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

func usagef(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// Params is the parameter set. The flag each field corresponds to is given
// in brackets.
type Params struct {
	SampleRateKHz float64 `yaml:"sample_rate_khz"` // [-F]
	// Channels is the processed channel count [-c], TotalChannels the
	// number of channels per frame [-C]. Zero means "same as the other".
	Channels      int `yaml:"channels"`
	TotalChannels int `yaml:"total_channels"`

	Threshold    float64 `yaml:"threshold"`     // digital units [-t]
	ThresholdStd float64 `yaml:"threshold_std"` // multiple of RMS noise [-x]

	TauMs   float64 `yaml:"tau_ms"`   // [-l]
	AsymMs  float64 `yaml:"asym_ms"`  // [-a]
	BlankMs float64 `yaml:"blank_ms"` // [-b]
	AheadMs float64 `yaml:"ahead_ms"` // [-A]

	// Rails is "r1,r2" or a single value v meaning "-|v|,|v|" [-r].
	Rails string `yaml:"rails"`

	PeriodMs   float64 `yaml:"period_ms"`   // [-p]
	DelayMs    float64 `yaml:"delay_ms"`    // [-d]
	ForcePegMs float64 `yaml:"forcepeg_ms"` // [-f]
	EventFile  string  `yaml:"event_file"`  // [-P]

	Threads      int `yaml:"threads"`       // [-T]
	BufferFrames int `yaml:"buffer_frames"` // rounded down to a power of two [-S]

	Input  string `yaml:"input"`  // [-i]
	Output string `yaml:"output"` // [-o]
	Skip   int64  `yaml:"skip"`   // frames [-M]
	Limit  int64  `yaml:"limit"`  // frames, 0 for all [-N]

	Baseline          bool `yaml:"baseline"`           // [-B]
	PrematureRecovery bool `yaml:"premature_recovery"` // cleared by [-Z]
}

// Default returns the built-in parameters.
func Default() Params {
	return Params{
		SampleRateKHz:     30,
		ThresholdStd:      3,
		TauMs:             3,
		AsymMs:            0.2,
		BlankMs:           0.4,
		AheadMs:           0.2,
		Rails:             "-32767,32767",
		Threads:           8,
		BufferFrames:      4096,
		PrematureRecovery: true,
	}
}

// Load reads a YAML parameter file on top of the defaults. Setting only
// threshold in the file disables the default threshold_std.
func Load(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("config: %w", err)
	}
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Params{}, &UsageError{Msg: "config: " + path, Err: err}
	}
	var keys map[string]any
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return Params{}, &UsageError{Msg: "config: " + path, Err: err}
	}
	_, hasThr := keys["threshold"]
	_, hasStd := keys["threshold_std"]
	if hasThr && !hasStd {
		p.ThresholdStd = 0
	}
	return p, nil
}

// Normalize fills in a missing channel count from the other one.
func (p *Params) Normalize() {
	switch {
	case p.Channels == 0 && p.TotalChannels == 0:
		p.Channels, p.TotalChannels = DefaultChannels, DefaultChannels
	case p.Channels == 0:
		p.Channels = p.TotalChannels
	case p.TotalChannels == 0:
		p.TotalChannels = p.Channels
	}
}

// ParseRails parses "r1,r2" or a single magnitude.
func ParseRails(s string) (lo, hi int32, err error) {
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return 0, 0, usagef("-r: expected one or two values: %q", s)
	}
	var v [2]int64
	for i, part := range parts {
		v[i], err = strconv.ParseInt(strings.TrimSpace(part), 10, 16)
		if err != nil {
			return 0, 0, &UsageError{Msg: fmt.Sprintf("-r: bad rail %q", part), Err: err}
		}
	}
	if len(parts) == 1 {
		m := v[0]
		if m < 0 {
			m = -m
		}
		v[0], v[1] = -m, m
	}
	lo, hi = int32(min(v[0], v[1])), int32(max(v[0], v[1]))
	if lo == hi {
		return 0, 0, usagef("-r: rails must differ: %q", s)
	}
	return lo, hi, nil
}

func (p Params) rate() float64 {
	return p.SampleRateKHz * 1000
}

// Frames converts a length in milliseconds to whole frames. A small epsilon
// keeps values such as 0.3 ms at 30 kHz from truncating to one frame less.
func (p Params) Frames(ms float64) int {
	return int(math.Floor(ms*p.rate()/1000 + 1e-6))
}

// Validate checks p after Normalize and returns a *UsageError.
func (p Params) Validate() error {
	if !(p.SampleRateKHz > 0) {
		return usagef("-F: sample rate must be > 0: %g", p.SampleRateKHz)
	}
	if p.Channels < 1 || p.TotalChannels < 1 {
		return usagef("-c/-C: channel counts must be >= 1: %d/%d", p.Channels, p.TotalChannels)
	}
	if p.Channels > p.TotalChannels {
		return usagef("-c: processed channels exceed total channels: %d > %d", p.Channels, p.TotalChannels)
	}
	switch {
	case p.Threshold < 0 || p.ThresholdStd < 0:
		return usagef("-t/-x: thresholds must be >= 0")
	case p.Threshold > 0 && p.ThresholdStd > 0:
		return usagef("-t and -x are mutually exclusive")
	case p.Threshold == 0 && p.ThresholdStd == 0:
		return usagef("one of -t or -x is required")
	}
	for _, f := range []struct {
		flag string
		ms   float64
	}{
		{"-l", p.TauMs}, {"-a", p.AsymMs}, {"-b", p.BlankMs}, {"-A", p.AheadMs},
		{"-p", p.PeriodMs}, {"-d", p.DelayMs}, {"-f", p.ForcePegMs},
	} {
		if f.ms < 0 || math.IsNaN(f.ms) {
			return usagef("%s: length must be >= 0: %g", f.flag, f.ms)
		}
	}
	if _, _, err := ParseRails(p.Rails); err != nil {
		return err
	}
	periodic := p.PeriodMs > 0 || p.DelayMs > 0
	if p.EventFile != "" && periodic {
		return usagef("-P and -p/-d are mutually exclusive")
	}
	if (p.EventFile != "" || periodic) && p.Frames(p.ForcePegMs) < 1 {
		return usagef("-f: forced peg length is required with -p, -d or -P")
	}
	if p.Threads < 1 {
		return usagef("-T: thread count must be >= 1: %d", p.Threads)
	}
	if p.BufferFrames < 4 {
		return usagef("-S: buffer must hold at least 4 frames: %d", p.BufferFrames)
	}
	if p.Skip < 0 || p.Limit < 0 {
		return usagef("-M/-N: counts must be >= 0")
	}
	return nil
}

// DriverConfig validates p and converts it to frames.
func (p Params) DriverConfig() (driver.Config, error) {
	if err := p.Validate(); err != nil {
		return driver.Config{}, err
	}
	lo, hi, _ := ParseRails(p.Rails)
	log2, err := ring.RoundDownPow2(p.BufferFrames)
	if err != nil {
		return driver.Config{}, &UsageError{Msg: "-S", Err: err}
	}
	cfg := driver.Config{
		Channels:          p.Channels,
		TotalChannels:     p.TotalChannels,
		Log2Ring:          log2,
		Threads:           p.Threads,
		Tau:               p.Frames(p.TauMs),
		AsymWindow:        p.Frames(p.AsymMs),
		BlankDepeg:        p.Frames(p.BlankMs),
		Ahead:             p.Frames(p.AheadMs),
		Threshold:         p.Threshold,
		ThresholdStd:      p.ThresholdStd,
		RailLow:           lo,
		RailHigh:          hi,
		ForcePeg:          p.Frames(p.ForcePegMs),
		Baseline:          p.Baseline,
		PrematureRecovery: p.PrematureRecovery,
		Limit:             p.Limit,
	}
	if err := cfg.Validate(); err != nil {
		return driver.Config{}, &UsageError{Msg: "invalid parameters", Err: err}
	}
	return cfg, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Schedule opens the forced-peg schedule. Times are relative to the start
// of the recording, before Skip frames are dropped. The returned closer
// must be closed after the run.
func (p Params) Schedule() (schedule.Source, io.Closer, error) {
	length := int64(p.Frames(p.ForcePegMs))
	if p.EventFile != "" {
		f, err := os.Open(p.EventFile)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open event file: %w", err)
		}
		return schedule.FromReader(f, length, p.Skip), f, nil
	}
	if p.PeriodMs <= 0 && p.DelayMs <= 0 {
		return schedule.None(), nopCloser{}, nil
	}
	period := int64(p.Frames(p.PeriodMs))
	first := int64(p.Frames(p.DelayMs)) - p.Skip
	if first+length <= 0 {
		if period <= 0 {
			return schedule.None(), nopCloser{}, nil
		}
		first += (-(first+length)/period + 1) * period
	}
	return schedule.NewPeriodic(period, first, length), nopCloser{}, nil
}
