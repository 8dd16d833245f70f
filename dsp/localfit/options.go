package localfit

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MaxTau keeps the third-order cumulant of int16 data inside int64.
	MaxTau = 4096

	// DefaultHysteresis is the number of consecutive good asymmetry checks
	// required before a fit is accepted.
	DefaultHysteresis = 5

	// confidence scales the acceptance threshold to a 95% limit for Gaussian
	// residuals.
	confidence = 3.92
)

var (
	// ErrBadState is returned when the engine finds an unknown state tag.
	ErrBadState = errors.New("localfit: bad state")

	errNilStream = errors.New("localfit: source and destination streams must not be nil")
)

// Config holds the per-channel parameters of an Engine. All lengths are in
// samples.
type Config struct {
	// Threshold is the RMS noise level the residual is judged against.
	Threshold float64
	// Tau is the half width of the fit window.
	Tau int
	// BlankDepeg is how much of a freshly accepted fit is kept at zero,
	// counted from the start of the fit window.
	BlankDepeg int
	// Ahead is how far beyond the fit window the Ok state looks for rails.
	Ahead int
	// AsymWindow is the number of samples summed by the goodness-of-fit test.
	AsymWindow int
	// RailLow and RailHigh bound the unsaturated range; samples at or beyond
	// either are pegged.
	RailLow, RailHigh int32
	// Hysteresis is the TooPoor counter start value.
	Hysteresis int
	// PrematureRecovery ends BlankDepeg as soon as the residual changes sign
	// relative to the one latched at acceptance.
	PrematureRecovery bool
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns the settings used when no options are given.
// Threshold defaults to +Inf, which accepts the first fit.
func DefaultConfig() Config {
	return Config{
		Threshold:         math.Inf(1),
		Tau:               75,
		BlankDepeg:        20,
		Ahead:             5,
		AsymWindow:        10,
		RailLow:           -32767,
		RailHigh:          32767,
		Hysteresis:        DefaultHysteresis,
		PrematureRecovery: true,
	}
}

// WithThreshold sets the RMS noise threshold.
func WithThreshold(v float64) Option {
	return func(cfg *Config) { cfg.Threshold = v }
}

// WithTau sets the half width of the fit window.
func WithTau(tau int) Option {
	return func(cfg *Config) { cfg.Tau = tau }
}

// WithBlankDepeg sets the post-acceptance blanking length.
func WithBlankDepeg(n int) Option {
	return func(cfg *Config) { cfg.BlankDepeg = n }
}

// WithAhead sets the rail lookahead beyond the fit window.
func WithAhead(n int) Option {
	return func(cfg *Config) { cfg.Ahead = n }
}

// WithAsymWindow sets the goodness-of-fit window length.
func WithAsymWindow(n int) Option {
	return func(cfg *Config) { cfg.AsymWindow = n }
}

// WithRails sets the saturation bounds. The order of lo and hi does not
// matter.
func WithRails(lo, hi int32) Option {
	return func(cfg *Config) {
		if lo > hi {
			lo, hi = hi, lo
		}
		cfg.RailLow, cfg.RailHigh = lo, hi
	}
}

// WithHysteresis sets the TooPoor counter start value.
func WithHysteresis(n int) Option {
	return func(cfg *Config) { cfg.Hysteresis = n }
}

// WithPrematureRecovery toggles early exit from BlankDepeg.
func WithPrematureRecovery(on bool) Option {
	return func(cfg *Config) { cfg.PrematureRecovery = on }
}

// ApplyOptions applies zero or more options to the default config.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Validate checks that cfg describes a usable engine. Lookahead limits keep
// every read inside the margins the stream driver guarantees.
func (cfg Config) Validate() error {
	if cfg.Tau < 2 || cfg.Tau > MaxTau {
		return fmt.Errorf("localfit: tau must be in [2,%d]: %d", MaxTau, cfg.Tau)
	}
	if !(cfg.Threshold > 0) {
		return fmt.Errorf("localfit: threshold must be > 0: %g", cfg.Threshold)
	}
	if cfg.AsymWindow < 1 || cfg.AsymWindow > 2*cfg.Tau+1 {
		return fmt.Errorf("localfit: asymmetry window must be in [1,%d]: %d", 2*cfg.Tau+1, cfg.AsymWindow)
	}
	if cfg.BlankDepeg < 0 || cfg.BlankDepeg > cfg.Tau {
		return fmt.Errorf("localfit: blank depeg must be in [0,%d]: %d", cfg.Tau, cfg.BlankDepeg)
	}
	if cfg.Ahead < 0 || cfg.Ahead > cfg.Tau {
		return fmt.Errorf("localfit: ahead must be in [0,%d]: %d", cfg.Tau, cfg.Ahead)
	}
	if cfg.Hysteresis < 1 {
		return fmt.Errorf("localfit: hysteresis must be >= 1: %d", cfg.Hysteresis)
	}
	if cfg.RailLow >= cfg.RailHigh {
		return fmt.Errorf("localfit: rails must satisfy low < high: %d,%d", cfg.RailLow, cfg.RailHigh)
	}
	return nil
}
