// Package noise estimates the baseline and RMS noise of a recording channel
// in a way that is robust against artifacts and spikes.
//
// Samples are split into fixed-size chunks. Each chunk contributes one mean
// and one variance; the channel mean is the median of the chunk means and
// the noise variance is a low percentile of the chunk variances, so chunks
// containing artifacts or spikes do not inflate the estimate.
package noise

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-salpa/dsp/ring"
)

// ErrTooFewChunks is returned by Finish when fewer than the configured
// minimum number of chunks were trained.
var ErrTooFewChunks = errors.New("noise: too few chunks to compute meaningful estimates")

// Config holds estimator settings.
type Config struct {
	ChunkSize  int
	Percentile int
	MinChunks  int
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns 250-sample chunks, the 25th variance percentile and
// a minimum of five chunks.
func DefaultConfig() Config {
	return Config{
		ChunkSize:  250,
		Percentile: 25,
		MinChunks:  5,
	}
}

// WithChunkSize sets the number of samples per chunk.
func WithChunkSize(n int) Option {
	return func(cfg *Config) {
		if n > 1 {
			cfg.ChunkSize = n
		}
	}
}

// WithPercentile sets the variance percentile, in [0,100).
func WithPercentile(p int) Option {
	return func(cfg *Config) {
		if p >= 0 && p < 100 {
			cfg.Percentile = p
		}
	}
}

// WithMinChunks sets the number of chunks Finish requires.
func WithMinChunks(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MinChunks = n
		}
	}
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

// Levels accumulates chunk statistics for one channel.
type Levels struct {
	cfg Config

	// ref is subtracted from every sample of the current chunk. It is the
	// mean of the previous chunk, which keeps the sums small.
	ref   float64
	chunk []float64
	means []float64
	vars  []float64

	mean  float64
	std   float64
	ready bool
}

// New returns an empty estimator.
func New(opts ...Option) *Levels {
	cfg := ApplyOptions(opts...)
	return &Levels{
		cfg:   cfg,
		chunk: make([]float64, 0, cfg.ChunkSize),
	}
}

// Reset discards all trained data.
func (l *Levels) Reset() {
	l.ref = 0
	l.chunk = l.chunk[:0]
	l.means = l.means[:0]
	l.vars = l.vars[:0]
	l.mean, l.std = 0, 0
	l.ready = false
}

// Add trains a single sample.
func (l *Levels) Add(v int16) {
	l.chunk = append(l.chunk, float64(v)-l.ref)
	if len(l.chunk) == l.cfg.ChunkSize {
		l.closeChunk()
	}
}

// Train adds the samples in [from, to) of s.
func (l *Levels) Train(s *ring.Stream, from, to int64) {
	for t := from; t < to; t++ {
		l.Add(s.At(t))
	}
}

func (l *Levels) closeChunk() {
	n := float64(len(l.chunk))
	sx := vecmath.Sum(l.chunk)
	sxx := vecmath.DotProduct(l.chunk, l.chunk)
	mean := l.ref + sx/n
	l.means = append(l.means, mean)
	l.vars = append(l.vars, (sxx-sx*sx/n)/(n-1))
	l.ref = mean
	l.chunk = l.chunk[:0]
}

// Chunks returns the number of complete chunks trained so far.
func (l *Levels) Chunks() int {
	return len(l.vars)
}

// Finish computes the estimates. Samples of an incomplete trailing chunk are
// ignored.
func (l *Levels) Finish() error {
	if n := l.Chunks(); n < l.cfg.MinChunks {
		return fmt.Errorf("%w: %d < %d", ErrTooFewChunks, n, l.cfg.MinChunks)
	}
	l.mean = percentile(l.means, 50)
	l.std = math.Sqrt(percentile(l.vars, l.cfg.Percentile))
	l.ready = true
	return nil
}

// Ready reports whether Finish succeeded since the last Reset.
func (l *Levels) Ready() bool {
	return l.ready
}

// Mean returns the median chunk mean. It is zero before Finish.
func (l *Levels) Mean() float64 {
	return l.mean
}

// Std returns the square root of the percentile chunk variance. It is zero
// before Finish.
func (l *Levels) Std() float64 {
	return l.std
}

// percentile returns the element at index len*p/100 of the sorted values.
func percentile(values []float64, p int) float64 {
	if len(values) == 0 {
		return 0
	}
	k := len(values) * p / 100
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sorted[k]
}
