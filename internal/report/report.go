// Package report compares a recording before and after artifact removal.
//
// Both streams are read frame by frame and analyzed per channel: residual
// RMS, the number of blanked samples, a Welch power spectral density and
// the power at the stimulation frequency and its harmonics, measured with
// Goertzel filters on the same Hann-windowed segments. The ratio of input
// to output tone power is the suppression in dB.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	algofft "github.com/cwbudde/algo-fft"
	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-salpa/dsp/spectrum"
	"github.com/cwbudde/algo-salpa/dsp/window"
	"github.com/cwbudde/algo-salpa/internal/rawio"
	timestats "github.com/cwbudde/algo-salpa/stats/time"
)

const chunkFrames = 4096

// ErrChannels is returned for a non-positive channel count.
var ErrChannels = errors.New("report: channel count must be >= 1")

// Config controls the analysis.
type Config struct {
	SampleRate float64
	// StimHz is the stimulation rate. Zero disables the harmonic analysis.
	StimHz     float64
	Harmonics  int
	SegmentLen int
}

// Option mutates Config.
type Option func(*Config)

// DefaultConfig returns 30 kHz, five harmonics and 1024-sample segments.
func DefaultConfig() Config {
	return Config{
		SampleRate: 30000,
		Harmonics:  5,
		SegmentLen: 1024,
	}
}

// WithSampleRate sets the sample rate in Hz.
func WithSampleRate(hz float64) Option {
	return func(cfg *Config) {
		if hz > 0 {
			cfg.SampleRate = hz
		}
	}
}

// WithStimFrequency sets the stimulation rate in Hz.
func WithStimFrequency(hz float64) Option {
	return func(cfg *Config) {
		if hz >= 0 {
			cfg.StimHz = hz
		}
	}
}

// WithHarmonics sets how many multiples of the stimulation rate are summed.
func WithHarmonics(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.Harmonics = n
		}
	}
}

// WithSegmentLen sets the Welch segment length. It must be a power of two
// of at least 16.
func WithSegmentLen(n int) Option {
	return func(cfg *Config) {
		if n >= 16 && n&(n-1) == 0 {
			cfg.SegmentLen = n
		}
	}
}

// ApplyOptions applies opts to DefaultConfig.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Channel is the comparison result for one channel.
type Channel struct {
	Index         int
	Frames        int64
	Blanked       int64
	InputRMS      float64
	OutputRMS     float64
	OutputPeak    float64
	InputStim     float64
	OutputStim    float64
	SuppressionDB float64
}

// Analyzer computes Welch spectra and the power of the stimulation tones.
// It is not safe for concurrent use.
type Analyzer struct {
	cfg    Config
	plan   *algofft.Plan[complex128]
	window []float64
	gain   float64
	norm   float64
	tones  *spectrum.MultiGoertzel
	seg    []float64
	buf    []complex128
	re, im []float64
	pow    []float64
}

// NewAnalyzer returns an analyzer for the configured segment length.
func NewAnalyzer(opts ...Option) (*Analyzer, error) {
	cfg := ApplyOptions(opts...)
	n := cfg.SegmentLen
	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return nil, fmt.Errorf("report: failed to create FFT plan: %w", err)
	}
	w, err := window.Hann(n, window.WithPeriodic())
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	tones, err := spectrum.NewMultiGoertzel(harmonics(cfg), cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	a := &Analyzer{
		cfg:    cfg,
		plan:   plan,
		window: w,
		gain:   vecmath.Sum(w),
		tones:  tones,
		seg:    make([]float64, n),
		buf:    make([]complex128, n),
		re:     make([]float64, n/2+1),
		im:     make([]float64, n/2+1),
		pow:    make([]float64, n/2+1),
	}
	a.norm = cfg.SampleRate * vecmath.DotProduct(w, w)
	return a, nil
}

// harmonics lists the multiples of the stimulation rate below Nyquist.
func harmonics(cfg Config) []float64 {
	if cfg.StimHz <= 0 {
		return nil
	}
	var f []float64
	for h := 1; h <= cfg.Harmonics; h++ {
		hz := float64(h) * cfg.StimHz
		if hz >= cfg.SampleRate/2 {
			break
		}
		f = append(f, hz)
	}
	return f
}

// Harmonics returns the analyzed tone frequencies in Hz.
func (a *Analyzer) Harmonics() []float64 {
	return harmonics(a.cfg)
}

// Bins returns the number of one-sided PSD bins.
func (a *Analyzer) Bins() int {
	return a.cfg.SegmentLen/2 + 1
}

// BinWidth returns the frequency resolution in Hz.
func (a *Analyzer) BinWidth() float64 {
	return a.cfg.SampleRate / float64(a.cfg.SegmentLen)
}

// Spectrum is the Welch estimate of one signal.
type Spectrum struct {
	// PSD is the one-sided density in units squared per Hz.
	PSD []float64
	// Tones holds the mean power of each harmonic, in units squared.
	Tones    []float64
	Segments int
}

// StimPower returns the summed power of all harmonics.
func (s Spectrum) StimPower() float64 {
	return vecmath.Sum(s.Tones)
}

// segment adds the periodogram of a.seg to s.psd and the tone powers to
// s.tones. a.seg is clobbered.
func (a *Analyzer) segment(s *stream) error {
	n := len(a.seg)
	mean := vecmath.Sum(a.seg) / float64(n)
	for i := range a.seg {
		a.seg[i] -= mean
	}
	if err := window.ApplyCoefficientsInPlace(a.seg, a.window); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	a.tones.Reset()
	a.tones.ProcessBlock(a.seg)
	a.tones.AddPowers(s.tones)

	for i, v := range a.seg {
		a.buf[i] = complex(v, 0)
	}
	if err := a.plan.Forward(a.buf, a.buf); err != nil {
		return fmt.Errorf("report: fft: %w", err)
	}
	for k := range a.re {
		a.re[k] = real(a.buf[k])
		a.im[k] = imag(a.buf[k])
	}
	vecmath.Power(a.pow, a.re, a.im)
	for k, p := range a.pow {
		s.psd[k] += p
	}
	s.segments++
	return nil
}

// result scales the sums of s into a Spectrum. A tone of amplitude A
// yields |X|^2 = (A*gain/2)^2 in a windowed segment, so 2|X|^2/gain^2 is
// its power A^2/2.
func (a *Analyzer) result(s *stream) Spectrum {
	if s.segments == 0 {
		return Spectrum{}
	}
	segs := float64(s.segments)
	last := len(s.psd) - 1
	for k := range s.psd {
		f := 2.0
		if k == 0 || k == last {
			f = 1
		}
		s.psd[k] *= f / (segs * a.norm)
	}
	for i := range s.tones {
		s.tones[i] *= 2 / (segs * a.gain * a.gain)
	}
	return Spectrum{PSD: s.psd, Tones: s.tones, Segments: s.segments}
}

// Analyze returns the Welch estimate of x with half-overlapping segments.
// The result is empty if x is shorter than one segment.
func (a *Analyzer) Analyze(x []int16) (Spectrum, error) {
	s := a.newStream()
	for _, v := range x {
		if err := a.push(s, v); err != nil {
			return Spectrum{}, err
		}
	}
	return a.result(s), nil
}

// Suppression returns 10*log10(in/out), +Inf when out is zero and in is
// not, and 0 when there is no input power.
func Suppression(in, out float64) float64 {
	switch {
	case in <= 0:
		return 0
	case out <= 0:
		return math.Inf(1)
	}
	return 10 * math.Log10(in/out)
}

// stream accumulates one channel incrementally.
type stream struct {
	hist     []float64
	fill     int
	psd      []float64
	tones    []float64
	segments int
	level    timestats.Streaming
}

func (a *Analyzer) newStream() *stream {
	return &stream{
		hist:  make([]float64, a.cfg.SegmentLen),
		psd:   make([]float64, a.Bins()),
		tones: make([]float64, a.tones.Len()),
	}
}

func (a *Analyzer) push(s *stream, v int16) error {
	s.level.Add(v)
	s.hist[s.fill] = float64(v)
	s.fill++
	if s.fill < len(s.hist) {
		return nil
	}
	copy(a.seg, s.hist)
	if err := a.segment(s); err != nil {
		return err
	}
	half := len(s.hist) / 2
	copy(s.hist, s.hist[half:])
	s.fill = half
	return nil
}

func (a *Analyzer) finish(s *stream) (level timestats.Stats, stim float64) {
	return s.level.Result(), a.result(s).StimPower()
}

// Compare reads two raw recordings with the given channel count and
// compares them channel by channel over their common length.
func Compare(in, out io.Reader, channels int, opts ...Option) ([]Channel, error) {
	if channels < 1 {
		return nil, ErrChannels
	}
	a, err := NewAnalyzer(opts...)
	if err != nil {
		return nil, err
	}
	rin, err := rawio.NewReader(in, channels)
	if err != nil {
		return nil, err
	}
	rout, err := rawio.NewReader(out, channels)
	if err != nil {
		return nil, err
	}

	ins := make([]*stream, channels)
	outs := make([]*stream, channels)
	for c := range ins {
		ins[c], outs[c] = a.newStream(), a.newStream()
	}
	result := make([]Channel, channels)
	for c := range result {
		result[c].Index = c
	}

	bufIn := make([]int16, chunkFrames*channels)
	bufOut := make([]int16, chunkFrames*channels)
	var frames int64
	for {
		nIn, errIn := rin.ReadFrames(bufIn)
		nOut, errOut := rout.ReadFrames(bufOut[:nIn*channels])
		if !endOfStream(errIn) {
			return nil, fmt.Errorf("report: input: %w", errIn)
		}
		if !endOfStream(errOut) {
			return nil, fmt.Errorf("report: output: %w", errOut)
		}
		n := min(nIn, nOut)
		for i := 0; i < n; i++ {
			for c := 0; c < channels; c++ {
				x, y := bufIn[i*channels+c], bufOut[i*channels+c]
				if err := a.push(ins[c], x); err != nil {
					return nil, err
				}
				if err := a.push(outs[c], y); err != nil {
					return nil, err
				}
			}
		}
		frames += int64(n)
		if n < chunkFrames || errIn != nil || errOut != nil {
			break
		}
	}

	for c := range result {
		r := &result[c]
		r.Frames = frames
		in, inStim := a.finish(ins[c])
		out, outStim := a.finish(outs[c])
		r.Blanked = out.Zeros
		r.InputRMS, r.OutputRMS, r.OutputPeak = in.RMS, out.RMS, out.Peak
		r.InputStim, r.OutputStim = inStim, outStim
		r.SuppressionDB = Suppression(r.InputStim, r.OutputStim)
	}
	return result, nil
}

// endOfStream reports whether err is nil or ends the comparison. A partial
// trailing frame is ignored the same way the processor ignores it.
func endOfStream(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, rawio.ErrPartialFrame)
}

// Write prints channels as an aligned table.
func Write(w io.Writer, channels []Channel) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ch\tframes\tblanked\trms in\trms out\tpeak out\tstim in\tstim out\tsuppression dB\t")
	for _, c := range channels {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%.2f\t%.2f\t%.0f\t%.3g\t%.3g\t%.1f\t\n",
			c.Index, c.Frames, c.Blanked, c.InputRMS, c.OutputRMS, c.OutputPeak,
			c.InputStim, c.OutputStim, c.SuppressionDB)
	}
	return tw.Flush()
}
