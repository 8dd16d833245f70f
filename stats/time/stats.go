// Package time computes time-domain level statistics of int16 recordings.
package time

import "math"

// Stats holds time-domain statistics of one channel.
type Stats struct {
	Length   int64
	DC       float64 // mean
	RMS      float64
	Variance float64
	Max      int16
	MaxPos   int64
	Min      int16
	MinPos   int64
	Peak     float64 // max(|max|, |min|)
	// Zeros counts samples that are exactly zero, which in a processed
	// recording are the blanked ones.
	Zeros int64
}

// CrestFactor returns peak / RMS, or 0 for a silent signal.
func (s Stats) CrestFactor() float64 {
	if s.RMS == 0 {
		return 0
	}
	return s.Peak / s.RMS
}

// Calculate computes the statistics of signal in one pass.
func Calculate(signal []int16) Stats {
	var s Streaming
	s.Update(signal)
	return s.Result()
}

// RMS returns the root mean square of signal.
func RMS(signal []int16) float64 {
	if len(signal) == 0 {
		return 0
	}
	var sum float64
	for _, v := range signal {
		x := float64(v)
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(signal)))
}

// Streaming accumulates statistics sample by sample with Welford's update
// for the variance. The zero value is ready to use.
type Streaming struct {
	n      int64
	mean   float64
	m2     float64
	sumSq  float64
	maxVal int16
	maxPos int64
	minVal int16
	minPos int64
	zeros  int64
}

// Add adds one sample.
func (s *Streaming) Add(v int16) {
	x := float64(v)
	s.n++
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (x - s.mean)
	s.sumSq += x * x

	if s.n == 1 || v > s.maxVal {
		s.maxVal, s.maxPos = v, s.n-1
	}
	if s.n == 1 || v < s.minVal {
		s.minVal, s.minPos = v, s.n-1
	}
	if v == 0 {
		s.zeros++
	}
}

// Update adds a block of samples.
func (s *Streaming) Update(samples []int16) {
	for _, v := range samples {
		s.Add(v)
	}
}

// Len returns the number of samples seen.
func (s *Streaming) Len() int64 {
	return s.n
}

// Result returns the statistics so far.
func (s *Streaming) Result() Stats {
	if s.n == 0 {
		return Stats{}
	}
	nf := float64(s.n)
	return Stats{
		Length:   s.n,
		DC:       s.mean,
		RMS:      math.Sqrt(s.sumSq / nf),
		Variance: s.m2 / nf,
		Max:      s.maxVal,
		MaxPos:   s.maxPos,
		Min:      s.minVal,
		MinPos:   s.minPos,
		Peak:     math.Max(math.Abs(float64(s.maxVal)), math.Abs(float64(s.minVal))),
		Zeros:    s.zeros,
	}
}

// Reset clears all accumulated data.
func (s *Streaming) Reset() {
	*s = Streaming{}
}
