package testutil

import (
	"encoding/binary"
	"math"
	"math/rand"
)

// DeterministicSine generates a deterministic sine wave.
func DeterministicSine(freqHz, sampleRate, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	step := 2 * math.Pi * freqHz / sampleRate
	for i := range out {
		out[i] = amplitude * math.Sin(step*float64(i))
	}
	return out
}

// DeterministicNoise generates white noise with a fixed seed for reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// GaussianNoise generates normally distributed noise with standard deviation
// sigma and a fixed seed.
func GaussianNoise(seed int64, sigma float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = rng.NormFloat64() * sigma
	}
	return out
}

// Mix adds the given signals sample by sample. The result has the length of
// the shortest input.
func Mix(signals ...[]float64) []float64 {
	if len(signals) == 0 {
		return nil
	}
	n := len(signals[0])
	for _, s := range signals[1:] {
		if len(s) < n {
			n = len(s)
		}
	}
	out := make([]float64, n)
	for _, s := range signals {
		for i := range out {
			out[i] += s[i]
		}
	}
	return out
}

// Quantize rounds a float signal to int16 samples, saturating at the range.
func Quantize(signal []float64) []int16 {
	out := make([]int16, len(signal))
	for i, v := range signal {
		v = math.Round(v)
		switch {
		case v > math.MaxInt16:
			out[i] = math.MaxInt16
		case v < math.MinInt16:
			out[i] = math.MinInt16
		default:
			out[i] = int16(v)
		}
	}
	return out
}

// Plateau overwrites samples [from, to) with value, clipping the range to
// the signal.
func Plateau(signal []int16, from, to int, value int16) []int16 {
	from = max(from, 0)
	to = min(to, len(signal))
	for i := from; i < to; i++ {
		signal[i] = value
	}
	return signal
}

// Interleave packs equal-length channels frame by frame.
func Interleave(channels ...[]int16) []int16 {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	out := make([]int16, 0, n*len(channels))
	for i := 0; i < n; i++ {
		for _, ch := range channels {
			out = append(out, ch[i])
		}
	}
	return out
}

// Deinterleave splits frame-major samples into channels.
func Deinterleave(samples []int16, channels int) [][]int16 {
	n := len(samples) / channels
	out := make([][]int16, channels)
	for c := range out {
		out[c] = make([]int16, n)
		for i := 0; i < n; i++ {
			out[c][i] = samples[i*channels+c]
		}
	}
	return out
}

// EncodeLE encodes samples as little-endian bytes, the raw file layout.
func EncodeLE(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// DecodeLE decodes little-endian bytes into samples. A trailing odd byte is
// ignored.
func DecodeLE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}
