package ring

import (
	"errors"
	"fmt"
)

// MaxLog2Size bounds the ring capacity at 2^30 slots.
const MaxLog2Size = 30

var errShortBacking = errors.New("ring: backing slice too short for view")

// Stream is a circular view of capacity 2^k over int16 samples.
type Stream struct {
	data   []int16
	mask   int64
	stride int
}

func validateLog2(log2Size int) error {
	if log2Size < 0 || log2Size > MaxLog2Size {
		return fmt.Errorf("ring: log2 size must be in [0,%d]: %d", MaxLog2Size, log2Size)
	}
	return nil
}

// New returns a zeroed stream that owns 2^log2Size slots.
func New(log2Size int) (*Stream, error) {
	if err := validateLog2(log2Size); err != nil {
		return nil, err
	}
	size := 1 << log2Size
	return &Stream{
		data:   make([]int16, size),
		mask:   int64(size - 1),
		stride: 1,
	}, nil
}

// NewView returns a stream that reads and writes data[offset + slot*stride].
// The view shares memory with data.
func NewView(data []int16, offset, log2Size, stride int) (*Stream, error) {
	if err := validateLog2(log2Size); err != nil {
		return nil, err
	}
	if stride <= 0 {
		return nil, fmt.Errorf("ring: stride must be > 0: %d", stride)
	}
	if offset < 0 || offset >= stride {
		return nil, fmt.Errorf("ring: offset must be in [0,%d): %d", stride, offset)
	}
	size := 1 << log2Size
	if need := offset + (size-1)*stride + 1; len(data) < need {
		return nil, fmt.Errorf("%w: have %d, need %d", errShortBacking, len(data), need)
	}
	return &Stream{
		data:   data[offset:],
		mask:   int64(size - 1),
		stride: stride,
	}, nil
}

// Len returns the ring capacity in samples.
func (s *Stream) Len() int {
	return int(s.mask) + 1
}

// At returns the sample stored for time t.
func (s *Stream) At(t int64) int16 {
	return s.data[int(t&s.mask)*s.stride]
}

// Set stores v for time t.
func (s *Stream) Set(t int64, v int16) {
	s.data[int(t&s.mask)*s.stride] = v
}

// Add adds d to the sample stored for time t, saturating at the int16 range.
func (s *Stream) Add(t int64, d int32) {
	i := int(t&s.mask) * s.stride
	s.data[i] = Saturate(int32(s.data[i]) + d)
}

// Saturate clamps v to the int16 range.
func Saturate(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// RoundDownPow2 returns floor(log2(n)) for n > 0.
func RoundDownPow2(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("ring: size must be > 0: %d", n)
	}
	k := 0
	for n > 1 {
		n >>= 1
		k++
	}
	return k, nil
}
