package ring

import "fmt"

// Interleaved owns a channels x 2^k frame array stored frame-major, the way
// raw recordings lay samples out on disk. Per-channel Streams borrow it.
type Interleaved struct {
	data     []int16
	channels int
	mask     int64
	views    []*Stream
}

// NewInterleaved allocates a zeroed frame ring with one view per channel.
func NewInterleaved(channels, log2Size int) (*Interleaved, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("ring: channel count must be > 0: %d", channels)
	}
	if err := validateLog2(log2Size); err != nil {
		return nil, err
	}
	size := 1 << log2Size
	b := &Interleaved{
		data:     make([]int16, size*channels),
		channels: channels,
		mask:     int64(size - 1),
		views:    make([]*Stream, channels),
	}
	for c := range b.views {
		v, err := NewView(b.data, c, log2Size, channels)
		if err != nil {
			return nil, err
		}
		b.views[c] = v
	}
	return b, nil
}

// Channels returns the number of interleaved channels.
func (b *Interleaved) Channels() int {
	return b.channels
}

// Len returns the capacity in frames.
func (b *Interleaved) Len() int {
	return int(b.mask) + 1
}

// Channel returns the strided view of channel c.
func (b *Interleaved) Channel(c int) *Stream {
	return b.views[c]
}

// Frames returns the interleaved samples of frames [t, t+n). The span must
// not cross the wrap point; callers keep fragments aligned to the ring.
func (b *Interleaved) Frames(t int64, n int) []int16 {
	start := int(t & b.mask)
	if n < 0 || start+n > b.Len() {
		panic(fmt.Sprintf("ring: frame span [%d,+%d) crosses wrap at %d", start, n, b.Len()))
	}
	return b.data[start*b.channels : (start+n)*b.channels]
}

// CopyChannels copies channels [from, to) of frames [t1, t2) from src into b.
// Both rings must have the same shape.
func (b *Interleaved) CopyChannels(src *Interleaved, from, to int, t1, t2 int64) {
	for t := t1; t < t2; t++ {
		base := int(t&b.mask) * b.channels
		copy(b.data[base+from:base+to], src.data[base+from:base+to])
	}
}
