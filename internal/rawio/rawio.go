// Package rawio reads and writes headerless recordings: little-endian int16
// samples, interleaved frame by frame. Paths ending in .zst are transparently
// zstd compressed; "" and "-" name the standard streams.
package rawio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrPartialFrame is returned when the input ends inside a frame.
var ErrPartialFrame = errors.New("rawio: input ends with a partial frame")

const bytesPerSample = 2

func isStdio(path string) bool {
	return path == "" || path == "-"
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// OpenInput opens a recording for reading.
func OpenInput(path string) (io.ReadCloser, error) {
	if isStdio(path) {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rawio: open input: %w", err)
	}
	if !isCompressed(path) {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rawio: zstd reader for %s: %w", path, err)
	}
	return readCloser{Reader: dec, close: func() error {
		dec.Close()
		return f.Close()
	}}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type writeCloser struct {
	io.Writer
	close func() error
}

func (w writeCloser) Close() error { return w.close() }

// CreateOutput creates or truncates a recording for writing. Close must be
// called to flush a compressed stream.
func CreateOutput(path string) (io.WriteCloser, error) {
	if isStdio(path) {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rawio: create output: %w", err)
	}
	if !isCompressed(path) {
		return f, nil
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rawio: zstd writer for %s: %w", path, err)
	}
	return writeCloser{Writer: enc, close: func() error {
		if err := enc.Close(); err != nil {
			_ = f.Close()
			return fmt.Errorf("rawio: finish %s: %w", path, err)
		}
		return f.Close()
	}}, nil
}

// Reader decodes whole frames.
type Reader struct {
	r        io.Reader
	channels int
	buf      []byte
}

// NewReader returns a frame reader for the given channel count.
func NewReader(r io.Reader, channels int) (*Reader, error) {
	if channels < 1 {
		return nil, fmt.Errorf("rawio: channels must be >= 1: %d", channels)
	}
	return &Reader{r: r, channels: channels}, nil
}

// ReadFrames fills dst with as many whole frames as fit, reading until dst
// is full or the input ends. It returns the number of frames decoded. When
// the input ends early err is io.EOF, or wraps ErrPartialFrame if the last
// frame is incomplete; in both cases the frames before it are valid.
func (r *Reader) ReadFrames(dst []int16) (int, error) {
	want := len(dst) / r.channels
	frameBytes := r.channels * bytesPerSample
	if cap(r.buf) < want*frameBytes {
		r.buf = make([]byte, want*frameBytes)
	}
	buf := r.buf[:want*frameBytes]
	n, err := io.ReadFull(r.r, buf)
	frames := n / frameBytes
	for i := 0; i < frames*r.channels; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(buf[bytesPerSample*i:]))
	}
	switch {
	case err == nil:
		return frames, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if n%frameBytes != 0 {
			return frames, fmt.Errorf("%w: %d trailing bytes", ErrPartialFrame, n%frameBytes)
		}
		return frames, io.EOF
	default:
		return frames, fmt.Errorf("rawio: read frames: %w", err)
	}
}

// Writer encodes whole frames.
type Writer struct {
	w        io.Writer
	channels int
	buf      []byte
}

// NewWriter returns a frame writer for the given channel count.
func NewWriter(w io.Writer, channels int) (*Writer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("rawio: channels must be >= 1: %d", channels)
	}
	return &Writer{w: w, channels: channels}, nil
}

// WriteFrames writes src, whose length must be a whole number of frames.
func (w *Writer) WriteFrames(src []int16) error {
	if len(src)%w.channels != 0 {
		return fmt.Errorf("rawio: %d samples is not a whole number of %d-channel frames", len(src), w.channels)
	}
	if cap(w.buf) < len(src)*bytesPerSample {
		w.buf = make([]byte, len(src)*bytesPerSample)
	}
	buf := w.buf[:len(src)*bytesPerSample]
	for i, v := range src {
		binary.LittleEndian.PutUint16(buf[bytesPerSample*i:], uint16(v))
	}
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("rawio: write frames: %w", err)
	}
	return nil
}

// Skip advances r past the given number of frames. Seekable inputs seek;
// everything else is read and discarded.
func Skip(r io.Reader, frames int64, channels int) error {
	n := frames * int64(channels) * bytesPerSample
	if n <= 0 {
		return nil
	}
	if s, ok := r.(io.Seeker); ok {
		if _, err := s.Seek(n, io.SeekCurrent); err == nil {
			return nil
		}
	}
	got, err := io.CopyN(io.Discard, r, n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("rawio: skip %d frames: input ends after %d bytes: %w", frames, got, io.ErrUnexpectedEOF)
		}
		return fmt.Errorf("rawio: skip %d frames: %w", frames, err)
	}
	return nil
}
