package rawio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/cwbudde/algo-salpa/internal/testutil"
)

func TestReadFrames(t *testing.T) {
	samples := []int16{1, -2, 300, -32768, 32767, 0}
	r, err := NewReader(bytes.NewReader(testutil.EncodeLE(samples)), 2)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]int16, 4)
	n, err := r.ReadFrames(dst)
	if err != nil || n != 2 {
		t.Fatalf("first read: n=%d err=%v", n, err)
	}
	testutil.RequireEqualSamples(t, dst, samples[:4])

	n, err = r.ReadFrames(dst)
	if !errors.Is(err, io.EOF) || n != 1 {
		t.Fatalf("second read: n=%d err=%v", n, err)
	}
	testutil.RequireEqualSamples(t, dst[:2], samples[4:])

	n, err = r.ReadFrames(dst)
	if !errors.Is(err, io.EOF) || n != 0 {
		t.Fatalf("third read: n=%d err=%v", n, err)
	}
}

func TestReadFramesPartial(t *testing.T) {
	raw := testutil.EncodeLE([]int16{1, 2, 3, 4, 5})
	r, err := NewReader(bytes.NewReader(raw), 2)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]int16, 8)
	n, err := r.ReadFrames(dst)
	if !errors.Is(err, ErrPartialFrame) {
		t.Fatalf("expected ErrPartialFrame, got %v", err)
	}
	if n != 2 {
		t.Fatalf("frames: got %d want 2", n)
	}
}

func TestReadFramesSlowReader(t *testing.T) {
	samples := testutil.Quantize(testutil.DeterministicNoise(1, 1000, 64))
	r, err := NewReader(iotest.OneByteReader(bytes.NewReader(testutil.EncodeLE(samples))), 4)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]int16, 64)
	n, err := r.ReadFrames(dst)
	if err != nil || n != 16 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	testutil.RequireEqualSamples(t, dst, samples)
}

func TestReadFramesError(t *testing.T) {
	r, err := NewReader(iotest.ErrReader(errors.New("boom")), 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadFrames(make([]int16, 4)); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestWriteFrames(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 3)
	if err != nil {
		t.Fatal(err)
	}
	samples := []int16{-1, 0, 1, 1000, -1000, 7}
	if err := w.WriteFrames(samples); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), testutil.EncodeLE(samples)) {
		t.Fatalf("encoded %x", buf.Bytes())
	}
	if err := w.WriteFrames(samples[:4]); err == nil {
		t.Fatal("expected error for partial frame")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := NewReader(nil, 0); err == nil {
		t.Fatal("reader accepted zero channels")
	}
	if _, err := NewWriter(nil, -1); err == nil {
		t.Fatal("writer accepted negative channels")
	}
}

func roundTrip(t *testing.T, name string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	samples := testutil.Quantize(testutil.GaussianNoise(4, 3000, 4*1000))

	out, err := CreateOutput(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWriter(out, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrames(samples); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	in, err := OpenInput(path)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	r, err := NewReader(in, 4)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]int16, len(samples)+4)
	n, err := r.ReadFrames(got)
	if !errors.Is(err, io.EOF) || n != 1000 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	testutil.RequireEqualSamples(t, got[:len(samples)], samples)
}

func TestRoundTripPlain(t *testing.T) {
	roundTrip(t, "rec.raw")
}

func TestRoundTripZstd(t *testing.T) {
	roundTrip(t, "rec.raw.zst")
}

func TestZstdIsCompressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zeros.zst")
	out, err := CreateOutput(path)
	if err != nil {
		t.Fatal(err)
	}
	w, _ := NewWriter(out, 1)
	if err := w.WriteFrames(make([]int16, 1<<16)); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() >= 1<<17 {
		t.Fatalf("compressed size %d not smaller than raw", fi.Size())
	}
}

func TestOpenInputMissing(t *testing.T) {
	if _, err := OpenInput(filepath.Join(t.TempDir(), "nope.raw")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestStdio(t *testing.T) {
	for _, p := range []string{"", "-"} {
		in, err := OpenInput(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := in.Close(); err != nil {
			t.Fatal(err)
		}
		out, err := CreateOutput(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := out.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSkip(t *testing.T) {
	samples := []int16{0, 1, 2, 3, 4, 5, 6, 7}
	raw := testutil.EncodeLE(samples)

	tests := []struct {
		name string
		r    io.Reader
	}{
		{"seeker", bytes.NewReader(raw)},
		{"stream", iotest.HalfReader(bytes.NewBuffer(raw))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := Skip(tc.r, 3, 2); err != nil {
				t.Fatal(err)
			}
			r, _ := NewReader(tc.r, 2)
			dst := make([]int16, 2)
			if n, err := r.ReadFrames(dst); err != nil || n != 1 {
				t.Fatalf("n=%d err=%v", n, err)
			}
			testutil.RequireEqualSamples(t, dst, samples[6:])
		})
	}
}

func TestSkipPastEnd(t *testing.T) {
	r := iotest.HalfReader(bytes.NewBuffer(testutil.EncodeLE([]int16{1, 2})))
	if err := Skip(r, 5, 1); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
	if err := Skip(r, 0, 1); err != nil {
		t.Fatal(err)
	}
}
