package workpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(0, 4)
	require.Error(t, err)
	_, err = New(2, -1)
	require.Error(t, err)
}

func TestBarrierJoinsAllUnits(t *testing.T) {
	p, err := New(4, 2)
	require.NoError(t, err)
	defer p.Close()

	for round := 0; round < 5; round++ {
		var done atomic.Int64
		for i := 0; i < 100; i++ {
			require.NoError(t, p.Submit(func() error {
				time.Sleep(time.Microsecond)
				done.Add(1)
				return nil
			}))
		}
		require.NoError(t, p.Barrier())
		require.EqualValues(t, 100, done.Load(), "round %d", round)
	}
}

func TestDisjointSlices(t *testing.T) {
	p, err := New(3, 0)
	require.NoError(t, err)
	defer p.Close()

	out := make([]int, 1000)
	for lo := 0; lo < len(out); lo += 100 {
		lo := lo
		require.NoError(t, p.Submit(func() error {
			for i := lo; i < lo+100; i++ {
				out[i] = i * i
			}
			return nil
		}))
	}
	require.NoError(t, p.Barrier())
	for i, v := range out {
		require.Equal(t, i*i, v)
	}
}

func TestFirstErrorSinceBarrier(t *testing.T) {
	p, err := New(1, 8)
	require.NoError(t, err)
	defer p.Close()

	first := errors.New("first")
	require.NoError(t, p.Submit(func() error { return first }))
	require.NoError(t, p.Submit(func() error { return errors.New("second") }))
	require.ErrorIs(t, p.Barrier(), first)

	require.NoError(t, p.Submit(func() error { return nil }))
	require.NoError(t, p.Barrier(), "error must not leak into the next barrier")
}

func TestPanicBecomesError(t *testing.T) {
	p, err := New(2, 1)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Submit(func() error { panic("boom") }))
	err = p.Barrier()
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestConcurrencyBounded(t *testing.T) {
	const workers = 3
	p, err := New(workers, 10)
	require.NoError(t, err)
	defer p.Close()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		release = make(chan struct{})
		started = make(chan struct{}, 20)
	)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() error {
			mu.Lock()
			running++
			maxSeen = max(maxSeen, running)
			mu.Unlock()
			started <- struct{}{}
			<-release
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}))
	}
	for i := 0; i < workers; i++ {
		<-started
	}
	close(release)
	require.NoError(t, p.Barrier())
	require.Equal(t, workers, maxSeen)
}

func TestClose(t *testing.T) {
	p, err := New(2, 2)
	require.NoError(t, err)

	var done atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() error {
			done.Add(1)
			return nil
		}))
	}
	require.NoError(t, p.Close())
	require.EqualValues(t, 10, done.Load())
	require.ErrorIs(t, p.Submit(func() error { return nil }), ErrClosed)
	require.NoError(t, p.Close())
}

func TestCloseReportsUncollectedError(t *testing.T) {
	p, err := New(1, 1)
	require.NoError(t, err)
	boom := errors.New("boom")
	require.NoError(t, p.Submit(func() error { return boom }))
	require.ErrorIs(t, p.Close(), boom)
}
