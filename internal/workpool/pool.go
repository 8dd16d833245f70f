// Package workpool runs units of work on a fixed set of goroutines fed by a
// bounded queue, with a barrier that joins everything submitted so far.
package workpool

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("workpool: pool is closed")

// Unit is one unit of work. A non-nil error is reported by the next Barrier.
type Unit func() error

// Pool is a fixed-size worker pool. Submit, Barrier and Close must be called
// from a single goroutine.
type Pool struct {
	queue   chan Unit
	workers errgroup.Group
	pending sync.WaitGroup

	mu  sync.Mutex
	err error

	closed bool
}

// New starts workers goroutines that drain a queue of the given capacity.
func New(workers, queue int) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("workpool: workers must be >= 1: %d", workers)
	}
	if queue < 0 {
		return nil, fmt.Errorf("workpool: queue length must be >= 0: %d", queue)
	}
	p := &Pool{queue: make(chan Unit, queue)}
	for i := 0; i < workers; i++ {
		p.workers.Go(p.work)
	}
	return p, nil
}

func (p *Pool) work() error {
	for u := range p.queue {
		p.run(u)
	}
	return nil
}

func (p *Pool) run(u Unit) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.fail(fmt.Errorf("workpool: unit panicked: %v", r))
		}
	}()
	if err := u(); err != nil {
		p.fail(err)
	}
}

func (p *Pool) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// Submit enqueues u, blocking while the queue is full.
func (p *Pool) Submit(u Unit) error {
	if p.closed {
		return ErrClosed
	}
	p.pending.Add(1)
	p.queue <- u
	return nil
}

// Barrier blocks until every unit submitted before the call has completed
// and returns the first error reported since the previous barrier.
func (p *Pool) Barrier() error {
	p.pending.Wait()
	p.mu.Lock()
	err := p.err
	p.err = nil
	p.mu.Unlock()
	return err
}

// Close waits for outstanding work, stops the workers and returns any error
// not yet collected by Barrier. Close is idempotent.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.queue)
	if err := p.workers.Wait(); err != nil {
		return err
	}
	return p.Barrier()
}
