// Package schedule produces forced-peg intervals: stretches of time during
// which every processed channel is blanked regardless of its signal, usually
// because a stimulus is known to be delivered there.
package schedule

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrNotAscending is returned when event times do not strictly increase.
var ErrNotAscending = errors.New("schedule: event times must be strictly ascending")

// Peg is the half-open interval [Start, End) in frames.
type Peg struct {
	Start int64
	End   int64
}

// Len returns the number of frames in the interval.
func (p Peg) Len() int64 {
	return p.End - p.Start
}

// Source yields pegs in ascending order of Start. ok is false once the
// source is exhausted.
type Source interface {
	Next() (peg Peg, ok bool, err error)
}

type none struct{}

func (none) Next() (Peg, bool, error) { return Peg{}, false, nil }

// None returns a source without pegs.
func None() Source {
	return none{}
}

// Periodic is a fixed-rate schedule.
type Periodic struct {
	period int64
	length int64
	next   int64
	done   bool
}

// NewPeriodic returns pegs of the given length starting at delay and
// repeating every period frames. A period <= 0 yields a single peg.
func NewPeriodic(period, delay, length int64) *Periodic {
	return &Periodic{period: period, length: length, next: delay}
}

// Next returns the next peg.
func (p *Periodic) Next() (Peg, bool, error) {
	if p.done {
		return Peg{}, false, nil
	}
	peg := Peg{Start: p.next, End: p.next + p.length}
	if p.period > 0 {
		p.next += p.period
	} else {
		p.done = true
	}
	return peg, true, nil
}

// ParseError reports a malformed token in an event list.
type ParseError struct {
	Index int // zero based token index
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schedule: event %d %q: %v", e.Index, e.Token, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Events reads whitespace-separated start times from a reader, one peg of
// fixed length per time. Times are absolute frame numbers in the unskipped
// recording; the first skip frames are not part of the stream, so every
// time is shifted down by skip and pegs that end before it are dropped.
// Events are read lazily.
type Events struct {
	sc     *bufio.Scanner
	length int64
	skip   int64
	index  int
	last   int64
	err    error
}

// FromReader returns an event source reading r.
func FromReader(r io.Reader, length, skip int64) *Events {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	return &Events{sc: sc, length: length, skip: skip, last: -1}
}

// Next returns the next peg. After an error every further call returns the
// same error.
func (e *Events) Next() (Peg, bool, error) {
	for e.err == nil {
		if !e.sc.Scan() {
			if err := e.sc.Err(); err != nil {
				e.err = fmt.Errorf("schedule: read events: %w", err)
				break
			}
			return Peg{}, false, nil
		}
		tok := e.sc.Text()
		idx := e.index
		e.index++
		t, err := strconv.ParseInt(tok, 10, 64)
		if err == nil && t < 0 {
			err = errors.New("negative time")
		}
		if err != nil {
			e.err = &ParseError{Index: idx, Token: tok, Err: err}
			break
		}
		if t <= e.last {
			e.err = &ParseError{Index: idx, Token: tok, Err: ErrNotAscending}
			break
		}
		e.last = t
		if t+e.length <= e.skip {
			continue
		}
		return Peg{Start: t - e.skip, End: t - e.skip + e.length}, true, nil
	}
	return Peg{}, false, e.err
}
