// Package ringchan provides a bounded mailbox that never blocks its producers.
//
// The drive console uses it to hand listener callbacks, which arrive on
// scanner and event pump goroutines, to its single UI loop.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a buffered channel with overwrite-oldest semantics.
//
//	rc := ringchan.New[string](3)
//	for _, s := range []string{"a", "b", "c", "d"} {
//	    rc.Send(s)
//	}
//	// "b", "c", "d" remain; "a" was dropped
//
// Any number of producers may call Send concurrently. Consumers read C().
type RingChannel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a RingChannel with the given capacity
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send enqueues v, discarding the oldest element when full. It reports
// whether an element was discarded. Sends after Close are ignored.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.sent.Add(1)
			return dropped
		default:
		}

		// the consumer may have drained it meanwhile
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// Len returns the number of buffered elements
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the capacity
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the receive side. Safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Stats is a snapshot of the channel counters
type Stats struct {
	Sent    int64
	Dropped int64
}

// Stats returns how many elements were accepted and how many were overwritten
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{Sent: rc.sent.Load(), Dropped: rc.dropped.Load()}
}
