// Package ringchan provides a bounded channel that drops the oldest element
// instead of blocking the producer.
package ringchan

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Writers use Send or TrySend. Readers range over C() like a normal channel.
type RingChannel[T any] struct {
	ch      chan T
	written atomic.Int64
	dropped atomic.Int64
}

// New creates a RingChannel with the given capacity
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element when full.
// It never blocks and reports whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Written returns how many elements were accepted
func (rc *RingChannel[T]) Written() int64 {
	return rc.written.Load()
}

// Dropped returns how many elements were discarded to make room
func (rc *RingChannel[T]) Dropped() int64 {
	return rc.dropped.Load()
}

// Close closes the underlying channel. Send panics afterwards.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
