// Package framebuf holds the latest frame of a stream until a consumer takes it.
package framebuf

import (
	"sync"
	"sync/atomic"
)

// Slot is a single-value buffer where Put always wins: a new value replaces
// whatever the consumer has not taken yet. Put and Take may be called from
// different goroutines.
type Slot[T any] struct {
	mu    sync.Mutex
	val   T
	full  bool
	ready chan struct{}

	puts    atomic.Int64
	dropped atomic.Int64
}

// NewSlot creates an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ready: make(chan struct{}, 1)}
}

// Put stores v, overwriting any value not yet taken. It reports whether a
// held value was replaced.
func (s *Slot[T]) Put(v T) (replaced bool) {
	s.mu.Lock()
	if s.full {
		s.dropped.Add(1)
		replaced = true
	}
	s.val = v
	s.full = true
	s.mu.Unlock()

	s.puts.Add(1)

	select {
	case s.ready <- struct{}{}:
	default:
		// A notification is already pending
	}
	return replaced
}

// Take removes and returns the held value. ok is false if the slot is empty.
func (s *Slot[T]) Take() (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		return v, false
	}
	v = s.val
	var zero T
	s.val = zero
	s.full = false
	return v, true
}

// Peek returns the held value without removing it.
func (s *Slot[T]) Peek() (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val, s.full
}

// Full reports whether a value is waiting.
func (s *Slot[T]) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full
}

// Clear drops the held value, if any.
func (s *Slot[T]) Clear() {
	s.Take()
}

// Ready receives after every Put. Notifications coalesce, so a receive means
// "check the slot", not "exactly one new value".
func (s *Slot[T]) Ready() <-chan struct{} {
	return s.ready
}

// Stats returns slot statistics.
func (s *Slot[T]) Stats() Stats {
	return Stats{
		Puts:    s.puts.Load(),
		Dropped: s.dropped.Load(),
	}
}

// Dropped returns how many values were overwritten before being taken.
func (s *Slot[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Stats contains slot statistics.
type Stats struct {
	Puts    int64 `json:"puts"`
	Dropped int64 `json:"dropped"`
}
