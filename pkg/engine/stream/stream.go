// Package stream provides the single-consumer stream-channel primitive used by
// the session engine to deliver per-generation output (text, audio frames,
// function calls) to the host application.
package stream

import "sync"

// Stream is an unbounded write side with a single lazily-started read side.
// Writers never block. The read side replays everything written so far and then
// follows live writes until Close.
type Stream[T any] struct {
	mu      sync.Mutex
	buf     []T
	closed  bool
	started bool
	wake    chan struct{}
	out     chan T
}

// New creates an empty open stream.
func New[T any]() *Stream[T] {
	return &Stream[T]{wake: make(chan struct{}, 1)}
}

// Write appends a value. Returns false if the stream is already closed, in
// which case the value is discarded.
func (s *Stream[T]) Write(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.buf = append(s.buf, v)
	s.mu.Unlock()
	s.signal()
	return true
}

// Out returns the receive side. It may be called once; the returned channel
// yields every value written before and after the call, in order, and is
// closed after Close once the backlog drains. Subsequent calls return the same
// channel.
func (s *Stream[T]) Out() <-chan T {
	s.mu.Lock()
	if s.started {
		out := s.out
		s.mu.Unlock()
		return out
	}
	s.started = true
	s.out = make(chan T)
	out := s.out
	s.mu.Unlock()

	go s.drain(out)
	return out
}

func (s *Stream[T]) drain(out chan T) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			v := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			out <- v
			continue
		}
		if s.closed {
			s.mu.Unlock()
			close(out)
			return
		}
		s.mu.Unlock()
		<-s.wake
	}
}

// Close seals the stream. Idempotent. Values already written remain readable.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

// Closed reports whether Close has been called.
func (s *Stream[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Len returns the number of values written but not yet consumed.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Stream[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
