package asyncval

import (
	"context"
	"io"
)

// levelSub is a coalescing subscription: at most one pending unread value.
// A newer matching value overwrites the pending one, so buffering is bounded
// regardless of consumer speed and the latest match is always eventually
// delivered. All fields except ready are guarded by the owner's mutex;
// publish runs under it.
type levelSub[T comparable] struct {
	owner *AsyncValue[T]
	pred  Predicate[T]

	slot   T
	full   bool
	closed bool

	ready chan struct{} // cap 1, wake token
}

func (s *levelSub[T]) publish(v, _ T) {
	if !s.pred(v) {
		return
	}
	s.slot = v
	s.full = true
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *levelSub[T]) next(ctx context.Context) (T, error) {
	for {
		s.owner.mu.Lock()
		if s.full {
			v := s.slot
			s.full = false
			s.owner.mu.Unlock()
			return v, nil
		}
		closed := s.closed
		s.owner.mu.Unlock()

		var zero T
		if closed {
			return zero, io.EOF
		}
		select {
		case <-s.ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (s *levelSub[T]) close() {
	s.owner.mu.Lock()
	s.closed = true
	s.owner.mu.Unlock()
	s.owner.removeSub(s)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// edgeSub is an ordered subscription: every matching transition is queued
// and delivered in order. The backlog is unbounded; a lagging consumer is
// the caller's responsibility. Guarded like levelSub.
type edgeSub[T comparable] struct {
	owner *AsyncValue[T]
	pred  TransitionPredicate[T]

	queue  []Transition[T]
	closed bool

	ready chan struct{}
}

func (s *edgeSub[T]) publish(v, old T) {
	if s.pred != nil && !s.pred(v, old) {
		return
	}
	s.queue = append(s.queue, Transition[T]{Value: v, Old: old})
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *edgeSub[T]) next(ctx context.Context) (Transition[T], error) {
	for {
		s.owner.mu.Lock()
		if len(s.queue) > 0 {
			tr := s.queue[0]
			s.queue = s.queue[1:]
			if len(s.queue) == 0 {
				s.queue = nil
			}
			s.owner.mu.Unlock()
			return tr, nil
		}
		closed := s.closed
		s.owner.mu.Unlock()

		if closed {
			return Transition[T]{}, io.EOF
		}
		select {
		case <-s.ready:
		case <-ctx.Done():
			return Transition[T]{}, ctx.Err()
		}
	}
}

func (s *edgeSub[T]) close() {
	s.owner.mu.Lock()
	s.closed = true
	s.owner.mu.Unlock()
	s.owner.removeSub(s)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// EventualValues returns an infinite stream of values matching pred with
// single-slot coalescing: a slow consumer skips intermediate values but
// always eventually observes the latest match. The first value is the
// current one if it already matches, otherwise the first future match.
// A nil pred matches every value.
//
// Each call returns an independent stream with fresh state. Close the
// stream to deregister its subscription.
func (a *AsyncValue[T]) EventualValues(pred Predicate[T]) *Stream[T] {
	if pred == nil {
		pred = Any[T]()
	}
	sub := &levelSub[T]{owner: a, pred: pred, ready: make(chan struct{}, 1)}

	a.mu.Lock()
	a.subs = append(a.subs, sub)
	if pred(a.value) {
		sub.slot = a.value
		sub.full = true
	}
	a.mu.Unlock()

	return &Stream[T]{next: sub.next, stop: sub.close}
}

// Transitions returns an infinite stream of (new, old) transitions matching
// pred, delivered in order with no coalescing: every matching transition is
// queued, and an unbounded backlog is the consumer's responsibility. A nil
// pred matches every transition. The current value is never delivered; only
// subsequent Sets are.
//
// Close the stream to deregister its subscription.
func (a *AsyncValue[T]) Transitions(pred TransitionPredicate[T]) *Stream[Transition[T]] {
	sub := &edgeSub[T]{owner: a, pred: pred, ready: make(chan struct{}, 1)}

	a.mu.Lock()
	a.subs = append(a.subs, sub)
	a.mu.Unlock()

	return &Stream[Transition[T]]{next: sub.next, stop: sub.close}
}
