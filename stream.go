package asyncval

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrTooSlow is returned by streams wrapped with [Stream.FailAfter] when a
// single iteration exceeds its deadline.
var ErrTooSlow = errors.New("asyncval: iteration timed out")

// Stream is a pull-based, lazy sequence of values. Streams produced by
// [AsyncValue.EventualValues], [AsyncValue.Transitions], and
// [RepeatedEvent.Events] are infinite and hold a live subscription on their
// source; call [Stream.Close] to release it.
//
// Streams are single-consumer: Next must not be called concurrently.
type Stream[T any] struct {
	next func(ctx context.Context) (T, error)
	stop func()

	stopOnce sync.Once
}

// NewStream creates a stream from an iterator function. The function
// returns io.EOF to end the stream.
func NewStream[T any](next func(ctx context.Context) (T, error)) *Stream[T] {
	return &Stream[T]{next: next}
}

// FromSlice creates a finite stream over the given items.
func FromSlice[T any](items []T) *Stream[T] {
	var idx int
	return NewStream(func(ctx context.Context) (T, error) {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		if idx >= len(items) {
			var zero T
			return zero, io.EOF
		}
		v := items[idx]
		idx++
		return v, nil
	})
}

// Next returns the next value. It blocks until a value is available, the
// stream ends (io.EOF), or ctx is done (ctx.Err()).
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	return s.next(ctx)
}

// Close releases the stream's subscription on its source, if any. After
// Close, pending buffered values may still be consumed; once drained, Next
// returns io.EOF. Close is idempotent.
func (s *Stream[T]) Close() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Filter returns a stream of the values matching fn.
func (s *Stream[T]) Filter(fn func(T) bool) *Stream[T] {
	return &Stream[T]{
		next: func(ctx context.Context) (T, error) {
			for {
				v, err := s.Next(ctx)
				if err != nil {
					return v, err
				}
				if fn(v) {
					return v, nil
				}
			}
		},
		stop: s.Close,
	}
}

// Take limits the stream to n values, then closes the source.
func (s *Stream[T]) Take(n int) *Stream[T] {
	var idx int
	return &Stream[T]{
		next: func(ctx context.Context) (T, error) {
			if idx >= n {
				s.Close()
				var zero T
				return zero, io.EOF
			}
			v, err := s.Next(ctx)
			if err != nil {
				return v, err
			}
			idx++
			return v, nil
		},
		stop: s.Close,
	}
}

// MoveOnAfter bounds each iteration by d. A Next call that exceeds the
// deadline ends the stream with io.EOF instead of an error. Cancellation of
// the caller's ctx is still reported as ctx.Err().
func (s *Stream[T]) MoveOnAfter(d time.Duration) *Stream[T] {
	return s.deadlined(d, func() (T, error) {
		var zero T
		return zero, io.EOF
	})
}

// FailAfter bounds each iteration by d. A Next call that exceeds the
// deadline fails the stream with [ErrTooSlow].
func (s *Stream[T]) FailAfter(d time.Duration) *Stream[T] {
	return s.deadlined(d, func() (T, error) {
		var zero T
		return zero, ErrTooSlow
	})
}

func (s *Stream[T]) deadlined(d time.Duration, expired func() (T, error)) *Stream[T] {
	return &Stream[T]{
		next: func(ctx context.Context) (T, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			v, err := s.Next(tctx)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return expired()
			}
			return v, err
		},
		stop: s.Close,
	}
}

// ForEach applies fn to each value until the stream ends or fn fails.
func (s *Stream[T]) ForEach(ctx context.Context, fn func(T) error) error {
	for {
		v, err := s.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// ToSlice collects all values until the stream ends.
func (s *Stream[T]) ToSlice(ctx context.Context) ([]T, error) {
	var items []T
	for {
		v, err := s.Next(ctx)
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, v)
	}
}

// Map transforms a stream using fn.
// Note: this is a function and not a method because Go does not support
// generic methods on generic types.
func Map[A, B any](s *Stream[A], fn func(ctx context.Context, v A) (B, error)) *Stream[B] {
	return &Stream[B]{
		next: func(ctx context.Context) (B, error) {
			v, err := s.Next(ctx)
			if err != nil {
				var zero B
				return zero, err
			}
			return fn(ctx, v)
		},
		stop: s.Close,
	}
}

// Pair holds two values combined by [Zip] or [Compose2].
type Pair[A, B any] struct {
	First  A
	Second B
}

// Zip pairs values from two streams. Both streams are advanced in parallel
// within each Next call, and the pair is emitted once both arrive. The
// resulting stream ends as soon as either input ends; the other input is
// closed at that point.
//
// Zip panics if a or b is nil.
func Zip[A, B any](a *Stream[A], b *Stream[B]) *Stream[Pair[A, B]] {
	if a == nil {
		panic("asyncval: Zip requires a non-nil first stream")
	}
	if b == nil {
		panic("asyncval: Zip requires a non-nil second stream")
	}
	return &Stream[Pair[A, B]]{
		next: func(ctx context.Context) (Pair[A, B], error) {
			var (
				wg     sync.WaitGroup
				va     A
				vb     B
				ea, eb error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				va, ea = a.Next(ctx)
			}()
			go func() {
				defer wg.Done()
				vb, eb = b.Next(ctx)
			}()
			wg.Wait()

			if ea != nil || eb != nil {
				a.Close()
				b.Close()
				var zero Pair[A, B]
				if ea != nil {
					return zero, ea
				}
				return zero, eb
			}
			return Pair[A, B]{First: va, Second: vb}, nil
		},
		stop: func() {
			a.Close()
			b.Close()
		},
	}
}
