package asyncval

import "context"

// View is a read-only surface over a derived [AsyncValue], produced by
// [OpenTransform], [Compose2], [Compose3], or [ComposeValues]. It supports
// the waiting side of the AsyncValue API but not Set; the value changes only
// when a source changes.
type View[T comparable] struct {
	av *AsyncValue[T]
}

// Value returns the current derived value.
func (v *View[T]) Value() T {
	return v.av.Value()
}

// WaitValue suspends until the derived value matches pred.
// See [AsyncValue.WaitValue].
func (v *View[T]) WaitValue(ctx context.Context, pred Predicate[T], opts ...WaitOption) (T, error) {
	return v.av.WaitValue(ctx, pred, opts...)
}

// WaitValueEqual suspends until the derived value equals x.
func (v *View[T]) WaitValueEqual(ctx context.Context, x T, opts ...WaitOption) (T, error) {
	return v.av.WaitValueEqual(ctx, x, opts...)
}

// WaitTransition suspends until the next matching transition of the derived
// value. See [AsyncValue.WaitTransition].
func (v *View[T]) WaitTransition(ctx context.Context, pred TransitionPredicate[T]) (Transition[T], error) {
	return v.av.WaitTransition(ctx, pred)
}

// EventualValues returns a coalescing stream over the derived value.
// See [AsyncValue.EventualValues].
func (v *View[T]) EventualValues(pred Predicate[T]) *Stream[T] {
	return v.av.EventualValues(pred)
}

// Transitions returns an ordered transition stream over the derived value.
// See [AsyncValue.Transitions].
func (v *View[T]) Transitions(pred TransitionPredicate[T]) *Stream[Transition[T]] {
	return v.av.Transitions(pred)
}

// OpenTransform derives a read-only [View] whose value is f(source),
// recomputed synchronously on every source change. The initial value is
// f applied to the source's current value, captured atomically with the
// subscription so no intervening Set is missed.
//
// The returned release function deregisters the subscription; call it
// (typically via defer) on every exit path. OpenTransform panics if f is
// nil.
func OpenTransform[T, U comparable](src *AsyncValue[T], f func(T) U) (*View[U], func()) {
	if f == nil {
		panic("asyncval: OpenTransform requires a non-nil transform")
	}

	src.mu.Lock()
	out := NewAsyncValue(f(src.value))
	sub := &transformSub[T]{apply: func(v T) { out.Set(f(v)) }}
	src.transforms = append(src.transforms, sub)
	src.mu.Unlock()

	release := func() { src.removeTransform(sub) }
	return &View[U]{av: out}, release
}
