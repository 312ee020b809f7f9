package asyncval

import "context"

// eventStamp is the internal state of a RepeatedEvent: a trigger counter
// plus the payload of the most recent trigger. The counter makes every
// trigger a distinct transition even when payloads repeat.
type eventStamp[T comparable] struct {
	seq     uint64
	payload T
}

// RepeatedEvent is a repeatable multi-listener trigger. Unlike a one-shot
// signal it can fire any number of times; each listener observes triggers
// independently. Overlapping triggers before a listener consumes collapse
// to the latest one, so listener memory is bounded and a listener is never
// permanently behind.
type RepeatedEvent[T comparable] struct {
	stamp *AsyncValue[eventStamp[T]]
}

// NewRepeatedEvent creates an event that has never been triggered.
func NewRepeatedEvent[T comparable](opts ...Option) *RepeatedEvent[T] {
	return &RepeatedEvent[T]{
		stamp: NewAsyncValue(eventStamp[T]{}, opts...),
	}
}

// Trigger fires the event with a payload, waking every current listener
// before returning.
func (e *RepeatedEvent[T]) Trigger(v T) {
	e.stamp.Update(func(s eventStamp[T]) eventStamp[T] {
		return eventStamp[T]{seq: s.seq + 1, payload: v}
	})
}

// Wait suspends until the next trigger after the call and returns its
// payload. The listener is deregistered on every exit path, including
// cancellation.
func (e *RepeatedEvent[T]) Wait(ctx context.Context) (T, error) {
	token := e.token()
	s, err := e.stamp.WaitValue(ctx, after[T](token))
	if err != nil {
		var zero T
		return zero, err
	}
	return s.payload, nil
}

// UnqueuedEvents returns an infinite stream of trigger payloads starting
// after the call. A listener busy between triggers observes only the most
// recent one; intermediate triggers are skipped, never queued.
//
// Close the stream to deregister the listener.
func (e *RepeatedEvent[T]) UnqueuedEvents() *Stream[T] {
	return e.payloads(after[T](e.token()))
}

// Events returns an infinite stream of trigger payloads with the same
// coalescing guarantee as [AsyncValue.EventualValues]: the listener always
// eventually observes the latest trigger, though it may skip intermediates.
// With [WithReplay], the most recent trigger before the call, if any, is
// delivered first.
//
// Close the stream to deregister the listener.
func (e *RepeatedEvent[T]) Events(opts ...EventOption) *Stream[T] {
	var ec eventConfig
	for _, opt := range opts {
		opt(&ec)
	}
	token := e.token()
	if ec.replay && token > 0 {
		token--
	}
	return e.payloads(after[T](token))
}

// EventOption configures a [RepeatedEvent.Events] stream.
type EventOption func(*eventConfig)

type eventConfig struct {
	replay bool
}

// WithReplay delivers the most recent pre-existing trigger, if any, as the
// stream's first value.
func WithReplay() EventOption {
	return func(c *eventConfig) {
		c.replay = true
	}
}

func (e *RepeatedEvent[T]) token() uint64 {
	return e.stamp.Value().seq
}

func (e *RepeatedEvent[T]) payloads(pred Predicate[eventStamp[T]]) *Stream[T] {
	src := e.stamp.EventualValues(pred)
	return Map(src, func(_ context.Context, s eventStamp[T]) (T, error) {
		return s.payload, nil
	})
}

// after matches stamps strictly newer than token.
func after[T comparable](token uint64) Predicate[eventStamp[T]] {
	return func(s eventStamp[T]) bool { return s.seq > token }
}
