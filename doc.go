// Package asyncval provides reactive value synchronization and structured
// race primitives for cooperating goroutines.
//
// The central type is [AsyncValue], a generic container holding a single
// current value. Any number of goroutines can wait on predicates over that
// value without polling and without missing updates: [AsyncValue.Set]
// evaluates every registered waiter's predicate synchronously, before Set
// returns, so a waiter registered before a matching Set is guaranteed to
// observe it even if the value is immediately replaced afterwards.
//
// # Waiting on values
//
// One-shot waits suspend until a value matches:
//
//	v, err := av.WaitValue(ctx, func(v int) bool { return v >= 3 })
//	v, err := av.WaitValueEqual(ctx, 42)
//	tr, err := av.WaitTransition(ctx, nil) // any change
//
// [HeldFor] requires the predicate to remain true for a sustained duration;
// a falsifying Set during the hold restarts the wait:
//
//	v, err := av.WaitValue(ctx, Equals(true), HeldFor(time.Second))
//
// Setting a value equal to the current one is a no-op: it is not a
// transition, wakes no waiters, and does not restart a hold.
//
// # Streams of values
//
// [AsyncValue.EventualValues] returns a [Stream] of matching values with
// single-slot coalescing: a slow consumer skips intermediate values but
// always eventually observes the latest match, and buffering never grows.
// [AsyncValue.Transitions] returns a stream of (new, old) pairs with no
// coalescing: every matching transition is queued in order, and an unbounded
// backlog is the consumer's responsibility. Streams must be closed via
// [Stream.Close] to deregister their subscription.
//
// # Composition and transforms
//
// [Compose2], [Compose3], and [ComposeValues] combine several AsyncValues
// into one read-only [View] that recomputes on every source change.
// Subscriptions to all sources are established before the composite is first
// readable, so no concurrent Set can produce a torn snapshot.
// [OpenTransform] derives a View whose value is f(source). Both return a
// release function that must be called (typically deferred) to unsubscribe.
//
// # Repeated events
//
// [RepeatedEvent] is a multi-listener repeatable trigger. [RepeatedEvent.Wait]
// waits for the next trigger; [RepeatedEvent.Events] and
// [RepeatedEvent.UnqueuedEvents] return streams of trigger payloads.
// Overlapping triggers before a listener consumes collapse to the latest.
//
// # Structured races
//
// Four helpers race or join operations under a shared cancellation scope:
//
//   - [WaitAny]: run all, return when the first completes, cancel the rest.
//   - [WaitAll]: run all to completion, join every failure.
//   - [MoveOnWhen]: run a body until a condition operation completes, then
//     cancel the body and report whether it was in fact interrupted.
//   - [RunAndCancelling]: run a background operation for the duration of a
//     body; tear it down on every exit path, suppressing teardown noise but
//     propagating genuine background failures.
//
// [First] is the typed variant of WaitAny for operations returning a value.
// Failures from concurrently running operations are aggregated via
// [errors.Join] with each one wrapped in [*OpError] for attribution; inspect
// composites with [AllOpErrors], [CauseOf], and [OpOf]. Panics are captured
// as [*PanicError] with stack traces.
//
// The helpers are built on [Scope], a small structured-concurrency task
// group also usable directly: [Run] spawns tasks via [Scope.Go] and joins
// them with [FailFast] or [Collect] error policies.
//
// # Clocks and observability
//
// Time-dependent behavior (held-for timers, [Periodic]) reads the clock
// through [WithClock], a [clockwork.Clock] that tests replace with a fake.
// [WithOnStart] and [WithOnDone] hooks observe scope task lifecycles;
// [LatencyStats] consumes them to report spawn-to-start waits and slow
// operations.
//
// # Hazards
//
// Predicates and transforms run synchronously inside Set under the
// container's lock. They must be fast, side-effect-free, and must not call
// back into the same container; a predicate that panics propagates out of
// the Set call that evaluated it.
package asyncval
