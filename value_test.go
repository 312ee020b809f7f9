package asyncval

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// waitUntil polls cond until it holds or the deadline lapses.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func mustPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	fn()
}

func (a *AsyncValue[T]) levelWaiters() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.level)
}

func (a *AsyncValue[T]) edgeWaiters() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.edge)
}

func TestWaitValueImmediateMatch(t *testing.T) {
	av := NewAsyncValue(5)
	v, err := av.WaitValue(context.Background(), func(v int) bool { return v >= 3 })
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if v != 5 {
		t.Fatalf("expected 5, got %d", v)
	}
}

// A waiter registered before a burst of Sets resolves with the first
// matching value of the burst, even though it is replaced before the waiter
// goroutine runs.
func TestWaitValueNoMissedMatch(t *testing.T) {
	av := NewAsyncValue(0)

	got := make(chan int, 1)
	go func() {
		v, err := av.WaitValueEqual(context.Background(), 3)
		if err != nil {
			t.Error(err)
		}
		got <- v
	}()

	waitUntil(t, func() bool { return av.levelWaiters() == 1 })

	av.Set(1)
	av.Set(3)
	av.Set(5)

	if v := <-got; v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
}

func TestSetEqualValueIsNoOp(t *testing.T) {
	av := NewAsyncValue(7)

	got := make(chan Transition[int], 1)
	go func() {
		tr, err := av.WaitTransition(context.Background(), nil)
		if err != nil {
			t.Error(err)
		}
		got <- tr
	}()

	waitUntil(t, func() bool { return av.edgeWaiters() == 1 })

	// Broadcast completes before Set returns, so an equal-value Set that
	// woke the waiter would be visible here as an empty registry.
	av.Set(7)
	if n := av.edgeWaiters(); n != 1 {
		t.Fatalf("equal-value Set woke a transition waiter (registry size %d)", n)
	}

	av.Set(8)
	tr := <-got
	if tr.Value != 8 || tr.Old != 7 {
		t.Fatalf("expected transition 7 -> 8, got %d -> %d", tr.Old, tr.Value)
	}
}

func TestWaitTransitionPredicate(t *testing.T) {
	av := NewAsyncValue(0)

	got := make(chan Transition[int], 1)
	go func() {
		tr, err := av.WaitTransition(context.Background(), ToValue(3))
		if err != nil {
			t.Error(err)
		}
		got <- tr
	}()

	waitUntil(t, func() bool { return av.edgeWaiters() == 1 })

	av.Set(1)
	av.Set(3)

	tr := <-got
	if tr.Value != 3 || tr.Old != 1 {
		t.Fatalf("expected transition 1 -> 3, got %d -> %d", tr.Old, tr.Value)
	}
}

// Cancelled waits leave no stale registrations behind.
func TestWaitValueCancelDeregisters(t *testing.T) {
	av := NewAsyncValue(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := av.WaitValueEqual(ctx, 99)
		done <- err
	}()

	waitUntil(t, func() bool { return av.levelWaiters() == 1 })
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := av.levelWaiters(); n != 0 {
		t.Fatalf("expected empty registry after cancellation, got %d waiters", n)
	}

	// Further Sets must not resolve anything stale.
	av.Set(99)
	if n := av.levelWaiters(); n != 0 {
		t.Fatalf("stale waiter resurfaced: %d", n)
	}
}

func TestWaitTransitionCancelDeregisters(t *testing.T) {
	av := NewAsyncValue(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := av.WaitTransition(ctx, nil)
		done <- err
	}()

	waitUntil(t, func() bool { return av.edgeWaiters() == 1 })
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := av.edgeWaiters(); n != 0 {
		t.Fatalf("expected empty registry after cancellation, got %d waiters", n)
	}
}

// A hold only resolves if the predicate stays true for the full duration;
// a falsifying Set restarts the wait from scratch.
func TestHeldForRestartsOnFalsify(t *testing.T) {
	fc := clockwork.NewFakeClock()
	av := NewAsyncBool(WithClock(fc))

	got := make(chan bool, 1)
	go func() {
		v, err := av.WaitValueEqual(context.Background(), true, HeldFor(50*time.Millisecond))
		if err != nil {
			t.Error(err)
		}
		got <- v
	}()

	waitUntil(t, func() bool { return av.levelWaiters() == 1 })

	av.Set(true)
	fc.BlockUntil(1) // hold timer armed

	fc.Advance(30 * time.Millisecond)
	av.Set(false) // falsify mid-hold

	// Back to waiting for a fresh match, with the old timer stopped.
	waitUntil(t, func() bool { return av.levelWaiters() == 1 })

	av.Set(true)
	fc.BlockUntil(1)

	select {
	case <-got:
		t.Fatal("hold resolved before the duration elapsed")
	default:
	}

	fc.Advance(50 * time.Millisecond)
	if v := <-got; v != true {
		t.Fatalf("expected true, got %v", v)
	}
	if n := av.levelWaiters(); n != 0 {
		t.Fatalf("expected empty registry after resolution, got %d waiters", n)
	}
}

func TestHeldForImmediateMatch(t *testing.T) {
	fc := clockwork.NewFakeClock()
	av := NewAsyncValue(10, WithClock(fc))

	got := make(chan int, 1)
	go func() {
		v, err := av.WaitValue(context.Background(), func(v int) bool { return v >= 10 }, HeldFor(time.Second))
		if err != nil {
			t.Error(err)
		}
		got <- v
	}()

	// The current value already matches, so only the hold remains.
	fc.BlockUntil(1)
	fc.Advance(time.Second)

	if v := <-got; v != 10 {
		t.Fatalf("expected 10, got %d", v)
	}
}

func TestHeldForCancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	av := NewAsyncValue(1, WithClock(fc))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := av.WaitValueEqual(ctx, 1, HeldFor(time.Minute))
		done <- err
	}()

	fc.BlockUntil(1)
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := av.levelWaiters(); n != 0 {
		t.Fatalf("expected empty registry after cancellation, got %d waiters", n)
	}
}

func TestUpdate(t *testing.T) {
	av := NewAsyncValue(1)
	if v := av.Update(func(v int) int { return v + 1 }); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
	if v := av.Value(); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
}

func TestPredicateHelpers(t *testing.T) {
	if !Equals(3)(3) || Equals(3)(4) {
		t.Fatal("Equals misbehaves")
	}
	if !Any[int]()(42) {
		t.Fatal("Any misbehaves")
	}
	if Not(Equals(3))(3) || !Not(Equals(3))(4) {
		t.Fatal("Not misbehaves")
	}
	if !AnyTransition[int]()(1, 2) {
		t.Fatal("AnyTransition misbehaves")
	}
	if !ToValue(3)(3, 1) || ToValue(3)(1, 3) {
		t.Fatal("ToValue misbehaves")
	}
}

func TestWaitValueNilPredicatePanics(t *testing.T) {
	av := NewAsyncValue(0)
	mustPanic(t, func() {
		_, _ = av.WaitValue(context.Background(), nil)
	})
}

func TestHeldForNegativePanics(t *testing.T) {
	mustPanic(t, func() {
		HeldFor(-time.Second)
	})
}
