package asyncval

import (
	"context"
	"testing"
)

func TestEventWaitReceivesNextTrigger(t *testing.T) {
	ev := NewRepeatedEvent[int]()

	got := make(chan int, 1)
	go func() {
		v, err := ev.Wait(context.Background())
		if err != nil {
			t.Error(err)
		}
		got <- v
	}()

	waitUntil(t, func() bool { return ev.stamp.levelWaiters() == 1 })

	ev.Trigger(42)
	if v := <-got; v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if n := ev.stamp.levelWaiters(); n != 0 {
		t.Fatalf("expected listener released, got %d waiters", n)
	}
}

func TestEventWaitIgnoresPastTriggers(t *testing.T) {
	ev := NewRepeatedEvent[int]()
	ev.Trigger(1)

	got := make(chan int, 1)
	go func() {
		v, err := ev.Wait(context.Background())
		if err != nil {
			t.Error(err)
		}
		got <- v
	}()

	waitUntil(t, func() bool { return ev.stamp.levelWaiters() == 1 })

	ev.Trigger(2)
	if v := <-got; v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
}

func TestEventWaitCancelReleasesListener(t *testing.T) {
	ev := NewRepeatedEvent[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := ev.Wait(ctx)
		done <- err
	}()

	waitUntil(t, func() bool { return ev.stamp.levelWaiters() == 1 })
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := ev.stamp.levelWaiters(); n != 0 {
		t.Fatalf("expected listener released on cancellation, got %d waiters", n)
	}
}

// Overlapping triggers before the listener consumes collapse to the latest.
func TestUnqueuedEventsCollapse(t *testing.T) {
	ev := NewRepeatedEvent[int]()
	s := ev.UnqueuedEvents()
	defer s.Close()

	ev.Trigger(1)
	ev.Trigger(2)

	v, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if v != 2 {
		t.Fatalf("expected latest trigger 2, got %d", v)
	}
}

func TestUnqueuedEventsSkipPastTriggers(t *testing.T) {
	ev := NewRepeatedEvent[int]()
	ev.Trigger(1)

	s := ev.UnqueuedEvents()
	defer s.Close()

	ev.Trigger(2)
	v, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
}

func TestEventsReplayDeliversLastTrigger(t *testing.T) {
	ev := NewRepeatedEvent[string]()
	ev.Trigger("old")

	s := ev.Events(WithReplay())
	defer s.Close()

	v, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if v != "old" {
		t.Fatalf("expected replayed trigger, got %q", v)
	}

	ev.Trigger("new")
	if v, _ := s.Next(context.Background()); v != "new" {
		t.Fatalf("expected \"new\", got %q", v)
	}
}

func TestEventsReplayWithoutTriggerBlocks(t *testing.T) {
	ev := NewRepeatedEvent[int]()

	s := ev.Events(WithReplay())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled on never-triggered event, got %v", err)
	}
}

func TestRepeatedPayloadStillDelivers(t *testing.T) {
	ev := NewRepeatedEvent[int]()
	s := ev.Events()
	defer s.Close()

	ev.Trigger(5)
	if v, _ := s.Next(context.Background()); v != 5 {
		t.Fatalf("expected 5, got %d", v)
	}

	// The trigger counter makes an identical payload a fresh trigger.
	ev.Trigger(5)
	if v, _ := s.Next(context.Background()); v != 5 {
		t.Fatalf("expected repeated 5, got %d", v)
	}
}
