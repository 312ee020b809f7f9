package asyncval_test

import (
	"context"
	"testing"
	"time"

	"github.com/baxromumarov/asyncval"
)

func pollUntil(t *testing.T, cond func() bool) {
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

func TestAsyncMapBasics(t *testing.T) {
	m := asyncval.NewAsyncMap[string, int]()

	if _, ok := m.Get("a"); ok {
		t.Fatal("expected missing key")
	}
	m.Set("a", 1)
	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Fatalf("expected 1, got %d (ok=%v)", v, ok)
	}
	if m.Len() != 1 {
		t.Fatalf("expected length 1, got %d", m.Len())
	}
	m.Delete("a")
	if m.Len() != 0 {
		t.Fatalf("expected empty map, got %d", m.Len())
	}
}

func TestAsyncMapGetWait(t *testing.T) {
	m := asyncval.NewAsyncMap[string, int]()

	got := make(chan int, 1)
	go func() {
		v, err := m.GetWait(context.Background(), "k")
		if err != nil {
			t.Error(err)
		}
		got <- v
	}()

	pollUntil(t, func() bool { return m.IsWaiting("k") })

	m.Set("k", 7)
	if v := <-got; v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
	if m.IsWaiting("k") {
		t.Fatal("expected waiter released")
	}
}

func TestAsyncMapGetWaitImmediate(t *testing.T) {
	m := asyncval.NewAsyncMap[string, int]()
	m.Set("k", 3)

	v, err := m.GetWait(context.Background(), "k")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
}

func TestAsyncMapPopWait(t *testing.T) {
	m := asyncval.NewAsyncMap[string, int]()

	got := make(chan int, 1)
	go func() {
		v, err := m.PopWait(context.Background(), "k")
		if err != nil {
			t.Error(err)
		}
		got <- v
	}()

	pollUntil(t, func() bool { return m.IsWaiting("k") })

	m.Set("k", 9)
	if v := <-got; v != 9 {
		t.Fatalf("expected 9, got %d", v)
	}
	pollUntil(t, func() bool { return m.Len() == 0 })
}

func TestAsyncMapWaitCancel(t *testing.T) {
	m := asyncval.NewAsyncMap[string, int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := m.GetWait(ctx, "k")
		done <- err
	}()

	pollUntil(t, func() bool { return m.IsWaiting("k") })
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.IsWaiting("k") {
		t.Fatal("expected waiter deregistered after cancellation")
	}
}
