package asyncval

import (
	"context"
	"sync"
)

// keyWait tracks the tasks parked on one missing key. refs counts parked
// waiters so an abandoned wait leaves no stale registration behind.
type keyWait struct {
	ch   chan struct{}
	refs int
}

// AsyncMap is a map whose readers can wait for a key to be populated.
// [AsyncMap.GetWait] and [AsyncMap.PopWait] suspend until the key exists;
// a [AsyncMap.Set] of that key wakes every waiter. The zero value is not
// usable; create maps with [NewAsyncMap].
type AsyncMap[K comparable, V any] struct {
	mu      sync.Mutex
	store   map[K]V
	pending map[K]*keyWait
}

// NewAsyncMap creates an empty map.
func NewAsyncMap[K comparable, V any]() *AsyncMap[K, V] {
	return &AsyncMap[K, V]{
		store:   make(map[K]V),
		pending: make(map[K]*keyWait),
	}
}

// Get returns the value for key, if present.
func (m *AsyncMap[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[key]
	return v, ok
}

// Set stores the value for key and wakes every waiter on it.
func (m *AsyncMap[K, V]) Set(key K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = v
	if w, ok := m.pending[key]; ok {
		close(w.ch)
		delete(m.pending, key)
	}
}

// Delete removes key, if present.
func (m *AsyncMap[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
}

// Len returns the number of stored keys.
func (m *AsyncMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

// GetWait returns the value for key, suspending until it is populated.
// The waiter is deregistered on every exit path, including cancellation.
func (m *AsyncMap[K, V]) GetWait(ctx context.Context, key K) (V, error) {
	return m.wait(ctx, key, false)
}

// PopWait removes and returns the value for key, suspending until it is
// populated. With several poppers, each Set satisfies at most one.
func (m *AsyncMap[K, V]) PopWait(ctx context.Context, key K) (V, error) {
	return m.wait(ctx, key, true)
}

func (m *AsyncMap[K, V]) wait(ctx context.Context, key K, pop bool) (V, error) {
	for {
		m.mu.Lock()
		if v, ok := m.store[key]; ok {
			if pop {
				delete(m.store, key)
			}
			m.mu.Unlock()
			return v, nil
		}
		w, ok := m.pending[key]
		if !ok {
			w = &keyWait{ch: make(chan struct{})}
			m.pending[key] = w
		}
		w.refs++
		m.mu.Unlock()

		select {
		case <-w.ch:
			m.release(key, w)
		case <-ctx.Done():
			m.release(key, w)
			var zero V
			return zero, ctx.Err()
		}
	}
}

// release drops one reference on a key's wait entry, removing the entry
// once no waiter remains and it was not already consumed by Set.
func (m *AsyncMap[K, V]) release(key K, w *keyWait) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.refs--
	if w.refs == 0 && m.pending[key] == w {
		delete(m.pending, key)
	}
}

// IsWaiting reports whether any task is currently waiting on key.
func (m *AsyncMap[K, V]) IsWaiting(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	return ok
}
