package asyncval

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Predicate selects values of interest. It must be fast, side-effect-free,
// and must not call back into the container it is registered on.
type Predicate[T any] func(v T) bool

// TransitionPredicate selects transitions of interest by inspecting the new
// and previous value.
type TransitionPredicate[T any] func(v, old T) bool

// Transition is a single observed value change.
type Transition[T any] struct {
	// Value is the new value.
	Value T

	// Old is the value it replaced.
	Old T
}

// Equals returns a predicate matching values equal to v.
func Equals[T comparable](v T) Predicate[T] {
	return func(x T) bool { return x == v }
}

// Any returns a predicate matching every value.
func Any[T any]() Predicate[T] {
	return func(T) bool { return true }
}

// Not negates a predicate.
func Not[T any](p Predicate[T]) Predicate[T] {
	return func(x T) bool { return !p(x) }
}

// AnyTransition returns a transition predicate matching every transition.
func AnyTransition[T any]() TransitionPredicate[T] {
	return func(T, T) bool { return true }
}

// ToValue returns a transition predicate matching transitions into v,
// regardless of the previous value.
func ToValue[T comparable](v T) TransitionPredicate[T] {
	return func(x, _ T) bool { return x == v }
}

// levelWaiter is a one-shot registration resolved by the first value
// matching pred.
type levelWaiter[T comparable] struct {
	pred Predicate[T]
	ch   chan T // buffered, cap 1
}

// edgeWaiter is a one-shot registration resolved by the first transition
// matching pred. A nil pred matches any transition.
type edgeWaiter[T comparable] struct {
	pred TransitionPredicate[T]
	ch   chan Transition[T] // buffered, cap 1
}

// valueSub is an open subscription fed by every transition. Implementations
// store their pending state under the owning container's mutex.
type valueSub[T comparable] interface {
	publish(v, old T)
}

// transformSub forwards every new value to a derived container or composite.
// apply runs under the source's mutex.
type transformSub[T comparable] struct {
	apply func(v T)
}

// AsyncValue is a value container that tasks can wait on. It holds exactly
// one current value; [AsyncValue.Set] replaces it and synchronously wakes
// every waiter whose predicate matches, before Set returns. A waiter
// registered before a matching Set therefore never misses it, even if the
// value is immediately replaced afterwards.
//
// The zero value is not usable; create containers with [NewAsyncValue].
type AsyncValue[T comparable] struct {
	clock clockwork.Clock

	mu    sync.Mutex
	value T
	rev   uint64

	level      []*levelWaiter[T]
	edge       []*edgeWaiter[T]
	subs       []valueSub[T]
	transforms []*transformSub[T]
}

// AsyncBool is an AsyncValue specialized to bool.
type AsyncBool = AsyncValue[bool]

// NewAsyncValue creates a container holding the given initial value.
func NewAsyncValue[T comparable](initial T, opts ...Option) *AsyncValue[T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &AsyncValue[T]{
		clock: cfg.clock,
		value: initial,
	}
}

// NewAsyncBool creates a boolean container holding false.
func NewAsyncBool(opts ...Option) *AsyncBool {
	return NewAsyncValue(false, opts...)
}

// Value returns the current value.
func (a *AsyncValue[T]) Value() T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// Set replaces the current value and wakes every matching waiter before
// returning. Setting a value equal to the current one is a complete no-op:
// no transition is recorded and no waiter observes it.
//
// A panic in a registered predicate or transform propagates out of Set.
func (a *AsyncValue[T]) Set(v T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v == a.value {
		return
	}
	old := a.value
	a.value = v
	a.rev++
	a.broadcastLocked(v, old)
}

// Update atomically applies f to the current value, stores the result, and
// returns it. The broadcast semantics are those of [AsyncValue.Set].
// f runs under the container's lock and must not call back into it.
func (a *AsyncValue[T]) Update(f func(T) T) T {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := f(a.value)
	if v == a.value {
		return v
	}
	old := a.value
	a.value = v
	a.rev++
	a.broadcastLocked(v, old)
	return v
}

func (a *AsyncValue[T]) broadcastLocked(v, old T) {
	// Resolved one-shot waiters are removed in place; their channels are
	// buffered so delivery never blocks the setter.
	kept := a.level[:0]
	for _, w := range a.level {
		if w.pred(v) {
			w.ch <- v
		} else {
			kept = append(kept, w)
		}
	}
	for i := len(kept); i < len(a.level); i++ {
		a.level[i] = nil
	}
	a.level = kept

	keptEdge := a.edge[:0]
	for _, w := range a.edge {
		if w.pred == nil || w.pred(v, old) {
			w.ch <- Transition[T]{Value: v, Old: old}
		} else {
			keptEdge = append(keptEdge, w)
		}
	}
	for i := len(keptEdge); i < len(a.edge); i++ {
		a.edge[i] = nil
	}
	a.edge = keptEdge

	for _, s := range a.subs {
		s.publish(v, old)
	}
	for _, t := range a.transforms {
		t.apply(v)
	}
}

// WaitValue suspends until the value matches pred and returns the matching
// value. With [HeldFor], the predicate must additionally remain true for the
// full hold duration; a falsifying Set during the hold restarts the wait.
//
// WaitValue returns ctx.Err() if ctx is done first; the waiter is
// deregistered before WaitValue returns. It panics if pred is nil.
func (a *AsyncValue[T]) WaitValue(ctx context.Context, pred Predicate[T], opts ...WaitOption) (T, error) {
	if pred == nil {
		panic("asyncval: WaitValue requires a non-nil predicate")
	}
	var wc waitConfig
	for _, opt := range opts {
		opt(&wc)
	}

	var zero T
	for {
		v, err := a.waitMatch(ctx, pred)
		if err != nil {
			return zero, err
		}
		if wc.heldFor <= 0 {
			return v, nil
		}
		held, hv, err := a.holdValue(ctx, pred, wc.heldFor)
		if err != nil {
			return zero, err
		}
		if held {
			return hv, nil
		}
		// Falsified during the hold; wait for the next match.
	}
}

// WaitValueEqual suspends until the value equals v.
func (a *AsyncValue[T]) WaitValueEqual(ctx context.Context, v T, opts ...WaitOption) (T, error) {
	return a.WaitValue(ctx, Equals(v), opts...)
}

// WaitTransition suspends until the next transition matching pred and
// returns it. A nil pred matches any transition. The current value never
// satisfies WaitTransition on its own; only a subsequent Set can.
func (a *AsyncValue[T]) WaitTransition(ctx context.Context, pred TransitionPredicate[T]) (Transition[T], error) {
	w := &edgeWaiter[T]{pred: pred, ch: make(chan Transition[T], 1)}
	a.mu.Lock()
	a.edge = append(a.edge, w)
	a.mu.Unlock()

	select {
	case tr := <-w.ch:
		return tr, nil
	case <-ctx.Done():
		a.mu.Lock()
		removed := a.removeEdgeLocked(w)
		a.mu.Unlock()
		if !removed {
			// A matching transition was delivered before cancellation won.
			select {
			case tr := <-w.ch:
				return tr, nil
			default:
			}
		}
		return Transition[T]{}, ctx.Err()
	}
}

// waitMatch resolves with the first value matching pred, starting with the
// current one.
func (a *AsyncValue[T]) waitMatch(ctx context.Context, pred Predicate[T]) (T, error) {
	a.mu.Lock()
	if pred(a.value) {
		v := a.value
		a.mu.Unlock()
		return v, nil
	}
	w := &levelWaiter[T]{pred: pred, ch: make(chan T, 1)}
	a.level = append(a.level, w)
	a.mu.Unlock()

	select {
	case v := <-w.ch:
		return v, nil
	case <-ctx.Done():
		a.mu.Lock()
		removed := a.removeLevelLocked(w)
		a.mu.Unlock()
		if !removed {
			select {
			case v := <-w.ch:
				return v, nil
			default:
			}
		}
		var zero T
		return zero, ctx.Err()
	}
}

// holdValue waits out the hold duration after a match. It reports held=false
// when a falsifying Set interrupts the hold, in which case the caller
// restarts the outer wait.
func (a *AsyncValue[T]) holdValue(ctx context.Context, pred Predicate[T], d time.Duration) (held bool, v T, err error) {
	var zero T

	a.mu.Lock()
	if !pred(a.value) {
		// Falsified between the match and the hold; restart.
		a.mu.Unlock()
		return false, zero, nil
	}
	w := &levelWaiter[T]{pred: Not(pred), ch: make(chan T, 1)}
	a.level = append(a.level, w)
	a.mu.Unlock()

	timer := a.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.ch:
		return false, zero, nil
	case <-timer.Chan():
		a.mu.Lock()
		if a.removeLevelLocked(w) {
			// The falsify waiter was still registered, so the value has
			// satisfied pred for the entire hold.
			v = a.value
			a.mu.Unlock()
			return true, v, nil
		}
		a.mu.Unlock()
		// Falsified concurrently with the timer firing; the falsifying
		// value wins.
		return false, zero, nil
	case <-ctx.Done():
		a.mu.Lock()
		a.removeLevelLocked(w)
		a.mu.Unlock()
		return false, zero, ctx.Err()
	}
}

func (a *AsyncValue[T]) removeLevelLocked(w *levelWaiter[T]) bool {
	if i := slices.Index(a.level, w); i >= 0 {
		a.level = slices.Delete(a.level, i, i+1)
		return true
	}
	return false
}

func (a *AsyncValue[T]) removeEdgeLocked(w *edgeWaiter[T]) bool {
	if i := slices.Index(a.edge, w); i >= 0 {
		a.edge = slices.Delete(a.edge, i, i+1)
		return true
	}
	return false
}

func (a *AsyncValue[T]) removeSub(s valueSub[T]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, cur := range a.subs {
		if cur == s {
			a.subs = slices.Delete(a.subs, i, i+1)
			return
		}
	}
}

func (a *AsyncValue[T]) removeTransform(t *transformSub[T]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := slices.Index(a.transforms, t); i >= 0 {
		a.transforms = slices.Delete(a.transforms, i, i+1)
	}
}
