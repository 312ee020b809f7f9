package asyncval

import "sync"

// Triple holds three values combined by [Compose3].
type Triple[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

// composeState serializes updates from several sources into one derived
// container. Updates arriving before finish() only adjust the pending
// snapshot; updates after close() are dropped. Lock order is always
// source.mu, then st.mu, then out's mutex.
type composeState[C comparable] struct {
	mu      sync.Mutex
	cur     C
	out     *AsyncValue[C]
	pending bool
	closed  bool
}

func (st *composeState[C]) update(apply func(*C)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	apply(&st.cur)
	if st.pending || st.closed {
		return
	}
	st.out.Set(st.cur)
}

func (st *composeState[C]) finish() *View[C] {
	st.mu.Lock()
	st.out = NewAsyncValue(st.cur)
	st.pending = false
	out := st.out
	st.mu.Unlock()
	return &View[C]{av: out}
}

func (st *composeState[C]) close() {
	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()
}

// attach subscribes st to src, seeding the pending snapshot with src's
// current value atomically with the subscription.
func attach[T, C comparable](src *AsyncValue[T], st *composeState[C], set func(*C, T)) func() {
	sub := &transformSub[T]{apply: func(v T) {
		st.update(func(c *C) { set(c, v) })
	}}

	src.mu.Lock()
	src.transforms = append(src.transforms, sub)
	st.mu.Lock()
	set(&st.cur, src.value)
	st.mu.Unlock()
	src.mu.Unlock()

	return func() { src.removeTransform(sub) }
}

// Compose2 combines two containers into a read-only [View] over the pair of
// their current values, recomputed on every Set of either source. Both
// subscriptions are established before the composite is first readable, so
// a Set concurrent with construction is either fully reflected or ordered
// after the initial snapshot, never torn.
//
// The release function marks the composite closed and then deregisters both
// subscriptions; a partially released composite is not observable.
func Compose2[A, B comparable](x *AsyncValue[A], y *AsyncValue[B]) (*View[Pair[A, B]], func()) {
	st := &composeState[Pair[A, B]]{pending: true}
	relX := attach(x, st, func(c *Pair[A, B], v A) { c.First = v })
	relY := attach(y, st, func(c *Pair[A, B], v B) { c.Second = v })
	view := st.finish()

	release := func() {
		st.close()
		relX()
		relY()
	}
	return view, release
}

// Compose3 combines three containers. See [Compose2].
func Compose3[A, B, C comparable](x *AsyncValue[A], y *AsyncValue[B], z *AsyncValue[C]) (*View[Triple[A, B, C]], func()) {
	st := &composeState[Triple[A, B, C]]{pending: true}
	relX := attach(x, st, func(c *Triple[A, B, C], v A) { c.First = v })
	relY := attach(y, st, func(c *Triple[A, B, C], v B) { c.Second = v })
	relZ := attach(z, st, func(c *Triple[A, B, C], v C) { c.Third = v })
	view := st.finish()

	release := func() {
		st.close()
		relX()
		relY()
		relZ()
	}
	return view, release
}

// ComposeValues combines N homogeneous containers through a custom
// transform. The transform receives the current values of every source, in
// argument order, and returns the composed value; it runs synchronously
// inside the Set of whichever source changed and must not retain the slice.
// Snapshot guarantees are those of [Compose2].
//
// ComposeValues panics if transform is nil or sources is empty.
func ComposeValues[T, C comparable](transform func([]T) C, sources ...*AsyncValue[T]) (*View[C], func()) {
	if transform == nil {
		panic("asyncval: ComposeValues requires a non-nil transform")
	}
	if len(sources) == 0 {
		panic("asyncval: ComposeValues requires at least one source")
	}

	st := &multiState[T, C]{
		vals:      make([]T, len(sources)),
		transform: transform,
		pending:   true,
	}
	releases := make([]func(), len(sources))
	for i, src := range sources {
		i := i
		sub := &transformSub[T]{apply: func(v T) { st.update(i, v) }}
		src.mu.Lock()
		src.transforms = append(src.transforms, sub)
		st.mu.Lock()
		st.vals[i] = src.value
		st.mu.Unlock()
		src.mu.Unlock()
		src := src
		releases[i] = func() { src.removeTransform(sub) }
	}

	st.mu.Lock()
	st.out = NewAsyncValue(st.transform(st.vals))
	st.pending = false
	out := st.out
	st.mu.Unlock()

	release := func() {
		st.mu.Lock()
		st.closed = true
		st.mu.Unlock()
		for _, rel := range releases {
			rel()
		}
	}
	return &View[C]{av: out}, release
}

type multiState[T, C comparable] struct {
	mu        sync.Mutex
	vals      []T
	transform func([]T) C
	out       *AsyncValue[C]
	pending   bool
	closed    bool
}

func (st *multiState[T, C]) update(i int, v T) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.vals[i] = v
	if st.pending || st.closed {
		return
	}
	st.out.Set(st.transform(st.vals))
}
