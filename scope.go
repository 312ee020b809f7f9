package asyncval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Scope manages a group of operations with a coordinated lifecycle. Create
// one via [New] or [Run]; submit operations with [Scope.Go]; finalize with
// [Scope.Wait]. Every operation receives a context that is cancelled when
// the scope ends or is explicitly cancelled.
type Scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	cfg    config

	wg sync.WaitGroup

	errOnce  sync.Once
	errMu    sync.Mutex
	firstErr error
	errs     []error

	panicMu sync.Mutex
	panics  []*PanicError

	finOnce  sync.Once
	finErr   error
	finPanic *PanicError

	closed atomic.Bool

	// Observability counters.
	spawned atomic.Int64
	active  atomic.Int64
}

// New creates a [Scope] for manual lifecycle control. The caller must call
// [Scope.Wait] to finalize the scope and collect errors.
//
// Prefer [Run] for most use cases; use New when the scope must cross
// function boundaries or integrate with existing lifecycle management.
func New(parent context.Context, opts ...Option) *Scope {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancelCause(parent)
	return &Scope{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}
}

// Run creates a [Scope], invokes fn with it, then waits for every submitted
// operation to complete. It returns the aggregated error according to the
// configured [Policy] (default [FailFast]).
func Run(parent context.Context, fn func(s *Scope), opts ...Option) (err error) {
	sc := New(parent, opts...)

	defer func() {
		// Capture any panic from fn before finalizing, so in-flight
		// operations are still joined; the user panic then wins.
		runPanic := recover()

		sc.closed.Store(true)
		waitErr, waitPanic := sc.finalize()

		if runPanic != nil {
			panic(runPanic)
		}
		if waitPanic != nil {
			panic(waitPanic)
		}
		err = waitErr
	}()

	fn(sc)
	return nil
}

// Go submits an operation to the scope under the given name. The operation
// runs in its own goroutine with the scope's context. Go panics if called
// after the scope has been finalized.
func (s *Scope) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		panic("asyncval: Go requires a non-nil operation")
	}
	// Check closed BEFORE wg.Add to avoid a TOCTOU race with Wait's
	// wg.Wait.
	if s.closed.Load() {
		panic("asyncval: Go called after scope shutdown")
	}

	s.wg.Add(1)
	s.spawned.Add(1)
	info := OpInfo{Name: name, Spawned: s.cfg.clock.Now()}

	go func() {
		defer s.wg.Done()

		if s.ctx.Err() != nil {
			// Scope already cancelled; the cause is already recorded.
			return
		}

		s.active.Add(1)
		defer s.active.Add(-1)

		start := s.cfg.clock.Now()
		// Hooks run inside exec so their panics are captured too.
		err := s.exec(func(ctx context.Context) error {
			if s.cfg.onStart != nil {
				s.cfg.onStart(info)
			}
			return fn(ctx)
		})
		elapsed := s.cfg.clock.Since(start)

		if s.cfg.onDone != nil {
			// onDone runs outside exec; a panic here is intentionally
			// unrecovered (observability hooks must not panic).
			s.cfg.onDone(info, err, elapsed)
		}

		if err != nil {
			s.recordError(info, err)
		}
	}()
}

// exec runs an operation with panic recovery.
func (s *Scope) exec(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pe := newPanicError(r)
			if s.cfg.panicAsErr {
				err = pe
			} else {
				s.panicMu.Lock()
				s.panics = append(s.panics, pe)
				s.panicMu.Unlock()
				s.cancel(pe)
			}
		}
	}()
	return fn(s.ctx)
}

// recordError records a failed operation according to the configured policy.
func (s *Scope) recordError(info OpInfo, err error) {
	oe := &OpError{Op: info, Err: err}

	switch s.cfg.policy {
	case FailFast:
		s.errOnce.Do(func() {
			s.errMu.Lock()
			s.firstErr = oe
			s.errMu.Unlock()
			s.cancel(err)
		})
	case Collect:
		s.errMu.Lock()
		s.errs = append(s.errs, oe)
		s.errMu.Unlock()
	}
}

// Wait blocks until every submitted operation has completed and returns the
// aggregated error. If an operation panicked and [WithPanicAsError] was not
// set, Wait re-panics with the captured [*PanicError].
//
// Wait is idempotent; subsequent calls return the same result.
func (s *Scope) Wait() error {
	s.closed.Store(true)
	err, pe := s.finalize()
	if pe != nil {
		panic(pe)
	}
	return err
}

func (s *Scope) finalize() (error, *PanicError) {
	s.finOnce.Do(func() {
		s.wg.Wait()

		// Whether the context was cancelled before scope cleanup.
		ctxWasCancelled := s.ctx.Err() != nil
		s.cancel(nil)

		if !s.cfg.panicAsErr {
			s.panicMu.Lock()
			if len(s.panics) > 0 {
				s.finPanic = s.panics[0]
			}
			s.panicMu.Unlock()
		}

		s.errMu.Lock()
		switch s.cfg.policy {
		case FailFast:
			s.finErr = s.firstErr
		case Collect:
			if len(s.errs) > 0 {
				s.finErr = errors.Join(s.errs...)
			}
		}
		s.errMu.Unlock()

		// If no operation errors were recorded but the context was
		// cancelled externally, surface the context error.
		if s.finErr == nil && ctxWasCancelled {
			s.finErr = s.ctx.Err()
		}
	})

	return s.finErr, s.finPanic
}

// Cancel cancels the scope's context with the given cause, signaling all
// operations to stop. Subsequent calls have no additional effect.
func (s *Scope) Cancel(cause error) {
	s.cancel(cause)
}

// Context returns the scope's context, which is cancelled when the scope
// finalizes or is explicitly cancelled via [Scope.Cancel].
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Active returns the number of operations currently executing.
func (s *Scope) Active() int64 {
	return s.active.Load()
}

// Spawned returns the total number of operations submitted to the scope,
// including those that have already completed.
func (s *Scope) Spawned() int64 {
	return s.spawned.Load()
}
