package asyncval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Internal cancellation causes, used to tell helper-induced cancellation
// apart from genuine failures when filtering composite errors.
var (
	errSiblingDone = errors.New("asyncval: sibling operation completed")
	errMovedOn     = errors.New("asyncval: condition completed")
	errTornDown    = errors.New("asyncval: torn down")
)

// isCancellation reports whether err is pure cancellation noise.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// runOp invokes fn with panic capture.
func runOp(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return fn(ctx)
}

// WaitAny runs all operations concurrently and returns as soon as any one
// of them completes, successfully or not. The remaining operations are
// cancelled immediately and WaitAny waits for them to finish before
// returning.
//
// If the completing operation failed, and others also fail during
// cancellation with errors that are not themselves cancellation, every
// failure is aggregated into one composite error; none is dropped. Inspect
// the composite with [AllOpErrors]. If ctx is cancelled before any
// operation completes, WaitAny returns ctx.Err().
//
// WaitAny panics if any operation is nil.
func WaitAny(ctx context.Context, ops ...func(ctx context.Context) error) error {
	if len(ops) == 0 {
		return nil
	}
	for i, op := range ops {
		if op == nil {
			panic(fmt.Sprintf("asyncval: WaitAny op[%d] must not be nil", i))
		}
	}

	sc := New(ctx, WithPolicy(Collect), WithPanicAsError())
	for i, op := range ops {
		op := op
		sc.Go(fmt.Sprintf("op-%d", i), func(c context.Context) error {
			// The first operation to return, for any reason, ends the race.
			defer sc.Cancel(errSiblingDone)
			return op(c)
		})
	}
	return filterRace(ctx, sc.Wait())
}

// filterRace drops cancellation noise from a race composite: operations
// that failed only because a sibling ended the race are not failures.
func filterRace(ctx context.Context, err error) error {
	var kept []error
	for _, oe := range AllOpErrors(err) {
		if isCancellation(oe.Err) {
			continue
		}
		kept = append(kept, oe)
	}

	switch len(kept) {
	case 0:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	case 1:
		return kept[0]
	default:
		return errors.Join(kept...)
	}
}

// WaitAll runs all operations concurrently and returns once every one has
// completed. A failing operation does not cancel its siblings; all must
// still run to completion. If several operations fail, all failures are
// aggregated into one composite error.
//
// WaitAll panics if any operation is nil.
func WaitAll(ctx context.Context, ops ...func(ctx context.Context) error) error {
	if len(ops) == 0 {
		return nil
	}
	for i, op := range ops {
		if op == nil {
			panic(fmt.Sprintf("asyncval: WaitAll op[%d] must not be nil", i))
		}
	}

	sc := New(ctx, WithPolicy(Collect), WithPanicAsError())
	for i, op := range ops {
		op := op
		sc.Go(fmt.Sprintf("op-%d", i), op)
	}
	return sc.Wait()
}

// MoveOnWhen runs body until condition completes, at which point body's
// context is cancelled. It reports whether body was in fact interrupted
// (moved=false when body finished before the condition) so the caller can
// branch afterwards.
//
// The condition runs in its own cancellation region, distinct from body's,
// so the moved result reflects only body's outcome. When body is
// interrupted it should return its context error; that cancellation is not
// reported as a failure. MoveOnWhen panics if condition or body is nil.
func MoveOnWhen(ctx context.Context, condition, body func(ctx context.Context) error) (moved bool, err error) {
	if condition == nil {
		panic("asyncval: MoveOnWhen requires a non-nil condition")
	}
	if body == nil {
		panic("asyncval: MoveOnWhen requires a non-nil body")
	}

	bodyCtx, cancelBody := context.WithCancelCause(ctx)
	condCtx, cancelCond := context.WithCancelCause(ctx)
	defer cancelBody(nil)
	defer cancelCond(nil)

	condErrCh := make(chan error, 1)
	go func() {
		cerr := runOp(condCtx, condition)
		if !errors.Is(context.Cause(condCtx), errTornDown) {
			cancelBody(errMovedOn)
		}
		condErrCh <- cerr
	}()

	bodyErr := runOp(bodyCtx, body)
	cancelCond(errTornDown)
	condErr := <-condErrCh

	if errors.Is(context.Cause(bodyCtx), errMovedOn) && isCancellation(bodyErr) {
		moved = true
		bodyErr = nil
	}
	if isCancellation(condErr) {
		// The condition was torn down after body finished, or was waiting
		// on the outer context; either way it did not fail.
		condErr = nil
	}
	return moved, errors.Join(bodyErr, condErr)
}

// RunAndCancelling runs background for the duration of body. On leaving
// body by any path, background's context is cancelled and RunAndCancelling
// waits for it to finish before returning.
//
// A background failure during that forced teardown is suppressed: the
// operation was being torn down, not faulting. A background failure while
// body is still running cancels body and propagates. RunAndCancelling
// panics if background or body is nil.
func RunAndCancelling(ctx context.Context, background, body func(ctx context.Context) error) error {
	if background == nil {
		panic("asyncval: RunAndCancelling requires a non-nil background operation")
	}
	if body == nil {
		panic("asyncval: RunAndCancelling requires a non-nil body")
	}

	bgCtx, cancelBg := context.WithCancelCause(ctx)
	bodyCtx, cancelBody := context.WithCancelCause(ctx)
	defer cancelBg(nil)
	defer cancelBody(nil)

	var tearingDown atomic.Bool
	bgErrCh := make(chan error, 1)
	go func() {
		berr := runOp(bgCtx, background)
		if berr != nil && !tearingDown.Load() {
			cancelBody(berr)
		}
		bgErrCh <- berr
	}()

	bodyErr := runOp(bodyCtx, body)
	tearingDown.Store(true)
	cancelBg(errTornDown)
	bgErr := <-bgErrCh

	if isCancellation(bgErr) {
		bgErr = nil
	}
	if bgErr != nil && isCancellation(bodyErr) {
		// Body failed only because the background failure cancelled it.
		bodyErr = nil
	}

	err := errors.Join(bgErr, bodyErr)
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// First runs all operations concurrently and returns the result of the
// first to succeed. The remaining operations are cancelled immediately upon
// the first success.
//
// If every operation fails, First returns the zero value and all failures
// joined. If ctx is cancelled before any success, First returns ctx.Err().
// If ops is empty, First returns (zero, nil). First panics if any operation
// is nil.
func First[T any](ctx context.Context, ops ...func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if len(ops) == 0 {
		return zero, nil
	}
	for i, op := range ops {
		if op == nil {
			panic(fmt.Sprintf("asyncval: First op[%d] must not be nil", i))
		}
	}

	raceCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	type result struct {
		val T
		err error
	}

	// Buffered so all goroutines can send without blocking after the
	// first success is picked up.
	ch := make(chan result, len(ops))
	for _, op := range ops {
		op := op
		go func() {
			defer func() {
				if r := recover(); r != nil {
					ch <- result{err: newPanicError(r)}
				}
			}()
			val, err := op(raceCtx)
			ch <- result{val: val, err: err}
		}()
	}

	var errs []error
	for range ops {
		res := <-ch
		if res.err == nil {
			cancel(errSiblingDone)
			return res.val, nil
		}
		if !isCancellation(res.err) {
			errs = append(errs, res.err)
		}
	}

	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	return zero, errors.Join(errs...)
}
