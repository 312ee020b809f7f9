package asyncval

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy determines how a [Scope] handles errors from child operations.
type Policy int

const (
	// FailFast cancels all sibling operations when the first error occurs.
	// [Scope.Wait] returns the first error encountered.
	FailFast Policy = iota

	// Collect gathers all errors without cancelling siblings.
	// [Scope.Wait] returns all errors joined via [errors.Join].
	Collect
)

// OpInfo provides metadata about a running operation.
// It is passed to observability hooks registered via [WithOnStart] and
// [WithOnDone].
type OpInfo struct {
	// Name identifies the operation within its scope.
	Name string

	// Spawned is the time the operation was submitted to the scope,
	// before its goroutine started executing.
	Spawned time.Time
}

type config struct {
	policy     Policy
	panicAsErr bool
	onStart    func(OpInfo)
	onDone     func(OpInfo, error, time.Duration)
	clock      clockwork.Clock
}

// Option configures an [AsyncValue], [RepeatedEvent], [Scope], or [Periodic]
// loop.
type Option func(*config)

func defaultConfig() config {
	return config{
		policy: FailFast,
		clock:  clockwork.NewRealClock(),
	}
}

// WithPolicy sets the error handling policy for a scope.
// It panics if p is not a known Policy value.
func WithPolicy(p Policy) Option {
	return func(c *config) {
		switch p {
		case FailFast, Collect:
			c.policy = p
		default:
			panic("asyncval: invalid policy")
		}
	}
}

// WithPanicAsError converts panics in child operations to [*PanicError]
// values returned as regular errors, instead of re-raising them
// in [Scope.Wait].
func WithPanicAsError() Option {
	return func(c *config) {
		c.panicAsErr = true
	}
}

// WithOnStart registers a hook invoked when each operation begins executing.
// The hook runs inside the operation's goroutine before the operation
// function.
func WithOnStart(fn func(OpInfo)) Option {
	return func(c *config) {
		c.onStart = fn
	}
}

// WithOnDone registers a hook invoked when each operation finishes.
// The hook receives the operation's error (nil on success) and wall-clock
// duration. The hook runs inside the operation's goroutine after the
// operation function returns.
func WithOnDone(fn func(OpInfo, error, time.Duration)) Option {
	return func(c *config) {
		c.onDone = fn
	}
}

// WithClock replaces the clock used for held-for timers, [Periodic]
// scheduling, and hook timestamps. The default is the real clock; tests
// inject a [clockwork.FakeClock].
func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		if clock == nil {
			panic("asyncval: clock must not be nil")
		}
		c.clock = clock
	}
}

type waitConfig struct {
	heldFor time.Duration
}

// WaitOption configures a single [AsyncValue.WaitValue] call.
type WaitOption func(*waitConfig)

// HeldFor requires the matched predicate to remain true for the full
// duration d before the wait resolves. Any predicate-falsifying Set during
// the hold restarts the wait. HeldFor panics if d is negative.
func HeldFor(d time.Duration) WaitOption {
	return func(w *waitConfig) {
		if d < 0 {
			panic("asyncval: hold duration must be non-negative")
		}
		w.heldFor = d
	}
}
