package asyncval

import (
	"context"
	"io"
	"time"
)

// Tick describes one iteration of a [Periodic] loop.
type Tick struct {
	// Elapsed is the time since the loop started.
	Elapsed time.Duration

	// Delta is the time since the previous iteration began; zero on the
	// first iteration.
	Delta time.Duration

	// First reports whether this is the loop's first iteration.
	First bool
}

// Periodic invokes fn every period, accounting for fn's own execution time:
// the next iteration is scheduled at iteration-start + period, not at
// fn-return + period. If fn overruns the period, the next iteration starts
// immediately.
//
// fn returning io.EOF stops the loop without error; any other error stops
// the loop and is returned. Periodic returns ctx.Err() when ctx is done.
// The clock is replaceable via [WithClock]. Periodic panics if period is
// not positive or fn is nil.
func Periodic(ctx context.Context, period time.Duration, fn func(t Tick) error, opts ...Option) error {
	if period <= 0 {
		panic("asyncval: Periodic requires a positive period")
	}
	if fn == nil {
		panic("asyncval: Periodic requires a non-nil function")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	clk := cfg.clock

	start := clk.Now()
	var prev time.Time
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := clk.Now()
		t := Tick{Elapsed: now.Sub(start), First: first}
		if !first {
			t.Delta = now.Sub(prev)
		}
		if err := fn(t); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		prev = now
		first = false

		d := now.Add(period).Sub(clk.Now())
		if d < 0 {
			// Overrun; run the next iteration immediately.
			continue
		}
		select {
		case <-clk.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
