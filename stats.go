package asyncval

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// LatencyStats collects scheduling and execution latency for scope
// operations: the maximum spawn-to-start wait (how long submitted
// operations sat before their goroutine ran) and every operation whose
// execution exceeded a threshold.
//
// Attach it to a scope by spreading [LatencyStats.Observe] into the scope's
// options:
//
//	stats := asyncval.NewLatencyStats(100 * time.Millisecond)
//	err := asyncval.Run(ctx, fn, stats.Observe()...)
//	fmt.Println(stats.Report())
type LatencyStats struct {
	clock     clockwork.Clock
	threshold time.Duration

	mu      sync.Mutex
	count   int64
	maxWait time.Duration
	slow    map[string][]time.Duration
}

// NewLatencyStats creates a collector flagging operations that run longer
// than threshold. A zero threshold flags nothing.
func NewLatencyStats(threshold time.Duration, opts ...Option) *LatencyStats {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LatencyStats{
		clock:     cfg.clock,
		threshold: threshold,
		slow:      make(map[string][]time.Duration),
	}
}

// Observe returns the scope options that wire this collector's hooks.
// One collector may observe several scopes; counters accumulate.
func (ls *LatencyStats) Observe() []Option {
	return []Option{
		WithOnStart(ls.opStarted),
		WithOnDone(ls.opDone),
	}
}

func (ls *LatencyStats) opStarted(info OpInfo) {
	wait := ls.clock.Since(info.Spawned)

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.count++
	if wait > ls.maxWait {
		ls.maxWait = wait
	}
}

func (ls *LatencyStats) opDone(info OpInfo, _ error, d time.Duration) {
	if ls.threshold <= 0 || d <= ls.threshold {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.slow[info.Name] = append(ls.slow[info.Name], d)
}

// Count returns the number of operations observed starting.
func (ls *LatencyStats) Count() int64 {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.count
}

// MaxWait returns the largest spawn-to-start wait observed.
func (ls *LatencyStats) MaxWait() time.Duration {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.maxWait
}

// SlowOps returns the execution durations over the threshold, keyed by
// operation name. The returned map is a copy.
func (ls *LatencyStats) SlowOps() map[string][]time.Duration {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	out := make(map[string][]time.Duration, len(ls.slow))
	for name, ds := range ls.slow {
		out[name] = append([]time.Duration(nil), ds...)
	}
	return out
}

// Report returns a human-readable summary.
func (ls *LatencyStats) Report() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%d ops observed, max spawn-to-start wait %v", ls.count, ls.maxWait)

	names := make([]string, 0, len(ls.slow))
	for name := range ls.slow {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\nslow op %q (>%v): %v", name, ls.threshold, ls.slow[name])
	}
	return b.String()
}
