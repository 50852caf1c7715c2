// Package stats accumulates per-worker (Local) and fleet-wide (Chart)
// fuzzing statistics, and persists the fleet view as a CSV row, a JSON
// snapshot, and a live Prometheus registry.
package stats

import (
	"fmt"
	"sync/atomic"
)

// Counter is an atomic monotonic count, safe to share across goroutines
// without a separate mutex (mirrors GlobalBranches.density's atomic use).
type Counter struct {
	n int64
}

func (c *Counter) Inc() { atomic.AddInt64(&c.n, 1) }

func (c *Counter) Add(delta int64) { atomic.AddInt64(&c.n, delta) }

func (c *Counter) Load() int64 { return atomic.LoadInt64(&c.n) }

func (c *Counter) Reset() { atomic.StoreInt64(&c.n, 0) }

func (c *Counter) String() string { return fmt.Sprintf("%d", c.Load()) }

// Average is a running mean fed one sample at a time. Merge folds another
// Average's samples in, weighted by how many each side has seen — the Go
// equivalent of the Rust stats' local-to-global SyncAverage.
type Average struct {
	value float64
	n     int64
}

// Set replaces the average outright with a single fresh sample (how the
// chart recomputes density and speed each cycle from a live source,
// rather than folding them in as running samples).
func (a *Average) Set(v float64) {
	a.value = v
	a.n = 0
}

// Update folds one more sample into the running mean.
func (a *Average) Update(v float64) {
	a.n++
	a.value += (v - a.value) / float64(a.n)
}

// Merge folds another Average's accumulated samples into a, weighted by
// sample count.
func (a *Average) Merge(other Average) {
	total := a.n + other.n
	if total == 0 {
		return
	}
	a.value = (a.value*float64(a.n) + other.value*float64(other.n)) / float64(total)
	a.n = total
}

func (a Average) Value() float64 { return a.value }

func (a Average) String() string { return fmt.Sprintf("%.2f", a.value) }
