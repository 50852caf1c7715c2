// Package fuzzloop wires depot, search and stats together into the
// fleet of worker goroutines and the main-thread sync/log/terminate
// cycle that drive a fuzzing run end to end.
package fuzzloop

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/search"
	"github.com/cispa/ampfuzz/internal/stats"
)

// emptyQueueBackoff is how long a worker sleeps after finding nothing
// schedulable, rather than spinning the depot lock.
const emptyQueueBackoff = 20 * time.Millisecond

// Depot is the slice of *depot.Depot a worker needs to pull and return
// queue entries.
type Depot interface {
	GetEntry() (*cond.Cond, bool)
	GetInputBuf(id int) ([]byte, error)
	UpdateEntry(c *cond.Cond)
}

// Worker drives one fuzzing thread: acquire an entry, run a strategy
// against it, fold the round into Local, repeat until ctx is done.
type Worker struct {
	ID       int
	Depot    Depot
	Executor search.Executor
	Local    *stats.Local
	Chart    *stats.Chart
	Options  search.Options
}

// Run loops until ctx is canceled. It never returns a non-nil error on
// its own; Orchestrator treats a panicking worker as the only failure
// mode worth surfacing to the fleet.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		entry, ok := w.Depot.GetEntry()
		if !ok || entry.IsDiscarded() {
			if !sleepOrDone(ctx, emptyQueueBackoff) {
				return nil
			}
			continue
		}

		w.runRound(entry)
	}
}

func (w *Worker) runRound(c *cond.Cond) {
	w.Local.Register(c)
	w.Chart.Register(c)
	w.Local.StartTime = time.Now()

	buf, err := w.Depot.GetInputBuf(int(c.Base.Belong))
	if err != nil {
		logrus.WithError(err).WithField("belong", c.Base.Belong).
			Warn("fuzzloop: reading seed input for queue entry")
		c.MarkAsDone()
		w.Depot.UpdateEntry(c)
		return
	}

	handler := &search.Handler{Executor: w.Executor, Cond: c, Buf: buf}
	search.New(handler, w.Options).Run()

	w.Depot.UpdateEntry(c)
	w.Chart.SyncFromLocal(w.Local)
	w.Chart.FinishRound()
	w.Local.Clear()
}

// sleepOrDone waits out d, reporting false if ctx was canceled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
