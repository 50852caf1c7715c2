package fuzzloop

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/cispa/ampfuzz/internal/search"
	"github.com/cispa/ampfuzz/internal/stats"
	"github.com/cispa/ampfuzz/internal/status"
)

// Recorder is the executor-facing event sink a worker's *stats.Local
// satisfies structurally, without this package importing executor.
type Recorder interface {
	RecordExec()
	RecordNewPath(pathHash uint64, st status.Type)
	RecordEdgeNum(n int)
	RecordExecTimeUs(us uint32)
}

// staleRoundsLimit is how many consecutive sync ticks with an unchanged
// explore-cond count end the run: the orchestrator has stopped making
// progress discovering new branches worth exploring.
const staleRoundsLimit = 2

// aflSyncCycle mirrors the upstream fuzz loop's sync_counter reset: an
// AFL peer directory is rescanned once every this-many sync ticks
// rather than every tick, since dry-running a peer's queue is far more
// expensive than a stats snapshot.
const aflSyncCycle = 12

// Orchestrator owns the worker fleet plus the main-thread sync, log and
// termination loop. SyncSource is the caller's hook for refreshing Chart
// from the live depot/bitmap — kept out of this package's own dependency
// graph the same way Chart.SyncFromGlobal itself only asks for narrow
// interfaces rather than concrete *depot.Depot/*bitmap.GlobalBranches.
type Orchestrator struct {
	Depot Depot
	Chart *stats.Chart

	// SyncSource supplies the depot/bitmap views Chart.SyncFromGlobal
	// rescans every tick.
	SyncSource func(c *stats.Chart)

	NumWorkers int
	// NewExecutor builds the per-worker executor; each worker launches
	// its own target subprocess, so none can be shared. rec is the same
	// *stats.Local the worker folds its round into, wired in as the
	// executor's Recorder so exec-count/new-path events land in the one
	// place Chart.SyncFromLocal later reads them from.
	NewExecutor func(workerID int, rec Recorder) (search.Executor, error)
	Options     search.Options

	SyncInterval time.Duration

	// CSVWriter, JSONPath and Registry are all optional; a nil/empty
	// value skips that sink.
	CSVWriter *stats.CSVWriter
	Fs        afero.Fs
	JSONPath  string
	Registry  *stats.Registry

	// AFLSync, if set, is dry-run against a peer's queue directory once
	// every aflSyncCycle ticks.
	AFLSync *SyncPeer
}

// Run spawns NumWorkers fuzzing goroutines and blocks until the main
// sync/log loop decides to stop (explore conds exhausted, progress has
// stalled, or ctx is canceled). A worker that panics is recovered and
// logged; the other workers and the main loop keep running.
func (o *Orchestrator) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < o.NumWorkers; i++ {
		id := i
		local := stats.NewLocal()
		exec, err := o.NewExecutor(id, local)
		if err != nil {
			cancel()
			return err
		}
		w := &Worker{
			ID:       id,
			Depot:    o.Depot,
			Executor: exec,
			Local:    local,
			Chart:    o.Chart,
			Options:  o.Options,
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("worker", id).WithField("panic", r).
						Error("fuzzloop: worker panicked, exiting")
				}
			}()
			return w.Run(gctx)
		})
	}

	o.mainLoop(gctx, cancel)
	return g.Wait()
}

// mainLoop is the orchestrator's own thread of control: periodic
// sync+log+persist, an occasional AFL-peer rescan, and the termination
// check. It returns once ctx is done, either because it called cancel
// itself or because the parent context was canceled.
func (o *Orchestrator) mainLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(o.SyncInterval)
	defer ticker.Stop()

	var (
		lastExplore int64 = -1
		staleRounds int
		tick        int
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if o.SyncSource != nil {
			o.SyncSource(o.Chart)
		}
		o.Chart.LogDiagnostics()
		o.persist()

		tick++
		if o.AFLSync != nil && tick%aflSyncCycle == 0 {
			if err := o.AFLSync.Sync(); err != nil {
				logrus.WithError(err).Warn("fuzzloop: afl-sync peer scan failed")
			}
		}

		cur := o.Chart.GetExploreNum()
		if cur == 0 {
			logrus.Warn("fuzzloop: no explore conds in the queue; stopping")
			cancel()
			return
		}
		if cur == lastExplore {
			staleRounds++
		} else {
			staleRounds = 0
			lastExplore = cur
		}
		if staleRounds >= staleRoundsLimit {
			logrus.WithField("explore_conds", cur).
				Info("fuzzloop: explore-cond count unchanged across sync intervals, stopping")
			cancel()
			return
		}
	}
}

func (o *Orchestrator) persist() {
	if o.CSVWriter != nil {
		if err := o.CSVWriter.WriteRow(o.Chart); err != nil {
			logrus.WithError(err).Warn("fuzzloop: writing csv stats row")
		}
	}
	if o.Fs != nil && o.JSONPath != "" {
		if err := stats.WriteJSON(o.Fs, o.JSONPath, o.Chart); err != nil {
			logrus.WithError(err).Warn("fuzzloop: writing json chart snapshot")
		}
	}
	if o.Registry != nil {
		o.Registry.Update(o.Chart)
	}
}
