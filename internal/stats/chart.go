package stats

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cispa/ampfuzz/internal/bitmap"
	"github.com/cispa/ampfuzz/internal/bytecount"
	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/depot"
)

// Chart is the fleet-wide aggregate: every worker's Local folds in here at
// the end of each round, and the priority queue / coverage bitmap are
// re-scanned from scratch each sync cycle. One Chart is shared by the main loop (writer)
// and the dashboard/metrics readers, guarded by mu.
type Chart struct {
	mu sync.Mutex

	InitTime  time.Time
	TrackTime time.Duration
	Density   Average

	NumRounds Counter
	MaxRounds Counter
	NumExec   Counter
	Speed     Average

	AvgExecTimeUs Average
	AvgEdgeNum    Average

	NumInputs  Counter
	NumHangs   Counter
	NumCrashes Counter
	NumTargets Counter
	NumAmps    Counter

	Paths             map[bitmap.BitmapHash]struct{}
	BestAmp           bytecount.AmpByteCount
	PathAmplification bitmap.PathAmplification

	Fuzz     FuzzStats
	FuzzType cond.FuzzType
}

// NewChart starts the clock and returns an empty Chart.
func NewChart() *Chart {
	return &Chart{
		InitTime:          time.Now(),
		Paths:             make(map[bitmap.BitmapHash]struct{}),
		PathAmplification: make(bitmap.PathAmplification),
	}
}

// SyncFromLocal folds one worker's round into the fleet totals and
// resets nothing on the local side — callers clear their Local
// separately once it's been folded in.
func (c *Chart) SyncFromLocal(local *Local) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.TrackTime += local.TrackTime
	c.AvgEdgeNum.Merge(local.AvgEdgeNum)
	c.AvgExecTimeUs.Merge(local.AvgExecTimeUs)

	st := c.Fuzz.Get(local.FuzzType)
	if !local.StartTime.IsZero() {
		st.Time += time.Since(local.StartTime)
	}

	execs := local.NumExec.Load()
	st.NumExec.Add(execs)
	c.NumExec.Add(execs)

	inputs := local.NumInputs.Load()
	st.NumInputs.Add(inputs)
	c.NumInputs.Add(inputs)

	hangs := local.NumHangs.Load()
	st.NumHangs.Add(hangs)
	c.NumHangs.Add(hangs)

	crashes := local.NumCrashes.Load()
	st.NumCrashes.Add(crashes)
	c.NumCrashes.Add(crashes)

	amps := local.NumAmps.Load()
	st.NumAmps.Add(amps)
	c.NumAmps.Add(amps)

	for p := range local.Paths {
		c.Paths[p] = struct{}{}
	}

	if bytecount.Less(st.BestAmp, local.BestAmp) {
		st.BestAmp = local.BestAmp
	}
	if bytecount.Less(c.BestAmp, local.BestAmp) {
		c.BestAmp = local.BestAmp
	}

	mergePathAmplification(st.PathAmplification, local.PathAmplification)
	mergePathAmplification(c.PathAmplification, local.PathAmplification)
}

// mergePathAmplification folds src's entries into dst, keeping whichever
// side has the better amplification factor for a shared path.
func mergePathAmplification(dst, src bitmap.PathAmplification) {
	for path, amp := range src {
		if old, ok := dst[path]; !ok || old.AsFactor() < amp.AsFactor() {
			dst[path] = amp
		}
	}
}

func (c *Chart) FinishRound() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NumRounds.Inc()
}

func (c *Chart) Register(cd *cond.Cond) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FuzzType = cd.Base.FuzzType()
}

// depotSource and branchesSource are the narrow slices SyncFromGlobal
// needs, so stats stays testable against fakes instead of requiring a
// live depot and coverage bitmap.
type depotSource interface {
	QueueCounts() depot.QueueCounts
}

type branchesSource interface {
	Density() float32
	MaxAmplification() bytecount.AmpByteCount
	PathAmplifications() bitmap.PathAmplification
}

// SyncFromGlobal rescans the depot's priority queue and the coverage
// bitmap, replacing the per-cycle derived fields (speed, density, per
// fuzz-type cond counts, max rounds).
func (c *Chart) SyncFromGlobal(d depotSource, gb branchesSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.updateSpeedLocked()

	qc := d.QueueCounts()
	c.Fuzz.Clear()
	for ft := cond.FuzzType(0); int(ft) < len(qc.ByFuzzType); ft++ {
		c.Fuzz[ft].NumConds.Add(int64(qc.ByFuzzType[ft]))
	}
	c.MaxRounds.Reset()
	c.MaxRounds.Add(int64(qc.MaxRounds))

	c.Density.Set(float64(gb.Density()))

	if best := gb.MaxAmplification(); bytecount.Less(c.BestAmp, best) {
		c.BestAmp = best
	}
	mergePathAmplification(c.PathAmplification, gb.PathAmplifications())
}

func (c *Chart) updateSpeedLocked() {
	elapsed := time.Since(c.InitTime).Seconds()
	if elapsed <= 0 {
		c.Speed.Set(0)
		return
	}
	c.Speed.Set(float64(c.NumExec.Load()) / elapsed)
}

// GetExploreNum is the fuzz loop's termination oracle: zero explore conds
// left in the queue means nothing left worth searching.
func (c *Chart) GetExploreNum() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Fuzz[cond.FuzzExplore].NumConds.Load()
}

// Diagnose returns human-readable warnings worth logging at Warn level:
// an oversized bitmap density, or a likely un-modeled taint source. Both
// are heuristics carried over from the original chart display, not hard
// failures.
func (c *Chart) Diagnose() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var warnings []string
	if c.Density.Value() > 10.0 {
		warnings = append(warnings, "bitmap density is above 10%; consider increasing the bitmap's MapSize or enabling function-call context pruning")
	}
	if c.Fuzz.MayBeModelFailure() {
		warnings = append(warnings, "explore-cond count is small relative to AFL/other conds; make sure the target's read functions are modeled as taint sources")
	}
	return warnings
}

func (c *Chart) MiniLogHdr() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	hdr := []string{
		"secs", "execs", "rounds", "density", "inputs", "hangs", "crashes",
		"targets", "amp_inputs", "paths", "amp_paths", "best_amp", "current_type",
	}
	hdr = append(hdr, c.Fuzz.MiniLogHdr()...)
	return hdr
}

func (c *Chart) MiniLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := []string{
		strconv.FormatInt(int64(time.Since(c.InitTime).Seconds()), 10),
		strconv.FormatInt(c.NumExec.Load(), 10),
		strconv.FormatInt(c.NumRounds.Load(), 10),
		fmt.Sprintf("%.2f", c.Density.Value()),
		strconv.FormatInt(c.NumInputs.Load(), 10),
		strconv.FormatInt(c.NumHangs.Load(), 10),
		strconv.FormatInt(c.NumCrashes.Load(), 10),
		strconv.FormatInt(c.NumTargets.Load(), 10),
		strconv.FormatInt(c.NumAmps.Load(), 10),
		strconv.Itoa(len(c.Paths)),
		strconv.Itoa(len(c.PathAmplification)),
		fmt.Sprintf("%.2f", c.BestAmp.AsFactor()),
		c.FuzzType.String(),
	}
	row = append(row, c.Fuzz.MiniLog()...)
	return row
}

func (c *Chart) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return fmt.Sprintf(
		` -- OVERVIEW --
    TIMING |     RUN: %s,   TRACK: %s     CURRENT_TYPE: %s
  COVERAGE |    EDGE: %s,    DENSITY: %s%%
    EXECS  |   TOTAL: %s,      ROUND: %s,     MAX_R: %s
    SPEED  |  PERIOD: %sr/s     TIME: %sus
    FOUND  |  INPUTS: %s,      HANGS: %s,   CRASHES: %s,   AMPS: %s   (best: %.2fx)
    PATHS  |   TOTAL: %d       AMPS: %d
 -- FUZZ --
%s
`,
		time.Since(c.InitTime).Round(time.Second), c.TrackTime, c.FuzzType,
		c.AvgEdgeNum.String(), c.Density.String(),
		c.NumExec.String(), c.NumRounds.String(), c.MaxRounds.String(),
		c.Speed.String(), c.AvgExecTimeUs.String(),
		c.NumInputs.String(), c.NumHangs.String(), c.NumCrashes.String(), c.NumAmps.String(),
		c.BestAmp.AsFactor(),
		len(c.Paths), len(c.PathAmplification),
		c.Fuzz.String(),
	)
}

// LogDiagnostics writes every Diagnose() warning through logrus.
func (c *Chart) LogDiagnostics() {
	for _, w := range c.Diagnose() {
		logrus.Warn(w)
	}
}
