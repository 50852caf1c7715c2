package stats

import (
	"time"

	"github.com/cispa/ampfuzz/internal/bitmap"
	"github.com/cispa/ampfuzz/internal/bytecount"
	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/status"
)

// Local is one worker's private stats, reset at the start of every queue
// entry (Register) and folded into the fleet-wide Chart at the end of
// that round (Chart.SyncFromLocal). It implements executor.Recorder so a worker can hand its own
// *Local straight to executor.New.
type Local struct {
	FuzzType cond.FuzzType

	NumExecRound Counter
	NumExec      Counter
	NumInputs    Counter
	NumHangs     Counter
	NumCrashes   Counter
	NumAmps      Counter

	Paths             map[bitmap.BitmapHash]struct{}
	BestAmp           bytecount.AmpByteCount
	PathAmplification bitmap.PathAmplification
	TrackTime         time.Duration
	StartTime         time.Time

	AvgExecTimeUs Average
	AvgEdgeNum    Average
}

// NewLocal returns an empty Local ready for a worker's first round.
func NewLocal() *Local {
	return &Local{
		Paths:             make(map[bitmap.BitmapHash]struct{}),
		PathAmplification: make(bitmap.PathAmplification),
	}
}

// Register starts a fresh round against c: the fuzz type tags which
// StrategyStats bucket this round's counters fold into on sync, and every
// per-round counter resets.
func (l *Local) Register(c *cond.Cond) {
	l.FuzzType = c.Base.FuzzType()
	l.Clear()
	l.NumExecRound.Reset()
}

// Clear resets every per-round counter, average and finding, keeping
// FuzzType and NumExecRound (Register resets the latter) — the caller is
// expected to have already folded this round into the Chart via
// SyncFromLocal before clearing.
func (l *Local) Clear() {
	l.NumExec.Reset()
	l.NumInputs.Reset()
	l.NumHangs.Reset()
	l.NumCrashes.Reset()
	l.NumAmps.Reset()

	l.Paths = make(map[bitmap.BitmapHash]struct{})
	l.BestAmp = bytecount.AmpByteCount{}
	l.PathAmplification = make(bitmap.PathAmplification)
	l.StartTime = time.Time{}
	l.TrackTime = 0
	l.AvgExecTimeUs = Average{}
	l.AvgEdgeNum = Average{}
}

// FindNew records an interesting run's outcome against the path it took.
func (l *Local) FindNew(st status.Type, pathHash bitmap.BitmapHash) {
	l.Paths[pathHash] = struct{}{}
	switch st.Kind {
	case status.Normal:
		l.NumInputs.Inc()
	case status.Timeout:
		l.NumHangs.Inc()
	case status.Crash:
		l.NumCrashes.Inc()
	case status.Amp:
		l.NumAmps.Inc()
		if bytecount.Less(l.BestAmp, st.AmpCount) {
			l.BestAmp = st.AmpCount
		}
		if old, ok := l.PathAmplification[st.PathHash]; !ok || old.AsFactor() < st.AmpCount.AsFactor() {
			l.PathAmplification[st.PathHash] = st.AmpCount
		}
	}
}

// RecordExec implements executor.Recorder: every execution, regardless of
// outcome, counts towards both the per-round and lifetime exec tallies.
func (l *Local) RecordExec() {
	l.NumExec.Inc()
	l.NumExecRound.Inc()
}

// RecordNewPath implements executor.Recorder, called only when the run
// produced previously-unseen coverage.
func (l *Local) RecordNewPath(pathHash uint64, st status.Type) {
	l.FindNew(st, pathHash)
}

// RecordEdgeNum implements executor.Recorder.
func (l *Local) RecordEdgeNum(n int) {
	l.AvgEdgeNum.Update(float64(n))
}

// RecordExecTimeUs implements executor.Recorder.
func (l *Local) RecordExecTimeUs(us uint32) {
	l.AvgExecTimeUs.Update(float64(us))
}
