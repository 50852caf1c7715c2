package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cispa/ampfuzz/internal/bitmap"
	"github.com/cispa/ampfuzz/internal/bytecount"
	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/depot"
	"github.com/cispa/ampfuzz/internal/status"
)

type fakeDepotSource struct {
	qc depot.QueueCounts
}

func (f fakeDepotSource) QueueCounts() depot.QueueCounts { return f.qc }

type fakeBranchesSource struct {
	density float32
	best    bytecount.AmpByteCount
	pathAmp bitmap.PathAmplification
}

func (f fakeBranchesSource) Density() float32                        { return f.density }
func (f fakeBranchesSource) MaxAmplification() bytecount.AmpByteCount { return f.best }
func (f fakeBranchesSource) PathAmplifications() bitmap.PathAmplification {
	return f.pathAmp
}

func TestChartSyncFromLocalAccumulates(t *testing.T) {
	c := NewChart()
	l := NewLocal()
	l.FuzzType = cond.FuzzExplore
	l.RecordExec()
	l.RecordExec()
	l.FindNew(status.Of(status.Normal), 1)

	c.SyncFromLocal(l)

	assert.Equal(t, int64(2), c.NumExec.Load())
	assert.Equal(t, int64(1), c.NumInputs.Load())
	assert.Equal(t, int64(1), c.Fuzz.Get(cond.FuzzExplore).NumExec.Load())
}

func TestChartSyncFromGlobalRefreshesDerivedFields(t *testing.T) {
	c := NewChart()
	var qc depot.QueueCounts
	qc.ByFuzzType[cond.FuzzExplore] = 3
	qc.MaxRounds = 7

	d := fakeDepotSource{qc: qc}
	amp := bytecount.AmpByteCount{BytesIn: bytecount.FromL7(10), BytesOut: bytecount.FromL7(100)}
	b := fakeBranchesSource{density: 2.5, best: amp, pathAmp: bitmap.PathAmplification{9: amp}}

	c.SyncFromGlobal(d, b)

	assert.Equal(t, int64(3), c.Fuzz.Get(cond.FuzzExplore).NumConds.Load())
	assert.Equal(t, int64(7), c.MaxRounds.Load())
	assert.InDelta(t, 2.5, c.Density.Value(), 0.001)
	assert.Equal(t, amp.AsFactor(), c.BestAmp.AsFactor())
	assert.Contains(t, c.PathAmplification, uint64(9))
}

func TestChartGetExploreNumReadsFuzzBucket(t *testing.T) {
	c := NewChart()
	require.Equal(t, int64(0), c.GetExploreNum())

	c.Fuzz.Get(cond.FuzzExplore).NumConds.Inc()
	assert.Equal(t, int64(1), c.GetExploreNum())
}

func TestChartDiagnoseFlagsHighDensity(t *testing.T) {
	c := NewChart()
	c.Density.Set(15)
	warnings := c.Diagnose()
	require.NotEmpty(t, warnings)
}

func TestChartMiniLogRowMatchesHeaderLength(t *testing.T) {
	c := NewChart()
	assert.Equal(t, len(c.MiniLogHdr()), len(c.MiniLog()))
}
