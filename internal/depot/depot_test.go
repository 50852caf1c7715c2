package depot

import (
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cispa/ampfuzz/internal/bytecount"
	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/status"
)

type fakeScorer struct {
	distances map[uint32]int
	inpScores map[uint32]int
	removed   []uint32
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{distances: map[uint32]int{}, inpScores: map[uint32]int{}}
}

func (f *fakeScorer) ScoreForCmp(cmpid uint32) int {
	if d, ok := f.distances[cmpid]; ok {
		return d
	}
	return math.MaxInt
}

func (f *fakeScorer) ScoreForCmpInp(cmpid uint32, vars []byte) int {
	if d, ok := f.inpScores[cmpid]; ok {
		return d
	}
	return f.ScoreForCmp(cmpid)
}

func (f *fakeScorer) RemoveTarget(cmpid uint32) {
	f.removed = append(f.removed, cmpid)
}

func newTestDepot(t *testing.T) (*Depot, *fakeScorer) {
	t.Helper()
	fs := afero.NewMemMapFs()
	scorer := newFakeScorer()
	d, err := New(fs, "/out", scorer)
	require.NoError(t, err)
	return d, scorer
}

func TestNewCreatesSubdirs(t *testing.T) {
	d, _ := newTestDepot(t)
	for _, dir := range []string{d.Dirs().Queue, d.Dirs().Hangs, d.Dirs().Crashes, d.Dirs().Amps} {
		exists, err := afero.DirExists(d.fs, dir)
		require.NoError(t, err)
		assert.True(t, exists, dir)
	}
}

func TestSaveNormalAssignsSequentialIds(t *testing.T) {
	d, _ := newTestDepot(t)
	id1, err := d.Save(status.Of(status.Normal), []byte("a"), 1)
	require.NoError(t, err)
	id2, err := d.Save(status.Of(status.Normal), []byte("b"), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, id1)
	assert.Equal(t, 1, id2)
	assert.False(t, d.Empty())

	buf, err := d.GetInputBuf(id1)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), buf)
}

func TestSaveHangsAndCrashesUseSeparateDirs(t *testing.T) {
	d, _ := newTestDepot(t)
	_, err := d.Save(status.Of(status.Timeout), []byte("hang"), 1)
	require.NoError(t, err)
	_, err = d.Save(status.Of(status.Crash), []byte("crash"), 1)
	require.NoError(t, err)

	inputs, hangs, crashes, amps := d.Counts()
	assert.Equal(t, 0, inputs)
	assert.Equal(t, 1, hangs)
	assert.Equal(t, 1, crashes)
	assert.Equal(t, 0, amps)
}

func TestSaveAmpAlsoPersistsAsQueueInput(t *testing.T) {
	d, _ := newTestDepot(t)
	amp := bytecount.AmpByteCount{
		BytesIn:  bytecount.FromL7(10),
		BytesOut: bytecount.FromL7(1000),
	}
	st := status.NewAmp(0xdeadbeef, amp)

	id, err := d.Save(st, []byte("amp-seed"), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	inputs, _, _, amps := d.Counts()
	assert.Equal(t, 1, inputs)
	assert.Equal(t, 1, amps)
}

func TestSaveAmpDuplicateIsNoOp(t *testing.T) {
	d, _ := newTestDepot(t)
	amp := bytecount.AmpByteCount{BytesIn: bytecount.FromL7(10), BytesOut: bytecount.FromL7(1000)}
	st := status.NewAmp(0xdeadbeef, amp)

	_, err := d.Save(st, []byte("same-bytes"), 1)
	require.NoError(t, err)
	id, err := d.Save(st, []byte("same-bytes"), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	inputs, _, _, amps := d.Counts()
	assert.Equal(t, 1, inputs)
	assert.Equal(t, 1, amps)
}

func baseCond(cmpid, context, order, op uint32) *cond.Cond {
	c := cond.New(cond.CondBase{Cmpid: cmpid, Context: context, Order: order, Op: op, Condition: cond.StateFalse})
	c.Offsets = []cond.TagSeg{{Begin: 0, End: 1}}
	return c
}

func TestAddEntriesInsertsNewDesirableCond(t *testing.T) {
	d, scorer := newTestDepot(t)
	scorer.inpScores[1] = 5
	c := baseCond(1, 1, 1, cond.OpICmpEQ)

	d.AddEntries([]*cond.Cond{c})

	got, ok := d.GetEntry()
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.Base.Cmpid)
}

func TestAddEntriesSkipsUndesirable(t *testing.T) {
	d, _ := newTestDepot(t)
	c := baseCond(1, 1, 1, cond.OpICmpEQ)
	c.IsDesirable = false

	d.AddEntries([]*cond.Cond{c})
	_, ok := d.GetEntry()
	assert.False(t, ok)
}

func TestAddEntriesMarksDoneOnConflictingCondition(t *testing.T) {
	d, scorer := newTestDepot(t)
	scorer.inpScores[1] = 5
	first := baseCond(1, 1, 1, cond.OpICmpEQ)
	first.Base.Condition = cond.StateFalse
	d.AddEntries([]*cond.Cond{first})

	flipped := baseCond(1, 1, 1, cond.OpICmpEQ)
	flipped.Base.Condition = cond.StateTrue
	d.AddEntries([]*cond.Cond{flipped})

	it, ok := d.q.Get(flipped.Identity())
	require.True(t, ok)
	assert.True(t, it.priority.IsDone())
	assert.True(t, it.cond.Base.IsDone())
}

func TestAddEntriesSwapsInFasterDuplicate(t *testing.T) {
	d, scorer := newTestDepot(t)
	scorer.inpScores[1] = 5
	slow := baseCond(1, 1, 1, cond.OpICmpEQ)
	slow.Speed = 100
	d.AddEntries([]*cond.Cond{slow})

	fast := baseCond(1, 1, 1, cond.OpICmpEQ)
	fast.Speed = 10
	d.AddEntries([]*cond.Cond{fast})

	it, ok := d.q.Get(fast.Identity())
	require.True(t, ok)
	assert.Equal(t, uint32(10), it.cond.Speed)
}

func TestGetEntryDemotesOnEachPeek(t *testing.T) {
	d, scorer := newTestDepot(t)
	scorer.inpScores[1] = 1
	c := baseCond(1, 1, 1, cond.OpICmpEQ)
	d.AddEntries([]*cond.Cond{c})

	it, _ := d.q.Get(c.Identity())
	before := it.priority.Score()
	_, ok := d.GetEntry()
	require.True(t, ok)
	after := it.priority.Score()
	assert.Greater(t, after, before)
}

func TestUpdateEntryRetiresDiscardedTarget(t *testing.T) {
	d, scorer := newTestDepot(t)
	scorer.inpScores[1] = 5
	scorer.distances[1] = 5
	c := baseCond(1, 1, 1, cond.OpICmpEQ)
	d.AddEntries([]*cond.Cond{c})

	c.State = cond.StateUnsolvable
	d.UpdateEntry(c)

	it, ok := d.q.Get(c.Identity())
	require.True(t, ok)
	assert.True(t, it.priority.IsDone())
	assert.Contains(t, scorer.removed, uint32(1))
}

func TestUpdateEntryMissingWarnsAndDoesNotPanic(t *testing.T) {
	d, _ := newTestDepot(t)
	c := baseCond(99, 1, 1, cond.OpICmpEQ)
	assert.NotPanics(t, func() { d.UpdateEntry(c) })
}

func TestResumeOrInitFreshRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	seeds, err := ResumeOrInit(fs, "/seeds", "/out")
	require.NoError(t, err)
	assert.Equal(t, "/seeds", seeds)
	exists, _ := afero.DirExists(fs, "/out")
	assert.True(t, exists)
}

func TestResumeOrInitRejectsExistingOutDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out", 0o755))
	_, err := ResumeOrInit(fs, "/seeds", "/out")
	assert.Error(t, err)
}

func TestResumeOrInitRestartArchivesPreviousOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out/queue", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/out/queue/id_0", []byte("seed"), 0o644))

	seeds, err := ResumeOrInit(fs, "-", "/out")
	require.NoError(t, err)
	assert.Contains(t, seeds, "queue")
	assert.NotEqual(t, "/out/queue", seeds)

	exists, _ := afero.DirExists(fs, "/out")
	assert.True(t, exists)
	buf, err := afero.ReadFile(fs, seeds+"/id_0")
	require.NoError(t, err)
	assert.Equal(t, []byte("seed"), buf)
}

func TestWriteFuzzerStatsContainsPid(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out", 0o755))
	path, err := WriteFuzzerStats(fs, "/out")
	require.NoError(t, err)

	buf, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "fuzzer_pid : ")
}
