package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cispa/ampfuzz/internal/cfg"
	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/ipc"
	"github.com/cispa/ampfuzz/internal/status"
)

func newBareCond(cmpid uint32) *cond.Cond {
	return cond.New(cond.CondBase{Cmpid: cmpid, Op: cond.OpICmpEQ, Condition: cond.StateFalse})
}

func TestCheckExploredMarksDoneOnZeroOutput(t *testing.T) {
	e := &Executor{lastOutput: ipc.Unreachable}
	c := newBareCond(1)

	explored := e.checkExplored(c, 0)
	assert.True(t, explored)
	assert.True(t, c.Base.IsDone())
}

func TestCheckExploredLeavesNonZeroOutputAlone(t *testing.T) {
	e := &Executor{lastOutput: ipc.Unreachable}
	c := newBareCond(1)

	explored := e.checkExplored(c, 5)
	assert.False(t, explored)
	assert.False(t, c.Base.IsDone())
}

func TestCheckInvariableMarksUndesirableAfterThreshold(t *testing.T) {
	e := &Executor{lastOutput: ipc.Unreachable}
	c := newBareCond(1)

	var skip bool
	for i := 0; i < maxInvariableNum; i++ {
		skip = e.checkInvariable(42, c)
	}
	assert.False(t, c.IsDesirable)
	assert.True(t, skip)
}

func TestCheckInvariableResetsOnChange(t *testing.T) {
	e := &Executor{lastOutput: ipc.Unreachable}
	c := newBareCond(1)

	e.checkInvariable(42, c)
	e.checkInvariable(43, c)
	assert.Equal(t, 0, e.invariableCnt)
	assert.True(t, c.IsDesirable)
}

func TestCheckInvariableDoesNotSkipOneByteState(t *testing.T) {
	e := &Executor{lastOutput: ipc.Unreachable}
	c := newBareCond(1)
	c.State = cond.StateOneByte

	var skip bool
	for i := 0; i < maxInvariableNum; i++ {
		skip = e.checkInvariable(42, c)
	}
	assert.False(t, c.IsDesirable)
	assert.False(t, skip)
}

func TestCheckConsistentFlagsFirstTouchUnreachable(t *testing.T) {
	e := &Executor{lastOutput: ipc.Unreachable}
	c := newBareCond(1)
	c.State = cond.StateInitial

	e.checkConsistent(ipc.Unreachable, c)
	assert.False(t, c.IsConsistent)
}

func TestCheckConsistentIgnoresLaterUnreachable(t *testing.T) {
	e := &Executor{lastOutput: ipc.Unreachable}
	c := newBareCond(1)
	c.State = cond.StateDet

	e.checkConsistent(ipc.Unreachable, c)
	assert.True(t, c.IsConsistent)
}

func TestCheckTimeoutFoldsErrorIntoTimeout(t *testing.T) {
	e := &Executor{}
	c := newBareCond(1)

	st := e.checkTimeout(status.Of(status.Error), c)
	assert.Equal(t, status.Timeout, st.Kind)
}

func TestCheckTimeoutRetiresCondAfterRepeatedTimeouts(t *testing.T) {
	e := &Executor{}
	c := newBareCond(1)

	var st status.Type
	for i := 0; i < tmoutSkip; i++ {
		st = e.checkTimeout(status.Of(status.Timeout), c)
	}
	assert.Equal(t, status.Skip, st.Kind)
	assert.Equal(t, cond.StateTimeout, c.State)
}

func TestCheckTimeoutResetsOnNormal(t *testing.T) {
	e := &Executor{}
	c := newBareCond(1)

	e.checkTimeout(status.Of(status.Timeout), c)
	e.checkTimeout(status.Of(status.Normal), c)
	assert.Equal(t, 0, e.tmoutCnt)
}

func TestBuildCfgEdgesAddsDirectEdge(t *testing.T) {
	e := &Executor{graph: cfg.New()}
	a := newBareCond(1)
	b := newBareCond(2)
	condList := []*cond.Cond{a, b}

	fixed := e.buildCfgEdges(condList, []byte("buf"))
	assert.Empty(t, fixed)
	assert.False(t, e.graph.HasPathToTarget(1)) // no targets recorded yet

	e.graph.AddTarget(2)
	assert.True(t, e.graph.HasPathToTarget(1)) // edge 1->2 now reaches a target
}

func TestBuildCfgEdgesGroupsByThread(t *testing.T) {
	e := &Executor{graph: cfg.New()}
	a := newBareCond(1)
	a.Base.ThreadID = 1
	b := newBareCond(2)
	b.Base.ThreadID = 2
	c := newBareCond(3)
	c.Base.ThreadID = 1

	// a and c share a thread but are not adjacent in the slice; b sits
	// between them on a different thread and must not bridge an edge.
	e.buildCfgEdges([]*cond.Cond{a, b, c}, nil)

	e.graph.AddTarget(3)
	assert.False(t, e.graph.HasPathToTarget(2))
}

func TestBuildCfgEdgesEmitsFixedCondOnIndirectCallsite(t *testing.T) {
	e := &Executor{graph: cfg.New()}
	a := newBareCond(1)
	a.Offsets = []cond.TagSeg{{Begin: 0, End: 1}}
	b := newBareCond(2)
	b.Base.LastCallsite = 555
	b.Variables = []byte{0, 0, 0}

	// cmpid 1 must already be a recorded indirect-call dominator for its
	// offsets to be remembered and later folded into the fixed cond.
	e.graph.SetEdgeIndirect(cfg.Edge{A: 1, B: 99}, 555)

	condList := []*cond.Cond{a, b}
	buf := []byte{7, 8, 9}
	fixed := e.buildCfgEdges(condList, buf)

	require.Len(t, fixed, 1)
	assert.Equal(t, []cond.TagSeg{{Begin: 0, End: 1}}, fixed[0].Offsets)
	assert.Equal(t, []byte{7, 0, 0}, fixed[0].Variables)
}
