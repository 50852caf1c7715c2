package cfg

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cispa/ampfuzz/internal/cond"
)

func TestAddEdgeIdempotent(t *testing.T) {
	g := New()
	assert.True(t, g.AddEdge(Edge{1, 2}))
	assert.False(t, g.AddEdge(Edge{1, 2}))
}

func TestHasPathToTargetDirectAndTransitive(t *testing.T) {
	g := New()
	g.AddEdge(Edge{1, 2})
	g.AddEdge(Edge{2, 3})
	g.AddTarget(3)

	assert.True(t, g.HasPathToTarget(1))
	assert.True(t, g.HasPathToTarget(2))
	assert.True(t, g.HasPathToTarget(3))
	assert.False(t, g.HasPathToTarget(99))
}

func TestScoreForCmpPrefersDirectOverIndirect(t *testing.T) {
	g := New()
	g.AddEdge(Edge{1, 10})
	g.AddEdge(Edge{10, 99})
	g.SetEdgeIndirect(Edge{1, 20}, 555)
	g.AddEdge(Edge{20, 99})
	g.AddTarget(99)

	// both paths reach the target in 2 hops, but the indirect one costs
	// more per edge, so the direct route should score strictly lower.
	score := g.ScoreForCmp(1)
	assert.Less(t, score, 4)
}

func TestScoreForCmpNoTargetsIsUnreachable(t *testing.T) {
	g := New()
	g.AddEdge(Edge{1, 2})
	assert.Equal(t, math.MaxInt, g.ScoreForCmp(1))
}

func TestRemoveTargetInvalidatesReachability(t *testing.T) {
	g := New()
	g.AddEdge(Edge{1, 2})
	g.AddTarget(2)
	require.True(t, g.HasPathToTarget(1))

	g.RemoveTarget(2)
	assert.False(t, g.HasPathToTarget(1))
}

func TestDominatesIndirectCallAndDominators(t *testing.T) {
	g := New()
	g.SetEdgeIndirect(Edge{1, 2}, 42)

	assert.True(t, g.DominatesIndirectCall(1))
	assert.False(t, g.DominatesIndirectCall(2))
	assert.ElementsMatch(t, []CmpId{1}, g.GetCallsiteDominators(42))
}

func TestMagicBytesRoundTrip(t *testing.T) {
	g := New()
	edge := Edge{1, 2}
	input := []byte{0x10, 0x20, 0x30, 0x40}
	g.SetMagicBytes(edge, input, []cond.TagSeg{{Begin: 1, End: 3}})

	got := g.GetMagicBytes(edge)
	assert.Equal(t, map[int]byte{1: 0x20, 2: 0x30}, got)
}

func TestAppendFileMergesTargetsAndEdges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.so.targets.json")

	payload := map[string]interface{}{
		"targets": []uint32{5},
		"edges": []map[string]interface{}{
			{"a": 1, "b": 5},
			{"a": 1, "b": 2, "indirect": true, "callsite": 7},
		},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	g := New()
	require.NoError(t, g.AppendFile(path))

	assert.True(t, g.IsTarget(5))
	assert.True(t, g.HasPathToTarget(1))
	assert.True(t, g.DominatesIndirectCall(1))
}

func TestAppendFileMissingFile(t *testing.T) {
	g := New()
	assert.Error(t, g.AppendFile("/does/not/exist.targets.json"))
}

func TestSummaryReportsCountsAndSortedTargets(t *testing.T) {
	g := New()
	g.AddEdge(Edge{1, 2})
	g.AddEdge(Edge{2, 3})
	g.AddTarget(3)
	g.AddTarget(1)

	s := g.Summary()
	assert.Equal(t, 3, s.Nodes)
	assert.Equal(t, 2, s.Edges)
	assert.Equal(t, []CmpId{1, 3}, s.Targets)
}
