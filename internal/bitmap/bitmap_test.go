//go:build linux

package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cispa/ampfuzz/internal/bytecount"
	"github.com/cispa/ampfuzz/internal/status"
)

func TestHasNewFirstRunIsNew(t *testing.T) {
	g := NewGlobalBranches(nil)
	b, err := New(g)
	require.NoError(t, err)
	defer b.Close()

	b.ClearTrace()
	b.trace.Bytes()[10] = 1

	hasNewPath, hasNewEdge, edgeCount, hasGoodAmp := b.HasNew(status.Of(status.Normal), false)
	assert.True(t, hasNewPath)
	assert.True(t, hasNewEdge)
	assert.Equal(t, 1, edgeCount)
	assert.False(t, hasGoodAmp)
}

func TestHasNewSameEdgeSameBucketNotNew(t *testing.T) {
	g := NewGlobalBranches(nil)
	b, err := New(g)
	require.NoError(t, err)
	defer b.Close()

	b.ClearTrace()
	b.trace.Bytes()[10] = 1
	_, _, _, _ = b.HasNew(status.Of(status.Normal), false)

	b.ClearTrace()
	b.trace.Bytes()[10] = 1
	hasNewPath, hasNewEdge, _, _ := b.HasNew(status.Of(status.Normal), false)
	assert.False(t, hasNewPath)
	assert.False(t, hasNewEdge)
}

func TestHasNewHigherBucketIsNew(t *testing.T) {
	g := NewGlobalBranches(nil)
	b, err := New(g)
	require.NoError(t, err)
	defer b.Close()

	b.ClearTrace()
	b.trace.Bytes()[10] = 1
	_, _, _, _ = b.HasNew(status.Of(status.Normal), false)

	b.ClearTrace()
	b.trace.Bytes()[10] = 3 // bucket 4, a higher bucket than 1
	hasNewPath, _, _, _ := b.HasNew(status.Of(status.Normal), false)
	assert.True(t, hasNewPath)
}

func TestHasNewAmpTracksBestPerPathAndGlobal(t *testing.T) {
	g := NewGlobalBranches(nil)
	b, err := New(g)
	require.NoError(t, err)
	defer b.Close()

	small := bytecount.AmpByteCount{BytesIn: bytecount.FromL7(100), BytesOut: bytecount.FromL7(200)}
	big := bytecount.AmpByteCount{BytesIn: bytecount.FromL7(100), BytesOut: bytecount.FromL7(2000)}

	b.ClearTrace()
	b.trace.Bytes()[1] = 1
	_, _, _, goodFirst := b.HasNew(status.NewAmp(0xabc, small), false)
	assert.True(t, goodFirst, "first amp on a new path is always good")

	b.ClearTrace()
	b.trace.Bytes()[1] = 1
	_, _, _, goodSame := b.HasNew(status.NewAmp(0xabc, small), false)
	assert.False(t, goodSame, "same factor on an already-seen path is not an improvement")

	b.ClearTrace()
	b.trace.Bytes()[1] = 1
	_, _, _, goodBetter := b.HasNew(status.NewAmp(0xabc, big), false)
	assert.True(t, goodBetter, "a strictly better factor improves the path and global best")

	assert.Equal(t, big, g.MaxAmplification())
}

func TestDensityCountsOnlyNormalAndAmp(t *testing.T) {
	g := NewGlobalBranches(nil)
	b, err := New(g)
	require.NoError(t, err)
	defer b.Close()

	b.ClearTrace()
	b.trace.Bytes()[0] = 1
	b.HasNew(status.Of(status.Crash), false)
	assert.Equal(t, float32(0), g.Density())

	b.ClearTrace()
	b.trace.Bytes()[1] = 1
	b.HasNew(status.Of(status.Normal), false)
	assert.Greater(t, g.Density(), float32(0))
}
