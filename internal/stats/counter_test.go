package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterAddAndReset(t *testing.T) {
	var c Counter
	c.Inc()
	c.Add(4)
	assert.Equal(t, int64(5), c.Load())

	c.Reset()
	assert.Equal(t, int64(0), c.Load())
}

func TestAverageUpdateConverges(t *testing.T) {
	var a Average
	a.Update(10)
	a.Update(20)
	assert.InDelta(t, 15.0, a.Value(), 0.001)
}

func TestAverageSetReplacesOutright(t *testing.T) {
	var a Average
	a.Update(10)
	a.Set(42)
	assert.Equal(t, 42.0, a.Value())

	a.Update(42)
	assert.InDelta(t, 42.0, a.Value(), 0.001)
}

func TestAverageMergeWeightsByCount(t *testing.T) {
	var a, b Average
	a.Update(10)
	a.Update(10) // a: value=10, n=2

	b.Update(30) // b: value=30, n=1

	a.Merge(b)
	assert.InDelta(t, (10*2+30*1)/3.0, a.Value(), 0.001)
}

func TestAverageMergeWithEmptyOtherIsNoop(t *testing.T) {
	var a, b Average
	a.Update(5)
	a.Merge(b)
	assert.InDelta(t, 5.0, a.Value(), 0.001)
}
