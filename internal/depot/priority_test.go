package depot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cispa/ampfuzz/internal/cond"
)

func TestInitDistanceIsDeterministic(t *testing.T) {
	a := InitDistance(cond.OpICmpEQ, 3)
	b := InitDistance(cond.OpICmpEQ, 3)
	assert.Equal(t, a.Score(), b.Score())
}

func TestLowerDistanceScoresHigherPriority(t *testing.T) {
	near := InitDistance(cond.OpICmpEQ, 1)
	far := InitDistance(cond.OpICmpEQ, 100)
	assert.True(t, near.Less(far))
}

func TestAmpOutranksExploreAtEqualDistance(t *testing.T) {
	amp := InitDistance(cond.OpAmp, 5)
	explore := InitDistance(cond.OpICmpEQ, 5)
	assert.True(t, amp.Less(explore))
}

func TestIncDemotesPriority(t *testing.T) {
	p := InitDistance(cond.OpICmpEQ, 1)
	before := p.Score()
	p = p.Inc()
	assert.Greater(t, p.Score(), before)
}

func TestDoneSortsLast(t *testing.T) {
	done := Done()
	const opOther = 0x600 // past maxExploitOp and not one of the synthetic ops -> FuzzOther
	live := InitDistance(opOther, 1_000_000)
	assert.True(t, live.Less(done))
}

func TestNewDistancePreservesVisits(t *testing.T) {
	p := InitDistance(cond.OpICmpEQ, 10).Inc().Inc()
	rescored := p.NewDistance(1)
	assert.Equal(t, p.visits, rescored.visits)
	assert.Equal(t, 1, rescored.distance)
}
