package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cispa/ampfuzz/internal/cond"
)

func newExploreCond() *cond.Cond {
	return cond.New(cond.CondBase{Cmpid: 7, Op: cond.OpICmpEQ, Condition: cond.StateFalse})
}

func TestNewDispatchesAmpToAmpStrategy(t *testing.T) {
	h := &Handler{Executor: &fakeExecutor{}, Cond: newAmpCond(), Buf: []byte{1}}
	s := New(h, Options{EnableAmp: true})

	_, ok := s.(*AmpStrategy)
	require.True(t, ok)
}

func TestNewDispatchesUnimplementedFuzzTypesToMarkDone(t *testing.T) {
	h := &Handler{Executor: &fakeExecutor{}, Cond: newExploreCond(), Buf: []byte{1}}
	s := New(h, Options{})

	_, ok := s.(*markDone)
	require.True(t, ok)

	s.Run()
	assert.True(t, h.Cond.Base.IsDone())
}
