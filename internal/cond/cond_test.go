package cond

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlipConditionTogglesExceptDone(t *testing.T) {
	b := CondBase{Condition: StateFalse}
	b.FlipCondition()
	assert.Equal(t, StateTrue, b.Condition)
	b.FlipCondition()
	assert.Equal(t, StateFalse, b.Condition)

	b.MarkDone()
	b.FlipCondition()
	assert.Equal(t, StateDone, b.Condition, "flipping a DONE cond must be a no-op")
}

func TestIdentityIgnoresNonKeyFields(t *testing.T) {
	a := CondBase{Cmpid: 1, Context: 2, Order: 3, Op: OpICmpEQ, Arg1: 10}
	b := CondBase{Cmpid: 1, Context: 2, Order: 3, Op: OpICmpEQ, Arg1: 999}
	assert.Equal(t, a.Identity(), b.Identity())

	c := CondBase{Cmpid: 1, Context: 2, Order: 4, Op: OpICmpEQ}
	assert.NotEqual(t, a.Identity(), c.Identity())
}

func TestFuzzTypeClassification(t *testing.T) {
	cases := []struct {
		name string
		b    CondBase
		want FuzzType
	}{
		{"afl", CondBase{Op: OpAFL}, FuzzAFL},
		{"length", CondBase{Op: OpLength}, FuzzLength},
		{"amp", CondBase{Op: OpAmp}, FuzzAmp},
		{"switch", CondBase{Op: OpSwitch}, FuzzCmpFn},
		{"explore icmp", CondBase{Op: OpICmpEQ}, FuzzExplore},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.b.FuzzType())
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	want := CondBase{
		Cmpid: 42, ThreadID: -1, Context: 7, LastCallsite: 3, Order: 2,
		Belong: 1, Condition: StateTrue, Level: 5, Op: OpICmpSGT, Size: 4,
		Lb1: 9, Lb2: 10, Arg1: 0xdeadbeef, Arg2: 12345,
	}
	wire, err := want.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, wire, BaseSize)

	var got CondBase
	require.NoError(t, got.UnmarshalBinary(wire))
	assert.Equal(t, want, got)
}

func TestUnmarshalShortBuffer(t *testing.T) {
	var b CondBase
	err := b.UnmarshalBinary(make([]byte, BaseSize-1))
	assert.Error(t, err)
}

func TestIsSigned(t *testing.T) {
	assert.True(t, (&CondBase{Op: OpICmpSGT}).IsSigned())
	assert.False(t, (&CondBase{Op: OpICmpUGT}).IsSigned())
	assert.True(t, (&CondBase{Op: OpICmpEQ | OpSignMask}).IsSigned())
}

func TestMarkAsDoneClearsMetadata(t *testing.T) {
	c := New(CondBase{Cmpid: 1})
	c.Offsets = []TagSeg{{Begin: 0, End: 4}}
	c.Variables = []byte{1, 2, 3}

	c.MarkAsDone()

	assert.True(t, c.Base.IsDone())
	assert.Nil(t, c.Offsets)
	assert.Nil(t, c.Variables)
}
