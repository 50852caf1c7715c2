// Package cond models a single branch condition: the fixed, SHM-shareable
// CondBase wire record and the fuzzer-private enrichment (Cond) layered on
// top of it.
package cond

import (
	"encoding/binary"
	"fmt"
)

// Condition progress states. A condition starts FALSE or TRUE (whichever
// branch the seed took) and becomes DONE once both its output has been
// driven to (or past) the target value and the search gives up on it.
const (
	StateFalse uint32 = 0
	StateTrue  uint32 = 1
	StateDone  uint32 = 2
)

// op is a low-byte comparison family plus flag bits in the high bytes.
// Basic (non-synthetic) ops occupy the explore range (icmp/fcmp predicates);
// a second tier (exploit range) mirrors them for post-exploration narrowing.
// Above that sit synthetic, non-comparison "ops" used to carry unrelated
// fuzz-worthy events through the same queue: new AFL-style coverage, a
// change in observed length, an indirect function call/switch target, and
// the UDP-amplification synthetic cond.
const (
	OpBasicMask = 0xff
	OpSignMask  = 0x100
	OpBoolMask  = 0x200

	OpICmpEQ  = 32
	OpICmpNE  = 33
	OpICmpUGT = 34
	OpICmpUGE = 35
	OpICmpULT = 36
	OpICmpULE = 37
	OpICmpSGT = 38
	OpICmpSGE = 39
	OpICmpSLT = 40
	OpICmpSLE = 41

	OpFCmpFalse = 0
	OpFCmpTrue  = 15

	OpSwitch = 0x10

	// maxExploreOp bounds the basic-comparison "explore" range (coarse
	// gradient descent towards flipping the branch).
	maxExploreOp = 0x2ff
	// maxExploitOp bounds the "exploit" range (fine-grained narrowing of
	// an already-flipped branch, e.g. towards a boundary value).
	maxExploitOp = 0x4ff

	OpAFL    = 0x500
	OpLength = 0x501
	OpCall   = 0x502
	OpAmp    = 0x503
)

// FuzzType selects which search strategy handles a Cond.
type FuzzType int

const (
	FuzzAFL FuzzType = iota
	FuzzLength
	FuzzCmpFn
	FuzzAmp
	FuzzExplore
	FuzzExploit
	FuzzOther

	// FuzzTypeCount is the number of FuzzType variants, sized for a
	// per-fuzz-type stats array (e.g. internal/stats.FuzzStats).
	FuzzTypeCount
)

func (t FuzzType) String() string {
	switch t {
	case FuzzAFL:
		return "afl"
	case FuzzLength:
		return "length"
	case FuzzCmpFn:
		return "cmpfn"
	case FuzzAmp:
		return "amp"
	case FuzzExplore:
		return "explore"
	case FuzzExploit:
		return "exploit"
	default:
		return "other"
	}
}

// BaseSize is the fixed wire size of CondBase, matching the target's
// repr(C) struct so it can be placed in shared memory as-is.
const BaseSize = 4*12 + 8*2

// CondBase is shared with the target through the condition-channel SHM.
// Field order and size are part of the wire contract: do not reorder.
type CondBase struct {
	Cmpid        uint32
	ThreadID     int32
	Context      uint32
	LastCallsite uint32
	Order        uint32
	Belong       uint32
	Condition    uint32
	Level        uint32
	Op           uint32
	Size         uint32
	Lb1          uint32
	Lb2          uint32
	Arg1         uint64
	Arg2         uint64
}

// Identity is the deduplication key: no two depot entries share one.
type Identity struct {
	Cmpid, Context, Order, Op uint32
}

func (b *CondBase) Identity() Identity {
	return Identity{b.Cmpid, b.Context, b.Order, b.Op}
}

// FlipCondition toggles FALSE<->TRUE. A no-op on a DONE cond: DONE never
// becomes not-DONE.
func (b *CondBase) FlipCondition() {
	switch b.Condition {
	case StateFalse:
		b.Condition = StateTrue
	case StateTrue:
		b.Condition = StateFalse
	}
}

// MarkDone transitions to DONE. The byte metadata lives on Cond and is
// cleared by Cond.MarkAsDone.
func (b *CondBase) MarkDone() {
	b.Condition = StateDone
}

func (b *CondBase) IsDone() bool { return b.Condition == StateDone }

func (b *CondBase) IsExplore() bool { return b.Op <= maxExploreOp }

func (b *CondBase) IsExploitable() bool {
	return b.Op > maxExploreOp && b.Op <= maxExploitOp
}

func (b *CondBase) IsSigned() bool {
	basic := b.Op & OpBasicMask
	return b.Op&OpSignMask > 0 || (basic >= OpICmpSGT && basic <= OpICmpSLE)
}

func (b *CondBase) IsAFL() bool { return b.Op == OpAFL }

func (b *CondBase) IsLength() bool { return b.Op == OpLength }

func (b *CondBase) IsSwitch() bool { return b.Op&OpBasicMask == OpSwitch }

func (b *CondBase) IsAmp() bool { return b.Op == OpAmp }

func (b *CondBase) MayBeBool() bool {
	return b.Op&OpBasicMask == OpICmpEQ && b.Arg1 <= 1 && b.Arg2 <= 1
}

func (b *CondBase) IsFloat() bool {
	return b.Op&OpBasicMask <= OpFCmpTrue
}

// FuzzType classifies which strategy should handle this cond.
func (b *CondBase) FuzzType() FuzzType {
	switch {
	case b.IsAFL():
		return FuzzAFL
	case b.IsLength():
		return FuzzLength
	case b.IsAmp():
		return FuzzAmp
	case b.IsSwitch():
		return FuzzCmpFn
	case b.IsExplore():
		return FuzzExplore
	case b.IsExploitable():
		return FuzzExploit
	default:
		return FuzzOther
	}
}

// MarshalBinary encodes CondBase in its fixed little-endian wire layout,
// matching the target's repr(C) struct byte-for-byte.
func (b *CondBase) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BaseSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], b.Cmpid)
	le.PutUint32(buf[4:], uint32(b.ThreadID))
	le.PutUint32(buf[8:], b.Context)
	le.PutUint32(buf[12:], b.LastCallsite)
	le.PutUint32(buf[16:], b.Order)
	le.PutUint32(buf[20:], b.Belong)
	le.PutUint32(buf[24:], b.Condition)
	le.PutUint32(buf[28:], b.Level)
	le.PutUint32(buf[32:], b.Op)
	le.PutUint32(buf[36:], b.Size)
	le.PutUint32(buf[40:], b.Lb1)
	le.PutUint32(buf[44:], b.Lb2)
	le.PutUint64(buf[48:], b.Arg1)
	le.PutUint64(buf[56:], b.Arg2)
	return buf, nil
}

// UnmarshalBinary decodes a CondBase written by the target.
func (b *CondBase) UnmarshalBinary(buf []byte) error {
	if len(buf) < BaseSize {
		return fmt.Errorf("cond: short buffer: %d < %d", len(buf), BaseSize)
	}
	le := binary.LittleEndian
	b.Cmpid = le.Uint32(buf[0:])
	b.ThreadID = int32(le.Uint32(buf[4:]))
	b.Context = le.Uint32(buf[8:])
	b.LastCallsite = le.Uint32(buf[12:])
	b.Order = le.Uint32(buf[16:])
	b.Belong = le.Uint32(buf[20:])
	b.Condition = le.Uint32(buf[24:])
	b.Level = le.Uint32(buf[28:])
	b.Op = le.Uint32(buf[32:])
	b.Size = le.Uint32(buf[36:])
	b.Lb1 = le.Uint32(buf[40:])
	b.Lb2 = le.Uint32(buf[44:])
	b.Arg1 = le.Uint64(buf[48:])
	b.Arg2 = le.Uint64(buf[56:])
	return nil
}

// TagSeg is a half-open input byte range with a signedness hint.
type TagSeg struct {
	Begin uint32
	End   uint32
	Sign  bool
}

// CondState tracks how far the search has gotten solving one Cond.
type CondState int

const (
	StateInitial CondState = iota
	StateOneByte
	StateDet
	StateUnsolvable
	StateTimeout
)

// Cond is the fuzzer-private enrichment of a CondBase: taint byte ranges,
// last-seen probe bytes, and search bookkeeping.
type Cond struct {
	Base             CondBase
	Offsets          []TagSeg
	OffsetsOpt       []TagSeg
	Variables        []byte
	Speed            uint32
	IsDesirable      bool
	IsConsistent     bool
	IsTarget         bool
	FuzzTimes        int
	State            CondState
	NumMinimalOptima int
	Linear           bool
}

func New(base CondBase) *Cond {
	return &Cond{Base: base, IsDesirable: true, IsConsistent: true}
}

// NewAmpCond builds the synthetic cond enqueued after an unlimited-memory
// re-run confirms an Amp finding: it carries no taint offsets, just enough
// identity (keyed by the saved input's depot id) to route it to the amp
// search strategy.
func NewAmpCond(belong uint32) *Cond {
	return New(CondBase{Cmpid: belong, Op: OpAmp, Belong: belong, Condition: StateFalse})
}

// NewAFLCond builds the synthetic cond enqueued for a coverage-new input
// when AFL-style mutation is enabled, carrying the measured speed and edge
// count so the AFL strategy can weigh havoc budget against them.
func NewAFLCond(belong, speed uint32, edgeNum int) *Cond {
	return New(CondBase{Cmpid: belong, Op: OpAFL, Belong: belong, Size: uint32(edgeNum), Arg1: uint64(speed), Condition: StateFalse})
}

func (c *Cond) Identity() Identity { return c.Base.Identity() }

// IsDiscarded reports whether a search strategy has given up on this cond
// (it timed out repeatedly or was judged unsolvable) or it's already DONE.
func (c *Cond) IsDiscarded() bool {
	return c.Base.IsDone() || c.State == StateUnsolvable || c.State == StateTimeout
}

// MarkAsDone marks the underlying cond DONE and clears its byte metadata:
// offsets, optional offsets and probe bytes no longer matter once a cond
// will never be scheduled again.
func (c *Cond) MarkAsDone() {
	c.Base.MarkDone()
	c.Offsets = nil
	c.OffsetsOpt = nil
	c.Variables = nil
}
