//go:build linux

package ipc

import (
	"encoding/binary"

	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/shm"
)

// Unreachable is the output sentinel a target writes when it never hit the
// requested cond's site during a run.
const Unreachable uint64 = ^uint64(0)

// channelSize is CondBase's wire size plus the trailing u64 output field.
const channelSize = cond.BaseSize + 8

// CondChannel is the single-slot condition-channel SHM: before a run the
// fuzzer writes the Cond it wants measured, and after the run reads back
// the output the target computed for f(x) = |arg1-arg2| at that site.
type CondChannel struct {
	seg *shm.Segment
}

// NewCondChannel allocates a fresh condition-channel segment.
func NewCondChannel() (*CondChannel, error) {
	seg, err := shm.New(channelSize)
	if err != nil {
		return nil, err
	}
	return &CondChannel{seg: seg}, nil
}

// ID returns the SHM id handed to the target as ANGORA_COND_STMT_SHM_ID.
func (c *CondChannel) ID() int { return c.seg.ID() }

// Set writes the cond to measure this run and resets the output slot to
// Unreachable, so a target that never hits the site leaves it unchanged.
func (c *CondChannel) Set(base cond.CondBase) error {
	wire, err := base.MarshalBinary()
	if err != nil {
		return err
	}
	buf := c.seg.Bytes()
	copy(buf, wire)
	binary.LittleEndian.PutUint64(buf[cond.BaseSize:], Unreachable)
	return nil
}

// Output reads back the f(x) value the target reported for the cond set
// by the most recent Set call.
func (c *CondChannel) Output() uint64 {
	buf := c.seg.Bytes()
	return binary.LittleEndian.Uint64(buf[cond.BaseSize:])
}

// Close releases the segment.
func (c *CondChannel) Close() error { return c.seg.Close() }
