// Package search implements the per-fuzz-type strategies a worker runs
// against one priority-queue entry: a tagged-variant dispatch over
// cond.FuzzType, each strategy driving mutations of a shared input buffer
// through a common execute contract.
package search

import (
	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/status"
)

// Executor is the narrow slice of *executor.Executor a strategy needs:
// one condition-directed run. Decouples search from the concrete executor
// type, mirroring the executor package's own Depot/Recorder interfaces.
type Executor interface {
	RunWithCond(buf []byte, c *cond.Cond) (status.Type, uint64)
}

// Handler bundles the pieces a strategy drives: the executor, the cond
// being searched, and the seed input buf it mutates. Offsets/Variables on
// Cond carry the taint range and last-observed probe bytes a strategy
// narrows against.
type Handler struct {
	Executor Executor
	Cond     *cond.Cond
	Buf      []byte
}

// Execute runs buf against h.Cond, wrapping Executor.RunWithCond. Every
// strategy's mutation loop bottoms out here.
func (h *Handler) Execute(buf []byte) (status.Type, uint64) {
	return h.Executor.RunWithCond(buf, h.Cond)
}
