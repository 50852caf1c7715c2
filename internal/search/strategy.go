package search

import "github.com/cispa/ampfuzz/internal/cond"

// Strategy drives a Handler's cond to completion, whatever "completion"
// means for its fuzz type: exhausting a mutation budget, converging a
// gradient descent, or marking the cond done outright.
type Strategy interface {
	Run()
}

// Options carries the run-wide toggles a strategy factory needs to decide
// how (or whether) to run. Strategies that don't consult a toggle ignore
// the corresponding field.
type Options struct {
	// EnableAmp gates the Amp strategy's trailing-byte shrink. A disabled
	// strategy marks its cond done without spending a single execution.
	EnableAmp bool
}

// New picks the strategy for h.Cond's fuzz type. Only Amp is fully driven
// here; the rest are thin placeholders that retire their cond immediately
// — AFL-havoc, length mutation, indirect-call-target search and the
// explore/exploit gradient descent are pluggable strategies out of scope
// for this build, but still need a dispatch arm so every queue entry
// terminates instead of looping forever on an unhandled fuzz type.
func New(h *Handler, opts Options) Strategy {
	switch h.Cond.Base.FuzzType() {
	case cond.FuzzAmp:
		return &AmpStrategy{handler: h, enabled: opts.EnableAmp}
	case cond.FuzzAFL:
		return &markDone{h}
	case cond.FuzzLength:
		return &markDone{h}
	case cond.FuzzCmpFn:
		return &markDone{h}
	case cond.FuzzExplore:
		return &markDone{h}
	case cond.FuzzExploit:
		return &markDone{h}
	default:
		return &markDone{h}
	}
}

// markDone is the placeholder strategy for fuzz types not implemented in
// this build: it retires the cond without executing anything.
type markDone struct {
	handler *Handler
}

func (m *markDone) Run() {
	m.handler.Cond.MarkAsDone()
}
