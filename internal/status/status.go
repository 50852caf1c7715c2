// Package status defines the per-run outcome classification shared by the
// executor, coverage bitmap, and depot.
package status

import "github.com/cispa/ampfuzz/internal/bytecount"

// Kind is the discriminant of a Type value.
type Kind int

const (
	Normal Kind = iota
	Timeout
	Crash
	Skip
	Error
	Amp
)

func (k Kind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Timeout:
		return "timeout"
	case Crash:
		return "crash"
	case Skip:
		return "skip"
	case Error:
		return "error"
	case Amp:
		return "amp"
	default:
		return "unknown"
	}
}

// Type is a run's classified outcome. Amp carries the path hash and the
// amplification achieved, mirroring the Rust enum's Amp(BitmapHash, AmpByteCount) variant.
type Type struct {
	Kind     Kind
	PathHash uint64
	AmpCount bytecount.AmpByteCount
}

func NewAmp(pathHash uint64, amp bytecount.AmpByteCount) Type {
	return Type{Kind: Amp, PathHash: pathHash, AmpCount: amp}
}

func Of(k Kind) Type { return Type{Kind: k} }
