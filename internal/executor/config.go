// Package executor drives one target execution: environment assembly,
// process spawn under a memory limit and its own session, the UDP
// send/receive round trip, exit classification, and the follow-on
// bookkeeping (speed measurement, unlimited-memory re-run, track-run)
// spec §4.7 describes.
package executor

import "time"

// Config is the static, per-job configuration of an Executor. It mirrors
// the CLI flags of spec §6 one-for-one.
type Config struct {
	// Target is the argv of the instrumented binary under test. An
	// element equal to inputPlaceholder is substituted with the current
	// test case's file path; if no such element is present the path is
	// appended as the last argument (see buildArgv). (stdin piping is
	// not used in this build — AmpFuzz
	// targets read their input off the wire, not off stdin).
	Target []string
	// Track is the argv of the track-instrumented sibling binary, same
	// substitution rule as Target.
	Track []string

	// TargetAddr is host:port the UDP input is sent to.
	TargetAddr string

	// MemLimitMB bounds the child's address space; 0 means unlimited.
	MemLimitMB int

	StartupLimit  time.Duration
	ResponseLimit time.Duration

	EnableListenReady  bool
	EnableAFL          bool
	EnableExploitation bool
	EnableAmp          bool
	Directed           bool

	// EarlyTermination is handed to the target verbatim: none, dynamic,
	// static or full.
	EarlyTermination string

	LdLibraryPath string
	UsesASan      bool
	AsanOptions   string
	MsanOptions   string
}

// inputPlaceholder is substituted with the test case's file path in
// Target/Track argv, matching the CLI's "@@" convention (spec §6).
const inputPlaceholder = "@@"

// Tuning constants not named by the retrieved Rust sources (only their
// call sites survived distillation) but required to complete the
// control flow spec §4.7/§7 describe; chosen to match the shape of the
// teacher's own default knobs rather than invented from nothing.
const (
	// memLimitTrackMB is always unlimited: a track-run must observe the
	// same coverage a later unlimited-memory re-run would, and both are
	// there to distinguish "real" crashes from memory-limit artifacts.
	memLimitTrackMB = 0
	// timeLimitTrackFactor scales both timeouts for the slower,
	// instrumented track binary.
	timeLimitTrackFactor = 2
	// maxInvariableNum is how many consecutive runs may report the same
	// cond output before the search gives up spending budget on it.
	maxInvariableNum = 8
	// tmoutSkip is how many consecutive per-cond timeouts before the
	// search marks that cond StateTimeout and skips it.
	tmoutSkip = 5
	// msanErrorCode is the exit code an ASan/MSan-instrumented target
	// uses to report a sanitizer error rather than a raw signal.
	msanErrorCode = 86
)

func (c Config) trackStartupLimit() time.Duration {
	return c.StartupLimit * timeLimitTrackFactor
}

func (c Config) trackResponseLimit() time.Duration {
	return c.ResponseLimit * timeLimitTrackFactor
}

// buildArgv substitutes inputPlaceholder with inputPath, returning the
// program and the rest of the argv separately (exec.Command's shape).
// If template carries no placeholder, inputPath is appended as a final
// positional argument.
func buildArgv(template []string, inputPath string) (prog string, args []string) {
	args = make([]string, 0, len(template))
	found := false
	for i, a := range template {
		if i == 0 {
			prog = a
			continue
		}
		if a == inputPlaceholder {
			args = append(args, inputPath)
			found = true
			continue
		}
		args = append(args, a)
	}
	if !found {
		args = append(args, inputPath)
	}
	return prog, args
}
