package executor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cispa/ampfuzz/internal/bitmap"
	"github.com/cispa/ampfuzz/internal/bytecount"
	"github.com/cispa/ampfuzz/internal/cfg"
	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/ipc"
	"github.com/cispa/ampfuzz/internal/status"
	"github.com/cispa/ampfuzz/internal/tracklog"
)

// Depot is the slice of *depot.Depot the executor needs: persisting
// interesting inputs and enqueueing newly discovered conds. Accepting
// this narrow interface keeps executor free of a direct depot
// dependency, the same pattern depot.Scorer uses for cfg.
type Depot interface {
	Save(st status.Type, buf []byte, cmpid uint32) (int, error)
	AddEntries(conds []*cond.Cond)
}

// Recorder receives executor-observed events destined for the stats
// subsystem. A nil Recorder is valid: every call site checks before use.
type Recorder interface {
	RecordExec()
	RecordNewPath(pathHash uint64, st status.Type)
	RecordEdgeNum(n int)
	RecordExecTimeUs(us uint32)
}

// Executor drives one worker's target executions. It owns the two SHM
// handles, the listen-semaphore, the per-worker stop pipe, and a scratch
// input file reused across runs.
type Executor struct {
	cfgOpt Config

	branches  *bitmap.Branches
	condChan  *ipc.CondChannel
	listenSem *ipc.Semaphore
	stop      *stopPipe

	depot    Depot
	graph    *cfg.Graph
	recorder Recorder

	inputPath string

	// dryRunMu serializes DryRun only: depot.SyncDepot fires one goroutine
	// per seed file against the same bootstrap Executor, and the SHM
	// bitmap, scratch input file and stop pipe are not safe for concurrent
	// target runs. The normal fuzz loop never needs this lock — each
	// worker owns its Executor exclusively.
	dryRunMu sync.Mutex

	tmoutCnt      int
	invariableCnt int
	lastOutput    uint64
}

// New wires a fresh Executor: allocates the bitmap and condition-channel
// SHM segments, the listen-semaphore and the per-worker input scratch
// file and stop pipe.
func New(cfg Config, global *bitmap.GlobalBranches, d Depot, graph *cfg.Graph, rec Recorder) (*Executor, error) {
	branches, err := bitmap.New(global)
	if err != nil {
		return nil, fmt.Errorf("executor: allocating bitmap: %w", err)
	}
	condChan, err := ipc.NewCondChannel()
	if err != nil {
		branches.Close()
		return nil, fmt.Errorf("executor: allocating cond channel: %w", err)
	}

	// The semaphore is always allocated (the target always posts to it on
	// a fuzz-relevant receive, even when the fuzzer isn't configured to
	// wait on it for readiness); only its id is conditionally exported.
	sem, err := ipc.New()
	if err != nil {
		branches.Close()
		condChan.Close()
		return nil, fmt.Errorf("executor: allocating listen semaphore: %w", err)
	}

	stop, err := newStopPipe()
	if err != nil {
		branches.Close()
		condChan.Close()
		sem.Close()
		return nil, fmt.Errorf("executor: creating stop pipe: %w", err)
	}

	inputFile, err := os.CreateTemp("", "ampfuzz-input-*")
	if err != nil {
		branches.Close()
		condChan.Close()
		sem.Close()
		stop.close()
		return nil, fmt.Errorf("executor: creating input scratch file: %w", err)
	}
	inputPath := inputFile.Name()
	inputFile.Close()

	return &Executor{
		cfgOpt:     cfg,
		branches:   branches,
		condChan:   condChan,
		listenSem:  sem,
		stop:       stop,
		depot:      d,
		graph:      graph,
		recorder:   rec,
		inputPath:  inputPath,
		lastOutput: ipc.Unreachable,
	}, nil
}

// Close releases the SHM segments, semaphore, stop pipe and scratch file.
func (e *Executor) Close() error {
	os.Remove(e.inputPath)
	e.stop.close()
	e.listenSem.Close()
	if err := e.condChan.Close(); err != nil {
		return err
	}
	return e.branches.Close()
}

// DryRun exercises a single seed with no cond attached, for depot.SyncDepot.
// It returns an error only when the seed file cannot be read; it never
// errors on lack of coverage (the "dry-run empty" setup-fatal condition
// is judged by the caller across all seeds, not per-seed).
func (e *Executor) DryRun(path string) error {
	e.dryRunMu.Lock()
	defer e.dryRunMu.Unlock()

	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	e.runSync(buf)
	return nil
}

func (e *Executor) writeInput(buf []byte) error {
	return os.WriteFile(e.inputPath, buf, 0o600)
}

// runInner is one bare target execution: write input, clear trace, spawn
// and wait. The SeqCst fences the Rust original brackets this with exist
// to order SHM writes around the syscalls that hand the segment to the
// child; Go's memory model gives the same ordering for free across a
// process boundary (the writes happen in this goroutine before the
// fork/exec syscall, and are read only after wait4 returns), so no
// explicit fence is needed here.
func (e *Executor) runInner(buf []byte) status.Type {
	if err := e.writeInput(buf); err != nil {
		logrus.WithError(err).Error("executor: writing input")
		return status.Of(status.Error)
	}
	e.branches.ClearTrace()

	st := e.runTarget(e.cfgOpt.Target, e.cfgOpt.MemLimitMB, e.cfgOpt.StartupLimit, e.cfgOpt.ResponseLimit, "", buf)
	if e.recorder != nil {
		e.recorder.RecordExec()
	}
	return st
}

func (e *Executor) runSync(buf []byte) {
	st := e.runInner(buf)
	e.doIfHasNew(buf, st, nil)
}

// Run executes buf with no cond attached (the non-instrumented fuzz-loop
// fast path), returning the classified outcome.
func (e *Executor) Run(buf []byte) status.Type {
	st := e.runInner(buf)
	e.doIfHasNew(buf, st, nil)
	return st
}

// RunWithCond is the strategy-facing entry point: it arms the condition
// channel with cond, runs buf, and folds the observed output back into
// cond's own progress bookkeeping (explored / invariable / consistency),
// on top of the same has-new-coverage handling Run does.
func (e *Executor) RunWithCond(buf []byte, c *cond.Cond) (status.Type, uint64) {
	if err := e.condChan.Set(c.Base); err != nil {
		logrus.WithError(err).Error("executor: arming condition channel")
		return status.Of(status.Error), ipc.Unreachable
	}

	st := e.runInner(buf)
	output := e.condChan.Output()

	explored := e.checkExplored(c, output)
	skip := e.checkInvariable(output, c)
	e.checkConsistent(output, c)

	e.doIfHasNew(buf, st, c)
	st = e.checkTimeout(st, c)

	if skip && !explored {
		st = status.Of(status.Skip)
	}
	return st, output
}

// checkExplored marks c DONE once its output reaches the f(x)==0 target a
// comparison cond is driving towards.
func (e *Executor) checkExplored(c *cond.Cond, output uint64) bool {
	if output == 0 && !c.Base.IsDone() {
		c.MarkAsDone()
		return true
	}
	return false
}

// checkInvariable stops spending budget on a cond whose output hasn't
// moved in maxInvariableNum consecutive runs (spec §7's "invariable cond"
// error kind), unless the search has already committed to a one-byte or
// deterministic pass for it.
func (e *Executor) checkInvariable(output uint64, c *cond.Cond) bool {
	skip := false
	if output == e.lastOutput {
		e.invariableCnt++
		// invariableCnt counts repeats after the first run with this
		// output, so the run count is invariableCnt+1.
		if e.invariableCnt+1 >= maxInvariableNum {
			c.IsDesirable = false
			if c.State != cond.StateDet && c.State != cond.StateOneByte {
				skip = true
			}
		}
	} else {
		e.invariableCnt = 0
	}
	e.lastOutput = output
	return skip
}

// checkConsistent flags a cond whose very first probe came back
// Unreachable: the taint analysis that found it disagrees with the
// runtime about whether its site is even reachable.
func (e *Executor) checkConsistent(output uint64, c *cond.Cond) {
	if output == ipc.Unreachable && c.State == cond.StateInitial {
		c.IsConsistent = false
		logrus.WithField("cmpid", c.Base.Cmpid).Warn("executor: inconsistent cond")
	}
}

// checkTimeout folds a per-run Error status into Timeout and retires a
// cond that has timed out tmoutSkip times in a row.
func (e *Executor) checkTimeout(st status.Type, c *cond.Cond) status.Type {
	if st.Kind == status.Error {
		st = status.Of(status.Timeout)
	}
	if st.Kind == status.Timeout {
		e.tmoutCnt++
		if e.tmoutCnt >= tmoutSkip {
			c.State = cond.StateTimeout
			e.tmoutCnt = 0
			return status.Of(status.Skip)
		}
	} else {
		e.tmoutCnt = 0
	}
	return st
}

// doIfHasNew is step 10 of spec §4.7: scan coverage, and on anything
// interesting, persist it and (for a genuinely new Normal/Amp path) chain
// into speed measurement, the unlimited-memory re-run, and a track-run.
func (e *Executor) doIfHasNew(buf []byte, st status.Type, parent *cond.Cond) {
	var cmpid uint32
	if parent != nil {
		cmpid = parent.Base.Cmpid
	}

	hasNewPath, _, edgeNum, hasGoodAmp := e.branches.HasNew(st, e.cfgOpt.Directed)
	if !hasNewPath && !hasGoodAmp {
		return
	}

	if e.recorder != nil {
		e.recorder.RecordNewPath(st.PathHash, st)
	}
	id, err := e.depot.Save(st, buf, cmpid)
	if err != nil {
		logrus.WithError(err).Error("executor: saving interesting input")
		return
	}

	if st.Kind != status.Normal && st.Kind != status.Amp {
		return
	}

	if e.recorder != nil {
		e.recorder.RecordEdgeNum(edgeNum)
	}
	speed := e.countTime(buf)
	if e.recorder != nil {
		e.recorder.RecordExecTimeUs(speed)
	}

	unmemStatus := e.tryUnlimitedMemory(buf, cmpid)

	if e.cfgOpt.EnableAmp && unmemStatus.Kind == status.Amp {
		if parent == nil || !parent.Base.IsAmp() {
			e.depot.AddEntries([]*cond.Cond{cond.NewAmpCond(uint32(id))})
		}
	}

	if hasNewPath && (unmemStatus.Kind == status.Normal || unmemStatus.Kind == status.Amp) {
		conds := e.track(uint32(id), buf, speed)
		if len(conds) > 0 {
			e.depot.AddEntries(conds)
			if e.cfgOpt.EnableAFL {
				e.depot.AddEntries([]*cond.Cond{cond.NewAFLCond(uint32(id), speed, edgeNum)})
			}
		}
	}
}

// tryUnlimitedMemory re-runs buf with no memory limit, to tell a genuine
// crash/hang apart from one that's only an artifact of MemLimitMB.
func (e *Executor) tryUnlimitedMemory(buf []byte, cmpid uint32) status.Type {
	e.branches.ClearTrace()
	st := e.runTarget(e.cfgOpt.Target, 0, e.cfgOpt.StartupLimit, e.cfgOpt.ResponseLimit, "", buf)

	if st.Kind != status.Normal && st.Kind != status.Amp {
		logrus.WithField("status", st.Kind).Warn("executor: behavior changed with unlimited memory")
		if hasNew, _, _, _ := e.branches.HasNew(st, e.cfgOpt.Directed); hasNew {
			if _, err := e.depot.Save(st, buf, cmpid); err != nil {
				logrus.WithError(err).Error("executor: saving unlimited-memory finding")
			}
		}
	}
	return st
}

// countTime replays buf three times to estimate the target's average
// response latency in microseconds, used as a Cond's Speed for depot
// tie-breaking and as the AFL synthetic cond's weight.
func (e *Executor) countTime(buf []byte) uint32 {
	start := time.Now()
	for i := 0; i < 3; i++ {
		e.runTarget(e.cfgOpt.Target, e.cfgOpt.MemLimitMB, e.cfgOpt.StartupLimit, e.cfgOpt.ResponseLimit, "", buf)
	}
	return uint32(time.Since(start).Microseconds() / 3)
}

// track runs buf against the track-instrumented binary and turns its log
// into depot-ready conds: spec §4.7's CFG-edge-building, indirect-callsite
// and magic-bytes bookkeeping.
func (e *Executor) track(id uint32, buf []byte, speed uint32) []*cond.Cond {
	logPath := filepath.Join(os.TempDir(), "ampfuzz-track-"+uuid.NewString())
	defer os.Remove(logPath)

	st := e.runTarget(e.cfgOpt.Track, memLimitTrackMB, e.cfgOpt.trackStartupLimit(), e.cfgOpt.trackResponseLimit(), logPath, buf)
	if st.Kind != status.Normal && st.Kind != status.Amp {
		logrus.WithField("status", st.Kind).WithField("id", id).Error("executor: crash or hang while tracking")
		return nil
	}

	condList, loadPaths := tracklog.LoadTrackData(logPath, id, speed, e.cfgOpt.EnableExploitation)

	for _, lp := range loadPaths {
		sidecar := lp + ".targets.json"
		if _, err := os.Stat(sidecar); err != nil {
			continue
		}
		if err := e.graph.AppendFile(sidecar); err != nil {
			logrus.WithField("path", sidecar).WithError(err).Warn("executor: merging CFG sidecar")
		}
	}

	fixed := e.buildCfgEdges(condList, buf)

	for _, c := range condList {
		if e.graph.IsTarget(c.Base.Cmpid) {
			c.IsTarget = true
		}
	}

	return append(condList, fixed...)
}

// buildCfgEdges groups condList by thread id (preserving first-seen
// order) and, for every pair adjacent in track-emission order, records
// the CFG edge between them plus the indirect-callsite/magic-bytes
// bookkeeping spec §4.7 describes, returning the resulting "fixed"
// duplicate conds.
func (e *Executor) buildCfgEdges(condList []*cond.Cond, buf []byte) []*cond.Cond {
	var threadOrder []int32
	groups := make(map[int32][]*cond.Cond)
	for _, c := range condList {
		tid := c.Base.ThreadID
		if _, ok := groups[tid]; !ok {
			threadOrder = append(threadOrder, tid)
		}
		groups[tid] = append(groups[tid], c)
	}

	dominatorOffsets := make(map[cfg.CmpId][]cond.TagSeg)
	var fixed []*cond.Cond

	for _, tid := range threadOrder {
		list := groups[tid]
		for i := 0; i+1 < len(list); i++ {
			a, b := list[i], list[i+1]
			edge := cfg.Edge{A: a.Base.Cmpid, B: b.Base.Cmpid}
			e.graph.AddEdge(edge)

			if e.graph.DominatesIndirectCall(a.Base.Cmpid) {
				dominatorOffsets[a.Base.Cmpid] = a.Offsets
			}

			if b.Base.LastCallsite == 0 {
				continue
			}

			e.graph.SetEdgeIndirect(edge, b.Base.LastCallsite)
			var fixedOffsets []cond.TagSeg
			for _, dom := range e.graph.GetCallsiteDominators(b.Base.LastCallsite) {
				fixedOffsets = append(fixedOffsets, dominatorOffsets[dom]...)
			}
			e.graph.SetMagicBytes(edge, buf, fixedOffsets)

			fixedCond := *b
			fixedCond.Offsets = append(append([]cond.TagSeg{}, b.Offsets...), fixedOffsets...)
			fixedCond.Variables = append([]byte{}, b.Variables...)
			varLen := len(fixedCond.Variables)
			for off, v := range e.graph.GetMagicBytes(edge) {
				if off < varLen-1 {
					fixedCond.Variables[off] = v
				}
			}
			fixed = append(fixed, &fixedCond)
		}
	}

	return fixed
}

// runTarget is spec §4.7's "One execution" steps 4-9: spawn under a
// memory limit and its own session, await readiness, send the UDP input,
// wait with the response timeout, classify, and drain the reply listener.
// trackFilePath is non-empty only for a track-run.
func (e *Executor) runTarget(argvTemplate []string, memLimitMB int, startupLimit, responseLimit time.Duration, trackFilePath string, input []byte) status.Type {
	e.listenSem.Drain()

	prog, args := buildArgv(argvTemplate, e.inputPath)
	cmd := exec.Command(prog, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = e.buildEnv(trackFilePath)
	cmd.SysProcAttr = sessionAttr()
	cmd = applyMemLimit(cmd, memLimitMB)

	if err := cmd.Start(); err != nil {
		logrus.WithError(err).Error("executor: starting target")
		return status.Of(status.Error)
	}

	if e.cfgOpt.EnableListenReady {
		if !e.listenSem.WaitTimeout(startupLimit) {
			killSession(cmd.Process.Pid)
			cmd.Wait()
			return status.Of(status.Timeout)
		}
	} else {
		time.Sleep(startupLimit)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		killSession(cmd.Process.Pid)
		cmd.Wait()
		logrus.WithError(err).Error("executor: binding fuzzer socket")
		return status.Of(status.Error)
	}
	defer conn.Close()

	listener, err := startReplyListener(conn, e.stop)
	if err != nil {
		killSession(cmd.Process.Pid)
		cmd.Wait()
		logrus.WithError(err).Error("executor: starting reply listener")
		return status.Of(status.Error)
	}

	targetAddr, err := net.ResolveUDPAddr("udp4", e.cfgOpt.TargetAddr)
	if err != nil {
		killSession(cmd.Process.Pid)
		cmd.Wait()
		listener.stopAndCollect()
		logrus.WithError(err).Error("executor: resolving target address")
		return status.Of(status.Error)
	}
	if _, err := conn.WriteToUDP(input, targetAddr); err != nil {
		killSession(cmd.Process.Pid)
		cmd.Wait()
		listener.stopAndCollect()
		logrus.WithError(err).Error("executor: sending input")
		return status.Of(status.Error)
	}

	ret := e.waitForExit(cmd, responseLimit)

	output := listener.stopAndCollect()
	if ret.Kind == status.Normal && output.L7Size() > 0 {
		ret = status.NewAmp(e.branches.PathHash(), bytecount.AmpByteCount{
			BytesIn:  bytecount.FromL7(len(input)),
			BytesOut: output,
		})
	}
	return ret
}

// waitForExit waits for cmd with responseLimit, classifying the exit per
// spec §4.7 step 8. A response-wait timeout classifies Normal, never
// Timeout (see DESIGN.md's Open Question decision #1): it is the reply
// byte count, not the exit code, that defines amplification, so a target
// that's still running after replying is still a valid sample.
func (e *Executor) waitForExit(cmd *exec.Cmd, responseLimit time.Duration) status.Type {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return status.Of(status.Normal)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ProcessState.ExitCode() < 0 {
				// killed by a signal
				return status.Of(status.Crash)
			}
			if e.cfgOpt.UsesASan && exitErr.ProcessState.ExitCode() == msanErrorCode {
				return status.Of(status.Crash)
			}
			return status.Of(status.Normal)
		}
		return status.Of(status.Crash)
	case <-time.After(responseLimit):
		killSession(cmd.Process.Pid)
		<-done
		return status.Of(status.Normal)
	}
}

