// Package depot is the process-wide priority queue of Cond plus the
// filesystem-backed seed/hang/crash/amp corpus.
package depot

import (
	"crypto/md5"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/cispa/ampfuzz/internal/bytecount"
	"github.com/cispa/ampfuzz/internal/cond"
	"github.com/cispa/ampfuzz/internal/status"
)

// PreferFastCond: when two entries share an identity but disagree only on
// speed, keep the faster one. Angora's original depot.rs always took this
// branch (the config flag was compiled in as true), so it's not exposed
// as a runtime option here either.
const PreferFastCond = true

// Scorer is the distance oracle a Depot consults when prioritizing a
// cond. *cfg.Graph satisfies this without either package importing the
// other.
type Scorer interface {
	ScoreForCmp(cmpid uint32) int
	ScoreForCmpInp(cmpid uint32, vars []byte) int
	RemoveTarget(cmpid uint32)
}

// Depot is the fuzzer's shared corpus and priority schedule.
type Depot struct {
	fs   afero.Fs
	dirs Dirs
	cfg  Scorer

	mu sync.Mutex
	q  *pqueue

	numInputs  int
	numHangs   int
	numCrashes int
	numAmps    int
}

// New builds an empty depot rooted at outDir, creating its subdirectories
// on fs.
func New(fs afero.Fs, outDir string, cfg Scorer) (*Depot, error) {
	dirs, err := NewDirs(fs, outDir)
	if err != nil {
		return nil, err
	}
	return &Depot{fs: fs, dirs: dirs, cfg: cfg, q: newPqueue()}, nil
}

// Dirs exposes the depot's on-disk layout (for e.g. fuzzer_stats).
func (d *Depot) Dirs() Dirs { return d.dirs }

func (d *Depot) saveInput(buf []byte, dir string, counter *int) (int, error) {
	id := *counter
	*counter++
	path := fileName(dir, id)
	if err := afero.WriteFile(d.fs, path, buf, 0o644); err != nil {
		return 0, fmt.Errorf("depot: saving %s: %w", path, err)
	}
	return id, nil
}

func (d *Depot) saveAmp(buf []byte, pathHash uint64, amp bytecount.AmpByteCount) (string, bool, error) {
	sum := md5.Sum(buf)
	name := fmt.Sprintf("amp_%06.2f_%x_%x", amp.AsFactor(), pathHash, sum)
	full := filepath.Join(d.dirs.Amps, name)
	if exists, _ := afero.Exists(d.fs, full); exists {
		return full, false, nil
	}
	if err := afero.WriteFile(d.fs, full, buf, 0o644); err != nil {
		return "", false, fmt.Errorf("depot: saving %s: %w", full, err)
	}
	return full, true, nil
}

// Save persists a run's input according to its classification and
// returns the id it was saved under: the queue id for Normal and Amp (the
// id a Cond.Belong should record), the hangs/ or crashes/ id for Timeout
// and Crash. It returns 0 for an Amp whose file already exists and for
// any other status.
func (d *Depot) Save(st status.Type, buf []byte, cmpid uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch st.Kind {
	case status.Normal:
		id, err := d.saveInput(buf, d.dirs.Queue, &d.numInputs)
		if err != nil {
			return 0, err
		}
		logrus.WithFields(logrus.Fields{"id": id, "cmpid": cmpid}).Trace("depot: new normal input")
		return id, nil

	case status.Timeout:
		id, err := d.saveInput(buf, d.dirs.Hangs, &d.numHangs)
		if err != nil {
			return 0, err
		}
		return id, nil

	case status.Crash:
		id, err := d.saveInput(buf, d.dirs.Crashes, &d.numCrashes)
		if err != nil {
			return 0, err
		}
		return id, nil

	case status.Amp:
		_, fresh, err := d.saveAmp(buf, st.PathHash, st.AmpCount)
		if err != nil {
			return 0, err
		}
		if !fresh {
			return 0, nil
		}
		d.numAmps++
		id, err := d.saveInput(buf, d.dirs.Queue, &d.numInputs)
		if err != nil {
			return 0, err
		}
		return id, nil

	default:
		return 0, nil
	}
}

// Empty reports whether the depot has no normal seed inputs yet.
func (d *Depot) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numInputs == 0
}

// GetInputBuf reads seed id's raw bytes back from the queue directory.
func (d *Depot) GetInputBuf(id int) ([]byte, error) {
	return afero.ReadFile(d.fs, fileName(d.dirs.Queue, id))
}

// Counts returns the running totals of each kind of saved artifact.
func (d *Depot) Counts() (inputs, hangs, crashes, amps int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numInputs, d.numHangs, d.numCrashes, d.numAmps
}

// GetEntry peeks the top-priority cond, demotes it by one round (so
// repeated fuzzing of the same hot cond doesn't starve the rest of the
// queue), and returns a private clone for the caller to mutate freely.
func (d *Depot) GetEntry() (*cond.Cond, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	it, ok := d.q.Peek()
	if !ok {
		return nil, false
	}
	if !it.priority.IsDone() {
		d.q.ChangePriority(it, it.priority.Inc())
	}
	clone := *it.cond
	return &clone, true
}

// AddEntries folds freshly observed conds into the queue: a cond not yet
// known is inserted at its CFG-distance priority; one that already exists
// either gets marked DONE (if the new run flipped the branch the other
// way from what's on file — it's explored) or, if PreferFastCond and the
// new run was faster, swapped in and re-prioritized.
func (d *Depot) AddEntries(conds []*cond.Cond) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range conds {
		if !c.IsDesirable {
			continue
		}
		distance := d.cfg.ScoreForCmpInp(c.Base.Cmpid, c.Variables)

		if it, ok := d.q.Get(c.Identity()); ok {
			if it.priority.IsDone() {
				continue
			}
			if it.cond.Base.Condition != c.Base.Condition {
				it.cond.MarkAsDone()
				d.q.ChangePriority(it, Done())
				continue
			}
			if PreferFastCond && it.cond.Speed > c.Speed {
				it.cond = c
				d.q.ChangePriority(it, InitDistance(c.Base.Op, distance))
			}
			continue
		}

		d.q.Push(c, InitDistance(c.Base.Op, distance))
	}
}

// QueueCounts is a point-in-time summary of the live priority queue, for
// stats reporting: how many entries fall under each fuzz type, and the
// highest fuzz_times reached by any explore entry.
type QueueCounts struct {
	ByFuzzType [cond.FuzzTypeCount]int
	MaxRounds  int
}

// QueueCounts scans the queue once under the depot lock. Mirrors the
// Rust depot's iter_pq: a full-queue pass recomputed on demand rather
// than kept incrementally, since stats snapshots happen a few times a
// second at most.
func (d *Depot) QueueCounts() QueueCounts {
	d.mu.Lock()
	defer d.mu.Unlock()

	var qc QueueCounts
	for _, it := range d.q.heap {
		ft := it.cond.Base.FuzzType()
		qc.ByFuzzType[ft]++
		if ft == cond.FuzzExplore && it.cond.FuzzTimes > qc.MaxRounds {
			qc.MaxRounds = it.cond.FuzzTimes
		}
	}
	return qc
}

// UpdateEntry overwrites an existing queue entry (after the search
// strategy has mutated its bookkeeping) and re-scores it. A discarded
// cond is marked DONE and its CFG target retired, since nothing will
// ever schedule it again.
func (d *Depot) UpdateEntry(c *cond.Cond) {
	d.mu.Lock()
	defer d.mu.Unlock()

	it, ok := d.q.Get(c.Identity())
	if !ok {
		logrus.WithField("cmpid", c.Base.Cmpid).Warn("depot: update entry: cond not found in queue")
		return
	}
	*it.cond = *c

	distance := d.cfg.ScoreForCmp(c.Base.Cmpid)
	d.q.ChangePriority(it, it.priority.NewDistance(distance))

	if c.IsDiscarded() {
		d.q.ChangePriority(it, Done())
		d.cfg.RemoveTarget(c.Base.Cmpid)
	}
}
