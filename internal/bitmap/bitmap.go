// Package bitmap implements the branch coverage bitmap: the per-run trace
// buffer, the triple of virgin-maps (Normal/Timeout/Crash) that detect new
// coverage, path hashing, and amplification bookkeeping.
package bitmap

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/cispa/ampfuzz/internal/bytecount"
	"github.com/cispa/ampfuzz/internal/shm"
	"github.com/cispa/ampfuzz/internal/status"
)

// MapSize is the fixed bitmap size shared with the target via
// ANGORA_BRANCHES_SHM_ID.
const MapSize = 1 << 16

// countLookup buckets a raw hit count into one of
// {1,2,4,8,16,32,64,128} by power of two, same table the instrumented
// runtime and the fuzzer both use so their bit interpretation matches.
var countLookup = buildCountLookup()

func buildCountLookup() [256]byte {
	var t [256]byte
	bucket := func(n int) byte {
		switch {
		case n == 0:
			return 0
		case n == 1:
			return 1
		case n == 2:
			return 2
		case n == 3:
			return 4
		case n <= 7:
			return 8
		case n <= 15:
			return 16
		case n <= 31:
			return 32
		case n <= 127:
			return 64
		default:
			return 128
		}
	}
	for i := range t {
		t[i] = bucket(i)
	}
	return t
}

// BitmapHash identifies an execution path by hashing the sequence of
// edges it touched.
type BitmapHash = uint64

// PathAmplification maps a path hash to the best AmpByteCount seen on
// that path.
type PathAmplification map[BitmapHash]bytecount.AmpByteCount

// DirectedTargets is the subset of the dynamic CFG the bitmap needs:
// whether a given edge can reach any live target. Accepting this narrow
// interface (rather than the concrete *cfg.Graph) keeps bitmap free of a
// dependency on cfg.
type DirectedTargets interface {
	HasPathToTarget(cmpid uint32) bool
}

// GlobalBranches is the process-wide coverage state shared by every
// worker's Branches.
type GlobalBranches struct {
	virginNormal  virginMap
	virginTimeout virginMap
	virginCrash   virginMap

	density uint64 // atomic; count of edges ever hit for the first time, Normal/Amp runs only

	mu               sync.Mutex
	pathAmp          PathAmplification
	maxAmplification bytecount.AmpByteCount

	cfg DirectedTargets
}

type virginMap struct {
	mu  sync.RWMutex
	buf [MapSize]byte
}

func (v *virginMap) reset() {
	for i := range v.buf {
		v.buf[i] = 0xff
	}
}

// NewGlobalBranches constructs fresh, all-unseen virgin-maps. cfg may be
// nil until the dynamic CFG is wired in (directed mode is then a no-op
// that treats every edge as reaching a target, see Branches.HasNew).
func NewGlobalBranches(cfg DirectedTargets) *GlobalBranches {
	g := &GlobalBranches{
		pathAmp: make(PathAmplification),
		cfg:     cfg,
	}
	g.virginNormal.reset()
	g.virginTimeout.reset()
	g.virginCrash.reset()
	return g
}

// Density returns the fraction of the bitmap that has ever been hit, as a
// percentage (e.g. 12.34).
func (g *GlobalBranches) Density() float32 {
	d := atomic.LoadUint64(&g.density)
	return float32(d) * 100 / MapSize
}

// edgeHit is one non-zero bitmap entry, with its bucketed count.
type edgeHit struct {
	idx   int
	count byte
}

// Branches owns one worker's per-run trace segment and a reference to the
// shared GlobalBranches.
type Branches struct {
	global *GlobalBranches
	trace  *shm.Segment
}

// New allocates a fresh per-run trace segment.
func New(global *GlobalBranches) (*Branches, error) {
	seg, err := shm.New(MapSize)
	if err != nil {
		return nil, err
	}
	return &Branches{global: global, trace: seg}, nil
}

// ID returns the SHM id handed to the target as ANGORA_BRANCHES_SHM_ID.
func (b *Branches) ID() int { return b.trace.ID() }

// ClearTrace zeroes the bitmap before a run.
func (b *Branches) ClearTrace() { b.trace.Zero() }

// Close releases the trace segment.
func (b *Branches) Close() error { return b.trace.Close() }

func (b *Branches) path() []edgeHit {
	buf := b.trace.Bytes()
	var path []edgeHit
	for i, v := range buf {
		if v > 0 {
			path = append(path, edgeHit{idx: i, count: countLookup[v]})
		}
	}
	return path
}

// PathHash deterministically hashes the sequence of hit edge indices (not
// their counts) so the same set-of-edges-in-order always yields the same
// hash, used to key PathAmplification.
func (b *Branches) PathHash() BitmapHash {
	path := b.path()
	h := xxhash.New()
	idxBuf := make([]byte, 8)
	for _, e := range path {
		for i := 0; i < 8; i++ {
			idxBuf[i] = byte(uint64(e.idx) >> (8 * i))
		}
		h.Write(idxBuf)
	}
	return h.Sum64()
}

// HasNew scans the just-completed run's trace against the global
// virgin-map selected by status.Kind, clearing any bits the run newly
// hit and (when directed mode is on) checking whether any of those
// edges can reach a live target in the dynamic CFG.
//
// Returns (hasNewPath, hasNewEdge, edgeCount, hasGoodAmp):
//   - hasNewPath: true if this run cleared any virgin bit (a never-seen
//     edge or a new hit-count bucket on a known edge); in directed mode,
//     only if one of those edges can also reach a live target.
//   - hasNewEdge: true iff the run hit an edge never seen before in the
//     selected virgin-map.
//   - edgeCount: total number of distinct edges touched this run.
//   - hasGoodAmp: true iff status is Amp and it improved the global or
//     per-path best amplification, or landed on new coverage.
func (b *Branches) HasNew(st status.Type, directed bool) (hasNewPath, hasNewEdge bool, edgeCount int, hasGoodAmp bool) {
	var vm *virginMap
	switch st.Kind {
	case status.Normal, status.Amp:
		vm = &b.global.virginNormal
	case status.Timeout:
		vm = &b.global.virginTimeout
	case status.Crash:
		vm = &b.global.virginCrash
	default:
		return false, false, 0, false
	}

	path := b.path()
	edgeCount = len(path)

	type update struct {
		idx   int
		value byte
	}
	var toWrite []update
	var numNewEdge int

	vm.mu.RLock()
	for _, e := range path {
		gbv := vm.buf[e.idx]
		if gbv == 0xff {
			numNewEdge++
		}
		if e.count&gbv > 0 {
			toWrite = append(toWrite, update{idx: e.idx, value: gbv &^ e.count})
		}
	}
	vm.mu.RUnlock()

	if numNewEdge > 0 {
		if st.Kind == status.Normal || st.Kind == status.Amp {
			atomic.AddUint64(&b.global.density, uint64(numNewEdge))
		}
		hasNewEdge = true
	}

	if st.Kind == status.Amp {
		b.global.mu.Lock()
		hasGoodAmp = hasNewEdge
		if bytecount.Compare(st.AmpCount, b.global.maxAmplification) > 0 {
			b.global.maxAmplification = st.AmpCount
			hasGoodAmp = true
		}
		if old, ok := b.global.pathAmp[st.PathHash]; !ok {
			b.global.pathAmp[st.PathHash] = st.AmpCount
		} else if bytecount.Compare(st.AmpCount, old) > 0 {
			b.global.pathAmp[st.PathHash] = st.AmpCount
			hasGoodAmp = true
		}
		b.global.mu.Unlock()
	}

	if len(toWrite) == 0 {
		return false, hasNewEdge, edgeCount, hasGoodAmp
	}

	vm.mu.Lock()
	for _, u := range toWrite {
		vm.buf[u.idx] = u.value
	}
	vm.mu.Unlock()

	if !directed {
		return true, hasNewEdge, edgeCount, hasGoodAmp
	}

	if b.global.cfg == nil {
		return true, hasNewEdge, edgeCount, hasGoodAmp
	}

	hasNewDirectedEdge := false
	for _, u := range toWrite {
		if b.global.cfg.HasPathToTarget(uint32(u.idx)) {
			hasNewDirectedEdge = true
			break
		}
	}
	return hasNewDirectedEdge, hasNewEdge, edgeCount, hasGoodAmp
}

// MaxAmplification returns the best amplification seen across all paths.
func (g *GlobalBranches) MaxAmplification() bytecount.AmpByteCount {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxAmplification
}

// PathAmplifications returns a snapshot copy of the per-path best
// amplification table, safe for a stats consumer to range over.
func (g *GlobalBranches) PathAmplifications() PathAmplification {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(PathAmplification, len(g.pathAmp))
	for k, v := range g.pathAmp {
		out[k] = v
	}
	return out
}
