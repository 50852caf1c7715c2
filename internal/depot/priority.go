package depot

import "github.com/cispa/ampfuzz/internal/cond"

// donePriority sorts DONE entries to the very bottom of the heap without
// ever removing them — the depot is a long-lived scheduler, not a
// one-shot work queue.
const donePriority = int(^uint(0) >> 1)

// opWeight ranks a cond's op family for initial scheduling: directed
// amplification leads come first, then exploration (still looking for a
// flip), then the switch/function-call, AFL and length events, then
// narrowing an already-flipped branch, then everything else. Ties are
// broken by CFG distance.
func opWeight(op uint32) int {
	base := cond.CondBase{Op: op}
	switch base.FuzzType() {
	case cond.FuzzAmp:
		return 0
	case cond.FuzzExplore:
		return 1
	case cond.FuzzCmpFn:
		return 2
	case cond.FuzzAFL:
		return 3
	case cond.FuzzLength:
		return 4
	case cond.FuzzExploit:
		return 5
	default:
		return 6
	}
}

// QPriority is an entry's position in the depot queue: lower Score() is
// scheduled first. It's a plain value so two QPriority built from the
// same (op, distance) always compare equal (depot invariant: priority
// determinism).
type QPriority struct {
	done     bool
	opWeight int
	distance int
	visits   int
}

// Done is the sentinel priority for a cond the depot will never schedule
// again, without discarding its queue slot.
func Done() QPriority { return QPriority{done: true} }

// InitDistance builds the starting priority for a freshly queued cond.
func InitDistance(op uint32, distance int) QPriority {
	return QPriority{opWeight: opWeight(op), distance: distance}
}

// NewDistance rescopes an existing priority to a freshly computed CFG
// distance, keeping its accrued demotion (visits) and op weight.
func (p QPriority) NewDistance(distance int) QPriority {
	p.distance = distance
	return p
}

// Inc demotes a priority by one schedule round, so other entries get a
// fairer share of worker attention.
func (p QPriority) Inc() QPriority {
	p.visits++
	return p
}

func (p QPriority) IsDone() bool { return p.done }

// Score is the heap ordering key: lower sorts first (higher priority).
func (p QPriority) Score() int {
	if p.done {
		return donePriority
	}
	// Distances of 999 and above (including an unreachable math.MaxInt)
	// all score as 999, so distance never outweighs the op weight.
	const maxScoredDistance = 999
	d := p.distance
	if d > maxScoredDistance {
		d = maxScoredDistance
	}
	return p.opWeight*1_000_000 + d*1_000 + p.visits
}

// Less reports whether p should be scheduled before o.
func (p QPriority) Less(o QPriority) bool { return p.Score() < o.Score() }
