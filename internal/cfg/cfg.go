// Package cfg implements the dynamic control-flow graph discovered from
// track-runs: nodes are comparison ids, edges are "seen back to back in a
// single thread's track-run" pairs, optionally annotated with an indirect
// callsite id and probe ("magic") bytes. It also scores cmpids by weighted
// distance to the nearest live target, for depot prioritization.
package cfg

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/cispa/ampfuzz/internal/cond"
)

// CmpId identifies a comparison site; it is the node type of the graph.
type CmpId = uint32

// Edge is a directed pair of cmpids seen consecutively in a track-run.
type Edge struct {
	A, B CmpId
}

// indirectEdgeCost penalizes paths through an indirect-call edge relative
// to an ordinary edge: indirect edges are less certain to be taken on a
// mutated input, so the weighted BFS prefers direct routes to a target
// when one exists.
const indirectEdgeCost = 2

type edgeData struct {
	indirect   bool
	callsite   uint32
	magicBytes map[int]byte // input offset -> last-observed constant byte
}

// Graph is the process-wide dynamic CFG, shared (read-mostly) across
// workers under a single RWMutex.
type Graph struct {
	mu sync.RWMutex

	nodes map[CmpId]struct{}
	adj   map[CmpId][]CmpId
	edges map[Edge]*edgeData

	// indirectDominators[callsite] is the set of cmpids recorded as the
	// source of an edge set indirect at that callsite — i.e. candidate
	// dominators of the indirect call.
	indirectDominators map[uint32]map[CmpId]struct{}
	// indirectSources is every cmpid that has ever been the source of an
	// indirect edge, used to answer DominatesIndirectCall.
	indirectSources map[CmpId]struct{}

	targets map[CmpId]struct{}

	// distance memoizes ScoreForCmp results; invalidated whenever the
	// graph or the target set changes.
	distance map[CmpId]int
	dirty    bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:               make(map[CmpId]struct{}),
		adj:                 make(map[CmpId][]CmpId),
		edges:               make(map[Edge]*edgeData),
		indirectDominators:  make(map[uint32]map[CmpId]struct{}),
		indirectSources:     make(map[CmpId]struct{}),
		targets:             make(map[CmpId]struct{}),
		distance:            make(map[CmpId]int),
	}
}

func (g *Graph) addNodeLocked(n CmpId) {
	if _, ok := g.nodes[n]; !ok {
		g.nodes[n] = struct{}{}
	}
}

// AddEdge ensures nodes a, b and edge a->b exist. Returns true iff the
// edge was newly created.
func (g *Graph) AddEdge(e Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(e)
}

func (g *Graph) addEdgeLocked(e Edge) bool {
	g.addNodeLocked(e.A)
	g.addNodeLocked(e.B)
	if _, ok := g.edges[e]; ok {
		return false
	}
	g.edges[e] = &edgeData{}
	g.adj[e.A] = append(g.adj[e.A], e.B)
	g.dirty = true
	return true
}

// SetEdgeIndirect marks an edge as crossing an indirect call at callsite,
// and records e.A as a dominator candidate for that callsite.
func (g *Graph) SetEdgeIndirect(e Edge, callsite uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdgeLocked(e)
	ed := g.edges[e]
	ed.indirect = true
	ed.callsite = callsite

	if g.indirectDominators[callsite] == nil {
		g.indirectDominators[callsite] = make(map[CmpId]struct{})
	}
	g.indirectDominators[callsite][e.A] = struct{}{}
	g.indirectSources[e.A] = struct{}{}
	g.dirty = true
}

// GetCallsiteDominators returns the cmpids recorded as dominating the
// given indirect callsite.
func (g *Graph) GetCallsiteDominators(callsite uint32) []CmpId {
	g.mu.RLock()
	defer g.mu.RUnlock()
	doms := g.indirectDominators[callsite]
	out := make([]CmpId, 0, len(doms))
	for d := range doms {
		out = append(out, d)
	}
	return out
}

// DominatesIndirectCall reports whether cmpid has ever been recorded as
// the source of an indirect-call edge.
func (g *Graph) DominatesIndirectCall(cmpid CmpId) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.indirectSources[cmpid]
	return ok
}

// SetMagicBytes records the bytes of input at the given offsets as the
// probe ("magic") bytes biasing mutation of the indirect-call edge e.
func (g *Graph) SetMagicBytes(e Edge, input []byte, offsets []cond.TagSeg) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ed, ok := g.edges[e]
	if !ok {
		g.addEdgeLocked(e)
		ed = g.edges[e]
	}
	if ed.magicBytes == nil {
		ed.magicBytes = make(map[int]byte)
	}
	for _, seg := range offsets {
		for off := int(seg.Begin); off < int(seg.End) && off < len(input); off++ {
			ed.magicBytes[off] = input[off]
		}
	}
}

// GetMagicBytes returns the (offset, byte) pairs recorded for edge e.
func (g *Graph) GetMagicBytes(e Edge) map[int]byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ed, ok := g.edges[e]
	if !ok || ed.magicBytes == nil {
		return nil
	}
	out := make(map[int]byte, len(ed.magicBytes))
	for k, v := range ed.magicBytes {
		out[k] = v
	}
	return out
}

// AddTarget marks cmpid as a live target.
func (g *Graph) AddTarget(cmpid CmpId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(cmpid)
	g.targets[cmpid] = struct{}{}
	g.dirty = true
}

// RemoveTarget retires a target once its cond is discarded.
func (g *Graph) RemoveTarget(cmpid CmpId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.targets, cmpid)
	g.dirty = true
}

// IsTarget reports whether cmpid is a currently-live target.
func (g *Graph) IsTarget(cmpid CmpId) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.targets[cmpid]
	return ok
}

// HasPathToTarget reports whether any live target is forward-reachable
// from n.
func (g *Graph) HasPathToTarget(n CmpId) bool {
	return g.ScoreForCmp(n) != math.MaxInt
}

// Summary is a point-in-time size report of the graph, for operator-
// facing tooling (the targets CLI subcommand) rather than anything the
// fuzz loop itself consults.
type Summary struct {
	Nodes   int
	Edges   int
	Targets []CmpId
}

// Summary reports node/edge counts and the live target set.
func (g *Graph) Summary() Summary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Summary{Nodes: len(g.nodes), Edges: len(g.edges)}
	for t := range g.targets {
		s.Targets = append(s.Targets, t)
	}
	sort.Slice(s.Targets, func(i, j int) bool { return s.Targets[i] < s.Targets[j] })
	return s
}

// heapItem is one entry of the Dijkstra priority queue.
type heapItem struct {
	node CmpId
	dist int
}

type distHeap []heapItem

func (h distHeap) Len() int            { return len(h) }
func (h distHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h distHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *distHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ScoreForCmp returns the weighted-BFS distance from cmpid to the nearest
// live target, or math.MaxInt if none is reachable.
func (g *Graph) ScoreForCmp(cmpid CmpId) int {
	g.mu.Lock()
	if !g.dirty {
		if d, ok := g.distance[cmpid]; ok {
			g.mu.Unlock()
			return d
		}
	} else {
		g.distance = make(map[CmpId]int)
		g.dirty = false
	}
	d := g.dijkstraLocked(cmpid)
	g.distance[cmpid] = d
	g.mu.Unlock()
	return d
}

// dijkstraLocked must be called with g.mu held.
func (g *Graph) dijkstraLocked(start CmpId) int {
	if len(g.targets) == 0 {
		return math.MaxInt
	}
	if _, ok := g.targets[start]; ok {
		return 0
	}

	dist := map[CmpId]int{start: 0}
	pq := &distHeap{{node: start, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(heapItem)
		if cur.dist > dist[cur.node] {
			continue
		}
		if _, ok := g.targets[cur.node]; ok {
			return cur.dist
		}
		for _, next := range g.adj[cur.node] {
			cost := 1
			if ed := g.edges[Edge{cur.node, next}]; ed != nil && ed.indirect {
				cost = indirectEdgeCost
			}
			nd := cur.dist + cost
			if old, ok := dist[next]; !ok || nd < old {
				dist[next] = nd
				heap.Push(pq, heapItem{node: next, dist: nd})
			}
		}
	}
	return math.MaxInt
}

// ScoreForCmpInp is ScoreForCmp with ties broken by how closely vars
// matches the magic bytes recorded on the cheapest edge out of cmpid: a
// closer probe-byte match nudges the score down slightly, preferring
// mutations that already look like they'll take the cheap edge.
func (g *Graph) ScoreForCmpInp(cmpid CmpId, vars []byte) int {
	base := g.ScoreForCmp(cmpid)
	if base == math.MaxInt || len(vars) == 0 {
		return base
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	bestMismatch := -1
	for _, next := range g.adj[cmpid] {
		ed := g.edges[Edge{cmpid, next}]
		if ed == nil || len(ed.magicBytes) == 0 {
			continue
		}
		mismatch := 0
		for off, want := range ed.magicBytes {
			if off < len(vars) && vars[off] != want {
				mismatch++
			}
		}
		if bestMismatch == -1 || mismatch < bestMismatch {
			bestMismatch = mismatch
		}
	}
	if bestMismatch <= 0 {
		return base
	}
	// tie-break only: never let the bonus change the relative order of
	// two different base distances.
	return base*1000 + bestMismatch
}

// fileFormat is the JSON sidecar schema emitted by the build-time analysis
// as <libpath>.targets.json, and merged in by AppendFile.
type fileFormat struct {
	Targets []CmpId `json:"targets"`
	Edges   []struct {
		A        CmpId  `json:"a"`
		B        CmpId  `json:"b"`
		Indirect bool   `json:"indirect,omitempty"`
		Callsite uint32 `json:"callsite,omitempty"`
	} `json:"edges"`
}

// AppendFile merges a serialized CFG/targets snapshot into the graph.
func (g *Graph) AppendFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range ff.Targets {
		g.addNodeLocked(t)
		g.targets[t] = struct{}{}
	}
	for _, e := range ff.Edges {
		edge := Edge{e.A, e.B}
		g.addEdgeLocked(edge)
		if e.Indirect {
			ed := g.edges[edge]
			ed.indirect = true
			ed.callsite = e.Callsite
			if g.indirectDominators[e.Callsite] == nil {
				g.indirectDominators[e.Callsite] = make(map[CmpId]struct{})
			}
			g.indirectDominators[e.Callsite][e.A] = struct{}{}
			g.indirectSources[e.A] = struct{}{}
		}
	}
	g.dirty = true
	return nil
}
