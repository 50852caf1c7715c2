package depot

import (
	"container/heap"

	"github.com/cispa/ampfuzz/internal/cond"
)

// item is one entry of the depot's priority queue.
type item struct {
	cond     *cond.Cond
	priority QPriority
	index    int
}

// itemHeap is a container/heap min-heap over item.priority.Score().
type itemHeap []*item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].priority.Less(h[j].priority) }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *itemHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// pqueue is a priority queue of Cond indexed for O(log n) lookup and
// re-priority by identity, mirroring the indexing the Rust priority-queue
// crate gave the original depot for free.
type pqueue struct {
	heap  itemHeap
	index map[cond.Identity]*item
}

func newPqueue() *pqueue {
	return &pqueue{index: make(map[cond.Identity]*item)}
}

func (q *pqueue) Len() int { return q.heap.Len() }

func (q *pqueue) Get(id cond.Identity) (*item, bool) {
	it, ok := q.index[id]
	return it, ok
}

func (q *pqueue) Push(c *cond.Cond, p QPriority) {
	it := &item{cond: c, priority: p}
	heap.Push(&q.heap, it)
	q.index[c.Identity()] = it
}

func (q *pqueue) ChangePriority(it *item, p QPriority) {
	it.priority = p
	heap.Fix(&q.heap, it.index)
}

// Peek returns the current top entry without removing it — the depot
// queue is a long-lived scheduler, entries are revisited, not consumed.
func (q *pqueue) Peek() (*item, bool) {
	if q.heap.Len() == 0 {
		return nil, false
	}
	return q.heap[0], true
}
