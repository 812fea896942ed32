package repo

import (
	"container/heap"

	"github.com/odvcencio/gotmerge/pkg/object"
)

type mergeBaseQueueItem struct {
	hash       object.Hash
	generation uint64
}

// mergeBaseMaxHeap pops the highest generation first, breaking ties by
// hash so walks are deterministic.
type mergeBaseMaxHeap []mergeBaseQueueItem

func (h mergeBaseMaxHeap) Len() int { return len(h) }

func (h mergeBaseMaxHeap) Less(i, j int) bool {
	if h[i].generation == h[j].generation {
		return h[i].hash < h[j].hash
	}
	return h[i].generation > h[j].generation
}

func (h mergeBaseMaxHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *mergeBaseMaxHeap) Push(x any) {
	*h = append(*h, x.(mergeBaseQueueItem))
}

func (h *mergeBaseMaxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// paintQueue is the frontier of a paint-down walk. live is the number of
// queued entries whose commit is not stale, so the walk can stop once
// only stale entries remain without scanning the heap.
type paintQueue struct {
	heap   mergeBaseMaxHeap
	flags  map[object.Hash]uint8
	queued map[object.Hash]int
	live   int
}

func newPaintQueue() *paintQueue {
	return &paintQueue{
		flags:  make(map[object.Hash]uint8),
		queued: make(map[object.Hash]int),
	}
}

func (q *paintQueue) stale(h object.Hash) bool { return q.flags[h]&paintStale != 0 }

// paint ORs f into the flags of h. Queued entries for h stop counting as
// live once h turns stale.
func (q *paintQueue) paint(h object.Hash, f uint8) {
	wasStale := q.stale(h)
	q.flags[h] |= f
	if !wasStale && q.stale(h) {
		q.live -= q.queued[h]
	}
}

func (q *paintQueue) push(h object.Hash, gen uint64) {
	heap.Push(&q.heap, mergeBaseQueueItem{hash: h, generation: gen})
	q.queued[h]++
	if !q.stale(h) {
		q.live++
	}
}

func (q *paintQueue) pop() mergeBaseQueueItem {
	item := heap.Pop(&q.heap).(mergeBaseQueueItem)
	q.queued[item.hash]--
	if q.queued[item.hash] == 0 {
		delete(q.queued, item.hash)
	}
	if !q.stale(item.hash) {
		q.live--
	}
	return item
}
