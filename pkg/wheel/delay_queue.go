package wheel

import (
	"container/heap"
	"sync"
)

// DelayQueue orders activated buckets by expiration tag.
//
// Each entry records the tag the bucket carried when it was pushed, so a
// bucket re-tagged while still queued cannot break the heap ordering; the
// stale entry at worst yields an empty drain.
type DelayQueue struct {
	mu  sync.Mutex
	h   entryHeap
	seq uint64
}

type queueEntry struct {
	bucket *Bucket
	tag    int64
	seq    uint64 // ties resolve by insertion order
}

type entryHeap []queueEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].tag != h[j].tag {
		return h[i].tag < h[j].tag
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(queueEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = queueEntry{}
	*h = old[:n-1]
	return e
}

func NewDelayQueue() *DelayQueue {
	return &DelayQueue{}
}

// Push enqueues b under its current expiration tag.
// Callers avoid duplicate pushes per activation via Bucket.SetExpiration.
func (q *DelayQueue) Push(b *Bucket) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.h, queueEntry{bucket: b, tag: b.Expiration(), seq: q.seq})
	q.mu.Unlock()
}

// Drain removes and returns every bucket whose tag is <= threshold, in
// ascending tag order.
func (q *DelayQueue) Drain(threshold int64) []*Bucket {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Bucket
	for q.h.Len() > 0 && q.h[0].tag <= threshold {
		e := heap.Pop(&q.h).(queueEntry)
		out = append(out, e.bucket)
	}
	return out
}

// Peek returns the earliest queued tag.
func (q *DelayQueue) Peek() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h[0].tag, true
}

func (q *DelayQueue) Len() int {
	q.mu.Lock()
	n := q.h.Len()
	q.mu.Unlock()
	return n
}
