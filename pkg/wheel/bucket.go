package wheel

import (
	"cmp"
	"sync"
	"sync/atomic"
)

// Bucket holds the tasks of one wheel slot.
//
// Its expiration tag is the slot's coarse deadline, not any task's own
// expiration. Buckets are shared between a wheel ring and the DelayQueue.
type Bucket struct {
	expiration atomic.Int64

	mu    sync.Mutex
	tasks []*Task
}

func NewBucket() *Bucket {
	b := &Bucket{}
	b.expiration.Store(-1)
	return b
}

func (b *Bucket) Add(t *Task) {
	b.mu.Lock()
	b.tasks = append(b.tasks, t)
	b.mu.Unlock()
}

// SetExpiration swaps the tag and reports whether it changed.
// A true result means this is a new activation of the slot.
func (b *Bucket) SetExpiration(expiration int64) bool {
	return b.expiration.Swap(expiration) != expiration
}

func (b *Bucket) Expiration() int64 { return b.expiration.Load() }

// Tasks takes every task present at the instant of the call and leaves the
// bucket empty. Tasks added afterwards stay for the next drain.
func (b *Bucket) Tasks() []*Task {
	b.mu.Lock()
	out := b.tasks
	b.tasks = nil
	b.mu.Unlock()
	return out
}

func (b *Bucket) Len() int {
	b.mu.Lock()
	n := len(b.tasks)
	b.mu.Unlock()
	return n
}

// Compare orders buckets by expiration tag.
func Compare(a, b *Bucket) int {
	return cmp.Compare(a.Expiration(), b.Expiration())
}
