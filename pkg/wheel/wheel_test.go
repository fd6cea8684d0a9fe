package wheel

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tickwheel/pkg/logx"
	"tickwheel/pkg/routine"
)

const anchor int64 = 1_700_000_000_000

func newTestWheel(tick, size int64) (*TimingWheel, *DelayQueue) {
	q := NewDelayQueue()
	return New(tick, size, anchor, q, logx.Nop()), q
}

func taskAt(exp int64) *Task {
	return NewTask("", exp, Block(func() {}), routine.NewOnce())
}

func TestBucketSetExpirationReportsChange(t *testing.T) {
	b := NewBucket()
	if got := b.Expiration(); got != -1 {
		t.Fatalf("fresh bucket expiration = %d, want -1", got)
	}
	if !b.SetExpiration(5_000) {
		t.Fatal("first SetExpiration should report a change")
	}
	if b.SetExpiration(5_000) {
		t.Fatal("repeating the same expiration should not report a change")
	}
	if !b.SetExpiration(6_000) {
		t.Fatal("new expiration should report a change")
	}
}

func TestBucketTasksTakesAndClears(t *testing.T) {
	b := NewBucket()
	b.Add(taskAt(1))
	b.Add(taskAt(2))

	got := b.Tasks()
	if len(got) != 2 {
		t.Fatalf("Tasks() len = %d, want 2", len(got))
	}
	if b.Len() != 0 {
		t.Fatalf("bucket len after take = %d, want 0", b.Len())
	}
	if len(b.Tasks()) != 0 {
		t.Fatal("second take should be empty")
	}
}

func TestDelayQueueDrainsAscendingUpToThreshold(t *testing.T) {
	q := NewDelayQueue()
	var buckets []*Bucket
	for _, tag := range []int64{3_000, 1_000, 4_000, 2_000} {
		b := NewBucket()
		b.SetExpiration(tag)
		q.Push(b)
		buckets = append(buckets, b)
	}

	var got []int64
	for _, b := range q.Drain(3_000) {
		got = append(got, b.Expiration())
	}
	if diff := cmp.Diff([]int64{1_000, 2_000, 3_000}, got); diff != "" {
		t.Fatalf("drained tags -want +got\n%s", diff)
	}
	if q.Len() != 1 {
		t.Fatalf("remaining = %d, want 1", q.Len())
	}
	if tag, ok := q.Peek(); !ok || tag != 4_000 {
		t.Fatalf("Peek = %d,%v want 4000,true", tag, ok)
	}
	if len(q.Drain(0)) != 0 {
		t.Fatal("drain below every tag should be empty")
	}
}

func TestDelayQueueKeepsTagFromPushTime(t *testing.T) {
	q := NewDelayQueue()
	b := NewBucket()
	b.SetExpiration(1_000)
	q.Push(b)
	b.SetExpiration(9_000)

	if got := q.Drain(1_000); len(got) != 1 || got[0] != b {
		t.Fatalf("entry should drain under its push-time tag, got %d buckets", len(got))
	}
}

func TestScheduleRejectsTasksDueWithinOneTick(t *testing.T) {
	w, q := newTestWheel(1_000, 10)

	for _, exp := range []int64{anchor - 1, anchor, anchor + 999} {
		if w.Schedule(taskAt(exp)) {
			t.Fatalf("Schedule(%d) accepted, want rejected", exp)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", q.Len())
	}
	if !w.Schedule(taskAt(anchor + 1_000)) {
		t.Fatal("task one tick ahead should be accepted")
	}
}

func TestSameSlotIsQueuedOnce(t *testing.T) {
	w, q := newTestWheel(1_000, 10)

	w.Schedule(taskAt(anchor + 3_000))
	w.Schedule(taskAt(anchor + 3_400))
	w.Schedule(taskAt(anchor + 3_999))

	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	got := q.Drain(anchor + 3_000)
	if len(got) != 1 || got[0].Len() != 3 {
		t.Fatalf("want one bucket with 3 tasks")
	}
	if got[0].Expiration() != anchor+3_000 {
		t.Fatalf("bucket tag = %d, want %d", got[0].Expiration(), anchor+3_000)
	}
}

func TestOverflowWheelIsCreatedLazily(t *testing.T) {
	w, q := newTestWheel(1_000, 10)
	if w.Levels() != 1 {
		t.Fatalf("levels = %d, want 1", w.Levels())
	}

	exp := anchor + 15_000
	if !w.Schedule(taskAt(exp)) {
		t.Fatal("overflow task rejected")
	}
	if w.Levels() != 2 {
		t.Fatalf("levels = %d, want 2", w.Levels())
	}
	ow := w.Overflow()
	if ow.TickMs() != 10_000 || ow.Interval() != 100_000 {
		t.Fatalf("overflow tick/interval = %d/%d, want 10000/100000", ow.TickMs(), ow.Interval())
	}
	if ow.CurrentTime() != anchor {
		t.Fatalf("overflow current = %d, want %d", ow.CurrentTime(), anchor)
	}

	tag, ok := q.Peek()
	if !ok || tag != anchor+10_000 {
		t.Fatalf("overflow bucket tag = %d, want %d", tag, anchor+10_000)
	}

	// Once the clock reaches the coarse bucket, the task cascades to level 0.
	w.AdvanceClock(anchor + 10_000)
	drained := q.Drain(anchor + 10_000)
	if len(drained) != 1 {
		t.Fatalf("drained %d buckets, want 1", len(drained))
	}
	for _, task := range drained[0].Tasks() {
		if !w.Schedule(task) {
			t.Fatal("cascaded task should land in level 0")
		}
	}
	tag, _ = q.Peek()
	if tag != exp {
		t.Fatalf("level-0 bucket tag = %d, want %d", tag, exp)
	}
}

func TestAdvanceClockTruncatesAndPropagates(t *testing.T) {
	w, _ := newTestWheel(1_000, 10)
	w.Schedule(taskAt(anchor + 50_000))

	w.AdvanceClock(anchor + 999)
	if w.CurrentTime() != anchor {
		t.Fatalf("sub-tick advance moved clock to %d", w.CurrentTime())
	}

	w.AdvanceClock(anchor + 12_345)
	if w.CurrentTime() != anchor+12_000 {
		t.Fatalf("current = %d, want %d", w.CurrentTime(), anchor+12_000)
	}
	if got := w.Overflow().CurrentTime(); got != anchor+10_000 {
		t.Fatalf("overflow current = %d, want %d", got, anchor+10_000)
	}
}

func TestConcurrentScheduleIntoOneSlot(t *testing.T) {
	w, q := newTestWheel(1_000, 100)
	exp := anchor + 5_000

	var wg sync.WaitGroup
	for range 1_000 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Schedule(taskAt(exp))
		}()
	}
	wg.Wait()

	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	if w.Pending() != 1_000 {
		t.Fatalf("pending = %d, want 1000", w.Pending())
	}

	total := 0
	for _, b := range q.Drain(exp) {
		total += len(b.Tasks())
	}
	if total != 1_000 {
		t.Fatalf("drained %d tasks, want 1000", total)
	}
	if w.Pending() != 0 || q.Len() != 0 {
		t.Fatalf("after drain pending=%d queue=%d, want 0/0", w.Pending(), q.Len())
	}
}

func TestBucketsOrderByExpiration(t *testing.T) {
	var bs []*Bucket
	for _, exp := range []int64{3_000, -1, 1_000, 2_000} {
		b := NewBucket()
		b.SetExpiration(exp)
		bs = append(bs, b)
	}
	slices.SortFunc(bs, Compare)

	var got []int64
	for _, b := range bs {
		got = append(got, b.Expiration())
	}
	if diff := cmp.Diff([]int64{-1, 1_000, 2_000, 3_000}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if Compare(bs[1], bs[1]) != 0 {
		t.Error("a bucket must compare equal to itself")
	}
}

func TestFarFutureExpirationStopsGrowingLevels(t *testing.T) {
	w, q := newTestWheel(1_000, 100)

	far := int64(math.MaxInt64 - 1)
	if !w.Schedule(taskAt(far)) {
		t.Fatal("far-future task rejected")
	}
	// Level 7 has tick 1e17 and its span would exceed int64.
	if w.Levels() != 8 {
		t.Fatalf("levels = %d, want 8", w.Levels())
	}
	last := w
	for last.Overflow() != nil {
		last = last.Overflow()
	}
	if last.Interval() != math.MaxInt64 {
		t.Fatalf("last interval = %d, want MaxInt64", last.Interval())
	}
	if !w.Schedule(taskAt(math.MaxInt64)) {
		t.Fatal("MaxInt64 expiration rejected")
	}
	if w.Levels() != 8 {
		t.Fatalf("levels grew to %d", w.Levels())
	}

	tag, ok := q.Peek()
	if !ok || tag > far || tag < anchor {
		t.Fatalf("bucket tag = %d, want within [%d, %d]", tag, anchor, far)
	}
	if got := q.Drain(anchor + 1_000_000); len(got) != 0 {
		t.Fatalf("far-future bucket drained early: %d", len(got))
	}
	w.AdvanceClock(anchor + 1_000_000)
	if w.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", w.Pending())
	}
}

func TestTaskUpdateFollowsRoutine(t *testing.T) {
	r := routine.NewTimeout(anchor, 1_000, 2)
	first, _ := r.Next()
	task := NewTask("tick", first, Block(func() {}), r)

	if !task.Update() || task.Expiration != anchor+2_000 {
		t.Fatalf("first update expiration = %d", task.Expiration)
	}
	if task.Update() {
		t.Fatal("routine with max count 2 should be exhausted")
	}
	if once := taskAt(anchor); once.Update() {
		t.Fatal("once task should retire after firing")
	}
}

func TestTaskCancel(t *testing.T) {
	task := taskAt(anchor)
	if !task.Cancel() {
		t.Fatal("first cancel should report true")
	}
	if task.Cancel() {
		t.Fatal("second cancel should report false")
	}
	if !task.Cancelled() {
		t.Fatal("task should be cancelled")
	}
}

func TestExecutableRun(t *testing.T) {
	ran := false
	blk := Block(func() { ran = true })
	if blk.Kind() != KindBlock || !blk.Valid() {
		t.Fatalf("block kind=%v valid=%v", blk.Kind(), blk.Valid())
	}
	if err := blk.Run(context.Background()); err != nil || !ran {
		t.Fatalf("block run err=%v ran=%v", err, ran)
	}

	boom := errors.New("boom")
	as := Async(func(context.Context) error { return boom })
	if err := as.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("async run err = %v", err)
	}
	if (Executable{}).Valid() || Async(nil).Valid() {
		t.Fatal("empty executables must be invalid")
	}
}
