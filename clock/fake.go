package clock

import (
	"container/heap"
	"sync"
	"time"
)

var _ Clock = (*Fake)(nil)

// Fake is a virtual Clock. Time only moves when Advance, AdvanceTo or Next
// is called; timers due at or before the new time fire in order, each on the
// goroutine that moved the clock.
//
// Callbacks scheduled at or before the current time run immediately on a new
// goroutine, mirroring time.AfterFunc with a non-positive duration.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers timerHeap
	seq    uint64
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// ScheduleAt registers fn to run when the virtual clock reaches t.
func (f *Fake) ScheduleAt(t time.Time, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTimer{clock: f, when: t, fn: fn, index: -1}
	if !t.After(f.now) {
		ft.fired = true
		go fn()
		return ft
	}

	f.seq++
	ft.seq = f.seq
	heap.Push(&f.timers, ft)
	return ft
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (f *Fake) Advance(d time.Duration) {
	f.AdvanceTo(f.Now().Add(d))
}

// AdvanceTo moves the clock to target, firing every timer due at or before
// it. The clock never moves backwards.
func (f *Fake) AdvanceTo(target time.Time) {
	for {
		f.mu.Lock()
		if len(f.timers) == 0 || f.timers[0].when.After(target) {
			if target.After(f.now) {
				f.now = target
			}
			f.mu.Unlock()
			return
		}
		ft := f.fireNextLocked()
		f.mu.Unlock()

		ft.fn()
	}
}

// Next jumps to the earliest pending timer and fires it. It reports false
// when nothing is scheduled.
func (f *Fake) Next() bool {
	f.mu.Lock()
	if len(f.timers) == 0 {
		f.mu.Unlock()
		return false
	}
	ft := f.fireNextLocked()
	f.mu.Unlock()

	ft.fn()
	return true
}

// Pending returns the number of timers that have not fired or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) fireNextLocked() *fakeTimer {
	ft := heap.Pop(&f.timers).(*fakeTimer)
	ft.fired = true
	if ft.when.After(f.now) {
		f.now = ft.when
	}
	return ft
}

type fakeTimer struct {
	clock *Fake
	when  time.Time
	seq   uint64
	fn    func()
	index int
	fired bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.fired || t.index < 0 {
		return false
	}
	heap.Remove(&t.clock.timers, t.index)
	return true
}

// timerHeap orders timers by due time, then by registration order.
type timerHeap []*fakeTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*fakeTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
