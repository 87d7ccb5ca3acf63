//go:build linux || darwin

package eventloop

import (
	"container/heap"
	"sync/atomic"
)

// Handle is a scheduled callback, returned by [Loop.ScheduleSoon] and
// [Loop.ScheduleSoonThreadsafe].
type Handle struct {
	loop      *Loop
	callback  func()
	cancelled atomic.Bool
	timer     bool
}

// Cancel prevents the callback from running, if it has not started yet.
// Cancelling a callback that has already run is a no-op. Safe to call from
// any goroutine.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

// Cancelled reports whether [Handle.Cancel] has been called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// TimerHandle is a callback scheduled at a point in time, returned by
// [Loop.ScheduleAfter] and [Loop.ScheduleAt].
type TimerHandle struct {
	Handle

	// when is the due time, in microseconds of the loop's clock
	when int64
	// seq breaks ties between timers with the same due time
	seq uint64
	// index in timerHeap, -1 once popped
	index int
}

// When returns the due time, in seconds of the loop's clock (see [Loop.Time]).
func (h *TimerHandle) When() float64 {
	return float64(h.when) / 1e6
}

// Cancel prevents the callback from running. Cancelled timers are removed
// from the loop lazily. Must be called from the loop goroutine, or while the
// loop is not running.
func (h *TimerHandle) Cancel() {
	if h.cancelled.Swap(true) {
		return
	}
	if h.loop != nil && h.index >= 0 {
		h.loop.timerCancelled++
	}
}

// timerHeap is a min-heap of timers, ordered by due time then sequence.
type timerHeap []*TimerHandle

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*TimerHandle)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[:n-1]
	return x
}

// compact removes every cancelled timer, restoring the heap invariant.
func (h *timerHeap) compact() {
	live := (*h)[:0]
	for _, t := range *h {
		if t.cancelled.Load() {
			t.index = -1
			continue
		}
		t.index = len(live)
		live = append(live, t)
	}
	clear((*h)[len(live):])
	*h = live
	heap.Init(h)
}
