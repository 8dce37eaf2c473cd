package reactor

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled callback. A non-zero interval marks it as
// repeating; set_timeout entries always have interval == 0.
type timerEntry struct {
	token    uint64
	callback func()
	fireAt   time.Time
	interval time.Duration // 0 for one-shot
	index    int           // heap.Interface bookkeeping
}

// timerHeap is a container/heap min-heap ordered by fireAt, grounded on the
// same earliest-deadline-first discipline the reactor's source event loop
// uses for its own timer queue.
type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timerSet pairs the heap with a token->entry index so ClearTimeout and
// ClearInterval can remove an arbitrary entry in O(log n).
type timerSet struct {
	heap    timerHeap
	byToken map[uint64]*timerEntry
}

func newTimerSet() *timerSet {
	return &timerSet{byToken: make(map[uint64]*timerEntry)}
}

func (s *timerSet) add(e *timerEntry) {
	s.byToken[e.token] = e
	heap.Push(&s.heap, e)
}

// remove deletes the entry for token only if its "is an interval" state
// matches wantInterval, so ClearTimeout refuses to clear an interval and
// vice versa.
func (s *timerSet) remove(token uint64, wantInterval bool) bool {
	e, ok := s.byToken[token]
	if !ok {
		return false
	}
	if (e.interval != 0) != wantInterval {
		return false
	}
	heap.Remove(&s.heap, e.index)
	delete(s.byToken, token)
	return true
}

func (s *timerSet) peek() *timerEntry {
	if len(s.heap) == 0 {
		return nil
	}
	return s.heap[0]
}

// popDue removes and returns the earliest timer if it is due at or before
// now, rescheduling it first if it is a repeating interval. Returns nil if
// the earliest timer has not yet fired.
func (s *timerSet) popDue(now time.Time) *timerEntry {
	top := s.peek()
	if top == nil || top.fireAt.After(now) {
		return nil
	}
	heap.Pop(&s.heap)
	if top.interval == 0 {
		delete(s.byToken, top.token)
		return top
	}
	fired := &timerEntry{token: top.token, callback: top.callback, interval: top.interval}
	next := &timerEntry{token: top.token, callback: top.callback, interval: top.interval, fireAt: now.Add(top.interval)}
	s.byToken[top.token] = next
	heap.Push(&s.heap, next)
	return fired
}

func (s *timerSet) len() int { return len(s.heap) }
