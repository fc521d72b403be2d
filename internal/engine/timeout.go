package engine

import (
	"container/heap"
	"container/list"
	"sync"
	"time"
)

// timeoutKind distinguishes the two ways a TIMEOUT/LINK_TIMEOUT request
// can be armed.
type timeoutKind int

const (
	timeoutAbsolute timeoutKind = iota // fires at a wall-clock deadline
	timeoutCount                       // fires once N completions have occurred
)

type timerEntry struct {
	req       *Request
	kind      timeoutKind
	deadline  time.Time // timeoutAbsolute
	targetSeq uint64    // timeoutCount: fire once completionSeq >= targetSeq
	index     int       // heap.Interface bookkeeping
}

// timeoutHeap is a min-heap on deadline: rather than one timer per
// request, a single *time.Timer is kept armed for the nearest deadline
// and re-armed whenever that changes.
type timeoutHeap []*timerEntry

func (h timeoutHeap) Len() int           { return len(h) }
func (h timeoutHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timeoutHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timeoutHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimeoutService arms and fires TIMEOUT/LINK_TIMEOUT requests:
// absolute/relative timers share one min-heap and one re-armed
// *time.Timer; count-based timeouts sit in a target-ordered list
// checked every time the completion sequence advances, racing against
// the timed-out request's own natural completion.
type TimeoutService struct {
	mu sync.Mutex

	absHeap timeoutHeap
	counts  *list.List // of *timerEntry, ordered by targetSeq ascending

	byRequest map[*Request]*timerEntry

	timer    *time.Timer
	onFire   func(req *Request, kind timeoutKind)
	stopOnce sync.Once
	closed   bool
}

func newTimeoutService(onFire func(req *Request, kind timeoutKind)) *TimeoutService {
	ts := &TimeoutService{
		counts:    list.New(),
		byRequest: make(map[*Request]*timerEntry),
		onFire:    onFire,
	}
	heap.Init(&ts.absHeap)
	return ts
}

// ArmAbsolute schedules req to fire at deadline. The caller computes the
// deadline: the SQE's timestamp when TimeoutAbs is set, otherwise now
// plus the relative duration.
func (ts *TimeoutService) ArmAbsolute(req *Request, deadline time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return
	}
	e := &timerEntry{req: req, kind: timeoutAbsolute, deadline: deadline}
	heap.Push(&ts.absHeap, e)
	ts.byRequest[req] = e
	ts.rearmLocked()
}

// ArmCount schedules req to fire once the engine's completion sequence
// reaches targetSeq (a count-based timeout counts N further
// completions).
func (ts *TimeoutService) ArmCount(req *Request, targetSeq uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return
	}
	e := &timerEntry{req: req, kind: timeoutCount, targetSeq: targetSeq}
	inserted := false
	for el := ts.counts.Front(); el != nil; el = el.Next() {
		if el.Value.(*timerEntry).targetSeq > targetSeq {
			ts.counts.InsertBefore(e, el)
			inserted = true
			break
		}
	}
	if !inserted {
		ts.counts.PushBack(e)
	}
	ts.byRequest[req] = e
}

// Cancel removes req's armed timeout before it fires (used by
// TIMEOUT_REMOVE, cancellation, and when the timed subject completes
// first in a LINK_TIMEOUT race). Returns false if no armed timeout was
// found for req.
func (ts *TimeoutService) Cancel(req *Request) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.byRequest[req]
	if !ok {
		return false
	}
	delete(ts.byRequest, req)
	switch e.kind {
	case timeoutAbsolute:
		if e.index >= 0 && e.index < len(ts.absHeap) && ts.absHeap[e.index] == e {
			heap.Remove(&ts.absHeap, e.index)
		}
		ts.rearmLocked()
	case timeoutCount:
		for el := ts.counts.Front(); el != nil; el = el.Next() {
			if el.Value.(*timerEntry) == e {
				ts.counts.Remove(el)
				break
			}
		}
	}
	return true
}

// AdvanceSeq notifies the service that the completion sequence counter
// has reached seq, firing every count-based timeout whose target has
// been reached, in ascending target order. The comparison uses signed
// 64-bit subtraction so a sequence counter that wraps still orders
// correctly, the same trick the ring indices use.
func (ts *TimeoutService) AdvanceSeq(seq uint64) {
	ts.mu.Lock()
	var fired []*timerEntry
	for {
		front := ts.counts.Front()
		if front == nil {
			break
		}
		e := front.Value.(*timerEntry)
		if int64(seq-e.targetSeq) < 0 {
			break
		}
		ts.counts.Remove(front)
		delete(ts.byRequest, e.req)
		fired = append(fired, e)
	}
	ts.mu.Unlock()

	for _, e := range fired {
		ts.onFire(e.req, e.kind)
	}
}

func (ts *TimeoutService) rearmLocked() {
	if ts.timer != nil {
		ts.timer.Stop()
		ts.timer = nil
	}
	if ts.absHeap.Len() == 0 {
		return
	}
	next := ts.absHeap[0]
	d := time.Until(next.deadline)
	if d < 0 {
		d = 0
	}
	ts.timer = time.AfterFunc(d, ts.fireDueAbsolute)
}

func (ts *TimeoutService) fireDueAbsolute() {
	ts.mu.Lock()
	now := time.Now()
	var fired []*timerEntry
	for ts.absHeap.Len() > 0 && !ts.absHeap[0].deadline.After(now) {
		e := heap.Pop(&ts.absHeap).(*timerEntry)
		delete(ts.byRequest, e.req)
		fired = append(fired, e)
	}
	ts.rearmLocked()
	ts.mu.Unlock()

	for _, e := range fired {
		ts.onFire(e.req, e.kind)
	}
}

// Close stops the underlying timer. Pending count-based and absolute
// timeouts are abandoned: no completion is posted for them, and
// Engine.Close does not cancel outstanding requests either.
func (ts *TimeoutService) Close() {
	ts.stopOnce.Do(func() {
		ts.mu.Lock()
		ts.closed = true
		if ts.timer != nil {
			ts.timer.Stop()
		}
		ts.mu.Unlock()
	})
}
