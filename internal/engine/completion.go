package engine

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/ringcore/ioring/internal/proto"
)

// cqOverflow is the spill list for completions that arrive while the CQ
// ring is full. Backed by eapache/queue's amortized-O(1) growable ring,
// the same FIFO this codebase uses for the task mailbox and the defer
// queue. The list is bounded: past cqOverflowMax entries the completion
// is dropped and counted instead.
type cqOverflow struct {
	mu sync.Mutex
	q  *queue.Queue
}

const cqOverflowMax = 1 << 16

func newCQOverflow() *cqOverflow {
	return &cqOverflow{q: queue.New()}
}

func (o *cqOverflow) push(cqe proto.CQE) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.q.Length() >= cqOverflowMax {
		return false
	}
	o.q.Add(cqe)
	return true
}

func (o *cqOverflow) len() int {
	o.mu.Lock()
	n := o.q.Length()
	o.mu.Unlock()
	return n
}

func (o *cqOverflow) peek() (proto.CQE, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.q.Length() == 0 {
		return proto.CQE{}, false
	}
	return o.q.Peek().(proto.CQE), true
}

func (o *cqOverflow) pop() {
	o.mu.Lock()
	if o.q.Length() > 0 {
		o.q.Remove()
	}
	o.mu.Unlock()
}

// CompletionPath owns the completion ring, its overflow spill list, and
// the wake signal that WaitCQE blocks on. Exactly one component posts
// completions (the dispatcher, worker pool, poller, and timeout service
// all funnel through CompletionPath.Post), so the batching/wake policy
// lives in one place.
type CompletionPath struct {
	mu   sync.Mutex
	cq   *cqRing
	wake chan struct{} // buffered 1: coalesces multiple posts into one wake

	skipSuccessSeen uint32 // count of completions suppressed by SQECQESkipSuccess
}

func newCompletionPath(cqEntries uint32) *CompletionPath {
	return &CompletionPath{
		cq:   newCQRing(cqEntries),
		wake: make(chan struct{}, 1),
	}
}

// Post records one completion. If the ring has room (and nothing is
// already spilled ahead of this entry) it is filled directly and
// published; otherwise it spills to the overflow list. Ring entries are
// always older than spilled ones, so consumers read the ring first and
// Seen migrates spilled entries into freed slots, keeping the combined
// stream FIFO.
func (c *CompletionPath) Post(req *Request, res int32, flags uint32) {
	if req.sqeFlags&proto.SQECQESkipSuccess != 0 && res >= 0 {
		c.mu.Lock()
		c.skipSuccessSeen++
		c.mu.Unlock()
		return
	}
	cqe := proto.CQE{UserData: req.userData, Res: res, Flags: flags}

	c.mu.Lock()
	req.setState(StateCompleted)
	if c.cq.overflow.len() == 0 && c.cq.TryFill(cqe) {
		c.mu.Unlock()
	} else {
		if !c.cq.overflow.push(cqe) {
			c.cq.dropped.Add(1)
		}
		c.mu.Unlock()
	}
	c.notify()
}

func (c *CompletionPath) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Peek returns the oldest unseen completion without consuming it. The
// ring holds the oldest entries; the overflow list is only consulted
// once the ring is empty.
func (c *CompletionPath) Peek() (proto.CQE, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cqe, ok := c.cq.Peek(); ok {
		return cqe, true
	}
	return c.cq.overflow.peek()
}

// Seen marks n completions as consumed, advancing the ring head first
// (oldest entries) and falling back to the overflow list once the ring
// is drained. Each freed slot is refilled from the spill list so the
// ring empties the overflow as fast as the consumer reaps.
func (c *CompletionPath) Seen(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := uint32(0); i < n; i++ {
		if c.cq.Ready() > 0 {
			c.cq.Seen(1)
		} else {
			c.cq.overflow.pop()
		}
	}
	for {
		cqe, ok := c.cq.overflow.peek()
		if !ok || !c.cq.TryFill(cqe) {
			break
		}
		c.cq.overflow.pop()
	}
}

// Ready reports the total number of completions waiting to be seen,
// across the ring and the overflow list.
func (c *CompletionPath) Ready() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cq.Ready() + uint32(c.cq.overflow.len())
}

// WakeChan exposes the coalesced wake signal for WaitCQE to select on.
func (c *CompletionPath) WakeChan() <-chan struct{} { return c.wake }

// Overflow reports how many completions currently live in the spill
// list.
func (c *CompletionPath) Overflow() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(c.cq.overflow.len())
}

// Dropped reports how many completions were lost because the spill list
// itself was saturated.
func (c *CompletionPath) Dropped() uint32 { return c.cq.Dropped() }
