package engine

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/ringcore/ioring/internal/proto"
)

// LinkGraph tracks link chains built from the SQEIOLink/SQEIOHardlink
// flags and the drain barriers set by SQEIODrain.
//
// A chain is a run of requests where each one's completion triggers the
// next to start; a failure in a plain-linked chain cancels the
// remainder, while hardlinked successors start regardless.
//
// A draining request must not start until every submission before it
// has completed. While such a barrier is pending, later submissions are
// parked on a FIFO defer queue behind it, so the "before" set and the
// "after" set are totally ordered. The draining request itself belongs
// to the after set: it waits for everything strictly before it, then
// runs along with the requests parked behind it.
type LinkGraph struct {
	mu        sync.Mutex
	submitted uint64 // sequence numbers handed out so far
	completed uint64 // completions observed so far
	barrier   uint64 // seq of the active draining request; 0 when none
	deferred  *queue.Queue
}

func newLinkGraph() *LinkGraph {
	return &LinkGraph{deferred: queue.New()}
}

// NextSeq assigns the next submission sequence number. Drain ordering
// relies on every submission producing exactly one completion, so the
// sequence counter doubles as the "submissions before seq" count.
func (lg *LinkGraph) NextSeq() uint64 {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.submitted++
	return lg.submitted
}

// Chain links prev -> next in submission order. next does not become
// eligible to run until prev completes (or, for a failed prev in a
// plain LINK chain, is itself canceled rather than started). A chain
// longer than two requests needs no extra bookkeeping here: each
// completion's OnComplete call looks at only its own immediate
// successor, and a propagated cancellation keeps recursing down one
// link at a time until the chain's tail is reached.
func (lg *LinkGraph) Chain(prev, next *Request) {
	prev.linkNext = next
	prev.addRef() // the chain holds a reference until it hands off
}

// OnComplete is called by the completion path immediately after prev
// completes. It returns the next request to dispatch, if the chain
// continues, and whether that request should be force-failed instead of
// run (a plain LINK chain after a failed predecessor).
func (lg *LinkGraph) OnComplete(prev *Request, res int32) (next *Request, forceFail bool) {
	next = prev.linkNext
	prev.linkNext = nil
	if next == nil {
		return nil, false
	}
	if res < 0 && prev.sqeFlags&proto.SQEIOHardlink == 0 {
		// Plain LINK: failure propagates, canceling the rest of the chain.
		return next, true
	}
	return next, false
}

// Defer decides whether r must park instead of starting now. Three
// cases:
//   - a barrier is active and r was submitted after it: r joins the
//     defer queue (the after set is FIFO);
//   - r carries SQEIODrain and some earlier submission is still
//     outstanding: r becomes the barrier and parks;
//   - otherwise r runs immediately. In particular a request submitted
//     before the active barrier is part of the before set and must run
//     so the barrier can ever be satisfied.
func (lg *LinkGraph) Defer(r *Request) bool {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.barrier != 0 && r.seq > lg.barrier {
		lg.deferred.Add(r)
		return true
	}
	if r.IsDraining() && lg.completed < r.seq-1 {
		lg.barrier = r.seq
		lg.deferred.Add(r)
		return true
	}
	return false
}

// Completed records one more completion and, if that satisfies the
// active barrier, releases parked requests in FIFO order. Releasing
// stops early if it reaches a parked draining request whose own barrier
// is not yet satisfied; that request becomes the new barrier.
func (lg *LinkGraph) Completed() []*Request {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.completed++
	if lg.barrier == 0 || lg.completed < lg.barrier-1 {
		return nil
	}
	lg.barrier = 0
	var ready []*Request
	for lg.deferred.Length() > 0 {
		r := lg.deferred.Peek().(*Request)
		if r.IsDraining() && lg.completed < r.seq-1 {
			lg.barrier = r.seq
			break
		}
		lg.deferred.Remove()
		ready = append(ready, r)
	}
	return ready
}
