package engine

import "github.com/ringcore/ioring/internal/proto"

// CancelMatcher selects which in-flight requests ASYNC_CANCEL targets:
// by exact user_data, by owning task (AsyncCancelAll), or by
// owning file descriptor (AsyncCancelFd). AsyncCancelAny has no matching
// rule of its own: a matcher carrying only that flag matches by exact
// user_data.
type CancelMatcher struct {
	UserData uint64
	Task     *Task
	Fd       int32
	Flags    uint32 // proto.AsyncCancel*
}

func (m CancelMatcher) matches(r *Request) bool {
	if m.Flags&proto.AsyncCancelAll != 0 {
		return r.owningTask == m.Task
	}
	if m.Flags&proto.AsyncCancelFd != 0 {
		return r.sqe.Fd == m.Fd
	}
	return r.userData == m.UserData
}

// Canceler intercepts a matched request at whichever stage currently
// holds it, chosen from the request's state: a worker-queued or
// worker-executing request is only flagged, an armed poll wait is
// disarmed and completed as canceled, and a not-yet-started request is
// flagged and has its armed linked timeout torn down. Link-chain
// successors are not touched here; they are canceled when the canceled
// request's ECANCELED completion propagates down the chain. ASYNC_CANCEL
// never cancels more than one request unless AsyncCancelAll is set.
type Canceler struct {
	pool    *requestPool
	poller  *Poller
	timeout *TimeoutService
	workers *WorkerPool
	onFire  func(req *Request, res int32, flags uint32)
}

func newCanceler(pool *requestPool, poller *Poller, timeout *TimeoutService, workers *WorkerPool, onFire func(*Request, int32, uint32)) *Canceler {
	return &Canceler{pool: pool, poller: poller, timeout: timeout, workers: workers, onFire: onFire}
}

// inFlight is the minimal registry the canceler searches: every request
// currently between PREPARED and COMPLETED, indexed by the engine.
type inFlightIndex interface {
	forEach(fn func(*Request) (keepGoing bool))
}

// Cancel walks idx looking for matches and, for each one found (all of
// them if AsyncCancelAll, otherwise just the first), drives it to a
// canceled completion. Returns the number of requests canceled.
func (c *Canceler) Cancel(idx inFlightIndex, m CancelMatcher) int {
	all := m.Flags&proto.AsyncCancelAll != 0
	n := 0
	idx.forEach(func(r *Request) bool {
		if !m.matches(r) {
			return true
		}
		if c.cancelOne(r) {
			n++
		}
		return all
	})
	return n
}

// cancelOne tries each stage of the cancellation chain against a single
// already-matched request until one actually intercepts it.
func (c *Canceler) cancelOne(r *Request) bool {
	switch r.State() {
	case StateCompleted, StateAwaitFree, StateFreed:
		// Already done; cancellation of a completed request is "not
		// found".
		return false
	}

	if r.cancelled.Swap(true) {
		return false // already being canceled by someone else
	}

	switch r.State() {
	case StateWorkerQueued:
		// Best-effort: mark canceled; the worker checks this flag before
		// running the op and short-circuits to an ECANCELED completion.
		return true
	case StatePollArmed:
		if c.poller.Disarm(r) {
			r.release(c.pool) // drop the poller's reference
			c.onFire(r, errnoCanceled, 0)
			return true
		}
		// The wake already fired and removed the arm; the resume path
		// observes the cancel flag and completes with ECANCELED itself.
		return true
	case StateWorkerExecuting:
		// Already running: cannot interrupt an in-progress op handler.
		// The cancel flag is still set so the handler can observe it via
		// Request.Canceled() and exit early if it supports that.
		return true
	default:
		// PREPARED or DEFERRED: the request has not started. It completes
		// as canceled the moment it would otherwise dispatch. An armed
		// linked timeout guarding it is torn down now.
		if r.timeoutLink != nil && c.timeout.Cancel(r.timeoutLink) {
			c.onFire(r.timeoutLink, errnoCanceled, 0)
		}
		return true
	}
}

// Canceled reports whether ASYNC_CANCEL has marked this request, for an
// OpHandler that wants to cooperatively abort a long-running operation.
func (r *Request) Canceled() bool { return r.cancelled.Load() }
