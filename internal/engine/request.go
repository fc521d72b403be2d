// Package engine implements the scheduling half of a ring-based I/O
// engine: the shared rings, the request lifecycle, the dispatch/retry/
// defer/poll state machine, link/drain/timeout composition, and CQ
// backpressure. Concrete operations are supplied by the embedder through
// OpHandler; this package never knows what a READ or a CONNECT does.
package engine

import (
	"sync/atomic"

	"github.com/ringcore/ioring/internal/proto"
)

// State is one of the request lifecycle states.
type State uint32

const (
	StatePrepared State = iota
	StateDeferred
	StateInline
	StatePollArmed
	StateWorkerQueued
	StateWorkerExecuting
	StateCompleted
	StateAwaitFree
	StateFreed
)

func (s State) String() string {
	switch s {
	case StatePrepared:
		return "PREPARED"
	case StateDeferred:
		return "DEFERRED"
	case StateInline:
		return "INLINE"
	case StatePollArmed:
		return "POLL-ARMED"
	case StateWorkerQueued:
		return "WORKER-QUEUED"
	case StateWorkerExecuting:
		return "WORKER-EXECUTING"
	case StateCompleted:
		return "COMPLETED"
	case StateAwaitFree:
		return "AWAIT-FREE"
	case StateFreed:
		return "FREED"
	default:
		return "UNKNOWN"
	}
}

// Request is the engine's internal object tracking one accepted
// submission through its lifecycle. It is allocated by the
// request pool and freed once every holder (link parent, poller arm,
// completion path) has dropped its reference.
type Request struct {
	opcode   proto.Op
	sqeFlags uint8
	userData uint64

	refcount atomic.Int32 // starts at 2: submission ref + completion ref

	owningTask *Task

	sqe proto.SQE // copy of the submitted descriptor

	state     atomic.Uint32
	cancelled atomic.Bool

	// link graph
	linkNext    *Request
	timeoutLink *Request // linked timeout request, if any
	linkedHead  *Request // for a LINK_TIMEOUT request: the head it guards

	// poll-armed bookkeeping
	pollKey  pollKey
	pollWait pollWaitHandle

	// worker bookkeeping
	workItem   *workItem
	onComplete func(*Request, int32, uint32)

	// sequencing, used by drain barriers and count-based timeouts
	seq uint64

	// optional large async state, lazily populated on first use
	asyncState any
}

// reset clears a request for reuse from the pool. Called with no other
// party holding a reference.
func (r *Request) reset() {
	r.opcode = 0
	r.sqeFlags = 0
	r.userData = 0
	r.refcount.Store(0)
	r.owningTask = nil
	r.sqe = proto.SQE{}
	r.state.Store(uint32(StatePrepared))
	r.cancelled.Store(false)
	r.linkNext = nil
	r.timeoutLink = nil
	r.linkedHead = nil
	r.pollKey = pollKey{}
	r.pollWait = pollWaitHandle{}
	r.workItem = nil
	r.onComplete = nil
	r.seq = 0
	r.asyncState = nil
}

// completionHook invokes the completion callback installed by the
// dispatcher when this request was submitted. Called by the worker pool
// once a worker-queued op finishes; the poller's ready callback invokes
// onComplete itself.
func (r *Request) completionHook(res int32, flags uint32) {
	if r.onComplete != nil {
		r.onComplete(r, res, flags)
	}
}

// State returns the request's current lifecycle state.
func (r *Request) State() State { return State(r.state.Load()) }

func (r *Request) setState(s State) { r.state.Store(uint32(s)) }

// UserData returns the opaque value echoed back on completion.
func (r *Request) UserData() uint64 { return r.userData }

// Opcode returns the request's opcode.
func (r *Request) Opcode() proto.Op { return r.opcode }

// SQE returns the submitted descriptor backing this request.
func (r *Request) SQE() *proto.SQE { return &r.sqe }

// IsLinked reports whether this request has LINK or HARDLINK set.
func (r *Request) IsLinked() bool {
	return r.sqeFlags&(proto.SQEIOLink|proto.SQEIOHardlink) != 0
}

// IsHardlinked reports whether this request has HARDLINK set.
func (r *Request) IsHardlinked() bool { return r.sqeFlags&proto.SQEIOHardlink != 0 }

// IsDraining reports whether this request carries a drain barrier.
func (r *Request) IsDraining() bool { return r.sqeFlags&proto.SQEIODrain != 0 }

// addRef increments the reference count. Must only be called while the
// caller already holds a valid reference (submission or completion ref,
// or a reference handed to it by a prior addRef).
func (r *Request) addRef() {
	if r.refcount.Add(1) <= 1 {
		panic("engine: addRef on a request with no existing reference")
	}
}

// release drops one reference; when it reaches zero the request is
// returned to free via the supplied pool.
func (r *Request) release(p *requestPool) {
	if r.refcount.Add(-1) == 0 {
		r.setState(StateFreed)
		p.free(r)
	}
}

// AsyncState lazily allocates and returns per-op large async state.
func (r *Request) AsyncState(alloc func() any) any {
	if r.asyncState == nil {
		r.asyncState = alloc()
	}
	return r.asyncState
}
