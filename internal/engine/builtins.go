package engine

import (
	"time"

	"github.com/ringcore/ioring/internal/proto"
)

// registerBuiltins installs placeholder handlers for the opcodes the
// engine implements itself (they are the engine's own bookkeeping), so
// Probe/Supports report them as available. tryBuiltin intercepts every
// request for these opcodes before it would ever reach the dispatcher's
// handler table, so these handlers never actually run.
func (e *Engine) registerBuiltins() {
	noop := func(r *Request) (OpResult, error) { return OpResult{}, nil }
	for _, op := range []proto.Op{
		proto.OpNop, proto.OpPollAdd, proto.OpPollRemove,
		proto.OpTimeout, proto.OpTimeoutRemove, proto.OpLinkTimeout,
		proto.OpAsyncCancel,
	} {
		e.dispatch.RegisterHandler(op, CapInline, noop)
	}
}

// tryBuiltin runs the engine's own bookkeeping opcodes inline. Returns
// true if op was one of these (handled or not, it never falls through
// to the dispatcher).
func (e *Engine) tryBuiltin(req *Request) bool {
	switch req.opcode {
	case proto.OpNop:
		e.onRequestComplete(req, 0, 0)
		return true
	case proto.OpPollAdd:
		e.builtinPollAdd(req)
		return true
	case proto.OpPollRemove:
		e.builtinPollRemove(req)
		return true
	case proto.OpTimeout, proto.OpLinkTimeout:
		e.builtinTimeout(req)
		return true
	case proto.OpTimeoutRemove:
		e.builtinTimeoutRemove(req)
		return true
	case proto.OpAsyncCancel:
		e.builtinAsyncCancel(req)
		return true
	default:
		return false
	}
}

func (e *Engine) builtinPollAdd(req *Request) {
	events := req.sqe.OpFlags
	req.onComplete = func(r *Request, _ int32, firedEvents uint32) {
		e.onRequestComplete(r, int32(firedEvents), 0)
	}
	if err := e.poller.Arm(req, req.sqe.Fd, events); err != nil {
		req.onComplete = nil
		e.onRequestComplete(req, errnoIO, 0)
	}
}

// builtinPollRemove cancels a previously armed POLL_ADD, identified by
// the target's user_data carried in this request's Addr field (mirroring
// how a real io_uring POLL_REMOVE carries the target's user_data there).
func (e *Engine) builtinPollRemove(req *Request) {
	e.cqLock.Lock()
	target, ok := e.inflight[req.sqe.Addr]
	e.cqLock.Unlock()

	if !ok || !e.poller.Disarm(target) {
		e.onRequestComplete(req, errnoNoEntry, 0)
		return
	}
	target.onComplete = nil
	target.release(e.pool)
	e.onRequestComplete(target, errnoCanceled, 0)
	e.onRequestComplete(req, 0, 0)
}

// builtinTimeout arms a TIMEOUT/LINK_TIMEOUT request. A non-zero Len is
// interpreted as a count-based target (fire after Len further
// completions); otherwise Off carries a duration in nanoseconds,
// absolute (epoch) if TimeoutAbs is set in OpFlags, else relative to
// now.
func (e *Engine) builtinTimeout(req *Request) {
	if req.sqe.Len > 0 {
		target := e.completionSeq.Load() + uint64(req.sqe.Len)
		e.timeouts.ArmCount(req, target)
		return
	}
	ns := int64(req.sqe.Off)
	var deadline time.Time
	if req.sqe.OpFlags&proto.TimeoutAbs != 0 {
		deadline = time.Unix(0, ns)
	} else {
		deadline = time.Now().Add(time.Duration(ns))
	}
	e.timeouts.ArmAbsolute(req, deadline)
}

// builtinTimeoutRemove cancels a previously armed TIMEOUT, identified by
// the target's user_data in this request's Addr field.
func (e *Engine) builtinTimeoutRemove(req *Request) {
	e.cqLock.Lock()
	target, ok := e.inflight[req.sqe.Addr]
	e.cqLock.Unlock()

	if !ok || !e.timeouts.Cancel(target) {
		e.onRequestComplete(req, errnoNoEntry, 0)
		return
	}
	e.onRequestComplete(target, errnoCanceled, 0)
	e.onRequestComplete(req, 0, 0)
}

func (e *Engine) builtinAsyncCancel(req *Request) {
	m := CancelMatcher{
		UserData: req.sqe.Addr,
		Task:     req.owningTask,
		Fd:       req.sqe.Fd,
		Flags:    req.sqe.OpFlags,
	}
	n := e.Cancel(m)
	switch {
	case n == 0:
		e.onRequestComplete(req, errnoNoEntry, 0)
	case req.sqe.OpFlags&proto.AsyncCancelAll != 0:
		// Cancel-all reports how many requests it reached.
		e.onRequestComplete(req, int32(n), 0)
	default:
		e.onRequestComplete(req, 0, 0)
	}
}
