package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ringcore/ioring/internal/proto"
)

// Engine is the top-level scheduling core the façade package drives: it
// owns the SQ/CQ rings, the request pool, the resource tables, the
// dispatcher, the poller, the worker pool, the link graph, the timeout
// service, the canceler, and the completion path, and wires them
// together. The submission path and the completion path are serialized
// by separate locks; everything in between is per-subsystem.
type Engine struct {
	cfg *Config

	sq *sqRing
	cp *CompletionPath

	pool     *requestPool
	files    *ResourceTable
	buffers  *ResourceTable
	dispatch *Dispatcher
	poller   *Poller
	workers  *WorkerPool
	links    *LinkGraph
	timeouts *TimeoutService
	canceler *Canceler

	sqLock   sync.Mutex // serializes submission
	cqLock   sync.Mutex // serializes completion bookkeeping; guards inflight
	inflight map[uint64]*Request
	nextKey  atomic.Uint64

	completionSeq atomic.Uint64
	sqDropped     atomic.Uint32

	mailboxMu sync.Mutex
	mailboxes []*Mailbox

	thread *sqThread

	closed atomic.Bool
}

// New builds an Engine from the supplied options, starting the poller
// and worker pool goroutines. The caller must call Close when done.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.params.SQEntries == 0 {
		cfg.params.SQEntries = 256
	}
	if cfg.params.CQEntries == 0 {
		cfg.params.CQEntries = cfg.params.SQEntries * 2
	}

	backend, err := newPollBackend(time.Duration(cfg.pollInterval))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		sq:       newSQRing(cfg.params.SQEntries),
		cp:       newCompletionPath(cfg.params.CQEntries),
		pool:     newRequestPool(),
		files:    newResourceTable(),
		buffers:  newResourceTable(),
		poller:   newPoller(backend),
		links:    newLinkGraph(),
		inflight: make(map[uint64]*Request),
	}
	e.workers = newWorkerPool(cfg.workerPoolSize, cfg.unboundedWorkers)
	e.timeouts = newTimeoutService(e.onTimeoutFire)
	e.dispatch = newDispatcher(e.onRequestComplete, e.poller, e.workers, e.links, e.pool)
	e.dispatch.schedule = e.scheduleOnTask
	e.canceler = newCanceler(e.pool, e.poller, e.timeouts, e.workers, e.onRequestComplete)
	e.registerBuiltins()

	if cfg.sqPoll {
		e.thread = newSQThread(e, cfg.sqPollIdleNanos)
		e.thread.start()
	}
	return e, nil
}

// RegisterHandler installs the embedder's implementation of op.
func (e *Engine) RegisterHandler(op proto.Op, caps Capabilities, h OpHandler) {
	e.dispatch.RegisterHandler(op, caps, h)
}

// scheduleOnTask pushes fn onto task's mailbox and wakes anyone blocked
// in WaitCQE, so fn runs on the task's own next entry into the engine
// rather than on whatever goroutine scheduled it. Dispatcher.onPollReady
// is the poll-readiness wake path this exists for.
func (e *Engine) scheduleOnTask(task *Task, fn func()) {
	task.mailbox.Push(fn)
	e.cp.notify()
}

// NewTask allocates a task identity for a submitting goroutine.
func (e *Engine) NewTask() *Task {
	id := e.nextKey.Add(1)
	t := NewTask(id)
	e.mailboxMu.Lock()
	e.mailboxes = append(e.mailboxes, t.mailbox)
	e.mailboxMu.Unlock()
	return t
}

// PushSQE stages sqe onto the engine's submission ring (producer side);
// DrainSubmissions later pops staged entries and actually admits them.
// Returns ErrSQFull if the ring has no space. A refused entry bumps the
// sq_dropped counter: the ring never admitted it, so no completion will
// ever appear for it.
func (e *Engine) PushSQE(sqe proto.SQE) error {
	if e.sq.Space() == 0 {
		e.sqDropped.Add(1)
		return ErrSQFull
	}
	e.sq.Push(sqe)
	return nil
}

// SQDropped reports the number of submissions the engine refused because
// the ring had no space.
func (e *Engine) SQDropped() uint32 { return e.sqDropped.Load() }

// DrainSubmissions pops every currently-ready SQE from the ring and
// admits it, chaining consecutive LINK/HARDLINK-flagged entries into a
// single link chain the way a real io_uring submission batch does. A
// LINK_TIMEOUT immediately following a linked head is armed
// concurrently with it instead of being queued as an ordinary
// successor, so the two race.
//
// The whole batch's chain topology (every Chain() link and every
// head/timer wiring for a trailing LINK_TIMEOUT) is assembled before
// any chain head is actually dispatched. A chain head with a CapInline
// handler can complete synchronously inside its own dispatch call; if
// heads were started as soon as they were popped, such a head could
// run to completion (and be freed back to the pool) before its own
// successor or LINK_TIMEOUT was even popped from the ring, leaving
// Chain/buildLinkTimeoutRequest to wire a request that no longer exists. By
// building the whole chain first and dispatching heads last, that
// race cannot occur. Returns the number of entries admitted.
func (e *Engine) DrainSubmissions(task *Task) (int, error) {
	task.mailbox.Drain()

	var sqes []proto.SQE
	for {
		sqe, ok := e.sq.Pop()
		if !ok {
			break
		}
		sqes = append(sqes, sqe)
	}

	n := 0
	var chainPrev *Request
	var heads []*Request
	type pendingTimeout struct {
		req  *Request
		head *Request
	}
	var linkTimeouts []pendingTimeout

	for _, sqe := range sqes {
		if proto.Op(sqe.Opcode) == proto.OpLinkTimeout && chainPrev != nil {
			req, err := e.buildLinkTimeoutRequest(task, sqe, chainPrev)
			if err != nil {
				return n, err
			}
			n++
			linkTimeouts = append(linkTimeouts, pendingTimeout{req: req, head: chainPrev})
			chainPrev = nil
			continue
		}

		req, err := e.buildRequest(task, sqe)
		if err != nil {
			return n, err
		}
		n++

		if chainPrev != nil {
			e.links.Chain(chainPrev, req)
		} else {
			heads = append(heads, req)
		}

		if sqe.Flags&(proto.SQEIOLink|proto.SQEIOHardlink) != 0 {
			chainPrev = req
		} else {
			chainPrev = nil
		}
	}

	// Wire every LINK_TIMEOUT against its head before any head runs, so
	// a head that finishes inline still finds timeoutLink populated and
	// can cancel it (see onRequestComplete).
	for _, pt := range linkTimeouts {
		e.cqLock.Lock()
		pt.head.timeoutLink = pt.req
		e.cqLock.Unlock()
		e.builtinTimeout(pt.req)
	}
	for _, h := range heads {
		e.startOrDefer(h)
	}
	return n, nil
}

// lockSQ acquires the submission lock, unless the embedder promised via
// WithSingleIssuer that only one goroutine will ever submit, in which
// case the lock is pure overhead and is skipped entirely.
func (e *Engine) lockSQ() {
	if !e.cfg.singleIssuer {
		e.sqLock.Lock()
	}
}

func (e *Engine) unlockSQ() {
	if !e.cfg.singleIssuer {
		e.sqLock.Unlock()
	}
}

// buildRequest allocates and registers the Request for one SQE under
// the submission lock, but never dispatches it: chain linking and the
// eventual startOrDefer call happen once the caller has finished
// assembling the whole submitted batch's topology, so a
// synchronously-completing head can never race ahead of its own
// chain's construction (see DrainSubmissions).
func (e *Engine) buildRequest(task *Task, sqe proto.SQE) (*Request, error) {
	if e.closed.Load() {
		return nil, ErrRingClosed
	}
	e.lockSQ()
	defer e.unlockSQ()

	req := e.pool.alloc()
	req.opcode = proto.Op(sqe.Opcode)
	req.sqeFlags = sqe.Flags
	req.userData = sqe.UserData
	req.sqe = sqe
	req.owningTask = task
	req.seq = e.links.NextSeq()

	e.cqLock.Lock()
	e.inflight[req.userData] = req
	e.cqLock.Unlock()

	return req, nil
}

// buildLinkTimeoutRequest allocates and registers a LINK_TIMEOUT's
// Request against head, without arming its timer yet; req.linkedHead
// lets the timer's eventual fire handler cancel head if it wins the
// race (see onTimeoutFire). The timer is armed, and head.timeoutLink
// set, only once the whole batch has been built (see DrainSubmissions)
// so head cannot complete and free itself before the wiring exists.
func (e *Engine) buildLinkTimeoutRequest(task *Task, sqe proto.SQE, head *Request) (*Request, error) {
	req, err := e.buildRequest(task, sqe)
	if err != nil {
		return nil, err
	}
	req.linkedHead = head
	return req, nil
}

// startOrDefer checks the drain barrier before handing req to the
// dispatcher; a request parked by the barrier stays in the defer queue
// until the completion path releases it.
func (e *Engine) startOrDefer(req *Request) {
	if e.links.Defer(req) {
		req.setState(StateDeferred)
		return
	}
	e.runBuiltinOrDispatch(req)
}

func (e *Engine) runBuiltinOrDispatch(req *Request) {
	if req.Canceled() {
		// Canceled before it ever started (while deferred, or while
		// waiting behind a chain head). Complete instead of dispatching.
		e.onRequestComplete(req, errnoCanceled, 0)
		return
	}
	if handled := e.tryBuiltin(req); handled {
		return
	}
	e.dispatch.Dispatch(req)
}

// onRequestComplete is the single funnel every completion source
// (dispatcher inline/poll/worker path, builtin ops, timeout fire,
// cancellation) posts through.
func (e *Engine) onRequestComplete(req *Request, res int32, flags uint32) {
	e.cp.Post(req, res, flags)

	seq := e.completionSeq.Add(1)
	e.timeouts.AdvanceSeq(seq)

	e.cqLock.Lock()
	_, wasInflight := e.inflight[req.userData]
	delete(e.inflight, req.userData)
	next, forceFail := e.links.OnComplete(req, res)
	e.cqLock.Unlock()

	drainReady := e.links.Completed()

	for _, r := range drainReady {
		e.runBuiltinOrDispatch(r)
	}

	if next != nil {
		// Chain() took an extra reference on req when it linked req -> next
		// ("the chain holds a reference until it hands off"); the hand-off
		// is happening right now, so drop it.
		req.release(e.pool)
		if forceFail {
			e.onRequestComplete(next, errnoCanceled, 0)
		} else {
			e.startOrDefer(next)
		}
	}

	if req.timeoutLink != nil {
		if e.timeouts.Cancel(req.timeoutLink) {
			// The timer never fired; still post the LINK_TIMEOUT's own
			// completion as canceled, matching a real io_uring
			// IORING_OP_LINK_TIMEOUT whose linked request won the race.
			e.onRequestComplete(req.timeoutLink, errnoCanceled, 0)
		}
	}

	// Two references are dropped here, matching the initial refcount of
	// 2 set at allocation: the inflight-registry's hold and the
	// completion-path hold.
	if wasInflight {
		req.release(e.pool)
	}
	req.release(e.pool)
}

func (e *Engine) onTimeoutFire(req *Request, kind timeoutKind) {
	if head := req.linkedHead; head != nil {
		// A linked timeout that wins the race cancels its head and
		// reports ETIME for itself.
		e.cancelLinkedHead(head)
		e.onRequestComplete(req, errnoTimedOut, 0)
		return
	}
	if kind == timeoutCount || req.sqe.OpFlags&proto.TimeoutETimeSuccess != 0 {
		// A count-based timeout reaching its target did exactly what was
		// asked of it; same for a timer the submitter marked
		// success-on-expiry.
		e.onRequestComplete(req, 0, 0)
		return
	}
	e.onRequestComplete(req, errnoTimedOut, 0)
}

// cancelLinkedHead force-cancels head because its LINK_TIMEOUT fired
// first. If head is already running in a worker, this only
// sets the canceled flag; the worker checks it before invoking the
// handler and posts the ECANCELED completion itself (the same
// best-effort path ASYNC_CANCEL uses against a running op).
func (e *Engine) cancelLinkedHead(head *Request) {
	if head.cancelled.Swap(true) {
		return
	}
	switch head.State() {
	case StatePollArmed:
		if e.poller.Disarm(head) {
			head.release(e.pool)
			e.onRequestComplete(head, errnoCanceled, 0)
		}
	default:
		// PREPARED/DEFERRED: not started yet; it completes as canceled
		// the moment it would otherwise dispatch (runBuiltinOrDispatch
		// checks the flag). WORKER-QUEUED/WORKER-EXECUTING: best-effort,
		// same as ASYNC_CANCEL; the worker checks Canceled() itself.
		// INLINE/COMPLETED/already freed: head is already completing or
		// gone, nothing to do.
	}
}

// forEach implements inFlightIndex for the canceler.
func (e *Engine) forEach(fn func(*Request) bool) {
	e.cqLock.Lock()
	snapshot := make([]*Request, 0, len(e.inflight))
	for _, r := range e.inflight {
		snapshot = append(snapshot, r)
	}
	e.cqLock.Unlock()
	for _, r := range snapshot {
		if !fn(r) {
			return
		}
	}
}

// Cancel runs ASYNC_CANCEL's matcher chain against in-flight requests.
func (e *Engine) Cancel(m CancelMatcher) int {
	return e.canceler.Cancel(e, m)
}

// PeekCQE returns the oldest unseen completion without consuming it.
func (e *Engine) PeekCQE() (proto.CQE, bool) { return e.cp.Peek() }

// SeenCQEs advances the consumer past n completions.
func (e *Engine) SeenCQEs(n uint32) { e.cp.Seen(n) }

// CQReady reports how many completions are waiting.
func (e *Engine) CQReady() uint32 { return e.cp.Ready() }

// CQOverflow reports how many completions currently live in the spill list.
func (e *Engine) CQOverflow() uint32 { return e.cp.Overflow() }

// WaitCQE blocks (subject to timeout, 0 meaning forever) until at least
// one completion is ready. The owning task's mailbox is drained on
// every wake so parked poll retries make progress while the task waits.
func (e *Engine) WaitCQE(task *Task, timeout time.Duration) (proto.CQE, bool) {
	deadlineCh := (<-chan time.Time)(nil)
	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}
	for {
		if cqe, ok := e.cp.Peek(); ok {
			task.mailbox.Drain()
			return cqe, true
		}
		select {
		case <-e.cp.WakeChan():
			task.mailbox.Drain()
		case <-deadlineCh:
			return proto.CQE{}, false
		}
	}
}

// WaitCQEs blocks until at least n completions are waiting to be seen,
// or timeout elapses (0 meaning forever). Reports whether the target
// was met.
func (e *Engine) WaitCQEs(task *Task, n uint32, timeout time.Duration) bool {
	deadlineCh := (<-chan time.Time)(nil)
	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}
	for {
		task.mailbox.Drain()
		if e.cp.Ready() >= n {
			return true
		}
		select {
		case <-e.cp.WakeChan():
		case <-deadlineCh:
			return false
		}
	}
}

// SQSpace/SQReady mirror the usual ring accessor pair.
func (e *Engine) SQSpace() uint32 { return e.sq.Space() }
func (e *Engine) SQReady() uint32 { return e.sq.Ready() }

// SQCapacity returns the submission ring's actual slot count, rounded up
// to a power of two from the value passed to WithSQEntries.
func (e *Engine) SQCapacity() uint32 { return e.sq.Capacity() }

// PoolStats exposes request pool allocation counters.
func (e *Engine) PoolStats() PoolStats { return e.pool.Stats() }

// Files/Buffers expose the registered resource tables.
func (e *Engine) Files() *ResourceTable   { return e.files }
func (e *Engine) Buffers() *ResourceTable { return e.buffers }

// ResizeWorkerPool grows or shrinks the bounded worker group, e.g. to
// track a change in available CPUs at runtime. Shrinking lets in-flight
// workers drain naturally rather than interrupting them; see
// WorkerPool.Resize.
func (e *Engine) ResizeWorkerPool(n int) { e.workers.Resize(n) }

// Probe reports which opcodes currently have a handler installed.
func (e *Engine) Probe() proto.Probe {
	p := proto.Probe{LastOp: proto.LastOp()}
	for op := proto.OpNop; op <= proto.LastOp(); op++ {
		if e.dispatch.Supports(op) {
			p.Ops = append(p.Ops, proto.ProbeOp{Op: op})
		}
	}
	return p
}

// Close tears down the worker pool, poller, timeout service and (if
// running) the submission thread. Idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.thread != nil {
		e.thread.stop()
	}
	e.workers.Close()
	e.timeouts.Close()
	return e.poller.Close()
}
