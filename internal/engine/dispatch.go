package engine

import (
	"sync"

	"github.com/ringcore/ioring/internal/proto"
)

// Capabilities describes how the dispatcher is allowed to run a given
// opcode: whether it may try inline first, whether an
// EAGAIN-equivalent result should be retried via poll-arm instead of
// handed to a worker, and whether its worker-queued execution must
// serialize with other requests against the same file.
type Capabilities uint8

const (
	CapInline Capabilities = 1 << iota
	CapPollable
	CapHashByFile
	CapForceAsync
)

// OpResult is what an OpHandler returns for a completed (or
// would-block) attempt.
type OpResult struct {
	Res   int32
	Flags uint32
}

// wouldBlockError is returned by an OpHandler to tell the dispatcher the
// operation cannot make progress yet and should be retried via the
// poller rather than treated as a hard completion (the EAGAIN
// equivalent).
type wouldBlockError struct {
	fd     int32
	events uint32
}

func (wouldBlockError) Error() string { return "engine: operation would block" }

// WouldBlock constructs the error an OpHandler returns to request
// poll-arming on fd for the given event mask.
func WouldBlock(fd int32, events uint32) error { return wouldBlockError{fd: fd, events: events} }

// OpHandler implements one opcode's actual I/O. It is supplied by the
// embedder; the engine only schedules, it never performs I/O itself.
// cmd/ioringctl registers simple pipe/file-backed handlers as a
// demonstration. The handler is called both for the first inline attempt and
// for every retry after a poll-arm wakes the request, or from a worker
// goroutine for worker-queued execution.
type OpHandler func(r *Request) (OpResult, error)

type opEntry struct {
	handler OpHandler
	caps    Capabilities
}

// Dispatcher routes a prepared Request through the lifecycle state
// machine: PREPARED -> INLINE -> (POLL-ARMED |
// WORKER-QUEUED -> WORKER-EXECUTING) -> COMPLETED. Built-in opcodes
// (NOP, POLL_ADD, POLL_REMOVE, TIMEOUT, TIMEOUT_REMOVE, LINK_TIMEOUT,
// ASYNC_CANCEL) are the engine's own bookkeeping and are wired in by
// the Engine constructor; everything else comes from RegisterHandler.
type Dispatcher struct {
	mu    sync.RWMutex
	table map[proto.Op]*opEntry

	complete func(r *Request, res int32, flags uint32)
	poller   *Poller
	workers  *WorkerPool
	links    *LinkGraph
	pool     *requestPool

	// schedule defers fn to run on task's own mailbox rather than
	// whatever goroutine a poll-readiness wake fired on; the wake
	// context must never run arbitrary handler code. Set by the Engine
	// once construction is complete (see Engine.scheduleOnTask).
	schedule func(task *Task, fn func())
}

func newDispatcher(complete func(r *Request, res int32, flags uint32), poller *Poller, workers *WorkerPool, links *LinkGraph, pool *requestPool) *Dispatcher {
	d := &Dispatcher{
		table:    make(map[proto.Op]*opEntry),
		complete: complete,
		poller:   poller,
		workers:  workers,
		links:    links,
		pool:     pool,
	}
	poller.SetReadyCallback(d.onPollReady)
	return d
}

// RegisterHandler installs or replaces the handler for op.
func (d *Dispatcher) RegisterHandler(op proto.Op, caps Capabilities, h OpHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table[op] = &opEntry{handler: h, caps: caps}
}

// Supports reports whether op currently has a handler installed.
func (d *Dispatcher) Supports(op proto.Op) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.table[op]
	return ok
}

func (d *Dispatcher) lookup(op proto.Op) (*opEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.table[op]
	return e, ok
}

// Dispatch begins running req. It either completes req synchronously
// (inline path, CapInline), arms a poll wait on would-block
// (CapPollable), or hands req to the worker pool (default, or forced by
// SQEAsync/CapForceAsync).
func (d *Dispatcher) Dispatch(req *Request) {
	entry, ok := d.lookup(req.opcode)
	if !ok {
		d.complete(req, errnoNoSuchOp, 0)
		return
	}

	forceAsync := req.sqeFlags&proto.SQEAsync != 0 || entry.caps&CapForceAsync != 0
	if !forceAsync && entry.caps&CapInline != 0 {
		req.setState(StateInline)
		res, err := entry.handler(req)
		if err == nil {
			d.complete(req, res.Res, res.Flags)
			return
		}
		if wb, ok := err.(wouldBlockError); ok {
			if entry.caps&CapPollable != 0 {
				req.onComplete = func(r *Request, res int32, flags uint32) { d.retryAfterReady(r, entry) }
				if armErr := d.poller.Arm(req, wb.fd, wb.events); armErr != nil {
					d.complete(req, errnoIO, 0)
					return
				}
				return
			}
			// Not pollable: an EAGAIN-equivalent result falls through to
			// WORKER-QUEUED unconditionally rather than failing the
			// request.
			d.queueToWorker(req, entry)
			return
		}
		d.complete(req, errnoIO, 0)
		return
	}
	d.queueToWorker(req, entry)
}

func (d *Dispatcher) queueToWorker(req *Request, entry *opEntry) {
	req.setState(StateWorkerQueued)
	req.onComplete = d.complete
	item := workItem{req: req, fn: func() (int32, uint32) {
		if req.Canceled() {
			return errnoCanceled, 0
		}
		req.setState(StateWorkerExecuting)
		res, err := entry.handler(req)
		if err != nil {
			return errnoIO, 0
		}
		return res.Res, res.Flags
	}}
	req.workItem = &item

	var key uint64
	if entry.caps&CapHashByFile != 0 {
		key = uint64(uint32(req.sqe.Fd))
	} else {
		key = req.userData
	}

	ok := d.workers.Submit(key, item)
	if !ok {
		ok = d.workers.SubmitUnbounded(item)
	}
	if !ok {
		// Worker submission failed after the request was already
		// accepted. Complete inline with an error rather than lose the
		// one-completion-per-submission guarantee.
		d.complete(req, errnoAgain, 0)
	}
}

// retryAfterReady re-attempts an inline handler after its poll-arm
// fired. It never blocks: if the retry would-block again, it re-arms,
// restoring req.onComplete first so the next wake finds a callback to
// invoke (onPollReady clears it unconditionally before each wake).
func (d *Dispatcher) retryAfterReady(req *Request, entry *opEntry) {
	res, err := entry.handler(req)
	if err == nil {
		d.complete(req, res.Res, res.Flags)
		return
	}
	if wb, ok := err.(wouldBlockError); ok {
		req.onComplete = func(r *Request, res int32, flags uint32) { d.retryAfterReady(r, entry) }
		if armErr := d.poller.Arm(req, wb.fd, wb.events); armErr == nil {
			return
		}
		req.onComplete = nil
	}
	d.complete(req, errnoIO, 0)
}

// onPollReady is the Poller's wake callback. It runs on the poller's own
// background goroutine, which must not execute the retry itself (the
// handler it would call is arbitrary embedder code, and may hold locks
// or perform some other not-safe-in-this-context work); instead it
// hands the resume work to the owning task's mailbox and lets the task
// run it the next time it enters the engine (DrainSubmissions or
// WaitCQE).
func (d *Dispatcher) onPollReady(req *Request, events uint32) {
	req.setState(StateInline)
	req.pollWait = pollWaitHandle{}
	cb := req.onComplete
	req.onComplete = nil
	req.release(d.pool) // drop the reference Poller.Arm took
	if req.Canceled() {
		// Marked canceled while the wait was armed; complete instead of
		// retrying.
		d.complete(req, errnoCanceled, 0)
		return
	}
	if cb == nil {
		return
	}
	task := req.owningTask
	if task == nil || d.schedule == nil {
		cb(req, 0, events)
		return
	}
	d.schedule(task, func() { cb(req, 0, events) })
}

// Sentinel negative-errno-like results used by built-in failure paths.
// Kept as plain constants (not syscall.Errno) since the engine runs
// userspace-only ops; embedders map them back through ResultError.
const (
	errnoNoEntry  int32 = -2   // ENOENT
	errnoIO       int32 = -5   // EIO
	errnoAgain    int32 = -11  // EAGAIN
	errnoNoSuchOp int32 = -38  // ENOSYS
	errnoTimedOut int32 = -62  // ETIME
	errnoCanceled int32 = -125 // ECANCELED
)
