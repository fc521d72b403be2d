// Package ioring provides a userspace asynchronous I/O submission and
// completion engine modeled on the io_uring ring protocol: a shared
// submission/completion queue pair, a pluggable per-opcode handler
// table, and the link/timeout/cancellation machinery that normally
// lives in the kernel, reimplemented here in process memory since there
// is no io_uring driver to talk to from a plain Go process.
package ioring

import (
	"sync"

	"github.com/ringcore/ioring/internal/engine"
	"github.com/ringcore/ioring/internal/proto"
)

// Common errors, mirroring the shape of a real io_uring binding's
// sentinel error set.
var (
	ErrRingClosed      = engine.ErrRingClosed
	ErrSQFull          = engine.ErrSQFull
	ErrCQOverflow      = engine.ErrCQOverflow
	ErrNotSupported    = engine.ErrNotSupported
	ErrRequestCanceled = engine.ErrRequestCanceled
	ErrTimedOut        = engine.ErrTimedOut
)

// Timespec is a time specification used by timeout operations.
type Timespec = proto.Timespec

// Op is an opcode, exported so embedders can register handlers for it.
type Op = proto.Op

// Opcodes recognized by Prep*/RegisterHandler. OPENAT and STATX are
// reserved for embedders that register their own handlers; no Prep
// helper exists for them yet.
const (
	OpNop           = proto.OpNop
	OpRead          = proto.OpRead
	OpWrite         = proto.OpWrite
	OpReadv         = proto.OpReadv
	OpWritev        = proto.OpWritev
	OpFsync         = proto.OpFsync
	OpAccept        = proto.OpAccept
	OpConnect       = proto.OpConnect
	OpSend          = proto.OpSend
	OpRecv          = proto.OpRecv
	OpClose         = proto.OpClose
	OpOpenat        = proto.OpOpenat
	OpStatx         = proto.OpStatx
	OpPollAdd       = proto.OpPollAdd
	OpPollRemove    = proto.OpPollRemove
	OpTimeout       = proto.OpTimeout
	OpTimeoutRemove = proto.OpTimeoutRemove
	OpLinkTimeout   = proto.OpLinkTimeout
	OpAsyncCancel   = proto.OpAsyncCancel
)

// Capabilities describes how the engine is allowed to run a registered
// OpHandler: inline-first, pollable-on-EAGAIN, serialized per file, or
// always worker-queued. See RegisterHandler.
type Capabilities = engine.Capabilities

const (
	CapInline     = engine.CapInline
	CapPollable   = engine.CapPollable
	CapHashByFile = engine.CapHashByFile
	CapForceAsync = engine.CapForceAsync
)

// OpResult is what a registered OpHandler returns for a finished (or
// would-block) attempt.
type OpResult = engine.OpResult

// OpHandler implements one opcode's actual I/O; see RegisterHandler.
type OpHandler = engine.OpHandler

// Request is the in-flight submission an OpHandler is given: its SQE,
// user_data, and opcode. Handlers never see or mutate engine-internal
// lifecycle state directly; this is the same object RegisterHandler's
// callback type takes.
type Request = engine.Request

// PoolStats reports request pool allocation counters.
type PoolStats = engine.PoolStats

// WouldBlock constructs the error an OpHandler returns to ask the ring
// to retry this request once fd becomes ready for events (the EAGAIN
// equivalent).
func WouldBlock(fd int32, events uint32) error { return engine.WouldBlock(fd, events) }

// Ring is a userspace io_uring-alike instance: a staged submission
// array the caller fills via GetSQE, flushed into the engine by
// Submit/SubmitAndWait, and a completion stream read via
// PeekCQE/WaitCQE.
type Ring struct {
	eng  *engine.Engine
	task *engine.Task

	features uint32

	mu      sync.Mutex
	staged  []proto.SQE
	pending int
}

// Option configures ring setup.
type Option = engine.Option

var (
	WithSQEntries        = engine.WithSQEntries
	WithCQEntries        = engine.WithCQEntries
	WithWorkerPoolSize   = engine.WithWorkerPoolSize
	WithUnboundedWorkers = engine.WithUnboundedWorkers
	WithSingleIssuer     = engine.WithSingleIssuer
	WithSQPoll           = engine.WithSQPoll
	WithPollInterval     = engine.WithPollInterval
)

// New creates a new ring. entries specifies the minimum number of
// submission queue entries (rounded up to a power of two).
func New(entries uint32, opts ...Option) (*Ring, error) {
	if entries == 0 {
		return nil, engine.ErrInvalidEntries
	}
	opts = append([]Option{WithSQEntries(entries)}, opts...)
	eng, err := engine.New(opts...)
	if err != nil {
		return nil, err
	}
	return &Ring{
		eng:      eng,
		task:     eng.NewTask(),
		staged:   make([]proto.SQE, entries),
		features: proto.FeatNoDrop | proto.FeatExtArg | proto.FeatNativeWorkers,
	}, nil
}

// RegisterHandler installs the embedder's implementation of op: the
// concrete I/O (read/write/accept/...) the engine itself never knows
// how to perform.
func (r *Ring) RegisterHandler(op Op, caps Capabilities, h OpHandler) {
	r.eng.RegisterHandler(op, caps, h)
}

// Close closes the ring and releases all resources.
func (r *Ring) Close() error {
	return r.eng.Close()
}

// Cancel runs the ASYNC_CANCEL matcher chain against the request
// carrying the given user_data, with flags as AsyncCancel* bits.
// Returns the number of requests canceled (0 or 1 unless
// AsyncCancelAll is set).
func (r *Ring) Cancel(userData uint64, flags uint32) int {
	return r.eng.Cancel(engine.CancelMatcher{UserData: userData, Task: r.task, Flags: flags})
}

// CancelFd cancels the first in-flight request submitted against fd.
func (r *Ring) CancelFd(fd int32) int {
	return r.eng.Cancel(engine.CancelMatcher{Fd: fd, Flags: proto.AsyncCancelFd})
}

// SQEntries returns the submission ring's actual capacity, rounded up to
// a power of two from the value passed to New.
func (r *Ring) SQEntries() uint32 { return r.eng.SQCapacity() }

// SQReady returns the number of SQEs staged but not yet submitted.
func (r *Ring) SQReady() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint32(r.pending)
}

// SQSpace returns the available space in the staging array.
func (r *Ring) SQSpace() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint32(len(r.staged) - r.pending)
}

// CQReady returns the number of CQEs ready for consumption.
func (r *Ring) CQReady() uint32 { return r.eng.CQReady() }

// CQOverflow returns the number of completions currently held in the
// overflow spill list rather than the ring proper.
func (r *Ring) CQOverflow() uint32 { return r.eng.CQOverflow() }

// SQDropped returns the number of submissions refused because the
// engine's internal ring had no space.
func (r *Ring) SQDropped() uint32 { return r.eng.SQDropped() }

// Submit flushes every staged SQE into the engine. Returns the number
// of entries submitted. If the engine ring fills partway through, the
// already-flushed prefix is still submitted and the shortfall stays
// staged for a later Submit; the error reports why the batch was cut
// short.
func (r *Ring) Submit() (int, error) {
	r.mu.Lock()
	n := r.pending
	if n == 0 {
		r.mu.Unlock()
		return 0, nil
	}
	pushed := 0
	var pushErr error
	for i := 0; i < n; i++ {
		if err := r.eng.PushSQE(r.staged[i]); err != nil {
			pushErr = err
			break
		}
		pushed++
	}
	copy(r.staged, r.staged[pushed:n])
	r.pending = n - pushed
	r.mu.Unlock()

	if pushed == 0 {
		return 0, pushErr
	}
	submitted, err := r.eng.DrainSubmissions(r.task)
	if err == nil {
		err = pushErr
	}
	return submitted, err
}

// SubmitAndWait submits pending SQEs and then blocks until at least n
// completions are waiting to be seen (n = 0 returns immediately after
// the submit).
func (r *Ring) SubmitAndWait(n uint32) (int, error) {
	submitted, err := r.Submit()
	if err != nil {
		return submitted, err
	}
	if n > 0 {
		r.eng.WaitCQEs(r.task, n, 0)
	}
	return submitted, nil
}

// Stats exposes request pool allocation counters.
func (r *Ring) Stats() PoolStats { return r.eng.PoolStats() }

// RegisterBuffers registers fixed buffers for I/O operations. Slot i of
// the table corresponds to bufs[i].
func (r *Ring) RegisterBuffers(bufs [][]byte) error {
	if len(bufs) == 0 {
		return engine.ErrInvalidEntries
	}
	values := make([]any, len(bufs))
	for i, b := range bufs {
		values[i] = b
	}
	r.eng.Buffers().Register(values)
	return nil
}

// UnregisterBuffers removes registered buffers.
func (r *Ring) UnregisterBuffers() error {
	r.eng.Buffers().Unregister()
	return nil
}

// RegisterFiles registers fixed file descriptors.
func (r *Ring) RegisterFiles(fds []int) error {
	if len(fds) == 0 {
		return engine.ErrInvalidEntries
	}
	values := make([]any, len(fds))
	for i, fd := range fds {
		values[i] = fd
	}
	r.eng.Files().Register(values)
	return nil
}

// UnregisterFiles removes registered files.
func (r *Ring) UnregisterFiles() error {
	r.eng.Files().Unregister()
	return nil
}

// FilesGeneration returns the registered-files table's generation
// counter, bumped on every Register/Unregister. Embedders
// that cache a file's registered index can use this to detect a
// re-registration that invalidated the indices they cached.
func (r *Ring) FilesGeneration() uint64 { return r.eng.Files().Generation() }

// BuffersGeneration returns the registered-buffers table's generation
// counter; see FilesGeneration.
func (r *Ring) BuffersGeneration() uint64 { return r.eng.Buffers().Generation() }

// ResizeWorkers grows or shrinks the bounded worker group backing
// worker-queued operations, e.g. to track a change in available CPUs at
// runtime.
func (r *Ring) ResizeWorkers(n int) { r.eng.ResizeWorkerPool(n) }
