package engine

import (
	"sync/atomic"

	"github.com/ringcore/ioring/internal/proto"
)

// sqRing is the submission ring: a single-producer (the submitting task),
// single-consumer (DrainSubmissions, run by the submitting task or by
// the SQ poll thread under WithSQPoll) slot array of proto.SQE, with
// atomic head/tail indices.
// Indices are monotonically increasing uint32s, masked down to a slot on
// use; unsigned wrap is intentional, so indices are compared by
// subtraction, never masked.
type sqRing struct {
	entries []proto.SQE
	mask    uint32

	head atomic.Uint32 // advanced by the dispatcher (consumer)
	tail atomic.Uint32 // advanced by the submitter (producer)
}

func newSQRing(size uint32) *sqRing {
	size = roundUpPow2(size)
	return &sqRing{entries: make([]proto.SQE, size), mask: size - 1}
}

// Capacity reports the ring's slot count after rounding up to a power
// of two.
func (r *sqRing) Capacity() uint32 {
	return uint32(len(r.entries))
}

// Space reports how many free slots remain for the producer.
func (r *sqRing) Space() uint32 {
	return uint32(len(r.entries)) - (r.tail.Load() - r.head.Load())
}

// Ready reports how many entries are queued for the consumer.
func (r *sqRing) Ready() uint32 {
	return r.tail.Load() - r.head.Load()
}

// Push writes sqe into the next producer slot and release-publishes the
// new tail. Caller must have already confirmed Space() > 0.
func (r *sqRing) Push(sqe proto.SQE) uint32 {
	tail := r.tail.Load()
	r.entries[tail&r.mask] = sqe
	r.tail.Store(tail + 1) // release: entry write happens-before tail bump
	return tail
}

// Pop acquire-loads the next consumer entry, if any is ready.
func (r *sqRing) Pop() (proto.SQE, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return proto.SQE{}, false
	}
	e := r.entries[head&r.mask]
	r.head.Store(head + 1)
	return e, true
}

// cqRing is the completion ring: single-producer (the completion path),
// single-or-multi-consumer (the application calling PeekCQE/WaitCQE).
// Overflow beyond ring capacity spills to an explicit list rather than
// overwriting unseen entries.
type cqRing struct {
	entries []proto.CQE
	mask    uint32

	head atomic.Uint32 // advanced by the application (consumer)
	tail atomic.Uint32 // advanced by the completion path (producer)

	dropped  atomic.Uint32
	overflow *cqOverflow
}

func newCQRing(size uint32) *cqRing {
	size = roundUpPow2(size)
	return &cqRing{
		entries:  make([]proto.CQE, size),
		mask:     size - 1,
		overflow: newCQOverflow(),
	}
}

// Space reports free slots in the ring proper (not counting overflow).
func (r *cqRing) Space() uint32 {
	return uint32(len(r.entries)) - (r.tail.Load() - r.head.Load())
}

// Ready reports how many ring entries are waiting to be seen.
func (r *cqRing) Ready() uint32 {
	return r.tail.Load() - r.head.Load()
}

// TryFill attempts to post cqe directly into the ring; it returns false
// if the ring is full, in which case the caller (completion path) spills
// to the overflow list instead.
func (r *cqRing) TryFill(cqe proto.CQE) bool {
	if r.Space() == 0 {
		return false
	}
	tail := r.tail.Load()
	r.entries[tail&r.mask] = cqe
	r.tail.Store(tail + 1)
	return true
}

// Peek returns the oldest unseen entry without consuming it.
func (r *cqRing) Peek() (proto.CQE, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return proto.CQE{}, false
	}
	return r.entries[head&r.mask], true
}

// Seen advances the consumer head by n entries.
func (r *cqRing) Seen(n uint32) {
	r.head.Store(r.head.Load() + n)
	// draining the ring may free space for spilled overflow entries;
	// the completion path is responsible for re-attempting those.
}

// Dropped reports the number of completions lost because both the ring
// and the bounded overflow list were exhausted.
func (r *cqRing) Dropped() uint32 { return r.dropped.Load() }

// roundUpPow2 rounds n up to the next power of two, with a floor of 1,
// matching how a real io_uring setup rounds submitted entry counts.
func roundUpPow2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
