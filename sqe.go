package ioring

import (
	"unsafe"

	"github.com/ringcore/ioring/internal/proto"
)

// SQE is a submission queue entry, returned by GetSQE for the caller to
// fill in directly before calling Submit.
type SQE = proto.SQE

// getSQE returns the next staging slot, or nil if the staging array is
// full. NOT thread-safe; caller must hold r.mu.
func (r *Ring) getSQE() *SQE {
	if r.pending >= len(r.staged) {
		return nil
	}
	sqe := &r.staged[r.pending]
	sqe.Reset()
	r.pending++
	return sqe
}

// GetSQE returns the next available SQE, or nil if the staging array is
// full. Thread-safe.
func (r *Ring) GetSQE() *SQE {
	r.mu.Lock()
	sqe := r.getSQE()
	r.mu.Unlock()
	return sqe
}

func addrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// BytesAt reconstructs the []byte an OpHandler was given via Addr/Len,
// the mirror image of addrOf. OpHandlers receive the raw SQE through
// Request.SQE() and use this to get back a usable slice.
func BytesAt(addr uint64, length uint32) []byte {
	if addr == 0 || length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(length))
}

// PrepNop prepares a NOP operation. Useful for testing and waking a
// blocked WaitCQE.
func (r *Ring) PrepNop(userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	sqe.Opcode = uint8(proto.OpNop)
	sqe.UserData = userData
	return nil
}

// PrepRead prepares a read operation: up to len(buf) bytes from fd at offset.
func (r *Ring) PrepRead(fd int, buf []byte, offset uint64, userData uint64) error {
	return r.prepRW(proto.OpRead, fd, buf, offset, userData)
}

// PrepWrite prepares a write operation: len(buf) bytes from buf to fd at offset.
func (r *Ring) PrepWrite(fd int, buf []byte, offset uint64, userData uint64) error {
	return r.prepRW(proto.OpWrite, fd, buf, offset, userData)
}

func (r *Ring) prepRW(op proto.Op, fd int, buf []byte, offset uint64, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	sqe.Opcode = uint8(op)
	sqe.Fd = int32(fd)
	sqe.Addr = addrOf(buf)
	sqe.Len = uint32(len(buf))
	sqe.Off = offset
	sqe.UserData = userData
	return nil
}

// PrepFsync prepares an fsync operation on fd.
func (r *Ring) PrepFsync(fd int, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	sqe.Opcode = uint8(proto.OpFsync)
	sqe.Fd = int32(fd)
	sqe.UserData = userData
	return nil
}

// PrepAccept prepares an accept operation on the listening socket fd.
func (r *Ring) PrepAccept(fd int, userData uint64) error {
	return r.prepFdOnly(proto.OpAccept, fd, userData)
}

// PrepConnect prepares a connect operation; addr must stay alive until
// the completion fires.
func (r *Ring) PrepConnect(fd int, addr []byte, userData uint64) error {
	return r.prepRW(proto.OpConnect, fd, addr, 0, userData)
}

// PrepSend prepares a send operation.
func (r *Ring) PrepSend(fd int, buf []byte, userData uint64) error {
	return r.prepRW(proto.OpSend, fd, buf, 0, userData)
}

// PrepRecv prepares a recv operation.
func (r *Ring) PrepRecv(fd int, buf []byte, userData uint64) error {
	return r.prepRW(proto.OpRecv, fd, buf, 0, userData)
}

// PrepClose prepares a close operation on fd.
func (r *Ring) PrepClose(fd int, userData uint64) error {
	return r.prepFdOnly(proto.OpClose, fd, userData)
}

func (r *Ring) prepFdOnly(op proto.Op, fd int, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	sqe.Opcode = uint8(op)
	sqe.Fd = int32(fd)
	sqe.UserData = userData
	return nil
}

// PrepPollAdd prepares a one-shot poll wait on fd for the given event mask.
func (r *Ring) PrepPollAdd(fd int, events uint32, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	sqe.Opcode = uint8(proto.OpPollAdd)
	sqe.Fd = int32(fd)
	sqe.OpFlags = events
	sqe.UserData = userData
	return nil
}

// PrepPollRemove cancels a previously submitted POLL_ADD identified by
// its user_data.
func (r *Ring) PrepPollRemove(targetUserData uint64, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	sqe.Opcode = uint8(proto.OpPollRemove)
	sqe.Addr = targetUserData
	sqe.UserData = userData
	return nil
}

// PrepTimeout prepares a relative timeout that fires after d.
func (r *Ring) PrepTimeout(d Timespec, userData uint64) error {
	return r.prepTimeout(proto.OpTimeout, d, 0, userData)
}

// PrepTimeoutCount prepares a count-based timeout that fires once count
// further completions have occurred.
func (r *Ring) PrepTimeoutCount(count uint32, userData uint64) error {
	return r.prepTimeout(proto.OpTimeout, Timespec{}, count, userData)
}

// PrepLinkTimeout prepares a timeout linked to the immediately preceding
// submission in the same Submit batch: the preceding SQE must itself
// carry SetSQELink. The timeout runs concurrently with that request; if
// it fires first, the linked request is canceled, and if the linked
// request completes first, the timeout is canceled instead.
func (r *Ring) PrepLinkTimeout(d Timespec, userData uint64) error {
	return r.prepTimeout(proto.OpLinkTimeout, d, 0, userData)
}

func (r *Ring) prepTimeout(op proto.Op, d Timespec, count uint32, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	sqe.Opcode = uint8(op)
	sqe.UserData = userData
	if count > 0 {
		sqe.Len = count
	} else {
		sqe.Off = uint64(d.Sec)*1e9 + uint64(d.Nsec)
	}
	return nil
}

// PrepTimeoutRemove cancels a previously submitted TIMEOUT identified by
// its user_data.
func (r *Ring) PrepTimeoutRemove(targetUserData uint64, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	sqe.Opcode = uint8(proto.OpTimeoutRemove)
	sqe.Addr = targetUserData
	sqe.UserData = userData
	return nil
}

// PrepCancel prepares an ASYNC_CANCEL targeting the request with the
// given user_data.
func (r *Ring) PrepCancel(targetUserData uint64, flags uint32, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	sqe.Opcode = uint8(proto.OpAsyncCancel)
	sqe.Addr = targetUserData
	sqe.OpFlags = flags
	sqe.UserData = userData
	return nil
}

// SetSQEFlags ORs flags (IOSQE_*-equivalent bits) into sqe.
func SetSQEFlags(sqe *SQE, flags uint8) { sqe.Flags |= flags }

// SetSQELink marks sqe as linked to the next submission in the same
// Submit batch: the successor starts only after sqe completes, and a
// non-hard link propagates failure to it.
func SetSQELink(sqe *SQE, hard bool) {
	if hard {
		sqe.Flags |= proto.SQEIOHardlink
	} else {
		sqe.Flags |= proto.SQEIOLink
	}
}

// SetSQEAsync forces worker-queued dispatch for sqe regardless of the
// handler's declared capabilities.
func SetSQEAsync(sqe *SQE) { sqe.Flags |= proto.SQEAsync }

// SetSQEDrain marks sqe as a drain barrier: it will not start until
// every earlier submission has completed, and later submissions queue
// behind it.
func SetSQEDrain(sqe *SQE) { sqe.Flags |= proto.SQEIODrain }
