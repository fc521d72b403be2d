// Package proto defines the wire-level shapes shared between an
// application and the engine: the fixed-layout submission and completion
// entries, and the ring parameter block exchanged at setup time.
//
// These mirror the shapes a real io_uring exchanges with the kernel
// (struct io_uring_sqe / io_uring_cqe / io_uring_params), but here they
// are plain Go structs living in process memory rather than an mmap'd
// kernel region, since there is no kernel on the other end.
package proto

// SQE is one submission queue entry: the fixed-layout descriptor an
// application fills in to describe one operation. Field order matches
// the io_uring_sqe layout.
type SQE struct {
	Opcode      uint8  // operation code (Op)
	Flags       uint8  // IOSQE_* flags
	Ioprio      uint16 // priority / op-specific flags
	Fd          int32  // file descriptor or registered file slot
	Off         uint64 // offset (aliased as addr2 for some ops)
	Addr        uint64 // buffer address, or nested struct pointer
	Len         uint32 // buffer length, iovec count, or similar
	OpFlags     uint32 // op-specific flags (rw_flags / timeout_flags / poll_events / ...)
	UserData    uint64 // echoed back on the completion entry
	BufIndex    uint16 // registered buffer index or buffer-select group
	Personality uint16 // registered credential index
	SpliceFdIn  int32  // splice source fd, or direct file_index
}

// Reset clears the SQE to its zero value so it can be reused.
func (s *SQE) Reset() { *s = SQE{} }

// SetBufGroup sets the buffer-select group (alias of BufIndex).
func (s *SQE) SetBufGroup(group uint16) { s.BufIndex = group }

// CQE is one completion queue entry (16 logical bytes: user_data, result,
// flags), written by the engine and read by the application.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// HasMore reports whether more CQEs are expected for this user_data
// (multishot-style operations).
func (c *CQE) HasMore() bool { return c.Flags&CQEFMore != 0 }

// Params configures ring setup and reports back the negotiated sizes.
// Mirrors struct io_uring_params without the mmap offset block, since
// the rings live in process memory rather than an mmap'd region.
type Params struct {
	SQEntries uint32
	CQEntries uint32
	Flags     uint32
	Features  uint32

	WorkerPoolSize  int // bounded worker group size; 0 = default
	UnboundedWorker bool
}

// Timespec is a time specification used by timeout-style operations.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// ProbeOp describes whether the engine's dispatcher has a handler
// installed for a given opcode.
type ProbeOp struct {
	Op      Op
	Flags   uint16
	MayFail bool // true if the handler can be registered but may reject at runtime
}

// Probe is returned by the REGISTER(PROBE) verb: which opcodes currently
// have a handler wired into the dispatcher.
type Probe struct {
	LastOp Op
	Ops    []ProbeOp
}

// IsSupported reports whether op is present and marked supported.
func (p *Probe) IsSupported(op Op) bool {
	for i := range p.Ops {
		if p.Ops[i].Op == op {
			return true
		}
	}
	return false
}
