package proto

// Op is an opcode carried in SQE.Opcode. The concrete I/O opcodes
// (Read, Write, Accept, ...) are opaque to the engine: it only routes on
// the numeric value and a capability bitset (see engine.Capabilities).
// Their behavior is supplied by the embedder.
type Op uint8

const (
	OpNop Op = iota
	OpRead
	OpWrite
	OpReadv
	OpWritev
	OpFsync
	OpAccept
	OpConnect
	OpSend
	OpRecv
	OpClose
	OpOpenat
	OpStatx
	OpPollAdd
	OpPollRemove
	OpTimeout
	OpTimeoutRemove
	OpLinkTimeout
	OpAsyncCancel

	opLast // sentinel, not a valid opcode
)

// String renders an opcode name for logging/diagnostics.
func (o Op) String() string {
	switch o {
	case OpNop:
		return "NOP"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpReadv:
		return "READV"
	case OpWritev:
		return "WRITEV"
	case OpFsync:
		return "FSYNC"
	case OpAccept:
		return "ACCEPT"
	case OpConnect:
		return "CONNECT"
	case OpSend:
		return "SEND"
	case OpRecv:
		return "RECV"
	case OpClose:
		return "CLOSE"
	case OpOpenat:
		return "OPENAT"
	case OpStatx:
		return "STATX"
	case OpPollAdd:
		return "POLL_ADD"
	case OpPollRemove:
		return "POLL_REMOVE"
	case OpTimeout:
		return "TIMEOUT"
	case OpTimeoutRemove:
		return "TIMEOUT_REMOVE"
	case OpLinkTimeout:
		return "LINK_TIMEOUT"
	case OpAsyncCancel:
		return "ASYNC_CANCEL"
	default:
		return "UNKNOWN"
	}
}

// LastOp returns the highest defined opcode, for probe/bounds purposes.
func LastOp() Op { return opLast - 1 }

// SQE flags (IOSQE_* equivalents).
const (
	SQEFixedFile      uint8 = 1 << 0 // Fd is an index into the registered file table
	SQEIODrain        uint8 = 1 << 1 // wait for all prior submissions to complete first
	SQEIOLink         uint8 = 1 << 2 // link to the next submission; fail propagates
	SQEIOHardlink     uint8 = 1 << 3 // like IOLink, but successor always starts
	SQEAsync          uint8 = 1 << 4 // force worker-queued dispatch
	SQEBufferSelect   uint8 = 1 << 5 // pull a buffer from a provided-buffer pool
	SQECQESkipSuccess uint8 = 1 << 6 // suppress the completion entry on success
)

// Setup flags (IORING_SETUP_* equivalents actually meaningful in-process).
const (
	SetupSQPoll       uint32 = 1 << 0 // run a dedicated submission thread
	SetupSingleIssuer uint32 = 1 << 1 // only one task submits to this ring
	SetupCQNoDrop     uint32 = 1 << 2 // reserved for future no-drop CQ semantics
)

// Feature flags reported back via Params.Features.
const (
	FeatNoDrop        uint32 = 1 << 0
	FeatExtArg        uint32 = 1 << 1
	FeatNativeWorkers uint32 = 1 << 2
)

// Enter flags.
const (
	EnterGetEvents uint32 = 1 << 0
	EnterSQWakeup  uint32 = 1 << 1
)

// CQE flags.
const (
	CQEFBuffer uint32 = 1 << 0
	CQEFMore   uint32 = 1 << 1
)

// Timeout flags (carried in SQE.OpFlags for OpTimeout/OpLinkTimeout).
const (
	TimeoutAbs          uint32 = 1 << 0
	TimeoutETimeSuccess uint32 = 1 << 1
)

// Cancel flags (carried in SQE.OpFlags for OpAsyncCancel).
const (
	AsyncCancelAll uint32 = 1 << 0
	AsyncCancelFd  uint32 = 1 << 1
	AsyncCancelAny uint32 = 1 << 2
)

// Poll event mask bits (carried in SQE.OpFlags for OpPollAdd), modeled
// loosely on POLLIN/POLLOUT.
const (
	PollIn  uint32 = 1 << 0
	PollOut uint32 = 1 << 1
)
