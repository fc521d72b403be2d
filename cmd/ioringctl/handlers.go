package main

import (
	"syscall"

	"github.com/ringcore/ioring"
)

// registerDemoHandlers wires the concrete operations the engine itself
// never knows how to perform: plain pread/pwrite-backed READ and
// WRITE, and fsync/close-backed FSYNC and CLOSE, all against whatever
// fd the caller's SQE names. These exist to exercise the dispatcher, poller and
// worker pool end to end; they are not a production op set.
func registerDemoHandlers(r *ioring.Ring) {
	r.RegisterHandler(ioring.OpRead, ioring.CapInline|ioring.CapPollable, func(req *ioring.Request) (ioring.OpResult, error) {
		sqe := req.SQE()
		buf := ioring.BytesAt(sqe.Addr, sqe.Len)
		n, err := syscall.Pread(int(sqe.Fd), buf, int64(sqe.Off))
		if err == syscall.EAGAIN {
			return ioring.OpResult{}, ioring.WouldBlock(sqe.Fd, 1)
		}
		if err != nil {
			return ioring.OpResult{Res: -1}, nil
		}
		return ioring.OpResult{Res: int32(n)}, nil
	})

	r.RegisterHandler(ioring.OpWrite, ioring.CapInline|ioring.CapPollable, func(req *ioring.Request) (ioring.OpResult, error) {
		sqe := req.SQE()
		buf := ioring.BytesAt(sqe.Addr, sqe.Len)
		n, err := syscall.Pwrite(int(sqe.Fd), buf, int64(sqe.Off))
		if err == syscall.EAGAIN {
			return ioring.OpResult{}, ioring.WouldBlock(sqe.Fd, 4)
		}
		if err != nil {
			return ioring.OpResult{Res: -1}, nil
		}
		return ioring.OpResult{Res: int32(n)}, nil
	})

	r.RegisterHandler(ioring.OpFsync, ioring.CapForceAsync, func(req *ioring.Request) (ioring.OpResult, error) {
		sqe := req.SQE()
		if err := syscall.Fsync(int(sqe.Fd)); err != nil {
			return ioring.OpResult{Res: -1}, nil
		}
		return ioring.OpResult{Res: 0}, nil
	})

	r.RegisterHandler(ioring.OpClose, ioring.CapForceAsync, func(req *ioring.Request) (ioring.OpResult, error) {
		sqe := req.SQE()
		if err := syscall.Close(int(sqe.Fd)); err != nil {
			return ioring.OpResult{Res: -1}, nil
		}
		return ioring.OpResult{Res: 0}, nil
	})
}
