package ioring

import (
	"context"
	"strconv"
	"time"

	"github.com/ringcore/ioring/internal/proto"
)

// CQE is a completion queue entry.
type CQE = proto.CQE

// Mirrors the errno-style results the engine posts in CQE.Res (see
// internal/engine/dispatch.go); duplicated here rather than exported
// since these are wire-level constants, not engine API surface.
const (
	errnoNoSuchOp = -38
	errnoTimedOut = -62
	errnoCanceled = -125
)

// PeekCQE returns the next completion queue entry without blocking. Does
// not advance the consumer - call SeenCQE after processing it. This is
// the zero-allocation path for hot loops.
func (r *Ring) PeekCQE() (CQE, bool) {
	return r.eng.PeekCQE()
}

// SeenCQE marks the current CQE as consumed, same as SeenCQEs(1).
func (r *Ring) SeenCQE() { r.eng.SeenCQEs(1) }

// SeenCQEs advances the consumer past n completions.
func (r *Ring) SeenCQEs(n uint32) { r.eng.SeenCQEs(n) }

// WaitCQE waits for at least one CQE to be available. Does not
// automatically advance the consumer - call SeenCQE after processing.
func (r *Ring) WaitCQE() (CQE, bool) {
	return r.eng.WaitCQE(r.task, 0)
}

// WaitCQETimeout waits for a CQE with a timeout.
func (r *Ring) WaitCQETimeout(timeout time.Duration) (CQE, bool) {
	return r.eng.WaitCQE(r.task, timeout)
}

// WaitCQEContext waits for a CQE, honoring ctx cancellation.
func (r *Ring) WaitCQEContext(ctx context.Context) (CQE, bool) {
	if cqe, ok := r.PeekCQE(); ok {
		return cqe, true
	}
	for {
		select {
		case <-ctx.Done():
			return CQE{}, false
		default:
		}
		cqe, ok := r.WaitCQETimeout(50 * time.Millisecond)
		if ok {
			return cqe, true
		}
		select {
		case <-ctx.Done():
			return CQE{}, false
		default:
		}
	}
}

// ForEachCQE iterates over all currently available CQEs, marking each
// seen as it is handled. Returns the number of CQEs processed. Stops
// early if fn returns false.
func (r *Ring) ForEachCQE(fn func(CQE) bool) int {
	n := 0
	for {
		cqe, ok := r.PeekCQE()
		if !ok {
			break
		}
		r.SeenCQE()
		n++
		if !fn(cqe) {
			break
		}
	}
	return n
}

// DrainCQEs consumes and returns every currently available completion.
func (r *Ring) DrainCQEs() []CQE {
	var out []CQE
	r.ForEachCQE(func(c CQE) bool {
		out = append(out, c)
		return true
	})
	return out
}

// ResultError converts a CQE result to an error if negative. Returns nil
// if the result is non-negative.
func ResultError(res int32) error {
	switch {
	case res >= 0:
		return nil
	case res == errnoCanceled:
		return ErrRequestCanceled
	case res == errnoTimedOut:
		return ErrTimedOut
	case res == errnoNoSuchOp:
		return ErrNotSupported
	default:
		return &OpError{Errno: res}
	}
}

// OpError wraps a negative completion result that doesn't map to one of
// the ring's sentinel errors.
type OpError struct {
	Errno int32
}

func (e *OpError) Error() string {
	return "ioring: operation failed with errno " + strconv.Itoa(int(e.Errno))
}
