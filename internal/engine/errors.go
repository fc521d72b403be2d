package engine

import "errors"

var (
	ErrRingClosed       = errors.New("engine: ring closed")
	ErrSQFull           = errors.New("engine: submission queue full")
	ErrCQOverflow       = errors.New("engine: completion queue overflow")
	ErrNotSupported     = errors.New("engine: operation not supported")
	ErrRequestCanceled  = errors.New("engine: request canceled")
	ErrTimedOut         = errors.New("engine: operation timed out")
	ErrNoSuchRequest    = errors.New("engine: no matching request")
	ErrWorkerPoolClosed = errors.New("engine: worker pool closed")
	ErrInvalidEntries   = errors.New("engine: entries must be non-zero")
)
