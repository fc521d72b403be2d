package engine

import (
	"sync"
	"sync/atomic"
)

// requestPool hands out Request objects one per alloc call: it keeps a free list
// guarded by a mutex, backed by sync.Pool for the underlying
// allocation, and falls back to a single always-available singleton
// request when the free list and sync.Pool both come up empty under
// allocation pressure. It never returns a nil Request to the
// dispatcher.
type requestPool struct {
	mu       sync.Mutex
	freeList []*Request

	backing sync.Pool

	fallback     Request
	fallbackBusy sync.Mutex

	allocated    atomic.Uint64
	freed        atomic.Uint64
	fallbackUsed atomic.Uint64
}

// PoolStats are cumulative allocator counters, exposed for diagnostics.
type PoolStats struct {
	Allocated    uint64
	Freed        uint64
	FallbackUsed uint64
}

func newRequestPool() *requestPool {
	p := &requestPool{}
	p.backing.New = func() any { return &Request{} }
	return p
}

// alloc returns a Request with refcount 2 (submission ref plus
// completion ref), ready for the dispatcher to populate.
func (p *requestPool) alloc() *Request {
	p.mu.Lock()
	if n := len(p.freeList); n > 0 {
		r := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.mu.Unlock()
		p.allocated.Add(1)
		r.refcount.Store(2)
		r.setState(StatePrepared)
		return r
	}
	p.mu.Unlock()

	if r, ok := p.backing.Get().(*Request); ok && r != nil {
		p.allocated.Add(1)
		r.refcount.Store(2)
		return r
	}

	// Both paths came up empty (shouldn't happen with sync.Pool's New
	// set, but guarded for parity with the fallback singleton pattern).
	return p.allocFallback()
}

func (p *requestPool) allocFallback() *Request {
	p.fallbackBusy.Lock()
	p.fallback.reset()
	p.fallback.refcount.Store(2)
	p.fallbackUsed.Add(1)
	return &p.fallback
}

// free returns r to the pool once its refcount has hit zero. The
// fallback singleton is returned via unlocking fallbackBusy instead of
// being pushed onto the free list.
func (p *requestPool) free(r *Request) {
	p.freed.Add(1)
	if r == &p.fallback {
		p.fallbackBusy.Unlock()
		return
	}
	r.reset()
	r.setState(StateFreed)
	p.mu.Lock()
	p.freeList = append(p.freeList, r)
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool's allocation counters.
func (p *requestPool) Stats() PoolStats {
	return PoolStats{
		Allocated:    p.allocated.Load(),
		Freed:        p.freed.Load(),
		FallbackUsed: p.fallbackUsed.Load(),
	}
}
