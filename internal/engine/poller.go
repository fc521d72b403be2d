package engine

import (
	"sync"
)

// pollKey identifies what a poll-armed request is waiting on: a file
// descriptor and an event mask (PollIn/PollOut bits from
// internal/proto).
type pollKey struct {
	fd     int32
	events uint32
}

// pollWaitHandle is the token Poller.Arm assigns to a wait, passed to
// the backend's unregister to remove the same wait later. Its zero value
// means "not armed".
type pollWaitHandle struct {
	token uint64
	armed bool
}

// readyEvent is one fd becoming ready, reported by a pollBackend.
type readyEvent struct {
	fd     int32
	events uint32
}

// pollBackend is the OS-specific readiness mechanism. register arms a
// one-shot wait; once it fires, the backend does not re-arm
// automatically and the caller must register again if it wants to keep
// watching. This matches epoll in EPOLLONESHOT mode and keeps the
// portable stub's semantics identical. The event may be delivered as
// soon as register is entered, so all caller bookkeeping must be in
// place beforehand.
type pollBackend interface {
	register(fd int32, events uint32, token uint64) error
	unregister(h pollWaitHandle) error
	wait(out []readyEvent) (int, error)
	close() error
}

// Poller owns the readiness wait set: armed requests waiting on an
// fd/event pair, and the background loop that turns backend readiness
// into dispatcher work. The wake callback runs on the poller's own
// goroutine, after the backend's own lock has already been released: it
// never holds Poller.mu while re-dispatching, and it must not block, so
// the actual handler retry is deferred to the owning task's mailbox
// (see task.go).
type Poller struct {
	backend pollBackend

	mu sync.Mutex
	// fd -> request; the backend reports readiness by fd, which also
	// means at most one request can be armed per fd at a time, the same
	// restriction epoll places on registering an fd twice.
	armed   map[int32]*Request
	nextID  uint64
	onReady readyCallback

	stop chan struct{}
	done chan struct{}
}

// newPoller starts the poller's background wait loop against backend.
func newPoller(backend pollBackend) *Poller {
	p := &Poller{
		backend: backend,
		armed:   make(map[int32]*Request),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p
}

// Arm registers req to wake when fd becomes ready for events. Takes a
// reference on req that is released when the wait fires or is removed.
//
// The armed-map slot, the reference, and the request's poll state are
// all in place before the backend is asked to watch the fd: an fd that
// is already ready can have its one-shot event delivered the instant
// register is entered, and a wake that found no armed slot would
// silently consume that event with no re-delivery.
func (p *Poller) Arm(req *Request, fd int32, events uint32) error {
	p.mu.Lock()
	token := p.nextID
	p.nextID++
	req.addRef()
	req.pollKey = pollKey{fd: fd, events: events}
	req.pollWait = pollWaitHandle{token: token, armed: true}
	req.setState(StatePollArmed)
	p.armed[fd] = req
	p.mu.Unlock()

	if err := p.backend.register(fd, events, token); err != nil {
		p.mu.Lock()
		if p.armed[fd] == req {
			delete(p.armed, fd)
		}
		p.mu.Unlock()
		req.pollWait = pollWaitHandle{}
		// Undo the arm reference without the free-at-zero path: the
		// caller still holds the submission and completion references,
		// so the count cannot reach zero here.
		req.refcount.Add(-1)
		return err
	}
	return nil
}

// Disarm removes a previously armed wait without it having fired, used
// by POLL_REMOVE and cancellation. Returns false if no matching arm was
// found (already fired or never armed).
func (p *Poller) Disarm(req *Request) bool {
	if !req.pollWait.armed {
		return false
	}
	p.mu.Lock()
	fd := req.pollKey.fd
	_, ok := p.armed[fd]
	if ok {
		delete(p.armed, fd)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	_ = p.backend.unregister(req.pollWait)
	req.pollWait = pollWaitHandle{}
	return true
}

// readyCallback is invoked by the wait loop for every fired arm. It is
// supplied by the Engine and must only push a mailbox callback that
// re-enters dispatch; see the Poller doc comment.
type readyCallback func(req *Request, events uint32)

func (p *Poller) loop() {
	defer close(p.done)
	buf := make([]readyEvent, 64)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		n, err := p.backend.wait(buf)
		if err != nil {
			continue
		}
		for i := 0; i < n; i++ {
			ev := buf[i]
			p.mu.Lock()
			req, ok := p.armed[ev.fd]
			if ok {
				delete(p.armed, ev.fd)
			}
			p.mu.Unlock()
			if !ok || p.onReady == nil {
				continue
			}
			p.onReady(req, ev.events)
		}
	}
}

// SetReadyCallback installs the function invoked when an armed wait
// fires. Must be called once, before any Arm.
func (p *Poller) SetReadyCallback(cb readyCallback) { p.onReady = cb }

// Close stops the wait loop and releases the backend.
func (p *Poller) Close() error {
	close(p.stop)
	<-p.done
	return p.backend.close()
}
