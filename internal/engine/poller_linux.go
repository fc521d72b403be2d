//go:build linux

package engine

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/ringcore/ioring/internal/proto"
)

// epollBackend is the Linux pollBackend: one epoll instance, one-shot
// registration via EPOLLONESHOT so a fired wait must be re-armed
// explicitly.
type epollBackend struct {
	epfd   int
	waitMs int
}

const defaultEpollWaitMs = 100

// newPollBackend opens the epoll instance. tick, truncated to whole
// milliseconds, bounds how long a single EpollWait call blocks before
// looping back to check for shutdown; the portable tickBackend uses the
// same knob (WithPollInterval) as its probe interval. A tick under one
// millisecond, the 500µs default included, leaves the wait at
// defaultEpollWaitMs.
func newPollBackend(tick time.Duration) (pollBackend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	waitMs := defaultEpollWaitMs
	if tick > 0 {
		if ms := int(tick.Milliseconds()); ms > 0 {
			waitMs = ms
		}
	}
	return &epollBackend{epfd: fd, waitMs: waitMs}, nil
}

func toEpollEvents(events uint32) uint32 {
	var e uint32
	if events&proto.PollIn != 0 {
		e |= unix.EPOLLIN
	}
	if events&proto.PollOut != 0 {
		e |= unix.EPOLLOUT
	}
	return e | unix.EPOLLONESHOT
}

func fromEpollEvents(events uint32) uint32 {
	var e uint32
	if events&unix.EPOLLIN != 0 {
		e |= proto.PollIn
	}
	if events&unix.EPOLLOUT != 0 {
		e |= proto.PollOut
	}
	return e
}

func (b *epollBackend) register(fd int32, events uint32, token uint64) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: fd}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, int(fd), ev); err != nil {
		if err == unix.EEXIST {
			err = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, int(fd), ev)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *epollBackend) unregister(h pollWaitHandle) error {
	// EPOLL_CTL_DEL needs the fd, which the caller already removed from
	// its bookkeeping by the time Disarm calls us; best-effort only.
	return nil
}

func (b *epollBackend) wait(out []readyEvent) (int, error) {
	raw := make([]unix.EpollEvent, len(out))
	n, err := unix.EpollWait(b.epfd, raw, b.waitMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		out[i] = readyEvent{fd: raw[i].Fd, events: fromEpollEvents(uint32(raw[i].Events))}
	}
	return n, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}
