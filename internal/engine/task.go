package engine

import (
	"sync"

	"github.com/eapache/queue"
)

// Task stands in for the kernel's struct io_uring_task: the submitting
// goroutine's identity, used to serialize its own mailbox and to match
// cancellation/link scoping ("every request owned by this task").
type Task struct {
	id      uint64
	mailbox *Mailbox
}

// NewTask creates a task with id as its identity (caller-assigned; the
// façade uses a per-Ring monotonic counter).
func NewTask(id uint64) *Task {
	return &Task{id: id, mailbox: newMailbox()}
}

// ID returns the task's identity.
func (t *Task) ID() uint64 { return t.id }

// Mailbox is a per-task FIFO of completion callbacks the kernel would
// normally run as task-work. Push is called from arbitrary goroutines
// (the poller's wake loop); Drain runs on the owning task the next time
// it enters the engine (DrainSubmissions or a completion wait), never
// from another goroutine's stack, which keeps the poller's wake context
// free of arbitrary handler code. The underlying queue is not
// thread-safe, so every access happens under the mutex; callbacks
// themselves run with the mutex released, since a callback may complete
// a request and push more work onto this same mailbox.
type Mailbox struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newMailbox() *Mailbox {
	return &Mailbox{q: queue.New()}
}

// Push enqueues a callback to run on the owning task.
func (m *Mailbox) Push(fn func()) {
	m.mu.Lock()
	m.q.Add(fn)
	m.mu.Unlock()
}

// Drain runs every pending callback in FIFO order, including ones pushed
// by earlier callbacks in the same drain (so a callback that itself
// pushes more work still gets serviced before Drain returns).
func (m *Mailbox) Drain() {
	for {
		m.mu.Lock()
		if m.q.Length() == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.q.Peek().(func())
		m.q.Remove()
		m.mu.Unlock()
		fn()
	}
}

// Len reports the number of callbacks currently queued.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}
