package engine

import "sync/atomic"

// lockFreeRing is a bounded MPMC ring buffer of workItem using a
// Vyukov-style sequence-counted cell array: each slot carries its own
// sequence number so producers and consumers can race on disjoint slots
// without a lock.
type lockFreeCell struct {
	sequence atomic.Uint64
	data     workItem
}

type lockFreeRing struct {
	mask  uint64
	cells []lockFreeCell
	head  atomic.Uint64
	tail  atomic.Uint64
}

func newLockFreeRing(size int) *lockFreeRing {
	sz := roundUpPow2(uint32(size))
	r := &lockFreeRing{
		mask:  uint64(sz) - 1,
		cells: make([]lockFreeCell, sz),
	}
	for i := range r.cells {
		r.cells[i].sequence.Store(uint64(i))
	}
	return r
}

func (r *lockFreeRing) tryPush(item workItem) bool {
	pos := r.tail.Load()
	for {
		cell := &r.cells[pos&r.mask]
		seq := cell.sequence.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				cell.data = item
				cell.sequence.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false // full
		default:
			pos = r.tail.Load()
		}
	}
}

func (r *lockFreeRing) tryPop() (workItem, bool) {
	pos := r.head.Load()
	for {
		cell := &r.cells[pos&r.mask]
		seq := cell.sequence.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				item := cell.data
				cell.sequence.Store(pos + uint64(len(r.cells)))
				return item, true
			}
		case diff < 0:
			return workItem{}, false // empty
		default:
			pos = r.head.Load()
		}
	}
}
