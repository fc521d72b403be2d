package engine

import "sync/atomic"

// resourceNode is one versioned slot in a resource table. Readers load
// the *resourceTable pointer atomically and see a consistent snapshot;
// writers (Register/Unregister) build a new node array and swap the
// table pointer, RCU-style, so in-flight dispatch never observes a
// half-updated table.
type resourceNode struct {
	value      any
	generation uint64
	valid      bool
}

type resourceTable struct {
	nodes []resourceNode
}

// ResourceTable is a registered-resource table (files or buffers). Every
// update replaces the whole backing array and atomically swaps it in;
// readers never block and never see a torn array.
type ResourceTable struct {
	tbl atomic.Pointer[resourceTable]
	gen atomic.Uint64
}

func newResourceTable() *ResourceTable {
	rt := &ResourceTable{}
	rt.tbl.Store(&resourceTable{})
	return rt
}

// Register installs values starting at slot 0, replacing any existing
// registration, and bumps the generation counter so outstanding fixed
// references using the old generation are recognized as stale.
func (rt *ResourceTable) Register(values []any) {
	nodes := make([]resourceNode, len(values))
	gen := rt.gen.Add(1)
	for i, v := range values {
		nodes[i] = resourceNode{value: v, generation: gen, valid: v != nil}
	}
	rt.tbl.Store(&resourceTable{nodes: nodes})
}

// Update replaces a single slot in place (IORING_REGISTER_FILES_UPDATE
// equivalent): the whole array is still copied and swapped, so concurrent
// readers never see a partially-written slot.
func (rt *ResourceTable) Update(index int, value any) bool {
	old := rt.tbl.Load()
	if index < 0 || index >= len(old.nodes) {
		return false
	}
	gen := rt.gen.Add(1)
	nodes := make([]resourceNode, len(old.nodes))
	copy(nodes, old.nodes)
	nodes[index] = resourceNode{value: value, generation: gen, valid: value != nil}
	rt.tbl.Store(&resourceTable{nodes: nodes})
	return true
}

// Unregister clears the whole table.
func (rt *ResourceTable) Unregister() {
	rt.gen.Add(1)
	rt.tbl.Store(&resourceTable{})
}

// Lookup returns the value registered at index, if any and still valid.
func (rt *ResourceTable) Lookup(index int) (any, bool) {
	t := rt.tbl.Load()
	if index < 0 || index >= len(t.nodes) {
		return nil, false
	}
	n := t.nodes[index]
	if !n.valid {
		return nil, false
	}
	return n.value, true
}

// Len reports the number of registered slots (including empty ones).
func (rt *ResourceTable) Len() int { return len(rt.tbl.Load().nodes) }

// Generation returns the table's current generation counter, useful for
// a caller that wants to detect whether a fixed-file reference it cached
// has since been invalidated by a Register/Update/Unregister call.
func (rt *ResourceTable) Generation() uint64 { return rt.gen.Load() }
