package ioring

import (
	"github.com/ringcore/ioring/internal/proto"
)

// Probe reports which opcodes currently have a handler wired into the
// engine's dispatcher, and which ring-level features are active.
type Probe struct {
	probe    proto.Probe
	features uint32
}

// Probe queries the engine for currently supported operations.
func (r *Ring) Probe() *Probe {
	return &Probe{
		probe:    r.eng.Probe(),
		features: r.features,
	}
}

// SupportsOp returns true if op has a registered handler (builtin or
// application-supplied).
func (p *Probe) SupportsOp(op Op) bool {
	return p.probe.IsSupported(op)
}

// LastOp returns the highest opcode this build of the engine knows about.
func (p *Probe) LastOp() Op {
	return p.probe.LastOp
}

// Features returns the feature flags negotiated at ring setup.
func (p *Probe) Features() uint32 {
	return p.features
}

// HasFeature returns true if the ring has the given feature.
func (p *Probe) HasFeature(feature uint32) bool {
	return p.features&feature != 0
}

// HasNoDrop returns true if CQ overflow spills to the overflow list
// instead of dropping completions (always true for this engine; see
// CompletionPath in internal/engine).
func (r *Ring) HasNoDrop() bool {
	return r.features&proto.FeatNoDrop != 0
}

// HasExtArg returns true if the timeout/context variants of WaitCQE are
// supported (always true for this engine).
func (r *Ring) HasExtArg() bool {
	return r.features&proto.FeatExtArg != 0
}

// HasNativeWorkers returns true if worker-queued operations run on the
// engine's own goroutine pool rather than requiring the caller to poll
// (always true for this engine).
func (r *Ring) HasNativeWorkers() bool {
	return r.features&proto.FeatNativeWorkers != 0
}
