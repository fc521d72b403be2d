package engine

import (
	"testing"

	"github.com/ringcore/ioring/internal/proto"
)

func TestLinkGraphChainPropagatesFailure(t *testing.T) {
	lg := newLinkGraph()

	a := &Request{sqeFlags: proto.SQEIOLink}
	a.refcount.Store(2)
	b := &Request{}
	b.refcount.Store(2)

	lg.Chain(a, b)

	next, forceFail := lg.OnComplete(a, -5)
	if next != b {
		t.Fatalf("OnComplete next = %p, want %p", next, b)
	}
	if !forceFail {
		t.Fatal("forceFail = false after a failed LINK predecessor, want true")
	}
}

func TestLinkGraphHardlinkSurvivesFailure(t *testing.T) {
	lg := newLinkGraph()

	a := &Request{sqeFlags: proto.SQEIOHardlink}
	a.refcount.Store(2)
	b := &Request{}
	b.refcount.Store(2)

	lg.Chain(a, b)

	next, forceFail := lg.OnComplete(a, -5)
	if next != b {
		t.Fatalf("OnComplete next = %p, want %p", next, b)
	}
	if forceFail {
		t.Fatal("forceFail = true after a failed HARDLINK predecessor, want false")
	}
}

// A draining request must wait until every submission before it has
// completed, regardless of the order those completions arrive in.
func TestLinkGraphDrainWaitsForAllPriors(t *testing.T) {
	lg := newLinkGraph()

	a := &Request{}
	a.seq = lg.NextSeq()
	b := &Request{}
	b.seq = lg.NextSeq()
	d := &Request{sqeFlags: proto.SQEIODrain}
	d.seq = lg.NextSeq()

	if lg.Defer(a) || lg.Defer(b) {
		t.Fatal("Defer parked a request with no barrier active")
	}
	if !lg.Defer(d) {
		t.Fatal("Defer did not park the draining request while a and b are outstanding")
	}

	// b completes before a; the barrier must hold until both are done.
	if ready := lg.Completed(); len(ready) != 0 {
		t.Fatalf("Completed released %d requests after one of two priors, want 0", len(ready))
	}
	ready := lg.Completed()
	if len(ready) != 1 || ready[0] != d {
		t.Fatalf("Completed released %v, want [d]", ready)
	}
}

// Submissions arriving while a barrier is pending park behind it in
// FIFO order and are released together with the draining request. The
// draining request itself belongs to the after set: it does not wait
// for its own completion.
func TestLinkGraphBarrierParksLaterSubmissions(t *testing.T) {
	lg := newLinkGraph()

	a := &Request{}
	a.seq = lg.NextSeq()
	d := &Request{sqeFlags: proto.SQEIODrain}
	d.seq = lg.NextSeq()
	c := &Request{}
	c.seq = lg.NextSeq()

	if lg.Defer(a) {
		t.Fatal("Defer parked the first submission")
	}
	if !lg.Defer(d) {
		t.Fatal("Defer did not park the draining request")
	}
	if !lg.Defer(c) {
		t.Fatal("Defer did not park a submission behind the active barrier")
	}

	ready := lg.Completed() // a completes
	if len(ready) != 2 || ready[0] != d || ready[1] != c {
		t.Fatalf("Completed released %v, want [d c]", ready)
	}
}

// A second draining request parked behind the first becomes the new
// barrier once the first is released, stalling whatever sits behind it.
func TestLinkGraphBackToBackDrains(t *testing.T) {
	lg := newLinkGraph()

	a := &Request{}
	a.seq = lg.NextSeq()
	d1 := &Request{sqeFlags: proto.SQEIODrain}
	d1.seq = lg.NextSeq()
	d2 := &Request{sqeFlags: proto.SQEIODrain}
	d2.seq = lg.NextSeq()

	if lg.Defer(a) {
		t.Fatal("Defer parked the first submission")
	}
	if !lg.Defer(d1) || !lg.Defer(d2) {
		t.Fatal("Defer did not park both draining requests")
	}

	ready := lg.Completed() // a completes; d1 satisfied, d2 still waiting on d1
	if len(ready) != 1 || ready[0] != d1 {
		t.Fatalf("Completed released %v, want [d1]", ready)
	}
	ready = lg.Completed() // d1 completes
	if len(ready) != 1 || ready[0] != d2 {
		t.Fatalf("Completed released %v, want [d2]", ready)
	}
}

func TestLinkGraphDrainRunsImmediatelyWhenIdle(t *testing.T) {
	lg := newLinkGraph()

	d := &Request{sqeFlags: proto.SQEIODrain}
	d.seq = lg.NextSeq()

	if lg.Defer(d) {
		t.Fatal("Defer parked a draining request with nothing outstanding")
	}
}
