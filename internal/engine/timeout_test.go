package engine

import (
	"testing"
	"time"
)

func TestTimeoutServiceCountBasedFiresInOrder(t *testing.T) {
	var fired []*Request
	ts := newTimeoutService(func(r *Request, kind timeoutKind) {
		fired = append(fired, r)
	})
	defer ts.Close()

	r1 := &Request{}
	r2 := &Request{}
	r3 := &Request{}

	ts.ArmCount(r1, 5)
	ts.ArmCount(r2, 2)
	ts.ArmCount(r3, 2) // same target as r2; insertion order should be preserved

	ts.AdvanceSeq(2)
	if len(fired) != 2 || fired[0] != r2 || fired[1] != r3 {
		t.Fatalf("fired after AdvanceSeq(2) = %v, want [r2 r3]", fired)
	}

	ts.AdvanceSeq(5)
	if len(fired) != 3 || fired[2] != r1 {
		t.Fatalf("fired after AdvanceSeq(5) = %v, want [.. r1]", fired)
	}
}

func TestTimeoutServiceCancel(t *testing.T) {
	fired := 0
	ts := newTimeoutService(func(r *Request, kind timeoutKind) { fired++ })
	defer ts.Close()

	r := &Request{}
	ts.ArmCount(r, 10)

	if !ts.Cancel(r) {
		t.Fatal("Cancel() = false, want true")
	}
	if ts.Cancel(r) {
		t.Fatal("second Cancel() = true, want false")
	}

	ts.AdvanceSeq(10)
	if fired != 0 {
		t.Fatalf("fired = %d after canceling the only timeout, want 0", fired)
	}
}

func TestTimeoutServiceAbsoluteFires(t *testing.T) {
	done := make(chan *Request, 1)
	ts := newTimeoutService(func(r *Request, kind timeoutKind) { done <- r })
	defer ts.Close()

	r := &Request{}
	ts.ArmAbsolute(r, time.Now().Add(10*time.Millisecond))

	select {
	case got := <-done:
		if got != r {
			t.Fatalf("fired request = %p, want %p", got, r)
		}
	case <-time.After(time.Second):
		t.Fatal("absolute timeout never fired")
	}
}
