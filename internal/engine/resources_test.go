package engine

import "testing"

func TestResourceTableRegisterLookup(t *testing.T) {
	rt := newResourceTable()
	rt.Register([]any{"file0", nil, "file2"})

	cases := []struct {
		idx     int
		wantOK  bool
		wantVal any
	}{
		{0, true, "file0"},
		{1, false, nil},
		{2, true, "file2"},
		{3, false, nil},
	}
	for _, tc := range cases {
		v, ok := rt.Lookup(tc.idx)
		if ok != tc.wantOK {
			t.Fatalf("Lookup(%d) ok = %v, want %v", tc.idx, ok, tc.wantOK)
		}
		if ok && v != tc.wantVal {
			t.Fatalf("Lookup(%d) = %v, want %v", tc.idx, v, tc.wantVal)
		}
	}
}

func TestResourceTableUpdateBumpsGeneration(t *testing.T) {
	rt := newResourceTable()
	rt.Register([]any{"a", "b"})
	g0 := rt.Generation()

	if !rt.Update(1, "c") {
		t.Fatal("Update(1) = false, want true")
	}
	if rt.Generation() == g0 {
		t.Fatal("Generation() did not advance after Update")
	}
	v, ok := rt.Lookup(1)
	if !ok || v != "c" {
		t.Fatalf("Lookup(1) = (%v, %v), want (c, true)", v, ok)
	}
	v0, ok := rt.Lookup(0)
	if !ok || v0 != "a" {
		t.Fatalf("Lookup(0) after unrelated Update = (%v, %v), want (a, true)", v0, ok)
	}

	if rt.Update(5, "x") {
		t.Fatal("Update(5) on out-of-range index = true, want false")
	}
}

func TestResourceTableUnregister(t *testing.T) {
	rt := newResourceTable()
	rt.Register([]any{"a"})
	rt.Unregister()

	if rt.Len() != 0 {
		t.Fatalf("Len() after Unregister = %d, want 0", rt.Len())
	}
	if _, ok := rt.Lookup(0); ok {
		t.Fatal("Lookup(0) after Unregister returned ok=true")
	}
}
