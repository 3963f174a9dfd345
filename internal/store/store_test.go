package store

import "testing"

func TestKeyedPutGetRemove(t *testing.T) {
	k := NewKeyed[string]()

	if _, ok := k.Get(1); ok {
		t.Fatalf("expected miss on empty store")
	}

	k.Put(1, "a")
	v, ok := k.Get(1)
	if !ok || v != "a" {
		t.Fatalf("got (%q, %v), want (\"a\", true)", v, ok)
	}

	k.Put(1, "b")
	v, _ = k.Get(1)
	if v != "b" {
		t.Fatalf("Put did not overwrite: got %q", v)
	}

	removed, ok := k.Remove(1)
	if !ok || removed != "b" {
		t.Fatalf("Remove returned (%q, %v), want (\"b\", true)", removed, ok)
	}
	if _, ok := k.Get(1); ok {
		t.Fatalf("entry still present after Remove")
	}
	if _, ok := k.Remove(1); ok {
		t.Fatalf("Remove on absent id should report ok=false")
	}
}

func TestKeyedLenEachSnapshot(t *testing.T) {
	k := NewKeyed[int]()
	for i := int64(1); i <= 3; i++ {
		k.Put(i, int(i)*10)
	}
	if got := k.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	sum := 0
	k.Each(func(_ int64, v int) { sum += v })
	if sum != 60 {
		t.Fatalf("Each summed to %d, want 60", sum)
	}

	snap := k.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot len = %d, want 3", len(snap))
	}
	k.Put(4, 40)
	if len(snap) != 3 {
		t.Fatalf("Snapshot mutated after later Put")
	}
}

func TestNewStoreInitializesAllMaps(t *testing.T) {
	s := New()
	if s.Students == nil || s.Profiles == nil || s.Rules == nil || s.Sessions == nil {
		t.Fatalf("New() left a nil entity map")
	}
	if s.Students.Len() != 0 {
		t.Fatalf("fresh store should be empty")
	}
}
