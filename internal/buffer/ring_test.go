package buffer

import "testing"

func TestRingEvictsOldest(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Add(i)
	}

	got := ring.List()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRingTail(t *testing.T) {
	ring := NewRing[string](4)
	for _, entry := range []string{"a", "b", "c"} {
		ring.Add(entry)
	}

	got := ring.Tail(2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected [b c], got %v", got)
	}

	if tail := ring.Tail(10); len(tail) != 3 {
		t.Fatalf("expected full list for oversized tail, got %v", tail)
	}
}

func TestRingZeroAndNil(t *testing.T) {
	var ring *Ring[int]
	ring.Add(1)
	if ring.Len() != 0 || ring.List() != nil {
		t.Fatal("nil ring should be inert")
	}

	small := NewRing[int](0)
	small.Add(7)
	if small.Len() != 1 || small.Cap() != 1 {
		t.Fatalf("expected capacity clamp to 1, got len=%d cap=%d", small.Len(), small.Cap())
	}
}
