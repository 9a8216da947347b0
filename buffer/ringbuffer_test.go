package buffer

import "testing"

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1, -100} {
		if _, err := New(capacity); err != ErrCapacity {
			t.Fatalf("capacity %d: expected ErrCapacity, got %v", capacity, err)
		}
	}
	if _, err := New(1); err != nil {
		t.Fatalf("capacity 1 should be accepted: %v", err)
	}
}

func TestPushAndRelativeReadBeforeWrap(t *testing.T) {
	r, err := New(8)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		r.Push(float32(i))
	}
	if r.Len() != 5 {
		t.Fatalf("expected 5 retained, got %d", r.Len())
	}
	// -1 is the most recent write, -5 the oldest retained.
	for off := 1; off <= 5; off++ {
		v, err := r.At(-off)
		if err != nil {
			t.Fatalf("At(%d): %v", -off, err)
		}
		if want := float32(5 - off); v != want {
			t.Fatalf("At(%d) = %g, want %g", -off, v, want)
		}
	}
	if _, err := r.At(-6); err != ErrIndex {
		t.Fatalf("expected ErrIndex past retained range, got %v", err)
	}
}

func TestWraparoundOverwritesOldest(t *testing.T) {
	const capacity = 7
	const extra = 3
	r, err := New(capacity)
	if err != nil {
		t.Fatal(err)
	}
	// Push capacity+extra distinct items.
	for i := 0; i < capacity+extra; i++ {
		r.Push(float32(i))
	}
	if r.Len() != capacity {
		t.Fatalf("retained count = %d, want %d", r.Len(), capacity)
	}
	last, err := r.At(-1)
	if err != nil {
		t.Fatal(err)
	}
	if want := float32(capacity + extra - 1); last != want {
		t.Fatalf("At(-1) = %g, want %g", last, want)
	}
	oldest, err := r.At(-capacity)
	if err != nil {
		t.Fatal(err)
	}
	// After pushing capacity+extra items the oldest retained is item index extra.
	if want := float32(extra); oldest != want {
		t.Fatalf("At(-%d) = %g, want %g", capacity, oldest, want)
	}
	// Every index in [-capacity,-1] maps back onto the pushed sequence.
	for off := 1; off <= capacity; off++ {
		v, err := r.At(-off)
		if err != nil {
			t.Fatalf("At(%d): %v", -off, err)
		}
		if want := float32(capacity + extra - off); v != want {
			t.Fatalf("At(%d) = %g, want %g", -off, v, want)
		}
	}
}

func TestAtRejectsOutOfContract(t *testing.T) {
	r, _ := New(4)
	for i := 0; i < 10; i++ {
		r.Push(float32(i))
	}
	for _, idx := range []int{0, 1, -5, -100} {
		if _, err := r.At(idx); err != ErrIndex {
			t.Fatalf("At(%d): expected ErrIndex, got %v", idx, err)
		}
	}
}

func TestResetIsLogicalOnly(t *testing.T) {
	r, _ := New(4)
	for i := 0; i < 6; i++ {
		r.Push(float32(i))
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len after reset = %d, want 0", r.Len())
	}
	if _, err := r.At(-1); err != ErrIndex {
		t.Fatalf("expected ErrIndex on empty ring, got %v", err)
	}
	// Reset is idempotent.
	r.Reset()
	if r.Len() != 0 {
		t.Fatal("second reset changed state")
	}
	// Writes after reset start from a clean cursor.
	r.Push(42)
	v, err := r.At(-1)
	if err != nil || v != 42 {
		t.Fatalf("At(-1) after reset+push = %g, %v", v, err)
	}
}

func TestCapacityOneRing(t *testing.T) {
	r, _ := New(1)
	r.Push(1)
	r.Push(2)
	v, err := r.At(-1)
	if err != nil || v != 2 {
		t.Fatalf("At(-1) = %g, %v; want 2", v, err)
	}
	if _, err := r.At(-2); err != ErrIndex {
		t.Fatalf("expected ErrIndex beyond single slot, got %v", err)
	}
}
