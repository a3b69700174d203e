package store

import (
	"reflect"
	"testing"
)

func TestRingBuffer_KeepsLastN(t *testing.T) {
	tests := []struct {
		capacity int
		pushes   int
	}{
		{1, 0},
		{1, 5},
		{3, 2},
		{3, 3},
		{3, 10},
		{6000, 6001},
	}

	for _, tt := range tests {
		rb := NewRingBuffer[int](tt.capacity)
		for i := range tt.pushes {
			rb.Push(i)
		}

		keep := min(tt.pushes, tt.capacity)
		want := make([]int, keep)
		for i := range keep {
			want[i] = tt.pushes - keep + i
		}

		got := rb.Snapshot()
		if !reflect.DeepEqual(got, want) {
			t.Errorf("cap %d after %d pushes: Snapshot() = %v, want %v", tt.capacity, tt.pushes, trim(got), trim(want))
		}
		if rb.Len() != keep {
			t.Errorf("Len() = %d, want %d", rb.Len(), keep)
		}
	}
}

func trim(s []int) []int {
	if len(s) > 8 {
		return s[len(s)-8:]
	}
	return s
}

func TestRingBuffer_Last(t *testing.T) {
	rb := NewRingBuffer[int](4)
	for i := range 6 {
		rb.Push(i)
	}

	tests := []struct {
		n    int
		want []int
	}{
		{0, []int{}},
		{2, []int{4, 5}},
		{4, []int{2, 3, 4, 5}},
		{10, []int{2, 3, 4, 5}},
		{-1, []int{}},
	}
	for _, tt := range tests {
		if got := rb.Last(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Last(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestRingBuffer_SnapshotIsCopy(t *testing.T) {
	rb := NewRingBuffer[int](2)
	rb.Push(1)
	snap := rb.Snapshot()
	snap[0] = 99
	rb.Push(2)

	if got := rb.Snapshot(); got[0] != 1 {
		t.Errorf("buffer modified through snapshot: %v", got)
	}
}

func TestRingBuffer_Reset(t *testing.T) {
	rb := NewRingBuffer[int](0)
	if rb.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", rb.Cap())
	}
	rb.Push(1)
	rb.Reset()
	if rb.Len() != 0 || len(rb.Snapshot()) != 0 {
		t.Error("Reset() left elements")
	}
}
