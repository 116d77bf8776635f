package tensor

import "testing"

func TestFillRandDeterministic(t *testing.T) {
	a := NewMat(12, 7)
	b := NewMat(12, 7)

	FillRand(&a, 42)
	FillRand(&b, 42)

	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("element %d differs: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestViewSharesStorage(t *testing.T) {
	m := NewMat(8, 4)
	v := m.View(2, 3)

	if v.R != 3 || v.C != 4 {
		t.Fatalf("view shape = (%d,%d), want (3,4)", v.R, v.C)
	}

	v.Row(0)[1] = 99
	if got := m.Row(2)[1]; got != 99 {
		t.Fatalf("parent not updated through view: got %v", got)
	}
}

func TestViewZeroRows(t *testing.T) {
	m := NewMat(4, 4)
	v := m.View(4, 0)
	if v.R != 0 || len(v.Data) != 0 {
		t.Fatalf("zero-row view should be empty, got R=%d len=%d", v.R, len(v.Data))
	}
}

func TestFillPattern(t *testing.T) {
	m := NewMat(1, 3)
	FillPattern(&m, 0.5)

	want := []float32{-7, -6.5, -6}
	for i, w := range want {
		if m.Data[i] != w {
			t.Fatalf("element %d = %v, want %v", i, m.Data[i], w)
		}
	}
}

func TestRowOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range row")
		}
	}()
	m := NewMat(2, 2)
	_ = m.Row(2)
}
