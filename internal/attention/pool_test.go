package attention

import "testing"

func TestUnitsForBudget(t *testing.T) {
	per := unitScratchBytes(32, 64, 64)

	if got := UnitsFor(32, 64, 64, per-1, 0); got != 0 {
		t.Fatalf("budget below one unit: got %d units, want 0", got)
	}
	if got := UnitsFor(32, 64, 64, per, 0); got != 1 {
		t.Fatalf("budget for exactly one unit: got %d, want 1", got)
	}
	if got := UnitsFor(32, 64, 64, 0, 1); got != 1 {
		t.Fatalf("max cap: got %d, want 1", got)
	}
	if got := UnitsFor(32, 64, 64, 0, 0); got < 1 {
		t.Fatalf("default budget afforded no units: %d", got)
	}
}

func TestUnitScratchBytes(t *testing.T) {
	// score tile + running max + running sum + accumulator, all float64.
	want := int64(16*8+2*16+16*4) * 8
	if got := unitScratchBytes(16, 8, 4); got != want {
		t.Fatalf("unitScratchBytes = %d, want %d", got, want)
	}
}
