package attention

import "testing"

func TestAttendedCols(t *testing.T) {
	tests := []struct {
		row, cols int
		causal    bool
		want      int
	}{
		{0, 128, true, 1},
		{5, 128, true, 6},
		{127, 128, true, 128},
		{200, 128, true, 128},
		{3, 128, false, 128},
		{0, 0, true, 0},
	}
	for _, tt := range tests {
		if got := AttendedCols(tt.row, tt.cols, tt.causal); got != tt.want {
			t.Fatalf("AttendedCols(%d,%d,%v) = %d, want %d", tt.row, tt.cols, tt.causal, got, tt.want)
		}
	}
}

func TestProblemFlops(t *testing.T) {
	// rows=2, cols=3: causal attends 1+2=3 key elements, full attends 6.
	if got := ProblemFlops(2, 3, 4, 5, true); got != 2*3*(4+5) {
		t.Fatalf("causal flops = %d, want %d", got, 2*3*(4+5))
	}
	if got := ProblemFlops(2, 3, 4, 5, false); got != 2*6*(4+5) {
		t.Fatalf("full flops = %d, want %d", got, 2*6*(4+5))
	}
	if got := ProblemFlops(0, 3, 4, 5, false); got != 0 {
		t.Fatalf("zero-row flops = %d", got)
	}
}

func TestSetFlops(t *testing.T) {
	lens := []Lengths{{2, 3}, {1, 4}}
	set := BuildSetFromLengths(SetConfig{BatchSize: 2, HeadCount: 2, HeadDimQK: 4, HeadDimV: 5}, lens)

	want := 2 * (ProblemFlops(2, 3, 4, 5, false) + ProblemFlops(1, 4, 4, 5, false))
	if got := SetFlops(set, false); got != want {
		t.Fatalf("SetFlops = %d, want %d", got, want)
	}
}
