package attention

// AttendedCols returns how many key columns a single query row attends to:
// min(row+1, cols) under causal masking, cols otherwise. The kernel's
// per-row work must agree with this count exactly.
func AttendedCols(row, cols int, causal bool) int {
	if !causal {
		return cols
	}
	if row+1 < cols {
		return row + 1
	}
	return cols
}

// ProblemFlops estimates the floating-point operations for one
// sub-problem: two multiply-accumulates per attended key element for the
// score multiply (depth dimQK) and two for the value multiply (width
// dimV), summed over the real query rows with causal truncation applied.
func ProblemFlops(rows, cols, dimQK, dimV int, causal bool) int64 {
	var keyElems int64
	for r := 0; r < rows; r++ {
		keyElems += int64(AttendedCols(r, cols, causal))
	}
	return 2 * keyElems * int64(dimQK+dimV)
}

// SetFlops sums ProblemFlops over a descriptor table.
func SetFlops(set *ProblemSet, causal bool) int64 {
	var total int64
	for i := range set.Problems {
		p := &set.Problems[i]
		rows, cols := p.domain()
		total += ProblemFlops(rows, cols, p.Shape0.Inner, p.Shape1.Cols, causal)
	}
	return total
}
