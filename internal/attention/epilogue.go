package attention

// writeOutput finalizes one query-tile: each accumulator row is divided
// by its running sum and stored down to float32 at the sub-problem's
// output offset plus the tile's row offset. A row whose denominator is
// zero (no attendable keys at all) emits zeros, never NaN; downstream
// consumers observe that policy.
func writeOutput(out []float32, stride, r0, rt, dimV int, sc *unitScratch) {
	for i := 0; i < rt; i++ {
		dst := out[(r0+i)*stride : (r0+i)*stride+dimV]
		sum := sc.rowSum[i]
		if sum == 0 {
			clear(dst)
			continue
		}
		inv := 1 / sum
		accRow := sc.acc[i*dimV : (i+1)*dimV]
		for d := range dst {
			dst[d] = float32(accRow[d] * inv)
		}
	}
}
