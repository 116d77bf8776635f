package attention

import "math"

// process runs the streaming softmax-attention loop for one work unit:
// one query-tile of one sub-problem against its key range, iterated in
// key-tiles of the configured width, strictly in increasing order.
//
// Scores, the running max/sum and the output accumulator are held in
// float64 and only the final division is stored down to float32. Causal
// and variable-length bounds are applied as valid-prefix truncation of
// each score row; a row whose prefix is empty contributes nothing, which
// leaves its running state untouched exactly as masking it to -infinity
// would.
func (st *runState) process(u WorkUnit, sc *unitScratch) {
	p := &st.plan.set.Problems[u.Problem]
	rows, cols := p.domain()
	tileRows := st.plan.tileRows
	tileCols := st.plan.tileCols

	r0 := u.QueryTile * tileRows
	rt := rows - r0
	if rt > tileRows {
		rt = tileRows
	}

	dimQK := p.Shape0.Inner
	dimV := p.Shape1.Cols

	q := st.q[p.OffQ:]
	k := st.k[p.OffK:]
	v := st.v[p.OffV:]

	extent := KeyExtent(rows, cols, tileRows, u.QueryTile, st.plan.causal)

	for i := 0; i < rt; i++ {
		sc.rowMax[i] = math.Inf(-1)
		sc.rowSum[i] = 0
	}
	clear(sc.acc[:rt*dimV])

	for kt := 0; kt < u.KeyTiles; kt++ {
		if st.tileHook != nil {
			st.tileHook(u.Problem, u.QueryTile, kt)
		}
		c0 := kt * tileCols
		ct := extent - c0
		if ct > tileCols {
			ct = tileCols
		}

		for i := 0; i < rt; i++ {
			qrow := q[(r0+i)*p.StrideQ : (r0+i)*p.StrideQ+dimQK]
			srow := sc.scores[i*tileCols : i*tileCols+ct]
			for j := 0; j < ct; j++ {
				krow := k[(c0+j)*p.StrideK : (c0+j)*p.StrideK+dimQK]
				srow[j] = st.scale * dotWide(qrow, krow)
			}
		}

		for i := 0; i < rt; i++ {
			row := r0 + i
			limit := ct
			if st.plan.causal {
				if lim := row + 1 - c0; lim < limit {
					limit = lim
				}
			}
			if limit <= 0 {
				continue
			}
			srow := sc.scores[i*tileCols : i*tileCols+limit]

			tileMax := srow[0]
			for j := 1; j < limit; j++ {
				if srow[j] > tileMax {
					tileMax = srow[j]
				}
			}
			newMax := sc.rowMax[i]
			if tileMax > newMax {
				newMax = tileMax
			}
			corr := 1.0
			if newMax > sc.rowMax[i] {
				corr = math.Exp(sc.rowMax[i] - newMax)
			}

			var tileSum float64
			for j := 0; j < limit; j++ {
				pv := math.Exp(srow[j] - newMax)
				srow[j] = pv
				tileSum += pv
			}
			sc.rowSum[i] = sc.rowSum[i]*corr + tileSum

			accRow := sc.acc[i*dimV : (i+1)*dimV]
			if corr != 1 {
				for d := range accRow {
					accRow[d] *= corr
				}
			}
			for j := 0; j < limit; j++ {
				pv := srow[j]
				vrow := v[(c0+j)*p.StrideV : (c0+j)*p.StrideV+dimV]
				for d := 0; d < dimV; d++ {
					accRow[d] += pv * float64(vrow[d])
				}
			}
			sc.rowMax[i] = newMax
		}
	}

	writeOutput(st.o[p.OffO:], p.StrideO, r0, rt, dimV, sc)
}

// dotWide accumulates the dot product of two float32 rows in float64.
func dotWide(a, b []float32) float64 {
	n := len(a)
	var s0, s1, s2, s3 float64
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += float64(a[i]) * float64(b[i])
		s1 += float64(a[i+1]) * float64(b[i+1])
		s2 += float64(a[i+2]) * float64(b[i+2])
		s3 += float64(a[i+3]) * float64(b[i+3])
	}
	for ; i < n; i++ {
		s0 += float64(a[i]) * float64(b[i])
	}
	return s0 + s1 + s2 + s3
}
