package attention

import "math"

// Verification tolerances for comparing streamed output against the
// full-matrix reference. An element is out of tolerance only when it
// misses both bounds.
const (
	AbsTolerance = 5e-2
	RelTolerance = 1e-1
)

// ReferenceProblem computes softmax(scale·Q·Kᵀ)·V for one sub-problem the
// slow way, one fully-materialized score row at a time, writing float32
// output at the problem's offsets. Causal masking is applied by zeroing
// the attended range at columns beyond the row index before softmax.
// Rows with no attendable keys emit zeros, matching the kernel's
// zero-denominator policy.
func ReferenceProblem(p *Problem, q, k, v, out []float32, scale float64, causal bool) {
	rows, cols := p.domain()
	dimQK := p.Shape0.Inner
	dimV := p.Shape1.Cols

	qb := q[p.OffQ:]
	kb := k[p.OffK:]
	vb := v[p.OffV:]
	ob := out[p.OffO:]

	scores := make([]float64, cols)
	acc := make([]float64, dimV)

	for r := 0; r < rows; r++ {
		n := AttendedCols(r, cols, causal)
		dst := ob[r*p.StrideO : r*p.StrideO+dimV]
		if n == 0 {
			clear(dst)
			continue
		}
		qrow := qb[r*p.StrideQ : r*p.StrideQ+dimQK]

		maxS := math.Inf(-1)
		for j := 0; j < n; j++ {
			krow := kb[j*p.StrideK : j*p.StrideK+dimQK]
			s := scale * dotWide(qrow, krow)
			scores[j] = s
			if s > maxS {
				maxS = s
			}
		}

		var sum float64
		for j := 0; j < n; j++ {
			scores[j] = math.Exp(scores[j] - maxS)
			sum += scores[j]
		}

		clear(acc)
		for j := 0; j < n; j++ {
			w := scores[j]
			vrow := vb[j*p.StrideV : j*p.StrideV+dimV]
			for d := 0; d < dimV; d++ {
				acc[d] += w * float64(vrow[d])
			}
		}
		inv := 1 / sum
		for d := 0; d < dimV; d++ {
			dst[d] = float32(acc[d] * inv)
		}
	}
}

// MismatchReport summarizes an element-wise comparison of kernel output
// against the reference.
type MismatchReport struct {
	MaxAbs float64
	MaxRel float64
	Elems  int
	Bad    int
}

// OK reports whether every compared element met at least one tolerance
// bound.
func (r MismatchReport) OK() bool { return r.Bad == 0 }

func (r *MismatchReport) add(got, want float32) {
	r.Elems++
	abs := math.Abs(float64(got) - float64(want))
	denom := math.Abs(float64(want))
	rel := 0.0
	if denom > 0 {
		rel = abs / denom
	}
	if abs > r.MaxAbs {
		r.MaxAbs = abs
	}
	if rel > r.MaxRel {
		r.MaxRel = rel
	}
	if abs > AbsTolerance && rel > RelTolerance {
		r.Bad++
	}
}

// VerifySet recomputes every sub-problem with the full-matrix reference
// and compares the kernel output over each problem's real rows.
func VerifySet(p Params) MismatchReport {
	p.normalize()
	ref := make([]float32, p.Set.ElemsO)
	var rep MismatchReport
	for i := range p.Set.Problems {
		prob := &p.Set.Problems[i]
		ReferenceProblem(prob, p.Q, p.K, p.V, ref, p.Scale, p.Causal)
		rows, _ := prob.domain()
		dimV := prob.Shape1.Cols
		for r := 0; r < rows; r++ {
			base := prob.OffO + r*prob.StrideO
			for d := 0; d < dimV; d++ {
				rep.add(p.O[base+d], ref[base+d])
			}
		}
	}
	return rep
}
