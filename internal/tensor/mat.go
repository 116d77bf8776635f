package tensor

import "math/rand"

// Mat represents a dense row-major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively. Stride is
// the number of elements between the starts of two consecutive rows (for
// tightly packed row-major matrices this is equal to C, but views over a
// wider backing buffer may carry a larger stride). Data holds the flattened
// matrix values.
//
// Mat does not perform any memory safety beyond the checks performed by
// Go's slice types; out-of-range indices will panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a new matrix with the given number of rows and columns.
// The underlying slice is zero initialised. The stride is set to the
// number of columns.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData creates a matrix view over existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}
}

// View returns a sub-matrix of rows [r0, r0+r) sharing the receiver's
// backing storage. Modifications through the view update the parent.
func (m *Mat) View(r0, r int) Mat {
	if r0 < 0 || r < 0 || r0+r > m.R {
		panic("view range out of bounds")
	}
	start := r0 * m.Stride
	end := start + (r-1)*m.Stride + m.C
	if r == 0 {
		end = start
	}
	return Mat{
		R:      r,
		C:      m.C,
		Stride: m.Stride,
		Data:   m.Data[start:end],
	}
}

// Row returns a view of the i-th row of the matrix as a slice. The slice
// has length equal to the number of columns. Modifications to the returned
// slice update the underlying matrix values.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// FillRand fills the matrix with reproducible pseudo-random values. A small
// range around zero is used to avoid overflow in accumulations. The seed
// controls the random sequence; multiple calls with the same seed produce
// identical matrices.
func FillRand(m *Mat, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02 // roughly in (-0.01,0.01)
	}
}

// FillPattern fills the matrix with a deterministic repeating ramp scaled
// by scale. Useful where bit-identical inputs matter more than realistic
// distributions.
func FillPattern(m *Mat, scale float32) {
	for i := range m.Data {
		m.Data[i] = scale * float32((i%29)-14)
	}
}
