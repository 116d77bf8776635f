package apf

import (
	"math"
	"os"
	"unsafe"
)

const (
	apfAlign = 8
)

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	// half-open ranges [a0,a1) and [b0,b1)
	return a0 < b1 && b0 < a1
}

func structSliceBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	elem := int(unsafe.Sizeof(s[0]))
	total := elem * len(s)
	if total < 0 || total > math.MaxInt {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), total)
}

// float32View reinterprets a payload slice as float32 elements.
// len(b) must be a multiple of 4 and the slice 4-byte aligned; section
// starts satisfy both because the writer keeps them 8-byte aligned.
func float32View(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
