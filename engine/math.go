package engine

import "github.com/viterin/vek/vek32"

// Thin wrappers over the SIMD vector kernels, so that the render code reads
// like plain arithmetic.

func mul(dst, a, b []float32) {
	vek32.Mul_Into(dst, a, b)
}

func mulNumber(dst, a []float32, g float32) {
	vek32.MulNumber_Into(dst, a, g)
}

// addScaled does dst += src * g. Unit gain is the common case and maps to a
// single vector add.
func addScaled(dst, src []float32, g float32) {
	if g == 1 {
		vek32.Add_Inplace(dst, src)
		return
	}
	for i := range dst {
		dst[i] += src[i] * g
	}
}
