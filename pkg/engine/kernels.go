package engine

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/blas/gonum"
)

// Kernels is the level-1 BLAS subset the interpreter calls. Implementations
// must be reentrant and may assume the interpreter validated n, the strides
// and the slice lengths.
type Kernels interface {
	Scopy(n int, x []float32, incX int, y []float32, incY int)
	Dcopy(n int, x []float64, incX int, y []float64, incY int)
	Sscal(n int, alpha float32, x []float32, incX int)
	Dscal(n int, alpha float64, x []float64, incX int)
}

// DefaultKernels is the pure-Go gonum BLAS implementation.
var DefaultKernels Kernels = gonum.Implementation{}

// Float32s decodes little-endian IEEE-754 single-precision values.
func Float32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Float64s decodes little-endian IEEE-754 double-precision values.
func Float64s(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}

// PutFloat32s encodes xs into b, which must hold 4*len(xs) bytes.
func PutFloat32s(b []byte, xs []float32) {
	for i, x := range xs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
}

// PutFloat64s encodes xs into b, which must hold 8*len(xs) bytes.
func PutFloat64s(b []byte, xs []float64) {
	for i, x := range xs {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(x))
	}
}

// decodeScalar reads one element of d from raw and widens it to float64.
func decodeScalar(raw []byte, d DType) float64 {
	if d.Bits == 32 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(raw))
}

// copyData runs the copy kernel matching d over n unit-stride elements
// of src into dst.
func copyData(k Kernels, d DType, n int, src, dst []byte) {
	switch d.Bits {
	case 32:
		x := Float32s(src)
		y := make([]float32, n)
		k.Scopy(n, x, 1, y, 1)
		PutFloat32s(dst, y)
	case 64:
		x := Float64s(src)
		y := make([]float64, n)
		k.Dcopy(n, x, 1, y, 1)
		PutFloat64s(dst, y)
	}
}

// scaleData scales n strided elements of data in place.
func scaleData(k Kernels, d DType, n int, alpha float64, data []byte, inc int) {
	switch d.Bits {
	case 32:
		x := Float32s(data)
		k.Sscal(n, float32(alpha), x, inc)
		PutFloat32s(data, x)
	case 64:
		x := Float64s(data)
		k.Dscal(n, alpha, x, inc)
		PutFloat64s(data, x)
	}
}
