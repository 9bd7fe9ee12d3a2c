package kernels

import (
	"math"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// ReduceKernel folds in over the given axes into out. The axes must be
// normalized (non-negative, sorted); out's flat size must match in's shape
// with the reduced axes collapsed.
type ReduceKernel func(out, in *tensors.Tensor, axes []int) error

// ReduceFor resolves the reduction kernel for kind and dtype.
func ReduceFor(kind ops.Kind, dtype dtypes.DType) (ReduceKernel, error) {
	switch kind {
	case ops.KindReduceSum:
		return reduceSumFor(dtype)
	case ops.KindReduceMax:
		return reduceMaxFor(dtype)
	}
	return nil, errors.Errorf("%s is not a reduction", kind)
}

func reduceSumFor(dtype dtypes.DType) (ReduceKernel, error) {
	switch dtype {
	case dtypes.Int8:
		return makeReduceKernel[int8](0, func(acc, v int8) int8 { return acc + v }), nil
	case dtypes.Int16:
		return makeReduceKernel[int16](0, func(acc, v int16) int16 { return acc + v }), nil
	case dtypes.Int32:
		return makeReduceKernel[int32](0, func(acc, v int32) int32 { return acc + v }), nil
	case dtypes.Int64:
		return makeReduceKernel[int64](0, func(acc, v int64) int64 { return acc + v }), nil
	case dtypes.Uint8:
		return makeReduceKernel[uint8](0, func(acc, v uint8) uint8 { return acc + v }), nil
	case dtypes.Uint16:
		return makeReduceKernel[uint16](0, func(acc, v uint16) uint16 { return acc + v }), nil
	case dtypes.Uint32:
		return makeReduceKernel[uint32](0, func(acc, v uint32) uint32 { return acc + v }), nil
	case dtypes.Uint64:
		return makeReduceKernel[uint64](0, func(acc, v uint64) uint64 { return acc + v }), nil
	case dtypes.Float32:
		return makeReduceKernel[float32](0, func(acc, v float32) float32 { return acc + v }), nil
	case dtypes.Float64:
		return makeReduceKernel[float64](0, func(acc, v float64) float64 { return acc + v }), nil
	case dtypes.Float16, dtypes.BFloat16:
		// Accumulated in float64 to limit rounding error.
		return makeReduceViaFloat64(0, func(acc, v float64) float64 { return acc + v }), nil
	}
	return nil, errors.Errorf("reduce_sum is not defined for %s", dtype)
}

func reduceMaxFor(dtype dtypes.DType) (ReduceKernel, error) {
	switch dtype {
	case dtypes.Int8:
		return makeReduceKernel[int8](math.MinInt8, maxFold[int8]), nil
	case dtypes.Int16:
		return makeReduceKernel[int16](math.MinInt16, maxFold[int16]), nil
	case dtypes.Int32:
		return makeReduceKernel[int32](math.MinInt32, maxFold[int32]), nil
	case dtypes.Int64:
		return makeReduceKernel[int64](math.MinInt64, maxFold[int64]), nil
	case dtypes.Uint8:
		return makeReduceKernel[uint8](0, maxFold[uint8]), nil
	case dtypes.Uint16:
		return makeReduceKernel[uint16](0, maxFold[uint16]), nil
	case dtypes.Uint32:
		return makeReduceKernel[uint32](0, maxFold[uint32]), nil
	case dtypes.Uint64:
		return makeReduceKernel[uint64](0, maxFold[uint64]), nil
	case dtypes.Float32:
		return makeReduceKernel[float32](float32(math.Inf(-1)), func(acc, v float32) float32 {
			return float32(math.Max(float64(acc), float64(v)))
		}), nil
	case dtypes.Float64:
		return makeReduceKernel[float64](math.Inf(-1), math.Max), nil
	case dtypes.Float16, dtypes.BFloat16:
		return makeReduceViaFloat64(math.Inf(-1), math.Max), nil
	}
	return nil, errors.Errorf("reduce_max is not defined for %s", dtype)
}

func maxFold[T PODIntegerConstraints](acc, v T) T {
	if v > acc {
		return v
	}
	return acc
}

// makeReduceKernel folds each input element into the output slot obtained by
// dropping the reduced coordinates: the output, padded with 1-dimensions at
// the reduced axes, is broadcast against the input shape.
func makeReduceKernel[T PODNumericConstraints](init T, fold func(acc, v T) T) ReduceKernel {
	return func(out, in *tensors.Tensor, axes []int) error {
		dst, src := tensors.Flat[T](out), tensors.Flat[T](in)
		for i := range dst {
			dst[i] = init
		}
		it := newBroadcastIterator(paddedReduceShape(in.Shape(), axes), in.Shape(), 0)
		for i := range src {
			j := it.Next()
			dst[j] = fold(dst[j], src[i])
		}
		return nil
	}
}

func makeReduceViaFloat64(init float64, fold func(acc, v float64) float64) ReduceKernel {
	return func(out, in *tensors.Tensor, axes []int) error {
		src, err := flatToFloat64(in)
		if err != nil {
			return err
		}
		dst := make([]float64, out.Size())
		for i := range dst {
			dst[i] = init
		}
		it := newBroadcastIterator(paddedReduceShape(in.Shape(), axes), in.Shape(), 0)
		for i := range src {
			j := it.Next()
			dst[j] = fold(dst[j], src[i])
		}
		return fillFromFloat64(out, dst)
	}
}

func paddedReduceShape(in shapes.Shape, axes []int) shapes.Shape {
	dims := slices.Clone(in.Dimensions)
	for _, axis := range axes {
		dims[axis] = 1
	}
	return shapes.Shape{DType: in.DType, Dimensions: dims}
}

// DotInto computes the product of two vectors or matrices into out:
// vec·vec -> scalar, mat·vec -> vec, mat·mat -> mat. The contracted
// dimensions are checked here since they may be unknown until call time.
func DotInto(out, lhs, rhs *tensors.Tensor) error {
	var m, k, n int
	switch {
	case lhs.Rank() == 1 && rhs.Rank() == 1:
		m, k, n = 1, lhs.Shape().Dim(0), 1
		if rhs.Shape().Dim(0) != k {
			return errors.Errorf("dot of incompatible vectors %s and %s", lhs.Shape(), rhs.Shape())
		}
	case lhs.Rank() == 2 && rhs.Rank() == 1:
		m, k, n = lhs.Shape().Dim(0), lhs.Shape().Dim(1), 1
		if rhs.Shape().Dim(0) != k {
			return errors.Errorf("dot of incompatible operands %s and %s", lhs.Shape(), rhs.Shape())
		}
	case lhs.Rank() == 2 && rhs.Rank() == 2:
		m, k, n = lhs.Shape().Dim(0), lhs.Shape().Dim(1), rhs.Shape().Dim(1)
		if rhs.Shape().Dim(0) != k {
			return errors.Errorf("dot of incompatible matrices %s and %s", lhs.Shape(), rhs.Shape())
		}
	default:
		return errors.Errorf("dot supports vec·vec, mat·vec and mat·mat, got shapes %s and %s",
			lhs.Shape(), rhs.Shape())
	}
	switch lhs.DType() {
	case dtypes.Int8:
		dotGeneric(tensors.Flat[int8](out), tensors.Flat[int8](lhs), tensors.Flat[int8](rhs), m, k, n)
	case dtypes.Int16:
		dotGeneric(tensors.Flat[int16](out), tensors.Flat[int16](lhs), tensors.Flat[int16](rhs), m, k, n)
	case dtypes.Int32:
		dotGeneric(tensors.Flat[int32](out), tensors.Flat[int32](lhs), tensors.Flat[int32](rhs), m, k, n)
	case dtypes.Int64:
		dotGeneric(tensors.Flat[int64](out), tensors.Flat[int64](lhs), tensors.Flat[int64](rhs), m, k, n)
	case dtypes.Uint8:
		dotGeneric(tensors.Flat[uint8](out), tensors.Flat[uint8](lhs), tensors.Flat[uint8](rhs), m, k, n)
	case dtypes.Uint16:
		dotGeneric(tensors.Flat[uint16](out), tensors.Flat[uint16](lhs), tensors.Flat[uint16](rhs), m, k, n)
	case dtypes.Uint32:
		dotGeneric(tensors.Flat[uint32](out), tensors.Flat[uint32](lhs), tensors.Flat[uint32](rhs), m, k, n)
	case dtypes.Uint64:
		dotGeneric(tensors.Flat[uint64](out), tensors.Flat[uint64](lhs), tensors.Flat[uint64](rhs), m, k, n)
	case dtypes.Float32:
		dotGeneric(tensors.Flat[float32](out), tensors.Flat[float32](lhs), tensors.Flat[float32](rhs), m, k, n)
	case dtypes.Float64:
		dotGeneric(tensors.Flat[float64](out), tensors.Flat[float64](lhs), tensors.Flat[float64](rhs), m, k, n)
	case dtypes.Float16, dtypes.BFloat16:
		a, err := flatToFloat64(lhs)
		if err != nil {
			return err
		}
		b, err := flatToFloat64(rhs)
		if err != nil {
			return err
		}
		dst := make([]float64, out.Size())
		dotGeneric(dst, a, b, m, k, n)
		return fillFromFloat64(out, dst)
	default:
		return errors.Errorf("dot is not defined for %s", lhs.DType())
	}
	return nil
}

func dotGeneric[T PODNumericConstraints](dst, a, b []T, m, k, n int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var acc T
			for p := 0; p < k; p++ {
				acc += a[i*k+p] * b[p*n+j]
			}
			dst[i*n+j] = acc
		}
	}
}
