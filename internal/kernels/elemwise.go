package kernels

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/tensors"
)

// UnaryKernel applies an element-wise unary operation over in's flat values,
// writing out's flat indices in [start, end). in and out have equal shapes.
type UnaryKernel func(out, in *tensors.Tensor, start, end int) error

// BinaryKernel applies an element-wise binary operation with implicit
// broadcasting, writing out's flat indices in [start, end).
type BinaryKernel func(out, lhs, rhs *tensors.Tensor, start, end int) error

// CompareKernel is like BinaryKernel but writes Bool results.
type CompareKernel func(out, lhs, rhs *tensors.Tensor, start, end int) error

// UnaryFor resolves the kernel implementing kind for the given dtype.
func UnaryFor(kind ops.Kind, dtype dtypes.DType) (UnaryKernel, error) {
	switch dtype {
	case dtypes.Bool:
		if kind != ops.KindNot {
			return nil, errors.Errorf("unary %s is not defined for %s", kind, dtype)
		}
		return makeUnaryKernel(func(v bool) bool { return !v }), nil
	case dtypes.Int8:
		return unarySignedKernel[int8](kind, dtype)
	case dtypes.Int16:
		return unarySignedKernel[int16](kind, dtype)
	case dtypes.Int32:
		return unarySignedKernel[int32](kind, dtype)
	case dtypes.Int64:
		return unarySignedKernel[int64](kind, dtype)
	case dtypes.Uint8:
		return unaryUnsignedKernel[uint8](kind, dtype)
	case dtypes.Uint16:
		return unaryUnsignedKernel[uint16](kind, dtype)
	case dtypes.Uint32:
		return unaryUnsignedKernel[uint32](kind, dtype)
	case dtypes.Uint64:
		return unaryUnsignedKernel[uint64](kind, dtype)
	case dtypes.Float32:
		return unaryFloatKernel[float32](kind, dtype)
	case dtypes.Float64:
		return unaryFloatKernel[float64](kind, dtype)
	case dtypes.Float16:
		fn, err := unaryFloatFn[float32](kind, dtype)
		if err != nil {
			return nil, err
		}
		return makeUnaryKernel(func(v float16.Float16) float16.Float16 {
			return float16.Fromfloat32(fn(v.Float32()))
		}), nil
	case dtypes.BFloat16:
		fn, err := unaryFloatFn[float32](kind, dtype)
		if err != nil {
			return nil, err
		}
		return makeUnaryKernel(func(v bfloat16.BFloat16) bfloat16.BFloat16 {
			return bfloat16.FromFloat32(fn(v.Float32()))
		}), nil
	}
	return nil, errors.Errorf("unary %s is not defined for %s", kind, dtype)
}

// BinaryFor resolves the kernel implementing kind for the given dtype. Both
// operands and the output share the dtype.
func BinaryFor(kind ops.Kind, dtype dtypes.DType) (BinaryKernel, error) {
	switch dtype {
	case dtypes.Bool:
		fn, err := binaryBoolFn(kind, dtype)
		if err != nil {
			return nil, err
		}
		return makeBinaryKernel(fn), nil
	case dtypes.Int8:
		return binaryIntKernel[int8](kind, dtype)
	case dtypes.Int16:
		return binaryIntKernel[int16](kind, dtype)
	case dtypes.Int32:
		return binaryIntKernel[int32](kind, dtype)
	case dtypes.Int64:
		return binaryIntKernel[int64](kind, dtype)
	case dtypes.Uint8:
		return binaryIntKernel[uint8](kind, dtype)
	case dtypes.Uint16:
		return binaryIntKernel[uint16](kind, dtype)
	case dtypes.Uint32:
		return binaryIntKernel[uint32](kind, dtype)
	case dtypes.Uint64:
		return binaryIntKernel[uint64](kind, dtype)
	case dtypes.Float32:
		return binaryFloatKernel[float32](kind, dtype)
	case dtypes.Float64:
		return binaryFloatKernel[float64](kind, dtype)
	case dtypes.Float16:
		fn, err := binaryFloatFn[float32](kind, dtype)
		if err != nil {
			return nil, err
		}
		return makeBinaryKernel(func(a, b float16.Float16) float16.Float16 {
			return float16.Fromfloat32(fn(a.Float32(), b.Float32()))
		}), nil
	case dtypes.BFloat16:
		fn, err := binaryFloatFn[float32](kind, dtype)
		if err != nil {
			return nil, err
		}
		return makeBinaryKernel(func(a, b bfloat16.BFloat16) bfloat16.BFloat16 {
			return bfloat16.FromFloat32(fn(a.Float32(), b.Float32()))
		}), nil
	}
	return nil, errors.Errorf("binary %s is not defined for %s", kind, dtype)
}

// CompareFor resolves the kernel implementing kind for the given operand
// dtype. The output dtype is always Bool.
func CompareFor(kind ops.Kind, dtype dtypes.DType) (CompareKernel, error) {
	switch dtype {
	case dtypes.Bool:
		switch kind {
		case ops.KindEq:
			return makeCompareKernel(func(a, b bool) bool { return a == b }), nil
		case ops.KindNe:
			return makeCompareKernel(func(a, b bool) bool { return a != b }), nil
		}
		return nil, errors.Errorf("comparison %s is not defined for %s", kind, dtype)
	case dtypes.Int8:
		return compareKernel[int8](kind, dtype)
	case dtypes.Int16:
		return compareKernel[int16](kind, dtype)
	case dtypes.Int32:
		return compareKernel[int32](kind, dtype)
	case dtypes.Int64:
		return compareKernel[int64](kind, dtype)
	case dtypes.Uint8:
		return compareKernel[uint8](kind, dtype)
	case dtypes.Uint16:
		return compareKernel[uint16](kind, dtype)
	case dtypes.Uint32:
		return compareKernel[uint32](kind, dtype)
	case dtypes.Uint64:
		return compareKernel[uint64](kind, dtype)
	case dtypes.Float32:
		return compareKernel[float32](kind, dtype)
	case dtypes.Float64:
		return compareKernel[float64](kind, dtype)
	case dtypes.Float16:
		fn, err := compareFn[float32](kind, dtype)
		if err != nil {
			return nil, err
		}
		return makeCompareKernel(func(a, b float16.Float16) bool {
			return fn(a.Float32(), b.Float32())
		}), nil
	case dtypes.BFloat16:
		fn, err := compareFn[float32](kind, dtype)
		if err != nil {
			return nil, err
		}
		return makeCompareKernel(func(a, b bfloat16.BFloat16) bool {
			return fn(a.Float32(), b.Float32())
		}), nil
	}
	return nil, errors.Errorf("comparison %s is not defined for %s", kind, dtype)
}

func makeUnaryKernel[T dtypes.Supported](fn func(T) T) UnaryKernel {
	return func(out, in *tensors.Tensor, start, end int) error {
		dst, src := tensors.Flat[T](out), tensors.Flat[T](in)
		for i := start; i < end; i++ {
			dst[i] = fn(src[i])
		}
		return nil
	}
}

// makeBinaryKernel builds the broadcasting loop around an element function.
// Size-1 operands take a fast path; otherwise mismatched dimensions stream
// through broadcast iterators. Runtime panics (notably integer division by
// zero) are recovered and reported as errors.
func makeBinaryKernel[T dtypes.Supported](fn func(a, b T) T) BinaryKernel {
	return func(out, lhs, rhs *tensors.Tensor, start, end int) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("%v", r)
			}
		}()
		dst := tensors.Flat[T](out)
		a, b := tensors.Flat[T](lhs), tensors.Flat[T](rhs)
		switch {
		case len(b) == 1:
			c := b[0]
			for i := start; i < end; i++ {
				dst[i] = fn(a[i], c)
			}
		case len(a) == 1:
			c := a[0]
			for i := start; i < end; i++ {
				dst[i] = fn(c, b[i])
			}
		case lhs.Shape().EqualDimensions(rhs.Shape()):
			for i := start; i < end; i++ {
				dst[i] = fn(a[i], b[i])
			}
		default:
			aIter := newBroadcastIterator(lhs.Shape(), out.Shape(), start)
			bIter := newBroadcastIterator(rhs.Shape(), out.Shape(), start)
			for i := start; i < end; i++ {
				dst[i] = fn(a[aIter.Next()], b[bIter.Next()])
			}
		}
		return
	}
}

func makeCompareKernel[T dtypes.Supported](fn func(a, b T) bool) CompareKernel {
	return func(out, lhs, rhs *tensors.Tensor, start, end int) error {
		dst := tensors.Flat[bool](out)
		a, b := tensors.Flat[T](lhs), tensors.Flat[T](rhs)
		switch {
		case len(b) == 1:
			c := b[0]
			for i := start; i < end; i++ {
				dst[i] = fn(a[i], c)
			}
		case len(a) == 1:
			c := a[0]
			for i := start; i < end; i++ {
				dst[i] = fn(c, b[i])
			}
		case lhs.Shape().EqualDimensions(rhs.Shape()):
			for i := start; i < end; i++ {
				dst[i] = fn(a[i], b[i])
			}
		default:
			aIter := newBroadcastIterator(lhs.Shape(), out.Shape(), start)
			bIter := newBroadcastIterator(rhs.Shape(), out.Shape(), start)
			for i := start; i < end; i++ {
				dst[i] = fn(a[aIter.Next()], b[bIter.Next()])
			}
		}
		return nil
	}
}

func unarySignedKernel[T PODSignedIntegerConstraints](kind ops.Kind, dtype dtypes.DType) (UnaryKernel, error) {
	switch kind {
	case ops.KindNeg:
		return makeUnaryKernel(func(v T) T { return -v }), nil
	case ops.KindAbs:
		return makeUnaryKernel(func(v T) T {
			if v < 0 {
				return -v
			}
			return v
		}), nil
	case ops.KindSign:
		return makeUnaryKernel(func(v T) T {
			if v > 0 {
				return 1
			}
			if v < 0 {
				return -1
			}
			return 0
		}), nil
	}
	return nil, errors.Errorf("unary %s is not defined for %s", kind, dtype)
}

func unaryUnsignedKernel[T PODUnsignedConstraints](kind ops.Kind, dtype dtypes.DType) (UnaryKernel, error) {
	switch kind {
	case ops.KindNeg:
		// Wraps, following Go (and C) unsigned arithmetic.
		return makeUnaryKernel(func(v T) T { return -v }), nil
	case ops.KindAbs:
		return makeUnaryKernel(func(v T) T { return v }), nil
	case ops.KindSign:
		return makeUnaryKernel(func(v T) T {
			if v > 0 {
				return 1
			}
			return 0
		}), nil
	}
	return nil, errors.Errorf("unary %s is not defined for %s", kind, dtype)
}

func unaryFloatKernel[T PODFloatConstraints](kind ops.Kind, dtype dtypes.DType) (UnaryKernel, error) {
	fn, err := unaryFloatFn[T](kind, dtype)
	if err != nil {
		return nil, err
	}
	return makeUnaryKernel(fn), nil
}

func unaryFloatFn[T PODFloatConstraints](kind ops.Kind, dtype dtypes.DType) (func(T) T, error) {
	switch kind {
	case ops.KindNeg:
		return func(v T) T { return -v }, nil
	case ops.KindAbs:
		return func(v T) T { return T(math.Abs(float64(v))) }, nil
	case ops.KindSign:
		// Preserves -0 and NaN.
		return func(v T) T {
			if v > 0 {
				return 1
			}
			if v < 0 {
				return -1
			}
			return v
		}, nil
	}
	var fn64 func(float64) float64
	switch kind {
	case ops.KindExp:
		fn64 = math.Exp
	case ops.KindLog:
		fn64 = math.Log
	case ops.KindSqrt:
		fn64 = math.Sqrt
	case ops.KindFloor:
		fn64 = math.Floor
	case ops.KindCeil:
		fn64 = math.Ceil
	case ops.KindSigmoid:
		fn64 = sigmoid64
	case ops.KindSoftplus:
		fn64 = softplus64
	default:
		return nil, errors.Errorf("unary %s is not defined for %s", kind, dtype)
	}
	return func(v T) T { return T(fn64(float64(v))) }, nil
}

func sigmoid64(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func softplus64(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

func binaryIntKernel[T PODIntegerConstraints](kind ops.Kind, dtype dtypes.DType) (BinaryKernel, error) {
	switch kind {
	case ops.KindAdd:
		return makeBinaryKernel(func(a, b T) T { return a + b }), nil
	case ops.KindSub:
		return makeBinaryKernel(func(a, b T) T { return a - b }), nil
	case ops.KindMul:
		return makeBinaryKernel(func(a, b T) T { return a * b }), nil
	case ops.KindDiv:
		// Truncated division; division by zero surfaces as a kernel error.
		return makeBinaryKernel(func(a, b T) T { return a / b }), nil
	case ops.KindPow:
		return makeBinaryKernel(intPow[T]), nil
	case ops.KindMinimum:
		return makeBinaryKernel(func(a, b T) T {
			if a < b {
				return a
			}
			return b
		}), nil
	case ops.KindMaximum:
		return makeBinaryKernel(func(a, b T) T {
			if a > b {
				return a
			}
			return b
		}), nil
	}
	return nil, errors.Errorf("binary %s is not defined for %s", kind, dtype)
}

// intPow computes base**exp in O(log exp) multiplications. Negative
// exponents yield 1, matching truncated integer semantics elsewhere.
func intPow[T PODIntegerConstraints](base, exp T) T {
	result := T(1)
	for exp > 0 {
		if exp%2 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func binaryFloatKernel[T PODFloatConstraints](kind ops.Kind, dtype dtypes.DType) (BinaryKernel, error) {
	fn, err := binaryFloatFn[T](kind, dtype)
	if err != nil {
		return nil, err
	}
	return makeBinaryKernel(fn), nil
}

func binaryFloatFn[T PODFloatConstraints](kind ops.Kind, dtype dtypes.DType) (func(a, b T) T, error) {
	switch kind {
	case ops.KindAdd:
		return func(a, b T) T { return a + b }, nil
	case ops.KindSub:
		return func(a, b T) T { return a - b }, nil
	case ops.KindMul:
		return func(a, b T) T { return a * b }, nil
	case ops.KindDiv:
		return func(a, b T) T { return a / b }, nil
	case ops.KindPow:
		return func(a, b T) T { return T(math.Pow(float64(a), float64(b))) }, nil
	case ops.KindMinimum:
		// NaN propagates.
		return func(a, b T) T { return T(math.Min(float64(a), float64(b))) }, nil
	case ops.KindMaximum:
		return func(a, b T) T { return T(math.Max(float64(a), float64(b))) }, nil
	}
	return nil, errors.Errorf("binary %s is not defined for %s", kind, dtype)
}

func binaryBoolFn(kind ops.Kind, dtype dtypes.DType) (func(a, b bool) bool, error) {
	switch kind {
	case ops.KindAnd:
		return func(a, b bool) bool { return a && b }, nil
	case ops.KindOr:
		return func(a, b bool) bool { return a || b }, nil
	}
	return nil, errors.Errorf("binary %s is not defined for %s", kind, dtype)
}

func compareKernel[T PODNumericConstraints](kind ops.Kind, dtype dtypes.DType) (CompareKernel, error) {
	fn, err := compareFn[T](kind, dtype)
	if err != nil {
		return nil, err
	}
	return makeCompareKernel(fn), nil
}

func compareFn[T PODNumericConstraints](kind ops.Kind, dtype dtypes.DType) (func(a, b T) bool, error) {
	switch kind {
	case ops.KindEq:
		return func(a, b T) bool { return a == b }, nil
	case ops.KindNe:
		return func(a, b T) bool { return a != b }, nil
	case ops.KindLt:
		return func(a, b T) bool { return a < b }, nil
	case ops.KindLe:
		return func(a, b T) bool { return a <= b }, nil
	case ops.KindGt:
		return func(a, b T) bool { return a > b }, nil
	case ops.KindGe:
		return func(a, b T) bool { return a >= b }, nil
	}
	return nil, errors.Errorf("comparison %s is not defined for %s", kind, dtype)
}
