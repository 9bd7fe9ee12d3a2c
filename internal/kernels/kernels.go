// Package kernels implements the host-side compute kernels shared by the
// backends: element-wise loops, broadcasting, gather/concat/split block
// copies, reductions and dtype casts, all operating on tensors.Tensor flat
// storage.
//
// Kernels are resolved per (operation kind, dtype) at compile time; the
// returned closures run tight typed loops over a [start, end) range of the
// output's flat indices so callers can split large tensors across workers.
package kernels

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// PODNumericConstraints are the Go plain-old-data types backing the numeric
// dtypes. BFloat16 and Float16 are excluded: they are converted through
// float32 by dedicated wrappers.
type PODNumericConstraints interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// PODSignedNumericConstraints restricts PODNumericConstraints to signed types.
type PODSignedNumericConstraints interface {
	int8 | int16 | int32 | int64 | float32 | float64
}

// PODIntegerConstraints are the Go plain-old-data integer types.
type PODIntegerConstraints interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// PODSignedIntegerConstraints are the signed integer types.
type PODSignedIntegerConstraints interface {
	int8 | int16 | int32 | int64
}

// PODUnsignedConstraints are the unsigned integer types.
type PODUnsignedConstraints interface {
	uint8 | uint16 | uint32 | uint64
}

// PODFloatConstraints are the Go native float types.
type PODFloatConstraints interface {
	float32 | float64
}

// broadcastIterator iterates over the flat indices of a source tensor as it
// is broadcast to a target shape: axes where the source has dimension 1 (or
// is missing, right-aligned) repeat the same source elements.
//
// The iteration order follows the target's row-major flat order, starting at
// the given target flat index, so disjoint [start, end) ranges of the target
// can be processed independently.
type broadcastIterator struct {
	coords  []int
	dims    []int
	strides []int // effective strides into the source; 0 on broadcast axes
	flatIdx int
}

func newBroadcastIterator(from, to shapes.Shape, start int) *broadcastIterator {
	rank := to.Rank()
	bi := &broadcastIterator{
		coords:  make([]int, rank),
		dims:    to.Dimensions,
		strides: make([]int, rank),
	}
	shift := rank - from.Rank()
	stride := 1
	for axis := from.Rank() - 1; axis >= 0; axis-- {
		if from.Dimensions[axis] == to.Dimensions[axis+shift] {
			bi.strides[axis+shift] = stride
		}
		stride *= from.Dimensions[axis]
	}
	if start > 0 {
		rem := start
		for axis := rank - 1; axis >= 0; axis-- {
			bi.coords[axis] = rem % bi.dims[axis]
			rem /= bi.dims[axis]
			bi.flatIdx += bi.coords[axis] * bi.strides[axis]
		}
	}
	return bi
}

// Next returns the source flat index for the current target position and
// advances to the next one.
func (bi *broadcastIterator) Next() (flatIdx int) {
	flatIdx = bi.flatIdx
	for axis := len(bi.coords) - 1; axis >= 0; axis-- {
		bi.coords[axis]++
		bi.flatIdx += bi.strides[axis]
		if bi.coords[axis] < bi.dims[axis] {
			return
		}
		bi.coords[axis] = 0
		bi.flatIdx -= bi.dims[axis] * bi.strides[axis]
	}
	return
}

// flatCopy copies n elements from src's flat storage at srcOff into dst's
// flat storage at dstOff. Both tensors must have the same dtype.
func flatCopy(dst, src *tensors.Tensor, dstOff, srcOff, n int) {
	if n == 0 {
		return
	}
	dstV := reflect.ValueOf(dst.FlatAny())
	srcV := reflect.ValueOf(src.FlatAny())
	reflect.Copy(dstV.Slice(dstOff, dstOff+n), srcV.Slice(srcOff, srcOff+n))
}

// CopyFlat copies n elements from src's flat storage at srcOff into dst's
// flat storage at dstOff. Both tensors must have the same dtype; offsets and
// length must be in range.
func CopyFlat(dst, src *tensors.Tensor, dstOff, srcOff, n int) {
	flatCopy(dst, src, dstOff, srcOff, n)
}

// FreezeMerge overwrites update's elements with current's wherever keep is
// true, in place. Both tensors must share update's shape and keep must have
// one entry per element. Loop backends use it to hold finished elements at
// their last committed state while the remaining ones keep iterating.
func FreezeMerge(update, current *tensors.Tensor, keep []bool) error {
	if !update.Shape().Equal(current.Shape()) {
		return errors.Errorf("freeze merge of mismatched shapes %s and %s", update.Shape(), current.Shape())
	}
	if update.Size() != len(keep) {
		return errors.Errorf("freeze merge mask has %d entries for %d elements", len(keep), update.Size())
	}
	// Copy runs of kept elements in blocks.
	i := 0
	for i < len(keep) {
		if !keep[i] {
			i++
			continue
		}
		j := i + 1
		for j < len(keep) && keep[j] {
			j++
		}
		flatCopy(update, current, i, i, j-i)
		i = j
	}
	return nil
}

// AsInt64 reads the single element of a scalar tensor as an int64, truncating
// floats. It is used to evaluate dimension, index and step operands.
func AsInt64(t *tensors.Tensor) (int64, error) {
	if !t.IsScalar() {
		return 0, errors.Errorf("expected a scalar, got shape %s", t.Shape())
	}
	switch t.DType() {
	case dtypes.Int8:
		return int64(tensors.ToScalar[int8](t)), nil
	case dtypes.Int16:
		return int64(tensors.ToScalar[int16](t)), nil
	case dtypes.Int32:
		return int64(tensors.ToScalar[int32](t)), nil
	case dtypes.Int64:
		return tensors.ToScalar[int64](t), nil
	case dtypes.Uint8:
		return int64(tensors.ToScalar[uint8](t)), nil
	case dtypes.Uint16:
		return int64(tensors.ToScalar[uint16](t)), nil
	case dtypes.Uint32:
		return int64(tensors.ToScalar[uint32](t)), nil
	case dtypes.Uint64:
		return int64(tensors.ToScalar[uint64](t)), nil
	case dtypes.Float32:
		return int64(tensors.ToScalar[float32](t)), nil
	case dtypes.Float64:
		return int64(tensors.ToScalar[float64](t)), nil
	case dtypes.Float16:
		return int64(tensors.ToScalar[float16.Float16](t).Float32()), nil
	case dtypes.BFloat16:
		return int64(tensors.ToScalar[bfloat16.BFloat16](t).Float32()), nil
	case dtypes.Bool:
		if tensors.ToScalar[bool](t) {
			return 1, nil
		}
		return 0, nil
	}
	return 0, errors.Errorf("dtype %s cannot be read as an integer", t.DType())
}

// AsFloat64 reads the single element of a scalar tensor as a float64.
func AsFloat64(t *tensors.Tensor) (float64, error) {
	if !t.IsScalar() {
		return 0, errors.Errorf("expected a scalar, got shape %s", t.Shape())
	}
	switch t.DType() {
	case dtypes.Float32:
		return float64(tensors.ToScalar[float32](t)), nil
	case dtypes.Float64:
		return tensors.ToScalar[float64](t), nil
	case dtypes.Float16:
		return float64(tensors.ToScalar[float16.Float16](t).Float32()), nil
	case dtypes.BFloat16:
		return float64(tensors.ToScalar[bfloat16.BFloat16](t).Float32()), nil
	}
	v, err := AsInt64(t)
	if err != nil {
		return 0, err
	}
	return float64(v), nil
}

// AsBool reads the single element of a scalar Bool tensor.
func AsBool(t *tensors.Tensor) (bool, error) {
	if !t.IsScalar() {
		return false, errors.Errorf("expected a scalar, got shape %s", t.Shape())
	}
	if t.DType() != dtypes.Bool {
		return false, errors.Errorf("expected a Bool scalar, got dtype %s", t.DType())
	}
	return tensors.ToScalar[bool](t), nil
}

// IndexVector reads a rank-1 integer tensor as a slice of int64 indices.
func IndexVector(t *tensors.Tensor) ([]int64, error) {
	if t.Rank() != 1 {
		return nil, errors.Errorf("expected a rank-1 index tensor, got shape %s", t.Shape())
	}
	if !t.DType().IsInt() {
		return nil, errors.Errorf("expected an integer index tensor, got dtype %s", t.DType())
	}
	out := make([]int64, t.Size())
	switch t.DType() {
	case dtypes.Int8:
		copyToInt64(out, tensors.Flat[int8](t))
	case dtypes.Int16:
		copyToInt64(out, tensors.Flat[int16](t))
	case dtypes.Int32:
		copyToInt64(out, tensors.Flat[int32](t))
	case dtypes.Int64:
		copy(out, tensors.Flat[int64](t))
	case dtypes.Uint8:
		copyToInt64(out, tensors.Flat[uint8](t))
	case dtypes.Uint16:
		copyToInt64(out, tensors.Flat[uint16](t))
	case dtypes.Uint32:
		copyToInt64(out, tensors.Flat[uint32](t))
	case dtypes.Uint64:
		copyToInt64(out, tensors.Flat[uint64](t))
	default:
		return nil, errors.Errorf("dtype %s cannot be used as indices", t.DType())
	}
	return out, nil
}

// NormalizeAxis resolves a possibly negative axis against rank.
func NormalizeAxis(axis, rank int) (int, error) {
	a := axis
	if a < 0 {
		a += rank
	}
	if a < 0 || a >= rank {
		return 0, errors.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return a, nil
}

// ReadDims reads scalar tensors as dimension sizes, rejecting negatives.
// kind names the operation in errors.
func ReadDims(kind string, args []*tensors.Tensor) ([]int, error) {
	dims := make([]int, len(args))
	for i, arg := range args {
		d, err := AsInt64(arg)
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, errors.Errorf("%s dimension %d is negative: %d", kind, i, d)
		}
		dims[i] = int(d)
	}
	return dims, nil
}

func copyToInt64[T PODIntegerConstraints](dst []int64, src []T) {
	for i, v := range src {
		dst[i] = int64(v)
	}
}

// Cast converts a tensor to another dtype, truncating floats to integers and
// mapping booleans to 0/1. Casting to Bool yields v != 0.
func Cast(t *tensors.Tensor, to dtypes.DType) (*tensors.Tensor, error) {
	out := tensors.FromShape(shapes.Make(to, t.Shape().Dimensions...))
	if err := CastInto(out, t); err != nil {
		return nil, err
	}
	return out, nil
}

// CastInto converts t into out's dtype, overwriting out. The two tensors must
// hold the same number of elements.
func CastInto(out, t *tensors.Tensor) error {
	if out.Size() != t.Size() {
		return errors.Errorf("cast into %d elements from %d", out.Size(), t.Size())
	}
	if t.DType() == out.DType() {
		flatCopy(out, t, 0, 0, t.Size())
		return nil
	}
	switch {
	case t.DType() == dtypes.Bool:
		src := tensors.Flat[bool](t)
		staging := make([]int64, len(src))
		for i, v := range src {
			if v {
				staging[i] = 1
			}
		}
		return fillFromInt64(out, staging)
	case t.DType().IsFloat():
		staging, err := flatToFloat64(t)
		if err != nil {
			return err
		}
		return fillFromFloat64(out, staging)
	default:
		staging, err := flatToInt64(t)
		if err != nil {
			return err
		}
		return fillFromInt64(out, staging)
	}
}

func flatToFloat64(t *tensors.Tensor) ([]float64, error) {
	out := make([]float64, t.Size())
	switch t.DType() {
	case dtypes.Float32:
		for i, v := range tensors.Flat[float32](t) {
			out[i] = float64(v)
		}
	case dtypes.Float64:
		copy(out, tensors.Flat[float64](t))
	case dtypes.Float16:
		for i, v := range tensors.Flat[float16.Float16](t) {
			out[i] = float64(v.Float32())
		}
	case dtypes.BFloat16:
		for i, v := range tensors.Flat[bfloat16.BFloat16](t) {
			out[i] = float64(v.Float32())
		}
	default:
		return nil, errors.Errorf("dtype %s is not a float dtype", t.DType())
	}
	return out, nil
}

func flatToInt64(t *tensors.Tensor) ([]int64, error) {
	out := make([]int64, t.Size())
	switch t.DType() {
	case dtypes.Int8:
		copyToInt64(out, tensors.Flat[int8](t))
	case dtypes.Int16:
		copyToInt64(out, tensors.Flat[int16](t))
	case dtypes.Int32:
		copyToInt64(out, tensors.Flat[int32](t))
	case dtypes.Int64:
		copy(out, tensors.Flat[int64](t))
	case dtypes.Uint8:
		copyToInt64(out, tensors.Flat[uint8](t))
	case dtypes.Uint16:
		copyToInt64(out, tensors.Flat[uint16](t))
	case dtypes.Uint32:
		copyToInt64(out, tensors.Flat[uint32](t))
	case dtypes.Uint64:
		copyToInt64(out, tensors.Flat[uint64](t))
	default:
		return nil, errors.Errorf("dtype %s is not an integer dtype", t.DType())
	}
	return out, nil
}

func fillFromInt64(out *tensors.Tensor, staging []int64) error {
	switch out.DType() {
	case dtypes.Int8:
		fillConverted[int64, int8](out, staging)
	case dtypes.Int16:
		fillConverted[int64, int16](out, staging)
	case dtypes.Int32:
		fillConverted[int64, int32](out, staging)
	case dtypes.Int64:
		copy(tensors.Flat[int64](out), staging)
	case dtypes.Uint8:
		fillConverted[int64, uint8](out, staging)
	case dtypes.Uint16:
		fillConverted[int64, uint16](out, staging)
	case dtypes.Uint32:
		fillConverted[int64, uint32](out, staging)
	case dtypes.Uint64:
		fillConverted[int64, uint64](out, staging)
	case dtypes.Float32:
		fillConverted[int64, float32](out, staging)
	case dtypes.Float64:
		fillConverted[int64, float64](out, staging)
	case dtypes.Float16:
		dst := tensors.Flat[float16.Float16](out)
		for i, v := range staging {
			dst[i] = float16.Fromfloat32(float32(v))
		}
	case dtypes.BFloat16:
		dst := tensors.Flat[bfloat16.BFloat16](out)
		for i, v := range staging {
			dst[i] = bfloat16.FromFloat32(float32(v))
		}
	case dtypes.Bool:
		dst := tensors.Flat[bool](out)
		for i, v := range staging {
			dst[i] = v != 0
		}
	default:
		return errors.Errorf("cannot cast to dtype %s", out.DType())
	}
	return nil
}

func fillFromFloat64(out *tensors.Tensor, staging []float64) error {
	switch out.DType() {
	case dtypes.Int8:
		fillConverted[float64, int8](out, staging)
	case dtypes.Int16:
		fillConverted[float64, int16](out, staging)
	case dtypes.Int32:
		fillConverted[float64, int32](out, staging)
	case dtypes.Int64:
		fillConverted[float64, int64](out, staging)
	case dtypes.Uint8:
		fillConverted[float64, uint8](out, staging)
	case dtypes.Uint16:
		fillConverted[float64, uint16](out, staging)
	case dtypes.Uint32:
		fillConverted[float64, uint32](out, staging)
	case dtypes.Uint64:
		fillConverted[float64, uint64](out, staging)
	case dtypes.Float32:
		fillConverted[float64, float32](out, staging)
	case dtypes.Float64:
		copy(tensors.Flat[float64](out), staging)
	case dtypes.Float16:
		dst := tensors.Flat[float16.Float16](out)
		for i, v := range staging {
			dst[i] = float16.Fromfloat32(float32(v))
		}
	case dtypes.BFloat16:
		dst := tensors.Flat[bfloat16.BFloat16](out)
		for i, v := range staging {
			dst[i] = bfloat16.FromFloat32(float32(v))
		}
	case dtypes.Bool:
		dst := tensors.Flat[bool](out)
		for i, v := range staging {
			dst[i] = v != 0
		}
	default:
		return errors.Errorf("cannot cast to dtype %s", out.DType())
	}
	return nil
}

func fillConverted[S PODNumericConstraints, T PODNumericConstraints](out *tensors.Tensor, staging []S) {
	dst := tensors.Flat[T](out)
	for i, v := range staging {
		dst[i] = T(v)
	}
}
