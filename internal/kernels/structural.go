package kernels

import (
	"math"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// axisBlocks decomposes dims around axis into the product of the leading
// dimensions, the axis dimension itself, and the product of the trailing
// dimensions. Blocks of inner elements are contiguous in flat storage.
func axisBlocks(dims []int, axis int) (outer, axisDim, inner int) {
	outer, inner = 1, 1
	for _, d := range dims[:axis] {
		outer *= d
	}
	for _, d := range dims[axis+1:] {
		inner *= d
	}
	return outer, dims[axis], inner
}

// BroadcastTo copies in into out, repeating elements along axes where in has
// dimension 1 or is missing (right-aligned). Both must share the dtype.
func BroadcastTo(out, in *tensors.Tensor) error {
	from, to := in.Shape(), out.Shape()
	if from.DType != to.DType {
		return errors.Errorf("cannot broadcast %s into %s: dtypes differ", from, to)
	}
	rank := to.Rank()
	shift := rank - from.Rank()
	if shift < 0 {
		return errors.Errorf("cannot broadcast shape %s to lower-rank %s", from, to)
	}
	srcStrides := make([]int, rank)
	stride := 1
	for axis := from.Rank() - 1; axis >= 0; axis-- {
		switch {
		case from.Dimensions[axis] == to.Dimensions[axis+shift]:
			srcStrides[axis+shift] = stride
		case from.Dimensions[axis] != 1:
			return errors.Errorf("cannot broadcast shape %s to %s", from, to)
		}
		stride *= from.Dimensions[axis]
	}
	copyStridedAnyDType(out, in, to.Dimensions, srcStrides)
	return nil
}

// TransposeInto permutes in's axes into out: out axis i takes in axis
// perm[i]. perm is validated at graph construction.
func TransposeInto(out, in *tensors.Tensor, perm []int) {
	inStrides := in.Shape().Strides()
	srcStrides := make([]int, len(perm))
	for outAxis, inAxis := range perm {
		srcStrides[outAxis] = inStrides[inAxis]
	}
	copyStridedAnyDType(out, in, out.Shape().Dimensions, srcStrides)
}

// GatherAxis copies in's slices selected by indices along axis into out, in
// index order. Negative indices count from the end; out-of-bounds indices
// are an error.
func GatherAxis(out, in *tensors.Tensor, axis int, indices []int64) error {
	dims := in.Shape().Dimensions
	outer, axisDim, inner := axisBlocks(dims, axis)
	norm := make([]int, len(indices))
	for j, idx := range indices {
		if idx < 0 {
			idx += int64(axisDim)
		}
		if idx < 0 || idx >= int64(axisDim) {
			return errors.Errorf("index %d out of bounds for axis %d with dimension %d", indices[j], axis, axisDim)
		}
		norm[j] = int(idx)
	}
	n := len(norm)
	for o := 0; o < outer; o++ {
		srcBase := o * axisDim * inner
		dstBase := o * n * inner
		for j, idx := range norm {
			flatCopy(out, in, dstBase+j*inner, srcBase+idx*inner, inner)
		}
	}
	return nil
}

// SliceIndices expands a strided half-open slice over an axis of the given
// dimension into explicit indices, with Python clamping rules: negative
// start/stop count from the end and out-of-range bounds are clamped.
func SliceIndices(axisDim, start, stop, step int) []int64 {
	if start < 0 {
		start += axisDim
	}
	start = min(max(start, 0), axisDim)
	if stop < 0 {
		stop += axisDim
	}
	stop = min(max(stop, 0), axisDim)
	var indices []int64
	for i := start; i < stop; i += step {
		indices = append(indices, int64(i))
	}
	return indices
}

// JoinShape validates the inputs of a concatenation along axis and returns
// the result shape. Inputs must agree on dtype, rank and every dimension
// except the join axis.
func JoinShape(ins []*tensors.Tensor, axis int) (shapes.Shape, error) {
	first := ins[0].Shape()
	dims := slices.Clone(first.Dimensions)
	for i, t := range ins[1:] {
		s := t.Shape()
		if s.DType != first.DType {
			return shapes.Invalid(), errors.Errorf("Join along axis %d: input %d has dtype %s, expected %s", axis, i+1, s.DType, first.DType)
		}
		if s.Rank() != first.Rank() {
			return shapes.Invalid(), errors.Errorf("Join along axis %d: input %d has rank %d, expected %d", axis, i+1, s.Rank(), first.Rank())
		}
		for a, d := range s.Dimensions {
			if a == axis {
				continue
			}
			if d != dims[a] {
				return shapes.Invalid(), errors.Errorf("Join along axis %d: input %d has shape %s, incompatible on axis %d with %s", axis, i+1, s, a, first)
			}
		}
		dims[axis] += s.Dimensions[axis]
	}
	return shapes.Make(first.DType, dims...), nil
}

// JoinInto concatenates ins along axis into out, whose shape must come from
// JoinShape.
func JoinInto(out *tensors.Tensor, ins []*tensors.Tensor, axis int) {
	dims := out.Shape().Dimensions
	outer, outAxisDim, inner := axisBlocks(dims, axis)
	dstAxisOff := 0
	for _, in := range ins {
		inAxisDim := in.Shape().Dim(axis)
		blockLen := inAxisDim * inner
		for o := 0; o < outer; o++ {
			flatCopy(out, in, (o*outAxisDim+dstAxisOff)*inner, o*blockLen, blockLen)
		}
		dstAxisOff += inAxisDim
	}
}

// SplitSizes validates the sizes of a split of an axis of the given
// dimension: sizes must be non-negative and sum to the dimension.
func SplitSizes(axisDim int, axis int, sizes []int64) error {
	total := int64(0)
	for _, size := range sizes {
		if size < 0 {
			return errors.Errorf("Split along axis %d: negative size %d", axis, size)
		}
		total += size
	}
	if total != int64(axisDim) {
		return errors.Errorf("Split along axis %d: sizes sum to %d, expected the axis dimension %d", axis, total, axisDim)
	}
	return nil
}

// SplitInto partitions in along axis into outs, whose axis dimensions give
// the split sizes. Inverse of JoinInto.
func SplitInto(outs []*tensors.Tensor, in *tensors.Tensor, axis int) {
	dims := in.Shape().Dimensions
	outer, inAxisDim, inner := axisBlocks(dims, axis)
	srcAxisOff := 0
	for _, out := range outs {
		outAxisDim := out.Shape().Dim(axis)
		blockLen := outAxisDim * inner
		for o := 0; o < outer; o++ {
			flatCopy(out, in, o*blockLen, (o*inAxisDim+srcAxisOff)*inner, blockLen)
		}
		srcAxisOff += outAxisDim
	}
}

// MakeVectorInto writes the scalar elems in order into the rank-1 out.
func MakeVectorInto(out *tensors.Tensor, elems []*tensors.Tensor) {
	for i, e := range elems {
		flatCopy(out, e, i, 0, 1)
	}
}

// ARangeCount returns the length ceil((stop-start)/step) of a half-open
// range, clamped at zero. A zero step is an error.
func ARangeCount(start, stop, step float64) (int, error) {
	if step == 0 {
		return 0, errors.New("ARange step must not be zero")
	}
	n := int(math.Ceil((stop - start) / step))
	if n < 0 {
		n = 0
	}
	return n, nil
}

// ARangeFill fills the rank-1 out with start, start+step, ... reading the
// scalar operands in the integer domain for integer outputs so large values
// stay exact.
func ARangeFill(out *tensors.Tensor, start, step *tensors.Tensor) error {
	if out.DType().IsFloat() {
		s, err := AsFloat64(start)
		if err != nil {
			return err
		}
		st, err := AsFloat64(step)
		if err != nil {
			return err
		}
		staging := make([]float64, out.Size())
		for i := range staging {
			staging[i] = s + float64(i)*st
		}
		return fillFromFloat64(out, staging)
	}
	s, err := AsInt64(start)
	if err != nil {
		return err
	}
	st, err := AsInt64(step)
	if err != nil {
		return err
	}
	staging := make([]int64, out.Size())
	for i := range staging {
		staging[i] = s + int64(i)*st
	}
	return fillFromInt64(out, staging)
}

// EyeFill fills the rank-2 out with ones on the k-th diagonal (k>0 above the
// main diagonal, k<0 below) and zeros elsewhere.
func EyeFill(out *tensors.Tensor, k int64) error {
	dims := out.Shape().Dimensions
	n, m := dims[0], dims[1]
	staging := make([]int64, n*m)
	for r := 0; r < n; r++ {
		c := r + int(k)
		if c >= 0 && c < m {
			staging[r*m+c] = 1
		}
	}
	return fillFromInt64(out, staging)
}

// copyStrided fills dst in flat order, reading src through per-axis strides
// over dst's dims. A zero stride repeats the source along that axis.
func copyStrided[T dtypes.Supported](dst, src []T, dims, srcStrides []int) {
	coords := make([]int, len(dims))
	srcIdx := 0
	for dstIdx := range dst {
		dst[dstIdx] = src[srcIdx]
		for axis := len(dims) - 1; axis >= 0; axis-- {
			coords[axis]++
			srcIdx += srcStrides[axis]
			if coords[axis] < dims[axis] {
				break
			}
			coords[axis] = 0
			srcIdx -= dims[axis] * srcStrides[axis]
		}
	}
}

func copyStridedAnyDType(out, in *tensors.Tensor, dims, srcStrides []int) {
	switch out.DType() {
	case dtypes.Bool:
		copyStrided(tensors.Flat[bool](out), tensors.Flat[bool](in), dims, srcStrides)
	case dtypes.Int8:
		copyStrided(tensors.Flat[int8](out), tensors.Flat[int8](in), dims, srcStrides)
	case dtypes.Int16:
		copyStrided(tensors.Flat[int16](out), tensors.Flat[int16](in), dims, srcStrides)
	case dtypes.Int32:
		copyStrided(tensors.Flat[int32](out), tensors.Flat[int32](in), dims, srcStrides)
	case dtypes.Int64:
		copyStrided(tensors.Flat[int64](out), tensors.Flat[int64](in), dims, srcStrides)
	case dtypes.Uint8:
		copyStrided(tensors.Flat[uint8](out), tensors.Flat[uint8](in), dims, srcStrides)
	case dtypes.Uint16:
		copyStrided(tensors.Flat[uint16](out), tensors.Flat[uint16](in), dims, srcStrides)
	case dtypes.Uint32:
		copyStrided(tensors.Flat[uint32](out), tensors.Flat[uint32](in), dims, srcStrides)
	case dtypes.Uint64:
		copyStrided(tensors.Flat[uint64](out), tensors.Flat[uint64](in), dims, srcStrides)
	case dtypes.Float16:
		copyStrided(tensors.Flat[float16.Float16](out), tensors.Flat[float16.Float16](in), dims, srcStrides)
	case dtypes.BFloat16:
		copyStrided(tensors.Flat[bfloat16.BFloat16](out), tensors.Flat[bfloat16.BFloat16](in), dims, srcStrides)
	case dtypes.Float32:
		copyStrided(tensors.Flat[float32](out), tensors.Flat[float32](in), dims, srcStrides)
	case dtypes.Float64:
		copyStrided(tensors.Flat[float64](out), tensors.Flat[float64](in), dims, srcStrides)
	}
}
