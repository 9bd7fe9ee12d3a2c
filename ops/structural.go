package ops

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/xslices"
)

// Structural operation kinds.
const (
	KindReshape    Kind = "reshape"
	KindTranspose  Kind = "transpose"
	KindExpandDims Kind = "expand_dims"
	KindSqueeze    Kind = "squeeze"
	KindSlice      Kind = "slice"
	KindTake       Kind = "take"
	KindMakeVector Kind = "make_vector"
	KindJoin       Kind = "join"
	KindSplit      Kind = "split"
	KindAlloc      Kind = "alloc"
	KindEmpty      Kind = "empty"
	KindARange     Kind = "arange"
	KindEye        Kind = "eye"
	KindShapeOf    Kind = "shape_of"
	KindDeepCopy   Kind = "deep_copy"
)

// Reshape reinterprets the input with the given dimensions. At most one
// dimension may be -1, inferred from the input size; the inference stays
// symbolic (unknown) when the input size isn't static.
type Reshape struct {
	Dims []int
}

func (op Reshape) Kind() Kind { return KindReshape }

func (op Reshape) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("reshape takes 1 input, got %d", len(inputs))
	}
	inferAxis := -1
	product := 1
	for axis, dim := range op.Dims {
		switch {
		case dim == -1:
			if inferAxis >= 0 {
				return nil, errors.Errorf("reshape allows at most one -1 dimension, got %v", op.Dims)
			}
			inferAxis = axis
		case dim < 0:
			return nil, errors.Errorf("reshape dimensions must be >= 0 or -1, got %v", op.Dims)
		default:
			product *= dim
		}
	}
	output := shapes.Shape{DType: inputs[0].DType, Dimensions: slices.Clone(op.Dims)}
	inSize := inputs[0].Size()
	if inferAxis >= 0 {
		if inSize == shapes.UnknownDim {
			output.Dimensions[inferAxis] = shapes.UnknownDim
		} else {
			if product == 0 || inSize%product != 0 {
				return nil, errors.Errorf("reshape cannot infer axis %d: input %s has %d elements, fixed dims %v",
					inferAxis, inputs[0], inSize, op.Dims)
			}
			output.Dimensions[inferAxis] = inSize / product
		}
	} else if inSize != shapes.UnknownDim && inSize != product {
		return nil, errors.Errorf("reshape to %v changes element count from %d to %d", op.Dims, inSize, product)
	}
	return []shapes.Shape{output}, nil
}

// Transpose permutes the axes of the input.
type Transpose struct {
	Perm []int
}

func (op Transpose) Kind() Kind { return KindTranspose }

func (op Transpose) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("transpose takes 1 input, got %d", len(inputs))
	}
	in := inputs[0]
	if len(op.Perm) != in.Rank() {
		return nil, errors.Errorf("transpose permutation %v does not match rank %d", op.Perm, in.Rank())
	}
	seen := make([]bool, in.Rank())
	dims := make([]int, in.Rank())
	for axis, src := range op.Perm {
		if src < 0 || src >= in.Rank() || seen[src] {
			return nil, errors.Errorf("transpose permutation %v is not a permutation of rank %d axes", op.Perm, in.Rank())
		}
		seen[src] = true
		dims[axis] = in.Dimensions[src]
	}
	return []shapes.Shape{{DType: in.DType, Dimensions: dims}}, nil
}

// ExpandDims inserts a size-1 axis at the given position (negative counts
// from the end, -1 appends).
type ExpandDims struct {
	Axis int
}

func (op ExpandDims) Kind() Kind { return KindExpandDims }

func (op ExpandDims) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("expand_dims takes 1 input, got %d", len(inputs))
	}
	in := inputs[0]
	axis := op.Axis
	if axis < 0 {
		axis += in.Rank() + 1
	}
	if axis < 0 || axis > in.Rank() {
		return nil, errors.Errorf("expand_dims axis %d out of range for rank %d", op.Axis, in.Rank())
	}
	dims := slices.Insert(slices.Clone(in.Dimensions), axis, 1)
	return []shapes.Shape{{DType: in.DType, Dimensions: dims}}, nil
}

// Squeeze removes a size-1 axis.
type Squeeze struct {
	Axis int
}

func (op Squeeze) Kind() Kind { return KindSqueeze }

func (op Squeeze) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("squeeze takes 1 input, got %d", len(inputs))
	}
	in := inputs[0]
	if in.Rank() == 0 {
		return nil, errors.New("squeeze requires rank >= 1")
	}
	axis := op.Axis
	if axis < 0 {
		axis += in.Rank()
	}
	if axis < 0 || axis >= in.Rank() {
		return nil, errors.Errorf("squeeze axis %d out of range for rank %d", op.Axis, in.Rank())
	}
	// Unknown axes are checked to be 1 at call time.
	if dim := in.Dimensions[axis]; dim != 1 && dim != shapes.UnknownDim {
		return nil, errors.Errorf("squeeze axis %d has dimension %d, must be 1", op.Axis, dim)
	}
	dims := slices.Delete(slices.Clone(in.Dimensions), axis, axis+1)
	return []shapes.Shape{{DType: in.DType, Dimensions: dims}}, nil
}

// Slice takes the half-open range [Start, Stop) with the given positive Step
// along one axis. Stop beyond the axis length clamps to it.
type Slice struct {
	Axis, Start, Stop, Step int
}

func (op Slice) Kind() Kind { return KindSlice }

func (op Slice) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("slice takes 1 input, got %d", len(inputs))
	}
	in := inputs[0]
	if in.Rank() == 0 {
		return nil, errors.New("slice requires rank >= 1")
	}
	if op.Step <= 0 {
		return nil, errors.Errorf("slice step must be positive, got %d", op.Step)
	}
	if op.Start < 0 || op.Stop < op.Start {
		return nil, errors.Errorf("slice range [%d, %d) is invalid", op.Start, op.Stop)
	}
	axis := op.Axis
	if axis < 0 {
		axis += in.Rank()
	}
	if axis < 0 || axis >= in.Rank() {
		return nil, errors.Errorf("slice axis %d out of range for rank %d", op.Axis, in.Rank())
	}
	dims := slices.Clone(in.Dimensions)
	if dims[axis] == shapes.UnknownDim {
		// Length depends on the runtime dimension (Stop clamps to it).
	} else {
		stop := min(op.Stop, dims[axis])
		if op.Start > dims[axis] {
			return nil, errors.Errorf("slice start %d beyond axis dimension %d", op.Start, dims[axis])
		}
		dims[axis] = ceilDiv(stop-op.Start, op.Step)
	}
	return []shapes.Shape{{DType: in.DType, Dimensions: dims}}, nil
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Take gathers rows along an axis: inputs (x, indices), where indices is an
// integer vector; the output replaces the axis dimension with the number of
// indices.
type Take struct {
	Axis int
}

func (op Take) Kind() Kind { return KindTake }

func (op Take) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("take takes 2 inputs (x, indices), got %d", len(inputs))
	}
	in, indices := inputs[0], inputs[1]
	if in.Rank() == 0 {
		return nil, errors.New("take requires rank >= 1")
	}
	if indices.Rank() != 1 || !indices.DType.IsInt() {
		return nil, errors.Errorf("take indices must be an integer vector, got %s", indices)
	}
	axis := op.Axis
	if axis < 0 {
		axis += in.Rank()
	}
	if axis < 0 || axis >= in.Rank() {
		return nil, errors.Errorf("take axis %d out of range for rank %d", op.Axis, in.Rank())
	}
	dims := slices.Clone(in.Dimensions)
	dims[axis] = indices.Dimensions[0]
	return []shapes.Shape{{DType: in.DType, Dimensions: dims}}, nil
}

// MakeVector assembles scalars into a vector of the given dtype.
type MakeVector struct {
	DType dtypes.DType
}

func (op MakeVector) Kind() Kind { return KindMakeVector }

func (op MakeVector) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) == 0 {
		return nil, errors.New("make_vector requires at least one input")
	}
	for i, in := range inputs {
		if !in.IsScalar() {
			return nil, errors.Errorf("make_vector input %d must be a scalar, got %s", i, in)
		}
		if in.DType != op.DType {
			return nil, errors.Errorf("make_vector input %d has dtype %s, want %s", i, in.DType, op.DType)
		}
	}
	return []shapes.Shape{shapes.Make(op.DType, len(inputs))}, nil
}

// Join concatenates same-rank tensors along an axis. Non-axis dimensions
// must agree; when they are unknown at construction the check moves to call
// time.
type Join struct {
	Axis int
}

func (op Join) Kind() Kind { return KindJoin }

func (op Join) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) == 0 {
		return nil, errors.New("join requires at least one input")
	}
	first := inputs[0]
	if first.Rank() == 0 {
		return nil, errors.New("join requires rank >= 1")
	}
	axis := op.Axis
	if axis < 0 {
		axis += first.Rank()
	}
	if axis < 0 || axis >= first.Rank() {
		return nil, errors.Errorf("join axis %d out of range for rank %d", op.Axis, first.Rank())
	}
	dims := slices.Clone(first.Dimensions)
	for i, in := range inputs[1:] {
		if in.DType != first.DType {
			return nil, errors.Errorf("join input %d has dtype %s, want %s", i+1, in.DType, first.DType)
		}
		if in.Rank() != first.Rank() {
			return nil, errors.Errorf("join input %d has rank %d, want %d", i+1, in.Rank(), first.Rank())
		}
		for a := 0; a < first.Rank(); a++ {
			if a == axis {
				if dims[a] == shapes.UnknownDim || in.Dimensions[a] == shapes.UnknownDim {
					dims[a] = shapes.UnknownDim
				} else {
					dims[a] += in.Dimensions[a]
				}
				continue
			}
			switch {
			case dims[a] == shapes.UnknownDim:
				dims[a] = in.Dimensions[a]
			case in.Dimensions[a] == shapes.UnknownDim || in.Dimensions[a] == dims[a]:
				// Compatible; unknowns are re-checked at call time.
			default:
				return nil, errors.Errorf("join input %d disagrees on axis %d: %d vs %d",
					i+1, a, in.Dimensions[a], dims[a])
			}
		}
	}
	return []shapes.Shape{{DType: first.DType, Dimensions: dims}}, nil
}

// Split partitions a tensor along an axis into N pieces whose sizes come
// from a runtime integer vector summing to the axis dimension. Inputs
// (x, sizes); N outputs.
type Split struct {
	Axis, N int
}

func (op Split) Kind() Kind { return KindSplit }

func (op Split) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("split takes 2 inputs (x, sizes), got %d", len(inputs))
	}
	in, sizes := inputs[0], inputs[1]
	if op.N <= 0 {
		return nil, errors.Errorf("split requires N > 0, got %d", op.N)
	}
	if in.Rank() == 0 {
		return nil, errors.New("split requires rank >= 1")
	}
	if sizes.Rank() != 1 || !sizes.DType.IsInt() {
		return nil, errors.Errorf("split sizes must be an integer vector, got %s", sizes)
	}
	if n := sizes.Dimensions[0]; n != shapes.UnknownDim && n != op.N {
		return nil, errors.Errorf("split into %d pieces got a sizes vector of length %d", op.N, n)
	}
	axis := op.Axis
	if axis < 0 {
		axis += in.Rank()
	}
	if axis < 0 || axis >= in.Rank() {
		return nil, errors.Errorf("split axis %d out of range for rank %d", op.Axis, in.Rank())
	}
	outputs := make([]shapes.Shape, op.N)
	for i := range outputs {
		dims := slices.Clone(in.Dimensions)
		dims[axis] = shapes.UnknownDim // Piece sizes are runtime values.
		outputs[i] = shapes.Shape{DType: in.DType, Dimensions: dims}
	}
	return outputs, nil
}

// Alloc broadcasts a fill value into a tensor of a runtime shape: inputs
// (value, d0, d1, ... dk-1) with integer scalar dimensions.
type Alloc struct{}

func (op Alloc) Kind() Kind { return KindAlloc }

func (op Alloc) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) == 0 {
		return nil, errors.New("alloc requires a fill value input")
	}
	if err := checkDimInputs("alloc", inputs[1:]); err != nil {
		return nil, err
	}
	rank := len(inputs) - 1
	if inputs[0].Rank() > rank {
		return nil, errors.Errorf("alloc fill value of rank %d cannot broadcast into rank %d", inputs[0].Rank(), rank)
	}
	dims := make([]int, rank)
	xslices.Fill(dims, shapes.UnknownDim)
	return []shapes.Shape{{DType: inputs[0].DType, Dimensions: dims}}, nil
}

// Empty commits only dtype and a runtime shape; contents are unspecified.
// Inputs are integer scalar dimensions.
type Empty struct {
	DType dtypes.DType
}

func (op Empty) Kind() Kind { return KindEmpty }

func (op Empty) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if err := checkDimInputs("empty", inputs); err != nil {
		return nil, err
	}
	dims := make([]int, len(inputs))
	xslices.Fill(dims, shapes.UnknownDim)
	return []shapes.Shape{{DType: op.DType, Dimensions: dims}}, nil
}

func checkDimInputs(kind string, inputs []shapes.Shape) error {
	for i, in := range inputs {
		if !in.IsScalar() || !in.DType.IsInt() {
			return errors.Errorf("%s dimension input %d must be an integer scalar, got %s", kind, i, in)
		}
	}
	return nil
}

// ARange produces [start, stop) with the given step, all runtime scalars:
// length max(0, ceil((stop-start)/step)).
type ARange struct {
	DType dtypes.DType
}

func (op ARange) Kind() Kind { return KindARange }

func (op ARange) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 3 {
		return nil, errors.Errorf("arange takes 3 inputs (start, stop, step), got %d", len(inputs))
	}
	for i, in := range inputs {
		if !in.IsScalar() {
			return nil, errors.Errorf("arange input %d must be a scalar, got %s", i, in)
		}
		if in.DType == dtypes.Bool {
			return nil, errors.Errorf("arange input %d must be numeric, got %s", i, in)
		}
	}
	return []shapes.Shape{shapes.Make(op.DType, shapes.UnknownDim)}, nil
}

// Eye produces an n x m matrix with ones on the k-th diagonal; n, m, k are
// runtime integer scalars.
type Eye struct {
	DType dtypes.DType
}

func (op Eye) Kind() Kind { return KindEye }

func (op Eye) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 3 {
		return nil, errors.Errorf("eye takes 3 inputs (n, m, k), got %d", len(inputs))
	}
	if err := checkDimInputs("eye", inputs[:2]); err != nil {
		return nil, err
	}
	if !inputs[2].IsScalar() || !inputs[2].DType.IsInt() {
		return nil, errors.Errorf("eye diagonal offset must be an integer scalar, got %s", inputs[2])
	}
	return []shapes.Shape{shapes.Make(op.DType, shapes.UnknownDim, shapes.UnknownDim)}, nil
}

// ShapeOf returns the runtime shape of its input as an Int64 vector of
// length rank. Fully static shapes are folded to constants by the graph
// builder, so backends only see the dynamic case.
type ShapeOf struct{}

func (op ShapeOf) Kind() Kind { return KindShapeOf }

func (op ShapeOf) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("shape_of takes 1 input, got %d", len(inputs))
	}
	return []shapes.Shape{shapes.Make(dtypes.Int64, inputs[0].Rank())}, nil
}

// DeepCopy produces an independent copy of its input.
type DeepCopy struct{}

func (op DeepCopy) Kind() Kind { return KindDeepCopy }

func (op DeepCopy) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("deep_copy takes 1 input, got %d", len(inputs))
	}
	return []shapes.Shape{inputs[0].Clone()}, nil
}
