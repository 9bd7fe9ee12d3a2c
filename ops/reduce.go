package ops

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/types/shapes"
)

// Reduction and contraction kinds.
const (
	KindReduceSum Kind = "reduce_sum"
	KindReduceMax Kind = "reduce_max"
	KindDot       Kind = "dot"
)

// ReduceSum sums over the given axes (all axes when empty). KeepDims keeps
// the reduced axes with dimension 1.
type ReduceSum struct {
	Axes     []int
	KeepDims bool
}

func (op ReduceSum) Kind() Kind { return KindReduceSum }

func (op ReduceSum) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	return reduceShape(KindReduceSum, op.Axes, op.KeepDims, inputs)
}

// ReduceMax takes the maximum over the given axes (all axes when empty).
type ReduceMax struct {
	Axes     []int
	KeepDims bool
}

func (op ReduceMax) Kind() Kind { return KindReduceMax }

func (op ReduceMax) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	return reduceShape(KindReduceMax, op.Axes, op.KeepDims, inputs)
}

// NormalizeReduceAxes resolves negative axes and defaults empty axes to all
// of them, returning a sorted, deduplicated list.
func NormalizeReduceAxes(axes []int, rank int) ([]int, error) {
	if len(axes) == 0 {
		all := make([]int, rank)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	normalized := make([]int, 0, len(axes))
	for _, axis := range axes {
		adjusted := axis
		if adjusted < 0 {
			adjusted += rank
		}
		if adjusted < 0 || adjusted >= rank {
			return nil, errors.Errorf("reduction axis %d out of range for rank %d", axis, rank)
		}
		normalized = append(normalized, adjusted)
	}
	slices.Sort(normalized)
	normalized = slices.Compact(normalized)
	return normalized, nil
}

func reduceShape(kind Kind, axes []int, keepDims bool, inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s takes 1 input, got %d", kind, len(inputs))
	}
	in := inputs[0]
	if err := checkDTypeClass(kind, in.DType, numberDType); err != nil {
		return nil, err
	}
	normalized, err := NormalizeReduceAxes(axes, in.Rank())
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", kind)
	}
	var dims []int
	for axis, dim := range in.Dimensions {
		if slices.Contains(normalized, axis) {
			if keepDims {
				dims = append(dims, 1)
			}
			continue
		}
		dims = append(dims, dim)
	}
	return []shapes.Shape{{DType: in.DType, Dimensions: dims}}, nil
}

// Dot is the vector/matrix product: vec·vec -> scalar, mat·vec -> vec,
// mat·mat -> mat. The contracted dimensions must agree (unknowns are checked
// at call time).
type Dot struct{}

func (op Dot) Kind() Kind { return KindDot }

func (op Dot) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("dot takes 2 inputs, got %d", len(inputs))
	}
	lhs, rhs := inputs[0], inputs[1]
	if lhs.DType != rhs.DType {
		return nil, errors.Errorf("dot inputs must share a dtype, got %s and %s", lhs.DType, rhs.DType)
	}
	if err := checkDTypeClass(KindDot, lhs.DType, numberDType); err != nil {
		return nil, err
	}
	compatible := func(a, b int) bool {
		return a == shapes.UnknownDim || b == shapes.UnknownDim || a == b
	}
	switch {
	case lhs.Rank() == 1 && rhs.Rank() == 1:
		if !compatible(lhs.Dimensions[0], rhs.Dimensions[0]) {
			return nil, errors.Errorf("dot of incompatible vectors %s and %s", lhs, rhs)
		}
		return []shapes.Shape{{DType: lhs.DType}}, nil
	case lhs.Rank() == 2 && rhs.Rank() == 1:
		if !compatible(lhs.Dimensions[1], rhs.Dimensions[0]) {
			return nil, errors.Errorf("dot of incompatible operands %s and %s", lhs, rhs)
		}
		return []shapes.Shape{{DType: lhs.DType, Dimensions: []int{lhs.Dimensions[0]}}}, nil
	case lhs.Rank() == 2 && rhs.Rank() == 2:
		if !compatible(lhs.Dimensions[1], rhs.Dimensions[0]) {
			return nil, errors.Errorf("dot of incompatible matrices %s and %s", lhs, rhs)
		}
		return []shapes.Shape{{DType: lhs.DType, Dimensions: []int{lhs.Dimensions[0], rhs.Dimensions[1]}}}, nil
	default:
		return nil, errors.Errorf("dot supports vec·vec, mat·vec and mat·mat, got ranks %d and %d",
			lhs.Rank(), rhs.Rank())
	}
}
