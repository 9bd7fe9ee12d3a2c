// Package shapes defines Shape, the static type of every value flowing
// through a computation graph: an element DType plus the dimension of each
// axis, where individual dimensions may still be unknown at graph-build time.
//
// A Shape with no unknown dimensions is "fully defined" and describes a
// concrete tensor. Shapes with unknown dimensions only appear on graph
// variables whose extent is decided at call time (e.g. the output of ARange).
//
// Glossary:
//   - Rank: number of axes of a tensor.
//   - Axis: the index of a dimension. Negative axes count from the end.
//   - Dimension: the size of one axis, or UnknownDim if not yet known.
//   - DType: the element type, enumerated in github.com/gomlx/gopjrt/dtypes.
//   - Scalar: rank-0, a single value of the DType.
//
// Example: `[][]int32{{0, 1, 2}, {3, 4, 5}}` has shape `(Int32)[2 3]`,
// created with `shapes.Make(dtypes.Int32, 2, 3)`. A vector of int32 whose
// length is only known at call time is `shapes.Make(dtypes.Int32, UnknownDim)`
// and prints as `(Int32)[?]`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gopjrt/dtypes"
)

// UnknownDim marks an axis whose dimension is not known at graph-build time.
// It only ever appears in graph variable shapes, never in concrete tensors.
const UnknownDim = -1

// Shape is the static type of a graph variable or a concrete tensor:
// element DType plus per-axis dimensions.
//
// Use Make to create one. Shape is a value type; Dimensions must not be
// mutated after construction (fixed dimensions are immutable).
type Shape struct {
	DType      DType
	Dimensions []int
}

// Make returns a Shape with the given element type and dimensions.
// Dimensions must be >= 0 or UnknownDim, anything else panics.
func Make(dtype DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 && dim != UnknownDim {
			exceptions.Panicf("shapes.Make(%s): dimensions must be >= 0 or UnknownDim, got %d", s, dim)
		}
	}
	return s
}

// Scalar returns the rank-0 Shape for the given Go type.
func Scalar[T Supported]() Shape {
	return Shape{DType: FromGenericsType[T]()}
}

// Invalid returns an invalid shape: Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: InvalidDType}
}

// Ok returns whether this is a valid Shape. The zero value Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape is rank-0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// FullyDefined returns whether every dimension is known.
func (s Shape) FullyDefined() bool {
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			return false
		}
	}
	return true
}

// Dim returns the dimension of the given axis. Negative axes count from the
// end, so Dim(-1) is the last axis. Panics on out-of-bounds axes.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// Axis normalizes a possibly-negative axis to [0, rank). Panics when out of
// bounds.
func (s Shape) Axis(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("Shape.Axis(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return adjusted
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements fmt.Stringer. Unknown dimensions print as "?".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprintf("%d", dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Size returns the number of elements the shape holds, the product of all
// dimensions. Returns UnknownDim if the shape is not fully defined.
func (s Shape) Size() int {
	size := 1
	for _, d := range s.Dimensions {
		if d == UnknownDim {
			return UnknownDim
		}
		size *= d
	}
	return size
}

// Memory returns the bytes needed to store a tensor of this shape.
// Only meaningful for fully defined shapes.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares dtype and dimensions exactly; unknown only equals unknown.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares dimensions only, ignoring dtype.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Assignable reports whether a concrete (fully defined) shape is a valid
// instance of this possibly-partial shape: same dtype, same rank, every
// known dimension agreeing. Unknown dimensions accept anything.
func (s Shape) Assignable(concrete Shape) bool {
	if s.DType != concrete.DType || s.Rank() != concrete.Rank() {
		return false
	}
	for axis, dim := range s.Dimensions {
		if dim != UnknownDim && dim != concrete.Dimensions[axis] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}
