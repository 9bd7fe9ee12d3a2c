package graph

import (
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/internal/kernels"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
)

// VectorLength returns the static length of a 1-D variable. Shape inference
// already pins the dimension for constants, MakeVector, ShapeOf and friends;
// on top of that an arange over constant bounds is folded here. Anything else
// with an unknown dimension fails with an "indeterminate length" error.
func VectorLength(v *Variable) (int, error) {
	if v == nil {
		return 0, errors.New("VectorLength: nil variable")
	}
	if v.Rank() != 1 {
		return 0, errors.Errorf("VectorLength: %s has rank %d, want a vector", v, v.Rank())
	}
	if dim := v.shape.Dimensions[0]; dim != shapes.UnknownDim {
		return dim, nil
	}
	if v.owner != nil {
		if _, ok := v.owner.Op.(ops.ARange); ok {
			if n, ok := arangeStaticLength(v.owner); ok {
				return n, nil
			}
		}
	}
	return 0, errors.Errorf("indeterminate length of vector %s", v)
}

// arangeStaticLength resolves the length of an arange whose three bounds are
// all constants.
func arangeStaticLength(apply *Apply) (int, bool) {
	var bounds [3]float64
	for i, in := range apply.Inputs {
		if !in.IsConstant() {
			return 0, false
		}
		f, err := kernels.AsFloat64(in.constValue)
		if err != nil {
			return 0, false
		}
		bounds[i] = f
	}
	n, err := kernels.ARangeCount(bounds[0], bounds[1], bounds[2])
	if err != nil {
		return 0, false
	}
	return n, true
}
