package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/xslices"
)

// Apply binds one operation to an ordered list of input Variables and owns
// the ordered list of output Variables it produces. Output variables
// back-reference their Apply through Owner.
type Apply struct {
	Op      ops.Op
	Inputs  []*Variable
	Outputs []*Variable
}

// ApplyOp applies an operation to the given inputs, running its shape
// inference, and returns the freshly created output Variables. Inference
// errors panic: applying an op with mismatched shapes or dtypes is a
// construction-time error.
//
// This is the extension point for operation kinds defined outside this
// module: any ops.Op can be applied.
func ApplyOp(op ops.Op, inputs ...*Variable) []*Variable {
	if op == nil {
		exceptions.Panicf("ApplyOp: nil op")
	}
	for i, in := range inputs {
		if in == nil {
			exceptions.Panicf("ApplyOp(%s): input %d is nil", op.Kind(), i)
		}
	}
	inputShapes := xslices.Map(inputs, func(v *Variable) shapes.Shape { return v.shape })
	outputShapes, err := op.OutputShapes(inputShapes)
	if err != nil {
		exceptions.Panicf("building op %q: %v", op.Kind(), err)
	}
	apply := &Apply{Op: op, Inputs: slices.Clone(inputs)}
	apply.Outputs = make([]*Variable, len(outputShapes))
	for i, shape := range outputShapes {
		apply.Outputs[i] = &Variable{
			id:          lastVariableID.Add(1),
			shape:       shape,
			owner:       apply,
			outputIndex: i,
		}
	}
	return apply.Outputs
}

// applyOp1 is ApplyOp for single-output ops.
func applyOp1(op ops.Op, inputs ...*Variable) *Variable {
	outputs := ApplyOp(op, inputs...)
	if len(outputs) != 1 {
		exceptions.Panicf("op %q produced %d outputs, expected 1", op.Kind(), len(outputs))
	}
	return outputs[0]
}

// String implements fmt.Stringer.
func (a *Apply) String() string {
	if a == nil {
		return "<nil>"
	}
	inputs := xslices.Map(a.Inputs, func(v *Variable) string { return v.String() })
	return fmt.Sprintf("%s(%s)", a.Op.Kind(), strings.Join(inputs, ", "))
}
