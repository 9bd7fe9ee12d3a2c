// Package graph implements the symbolic computation graph: typed Variables
// connected by Apply nodes (one operation application each), assembled into
// FunctionGraphs for compilation.
//
// Variables are free-standing: they are created by NewInput, NewConstant,
// NewShared or as the outputs of ApplyOp, and only get tied to a
// FunctionGraph when one is built from (inputs, outputs) at compile time.
// Graph construction errors (shape or dtype mismatches, invalid op
// arguments) panic with exceptions.Panicf; compilation and execution errors
// are returned as errors by the backends and compile packages.
//
// The package also hosts the operations that carry nested sub-graphs
// (IfElse, ScalarLoop and OpFromGraph), since their descriptors are built
// from Variables.
package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// lastVariableID provides process-unique variable ids, which keep printing
// and traversal deterministic.
var lastVariableID atomic.Int64

// Variable is a typed node of the computation graph: either a root (free
// input, constant or shared parameter) or the output of exactly one Apply.
//
// Identity is pointer-based; structural equality across graphs is provided
// by EqualComputations.
type Variable struct {
	id          int64
	shape       shapes.Shape
	name        string
	owner       *Apply
	outputIndex int

	constValue *tensors.Tensor // Non-nil for constants.
	container  *Shared         // Non-nil for shared roots.
}

// NewInput creates a root Variable: a free input to be bound at compile
// time. The shape may contain unknown dimensions.
func NewInput(shape shapes.Shape, name string) *Variable {
	if !shape.Ok() {
		exceptions.Panicf("NewInput(%q): invalid shape", name)
	}
	return &Variable{id: lastVariableID.Add(1), shape: shape.Clone(), name: name}
}

// NewConstant creates a constant Variable owning the given value.
// The value must not be mutated afterwards.
func NewConstant(value *tensors.Tensor) *Variable {
	if value == nil {
		exceptions.Panicf("NewConstant: nil value")
	}
	return &Variable{id: lastVariableID.Add(1), shape: value.Shape(), constValue: value}
}

// NewConstantWithType creates a constant declared with the given (possibly
// partial) shape. The value's concrete shape must be consistent with every
// fixed dimension of the declared shape, or construction panics.
func NewConstantWithType(declared shapes.Shape, value *tensors.Tensor) *Variable {
	if value == nil {
		exceptions.Panicf("NewConstantWithType: nil value")
	}
	if !declared.Assignable(value.Shape()) {
		exceptions.Panicf("constant data shaped %s does not fit declared type %s", value.Shape(), declared)
	}
	return NewConstant(value)
}

// ConstantFromValue creates a constant from a Go scalar or nested slices.
func ConstantFromValue(value any) *Variable {
	return NewConstant(tensors.FromValue(value))
}

// ConstantOf creates a scalar constant of the given Go type.
func ConstantOf[T dtypes.Supported](value T) *Variable {
	return NewConstant(tensors.FromScalar(value))
}

// ID is the process-unique id of the variable.
func (v *Variable) ID() int64 { return v.id }

// Shape of the variable (a copy).
func (v *Variable) Shape() shapes.Shape { return v.shape.Clone() }

// DType of the variable.
func (v *Variable) DType() dtypes.DType { return v.shape.DType }

// Rank of the variable's shape.
func (v *Variable) Rank() int { return v.shape.Rank() }

// Name returns the variable's name, or "" if unnamed.
func (v *Variable) Name() string { return v.name }

// SetName names the variable and returns it, for chaining.
func (v *Variable) SetName(name string) *Variable {
	v.name = name
	return v
}

// Owner returns the Apply node producing this variable, or nil for roots.
func (v *Variable) Owner() *Apply { return v.owner }

// OutputIndex is this variable's position among its owner's outputs.
func (v *Variable) OutputIndex() int { return v.outputIndex }

// IsConstant returns whether this is a constant root.
func (v *Variable) IsConstant() bool { return v.constValue != nil }

// ConstValue returns the constant's value, or nil if not a constant.
// The returned tensor is owned by the constant and must not be mutated.
func (v *Variable) ConstValue() *tensors.Tensor { return v.constValue }

// IsShared returns whether this is the root of a shared container.
func (v *Variable) IsShared() bool { return v.container != nil }

// Container returns the shared container backing this root, or nil.
func (v *Variable) Container() *Shared { return v.container }

// Role classifies the variable.
func (v *Variable) Role() Role {
	switch {
	case v.owner != nil:
		return RoleDerived
	case v.constValue != nil:
		return RoleConstant
	case v.container != nil:
		return RoleShared
	default:
		return RoleInput
	}
}

// String implements fmt.Stringer: the name when set, otherwise a stable
// description derived from the role.
func (v *Variable) String() string {
	if v == nil {
		return "<nil>"
	}
	if v.name != "" {
		return v.name
	}
	switch v.Role() {
	case RoleConstant:
		return fmt.Sprintf("Const{%s}", v.constValue)
	case RoleDerived:
		return fmt.Sprintf("%s.%d", v.owner.Op.Kind(), v.id)
	case RoleShared:
		return fmt.Sprintf("shared.%d", v.id)
	default:
		return fmt.Sprintf("input.%d", v.id)
	}
}

// assertSameDType panics unless both variables share a dtype.
func assertSameDType(kind ops.Kind, x, y *Variable) {
	if x.shape.DType != y.shape.DType {
		exceptions.Panicf("op %q requires matching dtypes, got %s and %s (cast explicitly)",
			kind, x.shape.DType, y.shape.DType)
	}
}
