package graph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

func TestFunctionGraphBasics(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32, 2, 3), "x")
	s := NewShared(tensors.FromScalar(float32(2)), "scale")
	y := Add(Mul(x, s.Variable()), ConstantOf(float32(1)))

	fg := NewFunctionGraph([]*Variable{x}, []*Variable{y})

	// Declared inputs take the first slots.
	slot, ok := fg.SlotOf(x)
	require.True(t, ok)
	assert.Equal(t, 0, slot)

	require.Len(t, fg.Order(), 2)
	assert.Equal(t, ops.KindMul, fg.Order()[0].Op.Kind())
	assert.Equal(t, ops.KindAdd, fg.Order()[1].Op.Kind())

	// Roots: x (input), the shared's root, one constant. Plus two op outputs.
	assert.Equal(t, 5, fg.NumSlots())
	require.Len(t, fg.Shareds(), 1)
	assert.Same(t, s, fg.Shareds()[0])
	assert.Len(t, fg.Constants(), 1)
	assert.Empty(t, fg.FreeRoots())

	outSlot, ok := fg.SlotOf(y)
	require.True(t, ok)
	assert.Equal(t, 4, outSlot)
}

func TestFunctionGraphTopologicalOrder(t *testing.T) {
	// Diamond: d feeds both b and c, which feed a.
	x := NewInput(shapes.Make(dtypes.Float32), "x")
	d := Mul(x, x)
	b := Add(d, ConstantOf(float32(1)))
	c := Sub(d, ConstantOf(float32(1)))
	a := Mul(b, c)

	fg := NewFunctionGraph([]*Variable{x}, []*Variable{a})
	order := fg.Order()
	require.Len(t, order, 4)

	// Every node's inputs must already have slots assigned by the time the
	// node runs; replay the order and check.
	ready := map[*Variable]bool{x: true}
	for _, root := range fg.Constants() {
		ready[root] = true
	}
	for _, node := range order {
		for _, in := range node.Inputs {
			assert.True(t, ready[in], "node %s runs before its input %s", node, in)
		}
		for _, out := range node.Outputs {
			ready[out] = true
		}
	}
	assert.Same(t, a.Owner(), order[3])
}

func TestFunctionGraphRepeatedOutputs(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32), "x")
	y := Add(x, x)

	fg := NewFunctionGraph([]*Variable{x}, []*Variable{y, y, x})
	require.Len(t, fg.Outputs(), 3)
	assert.Same(t, fg.Outputs()[0], fg.Outputs()[1])

	// Repeats share a slot: the node list still holds a single Apply.
	assert.Len(t, fg.Order(), 1)
	s0, _ := fg.SlotOf(fg.Outputs()[0])
	s1, _ := fg.SlotOf(fg.Outputs()[1])
	assert.Equal(t, s0, s1)
}

func TestFunctionGraphFreeRoots(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32), "x")
	z := NewInput(shapes.Make(dtypes.Float32), "z")
	y := Add(x, z)

	// z is reachable but not declared: recorded as a free root, reported as
	// an error later by compile/backends.
	fg := NewFunctionGraph([]*Variable{x}, []*Variable{y})
	require.Len(t, fg.FreeRoots(), 1)
	assert.Same(t, z, fg.FreeRoots()[0])

	// Declaring it clears the free roots. Unused declared inputs are fine.
	unused := NewInput(shapes.Make(dtypes.Int32), "unused")
	fg = NewFunctionGraph([]*Variable{x, z, unused}, []*Variable{y})
	assert.Empty(t, fg.FreeRoots())
}

func TestFunctionGraphConstruction(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32), "x")
	y := Neg(x)

	require.Panics(t, func() { NewFunctionGraph([]*Variable{x}, nil) })
	require.Panics(t, func() { NewFunctionGraph([]*Variable{x, nil}, []*Variable{y}) })
	require.Panics(t, func() { NewFunctionGraph([]*Variable{x, x}, []*Variable{y}) })
	require.Panics(t, func() { NewFunctionGraph([]*Variable{x}, []*Variable{y, nil}) })
}

func TestVariableRoles(t *testing.T) {
	in := NewInput(shapes.Make(dtypes.Float32, 4), "in")
	c := ConstantOf(int32(7))
	s := NewShared(tensors.FromScalar(float32(0)), "state")
	derived := Neg(in)

	assert.Equal(t, RoleInput, in.Role())
	assert.Equal(t, RoleConstant, c.Role())
	assert.Equal(t, RoleShared, s.Variable().Role())
	assert.Equal(t, RoleDerived, derived.Role())

	assert.True(t, c.IsConstant())
	assert.False(t, in.IsConstant())
	assert.True(t, s.Variable().IsShared())
	assert.Same(t, s, s.Variable().Container())
	assert.Nil(t, in.Owner())
	assert.NotNil(t, derived.Owner())
}

func TestSharedContainer(t *testing.T) {
	s := NewShared(tensors.FromValue([]float32{1, 2, 3}), "weights")
	assert.Equal(t, "weights", s.Name())

	// The root variable is stable: every read sees the same node.
	assert.Same(t, s.Variable(), s.Variable())
	assert.Equal(t, dtypes.Float32, s.Variable().DType())
	assert.Equal(t, 1, s.Variable().Rank())

	// The container is typed by dtype and rank; dimensions may change.
	s.Set(tensors.FromValue([]float32{4, 5}))
	assert.Equal(t, []float32{4, 5}, tensors.Flat[float32](s.Get()))

	require.Panics(t, func() { s.Set(tensors.FromScalar(float32(1))) })
	require.Panics(t, func() { s.Set(tensors.FromValue([]int32{1, 2})) })
}
