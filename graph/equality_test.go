package graph

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

func TestEqualComputationsStructure(t *testing.T) {
	build := func() (*Variable, *Variable) {
		x := NewInput(shapes.Make(dtypes.Float32, 4), "x")
		return Add(Mul(x, x), ConstantOf(float32(1))), x
	}
	a, xa := build()
	b, xb := build()

	assert.True(t, EqualComputations([]*Variable{a}, []*Variable{b}, []*Variable{xa}, []*Variable{xb}))

	// Different operation.
	c := Sub(Mul(xa, xa), ConstantOf(float32(1)))
	assert.False(t, EqualComputations([]*Variable{a}, []*Variable{c}, []*Variable{xa}, []*Variable{xa}))

	// Different wiring: x*y vs y*x over two bound inputs.
	x1 := NewInput(shapes.Make(dtypes.Float32), "x")
	y1 := NewInput(shapes.Make(dtypes.Float32), "y")
	assert.False(t, EqualComputations(
		[]*Variable{Div(x1, y1)}, []*Variable{Div(y1, x1)},
		[]*Variable{x1, y1}, []*Variable{x1, y1}))

	// Length mismatches are never equal.
	assert.False(t, EqualComputations([]*Variable{a, a}, []*Variable{b}, []*Variable{xa}, []*Variable{xb}))
	assert.False(t, EqualComputations([]*Variable{a}, []*Variable{b}, []*Variable{xa, xa}, []*Variable{xb}))
}

func TestEqualComputationsConstants(t *testing.T) {
	eq := func(a, b *Variable) bool {
		return EqualComputations([]*Variable{a}, []*Variable{b}, nil, nil)
	}

	assert.True(t, eq(ConstantOf(float32(1)), ConstantOf(float32(1))))
	assert.False(t, eq(ConstantOf(float32(1)), ConstantOf(float32(2))))

	// Same number, different dtype: different signature.
	assert.False(t, eq(ConstantOf(float32(1)), ConstantOf(float64(1))))

	// Same flat data, different dimensions.
	assert.False(t, eq(
		NewConstant(tensors.FromValue([][]float32{{1, 2}})),
		NewConstant(tensors.FromValue([][]float32{{1}, {2}}))))

	// Constants compare by bits: equal NaNs and infinities match, signed
	// zeros do not.
	assert.True(t, eq(ConstantOf(math.NaN()), ConstantOf(math.NaN())))
	assert.True(t, eq(ConstantOf(math.Inf(1)), ConstantOf(math.Inf(1))))
	assert.False(t, eq(ConstantOf(math.Inf(1)), ConstantOf(math.Inf(-1))))
	assert.False(t, eq(ConstantOf(0.0), ConstantOf(math.Copysign(0, -1))))
}

func TestEqualComputationsBinding(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32), "x")
	y := NewInput(shapes.Make(dtypes.Float32), "y")

	// The same pointer bound at different positions is a different argument.
	assert.True(t, EqualComputations([]*Variable{x}, []*Variable{x}, []*Variable{x, y}, []*Variable{x, y}))
	assert.False(t, EqualComputations([]*Variable{x}, []*Variable{x}, []*Variable{x, y}, []*Variable{y, x}))

	// Position binding matches across distinct variables.
	assert.True(t, EqualComputations([]*Variable{x}, []*Variable{y}, []*Variable{x}, []*Variable{y}))

	// Distinct unbound free roots never match, even with equal shapes.
	assert.False(t, EqualComputations([]*Variable{x}, []*Variable{y}, nil, nil))
	assert.True(t, EqualComputations([]*Variable{x}, []*Variable{x}, nil, nil))
}

func TestEqualComputationsShared(t *testing.T) {
	s := NewShared(tensors.FromScalar(float32(1)), "state")
	other := NewShared(tensors.FromScalar(float32(1)), "state")
	x1 := NewInput(shapes.Make(dtypes.Float32), "x")
	x2 := NewInput(shapes.Make(dtypes.Float32), "x")

	// A shared container has one stable root: both sides reach the same
	// pointer, so reads of it match without binding.
	a := Add(x1, s.Variable())
	b := Add(x2, s.Variable())
	assert.True(t, EqualComputations([]*Variable{a}, []*Variable{b}, []*Variable{x1}, []*Variable{x2}))

	// A different container with the same name and value does not.
	c := Add(x2, other.Variable())
	assert.False(t, EqualComputations([]*Variable{a}, []*Variable{c}, []*Variable{x1}, []*Variable{x2}))
}

func TestEqualComputationsOutputIndex(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32, 6), "x")
	sizes := MakeVector(ConstantOf(int64(2)), ConstantOf(int64(4)))
	p1 := Split(x, sizes, 0)
	p2 := Split(x, sizes, 0)

	in := []*Variable{x}
	assert.True(t, EqualComputations([]*Variable{p1[0]}, []*Variable{p2[0]}, in, in))
	assert.True(t, EqualComputations([]*Variable{p1[1]}, []*Variable{p2[1]}, in, in))
	assert.False(t, EqualComputations([]*Variable{p1[0]}, []*Variable{p2[1]}, in, in))
}

func TestEqualComputationsDiamond(t *testing.T) {
	build := func() (*Variable, *Variable) {
		x := NewInput(shapes.Make(dtypes.Float32), "x")
		d := Mul(x, x)
		return Add(Add(d, d), Mul(d, d)), x
	}
	a, xa := build()
	b, xb := build()
	assert.True(t, EqualComputations([]*Variable{a}, []*Variable{b}, []*Variable{xa}, []*Variable{xb}))
}
