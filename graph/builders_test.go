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

func TestConstantDeclaredType(t *testing.T) {
	declared := shapes.Make(dtypes.Float32, shapes.UnknownDim, 2)
	c := NewConstantWithType(declared, tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2))
	assert.Equal(t, []int{2, 2}, c.Shape().Dimensions)
	assert.True(t, c.IsConstant())

	// Fixed dimensions and dtype of the declared type are binding.
	assert.Panics(t, func() {
		NewConstantWithType(declared, tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	})
	assert.Panics(t, func() {
		NewConstantWithType(declared, tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2))
	})
}

func TestLiteralDTypeAlignment(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32, 4), "x")

	// A scalar integer literal adopts the other side's dtype.
	y := Add(x, ConstantOf(int32(1)))
	assert.Equal(t, dtypes.Float32, y.DType())
	rhs := y.Owner().Inputs[1]
	require.True(t, rhs.IsConstant())
	assert.Equal(t, dtypes.Float32, rhs.DType())
	assert.Equal(t, float32(1), tensors.ToScalar[float32](rhs.ConstValue()))

	// Two literals: the integer one adopts the float one's dtype.
	z := Mul(ConstantOf(int64(2)), ConstantOf(float32(3)))
	assert.Equal(t, dtypes.Float32, z.DType())
	z = Mul(ConstantOf(float64(2)), ConstantOf(int8(3)))
	assert.Equal(t, dtypes.Float64, z.DType())

	// Non-literal mismatches must be cast explicitly.
	i := NewInput(shapes.Make(dtypes.Int32, 4), "i")
	require.Panics(t, func() { Add(x, i) })
	require.Panics(t, func() { Add(x, NewInput(shapes.Make(dtypes.Int32), "j")) })
	nonScalar := NewConstant(tensors.FromValue([]int32{1, 2}))
	require.Panics(t, func() { Add(x, nonScalar) })

	// Comparisons align the same way but produce Bool.
	lt := Lt(x, ConstantOf(int32(0)))
	assert.Equal(t, dtypes.Bool, lt.DType())
	assert.Equal(t, dtypes.Float32, lt.Owner().Inputs[1].DType())
}

func TestCastBuilder(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32, 2, 3), "x")

	// Same dtype is the identity, no node added.
	assert.Same(t, x, Cast(x, dtypes.Float32))

	y := Cast(x, dtypes.Int64)
	assert.Equal(t, ops.KindCast, y.Owner().Op.Kind())
	assert.Equal(t, dtypes.Int64, y.DType())
	assert.Equal(t, []int{2, 3}, y.Shape().Dimensions)
}

func TestStructuralBuilders(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32, 2, 6), "x")

	assert.Equal(t, []int{3, 4}, Reshape(x, 3, -1).Shape().Dimensions)
	assert.Equal(t, []int{12}, Reshape(x, 12).Shape().Dimensions)
	require.Panics(t, func() { Reshape(x, 5) })

	assert.Equal(t, []int{6, 2}, Transpose(x).Shape().Dimensions)
	assert.Equal(t, []int{6, 2}, Transpose(x, 1, 0).Shape().Dimensions)
	require.Panics(t, func() { Transpose(x, 0, 0) })

	assert.Equal(t, []int{2, 6, 1}, ExpandDims(x, -1).Shape().Dimensions)
	assert.Equal(t, []int{1, 2, 6}, ExpandDims(x, 0).Shape().Dimensions)
	assert.Equal(t, []int{2, 6}, Squeeze(ExpandDims(x, 0), 0).Shape().Dimensions)
	require.Panics(t, func() { Squeeze(x, 0) })

	assert.Equal(t, []int{2, 2}, SliceAxis(x, 1, 1, 3, 1).Shape().Dimensions)
	assert.Equal(t, []int{2, 3}, SliceAxis(x, 1, 0, 6, 2).Shape().Dimensions)

	idx := NewInput(shapes.Make(dtypes.Int64, 3), "idx")
	assert.Equal(t, []int{3, 6}, Take(x, idx, 0).Shape().Dimensions)
	assert.Equal(t, []int{2, 3}, Take(x, idx, 1).Shape().Dimensions)
}

func TestMakeVectorJoinSplit(t *testing.T) {
	a := NewInput(shapes.Make(dtypes.Int64), "a")
	v := MakeVector(a, ConstantOf(int64(2)), ConstantOf(int64(3)))
	assert.Equal(t, []int{3}, v.Shape().Dimensions)
	assert.Equal(t, dtypes.Int64, v.DType())
	require.Panics(t, func() { MakeVector() })

	x := NewInput(shapes.Make(dtypes.Float32, 2, 3), "x")
	y := NewInput(shapes.Make(dtypes.Float32, 4, 3), "y")
	assert.Equal(t, []int{6, 3}, Join(0, x, y).Shape().Dimensions)
	require.Panics(t, func() { Join(1, x, y) })

	// Split's piece count comes from the static length of the sizes vector.
	pieces := Split(x, MakeVector(ConstantOf(int64(1)), ConstantOf(int64(1))), 0)
	require.Len(t, pieces, 2)
	assert.Equal(t, shapes.UnknownDim, pieces[0].Shape().Dimensions[0])
	assert.Equal(t, 3, pieces[0].Shape().Dimensions[1])

	// An indeterminate sizes vector cannot be split over.
	stop := NewInput(shapes.Make(dtypes.Int64), "stop")
	runtimeSizes := ARange(dtypes.Int64, ConstantOf(int64(0)), stop, ConstantOf(int64(1)))
	require.Panics(t, func() { Split(x, runtimeSizes, 0) })
}

func TestRuntimeShapedBuilders(t *testing.T) {
	two := ConstantOf(int64(2))
	three := ConstantOf(int64(3))

	al := Alloc(ConstantOf(float32(7)), two, three)
	assert.Equal(t, dtypes.Float32, al.DType())
	assert.Equal(t, []int{shapes.UnknownDim, shapes.UnknownDim}, al.Shape().Dimensions)

	em := Empty(dtypes.Int32, two)
	assert.Equal(t, dtypes.Int32, em.DType())
	assert.Equal(t, 1, em.Rank())

	ar := ARange(dtypes.Float32, ConstantOf(int64(0)), ConstantOf(int64(10)), two)
	assert.Equal(t, []int{shapes.UnknownDim}, ar.Shape().Dimensions)

	eye := Eye(dtypes.Float64, three, three, ConstantOf(int64(0)))
	assert.Equal(t, 2, eye.Rank())

	// Dimension arguments must be integer scalars.
	require.Panics(t, func() { Empty(dtypes.Int32, ConstantOf(float32(2))) })
	require.Panics(t, func() { Alloc(ConstantOf(float32(7)), NewInput(shapes.Make(dtypes.Int64, 2), "dims")) })
}

func TestShapeOfFolding(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32, 2, 3), "x")
	s := ShapeOf(x)
	require.True(t, s.IsConstant())
	assert.Equal(t, []int64{2, 3}, tensors.Flat[int64](s.ConstValue()))

	// Unknown dimensions keep the shape a runtime value.
	p := NewInput(shapes.Make(dtypes.Float32, shapes.UnknownDim, 3), "p")
	sp := ShapeOf(p)
	require.False(t, sp.IsConstant())
	assert.Equal(t, ops.KindShapeOf, sp.Owner().Op.Kind())
	assert.Equal(t, []int{2}, sp.Shape().Dimensions)
	assert.Equal(t, dtypes.Int64, sp.DType())
}

func TestCopyBuilders(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32, 4), "x")

	d := DeepCopy(x)
	assert.Equal(t, ops.KindDeepCopy, d.Owner().Op.Kind())
	assert.True(t, d.Shape().Equal(x.Shape()))

	c := Copy(x, "snapshot")
	assert.Equal(t, "snapshot", c.Name())
	assert.Equal(t, ops.KindDeepCopy, c.Owner().Op.Kind())
}

func TestReduceAndDotBuilders(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32, 2, 3), "x")

	assert.Equal(t, 0, ReduceSum(x).Rank())
	assert.Equal(t, []int{3}, ReduceSum(x, 0).Shape().Dimensions)
	assert.Equal(t, []int{2}, ReduceMax(x, 1).Shape().Dimensions)
	assert.Equal(t, []int{2}, ReduceMax(x, -1).Shape().Dimensions)
	require.Panics(t, func() { ReduceSum(x, 2) })

	y := NewInput(shapes.Make(dtypes.Float32, 3, 4), "y")
	assert.Equal(t, []int{2, 4}, Dot(x, y).Shape().Dimensions)

	u := NewInput(shapes.Make(dtypes.Float32, 3), "u")
	assert.Equal(t, []int{2}, Dot(x, u).Shape().Dimensions)
	assert.Equal(t, 0, Dot(u, u).Rank())
	require.Panics(t, func() { Dot(x, NewInput(shapes.Make(dtypes.Float32, 4), "w")) })
}

func TestCheckAndRaiseBuilder(t *testing.T) {
	x := NewInput(shapes.Make(dtypes.Float32, 4), "x")
	cond := Gt(ReduceSum(x), ConstantOf(float32(0)))

	errBound := assert.AnError
	guarded := CheckAndRaise(x, errBound, "sum must be positive", cond)
	assert.True(t, guarded.Shape().Equal(x.Shape()))
	assert.Equal(t, ops.KindCheckAndRaise, guarded.Owner().Op.Kind())

	// Conditions must be Bool scalars.
	require.Panics(t, func() { CheckAndRaise(x, errBound, "msg", Gt(x, ConstantOf(float32(0)))) })
	require.Panics(t, func() { CheckAndRaise(x, errBound, "msg") })
}

func TestVectorLength(t *testing.T) {
	v := NewInput(shapes.Make(dtypes.Int64, 4), "v")
	n, err := VectorLength(v)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	mv := MakeVector(ConstantOf(int64(1)), ConstantOf(int64(2)), ConstantOf(int64(3)))
	n, err = VectorLength(mv)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// ARange over constant bounds folds to its static length.
	ar := ARange(dtypes.Int64, ConstantOf(int64(0)), ConstantOf(int64(10)), ConstantOf(int64(3)))
	n, err = VectorLength(ar)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Runtime bounds stay indeterminate.
	stop := NewInput(shapes.Make(dtypes.Int64), "stop")
	_, err = VectorLength(ARange(dtypes.Int64, ConstantOf(int64(0)), stop, ConstantOf(int64(1))))
	require.ErrorContains(t, err, "indeterminate length")

	_, err = VectorLength(NewInput(shapes.Make(dtypes.Float32, 2, 2), "m"))
	require.Error(t, err)
	_, err = VectorLength(nil)
	require.Error(t, err)
}
