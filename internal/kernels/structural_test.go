package kernels

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

func TestBroadcastTo(t *testing.T) {
	in := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3}, 3, 1)
	out := tensors.FromShape(shapes.Make(dtypes.Int32, 3, 2))
	require.NoError(t, BroadcastTo(out, in))
	assert.Equal(t, []int32{1, 1, 2, 2, 3, 3}, tensors.Flat[int32](out))

	// Missing leading axes broadcast too.
	vec := tensors.FromFlatDataAndDimensions([]int32{7, 8}, 2)
	out2 := tensors.FromShape(shapes.Make(dtypes.Int32, 2, 2))
	require.NoError(t, BroadcastTo(out2, vec))
	assert.Equal(t, []int32{7, 8, 7, 8}, tensors.Flat[int32](out2))

	bad := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3}, 3)
	out3 := tensors.FromShape(shapes.Make(dtypes.Int32, 4))
	require.Error(t, BroadcastTo(out3, bad))
}

func TestTransposeInto(t *testing.T) {
	in := tensors.FromFlatDataAndDimensions([]int64{1, 2, 3, 4, 5, 6}, 2, 3)
	out := tensors.FromShape(shapes.Make(dtypes.Int64, 3, 2))
	TransposeInto(out, in, []int{1, 0})
	assert.Equal(t, []int64{1, 4, 2, 5, 3, 6}, tensors.Flat[int64](out))

	in3 := tensors.FromFlatDataAndDimensions([]int64{0, 1, 2, 3, 4, 5, 6, 7}, 2, 2, 2)
	out3 := tensors.FromShape(shapes.Make(dtypes.Int64, 2, 2, 2))
	TransposeInto(out3, in3, []int{2, 0, 1})
	assert.Equal(t, []int64{0, 2, 4, 6, 1, 3, 5, 7}, tensors.Flat[int64](out3))
}

func TestGatherAxis(t *testing.T) {
	in := tensors.FromFlatDataAndDimensions([]int64{1, 2, 3, 4, 5, 6}, 2, 3)

	out := tensors.FromShape(shapes.Make(dtypes.Int64, 2, 2))
	require.NoError(t, GatherAxis(out, in, 1, []int64{2, 0}))
	assert.Equal(t, []int64{3, 1, 6, 4}, tensors.Flat[int64](out))

	// Negative indices count from the end.
	outNeg := tensors.FromShape(shapes.Make(dtypes.Int64, 1, 3))
	require.NoError(t, GatherAxis(outNeg, in, 0, []int64{-1}))
	assert.Equal(t, []int64{4, 5, 6}, tensors.Flat[int64](outNeg))

	err := GatherAxis(out, in, 1, []int64{3, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bounds")
}

func TestSliceIndices(t *testing.T) {
	assert.Equal(t, []int64{1, 3}, SliceIndices(5, 1, 5, 2))
	assert.Equal(t, []int64{0, 1, 2}, SliceIndices(3, 0, 100, 1))
	assert.Equal(t, []int64{3, 4}, SliceIndices(5, -2, 5, 1))
	assert.Empty(t, SliceIndices(5, 4, 2, 1))
}

func TestJoinAndSplit(t *testing.T) {
	a := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	b := tensors.FromFlatDataAndDimensions([]float32{5, 6}, 1, 2)

	shape, err := JoinShape([]*tensors.Tensor{a, b}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, shape.Dimensions)
	joined := tensors.FromShape(shape)
	JoinInto(joined, []*tensors.Tensor{a, b}, 0)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, tensors.Flat[float32](joined))

	// Round trip back through SplitInto.
	require.NoError(t, SplitSizes(3, 0, []int64{2, 1}))
	outA := tensors.FromShape(a.Shape())
	outB := tensors.FromShape(b.Shape())
	SplitInto([]*tensors.Tensor{outA, outB}, joined, 0)
	assert.Equal(t, tensors.Flat[float32](a), tensors.Flat[float32](outA))
	assert.Equal(t, tensors.Flat[float32](b), tensors.Flat[float32](outB))

	// Joining along the trailing axis interleaves blocks.
	c := tensors.FromFlatDataAndDimensions([]float32{7, 8}, 2, 1)
	shape, err = JoinShape([]*tensors.Tensor{a, c}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, shape.Dimensions)
	joined1 := tensors.FromShape(shape)
	JoinInto(joined1, []*tensors.Tensor{a, c}, 1)
	assert.Equal(t, []float32{1, 2, 7, 3, 4, 8}, tensors.Flat[float32](joined1))

	// Mismatched off-axis dimensions are rejected.
	_, err = JoinShape([]*tensors.Tensor{a, c}, 0)
	require.Error(t, err)

	// Sizes that do not sum to the axis dimension are rejected.
	err = SplitSizes(3, 0, []int64{2, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sizes sum to 4")
	require.Error(t, SplitSizes(3, 0, []int64{4, -1}))
}

func TestMakeVectorInto(t *testing.T) {
	out := tensors.FromShape(shapes.Make(dtypes.Int64, 3))
	MakeVectorInto(out, []*tensors.Tensor{
		tensors.FromScalar[int64](5),
		tensors.FromScalar[int64](6),
		tensors.FromScalar[int64](7),
	})
	assert.Equal(t, []int64{5, 6, 7}, tensors.Flat[int64](out))
}

func TestARange(t *testing.T) {
	n, err := ARangeCount(1, 10, 2)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	out := tensors.FromShape(shapes.Make(dtypes.Int64, n))
	require.NoError(t, ARangeFill(out, tensors.FromScalar[int64](1), tensors.FromScalar[int64](2)))
	assert.Equal(t, []int64{1, 3, 5, 7, 9}, tensors.Flat[int64](out))

	// Descending and empty ranges.
	n, err = ARangeCount(5, 0, -2)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	n, err = ARangeCount(3, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = ARangeCount(0, 10, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = ARangeCount(0, 10, 0)
	require.Error(t, err)

	// Fractional steps round the count up.
	n, err = ARangeCount(0, 1, 0.3)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	fout := tensors.FromShape(shapes.Make(dtypes.Float64, n))
	require.NoError(t, ARangeFill(fout, tensors.FromScalar(0.0), tensors.FromScalar(0.3)))
	got := tensors.Flat[float64](fout)
	assert.InDeltaSlice(t, []float64{0, 0.3, 0.6, 0.9}, got, 1e-12)
}

func TestEyeFill(t *testing.T) {
	out := tensors.FromShape(shapes.Make(dtypes.Float32, 3, 4))
	require.NoError(t, EyeFill(out, 0))
	assert.Equal(t, []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}, tensors.Flat[float32](out))

	require.NoError(t, EyeFill(out, 1))
	assert.Equal(t, []float32{
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}, tensors.Flat[float32](out))

	require.NoError(t, EyeFill(out, -2))
	assert.Equal(t, []float32{
		0, 0, 0, 0,
		0, 0, 0, 0,
		1, 0, 0, 0,
	}, tensors.Flat[float32](out))
}

func TestCast(t *testing.T) {
	f := tensors.FromFlatDataAndDimensions([]float64{2.7, -2.7, 0}, 3)
	i, err := Cast(f, dtypes.Int32)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, -2, 0}, tensors.Flat[int32](i))

	b, err := Cast(f, dtypes.Bool)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, tensors.Flat[bool](b))

	back, err := Cast(b, dtypes.Float32)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 0}, tensors.Flat[float32](back))

	// Same dtype casts copy.
	same, err := Cast(f, dtypes.Float64)
	require.NoError(t, err)
	assert.Equal(t, tensors.Flat[float64](f), tensors.Flat[float64](same))
	assert.NotSame(t, f, same)

	bf, err := Cast(f, dtypes.BFloat16)
	require.NoError(t, err)
	roundTrip, err := Cast(bf, dtypes.Float64)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.7, -2.7, 0}, tensors.Flat[float64](roundTrip), 0.05)
}

func TestScalarReaders(t *testing.T) {
	v, err := AsInt64(tensors.FromScalar[uint16](42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	f, err := AsFloat64(tensors.FromScalar[float32](1.5))
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)

	ok, err := AsBool(tensors.FromScalar(true))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = AsBool(tensors.FromScalar[int32](1))
	require.Error(t, err)
	_, err = AsInt64(tensors.FromFlatDataAndDimensions([]int64{1, 2}, 2))
	require.Error(t, err)

	idx, err := IndexVector(tensors.FromFlatDataAndDimensions([]int32{3, -1, 0}, 3))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, -1, 0}, idx)
	_, err = IndexVector(tensors.FromFlatDataAndDimensions([]float32{1}, 1))
	require.Error(t, err)
}
