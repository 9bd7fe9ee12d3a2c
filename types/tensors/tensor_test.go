package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/symtensor/symtensor/types/shapes"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, []float32{0, 0, 0, 0, 0, 0}, Flat[float32](tensor))

	require.Panics(t, func() { FromShape(shapes.Make(dtypes.Float32, shapes.UnknownDim)) })
	require.Panics(t, func() { FromShape(shapes.Invalid()) })
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.Equal(t, dtypes.Int32, tensor.DType())
	require.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	require.Panics(t, func() { FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) })
}

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.Equal(t, dtypes.Float64, tensor.DType())
	require.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6}, Flat[float64](tensor))

	// Go int maps to Int64.
	scalar := FromValue(7)
	require.Equal(t, dtypes.Int64, scalar.DType())
	require.True(t, scalar.IsScalar())
	require.Equal(t, int64(7), ToScalar[int64](scalar))

	// Already a tensor: passes through.
	require.Same(t, tensor, FromValue(tensor))

	require.Panics(t, func() { FromValue([][]int{{1, 2}, {3}}) })
	require.Panics(t, func() { FromValue("not a tensor") })
}

func TestValueRoundTrip(t *testing.T) {
	want := [][]int32{{1, 2}, {3, 4}, {5, 6}}
	got := FromValue(want).Value()
	require.Equal(t, want, got)

	require.Equal(t, float32(3.5), FromScalar(float32(3.5)).Value())
}

func TestCloneIsIndependent(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	clone := tensor.Clone()
	Flat[float32](clone)[0] = 100
	require.Equal(t, float32(1), Flat[float32](tensor)[0])
	require.Equal(t, float32(100), Flat[float32](clone)[0])
}

func TestFromScalarAndDimensions(t *testing.T) {
	tensor := FromScalarAndDimensions(int8(3), 2, 2)
	require.Equal(t, []int8{3, 3, 3, 3}, Flat[int8](tensor))
}

func TestEqual(t *testing.T) {
	a := FromValue([]float64{1, 2, 3})
	b := FromValue([]float64{1, 2, 3})
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(FromValue([]float64{1, 2, 4})))
	require.False(t, a.Equal(FromValue([]float32{1, 2, 3})))

	// IEEE: NaN != NaN.
	nan := FromValue([]float64{math.NaN()})
	require.False(t, nan.Equal(FromValue([]float64{math.NaN()})))
	require.False(t, nan.Equal(nan.Clone()))
}

func TestSignature(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	tests := []struct {
		name  string
		a, b  *Tensor
		equal bool
	}{
		{"same values", FromValue([]float64{1, 2, 3}), FromValue([]float64{1, 2, 3}), true},
		{"different values", FromValue([]float64{1, 2, 3}), FromValue([]float64{1, 2, 4}), false},
		{"same NaN bits", FromValue([]float64{nan, 1}), FromValue([]float64{nan, 1}), true},
		{"same Inf", FromValue([]float64{inf}), FromValue([]float64{inf}), true},
		{"signed zero", FromValue([]float64{0.0}), FromValue([]float64{math.Copysign(0, -1)}), false},
		{"different dims", FromValue([]float64{1, 2}), FromValue([][]float64{{1, 2}}), false},
		{"different dtype", FromValue([]float32{1, 2}), FromValue([]float64{1, 2}), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sigA, sigB := test.a.Signature(), test.b.Signature()
			if test.equal {
				assert.Equal(t, sigA, sigB)
				assert.True(t, BitEqual(test.a, test.b))
			} else {
				assert.NotEqual(t, sigA, sigB)
				assert.False(t, BitEqual(test.a, test.b))
			}
		})
	}
}

func TestString(t *testing.T) {
	require.Equal(t, "7", FromScalar(int32(7)).String())
	assert.Contains(t, FromValue([]int32{1, 2, 3}).String(), "(Int32)[3]")
	long := FromShape(shapes.Make(dtypes.Float32, 100))
	assert.Contains(t, long.String(), "...")
}
