package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	require.True(t, s.Ok())
	require.Equal(t, 2, s.Rank())
	require.Equal(t, 6, s.Size())
	require.True(t, s.FullyDefined())
	require.Equal(t, "(Float32)[2 3]", s.String())

	s = Make(dtypes.Int64, UnknownDim)
	require.False(t, s.FullyDefined())
	require.Equal(t, UnknownDim, s.Size())
	require.Equal(t, "(Int64)[?]", s.String())

	// Zero-sized axes are valid, negative (other than UnknownDim) are not.
	require.NotPanics(t, func() { Make(dtypes.Float32, 0, 3) })
	require.Panics(t, func() { Make(dtypes.Float32, -2) })

	require.False(t, Shape{}.Ok())
	require.True(t, Scalar[float64]().IsScalar())
}

func TestDimAndAxis(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3, 5)
	require.Equal(t, 5, s.Dim(-1))
	require.Equal(t, 2, s.Dim(0))
	require.Equal(t, 1, s.Axis(-2))
	require.Panics(t, func() { s.Dim(3) })
	require.Panics(t, func() { s.Axis(-4) })
}

func TestEqualAndAssignable(t *testing.T) {
	a := Make(dtypes.Float32, 2, UnknownDim)
	b := Make(dtypes.Float32, 2, UnknownDim)
	c := Make(dtypes.Float32, 2, 3)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.True(t, a.EqualDimensions(Make(dtypes.Int32, 2, UnknownDim)))

	require.True(t, a.Assignable(c))
	require.False(t, a.Assignable(Make(dtypes.Float32, 3, 7)))
	require.False(t, a.Assignable(Make(dtypes.Float64, 2, 3)))
	require.False(t, a.Assignable(Make(dtypes.Float32, 2)))
	require.True(t, c.Assignable(c))
}

func TestMerge(t *testing.T) {
	merged, err := Merge(Make(dtypes.Float32, 2, UnknownDim), Make(dtypes.Float32, UnknownDim, 3))
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, merged.Dimensions)

	_, err = Merge(Make(dtypes.Float32, 2), Make(dtypes.Float32, 3))
	require.Error(t, err)
	_, err = Merge(Make(dtypes.Float32, 2), Make(dtypes.Float64, 2))
	require.Error(t, err)
	_, err = Merge(Make(dtypes.Float32, 2), Make(dtypes.Float32, 2, 2))
	require.Error(t, err)
}

func TestBroadcast(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Shape
		want    []int
		wantErr bool
	}{
		{"same", Make(dtypes.F32, 2, 3), Make(dtypes.F32, 2, 3), []int{2, 3}, false},
		{"stretch", Make(dtypes.F32, 7, 3, 1), Make(dtypes.F32, 5), []int{7, 3, 5}, false},
		{"scalar", Make(dtypes.F32), Make(dtypes.F32, 4), []int{4}, false},
		{"unknown vs 1", Make(dtypes.F32, UnknownDim), Make(dtypes.F32, 1), []int{UnknownDim}, false},
		{"unknown vs n", Make(dtypes.F32, UnknownDim), Make(dtypes.F32, 4), []int{4}, false},
		{"mismatch", Make(dtypes.F32, 2), Make(dtypes.F32, 3), nil, true},
		{"dtype mismatch", Make(dtypes.F32, 2), Make(dtypes.F64, 2), nil, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Broadcast(test.a, test.b)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got.Dimensions)
		})
	}

	// Broadcasting folds left to right over all shapes.
	got, err := Broadcast(Make(dtypes.F32, 5), Make(dtypes.F32, 7, 3, 1), Make(dtypes.F32))
	require.NoError(t, err)
	assert.Equal(t, []int{7, 3, 5}, got.Dimensions)
}

func TestIter(t *testing.T) {
	s := Make(dtypes.Int32, 2, 3)
	var got [][]int
	for indices := range s.Iter() {
		got = append(got, append([]int{}, indices...))
	}
	require.Equal(t, [][]int{
		{0, 0}, {0, 1}, {0, 2},
		{1, 0}, {1, 1}, {1, 2},
	}, got)

	// Scalars yield exactly one (empty) index.
	count := 0
	for range Scalar[float32]().Iter() {
		count++
	}
	require.Equal(t, 1, count)

	// Zero-sized and not-fully-defined shapes yield nothing.
	for range Make(dtypes.F32, 0, 2).Iter() {
		t.Fatal("zero-sized shape should not yield")
	}
	for range Make(dtypes.F32, UnknownDim).Iter() {
		t.Fatal("unknown shape should not yield")
	}
}

func TestStrides(t *testing.T) {
	require.Equal(t, []int{12, 4, 1}, Make(dtypes.F32, 2, 3, 4).Strides())
	require.Empty(t, Scalar[float32]().Strides())
}
