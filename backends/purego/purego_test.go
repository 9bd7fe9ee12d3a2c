package purego_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symtensor/symtensor/backends"
	"github.com/symtensor/symtensor/backends/purego"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

func TestNew(t *testing.T) {
	b, err := purego.New("")
	require.NoError(t, err)
	assert.Equal(t, "purego", b.Name())
	assert.Equal(t, 1, b.NumDevices())

	_, err = purego.New("devices=2")
	require.ErrorContains(t, err, `takes no configuration, got "devices=2"`)
}

func TestCompileAndRun(t *testing.T) {
	b, err := purego.New("")
	require.NoError(t, err)

	x := graph.NewInput(shapes.Make(dtypes.Float64, 3), "x")
	y := graph.Add(graph.Mul(x, x), graph.ConstantOf(1.0))
	fg := graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{y})

	_, err = b.Compile(fg, 1)
	require.ErrorContains(t, err, "single device, got device 1")

	exec, err := b.Compile(fg, 0)
	require.NoError(t, err)
	defer exec.Finalize()

	out, err := exec.Run([]*tensors.Tensor{tensors.FromFlatDataAndDimensions([]float64{1, 2, 3}, 3)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []float64{2, 5, 10}, tensors.Flat[float64](out[0]))
}

func TestRegistryIsPerInstance(t *testing.T) {
	a, err := purego.New("")
	require.NoError(t, err)
	b, err := purego.New("")
	require.NoError(t, err)

	kind := ops.Kind("purego_test_probe")
	a.(*purego.Backend).Registry().Register(kind,
		func(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
			return nil, nil
		})
	_, ok := a.(*purego.Backend).Registry().Get(kind)
	assert.True(t, ok)
	_, ok = b.(*purego.Backend).Registry().Get(kind)
	assert.False(t, ok, "instance registries must not share registrations")
}
