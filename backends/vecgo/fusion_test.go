package vecgo

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/internal/kernels"
	"github.com/symtensor/symtensor/internal/workerspool"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

func TestPlanFusionChain(t *testing.T) {
	x := graph.NewInput(shapes.Make(dtypes.Float32, 64), "x")
	n := graph.Neg(x)
	e := graph.Exp(n)
	y := graph.Add(e, x)
	fg := graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{y})

	plan := planFusion(fg)
	assert.True(t, plan.interior.Has(n.Owner()))
	assert.True(t, plan.interior.Has(e.Owner()))
	assert.False(t, plan.interior.Has(y.Owner()))
	require.Len(t, plan.tails, 1)
	chain := plan.tails[y.Owner()]
	require.NotNil(t, chain)

	assert.Equal(t, "fused(neg exp add)", chain.desc())
	assert.Equal(t, dtypes.Float32, chain.dtype)

	// x serves both the head and the tail, deduped to one argument.
	require.Len(t, chain.args, 1)
	assert.Same(t, x, chain.args[0])

	require.Len(t, chain.steps, 3)
	assert.Equal(t, ops.KindNeg, chain.steps[0].kind)
	assert.Equal(t, 0, chain.steps[0].lhs)
	assert.Equal(t, chainValue, chain.steps[1].lhs)
	assert.Equal(t, chainValue, chain.steps[2].lhs)
	assert.Equal(t, 0, chain.steps[2].rhs)
}

func TestPlanFusionMultiReadValue(t *testing.T) {
	// d feeds two nodes, so it cannot be folded into a chain, but the run
	// downstream of it still fuses, with d as an outside argument.
	x := graph.NewInput(shapes.Make(dtypes.Float64, 8), "x")
	d := graph.Neg(x)
	e := graph.Exp(d)
	f := graph.Mul(d, e)
	fg := graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{f})

	plan := planFusion(fg)
	assert.False(t, plan.interior.Has(d.Owner()))
	assert.Nil(t, plan.tails[d.Owner()])
	assert.True(t, plan.interior.Has(e.Owner()))
	require.Len(t, plan.tails, 1)
	chain := plan.tails[f.Owner()]
	require.NotNil(t, chain)

	require.Len(t, chain.args, 1)
	assert.Same(t, d, chain.args[0])
	require.Len(t, chain.steps, 2)
	assert.Equal(t, ops.KindExp, chain.steps[0].kind)
	assert.Equal(t, 0, chain.steps[0].lhs)
	assert.Equal(t, ops.KindMul, chain.steps[1].kind)
	assert.Equal(t, 0, chain.steps[1].lhs)
	assert.Equal(t, chainValue, chain.steps[1].rhs)
}

func TestPlanFusionScalarOperand(t *testing.T) {
	x := graph.NewInput(shapes.Make(dtypes.Float32, 16), "x")
	n := graph.Neg(x)
	m := graph.Mul(n, graph.ConstantOf(float32(2)))
	fg := graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{m})

	plan := planFusion(fg)
	require.Len(t, plan.tails, 1)
	chain := plan.tails[m.Owner()]
	require.NotNil(t, chain)
	require.Len(t, chain.args, 2)
	assert.Same(t, x, chain.args[0])
	assert.Equal(t, 0, chain.args[1].Rank())
}

func TestPlanFusionBoundaries(t *testing.T) {
	vec := shapes.Make(dtypes.Float32, 64)

	testCases := []struct {
		name  string
		build func() *graph.FunctionGraph
	}{
		{"graph output ends the chain", func() *graph.FunctionGraph {
			x := graph.NewInput(vec, "x")
			n := graph.Neg(x)
			e := graph.Exp(n)
			return graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{n, e})
		}},
		{"operand shaped unlike the chain", func() *graph.FunctionGraph {
			x := graph.NewInput(vec, "x")
			y := graph.NewInput(shapes.Make(dtypes.Float32, 1), "y")
			n := graph.Neg(x)
			m := graph.Add(n, y)
			return graph.NewFunctionGraph([]*graph.Variable{x, y}, []*graph.Variable{m})
		}},
		{"comparisons do not fuse", func() *graph.FunctionGraph {
			x := graph.NewInput(vec, "x")
			n := graph.Neg(x)
			l := graph.Lt(n, x)
			return graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{l})
		}},
		{"casts do not fuse", func() *graph.FunctionGraph {
			x := graph.NewInput(vec, "x")
			c := graph.Cast(x, dtypes.Float64)
			e := graph.Exp(c)
			return graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{e})
		}},
		{"dynamic shapes are not planned", func() *graph.FunctionGraph {
			x := graph.NewInput(shapes.Make(dtypes.Float32, shapes.UnknownDim), "x")
			n := graph.Neg(x)
			e := graph.Exp(n)
			return graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{e})
		}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			plan := planFusion(testCase.build())
			assert.Empty(t, plan.tails)
			assert.Empty(t, plan.interior)
		})
	}
}

func TestBuildChainDedupesArguments(t *testing.T) {
	x := graph.NewInput(shapes.Make(dtypes.Float32, 8), "x")
	a := graph.Add(x, x)
	b := graph.Mul(a, x)
	fg := graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{b})

	plan := planFusion(fg)
	chain := plan.tails[b.Owner()]
	require.NotNil(t, chain)
	require.Len(t, chain.args, 1)
	require.Len(t, chain.steps, 2)
	assert.Equal(t, 0, chain.steps[0].lhs)
	assert.Equal(t, 0, chain.steps[0].rhs)
	assert.Equal(t, chainValue, chain.steps[1].lhs)
	assert.Equal(t, 0, chain.steps[1].rhs)
}

// resolveChain fills in the chain's kernels the way lower does, without a
// backend instance.
func resolveChain(t *testing.T, c *fusedChain) {
	t.Helper()
	for i := range c.steps {
		step := &c.steps[i]
		var err error
		if fusableUnary.Has(step.kind) {
			step.unary, err = kernels.UnaryFor(step.kind, c.dtype)
		} else {
			step.binary, err = kernels.BinaryFor(step.kind, c.dtype)
		}
		require.NoError(t, err)
	}
}

// chainOf plans fg and returns its single fused chain, kernels resolved.
func chainOf(t *testing.T, fg *graph.FunctionGraph, tail *graph.Variable) *fusedChain {
	t.Helper()
	plan := planFusion(fg)
	chain := plan.tails[tail.Owner()]
	require.NotNil(t, chain)
	resolveChain(t, chain)
	return chain
}

func TestFusedChainRunTiled(t *testing.T) {
	// More than two tiles, with a remainder tile at the end.
	const size = 2*fusionTileSize + 5
	x := graph.NewInput(shapes.Make(dtypes.Float64, size), "x")
	n := graph.Neg(x)
	m := graph.Mul(n, x)
	fg := graph.NewFunctionGraph([]*graph.Variable{x}, []*graph.Variable{m})
	chain := chainOf(t, fg, m)

	data := make([]float64, size)
	for i := range data {
		data[i] = float64(i%17) - 8
	}
	in := []*tensors.Tensor{tensors.FromFlatDataAndDimensions(data, size)}
	out, err := chain.run(in, newDevicePools(), workerspool.New())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []int{size}, out[0].Shape().Dimensions)

	want := make([]float64, size)
	for i, v := range data {
		want[i] = -v * v
	}
	assert.Equal(t, want, tensors.Flat[float64](out[0]))
	// The argument is the caller's, not the chain's to write.
	assert.Equal(t, float64(0%17)-8, data[0])
}

func TestFusedChainRunScalarPrefix(t *testing.T) {
	// Built over scalars, as loop bodies are; the leading link depends only
	// on c, so it is evaluated once, not per element.
	c := graph.NewInput(shapes.Make(dtypes.Float64), "c")
	x := graph.NewInput(shapes.Make(dtypes.Float64), "x")
	n := graph.Neg(c)
	m := graph.Mul(n, x)
	fg := graph.NewFunctionGraph([]*graph.Variable{c, x}, []*graph.Variable{m})
	chain := chainOf(t, fg, m)

	// Expanded input for x, scalar for c, the shapes a batched loop feeds.
	xData := []float64{1, 2, 3, 4}
	out, err := chain.run(
		[]*tensors.Tensor{tensors.FromScalar(3.0), tensors.FromFlatDataAndDimensions(xData, 4)},
		newDevicePools(), workerspool.New())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []float64{-3, -6, -9, -12}, tensors.Flat[float64](out[0]))

	// All scalars: the chain folds without touching the tiled path.
	out, err = chain.run(
		[]*tensors.Tensor{tensors.FromScalar(3.0), tensors.FromScalar(5.0)},
		newDevicePools(), workerspool.New())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Rank())
	assert.Equal(t, -15.0, tensors.ToScalar[float64](out[0]))
}

func TestFusedChainRunGeneral(t *testing.T) {
	// Planned for matching (2, 3) operands, fed broadcastable but unequal
	// concrete shapes: the tiled pass cannot line up the flat windows, so the
	// chain replays link by link.
	mat := shapes.Make(dtypes.Float64, 2, 3)
	x := graph.NewInput(mat, "x")
	y := graph.NewInput(mat, "y")
	n := graph.Neg(x)
	m := graph.Mul(n, y)
	fg := graph.NewFunctionGraph([]*graph.Variable{x, y}, []*graph.Variable{m})
	chain := chainOf(t, fg, m)

	out, err := chain.run(
		[]*tensors.Tensor{
			tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2, 1),
			tensors.FromFlatDataAndDimensions([]float64{10, 20, 30}, 3),
		},
		newDevicePools(), workerspool.New())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []int{2, 3}, out[0].Shape().Dimensions)
	assert.Equal(t, []float64{-10, -20, -30, -20, -40, -60}, tensors.Flat[float64](out[0]))

	// Incompatible shapes surface the error of the link they break at.
	_, err = chain.run(
		[]*tensors.Tensor{
			tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2),
			tensors.FromFlatDataAndDimensions([]float64{10, 20, 30}, 3),
		},
		newDevicePools(), workerspool.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot broadcast")
}

func TestDevicePools(t *testing.T) {
	dp := newDevicePools()
	vec := shapes.Make(dtypes.Float32, 8)

	a := dp.get(vec)
	require.Equal(t, []int{8}, a.Shape().Dimensions)
	flat := tensors.Flat[float32](a)
	for i := range flat {
		flat[i] = float32(i)
	}
	dp.Recycle(a)

	// Same element type and count: the buffer comes back, rewrapped to the
	// requested dimensions, contents stale.
	b := dp.get(shapes.Make(dtypes.Float32, 2, 4))
	require.Equal(t, []int{2, 4}, b.Shape().Dimensions)
	bFlat := tensors.Flat[float32](b)
	assert.True(t, &flat[0] == &bFlat[0], "recycled buffer should be reused")

	// Different size misses the pool.
	c := dp.get(shapes.Make(dtypes.Float32, 3))
	require.Equal(t, 3, c.Size())

	hits, misses, reused := dp.stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, int64(8*4), reused)
}
