package vecgo

import (
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/backends"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/internal/kernels"
	"github.com/symtensor/symtensor/internal/workerspool"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// baseRegistry binds every built-in operation kind; each Backend instance
// starts from a clone of it.
var baseRegistry = backends.NewRegistry()

func init() {
	for _, kind := range ops.UnaryKinds() {
		baseRegistry.Register(kind, unaryFactory)
	}
	for _, kind := range ops.BinaryKinds() {
		baseRegistry.Register(kind, binaryFactory)
	}
	for _, kind := range ops.CompareKinds() {
		baseRegistry.Register(kind, compareFactory)
	}
	baseRegistry.Register(ops.KindCast, castFactory)

	baseRegistry.Register(ops.KindReshape, viewFactory)
	baseRegistry.Register(ops.KindTranspose, transposeFactory)
	baseRegistry.Register(ops.KindExpandDims, viewFactory)
	baseRegistry.Register(ops.KindSqueeze, viewFactory)
	baseRegistry.Register(ops.KindSlice, sliceFactory)
	baseRegistry.Register(ops.KindTake, takeFactory)
	baseRegistry.Register(ops.KindMakeVector, makeVectorFactory)
	baseRegistry.Register(ops.KindJoin, joinFactory)
	baseRegistry.Register(ops.KindSplit, splitFactory)
	baseRegistry.Register(ops.KindAlloc, allocFactory)
	baseRegistry.Register(ops.KindEmpty, emptyFactory)
	baseRegistry.Register(ops.KindARange, arangeFactory)
	baseRegistry.Register(ops.KindEye, eyeFactory)
	baseRegistry.Register(ops.KindShapeOf, shapeOfFactory)
	baseRegistry.Register(ops.KindDeepCopy, deepCopyFactory)

	baseRegistry.Register(ops.KindReduceSum, reduceFactory)
	baseRegistry.Register(ops.KindReduceMax, reduceFactory)
	baseRegistry.Register(ops.KindDot, dotFactory)
	baseRegistry.Register(ops.KindCheckAndRaise, checkAndRaiseFactory)

	backends.RegisterControlFlow(baseRegistry)
}

// Thunks size their outputs from the runtime input shapes, exactly like
// purego's, and draw them from the device pools. Recycled buffers hold stale
// data, so only kernels that overwrite every element may write into them;
// Empty is the one kind that allocates fresh.

// parallelRun splits the flat range [0, size) over the worker pool and keeps
// the first kernel error. The range kernels iterate their operands
// independently per chunk, so chunks never contend.
func parallelRun(workers *workerspool.Pool, size int, kernel func(start, end int) error) error {
	var mu sync.Mutex
	var firstErr error
	workers.ParallelFor(size, func(start, end int) {
		if err := kernel(start, end); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	})
	return firstErr
}

func unaryFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	b, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	kernel, err := kernels.UnaryFor(op.Kind(), node.Outputs[0].DType())
	if err != nil {
		return nil, err
	}
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		out := pools.get(in[0].Shape())
		if err := parallelRun(b.workers, out.Size(), func(start, end int) error {
			return kernel(out, in[0], start, end)
		}); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func binaryFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	b, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	kernel, err := kernels.BinaryFor(op.Kind(), node.Outputs[0].DType())
	if err != nil {
		return nil, err
	}
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		outShape, err := shapes.Broadcast(in[0].Shape(), in[1].Shape())
		if err != nil {
			return nil, err
		}
		out := pools.get(outShape)
		if err := parallelRun(b.workers, out.Size(), func(start, end int) error {
			return kernel(out, in[0], in[1], start, end)
		}); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func compareFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	b, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	kernel, err := kernels.CompareFor(op.Kind(), node.Inputs[0].DType())
	if err != nil {
		return nil, err
	}
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		outShape, err := shapes.Broadcast(in[0].Shape(), in[1].Shape())
		if err != nil {
			return nil, err
		}
		outShape.DType = dtypes.Bool
		out := pools.get(outShape)
		if err := parallelRun(b.workers, out.Size(), func(start, end int) error {
			return kernel(out, in[0], in[1], start, end)
		}); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func castFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	to := node.Outputs[0].DType()
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		out := pools.get(shapes.Make(to, in[0].Shape().Dimensions...))
		if err := kernels.CastInto(out, in[0]); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

// viewFactory serves reshape, expand_dims and squeeze: the output keeps the
// input's flat order, so one flat copy into a pooled buffer suffices.
func viewFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		outShapes, err := backends.RuntimeOutputShapes(op, in)
		if err != nil {
			return nil, err
		}
		out := pools.get(outShapes[0])
		kernels.CopyFlat(out, in[0], 0, 0, out.Size())
		return []*tensors.Tensor{out}, nil
	}, nil
}

func transposeFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	perm := op.(ops.Transpose).Perm
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		outShapes, err := backends.RuntimeOutputShapes(op, in)
		if err != nil {
			return nil, err
		}
		out := pools.get(outShapes[0])
		kernels.TransposeInto(out, in[0], perm)
		return []*tensors.Tensor{out}, nil
	}, nil
}

func sliceFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	sliceOp := op.(ops.Slice)
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		outShapes, err := backends.RuntimeOutputShapes(op, in)
		if err != nil {
			return nil, err
		}
		axis, err := kernels.NormalizeAxis(sliceOp.Axis, in[0].Rank())
		if err != nil {
			return nil, err
		}
		axisDim := in[0].Shape().Dimensions[axis]
		indices := kernels.SliceIndices(axisDim, sliceOp.Start, sliceOp.Stop, sliceOp.Step)
		out := pools.get(outShapes[0])
		if err := kernels.GatherAxis(out, in[0], axis, indices); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func takeFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	takeOp := op.(ops.Take)
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		outShapes, err := backends.RuntimeOutputShapes(op, in)
		if err != nil {
			return nil, err
		}
		axis, err := kernels.NormalizeAxis(takeOp.Axis, in[0].Rank())
		if err != nil {
			return nil, err
		}
		indices, err := kernels.IndexVector(in[1])
		if err != nil {
			return nil, err
		}
		out := pools.get(outShapes[0])
		if err := kernels.GatherAxis(out, in[0], axis, indices); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func makeVectorFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		outShapes, err := backends.RuntimeOutputShapes(op, in)
		if err != nil {
			return nil, err
		}
		out := pools.get(outShapes[0])
		kernels.MakeVectorInto(out, in)
		return []*tensors.Tensor{out}, nil
	}, nil
}

func joinFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	joinOp := op.(ops.Join)
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		axis, err := kernels.NormalizeAxis(joinOp.Axis, in[0].Rank())
		if err != nil {
			return nil, err
		}
		outShape, err := kernels.JoinShape(in, axis)
		if err != nil {
			return nil, err
		}
		out := pools.get(outShape)
		kernels.JoinInto(out, in, axis)
		return []*tensors.Tensor{out}, nil
	}, nil
}

func splitFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	splitOp := op.(ops.Split)
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		axis, err := kernels.NormalizeAxis(splitOp.Axis, in[0].Rank())
		if err != nil {
			return nil, err
		}
		sizes, err := kernels.IndexVector(in[1])
		if err != nil {
			return nil, err
		}
		if len(sizes) != splitOp.N {
			return nil, errors.Errorf("split into %d pieces got a sizes vector of length %d", splitOp.N, len(sizes))
		}
		axisDim := in[0].Shape().Dimensions[axis]
		if err := kernels.SplitSizes(axisDim, axis, sizes); err != nil {
			return nil, err
		}
		outs := make([]*tensors.Tensor, splitOp.N)
		for i, size := range sizes {
			shape := in[0].Shape()
			shape.Dimensions[axis] = int(size)
			outs[i] = pools.get(shape)
		}
		kernels.SplitInto(outs, in[0], axis)
		return outs, nil
	}, nil
}

func allocFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		dims, err := kernels.ReadDims("alloc", in[1:])
		if err != nil {
			return nil, err
		}
		out := pools.get(shapes.Make(in[0].DType(), dims...))
		if err := kernels.BroadcastTo(out, in[0]); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func emptyFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	dtype := op.(ops.Empty).DType
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		dims, err := kernels.ReadDims("empty", in)
		if err != nil {
			return nil, err
		}
		// Never pooled: recycled buffers hold stale data and the contract
		// here is zeroed contents.
		return []*tensors.Tensor{tensors.FromShape(shapes.Make(dtype, dims...))}, nil
	}, nil
}

func arangeFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	dtype := op.(ops.ARange).DType
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		start, err := kernels.AsFloat64(in[0])
		if err != nil {
			return nil, err
		}
		stop, err := kernels.AsFloat64(in[1])
		if err != nil {
			return nil, err
		}
		step, err := kernels.AsFloat64(in[2])
		if err != nil {
			return nil, err
		}
		n, err := kernels.ARangeCount(start, stop, step)
		if err != nil {
			return nil, err
		}
		out := pools.get(shapes.Make(dtype, n))
		if err := kernels.ARangeFill(out, in[0], in[2]); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func eyeFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	dtype := op.(ops.Eye).DType
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		dims, err := kernels.ReadDims("eye", in[:2])
		if err != nil {
			return nil, err
		}
		k, err := kernels.AsInt64(in[2])
		if err != nil {
			return nil, err
		}
		out := pools.get(shapes.Make(dtype, dims[0], dims[1]))
		if err := kernels.EyeFill(out, k); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func shapeOfFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		dims := in[0].Shape().Dimensions
		flat := make([]int64, len(dims))
		for i, d := range dims {
			flat[i] = int64(d)
		}
		return []*tensors.Tensor{tensors.FromFlatDataAndDimensions(flat, len(flat))}, nil
	}, nil
}

func deepCopyFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		out := pools.get(in[0].Shape())
		kernels.CopyFlat(out, in[0], 0, 0, out.Size())
		return []*tensors.Tensor{out}, nil
	}, nil
}

func reduceFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	var staticAxes []int
	switch o := op.(type) {
	case ops.ReduceSum:
		staticAxes = o.Axes
	case ops.ReduceMax:
		staticAxes = o.Axes
	default:
		return nil, errors.Errorf("kind %q carries a %T descriptor, want a reduction", op.Kind(), op)
	}
	kernel, err := kernels.ReduceFor(op.Kind(), node.Outputs[0].DType())
	if err != nil {
		return nil, err
	}
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		outShapes, err := backends.RuntimeOutputShapes(op, in)
		if err != nil {
			return nil, err
		}
		axes, err := ops.NormalizeReduceAxes(staticAxes, in[0].Rank())
		if err != nil {
			return nil, err
		}
		out := pools.get(outShapes[0])
		if err := kernel(out, in[0], axes); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func dotFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		outShapes, err := backends.RuntimeOutputShapes(op, in)
		if err != nil {
			return nil, err
		}
		out := pools.get(outShapes[0])
		if err := kernels.DotInto(out, in[0], in[1]); err != nil {
			return nil, err
		}
		return []*tensors.Tensor{out}, nil
	}, nil
}

func checkAndRaiseFactory(ctx *backends.LowerContext, op ops.Op, node *graph.Apply) (backends.Thunk, error) {
	_, pools, err := instance(ctx)
	if err != nil {
		return nil, err
	}
	checkOp := op.(ops.CheckAndRaise)
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		for i, cond := range in[1:] {
			ok, err := kernels.AsBool(cond)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errors.WithMessagef(checkOp.Err, "%s (condition %d)", checkOp.Msg, i)
			}
		}
		out := pools.get(in[0].Shape())
		kernels.CopyFlat(out, in[0], 0, 0, out.Size())
		return []*tensors.Tensor{out}, nil
	}, nil
}
