package backends

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/internal/kernels"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// Control-flow lowering shared by the in-tree backends. The ops carrying
// sub-graphs (IfElse, ScalarLoop, OpFromGraph) compile their bodies through
// LowerContext.Subgraph and delegate element storage to the sub-executables,
// so the same factories serve any backend built on Program.

// RegisterControlFlow binds the ifelse, scalar_loop and op_from_graph kinds
// in reg.
func RegisterControlFlow(reg *Registry) {
	reg.Register(graph.KindIfElse, IfElseFactory)
	reg.Register(graph.KindScalarLoop, ScalarLoopFactory)
	reg.Register(graph.KindOpFromGraph, OpFromGraphFactory)
}

// IfElseFactory lowers a lazy conditional: both branches are compiled up
// front, exactly one runs per call. The thunk's inputs follow the IfElseOp
// layout [cond, trueCaptures..., falseCaptures...].
func IfElseFactory(ctx *LowerContext, op ops.Op, node *graph.Apply) (Thunk, error) {
	ifOp, ok := op.(*graph.IfElseOp)
	if !ok {
		return nil, errors.Errorf("ifelse kind carries a %T descriptor, want *graph.IfElseOp", op)
	}
	onTrue, err := ctx.Subgraph(ifOp.OnTrue())
	if err != nil {
		return nil, errors.WithMessage(err, "compiling true branch")
	}
	onFalse, err := ctx.Subgraph(ifOp.OnFalse())
	if err != nil {
		return nil, errors.WithMessage(err, "compiling false branch")
	}
	nTrue := ifOp.NumTrueCaptures()
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		cond, err := kernels.AsBool(in[0])
		if err != nil {
			return nil, err
		}
		if cond {
			return onTrue.Run(in[1 : 1+nTrue])
		}
		return onFalse.Run(in[1+nTrue:])
	}, nil
}

// OpFromGraphFactory lowers a packaged sub-graph to its own executable.
func OpFromGraphFactory(ctx *LowerContext, op ops.Op, node *graph.Apply) (Thunk, error) {
	ofg, ok := op.(*graph.OpFromGraph)
	if !ok {
		return nil, errors.Errorf("op_from_graph kind carries a %T descriptor, want *graph.OpFromGraph", op)
	}
	sub, err := ctx.Subgraph(ofg.Graph())
	if err != nil {
		return nil, errors.WithMessage(err, "compiling packaged graph")
	}
	return sub.Run, nil
}

// ScalarLoopFactory lowers a bounded recurrence. The body, built over scalar
// placeholders, is compiled once; at call time it is either iterated directly
// (all arguments scalar) or over broadcast-expanded carries, one independent
// loop per element, with finished elements frozen while the rest continue.
func ScalarLoopFactory(ctx *LowerContext, op ops.Op, node *graph.Apply) (Thunk, error) {
	loop, ok := op.(*graph.ScalarLoop)
	if !ok {
		return nil, errors.Errorf("scalar_loop kind carries a %T descriptor, want *graph.ScalarLoop", op)
	}
	body, err := ctx.Subgraph(loop.Body())
	if err != nil {
		return nil, errors.WithMessage(err, "compiling loop body")
	}
	nStates, hasUntil := loop.NumStates(), loop.HasUntil()
	return func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		budget, err := kernels.AsInt64(in[0])
		if err != nil {
			return nil, err
		}
		if budget < 0 {
			return nil, errors.Errorf("iteration budget is negative: %d", budget)
		}
		args := in[1:]
		dims, err := broadcastArgDims(args)
		if err != nil {
			return nil, err
		}
		if len(dims) == 0 {
			return runScalarLoop(body, budget, args, nStates, hasUntil)
		}
		return runBatchedLoop(body, budget, args, dims, nStates, hasUntil)
	}, nil
}

func broadcastArgDims(args []*tensors.Tensor) ([]int, error) {
	argShapes := make([]shapes.Shape, len(args))
	for i, arg := range args {
		argShapes[i] = arg.Shape()
	}
	dims, err := shapes.BroadcastDims(argShapes...)
	if err != nil {
		return nil, errors.WithMessage(err, "loop carries")
	}
	return dims, nil
}

// runScalarLoop iterates the body on scalar carries. Each iteration computes
// the next states and, when present, the predicate on the current states; a
// true predicate stops the loop without committing that iteration's updates.
func runScalarLoop(body Executable, budget int64, args []*tensors.Tensor, nStates int, hasUntil bool) ([]*tensors.Tensor, error) {
	states := slices.Clone(args[:nStates])
	consts := args[nStates:]
	done := false
	for iter := int64(0); iter < budget; iter++ {
		outs, err := body.Run(slices.Concat(states, consts))
		if err != nil {
			return nil, err
		}
		if hasUntil {
			stop, err := kernels.AsBool(outs[nStates])
			if err != nil {
				return nil, err
			}
			if stop {
				done = true
				break
			}
		}
		states = outs[:nStates]
	}
	results := make([]*tensors.Tensor, 0, nStates+1)
	for i, state := range states {
		if state == args[i] {
			// Zero committed iterations: don't alias the caller's input.
			state = state.Clone()
		}
		results = append(results, state)
	}
	if hasUntil {
		results = append(results, tensors.FromScalar(done))
	}
	return results, nil
}

// runBatchedLoop broadcasts every carry to the common dims and runs one
// logical loop per element through the scalar-built body, which the in-tree
// backends execute shape-polymorphically. Elements whose predicate held are
// frozen at their last committed state while the rest keep iterating; the
// loop exits early once every element is done.
func runBatchedLoop(body Executable, budget int64, args []*tensors.Tensor, dims []int, nStates int, hasUntil bool) ([]*tensors.Tensor, error) {
	expanded := make([]*tensors.Tensor, len(args))
	for i, arg := range args {
		full, err := expandTo(arg, dims)
		if err != nil {
			return nil, err
		}
		expanded[i] = full
	}
	states := expanded[:nStates]
	consts := expanded[nStates:]

	size := 1
	for _, d := range dims {
		size *= d
	}
	done := make([]bool, size)
	active := size
	for iter := int64(0); iter < budget && !(hasUntil && active == 0); iter++ {
		outs, err := body.Run(slices.Concat(states, consts))
		if err != nil {
			return nil, err
		}
		for i := range outs {
			// Constant-valued body outputs may come back scalar.
			if outs[i], err = expandTo(outs[i], dims); err != nil {
				return nil, err
			}
		}
		if !hasUntil {
			states = outs[:nStates]
			continue
		}
		stop := tensors.Flat[bool](outs[nStates])
		for i := 0; i < nStates; i++ {
			if err := kernels.FreezeMerge(outs[i], states[i], done); err != nil {
				return nil, err
			}
			// Elements stopping this iteration keep their pre-update state.
			if err := kernels.FreezeMerge(outs[i], states[i], stop); err != nil {
				return nil, err
			}
		}
		states = outs[:nStates]
		for i, s := range stop {
			if s && !done[i] {
				done[i] = true
				active--
			}
		}
	}
	results := make([]*tensors.Tensor, 0, nStates+1)
	for i, state := range states {
		if state == args[i] {
			// Zero committed iterations and no broadcast copy either:
			// don't alias the caller's input.
			state = state.Clone()
		}
		results = append(results, state)
	}
	if hasUntil {
		results = append(results, tensors.FromFlatDataAndDimensions(done, dims...))
	}
	return results, nil
}

// expandTo broadcasts t to the given dims, returning t itself when it is
// already that shape.
func expandTo(t *tensors.Tensor, dims []int) (*tensors.Tensor, error) {
	if slices.Equal(t.Shape().Dimensions, dims) {
		return t, nil
	}
	full := tensors.FromShape(shapes.Make(t.DType(), dims...))
	if err := kernels.BroadcastTo(full, t); err != nil {
		return nil, err
	}
	return full, nil
}
