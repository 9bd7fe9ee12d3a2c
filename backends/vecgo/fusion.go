package vecgo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/backends"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/internal/kernels"
	"github.com/symtensor/symtensor/internal/workerspool"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// fusionTileSize is the number of elements staged per tile: small enough to
// stay cache-resident, large enough to amortize the per-tile kernel calls.
const fusionTileSize = 4096

var (
	fusableUnary  = types.SetWith(ops.UnaryKinds()...)
	fusableBinary = types.SetWith(ops.BinaryKinds()...)
)

// fusionPlan marks the nodes folded into element-wise chains: interior nodes
// emit no step of their own, tail nodes emit their whole chain as one fused
// step.
type fusionPlan struct {
	interior types.Set[*graph.Apply]
	tails    map[*graph.Apply]*fusedChain
}

// planFusion finds maximal runs of element-wise nodes where each link's
// output feeds only the next link. Interior outputs are then invisible
// outside the chain, which is what lets the fused step skip materializing
// them: they cannot be graph outputs and no other node reads them.
//
// Comparisons and casts never join a chain (they change dtype), and a link's
// static shape must match the chain's, with any outside operand a scalar or
// the chain shape. Those are planning heuristics, not semantics: the fused
// step re-checks the concrete shapes on every call and falls back to
// step-by-step evaluation when they differ, as they do when the batched loop
// feeds a scalar-built body expanded tensors.
func planFusion(fg *graph.FunctionGraph) *fusionPlan {
	// firstReader and multiRead classify each value by its distinct reading
	// nodes; a node listing the same value twice (x*x) counts once.
	firstReader := make(map[*graph.Variable]*graph.Apply)
	multiRead := types.MakeSet[*graph.Variable]()
	for _, node := range fg.Order() {
		for i, in := range node.Inputs {
			if slices.Index(node.Inputs[:i], in) >= 0 {
				continue
			}
			if prev, ok := firstReader[in]; ok && prev != node {
				multiRead.Insert(in)
			} else {
				firstReader[in] = node
			}
		}
	}
	isOutput := types.SetWith(fg.Outputs()...)

	plan := &fusionPlan{
		interior: types.MakeSet[*graph.Apply](),
		tails:    make(map[*graph.Apply]*fusedChain),
	}
	claimed := types.MakeSet[*graph.Apply]()
	for _, node := range fg.Order() {
		if claimed.Has(node) || !fusable(node) {
			continue
		}
		chainShape := node.Outputs[0].Shape()
		if !chainShape.FullyDefined() {
			continue
		}
		members := []*graph.Apply{node}
		cur := node
		for {
			out := cur.Outputs[0]
			if isOutput.Has(out) || multiRead.Has(out) {
				break
			}
			next := firstReader[out]
			if next == nil || claimed.Has(next) || !fusable(next) ||
				!next.Outputs[0].Shape().Equal(chainShape) ||
				!operandsFit(next, out, chainShape) {
				break
			}
			members = append(members, next)
			cur = next
		}
		if len(members) < 2 {
			continue
		}
		claimed.Insert(members...)
		plan.interior.Insert(members[:len(members)-1]...)
		plan.tails[members[len(members)-1]] = buildChain(members, chainShape.DType)
	}
	return plan
}

func fusable(node *graph.Apply) bool {
	kind := node.Op.Kind()
	return fusableUnary.Has(kind) || fusableBinary.Has(kind)
}

// operandsFit reports whether next's inputs besides the chain value work as
// fused arguments: statically a scalar or exactly the chain shape. Anything
// else would reintroduce broadcasting inside the chain.
func operandsFit(next *graph.Apply, chainVal *graph.Variable, chainShape shapes.Shape) bool {
	for _, in := range next.Inputs {
		if in == chainVal || in.Rank() == 0 || in.Shape().Equal(chainShape) {
			continue
		}
		return false
	}
	return true
}

// chainValue marks an operand that is the previous link's result rather than
// one of the fused step's arguments.
const chainValue = -1

// chainStep is one link: lhs and rhs index the chain's deduped arguments or
// are chainValue. Exactly one of unary and binary is resolved at lower time;
// rhs is meaningless for unary links.
type chainStep struct {
	kind   ops.Kind
	lhs    int
	rhs    int
	unary  kernels.UnaryKernel
	binary kernels.BinaryKernel
}

// fusedChain is a run of element-wise nodes executed as one step: a single
// pass over the output, tile by tile, with no full-size intermediates.
type fusedChain struct {
	steps []chainStep
	args  []*graph.Variable // deduped outside arguments, in first-use order
	dtype dtypes.DType
}

// buildChain assembles the step list for members, mapping each input either
// to the previous link's output or to a deduped argument. Inputs of interior
// links are never outputs of non-adjacent links: planFusion only chains
// through single-reader values.
func buildChain(members []*graph.Apply, dtype dtypes.DType) *fusedChain {
	chain := &fusedChain{dtype: dtype}
	argIndex := make(map[*graph.Variable]int)
	arg := func(v *graph.Variable) int {
		if idx, ok := argIndex[v]; ok {
			return idx
		}
		idx := len(chain.args)
		argIndex[v] = idx
		chain.args = append(chain.args, v)
		return idx
	}
	for i, node := range members {
		var prev *graph.Variable
		if i > 0 {
			prev = members[i-1].Outputs[0]
		}
		operand := func(v *graph.Variable) int {
			if v == prev {
				return chainValue
			}
			return arg(v)
		}
		step := chainStep{kind: node.Op.Kind(), lhs: operand(node.Inputs[0])}
		if len(node.Inputs) == 2 {
			step.rhs = operand(node.Inputs[1])
		}
		chain.steps = append(chain.steps, step)
	}
	return chain
}

// desc names the fused step for call-time error wrapping.
func (c *fusedChain) desc() string {
	kinds := make([]string, len(c.steps))
	for i, s := range c.steps {
		kinds[i] = string(s.kind)
	}
	return fmt.Sprintf("fused(%s)", strings.Join(kinds, " "))
}

// lower resolves the chain's kernels and wires its arguments to arena slots.
func (c *fusedChain) lower(b *Backend, ctx *backends.LowerContext, p *backends.Program) (backends.Thunk, []int, error) {
	for i := range c.steps {
		step := &c.steps[i]
		var err error
		if fusableUnary.Has(step.kind) {
			step.unary, err = kernels.UnaryFor(step.kind, c.dtype)
		} else {
			step.binary, err = kernels.BinaryFor(step.kind, c.dtype)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	inSlots := make([]int, len(c.args))
	for i, arg := range c.args {
		slot, ok := p.SlotOf(arg)
		if !ok {
			return nil, nil, errors.Errorf("fused argument %s is not part of the graph", arg)
		}
		inSlots[i] = slot
	}
	pools := b.devices[ctx.Device()]
	workers := b.workers
	thunk := func(in []*tensors.Tensor) ([]*tensors.Tensor, error) {
		return c.run(in, pools, workers)
	}
	return thunk, inSlots, nil
}

// scalarOver reports whether the step yields one value for all output
// elements, given which arguments are scalars. Only meaningful while the
// chain value itself is still scalar.
func (s *chainStep) scalarOver(scalarArg []bool) bool {
	scalar := func(op int) bool { return op == chainValue || scalarArg[op] }
	if s.binary == nil {
		return scalar(s.lhs)
	}
	return scalar(s.lhs) && scalar(s.rhs)
}

// run executes the chain on concrete tensors. The single-pass tiled path
// requires every argument to be a scalar or to carry exactly the output
// dimensions; any other concrete shapes (the batched loop feeds scalar-built
// bodies expanded tensors) take the step-by-step path, which reproduces the
// exact unfused broadcasting semantics.
func (c *fusedChain) run(in []*tensors.Tensor, pools *devicePools, workers *workerspool.Pool) ([]*tensors.Tensor, error) {
	argShapes := make([]shapes.Shape, len(in))
	for i, t := range in {
		argShapes[i] = t.Shape()
	}
	outDims, err := shapes.BroadcastDims(argShapes...)
	if err != nil {
		// Step-by-step raises the error at the exact link it belongs to.
		return c.runGeneral(in, pools)
	}
	scalarArg := make([]bool, len(in))
	for i, t := range in {
		scalarArg[i] = t.Rank() == 0
	}
	for i, t := range in {
		if !scalarArg[i] && !slices.Equal(t.Shape().Dimensions, outDims) {
			return c.runGeneral(in, pools)
		}
	}

	// Links whose operands are all scalars yield one value for every output
	// element: evaluate that prefix once instead of per tile.
	scalarSteps := 0
	for i := range c.steps {
		if !c.steps[i].scalarOver(scalarArg) {
			break
		}
		scalarSteps++
	}
	var scalarVal *tensors.Tensor
	if scalarSteps > 0 {
		scalarVal, err = c.evalScalarPrefix(scalarSteps, in, pools)
		if err != nil {
			return nil, err
		}
	}
	if scalarSteps == len(c.steps) {
		// All arguments were scalars, so the output is too.
		return []*tensors.Tensor{scalarVal}, nil
	}

	out := pools.get(shapes.Make(c.dtype, outDims...))
	tiled := c.steps[scalarSteps:]
	err = parallelRun(workers, out.Size(), func(start, end int) error {
		return c.runTiles(tiled, in, scalarVal, scalarArg, out, start, end, pools)
	})
	if scalarVal != nil {
		pools.Recycle(scalarVal)
	}
	if err != nil {
		pools.Recycle(out)
		return nil, err
	}
	return []*tensors.Tensor{out}, nil
}

// evalScalarPrefix folds the first n links over scalar operands.
func (c *fusedChain) evalScalarPrefix(n int, in []*tensors.Tensor, pools *devicePools) (*tensors.Tensor, error) {
	var cur *tensors.Tensor
	operand := func(op int) *tensors.Tensor {
		if op == chainValue {
			return cur
		}
		return in[op]
	}
	for i := range c.steps[:n] {
		step := &c.steps[i]
		next := pools.get(shapes.Make(c.dtype))
		var err error
		if step.binary == nil {
			err = step.unary(next, operand(step.lhs), 0, 1)
		} else {
			err = step.binary(next, operand(step.lhs), operand(step.rhs), 0, 1)
		}
		if cur != nil {
			pools.Recycle(cur)
		}
		if err != nil {
			pools.Recycle(next)
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// runTiles evaluates the non-scalar links over [start, end) of the output,
// one tile at a time. chainIn is the scalar prefix's result, or nil when the
// first link is the chain head.
func (c *fusedChain) runTiles(steps []chainStep, in []*tensors.Tensor, chainIn *tensors.Tensor, scalarArg []bool, out *tensors.Tensor, start, end int, pools *devicePools) error {
	for t0 := start; t0 < end; t0 += fusionTileSize {
		tlen := min(fusionTileSize, end-t0)
		if err := c.runOneTile(steps, in, chainIn, scalarArg, out, t0, tlen, pools); err != nil {
			return err
		}
	}
	return nil
}

// runOneTile stages the tile's slice of each non-scalar argument into a
// [tlen] buffer, so every kernel call sees operands that are scalars or
// exactly tile-shaped, then copies the final chain value into the output.
// Arguments share the output's flat order (run checked their dimensions), so
// flat windows line up.
func (c *fusedChain) runOneTile(steps []chainStep, in []*tensors.Tensor, chainIn *tensors.Tensor, scalarArg []bool, out *tensors.Tensor, t0, tlen int, pools *devicePools) error {
	tileShape := shapes.Make(c.dtype, tlen)
	argTiles := make([]*tensors.Tensor, len(in))
	defer func() {
		for _, t := range argTiles {
			if t != nil {
				pools.Recycle(t)
			}
		}
	}()
	cur := chainIn
	curPooled := false
	operand := func(op int) *tensors.Tensor {
		if op == chainValue {
			return cur
		}
		if scalarArg[op] {
			return in[op]
		}
		if argTiles[op] == nil {
			argTiles[op] = pools.get(tileShape)
			kernels.CopyFlat(argTiles[op], in[op], 0, t0, tlen)
		}
		return argTiles[op]
	}
	for i := range steps {
		step := &steps[i]
		dst := pools.get(tileShape)
		var err error
		if step.binary == nil {
			err = step.unary(dst, operand(step.lhs), 0, tlen)
		} else {
			err = step.binary(dst, operand(step.lhs), operand(step.rhs), 0, tlen)
		}
		if curPooled {
			pools.Recycle(cur)
		}
		if err != nil {
			pools.Recycle(dst)
			return err
		}
		cur, curPooled = dst, true
	}
	kernels.CopyFlat(out, cur, t0, 0, tlen)
	pools.Recycle(cur)
	return nil
}

// runGeneral replays the chain link by link with full-size intermediates,
// for concrete shapes the tiled pass cannot line up.
func (c *fusedChain) runGeneral(in []*tensors.Tensor, pools *devicePools) ([]*tensors.Tensor, error) {
	var cur *tensors.Tensor
	curPooled := false
	operand := func(op int) *tensors.Tensor {
		if op == chainValue {
			return cur
		}
		return in[op]
	}
	for i := range c.steps {
		step := &c.steps[i]
		var dst *tensors.Tensor
		var err error
		if step.binary == nil {
			src := operand(step.lhs)
			dst = pools.get(src.Shape())
			err = step.unary(dst, src, 0, dst.Size())
		} else {
			lhs, rhs := operand(step.lhs), operand(step.rhs)
			outShape, berr := shapes.Broadcast(lhs.Shape(), rhs.Shape())
			if berr != nil {
				if curPooled {
					pools.Recycle(cur)
				}
				return nil, berr
			}
			dst = pools.get(outShape)
			err = step.binary(dst, lhs, rhs, 0, dst.Size())
		}
		if curPooled {
			pools.Recycle(cur)
		}
		if err != nil {
			pools.Recycle(dst)
			return nil, err
		}
		cur, curPooled = dst, true
	}
	return []*tensors.Tensor{cur}, nil
}
