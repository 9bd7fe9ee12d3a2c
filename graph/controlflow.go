package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/xslices"
)

// Control-flow operation kinds. They live here rather than in the ops package
// because their descriptors carry sub-FunctionGraphs; backends resolve them
// through the same open dispatch registries as every other kind.
const (
	KindIfElse      ops.Kind = "ifelse"
	KindScalarLoop  ops.Kind = "scalar_loop"
	KindOpFromGraph ops.Kind = "op_from_graph"
)

// captureRoots collects the non-constant roots reachable from outs, in the
// same deterministic first-use order FunctionGraph would discover them.
// These become the captured inputs of a branch or nested sub-graph.
func captureRoots(outs []*Variable) []*Variable {
	var captures []*Variable
	seenRoot := types.MakeSet[*Variable]()
	seenApply := types.MakeSet[*Apply]()
	type frame struct {
		apply *Apply
		next  int
	}
	var stack []frame
	push := func(v *Variable) {
		if v.owner == nil {
			if !seenRoot.Has(v) {
				seenRoot.Insert(v)
				if !v.IsConstant() {
					captures = append(captures, v)
				}
			}
			return
		}
		if !seenApply.Has(v.owner) {
			seenApply.Insert(v.owner)
			stack = append(stack, frame{apply: v.owner})
		}
	}
	for _, out := range outs {
		push(out)
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.apply.Inputs) {
				push(top.apply.Inputs[top.next])
				top.next++
				continue
			}
			stack = stack[:len(stack)-1]
		}
	}
	return captures
}

// IfElse builds a lazy conditional: cond is a Bool scalar; onTrue and onFalse
// are the candidate outputs, position by position. Each branch is frozen into
// its own sub-FunctionGraph over its captured roots, and exactly one of the
// two runs per call; the untaken branch's nodes never execute.
//
// The results are typed with the per-position Merge of the branch shapes:
// dimensions the branches disagree on (both fixed) panic, dimensions only one
// branch pins stay pinned.
//
// A sub-computation feeding both a branch and the enclosing graph is
// re-entered inside the branch: laziness is structural, selecting a branch
// selects everything it depends on.
func IfElse(cond *Variable, onTrue, onFalse []*Variable) []*Variable {
	if cond == nil {
		exceptions.Panicf("IfElse: nil condition")
	}
	if !cond.shape.IsScalar() || cond.shape.DType != dtypes.Bool {
		exceptions.Panicf("IfElse: condition must be a Bool scalar, got %s", cond.shape)
	}
	if len(onTrue) == 0 || len(onTrue) != len(onFalse) {
		exceptions.Panicf("IfElse: branches must produce the same non-zero number of outputs, got %d and %d",
			len(onTrue), len(onFalse))
	}
	outShapes := make([]shapes.Shape, len(onTrue))
	for i := range onTrue {
		merged, err := shapes.Merge(onTrue[i].shape, onFalse[i].shape)
		if err != nil {
			exceptions.Panicf("IfElse: output %d: %v", i, err)
		}
		outShapes[i] = merged
	}
	capTrue := captureRoots(onTrue)
	capFalse := captureRoots(onFalse)
	op := &IfElseOp{
		onTrue:    NewFunctionGraph(capTrue, onTrue),
		onFalse:   NewFunctionGraph(capFalse, onFalse),
		outShapes: outShapes,
	}
	inputs := make([]*Variable, 0, 1+len(capTrue)+len(capFalse))
	inputs = append(inputs, cond)
	inputs = append(inputs, capTrue...)
	inputs = append(inputs, capFalse...)
	return ApplyOp(op, inputs...)
}

// IfElseOp is the descriptor behind IfElse: two branch sub-graphs whose
// inputs are the captured variables. The Apply's inputs are laid out as
// [cond, trueCaptures..., falseCaptures...].
type IfElseOp struct {
	onTrue, onFalse *FunctionGraph
	outShapes       []shapes.Shape
}

func (op *IfElseOp) Kind() ops.Kind { return KindIfElse }

// OnTrue returns the sub-graph run when the condition holds.
func (op *IfElseOp) OnTrue() *FunctionGraph { return op.onTrue }

// OnFalse returns the sub-graph run when the condition does not hold.
func (op *IfElseOp) OnFalse() *FunctionGraph { return op.onFalse }

// NumTrueCaptures returns how many of the Apply's inputs (after the
// condition) belong to the true branch; the rest belong to the false branch.
func (op *IfElseOp) NumTrueCaptures() int { return len(op.onTrue.inputs) }

func (op *IfElseOp) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	nTrue, nFalse := len(op.onTrue.inputs), len(op.onFalse.inputs)
	if len(inputs) != 1+nTrue+nFalse {
		return nil, errors.Errorf("ifelse takes 1+%d+%d inputs, got %d", nTrue, nFalse, len(inputs))
	}
	if !inputs[0].IsScalar() || inputs[0].DType != dtypes.Bool {
		return nil, errors.Errorf("ifelse condition must be a Bool scalar, got %s", inputs[0])
	}
	captures := make([]*Variable, 0, nTrue+nFalse)
	captures = append(captures, op.onTrue.inputs...)
	captures = append(captures, op.onFalse.inputs...)
	for i, capture := range captures {
		if _, err := shapes.Merge(capture.shape, inputs[1+i]); err != nil {
			return nil, errors.WithMessagef(err, "ifelse capture %d", i)
		}
	}
	return xslices.Map(op.outShapes, shapes.Shape.Clone), nil
}

// EqualOp compares the branch sub-graphs structurally.
func (op *IfElseOp) EqualOp(other ops.Op) bool {
	o, ok := other.(*IfElseOp)
	if !ok {
		return false
	}
	return EqualComputations(op.onTrue.outputs, o.onTrue.outputs, op.onTrue.inputs, o.onTrue.inputs) &&
		EqualComputations(op.onFalse.outputs, o.onFalse.outputs, op.onFalse.inputs, o.onFalse.inputs)
}

// ScalarLoop is a bounded recurrence built from a symbolic body: scalar state
// placeholders, scalar constant (loop-invariant) placeholders, one update
// expression per state and an optional Bool scalar termination predicate, all
// expressions over the placeholders only.
//
// The descriptor is applied with Apply(nSteps, inits..., constVals...). When
// every runtime argument is a scalar the loop runs the body up to nSteps
// times; the predicate, when present, is evaluated on the current state
// before each update, the loop stops at the first iteration where it holds,
// and an extra Bool output reports whether that happened strictly before the
// budget ran out. Non-scalar arguments broadcast together and every element
// runs its own loop: finished elements freeze while the rest continue, and
// the done flag is per-element.
type ScalarLoop struct {
	states, consts []*Variable
	updates        []*Variable
	until          *Variable
	body           *FunctionGraph
}

// NewScalarLoop validates the body and freezes it. states and consts must be
// free scalar placeholders (NewInput), updates must match their states'
// shapes, and until, when not nil, must be a Bool scalar. The body may not
// reach any placeholder other than states and consts, nor read shared
// containers.
func NewScalarLoop(states, consts, updates []*Variable, until *Variable) *ScalarLoop {
	if len(states) == 0 {
		exceptions.Panicf("NewScalarLoop: at least one state required")
	}
	if len(updates) != len(states) {
		exceptions.Panicf("NewScalarLoop: %d updates for %d states", len(updates), len(states))
	}
	for i, state := range states {
		if state == nil || state.Role() != RoleInput {
			exceptions.Panicf("NewScalarLoop: state %d must be a free placeholder variable", i)
		}
		if !state.shape.IsScalar() {
			exceptions.Panicf("NewScalarLoop: state %d must be scalar, got %s", i, state.shape)
		}
		if updates[i] == nil {
			exceptions.Panicf("NewScalarLoop: update %d is nil", i)
		}
		if !updates[i].shape.Equal(state.shape) {
			exceptions.Panicf("NewScalarLoop: update %d shaped %s does not match state %s",
				i, updates[i].shape, state.shape)
		}
	}
	for i, c := range consts {
		if c == nil || c.Role() != RoleInput {
			exceptions.Panicf("NewScalarLoop: constant %d must be a free placeholder variable", i)
		}
		if !c.shape.IsScalar() {
			exceptions.Panicf("NewScalarLoop: constant %d must be scalar, got %s", i, c.shape)
		}
	}
	outputs := slices.Clone(updates)
	if until != nil {
		if !until.shape.IsScalar() || until.shape.DType != dtypes.Bool {
			exceptions.Panicf("NewScalarLoop: until must be a Bool scalar, got %s", until.shape)
		}
		outputs = append(outputs, until)
	}
	placeholders := make([]*Variable, 0, len(states)+len(consts))
	placeholders = append(placeholders, states...)
	placeholders = append(placeholders, consts...)
	body := NewFunctionGraph(placeholders, outputs)
	if free := body.FreeRoots(); len(free) > 0 {
		exceptions.Panicf("NewScalarLoop: body reads %s, which is neither a state nor a constant placeholder", free[0])
	}
	if shareds := body.Shareds(); len(shareds) > 0 {
		exceptions.Panicf("NewScalarLoop: body cannot read shared container %q directly; pass its value as a constant placeholder",
			shareds[0].Name())
	}
	return &ScalarLoop{
		states:  slices.Clone(states),
		consts:  slices.Clone(consts),
		updates: slices.Clone(updates),
		until:   until,
		body:    body,
	}
}

// Apply instantiates the loop: nSteps is the integer scalar iteration budget,
// followed by one initial value per state and one value per constant. It
// returns the final states, plus the done flag when the loop has a predicate.
func (loop *ScalarLoop) Apply(nSteps *Variable, args ...*Variable) []*Variable {
	inputs := make([]*Variable, 0, 1+len(args))
	inputs = append(inputs, nSteps)
	inputs = append(inputs, args...)
	return ApplyOp(loop, inputs...)
}

func (loop *ScalarLoop) Kind() ops.Kind { return KindScalarLoop }

// Body returns the frozen loop body: inputs are the state then constant
// placeholders, outputs the updates then the predicate (when present).
func (loop *ScalarLoop) Body() *FunctionGraph { return loop.body }

// NumStates returns the number of loop states.
func (loop *ScalarLoop) NumStates() int { return len(loop.states) }

// NumConsts returns the number of loop-invariant placeholders.
func (loop *ScalarLoop) NumConsts() int { return len(loop.consts) }

// HasUntil reports whether the loop carries a termination predicate (and so
// produces the extra done output).
func (loop *ScalarLoop) HasUntil() bool { return loop.until != nil }

func (loop *ScalarLoop) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	want := 1 + len(loop.states) + len(loop.consts)
	if len(inputs) != want {
		return nil, errors.Errorf("scalar_loop takes %d inputs (n, inits..., consts...), got %d", want, len(inputs))
	}
	if !inputs[0].IsScalar() || !inputs[0].DType.IsInt() {
		return nil, errors.Errorf("scalar_loop iteration budget must be an integer scalar, got %s", inputs[0])
	}
	args := inputs[1:]
	for i, state := range loop.states {
		if args[i].DType != state.shape.DType {
			return nil, errors.Errorf("scalar_loop initial state %d has dtype %s, want %s",
				i, args[i].DType, state.shape.DType)
		}
	}
	for i, c := range loop.consts {
		if args[len(loop.states)+i].DType != c.shape.DType {
			return nil, errors.Errorf("scalar_loop constant %d has dtype %s, want %s",
				i, args[len(loop.states)+i].DType, c.shape.DType)
		}
	}
	dims, err := shapes.BroadcastDims(args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "scalar_loop carries")
	}
	outputs := make([]shapes.Shape, 0, len(loop.states)+1)
	for _, state := range loop.states {
		outputs = append(outputs, shapes.Shape{DType: state.shape.DType, Dimensions: slices.Clone(dims)})
	}
	if loop.until != nil {
		outputs = append(outputs, shapes.Shape{DType: dtypes.Bool, Dimensions: slices.Clone(dims)})
	}
	return outputs, nil
}

// EqualOp compares loop bodies structurally, including the state/constant
// split and predicate presence.
func (loop *ScalarLoop) EqualOp(other ops.Op) bool {
	o, ok := other.(*ScalarLoop)
	if !ok {
		return false
	}
	if len(loop.states) != len(o.states) || len(loop.consts) != len(o.consts) ||
		(loop.until == nil) != (o.until == nil) {
		return false
	}
	return EqualComputations(loop.body.outputs, o.body.outputs, loop.body.inputs, o.body.inputs)
}

// OpFromGraph packages a sub-graph as a reusable operation: build the
// computation once over placeholder inputs, then Call it on as many argument
// lists as needed. The body must be self-contained: every non-constant root
// it reaches must be among the declared inputs.
type OpFromGraph struct {
	fg *FunctionGraph
}

// NewOpFromGraph freezes (inputs, outputs) into a reusable op.
func NewOpFromGraph(inputs, outputs []*Variable) *OpFromGraph {
	fg := NewFunctionGraph(inputs, outputs)
	if free := fg.FreeRoots(); len(free) > 0 {
		exceptions.Panicf("NewOpFromGraph: body reads %s, which is not among the declared inputs", free[0])
	}
	if shareds := fg.Shareds(); len(shareds) > 0 {
		exceptions.Panicf("NewOpFromGraph: body cannot read shared container %q; declare it as an input",
			shareds[0].Name())
	}
	return &OpFromGraph{fg: fg}
}

// Call applies the packaged computation to the given arguments.
func (op *OpFromGraph) Call(args ...*Variable) []*Variable {
	return ApplyOp(op, args...)
}

func (op *OpFromGraph) Kind() ops.Kind { return KindOpFromGraph }

// Graph returns the packaged sub-graph.
func (op *OpFromGraph) Graph() *FunctionGraph { return op.fg }

func (op *OpFromGraph) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != len(op.fg.inputs) {
		return nil, errors.Errorf("op_from_graph takes %d inputs, got %d", len(op.fg.inputs), len(inputs))
	}
	for i, param := range op.fg.inputs {
		if _, err := shapes.Merge(param.shape, inputs[i]); err != nil {
			return nil, errors.WithMessagef(err, "op_from_graph argument %d", i)
		}
	}
	return xslices.Map(op.fg.outputs, func(v *Variable) shapes.Shape { return v.shape.Clone() }), nil
}

// EqualOp compares the packaged sub-graphs structurally.
func (op *OpFromGraph) EqualOp(other ops.Op) bool {
	o, ok := other.(*OpFromGraph)
	if !ok {
		return false
	}
	return EqualComputations(op.fg.outputs, o.fg.outputs, op.fg.inputs, o.fg.inputs)
}
