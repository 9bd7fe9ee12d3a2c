package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// FunctionGraph is the compilation unit handed to backends: the transitive
// closure of the given outputs, frozen into an arena. Every reachable
// Variable gets a dense slot index, the Apply nodes are stored in a
// deterministic topological order (iterative DFS, inputs visited in
// declaration order), and the roots are classified: declared inputs,
// constants, shared containers (collected in first-use order) and free roots.
//
// Free roots (reachable roots that are neither declared inputs, constants
// nor shared) make the graph uncompilable; they are recorded here and
// reported as errors by the compile and backends packages.
//
// The output list may repeat a Variable: repeats share a slot, so the value
// is computed once per call regardless.
type FunctionGraph struct {
	inputs  []*Variable
	outputs []*Variable

	order     []*Apply
	slots     map[*Variable]int
	numSlots  int
	constants []*Variable
	shareds   []*Shared
	freeRoots []*Variable
}

// NewFunctionGraph freezes the computation reaching outputs into an arena.
// Inputs declare the roots to be bound at call time; they need not all be
// used. Nil or duplicate entries panic.
func NewFunctionGraph(inputs, outputs []*Variable) *FunctionGraph {
	if len(outputs) == 0 {
		exceptions.Panicf("NewFunctionGraph: at least one output required")
	}
	fg := &FunctionGraph{
		inputs:  slices.Clone(inputs),
		outputs: slices.Clone(outputs),
		slots:   make(map[*Variable]int),
	}
	for i, in := range inputs {
		if in == nil {
			exceptions.Panicf("NewFunctionGraph: input %d is nil", i)
		}
		if _, dup := fg.slots[in]; dup {
			exceptions.Panicf("NewFunctionGraph: duplicate input %s at position %d", in, i)
		}
		fg.slots[in] = fg.numSlots
		fg.numSlots++
	}
	for i, out := range outputs {
		if out == nil {
			exceptions.Panicf("NewFunctionGraph: output %d is nil", i)
		}
		fg.visit(out)
	}
	return fg
}

// visit runs the iterative DFS from one output, appending finished Apply
// nodes in topological order. The graph is acyclic by construction (an Apply
// only ever references pre-existing Variables), so no cycle bookkeeping is
// needed beyond the visited set.
func (fg *FunctionGraph) visit(out *Variable) {
	type frame struct {
		apply *Apply
		next  int
	}
	var stack []frame
	push := func(v *Variable) {
		if v.owner == nil {
			fg.addRoot(v)
			return
		}
		// Slots for an Apply's outputs are assigned when it finishes, so
		// their presence marks the whole node as done.
		if _, done := fg.slots[v.owner.Outputs[0]]; done {
			return
		}
		stack = append(stack, frame{apply: v.owner})
	}
	push(out)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.apply.Inputs) {
			in := top.apply.Inputs[top.next]
			top.next++
			push(in)
			continue
		}
		fg.order = append(fg.order, top.apply)
		for _, o := range top.apply.Outputs {
			fg.slots[o] = fg.numSlots
			fg.numSlots++
		}
		stack = stack[:len(stack)-1]
	}
}

// addRoot assigns a slot to a root variable on first sight and classifies it.
func (fg *FunctionGraph) addRoot(v *Variable) {
	if _, seen := fg.slots[v]; seen {
		return
	}
	fg.slots[v] = fg.numSlots
	fg.numSlots++
	switch v.Role() {
	case RoleConstant:
		fg.constants = append(fg.constants, v)
	case RoleShared:
		fg.shareds = append(fg.shareds, v.container)
	default:
		fg.freeRoots = append(fg.freeRoots, v)
	}
}

// Inputs returns the declared inputs, in declaration order.
func (fg *FunctionGraph) Inputs() []*Variable { return fg.inputs }

// Outputs returns the output list, repeats included.
func (fg *FunctionGraph) Outputs() []*Variable { return fg.outputs }

// Order returns the Apply nodes in topological order: every node's inputs
// are produced by earlier nodes or are roots.
func (fg *FunctionGraph) Order() []*Apply { return fg.order }

// NumSlots is the arena size: one slot per reachable Variable (plus declared
// but unused inputs).
func (fg *FunctionGraph) NumSlots() int { return fg.numSlots }

// SlotOf returns the dense slot index of v, or false if v is not part of
// this graph.
func (fg *FunctionGraph) SlotOf(v *Variable) (int, bool) {
	slot, ok := fg.slots[v]
	return slot, ok
}

// Constants returns the reachable constant roots, in traversal order.
func (fg *FunctionGraph) Constants() []*Variable { return fg.constants }

// Shareds returns the shared containers read by the graph, in first-use
// order. Their current values are appended to the declared inputs when
// running the compiled executable.
func (fg *FunctionGraph) Shareds() []*Shared { return fg.shareds }

// FreeRoots returns the reachable roots that are neither declared inputs,
// constants nor shared containers. A compilable graph has none.
func (fg *FunctionGraph) FreeRoots() []*Variable { return fg.freeRoots }

// String renders the graph one Apply per line, for debugging and error
// messages.
func (fg *FunctionGraph) String() string {
	var b strings.Builder
	inputs := make([]string, len(fg.inputs))
	for i, in := range fg.inputs {
		inputs[i] = fmt.Sprintf("%s: %s", in, in.shape)
	}
	fmt.Fprintf(&b, "FunctionGraph(%s):\n", strings.Join(inputs, ", "))
	for _, apply := range fg.order {
		slot, _ := fg.slots[apply.Outputs[0]]
		fmt.Fprintf(&b, "  #%d = %s: %s\n", slot, apply, apply.Outputs[0].shape)
	}
	outputs := make([]string, len(fg.outputs))
	for i, out := range fg.outputs {
		slot, _ := fg.slots[out]
		outputs[i] = fmt.Sprintf("#%d", slot)
	}
	fmt.Fprintf(&b, "  return %s", strings.Join(outputs, ", "))
	return b.String()
}
