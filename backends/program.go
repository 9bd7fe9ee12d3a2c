package backends

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/types/tensors"
)

// boundThunk is one executable step: a thunk wired to the arena slots it
// reads and writes, plus the node description used to wrap call-time errors.
type boundThunk struct {
	run      Thunk
	inSlots  []int
	outSlots []int
	desc     string
}

// Recycler lets a backend reclaim the storage of intermediate values after
// their last use within a call. Graph inputs, constants and outputs are never
// recycled. Implementations must be safe for concurrent use.
type Recycler interface {
	Recycle(t *tensors.Tensor)
}

// seed is a constant pre-bound to its slot; seeded values are shared by all
// calls and must not be mutated by thunks.
type seed struct {
	slot  int
	value *tensors.Tensor
}

// Program is a linked FunctionGraph: the slot arena, the constants to
// pre-seed, and the bound thunks in topological order. It is the execution
// skeleton shared by the in-tree backends; each builds its steps its own way
// (see Link for the plain one-thunk-per-node form).
//
// Run keeps no state on the Program, so one Program may serve concurrent
// calls.
type Program struct {
	numSlots    int
	inputSlots  []int
	outputSlots []int
	seeds       []seed
	steps       []boundThunk

	// Per-slot accounting for the optional recycler: how many step inputs
	// read the slot, whether a step produces it, whether it is a graph
	// output.
	uses     []int
	owned    []bool
	isOutput []bool
	recycler Recycler

	fg *graph.FunctionGraph
}

// NewProgram builds the arena bookkeeping for fg: slot count, input and
// output slot lists (declared inputs first, then shared containers in
// first-use order) and the constant seeds. Steps are added with AddStep.
func NewProgram(fg *graph.FunctionGraph) *Program {
	p := &Program{
		numSlots: fg.NumSlots(),
		uses:     make([]int, fg.NumSlots()),
		owned:    make([]bool, fg.NumSlots()),
		isOutput: make([]bool, fg.NumSlots()),
		fg:       fg,
	}
	for _, in := range fg.Inputs() {
		slot, _ := fg.SlotOf(in)
		p.inputSlots = append(p.inputSlots, slot)
	}
	for _, shared := range fg.Shareds() {
		slot, _ := fg.SlotOf(shared.Variable())
		p.inputSlots = append(p.inputSlots, slot)
	}
	for _, c := range fg.Constants() {
		slot, _ := fg.SlotOf(c)
		p.seeds = append(p.seeds, seed{slot: slot, value: c.ConstValue()})
	}
	for _, out := range fg.Outputs() {
		slot, _ := fg.SlotOf(out) // outputs are always reachable, hence slotted
		p.outputSlots = append(p.outputSlots, slot)
		p.isOutput[slot] = true
	}
	return p
}

// AddStep appends a step executing node through run. Steps must be added in
// an order where every read slot is written earlier (the FunctionGraph's
// Order is such an order).
func (p *Program) AddStep(node *graph.Apply, run Thunk) error {
	inSlots := make([]int, len(node.Inputs))
	for i, in := range node.Inputs {
		slot, ok := p.fg.SlotOf(in)
		if !ok {
			return errors.Errorf("linking %s: input %d is not part of the graph", node, i)
		}
		inSlots[i] = slot
	}
	outSlots := make([]int, len(node.Outputs))
	for i, out := range node.Outputs {
		slot, ok := p.fg.SlotOf(out)
		if !ok {
			return errors.Errorf("linking %s: output %d is not part of the graph", node, i)
		}
		outSlots[i] = slot
	}
	p.addStep(boundThunk{run: run, inSlots: inSlots, outSlots: outSlots, desc: node.String()})
	return nil
}

// AddRawStep appends a step wired to explicit slots, for backend-synthesized
// steps that do not correspond to a single Apply (fused chains).
func (p *Program) AddRawStep(run Thunk, inSlots, outSlots []int, desc string) {
	p.addStep(boundThunk{run: run, inSlots: slices.Clone(inSlots), outSlots: slices.Clone(outSlots), desc: desc})
}

func (p *Program) addStep(step boundThunk) {
	for _, slot := range step.inSlots {
		p.uses[slot]++
	}
	for _, slot := range step.outSlots {
		p.owned[slot] = true
	}
	p.steps = append(p.steps, step)
}

// SetRecycler enables buffer reclamation: intermediate values are handed to r
// right after their last reading step within a call.
func (p *Program) SetRecycler(r Recycler) { p.recycler = r }

// SlotOf exposes the arena slot of a variable, for backends assembling raw
// steps.
func (p *Program) SlotOf(v *graph.Variable) (int, bool) { return p.fg.SlotOf(v) }

// NumInputs returns how many values Run expects: declared inputs plus shared
// containers.
func (p *Program) NumInputs() int { return len(p.inputSlots) }

// Run executes the program: seed constants and inputs into a fresh value
// table, run every step in order (each exactly once), read the outputs by
// slot. A step error aborts the call with the node description attached; no
// partial outputs are returned.
func (p *Program) Run(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	if len(inputs) != len(p.inputSlots) {
		return nil, errors.Errorf("executable takes %d inputs, got %d", len(p.inputSlots), len(inputs))
	}
	values := make([]*tensors.Tensor, p.numSlots)
	for _, s := range p.seeds {
		values[s.slot] = s.value
	}
	for i, slot := range p.inputSlots {
		if inputs[i] == nil {
			return nil, errors.Errorf("input %d is nil", i)
		}
		values[slot] = inputs[i]
	}
	var remaining []int
	if p.recycler != nil {
		remaining = slices.Clone(p.uses)
	}
	for i := range p.steps {
		step := &p.steps[i]
		in := make([]*tensors.Tensor, len(step.inSlots))
		for j, slot := range step.inSlots {
			in[j] = values[slot]
			if in[j] == nil {
				return nil, errors.Errorf("internal: %s reads slot %d before it is written", step.desc, slot)
			}
		}
		out, err := step.run(in)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s", step.desc)
		}
		if len(out) != len(step.outSlots) {
			return nil, errors.Errorf("internal: %s produced %d values, expected %d", step.desc, len(out), len(step.outSlots))
		}
		for j, slot := range step.outSlots {
			values[slot] = out[j]
		}
		if p.recycler != nil {
			for _, slot := range step.inSlots {
				remaining[slot]--
				if remaining[slot] == 0 && p.owned[slot] && !p.isOutput[slot] && values[slot] != nil {
					p.recycler.Recycle(values[slot])
					values[slot] = nil
				}
			}
			for _, slot := range step.outSlots {
				// Produced but never read nor returned: reclaim immediately.
				if remaining[slot] == 0 && !p.isOutput[slot] {
					p.recycler.Recycle(values[slot])
					values[slot] = nil
				}
			}
		}
	}
	outputs := make([]*tensors.Tensor, len(p.outputSlots))
	for i, slot := range p.outputSlots {
		v := values[slot]
		if v == nil {
			return nil, errors.Errorf("internal: output %d was never computed", i)
		}
		if !p.owned[slot] {
			// Inputs and constants returned as outputs are cloned: callers
			// own what Run returns.
			v = v.Clone()
		}
		outputs[i] = v
	}
	return outputs, nil
}

// Link builds the plain Program for fg: one step per Apply in topological
// order, each resolved through the registry. Backends with their own step
// scheduling (fusion) assemble the Program themselves with NewProgram and
// AddStep/AddRawStep.
func Link(fg *graph.FunctionGraph, reg *Registry, ctx *LowerContext) (*Program, error) {
	if free := fg.FreeRoots(); len(free) > 0 {
		return nil, errors.Errorf("free input %s is not bound", free[0])
	}
	p := NewProgram(fg)
	for _, node := range fg.Order() {
		factory, ok := reg.Get(node.Op.Kind())
		if !ok {
			return nil, errors.Errorf("operation kind %q has no implementation for backend %s",
				node.Op.Kind(), ctx.Backend().Name())
		}
		thunk, err := factory(ctx, node.Op, node)
		if err != nil {
			return nil, errors.WithMessagef(err, "lowering %s", node)
		}
		if err := p.AddStep(node, thunk); err != nil {
			return nil, err
		}
	}
	return p, nil
}
