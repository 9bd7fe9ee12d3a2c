package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// Shared is a persistent mutable parameter living outside any single graph.
// It owns a current value, can be read by any number of compiled functions
// (its Variable appears in their graphs as an implicit input) and is mutated
// either by Set or by an update expression committed after a successful call.
//
// Shared is not internally synchronized: concurrent calls that read or
// update the same container require external mutual exclusion.
type Shared struct {
	name  string
	shape shapes.Shape // dtype + rank; dimensions stay flexible.
	value *tensors.Tensor
	root  *Variable
}

// NewShared creates a shared container initialized with value. The dtype and
// rank are fixed by the initial value; dimensions may change on later Sets.
func NewShared(value *tensors.Tensor, name string) *Shared {
	if value == nil {
		exceptions.Panicf("NewShared(%q): nil value", name)
	}
	declared := value.Shape()
	for axis := range declared.Dimensions {
		declared.Dimensions[axis] = shapes.UnknownDim
	}
	s := &Shared{name: name, shape: declared, value: value}
	s.root = &Variable{
		id:        lastVariableID.Add(1),
		shape:     declared.Clone(),
		name:      name,
		container: s,
	}
	return s
}

// Name of the container.
func (s *Shared) Name() string { return s.name }

// Variable returns the graph root representing this container's value.
// It is stable: every graph reading the container uses the same Variable.
func (s *Shared) Variable() *Variable { return s.root }

// Get returns the current value. The tensor is owned by the container;
// callers must not mutate it.
func (s *Shared) Get() *tensors.Tensor { return s.value }

// Set replaces the current value. The new value must keep the container's
// dtype and rank. Visible to the next call of any function reading it.
func (s *Shared) Set(value *tensors.Tensor) {
	if value == nil {
		exceptions.Panicf("Shared(%q).Set: nil value", s.name)
	}
	if !s.shape.Assignable(value.Shape()) {
		exceptions.Panicf("Shared(%q).Set: value shaped %s does not fit container type %s",
			s.name, value.Shape(), s.shape)
	}
	s.value = value
}
