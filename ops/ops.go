// Package ops defines the operation descriptors attached to graph Apply
// nodes: a stable Kind tag, the static attributes of the operation, and its
// shape-inference rule.
//
// The Kind set is open: backends map kinds to implementations through their
// dispatch registries, and external packages can introduce new kinds without
// touching this package (see backends.Registry).
//
// Ops carrying nested sub-graphs (conditionals, loops) live in the graph
// package; everything here is a plain descriptor.
package ops

import (
	"reflect"

	"github.com/symtensor/symtensor/types/shapes"
)

// Kind is the stable identifier of an operation, the dispatch key of backend
// registries.
type Kind string

// Op describes one operation: its Kind plus whatever static attributes the
// concrete descriptor struct carries. OutputShapes infers the output shapes
// from the input shapes; it is called at graph construction time and errors
// become construction panics.
type Op interface {
	Kind() Kind
	OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error)
}

// Comparable is implemented by ops whose structural equality needs more than
// comparing the descriptor structs (ops carrying sub-graphs).
type Comparable interface {
	EqualOp(other Op) bool
}

// Equal reports whether two op descriptors are structurally equal: same Kind
// and same static attributes. Descriptors implementing Comparable decide for
// themselves; everything else compares with reflect.DeepEqual.
func Equal(a, b Op) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	if comparable, ok := a.(Comparable); ok {
		return comparable.EqualOp(b)
	}
	return reflect.DeepEqual(a, b)
}
