package backends

import (
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// Thunk executes one operation at call time: concrete tensors in, freshly
// allocated tensors out. Thunks hold whatever the factory resolved at compile
// time (kernels, sub-executables) but no per-call state: a thunk may be
// invoked concurrently by independent calls.
type Thunk func(in []*tensors.Tensor) ([]*tensors.Tensor, error)

// Factory resolves one Apply node into a Thunk at compile time. It receives
// the lowering context (valid only during the compilation, see LowerContext),
// the op descriptor and the node being lowered, and fails with an error when
// the op's attributes or static shapes cannot be supported.
type Factory func(ctx *LowerContext, op ops.Op, node *graph.Apply) (Thunk, error)

// Registry maps operation kinds to factories for one backend instance. The
// kind set is open: anything can register new kinds, and re-registering a
// kind replaces its factory.
//
// Register and Clone are not safe to call concurrently with Compile; wiring
// up a registry is an initialization step.
type Registry struct {
	factories map[ops.Kind]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ops.Kind]Factory)}
}

// Register binds kind to factory, replacing any previous binding.
func (r *Registry) Register(kind ops.Kind, factory Factory) {
	if kind == "" || factory == nil {
		exceptions.Panicf("Registry.Register: kind and factory required")
	}
	r.factories[kind] = factory
}

// Get returns the factory bound to kind.
func (r *Registry) Get(kind ops.Kind) (Factory, bool) {
	factory, ok := r.factories[kind]
	return factory, ok
}

// Clone returns an independent copy: registrations on one side never show on
// the other. Backends hand each instance a clone of their base registry so
// per-instance extensions stay local.
func (r *Registry) Clone() *Registry {
	return &Registry{factories: maps.Clone(r.factories)}
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []ops.Kind {
	return slices.Sorted(maps.Keys(r.factories))
}

// RuntimeOutputShapes re-runs op's shape inference on the concrete shapes of
// the call-time inputs. Thunks use it to size their outputs and to surface
// the checks that static inference deferred on unknown dimensions, and it is
// what makes element-wise thunks shape-polymorphic (the batched loop feeds
// them broadcast-expanded tensors).
func RuntimeOutputShapes(op ops.Op, in []*tensors.Tensor) ([]shapes.Shape, error) {
	inShapes := make([]shapes.Shape, len(in))
	for i, t := range in {
		inShapes[i] = t.Shape()
	}
	return op.OutputShapes(inShapes)
}
