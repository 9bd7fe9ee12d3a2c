// Package purego implements the reference backend: a sequential plain-Go
// interpreter over the shared kernels, one thunk per node, no buffer reuse,
// no fusion. It is the semantics oracle the accelerated backends are tested
// against.
//
// Importing the package registers the backend:
//
//	import _ "github.com/symtensor/symtensor/backends/purego"
package purego

import (
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/backends"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/types/tensors"
)

// Name this backend registers itself under.
const Name = "purego"

func init() {
	backends.Register(Name, New)
}

// Backend is a purego instance: one host device, plain allocation,
// sequential execution. Each instance owns a clone of the base op registry,
// so kinds registered on it stay local to graphs it compiles.
type Backend struct {
	registry *backends.Registry
}

// New creates a purego backend. It takes no configuration.
func New(config string) (backends.Backend, error) {
	if config != "" {
		return nil, errors.Errorf("the purego backend takes no configuration, got %q", config)
	}
	return &Backend{registry: baseRegistry.Clone()}, nil
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return Name }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return "sequential pure Go reference interpreter"
}

// NumDevices implements backends.Backend: purego exposes a single device.
func (b *Backend) NumDevices() int { return 1 }

// Registry returns the instance's op-dispatch registry. Registering a kind
// on it makes the kind compilable by this instance only.
func (b *Backend) Registry() *backends.Registry { return b.registry }

// Compile links fg into a sequential executable.
func (b *Backend) Compile(fg *graph.FunctionGraph, device int) (backends.Executable, error) {
	if device != 0 {
		return nil, errors.Errorf("the purego backend has a single device, got device %d", device)
	}
	ctx := backends.NewLowerContext(b, device)
	defer ctx.Close()
	program, err := backends.Link(fg, b.registry, ctx)
	if err != nil {
		return nil, err
	}
	return &executable{program: program}, nil
}

// executable runs the linked program as-is; purego adds nothing on top.
type executable struct {
	program *backends.Program
}

func (e *executable) Run(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return e.program.Run(inputs)
}

func (e *executable) Finalize() {}
