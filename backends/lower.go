package backends

import (
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/graph"
)

// LowerContext is handed to factories while their backend compiles a graph.
// It lets ops that carry sub-graphs (conditionals, loops, packaged ops)
// compile them on the same backend and device.
//
// The context is only valid during the compilation: the backend closes it
// when Compile returns, and any later Subgraph call fails. Factories must
// resolve everything they need up front instead of smuggling the context into
// their thunks.
type LowerContext struct {
	backend Backend
	device  int
	closed  bool
}

// NewLowerContext opens a lowering context for one Compile run. Backend
// implementations create one per compilation and Close it before returning.
func NewLowerContext(backend Backend, device int) *LowerContext {
	return &LowerContext{backend: backend, device: device}
}

// Backend being compiled for.
func (ctx *LowerContext) Backend() Backend { return ctx.backend }

// Device the executable is pinned to.
func (ctx *LowerContext) Device() int { return ctx.device }

// Subgraph compiles a nested FunctionGraph on the same backend and device.
func (ctx *LowerContext) Subgraph(fg *graph.FunctionGraph) (Executable, error) {
	if ctx.closed {
		return nil, errors.New("lower context used after compile")
	}
	return ctx.backend.Compile(fg, ctx.device)
}

// Close invalidates the context. Called by the backend once lowering is done.
func (ctx *LowerContext) Close() { ctx.closed = true }
