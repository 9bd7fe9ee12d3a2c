package compile

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/backends"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/types"
	"github.com/symtensor/symtensor/types/tensors"
)

// Function is a compiled computation ready to call. Each call binds the
// declared inputs, reads the current values of the shared containers the
// graph uses, runs the executable, and on success commits the update
// expressions into their containers.
//
// A Function without shared containers may be called concurrently. When
// shared containers are bound (read or updated), concurrent callers need
// external mutual exclusion: the containers themselves are not synchronized.
type Function struct {
	name    string
	backend backends.Backend
	device  int
	exec    backends.Executable

	inputs  []*graph.Variable
	outputs []*graph.Variable // declared outputs, before the update expressions
	updates []update
	shareds []*graph.Shared // implicit trailing inputs, in first-use order

	finalized bool
}

// Name the function was compiled under.
func (f *Function) Name() string { return f.name }

// Backend the function was compiled on, for reuse with WithBackendInstance.
func (f *Function) Backend() backends.Backend { return f.backend }

// Device the executable is pinned to.
func (f *Function) Device() int { return f.device }

// Finalize releases the compiled executable. The function must not be
// called afterwards.
func (f *Function) Finalize() {
	if f.finalized {
		return
	}
	f.finalized = true
	f.exec.Finalize()
}

// Call runs the function on args, one per declared input and in the same
// order. Arguments that are not already *tensors.Tensor are converted with
// tensors.FromValue. The returned tensors are owned by the caller.
//
// Updates commit only after the whole call succeeded: a failed call never
// mutates shared state.
func (f *Function) Call(args ...any) ([]*tensors.Tensor, error) {
	if f.finalized {
		return nil, errors.Errorf("function %s is finalized", f.name)
	}
	if len(args) != len(f.inputs) {
		return nil, errors.Errorf("function %s takes %d arguments, got %d", f.name, len(f.inputs), len(args))
	}
	values := make([]*tensors.Tensor, 0, len(args)+len(f.shareds))
	for i, arg := range args {
		t, err := coerce(arg)
		if err != nil {
			return nil, errors.WithMessagef(err, "argument %d of %s", i, f.name)
		}
		if !f.inputs[i].Shape().Assignable(t.Shape()) {
			return nil, errors.Errorf("argument %d of %s is shaped %s, want %s",
				i, f.name, t.Shape(), f.inputs[i].Shape())
		}
		values = append(values, t)
	}
	// Shared containers are read once, at call start.
	for _, s := range f.shareds {
		values = append(values, s.Get())
	}
	results, err := f.exec.Run(values)
	if err != nil {
		return nil, errors.WithMessagef(err, "calling %s", f.name)
	}
	for i, u := range f.updates {
		u.shared.Set(results[len(f.outputs)+i])
	}
	return results[:len(f.outputs)], nil
}

// Call1 is Call for functions with exactly one declared output.
func (f *Function) Call1(args ...any) (*tensors.Tensor, error) {
	if len(f.outputs) != 1 {
		return nil, errors.Errorf("Call1 on function %s, which has %d outputs", f.name, len(f.outputs))
	}
	results, err := f.Call(args...)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// CallNamed runs the function with arguments matched to the declared inputs
// by name. Every input needs a distinct name, and args must cover the inputs
// exactly.
func (f *Function) CallNamed(args map[string]any) ([]*tensors.Tensor, error) {
	ordered := make([]any, len(f.inputs))
	names := types.MakeSet[string](len(f.inputs))
	for i, in := range f.inputs {
		name := in.Name()
		if name == "" {
			return nil, errors.Errorf("input %d of %s has no name; use Call", i, f.name)
		}
		if names.Has(name) {
			return nil, errors.Errorf("function %s has two inputs named %q; use Call", f.name, name)
		}
		names.Insert(name)
		arg, ok := args[name]
		if !ok {
			return nil, errors.Errorf("function %s is missing argument %q", f.name, name)
		}
		ordered[i] = arg
	}
	if len(args) != len(f.inputs) {
		for name := range args {
			if !names.Has(name) {
				return nil, errors.Errorf("function %s has no input named %q", f.name, name)
			}
		}
	}
	return f.Call(ordered...)
}

// coerce converts a call argument to a tensor, turning the construction
// panics of tensors.FromValue into errors.
func coerce(arg any) (t *tensors.Tensor, err error) {
	if ready, ok := arg.(*tensors.Tensor); ok {
		return ready, nil
	}
	err = exceptions.TryCatch[error](func() { t = tensors.FromValue(arg) })
	return t, err
}
