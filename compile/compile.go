// Package compile turns graph outputs into callable functions. NewFunction
// freezes the computation reaching the requested outputs, validates it,
// compiles it on a backend and wires the shared-variable update protocol
// around the executable: shared containers read by the graph become implicit
// trailing inputs, update expressions become trailing outputs, and updates
// commit only after a call succeeds.
package compile

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/backends"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/types"
	"go.uber.org/multierr"
)

// config collects the NewFunction options.
type config struct {
	name          string
	backend       backends.Backend
	backendConfig string
	device        int
	updates       map[*graph.Shared]*graph.Variable
}

// Option configures NewFunction.
type Option func(*config)

// WithName names the function; errors and logs carry it. The default is a
// fresh "fn_uuid_<uuid>" name.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithBackend selects the backend by configuration string, "name[:config]".
// Without it (or with an empty string) the default resolution of
// backends.New applies.
func WithBackend(backendConfig string) Option {
	return func(c *config) { c.backendConfig = backendConfig }
}

// WithBackendInstance compiles on an existing backend instance. Takes
// precedence over WithBackend.
func WithBackendInstance(b backends.Backend) Option {
	return func(c *config) { c.backend = b }
}

// WithDevice pins the executable to one of the backend's devices. The
// default is device 0.
func WithDevice(device int) Option {
	return func(c *config) { c.device = device }
}

// WithUpdates binds update expressions to shared containers: after every
// successful call each container receives its expression's value. A later
// WithUpdates replaces an earlier one.
func WithUpdates(updates map[*graph.Shared]*graph.Variable) Option {
	return func(c *config) { c.updates = updates }
}

// update is one committed binding, expression value into container.
type update struct {
	shared *graph.Shared
	expr   *graph.Variable
}

// NewFunction compiles the computation producing outputs (and the update
// expressions, if any) into a callable Function. inputs declares the free
// variables bound to arguments, in call order; every other root reachable
// from the outputs must be a constant or a shared container.
//
// All validation problems are collected and returned together.
func NewFunction(inputs, outputs []*graph.Variable, opts ...Option) (*Function, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	var errs error
	seen := types.MakeSet[*graph.Variable](len(inputs))
	for i, in := range inputs {
		switch {
		case in == nil:
			errs = multierr.Append(errs, errors.Errorf("input %d is nil", i))
		case in.Role() != graph.RoleInput:
			errs = multierr.Append(errs, errors.Errorf("input %d (%s) has role %s, only plain inputs can be declared", i, in, in.Role()))
		case seen.Has(in):
			errs = multierr.Append(errs, errors.Errorf("input %s declared twice", in))
		default:
			seen.Insert(in)
		}
	}
	for i, out := range outputs {
		if out == nil {
			errs = multierr.Append(errs, errors.Errorf("output %d is nil", i))
		}
	}
	updates := make([]update, 0, len(cfg.updates))
	for shared, expr := range cfg.updates {
		switch {
		case shared == nil:
			errs = multierr.Append(errs, errors.New("update bound to a nil shared container"))
		case expr == nil:
			errs = multierr.Append(errs, errors.Errorf("update for %q has a nil expression", shared.Name()))
		default:
			root := shared.Variable()
			if expr.DType() != root.DType() || expr.Rank() != root.Rank() {
				errs = multierr.Append(errs, errors.Errorf("update for %q is shaped %s, the container holds %s",
					shared.Name(), expr.Shape(), root.Shape()))
				continue
			}
			updates = append(updates, update{shared: shared, expr: expr})
		}
	}
	if len(outputs)+len(cfg.updates) == 0 {
		errs = multierr.Append(errs, errors.New("a function needs at least one output or update"))
	}
	if errs != nil {
		return nil, errs
	}
	// Map iteration order is random; the trailing outputs are not.
	slices.SortFunc(updates, func(a, b update) int {
		return cmp.Compare(a.shared.Variable().ID(), b.shared.Variable().ID())
	})

	combined := slices.Clone(outputs)
	for _, u := range updates {
		combined = append(combined, u.expr)
	}
	fg := graph.NewFunctionGraph(inputs, combined)
	for _, root := range fg.FreeRoots() {
		errs = multierr.Append(errs, errors.Errorf("free input %s is not bound", root))
	}
	if errs != nil {
		return nil, errs
	}

	backend := cfg.backend
	if backend == nil {
		var err error
		backend, err = backends.New(cfg.backendConfig)
		if err != nil {
			return nil, err
		}
	}
	name := cfg.name
	if name == "" {
		name = fmt.Sprintf("fn_uuid_%s", uuid.NewString())
	}
	exec, err := backend.Compile(fg, cfg.device)
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling %s", name)
	}
	return &Function{
		name:    name,
		backend: backend,
		device:  cfg.device,
		exec:    exec,
		inputs:  slices.Clone(inputs),
		outputs: slices.Clone(outputs),
		updates: updates,
		shareds: fg.Shareds(),
	}, nil
}
