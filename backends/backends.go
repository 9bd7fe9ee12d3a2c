// Package backends defines what an execution backend must implement to run
// compiled FunctionGraphs, and the two registries that tie the system
// together: the constructor registry (backend names to constructors, selected
// by a configuration string) and the per-backend-instance op-dispatch
// Registry mapping operation kinds to thunk factories.
//
// It also provides the linker shared by the in-tree backends: a Program holds
// the slot arena derived from a FunctionGraph and the bound thunks in
// topological order; Run executes them with a fresh value table per call.
//
// Backends are selected by a configuration string "name" or "name:config",
// e.g. "purego" or "vecgo:devices=2". An empty string consults the
// SYMTENSOR_BACKEND environment variable, then DefaultConfig, then the
// registered backends in preference order.
package backends

import (
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/types/tensors"
)

// Backend compiles FunctionGraphs for one execution engine. Implementations
// register a Constructor under their name in an init function, so importing
// the backend's package is enough to make it selectable.
type Backend interface {
	// Name returns the short name the backend registered itself under,
	// e.g. "purego".
	Name() string

	// Description is a longer human-readable description.
	Description() string

	// NumDevices returns how many devices the backend exposes. Devices are
	// numbered 0 to NumDevices()-1.
	NumDevices() int

	// Compile lowers the graph for the given device and returns an
	// executable pinned to it. Unresolvable operation kinds and invalid
	// graphs surface here, never at call time.
	Compile(fg *graph.FunctionGraph, device int) (Executable, error)
}

// Executable is a compiled FunctionGraph ready to run.
//
// Run is synchronous. Inputs are the graph's declared inputs followed by the
// current values of its shared containers, in FunctionGraph.Shareds() order.
// Each call builds a private value table, so an Executable without shared
// state may be run concurrently.
type Executable interface {
	Run(inputs []*tensors.Tensor) ([]*tensors.Tensor, error)
	Finalize()
}

// Constructor builds a backend instance from its configuration string (the
// part after ":" in the selection string, possibly empty).
type Constructor func(config string) (Backend, error)

var registeredConstructors = make(map[string]Constructor)

// preferenceOrder breaks ties when no backend is named explicitly: the first
// registered name on this list wins.
var preferenceOrder = []string{"vecgo", "purego"}

// Register makes a backend selectable under the given name. Call it from the
// backend package's init.
func Register(name string, constructor Constructor) {
	if name == "" || constructor == nil {
		exceptions.Panicf("backends.Register: name and constructor required")
	}
	if _, dup := registeredConstructors[name]; dup {
		exceptions.Panicf("backends.Register: backend %q registered twice", name)
	}
	registeredConstructors[name] = constructor
}

// List returns the registered backend names, sorted.
func List() []string {
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// SYMTENSOR_BACKEND is the environment variable consulted when New is called
// with an empty configuration string. Its value has the same "name[:config]"
// format.
const SYMTENSOR_BACKEND = "SYMTENSOR_BACKEND"

// DefaultConfig, when set, is used by New("") after the environment variable
// and before the preference-order default.
var DefaultConfig string

// New builds a backend from a "name[:config]" string.
//
// With an empty string the default is resolved in order: the
// SYMTENSOR_BACKEND environment variable, the DefaultConfig variable, then
// the first registered backend in preference order ("vecgo", "purego",
// anything else).
func New(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(
			`no backends registered: import one, e.g. _ "github.com/symtensor/symtensor/backends/purego"`)
	}
	if config == "" {
		config = os.Getenv(SYMTENSOR_BACKEND)
	}
	if config == "" {
		config = DefaultConfig
	}
	name, backendConfig := splitConfig(config)
	if name == "" {
		name = defaultName()
	}
	constructor, found := registeredConstructors[name]
	if !found {
		return nil, errors.Errorf("backend %q is not registered (missing import of its package?): registered backends are %v",
			name, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating backend %q", name)
	}
	return backend, nil
}

// NewOrDie is New panicking on error, for main functions and examples.
func NewOrDie(config string) Backend {
	backend, err := New(config)
	if err != nil {
		exceptions.Panicf("backends.NewOrDie(%q): %v", config, err)
	}
	return backend
}

func splitConfig(config string) (name, backendConfig string) {
	if idx := strings.Index(config, ":"); idx != -1 {
		return config[:idx], config[idx+1:]
	}
	return config, ""
}

func defaultName() string {
	for _, name := range preferenceOrder {
		if _, ok := registeredConstructors[name]; ok {
			return name
		}
	}
	return List()[0]
}
