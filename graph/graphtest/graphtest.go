// Package graphtest holds test utilities for packages that execute
// FunctionGraphs: it instantiates every in-tree backend and compares call
// results across them, so the same test exercises each execution engine.
package graphtest

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/symtensor/symtensor/backends"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/internal/kernels"
	"github.com/symtensor/symtensor/types/tensors"

	_ "github.com/symtensor/symtensor/backends/default"
)

// GraphFn builds a computation and returns its placeholder inputs and its
// outputs. Tests usually close over nothing and build everything inside.
type GraphFn func() (inputs, outputs []*graph.Variable)

// Backends returns a fresh instance of every in-tree backend.
func Backends(t *testing.T) []backends.Backend {
	t.Helper()
	all := make([]backends.Backend, 0, 2)
	for _, name := range []string{"purego", "vecgo"} {
		b, err := backends.New(name)
		require.NoErrorf(t, err, "building backend %q", name)
		all = append(all, b)
	}
	return all
}

// ToTensors converts Go values (scalars, nested slices, or tensors passed
// through) into call arguments.
func ToTensors(args ...any) []*tensors.Tensor {
	out := make([]*tensors.Tensor, len(args))
	for i, arg := range args {
		out[i] = tensors.FromValue(arg)
	}
	return out
}

// RunGraphFn compiles graphFn on every in-tree backend as subtests, calls it
// with args (followed by the current values of any shared containers the
// graph reads) and requires the outputs to match want within delta.
// delta <= 0 means exact equality; NaNs always compare equal to NaNs.
func RunGraphFn(t *testing.T, name string, graphFn GraphFn, args []any, want []any, delta float64) {
	t.Run(name, func(t *testing.T) {
		inputs, outputs := graphFn()
		fg := graph.NewFunctionGraph(inputs, outputs)
		argTensors := ToTensors(args...)
		for _, shared := range fg.Shareds() {
			argTensors = append(argTensors, shared.Get())
		}
		wantTensors := ToTensors(want...)

		for _, backend := range Backends(t) {
			t.Run(backend.Name(), func(t *testing.T) {
				exec, err := backend.Compile(fg, 0)
				require.NoError(t, err)
				defer exec.Finalize()

				got, err := exec.Run(argTensors)
				require.NoError(t, err)
				require.Len(t, got, len(wantTensors))
				for i := range wantTensors {
					RequireSameTensors(t, wantTensors[i], got[i], delta)
				}
			})
		}
	})
}

// RequireBackendsAgree runs fg with args on every in-tree backend and
// requires all of them to produce the same outputs within delta. It returns
// the first backend's outputs for further assertions.
func RequireBackendsAgree(t *testing.T, fg *graph.FunctionGraph, args []*tensors.Tensor, delta float64) []*tensors.Tensor {
	t.Helper()
	var reference []*tensors.Tensor
	var referenceName string
	for _, backend := range Backends(t) {
		exec, err := backend.Compile(fg, 0)
		require.NoErrorf(t, err, "compiling on %s", backend.Name())
		got, err := exec.Run(args)
		exec.Finalize()
		require.NoErrorf(t, err, "running on %s", backend.Name())
		if reference == nil {
			reference, referenceName = got, backend.Name()
			continue
		}
		require.Len(t, got, len(reference))
		for i := range reference {
			if diff := tensorDiff(t, reference[i], got[i], delta); diff != "" {
				t.Fatalf("output %d differs between %s and %s (-%s +%s):\n%s",
					i, referenceName, backend.Name(), referenceName, backend.Name(), diff)
			}
		}
	}
	return reference
}

// RequireSameTensors fails the test unless want and got hold the same dtype,
// dimensions and values (within delta; NaNs match NaNs).
func RequireSameTensors(t *testing.T, want, got *tensors.Tensor, delta float64) {
	t.Helper()
	if diff := tensorDiff(t, want, got, delta); diff != "" {
		t.Fatalf("tensors differ (-want +got):\n%s", diff)
	}
}

// tensorView is the canonical comparison form: the dtype tag, the dimensions
// and the flat data widened to float64 or int64, so half-precision floats and
// narrow integers compare by value rather than representation.
type tensorView struct {
	DType string
	Dims  []int
	Data  any
}

func view(t *testing.T, tensor *tensors.Tensor) tensorView {
	t.Helper()
	v := tensorView{DType: tensor.DType().String(), Dims: tensor.Shape().Dimensions}
	switch {
	case tensor.DType() == dtypes.Bool:
		v.Data = slices.Clone(tensors.Flat[bool](tensor))
	case tensor.DType().IsFloat():
		widened, err := kernels.Cast(tensor, dtypes.Float64)
		require.NoError(t, err)
		v.Data = tensors.Flat[float64](widened)
	default:
		widened, err := kernels.Cast(tensor, dtypes.Int64)
		require.NoError(t, err)
		v.Data = tensors.Flat[int64](widened)
	}
	return v
}

func tensorDiff(t *testing.T, want, got *tensors.Tensor, delta float64) string {
	t.Helper()
	opts := cmp.Options{cmpopts.EquateEmpty(), cmpopts.EquateNaNs()}
	if delta > 0 {
		opts = append(opts, cmpopts.EquateApprox(0, delta))
	}
	return cmp.Diff(view(t, want), view(t, got), opts...)
}
