// Package vecgo implements the accelerated in-process backend. It executes
// the same kernels as purego but recycles buffers through per-device tensor
// pools, splits element-wise work across a worker pool, and fuses chains of
// element-wise operations into single tiled passes with no full-size
// intermediates. Results are identical to purego's.
//
// Importing the package registers the backend:
//
//	import _ "github.com/symtensor/symtensor/backends/vecgo"
//
// The configuration string accepts "devices=N" to expose N virtual devices,
// each with independent buffer pools: backends.New("vecgo:devices=2").
package vecgo

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/backends"
	"github.com/symtensor/symtensor/graph"
	"github.com/symtensor/symtensor/internal/workerspool"
	"github.com/symtensor/symtensor/types/tensors"
	"k8s.io/klog/v2"
)

// Name this backend registers itself under.
const Name = "vecgo"

func init() {
	backends.Register(Name, New)
}

// Backend is a vecgo instance. Every device carries its own buffer pools;
// one worker pool serves all compilations and calls of the instance. Each
// instance owns a clone of the base op registry, so kinds registered on it
// stay local to graphs it compiles.
type Backend struct {
	devices  []*devicePools
	registry *backends.Registry
	workers  *workerspool.Pool
}

// New creates a vecgo backend from its configuration string: empty or a
// comma-separated list of key=value settings. The only key is "devices".
func New(config string) (backends.Backend, error) {
	numDevices := 1
	if config != "" {
		for _, part := range strings.Split(config, ",") {
			key, value, _ := strings.Cut(part, "=")
			switch key {
			case "devices":
				n, err := strconv.Atoi(value)
				if err != nil || n < 1 {
					return nil, errors.Errorf("the vecgo backend wants devices=N with N >= 1, got %q", part)
				}
				numDevices = n
			default:
				return nil, errors.Errorf("unknown vecgo configuration %q", part)
			}
		}
	}
	b := &Backend{
		devices:  make([]*devicePools, numDevices),
		registry: baseRegistry.Clone(),
		workers:  workerspool.New(),
	}
	for i := range b.devices {
		b.devices[i] = newDevicePools()
	}
	return b, nil
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return Name }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return "pooled and parallel Go interpreter with element-wise fusion"
}

// NumDevices implements backends.Backend.
func (b *Backend) NumDevices() int { return len(b.devices) }

// Registry returns the instance's op-dispatch registry. Registering a kind
// on it makes the kind compilable by this instance only.
func (b *Backend) Registry() *backends.Registry { return b.registry }

// Compile links fg for the given device, with element-wise chains fused and
// the device's pools wired in as the program's recycler.
func (b *Backend) Compile(fg *graph.FunctionGraph, device int) (backends.Executable, error) {
	if device < 0 || device >= len(b.devices) {
		return nil, errors.Errorf("the vecgo backend has %d devices, got device %d", len(b.devices), device)
	}
	ctx := backends.NewLowerContext(b, device)
	defer ctx.Close()
	program, err := b.link(fg, ctx)
	if err != nil {
		return nil, err
	}
	program.SetRecycler(b.devices[device])
	return &executable{program: program, pools: b.devices[device]}, nil
}

// link assembles the program step list. Nodes inside a fused chain emit no
// step of their own: the whole chain becomes one raw step at the position of
// its tail, by which point every outside argument has been produced.
func (b *Backend) link(fg *graph.FunctionGraph, ctx *backends.LowerContext) (*backends.Program, error) {
	if free := fg.FreeRoots(); len(free) > 0 {
		return nil, errors.Errorf("free input %s is not bound", free[0])
	}
	plan := planFusion(fg)
	p := backends.NewProgram(fg)
	for _, node := range fg.Order() {
		if plan.interior.Has(node) {
			continue
		}
		if chain := plan.tails[node]; chain != nil {
			thunk, inSlots, err := chain.lower(b, ctx, p)
			if err != nil {
				return nil, errors.WithMessagef(err, "lowering %s", node)
			}
			outSlot, _ := p.SlotOf(node.Outputs[0])
			p.AddRawStep(thunk, inSlots, []int{outSlot}, chain.desc())
			continue
		}
		factory, ok := b.registry.Get(node.Op.Kind())
		if !ok {
			return nil, errors.Errorf("operation kind %q has no implementation for backend %s",
				node.Op.Kind(), b.Name())
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

// instance resolves the backend and device pools a factory compiles against.
func instance(ctx *backends.LowerContext) (*Backend, *devicePools, error) {
	b, ok := ctx.Backend().(*Backend)
	if !ok {
		return nil, nil, errors.Errorf("vecgo factory lowering for backend %s", ctx.Backend().Name())
	}
	return b, b.devices[ctx.Device()], nil
}

// executable pairs the linked program with the device pools it recycles
// into.
type executable struct {
	program *backends.Program
	pools   *devicePools
}

func (e *executable) Run(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return e.program.Run(inputs)
}

// Finalize logs the cumulative pool statistics of the executable's device.
func (e *executable) Finalize() {
	hits, misses, reused := e.pools.stats()
	klog.V(1).Infof("vecgo pools: %d hits, %d misses, %s reused",
		hits, misses, humanize.Bytes(uint64(reused)))
}
