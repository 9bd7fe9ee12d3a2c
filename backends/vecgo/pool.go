package vecgo

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/symtensor/symtensor/types/shapes"
	"github.com/symtensor/symtensor/types/tensors"
)

// poolKey buckets recyclable buffers: two tensors are interchangeable when
// they hold the same element type and count, whatever their dimensions.
type poolKey struct {
	dtype dtypes.DType
	size  int
}

// devicePools recycles tensor storage for one device. A recycled tensor is
// rewrapped to the requested dimensions on the way out; its flat buffer is
// reused as-is, so contents are stale and callers must overwrite every
// element. Safe for concurrent use.
type devicePools struct {
	pools sync.Map // poolKey -> *sync.Pool of *tensors.Tensor

	hits        atomic.Int64
	misses      atomic.Int64
	bytesReused atomic.Int64
}

func newDevicePools() *devicePools { return &devicePools{} }

// get returns a tensor of the given shape, reusing a recycled buffer when one
// fits. The shape must be concrete.
func (dp *devicePools) get(shape shapes.Shape) *tensors.Tensor {
	key := poolKey{dtype: shape.DType, size: shape.Size()}
	if pool, ok := dp.pools.Load(key); ok {
		if t := pool.(*sync.Pool).Get(); t != nil {
			dp.hits.Add(1)
			dp.bytesReused.Add(int64(shape.Memory()))
			return t.(*tensors.Tensor).Reshaped(shape.Dimensions...)
		}
	}
	dp.misses.Add(1)
	return tensors.FromShape(shape)
}

// Recycle implements backends.Recycler: the program hands back intermediates
// after their last use, and thunks hand back their own staging buffers.
func (dp *devicePools) Recycle(t *tensors.Tensor) {
	key := poolKey{dtype: t.DType(), size: t.Size()}
	pool, _ := dp.pools.LoadOrStore(key, &sync.Pool{})
	pool.(*sync.Pool).Put(t)
}

// stats returns the cumulative counters, for Finalize logging.
func (dp *devicePools) stats() (hits, misses, bytesReused int64) {
	return dp.hits.Load(), dp.misses.Load(), dp.bytesReused.Load()
}
