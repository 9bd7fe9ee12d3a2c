package shapes

import "iter"

// Iter iterates over all index vectors of the shape in row-major order (last
// axis fastest). To avoid allocations the yielded slice is owned by Iter:
// don't modify or retain it inside the loop.
//
// Shapes that are invalid, not fully defined, or contain a zero dimension
// yield nothing. Scalars yield a single empty index.
func (s Shape) Iter() iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		if !s.Ok() || !s.FullyDefined() {
			return
		}
		rank := s.Rank()
		if rank == 0 {
			_ = yield(make([]int, 0))
			return
		}
		for _, dim := range s.Dimensions {
			if dim == 0 {
				return
			}
		}

		indices := make([]int, rank)
		for {
			if !yield(indices) {
				return
			}
			// Increment as an N-dimensional counter with carry.
			axis := rank - 1
			for ; axis >= 0; axis-- {
				if s.Dimensions[axis] == 1 {
					continue
				}
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				indices[axis] = 0
			}
			if axis < 0 {
				break
			}
		}
	}
}

// Strides returns the row-major strides of the shape, in elements.
// Only meaningful for fully defined shapes.
func (s Shape) Strides() []int {
	strides := make([]int, s.Rank())
	stride := 1
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}
