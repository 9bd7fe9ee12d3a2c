package shapes

import (
	"slices"

	"github.com/pkg/errors"
)

// Merge unifies two shapes of the same dtype and rank: known dimensions must
// agree, an unknown dimension adopts the other side's value. Used to type
// values that may come from either of two sources (conditional branches).
func Merge(s1, s2 Shape) (Shape, error) {
	if s1.DType != s2.DType {
		return Invalid(), errors.Errorf("cannot merge shapes %s and %s: dtypes differ", s1, s2)
	}
	if s1.Rank() != s2.Rank() {
		return Invalid(), errors.Errorf("cannot merge shapes %s and %s: ranks differ", s1, s2)
	}
	merged := s1.Clone()
	for axis, dim := range s2.Dimensions {
		switch {
		case merged.Dimensions[axis] == UnknownDim:
			merged.Dimensions[axis] = dim
		case dim == UnknownDim || dim == merged.Dimensions[axis]:
			// Keep merged value.
		default:
			return Invalid(), errors.Errorf("cannot merge shapes %s and %s: axis %d has fixed dimensions %d and %d",
				s1, s2, axis, merged.Dimensions[axis], dim)
		}
	}
	return merged, nil
}

// Broadcast returns the shape resulting from broadcasting all given shapes
// together, right-aligned with size-1 axes stretching, the usual broadcasting
// rule. All shapes must share a dtype. An unknown dimension broadcast against
// a known dimension > 1 resolves to the known dimension (checked again at
// call time); against 1 or unknown it stays unknown.
func Broadcast(ss ...Shape) (Shape, error) {
	if len(ss) == 0 {
		return Invalid(), errors.New("Broadcast requires at least one shape")
	}
	result := ss[0].Clone()
	for _, s := range ss[1:] {
		var err error
		result, err = broadcastPair(result, s)
		if err != nil {
			return Invalid(), err
		}
	}
	return result, nil
}

func broadcastPair(s1, s2 Shape) (Shape, error) {
	if s1.DType != s2.DType {
		return Invalid(), errors.Errorf("cannot broadcast %s with %s: dtypes differ", s1, s2)
	}
	rank := max(s1.Rank(), s2.Rank())
	dims := make([]int, rank)
	for i := 1; i <= rank; i++ {
		d1, d2 := 1, 1
		if i <= s1.Rank() {
			d1 = s1.Dimensions[s1.Rank()-i]
		}
		if i <= s2.Rank() {
			d2 = s2.Dimensions[s2.Rank()-i]
		}
		var dim int
		switch {
		case d1 == d2:
			dim = d1
		case d1 == 1:
			dim = d2
		case d2 == 1:
			dim = d1
		case d1 == UnknownDim:
			dim = d2
		case d2 == UnknownDim:
			dim = d1
		default:
			return Invalid(), errors.Errorf("cannot broadcast %s with %s: axis dimensions %d and %d are incompatible",
				s1, s2, d1, d2)
		}
		dims[rank-i] = dim
	}
	return Shape{DType: s1.DType, Dimensions: dims}, nil
}

// BroadcastDims broadcasts only the dimensions of the given shapes, ignoring
// dtypes. Used to type loop carries, where states of different dtypes still
// share one broadcast shape.
func BroadcastDims(ss ...Shape) ([]int, error) {
	if len(ss) == 0 {
		return nil, errors.New("BroadcastDims requires at least one shape")
	}
	result := Shape{DType: ss[0].DType, Dimensions: slices.Clone(ss[0].Dimensions)}
	for _, s := range ss[1:] {
		var err error
		result, err = broadcastPair(result, Shape{DType: result.DType, Dimensions: s.Dimensions})
		if err != nil {
			return nil, err
		}
	}
	return result.Dimensions, nil
}
