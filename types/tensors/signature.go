package tensors

import (
	"fmt"
	"hash/fnv"
	"reflect"
	"unsafe"
)

// Signature identifies a tensor's contents for deduplication: two tensors
// have equal signatures iff dtype, dimensions and the raw element bytes all
// match. Bit-level identity means NaNs with the same bit pattern compare
// equal here, while +0.0 and -0.0 do not. Runtime comparison ops follow IEEE
// instead; this is only the dedup key for graph constants.
//
// Signature is comparable and usable as a map key. The hash makes collisions
// unlikely; use BitEqual when exact equality must be certain.
type Signature struct {
	DType string
	Dims  string
	Hash  uint64
}

// String implements fmt.Stringer.
func (sig Signature) String() string {
	return fmt.Sprintf("%s%s#%016x", sig.DType, sig.Dims, sig.Hash)
}

// Signature returns the dedup signature of the tensor.
func (t *Tensor) Signature() Signature {
	h := fnv.New64a()
	_, _ = h.Write(t.bytes())
	return Signature{
		DType: t.shape.DType.String(),
		Dims:  fmt.Sprint(t.shape.Dimensions),
		Hash:  h.Sum64(),
	}
}

// bytes returns a read-only view of the flat data as raw bytes.
func (t *Tensor) bytes() []byte {
	flatV := reflect.ValueOf(t.flat)
	if flatV.Len() == 0 {
		return nil
	}
	element0 := flatV.Index(0)
	ptr := element0.Addr().UnsafePointer()
	sizeBytes := uintptr(flatV.Len()) * element0.Type().Size()
	return unsafe.Slice((*byte)(ptr), sizeBytes)
}

// BitEqual reports whether two tensors are bit-identical: same dtype, same
// dimensions, same raw element bytes.
func BitEqual(a, b *Tensor) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || !a.shape.Equal(b.shape) {
		return false
	}
	ab, bb := a.bytes(), b.bytes()
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}
