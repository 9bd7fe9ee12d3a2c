// Package tensors implements the concrete values a compiled graph consumes
// and produces: a fully defined shape plus a flat backing slice of the Go
// type matching the shape's DType.
//
// Tensors are host-only storage. They are not internally synchronized: a
// tensor must not be mutated concurrently with any other access.
//
// The flat data is laid out in row-major order. Float16 is backed by
// github.com/x448/float16 values and BFloat16 by
// github.com/gomlx/gopjrt/dtypes/bfloat16 values.
package tensors

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/symtensor/symtensor/types/shapes"
)

// Tensor holds a concrete value: a fully defined shape and its flat data.
//
// Create them with FromShape, FromValue, FromScalar, FromFlatDataAndDimensions
// or FromScalarAndDimensions.
type Tensor struct {
	shape shapes.Shape
	flat  any // Slice of the Go type for shape.DType, length shape.Size().
}

func newTensor(shape shapes.Shape) *Tensor {
	if !shape.Ok() || !shape.FullyDefined() {
		exceptions.Panicf("tensors require a valid, fully defined shape, got %s", shape)
	}
	return &Tensor{shape: shape}
}

// FromShape returns a Tensor of the given shape with zero-initialized data.
func FromShape(shape shapes.Shape) *Tensor {
	t := newTensor(shape)
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	t.flat = flatV.Interface()
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given flat data and
// dimensions. The data slice is taken over by the tensor (not copied) when T
// is the dtype's storage type; Go's int is converted to its int64 storage.
// The data length must match the product of the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if !shape.FullyDefined() {
		exceptions.Panicf("FromFlatDataAndDimensions: dimensions must be fully defined, got %v", dimensions)
	}
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions: shape %s requires %d values, got %d", shape, shape.Size(), len(data))
	}
	t := newTensor(shape)
	goType := shape.DType.GoType()
	if reflect.TypeOf(data).Elem() == goType {
		t.flat = data
	} else {
		flatV := reflect.MakeSlice(reflect.SliceOf(goType), len(data), len(data))
		for i, v := range data {
			flatV.Index(i).Set(reflect.ValueOf(v).Convert(goType))
		}
		t.flat = flatV.Interface()
	}
	return t
}

// FromScalar creates a scalar (rank-0) tensor holding the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// FromScalarAndDimensions creates a tensor of the given dimensions with every
// element set to value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if !shape.FullyDefined() {
		exceptions.Panicf("FromScalarAndDimensions: dimensions must be fully defined, got %v", dimensions)
	}
	data := make([]T, shape.Size())
	for i := range data {
		data[i] = value
	}
	return FromFlatDataAndDimensions(data, dimensions...)
}

// FromValue creates a tensor from a Go scalar or (nested) slices. The dtype
// is inferred from the element type, with Go's int becoming Int64. Ragged
// nested slices panic.
func FromValue(value any) *Tensor {
	if t, ok := value.(*Tensor); ok {
		return t
	}
	valueOf := reflect.ValueOf(value)
	dims := valueDimensions(valueOf)
	baseType := valueOf.Type()
	for baseType.Kind() == reflect.Slice {
		baseType = baseType.Elem()
	}
	dtype := dtypes.FromGoType(baseType)
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("FromValue: unsupported element type %s", baseType)
	}
	t := FromShape(shapes.Make(dtype, dims...))
	flatV := reflect.ValueOf(t.flat)
	pos := 0
	fillFlat(flatV, valueOf, dims, &pos)
	if pos != t.Size() {
		exceptions.Panicf("FromValue: ragged nested slices, filled %d of %d elements", pos, t.Size())
	}
	return t
}

func valueDimensions(v reflect.Value) []int {
	var dims []int
	for v.Kind() == reflect.Slice {
		dims = append(dims, v.Len())
		if v.Len() == 0 {
			// Remaining axes are unknowable; treat as rank so far.
			break
		}
		v = v.Index(0)
	}
	return dims
}

func fillFlat(flatV, v reflect.Value, dims []int, pos *int) {
	if len(dims) == 0 {
		flatV.Index(*pos).Set(v.Convert(flatV.Type().Elem()))
		*pos++
		return
	}
	if v.Len() != dims[0] {
		exceptions.Panicf("FromValue: ragged nested slices, expected length %d, got %d", dims[0], v.Len())
	}
	for i := 0; i < v.Len(); i++ {
		fillFlat(flatV, v.Index(i), dims[1:], pos)
	}
}

// Shape of the tensor (a copy, the tensor's shape is immutable).
func (t *Tensor) Shape() shapes.Shape { return t.shape.Clone() }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// IsScalar returns whether the tensor is rank-0.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// FlatAny returns the flat backing slice as `any`. The slice is owned by the
// tensor; mutating it mutates the tensor.
func (t *Tensor) FlatAny() any { return t.flat }

// Flat returns the flat backing slice of a tensor known to hold T elements.
// Panics if T doesn't match the tensor's dtype.
func Flat[T dtypes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		var v T
		exceptions.Panicf("Flat[%T] is incompatible with tensor dtype %s", v, t.shape.DType)
	}
	return flat
}

// ToScalar returns the single element of a scalar tensor.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if !t.IsScalar() {
		exceptions.Panicf("ToScalar called on non-scalar tensor %s", t.shape)
	}
	return Flat[T](t)[0]
}

// Reshaped returns a tensor sharing t's flat data with new dimensions. The
// element count must not change. Callers that go on to mutate either tensor
// should Clone first.
func (t *Tensor) Reshaped(dimensions ...int) *Tensor {
	shape := shapes.Make(t.shape.DType, dimensions...)
	if !shape.FullyDefined() {
		exceptions.Panicf("Reshaped: dimensions must be fully defined, got %v", dimensions)
	}
	if shape.Size() != t.shape.Size() {
		exceptions.Panicf("Reshaped: cannot reshape %s to %s, element counts differ", t.shape, shape)
	}
	return &Tensor{shape: shape, flat: t.flat}
}

// Clone returns an independent deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := newTensor(t.shape)
	flatV := reflect.ValueOf(t.flat)
	cloneV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(cloneV, flatV)
	clone.flat = cloneV.Interface()
	return clone
}

// Value returns the tensor as a Go value: the scalar itself for rank-0,
// nested slices otherwise.
func (t *Tensor) Value() any {
	flatV := reflect.ValueOf(t.flat)
	if t.IsScalar() {
		return flatV.Index(0).Interface()
	}
	pos := 0
	return nestedValue(flatV, t.shape.Dimensions, &pos)
}

func nestedValue(flatV reflect.Value, dims []int, pos *int) any {
	if len(dims) == 1 {
		row := reflect.MakeSlice(flatV.Type(), dims[0], dims[0])
		reflect.Copy(row, flatV.Slice(*pos, *pos+dims[0]))
		*pos += dims[0]
		return row.Interface()
	}
	sliceType := flatV.Type()
	for range dims[1:] {
		sliceType = reflect.SliceOf(sliceType)
	}
	out := reflect.MakeSlice(sliceType, dims[0], dims[0])
	for i := 0; i < dims[0]; i++ {
		out.Index(i).Set(reflect.ValueOf(nestedValue(flatV, dims[1:], pos)))
	}
	return out.Interface()
}

// Equal compares shape and elements with Go's ==, so NaN elements never
// compare equal. For bit-level identity (constant deduplication) see BitEqual.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil || !t.shape.Equal(other.shape) {
		return false
	}
	a, b := reflect.ValueOf(t.flat), reflect.ValueOf(other.flat)
	for i := 0; i < a.Len(); i++ {
		if !a.Index(i).Equal(b.Index(i)) {
			return false
		}
	}
	return true
}

const maxStringElements = 16

// String pretty-prints the shape and up to maxStringElements values.
func (t *Tensor) String() string {
	if t == nil || t.flat == nil {
		return "(nil tensor)"
	}
	flatV := reflect.ValueOf(t.flat)
	if t.IsScalar() {
		return fmt.Sprintf("%v", flatV.Index(0).Interface())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: [", t.shape)
	n := min(t.Size(), maxStringElements)
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%v", flatV.Index(i).Interface())
	}
	if t.Size() > maxStringElements {
		sb.WriteString(" ...")
	}
	sb.WriteString("]")
	return sb.String()
}
