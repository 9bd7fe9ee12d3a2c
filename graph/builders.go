package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/symtensor/symtensor/internal/kernels"
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/tensors"
	"github.com/symtensor/symtensor/types/xslices"
)

// Expression builders: thin wrappers that apply the ops package descriptors.
// They panic (exceptions.Panicf) on invalid arguments, like every other graph
// construction entry point.
//
// Binary builders align mixed dtypes when one side is a scalar constant: the
// constant is folded to the other side's dtype, so literals adopt the dtype
// of the expression they join. Anything else must be cast explicitly.

func alignDTypes(kind ops.Kind, x, y *Variable) (*Variable, *Variable) {
	if x.shape.DType == y.shape.DType {
		return x, y
	}
	xLiteral := x.IsConstant() && x.shape.IsScalar()
	yLiteral := y.IsConstant() && y.shape.IsScalar()
	switch {
	case xLiteral && yLiteral:
		// Two literals: the integer one adopts the float one's dtype.
		if x.shape.DType.IsFloat() && !y.shape.DType.IsFloat() {
			return x, castConst(kind, y, x.shape.DType)
		}
		return castConst(kind, x, y.shape.DType), y
	case xLiteral:
		return castConst(kind, x, y.shape.DType), y
	case yLiteral:
		return x, castConst(kind, y, x.shape.DType)
	}
	assertSameDType(kind, x, y)
	return x, y
}

func castConst(kind ops.Kind, v *Variable, to dtypes.DType) *Variable {
	cast, err := kernels.Cast(v.constValue, to)
	if err != nil {
		exceptions.Panicf("op %q: cannot cast scalar constant %s to %s: %v", kind, v.constValue, to, err)
	}
	return NewConstant(cast)
}

func unary(kind ops.Kind, x *Variable) *Variable {
	return applyOp1(ops.Unary{K: kind}, x)
}

func binary(kind ops.Kind, x, y *Variable) *Variable {
	x, y = alignDTypes(kind, x, y)
	return applyOp1(ops.Binary{K: kind}, x, y)
}

func compare(kind ops.Kind, x, y *Variable) *Variable {
	x, y = alignDTypes(kind, x, y)
	return applyOp1(ops.Compare{K: kind}, x, y)
}

// Neg returns -x.
func Neg(x *Variable) *Variable { return unary(ops.KindNeg, x) }

// Abs returns |x|.
func Abs(x *Variable) *Variable { return unary(ops.KindAbs, x) }

// Exp returns e^x.
func Exp(x *Variable) *Variable { return unary(ops.KindExp, x) }

// Log returns the natural logarithm of x.
func Log(x *Variable) *Variable { return unary(ops.KindLog, x) }

// Sqrt returns the square root of x.
func Sqrt(x *Variable) *Variable { return unary(ops.KindSqrt, x) }

// Sigmoid returns 1/(1+e^-x).
func Sigmoid(x *Variable) *Variable { return unary(ops.KindSigmoid, x) }

// Softplus returns log(1+e^x), computed stably.
func Softplus(x *Variable) *Variable { return unary(ops.KindSoftplus, x) }

// Floor rounds x toward negative infinity.
func Floor(x *Variable) *Variable { return unary(ops.KindFloor, x) }

// Ceil rounds x toward positive infinity.
func Ceil(x *Variable) *Variable { return unary(ops.KindCeil, x) }

// Sign returns -1, 0 or +1 per element.
func Sign(x *Variable) *Variable { return unary(ops.KindSign, x) }

// Not negates a Bool tensor.
func Not(x *Variable) *Variable { return unary(ops.KindNot, x) }

// Add returns x+y with broadcasting.
func Add(x, y *Variable) *Variable { return binary(ops.KindAdd, x, y) }

// Sub returns x-y with broadcasting.
func Sub(x, y *Variable) *Variable { return binary(ops.KindSub, x, y) }

// Mul returns x*y with broadcasting.
func Mul(x, y *Variable) *Variable { return binary(ops.KindMul, x, y) }

// Div returns x/y with broadcasting; integer division truncates like Go's.
func Div(x, y *Variable) *Variable { return binary(ops.KindDiv, x, y) }

// Pow returns x^y with broadcasting.
func Pow(x, y *Variable) *Variable { return binary(ops.KindPow, x, y) }

// Minimum returns the element-wise minimum of x and y.
func Minimum(x, y *Variable) *Variable { return binary(ops.KindMinimum, x, y) }

// Maximum returns the element-wise maximum of x and y.
func Maximum(x, y *Variable) *Variable { return binary(ops.KindMaximum, x, y) }

// And returns the element-wise conjunction of Bool tensors.
func And(x, y *Variable) *Variable { return binary(ops.KindAnd, x, y) }

// Or returns the element-wise disjunction of Bool tensors.
func Or(x, y *Variable) *Variable { return binary(ops.KindOr, x, y) }

// Eq returns x == y element-wise, as Bool.
func Eq(x, y *Variable) *Variable { return compare(ops.KindEq, x, y) }

// Ne returns x != y element-wise, as Bool.
func Ne(x, y *Variable) *Variable { return compare(ops.KindNe, x, y) }

// Lt returns x < y element-wise, as Bool.
func Lt(x, y *Variable) *Variable { return compare(ops.KindLt, x, y) }

// Le returns x <= y element-wise, as Bool.
func Le(x, y *Variable) *Variable { return compare(ops.KindLe, x, y) }

// Gt returns x > y element-wise, as Bool.
func Gt(x, y *Variable) *Variable { return compare(ops.KindGt, x, y) }

// Ge returns x >= y element-wise, as Bool.
func Ge(x, y *Variable) *Variable { return compare(ops.KindGe, x, y) }

// Cast converts x to the given dtype, keeping dimensions.
func Cast(x *Variable, to dtypes.DType) *Variable {
	if x.shape.DType == to {
		return x
	}
	return applyOp1(ops.Cast{To: to}, x)
}

// Reshape reinterprets x with the given dimensions; one of them may be -1 to
// be inferred from the input size.
func Reshape(x *Variable, dims ...int) *Variable {
	return applyOp1(ops.Reshape{Dims: dims}, x)
}

// Transpose permutes the axes of x. With no permutation given the axes are
// reversed.
func Transpose(x *Variable, perm ...int) *Variable {
	if len(perm) == 0 {
		perm = make([]int, x.Rank())
		for i := range perm {
			perm[i] = x.Rank() - 1 - i
		}
	}
	return applyOp1(ops.Transpose{Perm: perm}, x)
}

// ExpandDims inserts a size-1 axis at the given position; negative counts
// from the end, -1 appends.
func ExpandDims(x *Variable, axis int) *Variable {
	return applyOp1(ops.ExpandDims{Axis: axis}, x)
}

// Squeeze removes a size-1 axis.
func Squeeze(x *Variable, axis int) *Variable {
	return applyOp1(ops.Squeeze{Axis: axis}, x)
}

// SliceAxis takes the half-open range [start, stop) with the given step along
// one axis. stop beyond the axis dimension clamps to it.
func SliceAxis(x *Variable, axis, start, stop, step int) *Variable {
	return applyOp1(ops.Slice{Axis: axis, Start: start, Stop: stop, Step: step}, x)
}

// Take gathers the rows of x selected by the integer vector indices along the
// given axis.
func Take(x, indices *Variable, axis int) *Variable {
	return applyOp1(ops.Take{Axis: axis}, x, indices)
}

// MakeVector assembles scalars into a vector. The dtype is taken from the
// first element.
func MakeVector(elems ...*Variable) *Variable {
	if len(elems) == 0 {
		exceptions.Panicf("MakeVector requires at least one element")
	}
	return applyOp1(ops.MakeVector{DType: elems[0].shape.DType}, elems...)
}

// Join concatenates same-rank variables along an axis.
func Join(axis int, xs ...*Variable) *Variable {
	return applyOp1(ops.Join{Axis: axis}, xs...)
}

// Split partitions x along an axis into pieces whose sizes come from the
// integer vector sizes, which must have a determinate static length (the
// number of pieces). The sizes must sum to the axis dimension at call time.
func Split(x, sizes *Variable, axis int) []*Variable {
	n, err := VectorLength(sizes)
	if err != nil {
		exceptions.Panicf("Split: cannot tell how many pieces to produce: %v", err)
	}
	return ApplyOp(ops.Split{Axis: axis, N: n}, x, sizes)
}

// Alloc broadcasts the fill value into a tensor of the runtime shape given by
// the integer scalar dimensions.
func Alloc(value *Variable, dims ...*Variable) *Variable {
	inputs := append([]*Variable{value}, dims...)
	return applyOp1(ops.Alloc{}, inputs...)
}

// Empty produces a tensor of the given dtype and runtime shape with
// unspecified contents (concretely zeroed; only dtype and shape are
// contractual).
func Empty(dtype dtypes.DType, dims ...*Variable) *Variable {
	return applyOp1(ops.Empty{DType: dtype}, dims...)
}

// ARange produces the vector [start, stop) advancing by step, with the given
// dtype. All three bounds are runtime scalars.
func ARange(dtype dtypes.DType, start, stop, step *Variable) *Variable {
	return applyOp1(ops.ARange{DType: dtype}, start, stop, step)
}

// Eye produces an n x m matrix with ones on the k-th diagonal.
func Eye(dtype dtypes.DType, n, m, k *Variable) *Variable {
	return applyOp1(ops.Eye{DType: dtype}, n, m, k)
}

// ShapeOf returns the runtime shape of x as an Int64 vector of length
// x.Rank(). When the static shape is fully defined it folds to a constant.
func ShapeOf(x *Variable) *Variable {
	if x.shape.FullyDefined() {
		dims := xslices.Map(x.shape.Dimensions, func(d int) int64 { return int64(d) })
		return NewConstant(tensors.FromFlatDataAndDimensions(dims, len(dims)))
	}
	return applyOp1(ops.ShapeOf{}, x)
}

// DeepCopy returns an independent copy of x: mutating the result (or the
// original) after the call never affects the other.
func DeepCopy(x *Variable) *Variable {
	return applyOp1(ops.DeepCopy{}, x)
}

// Copy is DeepCopy with a name attached to the result.
func Copy(x *Variable, name string) *Variable {
	return DeepCopy(x).SetName(name)
}

// ReduceSum sums x over the given axes (all axes when none are given).
func ReduceSum(x *Variable, axes ...int) *Variable {
	return applyOp1(ops.ReduceSum{Axes: axes}, x)
}

// ReduceMax takes the maximum of x over the given axes (all when none).
func ReduceMax(x *Variable, axes ...int) *Variable {
	return applyOp1(ops.ReduceMax{Axes: axes}, x)
}

// Dot is the vector/matrix product: vec·vec -> scalar, mat·vec -> vec,
// mat·mat -> mat.
func Dot(x, y *Variable) *Variable {
	return applyOp1(ops.Dot{}, x, y)
}

// CheckAndRaise passes value through unchanged, but fails the call with err
// (wrapped in msg, matchable with errors.Is) if any of the Bool scalar
// conditions is false at call time.
func CheckAndRaise(value *Variable, err error, msg string, conds ...*Variable) *Variable {
	inputs := append([]*Variable{value}, conds...)
	return applyOp1(ops.CheckAndRaise{Err: err, Msg: msg}, inputs...)
}
