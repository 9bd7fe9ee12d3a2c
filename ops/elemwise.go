package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/types"
	"github.com/symtensor/symtensor/types/shapes"
)

// Element-wise operation kinds.
const (
	KindNeg      Kind = "neg"
	KindAbs      Kind = "abs"
	KindExp      Kind = "exp"
	KindLog      Kind = "log"
	KindSqrt     Kind = "sqrt"
	KindSigmoid  Kind = "sigmoid"
	KindSoftplus Kind = "softplus"
	KindFloor    Kind = "floor"
	KindCeil     Kind = "ceil"
	KindSign     Kind = "sign"
	KindNot      Kind = "not"

	KindAdd     Kind = "add"
	KindSub     Kind = "sub"
	KindMul     Kind = "mul"
	KindDiv     Kind = "div"
	KindPow     Kind = "pow"
	KindMinimum Kind = "minimum"
	KindMaximum Kind = "maximum"
	KindAnd     Kind = "and"
	KindOr      Kind = "or"

	KindEq Kind = "eq"
	KindNe Kind = "ne"
	KindLt Kind = "lt"
	KindLe Kind = "le"
	KindGt Kind = "gt"
	KindGe Kind = "ge"
)

type dtypeClass int

const (
	anyDType dtypeClass = iota
	numberDType
	floatDType
	boolDType
)

func checkDTypeClass(kind Kind, dtype dtypes.DType, class dtypeClass) error {
	switch class {
	case numberDType:
		if dtype == dtypes.Bool {
			return errors.Errorf("op %q requires a numeric dtype, got %s", kind, dtype)
		}
	case floatDType:
		if !dtype.IsFloat() {
			return errors.Errorf("op %q requires a float dtype, got %s", kind, dtype)
		}
	case boolDType:
		if dtype != dtypes.Bool {
			return errors.Errorf("op %q requires dtype Bool, got %s", kind, dtype)
		}
	}
	return nil
}

var unaryDTypes = map[Kind]dtypeClass{
	KindNeg:      numberDType,
	KindAbs:      numberDType,
	KindExp:      floatDType,
	KindLog:      floatDType,
	KindSqrt:     floatDType,
	KindSigmoid:  floatDType,
	KindSoftplus: floatDType,
	KindFloor:    floatDType,
	KindCeil:     floatDType,
	KindSign:     numberDType,
	KindNot:      boolDType,
}

// Unary is an element-wise operation of one argument. The Kind selects the
// function.
type Unary struct {
	K Kind
}

func (op Unary) Kind() Kind { return op.K }

func (op Unary) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	class, ok := unaryDTypes[op.K]
	if !ok {
		return nil, errors.Errorf("unknown unary op kind %q", op.K)
	}
	if len(inputs) != 1 {
		return nil, errors.Errorf("op %q takes 1 input, got %d", op.K, len(inputs))
	}
	if err := checkDTypeClass(op.K, inputs[0].DType, class); err != nil {
		return nil, err
	}
	return []shapes.Shape{inputs[0].Clone()}, nil
}

var binaryDTypes = map[Kind]dtypeClass{
	KindAdd:     numberDType,
	KindSub:     numberDType,
	KindMul:     numberDType,
	KindDiv:     numberDType,
	KindPow:     numberDType,
	KindMinimum: numberDType,
	KindMaximum: numberDType,
	KindAnd:     boolDType,
	KindOr:      boolDType,
}

// Binary is an element-wise operation of two arguments with broadcasting.
// Both arguments must share a dtype; integer Div truncates like Go's /.
type Binary struct {
	K Kind
}

func (op Binary) Kind() Kind { return op.K }

func (op Binary) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	class, ok := binaryDTypes[op.K]
	if !ok {
		return nil, errors.Errorf("unknown binary op kind %q", op.K)
	}
	if len(inputs) != 2 {
		return nil, errors.Errorf("op %q takes 2 inputs, got %d", op.K, len(inputs))
	}
	if err := checkDTypeClass(op.K, inputs[0].DType, class); err != nil {
		return nil, err
	}
	output, err := shapes.Broadcast(inputs[0], inputs[1])
	if err != nil {
		return nil, errors.WithMessagef(err, "op %q", op.K)
	}
	return []shapes.Shape{output}, nil
}

var compareKinds = types.SetWith(KindEq, KindNe, KindLt, KindLe, KindGt, KindGe)

// Compare is an element-wise comparison with broadcasting; the output dtype
// is Bool. Lt/Le/Gt/Ge require numeric arguments, Eq/Ne accept Bool too.
type Compare struct {
	K Kind
}

func (op Compare) Kind() Kind { return op.K }

func (op Compare) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if !compareKinds.Has(op.K) {
		return nil, errors.Errorf("unknown comparison op kind %q", op.K)
	}
	if len(inputs) != 2 {
		return nil, errors.Errorf("op %q takes 2 inputs, got %d", op.K, len(inputs))
	}
	if op.K != KindEq && op.K != KindNe {
		if err := checkDTypeClass(op.K, inputs[0].DType, numberDType); err != nil {
			return nil, err
		}
	}
	output, err := shapes.Broadcast(inputs[0], inputs[1])
	if err != nil {
		return nil, errors.WithMessagef(err, "op %q", op.K)
	}
	output.DType = dtypes.Bool
	return []shapes.Shape{output}, nil
}

// KindCast casts to the target dtype, keeping dimensions.
const KindCast Kind = "cast"

// Cast converts elements to the target dtype.
type Cast struct {
	To dtypes.DType
}

func (op Cast) Kind() Kind { return KindCast }

func (op Cast) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("cast takes 1 input, got %d", len(inputs))
	}
	output := inputs[0].Clone()
	output.DType = op.To
	return []shapes.Shape{output}, nil
}

// UnaryKinds lists every Kind handled by the Unary descriptor, in a fixed
// order; backends iterate it to register their element-wise kernels.
func UnaryKinds() []Kind {
	return []Kind{KindNeg, KindAbs, KindExp, KindLog, KindSqrt, KindSigmoid,
		KindSoftplus, KindFloor, KindCeil, KindSign, KindNot}
}

// BinaryKinds lists every Kind handled by the Binary descriptor.
func BinaryKinds() []Kind {
	return []Kind{KindAdd, KindSub, KindMul, KindDiv, KindPow, KindMinimum,
		KindMaximum, KindAnd, KindOr}
}

// CompareKinds lists every Kind handled by the Compare descriptor.
func CompareKinds() []Kind {
	return []Kind{KindEq, KindNe, KindLt, KindLe, KindGt, KindGe}
}
