package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/symtensor/symtensor/types/shapes"
)

// KindCheckAndRaise validates runtime conditions, passing its value through.
const KindCheckAndRaise Kind = "check_and_raise"

// CheckAndRaise takes (value, cond0, cond1, ...) with Bool scalar conditions.
// At call time every condition is evaluated; if any is false the call fails
// with Err wrapped in Msg (the first violated condition is reported), and the
// caller can match Err with errors.Is. On success the value passes through
// unchanged.
type CheckAndRaise struct {
	Err error
	Msg string
}

func (op CheckAndRaise) Kind() Kind { return KindCheckAndRaise }

func (op CheckAndRaise) OutputShapes(inputs []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputs) < 2 {
		return nil, errors.New("check_and_raise requires a value and at least one condition")
	}
	for i, cond := range inputs[1:] {
		if !cond.IsScalar() || cond.DType != dtypes.Bool {
			return nil, errors.Errorf("check_and_raise condition %d must be a Bool scalar, got %s", i, cond)
		}
	}
	return []shapes.Shape{inputs[0].Clone()}, nil
}
