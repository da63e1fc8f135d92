package conditions

import (
	"fmt"

	"rebalancer/src/utils/errors"
)

type binaryOp int

const (
	opAdd binaryOp = iota
	opSub
	opMul
	opDiv
	opLt
	opLe
	opGt
	opGe
	opEq
	opNe
	opAnd
	opOr
)

var binaryOpNames = map[binaryOp]string{
	opAdd: "+", opSub: "-", opMul: "*", opDiv: "/",
	opLt: "<", opLe: "<=", opGt: ">", opGe: ">=",
	opEq: "==", opNe: "!=", opAnd: "&&", opOr: "||",
}

type unaryOp int

const (
	opNeg unaryOp = iota
	opNot
)

type numberLit struct {
	value float64
}

func (n *numberLit) Eval(_ FieldSource) (Value, error) { return Number(n.value), nil }
func (n *numberLit) String() string                    { return fmt.Sprintf("%g", n.value) }

type boolLit struct {
	value bool
}

func (b *boolLit) Eval(_ FieldSource) (Value, error) { return Boolean(b.value), nil }
func (b *boolLit) String() string                    { return fmt.Sprintf("%t", b.value) }

type fieldRef struct {
	name string
}

func (f *fieldRef) Eval(src FieldSource) (Value, error) {
	v, ok := src.Field(f.name)
	if !ok {
		return Value{}, errors.Wrapf(errors.ErrDataUnavailable, "field %q not present in context", f.name)
	}
	return v, nil
}

func (f *fieldRef) String() string { return f.name }

type unaryExpr struct {
	op      unaryOp
	operand Expr
}

func (u *unaryExpr) Eval(src FieldSource) (Value, error) {
	v, err := u.operand.Eval(src)
	if err != nil {
		return Value{}, err
	}
	switch u.op {
	case opNeg:
		if v.Kind != KindNumber {
			return Value{}, errors.Wrapf(errors.ErrConditionEval, "unary '-' requires a number, got %s", v.Kind)
		}
		return Number(-v.Num), nil
	case opNot:
		if v.Kind != KindBool {
			return Value{}, errors.Wrapf(errors.ErrConditionEval, "'not' requires a bool, got %s", v.Kind)
		}
		return Boolean(!v.Bool), nil
	}
	return Value{}, errors.Newf("unknown unary operator %d", u.op)
}

func (u *unaryExpr) String() string {
	if u.op == opNeg {
		return fmt.Sprintf("(-%s)", u.operand)
	}
	return fmt.Sprintf("(not %s)", u.operand)
}

type binaryExpr struct {
	op    binaryOp
	left  Expr
	right Expr
}

func (b *binaryExpr) Eval(src FieldSource) (Value, error) {
	// && and || short-circuit; everything else evaluates both sides
	if b.op == opAnd || b.op == opOr {
		return b.evalLogical(src)
	}

	left, err := b.left.Eval(src)
	if err != nil {
		return Value{}, err
	}
	right, err := b.right.Eval(src)
	if err != nil {
		return Value{}, err
	}

	switch b.op {
	case opAdd, opSub, opMul, opDiv:
		return b.evalArithmetic(left, right)
	case opLt, opLe, opGt, opGe:
		return b.evalOrdering(left, right)
	case opEq, opNe:
		return b.evalEquality(left, right)
	}
	return Value{}, errors.Newf("unknown binary operator %d", b.op)
}

func (b *binaryExpr) evalLogical(src FieldSource) (Value, error) {
	left, err := b.left.Eval(src)
	if err != nil {
		return Value{}, err
	}
	if left.Kind != KindBool {
		return Value{}, errors.Wrapf(errors.ErrConditionEval,
			"%q requires bool operands, got %s", binaryOpNames[b.op], left.Kind)
	}
	if b.op == opAnd && !left.Bool {
		return Boolean(false), nil
	}
	if b.op == opOr && left.Bool {
		return Boolean(true), nil
	}
	right, err := b.right.Eval(src)
	if err != nil {
		return Value{}, err
	}
	if right.Kind != KindBool {
		return Value{}, errors.Wrapf(errors.ErrConditionEval,
			"%q requires bool operands, got %s", binaryOpNames[b.op], right.Kind)
	}
	return right, nil
}

func (b *binaryExpr) evalArithmetic(left, right Value) (Value, error) {
	if left.Kind != KindNumber || right.Kind != KindNumber {
		return Value{}, errors.Wrapf(errors.ErrConditionEval,
			"%q requires number operands, got %s and %s", binaryOpNames[b.op], left.Kind, right.Kind)
	}
	switch b.op {
	case opAdd:
		return Number(left.Num + right.Num), nil
	case opSub:
		return Number(left.Num - right.Num), nil
	case opMul:
		return Number(left.Num * right.Num), nil
	case opDiv:
		if right.Num == 0 {
			return Value{}, errors.Wrap(errors.ErrArithmeticDegenerate, "division by zero")
		}
		return Number(left.Num / right.Num), nil
	}
	return Value{}, errors.Newf("unknown arithmetic operator %d", b.op)
}

func (b *binaryExpr) evalOrdering(left, right Value) (Value, error) {
	if left.Kind != KindNumber || right.Kind != KindNumber {
		return Value{}, errors.Wrapf(errors.ErrConditionEval,
			"%q requires number operands, got %s and %s", binaryOpNames[b.op], left.Kind, right.Kind)
	}
	switch b.op {
	case opLt:
		return Boolean(left.Num < right.Num), nil
	case opLe:
		return Boolean(left.Num <= right.Num), nil
	case opGt:
		return Boolean(left.Num > right.Num), nil
	case opGe:
		return Boolean(left.Num >= right.Num), nil
	}
	return Value{}, errors.Newf("unknown ordering operator %d", b.op)
}

func (b *binaryExpr) evalEquality(left, right Value) (Value, error) {
	if left.Kind != right.Kind {
		return Value{}, errors.Wrapf(errors.ErrConditionEval,
			"%q requires operands of the same type, got %s and %s", binaryOpNames[b.op], left.Kind, right.Kind)
	}
	var equal bool
	if left.Kind == KindNumber {
		equal = left.Num == right.Num
	} else {
		equal = left.Bool == right.Bool
	}
	if b.op == opNe {
		equal = !equal
	}
	return Boolean(equal), nil
}

func (b *binaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.left, binaryOpNames[b.op], b.right)
}
