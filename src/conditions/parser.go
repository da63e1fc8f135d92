package conditions

import (
	"fmt"

	"rebalancer/src/utils/errors"
)

// Expr is a parsed condition expression. Evaluation is side-effect free
// and closed over the FieldSource: field references, literals,
// arithmetic, comparisons and boolean connectives only.
type Expr interface {
	Eval(src FieldSource) (Value, error)
	String() string
}

// Parse tokenizes and parses an expression string into an AST.
func Parse(input string) (Expr, error) {
	p := &parser{lex: newLexer(input)}
	if err := p.advance(); err != nil {
		return nil, errors.WrapE(errors.ErrConditionEval, err)
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, errors.WrapE(errors.ErrConditionEval, err)
	}
	if p.cur.typ != tokenEOF {
		return nil, errors.Wrapf(errors.ErrConditionEval,
			"unexpected trailing input %q at position %d", p.cur.lit, p.cur.pos)
	}
	return expr, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: opOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: opAnd, left: left, right: right}
	}
	return left, nil
}

var comparisonOps = map[tokenType]binaryOp{
	tokenLt: opLt,
	tokenLe: opLe,
	tokenGt: opGt,
	tokenGe: opGe,
	tokenEq: opEq,
	tokenNe: opNe,
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if op, ok := comparisonOps[p.cur.typ]; ok {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenPlus || p.cur.typ == tokenMinus {
		op := opAdd
		if p.cur.typ == tokenMinus {
			op = opSub
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenStar || p.cur.typ == tokenSlash {
		op := opMul
		if p.cur.typ == tokenSlash {
			op = opDiv
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.cur.typ {
	case tokenMinus:
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: opNeg, operand: operand}, nil
	case tokenNot:
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: opNot, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	switch p.cur.typ {
	case tokenNumber:
		expr := &numberLit{value: p.cur.num}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	case tokenTrue, tokenFalse:
		expr := &boolLit{value: p.cur.typ == tokenTrue}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	case tokenIdent:
		expr := &fieldRef{name: p.cur.lit}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.typ != tokenRParen {
			return nil, fmt.Errorf("missing ')' at position %d", p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	case tokenEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected token %q at position %d", p.cur.lit, p.cur.pos)
}
