package conditions

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenNumber
	tokenIdent
	tokenTrue
	tokenFalse
	tokenAnd // && or "and"
	tokenOr  // || or "or"
	tokenNot // ! or "not"
	tokenLt
	tokenLe
	tokenGt
	tokenGe
	tokenEq
	tokenNe
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLParen
	tokenRParen
)

type token struct {
	typ tokenType
	pos int
	num float64
	lit string
}

func (t token) String() string {
	if t.lit != "" {
		return t.lit
	}
	return fmt.Sprintf("token(%d)", int(t.typ))
}

var keywordTokens = map[string]tokenType{
	"true":  tokenTrue,
	"false": tokenFalse,
	"and":   tokenAnd,
	"or":    tokenOr,
	"not":   tokenNot,
	// pandas-style spellings accepted for the same operators
	"True":  tokenTrue,
	"False": tokenFalse,
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{typ: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch ch {
	case '(':
		l.pos++
		return token{typ: tokenLParen, pos: start, lit: "("}, nil
	case ')':
		l.pos++
		return token{typ: tokenRParen, pos: start, lit: ")"}, nil
	case '+':
		l.pos++
		return token{typ: tokenPlus, pos: start, lit: "+"}, nil
	case '-':
		l.pos++
		return token{typ: tokenMinus, pos: start, lit: "-"}, nil
	case '*':
		l.pos++
		return token{typ: tokenStar, pos: start, lit: "*"}, nil
	case '/':
		l.pos++
		return token{typ: tokenSlash, pos: start, lit: "/"}, nil
	case '<':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{typ: tokenLe, pos: start, lit: "<="}, nil
		}
		return token{typ: tokenLt, pos: start, lit: "<"}, nil
	case '>':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{typ: tokenGe, pos: start, lit: ">="}, nil
		}
		return token{typ: tokenGt, pos: start, lit: ">"}, nil
	case '=':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{typ: tokenEq, pos: start, lit: "=="}, nil
		}
		return token{}, fmt.Errorf("unexpected '=' at position %d (did you mean '==')", start)
	case '!':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return token{typ: tokenNe, pos: start, lit: "!="}, nil
		}
		return token{typ: tokenNot, pos: start, lit: "!"}, nil
	case '&':
		l.pos++
		if l.peek() == '&' {
			l.pos++
			return token{typ: tokenAnd, pos: start, lit: "&&"}, nil
		}
		return token{}, fmt.Errorf("unexpected '&' at position %d (did you mean '&&')", start)
	case '|':
		l.pos++
		if l.peek() == '|' {
			l.pos++
			return token{typ: tokenOr, pos: start, lit: "||"}, nil
		}
		return token{}, fmt.Errorf("unexpected '|' at position %d (did you mean '||')", start)
	}

	if isDigit(ch) || (ch == '.' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])) {
		return l.lexNumber(start)
	}

	if isIdentStart(ch) {
		return l.lexIdent(start)
	}

	return token{}, fmt.Errorf("unexpected character %q at position %d", string(ch), start)
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *lexer) lexNumber(start int) (token, error) {
	for l.pos < len(l.input) && (isDigit(l.input[l.pos]) || l.input[l.pos] == '.') {
		l.pos++
	}
	lit := l.input[start:l.pos]
	num, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return token{}, fmt.Errorf("bad number %q at position %d", lit, start)
	}
	return token{typ: tokenNumber, pos: start, num: num, lit: lit}, nil
}

func (l *lexer) lexIdent(start int) (token, error) {
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	lit := l.input[start:l.pos]
	if typ, ok := keywordTokens[lit]; ok {
		return token{typ: typ, pos: start, lit: lit}, nil
	}
	if typ, ok := keywordTokens[strings.ToLower(lit)]; ok && (typ == tokenAnd || typ == tokenOr || typ == tokenNot) {
		return token{typ: typ, pos: start, lit: lit}, nil
	}
	return token{typ: tokenIdent, pos: start, lit: lit}, nil
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool { return isIdentStart(ch) || isDigit(ch) }
