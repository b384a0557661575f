package selector

import (
	"fmt"
	"strconv"
)

type parser struct {
	expr   string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokKeyword && t.text == word
}

func (p *parser) acceptKeyword(word string) bool {
	if p.isKeyword(word) {
		p.next()
		return true
	}
	return false
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Expr: p.expr, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s", what)
	}
	return t, nil
}

func (p *parser) parse() (node, error) {
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.acceptKeyword("NOT") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	if t.kind == tokOp {
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compareNode{op: t.text, left: left, right: right}, nil
	}

	if p.acceptKeyword("IS") {
		negate := p.acceptKeyword("NOT")
		if !p.acceptKeyword("NULL") {
			return nil, p.errorf(p.peek(), "expected NULL")
		}
		return isNullNode{operand: left, negate: negate}, nil
	}

	negate := false
	if p.isKeyword("NOT") {
		// only valid before LIKE, IN or BETWEEN
		p.next()
		negate = true
	}

	switch {
	case p.acceptKeyword("LIKE"):
		return p.parseLike(left, negate)
	case p.acceptKeyword("IN"):
		return p.parseIn(left, negate)
	case p.acceptKeyword("BETWEEN"):
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.acceptKeyword("AND") {
			return nil, p.errorf(p.peek(), "expected AND in BETWEEN")
		}
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return betweenNode{operand: left, low: low, high: high, negate: negate}, nil
	}

	if negate {
		return nil, p.errorf(p.peek(), "expected LIKE, IN or BETWEEN after NOT")
	}
	return left, nil
}

func (p *parser) parseLike(operand node, negate bool) (node, error) {
	pattern, err := p.expect(tokString, "pattern string")
	if err != nil {
		return nil, err
	}

	var escape rune
	hasEscape := false
	if p.acceptKeyword("ESCAPE") {
		esc, err := p.expect(tokString, "escape string")
		if err != nil {
			return nil, err
		}
		runes := []rune(esc.text)
		if len(runes) != 1 {
			return nil, p.errorf(esc, "escape must be a single character")
		}
		escape, hasEscape = runes[0], true
	}

	return likeNode{
		operand: operand,
		pattern: compileLike(pattern.text, escape, hasEscape),
		negate:  negate,
	}, nil
}

func (p *parser) parseIn(operand node, negate bool) (node, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}

	var values []any
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)

		t := p.next()
		if t.kind == tokRParen {
			break
		}
		if t.kind != tokComma {
			return nil, p.errorf(t, "expected , or )")
		}
	}
	return inNode{operand: operand, values: values, negate: negate}, nil
}

func (p *parser) parseLiteral() (any, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return t.text, nil
	case tokNumber:
		return parseNumber(p, t)
	case tokKeyword:
		switch t.text {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
	}
	return nil, p.errorf(t, "expected literal")
}

func parseNumber(p *parser, t token) (float64, error) {
	f, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return 0, p.errorf(t, "invalid number %q", t.text)
	}
	return f, nil
}

func (p *parser) parseOperand() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil

	case tokIdent:
		p.next()
		return identNode{name: t.text}, nil

	case tokString, tokNumber:
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return literalNode{value: v}, nil

	case tokKeyword:
		switch t.text {
		case "TRUE", "FALSE":
			v, _ := p.parseLiteral()
			return literalNode{value: v}, nil
		case "NULL":
			p.next()
			return literalNode{value: nil}, nil
		}
	}

	if t.kind == tokEOF {
		return nil, p.errorf(t, "unexpected end of expression")
	}
	return nil, p.errorf(t, "unexpected %q", t.text)
}
