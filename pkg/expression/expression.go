// Package expression evaluates the small predicate language used by decision
// steps, step skip conditions and trigger filters.
//
// Grammar:
//
//	expr    = or
//	or      = and { "||" and }
//	and     = unary { "&&" unary }
//	unary   = "!" unary | compare
//	compare = operand [ ( "==" | "!=" | ">" | ">=" | "<" | "<=" | "in" | "contains" ) operand ]
//	operand = literal | path | call | list | "(" expr ")"
//
// Paths walk nested maps (amount, customer.tier, steps.review.approved). A path
// that does not resolve yields nil.
package expression

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrSyntax          = errors.New("invalid expression")
	ErrUnknownFunction = errors.New("unknown function")
)

// Expression is a parsed predicate ready to be evaluated repeatedly.
type Expression struct {
	source string
	root   node
}

// Parse compiles src. Syntax errors wrap ErrSyntax.
func Parse(src string) (*Expression, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, tok.text, tok.pos)
	}

	return &Expression{source: src, root: root}, nil
}

// Validate reports whether src parses.
func Validate(src string) error {
	_, err := Parse(src)

	return err
}

func (e *Expression) String() string {
	return e.source
}

// Eval returns the value of the expression against data.
func (e *Expression) Eval(data map[string]any) (any, error) {
	return e.root.eval(data)
}

// EvalBool evaluates and reduces the result to its truthiness.
func (e *Expression) EvalBool(data map[string]any) (bool, error) {
	v, err := e.Eval(data)
	if err != nil {
		return false, err
	}

	return Truthy(v), nil
}

// EvalBool parses and evaluates src in one go.
func EvalBool(src string, data map[string]any) (bool, error) {
	e, err := Parse(src)
	if err != nil {
		return false, err
	}

	return e.EvalBool(data)
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}

	return tok
}

func (p *parser) isOp(op string) bool {
	tok := p.peek()

	return tok.kind == tokOp && tok.text == op
}

func (p *parser) expect(kind tokenKind, what string) error {
	tok := p.next()
	if tok.kind != kind {
		return fmt.Errorf("%w: expected %s at %d", ErrSyntax, what, tok.pos)
	}

	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.isOp("||") {
		p.next()

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = logicalNode{op: "||", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.isOp("&&") {
		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left = logicalNode{op: "&&", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("!") {
		p.next()

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return notNode{operand: operand}, nil
	}

	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()

	var op string

	switch {
	case tok.kind == tokOp && tok.text != "!" && tok.text != "&&" && tok.text != "||":
		op = tok.text
	case tok.kind == tokIdent && (tok.text == "in" || tok.text == "contains"):
		op = tok.text
	default:
		return left, nil
	}

	p.next()

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	return compareNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.next()

	switch tok.kind {
	case tokNumber:
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, tok.text)
		}

		return literalNode{value: n}, nil
	case tokString:
		return literalNode{value: tok.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		return inner, p.expect(tokRParen, "')'")
	case tokLBracket:
		return p.parseList()
	case tokIdent:
		switch tok.text {
		case "true":
			return literalNode{value: true}, nil
		case "false":
			return literalNode{value: false}, nil
		case "null", "nil":
			return literalNode{value: nil}, nil
		}

		if p.peek().kind == tokLParen {
			return p.parseCall(tok)
		}

		return p.parsePath(tok)
	default:
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, tok.text, tok.pos)
	}
}

func (p *parser) parsePath(first token) (node, error) {
	segments := []string{first.text}

	for p.peek().kind == tokDot {
		p.next()

		tok := p.next()
		if tok.kind != tokIdent && tok.kind != tokNumber {
			return nil, fmt.Errorf("%w: expected field name at %d", ErrSyntax, tok.pos)
		}

		segments = append(segments, tok.text)
	}

	return pathNode{segments: segments}, nil
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name.text)
	}

	p.next()

	var args []node

	for p.peek().kind != tokRParen {
		if len(args) > 0 {
			if err := p.expect(tokComma, "','"); err != nil {
				return nil, err
			}
		}

		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		args = append(args, arg)
	}

	p.next()

	if len(args) != 1 {
		return nil, fmt.Errorf("%w: %s takes one argument", ErrSyntax, name.text)
	}

	return callNode{name: name.text, fn: fn, arg: args[0]}, nil
}

func (p *parser) parseList() (node, error) {
	var items []node

	for p.peek().kind != tokRBracket {
		if len(items) > 0 {
			if err := p.expect(tokComma, "','"); err != nil {
				return nil, err
			}
		}

		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	p.next()

	return listNode{items: items}, nil
}
