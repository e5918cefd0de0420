package core

import (
	"fmt"
	"strings"
)

// Expr is a compiled job condition. Evaluation is pure: the same flags
// and context always produce the same answer, and referencing a
// category that was never detected reads as false.
type Expr interface {
	Eval(flags CategoryFlags, ctx TriggerContext) bool
}

// The condition language is deliberately tiny: boolean operators over
// category flags and the trigger context, nothing else.
//
//	expr    = or
//	or      = and { "||" and }
//	and     = unary { "&&" unary }
//	unary   = "!" unary | primary
//	primary = "(" expr ")" | term
//	term    = value [ ( "==" | "!=" ) value ]
//	value   = "changes.<name>" | "trigger" | "branch" | string literal
//
// A bare term must be a category flag; comparisons are over the string
// values of trigger, branch and literals.

type orExpr struct{ left, right Expr }

func (e orExpr) Eval(f CategoryFlags, c TriggerContext) bool {
	return e.left.Eval(f, c) || e.right.Eval(f, c)
}

type andExpr struct{ left, right Expr }

func (e andExpr) Eval(f CategoryFlags, c TriggerContext) bool {
	return e.left.Eval(f, c) && e.right.Eval(f, c)
}

type notExpr struct{ inner Expr }

func (e notExpr) Eval(f CategoryFlags, c TriggerContext) bool {
	return !e.inner.Eval(f, c)
}

type flagExpr struct{ name string }

func (e flagExpr) Eval(f CategoryFlags, _ TriggerContext) bool {
	return f[e.name]
}

// cmpExpr compares two string-valued operands.
type cmpExpr struct {
	left, right operand
	equal       bool
}

func (e cmpExpr) Eval(_ CategoryFlags, c TriggerContext) bool {
	eq := e.left.value(c) == e.right.value(c)
	if e.equal {
		return eq
	}
	return !eq
}

type operandKind int

const (
	opTrigger operandKind = iota
	opBranch
	opLiteral
)

type operand struct {
	kind operandKind
	lit  string
}

func (o operand) value(c TriggerContext) string {
	switch o.kind {
	case opTrigger:
		return string(c.Trigger)
	case opBranch:
		return c.Branch
	default:
		return o.lit
	}
}

// ParseCondition compiles a condition expression. An empty expression
// returns a nil Expr, which callers treat as "always true".
func ParseCondition(input string) (Expr, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	toks, err := lexCondition(input)
	if err != nil {
		return nil, err
	}
	p := &condParser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidCondition, p.peek().text)
	}
	return expr, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNeq
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func lexCondition(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '&':
			if i+1 >= len(input) || input[i+1] != '&' {
				return nil, fmt.Errorf("%w: expected && at offset %d", ErrInvalidCondition, i)
			}
			toks = append(toks, token{tokAnd, "&&"})
			i += 2
		case c == '|':
			if i+1 >= len(input) || input[i+1] != '|' {
				return nil, fmt.Errorf("%w: expected || at offset %d", ErrInvalidCondition, i)
			}
			toks = append(toks, token{tokOr, "||"})
			i += 2
		case c == '=':
			if i+1 >= len(input) || input[i+1] != '=' {
				return nil, fmt.Errorf("%w: expected == at offset %d", ErrInvalidCondition, i)
			}
			toks = append(toks, token{tokEq, "=="})
			i += 2
		case c == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokNeq, "!="})
				i += 2
			} else {
				toks = append(toks, token{tokNot, "!"})
				i++
			}
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j >= len(input) {
				return nil, fmt.Errorf("%w: unterminated string at offset %d", ErrInvalidCondition, i)
			}
			toks = append(toks, token{tokString, input[i+1 : j]})
			i = j + 1
		case isIdentChar(c):
			j := i
			for j < len(input) && isIdentChar(input[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, input[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrInvalidCondition, string(c))
		}
	}
	return toks, nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type condParser struct {
	toks []token
	pos  int
}

func (p *condParser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *condParser) peek() token { return p.toks[p.pos] }

func (p *condParser) advance() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *condParser) match(kind tokenKind) bool {
	if p.atEnd() || p.toks[p.pos].kind != kind {
		return false
	}
	p.pos++
	return true
}

func (p *condParser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(tokOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
	return left, nil
}

func (p *condParser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.match(tokAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
	return left, nil
}

func (p *condParser) parseUnary() (Expr, error) {
	if p.match(tokNot) {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (Expr, error) {
	if p.match(tokLParen) {
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.match(tokRParen) {
			return nil, fmt.Errorf("%w: missing )", ErrInvalidCondition)
		}
		return expr, nil
	}
	return p.parseTerm()
}

func (p *condParser) parseTerm() (Expr, error) {
	left, flag, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	var equal bool
	switch {
	case p.match(tokEq):
		equal = true
	case p.match(tokNeq):
		equal = false
	default:
		// No comparison: the term must be boolean-valued on its own.
		if flag == "" {
			return nil, fmt.Errorf("%w: bare term must be a changes.<category> flag", ErrInvalidCondition)
		}
		return flagExpr{name: flag}, nil
	}

	if flag != "" {
		return nil, fmt.Errorf("%w: category flag %q cannot be compared", ErrInvalidCondition, flag)
	}
	right, rflag, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if rflag != "" {
		return nil, fmt.Errorf("%w: category flag %q cannot be compared", ErrInvalidCondition, rflag)
	}
	return cmpExpr{left: left, right: right, equal: equal}, nil
}

// parseValue returns either a string operand or, for changes.<name>
// references, the category flag name.
func (p *condParser) parseValue() (operand, string, error) {
	if p.atEnd() {
		return operand{}, "", fmt.Errorf("%w: unexpected end of expression", ErrInvalidCondition)
	}
	t := p.advance()
	switch t.kind {
	case tokString:
		return operand{kind: opLiteral, lit: t.text}, "", nil
	case tokIdent:
		switch {
		case t.text == "trigger":
			return operand{kind: opTrigger}, "", nil
		case t.text == "branch":
			return operand{kind: opBranch}, "", nil
		case strings.HasPrefix(t.text, "changes."):
			name := strings.TrimPrefix(t.text, "changes.")
			if name == "" {
				return operand{}, "", fmt.Errorf("%w: empty category name", ErrInvalidCondition)
			}
			return operand{}, name, nil
		default:
			return operand{}, "", fmt.Errorf("%w: unknown identifier %q", ErrInvalidCondition, t.text)
		}
	default:
		return operand{}, "", fmt.Errorf("%w: unexpected %q", ErrInvalidCondition, t.text)
	}
}
