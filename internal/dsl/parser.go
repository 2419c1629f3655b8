package dsl

import (
	"fmt"
	"strconv"
)

// Parser is a recursive descent parser for the rule grammar:
//
//	expression := term (OR term)*
//	term       := factor (AND factor)*
//	factor     := NOT factor | '(' expression ')' | comparison
//	comparison := IDENTIFIER operator value
//
// It pulls tokens from a Lexer with one token of lookahead. parseComparison
// leaves the value token current; parseFactor moves past it.
type Parser struct {
	lex    *Lexer
	cur    Token
	hasCur bool
}

// NewParser creates a parser for source.
func NewParser(source string) *Parser {
	return &Parser{lex: NewLexer(source)}
}

// Parse parses source into an expression tree. Errors are *ParserError.
// A failure inside a comparison is wrapped, and the wrapper's Position is
// the start of that comparison; the offending token's Position is on the
// leaves returned by Flatten.
func Parse(source string) (Expr, error) {
	e, perr := NewParser(source).Parse()
	if perr != nil {
		return nil, perr
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level rule tables.
func MustParse(source string) Expr {
	e, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return e
}

// Validate parses source and returns its canonical form, or the flattened
// list of problems found.
func Validate(source string) (string, []*ParserError) {
	e, perr := NewParser(source).Parse()
	if perr != nil {
		return "", perr.Flatten()
	}
	return Normalize(e), nil
}

// Parse consumes the whole token stream. Any tokens left after a complete
// expression are reported as an error.
func (p *Parser) Parse() (Expr, *ParserError) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.hasCur {
		return nil, syntaxError("unexpected "+describe(p.cur)+" after expression", p.cur.Span, p.cur.Text)
	}
	return e, nil
}

func (p *Parser) advance() *ParserError {
	tok, ok, err := p.lex.Next()
	if err != nil {
		p.hasCur = false
		return err.(*ParserError)
	}
	p.cur, p.hasCur = tok, ok
	return nil
}

// pos is the span of the current token, or end of input.
func (p *Parser) pos() Span {
	if p.hasCur {
		return p.cur.Span
	}
	return p.lex.End()
}

func (p *Parser) peekIs(kind TokenKind) bool {
	return p.hasCur && p.cur.Kind == kind
}

func (p *Parser) parseOr() (Expr, *ParserError) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekIs(TokenOr) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right, At: left.Span()}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, *ParserError) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.peekIs(TokenAnd) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right, At: left.Span()}
	}
	return left, nil
}

func (p *Parser) parseFactor() (Expr, *ParserError) {
	if !p.hasCur {
		return nil, syntaxError("expected comparison", p.pos(), "")
	}

	switch p.cur.Kind {
	case TokenNot:
		start := p.cur.Span
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Not{Inner: inner, At: start}, nil

	case TokenLParen:
		open := p.cur.Span
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.peekIs(TokenRParen) {
			msg := fmt.Sprintf("expected ')' to close '(' at %d", open.Offset)
			if p.hasCur {
				return nil, syntaxError(msg+", found "+describe(p.cur), p.cur.Span, p.cur.Text)
			}
			return nil, syntaxError(msg, p.pos(), "")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return e, nil
	}

	start := p.pos()
	c, err := p.parseComparison()
	if err != nil {
		return nil, Wrap(err, "while parsing comparison", at(start))
	}
	// The comparison is complete; a bad token after it belongs to the caller.
	if err := p.advance(); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Parser) parseComparison() (*Comp, *ParserError) {
	if !p.hasCur {
		return nil, syntaxError("expected field", p.pos(), "")
	}
	fieldTok := p.cur
	if fieldTok.Kind != TokenIdent {
		return nil, syntaxError("expected field, found "+describe(fieldTok), fieldTok.Span, fieldTok.Text)
	}
	field, ok := LookupField(fieldTok.Text)
	if !ok {
		err := semanticError(CodeInvalidField, fmt.Sprintf("unknown field '%s'", fieldTok.Text), fieldTok.Span, fieldTok.Text)
		err.Suggestion = suggestField(fieldTok.Text)
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if !p.hasCur {
		return nil, syntaxError("expected operator", p.pos(), "")
	}
	opTok := p.cur
	op, ok := operatorFor(opTok.Kind)
	if !ok {
		return nil, syntaxError("expected operator, found "+describe(opTok), opTok.Span, opTok.Text)
	}
	if !op.AllowedFor(field.Kind()) {
		return nil, semanticError(CodeInvalidOperator,
			fmt.Sprintf("operator '%s' is not supported for %s field '%s'", op, field.Kind(), field),
			opTok.Span, opTok.Text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if !p.hasCur {
		return nil, syntaxError("expected value", p.pos(), "")
	}
	valTok := p.cur
	var val Value
	switch valTok.Kind {
	case TokenNumber:
		n, err := strconv.ParseFloat(valTok.Text, 64)
		if err != nil {
			return nil, syntaxError("number out of range", valTok.Span, valTok.Text)
		}
		val = NumberValue(n)
	case TokenString:
		val = StringValue(valTok.Text)
	default:
		return nil, syntaxError("expected value, found "+describe(valTok), valTok.Span, valTok.Text)
	}
	if val.Kind() != field.Kind() {
		return nil, semanticError(CodeInvalidValue,
			fmt.Sprintf("field '%s' expects a %s value, got %s", field, field.Kind(), val.Kind()),
			valTok.Span, valTok.Text)
	}

	return &Comp{Field: field, Operator: op, Value: val, At: fieldTok.Span}, nil
}

func describe(t Token) string {
	return fmt.Sprintf("%s '%s'", t.Kind, t.Text)
}
