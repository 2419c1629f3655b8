package dsl

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a ParserError.
type ErrorKind int

const (
	LexError ErrorKind = iota + 1
	SyntaxError
	SemanticError
)

func (k ErrorKind) String() string {
	switch k {
	case LexError:
		return "lex"
	case SyntaxError:
		return "syntax"
	case SemanticError:
		return "semantic"
	default:
		return "unknown"
	}
}

// Error codes reported to API clients.
const (
	CodeParseError      = "DSL_PARSE_ERROR"
	CodeInvalidField    = "DSL_INVALID_FIELD"
	CodeInvalidOperator = "DSL_INVALID_OPERATOR"
	CodeInvalidValue    = "DSL_INVALID_VALUE"
)

// Sentinels for errors.Is matching on the error kind.
var (
	ErrLex      = errors.New("dsl: lex error")
	ErrSyntax   = errors.New("dsl: syntax error")
	ErrSemantic = errors.New("dsl: semantic error")
)

// ParserError describes a failure to lex, parse or type-check a rule.
// Errors raised while parsing a sub-expression are kept in Nested so that
// callers can report the outer context and the root cause together.
type ParserError struct {
	Kind       ErrorKind
	Code       string
	Detail     string
	Position   *Span
	Near       string
	Suggestion string
	Nested     []*ParserError
}

func (e *ParserError) Error() string {
	var b strings.Builder
	b.WriteString(e.Detail)
	if e.Position != nil {
		fmt.Fprintf(&b, " at %d", e.Position.Offset)
	}
	for i, n := range e.Nested {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(n.Error())
	}
	return b.String()
}

// Unwrap exposes the nested causes to errors.Is and errors.As.
func (e *ParserError) Unwrap() []error {
	if len(e.Nested) == 0 {
		return nil
	}
	errs := make([]error, len(e.Nested))
	for i, n := range e.Nested {
		errs[i] = n
	}
	return errs
}

// Is matches the kind sentinels ErrLex, ErrSyntax and ErrSemantic.
func (e *ParserError) Is(target error) bool {
	switch target {
	case ErrLex:
		return e.Kind == LexError
	case ErrSyntax:
		return e.Kind == SyntaxError
	case ErrSemantic:
		return e.Kind == SemanticError
	}
	return false
}

// Flatten returns the leaf errors of the tree in source order.
// An error without nested causes flattens to itself.
func (e *ParserError) Flatten() []*ParserError {
	if len(e.Nested) == 0 {
		return []*ParserError{e}
	}
	var out []*ParserError
	for _, n := range e.Nested {
		out = append(out, n.Flatten()...)
	}
	return out
}

// Wrap returns a new error that adds context around inner.
// The wrapper takes the kind and code of its cause, and its position too
// when pos is nil.
func Wrap(inner *ParserError, detail string, pos *Span) *ParserError {
	if pos == nil {
		pos = inner.Position
	}
	return &ParserError{
		Kind:     inner.Kind,
		Code:     inner.Code,
		Detail:   detail,
		Position: pos,
		Near:     inner.Near,
		Nested:   []*ParserError{inner},
	}
}

// AsParserError extracts a *ParserError from err, if any.
func AsParserError(err error) (*ParserError, bool) {
	var pe *ParserError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func at(s Span) *Span {
	return &s
}

func lexError(detail string, pos Span, near string) *ParserError {
	return &ParserError{Kind: LexError, Code: CodeParseError, Detail: detail, Position: at(pos), Near: near}
}

func syntaxError(detail string, pos Span, near string) *ParserError {
	return &ParserError{Kind: SyntaxError, Code: CodeParseError, Detail: detail, Position: at(pos), Near: near}
}

func semanticError(code, detail string, pos Span, near string) *ParserError {
	return &ParserError{Kind: SemanticError, Code: code, Detail: detail, Position: at(pos), Near: near}
}
