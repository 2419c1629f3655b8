package dsl

import "fmt"

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	TokenLParen TokenKind = iota
	TokenRParen
	TokenAnd
	TokenOr
	TokenNot
	TokenString
	TokenNumber
	TokenIdent
	TokenGT // >
	TokenLT // <
	TokenLE // <=
	TokenGE // >=
	TokenEQ // =
	TokenNE // !=
)

var tokenKindNames = [...]string{
	TokenLParen: "LPAREN",
	TokenRParen: "RPAREN",
	TokenAnd:    "AND",
	TokenOr:     "OR",
	TokenNot:    "NOT",
	TokenString: "STRING",
	TokenNumber: "NUMBER",
	TokenIdent:  "IDENTIFIER",
	TokenGT:     "GT",
	TokenLT:     "LT",
	TokenLE:     "LE",
	TokenGE:     "GE",
	TokenEQ:     "EQ",
	TokenNE:     "NE",
}

func (k TokenKind) String() string {
	if k < 0 || int(k) >= len(tokenKindNames) {
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
	return tokenKindNames[k]
}

// IsOperator reports whether the kind is a comparison operator.
func (k TokenKind) IsOperator() bool {
	switch k {
	case TokenGT, TokenLT, TokenLE, TokenGE, TokenEQ, TokenNE:
		return true
	}
	return false
}

// keywords maps lower-cased identifier text to keyword kinds.
var keywords = map[string]TokenKind{
	"and": TokenAnd,
	"or":  TokenOr,
	"not": TokenNot,
}

// Token is a lexeme with its kind and source position.
// For string literals Text holds the content without quotes.
type Token struct {
	Kind TokenKind
	Text string
	Span Span
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d", t.Kind, t.Text, t.Span.Offset)
}
