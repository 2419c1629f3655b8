package dsl

import (
	"iter"
	"strings"
	"unicode"
)

// Lexer turns rule source into tokens on demand. It makes a single
// forward pass and cannot be rewound; after the first error it yields
// no further tokens.
type Lexer struct {
	src    []rune
	pos    int
	failed bool
}

// NewLexer creates a lexer over source.
func NewLexer(source string) *Lexer {
	return &Lexer{src: []rune(source)}
}

// End returns the span just past the last character of the source.
func (l *Lexer) End() Span {
	return Span{Offset: len(l.src)}
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peek() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.src[l.pos]) {
		l.pos++
	}
}

// Next returns the next token. ok is false once the input is exhausted
// or after an error has been returned.
func (l *Lexer) Next() (tok Token, ok bool, err error) {
	if l.failed {
		return Token{}, false, nil
	}
	l.skipWhitespace()
	if l.pos >= len(l.src) {
		return Token{}, false, nil
	}

	tok, perr := l.scan()
	if perr != nil {
		l.failed = true
		return Token{}, false, perr
	}
	return tok, true, nil
}

// All yields the remaining tokens. Iteration stops after the first error.
func (l *Lexer) All() iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		for {
			tok, ok, err := l.Next()
			if err != nil {
				yield(Token{}, err)
				return
			}
			if !ok || !yield(tok, nil) {
				return
			}
		}
	}
}

func (l *Lexer) scan() (Token, *ParserError) {
	start := Span{Offset: l.pos}
	ch := l.current()

	switch {
	case unicode.IsLetter(ch):
		return l.readIdent(start), nil
	case isDigit(ch):
		return l.readNumber(start)
	case ch == '\'':
		return l.readString(start)
	}

	switch ch {
	case '(':
		l.pos++
		return Token{Kind: TokenLParen, Text: "(", Span: start}, nil
	case ')':
		l.pos++
		return Token{Kind: TokenRParen, Text: ")", Span: start}, nil
	case '=':
		l.pos++
		return Token{Kind: TokenEQ, Text: "=", Span: start}, nil
	case '!':
		if l.peek() == '=' {
			l.pos += 2
			return Token{Kind: TokenNE, Text: "!=", Span: start}, nil
		}
		return Token{}, lexError("expected '=' after '!'", start, "!")
	case '>':
		l.pos++
		if l.current() == '=' {
			l.pos++
			return Token{Kind: TokenGE, Text: ">=", Span: start}, nil
		}
		return Token{Kind: TokenGT, Text: ">", Span: start}, nil
	case '<':
		l.pos++
		if l.current() == '=' {
			l.pos++
			return Token{Kind: TokenLE, Text: "<=", Span: start}, nil
		}
		return Token{Kind: TokenLT, Text: "<", Span: start}, nil
	}

	return Token{}, lexError("unknown token start '"+string(ch)+"'", start, string(ch))
}

func (l *Lexer) readIdent(start Span) Token {
	begin := l.pos
	for l.pos < len(l.src) && (unicode.IsLetter(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	text := string(l.src[begin:l.pos])
	if kind, ok := keywords[strings.ToLower(text)]; ok {
		return Token{Kind: kind, Text: text, Span: start}
	}
	return Token{Kind: TokenIdent, Text: text, Span: start}
}

func (l *Lexer) readNumber(start Span) (Token, *ParserError) {
	begin := l.pos
	seenDot := false
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		if l.src[l.pos] == '.' {
			if seenDot {
				return Token{}, lexError("double dot in number", Span{Offset: l.pos}, string(l.src[begin:l.pos+1]))
			}
			seenDot = true
		}
		l.pos++
	}
	return Token{Kind: TokenNumber, Text: string(l.src[begin:l.pos]), Span: start}, nil
}

func (l *Lexer) readString(start Span) (Token, *ParserError) {
	l.pos++ // opening quote
	begin := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != '\'' {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return Token{}, lexError("unterminated string", start, string(l.src[start.Offset:]))
	}
	text := string(l.src[begin:l.pos])
	l.pos++ // closing quote
	return Token{Kind: TokenString, Text: text, Span: start}, nil
}

// Tokenize lexes the whole source eagerly.
func Tokenize(source string) ([]Token, error) {
	var toks []Token
	for tok, err := range NewLexer(source).All() {
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
