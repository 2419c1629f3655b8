package dsl

import (
	"errors"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Token
	}{
		{
			name:  "simple comparison",
			input: "amount > 100",
			want: []Token{
				{Kind: TokenIdent, Text: "amount", Span: Span{0}},
				{Kind: TokenGT, Text: ">", Span: Span{7}},
				{Kind: TokenNumber, Text: "100", Span: Span{9}},
			},
		},
		{
			name:  "dotted field and string",
			input: "user.region = 'EU'",
			want: []Token{
				{Kind: TokenIdent, Text: "user.region", Span: Span{0}},
				{Kind: TokenEQ, Text: "=", Span: Span{12}},
				{Kind: TokenString, Text: "EU", Span: Span{14}},
			},
		},
		{
			name:  "newlines and tabs",
			input: "\n\tamount\n>\n1",
			want: []Token{
				{Kind: TokenIdent, Text: "amount", Span: Span{2}},
				{Kind: TokenGT, Text: ">", Span: Span{9}},
				{Kind: TokenNumber, Text: "1", Span: Span{11}},
			},
		},
		{
			name:  "decimal and trailing dot",
			input: "12.5 12.",
			want: []Token{
				{Kind: TokenNumber, Text: "12.5", Span: Span{0}},
				{Kind: TokenNumber, Text: "12.", Span: Span{5}},
			},
		},
		{
			name:  "empty string literal",
			input: "''",
			want: []Token{
				{Kind: TokenString, Text: "", Span: Span{0}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tokenize(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d tokens, got %d: %v", len(tt.want), len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestTokenizeKinds(t *testing.T) {
	tests := []struct {
		input string
		want  []TokenKind
	}{
		{"a and b OR c Not d", []TokenKind{TokenIdent, TokenAnd, TokenIdent, TokenOr, TokenIdent, TokenNot, TokenIdent}},
		{"AnD oR nOT", []TokenKind{TokenAnd, TokenOr, TokenNot}},
		{">= <= != = > < ( )", []TokenKind{TokenGE, TokenLE, TokenNE, TokenEQ, TokenGT, TokenLT, TokenLParen, TokenRParen}},
		{"(amount>=5)", []TokenKind{TokenLParen, TokenIdent, TokenGE, TokenNumber, TokenRParen}},
		{"android", []TokenKind{TokenIdent}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			toks, err := Tokenize(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(toks) != len(tt.want) {
				t.Fatalf("expected %d tokens, got %d", len(tt.want), len(toks))
			}
			for i, tok := range toks {
				if tok.Kind != tt.want[i] {
					t.Errorf("token %d: expected %s, got %s", i, tt.want[i], tok.Kind)
				}
			}
		})
	}
}

func TestTokenizeKeywordKeepsText(t *testing.T) {
	toks, err := Tokenize("and")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toks[0].Text != "and" {
		t.Errorf("expected original text 'and', got %q", toks[0].Text)
	}
}

func TestTokenizeEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t"} {
		toks, err := Tokenize(input)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", input, err)
		}
		if len(toks) != 0 {
			t.Errorf("expected no tokens for %q, got %v", input, toks)
		}
	}
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		position int
	}{
		{"double dot", "1.2.3", 3},
		{"double dot after comparison", "amount > 1..5", 11},
		{"unterminated string", "currency = 'USD", 11},
		{"bare bang", "amount ! 5", 7},
		{"unknown start", "amount > #", 9},
		{"underscore start", "_amount", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.input)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrLex) {
				t.Errorf("expected lex error, got %v", err)
			}
			pe, ok := AsParserError(err)
			if !ok {
				t.Fatalf("expected *ParserError, got %T", err)
			}
			if pe.Position == nil || pe.Position.Offset != tt.position {
				t.Errorf("expected position %d, got %v", tt.position, pe.Position)
			}
			if pe.Code != CodeParseError {
				t.Errorf("expected code %s, got %s", CodeParseError, pe.Code)
			}
		})
	}
}

func TestLexerStopsAfterError(t *testing.T) {
	lex := NewLexer("amount # > 5")

	tok, ok, err := lex.Next()
	if err != nil || !ok || tok.Kind != TokenIdent {
		t.Fatalf("expected identifier, got %v ok=%v err=%v", tok, ok, err)
	}

	if _, _, err := lex.Next(); err == nil {
		t.Fatal("expected error for '#'")
	}

	if _, ok, err := lex.Next(); ok || err != nil {
		t.Errorf("expected exhausted lexer after error, got ok=%v err=%v", ok, err)
	}
}

func TestLexerAllIsLazy(t *testing.T) {
	lex := NewLexer("amount > 5 #")

	var seen int
	for _, err := range lex.All() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("expected to stop after 2 tokens, got %d", seen)
	}

	// The stream resumes where the consumer stopped.
	tok, ok, err := lex.Next()
	if err != nil || !ok || tok.Text != "5" {
		t.Errorf("expected number 5, got %v ok=%v err=%v", tok, ok, err)
	}
}
