package dsl

import "strings"

// Normalize renders e in canonical DSL form. The output parses back to an
// equivalent expression and normalizing it again yields the same text.
//
// And wraps Or operands in parentheses; Or never adds any; Not always
// parenthesizes its operand.
func Normalize(e Expr) string {
	var b strings.Builder
	writeNormalized(&b, e)
	return b.String()
}

func writeNormalized(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case *Comp:
		b.WriteString(string(n.Field))
		b.WriteByte(' ')
		b.WriteString(string(n.Operator))
		b.WriteByte(' ')
		b.WriteString(n.Value.String())
	case *Not:
		b.WriteString("NOT (")
		writeNormalized(b, n.Inner)
		b.WriteByte(')')
	case *And:
		writeAndOperand(b, n.Left)
		b.WriteString(" AND ")
		writeAndOperand(b, n.Right)
	case *Or:
		writeNormalized(b, n.Left)
		b.WriteString(" OR ")
		writeNormalized(b, n.Right)
	default:
		unknownExpr(e)
	}
}

func writeAndOperand(b *strings.Builder, e Expr) {
	if _, ok := e.(*Or); ok {
		b.WriteByte('(')
		writeNormalized(b, e)
		b.WriteByte(')')
		return
	}
	writeNormalized(b, e)
}
