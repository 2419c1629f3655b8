// Package dsl implements the fraud rule language: lexing, parsing,
// normalization, JSON export and evaluation of rule expressions.
package dsl

import "fmt"

// Expr is a node of a parsed rule. The set of variants is closed:
// *Comp, *Not, *And and *Or.
type Expr interface {
	Span() Span
	expr()
}

// Comp compares a transaction field with a literal.
type Comp struct {
	Field    Field
	Operator Operator
	Value    Value
	At       Span
}

// Not negates its operand.
type Not struct {
	Inner Expr
	At    Span
}

// And is the conjunction of two expressions.
type And struct {
	Left  Expr
	Right Expr
	At    Span
}

// Or is the disjunction of two expressions.
type Or struct {
	Left  Expr
	Right Expr
	At    Span
}

func (e *Comp) Span() Span { return e.At }
func (e *Not) Span() Span  { return e.At }
func (e *And) Span() Span  { return e.At }
func (e *Or) Span() Span   { return e.At }

func (*Comp) expr() {}
func (*Not) expr()  {}
func (*And) expr()  {}
func (*Or) expr()   {}

// Walk visits e and its descendants depth-first, left to right.
// Returning false from fn skips the children of that node.
func Walk(e Expr, fn func(Expr) bool) {
	if !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Comp:
	case *Not:
		Walk(n.Inner, fn)
	case *And:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Or:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	default:
		unknownExpr(e)
	}
}

// ReferencedFields returns the distinct fields compared in e, in first-use order.
func ReferencedFields(e Expr) []Field {
	seen := make(map[Field]bool)
	var out []Field
	Walk(e, func(n Expr) bool {
		if c, ok := n.(*Comp); ok && !seen[c.Field] {
			seen[c.Field] = true
			out = append(out, c.Field)
		}
		return true
	})
	return out
}

func unknownExpr(e Expr) {
	panic(fmt.Sprintf("dsl: unknown expression type %T", e))
}
