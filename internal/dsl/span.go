package dsl

import "strconv"

// Span locates a token or expression in the rule source.
// Offset is the zero-based rune index of the first character.
type Span struct {
	Offset int
}

// Before reports whether s starts before other.
func (s Span) Before(other Span) bool {
	return s.Offset < other.Offset
}

func (s Span) String() string {
	return "offset " + strconv.Itoa(s.Offset)
}
