package dsl

import (
	"strconv"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// ValueKind is the type of a field or literal.
type ValueKind int

const (
	NumberKind ValueKind = iota + 1
	StringKind
)

func (k ValueKind) String() string {
	switch k {
	case NumberKind:
		return "number"
	case StringKind:
		return "string"
	default:
		return "unknown"
	}
}

// Field is a transaction attribute a rule may compare against.
type Field string

const (
	FieldAmount     Field = "amount"
	FieldCurrency   Field = "currency"
	FieldMerchantID Field = "merchantId"
	FieldIPAddress  Field = "ipAddress"
	FieldDeviceID   Field = "deviceId"
	FieldUserAge    Field = "user.age"
	FieldUserRegion Field = "user.region"
)

var fieldKinds = map[Field]ValueKind{
	FieldAmount:     NumberKind,
	FieldCurrency:   StringKind,
	FieldMerchantID: StringKind,
	FieldIPAddress:  StringKind,
	FieldDeviceID:   StringKind,
	FieldUserAge:    NumberKind,
	FieldUserRegion: StringKind,
}

// Fields lists every known field in declaration order.
func Fields() []Field {
	return []Field{
		FieldAmount,
		FieldCurrency,
		FieldMerchantID,
		FieldIPAddress,
		FieldDeviceID,
		FieldUserAge,
		FieldUserRegion,
	}
}

// LookupField resolves a serialized field name. Names are case-sensitive.
func LookupField(name string) (Field, bool) {
	f := Field(name)
	_, ok := fieldKinds[f]
	return f, ok
}

// Kind returns the value kind of the field.
func (f Field) Kind() ValueKind {
	return fieldKinds[f]
}

func (f Field) String() string {
	return string(f)
}

// suggestField returns the closest known field name, or "" if none is close.
func suggestField(name string) string {
	candidates := make([]string, 0, len(fieldKinds))
	for _, f := range Fields() {
		candidates = append(candidates, string(f))
	}
	ranks := fuzzy.RankFindFold(name, candidates)
	if len(ranks) > 0 {
		best := ranks[0]
		for _, r := range ranks[1:] {
			if r.Distance < best.Distance {
				best = r
			}
		}
		return best.Target
	}
	// The typed name may be longer than the field, e.g. "amounts".
	for _, c := range candidates {
		if fuzzy.MatchFold(c, name) {
			return c
		}
	}
	return ""
}

// Operator is a comparison operator.
type Operator string

const (
	OpGT Operator = ">"
	OpLT Operator = "<"
	OpLE Operator = "<="
	OpGE Operator = ">="
	OpEQ Operator = "="
	OpNE Operator = "!="
)

var operatorsByToken = map[TokenKind]Operator{
	TokenGT: OpGT,
	TokenLT: OpLT,
	TokenLE: OpLE,
	TokenGE: OpGE,
	TokenEQ: OpEQ,
	TokenNE: OpNE,
}

func operatorFor(kind TokenKind) (Operator, bool) {
	op, ok := operatorsByToken[kind]
	return op, ok
}

// AllowedFor reports whether the operator applies to values of kind.
// String fields only support equality.
func (o Operator) AllowedFor(kind ValueKind) bool {
	switch kind {
	case NumberKind:
		return true
	case StringKind:
		return o == OpEQ || o == OpNE
	}
	return false
}

func (o Operator) String() string {
	return string(o)
}

// Value is a literal operand: either a number or a string.
type Value struct {
	kind ValueKind
	num  float64
	str  string
}

// NumberValue returns a numeric literal.
func NumberValue(n float64) Value {
	return Value{kind: NumberKind, num: n}
}

// StringValue returns a string literal.
func StringValue(s string) Value {
	return Value{kind: StringKind, str: s}
}

// Kind returns the literal's kind.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Number returns the numeric content; ok is false for strings.
func (v Value) Number() (float64, bool) {
	return v.num, v.kind == NumberKind
}

// Str returns the string content; ok is false for numbers.
func (v Value) Str() (string, bool) {
	return v.str, v.kind == StringKind
}

// String renders the literal in its canonical DSL form.
func (v Value) String() string {
	if v.kind == NumberKind {
		return formatNumber(v.num)
	}
	return "'" + v.str + "'"
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
