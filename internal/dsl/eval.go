package dsl

import "strconv"

// FactSource supplies field values to the evaluator. ok is false when the
// attribute is absent for this transaction.
type FactSource interface {
	Fact(field Field) (v Value, ok bool)
}

// Facts is the fact record for one transaction. Nil pointers are absent facts.
type Facts struct {
	Amount     *float64
	Currency   *string
	MerchantID *string
	IPAddress  *string
	DeviceID   *string
	UserAge    *float64
	UserRegion *string
}

var factAccessors = map[Field]func(*Facts) (Value, bool){
	FieldAmount:     func(f *Facts) (Value, bool) { return numberFact(f.Amount) },
	FieldCurrency:   func(f *Facts) (Value, bool) { return stringFact(f.Currency) },
	FieldMerchantID: func(f *Facts) (Value, bool) { return stringFact(f.MerchantID) },
	FieldIPAddress:  func(f *Facts) (Value, bool) { return stringFact(f.IPAddress) },
	FieldDeviceID:   func(f *Facts) (Value, bool) { return stringFact(f.DeviceID) },
	FieldUserAge:    func(f *Facts) (Value, bool) { return numberFact(f.UserAge) },
	FieldUserRegion: func(f *Facts) (Value, bool) { return stringFact(f.UserRegion) },
}

// Fact implements FactSource.
func (f *Facts) Fact(field Field) (Value, bool) {
	if f == nil {
		return Value{}, false
	}
	get, ok := factAccessors[field]
	if !ok {
		return Value{}, false
	}
	return get(f)
}

// Set stores v under field. A value of the wrong kind for the field, or an
// unknown field, leaves f unchanged.
func (f *Facts) Set(field Field, v Value) {
	if v.Kind() != field.Kind() {
		return
	}
	n, _ := v.Number()
	s, _ := v.Str()
	switch field {
	case FieldAmount:
		f.Amount = &n
	case FieldCurrency:
		f.Currency = &s
	case FieldMerchantID:
		f.MerchantID = &s
	case FieldIPAddress:
		f.IPAddress = &s
	case FieldDeviceID:
		f.DeviceID = &s
	case FieldUserAge:
		f.UserAge = &n
	case FieldUserRegion:
		f.UserRegion = &s
	}
}

// AsMap returns the present facts keyed by field name.
func (f *Facts) AsMap() map[string]any {
	m := make(map[string]any, len(factAccessors))
	for _, field := range Fields() {
		v, ok := f.Fact(field)
		if !ok {
			continue
		}
		if n, isNum := v.Number(); isNum {
			m[string(field)] = n
		} else {
			s, _ := v.Str()
			m[string(field)] = s
		}
	}
	return m
}

func numberFact(p *float64) (Value, bool) {
	if p == nil {
		return Value{}, false
	}
	return NumberValue(*p), true
}

func stringFact(p *string) (Value, bool) {
	if p == nil {
		return Value{}, false
	}
	return StringValue(*p), true
}

// MapFacts is a FactSource backed by a map, handy for ad-hoc evaluation.
type MapFacts map[Field]Value

// Fact implements FactSource.
func (m MapFacts) Fact(field Field) (Value, bool) {
	v, ok := m[field]
	return v, ok
}

// Evaluate reports whether facts satisfy e. It never fails: a comparison
// on an absent fact, or on a fact of the wrong kind, is false.
func Evaluate(e Expr, facts FactSource) bool {
	switch n := e.(type) {
	case *Comp:
		return evalComp(n, facts)
	case *Not:
		return !Evaluate(n.Inner, facts)
	case *And:
		return Evaluate(n.Left, facts) && Evaluate(n.Right, facts)
	case *Or:
		return Evaluate(n.Left, facts) || Evaluate(n.Right, facts)
	}
	unknownExpr(e)
	return false
}

func evalComp(c *Comp, facts FactSource) bool {
	actual, ok := facts.Fact(c.Field)
	if !ok || actual.Kind() != c.Value.Kind() {
		return false
	}

	switch actual.Kind() {
	case NumberKind:
		a, _ := actual.Number()
		b, _ := c.Value.Number()
		switch c.Operator {
		case OpGT:
			return a > b
		case OpLT:
			return a < b
		case OpLE:
			return a <= b
		case OpGE:
			return a >= b
		case OpEQ:
			return a == b
		case OpNE:
			return a != b
		}
	case StringKind:
		a, _ := actual.Str()
		b, _ := c.Value.Str()
		switch c.Operator {
		case OpEQ:
			return a == b
		case OpNE:
			return a != b
		}
	}
	return false
}

// ParseFact converts a "field" name and raw text into a typed fact, for
// callers that receive facts as strings (flags, query parameters).
func ParseFact(name, raw string) (Field, Value, error) {
	field, ok := LookupField(name)
	if !ok {
		err := &ParserError{Kind: SemanticError, Code: CodeInvalidField, Detail: "unknown field '" + name + "'", Near: name}
		err.Suggestion = suggestField(name)
		return "", Value{}, err
	}
	if field.Kind() == StringKind {
		return field, StringValue(raw), nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", Value{}, &ParserError{Kind: SemanticError, Code: CodeInvalidValue, Detail: "field '" + name + "' expects a number", Near: raw}
	}
	return field, NumberValue(n), nil
}
