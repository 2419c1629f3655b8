package dsl

import (
	"errors"
	"testing"
)

func ptr[T any](v T) *T {
	return &v
}

func TestEvaluate(t *testing.T) {
	facts := &Facts{
		Amount:     ptr(150.0),
		Currency:   ptr("USD"),
		IPAddress:  ptr("10.0.0.1"),
		UserAge:    ptr(25.0),
		UserRegion: ptr("EU"),
	}

	tests := []struct {
		rule string
		want bool
	}{
		{"amount > 100", true},
		{"amount < 100", false},
		{"amount = 150", true},
		{"amount != 150", false},
		{"amount >= 150", true},
		{"amount <= 149.99", false},
		{"currency = 'USD'", true},
		{"currency != 'USD'", false},
		{"currency = 'usd'", false},
		{"ipAddress = '10.0.0.1'", true},
		{"user.age < 30", true},
		{"amount > 100 AND user.region = 'EU'", true},
		{"amount > 1000 OR user.age < 30", true},
		{"amount > 1000 OR user.age > 30", false},
		{"NOT amount > 1000", true},
		{"NOT (amount > 100 AND currency = 'USD')", false},

		// Absent facts never match, in either direction.
		{"merchantId = 'm1'", false},
		{"merchantId != 'm1'", false},
		{"deviceId != 'x' OR amount > 100", true},
		{"NOT merchantId = 'm1'", true},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			got := Evaluate(MustParse(tt.rule), facts)
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluateNilFacts(t *testing.T) {
	var facts *Facts
	if Evaluate(MustParse("amount > 0"), facts) {
		t.Error("expected false for nil fact record")
	}
	if !Evaluate(MustParse("NOT amount > 0"), facts) {
		t.Error("expected negated missing fact to be true")
	}
}

func TestEvaluateKindMismatch(t *testing.T) {
	facts := MapFacts{FieldAmount: StringValue("150")}
	if Evaluate(MustParse("amount > 1"), facts) {
		t.Error("expected kind mismatch to evaluate to false")
	}
	if Evaluate(MustParse("amount != 1"), facts) {
		t.Error("expected kind mismatch to evaluate to false for !=")
	}
}

func TestFactsAsMap(t *testing.T) {
	facts := &Facts{Amount: ptr(10.0), UserRegion: ptr("EU")}
	m := facts.AsMap()
	if len(m) != 2 {
		t.Fatalf("expected 2 facts, got %v", m)
	}
	if m["amount"] != 10.0 {
		t.Errorf("expected amount 10, got %v", m["amount"])
	}
	if m["user.region"] != "EU" {
		t.Errorf("expected region EU, got %v", m["user.region"])
	}
}

func TestParseFact(t *testing.T) {
	field, v, err := ParseFact("amount", "12.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if field != FieldAmount {
		t.Errorf("expected amount, got %s", field)
	}
	if n, ok := v.Number(); !ok || n != 12.5 {
		t.Errorf("expected 12.5, got %v", v)
	}

	_, v, err = ParseFact("user.region", "EU")
	if err != nil || v.Kind() != StringKind {
		t.Errorf("expected string fact, got %v (%v)", v, err)
	}

	if _, _, err := ParseFact("amount", "lots"); !errors.Is(err, ErrSemantic) {
		t.Errorf("expected semantic error, got %v", err)
	}
	if _, _, err := ParseFact("amout", "1"); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestFactsSet(t *testing.T) {
	var f Facts
	f.Set(FieldAmount, NumberValue(42))
	f.Set(FieldUserRegion, StringValue("APAC"))
	f.Set(FieldCurrency, NumberValue(1))

	if f.Amount == nil || *f.Amount != 42 {
		t.Errorf("expected amount 42, got %v", f.Amount)
	}
	if f.UserRegion == nil || *f.UserRegion != "APAC" {
		t.Errorf("expected region APAC, got %v", f.UserRegion)
	}
	if f.Currency != nil {
		t.Errorf("expected currency to stay absent, got %q", *f.Currency)
	}
	if !Evaluate(MustParse("amount = 42 AND user.region = 'APAC'"), &f) {
		t.Error("expected rule to match facts built with Set")
	}
}
