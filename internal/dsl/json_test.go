package dsl

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestToJSON(t *testing.T) {
	tests := []struct {
		rule string
		want string
	}{
		{
			rule: "amount > 100",
			want: `{"type":"comp","field":"amount","operator":">","value":100}`,
		},
		{
			rule: "currency = 'USD'",
			want: `{"type":"comp","field":"currency","operator":"=","value":"USD"}`,
		},
		{
			rule: "amount > 100.5 AND NOT currency = 'USD'",
			want: `{"type":"and",
				"left":{"type":"comp","field":"amount","operator":">","value":100.5},
				"right":{"type":"unary","inner":{"type":"comp","field":"currency","operator":"=","value":"USD"}}}`,
		},
		{
			rule: "user.age < 18 OR user.region != 'EU'",
			want: `{"type":"or",
				"left":{"type":"comp","field":"user.age","operator":"<","value":18},
				"right":{"type":"comp","field":"user.region","operator":"!=","value":"EU"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			raw, err := ToJSON(MustParse(tt.rule))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var got, want any
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("output is not valid JSON: %v", err)
			}
			if err := json.Unmarshal([]byte(tt.want), &want); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("expected %s, got %s", tt.want, raw)
			}
		})
	}
}

func TestToJSONNonFinite(t *testing.T) {
	e := &Comp{Field: FieldAmount, Operator: OpGT, Value: NumberValue(math.Inf(1))}
	if _, err := ToJSON(e); err == nil {
		t.Error("expected error for infinite literal")
	}
}

func TestToJSONKeepsOperatorsReadable(t *testing.T) {
	raw, err := ToJSON(MustParse("amount > 1 AND user.age <= 30 AND merchantId = 'a&b'"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := string(raw)
	for _, want := range []string{`"operator":">"`, `"operator":"<="`, `"value":"a&b"`} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %s in %s", want, got)
		}
	}
	if strings.Contains(got, `\u00`) {
		t.Errorf("expected no HTML escapes, got %s", got)
	}
}
