package dsl

import (
	"bytes"
	"encoding/json"
)

// Node type tags used in the JSON form.
const (
	jsonTypeComp  = "comp"
	jsonTypeUnary = "unary"
	jsonTypeAnd   = "and"
	jsonTypeOr    = "or"
)

type compJSON struct {
	Type     string   `json:"type"`
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

type unaryJSON struct {
	Type  string `json:"type"`
	Inner Expr   `json:"inner"`
}

type binaryJSON struct {
	Type  string `json:"type"`
	Left  Expr   `json:"left"`
	Right Expr   `json:"right"`
}

// ToJSON returns the structured JSON form of e, for example
//
//	{"type":"and","left":{"type":"comp","field":"amount","operator":">","value":100},"right":...}
//
// Operators are not HTML-escaped. Trees produced by Parse always encode;
// only hand-built trees holding non-finite numbers can fail.
func ToJSON(e Expr) (json.RawMessage, error) {
	return marshal(e)
}

// marshal is json.Marshal without HTML escaping. Nodes must encode through
// it as well, or the outer encoder escapes their output again.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (e *Comp) MarshalJSON() ([]byte, error) {
	return marshal(compJSON{Type: jsonTypeComp, Field: e.Field, Operator: e.Operator, Value: e.Value})
}

func (e *Not) MarshalJSON() ([]byte, error) {
	return marshal(unaryJSON{Type: jsonTypeUnary, Inner: e.Inner})
}

func (e *And) MarshalJSON() ([]byte, error) {
	return marshal(binaryJSON{Type: jsonTypeAnd, Left: e.Left, Right: e.Right})
}

func (e *Or) MarshalJSON() ([]byte, error) {
	return marshal(binaryJSON{Type: jsonTypeOr, Left: e.Left, Right: e.Right})
}

// MarshalJSON encodes numbers as JSON numbers and strings as JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == NumberKind {
		return marshal(v.num)
	}
	return marshal(v.str)
}
