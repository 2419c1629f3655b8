package domain

import (
	"encoding/json"
	"time"
)

// DefaultRulePriority is assigned when a rule is created without one.
const DefaultRulePriority = 100

// FraudRule is a named DSL expression evaluated against every transaction.
type FraudRule struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`

	// Rule source as submitted, and its compiled tree in JSON form
	DSLExpression     string          `json:"dslExpression"`
	DSLExpressionJSON json.RawMessage `json:"dslExpressionJson,omitempty"`

	// Lower priority values are evaluated first
	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RuleRequest is the API payload for creating or replacing a rule.
type RuleRequest struct {
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	DSLExpression string  `json:"dslExpression"`
	Priority      *int    `json:"priority,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// Validate checks field constraints. DSL syntax is checked separately.
func (r *RuleRequest) Validate() error {
	var errs ValidationErrors
	if n := len([]rune(r.Name)); n < 3 || n > 120 {
		errs.Add("name", "must be between 3 and 120 characters")
	}
	if n := len([]rune(r.DSLExpression)); n < 3 || n > 2000 {
		errs.Add("dslExpression", "must be between 3 and 2000 characters")
	}
	if r.Priority != nil && *r.Priority < 1 {
		errs.Add("priority", "must be at least 1")
	}
	if r.Description != nil && len([]rune(*r.Description)) > 500 {
		errs.Add("description", "must be at most 500 characters")
	}
	return errs.Err()
}

// Apply copies the request onto rule, keeping defaults for omitted fields.
func (r *RuleRequest) Apply(rule *FraudRule) {
	rule.Name = r.Name
	rule.Description = r.Description
	rule.DSLExpression = r.DSLExpression
	rule.Priority = DefaultRulePriority
	if r.Priority != nil {
		rule.Priority = *r.Priority
	}
	rule.Enabled = true
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}
}

// RuleResult is the outcome of one rule for one transaction.
type RuleResult struct {
	RuleID      string  `json:"ruleId"`
	RuleName    string  `json:"ruleName"`
	Priority    int     `json:"priority"`
	Matched     bool    `json:"matched"`
	Description *string `json:"description,omitempty"`
}

// DSLError is the client-facing form of a rule compilation error.
type DSLError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Position   *int   `json:"position,omitempty"`
	Near       string `json:"near,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidateRequest is the payload of the rule validation endpoint.
type ValidateRequest struct {
	DSLExpression string `json:"dslExpression"`
}

// ValidateResponse reports whether a rule compiles and its canonical form.
type ValidateResponse struct {
	IsValid              bool       `json:"isValid"`
	Errors               []DSLError `json:"errors"`
	NormalizedExpression *string    `json:"normalizedExpression,omitempty"`
}
