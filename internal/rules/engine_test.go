package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/dsl"
)

func newRule(id, name, expr string, priority int) *domain.FraudRule {
	return &domain.FraudRule{
		ID:            id,
		Name:          name,
		DSLExpression: expr,
		Priority:      priority,
		Enabled:       true,
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

type countingRecorder struct {
	mu        sync.Mutex
	observed  map[string]int
	matched   int
	failCodes []string
}

func (r *countingRecorder) ObserveRule(ruleID string, matched bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.observed == nil {
		r.observed = make(map[string]int)
	}
	r.observed[ruleID]++
	if matched {
		r.matched++
	}
}

func (r *countingRecorder) CompileFailed(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCodes = append(r.failCodes, code)
}

func TestEngineCreation(t *testing.T) {
	for _, backend := range []string{"", domain.BackendNative, domain.BackendCEL} {
		t.Run("backend="+backend, func(t *testing.T) {
			engine, err := NewEngine(backend, 5)
			if err != nil {
				t.Fatalf("failed to create engine: %v", err)
			}
			defer engine.Close()

			if engine.RulesCount() != 0 {
				t.Errorf("expected 0 rules, got %d", engine.RulesCount())
			}
		})
	}

	if _, err := NewEngine("lua", 5); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(domain.BackendNative, 5)
	defer engine.Close()

	if err := engine.LoadRule(newRule("r1", "High amount", "amount > 100", 10)); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}

	// Reloading the same ID replaces it.
	if err := engine.LoadRule(newRule("r1", "High amount", "amount > 500", 10)); err != nil {
		t.Fatalf("failed to replace rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule after replace, got %d", engine.RulesCount())
	}
	if got := engine.GetLoadedRules()[0].DSLExpression; got != "amount > 500" {
		t.Errorf("expected replaced expression, got %q", got)
	}
}

func TestLoadInvalidRule(t *testing.T) {
	rec := &countingRecorder{}
	engine, _ := NewEngine(domain.BackendNative, 5, WithRecorder(rec))
	defer engine.Close()

	err := engine.LoadRule(newRule("bad", "Bad", "currency > 'USD'", 1))
	if err == nil {
		t.Fatal("expected error for invalid rule")
	}
	if !errors.Is(err, dsl.ErrSemantic) {
		t.Errorf("expected semantic error, got %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected no rules loaded, got %d", engine.RulesCount())
	}
	if len(rec.failCodes) != 1 || rec.failCodes[0] != dsl.CodeInvalidOperator {
		t.Errorf("expected one %s compile failure, got %v", dsl.CodeInvalidOperator, rec.failCodes)
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(domain.BackendCEL, 5)
	defer engine.Close()

	expr, err := engine.ValidateRule(newRule("v", "Valid", "amount > 1 AND NOT currency = 'EUR'", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dsl.Normalize(expr) != "amount > 1 AND NOT (currency = 'EUR')" {
		t.Errorf("unexpected tree %s", dsl.Normalize(expr))
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected validation to leave the engine empty, got %d", engine.RulesCount())
	}

	if _, err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
}

func TestLoadDisabledRuleRemoves(t *testing.T) {
	engine, _ := NewEngine(domain.BackendNative, 5)
	defer engine.Close()

	rule := newRule("r1", "Rule", "amount > 1", 1)
	engine.LoadRule(rule)

	disabled := *rule
	disabled.Enabled = false
	if err := engine.LoadRule(&disabled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected disabled rule to be unloaded, got %d", engine.RulesCount())
	}
}

func TestEvaluationOrder(t *testing.T) {
	engine, _ := NewEngine(domain.BackendNative, 2)
	defer engine.Close()

	err := engine.LoadRules([]*domain.FraudRule{
		newRule("c", "Charlie", "amount > 1", 300),
		newRule("b", "Bravo", "amount > 1", 100),
		newRule("a2", "Zulu", "amount > 1", 200),
		newRule("a1", "Alpha", "amount > 1", 200),
	})
	if err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	want := []string{"b", "a1", "a2", "c"}
	for i, r := range engine.GetLoadedRules() {
		if r.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], r.ID)
		}
	}

	results := engine.EvaluateAll(context.Background(), &dsl.Facts{})
	for i, r := range results {
		if r.RuleID != want[i] {
			t.Errorf("result %d: expected %s, got %s", i, want[i], r.RuleID)
		}
	}
}

func TestEvaluateAll(t *testing.T) {
	for _, backend := range []string{domain.BackendNative, domain.BackendCEL} {
		t.Run(backend, func(t *testing.T) {
			engine, _ := NewEngine(backend, 5)
			defer engine.Close()

			engine.LoadRules([]*domain.FraudRule{
				{ID: "big", Name: "Big amount", DSLExpression: "amount > 1000", Priority: 1, Enabled: true, Description: strPtr("large payment")},
				{ID: "young-ru", Name: "Young RU", DSLExpression: "user.age < 21 AND user.region = 'RU'", Priority: 2, Enabled: true},
				{ID: "merchant", Name: "Blocked merchant", DSLExpression: "merchantId = 'm-666'", Priority: 3, Enabled: true},
			})

			tx := &domain.Transaction{Amount: 5000, Currency: "USD"}
			user := &domain.User{Age: intPtr(19), Region: strPtr("RU")}

			results := engine.EvaluateAll(context.Background(), FactsFor(tx, user))
			if len(results) != 3 {
				t.Fatalf("expected 3 results, got %d", len(results))
			}

			expected := []bool{true, true, false}
			for i, r := range results {
				if r.Matched != expected[i] {
					t.Errorf("rule %s: expected matched=%v, got %v", r.RuleID, expected[i], r.Matched)
				}
			}
			if results[0].Description == nil || *results[0].Description != "large payment" {
				t.Errorf("expected description to be carried, got %v", results[0].Description)
			}
			if results[1].Priority != 2 || results[1].RuleName != "Young RU" {
				t.Errorf("unexpected result metadata %+v", results[1])
			}

			// Without a user the user.* facts are absent.
			results = engine.EvaluateAll(context.Background(), FactsFor(tx, nil))
			if results[1].Matched {
				t.Error("expected user rule not to match without a user")
			}
		})
	}
}

func TestEvaluateAllEmpty(t *testing.T) {
	engine, _ := NewEngine(domain.BackendNative, 5)
	defer engine.Close()

	results := engine.EvaluateAll(context.Background(), &dsl.Facts{})
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil results, got %v", results)
	}
}

func TestParallelExecution(t *testing.T) {
	rec := &countingRecorder{}
	engine, _ := NewEngine(domain.BackendNative, 3, WithRecorder(rec))
	defer engine.Close()

	var rules []*domain.FraudRule
	for i := 0; i < 50; i++ {
		rules = append(rules, newRule(fmt.Sprintf("rule-%02d", i), fmt.Sprintf("Rule %02d", i), fmt.Sprintf("amount > %d", i*10), i+1))
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	amount := 245.0
	results := engine.EvaluateAll(context.Background(), &dsl.Facts{Amount: &amount})
	if len(results) != 50 {
		t.Fatalf("expected 50 results, got %d", len(results))
	}
	for i, r := range results {
		if r.RuleID != fmt.Sprintf("rule-%02d", i) {
			t.Fatalf("result %d out of order: %s", i, r.RuleID)
		}
		if want := float64(i*10) < amount; r.Matched != want {
			t.Errorf("rule %s: expected matched=%v", r.RuleID, want)
		}
	}

	if len(rec.observed) != 50 {
		t.Errorf("expected 50 observed rules, got %d", len(rec.observed))
	}
	if rec.matched != 25 {
		t.Errorf("expected 25 matches, got %d", rec.matched)
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(domain.BackendNative, 5)
	defer engine.Close()

	engine.LoadRule(newRule("old", "Old", "amount > 1", 1))

	disabled := newRule("off", "Off", "amount > 1", 1)
	disabled.Enabled = false
	err := engine.ReloadRules([]*domain.FraudRule{
		newRule("new1", "New 1", "amount > 2", 1),
		newRule("new2", "New 2", "amount > 3", 2),
		disabled,
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload, got %d", engine.RulesCount())
	}

	// A broken rule aborts the reload and keeps the current set.
	err = engine.ReloadRules([]*domain.FraudRule{
		newRule("ok", "OK", "amount > 2", 1),
		newRule("broken", "Broken", "amount >", 2),
	})
	if err == nil {
		t.Fatal("expected reload error")
	}
	loaded := engine.GetLoadedRules()
	if len(loaded) != 2 || loaded[0].ID != "new1" {
		t.Errorf("expected previous rules to stay loaded, got %v", loaded)
	}
}

func TestRemoveRule(t *testing.T) {
	engine, _ := NewEngine(domain.BackendNative, 5)
	defer engine.Close()

	engine.LoadRules([]*domain.FraudRule{
		newRule("a", "A", "amount > 1", 1),
		newRule("b", "B", "amount > 1", 2),
	})
	engine.RemoveRule("a")
	engine.RemoveRule("missing")

	if engine.RulesCount() != 1 || engine.GetLoadedRules()[0].ID != "b" {
		t.Errorf("expected only rule b, got %v", engine.GetLoadedRules())
	}
}
