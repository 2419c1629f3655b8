// Package rules loads fraud rules and evaluates them against transactions.
package rules

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/dsl"
)

// Recorder receives engine measurements. Implemented by the metrics package.
type Recorder interface {
	ObserveRule(ruleID string, matched bool, elapsed time.Duration)
	CompileFailed(code string)
}

// Engine holds the compiled enabled rules in evaluation order.
type Engine struct {
	mu         sync.RWMutex
	backend    string
	env        *cel.Env
	rules      []*CompiledRule
	maxWorkers int
	recorder   Recorder
	tracer     trace.Tracer
	logger     *slog.Logger
}

// CompiledRule pairs a stored rule with its parsed tree and, for the CEL
// backend, its program.
type CompiledRule struct {
	Rule    *domain.FraudRule
	Expr    dsl.Expr
	Program cel.Program
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder reports evaluation and compile metrics to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a rule engine for the given backend ("native" or "cel").
func NewEngine(backend string, maxWorkers int, opts ...Option) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if backend == "" {
		backend = domain.BackendNative
	}

	e := &Engine{
		backend:    backend,
		maxWorkers: maxWorkers,
		tracer:     otel.Tracer("fraudguard/rules"),
		logger:     slog.Default().With("component", "rules"),
	}
	for _, opt := range opts {
		opt(e)
	}

	switch backend {
	case domain.BackendNative:
	case domain.BackendCEL:
		env, err := newCELEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL environment: %w", err)
		}
		e.env = env
	default:
		return nil, fmt.Errorf("unknown engine backend %q", backend)
	}

	return e, nil
}

// Backend returns the configured evaluation backend.
func (e *Engine) Backend() string {
	return e.backend
}

// ValidateRule compiles a rule without changing the loaded set.
// DSL problems are returned as *dsl.ParserError.
func (e *Engine) ValidateRule(rule *domain.FraudRule) (dsl.Expr, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is required")
	}
	compiled, err := e.compileRule(rule)
	if err != nil {
		return nil, err
	}
	return compiled.Expr, nil
}

// LoadRule compiles a rule and adds or replaces it by ID. Loading a
// disabled rule removes it.
func (e *Engine) LoadRule(rule *domain.FraudRule) error {
	if !rule.Enabled {
		e.RemoveRule(rule.ID)
		return nil
	}

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(e.rules), func(r *CompiledRule) bool {
		return r.Rule.ID == rule.ID
	})
	next = append(next, compiled)
	sortRules(next)
	e.rules = next

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(rules []*domain.FraudRule) error {
	for _, rule := range rules {
		if err := e.LoadRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRule unloads a rule. Unknown IDs are ignored.
func (e *Engine) RemoveRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = slices.DeleteFunc(slices.Clone(e.rules), func(r *CompiledRule) bool {
		return r.Rule.ID == ruleID
	})
}

// ReloadRules replaces the loaded set. If any enabled rule fails to
// compile the previous set stays active.
func (e *Engine) ReloadRules(rules []*domain.FraudRule) error {
	next := make([]*CompiledRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		next = append(next, compiled)
	}
	sortRules(next)

	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()

	return nil
}

// EvaluateAll evaluates all loaded rules in parallel. Results are in
// evaluation order: ascending priority, then name.
func (e *Engine) EvaluateAll(ctx context.Context, facts *dsl.Facts) []domain.RuleResult {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if len(rules) == 0 {
		return []domain.RuleResult{}
	}

	_, span := e.tracer.Start(ctx, "rules.EvaluateAll",
		trace.WithAttributes(
			attribute.Int("rules.count", len(rules)),
			attribute.String("rules.backend", e.backend),
		))
	defer span.End()

	var activation map[string]any
	if e.backend == domain.BackendCEL {
		activation = map[string]any{celFactsVar: facts.AsMap()}
	}

	// Parallel evaluation using worker pool pattern
	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, facts, activation)
		}(i, rule)
	}

	wg.Wait()

	matched := 0
	for _, r := range results {
		if r.Matched {
			matched++
		}
	}
	span.SetAttributes(attribute.Int("rules.matched", matched))

	return results
}

func (e *Engine) evaluateRule(rule *CompiledRule, facts *dsl.Facts, activation map[string]any) domain.RuleResult {
	start := time.Now()

	var matched bool
	if rule.Program != nil {
		var err error
		matched, err = evalCEL(rule.Program, activation)
		if err != nil {
			// Fail to false, like a missing fact.
			e.logger.Warn("CEL evaluation failed", "rule_id", rule.Rule.ID, "error", err)
		}
	} else {
		matched = dsl.Evaluate(rule.Expr, facts)
	}

	if e.recorder != nil {
		e.recorder.ObserveRule(rule.Rule.ID, matched, time.Since(start))
	}

	return domain.RuleResult{
		RuleID:      rule.Rule.ID,
		RuleName:    rule.Rule.Name,
		Priority:    rule.Rule.Priority,
		Matched:     matched,
		Description: rule.Rule.Description,
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the loaded rules in evaluation order.
func (e *Engine) GetLoadedRules() []*domain.FraudRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.FraudRule, len(e.rules))
	for i, compiled := range e.rules {
		rules[i] = compiled.Rule
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(rule *domain.FraudRule) (*CompiledRule, error) {
	expr, err := dsl.Parse(rule.DSLExpression)
	if err != nil {
		if e.recorder != nil {
			code := dsl.CodeParseError
			if pe, ok := dsl.AsParserError(err); ok {
				code = pe.Code
			}
			e.recorder.CompileFailed(code)
		}
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
	}

	compiled := &CompiledRule{Rule: rule, Expr: expr}
	if e.env != nil {
		program, err := compileCEL(e.env, expr)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
		}
		compiled.Program = program
	}
	return compiled, nil
}

func sortRules(rules []*CompiledRule) {
	slices.SortStableFunc(rules, func(a, b *CompiledRule) int {
		if c := cmp.Compare(a.Rule.Priority, b.Rule.Priority); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Rule.Name, b.Rule.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Rule.ID, b.Rule.ID)
	})
}
