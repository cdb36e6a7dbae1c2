// Package policy provides the CEL-based advisory flag engine. Rules
// run against a finished decision's metrics and annotate it with
// flags; they never alter the score or the offer itself.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates policy rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.PolicyRule
	Program cel.Program
}

// NewEngine creates a policy engine. Rules see the decision's metric
// trace and outcome as top-level variables.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("credit_score", cel.IntType),
		cel.Variable("score_normalized", cel.DoubleType),
		cel.Variable("max_amount", cel.IntType),
		cel.Variable("term_months", cel.IntType),
		cel.Variable("approved", cel.BoolType),
		cel.Variable("avg_monthly_spend", cel.DoubleType),
		cel.Variable("spend_volatility", cel.DoubleType),
		cel.Variable("purchase_frequency", cel.DoubleType),
		cel.Variable("max_single_purchase", cel.DoubleType),
		cel.Variable("overdue_debt", cel.DoubleType),
		cel.Variable("account_balance", cel.DoubleType),
		cel.Variable("deposit_count", cel.IntType),
		cel.Variable("bill_count", cel.IntType),
		cel.Variable("pending_bill_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("policy rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *Engine) LoadRules(rules []*domain.PolicyRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules atomically replaces the loaded rule set. This enables
// hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// Evaluate runs every loaded rule against a decision in parallel and
// returns a flag for each rule that fired. A rule that errors produces
// a flag too, with the error as its reason, so broken policies surface
// instead of silently passing.
func (e *Engine) Evaluate(ctx context.Context, decision *domain.Decision) []domain.PolicyFlag {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	m := decision.Offer.Metrics
	activation := map[string]any{
		"credit_score":        int64(m.CreditScore),
		"score_normalized":    m.ScoreNormalized,
		"max_amount":          int64(decision.Offer.MaxAmount),
		"term_months":         int64(decision.Offer.TermMonths),
		"approved":            decision.Offer.Status == domain.OfferApproved,
		"avg_monthly_spend":   m.AvgMonthlySpend,
		"spend_volatility":    m.SpendVolatility,
		"purchase_frequency":  m.PurchaseFrequency,
		"max_single_purchase": m.MaxSinglePurchase,
		"overdue_debt":        m.OverdueDebt,
		"account_balance":     m.AccountBalance,
		"deposit_count":       int64(m.DepositCount),
		"bill_count":          int64(m.BillCount),
		"pending_bill_count":  int64(m.PendingBillCount),
	}

	flags := make([]*domain.PolicyFlag, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			flags[idx] = e.evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	out := make([]domain.PolicyFlag, 0, len(flags))
	for _, f := range flags {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out
}

// evaluateRule runs one rule and returns a flag if it fired, nil if not.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) *domain.PolicyFlag {
	start := time.Now()

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		return &domain.PolicyFlag{
			RuleID:    rule.Rule.ID,
			Name:      rule.Rule.Name,
			Severity:  rule.Rule.Severity,
			Reason:    fmt.Sprintf("evaluation error: %v", err),
			ProcessMs: time.Since(start).Milliseconds(),
		}
	}

	fired, ok := out.(types.Bool)
	if !ok || !bool(fired) {
		return nil
	}

	return &domain.PolicyFlag{
		RuleID:    rule.Rule.ID,
		Name:      rule.Rule.Name,
		Severity:  rule.Rule.Severity,
		Reason:    rule.Rule.Description,
		ProcessMs: time.Since(start).Milliseconds(),
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rules.
func (e *Engine) GetLoadedRules() []*domain.PolicyRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.PolicyRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close clears the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.PolicyRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
