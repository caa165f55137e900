// Package rules resolves which discount rules, tiers and assignments apply
// to a pricing context.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/tierprice/internal/domain"
)

// ConditionEngine evaluates the optional CEL eligibility expression of a
// rule. Compiled programs are cached per expression.
type ConditionEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewConditionEngine creates the CEL environment for rule conditions.
func NewConditionEngine() (*ConditionEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("product_id", cel.StringType),
		cel.Variable("brand_id", cel.StringType),
		cel.Variable("category_id", cel.StringType),
		cel.Variable("subcategory_id", cel.StringType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("date", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ConditionEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate compiles expr without caching it.
func (e *ConditionEngine) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := e.compile(expr)
	return err
}

// Eligible reports whether rule's condition holds for pctx.
// Rules without a condition are always eligible.
func (e *ConditionEngine) Eligible(rule *domain.DiscountRule, pctx domain.PricingContext) (bool, error) {
	if rule.Condition == "" {
		return true, nil
	}

	program, err := e.program(rule.Condition)
	if err != nil {
		return false, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	out, _, err := program.Eval(map[string]any{
		"customer_id":    pctx.CustomerID,
		"product_id":     pctx.ProductID,
		"brand_id":       pctx.BrandID,
		"category_id":    pctx.CategoryID,
		"subcategory_id": pctx.SubcategoryID,
		"quantity":       int64(pctx.Quantity),
		"date":           domain.DateKey(pctx.CurrentDate),
	})
	if err != nil {
		return false, fmt.Errorf("rule %s: evaluation error: %w", rule.ID, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("rule %s: condition returned %v, want bool", rule.ID, out.Type())
	}
	return bool(b), nil
}

func (e *ConditionEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	p, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := e.compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expr] = p
	e.mu.Unlock()
	return p, nil
}

func (e *ConditionEngine) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}
