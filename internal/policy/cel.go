package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/telco-sentinel/harrier/internal/domain"
)

// CustomRules evaluates operator-defined CEL predicates over threat
// attributes. Rules are compiled once at load time and evaluated in load
// order; the first match wins. Built-in policy always runs first.
type CustomRules struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []*compiledRule
}

type compiledRule struct {
	config  *domain.PolicyRule
	program cel.Program
}

// NewCustomRules creates an empty custom rule set.
func NewCustomRules() (*CustomRules, error) {
	env, err := cel.NewEnv(
		cel.Variable("threat_type", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("source", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomRules{env: env}, nil
}

// ValidateRule compiles a rule without loading it.
func (c *CustomRules) ValidateRule(cfg *domain.PolicyRule) error {
	if cfg == nil {
		return fmt.Errorf("policy rule is required")
	}
	_, err := c.compile(cfg)
	return err
}

// Load replaces the loaded rule set with the enabled rules in configs,
// preserving order. Used at startup and for hot reload.
func (c *CustomRules) Load(configs []*domain.PolicyRule) error {
	compiled := make([]*compiledRule, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		rule, err := c.compile(cfg)
		if err != nil {
			return err
		}
		compiled = append(compiled, rule)
	}

	c.mu.Lock()
	c.rules = compiled
	c.mu.Unlock()

	return nil
}

// Count returns the number of loaded rules.
func (c *CustomRules) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

// Rules returns the loaded rule configurations in evaluation order.
func (c *CustomRules) Rules() []*domain.PolicyRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.PolicyRule, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.config
	}
	return out
}

// Evaluate runs the loaded rules against a threat and returns the first
// matching rule's decision. Evaluation errors skip the rule.
func (c *CustomRules) Evaluate(t *domain.Threat) Decision {
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	if len(rules) == 0 {
		return Decision{}
	}

	confidence := 0.0
	if t.ScoringDetail != nil {
		confidence = t.ScoringDetail.Confidence
	}

	activation := map[string]any{
		"threat_type": string(t.Type),
		"severity":    string(t.Severity),
		"score":       t.Score,
		"source":      t.Source,
		"confidence":  confidence,
	}

	for _, rule := range rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			continue
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			return Decision{
				Match:      true,
				ActionType: rule.config.Action,
				Rule:       rule.config.Name,
			}
		}
	}

	return Decision{}
}

func (c *CustomRules) compile(cfg *domain.PolicyRule) (*compiledRule, error) {
	if !domain.KnownActionType(cfg.Action) {
		return nil, fmt.Errorf("rule %s: unknown action type %q", cfg.ID, cfg.Action)
	}

	ast, issues := c.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledRule{config: cfg, program: program}, nil
}
