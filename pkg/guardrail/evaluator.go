package guardrail

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/netfence/netfence/pkg/engine"
)

// anyToAnyRule names the structural pre-rule in decisions. It is not
// part of any configured rule set and cannot be overridden.
const anyToAnyRule = "any-to-any"

// defaultRule names the fail-safe fallback when no configured rule matches.
const defaultRule = "default"

// Evaluator classifies normalized policies against an installed rule
// set. Rule sets can be swapped at runtime (hot reload); evaluation and
// swapping are safe for concurrent use.
type Evaluator struct {
	mu       sync.RWMutex
	set      *RuleSet
	compiled []compiledRule
	logger   zerolog.Logger
	validate *validator.Validate
}

type compiledRule struct {
	rule  Rule
	query *regoQuery
}

// New creates an Evaluator with the built-in rule set installed.
func New(logger zerolog.Logger) (*Evaluator, error) {
	e := &Evaluator{
		logger:   logger.With().Str("component", "guardrail-evaluator").Logger(),
		validate: validator.New(),
	}
	if err := e.SetRuleSet(context.Background(), DefaultRuleSet()); err != nil {
		return nil, err
	}
	return e, nil
}

// SetRuleSet validates, compiles, and atomically installs a rule set.
// The previous rule set stays active if installation fails.
func (e *Evaluator) SetRuleSet(ctx context.Context, rs *RuleSet) error {
	if err := e.validateRuleSet(rs); err != nil {
		return err
	}

	compiled := make([]compiledRule, 0, len(rs.Rules))
	for i := range rs.Rules {
		rule := rs.Rules[i]
		cr := compiledRule{rule: rule}
		if rule.When.Rego != "" {
			q, err := compileRegoCondition(ctx, rule.Name, rule.When.Rego)
			if err != nil {
				return engine.NewRunError(engine.ErrCodeInvalidRuleSet,
					fmt.Sprintf("rule %q has an invalid rego condition", rule.Name), err)
			}
			cr.query = q
		}
		compiled = append(compiled, cr)
	}

	e.mu.Lock()
	e.set = rs
	e.compiled = compiled
	e.mu.Unlock()

	e.logger.Info().
		Str("rule_set", rs.Name).
		Int("rules", len(rs.Rules)).
		Msg("Guardrail rule set installed")

	return nil
}

// validateRuleSet rejects malformed rule sets: struct-level violations,
// duplicate rule names, and rules that would soften the mandatory
// any-to-any denial.
func (e *Evaluator) validateRuleSet(rs *RuleSet) error {
	if rs == nil {
		return engine.NewRunError(engine.ErrCodeInvalidRuleSet, "rule set is nil", nil)
	}
	if err := e.validate.Struct(rs); err != nil {
		return engine.NewRunError(engine.ErrCodeInvalidRuleSet, "rule set failed validation", err)
	}

	seen := make(map[string]struct{}, len(rs.Rules))
	for _, rule := range rs.Rules {
		if _, dup := seen[rule.Name]; dup {
			return engine.NewRunError(engine.ErrCodeInvalidRuleSet,
				fmt.Sprintf("duplicate rule name %q", rule.Name), nil)
		}
		seen[rule.Name] = struct{}{}

		if rule.Name == anyToAnyRule || rule.Name == defaultRule {
			return engine.NewRunError(engine.ErrCodeInvalidRuleSet,
				fmt.Sprintf("rule name %q is reserved", rule.Name), nil)
		}

		if rule.When.AnyToAny != nil && *rule.When.AnyToAny && rule.Decision != engine.DecisionDeny {
			return engine.NewRunError(engine.ErrCodeInvalidRuleSet,
				fmt.Sprintf("rule %q matches any-to-any but decides %s; any-to-any must deny",
					rule.Name, rule.Decision), nil)
		}
	}

	return nil
}

// Evaluate classifies one normalized policy. The structural any-to-any
// check runs before the configured rules, and the fail-safe default is
// require-review.
func (e *Evaluator) Evaluate(ctx context.Context, p *engine.NormalizedPolicy) engine.GuardrailDecision {
	if isAnyToAny(p) && p.Action == engine.ActionAllow {
		return engine.GuardrailDecision{
			Policy:   p.Name,
			Decision: engine.DecisionDeny,
			Rule:     anyToAnyRule,
			Reason:   "any-to-any allow policies are never permitted",
		}
	}

	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	for i := range compiled {
		cr := &compiled[i]
		matched, err := e.ruleMatches(ctx, cr, p)
		if err != nil {
			// A broken condition must not widen access. The rule is
			// skipped and the fail-safe default catches the policy
			// unless a later rule matches.
			e.logger.Error().Err(err).
				Str("rule", cr.rule.Name).
				Str("policy", p.Name).
				Msg("Guardrail condition evaluation failed")
			continue
		}
		if matched {
			reason := cr.rule.Reason
			if reason == "" {
				reason = fmt.Sprintf("matched rule %s", cr.rule.Name)
			}
			return engine.GuardrailDecision{
				Policy:   p.Name,
				Decision: cr.rule.Decision,
				Rule:     cr.rule.Name,
				Reason:   reason,
			}
		}
	}

	return engine.GuardrailDecision{
		Policy:   p.Name,
		Decision: engine.DecisionRequireReview,
		Rule:     defaultRule,
		Reason:   "no guardrail rule matched",
	}
}

func (e *Evaluator) ruleMatches(ctx context.Context, cr *compiledRule, p *engine.NormalizedPolicy) (bool, error) {
	if !conditionsMatch(cr.rule.When, p) {
		return false, nil
	}
	if cr.query != nil {
		return cr.query.Match(ctx, regoInput(p))
	}
	return true, nil
}

func conditionsMatch(c Conditions, p *engine.NormalizedPolicy) bool {
	if c.AnyToAny != nil && *c.AnyToAny != isAnyToAny(p) {
		return false
	}
	if c.CrossEnvironment != nil && *c.CrossEnvironment != p.Attributes.CrossEnvironment {
		return false
	}
	if c.CrossZone != nil && *c.CrossZone != p.Attributes.CrossZone {
		return false
	}
	if c.InternetFacing != nil && *c.InternetFacing != p.Attributes.InternetFacing {
		return false
	}
	if c.StandardService != nil && *c.StandardService != p.Attributes.StandardService {
		return false
	}
	if c.Action != nil && *c.Action != p.Action {
		return false
	}
	if c.Logging != nil && *c.Logging != p.Logging {
		return false
	}
	return true
}
