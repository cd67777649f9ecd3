package guardrail

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/netfence/netfence/pkg/engine"
)

func normalizedPolicy(mutate func(*engine.NormalizedPolicy)) *engine.NormalizedPolicy {
	p := &engine.NormalizedPolicy{
		Name:      "web-to-db",
		Ticket:    "CHG-1001",
		Requestor: "net-team",
		Source: engine.ResolvedEndpoint{
			Kind: engine.EndpointGroup, Name: "web-tier",
		},
		Destination: engine.ResolvedEndpoint{
			Kind: engine.EndpointHost, Name: "db-01",
		},
		Services: []engine.ResolvedService{
			{Name: "https", Protocols: []engine.ProtocolPort{{Protocol: "tcp", Port: "443"}}},
		},
		Action: engine.ActionAllow,
		Attributes: engine.DerivedAttributes{
			StandardService: true,
		},
	}
	if mutate != nil {
		mutate(p)
	}
	return p
}

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := New(zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestAnyToAnyAllowIsAlwaysDenied(t *testing.T) {
	e := newEvaluator(t)

	// Even with a permissive rule set installed, a wildcard allow can
	// never escape denial.
	err := e.SetRuleSet(context.Background(), &RuleSet{
		Name: "permissive",
		Rules: []Rule{
			{Name: "allow-everything", Decision: engine.DecisionAutoApprove},
		},
	})
	if err != nil {
		t.Fatalf("SetRuleSet: %v", err)
	}

	p := normalizedPolicy(func(p *engine.NormalizedPolicy) {
		p.Attributes.SourceWildcard = true
		p.Attributes.DestinationWildcard = true
	})

	d := e.Evaluate(context.Background(), p)
	if d.Decision != engine.DecisionDeny {
		t.Errorf("decision = %s, want deny", d.Decision)
	}
	if d.Rule != anyToAnyRule {
		t.Errorf("rule = %s, want %s", d.Rule, anyToAnyRule)
	}
}

func TestFirstMatchWins(t *testing.T) {
	e := newEvaluator(t)

	err := e.SetRuleSet(context.Background(), &RuleSet{
		Name: "ordered",
		Rules: []Rule{
			{
				Name:     "review-cross-env",
				Decision: engine.DecisionRequireReview,
				When:     Conditions{CrossEnvironment: boolPtr(true)},
			},
			{
				Name:     "approve-rest",
				Decision: engine.DecisionAutoApprove,
			},
		},
	})
	if err != nil {
		t.Fatalf("SetRuleSet: %v", err)
	}

	crossEnv := normalizedPolicy(func(p *engine.NormalizedPolicy) {
		p.Attributes.CrossEnvironment = true
	})
	if d := e.Evaluate(context.Background(), crossEnv); d.Rule != "review-cross-env" {
		t.Errorf("rule = %s, want review-cross-env", d.Rule)
	}

	plain := normalizedPolicy(nil)
	if d := e.Evaluate(context.Background(), plain); d.Rule != "approve-rest" {
		t.Errorf("rule = %s, want approve-rest", d.Rule)
	}
}

func TestDefaultIsRequireReview(t *testing.T) {
	e := newEvaluator(t)

	err := e.SetRuleSet(context.Background(), &RuleSet{
		Name: "narrow",
		Rules: []Rule{
			{
				Name:     "only-cross-env",
				Decision: engine.DecisionDeny,
				When:     Conditions{CrossEnvironment: boolPtr(true)},
			},
		},
	})
	if err != nil {
		t.Fatalf("SetRuleSet: %v", err)
	}

	d := e.Evaluate(context.Background(), normalizedPolicy(nil))
	if d.Decision != engine.DecisionRequireReview {
		t.Errorf("decision = %s, want require-review", d.Decision)
	}
	if d.Rule != defaultRule {
		t.Errorf("rule = %s, want %s", d.Rule, defaultRule)
	}
}

func TestBuiltinRuleSet(t *testing.T) {
	e := newEvaluator(t)

	tests := []struct {
		name   string
		mutate func(*engine.NormalizedPolicy)
		want   engine.Decision
		rule   string
	}{
		{
			name: "standard intra-environment allow",
			want: engine.DecisionAutoApprove,
			rule: "standard-allow-auto",
		},
		{
			name: "internet facing",
			mutate: func(p *engine.NormalizedPolicy) {
				p.Attributes.InternetFacing = true
			},
			want: engine.DecisionRequireReview,
			rule: "internet-facing-review",
		},
		{
			name: "cross environment",
			mutate: func(p *engine.NormalizedPolicy) {
				p.Attributes.CrossEnvironment = true
			},
			want: engine.DecisionRequireReview,
			rule: "cross-environment-review",
		},
		{
			name: "non-standard service",
			mutate: func(p *engine.NormalizedPolicy) {
				p.Attributes.StandardService = false
			},
			want: engine.DecisionRequireReview,
			rule: "non-standard-service-review",
		},
		{
			name: "deny policy",
			mutate: func(p *engine.NormalizedPolicy) {
				p.Action = engine.ActionDeny
			},
			want: engine.DecisionAutoApprove,
			rule: "deny-policy-auto",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(context.Background(), normalizedPolicy(tt.mutate))
			if d.Decision != tt.want {
				t.Errorf("decision = %s, want %s", d.Decision, tt.want)
			}
			if d.Rule != tt.rule {
				t.Errorf("rule = %s, want %s", d.Rule, tt.rule)
			}
		})
	}
}

func TestRuleSetValidation(t *testing.T) {
	e := newEvaluator(t)

	tests := []struct {
		name string
		rs   *RuleSet
	}{
		{
			name: "any-to-any rule must deny",
			rs: &RuleSet{
				Rules: []Rule{
					{
						Name:     "soften-any",
						Decision: engine.DecisionRequireReview,
						When:     Conditions{AnyToAny: boolPtr(true)},
					},
				},
			},
		},
		{
			name: "duplicate rule names",
			rs: &RuleSet{
				Rules: []Rule{
					{Name: "dup", Decision: engine.DecisionDeny},
					{Name: "dup", Decision: engine.DecisionAutoApprove},
				},
			},
		},
		{
			name: "reserved rule name",
			rs: &RuleSet{
				Rules: []Rule{
					{Name: "default", Decision: engine.DecisionDeny},
				},
			},
		},
		{
			name: "missing decision",
			rs: &RuleSet{
				Rules: []Rule{
					{Name: "no-decision"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.SetRuleSet(context.Background(), tt.rs)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if code := engine.CodeOf(err); code != engine.ErrCodeInvalidRuleSet {
				t.Errorf("code = %s, want %s", code, engine.ErrCodeInvalidRuleSet)
			}
		})
	}
}

func TestFailedInstallKeepsPreviousRuleSet(t *testing.T) {
	e := newEvaluator(t)

	err := e.SetRuleSet(context.Background(), &RuleSet{
		Rules: []Rule{{Name: "bad", Decision: "maybe"}},
	})
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}

	// The builtin rule set must still be active.
	d := e.Evaluate(context.Background(), normalizedPolicy(nil))
	if d.Rule != "standard-allow-auto" {
		t.Errorf("rule = %s, want standard-allow-auto from builtin set", d.Rule)
	}
}

func TestRegoCondition(t *testing.T) {
	e := newEvaluator(t)

	module := `package netfence.guardrails

import rego.v1

match if {
	input.destination.name == "db-01"
	input.attributes.cross_zone
}
`
	err := e.SetRuleSet(context.Background(), &RuleSet{
		Name: "rego",
		Rules: []Rule{
			{
				Name:     "db-zone-crossing",
				Decision: engine.DecisionDeny,
				When:     Conditions{Rego: module},
				Reason:   "zone crossings into the database are denied",
			},
		},
	})
	if err != nil {
		t.Fatalf("SetRuleSet: %v", err)
	}

	matching := normalizedPolicy(func(p *engine.NormalizedPolicy) {
		p.Attributes.CrossZone = true
	})
	if d := e.Evaluate(context.Background(), matching); d.Decision != engine.DecisionDeny {
		t.Errorf("decision = %s, want deny", d.Decision)
	}

	nonMatching := normalizedPolicy(nil)
	if d := e.Evaluate(context.Background(), nonMatching); d.Rule != defaultRule {
		t.Errorf("rule = %s, want %s", d.Rule, defaultRule)
	}
}

func TestInvalidRegoConditionRejected(t *testing.T) {
	e := newEvaluator(t)

	err := e.SetRuleSet(context.Background(), &RuleSet{
		Rules: []Rule{
			{
				Name:     "broken",
				Decision: engine.DecisionDeny,
				When:     Conditions{Rego: "this is not rego"},
			},
		},
	})
	if err == nil {
		t.Fatal("expected compile error, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeInvalidRuleSet {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeInvalidRuleSet)
	}
}
