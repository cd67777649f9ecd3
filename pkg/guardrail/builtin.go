package guardrail

import (
	"github.com/netfence/netfence/pkg/engine"
)

func boolPtr(b bool) *bool { return &b }

// DefaultRuleSet returns the built-in guardrail rules. They mirror the
// house policy for network change review: exposure and boundary
// crossings need human eyes, everything mundane flows through.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Name: "builtin",
		Rules: []Rule{
			{
				Name:        "internet-facing-review",
				Description: "Traffic to or from the internet always gets reviewed.",
				Decision:    engine.DecisionRequireReview,
				When:        Conditions{InternetFacing: boolPtr(true)},
				Reason:      "policy exposes an internet-facing endpoint",
			},
			{
				Name:        "cross-environment-review",
				Description: "Environment boundary crossings get reviewed.",
				Decision:    engine.DecisionRequireReview,
				When:        Conditions{CrossEnvironment: boolPtr(true)},
				Reason:      "policy crosses deployment environments",
			},
			{
				Name:        "non-standard-service-review",
				Description: "Ports off the well-known list get reviewed.",
				Decision:    engine.DecisionRequireReview,
				When:        Conditions{StandardService: boolPtr(false)},
				Reason:      "policy uses a non-standard service port",
			},
			{
				Name:        "standard-allow-auto",
				Description: "Well-known services inside one environment flow through.",
				Decision:    engine.DecisionAutoApprove,
				When: Conditions{
					Action:           actionPtr(engine.ActionAllow),
					StandardService:  boolPtr(true),
					CrossEnvironment: boolPtr(false),
					InternetFacing:   boolPtr(false),
				},
				Reason: "standard service within one environment",
			},
			{
				Name:        "deny-policy-auto",
				Description: "Explicit deny intents never need review.",
				Decision:    engine.DecisionAutoApprove,
				When:        Conditions{Action: actionPtr(engine.ActionDeny)},
				Reason:      "deny policies tighten posture",
			},
		},
	}
}

func actionPtr(a engine.Action) *engine.Action { return &a }
