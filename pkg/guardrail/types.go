package guardrail

import (
	"github.com/netfence/netfence/pkg/engine"
)

// RuleSet is an ordered list of guardrail rules, loaded from YAML.
type RuleSet struct {
	// Name identifies the rule set in logs and audit records.
	Name string `json:"name" yaml:"name"`

	// Rules are evaluated in order; the first matching rule decides.
	Rules []Rule `json:"rules" yaml:"rules" validate:"dive"`
}

// Rule is one ordered guardrail rule.
type Rule struct {
	// Name identifies the rule in decisions and audit records.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is free-form documentation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Decision is the outcome when the rule matches.
	Decision engine.Decision `json:"decision" yaml:"decision" validate:"required,oneof=auto-approve require-review deny"`

	// When holds the match conditions. All set conditions must hold;
	// a rule with no conditions matches every policy.
	When Conditions `json:"when" yaml:"when"`

	// Reason is the justification recorded on matching decisions.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Conditions are the declarative match predicates of a rule. Unset
// fields are ignored; set fields are ANDed.
type Conditions struct {
	// AnyToAny matches policies with a wildcard source or destination.
	AnyToAny *bool `json:"any-to-any,omitempty" yaml:"any-to-any,omitempty"`

	// CrossEnvironment matches the derived cross_environment attribute.
	CrossEnvironment *bool `json:"cross-environment,omitempty" yaml:"cross-environment,omitempty"`

	// CrossZone matches the derived cross_zone attribute.
	CrossZone *bool `json:"cross-zone,omitempty" yaml:"cross-zone,omitempty"`

	// InternetFacing matches the derived internet_facing attribute.
	InternetFacing *bool `json:"internet-facing,omitempty" yaml:"internet-facing,omitempty"`

	// StandardService matches the derived standard_service attribute.
	StandardService *bool `json:"standard-service,omitempty" yaml:"standard-service,omitempty"`

	// Action matches the policy action.
	Action *engine.Action `json:"action,omitempty" yaml:"action,omitempty"`

	// Logging matches the policy logging flag.
	Logging *bool `json:"logging,omitempty" yaml:"logging,omitempty"`

	// Rego is an optional Rego module whose `match` rule extends the
	// declarative conditions. The module is compiled once when the rule
	// set is installed and receives the normalized policy as input.
	Rego string `json:"rego,omitempty" yaml:"rego,omitempty"`
}

// isAnyToAny reports whether the policy is a wildcard-to-wildcard intent
// on either side.
func isAnyToAny(p *engine.NormalizedPolicy) bool {
	return p.Attributes.SourceWildcard || p.Attributes.DestinationWildcard ||
		p.Source.Kind == engine.EndpointAny || p.Destination.Kind == engine.EndpointAny
}
