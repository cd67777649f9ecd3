// Package guardrail classifies normalized policies into auto-approve,
// require-review, or deny.
//
// Rules are evaluated in declared order and the first match wins. Two
// behaviors are not configurable: an any-to-any allow is denied before
// the configured rules run, and a policy no rule matches falls back to
// require-review. Rule conditions are declarative attribute matches,
// optionally extended with a Rego expression compiled once at load time.
package guardrail
