// Package normalizer converts declared network policies into their
// canonical, fully resolved form: endpoint references become registry
// entities with effective member sets, service references become
// protocol/port tuples, and the guardrail-relevant facts (environment
// crossing, zone crossing, internet exposure, well-known services) are
// derived once so the evaluator never touches the registry.
package normalizer
