// Package engine defines the shared data model for the netfence translation
// pipeline: registry objects (hosts, groups, services, zones), network
// policies and their normalized form, guardrail decisions, rendering
// artifacts, the classified error taxonomy, and the plugin capability
// contract that every platform adapter implements.
//
// The package contains no behavior beyond value construction and error
// classification; the pipeline stages live in pkg/registry, pkg/normalizer,
// pkg/guardrail and pkg/render.
package engine
