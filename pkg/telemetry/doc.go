// Package telemetry provides the ambient observability stack for the
// netfence pipeline: structured logging (zerolog), distributed tracing
// (OpenTelemetry with stdout and OTLP/gRPC exporters), Prometheus
// metrics, and an async pipeline event publisher.
//
// The Telemetry aggregate bundles all four concerns and travels through
// context.Context. Core packages (registry, normalizer, guardrail,
// render) take plain zerolog loggers; the pipeline and the CLI shell
// wire the full stack.
//
// Metrics cover the domain: runs started/completed with duration,
// guardrail decisions by outcome and rule, renders by platform and
// status, classified errors by scope and code, and registry object
// counts by kind.
package telemetry
