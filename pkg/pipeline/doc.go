// Package pipeline orchestrates one translation run: registry build,
// policy normalization, guardrail evaluation, and multi-platform
// rendering.
//
// A run operates on an immutable registry snapshot, so policies are
// processed in parallel without coordination. Structural errors (bad
// snapshot) abort the run; per-policy and per-target errors are
// collected into the run outcome so one bad policy never blocks the
// rest.
package pipeline
