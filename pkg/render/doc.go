// Package render turns approved normalized policies into platform
// configuration artifacts.
//
// A Renderer fans each policy out to its (platform, scope) targets,
// dispatches to the registered platform plugin, and assembles a
// deterministic artifact per target: stable ordering, no timestamps, and
// a SHA-256 digest for change detection. Targets fail independently; one
// broken mapping never blocks the other platforms of the same policy.
package render
