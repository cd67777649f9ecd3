// Package stores provides the SQLite audit store: runs, guardrail
// decisions, and per-target artifact records.
//
// The store is consumed by the CLI shell only; the core pipeline stays
// I/O-free. Schema management uses golang-migrate with embedded
// migrations over the pure-Go modernc.org/sqlite driver.
package stores
