// Package registry builds immutable snapshots of the declared object
// inventory (hosts, groups, services, zones) and resolves group and zone
// membership to concrete hosts and networks.
//
// A snapshot is constructed once from a set of loaded documents and is
// read-only afterwards, so concurrent pipeline stages can share it without
// locking. Resolution is deterministic: members are deduplicated and
// sorted, and dynamic membership is evaluated in dependency order so
// predicates over derived group labels see fully resolved groups.
package registry
