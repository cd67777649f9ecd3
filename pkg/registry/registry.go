package registry

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
)

// hostRefPrefix is the optional kind prefix on host references
// ("host/db-01" and "db-01" name the same host).
const hostRefPrefix = "host/"

// TrimHostPrefix normalizes a host reference to its bare name.
func TrimHostPrefix(ref string) string {
	return strings.TrimPrefix(ref, hostRefPrefix)
}

// Objects is the loaded document inventory a snapshot is built from.
type Objects struct {
	Hosts    []*engine.Host
	Groups   []*engine.Group
	Services []*engine.Service
	Zones    []*engine.Zone
}

// Registry is an immutable, fully resolved snapshot of the object
// inventory. All lookups are safe for concurrent use.
type Registry struct {
	hosts    map[string]*engine.Host
	groups   map[string]*engine.Group
	services map[string]*engine.Service
	zones    map[string]*engine.Zone

	// hostLabels is the effective label view per host: declared labels
	// plus the environment and derived group membership labels.
	hostLabels map[string]map[string]string

	// members caches resolved membership per group name.
	members map[string]engine.ResolvedMembers

	// zoneMembers caches resolved membership per zone name.
	zoneMembers map[string]engine.ResolvedMembers

	// hostZones maps host name to the sorted zones containing it.
	hostZones map[string][]string
}

// Build constructs a snapshot from loaded documents. It fails with a
// structural error on duplicate names, unresolvable references, or
// cyclic group membership; a snapshot is only returned when the whole
// inventory is consistent.
func Build(objects Objects) (*Registry, error) {
	r := &Registry{
		hosts:       make(map[string]*engine.Host, len(objects.Hosts)),
		groups:      make(map[string]*engine.Group, len(objects.Groups)),
		services:    make(map[string]*engine.Service, len(objects.Services)),
		zones:       make(map[string]*engine.Zone, len(objects.Zones)),
		hostLabels:  make(map[string]map[string]string, len(objects.Hosts)),
		members:     make(map[string]engine.ResolvedMembers, len(objects.Groups)),
		zoneMembers: make(map[string]engine.ResolvedMembers, len(objects.Zones)),
		hostZones:   make(map[string][]string),
	}

	if err := r.index(objects); err != nil {
		return nil, err
	}
	if err := r.resolveGroups(); err != nil {
		return nil, err
	}
	if err := r.resolveZones(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) index(objects Objects) error {
	for _, h := range objects.Hosts {
		name := h.Meta.Name
		if _, exists := r.hosts[name]; exists {
			return engine.NewRunError(engine.ErrCodeDuplicateObject,
				"host declared more than once", nil).WithObject(name)
		}
		r.hosts[name] = h
		r.hostLabels[name] = effectiveHostLabels(h)
	}

	for _, g := range objects.Groups {
		name := g.Meta.Name
		if _, exists := r.groups[name]; exists {
			return engine.NewRunError(engine.ErrCodeDuplicateObject,
				"group declared more than once", nil).WithObject(name)
		}
		r.groups[name] = g
	}

	for _, s := range objects.Services {
		name := s.Meta.Name
		if _, exists := r.services[name]; exists {
			return engine.NewRunError(engine.ErrCodeDuplicateObject,
				"service declared more than once", nil).WithObject(name)
		}
		r.services[name] = s
	}

	for _, z := range objects.Zones {
		name := z.Meta.Name
		if _, exists := r.zones[name]; exists {
			return engine.NewRunError(engine.ErrCodeDuplicateObject,
				"zone declared more than once", nil).WithObject(name)
		}
		r.zones[name] = z
	}

	return nil
}

// effectiveHostLabels merges metadata and spec labels (spec wins) and
// exposes the environment as a matchable label.
func effectiveHostLabels(h *engine.Host) map[string]string {
	labels := make(map[string]string, len(h.Meta.Labels)+len(h.Spec.Labels)+1)
	for k, v := range h.Meta.Labels {
		labels[k] = v
	}
	for k, v := range h.Spec.Labels {
		labels[k] = v
	}
	if h.Spec.Environment != "" {
		if _, ok := labels["environment"]; !ok {
			labels["environment"] = h.Spec.Environment
		}
	}
	return labels
}

// resolveGroups resolves membership for every group in dependency order.
// Dependencies come from nested group references and from dynamic
// predicates matching derived group labels.
func (r *Registry) resolveGroups() error {
	deps := make(map[string][]string, len(r.groups))
	for name, g := range r.groups {
		edges := append([]string(nil), g.Spec.Membership.Groups...)
		edges = append(edges, predicateGroupRefs(g.Spec.Membership.Dynamic)...)
		sort.Strings(edges)

		for _, dep := range edges {
			if _, ok := r.groups[dep]; !ok {
				return engine.NewRunError(engine.ErrCodeUnresolvedReference,
					fmt.Sprintf("membership references unknown group %q", dep), nil).
					WithObject(name)
			}
		}
		deps[name] = edges
	}

	order, err := topoSort(deps)
	if err != nil {
		return err
	}

	for _, name := range order {
		members, err := r.resolveGroupMembers(r.groups[name])
		if err != nil {
			return err
		}
		r.members[name] = members

		// Stamp derived membership labels so later predicates can match
		// on membership in this group.
		for _, h := range members.Hosts {
			r.hostLabels[h.Meta.Name][derivedGroupLabelPrefix+name] = "true"
		}
	}

	return nil
}

func (r *Registry) resolveGroupMembers(g *engine.Group) (engine.ResolvedMembers, error) {
	var members engine.ResolvedMembers

	byName := make(map[string]*engine.Host)
	add := func(h *engine.Host) {
		byName[h.Meta.Name] = h
	}

	for _, ref := range g.Spec.Membership.Static {
		name := TrimHostPrefix(ref)
		h, ok := r.hosts[name]
		if !ok {
			return members, engine.NewRunError(engine.ErrCodeUnresolvedReference,
				fmt.Sprintf("static membership references unknown host %q", ref), nil).
				WithObject(g.Meta.Name)
		}
		add(h)
	}

	networks := map[string]struct{}{}
	for _, cidr := range g.Spec.Membership.Networks {
		networks[cidr] = struct{}{}
	}

	for _, nested := range g.Spec.Membership.Groups {
		// Resolution order guarantees nested groups are already cached.
		inner := r.members[nested]
		for _, h := range inner.Hosts {
			add(h)
		}
		for _, cidr := range inner.Networks {
			networks[cidr] = struct{}{}
		}
	}

	if pred := g.Spec.Membership.Dynamic; pred != nil {
		for name, h := range r.hosts {
			if matchPredicate(pred, r.hostLabels[name]) {
				add(h)
			}
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	members.Hosts = make([]*engine.Host, 0, len(names))
	for _, name := range names {
		members.Hosts = append(members.Hosts, byName[name])
	}

	members.Networks = make([]string, 0, len(networks))
	for cidr := range networks {
		members.Networks = append(members.Networks, cidr)
	}
	sort.Strings(members.Networks)

	return members, nil
}

func (r *Registry) resolveZones() error {
	zoneNames := make([]string, 0, len(r.zones))
	for name := range r.zones {
		zoneNames = append(zoneNames, name)
	}
	sort.Strings(zoneNames)

	for _, zoneName := range zoneNames {
		z := r.zones[zoneName]

		byName := make(map[string]*engine.Host)
		for _, ref := range z.Spec.Hosts {
			name := TrimHostPrefix(ref)
			h, ok := r.hosts[name]
			if !ok {
				return engine.NewRunError(engine.ErrCodeUnresolvedReference,
					fmt.Sprintf("zone references unknown host %q", ref), nil).
					WithObject(zoneName)
			}
			byName[name] = h
		}

		for _, groupRef := range z.Spec.Groups {
			inner, ok := r.members[groupRef]
			if !ok {
				return engine.NewRunError(engine.ErrCodeUnresolvedReference,
					fmt.Sprintf("zone references unknown group %q", groupRef), nil).
					WithObject(zoneName)
			}
			for _, h := range inner.Hosts {
				byName[h.Meta.Name] = h
			}
		}

		var members engine.ResolvedMembers
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			members.Hosts = append(members.Hosts, byName[name])
			r.hostZones[name] = append(r.hostZones[name], zoneName)
		}

		members.Networks = append([]string(nil), z.Spec.Networks...)
		sort.Strings(members.Networks)

		r.zoneMembers[zoneName] = members
	}

	return nil
}

// topoSort orders group names so every group's dependencies precede it.
// A dependency cycle is reported as a structural error naming the cycle.
func topoSort(deps map[string][]string) ([]string, error) {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current DFS path
		black = 2 // done
	)

	color := make(map[string]int, len(deps))
	order := make([]string, 0, len(deps))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case grey:
			// Back edge: slice the current path into the cycle.
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), name)
			return engine.NewRunError(engine.ErrCodeCyclicMembership,
				fmt.Sprintf("group membership cycle: %s", strings.Join(cycle, " -> ")), nil).
				WithObject(name)
		}

		color[name] = grey
		path = append(path, name)
		for _, dep := range deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// Host looks up a host by bare name or "host/" prefixed reference.
func (r *Registry) Host(ref string) (*engine.Host, bool) {
	h, ok := r.hosts[TrimHostPrefix(ref)]
	return h, ok
}

// Group looks up a group by name.
func (r *Registry) Group(name string) (*engine.Group, bool) {
	g, ok := r.groups[name]
	return g, ok
}

// Service looks up a service by name.
func (r *Registry) Service(name string) (*engine.Service, bool) {
	s, ok := r.services[name]
	return s, ok
}

// Zone looks up a zone by name.
func (r *Registry) Zone(name string) (*engine.Zone, bool) {
	z, ok := r.zones[name]
	return z, ok
}

// GroupMembers returns the resolved membership of a group.
func (r *Registry) GroupMembers(name string) (engine.ResolvedMembers, bool) {
	m, ok := r.members[name]
	return m, ok
}

// ZoneMembers returns the resolved membership of a zone.
func (r *Registry) ZoneMembers(name string) (engine.ResolvedMembers, bool) {
	m, ok := r.zoneMembers[name]
	return m, ok
}

// ZonesOfHost returns the sorted names of zones containing the host.
func (r *Registry) ZonesOfHost(name string) []string {
	return r.hostZones[TrimHostPrefix(name)]
}

// ZonesOfNetwork returns the sorted names of zones whose declared
// networks contain the given CIDR.
func (r *Registry) ZonesOfNetwork(cidr string) []string {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil
	}

	var out []string
	zoneNames := make([]string, 0, len(r.zones))
	for name := range r.zones {
		zoneNames = append(zoneNames, name)
	}
	sort.Strings(zoneNames)

	for _, zoneName := range zoneNames {
		for _, zn := range r.zones[zoneName].Spec.Networks {
			zp, err := netip.ParsePrefix(zn)
			if err != nil {
				continue
			}
			if zp.Bits() <= prefix.Bits() && zp.Contains(prefix.Addr()) {
				out = append(out, zoneName)
				break
			}
		}
	}
	return out
}

// Counts reports inventory sizes for metrics and run summaries.
func (r *Registry) Counts() (hosts, groups, services, zones int) {
	return len(r.hosts), len(r.groups), len(r.services), len(r.zones)
}
