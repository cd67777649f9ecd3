package normalizer

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
	"github.com/netfence/netfence/pkg/registry"
)

// DefaultWellKnownPorts is the built-in allow-list backing the
// standard_service attribute. Keys are "<protocol>/<port>".
var DefaultWellKnownPorts = []string{
	"tcp/22", "tcp/25", "tcp/53", "tcp/80", "tcp/123", "tcp/443",
	"tcp/587", "tcp/993", "tcp/3306", "tcp/5432",
	"udp/53", "udp/123", "udp/161", "udp/514",
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithWellKnownPorts replaces the default port allow-list. Entries are
// "<protocol>/<port>" strings.
func WithWellKnownPorts(ports []string) Option {
	return func(n *Normalizer) {
		n.wellKnown = make(map[string]struct{}, len(ports))
		for _, p := range ports {
			n.wellKnown[p] = struct{}{}
		}
	}
}

// Normalizer resolves declared policies against a registry snapshot.
// It is stateless beyond its configuration and safe for concurrent use.
type Normalizer struct {
	registry  *registry.Registry
	wellKnown map[string]struct{}
}

// New creates a Normalizer over a registry snapshot.
func New(r *registry.Registry, opts ...Option) *Normalizer {
	n := &Normalizer{registry: r}
	WithWellKnownPorts(DefaultWellKnownPorts)(n)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize resolves one policy. Wildcard endpoints and unknown services
// fail with policy-scoped errors; unknown object references are
// structural because they mean the policy and the registry disagree.
func (n *Normalizer) Normalize(p *engine.NetworkPolicy) (*engine.NormalizedPolicy, error) {
	name := p.Meta.Name

	if p.Spec.Source.Type() == engine.EndpointAny || p.Spec.Destination.Type() == engine.EndpointAny {
		return nil, engine.NewPolicyError(engine.ErrCodeWildcardPolicy,
			"wildcard (any) endpoints are not allowed in declared policies", nil).
			WithObject(name)
	}

	source, err := n.resolveEndpoint(name, p.Spec.Source)
	if err != nil {
		return nil, err
	}
	destination, err := n.resolveEndpoint(name, p.Spec.Destination)
	if err != nil {
		return nil, err
	}

	services, err := n.resolveServices(name, p.Spec.Services)
	if err != nil {
		return nil, err
	}

	normalized := &engine.NormalizedPolicy{
		Name:        name,
		Description: p.Spec.Description,
		Ticket:      p.Meta.Ticket,
		Requestor:   p.Meta.Requestor,
		Source:      source,
		Destination: destination,
		Services:    services,
		Action:      p.Spec.Action,
		Logging:     p.Spec.Logging,
		Targets:     append([]engine.PlatformTarget(nil), p.Spec.Targets...),
	}
	normalized.Attributes = n.deriveAttributes(normalized, p)

	return normalized, nil
}

func (n *Normalizer) resolveEndpoint(policy string, ep engine.Endpoint) (engine.ResolvedEndpoint, error) {
	switch ep.Type() {
	case engine.EndpointGroup:
		g, ok := n.registry.Group(ep.Group)
		if !ok {
			return engine.ResolvedEndpoint{}, engine.NewRunError(engine.ErrCodeUnresolvedReference,
				fmt.Sprintf("policy references unknown group %q", ep.Group), nil).
				WithObject(policy)
		}
		members, _ := n.registry.GroupMembers(ep.Group)
		return engine.ResolvedEndpoint{
			Kind:    engine.EndpointGroup,
			Name:    g.Meta.Name,
			Group:   g,
			Members: members,
		}, nil

	case engine.EndpointHost:
		h, ok := n.registry.Host(ep.Host)
		if !ok {
			return engine.ResolvedEndpoint{}, engine.NewRunError(engine.ErrCodeUnresolvedReference,
				fmt.Sprintf("policy references unknown host %q", ep.Host), nil).
				WithObject(policy)
		}
		return engine.ResolvedEndpoint{
			Kind:    engine.EndpointHost,
			Name:    h.Meta.Name,
			Host:    h,
			Members: engine.ResolvedMembers{Hosts: []*engine.Host{h}},
		}, nil

	case engine.EndpointCIDR:
		if _, err := netip.ParsePrefix(ep.CIDR); err != nil {
			return engine.ResolvedEndpoint{}, engine.NewPolicyError(engine.ErrCodeValidation,
				fmt.Sprintf("invalid CIDR endpoint %q", ep.CIDR), err).
				WithObject(policy)
		}
		return engine.ResolvedEndpoint{
			Kind:    engine.EndpointCIDR,
			Name:    ep.CIDR,
			Members: engine.ResolvedMembers{Networks: []string{ep.CIDR}},
		}, nil

	default:
		// Unreachable after the wildcard check, kept for direct callers.
		return engine.ResolvedEndpoint{Kind: engine.EndpointAny, Name: "any"}, nil
	}
}

func (n *Normalizer) resolveServices(policy string, refs []engine.ServiceRef) ([]engine.ResolvedService, error) {
	services := make([]engine.ResolvedService, 0, len(refs))
	for _, ref := range refs {
		if ref.Inline() {
			name := ref.Protocol
			if ref.Port != "" {
				name += "-" + ref.Port
			}
			services = append(services, engine.ResolvedService{
				Name:      name,
				Protocols: []engine.ProtocolPort{{Protocol: ref.Protocol, Port: ref.Port}},
			})
			continue
		}

		svc, ok := n.registry.Service(ref.Name)
		if !ok {
			return nil, engine.NewPolicyError(engine.ErrCodeUnknownService,
				fmt.Sprintf("policy references unknown service %q", ref.Name), nil).
				WithObject(policy)
		}
		services = append(services, engine.ResolvedService{
			Name:            svc.Meta.Name,
			Protocols:       append([]engine.ProtocolPort(nil), svc.Spec.Protocols...),
			PlatformMapping: svc.Spec.PlatformMapping,
		})
	}
	return services, nil
}

func (n *Normalizer) deriveAttributes(np *engine.NormalizedPolicy, p *engine.NetworkPolicy) engine.DerivedAttributes {
	return engine.DerivedAttributes{
		CrossEnvironment:    crossEnvironment(np.Source, np.Destination),
		CrossZone:           n.crossZone(np.Source, np.Destination),
		InternetFacing:      internetFacing(np.Source) || internetFacing(np.Destination),
		StandardService:     n.standardService(np.Services),
		SourceWildcard:      p.Spec.Source.Type() == engine.EndpointAny,
		DestinationWildcard: p.Spec.Destination.Type() == engine.EndpointAny,
	}
}

// crossEnvironment reports whether the endpoints span different
// deployment environments. CIDR-only endpoints carry no environment and
// never trigger the attribute.
func crossEnvironment(src, dst engine.ResolvedEndpoint) bool {
	srcEnvs := environments(src)
	dstEnvs := environments(dst)
	if len(srcEnvs) == 0 || len(dstEnvs) == 0 {
		return false
	}
	for e1 := range srcEnvs {
		for e2 := range dstEnvs {
			if e1 != e2 {
				return true
			}
		}
	}
	return false
}

func environments(ep engine.ResolvedEndpoint) map[string]struct{} {
	envs := map[string]struct{}{}
	for _, h := range ep.Members.Hosts {
		if h.Spec.Environment != "" {
			envs[h.Spec.Environment] = struct{}{}
		}
	}
	return envs
}

// crossZone reports whether both endpoints have zone attribution and the
// zone sets are disjoint.
func (n *Normalizer) crossZone(src, dst engine.ResolvedEndpoint) bool {
	srcZones := n.zonesOf(src)
	dstZones := n.zonesOf(dst)
	if len(srcZones) == 0 || len(dstZones) == 0 {
		return false
	}
	for z := range srcZones {
		if _, shared := dstZones[z]; shared {
			return false
		}
	}
	return true
}

func (n *Normalizer) zonesOf(ep engine.ResolvedEndpoint) map[string]struct{} {
	zones := map[string]struct{}{}
	for _, h := range ep.Members.Hosts {
		for _, z := range n.registry.ZonesOfHost(h.Meta.Name) {
			zones[z] = struct{}{}
		}
	}
	for _, cidr := range ep.Members.Networks {
		for _, z := range n.registry.ZonesOfNetwork(cidr) {
			zones[z] = struct{}{}
		}
	}
	return zones
}

func internetFacing(ep engine.ResolvedEndpoint) bool {
	for _, cidr := range ep.Members.Networks {
		if cidr == "0.0.0.0/0" || cidr == "::/0" {
			return true
		}
	}
	return false
}

// standardService reports whether every protocol/port tuple is on the
// well-known allow-list. Port ranges are never standard; portless
// protocols (icmp) are.
func (n *Normalizer) standardService(services []engine.ResolvedService) bool {
	for _, svc := range services {
		for _, pp := range svc.Protocols {
			if pp.Port == "" {
				continue
			}
			if strings.Contains(pp.Port, "-") {
				return false
			}
			if _, ok := n.wellKnown[pp.Protocol+"/"+pp.Port]; !ok {
				return false
			}
		}
	}
	return true
}
