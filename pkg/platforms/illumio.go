package platforms

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
)

// Illumio mapping strategies.
const (
	IllumioStrategyLabelBased = "label-based"
	IllumioStrategyIPList     = "ip-list"
	IllumioStrategyHybrid     = "hybrid"
)

// Illumio renders PCE rule sets with the illumio/illumio-core provider.
// Scopes are PCE organization identifiers.
type Illumio struct{}

// NewIllumio creates the Illumio plugin.
func NewIllumio() *Illumio { return &Illumio{} }

func (*Illumio) Platform() string { return "illumio" }

func (*Illumio) SupportedStrategies() []string {
	return []string{IllumioStrategyLabelBased, IllumioStrategyIPList, IllumioStrategyHybrid}
}

// ValidateMapping requires labels for the label-based strategies; an
// IP list renders from members alone.
func (*Illumio) ValidateMapping(m *engine.GroupMapping) error {
	if m == nil {
		return nil
	}
	if (m.Strategy == IllumioStrategyLabelBased || m.Strategy == IllumioStrategyHybrid) && len(m.Labels) == 0 {
		return engine.NewTargetError(engine.ErrCodeInvalidMapping,
			fmt.Sprintf("%s mapping needs at least one label", m.Strategy), nil)
	}
	return nil
}

func (il *Illumio) RenderGroup(req *engine.RenderGroupRequest) (*engine.GroupArtifact, error) {
	strategy := IllumioStrategyLabelBased
	if req.Mapping != nil && req.Mapping.Strategy != "" {
		strategy = req.Mapping.Strategy
	}
	if req.Mapping == nil {
		// No mapping means no labels exist; fall back to an IP list.
		strategy = IllumioStrategyIPList
	}

	switch strategy {
	case IllumioStrategyIPList:
		return il.renderIPList(req), nil
	case IllumioStrategyHybrid:
		labels := il.renderLabels(req)
		ipList := il.renderIPList(req)
		return &engine.GroupArtifact{
			GroupName:     req.Group.Meta.Name,
			Reference:     labels.Reference,
			ReferenceType: "label",
			Fragment:      labels.Fragment + "\n\n" + ipList.Fragment,
		}, nil
	default:
		return il.renderLabels(req), nil
	}
}

func (il *Illumio) renderLabels(req *engine.RenderGroupRequest) *engine.GroupArtifact {
	name := req.Group.Meta.Name

	var parts, refs []string
	for _, label := range req.Mapping.Labels {
		dataName := fmt.Sprintf("label_%s_%s", tfName(name), tfName(label.Key))
		parts = append(parts, fmt.Sprintf(`data "illumio-core_labels" %q {
  key   = %q
  value = %q
}`, dataName, label.Key, label.Value))
		refs = append(refs, fmt.Sprintf("data.illumio-core_labels.%s.items[0].href", dataName))
	}

	return &engine.GroupArtifact{
		GroupName:     name,
		Reference:     strings.Join(refs, ","),
		ReferenceType: "label",
		Fragment:      strings.Join(parts, "\n\n"),
	}
}

func (il *Illumio) renderIPList(req *engine.RenderGroupRequest) *engine.GroupArtifact {
	name := req.Group.Meta.Name

	listName := "ipl-" + name
	if req.Mapping != nil && req.Mapping.IPList != nil && req.Mapping.IPList.Name != "" {
		listName = req.Mapping.IPList.Name
	}

	var ranges []string
	for _, cidr := range memberCIDRs(req.Members) {
		from, to, ok := cidrBounds(cidr)
		if !ok {
			continue
		}
		if from == to {
			ranges = append(ranges, fmt.Sprintf(`  ip_ranges {
    from_ip = %q
  }`, from))
		} else {
			ranges = append(ranges, fmt.Sprintf(`  ip_ranges {
    from_ip = %q
    to_ip   = %q
  }`, from, to))
		}
	}

	fragment := fmt.Sprintf(`resource "illumio-core_ip_list" %q {
  name        = %q
  description = "IP List for %s - %s"
%s
}`, tfName(listName), listName, name, managedComment, strings.Join(ranges, "\n"))

	return &engine.GroupArtifact{
		GroupName:     name,
		Reference:     fmt.Sprintf("illumio-core_ip_list.%s.href", tfName(listName)),
		ReferenceType: "ip_list",
		Fragment:      fragment,
	}
}

// cidrBounds returns the first and last address of a CIDR.
func cidrBounds(cidr string) (from, to string, ok bool) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		addr, err := netip.ParseAddr(cidr)
		if err != nil {
			return "", "", false
		}
		return addr.String(), addr.String(), true
	}

	first := prefix.Masked().Addr()
	last := lastAddr(prefix)
	return first.String(), last.String(), true
}

func lastAddr(prefix netip.Prefix) netip.Addr {
	bytes := prefix.Masked().Addr().As4()
	hostBits := 32 - prefix.Bits()
	for i := 0; i < hostBits; i++ {
		bytes[3-i/8] |= 1 << (i % 8)
	}
	return netip.AddrFrom4(bytes)
}

func (il *Illumio) RenderPolicy(req *engine.RenderPolicyRequest) (string, error) {
	policy := req.Policy

	var ingressServices []string
	for _, svc := range req.Services {
		for _, pp := range svc.Protocols {
			proto := protocolNumber(pp.Protocol)
			from, to := portBounds(pp.Port)
			switch {
			case pp.Port == "":
				ingressServices = append(ingressServices, fmt.Sprintf(`      ingress_services {
        proto = %d
      }`, proto))
			case from != to:
				ingressServices = append(ingressServices, fmt.Sprintf(`      ingress_services {
        proto   = %d
        port    = %s
        to_port = %s
      }`, proto, from, to))
			default:
				ingressServices = append(ingressServices, fmt.Sprintf(`      ingress_services {
        proto = %d
        port  = %s
      }`, proto, from))
			}
		}
	}

	providers := actorBlock("providers", req.Destination)
	consumers := actorBlock("consumers", req.Source)

	return fmt.Sprintf(`resource "illumio-core_rule_set" %q {
  name        = %q
  description = "%s - %s"
  enabled     = true

  scopes {
  }

  rule {
    enabled                     = true
    description                 = %q
    resolve_labels_as_workloads = true

%s

%s

%s
  }
}`, tfName(policy.Name), policy.Name, policy.Description, policy.Ticket,
		policy.Description, providers, consumers,
		strings.Join(ingressServices, "\n")), nil
}

// actorBlock renders a providers or consumers block from the endpoint's
// rendered reference, defaulting to all managed workloads.
func actorBlock(kind string, artifact *engine.GroupArtifact) string {
	if artifact == nil {
		return fmt.Sprintf(`    %s {
      actors = "ams"
    }`, kind)
	}

	switch artifact.ReferenceType {
	case "label":
		href, _, _ := strings.Cut(artifact.Reference, ",")
		return fmt.Sprintf(`    %s {
      label {
        href = %s
      }
    }`, kind, href)
	case "ip_list":
		return fmt.Sprintf(`    %s {
      ip_list {
        href = %s
      }
    }`, kind, artifact.Reference)
	default:
		return fmt.Sprintf(`    %s {
      actors = "ams"
    }`, kind)
	}
}
