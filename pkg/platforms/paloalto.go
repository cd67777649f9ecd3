package platforms

import (
	"fmt"
	"sort"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
)

// Palo Alto mapping strategies.
const (
	PaloAltoStrategyDAGOnly    = "dag-only"
	PaloAltoStrategyStaticOnly = "static-only"
	PaloAltoStrategyHybrid     = "hybrid"
)

// PaloAlto renders Panorama-managed configuration with the
// PaloAltoNetworks/panos provider. Scopes are device groups.
type PaloAlto struct{}

// NewPaloAlto creates the Palo Alto plugin.
func NewPaloAlto() *PaloAlto { return &PaloAlto{} }

func (*PaloAlto) Platform() string { return "paloalto" }

func (*PaloAlto) SupportedStrategies() []string {
	return []string{PaloAltoStrategyDAGOnly, PaloAltoStrategyStaticOnly, PaloAltoStrategyHybrid}
}

// ValidateMapping accepts any mapping: every strategy field has a
// derivable default name.
func (*PaloAlto) ValidateMapping(*engine.GroupMapping) error { return nil }

func (p *PaloAlto) RenderGroup(req *engine.RenderGroupRequest) (*engine.GroupArtifact, error) {
	strategy := PaloAltoStrategyStaticOnly
	if req.Mapping != nil && req.Mapping.Strategy != "" {
		strategy = req.Mapping.Strategy
	}

	switch strategy {
	case PaloAltoStrategyDAGOnly:
		return p.renderDAG(req), nil
	case PaloAltoStrategyHybrid:
		return p.renderHybrid(req), nil
	default:
		return p.renderStatic(req), nil
	}
}

func (p *PaloAlto) renderDAG(req *engine.RenderGroupRequest) *engine.GroupArtifact {
	name := req.Group.Meta.Name
	dagName := "dag-" + name
	var criteria []string
	if req.Mapping != nil && req.Mapping.DAG != nil {
		if req.Mapping.DAG.Name != "" {
			dagName = req.Mapping.DAG.Name
		}
		criteria = req.Mapping.DAG.MatchCriteria
	}

	match := fmt.Sprintf("'%s'", name)
	if len(criteria) > 0 {
		match = strings.Join(criteria, " or ")
	}

	fragment := fmt.Sprintf(`resource "panos_panorama_dynamic_address_group" %q {
  device_group = %q
  name         = %q
  description  = "Dynamic Address Group: %s - %s"
  match        = %q

  tags = ["netfence", "dynamic"]

  lifecycle {
    create_before_destroy = true
  }
}`, tfName(dagName), req.Scope, dagName, name, managedComment, match)

	return &engine.GroupArtifact{
		GroupName:     name,
		Reference:     dagName,
		ReferenceType: "dynamic_address_group",
		Fragment:      fragment,
	}
}

func (p *PaloAlto) renderStatic(req *engine.RenderGroupRequest) *engine.GroupArtifact {
	name := req.Group.Meta.Name
	groupName := "grp-" + name
	if req.Mapping != nil && req.Mapping.Static != nil && req.Mapping.Static.Name != "" {
		groupName = req.Mapping.Static.Name
	}

	parts, objectNames := p.addressObjects(name, req.Members, req.Scope)
	if len(objectNames) > 0 {
		parts = append(parts, p.addressGroup(groupName, name, objectNames, req.Scope, "static"))
	}

	return &engine.GroupArtifact{
		GroupName:     name,
		Reference:     groupName,
		ReferenceType: "address_group",
		Fragment:      strings.Join(parts, "\n\n"),
	}
}

// renderHybrid emits the DAG, the static group, and a combined group
// referencing both. Policy rules use the combined group.
func (p *PaloAlto) renderHybrid(req *engine.RenderGroupRequest) *engine.GroupArtifact {
	name := req.Group.Meta.Name
	staticName := "grp-" + name + "-static"
	combinedName := "grp-" + name
	if req.Mapping != nil {
		if req.Mapping.Static != nil && req.Mapping.Static.Name != "" {
			staticName = req.Mapping.Static.Name
		}
		if req.Mapping.Combined != nil && req.Mapping.Combined.Name != "" {
			combinedName = req.Mapping.Combined.Name
		}
	}

	dag := p.renderDAG(req)

	parts := []string{dag.Fragment}
	objectParts, objectNames := p.addressObjects(name, req.Members, req.Scope)
	parts = append(parts, objectParts...)
	if len(objectNames) > 0 {
		parts = append(parts, p.addressGroup(staticName, name, objectNames, req.Scope, "static"))
	}

	combined := fmt.Sprintf(`resource "panos_panorama_address_group" %q {
  device_group = %q
  name         = %q
  description  = "Combined group: %s (DAG + static) - %s"

  static_addresses = [
    panos_panorama_dynamic_address_group.%s.name,
    panos_panorama_address_group.%s.name,
  ]

  tags = ["netfence", "combined"]

  lifecycle {
    create_before_destroy = true
  }
}`, tfName(combinedName), req.Scope, combinedName, name, managedComment,
		tfName(dag.Reference), tfName(staticName))
	parts = append(parts, combined)

	return &engine.GroupArtifact{
		GroupName:     name,
		Reference:     combinedName,
		ReferenceType: "address_group",
		Fragment:      strings.Join(parts, "\n\n"),
	}
}

// addressObjects emits one address object per network and per host
// (first IPv4 address), returning the fragments and object names in
// emission order.
func (p *PaloAlto) addressObjects(group string, members engine.ResolvedMembers, scope string) ([]string, []string) {
	var parts, names []string

	for i, network := range members.Networks {
		objName := fmt.Sprintf("net-%s-%d", group, i)
		names = append(names, objName)
		parts = append(parts, fmt.Sprintf(`resource "panos_panorama_address_object" %q {
  device_group = %q
  name         = %q
  description  = "Network for %s - %s"
  value        = %q

  tags = ["netfence"]

  lifecycle {
    create_before_destroy = true
  }
}`, tfName(objName), scope, objName, group, managedComment, network))
	}

	for _, h := range members.Hosts {
		if len(h.Spec.Addresses.IPv4) == 0 {
			continue
		}
		objName := "host-" + h.Meta.Name
		names = append(names, objName)
		parts = append(parts, fmt.Sprintf(`resource "panos_panorama_address_object" %q {
  device_group = %q
  name         = %q
  description  = "Host %s - %s"
  value        = %q

  tags = ["netfence"]

  lifecycle {
    create_before_destroy = true
  }
}`, tfName(objName), scope, objName, h.Meta.Name, managedComment, h.Spec.Addresses.IPv4[0]))
	}

	return parts, names
}

func (p *PaloAlto) addressGroup(groupName, group string, objectNames []string, scope, tag string) string {
	refs := make([]string, len(objectNames))
	for i, n := range objectNames {
		refs[i] = fmt.Sprintf("panos_panorama_address_object.%s.name", tfName(n))
	}

	return fmt.Sprintf(`resource "panos_panorama_address_group" %q {
  device_group = %q
  name         = %q
  description  = "Address Group: %s - %s"

  static_addresses = [
    %s,
  ]

  tags = ["netfence", %q]

  lifecycle {
    create_before_destroy = true
  }
}`, tfName(groupName), scope, groupName, group, managedComment,
		strings.Join(refs, ",\n    "), tag)
}

func (p *PaloAlto) RenderPolicy(req *engine.RenderPolicyRequest) (string, error) {
	policy := req.Policy

	sourceAddrs := endpointAddresses(req.Source, policy.Source.Members)
	destAddrs := endpointAddresses(req.Destination, policy.Destination.Members)

	apps := map[string]struct{}{}
	var services []string
	for _, svc := range req.Services {
		mapping, hasMapping := serviceMapping(svc, "paloalto")
		if hasMapping && mapping.UseAppID {
			for _, app := range mapping.Applications {
				apps[app] = struct{}{}
			}
			ref := mapping.Service
			if ref == "" {
				ref = "application-default"
			}
			services = append(services, ref)
			continue
		}
		apps["any"] = struct{}{}
		for _, pp := range svc.Protocols {
			if pp.Port != "" {
				services = append(services, pp.Protocol+"/"+pp.Port)
			}
		}
	}
	if len(services) == 0 {
		services = []string{"application-default"}
	}
	services = dedupeSorted(services)

	appList := make([]string, 0, len(apps))
	for app := range apps {
		appList = append(appList, app)
	}
	sort.Strings(appList)

	action := "deny"
	if policy.Action == engine.ActionAllow {
		action = "allow"
	}

	logSetting := ""
	if policy.Logging {
		logSetting = "\n    log_setting           = \"default-logging\""
	}

	return fmt.Sprintf(`resource "panos_panorama_security_policy" %q {
  device_group = %q

  rule {
    name                  = %q
    description           = %q
    source_zones          = ["any"]
    source_addresses      = %s
    source_users          = ["any"]
    destination_zones     = ["any"]
    destination_addresses = %s
    applications          = %s
    services              = %s
    categories            = ["any"]
    action                = %q%s

    tags = ["netfence", %q]
  }

  lifecycle {
    create_before_destroy = true
  }
}`, tfName(policy.Name), req.Scope, policy.Name, policy.Description,
		tfList(sourceAddrs), tfList(destAddrs), tfList(appList), tfList(services),
		action, logSetting, policy.Ticket), nil
}

// endpointAddresses prefers the rendered group reference and falls back
// to raw member CIDRs for host and CIDR endpoints.
func endpointAddresses(artifact *engine.GroupArtifact, members engine.ResolvedMembers) []string {
	if artifact != nil {
		return []string{artifact.Reference}
	}
	return endpointCIDRs(members)
}

func dedupeSorted(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
