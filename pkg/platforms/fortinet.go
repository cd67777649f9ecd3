package platforms

import (
	"fmt"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
)

// FortinetStrategyAddressGroup is the single Fortinet mapping strategy.
const FortinetStrategyAddressGroup = "address-group"

// Fortinet renders FortiGate firewall configuration with the
// fortinetdev/fortios provider. Scopes are VDOM names.
type Fortinet struct{}

// NewFortinet creates the Fortinet plugin.
func NewFortinet() *Fortinet { return &Fortinet{} }

func (*Fortinet) Platform() string { return "fortinet" }

func (*Fortinet) SupportedStrategies() []string {
	return []string{FortinetStrategyAddressGroup}
}

// ValidateMapping accepts any mapping: the group name defaults from the
// registry group.
func (*Fortinet) ValidateMapping(*engine.GroupMapping) error { return nil }

func (f *Fortinet) RenderGroup(req *engine.RenderGroupRequest) (*engine.GroupArtifact, error) {
	name := req.Group.Meta.Name

	groupName := "grp-" + name
	if req.Mapping != nil && req.Mapping.AddressGroup != nil && req.Mapping.AddressGroup.Name != "" {
		groupName = req.Mapping.AddressGroup.Name
	}

	var parts, objectNames []string

	for i, network := range req.Members.Networks {
		objName := fmt.Sprintf("net-%s-%d", name, i)
		objectNames = append(objectNames, objName)
		parts = append(parts, fmt.Sprintf(`resource "fortios_firewall_address" %q {
  name    = %q
  type    = "ipmask"
  subnet  = %q
  comment = "Network for %s - %s"
}`, tfName(objName), objName, network, name, managedComment))
	}

	for _, h := range req.Members.Hosts {
		if len(h.Spec.Addresses.IPv4) > 0 {
			objName := "host-" + h.Meta.Name
			objectNames = append(objectNames, objName)
			parts = append(parts, fmt.Sprintf(`resource "fortios_firewall_address" %q {
  name    = %q
  type    = "ipmask"
  subnet  = "%s/32"
  comment = "Host %s - %s"
}`, tfName(objName), objName, h.Spec.Addresses.IPv4[0], h.Meta.Name, managedComment))
		}

		for _, fqdn := range h.Spec.Addresses.FQDN {
			objName := "fqdn-" + h.Meta.Name
			objectNames = append(objectNames, objName)
			parts = append(parts, fmt.Sprintf(`resource "fortios_firewall_address" %q {
  name    = %q
  type    = "fqdn"
  fqdn    = %q
  comment = "FQDN for %s - %s"
}`, tfName(objName), objName, fqdn, h.Meta.Name, managedComment))
			break
		}
	}

	if len(objectNames) > 0 {
		var memberBlocks []string
		for _, n := range objectNames {
			memberBlocks = append(memberBlocks, fmt.Sprintf(`  member {
    name = fortios_firewall_address.%s.name
  }`, tfName(n)))
		}

		parts = append(parts, fmt.Sprintf(`resource "fortios_firewall_addrgrp" %q {
  name    = %q
  comment = "Address Group: %s - %s"
%s
}`, tfName(groupName), groupName, name, managedComment, strings.Join(memberBlocks, "\n")))
	}

	return &engine.GroupArtifact{
		GroupName:     name,
		Reference:     groupName,
		ReferenceType: "address_group",
		Fragment:      strings.Join(parts, "\n\n"),
	}, nil
}

func (f *Fortinet) RenderPolicy(req *engine.RenderPolicyRequest) (string, error) {
	policy := req.Policy

	var serviceNames []string
	for _, svc := range req.Services {
		if mapping, ok := serviceMapping(svc, "fortinet"); ok && mapping.Service != "" {
			serviceNames = append(serviceNames, mapping.Service)
			continue
		}
		for _, pp := range svc.Protocols {
			switch strings.ToLower(pp.Protocol) {
			case "tcp":
				serviceNames = append(serviceNames, "TCP_"+pp.Port)
			case "udp":
				serviceNames = append(serviceNames, "UDP_"+pp.Port)
			default:
				serviceNames = append(serviceNames, "ALL")
			}
		}
	}
	if len(serviceNames) == 0 {
		serviceNames = []string{"ALL"}
	}
	serviceNames = dedupeSorted(serviceNames)

	var serviceBlocks []string
	for _, n := range serviceNames {
		serviceBlocks = append(serviceBlocks, fmt.Sprintf(`  service {
    name = %q
  }`, n))
	}

	action := "deny"
	if policy.Action == engine.ActionAllow {
		action = "accept"
	}

	logtraffic := "disable"
	if policy.Logging {
		logtraffic = "all"
	}

	srcAddr := endpointAddresses(req.Source, policy.Source.Members)[0]
	dstAddr := endpointAddresses(req.Destination, policy.Destination.Members)[0]

	return fmt.Sprintf(`resource "fortios_firewall_policy" %q {
  name     = %q
  action   = %q
  schedule = "always"

  srcintf {
    name = "any"
  }

  dstintf {
    name = "any"
  }

  srcaddr {
    name = %q
  }

  dstaddr {
    name = %q
  }

%s

  logtraffic = %q
  comments   = "%s - %s"

  nat = "disable"
}`, tfName(policy.Name), policy.Name, action, srcAddr, dstAddr,
		strings.Join(serviceBlocks, "\n"), logtraffic,
		policy.Description, policy.Ticket), nil
}
