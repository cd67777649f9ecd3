package platforms

import (
	"fmt"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
)

// managedComment marks emitted objects as pipeline-owned.
const managedComment = "Managed by netfence"

// tfName converts an object name into a valid Terraform resource label.
func tfName(name string) string {
	r := strings.NewReplacer("-", "_", ".", "_", "/", "_")
	return strings.ToLower(r.Replace(name))
}

// tfList formats values as a single-line HCL list of quoted strings.
func tfList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// portBounds splits a port spec into its numeric bounds. Single ports
// collapse to equal bounds; empty means portless.
func portBounds(port string) (from, to string) {
	if port == "" {
		return "", ""
	}
	if lo, hi, ok := strings.Cut(port, "-"); ok {
		return lo, hi
	}
	return port, port
}

// protocolNumber maps a protocol name to its IANA number, defaulting to
// tcp for unrecognized names.
func protocolNumber(protocol string) int {
	switch strings.ToLower(protocol) {
	case "tcp":
		return 6
	case "udp":
		return 17
	case "icmp":
		return 1
	default:
		return 6
	}
}

// memberCIDRs returns every member address as a CIDR: host addresses get
// a /32 suffix, networks pass through. Order follows the resolved
// member order, which is already deterministic.
func memberCIDRs(m engine.ResolvedMembers) []string {
	var out []string
	for _, h := range m.Hosts {
		for _, ip := range h.Spec.Addresses.IPv4 {
			if strings.Contains(ip, "/") {
				out = append(out, ip)
			} else {
				out = append(out, ip+"/32")
			}
		}
	}
	out = append(out, m.Networks...)
	return out
}

// endpointCIDRs is memberCIDRs for an optional group artifact fallback:
// when a group rendered to a platform object the reference wins, so the
// caller only needs raw CIDRs for unmapped endpoints.
func endpointCIDRs(members engine.ResolvedMembers) []string {
	cidrs := memberCIDRs(members)
	if len(cidrs) == 0 {
		return []string{"0.0.0.0/0"}
	}
	return cidrs
}

// serviceMapping returns the per-platform rendering hints of a service.
func serviceMapping(svc engine.ResolvedService, platform string) (engine.ServiceMapping, bool) {
	m, ok := svc.PlatformMapping[platform]
	return m, ok
}

// All returns one instance of every built-in plugin.
func All() []engine.Plugin {
	return []engine.Plugin{
		NewAWS(),
		NewAzure(),
		NewFortinet(),
		NewGCP(),
		NewIllumio(),
		NewPaloAlto(),
	}
}
