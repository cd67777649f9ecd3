package platforms

import (
	"fmt"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
)

// GCP mapping strategies.
const (
	GCPStrategyNetworkTag     = "network-tag-preferred"
	GCPStrategyServiceAccount = "service-account-preferred"
	GCPStrategyCIDROnly       = "cidr-only"
)

// GCP renders compute firewall rules with the hashicorp/google provider.
// Scopes are project identifiers.
type GCP struct{}

// NewGCP creates the GCP plugin.
func NewGCP() *GCP { return &GCP{} }

func (*GCP) Platform() string { return "gcp" }

func (*GCP) SupportedStrategies() []string {
	return []string{GCPStrategyNetworkTag, GCPStrategyServiceAccount, GCPStrategyCIDROnly}
}

// ValidateMapping requires a tag for tag-preferred mappings; everything
// else has a derivable default.
func (*GCP) ValidateMapping(m *engine.GroupMapping) error {
	if m == nil {
		return nil
	}
	if m.Strategy == GCPStrategyNetworkTag && len(m.Tags) == 0 {
		return engine.NewTargetError(engine.ErrCodeInvalidMapping,
			"network-tag-preferred mapping needs at least one tag", nil)
	}
	return nil
}

func (g *GCP) RenderGroup(req *engine.RenderGroupRequest) (*engine.GroupArtifact, error) {
	name := req.Group.Meta.Name

	strategy := GCPStrategyCIDROnly
	if req.Mapping != nil && req.Mapping.Strategy != "" {
		strategy = req.Mapping.Strategy
	}

	switch strategy {
	case GCPStrategyNetworkTag:
		return &engine.GroupArtifact{
			GroupName:     name,
			Reference:     req.Mapping.Tags[0],
			ReferenceType: "network_tag",
		}, nil

	case GCPStrategyServiceAccount:
		email := fmt.Sprintf("%s@%s.iam.gserviceaccount.com", name, req.Scope)
		if req.Mapping.ServiceAccount != nil && req.Mapping.ServiceAccount.Email != "" {
			email = req.Mapping.ServiceAccount.Email
		}
		return &engine.GroupArtifact{
			GroupName:     name,
			Reference:     email,
			ReferenceType: "service_account",
		}, nil

	default:
		return &engine.GroupArtifact{
			GroupName:     name,
			Reference:     "cidr",
			ReferenceType: "cidr",
		}, nil
	}
}

func (g *GCP) RenderPolicy(req *engine.RenderPolicyRequest) (string, error) {
	policy := req.Policy

	var allowBlocks []string
	for _, svc := range req.Services {
		for _, pp := range svc.Protocols {
			if pp.Port != "" {
				allowBlocks = append(allowBlocks, fmt.Sprintf(`  allow {
    protocol = %q
    ports    = %s
  }`, pp.Protocol, tfList([]string{pp.Port})))
			} else {
				allowBlocks = append(allowBlocks, fmt.Sprintf(`  allow {
    protocol = %q
  }`, pp.Protocol))
			}
		}
	}

	var sourceBlock string
	switch {
	case req.Source != nil && req.Source.ReferenceType == "network_tag":
		sourceBlock = fmt.Sprintf("source_tags = [%q]", req.Source.Reference)
	case req.Source != nil && req.Source.ReferenceType == "service_account":
		sourceBlock = fmt.Sprintf("source_service_accounts = [%q]", req.Source.Reference)
	default:
		sourceBlock = fmt.Sprintf("source_ranges = %s", tfList(endpointCIDRs(policy.Source.Members)))
	}

	var targetBlock string
	switch {
	case req.Destination != nil && req.Destination.ReferenceType == "network_tag":
		targetBlock = fmt.Sprintf("\n  target_tags = [%q]", req.Destination.Reference)
	case req.Destination != nil && req.Destination.ReferenceType == "service_account":
		targetBlock = fmt.Sprintf("\n  target_service_accounts = [%q]", req.Destination.Reference)
	}

	logMetadata := "EXCLUDE_ALL_METADATA"
	if policy.Logging {
		logMetadata = "INCLUDE_ALL_METADATA"
	}

	return fmt.Sprintf(`resource "google_compute_firewall" %q {
  name        = %q
  network     = "default"
  project     = %q
  description = "%s - %s"
  direction   = "INGRESS"

  %s%s

%s

  log_config {
    metadata = %q
  }
}`, tfName(policy.Name), policy.Name, req.Scope, policy.Description, policy.Ticket,
		sourceBlock, targetBlock, strings.Join(allowBlocks, "\n"), logMetadata), nil
}
