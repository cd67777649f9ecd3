package platforms

import (
	"fmt"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
)

// Azure mapping strategies.
const (
	AzureStrategyASG      = "asg-preferred"
	AzureStrategyCIDROnly = "cidr-only"
)

// azureDefaultResourceGroup holds shared network security objects when a
// mapping names no resource group.
const azureDefaultResourceGroup = "rg-network-security"

// Azure renders network security group rules with the hashicorp/azurerm
// provider. Scopes are subscription or NSG identifiers.
type Azure struct{}

// NewAzure creates the Azure plugin.
func NewAzure() *Azure { return &Azure{} }

func (*Azure) Platform() string { return "azure" }

func (*Azure) SupportedStrategies() []string {
	return []string{AzureStrategyASG, AzureStrategyCIDROnly}
}

// ValidateMapping accepts any mapping: ASG names and resource groups
// have conventional defaults.
func (*Azure) ValidateMapping(*engine.GroupMapping) error { return nil }

func (a *Azure) RenderGroup(req *engine.RenderGroupRequest) (*engine.GroupArtifact, error) {
	name := req.Group.Meta.Name

	strategy := AzureStrategyCIDROnly
	if req.Mapping != nil && req.Mapping.Strategy != "" {
		strategy = req.Mapping.Strategy
	}

	if strategy != AzureStrategyASG {
		return &engine.GroupArtifact{
			GroupName:     name,
			Reference:     "cidr",
			ReferenceType: "cidr",
		}, nil
	}

	asgName := "asg-" + name
	resourceGroup := azureDefaultResourceGroup
	if req.Mapping.ASG != nil {
		if req.Mapping.ASG.Name != "" {
			asgName = req.Mapping.ASG.Name
		}
		if req.Mapping.ASG.ResourceGroup != "" {
			resourceGroup = req.Mapping.ASG.ResourceGroup
		}
	}

	fragment := fmt.Sprintf(`data "azurerm_application_security_group" %q {
  name                = %q
  resource_group_name = %q
}`, tfName(name), asgName, resourceGroup)

	return &engine.GroupArtifact{
		GroupName:     name,
		Reference:     fmt.Sprintf("data.azurerm_application_security_group.%s.id", tfName(name)),
		ReferenceType: "asg",
		Fragment:      fragment,
	}, nil
}

func (a *Azure) RenderPolicy(req *engine.RenderPolicyRequest) (string, error) {
	policy := req.Policy

	access := "Deny"
	if policy.Action == engine.ActionAllow {
		access = "Allow"
	}

	var parts []string
	priority := 100
	for i, svc := range req.Services {
		for j, pp := range svc.Protocols {
			ruleName := fmt.Sprintf("%s-%d-%d", policy.Name, i, j)

			portRange := "*"
			if pp.Port != "" {
				portRange = pp.Port
			}

			var sourceLines string
			if req.Source != nil && req.Source.ReferenceType == "asg" {
				sourceLines = fmt.Sprintf("source_application_security_group_ids = [%s]",
					req.Source.Reference)
			} else {
				sourceLines = fmt.Sprintf("source_address_prefixes = %s",
					tfList(endpointCIDRs(policy.Source.Members)))
			}

			var destLines string
			if req.Destination != nil && req.Destination.ReferenceType == "asg" {
				destLines = fmt.Sprintf("destination_application_security_group_ids = [%s]",
					req.Destination.Reference)
			} else {
				destLines = fmt.Sprintf("destination_address_prefixes = %s",
					tfList(endpointCIDRs(policy.Destination.Members)))
			}

			parts = append(parts, fmt.Sprintf(`resource "azurerm_network_security_rule" %q {
  name                        = %q
  priority                    = %d
  direction                   = "Inbound"
  access                      = %q
  protocol                    = %q
  source_port_range           = "*"
  destination_port_range      = %q
  %s
  %s
  resource_group_name         = "TODO_RESOURCE_GROUP" # Configure per scope
  network_security_group_name = %q

  description = "%s - %s"
}`, tfName(ruleName), ruleName, priority, access, azureProtocol(pp.Protocol),
				portRange, sourceLines, destLines, req.Scope,
				policy.Description, policy.Ticket))

			priority += 10
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

func azureProtocol(protocol string) string {
	switch strings.ToLower(protocol) {
	case "tcp":
		return "Tcp"
	case "udp":
		return "Udp"
	case "icmp":
		return "Icmp"
	default:
		return "*"
	}
}
