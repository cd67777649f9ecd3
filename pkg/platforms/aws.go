package platforms

import (
	"fmt"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
)

// AWS mapping strategies.
const (
	AWSStrategySecurityGroup = "security-group-preferred"
	AWSStrategyCIDROnly      = "cidr-only"
)

// AWS renders security group rules with the hashicorp/aws provider.
// Scopes are account or VPC identifiers.
type AWS struct{}

// NewAWS creates the AWS plugin.
func NewAWS() *AWS { return &AWS{} }

func (*AWS) Platform() string { return "aws" }

func (*AWS) SupportedStrategies() []string {
	return []string{AWSStrategySecurityGroup, AWSStrategyCIDROnly}
}

// ValidateMapping accepts any mapping: the security group lookup tag
// defaults to the netsec group convention.
func (*AWS) ValidateMapping(*engine.GroupMapping) error { return nil }

func (a *AWS) RenderGroup(req *engine.RenderGroupRequest) (*engine.GroupArtifact, error) {
	name := req.Group.Meta.Name

	strategy := AWSStrategyCIDROnly
	if req.Mapping != nil && req.Mapping.Strategy != "" {
		strategy = req.Mapping.Strategy
	}

	if strategy != AWSStrategySecurityGroup {
		// CIDR endpoints render inline in the rule; no supporting object.
		return &engine.GroupArtifact{
			GroupName:     name,
			Reference:     "cidr",
			ReferenceType: "cidr",
		}, nil
	}

	tagKey := "netsec:group"
	tagValue := name
	if req.Mapping.SecurityGroup != nil {
		if req.Mapping.SecurityGroup.TagKey != "" {
			tagKey = req.Mapping.SecurityGroup.TagKey
		}
		if req.Mapping.SecurityGroup.TagValue != "" {
			tagValue = req.Mapping.SecurityGroup.TagValue
		}
	}

	fragment := fmt.Sprintf(`data "aws_security_group" %q {
  tags = {
    %q = %q
  }
}`, tfName(name), tagKey, tagValue)

	return &engine.GroupArtifact{
		GroupName:     name,
		Reference:     fmt.Sprintf("data.aws_security_group.%s.id", tfName(name)),
		ReferenceType: "security_group",
		Fragment:      fragment,
	}, nil
}

func (a *AWS) RenderPolicy(req *engine.RenderPolicyRequest) (string, error) {
	policy := req.Policy

	destSG := `"TODO_DESTINATION_SG_ID" # Configure per scope`
	if req.Destination != nil && req.Destination.ReferenceType == "security_group" {
		destSG = req.Destination.Reference
	}

	var sourceBlock string
	if req.Source != nil && req.Source.ReferenceType == "security_group" {
		sourceBlock = fmt.Sprintf("source_security_group_id = %s", req.Source.Reference)
	} else {
		sourceBlock = fmt.Sprintf("cidr_blocks              = %s",
			tfList(endpointCIDRs(policy.Source.Members)))
	}

	var parts []string
	for i, svc := range req.Services {
		for j, pp := range svc.Protocols {
			ruleName := fmt.Sprintf("%s-%d-%d", policy.Name, i, j)

			fromPort, toPort := portBounds(pp.Port)
			if pp.Port == "" {
				fromPort, toPort = "0", "0"
			}
			if strings.EqualFold(pp.Protocol, "icmp") {
				fromPort, toPort = "-1", "-1"
			}

			parts = append(parts, fmt.Sprintf(`resource "aws_security_group_rule" %q {
  type              = "ingress"
  from_port         = %s
  to_port           = %s
  protocol          = %q
  %s
  security_group_id = %s

  description = "%s - %s"
}`, tfName(ruleName), fromPort, toPort, pp.Protocol, sourceBlock, destSG,
				policy.Description, policy.Ticket))
		}
	}

	return strings.Join(parts, "\n\n"), nil
}
