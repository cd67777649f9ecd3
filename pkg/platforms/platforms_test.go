package platforms

import (
	"strings"
	"testing"

	"github.com/netfence/netfence/pkg/engine"
)

func testMembers() engine.ResolvedMembers {
	return engine.ResolvedMembers{
		Hosts: []*engine.Host{
			{
				Meta: engine.ObjectMeta{Name: "web-01"},
				Spec: engine.HostSpec{Addresses: engine.HostAddresses{IPv4: []string{"10.0.1.10"}}},
			},
			{
				Meta: engine.ObjectMeta{Name: "web-02"},
				Spec: engine.HostSpec{Addresses: engine.HostAddresses{IPv4: []string{"10.0.1.11"}}},
			},
		},
		Networks: []string{"192.168.10.0/24"},
	}
}

func groupRequest(platform string, mapping *engine.GroupMapping) *engine.RenderGroupRequest {
	return &engine.RenderGroupRequest{
		Group: &engine.Group{
			Meta: engine.ObjectMeta{Name: "web-tier"},
		},
		Mapping: mapping,
		Members: testMembers(),
		Scope:   "dg-datacenter",
	}
}

func policyRequest(source, destination *engine.GroupArtifact) *engine.RenderPolicyRequest {
	p := &engine.NormalizedPolicy{
		Name:        "web-to-db",
		Description: "allow web to db",
		Ticket:      "CHG-1001",
		Requestor:   "net-team",
		Source: engine.ResolvedEndpoint{
			Kind: engine.EndpointGroup, Name: "web-tier", Members: testMembers(),
		},
		Destination: engine.ResolvedEndpoint{
			Kind: engine.EndpointHost, Name: "db-01",
			Members: engine.ResolvedMembers{
				Hosts: []*engine.Host{{
					Meta: engine.ObjectMeta{Name: "db-01"},
					Spec: engine.HostSpec{Addresses: engine.HostAddresses{IPv4: []string{"10.0.2.10"}}},
				}},
			},
		},
		Services: []engine.ResolvedService{
			{Name: "https", Protocols: []engine.ProtocolPort{{Protocol: "tcp", Port: "443"}}},
		},
		Action:  engine.ActionAllow,
		Logging: true,
	}
	return &engine.RenderPolicyRequest{
		Policy:      p,
		Scope:       "dg-datacenter",
		Source:      source,
		Destination: destination,
		Services:    p.Services,
	}
}

func mustContain(t *testing.T, text string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestPaloAltoDAGOnly(t *testing.T) {
	p := NewPaloAlto()

	ga, err := p.RenderGroup(groupRequest("paloalto", &engine.GroupMapping{
		Strategy: PaloAltoStrategyDAGOnly,
		DAG: &engine.DAGMapping{
			Name:          "dag-web",
			MatchCriteria: []string{"'web'", "'frontend'"},
		},
	}))
	if err != nil {
		t.Fatalf("RenderGroup: %v", err)
	}

	if ga.Reference != "dag-web" || ga.ReferenceType != "dynamic_address_group" {
		t.Errorf("reference = %s (%s), want dag-web (dynamic_address_group)", ga.Reference, ga.ReferenceType)
	}
	mustContain(t, ga.Fragment,
		`resource "panos_panorama_dynamic_address_group" "dag_web"`,
		`device_group = "dg-datacenter"`,
		`match        = "'web' or 'frontend'"`,
	)
}

func TestPaloAltoStaticOnly(t *testing.T) {
	p := NewPaloAlto()

	ga, err := p.RenderGroup(groupRequest("paloalto", &engine.GroupMapping{
		Strategy: PaloAltoStrategyStaticOnly,
	}))
	if err != nil {
		t.Fatalf("RenderGroup: %v", err)
	}

	if ga.Reference != "grp-web-tier" {
		t.Errorf("reference = %s, want grp-web-tier", ga.Reference)
	}
	mustContain(t, ga.Fragment,
		`resource "panos_panorama_address_object" "net_web_tier_0"`,
		`value        = "192.168.10.0/24"`,
		`resource "panos_panorama_address_object" "host_web_01"`,
		`value        = "10.0.1.10"`,
		`resource "panos_panorama_address_group" "grp_web_tier"`,
		`panos_panorama_address_object.host_web_02.name`,
	)
}

func TestPaloAltoHybrid(t *testing.T) {
	p := NewPaloAlto()

	ga, err := p.RenderGroup(groupRequest("paloalto", &engine.GroupMapping{
		Strategy: PaloAltoStrategyHybrid,
		DAG:      &engine.DAGMapping{MatchCriteria: []string{"'web'"}},
	}))
	if err != nil {
		t.Fatalf("RenderGroup: %v", err)
	}

	// Combined group references both the DAG and the static group.
	if ga.Reference != "grp-web-tier" {
		t.Errorf("reference = %s, want grp-web-tier", ga.Reference)
	}
	mustContain(t, ga.Fragment,
		`panos_panorama_dynamic_address_group`,
		`"grp-web-tier-static"`,
		`panos_panorama_dynamic_address_group.dag_web_tier.name`,
		`panos_panorama_address_group.grp_web_tier_static.name`,
	)
}

func TestPaloAltoPolicyWithAppID(t *testing.T) {
	p := NewPaloAlto()

	req := policyRequest(
		&engine.GroupArtifact{Reference: "grp-web-tier", ReferenceType: "address_group"},
		&engine.GroupArtifact{Reference: "grp-db-tier", ReferenceType: "address_group"},
	)
	req.Services = []engine.ResolvedService{
		{
			Name:      "https",
			Protocols: []engine.ProtocolPort{{Protocol: "tcp", Port: "443"}},
			PlatformMapping: map[string]engine.ServiceMapping{
				"paloalto": {UseAppID: true, Applications: []string{"ssl", "web-browsing"}},
			},
		},
	}

	out, err := p.RenderPolicy(req)
	if err != nil {
		t.Fatalf("RenderPolicy: %v", err)
	}

	mustContain(t, out,
		`source_addresses      = ["grp-web-tier"]`,
		`destination_addresses = ["grp-db-tier"]`,
		`applications          = ["ssl", "web-browsing"]`,
		`services              = ["application-default"]`,
		`action                = "allow"`,
		`log_setting           = "default-logging"`,
		`"CHG-1001"`,
	)
}

func TestAWSSecurityGroupStrategy(t *testing.T) {
	a := NewAWS()

	ga, err := a.RenderGroup(groupRequest("aws", &engine.GroupMapping{
		Strategy:      AWSStrategySecurityGroup,
		SecurityGroup: &engine.SecurityGroupMapping{TagKey: "netsec:group", TagValue: "web-tier"},
	}))
	if err != nil {
		t.Fatalf("RenderGroup: %v", err)
	}

	if ga.ReferenceType != "security_group" {
		t.Errorf("reference type = %s, want security_group", ga.ReferenceType)
	}
	mustContain(t, ga.Fragment,
		`data "aws_security_group" "web_tier"`,
		`"netsec:group" = "web-tier"`,
	)
}

func TestAWSPolicyCIDRFallback(t *testing.T) {
	a := NewAWS()

	out, err := a.RenderPolicy(policyRequest(nil, nil))
	if err != nil {
		t.Fatalf("RenderPolicy: %v", err)
	}

	mustContain(t, out,
		`resource "aws_security_group_rule" "web_to_db_0_0"`,
		`from_port         = 443`,
		`to_port           = 443`,
		`protocol          = "tcp"`,
		`cidr_blocks              = ["10.0.1.10/32", "10.0.1.11/32", "192.168.10.0/24"]`,
	)
}

func TestAWSPolicySourceSecurityGroup(t *testing.T) {
	a := NewAWS()

	out, err := a.RenderPolicy(policyRequest(
		&engine.GroupArtifact{
			Reference:     "data.aws_security_group.web_tier.id",
			ReferenceType: "security_group",
		},
		nil,
	))
	if err != nil {
		t.Fatalf("RenderPolicy: %v", err)
	}

	mustContain(t, out, `source_security_group_id = data.aws_security_group.web_tier.id`)
}

func TestGCPNetworkTag(t *testing.T) {
	g := NewGCP()

	if err := g.ValidateMapping(&engine.GroupMapping{Strategy: GCPStrategyNetworkTag}); err == nil {
		t.Error("expected validation error for tag strategy without tags")
	}

	ga, err := g.RenderGroup(groupRequest("gcp", &engine.GroupMapping{
		Strategy: GCPStrategyNetworkTag,
		Tags:     []string{"web-tier"},
	}))
	if err != nil {
		t.Fatalf("RenderGroup: %v", err)
	}
	if ga.Reference != "web-tier" || ga.ReferenceType != "network_tag" {
		t.Errorf("reference = %s (%s), want web-tier (network_tag)", ga.Reference, ga.ReferenceType)
	}

	out, err := g.RenderPolicy(policyRequest(ga, nil))
	if err != nil {
		t.Fatalf("RenderPolicy: %v", err)
	}
	mustContain(t, out,
		`source_tags = ["web-tier"]`,
		`project     = "dg-datacenter"`,
		`metadata = "INCLUDE_ALL_METADATA"`,
	)
}

func TestAzureASG(t *testing.T) {
	az := NewAzure()

	ga, err := az.RenderGroup(groupRequest("azure", &engine.GroupMapping{
		Strategy: AzureStrategyASG,
		ASG:      &engine.NamedObjectMapping{Name: "asg-web", ResourceGroup: "rg-prod"},
	}))
	if err != nil {
		t.Fatalf("RenderGroup: %v", err)
	}

	mustContain(t, ga.Fragment,
		`data "azurerm_application_security_group" "web_tier"`,
		`name                = "asg-web"`,
		`resource_group_name = "rg-prod"`,
	)

	out, err := az.RenderPolicy(policyRequest(ga, nil))
	if err != nil {
		t.Fatalf("RenderPolicy: %v", err)
	}
	mustContain(t, out,
		`source_application_security_group_ids = [data.azurerm_application_security_group.web_tier.id]`,
		`protocol                    = "Tcp"`,
		`access                      = "Allow"`,
		`priority                    = 100`,
	)
}

func TestFortinetAddressGroup(t *testing.T) {
	f := NewFortinet()

	ga, err := f.RenderGroup(groupRequest("fortinet", nil))
	if err != nil {
		t.Fatalf("RenderGroup: %v", err)
	}

	mustContain(t, ga.Fragment,
		`resource "fortios_firewall_address" "net_web_tier_0"`,
		`subnet  = "192.168.10.0/24"`,
		`subnet  = "10.0.1.10/32"`,
		`resource "fortios_firewall_addrgrp" "grp_web_tier"`,
	)

	out, err := f.RenderPolicy(policyRequest(ga, ga))
	if err != nil {
		t.Fatalf("RenderPolicy: %v", err)
	}
	mustContain(t, out,
		`action   = "accept"`,
		`name = "TCP_443"`,
		`logtraffic = "all"`,
	)
}

func TestIllumioIPListRanges(t *testing.T) {
	il := NewIllumio()

	ga, err := il.RenderGroup(groupRequest("illumio", &engine.GroupMapping{
		Strategy: IllumioStrategyIPList,
	}))
	if err != nil {
		t.Fatalf("RenderGroup: %v", err)
	}

	mustContain(t, ga.Fragment,
		`resource "illumio-core_ip_list" "ipl_web_tier"`,
		`from_ip = "10.0.1.10"`,
		`from_ip = "192.168.10.0"`,
		`to_ip   = "192.168.10.255"`,
	)
	if ga.ReferenceType != "ip_list" {
		t.Errorf("reference type = %s, want ip_list", ga.ReferenceType)
	}
}

func TestIllumioLabelValidation(t *testing.T) {
	il := NewIllumio()

	err := il.ValidateMapping(&engine.GroupMapping{Strategy: IllumioStrategyLabelBased})
	if err == nil {
		t.Fatal("expected validation error for label strategy without labels")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeInvalidMapping {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeInvalidMapping)
	}
}

func TestIllumioLabelPolicy(t *testing.T) {
	il := NewIllumio()

	labels, err := il.RenderGroup(groupRequest("illumio", &engine.GroupMapping{
		Strategy: IllumioStrategyLabelBased,
		Labels:   []engine.LabelRef{{Key: "app", Value: "web"}},
	}))
	if err != nil {
		t.Fatalf("RenderGroup: %v", err)
	}
	mustContain(t, labels.Fragment,
		`data "illumio-core_labels" "label_web_tier_app"`,
		`key   = "app"`,
	)

	out, err := il.RenderPolicy(policyRequest(labels, nil))
	if err != nil {
		t.Fatalf("RenderPolicy: %v", err)
	}
	mustContain(t, out,
		`resource "illumio-core_rule_set" "web_to_db"`,
		`label {
        href = data.illumio-core_labels.label_web_tier_app.items[0].href`,
		`proto = 6`,
		`port  = 443`,
		// Unrendered destination falls back to all managed workloads.
		`actors = "ams"`,
	)
}

func TestAllPluginsHaveUniquePlatforms(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range All() {
		if seen[p.Platform()] {
			t.Errorf("duplicate platform %s", p.Platform())
		}
		seen[p.Platform()] = true
		if len(p.SupportedStrategies()) == 0 {
			t.Errorf("platform %s declares no strategies", p.Platform())
		}
	}
	if len(seen) != 6 {
		t.Errorf("plugins = %d, want 6", len(seen))
	}
}
