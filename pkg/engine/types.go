package engine

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// APIVersion is the schema version accepted for all declarative documents.
const APIVersion = "netsec/v1"

// Kind identifies the type of a declared object.
type Kind string

const (
	// KindHost is a single addressable endpoint.
	KindHost Kind = "Host"

	// KindGroup is a logical set of hosts and networks.
	KindGroup Kind = "Group"

	// KindService is a named protocol/port definition.
	KindService Kind = "Service"

	// KindZone is a named security boundary.
	KindZone Kind = "Zone"

	// KindNetworkPolicy is a declared traffic intent.
	KindNetworkPolicy Kind = "NetworkPolicy"
)

// Action is the traffic verdict a policy requests.
type Action string

const (
	// ActionAllow permits the described traffic.
	ActionAllow Action = "allow"

	// ActionDeny blocks the described traffic.
	ActionDeny Action = "deny"
)

// Decision is the guardrail classification of a normalized policy.
type Decision string

const (
	// DecisionAutoApprove lets the policy progress unattended through apply.
	DecisionAutoApprove Decision = "auto-approve"

	// DecisionRequireReview allows plan/preview generation but gates apply
	// on human approval in the surrounding workflow.
	DecisionRequireReview Decision = "require-review"

	// DecisionDeny halts artifact generation for the policy entirely.
	DecisionDeny Decision = "deny"
)

// ObjectMeta is the metadata block common to registry documents.
type ObjectMeta struct {
	// Name is the unique name within the object's kind.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Owner is the owning team or contact.
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`

	// Description is free-form documentation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Labels are key-value pairs attached to the object.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Host declares a single endpoint (server, VM, appliance).
// Hosts are immutable once loaded into a registry snapshot.
type Host struct {
	APIVersion string     `json:"apiVersion" yaml:"apiVersion" validate:"required"`
	Kind       Kind       `json:"kind" yaml:"kind" validate:"required,eq=Host"`
	Meta       ObjectMeta `json:"metadata" yaml:"metadata" validate:"required"`
	Spec       HostSpec   `json:"spec" yaml:"spec" validate:"required"`
}

// HostSpec holds the identity attributes of a host.
type HostSpec struct {
	// Description is free-form documentation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Environment is the deployment environment (production, staging, development).
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty" validate:"omitempty,oneof=production staging development"`

	// Location is a site or region hint.
	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	// Addresses are the network identities of the host.
	Addresses HostAddresses `json:"addresses" yaml:"addresses"`

	// Labels drive dynamic group membership matching.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// HostAddresses lists the network identities of a host.
type HostAddresses struct {
	IPv4 []string `json:"ipv4,omitempty" yaml:"ipv4,omitempty" validate:"dive,cidr|ip"`
	IPv6 []string `json:"ipv6,omitempty" yaml:"ipv6,omitempty"`
	FQDN []string `json:"fqdn,omitempty" yaml:"fqdn,omitempty"`
}

// Group declares a logical set with static and/or dynamic membership.
type Group struct {
	APIVersion string     `json:"apiVersion" yaml:"apiVersion" validate:"required"`
	Kind       Kind       `json:"kind" yaml:"kind" validate:"required,eq=Group"`
	Meta       ObjectMeta `json:"metadata" yaml:"metadata" validate:"required"`
	Spec       GroupSpec  `json:"spec" yaml:"spec" validate:"required"`
}

// GroupSpec holds membership rules and per-platform rendering mappings.
type GroupSpec struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Membership defines how effective members are computed.
	Membership Membership `json:"membership" yaml:"membership"`

	// PlatformMapping keys rendering strategies by platform name.
	// Consumed only by the adapter engine.
	PlatformMapping map[string]GroupMapping `json:"platform-mapping,omitempty" yaml:"platform-mapping,omitempty"`
}

// Membership defines the member sources of a group. All sources are
// unioned and deduplicated by host identity.
type Membership struct {
	// Static lists explicit host references ("host/db-01" or "db-01").
	Static []string `json:"static,omitempty" yaml:"static,omitempty"`

	// Networks lists CIDR members.
	Networks []string `json:"networks,omitempty" yaml:"networks,omitempty" validate:"dive,cidr"`

	// Groups lists nested group references whose members are included.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`

	// Dynamic computes members by matching a label predicate against hosts.
	Dynamic *DynamicMembership `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
}

// DynamicMembership matches hosts by label predicate. The predicate is
// decoded once at load time and evaluated as an immutable tree.
type DynamicMembership struct {
	// MatchLabels requires equality on every listed key (logical AND).
	MatchLabels map[string]string `json:"match-labels,omitempty" yaml:"match-labels,omitempty"`

	// MatchExpressions are set-membership requirements, ANDed together
	// and with MatchLabels.
	MatchExpressions []LabelExpression `json:"match-expressions,omitempty" yaml:"match-expressions,omitempty"`

	// AnyOf matches when at least one nested predicate matches (logical OR).
	AnyOf []DynamicMembership `json:"any-of,omitempty" yaml:"any-of,omitempty"`
}

// ExpressionOperator is the comparison mode of a LabelExpression.
type ExpressionOperator string

const (
	// OperatorIn matches when the label value is one of Values.
	OperatorIn ExpressionOperator = "In"

	// OperatorNotIn matches when the label value is none of Values.
	OperatorNotIn ExpressionOperator = "NotIn"

	// OperatorExists matches when the label key is present.
	OperatorExists ExpressionOperator = "Exists"

	// OperatorNotExists matches when the label key is absent.
	OperatorNotExists ExpressionOperator = "NotExists"
)

// LabelExpression is a single set-membership requirement over host labels.
type LabelExpression struct {
	Key      string             `json:"key" yaml:"key" validate:"required"`
	Operator ExpressionOperator `json:"operator" yaml:"operator" validate:"required,oneof=In NotIn Exists NotExists"`
	Values   []string           `json:"values,omitempty" yaml:"values,omitempty"`
}

// GroupMapping is the per-platform rendering strategy for a group.
// The strategy keys into the owning plugin's dispatch table; the remaining
// fields are strategy-specific and ignored by other strategies.
type GroupMapping struct {
	// Strategy selects the plugin-specific rendering mode
	// (e.g. "dag-only", "static-only", "hybrid", "label-based").
	Strategy string `json:"strategy" yaml:"strategy" validate:"required"`

	// DAG configures a dynamic address group (Palo Alto).
	DAG *DAGMapping `json:"dag,omitempty" yaml:"dag,omitempty"`

	// Static configures a static address group object.
	Static *NamedObjectMapping `json:"static,omitempty" yaml:"static,omitempty"`

	// Combined configures the union object of a hybrid mapping.
	Combined *NamedObjectMapping `json:"combined,omitempty" yaml:"combined,omitempty"`

	// SecurityGroup configures an AWS security-group lookup by tag.
	SecurityGroup *SecurityGroupMapping `json:"security-group,omitempty" yaml:"security-group,omitempty"`

	// Labels configures label-based membership (Illumio).
	Labels []LabelRef `json:"labels,omitempty" yaml:"labels,omitempty"`

	// IPList configures an IP list object (Illumio).
	IPList *NamedObjectMapping `json:"ip-list,omitempty" yaml:"ip-list,omitempty"`

	// Tags configures network tags (GCP).
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// ServiceAccount configures a service account reference (GCP).
	ServiceAccount *ServiceAccountMapping `json:"service-account,omitempty" yaml:"service-account,omitempty"`

	// ASG configures an application security group (Azure).
	ASG *NamedObjectMapping `json:"asg,omitempty" yaml:"asg,omitempty"`

	// AddressGroup configures a firewall address group (Fortinet).
	AddressGroup *NamedObjectMapping `json:"address-group,omitempty" yaml:"address-group,omitempty"`
}

// DAGMapping configures a dynamic address group.
type DAGMapping struct {
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	MatchCriteria []string `json:"match-criteria,omitempty" yaml:"match-criteria,omitempty"`
}

// NamedObjectMapping names a platform object to emit or reference.
type NamedObjectMapping struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// ResourceGroup scopes the object on platforms that need one (Azure).
	ResourceGroup string `json:"resource-group,omitempty" yaml:"resource-group,omitempty"`
}

// ServiceAccountMapping references a cloud service account identity.
type ServiceAccountMapping struct {
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

// SecurityGroupMapping locates an existing cloud security group by tag.
type SecurityGroupMapping struct {
	TagKey   string `json:"tag-key,omitempty" yaml:"tag-key,omitempty"`
	TagValue string `json:"tag-value,omitempty" yaml:"tag-value,omitempty"`
}

// LabelRef is a platform label key/value pair.
type LabelRef struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Service declares a named protocol/port definition referenced by policies.
type Service struct {
	APIVersion string      `json:"apiVersion" yaml:"apiVersion" validate:"required"`
	Kind       Kind        `json:"kind" yaml:"kind" validate:"required,eq=Service"`
	Meta       ObjectMeta  `json:"metadata" yaml:"metadata" validate:"required"`
	Spec       ServiceSpec `json:"spec" yaml:"spec" validate:"required"`
}

// ServiceSpec holds the protocol definitions and platform mappings of a service.
type ServiceSpec struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Protocols are the protocol/port tuples this service covers.
	Protocols []ProtocolPort `json:"protocols" yaml:"protocols" validate:"required,min=1,dive"`

	// PlatformMapping keys service rendering hints by platform name
	// (e.g. App-ID usage on Palo Alto).
	PlatformMapping map[string]ServiceMapping `json:"platform-mapping,omitempty" yaml:"platform-mapping,omitempty"`
}

// ProtocolPort is a canonical protocol/port tuple. Port may be a single
// port ("443"), a range ("8080-8090"), or empty for portless protocols.
type ProtocolPort struct {
	Protocol string `json:"protocol" yaml:"protocol" validate:"required,oneof=tcp udp icmp"`
	Port     string `json:"port,omitempty" yaml:"port,omitempty"`
}

// ServiceMapping carries per-platform service rendering hints.
type ServiceMapping struct {
	// UseAppID renders via application identifiers instead of ports.
	UseAppID bool `json:"use-app-id,omitempty" yaml:"use-app-id,omitempty"`

	// Applications lists the platform application identifiers.
	Applications []string `json:"applications,omitempty" yaml:"applications,omitempty"`

	// Service names an existing platform service object to reference.
	Service string `json:"service,omitempty" yaml:"service,omitempty"`
}

// Zone declares a named security boundary used by cross-zone guardrails.
type Zone struct {
	APIVersion string     `json:"apiVersion" yaml:"apiVersion" validate:"required"`
	Kind       Kind       `json:"kind" yaml:"kind" validate:"required,eq=Zone"`
	Meta       ObjectMeta `json:"metadata" yaml:"metadata" validate:"required"`
	Spec       ZoneSpec   `json:"spec" yaml:"spec" validate:"required"`
}

// ZoneSpec holds the boundary membership criteria of a zone.
type ZoneSpec struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Hosts lists host references inside the boundary.
	Hosts []string `json:"hosts,omitempty" yaml:"hosts,omitempty"`

	// Groups lists group references whose members are inside the boundary.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`

	// Networks lists CIDR ranges inside the boundary.
	Networks []string `json:"networks,omitempty" yaml:"networks,omitempty" validate:"dive,cidr"`
}

// PolicyMeta is the metadata block of a NetworkPolicy document.
type PolicyMeta struct {
	Name      string `json:"name" yaml:"name" validate:"required"`
	Requestor string `json:"requestor" yaml:"requestor" validate:"required"`
	Ticket    string `json:"ticket" yaml:"ticket" validate:"required"`

	// Environment optionally pins the policy to a deployment environment.
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Expiration optionally records when the intent should be revisited.
	Expiration string `json:"expiration,omitempty" yaml:"expiration,omitempty"`

	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// NetworkPolicy declares one traffic intent between two endpoints.
type NetworkPolicy struct {
	APIVersion string     `json:"apiVersion" yaml:"apiVersion" validate:"required"`
	Kind       Kind       `json:"kind" yaml:"kind" validate:"required,eq=NetworkPolicy"`
	Meta       PolicyMeta `json:"metadata" yaml:"metadata" validate:"required"`
	Spec       PolicySpec `json:"spec" yaml:"spec" validate:"required"`
}

// PolicySpec is the body of a NetworkPolicy document.
type PolicySpec struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Source      Endpoint `json:"source" yaml:"source"`
	Destination Endpoint `json:"destination" yaml:"destination"`

	// Services lists named service references and/or inline definitions.
	Services []ServiceRef `json:"services" yaml:"services" validate:"required,min=1"`

	Action Action `json:"action" yaml:"action" validate:"required,oneof=allow deny"`

	// Logging requests traffic logging on platforms that support it.
	Logging bool `json:"logging" yaml:"logging"`

	// Targets lists the platforms and scopes to render for.
	Targets []PlatformTarget `json:"targets" yaml:"targets" validate:"required,min=1,dive"`
}

// Endpoint is one side of a policy: a group reference, a host reference,
// a raw CIDR, or the wildcard. Exactly one field should be set.
type Endpoint struct {
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
	Host  string `json:"host,omitempty" yaml:"host,omitempty"`
	CIDR  string `json:"cidr,omitempty" yaml:"cidr,omitempty" validate:"omitempty,cidr"`
	Any   bool   `json:"any,omitempty" yaml:"any,omitempty"`
}

// EndpointKind classifies which endpoint field is populated.
type EndpointKind string

const (
	EndpointGroup EndpointKind = "group"
	EndpointHost  EndpointKind = "host"
	EndpointCIDR  EndpointKind = "cidr"
	EndpointAny   EndpointKind = "any"
)

// Type returns the populated endpoint kind, preferring group over host
// over cidr over any when several are set.
func (e Endpoint) Type() EndpointKind {
	switch {
	case e.Group != "":
		return EndpointGroup
	case e.Host != "":
		return EndpointHost
	case e.CIDR != "":
		return EndpointCIDR
	default:
		return EndpointAny
	}
}

// Reference returns the symbolic reference of the endpoint for error
// messages and audit records.
func (e Endpoint) Reference() string {
	switch e.Type() {
	case EndpointGroup:
		return e.Group
	case EndpointHost:
		return e.Host
	case EndpointCIDR:
		return e.CIDR
	default:
		return "any"
	}
}

// ServiceRef is either a named service reference or an inline
// protocol/port definition. In YAML a plain scalar is a name and a
// mapping is an inline definition.
type ServiceRef struct {
	// Name references a Service in the registry. Empty for inline entries.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Protocol/Port define an inline service. Empty for named entries.
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Port     string `json:"port,omitempty" yaml:"port,omitempty"`
}

// Inline reports whether the reference is an inline definition.
func (r ServiceRef) Inline() bool {
	return r.Name == "" && r.Protocol != ""
}

// UnmarshalYAML accepts both scalar names and inline mappings.
func (r *ServiceRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Name = node.Value
		return nil
	}

	type inline struct {
		Protocol string `yaml:"protocol"`
		Port     string `yaml:"port"`
	}
	var in inline
	if err := node.Decode(&in); err != nil {
		return fmt.Errorf("service entry must be a name or {protocol, port}: %w", err)
	}
	if in.Protocol == "" {
		return fmt.Errorf("inline service entry missing protocol")
	}
	r.Protocol = in.Protocol
	r.Port = in.Port
	return nil
}

// PlatformTarget names one platform and the scopes to render within it
// (device groups, accounts, subscriptions).
type PlatformTarget struct {
	Platform string   `json:"platform" yaml:"platform" validate:"required"`
	Scope    []string `json:"scope" yaml:"scope" validate:"required,min=1"`
}

// ResolvedMembers is the effective membership of a group or zone:
// hosts sorted by name and CIDRs sorted lexically, both deduplicated.
type ResolvedMembers struct {
	Hosts    []*Host  `json:"hosts,omitempty"`
	Networks []string `json:"networks,omitempty"`
}

// AllIPv4 returns every member IPv4 address and network CIDR in a
// deterministic order.
func (m ResolvedMembers) AllIPv4() []string {
	var out []string
	for _, h := range m.Hosts {
		out = append(out, h.Spec.Addresses.IPv4...)
	}
	out = append(out, m.Networks...)
	return out
}

// HostNames returns the sorted names of all member hosts.
func (m ResolvedMembers) HostNames() []string {
	names := make([]string, 0, len(m.Hosts))
	for _, h := range m.Hosts {
		names = append(names, h.Meta.Name)
	}
	sort.Strings(names)
	return names
}

// ResolvedEndpoint is a policy endpoint after registry resolution.
type ResolvedEndpoint struct {
	// Kind is the endpoint classification.
	Kind EndpointKind `json:"kind"`

	// Name is the resolved entity name, the CIDR text, or "any".
	Name string `json:"name"`

	// Group is set when the endpoint resolved to a group.
	Group *Group `json:"-"`

	// Host is set when the endpoint resolved to a host.
	Host *Host `json:"-"`

	// Members is the effective member set of the endpoint.
	Members ResolvedMembers `json:"members"`
}

// ResolvedService is a service reference after registry resolution.
type ResolvedService struct {
	// Name is the service name, or "<protocol>-<port>" for inline entries.
	Name string `json:"name"`

	// Protocols are the canonical protocol/port tuples.
	Protocols []ProtocolPort `json:"protocols"`

	// PlatformMapping carries per-platform rendering hints; empty for
	// inline entries.
	PlatformMapping map[string]ServiceMapping `json:"platform_mapping,omitempty"`
}

// DerivedAttributes are the guardrail-relevant facts computed during
// normalization.
type DerivedAttributes struct {
	// CrossEnvironment is set when source and destination members carry
	// different environment values.
	CrossEnvironment bool `json:"cross_environment"`

	// CrossZone is set when source and destination resolve into
	// different declared zones.
	CrossZone bool `json:"cross_zone"`

	// InternetFacing is set when either endpoint covers 0.0.0.0/0 or an
	// equivalent network.
	InternetFacing bool `json:"internet_facing"`

	// StandardService is set when every referenced service uses only
	// ports from the configured well-known allow-list.
	StandardService bool `json:"standard_service"`

	// SourceWildcard / DestinationWildcard record "any" endpoints.
	// Normalization rejects these, but the evaluator still checks them
	// so a directly constructed wildcard policy can never escape deny.
	SourceWildcard      bool `json:"source_wildcard"`
	DestinationWildcard bool `json:"destination_wildcard"`
}

// NormalizedPolicy is the canonical, fully resolved form of a
// NetworkPolicy. It references registry entities and never mutates them.
type NormalizedPolicy struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Ticket      string `json:"ticket"`
	Requestor   string `json:"requestor"`

	Source      ResolvedEndpoint `json:"source"`
	Destination ResolvedEndpoint `json:"destination"`

	Services []ResolvedService `json:"services"`

	Action  Action `json:"action"`
	Logging bool   `json:"logging"`

	Targets []PlatformTarget `json:"targets"`

	Attributes DerivedAttributes `json:"attributes"`
}

// GuardrailDecision is a guardrail verdict plus its audit trace.
type GuardrailDecision struct {
	// Policy is the evaluated policy name.
	Policy string `json:"policy"`

	// Decision is the classification outcome.
	Decision Decision `json:"decision"`

	// Rule is the name of the matched rule, or "default" when no
	// configured rule matched.
	Rule string `json:"rule"`

	// Reason is the human-readable justification of the matched rule.
	Reason string `json:"reason"`
}

// TargetKey identifies one rendering unit: a policy on a platform scope.
type TargetKey struct {
	Policy   string `json:"policy"`
	Platform string `json:"platform"`
	Scope    string `json:"scope"`
}

// String renders the key as "policy/platform/scope".
func (k TargetKey) String() string {
	return k.Policy + "/" + k.Platform + "/" + k.Scope
}

// Artifact is the rendered configuration payload for one target.
type Artifact struct {
	// Key identifies the target this artifact belongs to.
	Key TargetKey `json:"key"`

	// Content is the opaque platform configuration (Terraform HCL).
	Content []byte `json:"content"`

	// SHA256 is the hex digest of Content, for diff-based change detection.
	SHA256 string `json:"sha256"`
}

// TargetResult is the per-target outcome of a render: an artifact or a
// recorded failure, never both.
type TargetResult struct {
	Key      TargetKey `json:"key"`
	Artifact *Artifact `json:"artifact,omitempty"`
	Err      *Error    `json:"error,omitempty"`
}

// GroupArtifact is a plugin's rendering of one group: the reference that
// policy rules should use plus any supporting resource fragment.
type GroupArtifact struct {
	// GroupName is the registry group this artifact renders.
	GroupName string `json:"group_name"`

	// Reference is what rendered policy rules refer to (object name,
	// resource address, label href expression).
	Reference string `json:"reference"`

	// ReferenceType classifies the reference (address_group,
	// dynamic_address_group, security_group, label, ip_list, cidr, tag, asg).
	ReferenceType string `json:"reference_type"`

	// Fragment is the supporting resource configuration that must be
	// emitted before the policy rule.
	Fragment string `json:"fragment,omitempty"`
}
