package engine

// Plugin is the capability contract every platform adapter implements.
// Plugins are pure renderers: they translate resolved registry entities
// and normalized policies into platform configuration text, and never
// perform I/O or talk to vendor APIs.
type Plugin interface {
	// Platform returns the platform name the plugin handles ("aws",
	// "paloalto"). Names are unique within a plugin registry.
	Platform() string

	// SupportedStrategies lists the group mapping strategies the plugin
	// can render.
	SupportedStrategies() []string

	// ValidateMapping checks that a group mapping carries the fields its
	// strategy requires. A nil mapping means the group has no mapping for
	// this platform and the plugin must fall back to raw member addresses.
	ValidateMapping(mapping *GroupMapping) error

	// RenderGroup translates one resolved group endpoint into a platform
	// reference plus any supporting resource fragment.
	RenderGroup(req *RenderGroupRequest) (*GroupArtifact, error)

	// RenderPolicy translates one normalized policy into the platform's
	// rule configuration for a single scope. Source and Destination carry
	// the group artifacts produced by RenderGroup, or nil for host, CIDR
	// and unmapped endpoints (the plugin renders those from Members).
	RenderPolicy(req *RenderPolicyRequest) (string, error)
}

// RenderGroupRequest is the input to Plugin.RenderGroup.
type RenderGroupRequest struct {
	// Group is the registry group being rendered.
	Group *Group

	// Mapping is the group's mapping for this platform, nil when absent.
	Mapping *GroupMapping

	// Members is the group's effective membership.
	Members ResolvedMembers

	// Scope is the platform scope being rendered (device group, account,
	// subscription).
	Scope string
}

// RenderPolicyRequest is the input to Plugin.RenderPolicy.
type RenderPolicyRequest struct {
	// Policy is the normalized policy being rendered.
	Policy *NormalizedPolicy

	// Scope is the platform scope being rendered.
	Scope string

	// Source and Destination are the rendered group artifacts for the
	// policy's endpoints, nil when the endpoint is not a mapped group.
	Source      *GroupArtifact
	Destination *GroupArtifact

	// Services are the policy's services, resolved for this platform.
	Services []ResolvedService
}
