package normalizer

import (
	"testing"

	"github.com/netfence/netfence/pkg/engine"
	"github.com/netfence/netfence/pkg/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	host := func(name, env, tier string, ip string) *engine.Host {
		return &engine.Host{
			APIVersion: engine.APIVersion,
			Kind:       engine.KindHost,
			Meta:       engine.ObjectMeta{Name: name},
			Spec: engine.HostSpec{
				Environment: env,
				Labels:      map[string]string{"tier": tier},
				Addresses:   engine.HostAddresses{IPv4: []string{ip}},
			},
		}
	}

	r, err := registry.Build(registry.Objects{
		Hosts: []*engine.Host{
			host("web-01", "production", "web", "10.0.1.10"),
			host("web-02", "production", "web", "10.0.1.11"),
			host("db-01", "production", "db", "10.0.2.10"),
			host("stg-01", "staging", "web", "10.1.1.10"),
		},
		Groups: []*engine.Group{
			{
				APIVersion: engine.APIVersion,
				Kind:       engine.KindGroup,
				Meta:       engine.ObjectMeta{Name: "web-tier"},
				Spec: engine.GroupSpec{Membership: engine.Membership{
					Dynamic: &engine.DynamicMembership{
						MatchLabels: map[string]string{"tier": "web", "environment": "production"},
					},
				}},
			},
			{
				APIVersion: engine.APIVersion,
				Kind:       engine.KindGroup,
				Meta:       engine.ObjectMeta{Name: "staging-web"},
				Spec: engine.GroupSpec{Membership: engine.Membership{
					Static: []string{"stg-01"},
				}},
			},
		},
		Services: []*engine.Service{
			{
				APIVersion: engine.APIVersion,
				Kind:       engine.KindService,
				Meta:       engine.ObjectMeta{Name: "https"},
				Spec: engine.ServiceSpec{
					Protocols: []engine.ProtocolPort{{Protocol: "tcp", Port: "443"}},
				},
			},
			{
				APIVersion: engine.APIVersion,
				Kind:       engine.KindService,
				Meta:       engine.ObjectMeta{Name: "custom-app"},
				Spec: engine.ServiceSpec{
					Protocols: []engine.ProtocolPort{{Protocol: "tcp", Port: "8443"}},
				},
			},
		},
		Zones: []*engine.Zone{
			{
				APIVersion: engine.APIVersion,
				Kind:       engine.KindZone,
				Meta:       engine.ObjectMeta{Name: "app"},
				Spec:       engine.ZoneSpec{Groups: []string{"web-tier"}},
			},
			{
				APIVersion: engine.APIVersion,
				Kind:       engine.KindZone,
				Meta:       engine.ObjectMeta{Name: "data"},
				Spec:       engine.ZoneSpec{Hosts: []string{"db-01"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("registry.Build: %v", err)
	}
	return r
}

func testPolicy(src, dst engine.Endpoint, services ...engine.ServiceRef) *engine.NetworkPolicy {
	return &engine.NetworkPolicy{
		APIVersion: engine.APIVersion,
		Kind:       engine.KindNetworkPolicy,
		Meta: engine.PolicyMeta{
			Name:      "test-policy",
			Requestor: "net-team",
			Ticket:    "CHG-1001",
		},
		Spec: engine.PolicySpec{
			Source:      src,
			Destination: dst,
			Services:    services,
			Action:      engine.ActionAllow,
			Targets:     []engine.PlatformTarget{{Platform: "aws", Scope: []string{"prod-account"}}},
		},
	}
}

func TestNormalizeResolvesEndpointsAndServices(t *testing.T) {
	n := New(testRegistry(t))

	np, err := n.Normalize(testPolicy(
		engine.Endpoint{Group: "web-tier"},
		engine.Endpoint{Host: "host/db-01"},
		engine.ServiceRef{Name: "https"},
	))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if np.Source.Kind != engine.EndpointGroup || np.Source.Name != "web-tier" {
		t.Errorf("source = %s %s, want group web-tier", np.Source.Kind, np.Source.Name)
	}
	if got := np.Source.Members.HostNames(); len(got) != 2 {
		t.Errorf("source members = %v, want 2 hosts", got)
	}
	if np.Destination.Kind != engine.EndpointHost || np.Destination.Name != "db-01" {
		t.Errorf("destination = %s %s, want host db-01", np.Destination.Kind, np.Destination.Name)
	}
	if len(np.Services) != 1 || np.Services[0].Name != "https" {
		t.Fatalf("services = %+v, want [https]", np.Services)
	}
	if np.Ticket != "CHG-1001" || np.Requestor != "net-team" {
		t.Errorf("metadata not carried: ticket=%s requestor=%s", np.Ticket, np.Requestor)
	}
}

func TestNormalizeRejectsWildcard(t *testing.T) {
	n := New(testRegistry(t))

	_, err := n.Normalize(testPolicy(
		engine.Endpoint{Any: true},
		engine.Endpoint{Host: "db-01"},
		engine.ServiceRef{Name: "https"},
	))
	if err == nil {
		t.Fatal("expected wildcard rejection, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeWildcardPolicy {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeWildcardPolicy)
	}
	if engine.IsStructural(err) {
		t.Error("wildcard rejection should be policy-scoped, not structural")
	}
}

func TestNormalizeUnknownService(t *testing.T) {
	n := New(testRegistry(t))

	_, err := n.Normalize(testPolicy(
		engine.Endpoint{Group: "web-tier"},
		engine.Endpoint{Host: "db-01"},
		engine.ServiceRef{Name: "nonexistent"},
	))
	if err == nil {
		t.Fatal("expected unknown service error, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeUnknownService {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeUnknownService)
	}
}

func TestNormalizeUnknownGroupIsStructural(t *testing.T) {
	n := New(testRegistry(t))

	_, err := n.Normalize(testPolicy(
		engine.Endpoint{Group: "no-such-group"},
		engine.Endpoint{Host: "db-01"},
		engine.ServiceRef{Name: "https"},
	))
	if err == nil {
		t.Fatal("expected unresolved reference error, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeUnresolvedReference {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeUnresolvedReference)
	}
	if !engine.IsStructural(err) {
		t.Error("unresolved reference should be structural")
	}
}

func TestNormalizeInlineService(t *testing.T) {
	n := New(testRegistry(t))

	np, err := n.Normalize(testPolicy(
		engine.Endpoint{Group: "web-tier"},
		engine.Endpoint{Host: "db-01"},
		engine.ServiceRef{Protocol: "tcp", Port: "5432"},
	))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if np.Services[0].Name != "tcp-5432" {
		t.Errorf("inline service name = %s, want tcp-5432", np.Services[0].Name)
	}
	if !np.Attributes.StandardService {
		t.Error("tcp/5432 is on the default allow-list, want standard_service")
	}
}

func TestDerivedAttributes(t *testing.T) {
	n := New(testRegistry(t))

	tests := []struct {
		name   string
		policy *engine.NetworkPolicy
		check  func(t *testing.T, a engine.DerivedAttributes)
	}{
		{
			name: "same environment and shared zone context",
			policy: testPolicy(
				engine.Endpoint{Group: "web-tier"},
				engine.Endpoint{Host: "db-01"},
				engine.ServiceRef{Name: "https"},
			),
			check: func(t *testing.T, a engine.DerivedAttributes) {
				if a.CrossEnvironment {
					t.Error("cross_environment = true, want false")
				}
				if !a.CrossZone {
					t.Error("cross_zone = false, want true (app vs data)")
				}
				if a.InternetFacing {
					t.Error("internet_facing = true, want false")
				}
				if !a.StandardService {
					t.Error("standard_service = false, want true")
				}
			},
		},
		{
			name: "cross environment",
			policy: testPolicy(
				engine.Endpoint{Group: "staging-web"},
				engine.Endpoint{Host: "db-01"},
				engine.ServiceRef{Name: "https"},
			),
			check: func(t *testing.T, a engine.DerivedAttributes) {
				if !a.CrossEnvironment {
					t.Error("cross_environment = false, want true")
				}
			},
		},
		{
			name: "internet facing",
			policy: testPolicy(
				engine.Endpoint{CIDR: "0.0.0.0/0"},
				engine.Endpoint{Group: "web-tier"},
				engine.ServiceRef{Name: "https"},
			),
			check: func(t *testing.T, a engine.DerivedAttributes) {
				if !a.InternetFacing {
					t.Error("internet_facing = false, want true")
				}
			},
		},
		{
			name: "non-standard service",
			policy: testPolicy(
				engine.Endpoint{Group: "web-tier"},
				engine.Endpoint{Host: "db-01"},
				engine.ServiceRef{Name: "custom-app"},
			),
			check: func(t *testing.T, a engine.DerivedAttributes) {
				if a.StandardService {
					t.Error("standard_service = true for tcp/8443, want false")
				}
			},
		},
		{
			name: "port range is never standard",
			policy: testPolicy(
				engine.Endpoint{Group: "web-tier"},
				engine.Endpoint{Host: "db-01"},
				engine.ServiceRef{Protocol: "tcp", Port: "8080-8090"},
			),
			check: func(t *testing.T, a engine.DerivedAttributes) {
				if a.StandardService {
					t.Error("standard_service = true for a port range, want false")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			np, err := n.Normalize(tt.policy)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			tt.check(t, np.Attributes)
		})
	}
}

func TestNormalizeInvalidCIDR(t *testing.T) {
	n := New(testRegistry(t))

	_, err := n.Normalize(testPolicy(
		engine.Endpoint{CIDR: "not-a-cidr"},
		engine.Endpoint{Host: "db-01"},
		engine.ServiceRef{Name: "https"},
	))
	if err == nil {
		t.Fatal("expected CIDR validation error, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeValidation {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeValidation)
	}
}
