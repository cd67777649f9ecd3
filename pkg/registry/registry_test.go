package registry

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/netfence/netfence/pkg/engine"
)

func testHost(name, env string, labels map[string]string, ips ...string) *engine.Host {
	return &engine.Host{
		APIVersion: engine.APIVersion,
		Kind:       engine.KindHost,
		Meta:       engine.ObjectMeta{Name: name},
		Spec: engine.HostSpec{
			Environment: env,
			Labels:      labels,
			Addresses:   engine.HostAddresses{IPv4: ips},
		},
	}
}

func testGroup(name string, membership engine.Membership) *engine.Group {
	return &engine.Group{
		APIVersion: engine.APIVersion,
		Kind:       engine.KindGroup,
		Meta:       engine.ObjectMeta{Name: name},
		Spec:       engine.GroupSpec{Membership: membership},
	}
}

func TestBuildDuplicateObject(t *testing.T) {
	_, err := Build(Objects{
		Hosts: []*engine.Host{
			testHost("db-01", "production", nil, "10.0.0.5"),
			testHost("db-01", "staging", nil, "10.1.0.5"),
		},
	})
	if err == nil {
		t.Fatal("expected duplicate object error, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeDuplicateObject {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeDuplicateObject)
	}
	if !engine.IsStructural(err) {
		t.Error("duplicate object should be structural")
	}
}

func TestBuildUnresolvedStaticReference(t *testing.T) {
	_, err := Build(Objects{
		Groups: []*engine.Group{
			testGroup("db-tier", engine.Membership{Static: []string{"host/missing"}}),
		},
	})
	if err == nil {
		t.Fatal("expected unresolved reference error, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeUnresolvedReference {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeUnresolvedReference)
	}

	var e *engine.Error
	if !errors.As(err, &e) {
		t.Fatal("expected *engine.Error")
	}
	if e.Object != "db-tier" {
		t.Errorf("object = %q, want db-tier", e.Object)
	}
}

func TestStaticMembershipStripsHostPrefix(t *testing.T) {
	r, err := Build(Objects{
		Hosts: []*engine.Host{testHost("web-01", "production", nil, "10.0.1.10")},
		Groups: []*engine.Group{
			testGroup("web-tier", engine.Membership{Static: []string{"host/web-01"}}),
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	members, ok := r.GroupMembers("web-tier")
	if !ok {
		t.Fatal("web-tier not resolved")
	}
	if got := members.HostNames(); !reflect.DeepEqual(got, []string{"web-01"}) {
		t.Errorf("members = %v, want [web-01]", got)
	}
}

func TestDynamicMembership(t *testing.T) {
	hosts := []*engine.Host{
		testHost("web-01", "production", map[string]string{"tier": "web"}, "10.0.1.10"),
		testHost("web-02", "production", map[string]string{"tier": "web"}, "10.0.1.11"),
		testHost("db-01", "production", map[string]string{"tier": "db"}, "10.0.2.10"),
		testHost("web-stg", "staging", map[string]string{"tier": "web"}, "10.1.1.10"),
	}

	tests := []struct {
		name string
		pred engine.DynamicMembership
		want []string
	}{
		{
			name: "match labels",
			pred: engine.DynamicMembership{MatchLabels: map[string]string{"tier": "web"}},
			want: []string{"web-01", "web-02", "web-stg"},
		},
		{
			name: "match labels with environment",
			pred: engine.DynamicMembership{
				MatchLabels: map[string]string{"tier": "web", "environment": "production"},
			},
			want: []string{"web-01", "web-02"},
		},
		{
			name: "expression in",
			pred: engine.DynamicMembership{
				MatchExpressions: []engine.LabelExpression{
					{Key: "tier", Operator: engine.OperatorIn, Values: []string{"web", "db"}},
				},
			},
			want: []string{"db-01", "web-01", "web-02", "web-stg"},
		},
		{
			name: "expression not in",
			pred: engine.DynamicMembership{
				MatchExpressions: []engine.LabelExpression{
					{Key: "tier", Operator: engine.OperatorNotIn, Values: []string{"web"}},
				},
			},
			want: []string{"db-01"},
		},
		{
			name: "expression exists",
			pred: engine.DynamicMembership{
				MatchExpressions: []engine.LabelExpression{
					{Key: "tier", Operator: engine.OperatorExists},
				},
			},
			want: []string{"db-01", "web-01", "web-02", "web-stg"},
		},
		{
			name: "any of",
			pred: engine.DynamicMembership{
				AnyOf: []engine.DynamicMembership{
					{MatchLabels: map[string]string{"tier": "db"}},
					{MatchLabels: map[string]string{"environment": "staging"}},
				},
			},
			want: []string{"db-01", "web-stg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := tt.pred
			r, err := Build(Objects{
				Hosts: hosts,
				Groups: []*engine.Group{
					testGroup("match", engine.Membership{Dynamic: &pred}),
				},
			})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			members, _ := r.GroupMembers("match")
			if got := members.HostNames(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("members = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNestedGroupsUnionAndDedup(t *testing.T) {
	r, err := Build(Objects{
		Hosts: []*engine.Host{
			testHost("a", "production", nil, "10.0.0.1"),
			testHost("b", "production", nil, "10.0.0.2"),
		},
		Groups: []*engine.Group{
			testGroup("inner", engine.Membership{
				Static:   []string{"a"},
				Networks: []string{"192.168.0.0/24"},
			}),
			testGroup("outer", engine.Membership{
				Static:   []string{"a", "b"},
				Groups:   []string{"inner"},
				Networks: []string{"172.16.0.0/12", "192.168.0.0/24"},
			}),
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	members, _ := r.GroupMembers("outer")
	if got := members.HostNames(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("hosts = %v, want [a b]", got)
	}
	wantNets := []string{"172.16.0.0/12", "192.168.0.0/24"}
	if !reflect.DeepEqual(members.Networks, wantNets) {
		t.Errorf("networks = %v, want %v", members.Networks, wantNets)
	}
}

func TestDerivedGroupLabelDependency(t *testing.T) {
	// "escalated" selects members of "base" through the derived label, so
	// it must be resolved after "base" regardless of name order.
	r, err := Build(Objects{
		Hosts: []*engine.Host{
			testHost("a", "production", map[string]string{"tier": "web"}, "10.0.0.1"),
			testHost("b", "production", map[string]string{"tier": "db"}, "10.0.0.2"),
		},
		Groups: []*engine.Group{
			testGroup("escalated", engine.Membership{
				Dynamic: &engine.DynamicMembership{
					MatchExpressions: []engine.LabelExpression{
						{Key: "group/zz-base", Operator: engine.OperatorExists},
					},
				},
			}),
			testGroup("zz-base", engine.Membership{
				Dynamic: &engine.DynamicMembership{
					MatchLabels: map[string]string{"tier": "web"},
				},
			}),
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	members, _ := r.GroupMembers("escalated")
	if got := members.HostNames(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("members = %v, want [a]", got)
	}
}

func TestCyclicMembershipNamesCycle(t *testing.T) {
	_, err := Build(Objects{
		Groups: []*engine.Group{
			testGroup("a", engine.Membership{Groups: []string{"b"}}),
			testGroup("b", engine.Membership{Groups: []string{"c"}}),
			testGroup("c", engine.Membership{Groups: []string{"a"}}),
		},
	})
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeCyclicMembership {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeCyclicMembership)
	}
	for _, name := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("cycle message %q missing group %s", err.Error(), name)
		}
	}
}

func TestCycleThroughDerivedLabel(t *testing.T) {
	_, err := Build(Objects{
		Groups: []*engine.Group{
			testGroup("a", engine.Membership{Groups: []string{"b"}}),
			testGroup("b", engine.Membership{
				Dynamic: &engine.DynamicMembership{
					MatchLabels: map[string]string{"group/a": "true"},
				},
			}),
		},
	})
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeCyclicMembership {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeCyclicMembership)
	}
}

func TestZoneResolution(t *testing.T) {
	r, err := Build(Objects{
		Hosts: []*engine.Host{
			testHost("web-01", "production", map[string]string{"tier": "web"}, "10.0.1.10"),
			testHost("db-01", "production", map[string]string{"tier": "db"}, "10.0.2.10"),
		},
		Groups: []*engine.Group{
			testGroup("web-tier", engine.Membership{
				Dynamic: &engine.DynamicMembership{MatchLabels: map[string]string{"tier": "web"}},
			}),
		},
		Zones: []*engine.Zone{
			{
				APIVersion: engine.APIVersion,
				Kind:       engine.KindZone,
				Meta:       engine.ObjectMeta{Name: "dmz"},
				Spec: engine.ZoneSpec{
					Groups:   []string{"web-tier"},
					Networks: []string{"203.0.113.0/24"},
				},
			},
			{
				APIVersion: engine.APIVersion,
				Kind:       engine.KindZone,
				Meta:       engine.ObjectMeta{Name: "internal"},
				Spec:       engine.ZoneSpec{Hosts: []string{"host/db-01"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := r.ZonesOfHost("web-01"); !reflect.DeepEqual(got, []string{"dmz"}) {
		t.Errorf("ZonesOfHost(web-01) = %v, want [dmz]", got)
	}
	if got := r.ZonesOfHost("host/db-01"); !reflect.DeepEqual(got, []string{"internal"}) {
		t.Errorf("ZonesOfHost(db-01) = %v, want [internal]", got)
	}
	if got := r.ZonesOfNetwork("203.0.113.64/26"); !reflect.DeepEqual(got, []string{"dmz"}) {
		t.Errorf("ZonesOfNetwork = %v, want [dmz]", got)
	}
	if got := r.ZonesOfNetwork("10.99.0.0/16"); got != nil {
		t.Errorf("ZonesOfNetwork outside zones = %v, want nil", got)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	objects := Objects{
		Hosts: []*engine.Host{
			testHost("c", "production", map[string]string{"tier": "web"}, "10.0.0.3"),
			testHost("a", "production", map[string]string{"tier": "web"}, "10.0.0.1"),
			testHost("b", "production", map[string]string{"tier": "web"}, "10.0.0.2"),
		},
		Groups: []*engine.Group{
			testGroup("all-web", engine.Membership{
				Dynamic: &engine.DynamicMembership{MatchLabels: map[string]string{"tier": "web"}},
			}),
		},
	}

	var prev []string
	for i := 0; i < 5; i++ {
		r, err := Build(objects)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		members, _ := r.GroupMembers("all-web")
		got := members.AllIPv4()
		if prev != nil && !reflect.DeepEqual(got, prev) {
			t.Fatalf("iteration %d: members %v != %v", i, got, prev)
		}
		prev = got
	}
	if want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}; !reflect.DeepEqual(prev, want) {
		t.Errorf("AllIPv4 = %v, want %v", prev, want)
	}
}
