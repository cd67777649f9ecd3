package config

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func rawDocument(t *testing.T, doc string) map[string]interface{} {
	t.Helper()

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return raw
}

func TestSchemaAcceptsValidDocuments(t *testing.T) {
	sr := NewSchemaRegistry()

	cases := []struct {
		kind string
		doc  string
	}{
		{"Host", `
apiVersion: netfence.io/v1
kind: Host
metadata: {name: db-01}
spec:
  environment: staging
  addresses: {ipv4: ["10.0.2.10"]}
`},
		{"Service", `
apiVersion: netfence.io/v1
kind: Service
metadata: {name: dns}
spec:
  protocols:
    - {protocol: udp, port: "53"}
    - {protocol: tcp, port: 53}
`},
		{"NetworkPolicy", `
apiVersion: netfence.io/v1
kind: NetworkPolicy
metadata: {name: a-to-b, requestor: netops, ticket: CHG-1}
spec:
  source: {group: a}
  destination: {group: b}
  services: ["https", {protocol: tcp, port: "8443"}]
  action: deny
  targets: [{platform: paloalto, scope: [dc-edge]}]
`},
	}

	for _, tc := range cases {
		if err := sr.ValidateDocument(tc.kind, rawDocument(t, tc.doc)); err != nil {
			t.Errorf("%s rejected: %v", tc.kind, err)
		}
	}
}

func TestSchemaRejectsUnknownField(t *testing.T) {
	sr := NewSchemaRegistry()

	doc := rawDocument(t, `
apiVersion: netfence.io/v1
kind: Host
metadata: {name: web-01}
spec:
  enviroment: production
  addresses: {ipv4: ["10.0.1.10"]}
`)

	if err := sr.ValidateDocument("Host", doc); err == nil {
		t.Fatal("misspelled field passed validation")
	}
}

func TestSchemaRejectsBadEnums(t *testing.T) {
	sr := NewSchemaRegistry()

	cases := []struct {
		name string
		kind string
		doc  string
	}{
		{"bad action", "NetworkPolicy", `
apiVersion: netfence.io/v1
kind: NetworkPolicy
metadata: {name: p, requestor: r, ticket: t}
spec:
  source: {any: true}
  destination: {host: h}
  services: ["https"]
  action: permit
  targets: [{platform: aws, scope: [acct]}]
`},
		{"bad protocol", "Service", `
apiVersion: netfence.io/v1
kind: Service
metadata: {name: s}
spec:
  protocols: [{protocol: sctp, port: "1"}]
`},
		{"bad environment", "Host", `
apiVersion: netfence.io/v1
kind: Host
metadata: {name: h}
spec:
  environment: prod
  addresses: {}
`},
		{"empty scope", "NetworkPolicy", `
apiVersion: netfence.io/v1
kind: NetworkPolicy
metadata: {name: p, requestor: r, ticket: t}
spec:
  source: {any: true}
  destination: {host: h}
  services: ["https"]
  action: allow
  targets: [{platform: aws, scope: []}]
`},
	}

	for _, tc := range cases {
		if err := sr.ValidateDocument(tc.kind, rawDocument(t, tc.doc)); err == nil {
			t.Errorf("%s: invalid document passed validation", tc.name)
		}
	}
}

func TestSchemaRejectsWrongAPIVersion(t *testing.T) {
	sr := NewSchemaRegistry()

	doc := rawDocument(t, `
apiVersion: netfence.io/v2
kind: Zone
metadata: {name: dmz}
spec: {networks: ["203.0.113.0/24"]}
`)

	if err := sr.ValidateDocument("Zone", doc); err == nil {
		t.Fatal("wrong apiVersion passed validation")
	}
}

func TestListSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	kinds := sr.ListSchemas()
	if len(kinds) != 5 {
		t.Fatalf("schemas = %d, want 5", len(kinds))
	}
}
