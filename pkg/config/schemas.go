package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages the CUE schemas raw documents are validated
// against, keyed by document kind.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.MustRegister("Host", builtinHostSchema)
	sr.MustRegister("Group", builtinGroupSchema)
	sr.MustRegister("Service", builtinServiceSchema)
	sr.MustRegister("Zone", builtinZoneSchema)
	sr.MustRegister("NetworkPolicy", builtinNetworkPolicySchema)

	return sr
}

// RegisterSchema compiles and registers a CUE schema for a kind.
func (sr *SchemaRegistry) RegisterSchema(kind, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", kind, err)
	}

	sr.schemas[kind] = val
	return nil
}

// MustRegister registers a schema and panics on a compile error. Only
// used for the built-in schemas, which are compile-time constants.
func (sr *SchemaRegistry) MustRegister(kind, schema string) {
	if err := sr.RegisterSchema(kind, schema); err != nil {
		panic(err)
	}
}

// ValidateDocument validates a raw decoded document against the schema
// registered for its kind.
func (sr *SchemaRegistry) ValidateDocument(kind string, doc interface{}) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[kind]
	sr.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown kind %q", kind)
	}

	dataVal := sr.ctx.Encode(doc)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered kinds.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	kinds := make([]string, 0, len(sr.schemas))
	for kind := range sr.schemas {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Built-in schema definitions. Each schema closes the document so
// misspelled fields are rejected rather than silently dropped.

const builtinCommonSchema = `
#Name: string & =~"^[a-zA-Z0-9][a-zA-Z0-9_.-]*$"

#Meta: {
	name:         #Name
	owner?:       string
	description?: string
	labels?: {[string]: string}
}
`

const builtinHostSchema = builtinCommonSchema + `
#Host

#Host: {
	apiVersion: "netfence.io/v1"
	kind:       "Host"
	metadata:   #Meta
	spec: {
		description?: string
		environment?: "production" | "staging" | "development"
		location?:    string
		addresses: {
			ipv4?: [...string]
			ipv6?: [...string]
			fqdn?: [...string]
		}
		labels?: {[string]: string}
	}
}
`

const builtinGroupSchema = builtinCommonSchema + `
#Group

#Group: {
	apiVersion: "netfence.io/v1"
	kind:       "Group"
	metadata:   #Meta
	spec: {
		description?: string
		membership: {
			static?: [...string]
			networks?: [...string]
			groups?: [...string]
			dynamic?: #Dynamic
		}

		// Per-platform mapping blocks are plugin-specific; only the
		// strategy discriminator is common.
		"platform-mapping"?: {[string]: {
			strategy: string
			...
		}}
	}
}

#Dynamic: {
	"match-labels"?: {[string]: string}
	"match-expressions"?: [...{
		key:      string
		operator: "In" | "NotIn" | "Exists" | "NotExists"
		values?: [...string]
	}]
	"any-of"?: [...#Dynamic]
}
`

const builtinServiceSchema = builtinCommonSchema + `
#Service

#Service: {
	apiVersion: "netfence.io/v1"
	kind:       "Service"
	metadata:   #Meta
	spec: {
		description?: string
		protocols: [#ProtocolPort, ...#ProtocolPort]
		"platform-mapping"?: {[string]: {...}}
	}
}

#ProtocolPort: {
	protocol: "tcp" | "udp" | "icmp"
	port?:    string | int
}
`

const builtinZoneSchema = builtinCommonSchema + `
#Zone

#Zone: {
	apiVersion: "netfence.io/v1"
	kind:       "Zone"
	metadata:   #Meta
	spec: {
		description?: string
		hosts?: [...string]
		groups?: [...string]
		networks?: [...string]
	}
}
`

const builtinNetworkPolicySchema = builtinCommonSchema + `
#NetworkPolicy

#NetworkPolicy: {
	apiVersion: "netfence.io/v1"
	kind:       "NetworkPolicy"
	metadata: {
		name:         #Name
		requestor:    string
		ticket:       string
		environment?: string
		expiration?:  string
		labels?: {[string]: string}
	}
	spec: {
		description?: string
		source:       #Endpoint
		destination:  #Endpoint
		services: [#ServiceEntry, ...#ServiceEntry]
		action:   "allow" | "deny"
		logging?: bool
		targets: [#Target, ...#Target]
	}
}

#Endpoint: {
	group?: string
	host?:  string
	cidr?:  string
	any?:   bool
}

#ServiceEntry: string | {
	protocol: "tcp" | "udp" | "icmp"
	port?:    string | int
}

#Target: {
	platform: string
	scope: [string, ...string]
}
`
