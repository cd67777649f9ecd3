package guardrail

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/netfence/netfence/pkg/engine"
)

// regoQuery is a compiled Rego condition. The module must define a
// boolean `match` rule; the query is prepared once and reused for every
// evaluation.
type regoQuery struct {
	prepared rego.PreparedEvalQuery
}

func compileRegoCondition(ctx context.Context, name, module string) (*regoQuery, error) {
	pkg := extractPackageName(module)

	r := rego.New(
		rego.Module(name, module),
		rego.Query(fmt.Sprintf("data.%s.match", pkg)),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego condition: %w", err)
	}

	return &regoQuery{prepared: prepared}, nil
}

// Match evaluates the condition against a policy input document.
func (q *regoQuery) Match(ctx context.Context, input map[string]interface{}) (bool, error) {
	results, err := q.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("rego evaluation error: %w", err)
	}

	for _, result := range results {
		for _, expr := range result.Expressions {
			if matched, ok := expr.Value.(bool); ok && matched {
				return true, nil
			}
		}
	}
	return false, nil
}

// extractPackageName pulls the package path out of a Rego module,
// defaulting to the conventional guardrails package.
func extractPackageName(module string) string {
	for _, line := range strings.Split(module, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "netfence.guardrails"
}

// regoInput builds the input document a Rego condition sees: the
// normalized policy reduced to plain values.
func regoInput(p *engine.NormalizedPolicy) map[string]interface{} {
	services := make([]interface{}, 0, len(p.Services))
	for _, svc := range p.Services {
		protocols := make([]interface{}, 0, len(svc.Protocols))
		for _, pp := range svc.Protocols {
			protocols = append(protocols, map[string]interface{}{
				"protocol": pp.Protocol,
				"port":     pp.Port,
			})
		}
		services = append(services, map[string]interface{}{
			"name":      svc.Name,
			"protocols": protocols,
		})
	}

	targets := make([]interface{}, 0, len(p.Targets))
	for _, t := range p.Targets {
		scopes := make([]interface{}, 0, len(t.Scope))
		for _, s := range t.Scope {
			scopes = append(scopes, s)
		}
		targets = append(targets, map[string]interface{}{
			"platform": t.Platform,
			"scope":    scopes,
		})
	}

	return map[string]interface{}{
		"name":      p.Name,
		"ticket":    p.Ticket,
		"requestor": p.Requestor,
		"action":    string(p.Action),
		"logging":   p.Logging,
		"source": map[string]interface{}{
			"kind":       string(p.Source.Kind),
			"name":       p.Source.Name,
			"host_count": len(p.Source.Members.Hosts),
		},
		"destination": map[string]interface{}{
			"kind":       string(p.Destination.Kind),
			"name":       p.Destination.Name,
			"host_count": len(p.Destination.Members.Hosts),
		},
		"services": services,
		"targets":  targets,
		"attributes": map[string]interface{}{
			"cross_environment": p.Attributes.CrossEnvironment,
			"cross_zone":        p.Attributes.CrossZone,
			"internet_facing":   p.Attributes.InternetFacing,
			"standard_service":  p.Attributes.StandardService,
		},
	}
}
