package registry

import (
	"sort"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
)

// derivedGroupLabelPrefix is stamped onto a host's effective label view
// for every group the host belongs to, so dynamic predicates can match
// on membership in another group.
const derivedGroupLabelPrefix = "group/"

// matchPredicate evaluates a dynamic membership predicate against a
// host's effective labels. MatchLabels and MatchExpressions are ANDed;
// AnyOf branches are ORed with each other and ANDed with the rest.
func matchPredicate(pred *engine.DynamicMembership, labels map[string]string) bool {
	if pred == nil {
		return false
	}

	for key, want := range pred.MatchLabels {
		if labels[key] != want {
			return false
		}
	}

	for _, expr := range pred.MatchExpressions {
		if !matchExpression(expr, labels) {
			return false
		}
	}

	if len(pred.AnyOf) > 0 {
		matched := false
		for i := range pred.AnyOf {
			if matchPredicate(&pred.AnyOf[i], labels) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

func matchExpression(expr engine.LabelExpression, labels map[string]string) bool {
	value, present := labels[expr.Key]
	switch expr.Operator {
	case engine.OperatorExists:
		return present
	case engine.OperatorNotExists:
		return !present
	case engine.OperatorIn:
		if !present {
			return false
		}
		for _, v := range expr.Values {
			if value == v {
				return true
			}
		}
		return false
	case engine.OperatorNotIn:
		if !present {
			return true
		}
		for _, v := range expr.Values {
			if value == v {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// predicateGroupRefs returns the sorted names of groups a predicate
// depends on through derived group labels. These become edges in the
// membership dependency graph.
func predicateGroupRefs(pred *engine.DynamicMembership) []string {
	seen := map[string]struct{}{}
	collectGroupRefs(pred, seen)

	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return refs
}

func collectGroupRefs(pred *engine.DynamicMembership, seen map[string]struct{}) {
	if pred == nil {
		return
	}
	for key := range pred.MatchLabels {
		if name, ok := strings.CutPrefix(key, derivedGroupLabelPrefix); ok {
			seen[name] = struct{}{}
		}
	}
	for _, expr := range pred.MatchExpressions {
		if name, ok := strings.CutPrefix(expr.Key, derivedGroupLabelPrefix); ok {
			seen[name] = struct{}{}
		}
	}
	for i := range pred.AnyOf {
		collectGroupRefs(&pred.AnyOf[i], seen)
	}
}
